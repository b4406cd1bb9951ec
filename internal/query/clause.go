package query

import "github.com/dreamware/ringdb/internal/apperr"

// clauseParser builds a Clause tree from a flat WHERE-clause token list.
// It is a recursive-descent expression parser over the grammar
//
//	or    := and (OR and)*
//	and   := not (AND not)*
//	not   := NOT not | primary
//	primary := '(' or ')' | relation
//
// which resolves NOT, then AND, then OR, the same precedence order the
// original parser's deepen_clauses/join_clauses parenthesis-stack fold
// produces.
type clauseParser struct {
	tokens []tok
	pos    int
}

// parseWhere parses a full WHERE predicate token list into a Clause tree.
func parseWhere(tokens []tok) (*Clause, error) {
	if len(tokens) == 0 {
		return nil, nil
	}
	p := &clauseParser{tokens: tokens}
	c, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if p.pos != len(p.tokens) {
		return nil, apperr.Newf(apperr.KindParse, "unexpected token %q in WHERE clause", p.tokens[p.pos].text)
	}
	return c, nil
}

func (p *clauseParser) peek() (tok, bool) {
	if p.pos >= len(p.tokens) {
		return tok{}, false
	}
	return p.tokens[p.pos], true
}

func (p *clauseParser) parseOr() (*Clause, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || !t.isKeyword("OR") {
			return left, nil
		}
		p.pos++
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = &Clause{Kind: ClauseOr, Left: left, Right: right}
	}
}

func (p *clauseParser) parseAnd() (*Clause, error) {
	left, err := p.parseNot()
	if err != nil {
		return nil, err
	}
	for {
		t, ok := p.peek()
		if !ok || !t.isKeyword("AND") {
			return left, nil
		}
		p.pos++
		right, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		left = &Clause{Kind: ClauseAnd, Left: left, Right: right}
	}
}

func (p *clauseParser) parseNot() (*Clause, error) {
	if t, ok := p.peek(); ok && t.isKeyword("NOT") {
		p.pos++
		inner, err := p.parseNot()
		if err != nil {
			return nil, err
		}
		return &Clause{Kind: ClauseNot, Left: inner}, nil
	}
	return p.parsePrimary()
}

func (p *clauseParser) parsePrimary() (*Clause, error) {
	t, ok := p.peek()
	if !ok {
		return nil, apperr.New(apperr.KindParse, "unexpected end of WHERE clause")
	}
	if t.is("(") {
		p.pos++
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		closeTok, ok := p.peek()
		if !ok || !closeTok.is(")") {
			return nil, apperr.New(apperr.KindParse, "unbalanced parentheses in WHERE clause")
		}
		p.pos++
		return inner, nil
	}
	return p.parseRelation()
}

var relOps = []struct {
	token string
	op    RelOp
}{
	{"<=", OpLessEqual},
	{">=", OpGreaterEqual},
	{"=", OpEqual},
	{"<", OpLess},
	{">", OpGreater},
}

func (p *clauseParser) parseRelation() (*Clause, error) {
	if p.pos >= len(p.tokens) {
		return nil, apperr.New(apperr.KindParse, "expected a relation in WHERE clause")
	}
	left := p.readOperand()

	opTok, ok := p.peek()
	if !ok {
		return nil, apperr.New(apperr.KindParse, "expected a comparison operator")
	}
	var op RelOp
	matched := false
	for _, cand := range relOps {
		if opTok.is(cand.token) {
			op, matched = cand.op, true
			break
		}
	}
	if !matched {
		return nil, apperr.Newf(apperr.KindParse, "unsupported relational operator %q", opTok.text)
	}
	p.pos++

	right := p.readOperand()
	return &Clause{Kind: ClauseTerm, Term: Relation{Op: op, Left: left, Right: right}}, nil
}

// readOperand consumes one token as an Operand, carrying forward whether
// it was a single-quoted literal.
func (p *clauseParser) readOperand() Operand {
	t := p.tokens[p.pos]
	p.pos++
	return Operand{Text: t.text, Quoted: t.quoted}
}
