package query

import "github.com/dreamware/ringdb/internal/apperr"

// Parse tokenizes and parses a single CQL statement, dispatching on its
// leading keyword(s), per spec.md §4.2.
func Parse(statement string) (*Query, error) {
	tokens, err := tokenizeStatement(statement)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, apperr.New(apperr.KindParse, "empty statement")
	}

	head := tokens[0]
	switch {
	case head.isKeyword("INSERT"):
		return parseInsert(tokens)
	case head.isKeyword("UPDATE"):
		return parseUpdate(tokens)
	case head.isKeyword("DELETE"):
		return parseDelete(tokens)
	case head.isKeyword("SELECT"):
		return parseSelect(tokens)
	case head.isKeyword("CREATE"):
		return parseCreate(tokens)
	case head.isKeyword("USE"):
		return parseUse(tokens)
	default:
		return nil, apperr.Newf(apperr.KindParse, "unrecognized statement head %q", head.text)
	}
}

func expectKeyword(tokens []tok, pos int, keyword string) error {
	if pos >= len(tokens) || !tokens[pos].isKeyword(keyword) {
		return apperr.Newf(apperr.KindParse, "expected %q", keyword)
	}
	return nil
}
