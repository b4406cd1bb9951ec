// Package query implements ringdb's CQL-subset parser: a tokenizer, a
// recursive Clause tree for WHERE predicates, and one sub-parser per
// statement head (insert, update, delete, select, create table, create
// keyspace, use), per spec.md §4.2.
package query

import (
	"strings"

	"github.com/dreamware/ringdb/internal/apperr"
)

// punctuation is the set of characters the tokenizer always splits around,
// even when glued to an adjacent identifier ("(id)" -> "(", "id", ")"),
// per spec.md §4.2's "preprocessing pass splits around ( ) { } , = < > <=
// >= without consuming them".
const punctuation = "(){},=<>:"

// tok is one tokenizer output: text plus whether it came from a
// single-quoted literal. Quoted tokens are never treated as punctuation
// or keywords by the statement parsers, even if their text collides
// (e.g. a value literally quoting "AND").
type tok struct {
	text   string
	quoted bool
}

func (t tok) is(s string) bool { return !t.quoted && t.text == s }

func (t tok) isKeyword(s string) bool { return !t.quoted && strings.EqualFold(t.text, s) }

// tokenize splits src into words, punctuation tokens, and single-quoted
// string literals (quotes stripped, internal whitespace preserved), per
// spec.md §4.2: "Quoted strings are joined back across whitespace inside
// single quotes."
func tokenize(src string) []tok {
	src = strings.ReplaceAll(src, "\n", " ")
	var tokens []tok
	var word strings.Builder

	flush := func() {
		if word.Len() > 0 {
			tokens = append(tokens, tok{text: word.String()})
			word.Reset()
		}
	}

	runes := []rune(src)
	for i := 0; i < len(runes); i++ {
		ch := runes[i]
		switch {
		case ch == '\'':
			flush()
			var lit strings.Builder
			i++
			for i < len(runes) && runes[i] != '\'' {
				lit.WriteRune(runes[i])
				i++
			}
			tokens = append(tokens, tok{text: lit.String(), quoted: true})
		case ch == ' ' || ch == '\t':
			flush()
		case strings.ContainsRune(punctuation, ch):
			flush()
			if (ch == '<' || ch == '>') && i+1 < len(runes) && runes[i+1] == '=' {
				tokens = append(tokens, tok{text: string(ch) + "="})
				i++
			} else {
				tokens = append(tokens, tok{text: string(ch)})
			}
		default:
			word.WriteRune(ch)
		}
	}
	flush()
	return tokens
}

// tokenizeStatement strips the trailing semicolon spec.md §4.2 requires
// and tokenizes the remainder.
func tokenizeStatement(src string) ([]tok, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(src), " \t\n")
	if !strings.HasSuffix(trimmed, ";") {
		return nil, apperr.New(apperr.KindParse, "statement must be terminated with ';'")
	}
	trimmed = strings.TrimSuffix(trimmed, ";")
	return tokenize(trimmed), nil
}

// splitComma splits a flat token list on "," tokens into groups, dropping
// empty groups. It does not descend into nested parentheses.
func splitComma(tokens []tok) [][]tok {
	var groups [][]tok
	var cur []tok
	for _, t := range tokens {
		if t.is(",") {
			if len(cur) > 0 {
				groups = append(groups, cur)
			}
			cur = nil
			continue
		}
		cur = append(cur, t)
	}
	if len(cur) > 0 {
		groups = append(groups, cur)
	}
	return groups
}

// indexOfKeyword returns the index of the first token matching keyword
// (case-insensitive), or -1.
func indexOfKeyword(tokens []tok, keyword string) int {
	for i, t := range tokens {
		if t.isKeyword(keyword) {
			return i
		}
	}
	return -1
}

// matchParen returns the index of the ")" that closes the "(" at open,
// respecting nesting, or -1 if unbalanced.
func matchParen(tokens []tok, open int) int {
	return matchBracket(tokens, open, "(", ")")
}

// matchBrace returns the index of the "}" that closes the "{" at open.
func matchBrace(tokens []tok, open int) int {
	return matchBracket(tokens, open, "{", "}")
}

func matchBracket(tokens []tok, open int, openCh, closeCh string) int {
	depth := 0
	for i := open; i < len(tokens); i++ {
		switch {
		case tokens[i].is(openCh):
			depth++
		case tokens[i].is(closeCh):
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
