package query

import (
	"strconv"
	"strings"

	"github.com/dreamware/ringdb/internal/apperr"
)

// Eval evaluates c against a row's column-name -> value map, resolving
// each non-quoted Operand as a column reference when the name matches a
// key in values and as a bare literal otherwise. A nil Clause (no WHERE
// clause present) always matches. This mirrors the original storage
// engine's meets_conditions/meets_relation: a term where neither operand
// resolves to a known column is rejected as invalid, since comparing two
// literals in a stored predicate is never meaningful.
func (c *Clause) Eval(values map[string]string) (bool, error) {
	if c == nil {
		return true, nil
	}
	switch c.Kind {
	case ClauseAnd:
		l, err := c.Left.Eval(values)
		if err != nil {
			return false, err
		}
		r, err := c.Right.Eval(values)
		if err != nil {
			return false, err
		}
		return l && r, nil
	case ClauseOr:
		l, err := c.Left.Eval(values)
		if err != nil {
			return false, err
		}
		r, err := c.Right.Eval(values)
		if err != nil {
			return false, err
		}
		return l || r, nil
	case ClauseNot:
		inner, err := c.Left.Eval(values)
		if err != nil {
			return false, err
		}
		return !inner, nil
	case ClauseTerm:
		return evalRelation(c.Term, values)
	default:
		return true, nil
	}
}

func resolve(op Operand, values map[string]string) (string, bool) {
	if op.Quoted {
		return op.Text, false
	}
	if v, ok := values[op.Text]; ok {
		return v, true
	}
	return op.Text, false
}

func evalRelation(rel Relation, values map[string]string) (bool, error) {
	left, leftIsColumn := resolve(rel.Left, values)
	right, rightIsColumn := resolve(rel.Right, values)
	if !leftIsColumn && !rightIsColumn {
		return false, apperr.New(apperr.KindStorage, "relation references no known column")
	}
	switch rel.Op {
	case OpEqual:
		return left == right, nil
	case OpGreater:
		return compareValues(left, right) > 0, nil
	case OpGreaterEqual:
		return compareValues(left, right) >= 0, nil
	case OpLess:
		return compareValues(left, right) < 0, nil
	case OpLessEqual:
		return compareValues(left, right) <= 0, nil
	default:
		return false, apperr.New(apperr.KindStorage, "unsupported relational operator")
	}
}

// compareValues orders two cell values numerically when both parse as
// integers, falling back to lexical comparison otherwise, matching the
// original storage engine's comparing_parser.
func compareValues(a, b string) int {
	ai, aerr := strconv.Atoi(a)
	bi, berr := strconv.Atoi(b)
	if aerr == nil && berr == nil {
		switch {
		case ai < bi:
			return -1
		case ai > bi:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
