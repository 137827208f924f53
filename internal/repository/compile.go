package repository

import (
	"fmt"
	"strings"
	"unicode"

	"cloud.google.com/go/civil"

	"github.com/mr1hm/go-covid19-stats/internal/query"
)

// columnName maps an entity field to its snake_case column.
func columnName(field string) string {
	var b strings.Builder
	for i, r := range field {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}

var sqlOps = map[query.Op]string{
	query.OpEq: "=",
	query.OpNe: "<>",
	query.OpGt: ">",
	query.OpGe: ">=",
	query.OpLt: "<",
	query.OpLe: "<=",
}

// compileFilter turns a validated filter into a parameterised WHERE
// clause. Every predicate evaluates to true or false, never NULL, so that
// `not` behaves the same on absent values.
func compileFilter(e query.Expr) (string, []any, error) {
	if e == nil {
		return "", nil, nil
	}
	var args []any
	sql, err := compileExpr(e, &args)
	if err != nil {
		return "", nil, err
	}
	return sql, args, nil
}

func compileExpr(e query.Expr, args *[]any) (string, error) {
	switch e := e.(type) {
	case query.Logical:
		left, err := compileExpr(e.Left, args)
		if err != nil {
			return "", err
		}
		right, err := compileExpr(e.Right, args)
		if err != nil {
			return "", err
		}
		op := "AND"
		if e.Op == query.OpOr {
			op = "OR"
		}
		return fmt.Sprintf("(%s %s %s)", left, op, right), nil

	case query.Not:
		inner, err := compileExpr(e.Expr, args)
		if err != nil {
			return "", err
		}
		return "(NOT " + inner + ")", nil

	case query.Comparison:
		return compileComparison(e, args)

	case query.StringMatch:
		col := columnName(e.Field.Name)
		var pred string
		switch e.Func {
		case query.FuncContains:
			pred = fmt.Sprintf("instr(%s, ?) > 0", col)
			*args = append(*args, e.Value)
		case query.FuncStartsWith:
			pred = fmt.Sprintf("instr(%s, ?) = 1", col)
			*args = append(*args, e.Value)
		case query.FuncEndsWith:
			pred = fmt.Sprintf("(length(%[1]s) >= length(?) AND substr(%[1]s, length(%[1]s) - length(?) + 1) = ?)", col)
			*args = append(*args, e.Value, e.Value, e.Value)
		default:
			return "", fmt.Errorf("unsupported function: %s", e.Func)
		}
		return guardNull(e.Field, col, pred), nil

	default:
		return "", fmt.Errorf("unsupported filter expression %T", e)
	}
}

func compileComparison(c query.Comparison, args *[]any) (string, error) {
	col := columnName(c.Field.Name)

	if c.Value.Kind == query.LitNull {
		switch c.Op {
		case query.OpEq:
			return col + " IS NULL", nil
		case query.OpNe:
			return col + " IS NOT NULL", nil
		default:
			return "", fmt.Errorf("operator %s cannot compare with null", c.Op)
		}
	}

	op, ok := sqlOps[c.Op]
	if !ok {
		return "", fmt.Errorf("unsupported operator: %s", c.Op)
	}

	value := c.Value.Value
	if d, ok := value.(civil.Date); ok {
		value = d.String()
	}
	*args = append(*args, value)

	if c.Field.Nullable && c.Op == query.OpNe {
		return fmt.Sprintf("(%s IS NULL OR %s <> ?)", col, col), nil
	}
	return guardNull(c.Field, col, fmt.Sprintf("%s %s ?", col, op)), nil
}

func guardNull(f query.Field, col, pred string) string {
	if !f.Nullable {
		return pred
	}
	return fmt.Sprintf("(%s IS NOT NULL AND %s)", col, pred)
}
