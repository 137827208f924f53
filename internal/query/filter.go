package query

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
)

// Expr is a node of a parsed $filter.
type Expr interface {
	expr()
}

type Op string

const (
	OpEq Op = "eq"
	OpNe Op = "ne"
	OpGt Op = "gt"
	OpGe Op = "ge"
	OpLt Op = "lt"
	OpLe Op = "le"
)

var comparisonOps = map[string]Op{
	"eq": OpEq, "ne": OpNe, "gt": OpGt, "ge": OpGe, "lt": OpLt, "le": OpLe,
}

type LogicalOp string

const (
	OpAnd LogicalOp = "and"
	OpOr  LogicalOp = "or"
)

type MatchFunc string

const (
	FuncContains   MatchFunc = "contains"
	FuncStartsWith MatchFunc = "startswith"
	FuncEndsWith   MatchFunc = "endswith"
)

var matchFuncs = map[string]MatchFunc{
	"contains": FuncContains, "startswith": FuncStartsWith, "endswith": FuncEndsWith,
}

type LiteralKind int

const (
	LitNull LiteralKind = iota
	LitString
	LitInt
	LitFloat
	LitDate
	LitBool
)

// Literal is a typed constant. Value holds nil, string, int64, float64,
// civil.Date or bool according to Kind.
type Literal struct {
	Kind  LiteralKind
	Value any
}

// Comparison is `Field Op Value`.
type Comparison struct {
	Field Field
	Op    Op
	Value Literal
}

type Logical struct {
	Op          LogicalOp
	Left, Right Expr
}

type Not struct {
	Expr Expr
}

// StringMatch is contains/startswith/endswith on a string field.
type StringMatch struct {
	Func  MatchFunc
	Field Field
	Value string
}

func (Comparison) expr()  {}
func (Logical) expr()     {}
func (Not) expr()         {}
func (StringMatch) expr() {}

// ParseFilter parses and type-checks a $filter expression against entity.
func ParseFilter(entity *Entity, input string) (Expr, error) {
	tokens, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{entity: entity, tokens: tokens}
	e, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if t := p.peek(); t.kind != tokEOF {
		return nil, p.errorf("unexpected %s at position %d", t, t.pos)
	}
	return e, nil
}

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokString
	tokNumber
	tokLParen
	tokRParen
	tokComma
)

type token struct {
	kind tokenKind
	text string
	pos  int
}

func (t token) String() string {
	switch t.kind {
	case tokEOF:
		return "end of input"
	case tokString:
		return strconv.Quote(t.text)
	default:
		return "'" + t.text + "'"
	}
}

func lex(input string) ([]token, error) {
	var tokens []token
	runes := []rune(input)
	for i := 0; i < len(runes); {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '(':
			tokens = append(tokens, token{kind: tokLParen, text: "(", pos: i})
			i++
		case r == ')':
			tokens = append(tokens, token{kind: tokRParen, text: ")", pos: i})
			i++
		case r == ',':
			tokens = append(tokens, token{kind: tokComma, text: ",", pos: i})
			i++
		case r == '\'':
			start := i
			var sb strings.Builder
			i++
			closed := false
			for i < len(runes) {
				if runes[i] == '\'' {
					if i+1 < len(runes) && runes[i+1] == '\'' {
						sb.WriteRune('\'')
						i += 2
						continue
					}
					i++
					closed = true
					break
				}
				sb.WriteRune(runes[i])
				i++
			}
			if !closed {
				return nil, invalid("$filter", "unterminated string at position %d", start)
			}
			tokens = append(tokens, token{kind: tokString, text: sb.String(), pos: start})
		case unicode.IsDigit(r) || (r == '-' && i+1 < len(runes) && unicode.IsDigit(runes[i+1])):
			start := i
			i++
			for i < len(runes) && strings.ContainsRune("0123456789.-:TZ+", runes[i]) {
				i++
			}
			tokens = append(tokens, token{kind: tokNumber, text: string(runes[start:i]), pos: start})
		case unicode.IsLetter(r) || r == '_':
			start := i
			for i < len(runes) && (unicode.IsLetter(runes[i]) || unicode.IsDigit(runes[i]) || runes[i] == '_') {
				i++
			}
			tokens = append(tokens, token{kind: tokIdent, text: string(runes[start:i]), pos: start})
		default:
			return nil, invalid("$filter", "unexpected character %q at position %d", r, i)
		}
	}
	return append(tokens, token{kind: tokEOF, pos: len(runes)}), nil
}

type parser struct {
	entity *Entity
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	t := p.tokens[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *parser) errorf(format string, args ...any) error {
	return invalid("$filter", format, args...)
}

func (p *parser) keyword(word string) bool {
	t := p.peek()
	if t.kind == tokIdent && t.text == word {
		p.pos++
		return true
	}
	return false
}

func (p *parser) expect(kind tokenKind, what string) (token, error) {
	t := p.next()
	if t.kind != kind {
		return t, p.errorf("expected %s, got %s at position %d", what, t, t.pos)
	}
	return t, nil
}

func (p *parser) parseOr() (Expr, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword(string(OpOr)) {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: OpOr, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseAnd() (Expr, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword(string(OpAnd)) {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = Logical{Op: OpAnd, Left: left, Right: right}
	}
	return left, nil
}

func (p *parser) parseUnary() (Expr, error) {
	if p.keyword("not") {
		e, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return Not{Expr: e}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (Expr, error) {
	t := p.next()
	switch t.kind {
	case tokLParen:
		e, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen, "')'"); err != nil {
			return nil, err
		}
		return e, nil
	case tokIdent:
		if p.peek().kind == tokLParen {
			return p.parseCall(t)
		}
		return p.parseComparison(t)
	default:
		return nil, p.errorf("unexpected %s at position %d", t, t.pos)
	}
}

func (p *parser) field(t token) (Field, error) {
	f, ok := p.entity.Field(t.text)
	if !ok {
		return Field{}, p.errorf("unknown field %q on %s", t.text, p.entity.Name)
	}
	return f, nil
}

func (p *parser) parseCall(name token) (Expr, error) {
	fn, ok := matchFuncs[name.text]
	if !ok {
		return nil, p.errorf("unknown function %q", name.text)
	}
	p.next() // (

	ft, err := p.expect(tokIdent, "field name")
	if err != nil {
		return nil, err
	}
	f, err := p.field(ft)
	if err != nil {
		return nil, err
	}
	if f.Type != TypeString {
		return nil, p.errorf("%s requires a string field, %s is %s", fn, f.Name, f.Type)
	}
	if _, err := p.expect(tokComma, "','"); err != nil {
		return nil, err
	}
	arg, err := p.expect(tokString, "string literal")
	if err != nil {
		return nil, err
	}
	if _, err := p.expect(tokRParen, "')'"); err != nil {
		return nil, err
	}
	return StringMatch{Func: fn, Field: f, Value: arg.text}, nil
}

func (p *parser) parseComparison(name token) (Expr, error) {
	f, err := p.field(name)
	if err != nil {
		return nil, err
	}

	opTok := p.next()
	op, ok := comparisonOps[opTok.text]
	if opTok.kind != tokIdent || !ok {
		return nil, p.errorf("expected comparison operator after %s, got %s", f.Name, opTok)
	}

	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	if lit.Kind == LitNull && op != OpEq && op != OpNe {
		return nil, p.errorf("operator %s cannot compare %s with null", op, f.Name)
	}

	lit, err = coerce(f, lit)
	if err != nil {
		return nil, p.errorf("%v", err)
	}
	return Comparison{Field: f, Op: op, Value: lit}, nil
}

func (p *parser) parseLiteral() (Literal, error) {
	t := p.next()
	switch t.kind {
	case tokString:
		return Literal{Kind: LitString, Value: t.text}, nil
	case tokNumber:
		return parseNumberish(t.text)
	case tokIdent:
		switch t.text {
		case "null":
			return Literal{Kind: LitNull}, nil
		case "true":
			return Literal{Kind: LitBool, Value: true}, nil
		case "false":
			return Literal{Kind: LitBool, Value: false}, nil
		}
	}
	return Literal{}, p.errorf("expected literal, got %s at position %d", t, t.pos)
}

var datetimeLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02T15:04"}

func parseNumberish(s string) (Literal, error) {
	if len(s) >= 10 && s[4] == '-' && s[7] == '-' {
		if len(s) == 10 {
			d, err := civil.ParseDate(s)
			if err != nil {
				return Literal{}, invalid("$filter", "invalid date %q", s)
			}
			return Literal{Kind: LitDate, Value: d}, nil
		}
		for _, layout := range datetimeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return Literal{Kind: LitDate, Value: civil.DateOf(ts)}, nil
			}
		}
		return Literal{}, invalid("$filter", "invalid datetime %q", s)
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Literal{Kind: LitInt, Value: i}, nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return Literal{Kind: LitFloat, Value: f}, nil
	}
	return Literal{}, invalid("$filter", "invalid number %q", s)
}

// coerce checks that lit can be compared with f and converts numeric
// literals to the field's representation.
func coerce(f Field, lit Literal) (Literal, error) {
	if lit.Kind == LitNull {
		return lit, nil
	}
	mismatch := fmt.Errorf("cannot compare %s field %s with %s", f.Type, f.Name, describe(lit))

	switch f.Type {
	case TypeString:
		if lit.Kind == LitString {
			return lit, nil
		}
	case TypeInt:
		switch lit.Kind {
		case LitInt:
			return lit, nil
		case LitFloat:
			return Literal{Kind: LitFloat, Value: lit.Value}, nil
		}
	case TypeFloat:
		switch lit.Kind {
		case LitFloat:
			return lit, nil
		case LitInt:
			return Literal{Kind: LitFloat, Value: float64(lit.Value.(int64))}, nil
		}
	case TypeDate:
		if lit.Kind == LitDate {
			return lit, nil
		}
	}
	return Literal{}, mismatch
}

func describe(lit Literal) string {
	switch lit.Kind {
	case LitString:
		return fmt.Sprintf("string '%s'", lit.Value)
	case LitInt:
		return fmt.Sprintf("integer %d", lit.Value)
	case LitFloat:
		return fmt.Sprintf("decimal %v", lit.Value)
	case LitDate:
		return fmt.Sprintf("date %s", lit.Value)
	case LitBool:
		return fmt.Sprintf("boolean %v", lit.Value)
	default:
		return "null"
	}
}
