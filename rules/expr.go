package rules

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"github.com/cartolab/geovet/errors"
)

// Predicate is a parsed boolean expression over a feature's attributes.
// The grammar is deliberately minimal — comparisons, IN lists, AND/OR and
// parentheses — which covers field filters, conditional rules, and
// cross-table assertions:
//
//	expr       := orExpr
//	orExpr     := andExpr { OR andExpr }
//	andExpr    := unary { AND unary }
//	unary      := [ NOT ] primary
//	primary    := '(' expr ')' | comparison
//	comparison := ident op literal | ident IN '(' literal {',' literal} ')'
//	op         := '=' | '==' | '!=' | '<>' | '<' | '<=' | '>' | '>='
//	literal    := number | 'string' | "string" | NULL
//
// Identifiers may be dotted ("related.zone_code"). Keywords are
// case-insensitive. Comparison against a missing or null attribute is false,
// except "= NULL" which is true.
type Predicate struct {
	root exprNode
	src  string
}

// Parse compiles a predicate expression.
func Parse(input string) (*Predicate, error) {
	toks, err := lex(input)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks}
	root, err := p.parseOr()
	if err != nil {
		return nil, err
	}
	if !p.eof() {
		return nil, errors.NewConfiguration("predicate %q: unexpected trailing input at %q", input, p.peek().text)
	}
	return &Predicate{root: root, src: input}, nil
}

// String returns the original expression source.
func (p *Predicate) String() string { return p.src }

// Evaluate applies the predicate to a feature's attribute map.
func (p *Predicate) Evaluate(attrs map[string]any) (bool, error) {
	return p.root.eval(attrs)
}

type exprNode interface {
	eval(attrs map[string]any) (bool, error)
}

type orNode struct{ left, right exprNode }
type andNode struct{ left, right exprNode }
type notNode struct{ inner exprNode }

func (n orNode) eval(attrs map[string]any) (bool, error) {
	l, err := n.left.eval(attrs)
	if err != nil {
		return false, err
	}
	if l {
		return true, nil
	}
	return n.right.eval(attrs)
}

func (n andNode) eval(attrs map[string]any) (bool, error) {
	l, err := n.left.eval(attrs)
	if err != nil {
		return false, err
	}
	if !l {
		return false, nil
	}
	return n.right.eval(attrs)
}

func (n notNode) eval(attrs map[string]any) (bool, error) {
	v, err := n.inner.eval(attrs)
	return !v, err
}

type literal struct {
	str    string
	num    float64
	isNum  bool
	isNull bool
}

type cmpNode struct {
	field string
	op    string
	lit   literal
}

type inNode struct {
	field string
	lits  []literal
}

func (n cmpNode) eval(attrs map[string]any) (bool, error) {
	val, ok := attrs[n.field]
	isNull := !ok || val == nil
	if n.lit.isNull {
		switch n.op {
		case "=", "==":
			return isNull, nil
		case "!=", "<>":
			return !isNull, nil
		default:
			return false, errors.NewConfiguration("operator %q cannot compare against NULL", n.op)
		}
	}
	if isNull {
		return false, nil
	}

	if n.lit.isNum {
		av, ok := toFloat(val)
		if !ok {
			return false, nil
		}
		switch n.op {
		case "=", "==":
			return av == n.lit.num, nil
		case "!=", "<>":
			return av != n.lit.num, nil
		case "<":
			return av < n.lit.num, nil
		case "<=":
			return av <= n.lit.num, nil
		case ">":
			return av > n.lit.num, nil
		case ">=":
			return av >= n.lit.num, nil
		}
	}

	as := toString(val)
	switch n.op {
	case "=", "==":
		return as == n.lit.str, nil
	case "!=", "<>":
		return as != n.lit.str, nil
	case "<":
		return as < n.lit.str, nil
	case "<=":
		return as <= n.lit.str, nil
	case ">":
		return as > n.lit.str, nil
	case ">=":
		return as >= n.lit.str, nil
	}
	return false, errors.NewConfiguration("unknown operator %q", n.op)
}

func (n inNode) eval(attrs map[string]any) (bool, error) {
	val, ok := attrs[n.field]
	if !ok || val == nil {
		return false, nil
	}
	for _, lit := range n.lits {
		if lit.isNum {
			if av, ok := toFloat(val); ok && av == lit.num {
				return true, nil
			}
			continue
		}
		if toString(val) == lit.str {
			return true, nil
		}
	}
	return false, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case string:
		f, err := strconv.ParseFloat(x, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int64:
		return strconv.FormatInt(x, 10)
	case int:
		return strconv.Itoa(x)
	default:
		return fmt.Sprintf("%v", x)
	}
}

// lexer

type tokKind int

const (
	tokIdent tokKind = iota
	tokNumber
	tokString
	tokOp
	tokLParen
	tokRParen
	tokComma
	tokEOF
)

type token struct {
	kind tokKind
	text string
}

func lex(input string) ([]token, error) {
	var toks []token
	i := 0
	n := len(input)
	for i < n {
		c := rune(input[i])
		switch {
		case unicode.IsSpace(c):
			i++
		case c == '(':
			toks = append(toks, token{tokLParen, "("})
			i++
		case c == ')':
			toks = append(toks, token{tokRParen, ")"})
			i++
		case c == ',':
			toks = append(toks, token{tokComma, ","})
			i++
		case c == '\'' || c == '"':
			quote := input[i]
			j := i + 1
			for j < n && input[j] != quote {
				j++
			}
			if j >= n {
				return nil, errors.NewConfiguration("predicate %q: unterminated string", input)
			}
			toks = append(toks, token{tokString, input[i+1 : j]})
			i = j + 1
		case c == '=' || c == '<' || c == '>' || c == '!':
			j := i + 1
			if j < n && (input[j] == '=' || (input[i] == '<' && input[j] == '>')) {
				j++
			}
			op := input[i:j]
			if op == "!" {
				return nil, errors.NewConfiguration("predicate %q: bare '!' is not an operator", input)
			}
			toks = append(toks, token{tokOp, op})
			i = j
		case unicode.IsDigit(c) || (c == '-' && i+1 < n && unicode.IsDigit(rune(input[i+1]))):
			j := i + 1
			for j < n && (unicode.IsDigit(rune(input[j])) || input[j] == '.') {
				j++
			}
			toks = append(toks, token{tokNumber, input[i:j]})
			i = j
		case unicode.IsLetter(c) || c == '_':
			j := i + 1
			for j < n {
				r := rune(input[j])
				if unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_' || r == '.' {
					j++
					continue
				}
				break
			}
			toks = append(toks, token{tokIdent, input[i:j]})
			i = j
		default:
			return nil, errors.NewConfiguration("predicate %q: unexpected character %q", input, string(c))
		}
	}
	toks = append(toks, token{tokEOF, ""})
	return toks, nil
}

// parser

type parser struct {
	toks []token
	pos  int
}

func (p *parser) peek() token { return p.toks[p.pos] }
func (p *parser) next() token { t := p.toks[p.pos]; p.pos++; return t }
func (p *parser) eof() bool   { return p.peek().kind == tokEOF }

func (p *parser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == tokIdent && strings.EqualFold(t.text, kw) {
		p.next()
		return true
	}
	return false
}

func (p *parser) parseOr() (exprNode, error) {
	left, err := p.parseAnd()
	if err != nil {
		return nil, err
	}
	for p.keyword("OR") {
		right, err := p.parseAnd()
		if err != nil {
			return nil, err
		}
		left = orNode{left, right}
	}
	return left, nil
}

func (p *parser) parseAnd() (exprNode, error) {
	left, err := p.parseUnary()
	if err != nil {
		return nil, err
	}
	for p.keyword("AND") {
		right, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		left = andNode{left, right}
	}
	return left, nil
}

func (p *parser) parseUnary() (exprNode, error) {
	if p.keyword("NOT") {
		inner, err := p.parseUnary()
		if err != nil {
			return nil, err
		}
		return notNode{inner}, nil
	}
	return p.parsePrimary()
}

func (p *parser) parsePrimary() (exprNode, error) {
	if p.peek().kind == tokLParen {
		p.next()
		inner, err := p.parseOr()
		if err != nil {
			return nil, err
		}
		if p.peek().kind != tokRParen {
			return nil, errors.NewConfiguration("expected ')', got %q", p.peek().text)
		}
		p.next()
		return inner, nil
	}
	return p.parseComparison()
}

func (p *parser) parseComparison() (exprNode, error) {
	t := p.next()
	if t.kind != tokIdent {
		return nil, errors.NewConfiguration("expected field name, got %q", t.text)
	}
	field := t.text

	if p.keyword("IN") {
		if p.peek().kind != tokLParen {
			return nil, errors.NewConfiguration("field %s: IN needs a parenthesized list", field)
		}
		p.next()
		var lits []literal
		for {
			lit, err := p.parseLiteral()
			if err != nil {
				return nil, err
			}
			lits = append(lits, lit)
			if p.peek().kind == tokComma {
				p.next()
				continue
			}
			break
		}
		if p.peek().kind != tokRParen {
			return nil, errors.NewConfiguration("field %s: IN list missing ')'", field)
		}
		p.next()
		return inNode{field: field, lits: lits}, nil
	}

	op := p.next()
	if op.kind != tokOp {
		return nil, errors.NewConfiguration("field %s: expected operator, got %q", field, op.text)
	}
	lit, err := p.parseLiteral()
	if err != nil {
		return nil, err
	}
	return cmpNode{field: field, op: op.text, lit: lit}, nil
}

func (p *parser) parseLiteral() (literal, error) {
	t := p.next()
	switch t.kind {
	case tokNumber:
		f, err := strconv.ParseFloat(t.text, 64)
		if err != nil {
			return literal{}, errors.NewConfiguration("bad number %q", t.text)
		}
		return literal{num: f, isNum: true}, nil
	case tokString:
		return literal{str: t.text}, nil
	case tokIdent:
		if strings.EqualFold(t.text, "NULL") {
			return literal{isNull: true}, nil
		}
		// Bare word literal, treated as a string (common in CSV-derived rules).
		return literal{str: t.text}, nil
	default:
		return literal{}, errors.NewConfiguration("expected literal, got %q", t.text)
	}
}
