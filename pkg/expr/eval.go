// Package expr implements the recursive-descent precedence evaluator for
// integer/boolean expressions over a token stream.
package expr

import (
	"fmt"

	"fateful/pkg/span"
	"fateful/pkg/token"
)

// Tables bundles the three symbol tables an expression is evaluated
// against. Identifiers are resolved in this order: defines (textual
// substitution, re-evaluated in place), labels, variables.
type Tables struct {
	Defines   func(name string) ([]token.Token, bool)
	Labels    func(name string) (uint32, bool)
	Variables func(name string) (uint32, bool)
}

// Error is a diagnosable evaluation failure, carrying the offending span.
type Error struct {
	Msg  string
	Span span.Span
}

func (e *Error) Error() string { return e.Msg }

// evaluator walks a flat token slice with a cursor; it never looks past
// the slice it was given (one expression's tokens, already isolated by
// the caller).
type evaluator struct {
	toks  []token.Token
	pos   int
	t     Tables
	depth int
}

// Eval evaluates toks as one expression using the given symbol tables.
// toks must not contain Newline tokens; the caller (parser or macro
// engine) is responsible for slicing one expression's worth of tokens.
func Eval(toks []token.Token, t Tables) (int64, error) {
	if len(toks) == 0 {
		return 0, fmt.Errorf("empty expression")
	}
	e := &evaluator{toks: toks, t: t}
	v, err := e.orExpr()
	if err != nil {
		return 0, err
	}
	if e.pos != len(e.toks) {
		return 0, e.errAt("unexpected token %q", e.cur().Text)
	}
	return v, nil
}

func (e *evaluator) cur() token.Token {
	if e.pos >= len(e.toks) {
		return token.Token{Kind: token.EOF}
	}
	return e.toks[e.pos]
}

func (e *evaluator) errAt(format string, args ...any) error {
	msg := fmt.Sprintf(format, args...)
	if e.pos < len(e.toks) {
		return &Error{Msg: msg, Span: e.toks[e.pos].Span}
	}
	if len(e.toks) > 0 {
		return &Error{Msg: msg, Span: e.toks[len(e.toks)-1].Span}
	}
	return &Error{Msg: msg}
}

func (e *evaluator) isPunct(s string) bool {
	c := e.cur()
	return c.Kind == token.Punct && c.Text == s
}

// Precedence level 5 (lowest): && ||
func (e *evaluator) orExpr() (int64, error) {
	v, err := e.andExpr()
	if err != nil {
		return 0, err
	}
	for e.isPunct("&&") || e.isPunct("||") {
		op := e.cur().Text
		e.pos++
		rhs, err := e.andExpr()
		if err != nil {
			return 0, err
		}
		v = boolOp(op, v, rhs)
	}
	return v, nil
}

func (e *evaluator) andExpr() (int64, error) {
	// && and || share precedence level 5 and left-associate with each
	// other, so andExpr is just an alias stage into comparison; kept as a
	// separate method to mirror the five precedence levels explicitly.
	return e.cmpExpr()
}

func boolOp(op string, a, b int64) int64 {
	av, bv := a != 0, b != 0
	var r bool
	if op == "&&" {
		r = av && bv
	} else {
		r = av || bv
	}
	if r {
		return 1
	}
	return 0
}

// Precedence level 4: == != < <= > >=
func (e *evaluator) cmpExpr() (int64, error) {
	v, err := e.addExpr()
	if err != nil {
		return 0, err
	}
	for e.isPunct("==") || e.isPunct("!=") || e.isPunct("<") || e.isPunct("<=") || e.isPunct(">") || e.isPunct(">=") {
		op := e.cur().Text
		e.pos++
		rhs, err := e.addExpr()
		if err != nil {
			return 0, err
		}
		v = cmpOp(op, v, rhs)
	}
	return v, nil
}

func cmpOp(op string, a, b int64) int64 {
	var r bool
	switch op {
	case "==":
		r = a == b
	case "!=":
		r = a != b
	case "<":
		r = a < b
	case "<=":
		r = a <= b
	case ">":
		r = a > b
	case ">=":
		r = a >= b
	}
	if r {
		return 1
	}
	return 0
}

// Precedence level 3: + - & | ^ << >>
func (e *evaluator) addExpr() (int64, error) {
	v, err := e.mulExpr()
	if err != nil {
		return 0, err
	}
	for e.isPunct("+") || e.isPunct("-") || e.isPunct("&") || e.isPunct("|") || e.isPunct("^") || e.isPunct("<<") || e.isPunct(">>") {
		op := e.cur().Text
		e.pos++
		rhs, err := e.mulExpr()
		if err != nil {
			return 0, err
		}
		v = addOp(op, v, rhs)
	}
	return v, nil
}

func addOp(op string, a, b int64) int64 {
	switch op {
	case "+":
		return a + b
	case "-":
		return a - b
	case "&":
		return a & b
	case "|":
		return a | b
	case "^":
		return a ^ b
	case "<<":
		return a << uint(b)
	default: // ">>"
		return a >> uint(b)
	}
}

// Precedence level 2: * /
func (e *evaluator) mulExpr() (int64, error) {
	v, err := e.unary()
	if err != nil {
		return 0, err
	}
	for e.isPunct("*") || e.isPunct("/") {
		op := e.cur().Text
		e.pos++
		rhs, err := e.unary()
		if err != nil {
			return 0, err
		}
		if op == "/" {
			if rhs == 0 {
				return 0, e.errAt("division by zero")
			}
			v = v / rhs
		} else {
			v = v * rhs
		}
	}
	return v, nil
}

// Precedence level 1 (highest): grouping, unary ! ~
func (e *evaluator) unary() (int64, error) {
	if e.isPunct("!") {
		e.pos++
		v, err := e.unary()
		if err != nil {
			return 0, err
		}
		if v == 0 {
			return 1, nil
		}
		return 0, nil
	}
	if e.isPunct("~") {
		e.pos++
		v, err := e.unary()
		if err != nil {
			return 0, err
		}
		return ^v, nil
	}
	if e.isPunct("-") {
		e.pos++
		v, err := e.unary()
		if err != nil {
			return 0, err
		}
		return -v, nil
	}
	if c := e.cur(); c.Kind == token.Delim && c.Text == "(" {
		e.pos++
		v, err := e.orExpr()
		if err != nil {
			return 0, err
		}
		if c := e.cur(); c.Kind != token.Delim || c.Text != ")" {
			return 0, e.errAt("unmatched parenthesis")
		}
		e.pos++
		return v, nil
	}
	return e.primary()
}

func (e *evaluator) primary() (int64, error) {
	c := e.cur()
	switch c.Kind {
	case token.Int, token.Char:
		e.pos++
		return c.Value, nil
	case token.Ident:
		e.pos++
		return e.resolveIdent(c)
	case token.Variable:
		e.pos++
		name := c.Text[1:]
		if e.t.Variables == nil {
			return 0, e.errAt("undefined variable $%s", name)
		}
		if v, ok := e.t.Variables(name); ok {
			return int64(v), nil
		}
		return 0, e.errAt("undefined variable $%s", name)
	default:
		return 0, e.errAt("unexpected token in expression")
	}
}

// resolveIdent implements the define -> label -> variable resolution
// order. A define substitutes its token stream in place and is
// re-evaluated recursively (bounded, to guard against self-reference).
func (e *evaluator) resolveIdent(c token.Token) (int64, error) {
	if e.t.Defines != nil {
		if toks, ok := e.t.Defines(c.Text); ok {
			if e.depth > 64 {
				return 0, &Error{Msg: "define expansion too deep (possible cycle)", Span: c.Span}
			}
			sub := &evaluator{toks: toks, t: e.t, depth: e.depth + 1}
			v, err := sub.orExpr()
			if err != nil {
				return 0, err
			}
			if sub.pos != len(sub.toks) {
				return 0, &Error{Msg: "unexpected token in define expansion", Span: c.Span}
			}
			return v, nil
		}
	}
	if e.t.Labels != nil {
		if v, ok := e.t.Labels(c.Text); ok {
			return int64(v), nil
		}
	}
	if e.t.Variables != nil {
		if v, ok := e.t.Variables(c.Text); ok {
			return int64(v), nil
		}
	}
	return 0, &Error{Msg: fmt.Sprintf("undefined identifier %q", c.Text), Span: c.Span}
}
