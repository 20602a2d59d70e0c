// Package macro implements multi-rule typed-pattern macro matching and
// expansion.
package macro

import (
	"fmt"

	"fateful/pkg/token"
)

// Param is one rule parameter: a name and the set of argument types it
// accepts.
type Param struct {
	Name  string
	Types []string
}

// Rule is one overload of a macro: a parameter list and an expansion body
// given as a raw token stream (substituted at call time).
type Rule struct {
	Params []Param
	Body   []token.Token
}

// Macro is a name with an ordered list of rules; the first matching rule
// wins.
type Macro struct {
	Name  string
	Rules []Rule
}

// Parse reads one `@macro NAME <rule> | { <rule>* }` declaration from toks
// starting at index i (the token after NAME), returning the built Macro
// and the index of the first token past the declaration.
func Parse(name string, toks []token.Token, i int) (*Macro, int, error) {
	m := &Macro{Name: name}
	skipNewlines := func() {
		for i < len(toks) && toks[i].Kind == token.Newline {
			i++
		}
	}
	skipNewlines()
	if i < len(toks) && toks[i].Kind == token.Delim && toks[i].Text == "{" {
		i++
		for {
			skipNewlines()
			if i < len(toks) && toks[i].Kind == token.Delim && toks[i].Text == "}" {
				i++
				break
			}
			if i >= len(toks) {
				return nil, i, fmt.Errorf("@macro %s: unterminated rule list", name)
			}
			rule, next, err := parseRule(toks, i)
			if err != nil {
				return nil, i, err
			}
			m.Rules = append(m.Rules, rule)
			i = next
		}
		return m, i, nil
	}
	rule, next, err := parseRule(toks, i)
	if err != nil {
		return nil, i, err
	}
	m.Rules = append(m.Rules, rule)
	return m, next, nil
}

// parseRule parses `(param: ty [| ty]* [, ...]) { body }` starting at i.
func parseRule(toks []token.Token, i int) (Rule, int, error) {
	var r Rule
	if i >= len(toks) || !(toks[i].Kind == token.Delim && toks[i].Text == "(") {
		return r, i, fmt.Errorf("expected '(' in macro rule")
	}
	i++
	for !(i < len(toks) && toks[i].Kind == token.Delim && toks[i].Text == ")") {
		if i >= len(toks) {
			return r, i, fmt.Errorf("unterminated parameter list")
		}
		if toks[i].Kind == token.Punct && toks[i].Text == "," {
			i++
			continue
		}
		if toks[i].Kind != token.MacroParam && toks[i].Kind != token.Ident {
			return r, i, fmt.Errorf("expected parameter name, got %q", toks[i].Text)
		}
		p := Param{Name: toks[i].Text}
		i++
		if !(i < len(toks) && toks[i].Kind == token.Punct && toks[i].Text == ":") {
			return r, i, fmt.Errorf("expected ':' after parameter name")
		}
		i++
		for {
			if i >= len(toks) || toks[i].Kind != token.TypeKeyword {
				return r, i, fmt.Errorf("expected a parameter type")
			}
			p.Types = append(p.Types, toks[i].Text)
			i++
			if i < len(toks) && toks[i].Kind == token.Punct && toks[i].Text == "|" {
				i++
				continue
			}
			break
		}
		r.Params = append(r.Params, p)
	}
	i++ // ')'
	for i < len(toks) && toks[i].Kind == token.Newline {
		i++
	}
	if !(i < len(toks) && toks[i].Kind == token.Delim && toks[i].Text == "{") {
		return r, i, fmt.Errorf("expected '{' to begin macro body")
	}
	i++
	depth := 1
	start := i
	for depth > 0 {
		if i >= len(toks) {
			return r, i, fmt.Errorf("unterminated macro body")
		}
		if toks[i].Kind == token.Delim && toks[i].Text == "{" {
			depth++
		} else if toks[i].Kind == token.Delim && toks[i].Text == "}" {
			depth--
			if depth == 0 {
				break
			}
		}
		i++
	}
	r.Body = toks[start:i]
	i++ // consume closing '}'
	return r, i, nil
}

// Arg is one call-site argument: its tokens, possibly bracketed. Accepts
// classifies them against a parameter type on demand.
type Arg struct {
	Tokens []token.Token
}

func (a Arg) isBracketed(open, close string) bool {
	return len(a.Tokens) >= 2 &&
		a.Tokens[0].Kind == token.Delim && a.Tokens[0].Text == open &&
		a.Tokens[len(a.Tokens)-1].Kind == token.Delim && a.Tokens[len(a.Tokens)-1].Text == close
}

func (a Arg) inner() []token.Token {
	if a.isBracketed("[", "]") || a.isBracketed("(", ")") {
		return a.Tokens[1 : len(a.Tokens)-1]
	}
	return a.Tokens
}

func containsKind(toks []token.Token, k token.Kind) bool {
	for _, t := range toks {
		if t.Kind == k {
			return true
		}
	}
	return false
}

// Accepts reports whether arg satisfies the named parameter type.
func Accepts(ty string, arg Arg) bool {
	switch ty {
	case "any":
		return true
	case "reg":
		return len(arg.Tokens) == 1 && arg.Tokens[0].Kind == token.Register
	case "str":
		return len(arg.Tokens) == 1 && arg.Tokens[0].Kind == token.Str
	case "ident":
		return len(arg.Tokens) == 1 && arg.Tokens[0].Kind == token.Ident
	case "imm":
		if len(arg.Tokens) == 1 && (arg.Tokens[0].Kind == token.Int || arg.Tokens[0].Kind == token.Char) {
			return true
		}
		return arg.isBracketed("(", ")")
	case "addr":
		inner := arg.inner()
		return arg.isBracketed("[", "]") && !containsKind(inner, token.Ident) && !containsKind(inner, token.TypeKeyword)
	case "label":
		return arg.isBracketed("[", "]") && !containsKind(arg.inner(), token.Variable)
	default:
		return false
	}
}

// Match selects the first rule whose parameter count matches len(args)
// and whose types each accept the corresponding argument.
func Match(m *Macro, args []Arg) (*Rule, int) {
	for i := range m.Rules {
		r := &m.Rules[i]
		if len(r.Params) != len(args) {
			continue
		}
		ok := true
		for j, p := range r.Params {
			accepted := false
			for _, ty := range p.Types {
				if Accepts(ty, args[j]) {
					accepted = true
					break
				}
			}
			if !accepted {
				ok = false
				break
			}
		}
		if ok {
			return r, i
		}
	}
	return nil, -1
}

// Expand substitutes rule parameters in its body with the call-site
// argument tokens, preserving delimiters, and returns the resulting token
// stream.
func Expand(r *Rule, args []Arg) []token.Token {
	byName := make(map[string][]token.Token, len(r.Params))
	for i, p := range r.Params {
		byName[p.Name] = args[i].Tokens
	}
	var out []token.Token
	for _, t := range r.Body {
		if (t.Kind == token.MacroParam || t.Kind == token.Ident) {
			if sub, ok := byName[t.Text]; ok {
				out = append(out, sub...)
				continue
			}
		}
		out = append(out, t)
	}
	return out
}
