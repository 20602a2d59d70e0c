// Package asm orchestrates the full assembler pipeline: lex, preprocess,
// expand macro call sites, parse into segments, plan data addresses, and
// run the two-pass code generator. Each phase gates on the previous
// one's diagnostic bag before proceeding.
package asm

import (
	"os"
	"strconv"

	"fateful/pkg/diag"
	"fateful/pkg/layout"
	"fateful/pkg/lex"
	"fateful/pkg/macro"
	"fateful/pkg/parse"
	"fateful/pkg/span"
	"fateful/pkg/token"

	"fateful/pkg/preprocess"
)

// Output is everything Assemble produces besides diagnostics.
type Output struct {
	Result   *layout.Result
	Registry *span.Registry
}

// Assemble reads path, runs the full pipeline, and returns the generated
// program image. Check bag.HasErrors() before trusting Result.
//
// predefines is an optional (variadic so existing callers are
// unaffected) map of @define-equivalent integer symbols seeded before
// preprocessing begins — the `assemble --frequency` flag uses this to
// bind CPU_FREQUENCY, the way the original assembler.rs does.
func Assemble(path string, v diag.Verbosity, predefines ...map[string]int64) (*Output, *diag.Bag) {
	bag := diag.NewBag(v)
	reg := span.NewRegistry()

	text, err := os.ReadFile(path)
	if err != nil {
		bag.Errorf("cannot read %q: %v", path, err)
		return nil, bag
	}
	src := reg.Add(path, string(text))

	toks, errs := lex.New(src).Lex()
	for _, e := range errs {
		bag.Errorf("%s", e.Error())
	}
	if bag.HasErrors() {
		return nil, bag
	}

	pp := preprocess.New(reg, bag)
	for _, defs := range predefines {
		for name, v := range defs {
			pp.Defines[name] = []token.Token{{Kind: token.Int, Text: strconv.FormatInt(v, 10), Value: v}}
		}
	}
	toks = pp.Expand(toks)
	if bag.HasErrors() {
		return nil, bag
	}

	toks = expandMacros(toks, pp.Macros, bag)
	if bag.HasErrors() {
		return nil, bag
	}

	prog := parse.Parse(toks, bag)
	parse.Validate(prog, bag)
	if bag.HasErrors() {
		return nil, bag
	}

	vars := layout.PlanData(prog.Data, bag)
	if bag.HasErrors() {
		return nil, bag
	}

	defines := func(name string) ([]token.Token, bool) {
		t, ok := pp.Defines[name]
		return t, ok
	}
	result := layout.Generate(prog, vars, defines, bag)
	return &Output{Result: result, Registry: reg}, bag
}

// maxMacroExpansions bounds repeated macro-call rewriting, guarding
// against a macro whose body calls itself.
const maxMacroExpansions = 256

// expandMacros rewrites every macro call site — an identifier matching a
// declared macro name anywhere on a line, followed by the rest of that
// line as a comma-separated argument list — into its matched rule's body, re-scanning the
// result until no call sites remain.
func expandMacros(toks []token.Token, macros map[string]*macro.Macro, bag *diag.Bag) []token.Token {
	for pass := 0; pass < maxMacroExpansions; pass++ {
		out, changed := expandMacroPass(toks, macros, bag)
		toks = out
		if !changed {
			break
		}
	}
	return toks
}

func expandMacroPass(toks []token.Token, macros map[string]*macro.Macro, bag *diag.Bag) ([]token.Token, bool) {
	var out []token.Token
	changed := false
	i := 0
	for i < len(toks) {
		t := toks[i]
		if t.Kind != token.Ident {
			out = append(out, t)
			i++
			continue
		}
		m, ok := macros[t.Text]
		if !ok {
			out = append(out, t)
			i++
			continue
		}
		lineEnd := i + 1
		for lineEnd < len(toks) && toks[lineEnd].Kind != token.Newline && toks[lineEnd].Kind != token.EOF {
			lineEnd++
		}
		argToks := toks[i+1 : lineEnd]
		args := splitArgs(argToks)
		rule, _ := macro.Match(m, args)
		if rule == nil {
			bag.Add(diag.New(diag.Error, "no rules matched these arguments for macro %q", t.Text).At(t.Span))
			out = append(out, toks[i:lineEnd]...)
			i = lineEnd
			continue
		}
		body := macro.Expand(rule, args)
		out = append(out, body...)
		changed = true
		i = lineEnd
	}
	return out, changed
}

// splitArgs partitions a call's argument tokens at top-level commas
// (commas inside a bracketed or parenthesized argument don't split it).
func splitArgs(toks []token.Token) []macro.Arg {
	var args []macro.Arg
	start := 0
	depth := 0
	for i, t := range toks {
		if t.Kind == token.Delim {
			switch t.Text {
			case "(", "[", "{":
				depth++
			case ")", "]", "}":
				depth--
			}
		}
		if t.Kind == token.Punct && t.Text == "," && depth == 0 {
			args = append(args, macro.Arg{Tokens: toks[start:i]})
			start = i + 1
		}
	}
	if start < len(toks) {
		args = append(args, macro.Arg{Tokens: toks[start:]})
	}
	return args
}
