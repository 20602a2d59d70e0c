package lex

import (
	"testing"

	"fateful/pkg/span"
	"fateful/pkg/token"
)

func lexAll(t *testing.T, src string) []token.Token {
	t.Helper()
	reg := span.NewRegistry()
	s := reg.Add("<test>", src)
	toks, errs := New(s).Lex()
	if len(errs) != 0 {
		t.Fatalf("lexing %q: %v", src, errs)
	}
	return toks
}

func kinds(toks []token.Token) []token.Kind {
	var out []token.Kind
	for _, tk := range toks {
		out = append(out, tk.Kind)
	}
	return out
}

func TestLexNumberPrefixes(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{"0x1F", 0x1F},
		{"0o17", 0o17},
		{"0b101", 0b101},
		{"42", 42},
	}
	for _, tc := range tests {
		toks := lexAll(t, tc.src)
		if len(toks) == 0 || toks[0].Kind != token.Int {
			t.Fatalf("lexing %q: expected a leading Int token, got %v", tc.src, kinds(toks))
		}
		if toks[0].Value != tc.want {
			t.Errorf("lexing %q: Value = %d, want %d", tc.src, toks[0].Value, tc.want)
		}
	}
}

func TestLexSingleLetterIsRegister(t *testing.T) {
	toks := lexAll(t, "A")
	if len(toks) == 0 || toks[0].Kind != token.Register {
		t.Fatalf("lexing %q: expected Register, got %v", "A", kinds(toks))
	}
}

func TestLexMultiLetterIsIdent(t *testing.T) {
	toks := lexAll(t, "start")
	if len(toks) == 0 || toks[0].Kind != token.Ident {
		t.Fatalf("lexing %q: expected Ident, got %v", "start", kinds(toks))
	}
}

func TestLexSkipsLineComments(t *testing.T) {
	for _, src := range []string{"mv A, 1 ; comment\n", "mv A, 1 // comment\n", "mv A, 1 # comment\n"} {
		toks := lexAll(t, src)
		for _, tk := range toks {
			if tk.Kind == token.Ident && tk.Text == "comment" {
				t.Errorf("lexing %q: comment text leaked into tokens: %v", src, kinds(toks))
			}
		}
	}
}

func TestLexSkipsBlockComments(t *testing.T) {
	toks := lexAll(t, "mv /* skip this */ A, 1\n")
	for _, tk := range toks {
		if tk.Text == "skip" || tk.Text == "this" {
			t.Errorf("block comment text leaked into tokens: %v", kinds(toks))
		}
	}
}

func TestLexCapturesDocComments(t *testing.T) {
	toks := lexAll(t, "/// name = value\n")
	found := false
	for _, tk := range toks {
		if tk.Kind == token.DocComment {
			found = true
			if tk.Text != "name = value" {
				t.Errorf("DocComment.Text = %q, want %q", tk.Text, "name = value")
			}
		}
	}
	if !found {
		t.Fatalf("expected a DocComment token, got %v", kinds(toks))
	}
}

func TestLexDirectiveToken(t *testing.T) {
	toks := lexAll(t, "@define FOO\n")
	if len(toks) == 0 || toks[0].Kind != token.Directive || toks[0].Text != "@define" {
		t.Fatalf("expected Directive @define, got %v", kinds(toks))
	}
}

func TestLexMacroParamAndVariable(t *testing.T) {
	toks := lexAll(t, "%x $y")
	if len(toks) < 2 || toks[0].Kind != token.MacroParam || toks[1].Kind != token.Variable {
		t.Fatalf("expected [MacroParam Variable], got %v", kinds(toks))
	}
}

func TestLexTwoCharOperators(t *testing.T) {
	toks := lexAll(t, "<< >> == != <= >= && ||")
	want := []string{"<<", ">>", "==", "!=", "<=", ">=", "&&", "||"}
	var got []string
	for _, tk := range toks {
		if tk.Kind == token.Newline || tk.Kind == token.EOF {
			continue
		}
		got = append(got, tk.Text)
	}
	if len(got) != len(want) {
		t.Fatalf("tokens = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("token %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestLexBackslashNewlineSplicesContinuation(t *testing.T) {
	toks := lexAll(t, "mv A, \\\n1\n")
	var lineCount int
	for _, tk := range toks {
		if tk.Kind == token.Newline {
			lineCount++
		}
	}
	if lineCount != 1 {
		t.Errorf("expected the spliced line to produce exactly one newline token, got %d", lineCount)
	}
}

func TestLexStrayCharacterIsAnError(t *testing.T) {
	reg := span.NewRegistry()
	s := reg.Add("<test>", "`\n")
	_, errs := New(s).Lex()
	if len(errs) == 0 {
		t.Fatal("expected a lex error for a stray character")
	}
}
