package expr

import (
	"testing"

	"fateful/pkg/lex"
	"fateful/pkg/span"
	"fateful/pkg/token"
)

func tokenize(t *testing.T, src string) []token.Token {
	t.Helper()
	reg := span.NewRegistry()
	s := reg.Add("<test>", src)
	toks, errs := lex.New(s).Lex()
	if len(errs) != 0 {
		t.Fatalf("lexing %q: %v", src, errs)
	}
	var out []token.Token
	for _, tok := range toks {
		if tok.Kind == token.Newline || tok.Kind == token.EOF {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func evalStr(t *testing.T, src string, tbl Tables) int64 {
	t.Helper()
	v, err := Eval(tokenize(t, src), tbl)
	if err != nil {
		t.Fatalf("Eval(%q) returned error: %v", src, err)
	}
	return v
}

func TestEvalPrecedenceAndAssociativity(t *testing.T) {
	tests := []struct {
		src  string
		want int64
	}{
		{"1 + 2 * 3", 7},
		{"(1 + 2) * 3", 9},
		{"10 - 2 - 3", 5},
		{"2 << 3", 16},
		{"0xFF & 0x0F", 0x0F},
		{"1 | 2 ^ 3", (1 | 2) ^ 3},
		{"1 == 1", 1},
		{"1 != 1", 0},
		{"3 > 2 && 2 > 1", 1},
		{"3 > 2 || 1 > 2", 1},
		{"!0", 1},
		{"!5", 0},
		{"~0", -1},
		{"-5 + 10", 5},
		{"10 / 2", 5},
		{"2 * (3 + 4) - 1", 13},
	}
	for _, tc := range tests {
		if got := evalStr(t, tc.src, Tables{}); got != tc.want {
			t.Errorf("Eval(%q) = %d, want %d", tc.src, got, tc.want)
		}
	}
}

func TestEvalDivisionByZeroErrors(t *testing.T) {
	_, err := Eval(tokenize(t, "1 / 0"), Tables{})
	if err == nil {
		t.Fatal("expected a division-by-zero error")
	}
}

func TestEvalUnmatchedParenErrors(t *testing.T) {
	_, err := Eval(tokenize(t, "(1 + 2"), Tables{})
	if err == nil {
		t.Fatal("expected an unmatched-parenthesis error")
	}
}

func TestEvalUndefinedIdentifierErrors(t *testing.T) {
	_, err := Eval(tokenize(t, "nope"), Tables{})
	if err == nil {
		t.Fatal("expected an undefined-identifier error")
	}
}

func TestEvalResolvesIdentifierOrderDefinesLabelsVariables(t *testing.T) {
	tbl := Tables{
		Labels: func(name string) (uint32, bool) {
			if name == "start" {
				return 0x100, true
			}
			return 0, false
		},
		Variables: func(name string) (uint32, bool) {
			if name == "counter" {
				return 0x200, true
			}
			return 0, false
		},
	}
	if got := evalStr(t, "start", tbl); got != 0x100 {
		t.Errorf("start = %d, want 0x100", got)
	}
	if got := evalStr(t, "counter", tbl); got != 0x200 {
		t.Errorf("counter = %d, want 0x200", got)
	}
}

func TestEvalDefineTakesPriorityOverLabel(t *testing.T) {
	tbl := Tables{
		Defines: func(name string) ([]token.Token, bool) {
			if name == "start" {
				return tokenize(t, "42"), true
			}
			return nil, false
		},
		Labels: func(name string) (uint32, bool) {
			return 0x100, true // would be wrong if chosen
		},
	}
	if got := evalStr(t, "start", tbl); got != 42 {
		t.Errorf("start = %d, want the define's value 42", got)
	}
}

func TestEvalVariableTokenLookup(t *testing.T) {
	tbl := Tables{
		Variables: func(name string) (uint32, bool) {
			if name == "x" {
				return 7, true
			}
			return 0, false
		},
	}
	if got := evalStr(t, "$x + 1", tbl); got != 8 {
		t.Errorf("$x + 1 = %d, want 8", got)
	}
}
