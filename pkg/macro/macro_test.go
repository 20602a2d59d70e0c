package macro

import (
	"testing"

	"fateful/pkg/lex"
	"fateful/pkg/span"
	"fateful/pkg/token"
)

func toks(t *testing.T, src string) []token.Token {
	t.Helper()
	reg := span.NewRegistry()
	s := reg.Add("<test>", src)
	got, errs := lex.New(s).Lex()
	if len(errs) != 0 {
		t.Fatalf("lexing %q: %v", src, errs)
	}
	var out []token.Token
	for _, tok := range got {
		if tok.Kind == token.Newline || tok.Kind == token.EOF {
			continue
		}
		out = append(out, tok)
	}
	return out
}

func arg(t *testing.T, src string) Arg {
	return Arg{Tokens: toks(t, src)}
}

func TestAcceptsClassifiesEachArgumentType(t *testing.T) {
	tests := []struct {
		ty   string
		src  string
		want bool
	}{
		{"reg", "A", true},
		{"reg", "5", false},
		{"imm", "5", true},
		{"imm", "A", false},
		{"str", `"hi"`, true},
		{"ident", "foo", true},
		{"ident", "5", false},
		{"addr", "[0x10]", true},
		{"addr", "[label]", false},
		{"label", "[label]", true},
		{"any", "whatever", true},
	}
	for _, tc := range tests {
		if got := Accepts(tc.ty, arg(t, tc.src)); got != tc.want {
			t.Errorf("Accepts(%q, %q) = %v, want %v", tc.ty, tc.src, got, tc.want)
		}
	}
}

func TestParseSingleRuleMacro(t *testing.T) {
	src := "(%x: reg, %y: imm) { mv %x, %y }"
	toks := toks(t, src)
	m, next, err := Parse("double", toks, 0)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if next != len(toks) {
		t.Errorf("Parse consumed %d of %d tokens", next, len(toks))
	}
	if len(m.Rules) != 1 || len(m.Rules[0].Params) != 2 {
		t.Fatalf("unexpected rule shape: %+v", m.Rules)
	}
}

func TestMatchPicksFirstSatisfyingRule(t *testing.T) {
	src := "{ (%x: reg) { mv %x, 0 } (%x: imm) { mv A, %x } }"
	declToks := toks(t, src)
	m, _, err := Parse("zero", declToks, 0)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	if len(m.Rules) != 2 {
		t.Fatalf("expected 2 rules, got %d", len(m.Rules))
	}

	rule, idx := Match(m, []Arg{arg(t, "B")})
	if rule == nil || idx != 0 {
		t.Errorf("Match with a register arg should pick rule 0, got idx=%d", idx)
	}

	rule, idx = Match(m, []Arg{arg(t, "7")})
	if rule == nil || idx != 1 {
		t.Errorf("Match with an immediate arg should pick rule 1, got idx=%d", idx)
	}
}

func TestMatchFailsWhenNoRuleFits(t *testing.T) {
	src := "(%x: reg) { mv %x, 0 }"
	declToks := toks(t, src)
	m, _, err := Parse("zero", declToks, 0)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	rule, idx := Match(m, []Arg{arg(t, `"str"`)})
	if rule != nil || idx != -1 {
		t.Error("Match should fail when no rule's parameter types accept the call")
	}
}

func TestExpandSubstitutesParametersIntoBody(t *testing.T) {
	src := "(%x: reg, %y: imm) { mv %x, %y }"
	declToks := toks(t, src)
	m, _, err := Parse("set", declToks, 0)
	if err != nil {
		t.Fatalf("Parse returned error: %v", err)
	}
	args := []Arg{arg(t, "C"), arg(t, "0x09")}
	out := Expand(&m.Rules[0], args)

	var got []string
	for _, tk := range out {
		got = append(got, tk.Text)
	}
	want := []string{"mv", "C", ",", "0x09"}
	if len(got) != len(want) {
		t.Fatalf("Expand() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Expand()[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}
