package symtab

import (
	"testing"

	"fateful/pkg/span"
)

func TestDefineRejectsDuplicateName(t *testing.T) {
	tbl := New()
	if !tbl.Define("start", 0x10, span.Span{}) {
		t.Fatal("first definition should succeed")
	}
	if tbl.Define("start", 0x20, span.Span{}) {
		t.Error("a duplicate name should be rejected")
	}
}

func TestResolveIncrementsUseCount(t *testing.T) {
	tbl := New()
	tbl.Define("loop", 0x42, span.Span{})

	if addr, ok := tbl.Resolve("loop"); !ok || addr != 0x42 {
		t.Fatalf("Resolve(loop) = (0x%X, %v), want (0x42, true)", addr, ok)
	}
	tbl.Resolve("loop")

	all := tbl.All()
	if len(all) != 1 || all[0].UseCount != 2 {
		t.Errorf("expected use count 2 after two resolves, got %+v", all)
	}
}

func TestResolveUnknownNameFails(t *testing.T) {
	tbl := New()
	if _, ok := tbl.Resolve("nope"); ok {
		t.Error("resolving an undefined name should fail")
	}
}

func TestHasDoesNotAffectUseCount(t *testing.T) {
	tbl := New()
	tbl.Define("x", 1, span.Span{})
	if !tbl.Has("x") {
		t.Fatal("Has should report a defined symbol")
	}
	if tbl.Unused()[0].UseCount != 0 {
		t.Error("Has should not increment use count")
	}
}

func TestUnusedListsOnlyZeroUseCountInDefinitionOrder(t *testing.T) {
	tbl := New()
	tbl.Define("a", 1, span.Span{})
	tbl.Define("b", 2, span.Span{})
	tbl.Define("c", 3, span.Span{})
	tbl.Resolve("b")

	unused := tbl.Unused()
	if len(unused) != 2 {
		t.Fatalf("expected 2 unused symbols, got %d", len(unused))
	}
	if unused[0].Name != "a" || unused[1].Name != "c" {
		t.Errorf("unused = %v, want [a c] in definition order", []string{unused[0].Name, unused[1].Name})
	}
}

func TestAllPreservesDefinitionOrder(t *testing.T) {
	tbl := New()
	tbl.Define("z", 1, span.Span{})
	tbl.Define("a", 2, span.Span{})
	all := tbl.All()
	if len(all) != 2 || all[0].Name != "z" || all[1].Name != "a" {
		t.Errorf("All() = %v, want definition order [z a]", all)
	}
}
