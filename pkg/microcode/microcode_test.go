package microcode

import (
	"strings"
	"testing"

	"fateful/pkg/ctrl"
)

func TestCompileStitchesStartRegEndIntoRegForm(t *testing.T) {
	src := `
MV:
.start:
  PCI
.reg:
  RBI
.end:
  PCI
`
	rom, errs := Compile(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	base := int(ctrl.OpMV) << 4
	if !rom[base].Has(ctrl.PCI) {
		t.Errorf("slot %d (.start) missing PCI", base)
	}
	if !rom[base+1].Has(ctrl.RBI) {
		t.Errorf("slot %d (.reg) missing RBI", base+1)
	}
	if !rom[base+2].Has(ctrl.PCI) {
		t.Errorf("slot %d (.end) missing PCI", base+2)
	}
}

func TestCompileStitchesImmFormAtOffsetEight(t *testing.T) {
	src := `
MV:
.start:
  PCI
.imm:
  RBI | PCI
.end:
  PCI
`
	rom, errs := Compile(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	base := (int(ctrl.OpMV) << 4) | 0b1000
	if !rom[base+1].Has(ctrl.RBI | ctrl.PCI) {
		t.Errorf("slot %d (.imm) missing RBI|PCI", base+1)
	}
}

func TestCompileDefaultsToStartSectionBeforeAnyHeader(t *testing.T) {
	src := `
MV:
  PCI
`
	rom, errs := Compile(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	base := int(ctrl.OpMV) << 4
	if !rom[base].Has(ctrl.PCI) {
		t.Error("a flag line with no section header should land in .start")
	}
}

func TestCompileRejectsUnknownOpcode(t *testing.T) {
	_, errs := Compile("NOTREAL:\n  PCI\n")
	if len(errs) == 0 {
		t.Fatal("expected an error for an unknown opcode label")
	}
}

func TestCompileRejectsUnknownFlag(t *testing.T) {
	_, errs := Compile("MV:\n  BOGUS\n")
	if len(errs) == 0 {
		t.Fatal("expected an error for an unknown flag name")
	}
}

func TestCompileRejectsFlagLineBeforeAnyLabel(t *testing.T) {
	_, errs := Compile("  PCI\n")
	if len(errs) == 0 {
		t.Fatal("expected an error for a flag line before any opcode label")
	}
}

func TestCompileRejectsSequenceOverflowingEightMicrocycles(t *testing.T) {
	var b strings.Builder
	b.WriteString("MV:\n.start:\n")
	for i := 0; i < 9; i++ {
		b.WriteString("  PCI\n")
	}
	_, errs := Compile(b.String())
	if len(errs) == 0 {
		t.Fatal("expected an error when a form's sequence exceeds 8 microcycles")
	}
}

func TestCompileIgnoresCommentsAndBlankLines(t *testing.T) {
	src := `
; a full-line comment
MV:
.start:
  PCI ; trailing comment
`
	rom, errs := Compile(src)
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	base := int(ctrl.OpMV) << 4
	if !rom[base].Has(ctrl.PCI) {
		t.Error("a trailing comment should not prevent the flag from parsing")
	}
}
