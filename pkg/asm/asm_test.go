package asm

import (
	"os"
	"path/filepath"
	"testing"

	"fateful/pkg/diag"
)

func assembleSource(t *testing.T, src string) *Output {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.fat")
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("writing test source: %v", err)
	}
	out, bag := Assemble(path, diag.Quiet)
	if bag.HasErrors() {
		var msgs []string
		for _, d := range bag.Items() {
			msgs = append(msgs, d.Message)
		}
		t.Fatalf("assembly failed: %v", msgs)
	}
	return out
}

// TestAssembleSimpleProgramMatchesHandEncoding walks the full pipeline
// (lex, preprocess, macro expansion, parse, layout) and checks the
// generated bytes against the opcode encoding by hand.
func TestAssembleSimpleProgramMatchesHandEncoding(t *testing.T) {
	src := `@cseg
@org 0x0000
  mv A, 0xFF
  mv B, 0x01
  add A, B
  halt
`
	out := assembleSource(t, src)
	img := out.Result.Image

	// MV opcode is 7, imm-form bit set, reg field 0 (A).
	wantMVimm := byte(7<<4 | 0x08 | 0)
	if img[0] != wantMVimm || img[1] != 0xFF {
		t.Errorf("mv A,0xFF -> [0x%02X 0x%02X], want [0x%02X 0xFF]", img[0], img[1], wantMVimm)
	}
	wantMVimmB := byte(7<<4 | 0x08 | 1)
	if img[2] != wantMVimmB || img[3] != 0x01 {
		t.Errorf("mv B,0x01 -> [0x%02X 0x%02X], want [0x%02X 0x01]", img[2], img[3], wantMVimmB)
	}
	// ADD opcode is 0, register-register form: imm bit clear, reg field
	// is the destination (A=0), second byte is the source register index.
	wantADD := byte(0<<4 | 0)
	if img[4] != wantADD || img[5] != 1 {
		t.Errorf("add A,B -> [0x%02X 0x%02X], want [0x%02X 0x01]", img[4], img[5], wantADD)
	}
	// HALT opcode is 15, one byte.
	wantHALT := byte(15 << 4)
	if img[6] != wantHALT {
		t.Errorf("halt -> 0x%02X, want 0x%02X", img[6], wantHALT)
	}
}

// TestAssembleResolvesLabelForwardReference checks that JNZ can jump to
// a label defined later in the same segment.
func TestAssembleResolvesLabelForwardReference(t *testing.T) {
	src := `@cseg
@org 0x0000
  mv A, 0x00
  cmp A, A
  jnz done
  mv B, 0x01
done:
  halt
`
	out := assembleSource(t, src)
	img := out.Result.Image

	// jnz's operand occupies the two bytes right after its opcode byte,
	// at offsets 5 and 6 (mv=2 bytes, cmp=2 bytes, jnz head at 4).
	gotAddr := uint16(img[5])<<8 | uint16(img[6])
	labelAddr, ok := out.Result.Labels.Resolve("done")
	if !ok {
		t.Fatal("label \"done\" was not recorded")
	}
	if uint32(gotAddr) != labelAddr {
		t.Errorf("jnz operand = 0x%04X, want label address 0x%04X", gotAddr, labelAddr)
	}
}

// TestAssembleDataSegmentAllocatesVariables checks a @dseg declaration
// plans an address a code segment's LD can then reference.
func TestAssembleDataSegmentAllocatesVariables(t *testing.T) {
	src := `@dseg
@byte counter

@cseg
@org 0x0000
  mv A, 0x05
  st A, [counter]
  ld B, [counter]
  halt
`
	out := assembleSource(t, src)
	addr, ok := out.Result.Vars.Resolve("counter")
	if !ok {
		t.Fatal("variable \"counter\" was not planned")
	}
	if addr < 0 {
		t.Errorf("variable address should be non-negative, got %d", addr)
	}
}

// TestAssemblePredefinesSeedSymbolBeforePreprocessing checks that a
// caller-supplied predefine (the way `assemble --frequency` binds
// CPU_FREQUENCY) is visible to the source the same way an in-source
// @define would be, including inside an expression.
func TestAssemblePredefinesSeedSymbolBeforePreprocessing(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.fat")
	src := "@cseg\n@org 0x0000\n  push (CPU_FREQUENCY)\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("writing test source: %v", err)
	}
	out, bag := Assemble(path, diag.Quiet, map[string]int64{"CPU_FREQUENCY": 6})
	if bag.HasErrors() {
		var msgs []string
		for _, d := range bag.Items() {
			msgs = append(msgs, d.Message)
		}
		t.Fatalf("assembly failed: %v", msgs)
	}
	img := out.Result.Image
	// PUSH opcode is 12, imm-form bit set, reg field 0.
	wantPushImm := byte(12<<4 | 0x08)
	if img[0] != wantPushImm || img[1] != 6 {
		t.Errorf("push (CPU_FREQUENCY) -> [0x%02X 0x%02X], want [0x%02X 0x06]", img[0], img[1], wantPushImm)
	}
}

// TestAssembleReportsErrorForUnknownMnemonic checks a malformed source
// produces a diagnostic instead of a panic or a silent empty image.
func TestAssembleReportsErrorForUnknownMnemonic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.fat")
	src := "@cseg\n@org 0x0000\n  bogus A, B\n"
	if err := os.WriteFile(path, []byte(src), 0o644); err != nil {
		t.Fatalf("writing test source: %v", err)
	}
	_, bag := Assemble(path, diag.Quiet)
	if !bag.HasErrors() {
		t.Error("expected an error for an unknown mnemonic")
	}
}
