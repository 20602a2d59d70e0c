// Package ctrl models the 24-bit control word that drives the F8ful data
// path on every microcycle, and the 256-entry ROM banks the microcode
// compiler produces from it.
package ctrl

// Flag is a single named control line. All three flag groups (ALU select,
// register bank, address bus) live in one 24-bit Word so that the ROM
// builder and the emulator agree on encoding bit-for-bit.
type Flag uint32

// Control line bit positions. The exact bit numbers are this module's
// choice, but once fixed they must never change without re-running the
// microcode compiler.
const (
	AOL Flag = 1 << iota // ALU op select, low bit
	AOM                  // ALU op select, mid bit
	AOH                  // ALU op select, high bit
	AO                   // gate ALU output onto the bus
	RBI                  // register bank in (bus -> bank[reg])
	RBO                  // register bank out (bank[reg] -> bus)
	RSB                  // register select from instruction reg field
	RSP                  // register select from program byte
	SPI                  // stack pointer increment
	SPD                  // stack pointer decrement
	LSP                  // load addr from stack pointer
	PCI                  // program counter increment
	JNZ                  // conditional jump on zero flag clear
	LI                   // load instruction register
	PO                   // gate program byte onto the bus
	SR                   // register-to-register copy (bank[reg] <- bank[prog&7])
	THL                  // transfer H:L <-> addr
	LA                   // gate an address-decoder read onto the bus
	SA                   // commit bus write through the address decoder
	LPM                  // program-memory read onto the bus
	ALI                  // load bus into addr[7:0]
	AHI                  // load bus into addr[15:8]
	CR                   // reset microcycle counter
	SH                   // set halt
)

// Word is the full 24-bit control word for one microcycle.
type Word uint32

// Has reports whether every bit in mask is set.
func (w Word) Has(mask Flag) bool {
	return Word(mask)&w == Word(mask)
}

// names maps each flag to its microcode-DSL identifier.
var names = map[string]Flag{
	"AOL": AOL, "AOM": AOM, "AOH": AOH, "AO": AO,
	"RBI": RBI, "RBO": RBO, "RSB": RSB, "RSP": RSP,
	"SPI": SPI, "SPD": SPD, "LSP": LSP,
	"PCI": PCI, "JNZ": JNZ, "LI": LI, "PO": PO,
	"SR": SR, "THL": THL,
	"LA": LA, "SA": SA, "LPM": LPM, "ALI": ALI, "AHI": AHI,
	"CR": CR, "SH": SH,
}

// Lookup resolves a microcode-DSL flag identifier, reporting ok=false for
// an unknown name.
func Lookup(name string) (Flag, bool) {
	f, ok := names[name]
	return f, ok
}

// AluOp is the 3-bit ALU operation selector decoded from AOL/AOM/AOH.
type AluOp uint8

const (
	AluAdd    AluOp = 0b000 // add, carry-clear
	AluSub    AluOp = 0b001 // subtract, carry-clear
	AluAdc    AluOp = 0b010 // add-with-carry
	AluSbb    AluOp = 0b011 // subtract-with-borrow
	AluNand   AluOp = 0b100
	AluOr     AluOp = 0b101
	AluZero         = AluOp(0b110)
	AluUnused       = AluOp(0b111)
)

// Op extracts the 3-bit ALU selector from a control word.
func (w Word) Op() AluOp {
	var v AluOp
	if w.Has(AOL) {
		v |= 0b001
	}
	if w.Has(AOM) {
		v |= 0b010
	}
	if w.Has(AOH) {
		v |= 0b100
	}
	return v
}

// Opcode is the 4-bit instruction selector shared bit-for-bit by the
// microcode compiler, the assembler's code generator and the emulator's
// fetch/decode stage.
type Opcode uint8

const (
	OpADD Opcode = iota
	OpSUB
	OpADC
	OpSBB
	OpNAND
	OpOR
	OpCMP
	OpMV
	OpLD
	OpST
	OpLDA
	OpLPM
	OpPUSH
	OpPOP
	OpJNZ
	OpHALT
)

var opcodeNames = map[string]Opcode{
	"ADD": OpADD, "SUB": OpSUB, "ADC": OpADC, "SBB": OpSBB,
	"NAND": OpNAND, "OR": OpOR, "CMP": OpCMP, "MV": OpMV,
	"LD": OpLD, "ST": OpST, "LDA": OpLDA, "LPM": OpLPM,
	"PUSH": OpPUSH, "POP": OpPOP, "JNZ": OpJNZ, "HALT": OpHALT,
}

var opcodeMnemonics = [16]string{
	"ADD", "SUB", "ADC", "SBB", "NAND", "OR", "CMP", "MV",
	"LD", "ST", "LDA", "LPM", "PUSH", "POP", "JNZ", "HALT",
}

// LookupOpcode resolves a mnemonic to its 4-bit opcode.
func LookupOpcode(name string) (Opcode, bool) {
	o, ok := opcodeNames[name]
	return o, ok
}

// String returns the opcode's assembler mnemonic.
func (o Opcode) String() string {
	if int(o) < len(opcodeMnemonics) {
		return opcodeMnemonics[o]
	}
	return "?"
}

// ROM is the 256-entry control-word table for one opcode space, plus the
// three byte-sliced banks the emulator embeds and consults verbatim.
type ROM [256]Word

// Banks slices the 24-bit control words into three parallel 256-byte
// images: bits [0:7], [8:15], [16:23] — the three build artifacts the
// emulator embeds verbatim.
func (r ROM) Banks() (low, mid, high [256]byte) {
	for i, w := range r {
		low[i] = byte(w)
		mid[i] = byte(w >> 8)
		high[i] = byte(w >> 16)
	}
	return
}

// FromBanks reconstructs a ROM from the three 8-bit banks, the inverse of
// Banks. Used when loading embedded ROM images back at emulator start-up.
func FromBanks(low, mid, high [256]byte) ROM {
	var r ROM
	for i := range r {
		r[i] = Word(low[i]) | Word(mid[i])<<8 | Word(high[i])<<16
	}
	return r
}
