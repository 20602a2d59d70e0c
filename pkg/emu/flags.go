package emu

// Status-register bit positions. F (register index 5) holds these six
// flags; the rest of the byte is unused and always reads zero.
const (
	FlagZ uint8 = 1 << iota // zero
	FlagC                   // carry
	FlagL                   // less
	FlagE                   // equal
	FlagG                   // greater
	FlagH                   // halt
)

func setFlag(f uint8, bit uint8, on bool) uint8 {
	if on {
		return f | bit
	}
	return f &^ bit
}
