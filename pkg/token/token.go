// Package token defines the tagged-variant token type the lexer, the
// preprocessor and the macro engine all pass token streams of.
package token

import "fateful/pkg/span"

// Kind discriminates the token variant. Kept as a plain finite sum type
// rather than an interface hierarchy — dispatch stays a switch, never a
// type assertion chain.
type Kind int

const (
	Invalid Kind = iota
	Int               // immediate integer, stored in Value (128-bit range via big.Int-free int64 + overflow flag is unnecessary for this ISA; see Value)
	Str               // ASCII string literal
	Char              // ASCII char literal, stored as Int
	Ident             // plain identifier
	Directive         // @include, @define, ...
	Register          // A B C D E F H L
	TypeKeyword       // reg, addr, label, imm, str, ident, any (macro parameter types)
	MacroParam        // %x
	Variable          // $x
	Delim             // ( ) [ ] { }
	Punct             // , : | ! ~ * / + - & ^ << >> == != < <= > >= && ||
	DocComment        // /// ... (a //* line is skipped as an ordinary line comment)
	Newline
	Here // current-location marker `$` used bare (not `$name`)
	EOF
)

// Token is the tagged variant every phase of the assembler passes around.
type Token struct {
	Kind  Kind
	Text  string // raw lexeme, or directive/ident/register/type/punct spelling
	Value int64  // resolved value for Int/Char tokens
	Span  span.Span
}

func (t Token) String() string {
	if t.Kind == Int || t.Kind == Char {
		return t.Text
	}
	return t.Text
}

// Registers names the eight 8-bit registers in index order.
var Registers = [8]string{"A", "B", "C", "D", "E", "F", "H", "L"}

// RegisterIndex returns the 0..7 index of a register name, or -1.
func RegisterIndex(name string) int {
	for i, r := range Registers {
		if r == name {
			return i
		}
	}
	return -1
}

// MacroTypes are the type-set keywords a macro rule parameter can be
// declared with.
var MacroTypes = map[string]bool{
	"reg": true, "addr": true, "label": true, "imm": true,
	"str": true, "ident": true, "any": true,
}
