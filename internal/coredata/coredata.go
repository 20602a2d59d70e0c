// Package coredata embeds the default microcode description shipped
// with the toolchain and compiles it once into the control-word ROM
// the emulator consults at start-up.
package coredata

import (
	_ "embed"
	"fmt"
	"sync"

	"fateful/pkg/ctrl"
	"fateful/pkg/microcode"
)

//go:embed microcode.uc
var defaultMicrocode string

var (
	once   sync.Once
	rom    ctrl.ROM
	romErr error
)

// DefaultMicrocode returns the embedded microcode source verbatim, for
// callers that want to inspect or re-derive it rather than take the
// compiled ROM directly.
func DefaultMicrocode() string {
	return defaultMicrocode
}

// DefaultROM compiles the embedded microcode source on first use and
// caches the result; every caller in a process shares one compiled ROM.
func DefaultROM() (ctrl.ROM, error) {
	once.Do(func() {
		var errs []error
		rom, errs = microcode.Compile(defaultMicrocode)
		if len(errs) > 0 {
			romErr = fmt.Errorf("compiling embedded microcode: %w (and %d more)", errs[0], len(errs)-1)
		}
	})
	return rom, romErr
}
