// Package peripheral loads peripheral device plugins as Go shared
// libraries (.so files built with `go build -buildmode=plugin`) and
// wraps their exported ABI in the emu.Peripheral interface. No example
// in the surrounding stack links against a third-party dynamic-loading
// library, and plugin.Open is the only mechanism the standard toolchain
// offers for resolving these symbols at runtime, so this package is
// stdlib-only by necessity rather than by default.
package peripheral

import (
	"fmt"
	"plugin"
)

// ABI names the seven symbols a peripheral plugin may export. Init is
// the only one every plugin must provide, receiving the total number
// of ports this device is being loaded across; the rest are optional
// and fall back to a no-op default when absent, per the "exposes some
// of" ABI (spec §4.J) — a load-only device need not export Write,
// Tick, Reset, Drop or LastError.
const (
	symInit      = "Init"
	symRead      = "Read"
	symWrite     = "Write"
	symTick      = "Tick"
	symReset     = "Reset"
	symDrop      = "Drop"
	symLastError = "LastError"
)

type initFunc func(port int) error
type readFunc func(port int) byte
type writeFunc func(port int, v byte)
type tickFunc func()
type resetFunc func()
type dropFunc func() error
type lastErrorFunc func() string

// adapter satisfies emu.Peripheral by forwarding to a loaded plugin's
// exported functions.
type adapter struct {
	path string

	initFn    initFunc
	read      readFunc
	write     writeFunc
	tick      tickFunc
	reset     resetFunc
	drop      dropFunc
	lastError lastErrorFunc
}

// Load opens the shared library at path, resolves its ABI symbols, and
// calls Init(portCount) before returning the adapter — portCount is the
// number of memory-mapped ports the caller is about to install this
// device under (spec §4.J: "calls init with len(ports)"), not any one
// port's local index; each port's own index is supplied per-call to
// Read/Write by the caller. The returned value satisfies
// emu.Peripheral without importing pkg/emu, avoiding a cycle between
// the two packages — the shell wires it in with the concrete interface.
func Load(path string, portCount int) (*adapter, error) {
	p, err := plugin.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}

	a := &adapter{path: path}
	if err := a.bind(p); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := a.initFn(portCount); err != nil {
		return nil, fmt.Errorf("%s: init with %d port(s): %w", path, portCount, err)
	}
	return a, nil
}

// bind resolves Init, which every peripheral must export, then probes
// the remaining six symbols and installs a no-op default for any that
// are absent, per spec §4.J: a library "exposes some of" the ABI. A
// symbol that exists but has the wrong signature is still a hard
// error; only genuine absence falls back to the default.
func (a *adapter) bind(p *plugin.Plugin) error {
	initSym, err := p.Lookup(symInit)
	if err != nil {
		return fmt.Errorf("missing required symbol %s: %w", symInit, err)
	}
	init, ok := initSym.(func(int) error)
	if !ok {
		return fmt.Errorf("%s has the wrong signature", symInit)
	}
	a.initFn = init

	a.read = func(int) byte { return 0 }
	if sym, err := p.Lookup(symRead); err == nil {
		read, ok := sym.(func(int) byte)
		if !ok {
			return fmt.Errorf("%s has the wrong signature", symRead)
		}
		a.read = read
	}

	a.write = func(int, byte) {}
	if sym, err := p.Lookup(symWrite); err == nil {
		write, ok := sym.(func(int, byte))
		if !ok {
			return fmt.Errorf("%s has the wrong signature", symWrite)
		}
		a.write = write
	}

	a.tick = func() {}
	if sym, err := p.Lookup(symTick); err == nil {
		tick, ok := sym.(func())
		if !ok {
			return fmt.Errorf("%s has the wrong signature", symTick)
		}
		a.tick = tick
	}

	a.reset = func() {}
	if sym, err := p.Lookup(symReset); err == nil {
		reset, ok := sym.(func())
		if !ok {
			return fmt.Errorf("%s has the wrong signature", symReset)
		}
		a.reset = reset
	}

	a.drop = func() error { return nil }
	if sym, err := p.Lookup(symDrop); err == nil {
		drop, ok := sym.(func() error)
		if !ok {
			return fmt.Errorf("%s has the wrong signature", symDrop)
		}
		a.drop = drop
	}

	a.lastError = func() string { return "no diagnostic available" }
	if sym, err := p.Lookup(symLastError); err == nil {
		lastErr, ok := sym.(func() string)
		if !ok {
			return fmt.Errorf("%s has the wrong signature", symLastError)
		}
		a.lastError = lastErr
	}

	return nil
}

func (a *adapter) Read(port int) byte     { return a.read(port) }
func (a *adapter) Write(port int, v byte) { a.write(port, v) }
func (a *adapter) Tick()                  { a.tick() }
func (a *adapter) Reset()                 { a.reset() }
func (a *adapter) Close() error           { return a.drop() }

// LastError surfaces the plugin's own diagnostic string, for a shell
// command that wants more detail than a Go error carries.
func (a *adapter) LastError() string { return a.lastError() }
