// Package emu implements the F8ful data path: the tick function that
// steps one microcycle against a control word, the address decoder
// routing reads and writes across RAM, text buffer, MMIO ports and the
// PC/status registers, and the machine state the interactive shell
// reads and writes under a lock.
package emu

import (
	"fateful/pkg/ctrl"
	"fateful/pkg/textbuf"
)

// Peripheral is the adapter interface a loaded dynamic library is
// wrapped in before it's installed onto a port; pkg/peripheral builds
// these, emu only ever calls through the interface so it never touches
// a raw library handle.
type Peripheral interface {
	Read(port int) byte
	Write(port int, v byte)
	Tick()
	Reset()
	Close() error
}

// port is one entry in the peripheral table: the shared adapter plus
// the local port index this address was registered under. refs is
// shared by every port entry installed from the same LOAD, so the
// library is only closed once the last one of them is dropped.
type port struct {
	dev   Peripheral
	local int
	refs  *int
}

// Head is the instruction register: the opcode byte's three fields,
// latched by LI at fetch and held until the next LI.
type Head struct {
	Opcode ctrl.Opcode
	Imm    bool
	Reg    uint8
}

// ALU holds the two operand latches the 011/100 side effects load and
// the gated compute path reads back.
type ALU struct {
	P, S byte
}

// Machine is the full emulator state described by the data model: the
// register bank, control unit, ALU latches, bus/address registers,
// memory images, and the peripheral table. The shell command loop and
// the tick function are the only code that touches it, always under
// the caller's lock.
type Machine struct {
	PC uint16
	SP uint16

	Head       Head
	Microcycle uint8

	SReg  uint8
	Timer uint16

	ALU ALU
	Bus byte
	Addr uint16

	Bank [8]byte

	Mem     [65536]byte
	Program [65536]byte

	TextBuf textbuf.Buffer

	ports map[int]*port // address -> installed peripheral

	ROM ctrl.ROM

	Halted bool
	Quit   bool

	// Speed is the RUN command's requested microcycle rate in Hz; 0
	// means uncapped. It is not touched by Reset, matching Quit.
	Speed int
}

// New returns a freshly reset machine running against rom.
func New(rom ctrl.ROM) *Machine {
	m := &Machine{ROM: rom, ports: make(map[int]*port)}
	m.Reset()
	return m
}

// LoadProgram copies img into the 64 KiB program image the CPU fetches
// instructions and LPM operands from.
func (m *Machine) LoadProgram(img [65536]byte) {
	m.Program = img
}

// ControlWord returns the 24-bit control word the current head and
// microcycle select from ROM — the word the next Step is about to
// execute, without actually stepping. DUMP uses this to show the
// machine's pending micro-operation.
func (m *Machine) ControlWord() ctrl.Word {
	return m.ROM[romIndex(m.Head, m.Microcycle)]
}

// ProgramByte returns the byte at the current pc, the one LI would
// latch into the instruction register on the next fetch.
func (m *Machine) ProgramByte() byte {
	return m.Program[m.PC]
}

// Reset clears pc, microcycle, ram, flags, sp, the ALU, the register
// bank and the text buffer, and broadcasts reset to every attached
// peripheral. It does not disturb the loaded program image or the
// installed peripheral table itself.
func (m *Machine) Reset() {
	m.PC = 0
	m.SP = 0xEFFF
	m.Microcycle = 0
	m.Head = Head{}
	m.SReg = 0
	m.Timer = 0
	m.ALU = ALU{}
	m.Bus = 0
	m.Addr = 0
	m.Bank = [8]byte{}
	for i := range m.Mem {
		m.Mem[i] = 0
	}
	m.TextBuf.Reset()
	m.Halted = false
	for _, p := range m.ports {
		p.dev.Reset()
	}
}

// HL returns the 16-bit index formed by H (bank index 6) and L (bank
// index 7).
func (m *Machine) HL() uint16 {
	return uint16(m.Bank[6])<<8 | uint16(m.Bank[7])
}

// SetHL writes v back into the H and L register pair.
func (m *Machine) SetHL(v uint16) {
	m.Bank[6] = byte(v >> 8)
	m.Bank[7] = byte(v)
}

// AttachPeripheral installs dev at the memory-mapped address, seen by
// dev itself as local port index local, as the sole reference to dev.
func (m *Machine) AttachPeripheral(addr int, dev Peripheral, local int) {
	refs := 1
	m.ports[addr] = &port{dev: dev, local: local, refs: &refs}
}

// AttachPeripheralPorts installs one shared dev across every address in
// addrs, in listed order, so dev sees its ports as local index 0..n-1 —
// the multi-port form LOAD uses. The library handle is reference
// counted across the installed ports: DetachPeripheral only closes it
// once the last one of them is detached.
func (m *Machine) AttachPeripheralPorts(dev Peripheral, addrs []int) {
	refs := len(addrs)
	for local, addr := range addrs {
		m.ports[addr] = &port{dev: dev, local: local, refs: &refs}
	}
}

// DetachPeripheral removes whatever is installed at addr, closing the
// underlying library only once every port sharing it has been
// detached; it reports false if nothing was there.
func (m *Machine) DetachPeripheral(addr int) bool {
	p, ok := m.ports[addr]
	if !ok {
		return false
	}
	delete(m.ports, addr)
	*p.refs--
	if *p.refs == 0 {
		_ = p.dev.Close()
	}
	return true
}

// PeripheralAddrs returns every address with an installed peripheral,
// for DROP with no arguments and for DUMP.
func (m *Machine) PeripheralAddrs() []int {
	addrs := make([]int, 0, len(m.ports))
	for a := range m.ports {
		addrs = append(addrs, a)
	}
	return addrs
}

// Flag reports whether bit is set in the status register (register
// bank index 5).
func (m *Machine) Flag(bit uint8) bool {
	return m.Bank[5]&bit != 0
}

// setFlag sets or clears bit in the status register, keeping Bank[5]
// as the single source of truth for flag state (SReg mirrors it for
// the 0xFFFF memory-mapped view).
func (m *Machine) setFlag(bit uint8, on bool) {
	m.Bank[5] = setFlag(m.Bank[5], bit, on)
	m.SReg = m.Bank[5]
}

// validFlagBits masks a byte down to the six condition-flag bits the
// 0xFFFF status register actually implements.
const validFlagBits = FlagZ | FlagC | FlagL | FlagE | FlagG | FlagH

// PokeStatus writes v to the memory-mapped status register at 0xFFFF,
// masked to the valid flag bits — an out-of-range write simply loses
// its upper bits rather than erroring.
func (m *Machine) PokeStatus(v byte) {
	m.SReg = v & validFlagBits
	m.Bank[5] = m.SReg
}

// PeekStatus reads the memory-mapped status register at 0xFFFF, which is
// the F register itself (Bank[5]).
func (m *Machine) PeekStatus() byte {
	return m.Bank[5]
}
