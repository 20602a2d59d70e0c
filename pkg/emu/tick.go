package emu

import "fateful/pkg/ctrl"

// decodeHead splits an opcode byte into its three fields: the 4-bit
// opcode in the high nibble, the imm-form flag at bit 3, and the 3-bit
// register index in the low bits — the mirror image of the encoding
// pkg/layout's generator emits.
func decodeHead(b byte) Head {
	return Head{
		Opcode: ctrl.Opcode(b >> 4),
		Imm:    b&0x08 != 0,
		Reg:    b & 0x07,
	}
}

// romIndex computes the control-word ROM address for the current head
// and microcycle: opcode in the high nibble, the imm-form bit, then
// the 3-bit microcycle counter, exactly as pkg/microcode's compiler
// stitches reg-form and imm-form sequences into the 256-entry table.
func romIndex(h Head, microcycle uint8) int {
	idx := int(h.Opcode) << 4
	if h.Imm {
		idx |= 0x08
	}
	idx |= int(microcycle) & 0x07
	return idx
}

// Step runs one full microcycle: rising edge, falling edge, then
// housekeeping. It is a no-op once the machine has halted.
func (m *Machine) Step() {
	if m.Halted || m.Quit {
		return
	}
	w := m.ROM[romIndex(m.Head, m.Microcycle)]
	m.risingEdge(w)
	m.fallingEdge()
	m.housekeeping(w)
}

// risingEdge executes one control word's worth of data-path motion, in
// the priority order the bus has exactly one driver per cycle: PCI,
// fetch (LI reads the opcode byte without moving pc), register-index
// selection, the THL combined transfer, the bus-source priority chain
// (RBO > AO > LA > PO > LPM, skipped under THL), the latch/commit lines
// (LSP, SA, ALI, AHI, SR, RBI, SPI/SPD), the ALU's non-gated side
// effects, the JNZ test, and finally SH.
func (m *Machine) risingEdge(w ctrl.Word) {
	if w.Has(ctrl.PCI) {
		m.PC++
	}

	if w.Has(ctrl.LI) {
		m.Head = decodeHead(m.Program[m.PC])
	}

	reg := int(m.Head.Reg)
	if w.Has(ctrl.RSP) {
		reg = int(m.Program[m.PC]) & 0x07
	}

	// THL is the combined H:L<->addr transfer, not a bus gate; when it's
	// set, RBO/RBI instead just pick the transfer's direction (RBO:
	// addr <- H:L, for addressing through H:L; RBI: H:L <- addr, for
	// landing a freshly latched address into the register pair).
	if w.Has(ctrl.THL) {
		if w.Has(ctrl.RBI) {
			m.SetHL(m.Addr)
		} else {
			m.Addr = m.HL()
		}
	}

	if !w.Has(ctrl.THL) {
		switch {
		case w.Has(ctrl.RBO):
			m.Bus = m.Bank[reg]
		case w.Has(ctrl.AO):
			m.Bus = m.aluCompute(w)
		case w.Has(ctrl.LA):
			m.Bus = m.Read(m.Addr)
		case w.Has(ctrl.PO):
			m.Bus = m.Program[m.PC]
		case w.Has(ctrl.LPM):
			m.Bus = m.Program[m.Addr]
		}
	}

	if w.Has(ctrl.LSP) {
		m.Addr = m.SP
	}
	if w.Has(ctrl.SA) {
		m.Write(m.Addr, m.Bus)
	}
	if w.Has(ctrl.ALI) {
		m.Addr = (m.Addr & 0xFF00) | uint16(m.Bus)
	}
	if w.Has(ctrl.AHI) {
		m.Addr = (m.Addr & 0x00FF) | uint16(m.Bus)<<8
	}
	if w.Has(ctrl.SR) {
		m.Bank[m.Head.Reg] = m.Bank[m.Program[m.PC]&0x07]
	}
	if !w.Has(ctrl.THL) && w.Has(ctrl.RBI) {
		m.Bank[reg] = m.Bus
	}
	if w.Has(ctrl.SPI) {
		m.SP++
	}
	if w.Has(ctrl.SPD) {
		m.SP--
	}

	// The AOL/AOM/AOH op-select bits do double duty: gated by AO they
	// choose the real ALU operation aluCompute already used above; left
	// ungated they instead select one of four side effects the load
	// cycles and CMP/the Z-reload cycle rely on.
	if !w.Has(ctrl.AO) {
		switch w.Op() {
		case ctrl.AluSub: // 001: compare, sets L/E/G from P vs S
			m.setFlag(FlagL, m.ALU.P < m.ALU.S)
			m.setFlag(FlagE, m.ALU.P == m.ALU.S)
			m.setFlag(FlagG, m.ALU.P > m.ALU.S)
		case ctrl.AluAdc: // 010: set Z from whatever is currently on the bus
			m.setFlag(FlagZ, m.Bus == 0)
		case ctrl.AluSbb: // 011: load primary
			m.ALU.P = m.Bus
		case ctrl.AluNand: // 100: load secondary
			m.ALU.S = m.Bus
		}
	}

	if w.Has(ctrl.JNZ) {
		if !m.Flag(FlagZ) {
			m.PC = m.HL()
		} else if !w.Has(ctrl.PCI) {
			m.PC++
		}
	}

	if w.Has(ctrl.SH) {
		m.Halted = true
		m.setFlag(FlagH, true)
	}
}

// aluCompute reads the two operand latches and runs the 3-bit op the
// AOL/AOM/AOH lines select, leaving a byte result and setting carry the
// way a wraparound add/subtract would on real hardware: cleared on a
// clean result, set when the operation wrapped.
func (m *Machine) aluCompute(w ctrl.Word) byte {
	p, s := m.ALU.P, m.ALU.S
	carryIn := byte(0)
	if m.Flag(FlagC) {
		carryIn = 1
	}
	switch w.Op() {
	case ctrl.AluAdd:
		sum := uint16(p) + uint16(s)
		m.setFlag(FlagC, sum > 0xFF)
		return byte(sum)
	case ctrl.AluSub:
		diff := int16(p) - int16(s)
		m.setFlag(FlagC, diff < 0)
		return byte(diff)
	case ctrl.AluAdc:
		sum := uint16(p) + uint16(s) + uint16(carryIn)
		m.setFlag(FlagC, sum > 0xFF)
		return byte(sum)
	case ctrl.AluSbb:
		diff := int16(p) - int16(s) - int16(carryIn)
		m.setFlag(FlagC, diff < 0)
		return byte(diff)
	case ctrl.AluNand:
		return ^(p & s)
	case ctrl.AluOr:
		return p | s
	default:
		return 0
	}
}

// fallingEdge ticks every attached peripheral once per microcycle,
// regardless of which control lines fired on the rising edge.
func (m *Machine) fallingEdge() {
	for _, p := range m.ports {
		p.dev.Tick()
	}
}

// housekeeping advances the free-running timer and either resets the
// microcycle counter (CR) or wraps it modulo 8.
func (m *Machine) housekeeping(w ctrl.Word) {
	m.Timer++
	if w.Has(ctrl.CR) {
		m.Microcycle = 0
	} else {
		m.Microcycle = (m.Microcycle + 1) % 8
	}
}
