package emu

// Address-space boundaries from the 16-bit address map.
const (
	ramEnd      = 0xEFFF
	textBufEnd  = 0xFFCF
	portBase    = 0xFFD0
	portEnd     = 0xFFFC
	pcHighAddr  = 0xFFFD
	pcLowAddr   = 0xFFFE
	statusAddr  = 0xFFFF
	portAddrOff = 0xFFC0 // port = addr - portAddrOff, ports start at 0x10
)

// Read routes a 16-bit address through the decoder and returns the
// byte there. A port address with nothing installed reads as zero.
func (m *Machine) Read(addr uint16) byte {
	switch {
	case addr <= ramEnd:
		return m.Mem[addr]
	case addr <= textBufEnd:
		return m.TextBuf.Read(addr)
	case addr >= portBase && addr <= portEnd:
		p, ok := m.ports[int(addr)]
		if !ok {
			return 0
		}
		return p.dev.Read(p.local)
	case addr == pcHighAddr:
		return byte(m.PC >> 8)
	case addr == pcLowAddr:
		return byte(m.PC)
	case addr == statusAddr:
		return m.PeekStatus()
	default:
		return 0
	}
}

// Write routes a write through the decoder. Writes to the PC ports
// update pc directly (used by jumps written through memory); writes
// to the status register mask to the valid flag bits; a port write
// with nothing installed is silently dropped.
func (m *Machine) Write(addr uint16, v byte) {
	switch {
	case addr <= ramEnd:
		m.Mem[addr] = v
	case addr <= textBufEnd:
		m.TextBuf.Write(addr, v)
	case addr >= portBase && addr <= portEnd:
		p, ok := m.ports[int(addr)]
		if ok {
			p.dev.Write(p.local, v)
		}
	case addr == pcHighAddr:
		m.PC = uint16(v)<<8 | (m.PC & 0x00FF)
	case addr == pcLowAddr:
		m.PC = (m.PC & 0xFF00) | uint16(v)
	case addr == statusAddr:
		m.PokeStatus(v)
	}
}

// PortForAddr reports the port number an address maps to (addr minus
// portAddrOff), rejecting anything outside the peripheral range — the LOAD command's
// guard against wiring a peripheral onto RAM, the text buffer, or the
// PC/status addresses.
func PortForAddr(addr int) (int, bool) {
	if addr < portBase || addr > portEnd {
		return 0, false
	}
	return addr - portAddrOff, true
}
