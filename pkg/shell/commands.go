package shell

import (
	"fmt"
	"strings"
	"time"

	"fateful/pkg/emu"
	"fateful/pkg/peripheral"
	"fateful/pkg/token"
)

// cmdGet prints the value of a register or one of pc/sp/status.
func (s *Shell) cmdGet(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "error: GET takes one argument")
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	name := strings.ToUpper(args[0])
	switch name {
	case "PC":
		fmt.Fprintf(s.out, "0x%04X\n", s.machine.PC)
	case "SP":
		fmt.Fprintf(s.out, "0x%04X\n", s.machine.SP)
	case "STATUS":
		fmt.Fprintf(s.out, "0x%02X\n", s.machine.PeekStatus())
	default:
		idx := token.RegisterIndex(name)
		if idx < 0 {
			fmt.Fprintf(s.out, "error: unknown register %q\n", args[0])
			return
		}
		fmt.Fprintf(s.out, "0x%02X\n", s.machine.Bank[idx])
	}
}

// cmdSet writes a register or pc/sp/status.
func (s *Shell) cmdSet(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "error: SET takes two arguments")
		return
	}
	v, err := parseInt(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	name := strings.ToUpper(args[0])
	switch name {
	case "PC":
		s.machine.PC = uint16(v)
	case "SP":
		s.machine.SP = uint16(v)
	case "STATUS":
		s.machine.PokeStatus(byte(v))
	default:
		idx := token.RegisterIndex(name)
		if idx < 0 {
			fmt.Fprintf(s.out, "error: unknown register %q\n", args[0])
			return
		}
		s.machine.Bank[idx] = byte(v)
	}
}

// cmdPeek reads one byte from the full address space via the decoder.
func (s *Shell) cmdPeek(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "error: PEEK takes one argument")
		return
	}
	addr, err := parseInt(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	fmt.Fprintf(s.out, "0x%02X\n", s.machine.Read(uint16(addr)))
}

// cmdPoke writes one byte through the decoder.
func (s *Shell) cmdPoke(args []string) {
	if len(args) != 2 {
		fmt.Fprintln(s.out, "error: POKE takes two arguments")
		return
	}
	addr, err := parseInt(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	v, err := parseInt(args[1])
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.machine.Write(uint16(addr), byte(v))
}

// cmdStep executes n microcycles (default 1). Rejected while RUN is
// active or once the machine has halted, per spec §4.K.
func (s *Shell) cmdStep(args []string) {
	n := int64(1)
	if len(args) == 1 {
		var err error
		n, err = parseInt(args[0])
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		fmt.Fprintln(s.out, "error: STEP is rejected while RUN is active")
		return
	}
	if s.machine.Halted {
		fmt.Fprintln(s.out, "error: STEP is rejected once the machine has halted")
		return
	}
	for i := int64(0); i < n && !s.machine.Halted; i++ {
		s.machine.Step()
	}
	fmt.Fprintf(s.out, "pc=0x%04X\n", s.machine.PC)
}

// cmdRun starts free-running execution at the given speed in Hz, 0
// meaning uncapped, per spec §4.K.
func (s *Shell) cmdRun(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(s.out, "error: RUN takes a speed in Hz (0 = uncapped)")
		return
	}
	speed, err := parseInt(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if speed < 0 {
		fmt.Fprintln(s.out, "error: speed must not be negative")
		return
	}
	s.mu.Lock()
	s.machine.Speed = int(speed)
	s.running = true
	s.lastTick = time.Time{}
	s.mu.Unlock()
	fmt.Fprintln(s.out, "running")
}

// cmdLoad attaches a peripheral shared library across one or more
// memory-mapped ports. Usage: LOAD <path> <port…>; the ports are seen
// by the device itself as local index 0..n-1 in the order listed here,
// and Init is called once with the total port count. An empty port
// list warns and does nothing rather than loading an unreachable
// device.
func (s *Shell) cmdLoad(args []string) {
	if len(args) < 1 {
		fmt.Fprintln(s.out, "error: LOAD takes a library path and one or more ports")
		return
	}
	path := args[0]
	if len(args) == 1 {
		fmt.Fprintln(s.out, "warning: LOAD with no ports does nothing")
		return
	}
	addrs := make([]int, 0, len(args)-1)
	for _, arg := range args[1:] {
		addr, err := parseInt(arg)
		if err != nil {
			fmt.Fprintf(s.out, "error: %v\n", err)
			return
		}
		if _, ok := emu.PortForAddr(int(addr)); !ok {
			fmt.Fprintf(s.out, "error: 0x%04X is not a peripheral address\n", addr)
			return
		}
		addrs = append(addrs, int(addr))
	}

	dev, err := peripheral.Load(path, len(addrs))
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	s.mu.Lock()
	s.machine.AttachPeripheralPorts(dev, addrs)
	s.mu.Unlock()
	fmt.Fprintf(s.out, "loaded %s at %d port(s)\n", path, len(addrs))
}

// cmdDrop detaches the peripheral at addr, or every peripheral if no
// address is given.
func (s *Shell) cmdDrop(args []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(args) == 0 {
		for _, a := range s.machine.PeripheralAddrs() {
			s.machine.DetachPeripheral(a)
		}
		fmt.Fprintln(s.out, "dropped all")
		return
	}
	addr, err := parseInt(args[0])
	if err != nil {
		fmt.Fprintf(s.out, "error: %v\n", err)
		return
	}
	if s.machine.DetachPeripheral(int(addr)) {
		fmt.Fprintf(s.out, "dropped 0x%04X\n", addr)
	} else {
		fmt.Fprintf(s.out, "error: nothing installed at 0x%04X\n", addr)
	}
}

// cmdDump prints the full visible machine state: registers, pc/sp,
// bus, status flags, the current program byte, the ALU's primary and
// secondary latches, the pending control word, the instruction
// register and installed peripherals.
func (s *Shell) cmdDump(args []string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m := s.machine
	for i, name := range token.Registers {
		fmt.Fprintf(s.out, "%s=0x%02X ", name, m.Bank[i])
	}
	fmt.Fprintln(s.out)
	fmt.Fprintf(s.out, "pc=0x%04X sp=0x%04X bus=0x%02X status=0x%02X halted=%v\n",
		m.PC, m.SP, m.Bus, m.PeekStatus(), m.Halted)
	fmt.Fprintf(s.out, "program_byte=0x%02X alu_p=0x%02X alu_s=0x%02X\n",
		m.ProgramByte(), m.ALU.P, m.ALU.S)
	fmt.Fprintf(s.out, "ctrl=0x%06X head={opcode=0x%X imm=%v reg=%d}\n",
		uint32(m.ControlWord()), m.Head.Opcode, m.Head.Imm, m.Head.Reg)
	addrs := m.PeripheralAddrs()
	if len(addrs) == 0 {
		fmt.Fprintln(s.out, "peripherals: none")
		return
	}
	fmt.Fprint(s.out, "peripherals:")
	for _, a := range addrs {
		fmt.Fprintf(s.out, " 0x%04X", a)
	}
	fmt.Fprintln(s.out)
}
