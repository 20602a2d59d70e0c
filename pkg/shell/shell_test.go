package shell

import (
	"bytes"
	"strings"
	"testing"

	"fateful/internal/coredata"
	"fateful/pkg/emu"
)

func testShell(t *testing.T) (*Shell, *bytes.Buffer) {
	t.Helper()
	rom, err := coredata.DefaultROM()
	if err != nil {
		t.Fatalf("compiling default microcode: %v", err)
	}
	m := emu.New(rom)
	var out bytes.Buffer
	s := New(m, strings.NewReader(""), &out)
	return s, &out
}

func TestParseIntAcceptsEveryPrefix(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"42", 42},
		{"-7", -7},
		{"0x2A", 42},
		{"0X2A", 42},
		{"0o52", 42},
		{"0b101010", 42},
		{"-0x10", -16},
	}
	for _, tc := range tests {
		got, err := parseInt(tc.in)
		if err != nil {
			t.Errorf("parseInt(%q) returned error: %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseInt(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestParseIntRejectsGarbage(t *testing.T) {
	if _, err := parseInt("not-a-number"); err == nil {
		t.Error("expected an error for a non-numeric string")
	}
}

func TestSetThenGetRoundTrips(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("SET A 0x42")
	out.Reset()
	s.dispatch("GET A")
	if got := out.String(); got != "0x42\n" {
		t.Errorf("GET A = %q, want \"0x42\\n\"", got)
	}
}

func TestSetAndGetPC(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("SET PC 0x1234")
	out.Reset()
	s.dispatch("GET PC")
	if got := out.String(); got != "0x1234\n" {
		t.Errorf("GET PC = %q, want \"0x1234\\n\"", got)
	}
}

func TestPokeThenPeekRoundTrips(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("POKE 0x10 0x99")
	out.Reset()
	s.dispatch("PEEK 0x10")
	if got := out.String(); got != "0x99\n" {
		t.Errorf("PEEK 0x10 = %q, want \"0x99\\n\"", got)
	}
}

func TestStepRunsHaltAndKeepsProgramCounter(t *testing.T) {
	s, out := testShell(t)
	// opcode 15 (HALT), reg field 0, imm bit clear: byte 0xF0.
	s.machine.Program[0] = 0xF0
	out.Reset()
	// HALT takes two microcycles: the LI fetch, then SH.
	s.dispatch("STEP 2")
	if !strings.Contains(out.String(), "pc=0x0000") {
		t.Errorf("STEP output = %q, want it to report pc=0x0000 (HALT keeps pc on its own byte)", out.String())
	}
	if !s.machine.Halted {
		t.Error("machine should be halted after stepping a HALT instruction")
	}
}

func TestGetRejectsUnknownRegister(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("GET Q")
	if !strings.Contains(out.String(), "error") {
		t.Errorf("GET Q = %q, want an error message", out.String())
	}
}

func TestLoadRejectsNonPeripheralAddress(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("LOAD /tmp/whatever.so 0x0000")
	if !strings.Contains(out.String(), "error") {
		t.Errorf("LOAD at a RAM address = %q, want an error", out.String())
	}
}

func TestLoadWithNoPortsWarnsAndDoesNothing(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("LOAD /tmp/whatever.so")
	if !strings.Contains(out.String(), "warning") {
		t.Errorf("LOAD with no ports = %q, want a warning", out.String())
	}
}

func TestDropReportsNothingInstalled(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("DROP 0xFFD0")
	if !strings.Contains(out.String(), "error") {
		t.Errorf("DROP on an empty port = %q, want an error", out.String())
	}
}

func TestDumpListsAllRegisters(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("DUMP")
	got := out.String()
	for _, reg := range []string{"A=", "B=", "H=", "L="} {
		if !strings.Contains(got, reg) {
			t.Errorf("DUMP output missing %q: %q", reg, got)
		}
	}
	if !strings.Contains(got, "peripherals: none") {
		t.Errorf("DUMP output = %q, want \"peripherals: none\"", got)
	}
	for _, field := range []string{"bus=", "program_byte=", "alu_p=", "alu_s=", "ctrl=", "head="} {
		if !strings.Contains(got, field) {
			t.Errorf("DUMP output missing %q: %q", field, got)
		}
	}
}

func TestStepRejectedWhileRunning(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("RUN 0")
	out.Reset()
	s.dispatch("STEP")
	if !strings.Contains(out.String(), "error") {
		t.Errorf("STEP while RUN is active = %q, want an error", out.String())
	}
}

func TestStepRejectedWhenHalted(t *testing.T) {
	s, out := testShell(t)
	s.machine.Program[0] = 0xF0 // HALT
	s.dispatch("STEP 2")        // fetch, then SH
	out.Reset()
	s.dispatch("STEP")
	if !strings.Contains(out.String(), "error") {
		t.Errorf("STEP once halted = %q, want an error", out.String())
	}
}

func TestUnknownCommandReportsError(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("FROBNICATE")
	if !strings.Contains(out.String(), "error") {
		t.Errorf("unknown command = %q, want an error", out.String())
	}
}

func TestResetClearsRunningState(t *testing.T) {
	s, out := testShell(t)
	s.dispatch("RUN 0")
	out.Reset()
	s.dispatch("RESET")
	s.mu.RLock()
	running := s.running
	s.mu.RUnlock()
	if running {
		t.Error("RESET should clear running state")
	}
	if !strings.Contains(out.String(), "reset") {
		t.Errorf("RESET output = %q, want it to mention reset", out.String())
	}
}
