// Package shell implements the interactive command loop: a line-based
// protocol (GET/SET/PEEK/POKE/RUN/STOP/STEP/RESET/LOAD/DROP/DUMP/QUIT/
// HELP) layered over a running emu.Machine. Commands arrive from a
// stdin-reading goroutine over a channel; the main loop drains pending
// commands, advances the machine a microcycle when RUN mode is active,
// and yields briefly, so a long-running emulation never starves command
// processing and a flood of commands never starves emulation.
package shell

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"

	"fateful/pkg/emu"
)

// tickInterval is how long the loop sleeps when no command is waiting
// and no microcycle is due.
const tickInterval = 10 * time.Millisecond

// Shell owns a machine and the goroutine reading commands from stdin.
type Shell struct {
	mu      sync.RWMutex
	machine *emu.Machine

	in     io.Reader
	out    io.Writer
	cmds   chan string
	quit   chan struct{}
	isTerm bool

	running  bool
	lastTick time.Time
}

// New wires a shell around machine, reading commands from in and
// writing responses to out.
func New(machine *emu.Machine, in io.Reader, out io.Writer) *Shell {
	s := &Shell{
		machine: machine,
		in:      in,
		out:     out,
		cmds:    make(chan string, 64),
		quit:    make(chan struct{}),
	}
	if f, ok := in.(*os.File); ok {
		s.isTerm = term.IsTerminal(int(f.Fd()))
	}
	return s
}

// Run starts the stdin reader goroutine and blocks in the cooperative
// command/tick loop until QUIT is received or stdin closes.
func (s *Shell) Run() {
	go s.readLoop()

	prompt := func() {
		if s.isTerm {
			fmt.Fprint(s.out, "> ")
		}
	}
	prompt()

	for {
		select {
		case line, ok := <-s.cmds:
			if !ok {
				return
			}
			s.dispatch(line)
			prompt()
		case <-s.quit:
			return
		default:
		}

		s.mu.RLock()
		running := s.running
		s.mu.RUnlock()

		if !running {
			time.Sleep(tickInterval)
			continue
		}

		s.mu.Lock()
		ticked := false
		if s.running {
			speed := s.machine.Speed
			now := time.Now()
			due := speed <= 0 || s.lastTick.IsZero() || now.Sub(s.lastTick) >= time.Second/time.Duration(speed)
			if due {
				s.machine.Step()
				s.lastTick = now
				ticked = true
				if s.machine.Halted {
					s.running = false
					fmt.Fprintln(s.out, "halted")
				}
			}
		}
		s.mu.Unlock()

		if !ticked {
			// Uncapped mode always ticks, so this only sleeps when a
			// speed cap is set and its period hasn't elapsed yet.
			time.Sleep(tickInterval)
		}
	}
}

// readLoop scans lines from stdin and forwards them, closing cmds when
// stdin is exhausted so Run can stop cleanly.
func (s *Shell) readLoop() {
	defer close(s.cmds)
	scanner := bufio.NewScanner(s.in)
	for scanner.Scan() {
		s.cmds <- scanner.Text()
	}
}

func (s *Shell) dispatch(line string) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	cmd := strings.ToUpper(fields[0])
	args := fields[1:]

	switch cmd {
	case "GET":
		s.cmdGet(args)
	case "SET":
		s.cmdSet(args)
	case "PEEK":
		s.cmdPeek(args)
	case "POKE":
		s.cmdPoke(args)
	case "RUN":
		s.cmdRun(args)
	case "STOP":
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		fmt.Fprintln(s.out, "stopped")
	case "STEP":
		s.cmdStep(args)
	case "RESET":
		s.mu.Lock()
		s.running = false
		s.machine.Reset()
		s.mu.Unlock()
		fmt.Fprintln(s.out, "reset")
	case "LOAD":
		s.cmdLoad(args)
	case "DROP":
		s.cmdDrop(args)
	case "DUMP":
		s.cmdDump(args)
	case "QUIT":
		s.mu.Lock()
		s.machine.Quit = true
		s.mu.Unlock()
		close(s.quit)
	case "HELP":
		fmt.Fprintln(s.out, helpText)
	default:
		fmt.Fprintf(s.out, "error: unknown command %q\n", fields[0])
	}
}

const helpText = `commands:
  GET <reg>              print a register or pc/sp/status
  SET <reg> <value>      write a register or pc/sp/status
  PEEK <addr>            read a byte from the address space
  POKE <addr> <value>    write a byte to the address space
  RUN <speed>            free-run at speed Hz (0 = uncapped)
  STOP                   stop free-running execution
  STEP [n]               execute n microcycles (default 1)
  RESET                  reset the machine
  LOAD <path> <port...>  attach a peripheral across one or more ports
  DROP [addr]            detach a peripheral (all, if no address given)
  DUMP                   print machine state
  QUIT                   exit the shell
  HELP                   show this text`

// parseInt accepts decimal and 0b/0o/0x-prefixed integers, the integer
// syntax every numeric command argument shares.
func parseInt(s string) (int64, error) {
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	base := 10
	switch {
	case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
		base = 16
		s = s[2:]
	case strings.HasPrefix(s, "0o") || strings.HasPrefix(s, "0O"):
		base = 8
		s = s[2:]
	case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
		base = 2
		s = s[2:]
	}
	v, err := strconv.ParseInt(s, base, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid integer %q", s)
	}
	if neg {
		v = -v
	}
	return v, nil
}
