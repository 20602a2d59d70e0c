// Package testrun implements the test subcommand: assemble every
// source file a glob selects, run each to completion (or timeout)
// against a fresh machine, and check the register/status expectations
// its doc comments declare. Files run in parallel across a fixed
// worker pool, the way the rest of the toolchain's batch tooling
// fans out independent units of work.
package testrun

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"os"

	"fateful/internal/coredata"
	"fateful/pkg/asm"
	"fateful/pkg/diag"
	"fateful/pkg/emu"
	"fateful/pkg/lex"
	"fateful/pkg/span"
	"fateful/pkg/token"
)

// DefaultTimeout bounds how long a single test program may run before
// it's declared hung.
const DefaultTimeout = 2 * time.Second

// DefaultMaxCycles caps microcycles as a second line of defense beside
// the wall-clock timeout, so a tight host machine doesn't let a hung
// program straggle past its deadline between timeout checks.
const DefaultMaxCycles = 1_000_000

// Expectation is one `/// reg: value` assertion parsed from a test
// file's doc comments, checked against machine state after it halts.
type Expectation struct {
	Name  string // register name, "pc", "sp", or "status"
	Value int64
}

// Result is one file's outcome.
type Result struct {
	Path     string
	Passed   bool
	Failures []string // human-readable mismatches; empty when Passed
	Err      error     // assembly or execution failure, distinct from a failed expectation
	Duration time.Duration
}

// Config controls the run.
type Config struct {
	NumWorkers int
	Timeout    time.Duration
	MaxCycles  int64
}

// Stats reports aggregate counters as tests complete, for a progress
// reporter to poll.
type Stats struct {
	total     int64
	completed atomic.Int64
	passed    atomic.Int64
}

func (s *Stats) Progress() (completed, passed, total int64) {
	return s.completed.Load(), s.passed.Load(), s.total
}

// Run assembles and executes every path in paths, using cfg's
// parallelism and timeout (falling back to sane defaults for zero
// values), and returns one Result per path in input order.
func Run(paths []string, cfg Config) ([]Result, *Stats) {
	if cfg.NumWorkers <= 0 {
		cfg.NumWorkers = runtime.NumCPU()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.MaxCycles <= 0 {
		cfg.MaxCycles = DefaultMaxCycles
	}

	stats := &Stats{total: int64(len(paths))}
	results := make([]Result, len(paths))

	type task struct {
		idx  int
		path string
	}
	ch := make(chan task, len(paths))
	for i, p := range paths {
		ch <- task{i, p}
	}
	close(ch)

	var wg sync.WaitGroup
	for w := 0; w < cfg.NumWorkers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for t := range ch {
				r := runOne(t.path, cfg)
				results[t.idx] = r
				stats.completed.Add(1)
				if r.Passed {
					stats.passed.Add(1)
				}
			}
		}()
	}
	wg.Wait()

	return results, stats
}

func runOne(path string, cfg Config) Result {
	start := time.Now()
	out, bag := asm.Assemble(path, diag.Quiet)
	if bag.HasErrors() {
		var msgs []string
		for _, d := range bag.Items() {
			if d.Level == diag.Error {
				msgs = append(msgs, d.Message)
			}
		}
		return Result{Path: path, Err: fmt.Errorf("assembly failed: %s", strings.Join(msgs, "; ")), Duration: time.Since(start)}
	}

	expectations, err := parseExpectations(path)
	if err != nil {
		return Result{Path: path, Err: err, Duration: time.Since(start)}
	}

	rom, err := coredata.DefaultROM()
	if err != nil {
		return Result{Path: path, Err: err, Duration: time.Since(start)}
	}
	m := emu.New(rom)
	m.LoadProgram(out.Result.Image)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := int64(0); i < cfg.MaxCycles && !m.Halted; i++ {
			m.Step()
		}
	}()

	select {
	case <-done:
	case <-time.After(cfg.Timeout):
		return Result{Path: path, Err: fmt.Errorf("timed out after %s", cfg.Timeout), Duration: time.Since(start)}
	}

	if !m.Halted {
		return Result{Path: path, Err: fmt.Errorf("did not halt within %d microcycles", cfg.MaxCycles), Duration: time.Since(start)}
	}

	var failures []string
	for _, e := range expectations {
		got, ok := readExpected(m, e.Name)
		if !ok {
			failures = append(failures, fmt.Sprintf("%s: unknown register", e.Name))
			continue
		}
		if got != e.Value {
			failures = append(failures, fmt.Sprintf("%s: want %d, got %d", e.Name, e.Value, got))
		}
	}

	return Result{Path: path, Passed: len(failures) == 0, Failures: failures, Duration: time.Since(start)}
}

func readExpected(m *emu.Machine, name string) (int64, bool) {
	switch strings.ToUpper(name) {
	case "PC":
		return int64(m.PC), true
	case "SP":
		return int64(m.SP), true
	case "STATUS":
		return int64(m.PeekStatus()), true
	default:
		idx := token.RegisterIndex(strings.ToUpper(name))
		if idx < 0 {
			return 0, false
		}
		return int64(m.Bank[idx]), true
	}
}

// parseExpectations lexes path and collects every `/// reg: value`
// doc-comment line into an Expectation, in source order.
func parseExpectations(path string) ([]Expectation, error) {
	text, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	reg := span.NewRegistry()
	src := reg.Add(path, string(text))
	toks, errs := lex.New(src).Lex()
	if len(errs) > 0 {
		return nil, fmt.Errorf("lexing %s: %s", path, errs[0].Error())
	}

	var out []Expectation
	for _, t := range toks {
		if t.Kind != token.DocComment {
			continue
		}
		e, ok := parseExpectationLine(t.Text)
		if ok {
			out = append(out, e)
		}
	}
	return out, nil
}

func parseExpectationLine(line string) (Expectation, bool) {
	colon := strings.IndexByte(line, ':')
	if colon < 0 {
		return Expectation{}, false
	}
	name := strings.TrimSpace(line[:colon])
	valueText := strings.TrimSpace(line[colon+1:])
	if name == "" || valueText == "" {
		return Expectation{}, false
	}
	v, err := strconv.ParseInt(valueText, 0, 64)
	if err != nil {
		return Expectation{}, false
	}
	return Expectation{Name: name, Value: v}, true
}
