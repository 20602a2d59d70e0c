// Package diag implements the four-level diagnostic engine shared by every
// assembler phase: lexer, preprocessor, macro engine, parser, planner and
// generator all report through the same Bag so that errors accumulate and
// render in emission order.
package diag

import (
	"fmt"
	"os"
	"strings"

	"fateful/pkg/span"
)

// Level is the diagnostic severity.
type Level int

const (
	Error Level = iota
	Warning
	Help
	Note
)

func (l Level) String() string {
	switch l {
	case Error:
		return "error"
	case Warning:
		return "warning"
	case Help:
		return "help"
	default:
		return "note"
	}
}

// Reference is a secondary span with its own explanatory note, used to
// point at e.g. the other side of a segment overlap or a prior
// definition.
type Reference struct {
	Span span.Span
	Note string
}

// Diagnostic is a leveled message with at most one primary span and at
// most one referencing span, plus child help/note lines.
type Diagnostic struct {
	Level     Level
	Message   string
	Primary   *span.Span
	Reference *Reference
	Children  []string // additional help/note lines, rendered in order
}

// New creates a bare diagnostic with no spans.
func New(level Level, format string, args ...any) Diagnostic {
	return Diagnostic{Level: level, Message: fmt.Sprintf(format, args...)}
}

// At attaches a primary span.
func (d Diagnostic) At(s span.Span) Diagnostic {
	d.Primary = &s
	return d
}

// Referencing attaches a secondary span with its own note.
func (d Diagnostic) Referencing(s span.Span, note string) Diagnostic {
	d.Reference = &Reference{Span: s, Note: note}
	return d
}

// WithChild appends a help/note line.
func (d Diagnostic) WithChild(line string) Diagnostic {
	d.Children = append(d.Children, line)
	return d
}

// Verbosity is the process-wide setting controlling whether Note/Help
// diagnostics render. It is initialized once at process start-up
// (cmd/fateful) and read thereafter — never mutated mid-pipeline.
type Verbosity int

const (
	Quiet   Verbosity = iota // errors and warnings only
	Normal                   // + help
	Verbose                  // + note
)

// Bag accumulates diagnostics across a batch phase. A phase aborts further
// phases when the bag HasErrors; warnings never block subsequent phases.
type Bag struct {
	V     Verbosity
	items []Diagnostic
}

// NewBag creates an empty diagnostic bag at the given verbosity.
func NewBag(v Verbosity) *Bag {
	return &Bag{V: v}
}

// Add appends a diagnostic.
func (b *Bag) Add(d Diagnostic) {
	b.items = append(b.items, d)
}

// Errorf is a convenience for Add(New(Error, ...)).
func (b *Bag) Errorf(format string, args ...any) {
	b.Add(New(Error, format, args...))
}

// HasErrors reports whether any accumulated diagnostic is Level Error.
func (b *Bag) HasErrors() bool {
	for _, d := range b.items {
		if d.Level == Error {
			return true
		}
	}
	return false
}

// Items returns the accumulated diagnostics in emission order.
func (b *Bag) Items() []Diagnostic {
	return b.items
}

// Render writes every diagnostic in emission order to w, honoring the
// bag's verbosity (Help/Note are suppressed below Normal/Verbose).
// Warnings always render.
func (b *Bag) Render(w *os.File) {
	for _, d := range b.items {
		if d.Level == Help && b.V < Normal {
			continue
		}
		if d.Level == Note && b.V < Verbose {
			continue
		}
		renderOne(w, d)
	}
}

func renderOne(w *os.File, d Diagnostic) {
	fmt.Fprintf(w, "%s: %s\n", d.Level, d.Message)
	if d.Primary != nil {
		renderCaret(w, *d.Primary, d.Reference)
	}
	if d.Reference != nil {
		fmt.Fprintf(w, "  %s: %s\n", d.Reference.Note, locationOf(d.Reference.Span))
		if d.Primary == nil || d.Primary.Source != d.Reference.Span.Source {
			renderCaret(w, d.Reference.Span, nil)
		}
	}
	for _, c := range d.Children {
		fmt.Fprintf(w, "  = %s\n", c)
	}
}

func locationOf(s span.Span) string {
	return fmt.Sprintf("%s:%d", s.Source.Name, s.Line)
}

// renderCaret prints one combined caret view for a span, and — when ref
// shares the same source — a second caret beneath it on the same
// rendering pass (the "combined caret view").
func renderCaret(w *os.File, s span.Span, ref *Reference) {
	fmt.Fprintf(w, "  --> %s\n", locationOf(s))
	line := sourceLine(s)
	fmt.Fprintf(w, "  | %s\n", line)
	fmt.Fprintf(w, "  | %s\n", strings.Repeat("^", max(1, s.Range.End-s.Range.Start)))
	if ref != nil && ref.Span.Source == s.Source {
		fmt.Fprintf(w, "  | %s\n", strings.Repeat("-", max(1, ref.Span.Range.End-ref.Span.Range.Start)))
	}
}

func sourceLine(s span.Span) string {
	text := s.Source.Text
	start := strings.LastIndexByte(text[:s.Range.Start], '\n') + 1
	end := strings.IndexByte(text[s.Range.Start:], '\n')
	if end < 0 {
		return text[start:]
	}
	return text[start : s.Range.Start+end]
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
