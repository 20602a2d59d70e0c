// Package span tracks source locations through lexing, preprocessing,
// macro expansion and code generation so that late-phase diagnostics can
// still cite the original source text.
package span

import "sync"

// Source identifies one lexed source buffer (a file, an include, or a
// macro-expansion site). Sources are registered once and referenced by
// identity afterwards — spans never embed the buffer contents themselves.
type Source struct {
	ID   int
	Name string // display name: file path or "<include ...>"
	Text string
}

// Registry owns the set of sources referenced by spans in one assembly.
// Safe for concurrent use: the preprocessor may register included files
// from multiple goroutines fetching library sources.
type Registry struct {
	mu      sync.Mutex
	sources []*Source
}

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{}
}

// Add registers a new source and returns it. The returned pointer is
// stable for the registry's lifetime.
func (r *Registry) Add(name, text string) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &Source{ID: len(r.sources), Name: name, Text: text}
	r.sources = append(r.sources, s)
	return s
}

// Get returns the source registered under id.
func (r *Registry) Get(id int) *Source {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sources[id]
}

// ByteRange is a half-open byte offset range [Start, End) into a Source's
// text.
type ByteRange struct {
	Start, End int
}

// Span is a source-location record carried by every token and parse item.
// Spans are referenced, never mutated: cloning a Span clones the value,
// not the underlying source.
type Span struct {
	Source *Source
	Line   int // 1-based physical line at Start
	Range  ByteRange
}

// Text returns the source slice the span covers. Panics if the range is
// no longer valid for the referenced source — callers that render
// diagnostics well after parsing should treat that as a programming error,
// not a recoverable condition, since live sources never shrink.
func (s Span) Text() string {
	return s.Source.Text[s.Range.Start:s.Range.End]
}

// Join returns the smallest span covering both a and b. Both must
// reference the same Source.
func Join(a, b Span) Span {
	r := ByteRange{Start: a.Range.Start, End: b.Range.End}
	if b.Range.Start < a.Range.Start {
		r.Start = b.Range.Start
	}
	if a.Range.End > b.Range.End {
		r.End = a.Range.End
	}
	line := a.Line
	if b.Line < line {
		line = b.Line
	}
	return Span{Source: a.Source, Line: line, Range: r}
}
