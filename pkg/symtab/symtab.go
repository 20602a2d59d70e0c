// Package symtab implements the symbol table shape shared by the
// assembler's label and variable tables: an address, the span of the
// defining occurrence, and a use-count incremented on every resolution.
package symtab

import "fateful/pkg/span"

// Symbol is one entry: a label or a data-segment variable.
type Symbol struct {
	Name     string
	Address  uint32
	Defined  span.Span
	UseCount int
}

// Table is a name-indexed symbol table. Not safe for concurrent use — each
// assembly owns exactly one label table and one variable table, mutated
// only by the single generator goroutine.
type Table struct {
	entries map[string]*Symbol
	order   []string
}

// New creates an empty table.
func New() *Table {
	return &Table{entries: make(map[string]*Symbol)}
}

// Define records a new symbol. Returns false if name is already defined
// (callers report a duplicate-definition diagnostic in that case).
func (t *Table) Define(name string, address uint32, at span.Span) bool {
	if _, exists := t.entries[name]; exists {
		return false
	}
	t.entries[name] = &Symbol{Name: name, Address: address, Defined: at}
	t.order = append(t.order, name)
	return true
}

// Resolve looks up name, incrementing its use-count on success.
func (t *Table) Resolve(name string) (uint32, bool) {
	s, ok := t.entries[name]
	if !ok {
		return 0, false
	}
	s.UseCount++
	return s.Address, true
}

// Has reports whether name is defined, without affecting use-count.
func (t *Table) Has(name string) bool {
	_, ok := t.entries[name]
	return ok
}

// Unused returns every symbol with a zero use-count, in definition order —
// the set that triggers the end-of-generation unused-symbol warnings.
func (t *Table) Unused() []*Symbol {
	var out []*Symbol
	for _, name := range t.order {
		if s := t.entries[name]; s.UseCount == 0 {
			out = append(out, s)
		}
	}
	return out
}

// All returns every symbol in definition order.
func (t *Table) All() []*Symbol {
	out := make([]*Symbol, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.entries[name])
	}
	return out
}
