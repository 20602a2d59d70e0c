// Package layout implements the two-pass data/code layout the assembler
// runs after parsing: the data-segment planner assigns variable
// addresses, and the code generator assigns label addresses and emits
// the final program image.
package layout

import (
	"sort"

	"fateful/pkg/diag"
	"fateful/pkg/parse"
	"fateful/pkg/span"
	"fateful/pkg/symtab"
)

// byteRange is a half-open address range used for overlap checks.
type byteRange struct {
	start, end uint32
	span       span.Span
}

func overlaps(a, b byteRange) bool {
	lo := a.start
	if b.start > lo {
		lo = b.start
	}
	hi := a.end
	if b.end < hi {
		hi = b.end
	}
	return lo < hi
}

// PlanData assigns addresses to every variable across prog.Data, in the
// order segments must be laid out: explicitly-origined segments first
// (sorted by origin), then implicit ones in source order, each
// continuing from the current flow pointer. It reports an overlap error
// referencing both segments' origin tokens when two data segments'
// address ranges intersect.
func PlanData(segs []parse.DSeg, bag *diag.Bag) *symtab.Table {
	vars := symtab.New()
	order := sortSegments(len(segs), func(i int) *uint32 { return segs[i].Origin })

	var ranges []byteRange
	flow := uint32(0)
	for _, idx := range order {
		seg := segs[idx]
		pc := flow
		if seg.Origin != nil {
			pc = *seg.Origin
		}
		start := pc
		for _, name := range seg.Names {
			v := seg.Vars[name]
			if !vars.Define(name, pc, v.Span) {
				bag.Add(diag.New(diag.Error, "duplicate variable %q", name).At(v.Span))
			}
			pc += uint32(v.Size)
		}
		r := byteRange{start: start, end: pc, span: seg.OriginSpan}
		for _, prev := range ranges {
			if overlaps(r, prev) {
				bag.Add(diag.New(diag.Error, "data segment [0x%04X, 0x%04X) overlaps a previous segment", r.start, r.end).
					At(r.span).Referencing(prev.span, "previous segment here"))
			}
		}
		ranges = append(ranges, r)
		flow = pc
	}
	return vars
}

// sortSegments returns the indices 0..n-1 ordered by (origin.IsSome(),
// origin), explicit origins sorted ascending, implicit ones stable in
// their original relative order — the ordering planner and generator
// both apply to segments before layout.
func sortSegments(n int, origin func(i int) *uint32) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool {
		oa, ob := origin(idx[a]), origin(idx[b])
		ea, eb := oa == nil, ob == nil
		if ea != eb {
			return !ea // explicit (non-nil) sorts first
		}
		if ea {
			return false // both implicit: stable order preserved
		}
		return *oa < *ob
	})
	return idx
}
