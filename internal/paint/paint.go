// Package paint implements C5: greedy bitmap-based colouring of method
// names to vtable slots, so that two types exposing the same method name
// always dispatch through the same slot while unrelated names may share a
// slot.
//
// Grounded line-for-line on
// _examples/original_source/src/libponyc/reach/paint.c, read in full: the
// per-name type-usage bitmap (step 2, find_names_types_use), the
// greedy first-fit colour assignment (step 4, assign_colours_to_names /
// is_name_compatible / assign_name_to_colour), the per-type vtable size
// derived from the highest colour in use (step 6, find_vtable_sizes), and
// the final colour-to-vtable-index distribution (distribute_colours).
package paint

import (
	"github.com/velalang/velac/internal/reach"
	"github.com/velalang/velac/internal/xdebug"
)

type bitmap []uint64

func newBitmap(words int) bitmap { return make(bitmap, words) }

func (b bitmap) set(i int) { b[i/64] |= uint64(1) << uint(i%64) }

func (a bitmap) disjoint(b bitmap) bool {
	for i := range a {
		if a[i]&b[i] != 0 {
			return false
		}
	}
	return true
}

func (a bitmap) unionInto(b bitmap) {
	for i := range a {
		a[i] |= b[i]
	}
}

func (a bitmap) isSet(i int) bool {
	return a[i/64]&(uint64(1)<<uint(i%64)) != 0
}

type nameRecord struct {
	name     string
	colour   int
	typeMap  bitmap
}

type colourRecord struct {
	colour  int
	typeMap bitmap
}

// Paint colours every method name reachable in g and records, on each
// Type, its resulting VtableSize, and on each Method, its VtableIndex. It
// is idempotent and safe to call again after the graph grows (a full
// repaint, exactly like the original: painting is whole-program, not
// incremental).
func Paint(g *reach.Graph) {
	types := g.Types()
	typeCount := len(types)
	if typeCount == 0 {
		return
	}

	words := ((typeCount - 1) / 64) + 1

	typeIndex := make(map[string]int, typeCount)
	for i, t := range types {
		typeIndex[t.ID] = i
	}

	// Step 2: for every method name in use anywhere, build the bitmap of
	// types that use it, in first-use order (mirrors the original's
	// name_next linked-list append order, which is itself type-iteration
	// order then name-iteration order within each type).
	var names []*nameRecord
	byName := make(map[string]*nameRecord)

	for _, t := range types {
		idx := typeIndex[t.ID]
		for _, shortName := range t.MethodNames() {
			rec, ok := byName[shortName]
			if !ok {
				rec = &nameRecord{name: shortName, colour: -1, typeMap: newBitmap(words)}
				byName[shortName] = rec
				names = append(names, rec)
			}
			rec.typeMap.set(idx)
		}
	}

	// Step 4: greedy first-fit colour assignment.
	var colours []*colourRecord
	for _, rec := range names {
		var assigned *colourRecord
		for _, c := range colours {
			if c.typeMap.disjoint(rec.typeMap) {
				assigned = c
				break
			}
		}
		if assigned == nil {
			assigned = &colourRecord{colour: len(colours), typeMap: newBitmap(words)}
			colours = append(colours, assigned)
		}
		rec.typeMap.unionInto(assigned.typeMap)
		rec.colour = assigned.colour
		xdebug.Assertf(rec.colour >= 0, "paint: name %q left uncoloured", rec.name)
	}

	// Step 6: each type's vtable size is one more than the highest colour
	// any of its method names was assigned.
	for _, t := range types {
		idx := typeIndex[t.ID]
		size := 0
		for i := len(colours) - 1; i >= 0; i-- {
			if colours[i].typeMap.isSet(idx) {
				size = colours[i].colour + 1
				break
			}
		}
		t.VtableSize = size
	}

	// Distribute colours to every reified method under each name.
	for _, t := range types {
		for _, shortName := range t.MethodNames() {
			rec := byName[shortName]
			group := t.Methods[shortName]
			for _, m := range group.Methods {
				m.VtableIndex = rec.colour
			}
		}
	}
}
