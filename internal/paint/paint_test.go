package paint

import (
	"testing"

	"github.com/velalang/velac/internal/reach"
)

func method(short, full string) *reach.Method {
	return &reach.Method{ShortName: short, FullName: full, VtableIndex: -1}
}

func TestSharedNameGetsSharedSlot(t *testing.T) {
	g := reach.New()
	a := g.AddType("pkg_A", false)
	b := g.AddType("pkg_B", false)

	g.EnqueueMethod(a, method("ref_create", "pkg_A_ref_create"))
	g.EnqueueMethod(b, method("ref_create", "pkg_B_ref_create"))

	Paint(g)

	ma := a.Methods["ref_create"].Methods[0]
	mb := b.Methods["ref_create"].Methods[0]
	if ma.VtableIndex != mb.VtableIndex {
		t.Fatalf("both types' ref_create should share a slot: got %d, %d", ma.VtableIndex, mb.VtableIndex)
	}
}

func TestDisjointNamesMayShareSlot(t *testing.T) {
	g := reach.New()
	a := g.AddType("pkg_A", false)
	b := g.AddType("pkg_B", false)

	g.EnqueueMethod(a, method("ref_foo", "pkg_A_ref_foo"))
	g.EnqueueMethod(b, method("ref_bar", "pkg_B_ref_bar"))

	Paint(g)

	// Two names used by entirely disjoint type sets are always
	// compatible, so the greedy algorithm must put them in the very
	// first colour together.
	ma := a.Methods["ref_foo"].Methods[0]
	mb := b.Methods["ref_bar"].Methods[0]
	if ma.VtableIndex != 0 || mb.VtableIndex != 0 {
		t.Fatalf("disjoint names should both land in colour 0, got %d, %d", ma.VtableIndex, mb.VtableIndex)
	}
}

func TestSameTypeDistinctNamesGetDistinctSlots(t *testing.T) {
	g := reach.New()
	a := g.AddType("pkg_A", false)

	g.EnqueueMethod(a, method("ref_foo", "pkg_A_ref_foo"))
	g.EnqueueMethod(a, method("ref_bar", "pkg_A_ref_bar"))

	Paint(g)

	mfoo := a.Methods["ref_foo"].Methods[0]
	mbar := a.Methods["ref_bar"].Methods[0]
	if mfoo.VtableIndex == mbar.VtableIndex {
		t.Fatalf("two names on the same type can never share a slot, both got %d", mfoo.VtableIndex)
	}
}

func TestVtableSizeIsOneMoreThanHighestColour(t *testing.T) {
	g := reach.New()
	a := g.AddType("pkg_A", false)
	g.EnqueueMethod(a, method("ref_foo", "pkg_A_ref_foo"))
	g.EnqueueMethod(a, method("ref_bar", "pkg_A_ref_bar"))

	Paint(g)

	foo := a.Methods["ref_foo"].Methods[0]
	bar := a.Methods["ref_bar"].Methods[0]
	maxIdx := foo.VtableIndex
	if bar.VtableIndex > maxIdx {
		maxIdx = bar.VtableIndex
	}
	if a.VtableSize != maxIdx+1 {
		t.Fatalf("VtableSize = %d, want %d", a.VtableSize, maxIdx+1)
	}
}

func TestManyTypesExerciseMultiWordBitmaps(t *testing.T) {
	g := reach.New()
	var types []*reach.Type
	for i := 0; i < 130; i++ {
		id := "pkg_T" + string(rune('A'+i%26)) + string(rune('0'+i/26))
		tp := g.AddType(id, false)
		types = append(types, tp)
		g.EnqueueMethod(tp, method("ref_create", id+"_ref_create"))
	}

	Paint(g)

	want := types[0].Methods["ref_create"].Methods[0].VtableIndex
	for _, tp := range types {
		got := tp.Methods["ref_create"].Methods[0].VtableIndex
		if got != want {
			t.Fatalf("ref_create should share one slot across 130+ types (exercising a multi-word bitmap), got %d vs %d", got, want)
		}
	}
}

func TestEmptyGraphIsNoop(t *testing.T) {
	g := reach.New()
	Paint(g) // must not panic on a graph with zero types
}
