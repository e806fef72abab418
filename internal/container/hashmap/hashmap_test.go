package hashmap

import (
	"strconv"
	"testing"
)

func strHash(s string) uint64 {
	var h uint64 = 14695981039346656037
	for i := 0; i < len(s); i++ {
		h ^= uint64(s[i])
		h *= 1099511628211
	}
	return h
}

func strEq(a, b string) bool { return a == b }

func newStrMap() *Map[string, int] {
	return New[string, int](0, strHash, strEq)
}

func TestPutGet(t *testing.T) {
	m := newStrMap()
	m.Put("a", 1)
	m.Put("b", 2)

	if v, ok := m.Get("a"); !ok || v != 1 {
		t.Fatalf("Get(a) = %d, %v", v, ok)
	}
	if v, ok := m.Get("b"); !ok || v != 2 {
		t.Fatalf("Get(b) = %d, %v", v, ok)
	}
	if _, ok := m.Get("c"); ok {
		t.Fatalf("Get(c) should miss")
	}
}

func TestPutOverwriteReturnsOld(t *testing.T) {
	m := newStrMap()
	m.Put("a", 1)
	old, had := m.Put("a", 2)
	if !had || old != 1 {
		t.Fatalf("Put overwrite = %d, %v, want 1, true", old, had)
	}
	v, _ := m.Get("a")
	if v != 2 {
		t.Fatalf("Get(a) after overwrite = %d, want 2", v)
	}
	if m.Len() != 1 {
		t.Fatalf("Len() = %d, want 1", m.Len())
	}
}

func TestRemoveThenProbePastTombstone(t *testing.T) {
	m := newStrMap()
	// Force several keys into the same small table so some probe chains
	// pass through a deleted slot.
	for i := 0; i < 5; i++ {
		m.Put("k"+strconv.Itoa(i), i)
	}
	if _, ok := m.Remove("k2"); !ok {
		t.Fatalf("Remove(k2) should hit")
	}
	// k3, k4 (inserted after k2) must still be reachable despite the
	// tombstone left behind by k2's removal.
	for i := 0; i < 5; i++ {
		key := "k" + strconv.Itoa(i)
		v, ok := m.Get(key)
		if i == 2 {
			if ok {
				t.Fatalf("Get(%s) should miss after removal", key)
			}
			continue
		}
		if !ok || v != i {
			t.Fatalf("Get(%s) = %d, %v, want %d, true", key, v, ok, i)
		}
	}
}

func TestResizeTriggersAroundLoadFactorHalf(t *testing.T) {
	m := newStrMap()
	n := 200
	for i := 0; i < n; i++ {
		m.Put("key"+strconv.Itoa(i), i)
	}
	if m.Len() != n {
		t.Fatalf("Len() = %d, want %d", m.Len(), n)
	}
	for i := 0; i < n; i++ {
		key := "key" + strconv.Itoa(i)
		v, ok := m.Get(key)
		if !ok || v != i {
			t.Fatalf("Get(%s) = %d, %v, want %d, true", key, v, ok, i)
		}
	}
	// load factor must never exceed 0.5 post-resize
	if m.Len()*2 > len(m.buckets) {
		t.Fatalf("load factor exceeded 0.5: count=%d size=%d", m.Len(), len(m.buckets))
	}
}

func TestIterationSkipsEmptyAndDeleted(t *testing.T) {
	m := newStrMap()
	want := map[string]int{"a": 1, "b": 2, "c": 3}
	for k, v := range want {
		m.Put(k, v)
	}
	m.Remove("b")
	delete(want, "b")

	got := map[string]int{}
	for i := Begin; ; {
		k, v, ok := m.Next(&i)
		if !ok {
			break
		}
		got[k] = v
	}

	if len(got) != len(want) {
		t.Fatalf("iterated %d entries, want %d", len(got), len(want))
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("iterated[%s] = %d, want %d", k, got[k], v)
		}
	}
}

func TestRemoveAtSafeDuringIteration(t *testing.T) {
	m := newStrMap()
	for i := 0; i < 10; i++ {
		m.Put("x"+strconv.Itoa(i), i)
	}
	seen := 0
	for i := Begin; ; {
		_, _, ok := m.Next(&i)
		if !ok {
			break
		}
		m.RemoveAt(i)
		i--
		seen++
	}
	if seen != 10 {
		t.Fatalf("visited %d entries while draining, want 10", seen)
	}
	if m.Len() != 0 {
		t.Fatalf("Len() after draining = %d, want 0", m.Len())
	}
}
