// Package hashmap implements C2: a generic, open-addressed hash map with
// quadratic probing, grounded line-for-line on
// _examples/original_source/src/libponyrt/ds/hash.c (ponyint_hashmap_*).
//
// The probe sequence, the 0.5 load-factor resize trigger, the distinct
// "deleted" tombstone, and the external-index iteration contract are all
// carried over from that source; only the memory management (pool
// allocator, void* casts) is replaced with ordinary Go generics and GC.
package hashmap

// Begin is the iterator start sentinel, mirroring HASHMAP_BEGIN (-1 as
// size_t, i.e. "one before index 0").
const Begin = -1

// HashFn computes a 64-bit hash for a key.
type HashFn[K any] func(key K) uint64

// EqFn reports whether two keys are equal.
type EqFn[K any] func(a, b K) bool

type slot[K any, V any] struct {
	key K
	val V
}

// Map is an open-addressed, quadratic-probing hash map from K to V.
// The zero value is not usable; construct with New.
type Map[K any, V any] struct {
	hash    HashFn[K]
	eq      EqFn[K]
	buckets []*slot[K, V]
	tomb    *slot[K, V] // unique tombstone sentinel for this map instance
	count   int
}

// New creates a Map with room for at least sizeHint elements without
// triggering an immediate resize (mirrors hashmap_init's "size <<= 1, then
// round up to a power of two, minimum 8" behavior).
func New[K any, V any](sizeHint int, hash HashFn[K], eq EqFn[K]) *Map[K, V] {
	m := &Map[K, V]{hash: hash, eq: eq, tomb: new(slot[K, V])}
	if sizeHint > 0 {
		n := sizeHint << 1
		if n < 8 {
			n = 8
		} else {
			n = int(nextPow2(uint64(n)))
		}
		m.buckets = make([]*slot[K, V], n)
	}
	return m
}

func nextPow2(n uint64) uint64 {
	if n == 0 {
		return 1
	}
	n--
	n |= n >> 1
	n |= n >> 2
	n |= n >> 4
	n |= n >> 8
	n |= n >> 16
	n |= n >> 32
	return n + 1
}

func (m *Map[K, V]) valid(s *slot[K, V]) bool {
	return s != nil && s != m.tomb
}

// search mirrors the original's `search`: walk the quadratic probe sequence
// until we find the key, an empty slot, or exhaust the table. It returns
// the slot found (nil if absent) and the index to use for a subsequent put
// (the first deleted slot seen, if any, else the terminating index).
func (m *Map[K, V]) search(key K) (found *slot[K, V], pos int) {
	size := len(m.buckets)
	mask := uint64(size - 1)
	h := m.hash(key)
	index := h & mask
	indexDel := size // "not found yet" sentinel, same trick as the C code

	for i := uint64(0); i <= mask; i++ {
		elem := m.buckets[index]

		if elem == nil {
			if indexDel <= int(mask) {
				return nil, indexDel
			}
			return nil, int(index)
		} else if elem == m.tomb {
			if indexDel > int(mask) {
				indexDel = int(index)
			}
		} else if m.eq(key, elem.key) {
			return elem, int(index)
		}

		index = (h + ((i + i*i) >> 1)) & mask
	}

	return nil, indexDel
}

func (m *Map[K, V]) resize() {
	old := m.buckets
	newSize := 8
	if len(old) >= 8 {
		newSize = len(old) << 3
	}

	m.buckets = make([]*slot[K, V], newSize)
	m.count = 0

	for _, s := range old {
		if m.valid(s) {
			m.putSlot(s)
		}
	}
}

func (m *Map[K, V]) putSlot(s *slot[K, V]) {
	if len(m.buckets) == 0 {
		m.buckets = make([]*slot[K, V], 8)
	}

	found, pos := m.search(s.key)
	m.buckets[pos] = s

	if found == nil {
		m.count++
		if (m.count << 1) > len(m.buckets) {
			m.resize()
		}
	}
}

// Get returns the value for key and true, or the zero value and false.
func (m *Map[K, V]) Get(key K) (V, bool) {
	var zero V
	if m.count == 0 {
		return zero, false
	}
	found, _ := m.search(key)
	if found == nil {
		return zero, false
	}
	return found.val, true
}

// Put inserts or overwrites key -> val. It returns the previous value and
// true if key was already present.
func (m *Map[K, V]) Put(key K, val V) (V, bool) {
	if len(m.buckets) == 0 {
		m.buckets = make([]*slot[K, V], 8)
	}

	found, pos := m.search(key)
	m.buckets[pos] = &slot[K, V]{key: key, val: val}

	if found == nil {
		m.count++
		if (m.count << 1) > len(m.buckets) {
			m.resize()
		}
		var zero V
		return zero, false
	}
	return found.val, true
}

// Remove deletes key, returning its value and true if it was present.
func (m *Map[K, V]) Remove(key K) (V, bool) {
	var zero V
	if m.count == 0 {
		return zero, false
	}

	found, pos := m.search(key)
	if found == nil {
		return zero, false
	}

	m.buckets[pos] = m.tomb
	m.count--
	return found.val, true
}

// RemoveAt deletes whatever occupies bucket index, mirroring
// hashmap_removeindex (for callers doing "robin hood"-safe iteration
// while deleting).
func (m *Map[K, V]) RemoveAt(index int) (V, bool) {
	var zero V
	if index < 0 || index >= len(m.buckets) {
		return zero, false
	}
	s := m.buckets[index]
	if !m.valid(s) {
		return zero, false
	}
	m.buckets[index] = m.tomb
	m.count--
	return s.val, true
}

// Len returns the number of live entries.
func (m *Map[K, V]) Len() int { return m.count }

// Next advances the external iterator *i (start at Begin) and returns the
// next live key/value pair, or ok=false when exhausted. Safe to call
// across a RemoveAt on the just-visited index (the classic
// "i--; continue from the same slot" pattern from cycle.c's `deferred`).
func (m *Map[K, V]) Next(i *int) (key K, val V, ok bool) {
	if m.count == 0 {
		*i = len(m.buckets)
		return key, val, false
	}

	index := *i + 1
	for index < len(m.buckets) {
		elem := m.buckets[index]
		if m.valid(elem) {
			*i = index
			return elem.key, elem.val, true
		}
		index++
	}

	*i = index
	return key, val, false
}
