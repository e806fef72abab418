// Package heap implements C6: the per-actor allocator and its local
// mark-sweep GC cycle.
//
// Grounded line-for-line on
// _examples/original_source/src/libponyrt/mem/heap.c, read in full: six
// small size classes from 2^6 to 2^11 bytes with the same
// sizeClassTable/sizeClassEmpty layout, page-sized small chunks tracked by
// a per-size-class free/full list, individually tracked large chunks, and
// the startgc/mark/endgc mark-sweep cycle with next_gc doubling.
//
// The original recovers a chunk from a bare pointer via a side "pagemap"
// structure, because C has no way to carry bookkeeping alongside a void*.
// Go does: Alloc returns a *Ptr that carries its owning chunk directly, so
// there is no pagemap here — Mark/MarkShallow/Realloc take a *Ptr instead
// of reconstructing the chunk from an address.
package heap

import "github.com/velalang/velac/internal/cos"

const (
	minBits     = 6 // smallest size class is 2^6 = 64 bytes
	maxBits     = 11
	sizeClasses = 6
	pageSize    = 1 << maxBits // 2048 bytes, mirrors block_t
	initialGC   = 1 << 14
)

var sizeClassSize = [sizeClasses]uint32{
	1 << (minBits + 0),
	1 << (minBits + 1),
	1 << (minBits + 2),
	1 << (minBits + 3),
	1 << (minBits + 4),
	1 << (minBits + 5),
}

// sizeClassEmpty is the "every slot free" bit pattern for each class: one
// bit per slot, at bit (slot offset >> minBits), so a class with k slots
// per page has k bits set, spaced 32/k apart.
var sizeClassEmpty = [sizeClasses]uint32{
	0xFFFFFFFF, // 32 slots of 64 bytes
	0x55555555, // 16 slots of 128 bytes (every other bit, mirrors the original)
	0x11111111,
	0x01010101,
	0x00010001,
	0x00000001,
}

// sizeClassTable maps (size-1)>>minBits, for size in 1..pageSize, to the
// smallest size class that fits it. Carried over verbatim from
// sizeclass_table in heap.c.
var sizeClassTable = [pageSize / (1 << minBits)]uint8{
	0, 1, 2, 2, 3, 3, 3, 3,
	4, 4, 4, 4, 4, 4, 4, 4,
	5, 5, 5, 5, 5, 5, 5, 5,
	5, 5, 5, 5, 5, 5, 5, 5,
}

// chunk is one page (small) or one tracked allocation (large).
type chunk struct {
	mem     []byte
	large   bool
	class   int    // size class, meaningful only when !large
	size    uint64 // byte size, meaningful only when large
	slots   uint32 // a set bit means "free"; small chunks only
	shallow uint32
	next    *chunk
}

// Ptr is a heap-allocated handle. It carries its owning chunk so Mark,
// MarkShallow, and Realloc never need to recover bookkeeping from a raw
// address the way heap_mark/heap_realloc do via the pagemap.
type Ptr struct {
	chunk  *chunk
	offset uint32 // byte offset into chunk.mem, for small allocations
	Bytes  []byte
}

// Heap is one actor's allocator and GC state. Owner is an opaque handle to
// the owning actor (kept generic to avoid an import cycle with the actor
// package); it is returned unchanged by Owner.
type Heap struct {
	Owner     any
	smallFree [sizeClasses]*chunk
	smallFull [sizeClasses]*chunk
	large     *chunk
	used      uint64
	nextGC    uint64
}

// New creates a heap for owner with the default initial GC threshold.
func New(owner any) *Heap {
	return &Heap{Owner: owner, nextGC: initialGC}
}

// NewWithThreshold is New with an explicit initial GC threshold in
// place of the built-in default, the Go analogue of the original's
// PONY_INITIAL_GC tunable (surfaced here so an embedding program's
// config can raise or lower it per workload).
func NewWithThreshold(owner any, threshold uint64) *Heap {
	if threshold == 0 {
		threshold = initialGC
	}
	return &Heap{Owner: owner, nextGC: threshold}
}

func classFor(size int) int {
	return int(sizeClassTable[(size-1)>>minBits])
}

func smallMalloc(h *Heap, size int) *Ptr {
	class := classFor(size)
	c := h.smallFree[class]

	if c == nil {
		c = &chunk{mem: make([]byte, pageSize), class: class, slots: sizeClassEmpty[class], shallow: sizeClassEmpty[class]}
		h.smallFree[class] = c
	}

	bit := cos.TrailingZeros32(c.slots)
	c.slots &^= uint32(1) << uint(bit)
	c.shallow &^= uint32(1) << uint(bit)

	offset := uint32(bit) << minBits
	if c.slots == 0 {
		h.smallFree[class] = c.next
		c.next = h.smallFull[class]
		h.smallFull[class] = c
	}

	h.used += uint64(sizeClassSize[class])
	return &Ptr{chunk: c, offset: offset, Bytes: c.mem[offset : offset+sizeClassSize[class]]}
}

func largeMalloc(h *Heap, size int) *Ptr {
	c := &chunk{mem: make([]byte, size), large: true, size: uint64(size), slots: 0, shallow: 0}
	c.next = h.large
	h.large = c
	h.used += uint64(size)
	return &Ptr{chunk: c, Bytes: c.mem}
}

// Alloc allocates size bytes, picking a small size class if it fits in one
// page, else a large individually-tracked chunk. size == 0 returns nil.
func (h *Heap) Alloc(size int) *Ptr {
	switch {
	case size == 0:
		return nil
	case size <= pageSize:
		return smallMalloc(h, size)
	default:
		return largeMalloc(h, size)
	}
}

// Realloc grows p to size bytes, copying the old contents, unless the
// existing allocation is already large enough to satisfy size in place.
func (h *Heap) Realloc(p *Ptr, size int) *Ptr {
	if p == nil {
		return h.Alloc(size)
	}

	if !p.chunk.large {
		if size <= pageSize && classFor(size) <= p.chunk.class {
			return p
		}
		q := h.Alloc(size)
		copy(q.Bytes, p.Bytes)
		return q
	}

	if uint64(size) <= p.chunk.size {
		return p
	}

	grown := make([]byte, size)
	copy(grown, p.chunk.mem)
	p.chunk.mem = grown
	p.chunk.size = uint64(size)
	p.Bytes = grown
	return p
}

// Used adds size to the heap's usage counter directly, for bytes charged
// against this actor by a receive of a foreign object (see internal/rt/gcrc).
func (h *Heap) Used(size uint64) { h.used += size }

func clearSmall(c *chunk) {
	c.slots = sizeClassEmpty[c.class]
	c.shallow = c.slots
}

func clearLarge(c *chunk) {
	c.slots = 1
	c.shallow = 1
}

func chunkList(f func(*chunk), first *chunk) {
	for c := first; c != nil; c = c.next {
		f(c)
	}
}

// StartGC reports whether used has crossed nextGC; if so it resets every
// chunk's slots bitmap to "all free" (the mark epoch begins: Mark will
// clear bits for everything actually reachable, and whatever is still set
// at EndGC was unreachable).
func (h *Heap) StartGC() bool {
	if h.used < h.nextGC {
		return false
	}

	for i := 0; i < sizeClasses; i++ {
		chunkList(clearSmall, h.smallFree[i])
		chunkList(clearSmall, h.smallFull[i])
	}
	chunkList(clearLarge, h.large)

	h.used = 0
	return true
}

// Mark marks p as reachable, returning true if it was not already marked
// this cycle (the caller uses this to decide whether to recurse into p's
// own fields).
func (h *Heap) Mark(p *Ptr) bool {
	c := p.chunk
	if c.large {
		newly := c.slots != 0
		c.slots = 0
		return newly
	}

	slot := uint32(1) << (p.offset >> minBits)
	newly := c.slots&slot != 0
	c.slots &^= slot
	return newly
}

// MarkShallow marks p reachable without implying its contents should be
// traced (used for tag-captured references, which a receiver may hold but
// never dereference).
func (h *Heap) MarkShallow(p *Ptr) {
	c := p.chunk
	if c.large {
		c.shallow = 0
		return
	}
	slot := uint32(1) << (p.offset >> minBits)
	c.shallow &^= slot
}

func sweepSmall(first *chunk, empty uint32) (avail, full *chunk, used uint64) {
	for c, next := first, (*chunk)(nil); c != nil; c = next {
		next = c.next
		c.slots &= c.shallow

		switch {
		case c.slots == 0:
			used += pageSize
			c.next = full
			full = c
		case c.slots == empty:
			// fully free: drop it, nothing more to do (Go's GC reclaims mem).
		default:
			used += uint64(pageSize) - uint64(cos.PopCount32(c.slots))*uint64(sizeClassSize[c.class])
			c.next = avail
			avail = c
		}
	}
	return avail, full, used
}

func sweepLarge(first *chunk) (kept *chunk, used uint64) {
	for c, next := first, (*chunk)(nil); c != nil; c = next {
		next = c.next
		c.slots &= c.shallow

		if c.slots == 0 {
			c.next = kept
			kept = c
			used += c.size
		}
	}
	return kept, used
}

// EndGC sweeps every page: a page left all-ones (every slot marked free,
// meaning Mark never touched it) is dropped; anything else survives.
// Usage is recomputed from what's left and nextGC is set to twice that
// (minimum initialGC).
func (h *Heap) EndGC() {
	var used uint64

	for i := 0; i < sizeClasses; i++ {
		avail, full, u := sweepSmall(h.smallFree[i], sizeClassEmpty[i])
		avail2, full2, u2 := sweepSmall(h.smallFull[i], sizeClassEmpty[i])

		// Merge the two swept lists (originally separate free/full inputs
		// feeding one shared avail/full output pair).
		h.smallFree[i] = appendChunks(avail, avail2)
		h.smallFull[i] = appendChunks(full, full2)
		used += u + u2
	}

	var largeUsed uint64
	h.large, largeUsed = sweepLarge(h.large)

	h.used = used + largeUsed
	h.nextGC = h.used << 1
	if h.nextGC < initialGC {
		h.nextGC = initialGC
	}
}

func appendChunks(a, b *chunk) *chunk {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	tail := a
	for tail.next != nil {
		tail = tail.next
	}
	tail.next = b
	return a
}

// TriggerGC forces the next StartGC call to report true regardless of
// current usage, the analogue of pony_triggergc's `heap->next_gc = 0`.
func (h *Heap) TriggerGC() { h.nextGC = 0 }

// UsedBytes reports current usage, for tests and metrics.
func (h *Heap) UsedBytes() uint64 { return h.used }

// NextGC reports the next GC threshold, for tests and metrics.
func (h *Heap) NextGC() uint64 { return h.nextGC }
