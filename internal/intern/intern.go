// Package intern implements C1: a process-wide table that interns
// arbitrary byte strings to pointer-equal canonical handles, so that
// handle equality reduces to pointer (here, interface/pointer identity)
// comparison instead of a byte-wise compare.
//
// Grounded on _examples/original_source/src/libponyc/ast/stringtab.c: a
// single global hash table, append-only, guarded by a mutex (see spec.md
// §5 "shared-resource policy" — "the interned name table is append-only
// and is protected by a mutex; handles, once returned, are stable").
package intern

import (
	"sync"

	"github.com/OneOfOne/xxhash"
)

// Name is a canonical, pointer-stable handle for an interned byte string.
// Two Names are equal iff the underlying bytes are equal; callers should
// compare Names with == rather than comparing Bytes().
type Name struct {
	s string
}

// Bytes returns the interned bytes.
func (n Name) Bytes() []byte { return []byte(n.s) }

// String returns the interned string.
func (n Name) String() string { return n.s }

// IsZero reports whether n is the zero Name (never interned).
func (n Name) IsZero() bool { return n.s == "" }

// Table is an interning table. The zero Table is not usable; use New.
type Table struct {
	mu      sync.Mutex
	entries map[uint64][]*string
}

// New creates an empty interning table.
func New() *Table {
	return &Table{entries: make(map[uint64][]*string)}
}

// global is the process-wide table used by runtime_init/runtime_fini.
var global = New()

// Init (re)initializes the process-wide interning table. Grounded on
// spec.md §9's "runtime_init, runtime_fini" requirement that process-global
// state be behind explicit init/teardown entry points rather than implicit
// package-level construction.
func Init() { global = New() }

// Fini tears down the process-wide interning table. Handles returned before
// Fini remain valid Go values (nothing is actually freed; this mirrors the
// "never freed until shutdown" lifetime from spec.md §3, where shutdown is
// process exit), it simply stops future dedup.
func Fini() { global = New() }

// Intern returns the canonical Name for the process-wide table.
func Intern(s string) Name { return global.Intern(s) }

// InternBytes is Intern for a byte slice, avoiding an extra copy on the hit
// path relative to string(b) + Intern when b will be discarded.
func InternBytes(b []byte) Name { return global.InternBytes(b) }

// Intern returns the canonical Name equal to s, inserting a fresh copy on
// first use. Concurrency-safe.
func (t *Table) Intern(s string) Name {
	h := xxhash.ChecksumString64(s)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.entries[h]
	for _, p := range bucket {
		if *p == s {
			return Name{s: *p}
		}
	}

	// Insert a fresh, independently-allocated copy so later mutation of the
	// caller's string header (impossible in Go, but mirrors intern_owned's
	// contract in spec.md §4.1) can never alias the canonical copy.
	owned := string(append([]byte(nil), s...))
	t.entries[h] = append(bucket, &owned)
	return Name{s: owned}
}

// InternBytes is Intern for a byte slice.
func (t *Table) InternBytes(b []byte) Name {
	h := xxhash.Checksum64(b)

	t.mu.Lock()
	defer t.mu.Unlock()

	bucket := t.entries[h]
	for _, p := range bucket {
		if *p == string(b) {
			return Name{s: *p}
		}
	}

	owned := string(b)
	t.entries[h] = append(bucket, &owned)
	return Name{s: owned}
}

// Len returns the number of distinct interned strings. Used by tests.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for _, b := range t.entries {
		n += len(b)
	}
	return n
}
