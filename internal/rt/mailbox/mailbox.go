// Package mailbox implements C7: the per-actor multi-producer,
// single-consumer message queue.
//
// Grounded on
// _examples/original_source/src/libponyrt/actor/messageq.c, read in full:
// a Vyukov-style MPSC queue with a stub node, where Push does an atomic
// exchange of the head pointer and links the previous head to the new
// node, and Pop/MarkEmpty are only ever called by the single consuming
// scheduler thread.
//
// Deliberate deviation: the original tags the low bit of the head pointer
// itself to track "the queue was observed empty", recovered with the same
// atomic exchange that swaps the pointer, because C can pack a flag into
// spare pointer bits for free. Doing that in Go requires storing pointers
// as uintptr, which stops the garbage collector from seeing the reference
// and can collect the node out from under the queue. Instead, an
// `atomic.Bool` tracks the same "was empty" state alongside a plain
// `atomic.Pointer[node[T]]` head; Queue.Push's two-step exchange
// (swap the head pointer, then swap the empty flag) still returns true to
// exactly one concurrent pusher per empty-to-non-empty transition, with
// the same linearization MarkEmpty relies on.
package mailbox

import "sync/atomic"

type node[T any] struct {
	val  T
	next atomic.Pointer[node[T]]
}

// Queue is an MPSC queue of T. The zero value is not usable; construct
// with New.
type Queue[T any] struct {
	head  atomic.Pointer[node[T]]
	tail  *node[T] // touched only by the single consumer
	empty atomic.Bool
}

// New creates an empty queue.
func New[T any]() *Queue[T] {
	stub := &node[T]{}
	q := &Queue[T]{tail: stub}
	q.head.Store(stub)
	q.empty.Store(true)
	return q
}

// Push enqueues val. Safe to call concurrently from any number of
// producers. It returns true if this call transitioned the queue from
// empty to non-empty — the signal a producer uses to decide whether the
// consuming actor needs to be (re)scheduled.
func (q *Queue[T]) Push(val T) bool {
	n := &node[T]{}
	n.val = val

	prev := q.head.Swap(n)
	wasEmpty := q.empty.CompareAndSwap(true, false)
	prev.next.Store(n)

	return wasEmpty
}

// Pop dequeues the next message. Must only be called by the single
// consumer. Returns ok=false if the queue currently has nothing to
// deliver (which may be transient: a push may be in flight between its
// head swap and its next-pointer store).
func (q *Queue[T]) Pop() (val T, ok bool) {
	next := q.tail.next.Load()
	if next == nil {
		return val, false
	}
	q.tail = next
	return next.val, true
}

// MarkEmpty attempts to record that the queue is empty, so a future Push
// will again report a true empty-to-non-empty transition. It returns true
// if the queue is (or was successfully marked) empty; false if a push has
// raced in since the last Pop and the caller should Pop again before
// sleeping.
func (q *Queue[T]) MarkEmpty() bool {
	if q.empty.Load() {
		return true
	}
	if q.head.Load() != q.tail {
		return false
	}
	return q.empty.CompareAndSwap(false, true)
}
