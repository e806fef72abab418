// Package gcrc implements C8: per-actor local mark/sweep participation and
// the distributed reference-counting protocol between actors.
//
// Grounded on _examples/original_source/src/libponyrt/gc/gc.c, read in
// full. The send/recv/mark triples for local objects, remote objects,
// local actors, and remote actors are carried over function-for-function
// (sendLocalObject/recvLocalObject/markLocalObject,
// sendRemoteObject/recvRemoteObject/markRemoteObject,
// send_local_actor/recv_local_actor, send_remote_actor/recv_remote_actor/
// mark_remote_actor), including the GC_INC_MORE batching constant and the
// immutable-promotion acquire dance in send/mark_remote_object.
//
// A is the actor identity type (kept generic rather than a concrete
// *rt.Actor to avoid an import cycle between this package and
// internal/rt, whose Actor owns a GC[*Actor]).
package gcrc

import (
	"github.com/velalang/velac/internal/rt/heap"
	"github.com/velalang/velac/internal/xdebug"
)

// IncMore is GC_INC_MORE: the batch size invented each time a reference
// count would otherwise be decremented below what's needed, so that an
// ACQUIRE round-trip isn't needed for every subsequent send.
const IncMore = 256

// ActorHeapEquiv is GC_ACTOR_HEAP_EQUIV: the notional heap cost charged
// for holding a reference to another actor, so that actor-heavy programs
// still trigger GC cycles.
const ActorHeapEquiv = 1024

// Object is one tracked heap object's GC bookkeeping: its reference count
// as seen from whichever side owns this record (the owner's own
// bookkeeping for local objects, or a peer's view for foreign objects),
// the mark epoch it was last touched in, and whether it has been promoted
// to immutable.
type Object struct {
	Ptr        *heap.Ptr
	RC         uint64
	Mark       uint64
	Immutable  bool
	Reachable  bool // local objects only: set once this actor receives the object back (recvLocalObject); a heap mark does not set it
	finalFn    func(*heap.Ptr)
}

// ActorRef is one actor's bookkeeping about a single peer: the peer's
// own object submap (what we think its reference counts are, for the
// objects we've exchanged with it) plus our reference count on the peer
// actor itself.
type ActorRef[A comparable] struct {
	Actor   A
	RC      uint64
	Mark    uint64
	Objects map[*heap.Ptr]*Object
}

// newActorRef seeds Mark one epoch behind mark, the way
// ponyint_actormap_getorput always stores mark-1 for a freshly inserted
// entry: a ref created mid-trace must still look unmarked to the check
// that immediately follows its creation.
func newActorRef[A comparable](actor A, mark uint64) *ActorRef[A] {
	return &ActorRef[A]{Actor: actor, Mark: mark - 1, Objects: make(map[*heap.Ptr]*Object)}
}

// object is ponyint_actorref_getorput: a freshly inserted Object also
// starts one epoch behind mark, for the same reason.
func (a *ActorRef[A]) object(p *heap.Ptr, mark uint64) *Object {
	o, ok := a.Objects[p]
	if !ok {
		o = &Object{Ptr: p, Mark: mark - 1}
		a.Objects[p] = o
	}
	return o
}

// GC is one actor's GC and distributed-RC state.
type GC[A comparable] struct {
	Self A

	local   map[*heap.Ptr]*Object
	foreign map[A]*ActorRef[A]
	acquire map[A]*ActorRef[A]
	delta   map[A]uint64

	rc     uint64
	rcMark uint64
	mark   uint64

	finalisers int
}

// New creates GC state for an actor identified by self.
func New[A comparable](self A) *GC[A] {
	return &GC[A]{
		Self:    self,
		local:   make(map[*heap.Ptr]*Object),
		foreign: make(map[A]*ActorRef[A]),
		acquire: make(map[A]*ActorRef[A]),
		delta:   make(map[A]uint64),
		// One epoch behind mark, like every freshly inserted entry, so
		// the first SendLocalActor of epoch 0 still counts.
		rcMark: ^uint64(0),
	}
}

// RC is this actor's own reference count, as the sum of what every peer
// believes it holds.
func (g *GC[A]) RC() uint64 { return g.rc }

// SeedRC sets this actor's own rc directly, used only at creation time
// to mirror pony_create's `actor->gc.rc = GC_INC_MORE` for an actor
// spawned by another actor (one that starts with no creator begins at
// the zero value already, matching the other branch's `= 0`).
func (g *GC[A]) SeedRC(rc uint64) { g.rc = rc }

// localObject is ponyint_objectmap_getorput against this actor's own
// local map: a freshly inserted Object starts one epoch behind mark, so
// the caller's immediate mark-comparison still treats it as unmarked.
func (g *GC[A]) localObject(p *heap.Ptr) *Object {
	o, ok := g.local[p]
	if !ok {
		o = &Object{Ptr: p, Mark: g.mark - 1}
		g.local[p] = o
	}
	return o
}

func (g *GC[A]) foreignRef(actor A) *ActorRef[A] {
	a, ok := g.foreign[actor]
	if !ok {
		a = newActorRef[A](actor, g.mark)
		g.foreign[actor] = a
	}
	return a
}

func (g *GC[A]) acquireRef(actor A) *ActorRef[A] {
	a, ok := g.acquire[actor]
	if !ok {
		a = newActorRef[A](actor, 0)
		g.acquire[actor] = a
	}
	return a
}

func (g *GC[A]) acquireActor(actor A) {
	g.acquireRef(actor).RC += IncMore
}

func (g *GC[A]) acquireObject(actor A, p *heap.Ptr, immutable bool) {
	aref := g.acquireRef(actor)
	obj := aref.object(p, 0)
	obj.RC += IncMore
	obj.Immutable = immutable
}

// SendLocalActor implicitly sends this actor itself (the owner of some
// object being sent), incrementing its rc at most once per mark epoch.
func (g *GC[A]) SendLocalActor() {
	if g.rcMark != g.mark {
		g.rcMark = g.mark
		g.rc++
	}
}

// RecvLocalActor is the receive-side mirror of SendLocalActor.
func (g *GC[A]) RecvLocalActor() {
	if g.rcMark != g.mark {
		g.rcMark = g.mark
		g.rc--
	}
}

func (g *GC[A]) sendRemoteActor(aref *ActorRef[A]) {
	if aref.Mark == g.mark {
		return
	}
	aref.Mark = g.mark

	if aref.RC <= 1 {
		aref.RC += IncMore - 1
		g.acquireActor(aref.Actor)
	} else {
		aref.RC--
	}
	g.delta[aref.Actor] = aref.RC
}

// SendActor records that actor is being sent a reference (e.g. as part of
// a message payload). heap charges nothing for the sending side.
func (g *GC[A]) SendActor(actor A) {
	if actor == g.Self {
		g.SendLocalActor()
		return
	}
	g.sendRemoteActor(g.foreignRef(actor))
}

func (g *GC[A]) recvRemoteActor(h *heap.Heap, aref *ActorRef[A]) {
	if aref.Mark == g.mark {
		return
	}
	aref.Mark = g.mark
	aref.RC++
	g.delta[aref.Actor] = aref.RC
	h.Used(ActorHeapEquiv)
}

// RecvActor is the receive-side mirror of SendActor.
func (g *GC[A]) RecvActor(h *heap.Heap, actor A) {
	if actor == g.Self {
		g.RecvLocalActor()
		return
	}
	g.recvRemoteActor(h, g.foreignRef(actor))
}

func (g *GC[A]) markRemoteActor(h *heap.Heap, aref *ActorRef[A]) {
	if aref.Mark == g.mark {
		return
	}
	aref.Mark = g.mark

	if aref.RC == 0 {
		aref.RC += IncMore
		g.acquireActor(aref.Actor)
		g.delta[aref.Actor] = aref.RC
	}
	h.Used(ActorHeapEquiv)
}

// MarkActor marks actor reachable during a heap GC trace, without
// changing its rc unless it has never been seen before (reached only
// transitively through an immutable object).
func (g *GC[A]) MarkActor(h *heap.Heap, actor A) {
	if actor == g.Self {
		return
	}
	g.markRemoteActor(h, g.foreignRef(actor))
}

// CreateActor records that this actor just created a fresh child actor:
// the child starts with IncMore invented references, since nothing has
// acquired it yet.
func (g *GC[A]) CreateActor(h *heap.Heap, child A) {
	aref := g.foreignRef(child)
	aref.RC = IncMore
	g.delta[child] = aref.RC
	h.Used(ActorHeapEquiv)
}

// Trace is the recursion callback object/actor tracing drives: given an
// object reached while tracing another object's fields, continue tracing
// its own fields (or not, for an immutable/opaque reference).
type Trace func(p *heap.Ptr)

func (g *GC[A]) sendLocalObject(p *heap.Ptr, trace Trace, immutable bool) {
	obj := g.localObject(p)
	if obj.Mark == g.mark {
		return
	}

	g.SendLocalActor()

	obj.RC++
	obj.Mark = g.mark
	if immutable {
		obj.Immutable = true
	}
	if !obj.Immutable && trace != nil {
		trace(p)
	}
}

func (g *GC[A]) recvLocalObject(p *heap.Ptr, trace Trace, immutable bool) {
	obj := g.localObject(p)
	if obj.Mark == g.mark {
		return
	}

	g.RecvLocalActor()

	obj.RC--
	obj.Mark = g.mark
	obj.Reachable = true
	if immutable {
		obj.Immutable = true
	}
	if !obj.Immutable && trace != nil {
		trace(p)
	}
}

func (g *GC[A]) markLocalObject(h *heap.Heap, p *heap.Ptr, trace Trace) {
	if trace != nil {
		if h.Mark(p) {
			trace(p)
		}
	} else {
		h.MarkShallow(p)
	}
}

func (g *GC[A]) sendRemoteObject(actor A, p *heap.Ptr, trace Trace, immutable bool) {
	aref := g.foreignRef(actor)
	obj := aref.object(p, g.mark)
	if obj.Mark == g.mark {
		return
	}

	g.sendRemoteActor(aref)
	obj.Mark = g.mark

	switch {
	case immutable && !obj.Immutable && obj.RC > 0:
		obj.RC += IncMore - 1
		obj.Immutable = true
		g.acquireObject(actor, p, true)
		immutable = false
	case obj.RC <= 1:
		if immutable {
			obj.Immutable = true
		}
		obj.RC += IncMore - 1
		g.acquireObject(actor, p, obj.Immutable)
	default:
		obj.RC--
	}

	if !immutable && trace != nil {
		trace(p)
	}
}

func (g *GC[A]) recvRemoteObject(h *heap.Heap, actor A, p *heap.Ptr, trace Trace, immutable bool, size int) {
	aref := g.foreignRef(actor)
	obj := aref.object(p, g.mark)
	if obj.Mark == g.mark {
		return
	}

	g.recvRemoteActor(h, aref)

	if obj.RC == 0 {
		h.Used(uint64(size))
	}

	obj.RC++
	obj.Mark = g.mark
	if immutable {
		obj.Immutable = true
	}
	if !obj.Immutable && trace != nil {
		trace(p)
	}
}

func (g *GC[A]) markRemoteObject(h *heap.Heap, actor A, p *heap.Ptr, trace Trace, immutable bool, size int) {
	aref := g.foreignRef(actor)
	obj := aref.object(p, g.mark)
	if obj.Mark == g.mark {
		return
	}

	g.markRemoteActor(h, aref)
	obj.Mark = g.mark
	h.Used(uint64(size))

	switch {
	case immutable && !obj.Immutable && obj.RC > 0:
		obj.RC += IncMore
		obj.Immutable = true
		g.acquireObject(actor, p, true)
		immutable = false
	case obj.RC == 0:
		if immutable {
			obj.Immutable = true
		}
		obj.RC += IncMore
		g.acquireObject(actor, p, obj.Immutable)
	}

	if !immutable && trace != nil {
		trace(p)
	}
}

// SendObject traces an object being sent as part of a message, dispatching
// to the local or remote-owner path. owner is the actor p's heap belongs
// to — the caller already knows this (it allocated or received p through
// that actor's heap), which is this package's replacement for recovering
// ownership through a pagemap lookup (see internal/rt/heap's own doc
// comment on the same simplification).
func (g *GC[A]) SendObject(owner A, p *heap.Ptr, trace Trace, immutable bool) {
	if owner == g.Self {
		g.sendLocalObject(p, trace, immutable)
	} else {
		g.sendRemoteObject(owner, p, trace, immutable)
	}
}

// RecvObject is the receive-side mirror of SendObject. size is p's chunk
// size, charged to this actor's heap usage on first reference.
func (g *GC[A]) RecvObject(h *heap.Heap, owner A, p *heap.Ptr, trace Trace, immutable bool, size int) {
	if owner == g.Self {
		g.recvLocalObject(p, trace, immutable)
	} else {
		g.recvRemoteObject(h, owner, p, trace, immutable, size)
	}
}

// MarkObject marks p reachable during a heap GC trace.
func (g *GC[A]) MarkObject(h *heap.Heap, owner A, p *heap.Ptr, trace Trace, immutable bool, size int) {
	if owner == g.Self {
		g.markLocalObject(h, p, trace)
	} else {
		g.markRemoteObject(h, owner, p, trace, immutable, size)
	}
}

// RegisterFinal records a finaliser for a locally owned object.
func (g *GC[A]) RegisterFinal(p *heap.Ptr, final func(*heap.Ptr)) {
	obj := g.localObject(p)
	obj.finalFn = final
	g.finalisers++
}

// Sweep drops every foreign actor ref whose rc has reached zero (batching
// their accumulated object rc into a pending RELEASE). Local objects are
// not touched. It returns the actors that must now receive a RELEASE
// message, each paired with the ActorRef to send.
func (g *GC[A]) Sweep() []*ActorRef[A] {
	var released []*ActorRef[A]
	for actor, aref := range g.foreign {
		if aref.RC == 0 {
			delete(g.foreign, actor)
			released = append(released, aref)
		}
	}
	return released
}

// Acquire applies an incoming ACQUIRE message from a peer that is
// inventing references on our behalf: our own rc grows by the batch, and
// every object the peer named has its local rc bumped to match (objects
// reached only via another immutable reference may not be in our local
// map yet, hence getOrPut rather than a plain lookup). Returns true if the
// batch was non-empty (mirrors ponyint_gc_acquire's bool return, used by
// the caller to decide whether this affects quiescence).
func (g *GC[A]) Acquire(aref *ActorRef[A]) bool {
	g.rc += aref.RC

	for _, obj := range aref.Objects {
		local := g.localObject(obj.Ptr)
		local.RC += obj.RC
		if obj.Immutable {
			local.Immutable = true
		}
	}

	return aref.RC > 0
}

// Release applies an incoming RELEASE message: our rc shrinks by the
// batch, and every named object's local rc shrinks to match. An object
// whose local rc reaches zero while not known to be reachable is freed
// immediately rather than waiting for the next GC sweep. Returns true if
// the batch was non-empty.
func (g *GC[A]) Release(h *heap.Heap, aref *ActorRef[A]) bool {
	xdebug.Assertf(g.rc >= aref.RC, "gcrc: Release batch rc %d exceeds local rc %d", aref.RC, g.rc)
	g.rc -= aref.RC

	for _, obj := range aref.Objects {
		local := g.localObject(obj.Ptr)
		xdebug.Assertf(local.RC >= obj.RC, "gcrc: Release batch rc %d exceeds local object rc %d", obj.RC, local.RC)
		local.RC -= obj.RC

		if local.RC == 0 && !local.Reachable {
			delete(g.local, obj.Ptr)
		}
	}

	return aref.RC > 0
}

// Done advances to the next mark epoch, ending the current GC pass.
func (g *GC[A]) Done() { g.mark++ }

// PendingAcquires drains and returns the ACQUIRE batches accumulated
// during this pass's sends, for the caller to flush as messages at
// send-done.
func (g *GC[A]) PendingAcquires() map[A]*ActorRef[A] {
	pending := g.acquire
	g.acquire = make(map[A]*ActorRef[A])
	return pending
}

// Delta drains and returns the per-peer rc changes accumulated this pass,
// for the cycle detector's monitoring protocol.
func (g *GC[A]) Delta() map[A]uint64 {
	delta := g.delta
	g.delta = make(map[A]uint64)
	return delta
}

// DrainForeign empties the foreign-actor map entirely, returning every
// ref it held so the caller can send each one a RELEASE. Mirrors
// ponyint_gc_sendrelease's unconditional sweep of gc->foreign, used
// when an actor is being torn down and must drop every claim it still
// holds regardless of mark state.
func (g *GC[A]) DrainForeign() []*ActorRef[A] {
	refs := make([]*ActorRef[A], 0, len(g.foreign))
	for actor, aref := range g.foreign {
		refs = append(refs, aref)
		delete(g.foreign, actor)
	}
	return refs
}

// Final runs every registered object finaliser once, ahead of the actor
// itself being torn down. Mirrors ponyint_gc_final, minus its support for
// scheduling freshly-allocated finalisable objects created from inside
// another finaliser (this runtime never runs user code during shutdown
// finalisation, so that recursive case cannot arise here).
func (g *GC[A]) Final() {
	if g.finalisers == 0 {
		return
	}
	for _, obj := range g.local {
		if obj.finalFn != nil {
			obj.finalFn(obj.Ptr)
			obj.finalFn = nil
		}
	}
	g.finalisers = 0
}
