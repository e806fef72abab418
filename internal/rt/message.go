// Package rt is the actor runtime's glue layer: the Actor and Runtime
// types that tie internal/rt/heap, internal/rt/mailbox,
// internal/rt/gcrc, internal/rt/sched, internal/rt/cycle and
// internal/rt/asio into something a generated program can actually run
// on, plus the Message/TypeDescriptor shapes that glue expects.
//
// Grounded on
// _examples/original_source/src/libponyrt/actor/actor.c and
// _examples/original_source/src/libponyrt/gc/trace.c, both read in
// full: pony_actor_t's fields and flag bits, handle_message's system
// message dispatch (ACQUIRE/RELEASE/CONF handled inline, everything
// else falling through to the type's own dispatch and implicitly
// unblocking), actor_run's continuation-first drain loop and its
// post-drain blocked/quiescence bookkeeping, and pony_gc_send/recv's
// trace_object/trace_actor function-slot swap that pony_trace,
// pony_traceknown and pony_traceunknown all read through.
package rt

import "github.com/velalang/velac/internal/rt/gcrc"

// Kind identifies what a Message carries, mirroring the reserved
// ACTORMSG_* ids plus one catch-all for everything a generated
// program's own behaviours send.
type Kind uint32

const (
	// KindAcquire is ACTORMSG_ACQUIRE: a peer inventing extra
	// distributed references on this actor's behalf.
	KindAcquire Kind = iota
	// KindRelease is ACTORMSG_RELEASE: a peer dropping references it
	// previously acquired.
	KindRelease
	// KindConf is ACTORMSG_CONF: the cycle detector asking this actor
	// to confirm it is still part of a perceived cycle.
	KindConf
	// KindIsBlocked is the cycle detector's blocked-status query. It
	// carries no payload; receiving it simply nudges the actor
	// through its normal default-case unblock logic, the same way any
	// other message would.
	KindIsBlocked
	// KindApplication is every message a generated program's own
	// behaviours send; Dispatch only ever sees this kind.
	KindApplication
)

// Message is one entry on an actor's mailbox, the Go analogue of
// pony_msg_t and its msgp/msgi payload variants collapsed into one
// shape (Go doesn't need the original's three message sizes, since a
// Message is an ordinary heap value rather than something carved out
// of a size-classed pool allocator).
type Message struct {
	Kind Kind

	// ID identifies which behaviour a KindApplication message invokes;
	// meaningless for every other Kind.
	ID uint32

	// Acquire carries the ActorRef batch for KindAcquire/KindRelease.
	Acquire *gcrc.ActorRef[*Actor]

	// Token carries the perceived-cycle id for KindConf.
	Token uint64

	// Payload carries a KindApplication message's arguments, typed as
	// whatever the generated behaviour expects.
	Payload any
}

// Mutability mirrors the three PONY_TRACE_* values a traced reference
// can carry: fully accessible, read-only, or opaque (held but never
// dereferenced).
type Mutability int

const (
	Mutable Mutability = iota
	Immutable
	Opaque
)

// TypeDescriptor is the runtime's view of a generated type: enough to
// create, trace, dispatch to, and finalise an instance of it, the Go
// analogue of pony_type_t's function-pointer table (field offsets and
// a raw byte layout don't apply here, since Go state is an ordinary
// value behind an interface rather than manually laid out memory).
type TypeDescriptor struct {
	ID   uint32
	Name string

	// Dispatch is non-nil exactly for actor types: its presence is how
	// TraceKnown/TraceUnknown decide whether a traced reference needs
	// actor-style rc bookkeeping (trace_actor) instead of object-style
	// bookkeeping (trace_object), mirroring `t->dispatch != NULL` in
	// pony_traceknown/pony_traceunknown.
	Dispatch func(ctx *Ctx, a *Actor, msg *Message)

	// Trace recurses into an instance's own fields, invoking
	// ctx.Trace/ctx.TraceKnown/ctx.TraceUnknown for each one. Nil for types with
	// no traceable fields (acts like a type with trace_fn == NULL).
	Trace func(ctx *Ctx, state any)

	// Final runs once, immediately before an instance is torn down.
	Final func(state any)

	// Serialise/Deserialise support the distributed messaging surface
	// this runtime does not implement locally; left nil and named here
	// only so a type descriptor's shape matches the full original
	// layout for any future wiring.
	Serialise   func(state any) []byte
	Deserialise func([]byte) any

	// EventNotify is the ASIO message id this type expects to receive
	// readiness notifications on, 0 if it never subscribes.
	EventNotify uint32

	// Vtable holds one dynamic-dispatch thunk per painted colour slot,
	// indexed the way internal/paint assigns VtableIndex.
	Vtable []func(ctx *Ctx, receiver any, args []any) []any
}

// Traceable is implemented by a value whose own type descriptor can be
// recovered from the value itself, the Go analogue of the hidden
// pony_type_t* every object's first word carries in the original
// (`*(pony_type_t**)p`), read by pony_traceunknown to learn a
// reference's type without the caller having to know it statically.
type Traceable interface {
	TypeDescriptor() *TypeDescriptor
}
