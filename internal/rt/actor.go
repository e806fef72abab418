package rt

import (
	"github.com/google/uuid"

	"github.com/velalang/velac/internal/rt/gcrc"
	"github.com/velalang/velac/internal/rt/heap"
	"github.com/velalang/velac/internal/rt/mailbox"
	"github.com/velalang/velac/internal/rt/sched"
)

// Flag bits mirror FLAG_BLOCKED/FLAG_SYSTEM/FLAG_UNSCHEDULED/
// FLAG_PENDINGDESTROY from actor.c.
const (
	flagBlocked uint8 = 1 << iota
	flagSystem
	flagUnscheduled
	flagPendingDestroy
)

// Actor is one running instance of a generated actor type: its own
// heap, its own GC/distributed-RC bookkeeping, its own mailbox, and
// whatever application state the generated type stores. It implements
// sched.Actor, so a *Runtime's Pool can run it directly.
type Actor struct {
	rt    *Runtime
	typ   *TypeDescriptor
	State any

	// ID identifies this actor in log lines and the OnHeapGC hook, a
	// uuid instead of a raw pointer or memory address so
	// separate runs/processes never collide when a stuck program gets
	// diagnosed.
	ID uuid.UUID

	Heap *heap.Heap
	GC   *gcrc.GC[*Actor]

	queue        *mailbox.Queue[*Message]
	continuation *Message

	flags uint8
}

func (a *Actor) hasFlag(f uint8) bool  { return a.flags&f != 0 }
func (a *Actor) setFlag(f uint8)       { a.flags |= f }
func (a *Actor) clearFlag(f uint8)     { a.flags &^= f }

// Type reports the actor's type descriptor.
func (a *Actor) Type() *TypeDescriptor { return a.typ }

// Continue sets the one-shot continuation slot actor_run drains before
// its mailbox, the way pony_continuation does. Only meaningful before
// the actor next runs.
func (a *Actor) Continue(msg *Message) {
	a.continuation = msg
}

// handleMessage is handle_message ported directly: ACQUIRE/RELEASE/CONF
// are handled inline against this actor's own GC/cycle-detector state
// and never reach the type's Dispatch; anything else unblocks the
// actor (if it was blocked), and a KindApplication message is then
// passed to the type's Dispatch (when it has one).
// It reports whether the cycle detector should be notified of a state
// change, and whether the message was a KindIsBlocked or
// KindApplication one (actor_run stops draining and triggers gc as
// soon as one is).
func (rt *Runtime) handleMessage(ctx *Ctx, a *Actor, msg *Message) (notifyCD, dispatched bool) {
	switch msg.Kind {
	case KindAcquire:
		if a.GC.Acquire(msg.Acquire) && a.hasFlag(flagBlocked) {
			notifyCD = true
		}
		return notifyCD, false

	case KindRelease:
		if a.GC.Release(a.Heap, msg.Acquire) && a.hasFlag(flagBlocked) {
			notifyCD = true
		}
		return notifyCD, false

	case KindConf:
		rt.ack(msg.Token)
		return false, false

	default: // KindIsBlocked, KindApplication
		if a.hasFlag(flagBlocked) {
			rt.unblock(a)
			a.clearFlag(flagBlocked)
		}
		if msg.Kind == KindApplication && a.typ.Dispatch != nil {
			a.typ.Dispatch(ctx, a, msg)
		}
		return false, true
	}
}

// tryGC is try_gc ported directly: a GC pass only runs once the heap
// reports its threshold crossed, trace walks whatever fields the
// type's Trace function visits, Sweep's released peers get a RELEASE
// sent back, and the heap's own sweep/threshold-doubling runs last.
func (rt *Runtime) tryGC(ctx *Ctx, a *Actor) {
	if !a.Heap.StartGC() {
		return
	}

	ctx.mode = traceMark
	if a.typ.Trace != nil {
		a.typ.Trace(ctx, a.State)
	}

	for _, aref := range a.GC.Sweep() {
		rt.Sendv(ctx, aref.Actor, &Message{Kind: KindRelease, Acquire: aref})
	}
	a.GC.Done()
	a.Heap.EndGC()

	if rt.onGCCycle != nil {
		rt.onGCCycle(a.typ.Name)
	}
	if rt.onHeapGC != nil {
		rt.onHeapGC(a.ID, a.Heap.UsedBytes(), a.Heap.NextGC())
	}
}

// Run implements sched.Actor. It mirrors actor_run: drain the
// continuation slot first, then the mailbox, stopping and requesting a
// GC pass as soon as one application message is handled; once the
// queue is exhausted without one, decide whether this is a new block
// (notifying the cycle detector) and whether the queue can be marked
// empty.
func (a *Actor) Run(s *sched.Scheduler) bool {
	ctx := &Ctx{Scheduler: s, Actor: a, mode: traceMark}
	notify := false

	step := func(msg *Message) (stop bool) {
		n, dispatched := a.rt.handleMessage(ctx, a, msg)
		if n {
			notify = true
		}
		if dispatched {
			a.rt.tryGC(ctx, a)
			return true
		}
		return false
	}

	if a.continuation != nil {
		msg := a.continuation
		a.continuation = nil
		if step(msg) {
			return !a.hasFlag(flagUnscheduled)
		}
	}

	for {
		msg, ok := a.queue.Pop()
		if !ok {
			break
		}
		if step(msg) {
			return !a.hasFlag(flagUnscheduled)
		}
	}

	a.rt.tryGC(ctx, a)

	if a.hasFlag(flagUnscheduled) {
		return false
	}

	if notify || !a.hasFlag(flagBlocked|flagSystem) {
		a.rt.blockActor(a)
		a.setFlag(flagBlocked)
	}

	return !a.queue.MarkEmpty()
}

// Schedule clears FLAG_UNSCHEDULED and hands actor back to the pool,
// the analogue of pony_schedule.
func (rt *Runtime) Schedule(ctx *Ctx, a *Actor) {
	if !a.hasFlag(flagUnscheduled) {
		return
	}
	a.clearFlag(flagUnscheduled)
	rt.schedule(ctx, a)
}

// Unschedule is pony_unschedule: an actor voluntarily taking itself off
// the run queue, unblocking first if the cycle detector thought it was
// idle.
func (rt *Runtime) Unschedule(a *Actor) {
	if a.hasFlag(flagBlocked) {
		rt.unblock(a)
		a.clearFlag(flagBlocked)
	}
	a.setFlag(flagUnscheduled)
}

// SetSystem marks a as a system actor (FLAG_SYSTEM), exempting it from
// the cycle detector's default blocked-notification. An ACQUIRE/RELEASE
// only forces one while the actor is already marked blocked, so a system
// actor that was not blocked when SetSystem ran is never reported
// blocked.
func (a *Actor) SetSystem() { a.setFlag(flagSystem) }
