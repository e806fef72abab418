package rt

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/velalang/velac/internal/nlog"
	"github.com/velalang/velac/internal/rt/asio"
	"github.com/velalang/velac/internal/rt/cycle"
	"github.com/velalang/velac/internal/rt/gcrc"
	"github.com/velalang/velac/internal/rt/heap"
	"github.com/velalang/velac/internal/rt/mailbox"
	"github.com/velalang/velac/internal/rt/sched"
)

// traceMode selects which of gcrc's send/recv/mark method triples a
// Ctx's traceObject/traceActor calls go through, the Go analogue of
// swapping ctx->trace_object/ctx->trace_actor in pony_gc_send/
// pony_gc_recv/ponyint_gc_mark.
type traceMode int

const (
	traceSend traceMode = iota
	traceRecv
	traceMark
)

// Ctx is one call's view into the runtime: which actor is running,
// which scheduler it's running on (nil off-scheduler), and which
// tracing mode is active. The Go analogue of pony_ctx_t, minus the
// per-thread stack pony_ctx_t uses to make tracing iterative — Go's
// own call stack already does that job for TypeDescriptor.Trace's
// recursive field walk.
type Ctx struct {
	Scheduler *sched.Scheduler
	Actor     *Actor
	mode      traceMode
}

// Config selects a Runtime's scheduler pool size, cycle-detector
// forcing, blocked-check cadence, and whether to stand up an ASIO
// backend for event-driven actors.
type Config struct {
	Schedulers           int
	ForceCD              bool
	CheckBlockedInterval time.Duration
	EnableASIO           bool
	// InitialGCThreshold overrides the default per-actor heap.New
	// threshold for every actor this Runtime creates. Zero keeps the
	// heap package's own built-in default.
	InitialGCThreshold uint64

	// OnGCCycle, when set, is called once per completed per-actor GC
	// pass (the analogue of a Pony build's --ponynoblock accounting
	// hooks). cmd/velac wires this to internal/metrics so a GC pass
	// shows up as a counter increment without this package importing
	// metrics directly.
	OnGCCycle func(actorType string)
	// OnHeapGC, when set, is called with an actor's heap usage and
	// next-GC threshold right after the same GC pass.
	OnHeapGC func(actorID uuid.UUID, used, nextGC uint64)
}

// Runtime owns one program's entire live actor population: the
// scheduler pool, the cycle detector, and (optionally) the ASIO
// backend. It implements cycle.Sink[*Actor], routing every detector
// side effect back through ordinary message sends or direct
// actor-teardown calls exactly the way the original routes them
// through ACTORMSG_* sends to the target actor.
type Runtime struct {
	pool     *sched.Pool
	cdMu     sync.Mutex
	detector *cycle.Detector[*Actor]

	asio *asio.Backend

	checkInterval time.Duration
	stopCheck     chan struct{}
	checkWG       sync.WaitGroup

	onGCCycle func(actorType string)
	onHeapGC  func(actorID uuid.UUID, used, nextGC uint64)

	initialGCThreshold uint64
}

// New builds a Runtime from cfg. A zero CheckBlockedInterval defaults
// to 100ms, standing in for whatever cadence the embedding program's
// scheduler idle loop would otherwise drive check_blocked at.
func New(cfg Config) (*Runtime, error) {
	interval := cfg.CheckBlockedInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}

	rt := &Runtime{
		checkInterval: interval,
		stopCheck:     make(chan struct{}),
		onGCCycle:     cfg.OnGCCycle,
		onHeapGC:      cfg.OnHeapGC,

		initialGCThreshold: cfg.InitialGCThreshold,
	}
	rt.detector = cycle.New[*Actor](rt)
	rt.pool = sched.New(cfg.Schedulers, cfg.ForceCD, rt.detector)

	if cfg.EnableASIO {
		backend, err := asio.New()
		if err != nil {
			return nil, err
		}
		rt.asio = backend
	}

	nlog.Verboseln("rt: runtime created, schedulers =", rt.pool.Cores())
	return rt, nil
}

// Pool exposes the underlying scheduler pool, for callers that need
// Cores() or want to drive Start/Wait/Stop/Terminate themselves.
func (rt *Runtime) Pool() *sched.Pool { return rt.pool }

// ASIO exposes the backend enabled via Config.EnableASIO, nil if it
// wasn't.
func (rt *Runtime) ASIO() *asio.Backend { return rt.asio }

// CycleStats reports the cycle detector's cumulative counters
// (attempted/detected/collected deletion rounds, actors created and
// destroyed), guarded by the same mutex every other detector access
// goes through. internal/metrics polls this on an interval to publish
// gauges.
func (rt *Runtime) CycleStats() (attempted, detected, collected, created, destroyed int) {
	rt.cdMu.Lock()
	defer rt.cdMu.Unlock()
	return rt.detector.Stats()
}

// Start launches the scheduler pool and the background check_blocked
// sweep, the runtime-level analogue of pony_start.
func (rt *Runtime) Start(term sched.Termination) {
	if rt.asio != nil {
		rt.asio.Start()
	}

	rt.checkWG.Add(1)
	go rt.runCheckBlocked()

	rt.pool.Start(term)
}

// Stop winds the runtime down: the periodic check_blocked sweep first,
// then the scheduler pool (which begins quiescence detection and, for
// an async-started pool, blocks until drained), then the ASIO backend.
func (rt *Runtime) Stop() {
	close(rt.stopCheck)
	rt.checkWG.Wait()

	rt.pool.Stop()

	if rt.asio != nil {
		for !rt.asio.Stop() {
			time.Sleep(time.Millisecond)
		}
	}
}

func (rt *Runtime) runCheckBlocked() {
	defer rt.checkWG.Done()

	ticker := time.NewTicker(rt.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rt.stopCheck:
			return
		case <-ticker.C:
			rt.cdMu.Lock()
			rt.detector.CheckBlocked()
			rt.cdMu.Unlock()
		}
	}
}

func (rt *Runtime) schedule(ctx *Ctx, a *Actor) {
	if ctx != nil && ctx.Scheduler != nil {
		ctx.Scheduler.Send(a)
		return
	}
	rt.pool.Inject(a)
}

// Create allocates a fresh actor of type typ, the analogue of
// pony_create: an actor spawned by another actor starts with
// GC_INC_MORE invented references charged to its creator (nobody has
// explicitly acquired it yet), while a root actor created off-scheduler
// starts with a zero rc. Either way it is immediately registered with
// the cycle detector (ponyint_cycle_actor_created). Create does not put
// it on the pool: the first Sendv to it finds its mailbox empty and
// schedules it then.
func (rt *Runtime) Create(ctx *Ctx, typ *TypeDescriptor) *Actor {
	a := &Actor{rt: rt, typ: typ, ID: uuid.New(), queue: mailbox.New[*Message]()}
	a.Heap = heap.NewWithThreshold(a, rt.initialGCThreshold)
	a.GC = gcrc.New[*Actor](a)

	if ctx != nil && ctx.Actor != nil {
		creator := ctx.Actor
		a.GC.SeedRC(gcrc.IncMore)
		creator.GC.CreateActor(creator.Heap, a)
	}

	rt.cdMu.Lock()
	rt.detector.Created(a)
	rt.cdMu.Unlock()

	nlog.Verboseln("rt: actor created, id =", a.ID, "type =", typ.Name)
	return a
}

// DestroyNow tears down actor immediately, the analogue of
// pony_destroy: run its finaliser, then free its runtime resources.
// Meant for actors the embedding program destroys directly rather than
// through cycle collection.
func (rt *Runtime) DestroyNow(a *Actor) {
	a.setFlag(flagPendingDestroy)
	rt.final(a)
	rt.destroy(a)
}

// Alloc allocates size bytes on ctx's actor's own heap.
func (rt *Runtime) Alloc(ctx *Ctx, size int) *heap.Ptr {
	return ctx.Actor.Heap.Alloc(size)
}

// Realloc grows an existing allocation on ctx's actor's own heap.
func (rt *Runtime) Realloc(ctx *Ctx, p *heap.Ptr, size int) *heap.Ptr {
	return ctx.Actor.Heap.Realloc(p, size)
}

// AllocFinal allocates size bytes and registers final to run on it
// ahead of the owning actor's own teardown, the analogue of
// pony_alloc_final plus gc_register_final.
func (rt *Runtime) AllocFinal(ctx *Ctx, size int, final func(*heap.Ptr)) *heap.Ptr {
	p := ctx.Actor.Heap.Alloc(size)
	ctx.Actor.GC.RegisterFinal(p, final)
	return p
}

// TriggerGC forces ctx's actor's next message-processing pass to run a
// full GC regardless of its usual threshold, the analogue of
// pony_triggergc.
func (rt *Runtime) TriggerGC(ctx *Ctx) {
	ctx.Actor.Heap.TriggerGC()
}

// AllocMsg builds a Message of the given kind/id, the analogue of
// pony_alloc_msg (Go needs no pool-size bookkeeping, since a Message is
// an ordinary garbage-collected value).
func (rt *Runtime) AllocMsg(kind Kind, id uint32) *Message {
	return &Message{Kind: kind, ID: id}
}

// Sendv delivers msg to to, scheduling it if the push transitioned its
// mailbox from empty to non-empty and it isn't currently unscheduled —
// the analogue of pony_sendv.
func (rt *Runtime) Sendv(ctx *Ctx, to *Actor, msg *Message) {
	if to.queue.Push(msg) && !to.hasFlag(flagUnscheduled) {
		rt.schedule(ctx, to)
	}
}

// GCSendBegin switches ctx into send-tracing mode, the analogue of
// pony_gc_send: every traceObject/traceActor call until GCSendDone
// invents or decrements distributed references as this actor's
// message payload is walked.
func (ctx *Ctx) GCSendBegin() { ctx.mode = traceSend }

// GCSendDone flushes the ACQUIRE batches invented during this send and
// advances the GC mark epoch, the analogue of pony_send_done.
func (rt *Runtime) GCSendDone(ctx *Ctx) {
	a := ctx.Actor
	for peer, aref := range a.GC.PendingAcquires() {
		rt.Sendv(ctx, peer, &Message{Kind: KindAcquire, Acquire: aref})
	}
	a.GC.Done()
}

// GCRecvBegin switches ctx into receive-tracing mode, the analogue of
// pony_gc_recv.
func (ctx *Ctx) GCRecvBegin() { ctx.mode = traceRecv }

// GCRecvDone advances the GC mark epoch after a receive-mode trace
// pass, the analogue of pony_recv_done (no pending acquires are
// generated on the receive side).
func (rt *Runtime) GCRecvDone(ctx *Ctx) {
	ctx.Actor.GC.Done()
}

// Trace traces p as an opaque reference (no recursion into its
// fields), the analogue of pony_trace.
func (ctx *Ctx) Trace(owner *Actor, p *heap.Ptr) {
	ctx.traceObject(owner, p, nil, false)
}

// TraceKnown traces p, whose static type typ is known at the call
// site. If typ describes an actor type (Dispatch != nil), the
// reference is traced as an actor (target) instead of an object,
// mirroring pony_traceknown's `t->dispatch != NULL` check.
func (ctx *Ctx) TraceKnown(owner *Actor, p *heap.Ptr, typ *TypeDescriptor, m Mutability, target *Actor) {
	if typ != nil && typ.Dispatch != nil {
		ctx.traceActor(target)
		return
	}

	var trace gcrc.Trace
	if typ != nil && typ.Trace != nil {
		state := p
		trace = func(*heap.Ptr) {
			nested := &Ctx{Scheduler: ctx.Scheduler, Actor: ctx.Actor, mode: ctx.mode}
			typ.Trace(nested, state)
		}
	}
	ctx.traceObject(owner, p, trace, m == Immutable)
}

// TraceUnknown traces v, recovering its type descriptor from the value
// itself rather than from the call site — the Go analogue of
// pony_traceunknown reading `*(pony_type_t**)p`.
func (ctx *Ctx) TraceUnknown(owner *Actor, p *heap.Ptr, v Traceable, m Mutability, target *Actor) {
	ctx.TraceKnown(owner, p, v.TypeDescriptor(), m, target)
}

func (ctx *Ctx) traceObject(owner *Actor, p *heap.Ptr, trace gcrc.Trace, immutable bool) {
	g := ctx.Actor.GC
	switch ctx.mode {
	case traceSend:
		g.SendObject(owner, p, trace, immutable)
	case traceRecv:
		g.RecvObject(ctx.Actor.Heap, owner, p, trace, immutable, len(p.Bytes))
	case traceMark:
		g.MarkObject(ctx.Actor.Heap, owner, p, trace, immutable, len(p.Bytes))
	}
}

func (ctx *Ctx) traceActor(target *Actor) {
	g := ctx.Actor.GC
	switch ctx.mode {
	case traceSend:
		g.SendActor(target)
	case traceRecv:
		g.RecvActor(ctx.Actor.Heap, target)
	case traceMark:
		g.MarkActor(ctx.Actor.Heap, target)
	}
}

// blockActor reports actor as newly idle to the cycle detector,
// the analogue of cycle_block.
func (rt *Runtime) blockActor(a *Actor) {
	rc := a.GC.RC()
	delta := a.GC.Delta()

	rt.cdMu.Lock()
	rt.detector.Block(a, rc, delta)
	rt.cdMu.Unlock()
}

func (rt *Runtime) unblock(a *Actor) {
	rt.cdMu.Lock()
	rt.detector.Unblock(a)
	rt.cdMu.Unlock()
}

func (rt *Runtime) ack(token uint64) {
	rt.cdMu.Lock()
	rt.detector.Ack(token)
	rt.cdMu.Unlock()
}

func (rt *Runtime) final(a *Actor) {
	if a.typ.Final != nil {
		a.typ.Final(a.State)
	}
	a.GC.Final()
}

func (rt *Runtime) destroy(a *Actor) {
	_ = a // nothing further to release explicitly; Go's GC reclaims the rest
}

// --- cycle.Sink[*Actor] -----------------------------------------------

// QueryBlocked asks a to report its current blocked state, the
// analogue of sending ACTORMSG_ISBLOCKED.
func (rt *Runtime) QueryBlocked(a *Actor) {
	rt.Sendv(nil, a, &Message{Kind: KindIsBlocked})
}

// SendConf tells a it is believed part of perceived cycle token, the
// analogue of sending ACTORMSG_CONF.
func (rt *Runtime) SendConf(a *Actor, token uint64) {
	rt.Sendv(nil, a, &Message{Kind: KindConf, Token: token})
}

// Finalize runs a's user finaliser and any outstanding object
// finalisers, called with the detector's lock already held by the
// collect pass that decided a belongs to a confirmed cycle.
func (rt *Runtime) Finalize(a *Actor) {
	rt.final(a)
}

// SendRelease drops every distributed-RC claim a still holds on other
// actors, the analogue of ponyint_actor_sendrelease /
// ponyint_gc_sendrelease.
func (rt *Runtime) SendRelease(a *Actor) {
	for _, aref := range a.GC.DrainForeign() {
		rt.Sendv(nil, aref.Actor, &Message{Kind: KindRelease, Acquire: aref})
	}
}

// Destroy frees a's runtime resources for good, the analogue of
// ponyint_actor_destroy. Finalisation is a separate Sink call
// (Finalize), made before this one by the cycle detector's collect
// pass, so this never re-runs a's finaliser.
func (rt *Runtime) Destroy(a *Actor) {
	a.setFlag(flagPendingDestroy)
	rt.destroy(a)
	nlog.Verboseln("rt: actor destroyed by cycle collection, id =", a.ID)
}
