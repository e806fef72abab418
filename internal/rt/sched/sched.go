// Package sched implements C9: the work-stealing actor scheduler.
//
// Grounded on
// _examples/original_source/src/libponyrt/sched/scheduler.c, read in
// full: one run queue per scheduler, cyclic work stealing guarded by a
// per-scheduler "thief" pointer, a global injection queue for actors
// that arrive before any scheduler claims them, and a quiescence check
// that hands off to the cycle detector once every scheduler reports
// idle at the same time.
//
// Deliberate deviation: the original pins one OS thread per scheduler
// with explicit CPU affinity (cpu_affinity) and lets the calling thread
// double as scheduler 0 to avoid spawning a thread for it. Go's runtime
// already multiplexes goroutines onto GOMAXPROCS threads, so Pool.Start
// always spawns one goroutine per scheduler and relies on the Go
// scheduler for placement; there is no standard-library CPU affinity
// primitive, and none of the example repos pull in one, so this is
// carried as a documented simplification rather than papered over with
// a fabricated dependency.
package sched

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// Actor is anything a Pool can run. Run executes one batch of the
// actor's pending behaviours and reports whether the actor should be
// rescheduled (it has more work queued, or is otherwise still alive).
type Actor interface {
	Run(sched *Scheduler) bool
}

// queueNode is the run queue's intrusive-in-spirit link node. The
// original chains actors together through a next field living on the
// actor struct itself; Go actors are opaque interface values, so a
// small wrapper node plays that role instead.
type queueNode struct {
	actor Actor
	next  *queueNode
}

// Termination selects how Pool.Start waits for scheduler threads to
// finish, mirroring pony_termination_t.
type Termination int

const (
	// WaitForQuiescence blocks Start until the pool winds down.
	// Quiescence detection begins only once Stop is called; after that
	// Start returns as soon as every scheduler is idle at once and the
	// cycle detector has run. Equivalent to PONY_WAIT.
	WaitForQuiescence Termination = iota
	// DontWait starts quiescence detection immediately rather than
	// waiting for an explicit Stop. Equivalent to PONY_DONT_WAIT.
	DontWait
	// AsyncWait spawns the scheduler goroutines and returns
	// immediately; the caller must call Pool.Wait (or Pool.Stop) to
	// bring the pool down. Equivalent to PONY_ASYNC_WAIT.
	AsyncWait
)

// CycleDetector is the subset of the cycle detector's API the
// scheduler needs to kick off termination once every scheduler is
// quiescent at the same time. internal/rt/cycle's Detector satisfies
// it (rt.New passes one in); with a nil CycleDetector, quiescence
// terminates the pool without any detector hand-off.
type CycleDetector interface {
	Terminate(force bool)
}

// blockedSentinel marks a scheduler's thief field as "claimed by
// myself, while I look for a victim", preventing another scheduler
// from trying to steal from an already-idle scheduler at the same
// moment it is trying to steal from someone else.
var blockedSentinel = &Scheduler{}

// Scheduler is one worker in a Pool: a single run queue plus the
// bookkeeping needed to steal from, and be stolen from by, its peers.
type Scheduler struct {
	id   int
	pool *Pool

	head *queueNode // insertion end
	tail *queueNode // removal end
	qlen atomic.Int64

	finish   bool
	forceCD  bool
	victim   *Scheduler
	thief    atomic.Pointer[Scheduler]
	waiting  atomic.Bool
}

// Len reports the scheduler's current run-queue depth. Safe to call
// from any goroutine (internal/metrics polls it), unlike push/pop/Send
// which must run on sched's own goroutine.
func (s *Scheduler) Len() int64 { return s.qlen.Load() }

// ID reports this scheduler's index within its Pool, for labeling
// per-scheduler metrics.
func (s *Scheduler) ID() int { return s.id }

// Push puts actor on this scheduler's run queue. Only safe to call
// from the goroutine that owns sched, or before the pool has started.
func (s *Scheduler) push(actor Actor) {
	n := &queueNode{actor: actor}
	if s.head != nil {
		s.head.next = n
		s.head = n
	} else {
		s.head = n
		s.tail = n
	}
	s.qlen.Add(1)
}

// Send schedules actor on sched's own run queue, the direct analogue
// of calling scheduler_add from inside a running scheduler thread.
func (s *Scheduler) Send(actor Actor) {
	s.push(actor)
}

func (s *Scheduler) handleInject() {
	for {
		actor, ok := s.pool.inject.pop()
		if !ok {
			return
		}
		s.push(actor)
	}
}

func (s *Scheduler) pop() Actor {
	s.handleInject()

	n := s.tail
	if n == nil {
		return nil
	}

	if n != s.head {
		s.tail = n.next
	} else {
		s.head = nil
		s.tail = nil
	}
	s.qlen.Add(-1)

	return n.actor
}

// injectQueue is the shared landing spot for actors scheduled before
// any particular scheduler has claimed them (fresh spawns from outside
// a scheduler goroutine, or sends to an actor no scheduler currently
// owns).
//
// Deliberate deviation: the original backs this with mpmcq_t, a
// lock-free multi-producer multi-consumer queue. A mutex-guarded slice
// is the straightforward Go substitute: contention here is limited to
// actor creation and cross-scheduler wakeups, not the per-message hot
// path (that's messageq_t, already reimplemented lock-free in
// internal/rt/mailbox), so the original's ABA-avoiding pointer tricks
// would be complexity spent on a queue that isn't the bottleneck.
type injectQueue struct {
	mu    sync.Mutex
	items []Actor
}

func (q *injectQueue) push(actor Actor) {
	q.mu.Lock()
	q.items = append(q.items, actor)
	q.mu.Unlock()
}

func (q *injectQueue) pop() (Actor, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	actor := q.items[0]
	q.items = q.items[1:]
	return actor, true
}

// Pool owns every Scheduler and the global quiescence/termination
// state shared between them, mirroring scheduler.c's file-scope
// globals (scheduler_count, scheduler_waiting, detect_quiescence,
// shutdown_on_stop, terminate).
type Pool struct {
	schedulers []*Scheduler
	inject     injectQueue

	waitingCount     atomic.Int32
	detectQuiescence atomic.Bool
	terminate        atomic.Bool
	shutdownOnStop   bool

	cycleDetector CycleDetector

	// stealSem bounds how many schedulers may probe for a steal victim
	// at once. At startup every scheduler's run queue is empty, so
	// every goroutine calls chooseVictim in the same instant; without a
	// cap, that's an O(n) pile of CAS attempts against the same handful
	// of thief pointers. n/2+1 schedulers may probe
	// concurrently, the rest queue behind the semaphore instead of
	// spinning on failed CASes.
	stealSem *semaphore.Weighted

	wg sync.WaitGroup
}

// New builds a pool of n schedulers. n <= 0 defaults to
// runtime.GOMAXPROCS(0), the closest Go equivalent to the original's
// physical-core count. forceCD is threaded through to the cycle
// detector when quiescence fires on scheduler 0, the one scheduler
// flagged "finish" exactly as in scheduler_init.
func New(n int, forceCD bool, cd CycleDetector) *Pool {
	if n <= 0 {
		n = runtime.GOMAXPROCS(0)
	}

	p := &Pool{cycleDetector: cd}
	p.stealSem = semaphore.NewWeighted(int64(n/2 + 1))
	p.schedulers = make([]*Scheduler, n)
	for i := range p.schedulers {
		p.schedulers[i] = &Scheduler{id: i, pool: p}
	}
	p.schedulers[0].finish = true
	p.schedulers[0].forceCD = forceCD

	return p
}

// Cores reports how many schedulers the pool runs.
func (p *Pool) Cores() int { return len(p.schedulers) }

// Schedulers returns every scheduler in the pool, for callers (metrics
// collection) that need to read per-scheduler state such as Len.
func (p *Pool) Schedulers() []*Scheduler { return p.schedulers }

// Inject schedules actor from outside any scheduler goroutine — the
// entry point for the very first actor a program creates, or for a
// send that originates off the scheduler pool entirely.
func (p *Pool) Inject(actor Actor) {
	p.inject.push(actor)
}

func (p *Pool) chooseVictim(sched *Scheduler) *Scheduler {
	n := len(p.schedulers)
	if n == 1 {
		return nil
	}

	if err := p.stealSem.Acquire(context.Background(), 1); err != nil {
		return nil
	}
	defer p.stealSem.Release(1)

	start := sched.id
	idx := start

	for {
		idx--
		if idx < 0 {
			idx = n - 1
		}

		victim := p.schedulers[idx]
		if victim.thief.CompareAndSwap(nil, sched) {
			sched.victim = victim
			return victim
		}

		if idx == start {
			return nil
		}
	}
}

// quiescent reports whether the pool should stop entirely. As in
// cycle_terminate's caller, only the scheduler marked "finish" ever
// triggers the cycle detector's termination attempt, and only once
// every scheduler is observed waiting at the same instant; once that
// attempt returns, the pool is marked terminated.
func (p *Pool) quiescent(sched *Scheduler) bool {
	if !p.detectQuiescence.Load() {
		return false
	}
	if p.terminate.Load() {
		return true
	}

	if sched.finish {
		if int(p.waitingCount.Load()) == len(p.schedulers) {
			if sched.victim != nil {
				sched.victim.thief.Store(nil)
			}
			sched.waiting.Store(false)
			if p.cycleDetector != nil {
				p.cycleDetector.Terminate(sched.forceCD)
			}
			p.terminate.Store(true)
			return true
		}
	}

	return false
}

// spinWait replicates cpu_core_pause's tight-spin-then-sleep shape:
// busy-spin briefly via runtime.Gosched, then fall back to increasing
// sleeps, reporting true periodically so the caller re-checks
// quiescence without doing so on every single spin.
type spinWait struct {
	spins int
}

func (w *spinWait) pause() bool {
	w.spins++
	if w.spins < 64 {
		runtime.Gosched()
		return false
	}

	d := time.Duration(w.spins-64) * time.Microsecond
	if d > time.Millisecond {
		d = time.Millisecond
	}
	time.Sleep(d)
	return true
}

// request is called once a scheduler's own run queue is empty. It
// tries to steal from a cyclically-chosen victim, falling back to a
// spin/sleep wait for either a steal or a quiescence-triggered
// shutdown.
func (p *Pool) request(sched *Scheduler) Actor {
	var nilThief *Scheduler
	blocked := sched.thief.CompareAndSwap(nilThief, blockedSentinel)

	p.waitingCount.Add(1)
	wait := &spinWait{}

	var actor Actor
	for {
		sched.waiting.Store(true)

		victim := p.chooseVictim(sched)
		if victim != nil {
			for sched.waiting.Load() {
				if wait.pause() && p.quiescent(sched) {
					p.waitingCount.Add(-1)
					return nil
				}
			}
			sched.victim = nil
		} else {
			if wait.pause() && p.quiescent(sched) {
				p.waitingCount.Add(-1)
				return nil
			}
		}

		if actor = sched.pop(); actor != nil {
			break
		}
	}

	p.waitingCount.Add(-1)

	if blocked {
		sched.thief.CompareAndSwap(blockedSentinel, nil)
	}

	return actor
}

// respond checks whether another scheduler has registered itself as
// sched's thief, and if so hands it one actor (keeping at least the
// one sched is about to run for itself), then wakes the thief
// regardless of whether it received an actor.
func (p *Pool) respond(sched *Scheduler) {
	thief := sched.thief.Load()
	if thief == nil || thief == blockedSentinel {
		return
	}

	if actor := sched.pop(); actor != nil {
		thief.push(actor)
	}

	thief.waiting.Store(false)
	sched.thief.CompareAndSwap(thief, nil)
}

func (p *Pool) run(sched *Scheduler) {
	for {
		actor := sched.pop()

		if actor == nil {
			actor = p.request(sched)
			if actor == nil {
				return
			}
		} else {
			p.respond(sched)
		}

		if actor.Run(sched) {
			sched.push(actor)
		}
	}
}

// Start launches every scheduler goroutine. Under WaitForQuiescence
// and DontWait it blocks until the pool has fully drained; under
// AsyncWait it returns immediately and the caller must later call
// Wait or Stop.
func (p *Pool) Start(term Termination) {
	p.detectQuiescence.Store(term == DontWait)
	p.shutdownOnStop = term == AsyncWait

	p.wg.Add(len(p.schedulers))
	for _, s := range p.schedulers {
		s := s
		go func() {
			defer p.wg.Done()
			p.run(s)
		}()
	}

	if term != AsyncWait {
		p.Wait()
	}
}

// Wait blocks until every scheduler goroutine has returned, then
// resets the pool's quiescence state so a stopped pool could in
// principle be restarted.
func (p *Pool) Wait() {
	p.wg.Wait()
	p.detectQuiescence.Store(false)
	p.terminate.Store(false)
	p.waitingCount.Store(0)
}

// Stop begins quiescence detection (so idle schedulers start checking
// for a globally-quiescent moment) and, for pools started with
// AsyncWait, blocks until they've actually wound down.
func (p *Pool) Stop() {
	p.detectQuiescence.Store(true)
	if p.shutdownOnStop {
		p.Wait()
	}
}

// Terminate forces every scheduler to exit on its next quiescence
// check, regardless of whether the cycle detector agreed to collect.
func (p *Pool) Terminate() {
	p.terminate.Store(true)
}
