package scenarios_test

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/sys/unix"

	"github.com/velalang/velac/internal/ast"
	"github.com/velalang/velac/internal/paint"
	"github.com/velalang/velac/internal/reach"
	"github.com/velalang/velac/internal/rt"
	"github.com/velalang/velac/internal/rt/asio"
	"github.com/velalang/velac/internal/rt/cycle"
	"github.com/velalang/velac/internal/rt/heap"
	"github.com/velalang/velac/internal/rt/sched"
)

type pingState struct{ peer *rt.Actor }

var _ = Describe("Ping-pong", func() {
	It("calls each actor's handler exactly N times and drains to quiescence", func() {
		const n = 25

		var aCalls, bCalls int64

		runtime, err := rt.New(rt.Config{Schedulers: 2})
		Expect(err).NotTo(HaveOccurred())

		typ := &rt.TypeDescriptor{Name: "Pinger"}
		a := runtime.Create(nil, typ)
		b := runtime.Create(nil, typ)
		a.State = &pingState{peer: b}
		b.State = &pingState{peer: a}

		typ.Dispatch = func(ctx *rt.Ctx, actor *rt.Actor, msg *rt.Message) {
			if actor == a {
				atomic.AddInt64(&aCalls, 1)
			} else {
				atomic.AddInt64(&bCalls, 1)
			}

			remaining := msg.Payload.(int)
			if remaining <= 0 {
				return
			}
			st := actor.State.(*pingState)
			runtime.Sendv(ctx, st.peer, &rt.Message{Kind: rt.KindApplication, Payload: remaining - 1})
		}

		// 2n-1 decrementing to 0 alternates strictly between a and b,
		// landing exactly n dispatches on each side. The first message is
		// queued before Start, since DontWait detects quiescence at once.
		runtime.Sendv(nil, a, &rt.Message{Kind: rt.KindApplication, Payload: 2*n - 1})

		done := make(chan struct{})
		go func() {
			runtime.Start(sched.DontWait)
			close(done)
		}()

		Eventually(done, 5*time.Second).Should(BeClosed())
		runtime.Stop()

		Expect(atomic.LoadInt64(&aCalls)).To(BeEquivalentTo(n))
		Expect(atomic.LoadInt64(&bCalls)).To(BeEquivalentTo(n))
	})
})

type ringState struct{ next *rt.Actor }

var _ = Describe("Ring", func() {
	It("returns heap usage near its initial value after many forwards", func() {
		const k = 5
		const hops = 200

		runtime, err := rt.New(rt.Config{Schedulers: 2})
		Expect(err).NotTo(HaveOccurred())

		typ := &rt.TypeDescriptor{Name: "RingNode"}
		actors := make([]*rt.Actor, k)
		for i := range actors {
			actors[i] = runtime.Create(nil, typ)
		}
		for i := range actors {
			actors[i].State = &ringState{next: actors[(i+1)%k]}
		}

		typ.Dispatch = func(ctx *rt.Ctx, actor *rt.Actor, msg *rt.Message) {
			// a per-hop scratch allocation nobody keeps a reference to,
			// standing in for the token's own transient payload.
			actor.Heap.Alloc(64)
			actor.Heap.TriggerGC()

			remaining := msg.Payload.(int)
			if remaining <= 0 {
				return
			}
			st := actor.State.(*ringState)
			runtime.Sendv(ctx, st.next, &rt.Message{Kind: rt.KindApplication, Payload: remaining - 1})
		}

		runtime.Sendv(nil, actors[0], &rt.Message{Kind: rt.KindApplication, Payload: hops})

		done := make(chan struct{})
		go func() {
			runtime.Start(sched.DontWait)
			close(done)
		}()

		Eventually(done, 5*time.Second).Should(BeClosed())
		runtime.Stop()

		for _, actor := range actors {
			Expect(actor.Heap.UsedBytes()).To(BeNumerically("<=", 64),
				"a ring node should retain at most its own still-live scratch chunk after its last GC pass")
		}
	})
})

var _ = Describe("Cycle collection", func() {
	It("collects a three-actor mutual-reference cycle once every member blocks", func() {
		sink := &collectingSink{}
		d := cycle.New[int](sink)

		// A -> B -> C -> A, each actor's only recorded reference is to
		// the next one around the ring: a classic three-node cycle no
		// member's local rc alone can ever zero.
		d.Block(1, 1, map[int]uint64{2: 1})
		d.Block(2, 1, map[int]uint64{3: 1})
		d.Block(3, 1, map[int]uint64{1: 1})
		d.CheckBlocked()

		Expect(sink.confCalls()).NotTo(BeEmpty(), "a genuine cycle should produce at least one SendConf")

		token := sink.confCalls()[0].token
		acked := map[int]bool{}
		for _, c := range sink.confCalls() {
			if c.token == token {
				acked[c.actor] = true
			}
		}

		var collected []int
		for range acked {
			result, ok := d.Ack(token)
			if ok {
				collected = result
			}
		}

		Expect(collected).To(HaveLen(3), "every member of A->B->C->A should be collected together")
		Expect(sink.destroyedActors()).To(HaveLen(3))
		Expect(sink.finalizedActors()).To(HaveLen(3))
	})
})

var _ = Describe("Allocator stress", func() {
	It("shrinks heap usage to exactly the live set after dropping references and forcing GC", func() {
		const m = 40

		type liveState struct {
			live []*heap.Ptr
		}

		var liveSize uint64
		for i := 0; i < m; i++ {
			if i%3 == 0 {
				liveSize += uint64(roundToSizeClass(sizeSequence[i%len(sizeSequence)]))
			}
		}

		runtime, err := rt.New(rt.Config{Schedulers: 1})
		Expect(err).NotTo(HaveOccurred())

		typ := &rt.TypeDescriptor{Name: "Allocator"}
		a := runtime.Create(nil, typ)
		a.State = &liveState{}

		// Trace only walks st.live: everything allocated in Dispatch but
		// not kept there is, by construction, unreachable by the time
		// the GC pass Dispatch triggers actually runs.
		typ.Trace = func(ctx *rt.Ctx, state any) {
			st := state.(*liveState)
			for _, p := range st.live {
				ctx.Trace(ctx.Actor, p)
			}
		}

		typ.Dispatch = func(ctx *rt.Ctx, actor *rt.Actor, msg *rt.Message) {
			st := actor.State.(*liveState)
			for i := 0; i < m; i++ {
				p := actor.Heap.Alloc(sizeSequence[i%len(sizeSequence)])
				if i%3 == 0 {
					st.live = append(st.live, p)
				}
			}
			actor.Heap.TriggerGC()
		}

		runtime.Sendv(nil, a, &rt.Message{Kind: rt.KindApplication})

		done := make(chan struct{})
		go func() {
			runtime.Start(sched.DontWait)
			close(done)
		}()
		Eventually(done, 5*time.Second).Should(BeClosed())
		runtime.Stop()

		Expect(a.Heap.UsedBytes()).To(Equal(liveSize))
	})
})

var _ = Describe("Painter", func() {
	It("cannot colour a triangle of pairwise-conflicting names with a single colour", func() {
		g := reach.New()
		a := g.AddType("Triangle_A", false)
		b := g.AddType("Triangle_B", false)
		c := g.AddType("Triangle_C", false)

		g.EnqueueMethod(a, &reach.Method{ShortName: "foo", FullName: "Triangle_A_foo", VtableIndex: -1})
		g.EnqueueMethod(a, &reach.Method{ShortName: "bar", FullName: "Triangle_A_bar", VtableIndex: -1})
		g.EnqueueMethod(b, &reach.Method{ShortName: "foo", FullName: "Triangle_B_foo", VtableIndex: -1})
		g.EnqueueMethod(b, &reach.Method{ShortName: "baz", FullName: "Triangle_B_baz", VtableIndex: -1})
		g.EnqueueMethod(c, &reach.Method{ShortName: "bar", FullName: "Triangle_C_bar", VtableIndex: -1})
		g.EnqueueMethod(c, &reach.Method{ShortName: "baz", FullName: "Triangle_C_baz", VtableIndex: -1})

		paint.Paint(g)

		foo := a.Methods["foo"].Methods[0].VtableIndex
		bar := a.Methods["bar"].Methods[0].VtableIndex
		baz := b.Methods["baz"].Methods[0].VtableIndex

		// foo and bar coexist on A, bar and baz coexist on C, foo and
		// baz coexist on B: every pair is forced apart, so a single
		// shared colour for all three names is impossible.
		Expect(foo).NotTo(Equal(bar))
		Expect(bar).NotTo(Equal(baz))
		Expect(foo).NotTo(Equal(baz))

		colours := map[int]bool{foo: true, bar: true, baz: true}
		Expect(len(colours)).To(BeNumerically(">=", 2))

		for _, t := range []*reach.Type{a, b, c} {
			maxColour := -1
			for _, name := range t.MethodNames() {
				for _, m := range t.Methods[name].Methods {
					if m.VtableIndex > maxColour {
						maxColour = m.VtableIndex
					}
				}
			}
			Expect(t.VtableSize).To(Equal(maxColour + 1))
		}
	})
})

var _ = Describe("Reachability", func() {
	It("walks a Main.create body to reach a callee, its field types, and a trait's forwarded methods", func() {
		g := reach.New()

		// An Animal trait with a speak() method, already reachable before
		// Dog satisfies it — exercises AddSubtype's retroactive forwarding
		// alongside the ordinary call/field walk.
		animal := g.AddType("pkg_Animal", true)
		g.EnqueueMethod(animal, &reach.Method{ShortName: "ref_speak", FullName: "pkg_Animal_ref_speak__None"})

		// Main.create's body: `let pet: Dog = Dog.create()` then
		// `pet.speak()`, with Dog declared as satisfying Animal.
		body := ast.NewTree(ast.Module)

		petDecl := ast.NewTree(ast.FLet)
		petDecl.SetData(&reach.FieldRef{Type: reach.TypeRef{TypeID: "pkg_Dog", Traits: []string{"pkg_Animal"}}})

		ctor := ast.NewTree(ast.Call)
		ctor.SetData(&reach.CallRef{
			Receiver:  reach.TypeRef{TypeID: "pkg_Dog", Traits: []string{"pkg_Animal"}},
			ShortName: "ref_create",
			FullName:  "pkg_Dog_ref_create__Dog",
			Kind:      reach.MethodNew,
		})
		petDecl.Append(ctor)

		speak := ast.NewTree(ast.Call)
		speak.SetData(&reach.CallRef{
			Receiver:  reach.TypeRef{TypeID: "pkg_Dog", Traits: []string{"pkg_Animal"}},
			ShortName: "ref_speak",
			FullName:  "pkg_Dog_ref_speak__None",
			Kind:      reach.MethodFun,
		})

		body.Append(petDecl)
		body.Append(speak)

		main := g.AddType("pkg_Main", false)
		create := &reach.Method{ShortName: "ref_create", FullName: "pkg_Main_ref_create__Main", AST: body}
		g.EnqueueMethod(main, create)

		g.Run(reach.DefaultWalker)

		dog, ok := g.Lookup("pkg_Dog")
		Expect(ok).To(BeTrue(), "walking the field decl and constructor call should reach pkg_Dog")
		Expect(dog.Subtypes).To(HaveKey("pkg_Animal"), "Dog should be registered as satisfying Animal")

		speakGroup, ok := dog.Methods["ref_speak"]
		Expect(ok).To(BeTrue(), "the direct pet.speak() call should reach Dog's own ref_speak")
		Expect(speakGroup.Methods).NotTo(BeEmpty())
	})
})

var _ = Describe("Quiescence with noisy ASIO", func() {
	It("refuses to stop while a noisy subscription is active, and stops once it is removed", func() {
		backend, err := asio.New()
		Expect(err).NotTo(HaveOccurred())
		backend.Start()

		r, w, err := os.Pipe()
		Expect(err).NotTo(HaveOccurred())
		defer r.Close()
		defer w.Close()
		Expect(unix.SetNonblock(int(r.Fd()), true)).To(Succeed())

		sub := backend.Subscribe(int(r.Fd()), asio.Read, true, func(asio.Flags) {})
		Expect(backend.NoisyCount()).To(BeEquivalentTo(1))
		Expect(backend.Stop()).To(BeFalse(), "a noisy subscription must keep the backend from stopping")

		backend.Unsubscribe(sub)
		Expect(backend.NoisyCount()).To(BeEquivalentTo(0))
		Expect(backend.Stop()).To(BeTrue(), "removing the last noisy subscription should allow a clean stop")
	})
})

// --- shared scenario plumbing -----------------------------------------

type confCall struct {
	actor int
	token uint64
}

// collectingSink is a cycle.Sink[int] that records every callback it
// receives, the same pattern internal/rt/cycle's own fakeSink uses, kept
// separate here so this suite doesn't need visibility into that
// package's unexported test helpers.
type collectingSink struct {
	mu        sync.Mutex
	confs     []confCall
	finalized []int
	destroyed []int
}

func (s *collectingSink) QueryBlocked(actor int) {}

func (s *collectingSink) SendConf(actor int, token uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confs = append(s.confs, confCall{actor, token})
}

func (s *collectingSink) Finalize(actor int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finalized = append(s.finalized, actor)
}

func (s *collectingSink) SendRelease(actor int) {}

func (s *collectingSink) Destroy(actor int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destroyed = append(s.destroyed, actor)
}

func (s *collectingSink) confCalls() []confCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]confCall(nil), s.confs...)
}

func (s *collectingSink) finalizedActors() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.finalized...)
}

func (s *collectingSink) destroyedActors() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.destroyed...)
}

// roundToSizeClass mirrors internal/rt/heap's own size-class rounding
// (64, 128, 256, 512, 1024, 2048 bytes) for anything that fits a page;
// anything bigger is a large, individually-tracked chunk charged at its
// exact requested size.
func roundToSizeClass(size int) int {
	const pageSize = 2048
	if size > pageSize {
		return size
	}
	class := 64
	for class < size {
		class <<= 1
	}
	return class
}

// sizeSequence cycles through a geometric progression spanning every
// small size class plus two large, individually-tracked sizes, so a
// run of m allocations exercises both allocation paths without the
// total ever growing past a few tens of kilobytes.
var sizeSequence = []int{64, 100, 160, 256, 420, 680, 1100, 1800, 3000, 4800}
