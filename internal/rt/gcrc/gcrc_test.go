package gcrc

import (
	"testing"

	"github.com/velalang/velac/internal/rt/heap"
)

type actorID int

func TestSendLocalActorOnlyOncePerEpoch(t *testing.T) {
	g := New[actorID](1)
	g.SendLocalActor()
	g.SendLocalActor()
	if g.RC() != 1 {
		t.Fatalf("RC() = %d, want 1 (SendLocalActor must be idempotent within one mark epoch)", g.RC())
	}
	g.Done()
	g.SendLocalActor()
	if g.RC() != 2 {
		t.Fatalf("RC() = %d, want 2 after a new epoch", g.RC())
	}
}

func TestSendRemoteActorFirstTimeInventsBatch(t *testing.T) {
	g := New[actorID](1)
	h := heap.New(nil)
	g.SendActor(2)

	delta := g.Delta()
	rc, ok := delta[2]
	if !ok {
		t.Fatalf("sending a never-before-seen remote actor should produce a delta entry")
	}
	if rc != IncMore-1 {
		t.Fatalf("rc for a fresh remote actor ref = %d, want %d", rc, IncMore-1)
	}

	acquires := g.PendingAcquires()
	if _, ok := acquires[2]; !ok {
		t.Fatalf("a fresh remote actor ref with rc<=1 must schedule an ACQUIRE")
	}
	_ = h
}

func TestSendLocalObjectIncrementsRCAndTraces(t *testing.T) {
	g := New[actorID](1)
	ph := heap.New(nil)
	p := ph.Alloc(16)

	traced := false
	g.SendObject(1, p, func(*heap.Ptr) { traced = true }, false)

	obj := g.local[p]
	if obj == nil || obj.RC != 1 {
		t.Fatalf("local object rc after one send = %v", obj)
	}
	if !traced {
		t.Fatalf("a mutable object must be traced on send")
	}
}

func TestSendLocalObjectImmutableSkipsTrace(t *testing.T) {
	g := New[actorID](1)
	ph := heap.New(nil)
	p := ph.Alloc(16)

	traced := false
	g.SendObject(1, p, func(*heap.Ptr) { traced = true }, true)

	if traced {
		t.Fatalf("an immutable object must not be traced into")
	}
}

func TestRecvLocalObjectDecrementsRC(t *testing.T) {
	g := New[actorID](1)
	ph := heap.New(nil)
	p := ph.Alloc(16)

	g.local[p] = &Object{Ptr: p, RC: 5, Mark: 0}
	g.mark = 1 // force a new epoch so recv isn't a same-mark no-op

	g.recvLocalObject(p, nil, false)

	if g.local[p].RC != 4 {
		t.Fatalf("local object rc after recv = %d, want 4", g.local[p].RC)
	}
	if !g.local[p].Reachable {
		t.Fatalf("recv must mark the object reachable")
	}
}

func TestAcquireAddsToRCAndObjectMap(t *testing.T) {
	g := New[actorID](1)
	ph := heap.New(nil)
	p := ph.Alloc(16)

	aref := newActorRef[actorID](2, 0)
	aref.RC = 10
	aref.object(p, 0).RC = 3

	if !g.Acquire(aref) {
		t.Fatalf("Acquire with a non-empty batch should report true")
	}
	if g.RC() != 10 {
		t.Fatalf("RC() after acquire = %d, want 10", g.RC())
	}
	if g.local[p].RC != 3 {
		t.Fatalf("local object rc after acquire = %d, want 3", g.local[p].RC)
	}
}

func TestReleaseFreesUnreachableZeroRCObject(t *testing.T) {
	g := New[actorID](1)
	ph := heap.New(nil)
	p := ph.Alloc(16)

	g.local[p] = &Object{Ptr: p, RC: 5, Reachable: false}
	g.rc = 5

	aref := newActorRef[actorID](2, 0)
	aref.RC = 5
	aref.object(p, 0).RC = 5

	g.Release(ph, aref)

	if _, ok := g.local[p]; ok {
		t.Fatalf("an unreachable object whose rc hits zero must be dropped from the local map")
	}
	if g.RC() != 0 {
		t.Fatalf("RC() after release = %d, want 0", g.RC())
	}
}

func TestSweepDropsZeroRCForeignRefs(t *testing.T) {
	g := New[actorID](1)
	g.foreign[2] = newActorRef[actorID](2, 0)
	g.foreign[2].RC = 0
	g.foreign[3] = newActorRef[actorID](3, 0)
	g.foreign[3].RC = 5

	released := g.Sweep()
	if len(released) != 1 || released[0].Actor != 2 {
		t.Fatalf("Sweep should release exactly actor 2's ref, got %+v", released)
	}
	if _, ok := g.foreign[2]; ok {
		t.Fatalf("released actor ref should be removed from foreign map")
	}
	if _, ok := g.foreign[3]; !ok {
		t.Fatalf("actor ref still holding rc must survive Sweep")
	}
}

func TestCreateActorInventsFullBatch(t *testing.T) {
	g := New[actorID](1)
	h := heap.New(nil)
	g.CreateActor(h, 9)

	if g.foreign[9].RC != IncMore {
		t.Fatalf("CreateActor should seed rc = %d, got %d", IncMore, g.foreign[9].RC)
	}
	if h.UsedBytes() != ActorHeapEquiv {
		t.Fatalf("CreateActor should charge ActorHeapEquiv bytes, got %d", h.UsedBytes())
	}
}
