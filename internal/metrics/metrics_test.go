package metrics

import (
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveSchedulerDepthSetsTheGauge(t *testing.T) {
	r := New()
	r.ObserveSchedulerDepth(2, 7)

	got := testutil.ToFloat64(r.schedulerDepth.WithLabelValues("2"))
	if got != 7 {
		t.Fatalf("queue_depth{scheduler=\"2\"} = %v, want 7", got)
	}
}

func TestObserveHeapSetsUsedAndNextGC(t *testing.T) {
	r := New()
	id := uuid.New()
	r.ObserveHeap(id, 1024, 16384)

	if got := testutil.ToFloat64(r.heapUsed.WithLabelValues(id.String())); got != 1024 {
		t.Fatalf("used_bytes = %v, want 1024", got)
	}
	if got := testutil.ToFloat64(r.heapNextGC.WithLabelValues(id.String())); got != 16384 {
		t.Fatalf("next_gc_bytes = %v, want 16384", got)
	}
}

func TestObserveGCCycleIncrementsCounter(t *testing.T) {
	r := New()
	r.ObserveGCCycle("Pinger")
	r.ObserveGCCycle("Pinger")

	if got := testutil.ToFloat64(r.gcCycles.WithLabelValues("Pinger")); got != 2 {
		t.Fatalf("gc_cycles_total{actor_type=\"Pinger\"} = %v, want 2", got)
	}
}

func TestObserveCycleStatsSetsEveryGauge(t *testing.T) {
	r := New()
	r.ObserveCycleStats(5, 2, 4, 100, 96)

	if got := testutil.ToFloat64(r.cycleAttempted); got != 5 {
		t.Fatalf("attempted_total = %v, want 5", got)
	}
	if got := testutil.ToFloat64(r.cycleCollected); got != 4 {
		t.Fatalf("collected_total = %v, want 4", got)
	}
	if got := testutil.ToFloat64(r.cycleDestroyed); got != 96 {
		t.Fatalf("actors_destroyed_total = %v, want 96", got)
	}
}

// NilRegistry exercises the "nil Registry no-ops" contract every
// Observe* method promises, so embedding metrics stays optional.
func TestNilRegistryMethodsDoNotPanic(t *testing.T) {
	var r *Registry
	r.ObserveSchedulerDepth(0, 1)
	r.ObserveHeap(uuid.New(), 1, 2)
	r.ObserveGCCycle("X")
	r.ObserveCycleStats(1, 1, 1, 1, 1)
	_ = r.Gatherer()
}
