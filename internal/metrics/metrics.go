// Package metrics exposes the runtime's own health as Prometheus
// gauges and counters: scheduler run-queue depth, per-actor heap
// used/next_gc, GC cycle count, and the cycle detector's
// attempted/detected/collected/created/destroyed counters, built on
// prometheus/client_golang rather than a hand-rolled counter type.
package metrics

import (
	"strconv"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
)

// Registry owns every metric this runtime publishes and the
// prometheus.Registry they're registered against. A nil *Registry is
// safe to call every method on — every method no-ops on a nil
// receiver, so wiring metrics stays optional wherever a Runtime is
// embedded.
type Registry struct {
	reg *prometheus.Registry

	schedulerDepth *prometheus.GaugeVec
	heapUsed       *prometheus.GaugeVec
	heapNextGC     *prometheus.GaugeVec
	gcCycles       *prometheus.CounterVec

	cycleAttempted prometheus.Gauge
	cycleDetected  prometheus.Gauge
	cycleCollected prometheus.Gauge
	cycleCreated   prometheus.Gauge
	cycleDestroyed prometheus.Gauge
}

// New creates a Registry and registers every metric with a fresh
// prometheus.Registry, returned via Gatherer for an HTTP handler to
// serve.
func New() *Registry {
	r := &Registry{reg: prometheus.NewRegistry()}

	r.schedulerDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vela",
		Subsystem: "scheduler",
		Name:      "queue_depth",
		Help:      "Number of actors currently queued on a scheduler's run queue.",
	}, []string{"scheduler"})

	r.heapUsed = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vela",
		Subsystem: "actor_heap",
		Name:      "used_bytes",
		Help:      "Bytes in use on an actor's heap as of its last GC pass.",
	}, []string{"actor"})

	r.heapNextGC = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "vela",
		Subsystem: "actor_heap",
		Name:      "next_gc_bytes",
		Help:      "Usage threshold that triggers an actor's next GC pass.",
	}, []string{"actor"})

	r.gcCycles = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vela",
		Subsystem: "actor_heap",
		Name:      "gc_cycles_total",
		Help:      "Number of per-actor GC passes run, labeled by actor type.",
	}, []string{"actor_type"})

	r.cycleAttempted = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vela", Subsystem: "cycle_detector", Name: "attempted_total",
		Help: "Trial-deletion rounds the cycle detector has attempted.",
	})
	r.cycleDetected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vela", Subsystem: "cycle_detector", Name: "detected_total",
		Help: "Cycles the detector confirmed via trial deletion.",
	})
	r.cycleCollected = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vela", Subsystem: "cycle_detector", Name: "collected_total",
		Help: "Actors torn down as members of a confirmed cycle.",
	})
	r.cycleCreated = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vela", Subsystem: "cycle_detector", Name: "actors_created_total",
		Help: "Actors registered with the cycle detector since startup.",
	})
	r.cycleDestroyed = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "vela", Subsystem: "cycle_detector", Name: "actors_destroyed_total",
		Help: "Actors destroyed by cycle collection since startup.",
	})

	r.reg.MustRegister(
		r.schedulerDepth, r.heapUsed, r.heapNextGC, r.gcCycles,
		r.cycleAttempted, r.cycleDetected, r.cycleCollected, r.cycleCreated, r.cycleDestroyed,
	)

	return r
}

// Gatherer exposes the underlying prometheus.Registry for an HTTP
// handler (promhttp.HandlerFor) to serve.
func (r *Registry) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.reg
}

// ObserveSchedulerDepth records one scheduler's current run-queue depth.
func (r *Registry) ObserveSchedulerDepth(schedulerID int, depth int64) {
	if r == nil {
		return
	}
	r.schedulerDepth.WithLabelValues(strconv.Itoa(schedulerID)).Set(float64(depth))
}

// ObserveHeap records one actor's heap usage and next-GC threshold
// after a GC pass, labeled by the actor's uuid.
func (r *Registry) ObserveHeap(actor uuid.UUID, used, nextGC uint64) {
	if r == nil {
		return
	}
	label := actor.String()
	r.heapUsed.WithLabelValues(label).Set(float64(used))
	r.heapNextGC.WithLabelValues(label).Set(float64(nextGC))
}

// ObserveGCCycle increments the GC cycle counter for an actor type.
func (r *Registry) ObserveGCCycle(actorType string) {
	if r == nil {
		return
	}
	r.gcCycles.WithLabelValues(actorType).Inc()
}

// ObserveCycleStats sets the cycle detector's cumulative gauges from a
// (attempted, detected, collected, created, destroyed) snapshot, the
// shape rt.Runtime.CycleStats returns.
func (r *Registry) ObserveCycleStats(attempted, detected, collected, created, destroyed int) {
	if r == nil {
		return
	}
	r.cycleAttempted.Set(float64(attempted))
	r.cycleDetected.Set(float64(detected))
	r.cycleCollected.Set(float64(collected))
	r.cycleCreated.Set(float64(created))
	r.cycleDestroyed.Set(float64(destroyed))
}
