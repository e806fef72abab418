// Command velac is the thin entry point that wires a Runtime's config
// knobs to flags, starts the scheduler pool, and serves the
// internal/metrics registry over HTTP until interrupted. It follows a
// global-config-object pattern, scoped down to the runtime's own knobs
// (no HTTP config server, no cluster membership — out of scope here).
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/velalang/velac/internal/metrics"
	"github.com/velalang/velac/internal/nlog"
	"github.com/velalang/velac/internal/rt"
	"github.com/velalang/velac/internal/rt/sched"
)

// config is velac's command-line surface: scheduler thread count, heap
// initial-GC threshold, cycle-detector check interval, and whether to
// enable the ASIO backend, plus where (if anywhere) to serve metrics.
type config struct {
	schedulers    int
	forceCD       bool
	checkInterval time.Duration
	enableASIO    bool
	initialGC     uint64
	metricsAddr   string
	verbose       bool
}

func parseFlags(args []string) *config {
	fs := flag.NewFlagSet("velac", flag.ExitOnError)
	cfg := &config{}

	fs.IntVar(&cfg.schedulers, "schedulers", 0, "number of scheduler threads (0 = GOMAXPROCS)")
	fs.BoolVar(&cfg.forceCD, "force-cd", false, "run the cycle detector even with a single scheduler")
	fs.DurationVar(&cfg.checkInterval, "check-blocked-interval", 100*time.Millisecond, "interval between check_blocked sweeps")
	fs.BoolVar(&cfg.enableASIO, "asio", false, "enable the asynchronous I/O backend")
	fs.Uint64Var(&cfg.initialGC, "initial-gc-threshold", 0, "per-actor heap bytes before the first GC pass (0 = built-in default)")
	fs.StringVar(&cfg.metricsAddr, "metrics-addr", "", "address to serve Prometheus metrics on (empty disables it)")
	fs.BoolVar(&cfg.verbose, "verbose", false, "enable verbose logging")

	_ = fs.Parse(args)
	return cfg
}

func main() {
	cfg := parseFlags(os.Args[1:])

	if cfg.verbose {
		nlog.SetLevel(nlog.LevelVerbose)
	}

	registry := metrics.New()

	runtime, err := rt.New(rt.Config{
		Schedulers:           cfg.schedulers,
		ForceCD:              cfg.forceCD,
		CheckBlockedInterval: cfg.checkInterval,
		EnableASIO:           cfg.enableASIO,
		InitialGCThreshold:   cfg.initialGC,
		OnGCCycle:            registry.ObserveGCCycle,
		OnHeapGC:             registry.ObserveHeap,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, "velac: failed to build runtime:", err)
		os.Exit(1)
	}

	shutdown, cancel := context.WithCancel(context.Background())
	defer cancel()
	bg, bgCtx := errgroup.WithContext(shutdown)

	var metricsSrv *http.Server
	if cfg.metricsAddr != "" {
		metricsSrv = newMetricsServer(cfg.metricsAddr, registry)
		bg.Go(func() error { return runMetricsServer(metricsSrv) })
	}

	bg.Go(func() error {
		pollRuntimeStats(bgCtx, runtime, registry)
		return nil
	})

	runtime.Start(sched.AsyncWait)
	nlog.Infoln("velac: runtime started, schedulers =", runtime.Pool().Cores())

	waitForSignal()
	cancel()

	runtime.Stop()

	if metricsSrv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = metricsSrv.Shutdown(ctx)
	}

	if err := bg.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "velac: background goroutine failed:", err)
		os.Exit(1)
	}
}

func newMetricsServer(addr string, registry *metrics.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry.Gatherer(), promhttp.HandlerOpts{}))
	return &http.Server{Addr: addr, Handler: mux}
}

// runMetricsServer runs srv until it's shut down, folding the one
// expected "already closed" error into nil so an errgroup.Group only
// ever reports a genuine listen failure.
func runMetricsServer(srv *http.Server) error {
	nlog.Infoln("velac: serving metrics on", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// pollRuntimeStats periodically pushes scheduler queue depth and cycle
// detector counters into registry, since neither is naturally pushed by
// the runtime itself the way per-GC-pass events are. It returns once
// ctx is cancelled, whether that's on shutdown or because a sibling in
// the errgroup.Group (the metrics server) has already failed.
func pollRuntimeStats(ctx context.Context, runtime *rt.Runtime, registry *metrics.Registry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range runtime.Pool().Schedulers() {
				registry.ObserveSchedulerDepth(s.ID(), s.Len())
			}
			registry.ObserveCycleStats(runtime.CycleStats())
		}
	}
}

func waitForSignal() {
	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, os.Interrupt, syscall.SIGTERM)
	<-sigc
}
