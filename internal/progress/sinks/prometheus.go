package sinks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/chapterharvest/internal/progress"
)

// PrometheusSink exports harvest metrics via Prometheus: runs started,
// completed and active, item outcomes, per-worker progress, and the delays
// imposed by the per-host rate limiter.
type PrometheusSink struct {
	runsStarted   prometheus.Counter
	runsCompleted *prometheus.CounterVec
	runsActive    prometheus.Gauge
	runDuration   *prometheus.HistogramVec

	itemsDone      *prometheus.CounterVec
	discovered     prometheus.Counter
	workerProgress *prometheus.GaugeVec
	rateLimitWait  *prometheus.HistogramVec

	tracker *runTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		runsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_runs_started_total",
			Help: "Total harvest runs that have started.",
		}),
		runsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_runs_completed_total",
			Help: "Total harvest runs completed partitioned by result.",
		}, []string{"result"}),
		runsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "harvest_runs_active",
			Help: "Current number of active runs.",
		}),
		runDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_run_duration_seconds",
			Help:    "Wall time per completed run.",
			Buckets: []float64{10, 60, 300, 900, 1800, 3600, 7200, 14400},
		}, []string{"result"}),
		itemsDone: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "harvest_items_total",
			Help: "Items processed partitioned by outcome.",
		}, []string{"outcome"}),
		discovered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "harvest_links_discovered_total",
			Help: "Links found by listing discovery.",
		}),
		workerProgress: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "harvest_worker_processed",
			Help: "Items processed by each worker in the current run.",
		}, []string{"worker"}),
		rateLimitWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "harvest_rate_limit_wait_seconds",
			Help:    "Time spent waiting on the per-host rate limiter.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"host"}),
		tracker: newRunTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.runsStarted,
		s.runsCompleted,
		s.runsActive,
		s.runDuration,
		s.itemsDone,
		s.discovered,
		s.workerProgress,
		s.rateLimitWait,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It is
// safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.consumeEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) consumeEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageRunStart:
		s.runsStarted.Inc()
		if s.tracker.start(evt.RunID) {
			s.runsActive.Inc()
			s.workerProgress.Reset()
		}
	case progress.StageRunDone:
		result := string(evt.Outcome)
		if result == "" {
			result = "unknown"
		}
		s.runsCompleted.WithLabelValues(result).Inc()
		if evt.Dur > 0 {
			s.runDuration.WithLabelValues(result).Observe(evt.Dur.Seconds())
		}
		if s.tracker.complete(evt.RunID) {
			s.runsActive.Dec()
		}
	case progress.StageDiscovered:
		s.discovered.Add(float64(evt.Value))
	case progress.StageItemDone:
		s.itemsDone.WithLabelValues(string(evt.Outcome)).Inc()
	case progress.StageProgress:
		s.workerProgress.WithLabelValues(evt.Worker).Set(float64(evt.Value))
	}
}

// ObserveRateLimitDelay records time a navigation spent waiting for its host
// token. It matches the rate limiter's observe hook.
func (s *PrometheusSink) ObserveRateLimitDelay(host string, waited time.Duration) {
	if s == nil {
		return
	}
	if host == "" {
		host = "unknown"
	}
	s.rateLimitWait.WithLabelValues(host).Observe(waited.Seconds())
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type runTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newRunTracker() *runTracker {
	return &runTracker{running: make(map[[16]byte]struct{})}
}

func (t *runTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *runTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
