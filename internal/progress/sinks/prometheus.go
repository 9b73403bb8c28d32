package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/storefinder/internal/progress"
)

// PrometheusSink exports search progress via Prometheus. It owns the
// collectors for searches started/completed/running and per-page outcomes.
type PrometheusSink struct {
	searchesStarted   prometheus.Counter
	searchesCompleted *prometheus.CounterVec
	searchesRunning   prometheus.Gauge
	searchRuntime     *prometheus.HistogramVec

	pages        *prometheus.CounterVec
	pageDuration *prometheus.HistogramVec
	products     prometheus.Counter

	tracker *searchTracker
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		searchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefinder_searches_started_total",
			Help: "Total searches that have started.",
		}),
		searchesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefinder_searches_completed_total",
			Help: "Total searches completed partitioned by result.",
		}, []string{"result"}),
		searchesRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefinder_searches_running",
			Help: "Current number of running searches.",
		}),
		searchRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefinder_search_runtime_seconds",
			Help:    "Wall time per completed search.",
			Buckets: []float64{5, 15, 30, 60, 120, 300, 600, 1200, 2400},
		}, []string{"result"}),
		pages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefinder_pages_total",
			Help: "Result pages attempted partitioned by outcome and extraction path.",
		}, []string{"outcome", "path"}),
		pageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefinder_page_duration_seconds",
			Help:    "Fetch plus extraction time per page partitioned by outcome.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"outcome"}),
		products: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefinder_products_extracted_total",
			Help: "Products extracted from result pages.",
		}),
		tracker: newSearchTracker(),
	}
	for _, collector := range []prometheus.Collector{
		s.searchesStarted,
		s.searchesCompleted,
		s.searchesRunning,
		s.searchRuntime,
		s.pages,
		s.pageDuration,
		s.products,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors using the provided batch. It is safe for
// concurrent use.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageSearchStart, progress.StageSearchDone,
			progress.StageSearchStopped, progress.StageSearchError:
			s.handleSearchEvent(evt)
		case progress.StagePageDone:
			s.handlePageEvent(evt)
		}
	}
	return nil
}

func (s *PrometheusSink) handleSearchEvent(evt progress.Event) {
	var result string
	switch evt.Stage {
	case progress.StageSearchStart:
		s.searchesStarted.Inc()
		if s.tracker.start(evt.SearchID) {
			s.searchesRunning.Inc()
		}
		return
	case progress.StageSearchDone:
		result = "finished"
	case progress.StageSearchStopped:
		result = "stopped"
	default:
		result = "failed"
	}
	s.searchesCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.searchRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.SearchID) {
		s.searchesRunning.Dec()
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	path := evt.Path
	if path == "" {
		path = "none"
	}
	outcome := string(evt.Outcome)
	s.pages.WithLabelValues(outcome, path).Inc()
	if evt.Products > 0 {
		s.products.Add(float64(evt.Products))
	}
	if evt.Dur > 0 {
		s.pageDuration.WithLabelValues(outcome).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type searchTracker struct {
	mu      sync.Mutex
	running map[[16]byte]struct{}
}

func newSearchTracker() *searchTracker {
	return &searchTracker{running: make(map[[16]byte]struct{})}
}

func (t *searchTracker) start(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *searchTracker) complete(id [16]byte) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
