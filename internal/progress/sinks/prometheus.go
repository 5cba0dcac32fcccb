package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/storypipe/storypipe/internal/progress"
)

// PrometheusSink exports pipeline progress metrics via Prometheus.
type PrometheusSink struct {
	itemRuns     *prometheus.CounterVec
	itemRuntime  prometheus.Histogram
	curateURLs   *prometheus.CounterVec
	fetchEvents  *prometheus.CounterVec
	storiesCount prometheus.Counter
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		itemRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storypipe_progress_item_runs_total",
			Help: "Item run completions partitioned by result.",
		}, []string{"result"}),
		itemRuntime: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storypipe_progress_item_runtime_seconds",
			Help:    "Wall time per completed item run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
		}),
		curateURLs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storypipe_progress_curated_urls_total",
			Help: "Candidate URLs reported per provider.",
		}, []string{"provider"}),
		fetchEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storypipe_progress_fetch_events_total",
			Help: "Fetch completions and drops.",
		}, []string{"outcome"}),
		storiesCount: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storypipe_progress_stories_total",
			Help: "Stories produced across all item runs.",
		}),
	}
	for _, collector := range []prometheus.Collector{
		s.itemRuns,
		s.itemRuntime,
		s.curateURLs,
		s.fetchEvents,
		s.storiesCount,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the Prometheus collectors using the provided batch. It
// is safe for concurrent use by multiple goroutines.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		switch evt.Stage {
		case progress.StageItemDone:
			s.itemRuns.WithLabelValues("ok").Inc()
			s.itemRuntime.Observe(evt.Dur.Seconds())
		case progress.StageItemError:
			s.itemRuns.WithLabelValues("error").Inc()
		case progress.StageCurateDone:
			s.curateURLs.WithLabelValues(evt.Provider).Add(float64(evt.Count))
		case progress.StageFetchDone:
			s.fetchEvents.WithLabelValues("done").Inc()
		case progress.StageFetchDropped:
			s.fetchEvents.WithLabelValues("dropped").Inc()
		case progress.StageSummarizeDone:
			s.storiesCount.Add(float64(evt.Count))
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
