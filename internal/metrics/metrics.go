// Package metrics exposes Prometheus collectors for the pipeline.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	urlsCuratedTotal      *prometheus.CounterVec
	urlsDedupedTotal      *prometheus.CounterVec
	contentCacheTotal     *prometheus.CounterVec
	contentDroppedTotal   prometheus.Counter
	storiesTotal          *prometheus.CounterVec
	summarizeFailsTotal   prometheus.Counter
	queueDelaySeconds     *prometheus.HistogramVec
	itemRunsTotal         *prometheus.CounterVec
	itemRunDurationSecond prometheus.Histogram

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		urlsCuratedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storypipe_urls_curated_total",
				Help: "Candidate URLs discovered, labeled by provider.",
			},
			[]string{"provider"},
		)
		urlsDedupedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storypipe_urls_deduped_total",
				Help: "Candidate URLs removed as duplicates, labeled by provider.",
			},
			[]string{"provider"},
		)
		contentCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storypipe_content_cache_total",
				Help: "Content cache lookups, labeled by result (hit or miss).",
			},
			[]string{"result"},
		)
		contentDroppedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storypipe_content_dropped_total",
				Help: "URLs dropped after fetch and fallback extraction failed.",
			},
		)
		storiesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storypipe_stories_total",
				Help: "Stories produced, labeled by outcome (created, cached, irrelevant).",
			},
			[]string{"outcome"},
		)
		summarizeFailsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "storypipe_summarize_failures_total",
				Help: "Summarizations that produced no story.",
			},
		)
		queueDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storypipe_queue_delay_seconds",
				Help:    "Delay introduced by the rate-limited queues before dispatch.",
				Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
			},
			[]string{"queue"},
		)
		itemRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storypipe_item_runs_total",
				Help: "Monitored item runs, labeled by status (ok or error).",
			},
			[]string{"status"},
		)
		itemRunDurationSecond = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "storypipe_item_run_duration_seconds",
				Help:    "Wall time of a full Curator-Reaper-Sage run for one item.",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 12),
			},
		)
	})
}

// AddURLsCurated counts discovered candidate URLs for a provider.
func AddURLsCurated(provider string, n int) {
	if urlsCuratedTotal != nil {
		urlsCuratedTotal.WithLabelValues(provider).Add(float64(n))
	}
}

// AddURLsDeduped counts duplicates removed for a provider.
func AddURLsDeduped(provider string, n int) {
	if urlsDedupedTotal != nil {
		urlsDedupedTotal.WithLabelValues(provider).Add(float64(n))
	}
}

// IncContentCache records a cache lookup result ("hit" or "miss").
func IncContentCache(result string) {
	if contentCacheTotal != nil {
		contentCacheTotal.WithLabelValues(result).Inc()
	}
}

// IncContentDropped records a URL dropped from an extraction batch.
func IncContentDropped() {
	if contentDroppedTotal != nil {
		contentDroppedTotal.Inc()
	}
}

// IncStory records a story outcome ("created", "cached", "irrelevant").
func IncStory(outcome string) {
	if storiesTotal != nil {
		storiesTotal.WithLabelValues(outcome).Inc()
	}
}

// IncSummarizeFailure records a summarization that produced no story.
func IncSummarizeFailure() {
	if summarizeFailsTotal != nil {
		summarizeFailsTotal.Inc()
	}
}

// ObserveQueueDelay records rate-floor wait time for a named queue.
func ObserveQueueDelay(queue string, d time.Duration) {
	if queueDelaySeconds != nil {
		queueDelaySeconds.WithLabelValues(queue).Observe(d.Seconds())
	}
}

// ObserveItemRun records the outcome and duration of one item run.
func ObserveItemRun(status string, d time.Duration) {
	if itemRunsTotal != nil {
		itemRunsTotal.WithLabelValues(status).Inc()
	}
	if itemRunDurationSecond != nil {
		itemRunDurationSecond.Observe(d.Seconds())
	}
}
