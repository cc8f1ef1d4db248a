// Package metrics exposes Prometheus instrumentation for the daemon.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// TasksCreated counts task submissions by origin (api, watcher).
	TasksCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtrans",
		Name:      "tasks_created_total",
		Help:      "Translation tasks created, by submission source.",
	}, []string{"source"})

	// TasksFinished counts terminal task transitions by status.
	TasksFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtrans",
		Name:      "tasks_finished_total",
		Help:      "Tasks reaching a terminal status.",
	}, []string{"status"})

	// TasksSkipped counts skip-oracle refusals by reason.
	TasksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtrans",
		Name:      "tasks_skipped_total",
		Help:      "Candidates refused by the skip rules, by reason.",
	}, []string{"reason"})

	// ChunksTranslated counts successfully translated chunks.
	ChunksTranslated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subtrans",
		Name:      "chunks_translated_total",
		Help:      "Subtitle chunks translated successfully.",
	})

	// LLMRequests counts provider round trips by provider and outcome.
	LLMRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subtrans",
		Name:      "llm_requests_total",
		Help:      "LLM provider requests, by provider and outcome.",
	}, []string{"provider", "outcome"})

	// LLMRequestDuration observes provider round-trip latency.
	LLMRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subtrans",
		Name:      "llm_request_duration_seconds",
		Help:      "LLM provider request latency.",
		Buckets:   prometheus.ExponentialBuckets(0.25, 2, 10),
	}, []string{"provider"})

	// RunningWorkers tracks the number of busy pipeline workers.
	RunningWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "subtrans",
		Name:      "running_workers",
		Help:      "Pipeline workers currently processing a task.",
	})

	// WatcherEvents counts filesystem events accepted by watchers.
	WatcherEvents = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "subtrans",
		Name:      "watcher_events_total",
		Help:      "Filesystem candidates picked up by directory watchers.",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
