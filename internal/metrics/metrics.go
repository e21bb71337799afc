// Package metrics provides Prometheus instrumentation for the petrel daemon.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "petrel"
)

// Ingestion metrics track pipeline throughput and stage timing.
var (
	// SubmissionsTotal counts submissions by outcome: accepted, duplicate,
	// rejected.
	SubmissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "submissions_total",
		Help:      "Total number of document submissions",
	}, []string{"outcome"})

	// IngestTotal counts documents reaching a terminal state.
	IngestTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "ingest_total",
		Help:      "Total number of documents finishing ingestion",
	}, []string{"state"})

	// StageDuration is a histogram of pipeline stage duration in seconds.
	StageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "stage_duration_seconds",
		Help:      "Duration of ingestion pipeline stages in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14), // 10ms to ~163s
	}, []string{"stage"})

	// QueueDepth is the number of documents waiting or in flight.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "queue_depth",
		Help:      "Number of documents queued or being processed",
	})
)

// Search metrics track query latency and quality.
var (
	// SearchesTotal counts searches by mode.
	SearchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "searches_total",
		Help:      "Total number of search requests",
	}, []string{"mode"})

	// SearchDuration is a histogram of end-to-end search latency in seconds.
	SearchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "search_duration_seconds",
		Help:      "End-to-end search latency in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12), // 5ms to ~10s
	})

	// SearchPartialTotal counts searches that returned with partial=true.
	SearchPartialTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "search_partial_total",
		Help:      "Total number of searches returning partial results",
	})
)

// Cache metrics track embedding cache effectiveness.
var (
	// CacheHitsTotal counts cache hits by cache name.
	CacheHitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of cache hits",
	}, []string{"cache"})

	// CacheMissesTotal counts cache misses by cache name.
	CacheMissesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of cache misses",
	}, []string{"cache"})
)

// Embedding metrics track inference backend usage.
var (
	// EmbedRequestsTotal counts inference requests by provider and input kind.
	EmbedRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embed_requests_total",
		Help:      "Total number of embedding requests",
	}, []string{"provider", "kind"})

	// EmbedErrorsTotal counts inference failures by provider and input kind.
	EmbedErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "embed_errors_total",
		Help:      "Total number of embedding request failures",
	}, []string{"provider", "kind"})

	// EmbedDuration is a histogram of embedding batch duration in seconds.
	EmbedDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "embed_duration_seconds",
		Help:      "Duration of embedding batches in seconds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~102s
	}, []string{"provider", "kind"})
)

// Store metrics track vector store contents.
var (
	// StoreEntries is the number of records per collection.
	StoreEntries = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "store_entries",
		Help:      "Number of records in the vector store",
	}, []string{"collection"})
)

// Event and watcher metrics track the broadcast path and upload feed.
var (
	// EventsDroppedTotal counts status events discarded on full buffers.
	EventsDroppedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Total number of status events dropped on full subscriber buffers",
	})

	// WatcherEventsTotal counts filesystem events by type.
	WatcherEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "watcher_events_total",
		Help:      "Total number of upload directory filesystem events",
	}, []string{"type"})
)
