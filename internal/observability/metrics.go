package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains the Prometheus metrics for the collection pipeline,
// organized by subsystem: fetches, pages, queries, deduplication, and the
// citation cache. All metrics register via promauto against the provided
// registerer.
type Metrics struct {
	// FetchesTotal counts fetch attempts, labeled by source and outcome
	// (success, auth_error, rate_limited, server_error, breaker_open).
	FetchesTotal *prometheus.CounterVec

	// FetchDuration observes fetch duration in seconds, labeled by source.
	FetchDuration *prometheus.HistogramVec

	// BreakerState exposes each source's circuit breaker state
	// (0 closed, 1 open, 2 half-open).
	BreakerState *prometheus.GaugeVec

	// PagesFlushed counts durable page artifact writes, labeled by source.
	PagesFlushed *prometheus.CounterVec

	// RecordsCollected counts parsed records, labeled by source.
	RecordsCollected *prometheus.CounterVec

	// QueriesCompleted counts queries that reached the complete state.
	QueriesCompleted *prometheus.CounterVec

	// QueriesFailed counts queries halted by an unrecoverable error.
	QueriesFailed *prometheus.CounterVec

	// ParseErrors counts malformed pages, labeled by source.
	ParseErrors *prometheus.CounterVec

	// RecordsDeduplicated counts records removed by deduplication, labeled
	// by phase (doi, title).
	RecordsDeduplicated *prometheus.CounterVec

	// CitationCacheHits counts citation cache lookups that returned an entry.
	CitationCacheHits prometheus.Counter

	// CitationCacheMisses counts lookups that found nothing or an expired entry.
	CitationCacheMisses prometheus.Counter
}

// NewMetrics creates and registers all pipeline metrics. Pass
// prometheus.DefaultRegisterer in production; tests use a fresh
// prometheus.NewRegistry() to stay hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		FetchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "fetch",
			Name:      "requests_total",
			Help:      "Fetch attempts by source and outcome.",
		}, []string{"source", "outcome"}),

		FetchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "scilex",
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Fetch duration in seconds by source.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"source"}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "scilex",
			Subsystem: "fetch",
			Name:      "breaker_state",
			Help:      "Circuit breaker state by source (0 closed, 1 open, 2 half-open).",
		}, []string{"source"}),

		PagesFlushed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "collect",
			Name:      "pages_flushed_total",
			Help:      "Durable page artifact writes by source.",
		}, []string{"source"}),

		RecordsCollected: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "collect",
			Name:      "records_total",
			Help:      "Parsed records by source.",
		}, []string{"source"}),

		QueriesCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "collect",
			Name:      "queries_completed_total",
			Help:      "Queries that reached the complete state, by source.",
		}, []string{"source"}),

		QueriesFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "collect",
			Name:      "queries_failed_total",
			Help:      "Queries halted by an unrecoverable error, by source.",
		}, []string{"source"}),

		ParseErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "collect",
			Name:      "parse_errors_total",
			Help:      "Malformed page responses by source.",
		}, []string{"source"}),

		RecordsDeduplicated: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "dedup",
			Name:      "records_removed_total",
			Help:      "Records removed by deduplication, by phase.",
		}, []string{"phase"}),

		CitationCacheHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "citations",
			Name:      "cache_hits_total",
			Help:      "Citation cache lookups that returned a live entry.",
		}),

		CitationCacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "scilex",
			Subsystem: "citations",
			Name:      "cache_misses_total",
			Help:      "Citation cache lookups that found nothing or an expired entry.",
		}),
	}
}
