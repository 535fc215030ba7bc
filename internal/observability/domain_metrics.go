package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	queriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "duckbench_queries_total",
			Help: "Total number of governed queries by outcome.",
		},
		[]string{"outcome"},
	)
	queryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckbench_query_duration_seconds",
			Help:    "End-to-end latency of governed queries.",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)
	poolBorrowedConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "duckbench_pool_borrowed_connections",
			Help: "Engine sessions currently borrowed from the pool.",
		},
	)
	poolAcquireWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "duckbench_pool_acquire_wait_seconds",
			Help:    "Time callers spend queued for a pool slot.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
	)
	poolSessionCreateFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckbench_pool_session_create_failures_total",
			Help: "Engine session creation attempts that failed.",
		},
	)
	poolDiscardedSessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckbench_pool_discarded_sessions_total",
			Help: "Sessions discarded after a caller flagged them unhealthy.",
		},
	)
	metadataCacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckbench_metadata_cache_hits_total",
			Help: "Metadata cache lookups served from the cache.",
		},
	)
	metadataCacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "duckbench_metadata_cache_misses_total",
			Help: "Metadata cache lookups that required repopulation.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		queriesTotal,
		queryDurationSeconds,
		poolBorrowedConnections,
		poolAcquireWaitSeconds,
		poolSessionCreateFailuresTotal,
		poolDiscardedSessionsTotal,
		metadataCacheHitsTotal,
		metadataCacheMissesTotal,
	)
}

func ObserveQuery(outcome string, elapsed time.Duration) {
	queriesTotal.WithLabelValues(outcome).Inc()
	queryDurationSeconds.Observe(elapsed.Seconds())
}

func PoolConnectionBorrowed() {
	poolBorrowedConnections.Inc()
}

func PoolConnectionReturned() {
	poolBorrowedConnections.Dec()
}

func ObservePoolAcquireWait(elapsed time.Duration) {
	poolAcquireWaitSeconds.Observe(elapsed.Seconds())
}

func IncrementSessionCreateFailure() {
	poolSessionCreateFailuresTotal.Inc()
}

func IncrementDiscardedSession() {
	poolDiscardedSessionsTotal.Inc()
}

func IncrementMetadataCacheHit() {
	metadataCacheHitsTotal.Inc()
}

func IncrementMetadataCacheMiss() {
	metadataCacheMissesTotal.Inc()
}
