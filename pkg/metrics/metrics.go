package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Occurrence materialization outcomes per trigger source.
	OccurrenceOutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "occurrence_outcome_count",
			Help: "Total occurrence processing outcomes",
		},
		[]string{"trigger", "outcome"}, // trigger: completion, tick; outcome: created, already_exists, series_exhausted, skipped, failed
	)

	// Series lock acquisition wait (milliseconds).
	LockWaitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "series_lock_wait_ms",
			Help:    "Series lock acquisition wait in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1ms to ~4s
		},
		[]string{"status"}, // status: acquired, timeout
	)

	// Database query latency (seconds).
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation", "table"},
	)

	// HTTP request latency (seconds).
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12),
		},
		[]string{"method", "path", "status"},
	)

	// Scheduled tick batch size.
	TickBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tick_batch_size",
			Help:    "Number of series advanced per scheduled tick",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// Overdue active occurrences observed during the last tick sweep.
	OverdueOccurrences = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "overdue_occurrences",
			Help: "Active occurrences past their due date at the last tick",
		},
	)

	// MQ consume latency (milliseconds).
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	SlowQueryCount = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "db_slow_query_count",
			Help: "Total number of slow database queries",
		},
	)
)

// RecordOccurrenceOutcome counts one processing outcome.
func RecordOccurrenceOutcome(trigger, outcome string) {
	OccurrenceOutcomeCount.WithLabelValues(trigger, outcome).Inc()
}

// RecordLockWait records how long a series lock acquisition took.
func RecordLockWait(status string, duration time.Duration) {
	LockWaitLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// RecordDBQueryDuration records a database query duration.
func RecordDBQueryDuration(operation, table string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration records an HTTP request duration.
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}

// RecordTickBatch records the series count of one scheduled tick.
func RecordTickBatch(size int) {
	TickBatchSize.Observe(float64(size))
}

// SetOverdueOccurrences updates the overdue gauge from the tick sweep.
func SetOverdueOccurrences(n int) {
	OverdueOccurrences.Set(float64(n))
}

// RecordMQConsumeLatency records MQ consumption latency.
func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery counts one slow query.
func IncrementSlowQuery() {
	SlowQueryCount.Inc()
}
