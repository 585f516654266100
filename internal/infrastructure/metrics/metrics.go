package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	// Velocity metrics
	VelocityChecks       *prometheus.CounterVec
	VelocityCheckLatency prometheus.Histogram
	VelocityBuckets      prometheus.Histogram
	VelocityBreaches     *prometheus.CounterVec
	VelocityErrors       *prometheus.CounterVec
	SnapshotsWritten     prometheus.Counter

	// Operation metrics
	OperationRetries prometheus.Counter

	// API metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec
	HTTPInFlight prometheus.Gauge

	// Redis metrics
	IdempotencyReplays prometheus.Counter
}

// New creates and registers all Prometheus metrics with the default registerer
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates all Prometheus metrics and registers them with reg
func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Velocity metrics
		VelocityChecks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goledger_velocity_checks_total",
				Help: "Total velocity checks by outcome",
			},
			[]string{"outcome"},
		),
		VelocityCheckLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "goledger_velocity_check_duration_seconds",
			Help:    "Duration of velocity checks including locking and persistence",
			Buckets: prometheus.DefBuckets,
		}),
		VelocityBuckets: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "goledger_velocity_buckets_per_check",
			Help:    "Number of velocity buckets touched by one check",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100},
		}),
		VelocityBreaches: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goledger_velocity_limit_breaches_total",
				Help: "Total velocity limit breaches by limit",
			},
			[]string{"limit_id"},
		),
		VelocityErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goledger_velocity_errors_total",
				Help: "Total velocity errors by kind",
			},
			[]string{"kind"},
		),
		SnapshotsWritten: factory.NewCounter(prometheus.CounterOpts{
			Name: "goledger_velocity_snapshots_written_total",
			Help: "Total velocity balance snapshot versions persisted",
		}),

		// Operation metrics
		OperationRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "goledger_operation_retries_total",
			Help: "Total ledger operation attempts retried after a retryable persistence error",
		}),

		// API metrics
		HTTPRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "goledger_http_requests_total",
				Help: "Total HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		HTTPDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "goledger_http_duration_seconds",
				Help:    "HTTP request duration",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		HTTPInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "goledger_http_requests_in_flight",
			Help: "Number of HTTP requests currently being processed",
		}),

		// Redis metrics
		IdempotencyReplays: factory.NewCounter(prometheus.CounterOpts{
			Name: "goledger_idempotency_replays_total",
			Help: "Total responses replayed from the idempotency store",
		}),
	}
}
