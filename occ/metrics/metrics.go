// Package metrics holds the Prometheus collectors of the transaction engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	txnCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyocc",
			Subsystem: "txn",
			Name:      "total",
			Help:      "Counter of finished transactions by status.",
		}, []string{"status"})

	txnAttemptsHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyocc",
			Subsystem: "txn",
			Name:      "attempts",
			Help:      "Bucketed histogram of attempts per transaction.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 8),
		})

	txnDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyocc",
			Subsystem: "txn",
			Name:      "duration_seconds",
			Help:      "Bucketed histogram of transaction run time, retries included.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		})

	conflictCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "tinyocc",
			Subsystem: "txn",
			Name:      "conflict_total",
			Help:      "Counter of aborted attempts by conflict reason.",
		}, []string{"reason"})

	backoffHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "tinyocc",
			Subsystem: "txn",
			Name:      "backoff_seconds",
			Help:      "Bucketed histogram of backoff sleeps between attempts.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 16),
		})

	poolTasksGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "tinyocc",
			Subsystem: "worker",
			Name:      "tasks",
			Help:      "Number of tasks in a worker pool by state.",
		}, []string{"pool", "state"})
)

func init() {
	prometheus.MustRegister(txnCounter)
	prometheus.MustRegister(txnAttemptsHistogram)
	prometheus.MustRegister(txnDurationHistogram)
	prometheus.MustRegister(conflictCounter)
	prometheus.MustRegister(backoffHistogram)
	prometheus.MustRegister(poolTasksGauge)
}

// ObserveTxn records a finished transaction.
func ObserveTxn(status string, attempts int, cost time.Duration) {
	txnCounter.WithLabelValues(status).Inc()
	txnAttemptsHistogram.Observe(float64(attempts))
	txnDurationHistogram.Observe(cost.Seconds())
}

// ObserveConflict records an aborted attempt and the backoff that follows it.
func ObserveConflict(reason string, backoff time.Duration) {
	conflictCounter.WithLabelValues(reason).Inc()
	backoffHistogram.Observe(backoff.Seconds())
}

// SetPoolTasks publishes a worker pool's active and pending task counts.
func SetPoolTasks(pool string, active, pending int64) {
	poolTasksGauge.WithLabelValues(pool, "active").Set(float64(active))
	poolTasksGauge.WithLabelValues(pool, "pending").Set(float64(pending))
}
