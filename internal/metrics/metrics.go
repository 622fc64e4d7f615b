// Package metrics provides Prometheus metrics collection for kvbench.
//
// Completion Metrics:
//   - kvbench_completions_total: Async completions by operation and result
//   - kvbench_completion_latency_seconds: Completion latency histogram
//   - kvbench_orphan_completions_total: Completions with no in-flight entry
//
// Resource Metrics:
//   - kvbench_pool_available: Free items per pool
//   - kvbench_pool_exhausted_total: Failed pool acquisitions
//   - kvbench_events_harvested_total: Contexts returned by GetEvents
//
// Workload Metrics:
//   - kvbench_operations_total: Operations issued by the workload driver
//   - kvbench_iterator_pages_total: Iterator pages read
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CompletionsTotal counts async completions
	CompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvbench_completions_total",
			Help: "Total number of asynchronous completions",
		},
		[]string{"op", "result"},
	)

	// CompletionLatency tracks submit-to-completion latency
	CompletionLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "kvbench_completion_latency_seconds",
			Help:    "Asynchronous completion latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.000001, 2, 24), // 1us to ~8s
		},
		[]string{"op"},
	)

	// OrphanCompletionsTotal counts completions dropped for lack of a
	// matching in-flight entry
	OrphanCompletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvbench_orphan_completions_total",
			Help: "Completions with no matching in-flight request",
		},
		[]string{"op"},
	)

	// PoolAvailable tracks free items per pool
	PoolAvailable = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvbench_pool_available",
			Help: "Free items per resource pool",
		},
		[]string{"database", "pool"},
	)

	// PoolExhaustedTotal counts failed acquisitions
	PoolExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvbench_pool_exhausted_total",
			Help: "Acquisitions that found the pool empty",
		},
		[]string{"pool"},
	)

	// EventsHarvestedTotal counts contexts returned by GetEvents
	EventsHarvestedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvbench_events_harvested_total",
			Help: "Completed contexts returned to callers",
		},
		[]string{"mode"},
	)

	// OperationsTotal counts operations issued by the workload driver
	OperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kvbench_operations_total",
			Help: "Operations issued by the workload driver",
		},
		[]string{"op", "mode"},
	)

	// IteratorPagesTotal counts iterator pages read
	IteratorPagesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kvbench_iterator_pages_total",
			Help: "Iterator pages read",
		},
	)

	// RunInfo carries the run id
	RunInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "kvbench_run_info",
			Help: "Run information",
		},
		[]string{"run_id", "version", "device"},
	)
)

// Version is set at build time
var Version = "dev"

// Init publishes run information
func Init(runID, device string) {
	RunInfo.WithLabelValues(runID, Version, device).Set(1)
}

// RecordCompletion records one async completion
func RecordCompletion(op, result string) {
	CompletionsTotal.WithLabelValues(op, result).Inc()
}

// ObserveLatency records the latency of one completion
func ObserveLatency(op string, elapsed time.Duration) {
	CompletionLatency.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordOrphanCompletion records a completion that matched no request
func RecordOrphanCompletion(op string) {
	OrphanCompletionsTotal.WithLabelValues(op).Inc()
}

// SetPoolAvailable records the free count of a pool
func SetPoolAvailable(database, pool string, available int) {
	PoolAvailable.WithLabelValues(database, pool).Set(float64(available))
}

// RecordPoolExhausted records a failed acquisition
func RecordPoolExhausted(pool string) {
	PoolExhaustedTotal.WithLabelValues(pool).Inc()
}

// AddEventsHarvested records n contexts harvested in mode
func AddEventsHarvested(mode string, n int) {
	if n > 0 {
		EventsHarvestedTotal.WithLabelValues(mode).Add(float64(n))
	}
}

// RecordOperation records one issued operation
func RecordOperation(op, mode string) {
	OperationsTotal.WithLabelValues(op, mode).Inc()
}

// RecordIteratorPage records one iterator page read
func RecordIteratorPage() {
	IteratorPagesTotal.Inc()
}
