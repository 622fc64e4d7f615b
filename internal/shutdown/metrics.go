package shutdown

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	shutdownDuration = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvbench_shutdown_duration_seconds",
		Help: "Total duration of the shutdown sequence in seconds",
	})

	shutdownPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "kvbench_shutdown_phase",
		Help: "Current shutdown phase (1 = active, 0 = inactive)",
	}, []string{"phase"})

	inFlightOperations = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvbench_shutdown_in_flight_operations",
		Help: "Device operations still in flight during shutdown",
	})

	databasesClosed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvbench_shutdown_databases_closed_total",
		Help: "Total number of databases closed during shutdown",
	})

	shutdownErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kvbench_shutdown_errors_total",
		Help: "Total number of errors during shutdown",
	})

	shutdownStartTime = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kvbench_shutdown_start_timestamp_seconds",
		Help: "Unix timestamp when shutdown started",
	})
)

var allPhases = []Phase{
	PhaseNone,
	PhaseDraining,
	PhaseHTTPServers,
	PhaseDatabases,
	PhaseEnvironment,
	PhaseComplete,
	PhaseForcedShutdown,
}

// SetShutdownDuration sets the shutdown duration metric.
func SetShutdownDuration(d time.Duration) {
	shutdownDuration.Set(d.Seconds())
}

// SetShutdownPhase marks phase as the only active phase.
func SetShutdownPhase(phase Phase) {
	for _, p := range allPhases {
		shutdownPhase.WithLabelValues(string(p)).Set(0)
	}
	shutdownPhase.WithLabelValues(string(phase)).Set(1)
}

// SetInFlightOperations sets the in-flight operations metric.
func SetInFlightOperations(count int64) {
	inFlightOperations.Set(float64(count))
}

// IncrementDatabasesClosed increments the databases closed counter.
func IncrementDatabasesClosed() {
	databasesClosed.Inc()
}

// IncrementShutdownErrors increments the shutdown errors counter.
func IncrementShutdownErrors() {
	shutdownErrors.Inc()
}

// SetShutdownStartTime sets the shutdown start timestamp.
func SetShutdownStartTime(t time.Time) {
	shutdownStartTime.Set(float64(t.Unix()))
}
