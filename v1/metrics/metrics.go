package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// RunCounter tracks the number of harness runs.
	RunCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spin_harness_runs_total",
		Help: "Total number of contention harness runs",
	})
	// FailedRunCounter tracks runs that errored or failed verification.
	FailedRunCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spin_harness_failed_runs_total",
		Help: "Total number of harness runs that failed",
	})
	// EntryCounter tracks completed critical-section entries.
	EntryCounter = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "spin_harness_critical_sections_total",
		Help: "Total number of completed critical-section entries",
	})
	// WorkerGauge reports the number of workers still running.
	WorkerGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "spin_harness_active_workers",
		Help: "Current number of running harness workers",
	})
	// RunDuration observes wall-clock time of harness runs.
	RunDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "spin_harness_run_seconds",
		Help:    "Duration of contention harness runs",
		Buckets: prometheus.DefBuckets,
	})
)

// NewRegistry creates a new Prometheus registry.
func NewRegistry() *prometheus.Registry {
	return prometheus.NewRegistry()
}

// RegisterHarnessMetrics registers the harness collectors on reg.
func RegisterHarnessMetrics(reg prometheus.Registerer) {
	reg.MustRegister(RunCounter, FailedRunCounter, EntryCounter, WorkerGauge, RunDuration)
}
