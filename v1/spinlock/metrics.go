package spinlock

import "github.com/prometheus/client_golang/prometheus"

type lockMetrics struct {
	acquired  prometheus.Counter
	contended prometheus.Counter
	retries   prometheus.Counter
	misuse    prometheus.Counter
}

func newLockMetrics(reg prometheus.Registerer, name string) *lockMetrics {
	labels := prometheus.Labels{"lock": name}
	m := &lockMetrics{
		acquired: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "spin_lock_acquisitions_total",
			Help:        "Total number of successful lock acquisitions",
			ConstLabels: labels,
		}),
		contended: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "spin_lock_contended_total",
			Help:        "Acquisitions that did not succeed on the first attempt",
			ConstLabels: labels,
		}),
		retries: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "spin_lock_retries_total",
			Help:        "Backoff waits before a successful acquisition",
			ConstLabels: labels,
		}),
		misuse: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "spin_lock_misuse_total",
			Help:        "Releases rejected because the caller did not hold the lock",
			ConstLabels: labels,
		}),
	}
	reg.MustRegister(m.acquired, m.contended, m.retries, m.misuse)
	return m
}

// observeAcquire is nil-safe so that the zero Lock carries no metrics.
func (m *lockMetrics) observeAcquire(retries int) {
	if m == nil {
		return
	}
	m.acquired.Inc()
	if retries > 0 {
		m.contended.Inc()
		m.retries.Add(float64(retries))
	}
}

func (m *lockMetrics) observeMisuse() {
	if m == nil {
		return
	}
	m.misuse.Inc()
}
