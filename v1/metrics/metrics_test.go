package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestRegisterHarnessMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterHarnessMetrics(reg)
	RunCounter.Inc()
	FailedRunCounter.Inc()
	EntryCounter.Add(3)
	WorkerGauge.Set(5)
	RunDuration.Observe(0.1)
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(mfs) < 5 {
		t.Fatalf("expected 5 metric families, got %d", len(mfs))
	}
}

func TestRegisterHarnessMetricsDuplicatePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	RegisterHarnessMetrics(reg)
	defer func() {
		if r := recover(); r == nil {
			t.Fatal("expected panic on duplicate registration")
		}
	}()
	RegisterHarnessMetrics(reg)
}
