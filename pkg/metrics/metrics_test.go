package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewRegisters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Runs.WithLabelValues(OutcomeSuccess).Inc()
	m.Runs.WithLabelValues(OutcomeInvalid).Add(2)
	m.OOBScore.Set(0.75)
	ObserveSince(m.TrainingSeconds, time.Now().Add(-time.Second))

	if got := testutil.ToFloat64(m.Runs.WithLabelValues(OutcomeInvalid)); got != 2 {
		t.Errorf("invalid runs = %f, want 2", got)
	}
	if got := testutil.ToFloat64(m.OOBScore); got != 0.75 {
		t.Errorf("oob gauge = %f, want 0.75", got)
	}

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	// Histograms and gauges are exported even before they are observed
	if len(families) != 6 {
		t.Errorf("registry exposes %d metric families, want 6", len(families))
	}
}

func TestNewUnregistered(t *testing.T) {
	// Two unregistered sets must not collide
	a, b := New(nil), New(nil)
	a.TrainingRows.Set(3)
	b.TrainingRows.Set(4)
	if testutil.ToFloat64(a.TrainingRows) != 3 {
		t.Error("unregistered metric sets should be independent")
	}
}
