package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	var m dto.Metric
	if err := c.Write(&m); err != nil {
		t.Fatalf("write metric: %v", err)
	}
	return m.GetCounter().GetValue()
}

func TestObserveClaim_IncrementsOutcomeCounter(t *testing.T) {
	m := New("test", prometheus.NewRegistry())
	m.ObserveClaim("claimed")
	m.ObserveClaim("claimed")
	m.ObserveClaim("empty")

	if v := counterValue(t, m.claimsTotal.WithLabelValues("claimed")); v != 2 {
		t.Fatalf("expected 2 claimed observations, got %v", v)
	}
	if v := counterValue(t, m.claimsTotal.WithLabelValues("empty")); v != 1 {
		t.Fatalf("expected 1 empty observation, got %v", v)
	}
}

func TestObserveRepair_SkipsZeroCounts(t *testing.T) {
	m := New("test", prometheus.NewRegistry())
	m.ObserveRepair("orphaned_claims", 0)
	m.ObserveRepair("orphaned_claims", 3)

	if v := counterValue(t, m.repairsTotal.WithLabelValues("orphaned_claims")); v != 3 {
		t.Fatalf("expected the zero-count call to be a no-op, got %v", v)
	}
}

func TestNilMetrics_MethodsAreNoOps(t *testing.T) {
	var m *Metrics
	m.ObserveAPI("GET", "/x", "200", time.Millisecond)
	m.InflightInc()
	m.InflightDec()
	m.ObserveClaim("claimed")
	m.ObserveJobTerminal("completed", "sum")
	m.ObserveRepair("orphaned_claims", 1)
	m.ObserveAuthAttempt("success")
	m.ObserveBreakerOpen("claim")
}

func TestStatusClass_FormatsStatusCode(t *testing.T) {
	if got := StatusClass(404); got != "404" {
		t.Fatalf("expected \"404\", got %q", got)
	}
}
