package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUpdates(t *testing.T) {
	m := New()

	m.IncDispatch("users", "success")
	m.IncDispatch("users", "failure")
	m.IncDispatch("users", "success")
	m.AddInFlight(2)
	m.AddInFlight(-1)
	m.SetBreakerState("users", 2)
	m.ObserveProbeDuration(150 * time.Millisecond)
	m.IncAlert("users", "critical")
	m.IncFallbackEvent()
	m.SetLastProbeCycleTimestamp(time.Unix(100, 0))

	if got := testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("users", "success")); got != 2 {
		t.Fatalf("expected 2 successful dispatches, got %v", got)
	}
	if got := testutil.ToFloat64(m.dispatchesTotal.WithLabelValues("users", "failure")); got != 1 {
		t.Fatalf("expected 1 failed dispatch, got %v", got)
	}
	if got := testutil.ToFloat64(m.inFlightGauge); got != 1 {
		t.Fatalf("expected in-flight 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.breakerStateGauge.WithLabelValues("users")); got != 2 {
		t.Fatalf("expected breaker state 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.alertsTotal.WithLabelValues("users", "critical")); got != 1 {
		t.Fatalf("expected 1 alert, got %v", got)
	}
	if got := testutil.ToFloat64(m.fallbackEventsTotal); got != 1 {
		t.Fatalf("expected 1 fallback event, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastProbeCycleGauge); got != 100 {
		t.Fatalf("expected last probe cycle 100, got %v", got)
	}
	if count := testutil.CollectAndCount(m.probeDurationSeconds); count == 0 {
		t.Fatalf("expected probe duration histogram to be collected")
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics

	m.IncDispatch("users", "success")
	m.AddInFlight(1)
	m.SetBreakerState("users", 0)
	m.ObserveProbeDuration(time.Second)
	m.IncAlert("users", "warning")
	m.IncFallbackEvent()
	m.SetLastProbeCycleTimestamp(time.Now())

	if m.Handler() == nil {
		t.Fatalf("expected fallback handler for nil metrics")
	}
}
