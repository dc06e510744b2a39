package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for service-sentinel. All methods
// are nil-safe so components can run without a collector attached.
type Metrics struct {
	registry             *prometheus.Registry
	dispatchesTotal      *prometheus.CounterVec
	inFlightGauge        prometheus.Gauge
	breakerStateGauge    *prometheus.GaugeVec
	probeDurationSeconds prometheus.Histogram
	alertsTotal          *prometheus.CounterVec
	fallbackEventsTotal  prometheus.Counter
	lastProbeCycleGauge  prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		dispatchesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_sentinel_dispatches_total",
			Help: "Total dispatched requests by service and outcome.",
		}, []string{"service", "outcome"}),
		inFlightGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "service_sentinel_in_flight_calls",
			Help: "Current number of in-flight outbound calls.",
		}),
		breakerStateGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "service_sentinel_breaker_state",
			Help: "Circuit breaker state per service (0 closed, 1 half-open, 2 open).",
		}, []string{"service"}),
		probeDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "service_sentinel_probe_duration_seconds",
			Help:    "Duration of health probes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		alertsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "service_sentinel_alerts_total",
			Help: "Total alerts raised by service and severity.",
		}, []string{"service", "severity"}),
		fallbackEventsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "service_sentinel_fallback_events_total",
			Help: "Total active-service changes made by the fallback coordinator.",
		}),
		lastProbeCycleGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "service_sentinel_last_probe_cycle_timestamp",
			Help: "Unix timestamp of the last completed probe cycle.",
		}),
	}

	registry.MustRegister(
		m.dispatchesTotal,
		m.inFlightGauge,
		m.breakerStateGauge,
		m.probeDurationSeconds,
		m.alertsTotal,
		m.fallbackEventsTotal,
		m.lastProbeCycleGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncDispatch increments the dispatch counter for a service/outcome pair.
func (m *Metrics) IncDispatch(service, outcome string) {
	if m == nil {
		return
	}
	m.dispatchesTotal.WithLabelValues(service, outcome).Inc()
}

// AddInFlight adjusts the in-flight gauge by delta.
func (m *Metrics) AddInFlight(delta int) {
	if m == nil {
		return
	}
	m.inFlightGauge.Add(float64(delta))
}

// SetBreakerState records the numeric breaker state for a service.
func (m *Metrics) SetBreakerState(service string, state float64) {
	if m == nil {
		return
	}
	m.breakerStateGauge.WithLabelValues(service).Set(state)
}

// ObserveProbeDuration records the duration of a completed probe.
func (m *Metrics) ObserveProbeDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.probeDurationSeconds.Observe(duration.Seconds())
}

// IncAlert increments the alert counter for a service/severity pair.
func (m *Metrics) IncAlert(service, severity string) {
	if m == nil {
		return
	}
	m.alertsTotal.WithLabelValues(service, severity).Inc()
}

// IncFallbackEvent increments the fallback event counter.
func (m *Metrics) IncFallbackEvent() {
	if m == nil {
		return
	}
	m.fallbackEventsTotal.Inc()
}

// SetLastProbeCycleTimestamp sets the last probe cycle time.
func (m *Metrics) SetLastProbeCycleTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastProbeCycleGauge.Set(float64(t.Unix()))
}
