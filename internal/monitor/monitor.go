package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/healthcheck"
	"github.com/nholik/service-sentinel/internal/metrics"
)

// Thresholds define when a probe result raises an alert.
type Thresholds struct {
	ResponseTime time.Duration
	ErrorRate    float64
	Availability float64
}

// Target describes one dependency the monitor probes.
type Target struct {
	Name           string
	HealthEndpoint string
	Interval       time.Duration
	Timeout        time.Duration
	Thresholds     Thresholds
}

// HealthSample is the latest health reading for a service. One current
// value per service, overwritten each probe cycle.
type HealthSample struct {
	Service      string
	ResponseTime time.Duration
	ErrorRate    float64
	Availability float64
	Throughput   float64
	LastCheck    time.Time
}

// Healthy reports whether the sample passes as usable for fallback routing.
func (s HealthSample) Healthy() bool {
	return s.Availability > 0
}

// ProbeError indicates a health probe failed or timed out.
type ProbeError struct {
	Service string
	Cause   error
}

func (e *ProbeError) Error() string {
	return fmt.Sprintf("health probe failed for %s: %v", e.Service, e.Cause)
}

func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Prober issues one bounded health check against a target.
type Prober interface {
	Probe(ctx context.Context, target Target) error
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, target Target) error

// Probe implements Prober.
func (f ProberFunc) Probe(ctx context.Context, target Target) error {
	return f(ctx, target)
}

// Ticker is the minimal interface needed for driving a probe loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Monitor polls every target on its own independent timer and maintains
// a shared health snapshot plus a bounded alert log. Probes are decoupled
// from caller threads; a slow probe never blocks the others.
type Monitor struct {
	logger        zerolog.Logger
	targets       []Target
	prober        Prober
	tickerFactory func(time.Duration) Ticker
	metrics       *metrics.Metrics
	tracker       *healthcheck.Tracker
	onSample      func(HealthSample)
	onAlert       func(Alert)

	mu      sync.RWMutex
	samples map[string]HealthSample
	counts  map[string]*probeCount
	alerts  *alertLog

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type probeCount struct {
	total int
	since time.Time
}

// Option customizes monitor behavior.
type Option func(*Monitor)

// WithTickerFactory overrides how probe tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(m *Monitor) {
		m.tickerFactory = factory
	}
}

// WithOnSample registers a callback invoked after every probe.
func WithOnSample(fn func(HealthSample)) Option {
	return func(m *Monitor) {
		m.onSample = fn
	}
}

// WithOnAlert registers a callback invoked for every raised alert.
func WithOnAlert(fn func(Alert)) Option {
	return func(m *Monitor) {
		m.onAlert = fn
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Metrics) Option {
	return func(m *Monitor) {
		m.metrics = collector
	}
}

// WithTracker feeds probe cycles into the operational health tracker.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(m *Monitor) {
		m.tracker = tracker
	}
}

// WithAlertCap overrides the alert log capacity.
func WithAlertCap(n int) Option {
	return func(m *Monitor) {
		m.alerts = newAlertLog(n)
	}
}

// New constructs a Monitor. At least one target and a prober are required.
func New(logger zerolog.Logger, targets []Target, prober Prober, opts ...Option) (*Monitor, error) {
	if len(targets) == 0 {
		return nil, errors.New("monitor requires at least one target")
	}
	if prober == nil {
		return nil, errors.New("monitor requires a prober")
	}
	for i, target := range targets {
		if target.Name == "" {
			return nil, fmt.Errorf("target %d: name is required", i)
		}
		if target.Interval <= 0 {
			return nil, fmt.Errorf("target %q: check interval must be greater than zero", target.Name)
		}
		if target.Timeout <= 0 {
			return nil, fmt.Errorf("target %q: probe timeout must be greater than zero", target.Name)
		}
	}

	m := &Monitor{
		logger:  logger,
		targets: append([]Target(nil), targets...),
		prober:  prober,
		samples: make(map[string]HealthSample),
		counts:  make(map[string]*probeCount),
		alerts:  newAlertLog(defaultAlertCap),
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// Start launches one probe loop per target. Each loop probes immediately,
// then on its own interval. Calling Start twice without Stop is an error.
func (m *Monitor) Start(ctx context.Context) error {
	m.runMu.Lock()
	defer m.runMu.Unlock()

	if m.cancel != nil {
		return errors.New("monitor already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	m.logger.Info().Int("targets", len(m.targets)).Msg("health monitor starting")

	for _, target := range m.targets {
		m.wg.Add(1)
		go m.probeLoop(runCtx, target)
	}
	return nil
}

// Stop cancels every probe loop and blocks until they exit. No probe
// fires after Stop returns.
func (m *Monitor) Stop() {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	m.wg.Wait()
	m.logger.Info().Msg("health monitor stopped")
}

func (m *Monitor) probeLoop(ctx context.Context, target Target) {
	defer m.wg.Done()

	m.probeOnce(ctx, target)

	ticker := m.tickerFactory(target.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			m.probeOnce(ctx, target)
		}
	}
}

func (m *Monitor) probeOnce(ctx context.Context, target Target) {
	if ctx.Err() != nil {
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, target.Timeout)
	defer cancel()

	start := time.Now()
	err := m.prober.Probe(probeCtx, target)
	elapsed := time.Since(start)
	now := time.Now().UTC()

	sample := HealthSample{
		Service:   target.Name,
		LastCheck: now,
	}
	if err != nil {
		err = &ProbeError{Service: target.Name, Cause: err}
		sample.Availability = 0
		sample.ErrorRate = 1
	} else {
		sample.ResponseTime = elapsed
		sample.Availability = 1
	}
	sample.Throughput = m.recordProbe(target.Name, now)

	m.mu.Lock()
	m.samples[target.Name] = sample
	m.mu.Unlock()

	m.metrics.ObserveProbeDuration(elapsed)
	m.metrics.SetLastProbeCycleTimestamp(now)
	m.tracker.RecordProbe(elapsed, len(m.targets))

	if m.onSample != nil {
		m.onSample(sample)
	}

	m.evaluate(target, sample, err)
}

// recordProbe tracks probes per target and derives throughput in
// probes per minute since the first observation.
func (m *Monitor) recordProbe(service string, now time.Time) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	count, ok := m.counts[service]
	if !ok {
		count = &probeCount{since: now}
		m.counts[service] = count
	}
	count.total++

	elapsed := now.Sub(count.since)
	if elapsed <= 0 {
		return float64(count.total)
	}
	return float64(count.total) / (elapsed.Minutes() + 1)
}

// evaluate compares the sample against the target thresholds and raises
// alerts. Probe failure and availability breaches are critical; latency
// breaches are warnings.
func (m *Monitor) evaluate(target Target, sample HealthSample, probeErr error) {
	switch {
	case probeErr != nil:
		m.raise(target.Name, SeverityCritical, probeErr.Error())
	case sample.Availability < target.Thresholds.Availability:
		m.raise(target.Name, SeverityCritical,
			fmt.Sprintf("availability %.2f below threshold %.2f", sample.Availability, target.Thresholds.Availability))
	case target.Thresholds.ResponseTime > 0 && sample.ResponseTime > target.Thresholds.ResponseTime:
		m.raise(target.Name, SeverityWarning,
			fmt.Sprintf("response time %s above threshold %s", sample.ResponseTime, target.Thresholds.ResponseTime))
	}
}

func (m *Monitor) raise(service string, severity Severity, message string) {
	alert := m.alerts.Append(service, severity, message)

	event := m.logger.Warn()
	if severity == SeverityCritical {
		event = m.logger.Error()
	}
	event.
		Str("service", service).
		Str("severity", string(severity)).
		Str("alert_id", alert.ID).
		Msg(message)

	m.metrics.IncAlert(service, string(severity))

	if m.onAlert != nil {
		m.onAlert(alert)
	}
}

// Snapshot returns a copy of the current health sample map.
func (m *Monitor) Snapshot() map[string]HealthSample {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]HealthSample, len(m.samples))
	for name, sample := range m.samples {
		result[name] = sample
	}
	return result
}

// Alerts returns the alert log, most recent first.
func (m *Monitor) Alerts() []Alert {
	return m.alerts.List()
}

// Acknowledge flips the acknowledged flag on the alert with the given ID.
// The record itself is never removed.
func (m *Monitor) Acknowledge(id string) bool {
	return m.alerts.Acknowledge(id)
}
