package fallback

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/breaker"
	"github.com/nholik/service-sentinel/internal/metrics"
	"github.com/nholik/service-sentinel/internal/monitor"
)

// Strategy selects how the wrapped capability is invoked.
type Strategy string

const (
	StrategySequential Strategy = "sequential"
	StrategyParallel   Strategy = "parallel"
	StrategyBreaker    Strategy = "circuit-breaker"
)

// Level is one tier of reduced functionality, backed by a candidate
// service list. Levels are ordered most-capable first. A level with no
// services is a featureless last-resort mode.
type Level struct {
	Services []string
	Features []string
}

// Policy configures a coordinator for one primary capability.
type Policy struct {
	Primary   string
	Fallbacks []string
	Strategy  Strategy
	Levels    []Level
}

// Validate rejects malformed policies at construction time.
func (p Policy) Validate() error {
	if p.Primary == "" {
		return errors.New("fallback policy requires a primary service")
	}
	switch p.Strategy {
	case StrategySequential, StrategyParallel, StrategyBreaker:
	default:
		return fmt.Errorf("unknown fallback strategy %q", p.Strategy)
	}
	if len(p.Levels) == 0 {
		return errors.New("fallback policy requires at least one degradation level")
	}
	return nil
}

// Event records one active-service change.
type Event struct {
	At          time.Time
	FromService string
	ToService   string
	Reason      string
}

// ExhaustedError indicates every candidate in the active level failed.
type ExhaustedError struct {
	Candidates []string
	Last       error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all fallbacks exhausted (%s): %v", strings.Join(e.Candidates, ", "), e.Last)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// Operation is the wrapped capability, invoked against a concrete service.
type Operation func(ctx context.Context, service string) ([]byte, error)

// Resolve picks the active level and service for a health snapshot. It is
// a pure function: the same snapshot always yields the same answer. The
// first level containing a healthy candidate wins; within it the first
// healthy candidate in list order is the active service. With no healthy
// candidate anywhere, the least-capable level's first entry is used as a
// last resort even if unhealthy; an empty last level yields no service.
func Resolve(levels []Level, snapshot map[string]monitor.HealthSample) (int, string) {
	for i, level := range levels {
		for _, candidate := range level.Services {
			if snapshot[candidate].Healthy() {
				return i, candidate
			}
		}
	}

	last := len(levels) - 1
	if last < 0 {
		return -1, ""
	}
	if len(levels[last].Services) > 0 {
		return last, levels[last].Services[0]
	}
	return last, ""
}

const defaultEventCap = 100

// Ticker is the minimal interface needed for driving the re-evaluation loop.
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

// Coordinator consumes the health monitor's snapshot to pick an active
// degradation level and service, and executes a primary operation against
// it using the configured strategy.
type Coordinator struct {
	logger        zerolog.Logger
	policy        Policy
	snapshotFn    func() map[string]monitor.HealthSample
	breakers      *breaker.Registry
	metrics       *metrics.Metrics
	tickerFactory func(time.Duration) Ticker
	onChange      func(Event)

	mu          sync.RWMutex
	activeLevel int
	activeSvc   string
	resolved    bool
	events      []Event
	eventCap    int
}

// Option customizes coordinator behavior.
type Option func(*Coordinator)

// WithBreakers enables the circuit-breaker-delegated strategy and breaker
// gating.
func WithBreakers(registry *breaker.Registry) Option {
	return func(c *Coordinator) {
		c.breakers = registry
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(collector *metrics.Metrics) Option {
	return func(c *Coordinator) {
		c.metrics = collector
	}
}

// WithTickerFactory overrides how re-evaluation tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(c *Coordinator) {
		c.tickerFactory = factory
	}
}

// WithOnChange registers a degradation-change callback.
func WithOnChange(fn func(Event)) Option {
	return func(c *Coordinator) {
		c.onChange = fn
	}
}

// WithEventCap overrides the event history capacity.
func WithEventCap(n int) Option {
	return func(c *Coordinator) {
		if n > 0 {
			c.eventCap = n
		}
	}
}

// New constructs a Coordinator. The snapshot function is typically the
// monitor's Snapshot method.
func New(logger zerolog.Logger, policy Policy, snapshotFn func() map[string]monitor.HealthSample, opts ...Option) (*Coordinator, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if snapshotFn == nil {
		return nil, errors.New("fallback coordinator requires a snapshot source")
	}

	c := &Coordinator{
		logger:      logger,
		policy:      policy,
		snapshotFn:  snapshotFn,
		activeLevel: -1,
		eventCap:    defaultEventCap,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run re-evaluates the active level on a fixed interval until the context
// is canceled. The first evaluation happens immediately.
func (c *Coordinator) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return errors.New("re-evaluation interval must be greater than zero")
	}

	c.Reevaluate()

	ticker := c.tickerFactory(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.logger.Info().Msg("fallback coordinator stopped")
			return nil
		case <-ticker.C():
			c.Reevaluate()
		}
	}
}

// Reevaluate resolves the active level/service against the current
// snapshot and records an event on change.
func (c *Coordinator) Reevaluate() {
	snapshot := c.snapshotFn()
	level, service := Resolve(c.policy.Levels, snapshot)

	c.mu.Lock()
	changed := c.resolved && (level != c.activeLevel || service != c.activeSvc)
	first := !c.resolved
	from := c.activeSvc
	c.activeLevel = level
	c.activeSvc = service
	c.resolved = true

	var event Event
	if changed {
		event = Event{
			At:          time.Now().UTC(),
			FromService: from,
			ToService:   service,
			Reason:      fmt.Sprintf("degradation level %d active", level),
		}
		c.events = append(c.events, event)
		if len(c.events) > c.eventCap {
			c.events = c.events[len(c.events)-c.eventCap:]
		}
	}
	c.mu.Unlock()

	if first {
		c.logger.Info().
			Int("level", level).
			Str("service", service).
			Msg("fallback target resolved")
		return
	}
	if !changed {
		return
	}

	c.logger.Warn().
		Int("level", level).
		Str("from", event.FromService).
		Str("to", event.ToService).
		Msg("active service changed")
	c.metrics.IncFallbackEvent()
	if c.onChange != nil {
		c.onChange(event)
	}
}

// Active returns the current level index and active service.
func (c *Coordinator) Active() (int, string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.activeLevel, c.activeSvc
}

// Events returns the bounded history of active-service changes.
func (c *Coordinator) Events() []Event {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Event(nil), c.events...)
}

// Execute runs op against the active level using the policy strategy.
func (c *Coordinator) Execute(ctx context.Context, op Operation) ([]byte, error) {
	c.mu.RLock()
	if !c.resolved {
		c.mu.RUnlock()
		c.Reevaluate()
		c.mu.RLock()
	}
	level := c.activeLevel
	active := c.activeSvc
	c.mu.RUnlock()

	candidates := c.healthyCandidates(level, active)

	switch c.policy.Strategy {
	case StrategyParallel:
		return c.executeParallel(ctx, op, candidates)
	case StrategyBreaker:
		return c.executeWithBreaker(ctx, op, active)
	default:
		return c.executeSequential(ctx, op, candidates)
	}
}

// healthyCandidates lists the active level's healthy services in list
// order, falling back to the last-resort active service when none are.
func (c *Coordinator) healthyCandidates(level int, active string) []string {
	if level < 0 || level >= len(c.policy.Levels) {
		if active == "" {
			return nil
		}
		return []string{active}
	}

	snapshot := c.snapshotFn()
	candidates := make([]string, 0, len(c.policy.Levels[level].Services))
	for _, candidate := range c.policy.Levels[level].Services {
		if snapshot[candidate].Healthy() {
			candidates = append(candidates, candidate)
		}
	}
	if len(candidates) == 0 && active != "" {
		candidates = append(candidates, active)
	}
	return candidates
}

// executeSequential tries each candidate in order, stopping at the first
// success.
func (c *Coordinator) executeSequential(ctx context.Context, op Operation, candidates []string) ([]byte, error) {
	if len(candidates) == 0 {
		return nil, &ExhaustedError{Candidates: candidates}
	}

	var lastErr error
	for _, candidate := range candidates {
		response, err := op(ctx, candidate)
		if err == nil {
			return response, nil
		}
		lastErr = err
		c.logger.Debug().Str("service", candidate).Err(err).Msg("fallback candidate failed")
	}
	return nil, &ExhaustedError{Candidates: candidates, Last: lastErr}
}

// executeParallel races all candidates; the first success wins and the
// rest are abandoned via context cancellation.
func (c *Coordinator) executeParallel(ctx context.Context, op Operation, candidates []string) ([]byte, error) {
	if len(candidates) == 0 {
		return nil, &ExhaustedError{Candidates: candidates}
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		response []byte
		err      error
	}
	results := make(chan outcome, len(candidates))

	for _, candidate := range candidates {
		go func(candidate string) {
			response, err := op(raceCtx, candidate)
			results <- outcome{response: response, err: err}
		}(candidate)
	}

	var lastErr error
	for range candidates {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case res := <-results:
			if res.err == nil {
				return res.response, nil
			}
			lastErr = res.err
		}
	}
	return nil, &ExhaustedError{Candidates: candidates, Last: lastErr}
}

// executeWithBreaker runs only when the active service's breaker is
// closed or half-open; an open breaker rejects immediately.
func (c *Coordinator) executeWithBreaker(ctx context.Context, op Operation, active string) ([]byte, error) {
	if active == "" {
		return nil, &ExhaustedError{}
	}
	if c.breakers == nil {
		return op(ctx, active)
	}

	b := c.breakers.Get(active)

	var response []byte
	err := b.Do(ctx, func(ctx context.Context) error {
		body, err := op(ctx, active)
		if err != nil {
			return err
		}
		response = body
		return nil
	})
	return response, err
}
