package breaker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// State represents the phase of a circuit breaker.
type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// OpenError is returned when a call is rejected because the circuit is open.
// It is a fast-fail rejection, not a call failure, and is never recorded
// as an outcome sample.
type OpenError struct {
	Service string
	RetryAt time.Time
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("circuit open for %s until %s", e.Service, e.RetryAt.Format(time.RFC3339))
}

// OutcomeSample records one completed call through the breaker.
type OutcomeSample struct {
	At      time.Time
	Success bool
	Latency time.Duration
}

// Settings holds the tunable thresholds for a breaker. Zero values are
// replaced with defaults by Normalize.
type Settings struct {
	FailureThreshold int
	SuccessThreshold int
	OpenTimeout      time.Duration
	Window           time.Duration
	FailureRate      float64
	// MinSamples is the window volume required before the failure-rate
	// rule engages. Below it only the consecutive-failure threshold can
	// trip the breaker, so a single failure on a fresh breaker (rate 1/1)
	// does not open the circuit.
	MinSamples   int
	SuccessDecay int
}

const (
	defaultFailureThreshold = 5
	defaultSuccessThreshold = 3
	defaultOpenTimeout      = 30 * time.Second
	defaultWindow           = 60 * time.Second
	defaultFailureRate      = 0.5
	defaultMinSamples       = 3
	defaultSuccessDecay     = 1
)

// Normalize fills unset settings with defaults.
func (s Settings) Normalize() Settings {
	if s.FailureThreshold <= 0 {
		s.FailureThreshold = defaultFailureThreshold
	}
	if s.SuccessThreshold <= 0 {
		s.SuccessThreshold = defaultSuccessThreshold
	}
	if s.OpenTimeout <= 0 {
		s.OpenTimeout = defaultOpenTimeout
	}
	if s.Window <= 0 {
		s.Window = defaultWindow
	}
	if s.FailureRate <= 0 || s.FailureRate > 1 {
		s.FailureRate = defaultFailureRate
	}
	if s.MinSamples <= 0 {
		s.MinSamples = defaultMinSamples
	}
	if s.SuccessDecay <= 0 {
		s.SuccessDecay = defaultSuccessDecay
	}
	return s
}

// Snapshot is a read-only view of a breaker's state.
type Snapshot struct {
	Service      string
	State        State
	FailureCount int
	SuccessCount int
	LastFailure  time.Time
	NextAttempt  time.Time
	Samples      int
}

// Breaker guards a single logical dependency. All transition logic runs
// under the breaker's own mutex; concurrent completions against the same
// dependency serialize on it.
type Breaker struct {
	service  string
	settings Settings
	clock    Clock

	mu           sync.Mutex
	state        State
	failureCount int
	successCount int
	lastFailure  time.Time
	nextAttempt  time.Time
	samples      []OutcomeSample

	onStateChange func(service string, from, to State)
}

// Option customizes breaker behavior.
type Option func(*Breaker)

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(b *Breaker) {
		b.clock = clock
	}
}

// OnStateChange registers a hook invoked after every state transition.
// The hook runs while the breaker lock is held; keep it short.
func OnStateChange(hook func(service string, from, to State)) Option {
	return func(b *Breaker) {
		b.onStateChange = hook
	}
}

// New constructs a closed Breaker for the named service.
func New(service string, settings Settings, opts ...Option) *Breaker {
	b := &Breaker{
		service:  service,
		settings: settings.Normalize(),
		clock:    systemClock{},
		state:    StateClosed,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Do executes op under breaker protection. When the circuit is open the
// call is rejected with *OpenError without invoking op. Otherwise the
// call's latency is measured, the outcome is recorded, and op's own error
// is returned unchanged.
func (b *Breaker) Do(ctx context.Context, op func(context.Context) error) error {
	if err := b.Allow(); err != nil {
		return err
	}

	start := b.clock.Now()
	err := op(ctx)
	latency := b.clock.Now().Sub(start)

	b.record(err == nil, latency)
	return err
}

// Allow reports whether a call may proceed right now. It performs the
// lazy open→half-open transition when the cooldown has elapsed.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	now := b.clock.Now()
	if now.Before(b.nextAttempt) {
		return &OpenError{Service: b.service, RetryAt: b.nextAttempt}
	}

	b.transition(StateHalfOpen)
	b.successCount = 0
	return nil
}

// record applies the outcome to the state machine. Serialized per breaker.
func (b *Breaker) record(success bool, latency time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	b.samples = append(b.samples, OutcomeSample{At: now, Success: success, Latency: latency})
	b.prune(now)

	if success {
		b.onSuccess()
		return
	}
	b.onFailure(now)
}

func (b *Breaker) onSuccess() {
	switch b.state {
	case StateClosed:
		b.failureCount -= b.settings.SuccessDecay
		if b.failureCount < 0 {
			b.failureCount = 0
		}
	case StateHalfOpen:
		b.successCount++
		if b.successCount >= b.settings.SuccessThreshold {
			b.transition(StateClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

func (b *Breaker) onFailure(now time.Time) {
	b.lastFailure = now

	switch b.state {
	case StateClosed:
		b.failureCount++
		if b.failureCount >= b.settings.FailureThreshold || b.rateExceeded() {
			b.trip(now)
		}
	case StateHalfOpen:
		b.trip(now)
	}
}

func (b *Breaker) trip(now time.Time) {
	b.transition(StateOpen)
	b.nextAttempt = now.Add(b.settings.OpenTimeout)
	b.successCount = 0
}

// Sweep flips an open breaker to half-open when its cooldown has elapsed.
// Called by the registry's periodic sweep loop; also happens lazily in Allow.
func (b *Breaker) Sweep(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateOpen && !now.Before(b.nextAttempt) {
		b.transition(StateHalfOpen)
		b.successCount = 0
	}
}

// State returns the current phase.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Snapshot returns a copy of the breaker's current state.
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Service:      b.service,
		State:        b.state,
		FailureCount: b.failureCount,
		SuccessCount: b.successCount,
		LastFailure:  b.lastFailure,
		NextAttempt:  b.nextAttempt,
		Samples:      len(b.samples),
	}
}

// Reset forces the breaker back to closed with zeroed counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transition(StateClosed)
	b.failureCount = 0
	b.successCount = 0
	b.samples = nil
}

func (b *Breaker) transition(to State) {
	if b.state == to {
		return
	}
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		b.onStateChange(b.service, from, to)
	}
}

// prune drops samples older than the monitoring window.
func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.settings.Window)
	kept := b.samples[:0]
	for _, sample := range b.samples {
		if sample.At.After(cutoff) {
			kept = append(kept, sample)
		}
	}
	b.samples = kept
}

// rateExceeded reports whether the windowed failure rate is above the
// cutoff. The rate rule supplements the consecutive-failure threshold
// and stays inert until the window holds MinSamples outcomes.
func (b *Breaker) rateExceeded() bool {
	if len(b.samples) < b.settings.MinSamples {
		return false
	}
	return b.windowedFailureRate() > b.settings.FailureRate
}

// windowedFailureRate computes failures/samples over the monitoring window.
// Caller must hold the lock; samples are already pruned.
func (b *Breaker) windowedFailureRate() float64 {
	if len(b.samples) == 0 {
		return 0
	}
	failures := 0
	for _, sample := range b.samples {
		if !sample.Success {
			failures++
		}
	}
	return float64(failures) / float64(len(b.samples))
}

// IsOpen reports whether err is a breaker rejection.
func IsOpen(err error) bool {
	var openErr *OpenError
	return errors.As(err, &openErr)
}
