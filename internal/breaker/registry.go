package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Ticker is the minimal interface needed for driving the sweep loop.
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

// Registry holds one Breaker per service name, created lazily on first use.
// Breakers persist until process shutdown.
type Registry struct {
	logger        zerolog.Logger
	settings      Settings
	opts          []Option
	tickerFactory func(time.Duration) Ticker
	clock         Clock

	overrides map[string]Settings

	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// RegistryOption customizes registry behavior.
type RegistryOption func(*Registry)

// WithTickerFactory overrides how sweep tickers are created.
func WithTickerFactory(factory func(time.Duration) Ticker) RegistryOption {
	return func(r *Registry) {
		r.tickerFactory = factory
	}
}

// WithRegistryClock sets the clock used for sweeps and shared with new breakers.
func WithRegistryClock(clock Clock) RegistryOption {
	return func(r *Registry) {
		r.clock = clock
		r.opts = append(r.opts, WithClock(clock))
	}
}

// WithServiceSettings overrides the shared settings for specific services.
func WithServiceSettings(overrides map[string]Settings) RegistryOption {
	return func(r *Registry) {
		for name, settings := range overrides {
			r.overrides[name] = settings.Normalize()
		}
	}
}

// WithBreakerOptions appends options applied to every lazily created breaker.
func WithBreakerOptions(opts ...Option) RegistryOption {
	return func(r *Registry) {
		r.opts = append(r.opts, opts...)
	}
}

// NewRegistry constructs a Registry whose breakers share the given settings.
func NewRegistry(logger zerolog.Logger, settings Settings, opts ...RegistryOption) *Registry {
	r := &Registry{
		logger:    logger,
		settings:  settings.Normalize(),
		clock:     systemClock{},
		overrides: make(map[string]Settings),
		breakers:  make(map[string]*Breaker),
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Get returns the breaker for the service, creating it on first use.
func (r *Registry) Get(service string) *Breaker {
	r.mu.RLock()
	b, ok := r.breakers[service]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[service]; ok {
		return b
	}
	settings := r.settings
	if override, ok := r.overrides[service]; ok {
		settings = override
	}
	b = New(service, settings, r.opts...)
	r.breakers[service] = b
	r.logger.Debug().Str("service", service).Msg("breaker created")
	return b
}

// Snapshots returns the current state of every known breaker.
func (r *Registry) Snapshots() map[string]Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]Snapshot, len(r.breakers))
	for name, b := range r.breakers {
		result[name] = b.Snapshot()
	}
	return result
}

// RunSweep periodically flips expired open breakers to half-open, so
// recovery probing does not depend on new traffic arriving. Blocks until
// the context is canceled.
func (r *Registry) RunSweep(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}

	ticker := r.tickerFactory(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("breaker sweep stopped")
			return
		case <-ticker.C():
			r.sweepOnce()
		}
	}
}

func (r *Registry) sweepOnce() {
	now := r.clock.Now()

	r.mu.RLock()
	breakers := make([]*Breaker, 0, len(r.breakers))
	for _, b := range r.breakers {
		breakers = append(breakers, b)
	}
	r.mu.RUnlock()

	for _, b := range breakers {
		b.Sweep(now)
	}
}
