package orchestrator

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/breaker"
	"github.com/nholik/service-sentinel/internal/metrics"
	"github.com/nholik/service-sentinel/internal/registry"
)

// Mode selects how a batch of requests is dispatched.
type Mode string

const (
	ModeParallel   Mode = "parallel"
	ModeSequential Mode = "sequential"
	ModePriority   Mode = "priority"
)

// Request is one logical call to dispatch. Endpoint is the target path
// relative to the selected instance's endpoint.
type Request struct {
	ID       string
	Service  string
	Endpoint string
	Method   string
	Payload  []byte
	Priority int
	TraceID  string
}

// Result is the outcome of one dispatched request, keyed by request ID
// in the map Dispatch returns.
type Result struct {
	RequestID string
	Service   string
	Instance  string
	Response  []byte
	Err       error
	Latency   time.Duration
	Started   time.Time
	Completed time.Time
}

// Caller executes one outbound call against a concrete instance. The
// transport itself (HTTP, trace headers) lives behind this interface.
type Caller interface {
	Execute(ctx context.Context, req Request, instance registry.ServiceDescriptor) ([]byte, error)
}

// CallerFunc adapts a function to the Caller interface.
type CallerFunc func(ctx context.Context, req Request, instance registry.ServiceDescriptor) ([]byte, error)

// Execute implements Caller.
func (f CallerFunc) Execute(ctx context.Context, req Request, instance registry.ServiceDescriptor) ([]byte, error) {
	return f(ctx, req, instance)
}

// Orchestrator selects instances via a load-balancing strategy and
// dispatches batches of requests, optionally guarded per instance by a
// circuit breaker registry.
type Orchestrator struct {
	logger   zerolog.Logger
	registry *registry.Registry
	caller   Caller
	balancer Balancer
	mode     Mode
	breakers *breaker.Registry
	metrics  *metrics.Metrics
	sem      chan struct{}

	inflightMu sync.Mutex
	inflight   map[string][]int
}

// Option customizes orchestrator behavior.
type Option func(*Orchestrator)

// WithBalancer sets the instance selection strategy. Default is round-robin.
func WithBalancer(b Balancer) Option {
	return func(o *Orchestrator) {
		o.balancer = b
	}
}

// WithMode sets the dispatch strategy. Default is parallel.
func WithMode(mode Mode) Option {
	return func(o *Orchestrator) {
		o.mode = mode
	}
}

// WithBreakers routes every call through the per-instance breaker registry.
func WithBreakers(registry *breaker.Registry) Option {
	return func(o *Orchestrator) {
		o.breakers = registry
	}
}

// WithMaxInFlight caps concurrent outbound calls; excess requests queue
// until a slot frees up. Zero or negative disables the cap.
func WithMaxInFlight(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = make(chan struct{}, n)
		}
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// New constructs an Orchestrator over the given registry and transport.
func New(logger zerolog.Logger, reg *registry.Registry, caller Caller, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		logger:   logger,
		registry: reg,
		caller:   caller,
		balancer: NewRoundRobin(),
		mode:     ModeParallel,
		inflight: make(map[string][]int),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Dispatch runs the batch according to the configured mode and returns
// one Result per request, keyed by request ID. Individual failures never
// abort sibling requests, and there is no batch-level cancellation.
func (o *Orchestrator) Dispatch(ctx context.Context, requests []Request) map[string]Result {
	results := make(map[string]Result, len(requests))
	if len(requests) == 0 {
		return results
	}

	var mu sync.Mutex
	collect := func(res Result) {
		mu.Lock()
		results[res.RequestID] = res
		mu.Unlock()
	}

	switch o.mode {
	case ModeSequential:
		for _, req := range requests {
			collect(o.dispatchOne(ctx, req))
		}
	case ModePriority:
		for _, group := range groupByPriority(requests) {
			o.dispatchParallel(ctx, group, collect)
		}
	default:
		o.dispatchParallel(ctx, requests, collect)
	}

	return results
}

func (o *Orchestrator) dispatchParallel(ctx context.Context, requests []Request, collect func(Result)) {
	var wg sync.WaitGroup
	for _, req := range requests {
		wg.Add(1)
		go func(req Request) {
			defer wg.Done()
			collect(o.dispatchOne(ctx, req))
		}(req)
	}
	wg.Wait()
}

// groupByPriority splits requests into groups by ascending priority,
// preserving input order within each group.
func groupByPriority(requests []Request) [][]Request {
	groups := make(map[int][]Request)
	priorities := make([]int, 0)
	for _, req := range requests {
		if _, ok := groups[req.Priority]; !ok {
			priorities = append(priorities, req.Priority)
		}
		groups[req.Priority] = append(groups[req.Priority], req)
	}
	sort.Ints(priorities)

	ordered := make([][]Request, 0, len(priorities))
	for _, p := range priorities {
		ordered = append(ordered, groups[p])
	}
	return ordered
}

func (o *Orchestrator) dispatchOne(ctx context.Context, req Request) Result {
	res := Result{RequestID: req.ID, Service: req.Service, Started: time.Now()}

	instances := o.registry.Instances(req.Service)
	if len(instances) == 0 {
		res.Err = &InstanceNotFoundError{Service: req.Service}
		res.Completed = time.Now()
		o.observe(req.Service, "no_instance")
		return res
	}

	if o.sem != nil {
		o.sem <- struct{}{}
		defer func() { <-o.sem }()
	}

	idx := o.pickInstance(req.Service, instances)
	instance := instances[idx]
	res.Instance = instance.Endpoint

	o.trackInflight(req.Service, len(instances), idx, 1)
	defer o.trackInflight(req.Service, len(instances), idx, -1)

	start := time.Now()
	response, err := o.callWithRetry(ctx, req, instance)
	res.Latency = time.Since(start)
	res.Completed = time.Now()
	res.Response = response
	res.Err = err

	outcome := "success"
	if err != nil {
		outcome = "failure"
		if breaker.IsOpen(err) {
			outcome = "rejected"
		}
		o.logger.Debug().
			Str("request_id", req.ID).
			Str("service", req.Service).
			Str("instance", instance.Endpoint).
			Err(err).
			Msg("dispatch failed")
	}
	o.observe(req.Service, outcome)

	return res
}

// callWithRetry executes one call with per-attempt deadline and exponential
// backoff up to the instance's configured retry budget. Breaker rejections
// are permanent: the operation never ran, so retrying is pointless until
// the cooldown elapses.
func (o *Orchestrator) callWithRetry(ctx context.Context, req Request, instance registry.ServiceDescriptor) ([]byte, error) {
	var response []byte

	attempt := func() error {
		callCtx, cancel := context.WithTimeout(ctx, instance.Timeout)
		defer cancel()

		run := func(callCtx context.Context) error {
			body, err := o.caller.Execute(callCtx, req, instance)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
					return &TimeoutError{Service: req.Service, Instance: instance.Endpoint, Timeout: instance.Timeout}
				}
				return err
			}
			response = body
			return nil
		}

		if o.breakers != nil {
			err := o.breakers.Get(req.Service).Do(callCtx, run)
			if breaker.IsOpen(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		return run(callCtx)
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(instance.RetryAttempts)),
		ctx,
	)
	err := backoff.Retry(attempt, policy)
	return response, err
}

func (o *Orchestrator) pickInstance(service string, instances []registry.ServiceDescriptor) int {
	o.inflightMu.Lock()
	counts := o.inflight[service]
	if len(counts) != len(instances) {
		counts = make([]int, len(instances))
		o.inflight[service] = counts
	}
	snapshot := append([]int(nil), counts...)
	o.inflightMu.Unlock()

	idx := o.balancer.Pick(service, instances, snapshot)
	if idx < 0 || idx >= len(instances) {
		idx = 0
	}
	return idx
}

func (o *Orchestrator) trackInflight(service string, size, idx, delta int) {
	o.inflightMu.Lock()
	counts := o.inflight[service]
	if len(counts) != size {
		counts = make([]int, size)
		o.inflight[service] = counts
	}
	counts[idx] += delta
	o.inflightMu.Unlock()

	o.metrics.AddInFlight(delta)
}

func (o *Orchestrator) observe(service, outcome string) {
	o.metrics.IncDispatch(service, outcome)
}
