package breaker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var errBoom = errors.New("boom")

func failingOp(context.Context) error { return errBoom }

func succeedingOp(context.Context) error { return nil }

func testSettings() Settings {
	return Settings{
		FailureThreshold: 3,
		SuccessThreshold: 3,
		OpenTimeout:      30 * time.Second,
		Window:           60 * time.Second,
	}
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	for i := 0; i < 3; i++ {
		if err := b.Do(context.Background(), failingOp); !errors.Is(err, errBoom) {
			t.Fatalf("expected operation error, got %v", err)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("expected open after 3 failures, got %s", b.State())
	}

	invoked := false
	err := b.Do(context.Background(), func(context.Context) error {
		invoked = true
		return nil
	})
	if !IsOpen(err) {
		t.Fatalf("expected open rejection, got %v", err)
	}
	if invoked {
		t.Fatalf("rejected call must not invoke the operation")
	}
}

func TestBreakerRejectionIsNotSampled(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failingOp)
	}
	samples := b.Snapshot().Samples

	for i := 0; i < 5; i++ {
		_ = b.Do(context.Background(), succeedingOp)
	}

	if got := b.Snapshot().Samples; got != samples {
		t.Fatalf("rejections recorded samples: had %d, got %d", samples, got)
	}
}

func TestBreakerHalfOpenAfterTimeoutThenCloses(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failingOp)
	}
	if b.State() != StateOpen {
		t.Fatalf("expected open, got %s", b.State())
	}

	clock.Advance(30 * time.Second)

	if err := b.Do(context.Background(), succeedingOp); err != nil {
		t.Fatalf("expected admitted call after timeout, got %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	_ = b.Do(context.Background(), succeedingOp)
	_ = b.Do(context.Background(), succeedingOp)

	if b.State() != StateClosed {
		t.Fatalf("expected closed after 3 successes, got %s", b.State())
	}
	snapshot := b.Snapshot()
	if snapshot.FailureCount != 0 || snapshot.SuccessCount != 0 {
		t.Fatalf("expected counters zeroed, got %+v", snapshot)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failingOp)
	}
	firstAttempt := b.Snapshot().NextAttempt

	clock.Advance(30 * time.Second)
	_ = b.Do(context.Background(), succeedingOp)
	if b.State() != StateHalfOpen {
		t.Fatalf("expected half-open, got %s", b.State())
	}

	_ = b.Do(context.Background(), failingOp)

	if b.State() != StateOpen {
		t.Fatalf("expected reopened, got %s", b.State())
	}
	if next := b.Snapshot().NextAttempt; !next.After(firstAttempt) {
		t.Fatalf("expected next attempt recomputed: first %s, got %s", firstAttempt, next)
	}
}

func TestBreakerSuccessDecaysFailureCount(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	_ = b.Do(context.Background(), failingOp)
	_ = b.Do(context.Background(), failingOp)
	if got := b.Snapshot().FailureCount; got != 2 {
		t.Fatalf("expected failure count 2, got %d", got)
	}

	_ = b.Do(context.Background(), succeedingOp)
	if got := b.Snapshot().FailureCount; got != 1 {
		t.Fatalf("expected decay to 1, got %d", got)
	}

	_ = b.Do(context.Background(), succeedingOp)
	_ = b.Do(context.Background(), succeedingOp)
	if got := b.Snapshot().FailureCount; got != 0 {
		t.Fatalf("expected floor at 0, got %d", got)
	}
}

func TestBreakerFreshFailureStaysClosed(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	if err := b.Do(context.Background(), failingOp); !errors.Is(err, errBoom) {
		t.Fatalf("expected operation error, got %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("single failure below threshold must not trip, got %s", b.State())
	}

	// The next call must still reach the operation, not a rejection.
	invoked := false
	err := b.Do(context.Background(), func(context.Context) error {
		invoked = true
		return errBoom
	})
	if !errors.Is(err, errBoom) {
		t.Fatalf("expected operation error, got %v", err)
	}
	if !invoked {
		t.Fatalf("expected call admitted while closed")
	}
	if b.State() != StateClosed {
		t.Fatalf("expected closed at 2 of 3 failures, got %s", b.State())
	}
}

func TestBreakerRateRuleHonorsMinSamples(t *testing.T) {
	clock := newFakeClock()
	settings := testSettings()
	settings.FailureThreshold = 10
	settings.MinSamples = 2
	b := New("users", settings, WithClock(clock))

	_ = b.Do(context.Background(), failingOp)
	if b.State() != StateClosed {
		t.Fatalf("one sample is below the minimum, got %s", b.State())
	}

	_ = b.Do(context.Background(), failingOp)
	if b.State() != StateOpen {
		t.Fatalf("expected rate trip once the window holds 2 samples, got %s", b.State())
	}
}

func TestBreakerWindowedFailureRateTrips(t *testing.T) {
	clock := newFakeClock()
	settings := testSettings()
	settings.FailureThreshold = 10
	settings.MinSamples = 2
	b := New("users", settings, WithClock(clock))

	_ = b.Do(context.Background(), succeedingOp)
	_ = b.Do(context.Background(), failingOp)
	if b.State() != StateClosed {
		t.Fatalf("rate 0.5 must not trip, got %s", b.State())
	}

	_ = b.Do(context.Background(), failingOp)
	if b.State() != StateOpen {
		t.Fatalf("expected trip on windowed rate above cutoff, got %s", b.State())
	}
}

func TestBreakerWindowPruning(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	_ = b.Do(context.Background(), succeedingOp)
	_ = b.Do(context.Background(), succeedingOp)

	clock.Advance(2 * time.Minute)
	_ = b.Do(context.Background(), succeedingOp)

	if got := b.Snapshot().Samples; got != 1 {
		t.Fatalf("expected old samples pruned, got %d", got)
	}
}

func TestBreakerStateChangeHook(t *testing.T) {
	clock := newFakeClock()
	var transitions []string
	b := New("users", testSettings(),
		WithClock(clock),
		OnStateChange(func(_ string, from, to State) {
			transitions = append(transitions, string(from)+">"+string(to))
		}),
	)

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failingOp)
	}
	clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), succeedingOp)
	}

	want := []string{"CLOSED>OPEN", "OPEN>HALF_OPEN", "HALF_OPEN>CLOSED"}
	if len(transitions) != len(want) {
		t.Fatalf("expected %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, transitions)
		}
	}
}

func TestBreakerReset(t *testing.T) {
	clock := newFakeClock()
	b := New("users", testSettings(), WithClock(clock))

	for i := 0; i < 3; i++ {
		_ = b.Do(context.Background(), failingOp)
	}
	b.Reset()

	if b.State() != StateClosed {
		t.Fatalf("expected closed after reset, got %s", b.State())
	}
	if err := b.Do(context.Background(), succeedingOp); err != nil {
		t.Fatalf("expected call admitted after reset, got %v", err)
	}
}
