package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest probe timing details.
type Snapshot struct {
	LastProbeTime   *time.Time `json:"last_probe_time"`
	ProbeDurationMS int64      `json:"probe_duration_ms"`
	TargetsProbed   int        `json:"targets_probed"`
}

// Tracker records probe timing for the operational health endpoints.
type Tracker struct {
	mu            sync.RWMutex
	lastProbe     time.Time
	probeDuration time.Duration
	targetsProbed int
	ready         bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordProbe updates probe timing and readiness.
func (t *Tracker) RecordProbe(duration time.Duration, targetsProbed int) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastProbe = now
	t.probeDuration = duration
	t.targetsProbed = targetsProbed
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastProbe.IsZero() {
		value := t.lastProbe
		last = &value
	}
	return Snapshot{
		LastProbeTime:   last,
		ProbeDurationMS: int64(t.probeDuration / time.Millisecond),
		TargetsProbed:   t.targetsProbed,
	}
}

// Ready reports whether at least one probe has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last probe landed within 2x the slowest
// configured check interval.
func (t *Tracker) Healthy(now time.Time, checkInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if checkInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastProbe.IsZero() {
		return false
	}
	return now.Sub(t.lastProbe) <= 2*checkInterval
}
