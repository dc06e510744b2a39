package monitor

import (
	"fmt"
	"sync"
	"time"
)

// Severity classifies an alert.
type Severity string

const (
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const defaultAlertCap = 50

// Alert is one threshold breach or probe failure. Acknowledgment only
// flips a flag; the record stays in the log until capacity pushes it out.
type Alert struct {
	ID           string
	Service      string
	Severity     Severity
	Message      string
	At           time.Time
	Acknowledged bool
}

// alertLog is a capped, ordered log with newest entries first.
type alertLog struct {
	mu      sync.Mutex
	cap     int
	seq     uint64
	entries []Alert
}

func newAlertLog(capacity int) *alertLog {
	if capacity <= 0 {
		capacity = defaultAlertCap
	}
	return &alertLog{cap: capacity}
}

// Append prepends a new alert, dropping the oldest entry when full.
func (l *alertLog) Append(service string, severity Severity, message string) Alert {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	alert := Alert{
		ID:       fmt.Sprintf("%s-%d", service, l.seq),
		Service:  service,
		Severity: severity,
		Message:  message,
		At:       time.Now().UTC(),
	}

	l.entries = append([]Alert{alert}, l.entries...)
	if len(l.entries) > l.cap {
		l.entries = l.entries[:l.cap]
	}
	return alert
}

// List returns a copy of the log, newest first.
func (l *alertLog) List() []Alert {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Alert(nil), l.entries...)
}

// Acknowledge marks the alert with the given ID as acknowledged.
func (l *alertLog) Acknowledge(id string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	for i := range l.entries {
		if l.entries[i].ID == id {
			l.entries[i].Acknowledged = true
			return true
		}
	}
	return false
}
