package orchestrator

import (
	"fmt"
	"time"
)

// InstanceNotFoundError indicates no instance is registered for a logical
// service name. It is request-local and never aborts sibling requests.
type InstanceNotFoundError struct {
	Service string
}

func (e *InstanceNotFoundError) Error() string {
	return fmt.Sprintf("no instance registered for service %s", e.Service)
}

// TimeoutError indicates an outbound call exceeded its instance deadline.
// Counted as a breaker failure.
type TimeoutError struct {
	Service  string
	Instance string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("call to %s (%s) timed out after %s", e.Service, e.Instance, e.Timeout)
}
