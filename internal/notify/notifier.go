package notify

import (
	"context"

	"github.com/nholik/service-sentinel/internal/monitor"
)

// Notifier delivers alerts to external systems.
type Notifier interface {
	Notify(ctx context.Context, service string, alerts []monitor.Alert) error
}
