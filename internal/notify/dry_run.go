package notify

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/monitor"
)

// DryRunNotifier logs alerts without sending notifications.
type DryRunNotifier struct {
	logger zerolog.Logger
	inner  Notifier
}

// NewDryRunNotifier returns a notifier that suppresses delivery and logs instead.
func NewDryRunNotifier(logger zerolog.Logger, inner Notifier) *DryRunNotifier {
	return &DryRunNotifier{logger: logger, inner: inner}
}

// Notify implements Notifier.
func (n *DryRunNotifier) Notify(_ context.Context, service string, alerts []monitor.Alert) error {
	for _, alert := range alerts {
		n.logger.Info().
			Str("service", service).
			Str("alert_id", alert.ID).
			Str("severity", string(alert.Severity)).
			Str("message", alert.Message).
			Msg("[DRY-RUN] Would notify")
	}
	return nil
}
