package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/slack-go/slack"

	"github.com/nholik/service-sentinel/internal/monitor"
)

const (
	slackMaxBlocks = 50
	// slackReservedBlocks accounts for header block + context block in each message
	slackReservedBlocks = 2
	slackMaxAlerts      = slackMaxBlocks - slackReservedBlocks
)

type SlackNotifier struct {
	logger     zerolog.Logger
	webhookURL string
	timing     timingConfig
	poster     *httpPoster
}

// SlackOption customizes SlackNotifier behavior.
type SlackOption func(*SlackNotifier)

// WithSlackTiming overrides timing parameters (primarily for testing).
func WithSlackTiming(rateInterval time.Duration, rateBurst int, backoffInitial, backoffMax, backoffMaxElapsed time.Duration) SlackOption {
	return func(s *SlackNotifier) {
		s.timing.rateInterval = rateInterval
		s.timing.rateBurst = rateBurst
		s.timing.backoffInitial = backoffInitial
		s.timing.backoffMax = backoffMax
		s.timing.backoffMaxElapsed = backoffMaxElapsed
	}
}

// NewSlackNotifier creates a Slack notifier or a noop notifier when the webhook is empty.
func NewSlackNotifier(logger zerolog.Logger, webhookURL string, opts ...SlackOption) Notifier {
	if webhookURL == "" {
		return NewNoop(logger, "slack webhook not configured; notifications disabled")
	}

	notifier := &SlackNotifier{
		logger:     logger,
		webhookURL: webhookURL,
		timing:     defaultTiming,
	}

	for _, opt := range opts {
		opt(notifier)
	}

	notifier.poster = newHTTPPoster(logger, "slack", webhookURL, "application/json", notifier.timing)

	return notifier
}

// Notify implements Notifier.
func (n *SlackNotifier) Notify(ctx context.Context, service string, alerts []monitor.Alert) error {
	if len(alerts) == 0 {
		return nil
	}
	serviceName := service
	if serviceName == "" {
		serviceName = "default"
	}
	if err := n.poster.waitForRateLimit(ctx, serviceName); err != nil {
		return err
	}

	messages := buildSlackMessages(serviceName, alerts)
	for _, message := range messages {
		payload, err := json.Marshal(message)
		if err != nil {
			return fmt.Errorf("marshal slack payload: %w", err)
		}
		if err := n.poster.postWithRetry(ctx, payload); err != nil {
			return err
		}
	}

	n.logger.Debug().
		Str("service", serviceName).
		Int("alerts", len(alerts)).
		Int("messages", len(messages)).
		Msg("slack notification sent")

	return nil
}

func buildSlackMessages(service string, alerts []monitor.Alert) []slack.WebhookMessage {
	if len(alerts) == 0 {
		return nil
	}
	if slackMaxAlerts <= 0 {
		return []slack.WebhookMessage{buildSlackMessage(service, alerts, len(alerts), 1, 1)}
	}

	total := len(alerts)
	chunkTotal := (total + slackMaxAlerts - 1) / slackMaxAlerts
	messages := make([]slack.WebhookMessage, 0, chunkTotal)

	for i := 0; i < total; i += slackMaxAlerts {
		end := i + slackMaxAlerts
		if end > total {
			end = total
		}
		partIndex := (i / slackMaxAlerts) + 1
		messages = append(messages, buildSlackMessage(service, alerts[i:end], total, partIndex, chunkTotal))
	}
	return messages
}

func buildSlackMessage(service string, alerts []monitor.Alert, total int, partIndex int, partTotal int) slack.WebhookMessage {
	summary := fmt.Sprintf("Service %s: %d alert(s)", service, total)
	if partTotal > 1 {
		summary = fmt.Sprintf("%s (part %d/%d)", summary, partIndex, partTotal)
	}
	header := slack.NewHeaderBlock(slack.NewTextBlockObject("plain_text", summary, false, false))
	contextElements := []slack.MixedElement{
		slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Service: *%s*", service), false, false),
	}
	if partTotal > 1 {
		contextElements = append(contextElements, slack.NewTextBlockObject("mrkdwn", fmt.Sprintf("Batch: %d/%d", partIndex, partTotal), false, false))
	}
	context := slack.NewContextBlock("", contextElements...)

	blocks := []slack.Block{header, context}
	for _, alert := range alerts {
		blocks = append(blocks, buildAlertBlock(alert))
	}

	blockSet := slack.Blocks{BlockSet: blocks}
	return slack.WebhookMessage{
		Text:   summary,
		Blocks: &blockSet,
	}
}

func buildAlertBlock(alert monitor.Alert) slack.Block {
	title := fmt.Sprintf("*%s* [%s]: %s", alert.Service, severityLabel(alert.Severity), alert.Message)
	text := slack.NewTextBlockObject("mrkdwn", title, false, false)

	fields := make([]*slack.TextBlockObject, 0, 2)
	fields = append(fields, slack.NewTextBlockObject("mrkdwn",
		fmt.Sprintf("*Raised:*\n%s", alert.At.Format(time.RFC3339)), false, false))
	if alert.Acknowledged {
		fields = append(fields, slack.NewTextBlockObject("mrkdwn", "*Acknowledged*", false, false))
	}

	return slack.NewSectionBlock(text, fields, nil)
}

func severityLabel(severity monitor.Severity) string {
	if severity == "" {
		return "UNKNOWN"
	}
	return string(severity)
}
