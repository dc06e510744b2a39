package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/breaker"
	"github.com/nholik/service-sentinel/internal/config"
	"github.com/nholik/service-sentinel/internal/fallback"
	"github.com/nholik/service-sentinel/internal/healthcheck"
	"github.com/nholik/service-sentinel/internal/logging"
	"github.com/nholik/service-sentinel/internal/metrics"
	"github.com/nholik/service-sentinel/internal/monitor"
	"github.com/nholik/service-sentinel/internal/notify"
	"github.com/nholik/service-sentinel/internal/orchestrator"
	"github.com/nholik/service-sentinel/internal/registry"
	"github.com/nholik/service-sentinel/internal/server"
)

func main() {
	logger := logging.New()
	logger.Info().Msg("service-sentinel starting")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("configuration error")
	}

	rf, err := config.LoadRegistryFile(cfg.RegistryFile)
	if err != nil {
		logger.Fatal().Err(err).Str("path", cfg.RegistryFile).Msg("registry file error")
	}

	reg, err := registry.New(rf.Descriptors())
	if err != nil {
		logger.Fatal().Err(err).Msg("service registry error")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	collector := metrics.New()
	tracker := healthcheck.NewTracker()

	breakers := breaker.NewRegistry(logger, rf.BreakerSettings(),
		breaker.WithServiceSettings(rf.BreakerOverrides()),
		breaker.WithBreakerOptions(breaker.OnStateChange(func(service string, _, to breaker.State) {
			collector.SetBreakerState(service, breakerStateValue(to))
			logger.Warn().Str("service", service).Str("state", string(to)).Msg("breaker state changed")
		})),
	)
	go breakers.RunSweep(ctx, cfg.SweepInterval)

	notifier := buildNotifier(logger, cfg)

	client := retryablehttp.NewClient()
	client.RetryMax = 0
	client.Logger = nil

	orch := orchestrator.New(logger, reg, newHTTPCaller(client),
		orchestrator.WithBalancer(buildBalancer(cfg.Balancer)),
		orchestrator.WithMode(orchestrator.Mode(cfg.DispatchMode)),
		orchestrator.WithBreakers(breakers),
		orchestrator.WithMaxInFlight(cfg.MaxInFlight),
		orchestrator.WithMetrics(collector),
	)

	mon, err := monitor.New(logger, rf.Targets(), newHTTPProber(client),
		monitor.WithMetrics(collector),
		monitor.WithTracker(tracker),
		monitor.WithOnAlert(func(alert monitor.Alert) {
			go func() {
				notifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
				defer cancel()
				if err := notifier.Notify(notifyCtx, alert.Service, []monitor.Alert{alert}); err != nil {
					logger.Error().Err(err).Str("service", alert.Service).Msg("alert delivery failed")
				}
			}()
		}),
	)
	if err != nil {
		logger.Fatal().Err(err).Msg("health monitor error")
	}

	slowest := slowestInterval(rf.Targets())
	server.Start(ctx, logger, slowest, tracker, collector, server.DispatchHandler(logger, orch), mon, cfg.HealthPort, cfg.MetricsPort)

	if err := mon.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("health monitor start failed")
	}

	if policy := rf.Policy(); policy != nil {
		coordinator, err := fallback.New(logger, *policy, mon.Snapshot,
			fallback.WithBreakers(breakers),
			fallback.WithMetrics(collector),
			fallback.WithOnChange(func(event fallback.Event) {
				alert := monitor.Alert{
					ID:       fmt.Sprintf("fallback-%d", event.At.UnixNano()),
					Service:  event.ToService,
					Severity: monitor.SeverityWarning,
					Message:  fmt.Sprintf("active service changed from %s to %s: %s", event.FromService, event.ToService, event.Reason),
					At:       event.At,
				}
				go func() {
					notifyCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
					defer cancel()
					if err := notifier.Notify(notifyCtx, event.ToService, []monitor.Alert{alert}); err != nil {
						logger.Error().Err(err).Msg("degradation notification failed")
					}
				}()
			}),
		)
		if err != nil {
			logger.Fatal().Err(err).Msg("fallback policy error")
		}
		go func() {
			_ = coordinator.Run(ctx, cfg.ReevalInterval)
		}()
	}

	<-ctx.Done()
	mon.Stop()
	logger.Info().Msg("service-sentinel stopped")
}

func buildNotifier(logger zerolog.Logger, cfg config.Config) notify.Notifier {
	notifiers := make([]notify.Notifier, 0, 2)
	notifiers = append(notifiers, notify.NewSlackNotifier(logger, cfg.SlackWebhookURL))
	webhook, err := notify.NewWebhookNotifier(logger, cfg.AlertWebhookURL, "")
	if err != nil {
		logger.Fatal().Err(err).Msg("webhook notifier error")
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if cfg.DryRun {
		notifier = notify.NewDryRunNotifier(logger, notifier)
	}
	return notifier
}

func buildBalancer(name string) orchestrator.Balancer {
	switch name {
	case "weighted":
		return orchestrator.NewWeightedRandom(rand.NewSource(time.Now().UnixNano()))
	case "least-connections":
		return orchestrator.NewLeastConnections()
	default:
		return orchestrator.NewRoundRobin()
	}
}

func breakerStateValue(state breaker.State) float64 {
	switch state {
	case breaker.StateOpen:
		return 2
	case breaker.StateHalfOpen:
		return 1
	default:
		return 0
	}
}

func slowestInterval(targets []monitor.Target) time.Duration {
	slowest := time.Duration(0)
	for _, target := range targets {
		if target.Interval > slowest {
			slowest = target.Interval
		}
	}
	return slowest
}

// newHTTPCaller returns the outbound transport injected into the
// orchestrator: one HTTP call per request, trace ID carried as a header.
func newHTTPCaller(client *retryablehttp.Client) orchestrator.Caller {
	return orchestrator.CallerFunc(func(ctx context.Context, req orchestrator.Request, instance registry.ServiceDescriptor) ([]byte, error) {
		method := req.Method
		if method == "" {
			method = http.MethodGet
		}
		url := strings.TrimSuffix(instance.Endpoint, "/") + "/" + strings.TrimPrefix(req.Endpoint, "/")

		httpReq, err := retryablehttp.NewRequestWithContext(ctx, method, url, bytes.NewReader(req.Payload))
		if err != nil {
			return nil, err
		}
		if req.TraceID != "" {
			httpReq.Header.Set("X-Trace-Id", req.TraceID)
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return nil, err
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("call to %s failed: %s", url, resp.Status)
		}
		return body, nil
	})
}

// newHTTPProber returns the health prober injected into the monitor:
// a bounded GET against the target's health endpoint.
func newHTTPProber(client *retryablehttp.Client) monitor.Prober {
	return monitor.ProberFunc(func(ctx context.Context, target monitor.Target) error {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, target.HealthEndpoint, nil)
		if err != nil {
			return err
		}

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<16))

		if resp.StatusCode >= 400 {
			return fmt.Errorf("health endpoint returned %s", resp.Status)
		}
		return nil
	})
}
