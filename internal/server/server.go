package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/healthcheck"
	"github.com/nholik/service-sentinel/internal/metrics"
)

const shutdownTimeout = 5 * time.Second

// Start launches health and metrics HTTP servers as configured. A non-nil
// dispatch handler is registered on the health mux under POST /dispatch;
// a non-nil alert source adds GET /alerts and POST /alerts/{id}/ack.
func Start(ctx context.Context, logger zerolog.Logger, checkInterval time.Duration, tracker *healthcheck.Tracker, metricsCollector *metrics.Metrics, dispatch http.Handler, alerts AlertSource, healthPort, metricsPort int) {
	if healthPort == 0 && metricsPort == 0 {
		return
	}

	if healthPort > 0 && metricsPort > 0 && healthPort == metricsPort {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, tracker, checkInterval)
		registerDispatchRoute(mux, dispatch)
		registerAlertRoutes(mux, logger, alerts)
		registerMetricsRoute(mux, metricsCollector)
		startServer(ctx, logger, mux, healthPort, "health/metrics")
		return
	}

	if healthPort > 0 {
		mux := http.NewServeMux()
		registerHealthRoutes(mux, tracker, checkInterval)
		registerDispatchRoute(mux, dispatch)
		registerAlertRoutes(mux, logger, alerts)
		startServer(ctx, logger, mux, healthPort, "health")
	}

	if metricsPort > 0 {
		mux := http.NewServeMux()
		registerMetricsRoute(mux, metricsCollector)
		startServer(ctx, logger, mux, metricsPort, "metrics")
	}
}

func registerHealthRoutes(mux *http.ServeMux, tracker *healthcheck.Tracker, checkInterval time.Duration) {
	mux.HandleFunc("/healthz", healthcheck.HealthHandler(tracker, checkInterval))
	mux.HandleFunc("/readyz", healthcheck.ReadyHandler(tracker))
}

func registerDispatchRoute(mux *http.ServeMux, dispatch http.Handler) {
	if dispatch == nil {
		return
	}
	mux.Handle("POST /dispatch", dispatch)
}

func registerAlertRoutes(mux *http.ServeMux, logger zerolog.Logger, alerts AlertSource) {
	if alerts == nil {
		return
	}
	mux.HandleFunc("GET /alerts", AlertsHandler(alerts))
	mux.HandleFunc("POST /alerts/{id}/ack", AckHandler(logger, alerts))
}

func registerMetricsRoute(mux *http.ServeMux, metricsCollector *metrics.Metrics) {
	if metricsCollector == nil {
		return
	}
	mux.Handle("/metrics", metricsCollector.Handler())
}

func startServer(ctx context.Context, logger zerolog.Logger, handler http.Handler, port int, label string) {
	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info().Str("server", label).Int("port", port).Msg("http server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Str("server", label).Int("port", port).Msg("http server shutdown failed")
		}
	}()
}
