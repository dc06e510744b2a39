package server

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/monitor"
)

// AlertSource exposes the monitor's alert log to the ops surface.
type AlertSource interface {
	Alerts() []monitor.Alert
	Acknowledge(id string) bool
}

type alertListResponse struct {
	Count  int             `json:"count"`
	Alerts []monitor.Alert `json:"alerts"`
}

// AlertsHandler serves GET /alerts: the alert log, newest first.
func AlertsHandler(source AlertSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		alerts := source.Alerts()
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(alertListResponse{Count: len(alerts), Alerts: alerts})
	}
}

// AckHandler serves POST /alerts/{id}/ack. Acknowledging only flips the
// flag; 404 when the alert has already been pushed out of the log.
func AckHandler(logger zerolog.Logger, source AlertSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if id == "" {
			http.Error(w, "alert id is required", http.StatusBadRequest)
			return
		}
		if !source.Acknowledge(id) {
			http.Error(w, "unknown alert id", http.StatusNotFound)
			return
		}
		logger.Info().Str("alert_id", id).Msg("alert acknowledged")
		w.WriteHeader(http.StatusNoContent)
	}
}
