package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/monitor"
)

type stubAlertSource struct {
	alerts []monitor.Alert
	acked  []string
}

func (s *stubAlertSource) Alerts() []monitor.Alert {
	return s.alerts
}

func (s *stubAlertSource) Acknowledge(id string) bool {
	for _, alert := range s.alerts {
		if alert.ID == id {
			s.acked = append(s.acked, id)
			return true
		}
	}
	return false
}

func TestAlertsHandlerListsLog(t *testing.T) {
	source := &stubAlertSource{alerts: []monitor.Alert{
		{ID: "users-2", Service: "users", Severity: monitor.SeverityCritical, Message: "probe failed", At: time.Date(2025, 6, 1, 12, 1, 0, 0, time.UTC)},
		{ID: "users-1", Service: "users", Severity: monitor.SeverityWarning, Message: "slow", At: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)},
	}}

	rec := httptest.NewRecorder()
	AlertsHandler(source)(rec, httptest.NewRequest(http.MethodGet, "/alerts", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload struct {
		Count  int             `json:"count"`
		Alerts []monitor.Alert `json:"alerts"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if payload.Count != 2 || len(payload.Alerts) != 2 {
		t.Fatalf("expected 2 alerts, got count=%d len=%d", payload.Count, len(payload.Alerts))
	}
	if payload.Alerts[0].ID != "users-2" {
		t.Fatalf("expected newest-first ordering preserved, got %s", payload.Alerts[0].ID)
	}
}

func TestAckHandler(t *testing.T) {
	source := &stubAlertSource{alerts: []monitor.Alert{{ID: "users-1", Service: "users"}}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /alerts/{id}/ack", AckHandler(zerolog.Nop(), source))

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/users-1/ack", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
	if len(source.acked) != 1 || source.acked[0] != "users-1" {
		t.Fatalf("expected users-1 acknowledged, got %v", source.acked)
	}

	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/alerts/ghost-9/ack", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown alert, got %d", rec.Code)
	}
}
