package healthcheck

import (
	"encoding/json"
	"net/http"
	"time"
)

// statusResponse wraps the tracker snapshot with a human-readable verdict.
type statusResponse struct {
	Status string `json:"status"`
	Snapshot
}

// HealthHandler serves /healthz: 200 while probes keep landing within 2x
// the slowest check interval, 503 with status "stale" otherwise.
func HealthHandler(tracker *Tracker, checkInterval time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := statusResponse{Status: "stale", Snapshot: tracker.Snapshot()}
		status := http.StatusServiceUnavailable
		if tracker.Healthy(time.Now().UTC(), checkInterval) {
			body.Status = "ok"
			status = http.StatusOK
		}
		writeJSON(w, status, body)
	}
}

// ReadyHandler serves /readyz: 503 with status "waiting" until the first
// probe cycle completes.
func ReadyHandler(tracker *Tracker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := statusResponse{Status: "waiting", Snapshot: tracker.Snapshot()}
		status := http.StatusServiceUnavailable
		if tracker.Ready() {
			body.Status = "ready"
			status = http.StatusOK
		}
		writeJSON(w, status, body)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload statusResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
