package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/orchestrator"
)

// dispatchRequest mirrors the wire shape of one request in a batch.
type dispatchRequest struct {
	ID       string          `json:"id"`
	Service  string          `json:"serviceName"`
	Endpoint string          `json:"endpoint"`
	Method   string          `json:"method"`
	Payload  json.RawMessage `json:"payload,omitempty"`
	Priority int             `json:"priority"`
	TraceID  string          `json:"traceId"`
}

// dispatchResult mirrors one per-request outcome.
type dispatchResult struct {
	ID        string          `json:"id"`
	Service   string          `json:"serviceName"`
	Instance  string          `json:"instance,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Error     string          `json:"error,omitempty"`
	LatencyMS int64           `json:"latency_ms"`
}

// DispatchHandler serves POST /dispatch: a JSON batch of requests is
// dispatched through the orchestrator and the result map returned.
func DispatchHandler(logger zerolog.Logger, orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var batch []dispatchRequest
		if err := json.NewDecoder(r.Body).Decode(&batch); err != nil {
			http.Error(w, "invalid request batch: "+err.Error(), http.StatusBadRequest)
			return
		}

		requests := make([]orchestrator.Request, 0, len(batch))
		for _, entry := range batch {
			requests = append(requests, orchestrator.Request{
				ID:       entry.ID,
				Service:  entry.Service,
				Endpoint: entry.Endpoint,
				Method:   entry.Method,
				Payload:  entry.Payload,
				Priority: entry.Priority,
				TraceID:  entry.TraceID,
			})
		}

		start := time.Now()
		results := orch.Dispatch(r.Context(), requests)

		body := make(map[string]dispatchResult, len(results))
		for id, res := range results {
			entry := dispatchResult{
				ID:        res.RequestID,
				Service:   res.Service,
				Instance:  res.Instance,
				LatencyMS: int64(res.Latency / time.Millisecond),
			}
			if res.Err != nil {
				entry.Error = res.Err.Error()
			} else if json.Valid(res.Response) {
				entry.Response = res.Response
			}
			body[id] = entry
		}

		logger.Debug().
			Int("requests", len(requests)).
			Dur("elapsed", time.Since(start)).
			Msg("batch dispatched")

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(body)
	}
}
