package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/nholik/service-sentinel/internal/orchestrator"
	"github.com/nholik/service-sentinel/internal/registry"
)

func testOrchestrator(t *testing.T) *orchestrator.Orchestrator {
	t.Helper()

	reg, err := registry.New([]registry.ServiceDescriptor{
		{Name: "users", Endpoint: "http://users:8080", Timeout: 200 * time.Millisecond},
	})
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	caller := orchestrator.CallerFunc(func(_ context.Context, req orchestrator.Request, _ registry.ServiceDescriptor) ([]byte, error) {
		if req.ID == "bad" {
			return nil, errors.New("upstream exploded")
		}
		return []byte(`{"status":"ok"}`), nil
	})
	return orchestrator.New(zerolog.Nop(), reg, caller)
}

func TestDispatchHandlerBatch(t *testing.T) {
	handler := DispatchHandler(zerolog.Nop(), testOrchestrator(t))

	body := `[
		{"id":"good","serviceName":"users","endpoint":"/v1/users","method":"GET"},
		{"id":"bad","serviceName":"users","endpoint":"/v1/users","method":"GET"}
	]`
	req := httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader(body))
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("expected JSON content type, got %q", ct)
	}

	var results map[string]struct {
		ID       string          `json:"id"`
		Service  string          `json:"serviceName"`
		Instance string          `json:"instance"`
		Response json.RawMessage `json:"response"`
		Error    string          `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &results); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}

	good := results["good"]
	if good.Error != "" {
		t.Fatalf("expected success for good request, got %q", good.Error)
	}
	if string(good.Response) != `{"status":"ok"}` {
		t.Fatalf("expected upstream body passed through, got %s", good.Response)
	}
	if good.Instance != "http://users:8080" {
		t.Fatalf("expected selected instance, got %q", good.Instance)
	}

	bad := results["bad"]
	if !strings.Contains(bad.Error, "upstream exploded") {
		t.Fatalf("expected error surfaced, got %q", bad.Error)
	}
	if len(bad.Response) != 0 {
		t.Fatalf("expected no response body on failure, got %s", bad.Response)
	}
}

func TestDispatchHandlerRejectsMalformedBody(t *testing.T) {
	handler := DispatchHandler(zerolog.Nop(), testOrchestrator(t))

	req := httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDispatchHandlerEmptyBatch(t *testing.T) {
	handler := DispatchHandler(zerolog.Nop(), testOrchestrator(t))

	req := httptest.NewRequest(http.MethodPost, "/dispatch", strings.NewReader("[]"))
	rec := httptest.NewRecorder()

	handler(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != "{}" {
		t.Fatalf("expected empty result map, got %s", got)
	}
}
