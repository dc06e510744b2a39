package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/nholik/service-sentinel/internal/fallback"
)

const validRegistryYAML = `services:
  - name: users
    endpoint: https://users.internal:8443
    priority: 1
    timeout_ms: 500
    retry_attempts: 2
  - name: users-replica
    endpoint: https://users-replica.internal:8443
    priority: 2
    timeout_ms: 1000
breaker:
  failure_threshold: 5
  timeout_duration_ms: 30000
  monitoring_window_ms: 60000
breakers:
  - service_name: users
    failure_threshold: 3
    timeout_duration_ms: 10000
    monitoring_window_ms: 60000
monitors:
  - name: users
    health_endpoint: https://users.internal:8443/healthz
    check_interval_ms: 5000
    probe_timeout_ms: 1000
    alert_thresholds:
      response_time_ms: 500
      error_rate: 0.5
      availability: 0.99
fallback:
  primary: users
  fallbacks: [users-replica]
  strategy: sequential
  levels:
    - services: [users, users-replica]
      features: [full]
    - services: [users-replica]
      features: [read-only]
    - services: []
      features: []
`

func writeRegistryFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "services.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	return path
}

func TestLoadRegistryFile_Valid(t *testing.T) {
	rf, err := LoadRegistryFile(writeRegistryFile(t, validRegistryYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	descriptors := rf.Descriptors()
	if len(descriptors) != 2 {
		t.Fatalf("expected 2 descriptors, got %d", len(descriptors))
	}
	if descriptors[0].Name != "users" || descriptors[0].Timeout != 500*time.Millisecond {
		t.Fatalf("unexpected users descriptor: %+v", descriptors[0])
	}
	if descriptors[0].RetryAttempts != 2 {
		t.Fatalf("unexpected retry attempts: %d", descriptors[0].RetryAttempts)
	}

	settings := rf.BreakerSettings()
	if settings.FailureThreshold != 5 || settings.OpenTimeout != 30*time.Second {
		t.Fatalf("unexpected breaker settings: %+v", settings)
	}
	if settings.Window != 60*time.Second {
		t.Fatalf("unexpected monitoring window: %s", settings.Window)
	}

	overrides := rf.BreakerOverrides()
	if len(overrides) != 1 {
		t.Fatalf("expected 1 breaker override, got %d", len(overrides))
	}
	if overrides["users"].FailureThreshold != 3 {
		t.Fatalf("unexpected override: %+v", overrides["users"])
	}

	targets := rf.Targets()
	if len(targets) != 1 {
		t.Fatalf("expected 1 target, got %d", len(targets))
	}
	if targets[0].Interval != 5*time.Second || targets[0].Timeout != time.Second {
		t.Fatalf("unexpected target timing: %+v", targets[0])
	}
	if targets[0].Thresholds.ResponseTime != 500*time.Millisecond {
		t.Fatalf("unexpected response time threshold: %s", targets[0].Thresholds.ResponseTime)
	}

	policy := rf.Policy()
	if policy == nil {
		t.Fatalf("expected fallback policy")
	}
	if policy.Primary != "users" || policy.Strategy != fallback.StrategySequential {
		t.Fatalf("unexpected policy: %+v", policy)
	}
	if len(policy.Levels) != 3 || len(policy.Levels[0].Services) != 2 {
		t.Fatalf("unexpected levels: %+v", policy.Levels)
	}
}

func TestLoadRegistryFile_ProbeTimeoutDefaultsToInterval(t *testing.T) {
	yaml := `services:
  - name: users
    endpoint: https://users.internal:8443
    timeout_ms: 500
monitors:
  - name: users
    health_endpoint: https://users.internal:8443/healthz
    check_interval_ms: 5000
    alert_thresholds:
      availability: 0.99
`
	rf, err := LoadRegistryFile(writeRegistryFile(t, yaml))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	targets := rf.Targets()
	if targets[0].Timeout != 5*time.Second {
		t.Fatalf("expected probe timeout to default to interval, got %s", targets[0].Timeout)
	}
}

func TestLoadRegistryFile_Invalid(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"empty services", "services: []\n"},
		{"missing name", "services:\n  - endpoint: https://x\n    timeout_ms: 100\n"},
		{"missing endpoint", "services:\n  - name: a\n    timeout_ms: 100\n"},
		{"zero timeout", "services:\n  - name: a\n    endpoint: https://x\n    timeout_ms: 0\n"},
		{"negative retries", "services:\n  - name: a\n    endpoint: https://x\n    timeout_ms: 100\n    retry_attempts: -1\n"},
		{"breaker override unknown service", `services:
  - name: a
    endpoint: https://x
    timeout_ms: 100
breakers:
  - service_name: b
    failure_threshold: 1
`},
		{"monitor zero interval", `services:
  - name: a
    endpoint: https://x
    timeout_ms: 100
monitors:
  - name: a
    health_endpoint: https://x/healthz
    check_interval_ms: 0
`},
		{"duplicate monitor", `services:
  - name: a
    endpoint: https://x
    timeout_ms: 100
monitors:
  - name: a
    health_endpoint: https://x/healthz
    check_interval_ms: 1000
  - name: a
    health_endpoint: https://x/healthz
    check_interval_ms: 1000
`},
		{"fallback unknown primary", `services:
  - name: a
    endpoint: https://x
    timeout_ms: 100
fallback:
  primary: b
  strategy: sequential
  levels:
    - services: [a]
`},
		{"fallback no levels", `services:
  - name: a
    endpoint: https://x
    timeout_ms: 100
fallback:
  primary: a
  strategy: sequential
  levels: []
`},
		{"invalid yaml", "services: ["},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := LoadRegistryFile(writeRegistryFile(t, tc.yaml)); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadRegistryFile_FileNotFound(t *testing.T) {
	if _, err := LoadRegistryFile("/nonexistent/services.yaml"); err == nil {
		t.Fatal("expected error for missing file")
	}
}
