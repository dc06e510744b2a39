package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nholik/service-sentinel/internal/breaker"
	"github.com/nholik/service-sentinel/internal/fallback"
	"github.com/nholik/service-sentinel/internal/monitor"
	"github.com/nholik/service-sentinel/internal/registry"
)

// ServiceEntry is one registered service instance:
// {name, endpoint, priority, timeoutMs, retryAttempts}.
type ServiceEntry struct {
	Name          string `yaml:"name"`
	Endpoint      string `yaml:"endpoint"`
	Priority      int    `yaml:"priority"`
	TimeoutMs     int    `yaml:"timeout_ms"`
	RetryAttempts int    `yaml:"retry_attempts"`
}

// BreakerEntry configures one breaker:
// {serviceName, failureThreshold, timeoutDurationMs, monitoringWindowMs}.
// An entry without a service name is the shared default.
type BreakerEntry struct {
	ServiceName        string  `yaml:"service_name,omitempty"`
	FailureThreshold   int     `yaml:"failure_threshold"`
	SuccessThreshold   int     `yaml:"success_threshold,omitempty"`
	TimeoutDurationMs  int     `yaml:"timeout_duration_ms"`
	MonitoringWindowMs int     `yaml:"monitoring_window_ms"`
	FailureRate        float64 `yaml:"failure_rate,omitempty"`
	MinSamples         int     `yaml:"min_samples,omitempty"`
	SuccessDecay       int     `yaml:"success_decay,omitempty"`
}

// ThresholdEntry holds the alert thresholds for one monitored service.
type ThresholdEntry struct {
	ResponseTimeMs int     `yaml:"response_time_ms"`
	ErrorRate      float64 `yaml:"error_rate"`
	Availability   float64 `yaml:"availability"`
}

// MonitorEntry configures one health monitor target:
// {name, healthEndpoint, checkIntervalMs, alertThresholds}.
type MonitorEntry struct {
	Name            string         `yaml:"name"`
	HealthEndpoint  string         `yaml:"health_endpoint"`
	CheckIntervalMs int            `yaml:"check_interval_ms"`
	ProbeTimeoutMs  int            `yaml:"probe_timeout_ms,omitempty"`
	AlertThresholds ThresholdEntry `yaml:"alert_thresholds"`
}

// LevelEntry is one degradation level, most-capable first.
type LevelEntry struct {
	Services []string `yaml:"services"`
	Features []string `yaml:"features"`
}

// FallbackEntry configures the fallback coordinator.
type FallbackEntry struct {
	Primary   string       `yaml:"primary"`
	Fallbacks []string     `yaml:"fallbacks"`
	Strategy  string       `yaml:"strategy"`
	Levels    []LevelEntry `yaml:"levels"`
}

// RegistryFile is the parsed YAML structure binding all component configs.
type RegistryFile struct {
	Services []ServiceEntry `yaml:"services"`
	Breaker  BreakerEntry   `yaml:"breaker"`
	Breakers []BreakerEntry `yaml:"breakers,omitempty"`
	Monitors []MonitorEntry `yaml:"monitors"`
	Fallback *FallbackEntry `yaml:"fallback,omitempty"`
}

// LoadRegistryFile parses and validates a YAML registry file.
func LoadRegistryFile(path string) (RegistryFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return RegistryFile{}, fmt.Errorf("read registry file: %w", err)
	}

	var rf RegistryFile
	if err := yaml.Unmarshal(data, &rf); err != nil {
		return RegistryFile{}, fmt.Errorf("parse registry file: %w", err)
	}

	if err := rf.validate(); err != nil {
		return RegistryFile{}, err
	}
	return rf, nil
}

func (rf RegistryFile) validate() error {
	if len(rf.Services) == 0 {
		return fmt.Errorf("registry file contains no services")
	}

	known := make(map[string]bool)
	for i, entry := range rf.Services {
		if entry.Name == "" {
			return fmt.Errorf("service %d: name is required", i)
		}
		if entry.Endpoint == "" {
			return fmt.Errorf("service %q: endpoint is required", entry.Name)
		}
		if entry.TimeoutMs <= 0 {
			return fmt.Errorf("service %q: timeout_ms must be greater than zero", entry.Name)
		}
		if entry.RetryAttempts < 0 {
			return fmt.Errorf("service %q: retry_attempts cannot be negative", entry.Name)
		}
		known[entry.Name] = true
	}

	for _, entry := range rf.Breakers {
		if entry.ServiceName == "" {
			return fmt.Errorf("breaker override without service_name")
		}
		if !known[entry.ServiceName] {
			return fmt.Errorf("breaker %q: unknown service", entry.ServiceName)
		}
	}

	seen := make(map[string]bool)
	for i, entry := range rf.Monitors {
		if entry.Name == "" {
			return fmt.Errorf("monitor %d: name is required", i)
		}
		if seen[entry.Name] {
			return fmt.Errorf("monitor %q: duplicate name", entry.Name)
		}
		seen[entry.Name] = true
		if entry.HealthEndpoint == "" {
			return fmt.Errorf("monitor %q: health_endpoint is required", entry.Name)
		}
		if entry.CheckIntervalMs <= 0 {
			return fmt.Errorf("monitor %q: check_interval_ms must be greater than zero", entry.Name)
		}
	}

	if rf.Fallback != nil {
		if rf.Fallback.Primary == "" {
			return fmt.Errorf("fallback: primary is required")
		}
		if !known[rf.Fallback.Primary] {
			return fmt.Errorf("fallback: unknown primary service %q", rf.Fallback.Primary)
		}
		for _, name := range rf.Fallback.Fallbacks {
			if !known[name] {
				return fmt.Errorf("fallback: unknown fallback service %q", name)
			}
		}
		if len(rf.Fallback.Levels) == 0 {
			return fmt.Errorf("fallback: at least one degradation level is required")
		}
	}

	return nil
}

// Descriptors converts the service entries into registry descriptors.
func (rf RegistryFile) Descriptors() []registry.ServiceDescriptor {
	descriptors := make([]registry.ServiceDescriptor, 0, len(rf.Services))
	for _, entry := range rf.Services {
		descriptors = append(descriptors, registry.ServiceDescriptor{
			Name:          entry.Name,
			Endpoint:      entry.Endpoint,
			Priority:      entry.Priority,
			Timeout:       time.Duration(entry.TimeoutMs) * time.Millisecond,
			RetryAttempts: entry.RetryAttempts,
		})
	}
	return descriptors
}

// BreakerSettings converts the shared breaker entry into settings.
func (rf RegistryFile) BreakerSettings() breaker.Settings {
	return rf.Breaker.settings()
}

// BreakerOverrides converts per-service breaker entries into settings
// keyed by service name.
func (rf RegistryFile) BreakerOverrides() map[string]breaker.Settings {
	if len(rf.Breakers) == 0 {
		return nil
	}
	overrides := make(map[string]breaker.Settings, len(rf.Breakers))
	for _, entry := range rf.Breakers {
		overrides[entry.ServiceName] = entry.settings()
	}
	return overrides
}

func (entry BreakerEntry) settings() breaker.Settings {
	return breaker.Settings{
		FailureThreshold: entry.FailureThreshold,
		SuccessThreshold: entry.SuccessThreshold,
		OpenTimeout:      time.Duration(entry.TimeoutDurationMs) * time.Millisecond,
		Window:           time.Duration(entry.MonitoringWindowMs) * time.Millisecond,
		FailureRate:      entry.FailureRate,
		MinSamples:       entry.MinSamples,
		SuccessDecay:     entry.SuccessDecay,
	}
}

// Targets converts the monitor entries into probe targets.
func (rf RegistryFile) Targets() []monitor.Target {
	targets := make([]monitor.Target, 0, len(rf.Monitors))
	for _, entry := range rf.Monitors {
		timeout := entry.ProbeTimeoutMs
		if timeout <= 0 {
			timeout = entry.CheckIntervalMs
		}
		targets = append(targets, monitor.Target{
			Name:           entry.Name,
			HealthEndpoint: entry.HealthEndpoint,
			Interval:       time.Duration(entry.CheckIntervalMs) * time.Millisecond,
			Timeout:        time.Duration(timeout) * time.Millisecond,
			Thresholds: monitor.Thresholds{
				ResponseTime: time.Duration(entry.AlertThresholds.ResponseTimeMs) * time.Millisecond,
				ErrorRate:    entry.AlertThresholds.ErrorRate,
				Availability: entry.AlertThresholds.Availability,
			},
		})
	}
	return targets
}

// Policy converts the fallback entry into a coordinator policy, or nil
// when no fallback section is configured.
func (rf RegistryFile) Policy() *fallback.Policy {
	if rf.Fallback == nil {
		return nil
	}
	levels := make([]fallback.Level, 0, len(rf.Fallback.Levels))
	for _, entry := range rf.Fallback.Levels {
		levels = append(levels, fallback.Level{
			Services: append([]string(nil), entry.Services...),
			Features: append([]string(nil), entry.Features...),
		})
	}
	return &fallback.Policy{
		Primary:   rf.Fallback.Primary,
		Fallbacks: append([]string(nil), rf.Fallback.Fallbacks...),
		Strategy:  fallback.Strategy(rf.Fallback.Strategy),
		Levels:    levels,
	}
}
