package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	envRegistryFile    = "SEN_REGISTRY_FILE"
	envSlackWebhookURL = "SEN_SLACK_WEBHOOK_URL"
	envAlertWebhookURL = "SEN_ALERT_WEBHOOK_URL"
	envHealthPort      = "SEN_HEALTH_PORT"
	envMetricsPort     = "SEN_METRICS_PORT"
	envMaxInFlight     = "SEN_MAX_IN_FLIGHT"
	envBalancer        = "SEN_BALANCER"
	envDispatchMode    = "SEN_DISPATCH_MODE"
	envReevalInterval  = "SEN_REEVAL_INTERVAL"
	envSweepInterval   = "SEN_SWEEP_INTERVAL"
	envDryRun          = "SEN_DRY_RUN"
)

const (
	defaultMaxInFlight    = 32
	defaultBalancer       = "round-robin"
	defaultDispatchMode   = "parallel"
	defaultReevalInterval = 10 * time.Second
	defaultSweepInterval  = 5 * time.Second
)

// Config describes runtime configuration loaded from the environment.
type Config struct {
	RegistryFile    string
	SlackWebhookURL string
	AlertWebhookURL string
	HealthPort      int
	MetricsPort     int
	MaxInFlight     int
	Balancer        string
	DispatchMode    string
	ReevalInterval  time.Duration
	SweepInterval   time.Duration
	DryRun          bool
}

// Load reads configuration from environment variables and a local .env file if present.
// Existing environment variables take precedence over values in .env.
func Load() (Config, error) {
	if err := loadDotEnvIfPresent(".env"); err != nil {
		return Config{}, err
	}

	cfg := Config{
		MaxInFlight:    defaultMaxInFlight,
		Balancer:       defaultBalancer,
		DispatchMode:   defaultDispatchMode,
		ReevalInterval: defaultReevalInterval,
		SweepInterval:  defaultSweepInterval,
	}

	if value, ok := lookupTrimmed(envRegistryFile); ok {
		cfg.RegistryFile = value
	}
	if value, ok := lookupTrimmed(envSlackWebhookURL); ok {
		cfg.SlackWebhookURL = value
	}
	if value, ok := lookupTrimmed(envAlertWebhookURL); ok {
		cfg.AlertWebhookURL = value
	}

	var err error
	if cfg.HealthPort, err = lookupPort(envHealthPort); err != nil {
		return Config{}, err
	}
	if cfg.MetricsPort, err = lookupPort(envMetricsPort); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envMaxInFlight); ok {
		n, err := strconv.Atoi(value)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", envMaxInFlight, err)
		}
		if n <= 0 {
			return Config{}, fmt.Errorf("%s must be greater than zero", envMaxInFlight)
		}
		cfg.MaxInFlight = n
	}

	if value, ok := lookupTrimmed(envBalancer); ok {
		switch value {
		case "round-robin", "weighted", "least-connections":
			cfg.Balancer = value
		default:
			return Config{}, fmt.Errorf("invalid %s: %q", envBalancer, value)
		}
	}

	if value, ok := lookupTrimmed(envDispatchMode); ok {
		switch value {
		case "parallel", "sequential", "priority":
			cfg.DispatchMode = value
		default:
			return Config{}, fmt.Errorf("invalid %s: %q", envDispatchMode, value)
		}
	}

	if cfg.ReevalInterval, err = lookupInterval(envReevalInterval, defaultReevalInterval); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = lookupInterval(envSweepInterval, defaultSweepInterval); err != nil {
		return Config{}, err
	}

	if value, ok := lookupTrimmed(envDryRun); ok {
		cfg.DryRun = value == "1" || strings.EqualFold(value, "true")
	}

	if cfg.RegistryFile == "" {
		return Config{}, errors.New("SEN_REGISTRY_FILE is required")
	}

	if cfg.SlackWebhookURL != "" {
		if err := validateURL(cfg.SlackWebhookURL, envSlackWebhookURL); err != nil {
			return Config{}, err
		}
	}
	if cfg.AlertWebhookURL != "" {
		if err := validateURL(cfg.AlertWebhookURL, envAlertWebhookURL); err != nil {
			return Config{}, err
		}
	}

	return cfg, nil
}

func lookupTrimmed(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	return strings.TrimSpace(value), true
}

func lookupPort(key string) (int, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return 0, nil
	}
	port, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if port < 0 || port > 65535 {
		return 0, fmt.Errorf("%s must be a valid port", key)
	}
	return port, nil
}

func lookupInterval(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := lookupTrimmed(key)
	if !ok || value == "" {
		return fallback, nil
	}
	interval, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if interval <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero", key)
	}
	return interval, nil
}

func loadDotEnvIfPresent(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) && errors.Is(pathErr.Err, os.ErrNotExist) {
		return nil
	}

	return err
}

func validateURL(value, name string) error {
	parsed, err := url.Parse(value)
	if err != nil {
		return fmt.Errorf("invalid %s: %w", name, err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("invalid %s: must include scheme and host", name)
	}
	return nil
}
