// Package config loads bot configuration from the environment with
// built-in defaults. A .env file in the working directory is honored
// when present.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Thresholds are the detector trigger levels. All comparisons against
// them are strictly greater-than.
type Thresholds struct {
	ErrorRate      float64 `json:"error_rate"`
	CPUPercent     float64 `json:"cpu_percent"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

// DefaultThresholds returns the built-in detector thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		ErrorRate:      0.2,
		CPUPercent:     80,
		ResponseTimeMs: 500,
	}
}

// BreakerSettings configure the per-target circuit breaker.
type BreakerSettings struct {
	MaxFailures int           `json:"max_failures"`
	Window      time.Duration `json:"-"`
	Cooldown    time.Duration `json:"-"`
}

// DefaultBreakerSettings returns the built-in breaker policy:
// 3 attempts per 5 minutes, 2 minute cooldown.
func DefaultBreakerSettings() BreakerSettings {
	return BreakerSettings{
		MaxFailures: 3,
		Window:      5 * time.Minute,
		Cooldown:    2 * time.Minute,
	}
}

// Config is the full runtime configuration of the bot.
type Config struct {
	// AppHost is the base URL of the monitored service.
	AppHost string
	// AppContainer is the container name actions target.
	AppContainer string
	// Service is the service name recorded on incidents when the
	// probe cannot report one.
	Service string

	PollInterval    time.Duration
	Thresholds      Thresholds
	Breaker         BreakerSettings
	RetentionDays   int
	CleanupInterval time.Duration

	DatabaseURL     string
	SlackWebhookURL string

	FailurePrediction    bool
	FailureCheckInterval time.Duration

	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment. Missing or malformed
// values fall back to defaults; Load never fails on bad numeric input,
// it keeps the default and lets validation catch genuinely unusable
// settings.
func Load() Config {
	// Best-effort; absence of a .env file is the normal case.
	_ = godotenv.Load()

	cfg := Config{
		AppHost:              envString("APP_HOST", "http://app:5000"),
		AppContainer:         envString("APP_CONTAINER", "ar_app"),
		Service:              envString("APP_SERVICE_NAME", "ar_app"),
		PollInterval:         time.Duration(envInt("BOT_POLL_SECONDS", 5)) * time.Second,
		RetentionDays:        envInt("DATA_RETENTION_DAYS", 180),
		CleanupInterval:      time.Duration(envInt("CLEANUP_INTERVAL_HOURS", 24)) * time.Hour,
		DatabaseURL:          envString("DATABASE_URL", "data/autofix.db"),
		SlackWebhookURL:      envString("SLACK_WEBHOOK_URL", ""),
		FailurePrediction:    envBool("ENABLE_FAILURE_PREDICTION", true),
		FailureCheckInterval: time.Duration(envInt("FAILURE_CHECK_INTERVAL", 300)) * time.Second,
		LogLevel:             envString("LOG_LEVEL", "info"),
		LogFormat:            envString("LOG_FORMAT", "auto"),
	}

	th := DefaultThresholds()
	th.ErrorRate = envFloat("ERROR_RATE_THRESHOLD", th.ErrorRate)
	th.CPUPercent = envFloat("CPU_THRESHOLD", th.CPUPercent)
	th.ResponseTimeMs = envFloat("RESPONSE_TIME_THRESHOLD_MS", th.ResponseTimeMs)
	cfg.Thresholds = th

	br := DefaultBreakerSettings()
	br.MaxFailures = envInt("MAX_RESTARTS_PER_5MIN", br.MaxFailures)
	br.Cooldown = time.Duration(envInt("COOLDOWN_SECONDS", int(br.Cooldown/time.Second))) * time.Second
	cfg.Breaker = br

	return cfg
}

// Validate reports configuration the bot cannot start with.
func (c Config) Validate() error {
	if c.AppHost == "" {
		return fmt.Errorf("APP_HOST must not be empty")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("BOT_POLL_SECONDS must be positive")
	}
	if c.Breaker.MaxFailures <= 0 {
		return fmt.Errorf("MAX_RESTARTS_PER_5MIN must be positive")
	}
	if c.RetentionDays <= 0 {
		return fmt.Errorf("DATA_RETENTION_DAYS must be positive")
	}
	return nil
}

func envString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return parsed
}

func envFloat(key string, def float64) float64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return parsed
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if v == "" {
		return def
	}
	switch v {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return def
	}
}
