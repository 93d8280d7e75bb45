package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mainulhossain123/infra-autofix-agent/internal/config"
)

// thresholdsRow is the wire form of the thresholds config entry.
type thresholdsRow struct {
	ErrorRate      float64 `json:"error_rate"`
	CPUPercent     float64 `json:"cpu_percent"`
	ResponseTimeMs float64 `json:"response_time_ms"`
}

// breakerRow is the wire form of the circuit_breaker config entry.
type breakerRow struct {
	MaxFailures     int `json:"max_failures"`
	WindowSeconds   int `json:"window_seconds"`
	CooldownSeconds int `json:"cooldown_seconds"`
}

// ReadThresholds returns the operator-set detector thresholds, or the
// built-in defaults when the key is absent.
func (s *Store) ReadThresholds(ctx context.Context) (config.Thresholds, error) {
	def := config.DefaultThresholds()

	var row thresholdsRow
	found, err := s.readConfig(ctx, keyThresholds, &row)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}

	th := def
	if row.ErrorRate > 0 {
		th.ErrorRate = row.ErrorRate
	}
	if row.CPUPercent > 0 {
		th.CPUPercent = row.CPUPercent
	}
	if row.ResponseTimeMs > 0 {
		th.ResponseTimeMs = row.ResponseTimeMs
	}
	return th, nil
}

// WriteThresholds stores detector thresholds under the thresholds key.
func (s *Store) WriteThresholds(ctx context.Context, th config.Thresholds, updatedBy string) error {
	return s.writeConfig(ctx, keyThresholds, thresholdsRow{
		ErrorRate:      th.ErrorRate,
		CPUPercent:     th.CPUPercent,
		ResponseTimeMs: th.ResponseTimeMs,
	}, updatedBy, true)
}

// SeedThresholds stores thresholds only when no operator value exists
// yet, so environment defaults do not clobber live overrides.
func (s *Store) SeedThresholds(ctx context.Context, th config.Thresholds, updatedBy string) error {
	return s.writeConfig(ctx, keyThresholds, thresholdsRow{
		ErrorRate:      th.ErrorRate,
		CPUPercent:     th.CPUPercent,
		ResponseTimeMs: th.ResponseTimeMs,
	}, updatedBy, false)
}

// ReadBreakerSettings returns the operator-set circuit breaker policy,
// or the built-in defaults when the key is absent.
func (s *Store) ReadBreakerSettings(ctx context.Context) (config.BreakerSettings, error) {
	def := config.DefaultBreakerSettings()

	var row breakerRow
	found, err := s.readConfig(ctx, keyBreaker, &row)
	if err != nil {
		return def, err
	}
	if !found {
		return def, nil
	}

	settings := def
	if row.MaxFailures > 0 {
		settings.MaxFailures = row.MaxFailures
	}
	if row.WindowSeconds > 0 {
		settings.Window = time.Duration(row.WindowSeconds) * time.Second
	}
	if row.CooldownSeconds > 0 {
		settings.Cooldown = time.Duration(row.CooldownSeconds) * time.Second
	}
	return settings, nil
}

// SeedBreakerSettings stores the breaker policy only when no operator
// value exists yet.
func (s *Store) SeedBreakerSettings(ctx context.Context, settings config.BreakerSettings, updatedBy string) error {
	return s.writeConfig(ctx, keyBreaker, breakerRow{
		MaxFailures:     settings.MaxFailures,
		WindowSeconds:   int(settings.Window / time.Second),
		CooldownSeconds: int(settings.Cooldown / time.Second),
	}, updatedBy, false)
}

func (s *Store) readConfig(ctx context.Context, key string, out any) (bool, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM config WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("reading config %q: %w", key, err)
	}
	if err := json.Unmarshal([]byte(value), out); err != nil {
		return false, fmt.Errorf("decoding config %q: %w", key, err)
	}
	return true, nil
}

func (s *Store) writeConfig(ctx context.Context, key string, value any, updatedBy string, overwrite bool) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding config %q: %w", key, err)
	}

	query := `
		INSERT INTO config (key, value, updated_at, updated_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value,
			updated_at = excluded.updated_at, updated_by = excluded.updated_by`
	if !overwrite {
		query = `
		INSERT INTO config (key, value, updated_at, updated_by)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO NOTHING`
	}

	if _, err := s.db.ExecContext(ctx, query, key, string(encoded), s.clock.Now().Unix(), updatedBy); err != nil {
		return fmt.Errorf("writing config %q: %w", key, err)
	}
	return nil
}
