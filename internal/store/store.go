// Package store persists incidents, remediation actions, and operator
// configuration in SQLite for durability across restarts.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
)

// Config table keys.
const (
	keyThresholds = "thresholds"
	keyBreaker    = "circuit_breaker"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("record not found")

// Store wraps the SQLite database. SQLite works best with a single
// writer, so the pool is pinned to one connection.
type Store struct {
	db     *sql.DB
	clock  clockwork.Clock
	logger zerolog.Logger
}

// Open opens (and creates if necessary) the database at path. The
// path may carry DSN parameters; WAL mode, a busy timeout, and
// foreign-key enforcement are always applied.
func Open(path string, clock clockwork.Clock, logger zerolog.Logger) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	dsn := path
	if !strings.Contains(dsn, "?") {
		dsn += "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{
		db:     db,
		clock:  clock,
		logger: logger.With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing schema: %w", err)
	}

	s.logger.Info().Str("path", path).Msg("Store initialized")
	return s, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS incidents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			timestamp INTEGER NOT NULL,
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			details TEXT NOT NULL DEFAULT '{}',
			status TEXT NOT NULL DEFAULT 'ACTIVE',
			resolved_at INTEGER,
			resolution_time_seconds INTEGER,
			affected_service TEXT NOT NULL DEFAULT ''
		);

		CREATE INDEX IF NOT EXISTS idx_incidents_time ON incidents(timestamp);
		CREATE INDEX IF NOT EXISTS idx_incidents_status ON incidents(status);

		CREATE TABLE IF NOT EXISTS remediation_actions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			incident_id INTEGER REFERENCES incidents(id) ON DELETE CASCADE,
			timestamp INTEGER NOT NULL,
			action_type TEXT NOT NULL,
			target TEXT NOT NULL,
			success INTEGER NOT NULL,
			error_message TEXT,
			execution_time_ms INTEGER NOT NULL DEFAULT 0,
			triggered_by TEXT NOT NULL DEFAULT 'bot',
			metadata TEXT
		);

		CREATE INDEX IF NOT EXISTS idx_actions_incident ON remediation_actions(incident_id);
		CREATE INDEX IF NOT EXISTS idx_actions_time ON remediation_actions(timestamp);

		CREATE TABLE IF NOT EXISTS config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at INTEGER NOT NULL,
			updated_by TEXT NOT NULL DEFAULT ''
		);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return nil
}

// LogIncident inserts an incident with status ACTIVE and returns the
// generated id. The incident's timestamp defaults to now.
func (s *Store) LogIncident(ctx context.Context, inc *incident.Incident) (int64, error) {
	ts := inc.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	details, err := json.Marshal(orEmpty(inc.Details))
	if err != nil {
		return 0, fmt.Errorf("encoding incident details: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO incidents (timestamp, type, severity, details, status, affected_service)
		VALUES (?, ?, ?, ?, 'ACTIVE', ?)`,
		ts.Unix(), string(inc.Type), string(inc.Severity), string(details), inc.AffectedService)
	if err != nil {
		return 0, fmt.Errorf("inserting incident: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	inc.ID = id
	inc.Status = incident.StatusActive
	inc.Timestamp = ts
	return id, nil
}

// LogAction inserts a remediation action row. Actions triggered by the
// bot or the API must reference an incident.
func (s *Store) LogAction(ctx context.Context, act *incident.Action) (int64, error) {
	if act.IncidentID == 0 && act.TriggeredBy != incident.TriggeredByManual {
		return 0, fmt.Errorf("action of type %s requires an incident reference", act.ActionType)
	}
	ts := act.Timestamp
	if ts.IsZero() {
		ts = s.clock.Now()
	}
	triggeredBy := act.TriggeredBy
	if triggeredBy == "" {
		triggeredBy = incident.TriggeredByBot
	}

	var incidentID any
	if act.IncidentID != 0 {
		incidentID = act.IncidentID
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO remediation_actions
			(incident_id, timestamp, action_type, target, success, error_message, execution_time_ms, triggered_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		incidentID, ts.Unix(), string(act.ActionType), act.Target,
		act.Success, nullable(act.ErrorMessage), act.ExecutionTimeMs, string(triggeredBy))
	if err != nil {
		return 0, fmt.Errorf("inserting action: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	act.ID = id
	act.Timestamp = ts
	return id, nil
}

// ResolveIncident marks an incident RESOLVED and records the
// resolution latency. Resolving an already-RESOLVED incident is a
// no-op; the reverse transition never happens.
func (s *Store) ResolveIncident(ctx context.Context, id int64) error {
	now := s.clock.Now().Unix()
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents
		SET status = 'RESOLVED',
		    resolved_at = ?1,
		    resolution_time_seconds = ?1 - timestamp
		WHERE id = ?2 AND status != 'RESOLVED'`,
		now, id)
	if err != nil {
		return fmt.Errorf("resolving incident %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Already resolved or unknown id; both are fine to ignore
		// for the resolve path, but log for visibility.
		s.logger.Debug().Int64("incident", id).Msg("Resolve was a no-op")
	}
	return nil
}

// EscalateIncident marks an ACTIVE incident as requiring human
// attention. The reason is folded into the incident details.
func (s *Store) EscalateIncident(ctx context.Context, id int64, reason string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE incidents
		SET status = 'ESCALATED',
		    details = json_set(details, '$.escalation_reason', ?)
		WHERE id = ? AND status = 'ACTIVE'`,
		reason, id)
	if err != nil {
		return fmt.Errorf("escalating incident %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("escalating incident %d: %w", id, ErrNotFound)
	}
	return nil
}

// GetIncident loads one incident by id.
func (s *Store) GetIncident(ctx context.Context, id int64) (*incident.Incident, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, timestamp, type, severity, details, status, resolved_at, resolution_time_seconds, affected_service
		FROM incidents WHERE id = ?`, id)
	inc, err := scanIncident(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("incident %d: %w", id, ErrNotFound)
	}
	return inc, err
}

// ActiveIncidents returns all incidents still in ACTIVE status, oldest
// first.
func (s *Store) ActiveIncidents(ctx context.Context) ([]*incident.Incident, error) {
	return s.queryIncidents(ctx, `
		SELECT id, timestamp, type, severity, details, status, resolved_at, resolution_time_seconds, affected_service
		FROM incidents WHERE status = 'ACTIVE' ORDER BY timestamp ASC`)
}

// RecentIncidents returns the newest incidents up to limit.
func (s *Store) RecentIncidents(ctx context.Context, limit int) ([]*incident.Incident, error) {
	return s.queryIncidents(ctx, `
		SELECT id, timestamp, type, severity, details, status, resolved_at, resolution_time_seconds, affected_service
		FROM incidents ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
}

// ActionsForIncident returns all action rows referencing an incident,
// oldest first.
func (s *Store) ActionsForIncident(ctx context.Context, incidentID int64) ([]*incident.Action, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, incident_id, timestamp, action_type, target, success, error_message, execution_time_ms, triggered_by
		FROM remediation_actions WHERE incident_id = ? ORDER BY timestamp ASC, id ASC`, incidentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var actions []*incident.Action
	for rows.Next() {
		var (
			act        incident.Action
			incidentID sql.NullInt64
			ts         int64
			errMsg     sql.NullString
		)
		if err := rows.Scan(&act.ID, &incidentID, &ts, &act.ActionType, &act.Target,
			&act.Success, &errMsg, &act.ExecutionTimeMs, &act.TriggeredBy); err != nil {
			return nil, err
		}
		act.IncidentID = incidentID.Int64
		act.Timestamp = time.Unix(ts, 0).UTC()
		act.ErrorMessage = errMsg.String
		actions = append(actions, &act)
	}
	return actions, rows.Err()
}

func (s *Store) queryIncidents(ctx context.Context, query string, args ...any) ([]*incident.Incident, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var incidents []*incident.Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, err
		}
		incidents = append(incidents, inc)
	}
	return incidents, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanIncident(row rowScanner) (*incident.Incident, error) {
	var (
		inc        incident.Incident
		ts         int64
		details    string
		resolvedAt sql.NullInt64
		resolution sql.NullInt64
	)
	if err := row.Scan(&inc.ID, &ts, &inc.Type, &inc.Severity, &details,
		&inc.Status, &resolvedAt, &resolution, &inc.AffectedService); err != nil {
		return nil, err
	}
	inc.Timestamp = time.Unix(ts, 0).UTC()
	if details != "" {
		if err := json.Unmarshal([]byte(details), &inc.Details); err != nil {
			return nil, fmt.Errorf("decoding incident %d details: %w", inc.ID, err)
		}
	}
	if resolvedAt.Valid {
		t := time.Unix(resolvedAt.Int64, 0).UTC()
		inc.ResolvedAt = &t
	}
	if resolution.Valid {
		v := resolution.Int64
		inc.ResolutionTimeSeconds = &v
	}
	return &inc, nil
}

func orEmpty(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
