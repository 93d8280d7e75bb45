package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Stats summarizes the database contents.
type Stats struct {
	TotalIncidents int64      `json:"total_incidents"`
	TotalActions   int64      `json:"total_actions"`
	OldestIncident *time.Time `json:"oldest_incident,omitempty"`
}

// DeleteOlderThan removes incidents whose timestamp is before cutoff.
// Action rows follow their incident via the foreign-key cascade;
// orphaned manual actions older than the cutoff are removed directly.
// Returns (incidentsDeleted, actionsDeleted).
func (s *Store) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("beginning cleanup transaction: %w", err)
	}
	defer tx.Rollback()

	unix := cutoff.Unix()

	// Count the actions the incident delete will cascade away.
	var cascaded int64
	err = tx.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM remediation_actions
		WHERE incident_id IN (SELECT id FROM incidents WHERE timestamp < ?)`, unix).Scan(&cascaded)
	if err != nil {
		return 0, 0, fmt.Errorf("counting cascading actions: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM incidents WHERE timestamp < ?`, unix)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting incidents: %w", err)
	}
	incidents, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM remediation_actions WHERE timestamp < ?`, unix)
	if err != nil {
		return 0, 0, fmt.Errorf("deleting orphaned actions: %w", err)
	}
	orphans, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("committing cleanup: %w", err)
	}
	return incidents, cascaded + orphans, nil
}

// DatabaseStats returns row counts and the oldest incident timestamp.
func (s *Store) DatabaseStats(ctx context.Context) (Stats, error) {
	var stats Stats
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM incidents`).Scan(&stats.TotalIncidents); err != nil {
		return stats, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM remediation_actions`).Scan(&stats.TotalActions); err != nil {
		return stats, err
	}
	var oldest *int64
	if err := s.db.QueryRowContext(ctx, `SELECT MIN(timestamp) FROM incidents`).Scan(&oldest); err != nil {
		return stats, err
	}
	if oldest != nil {
		t := time.Unix(*oldest, 0).UTC()
		stats.OldestIncident = &t
	}
	return stats, nil
}

// Sweeper applies the retention policy: incidents (and, via cascade,
// their actions) older than the retention period are deleted.
type Sweeper struct {
	store     *Store
	retention time.Duration
	clock     clockwork.Clock
	logger    zerolog.Logger
}

// NewSweeper creates a sweeper keeping retentionDays of history.
func NewSweeper(store *Store, retentionDays int, clock clockwork.Clock, logger zerolog.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		clock:     clock,
		logger:    logger.With().Str("component", "cleanup").Logger(),
	}
}

// RetentionDays returns the configured retention in days.
func (c *Sweeper) RetentionDays() int {
	return int(c.retention / (24 * time.Hour))
}

// Sweep deletes records older than the retention cutoff and returns
// the deletion counts.
func (c *Sweeper) Sweep(ctx context.Context) (int64, int64, error) {
	cutoff := c.clock.Now().Add(-c.retention)
	c.logger.Info().Time("cutoff", cutoff).Msg("Starting retention sweep")

	incidents, actions, err := c.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, 0, err
	}

	if incidents > 0 || actions > 0 {
		c.logger.Info().
			Int64("incidents", incidents).
			Int64("actions", actions).
			Msg("Retention sweep removed old records")
	} else {
		c.logger.Debug().Msg("Retention sweep found nothing to delete")
	}
	return incidents, actions, nil
}
