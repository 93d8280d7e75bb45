package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainulhossain123/infra-autofix-agent/internal/config"
	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
)

func newTestStore(t *testing.T) (*Store, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	s, err := Open(filepath.Join(t.TempDir(), "autofix.db"), clock, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s, clock
}

func TestLogIncident_RoundTrip(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogIncident(ctx, &incident.Incident{
		Type:            incident.TypeHighErrorRate,
		Severity:        incident.SeverityWarning,
		AffectedService: "ar_app",
		Details:         map[string]any{"error_rate": 0.35, "threshold": 0.2},
	})
	require.NoError(t, err)
	require.NotZero(t, id)

	got, err := s.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.TypeHighErrorRate, got.Type)
	assert.Equal(t, incident.SeverityWarning, got.Severity)
	assert.Equal(t, incident.StatusActive, got.Status)
	assert.Equal(t, "ar_app", got.AffectedService)
	assert.Equal(t, 0.35, got.Details["error_rate"])
	assert.Equal(t, clock.Now().Unix(), got.Timestamp.Unix())
	assert.Nil(t, got.ResolvedAt)
}

func TestGetIncident_Unknown(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.GetIncident(context.Background(), 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLogAction_RequiresIncidentUnlessManual(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.LogAction(ctx, &incident.Action{
		ActionType:  incident.ActionRestartContainer,
		Target:      "ar_app",
		TriggeredBy: incident.TriggeredByBot,
	})
	assert.Error(t, err)

	// Operator-initiated actions may stand alone.
	id, err := s.LogAction(ctx, &incident.Action{
		ActionType:  incident.ActionRestartContainer,
		Target:      "ar_app",
		Success:     true,
		TriggeredBy: incident.TriggeredByManual,
	})
	require.NoError(t, err)
	assert.NotZero(t, id)
}

func TestActionsForIncident(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	incID, err := s.LogIncident(ctx, &incident.Incident{
		Type: incident.TypeCPUSpike, Severity: incident.SeverityCritical, AffectedService: "ar_app",
	})
	require.NoError(t, err)

	_, err = s.LogAction(ctx, &incident.Action{
		IncidentID:      incID,
		ActionType:      incident.ActionRestartContainer,
		Target:          "ar_app",
		Success:         false,
		ErrorMessage:    "daemon unavailable",
		ExecutionTimeMs: 120,
	})
	require.NoError(t, err)

	clock.Advance(5 * time.Second)
	_, err = s.LogAction(ctx, &incident.Action{
		IncidentID:      incID,
		ActionType:      incident.ActionRestartContainer,
		Target:          "ar_app",
		Success:         true,
		ExecutionTimeMs: 2300,
	})
	require.NoError(t, err)

	actions, err := s.ActionsForIncident(ctx, incID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.False(t, actions[0].Success)
	assert.Equal(t, "daemon unavailable", actions[0].ErrorMessage)
	assert.True(t, actions[1].Success)
	assert.Equal(t, incident.TriggeredByBot, actions[1].TriggeredBy)
}

func TestResolveIncident(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogIncident(ctx, &incident.Incident{
		Type: incident.TypeHealthCheckFailed, Severity: incident.SeverityCritical, AffectedService: "ar_app",
	})
	require.NoError(t, err)

	clock.Advance(45 * time.Second)
	require.NoError(t, s.ResolveIncident(ctx, id))

	got, err := s.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusResolved, got.Status)
	require.NotNil(t, got.ResolvedAt)
	require.NotNil(t, got.ResolutionTimeSeconds)
	assert.Equal(t, int64(45), *got.ResolutionTimeSeconds)

	// Resolving again is a no-op: the latency stays pinned to the
	// first resolution.
	clock.Advance(10 * time.Minute)
	require.NoError(t, s.ResolveIncident(ctx, id))

	again, err := s.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, int64(45), *again.ResolutionTimeSeconds)
}

func TestEscalateIncident(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	id, err := s.LogIncident(ctx, &incident.Incident{
		Type:     incident.TypeHighErrorRate,
		Severity: incident.SeverityCritical,
		Details:  map[string]any{"error_rate": 0.7},
	})
	require.NoError(t, err)

	require.NoError(t, s.EscalateIncident(ctx, id, "circuit OPEN for ar_app"))

	got, err := s.GetIncident(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusEscalated, got.Status)
	assert.Equal(t, "circuit OPEN for ar_app", got.Details["escalation_reason"])
	assert.Equal(t, 0.7, got.Details["error_rate"])

	// Only ACTIVE incidents can be escalated.
	assert.ErrorIs(t, s.EscalateIncident(ctx, id, "again"), ErrNotFound)
	assert.ErrorIs(t, s.EscalateIncident(ctx, 9999, "missing"), ErrNotFound)
}

func TestActiveAndRecentIncidents(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	first, err := s.LogIncident(ctx, &incident.Incident{Type: incident.TypeCPUSpike, Severity: incident.SeverityWarning})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	second, err := s.LogIncident(ctx, &incident.Incident{Type: incident.TypeHighErrorRate, Severity: incident.SeverityWarning})
	require.NoError(t, err)
	clock.Advance(time.Minute)
	third, err := s.LogIncident(ctx, &incident.Incident{Type: incident.TypeHighResponseTime, Severity: incident.SeverityCritical})
	require.NoError(t, err)

	require.NoError(t, s.ResolveIncident(ctx, second))

	active, err := s.ActiveIncidents(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first, active[0].ID)
	assert.Equal(t, third, active[1].ID)

	recent, err := s.RecentIncidents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, third, recent[0].ID)
	assert.Equal(t, second, recent[1].ID)
}

func TestThresholds_SeedAndOverride(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	// Absent key falls back to defaults.
	th, err := s.ReadThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultThresholds(), th)

	env := config.Thresholds{ErrorRate: 0.3, CPUPercent: 85, ResponseTimeMs: 600}
	require.NoError(t, s.SeedThresholds(ctx, env, "env"))

	th, err = s.ReadThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, env, th)

	// An operator override wins over a later seed.
	operator := config.Thresholds{ErrorRate: 0.5, CPUPercent: 90, ResponseTimeMs: 800}
	require.NoError(t, s.WriteThresholds(ctx, operator, "api"))
	require.NoError(t, s.SeedThresholds(ctx, env, "env"))

	th, err = s.ReadThresholds(ctx)
	require.NoError(t, err)
	assert.Equal(t, operator, th)
}

func TestBreakerSettings_SeedAndRead(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	settings, err := s.ReadBreakerSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultBreakerSettings(), settings)

	custom := config.BreakerSettings{MaxFailures: 5, Window: 10 * time.Minute, Cooldown: 3 * time.Minute}
	require.NoError(t, s.SeedBreakerSettings(ctx, custom, "env"))

	settings, err = s.ReadBreakerSettings(ctx)
	require.NoError(t, err)
	assert.Equal(t, custom, settings)
}

func TestDeleteOlderThan_CascadesActions(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	oldID, err := s.LogIncident(ctx, &incident.Incident{Type: incident.TypeCPUSpike, Severity: incident.SeverityWarning})
	require.NoError(t, err)
	_, err = s.LogAction(ctx, &incident.Action{
		IncidentID: oldID, ActionType: incident.ActionRestartContainer, Target: "ar_app", Success: true,
	})
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)
	newID, err := s.LogIncident(ctx, &incident.Incident{Type: incident.TypeHighErrorRate, Severity: incident.SeverityWarning})
	require.NoError(t, err)

	incidents, actions, err := s.DeleteOlderThan(ctx, clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), incidents)
	assert.Equal(t, int64(1), actions)

	_, err = s.GetIncident(ctx, oldID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetIncident(ctx, newID)
	assert.NoError(t, err)
}

func TestDeleteOlderThan_RemovesOrphanedManualActions(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.LogAction(ctx, &incident.Action{
		ActionType:  incident.ActionStopReplica,
		Target:      "ar_app_replica",
		Success:     true,
		TriggeredBy: incident.TriggeredByManual,
	})
	require.NoError(t, err)

	clock.Advance(48 * time.Hour)

	incidents, actions, err := s.DeleteOlderThan(ctx, clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(0), incidents)
	assert.Equal(t, int64(1), actions)
}

func TestSweeper(t *testing.T) {
	s, clock := newTestStore(t)
	ctx := context.Background()

	_, err := s.LogIncident(ctx, &incident.Incident{Type: incident.TypeCPUSpike, Severity: incident.SeverityWarning})
	require.NoError(t, err)

	clock.Advance(31 * 24 * time.Hour)
	keptID, err := s.LogIncident(ctx, &incident.Incident{Type: incident.TypeHighErrorRate, Severity: incident.SeverityWarning})
	require.NoError(t, err)

	sweeper := NewSweeper(s, 30, clock, zerolog.Nop())
	assert.Equal(t, 30, sweeper.RetentionDays())

	incidents, _, err := sweeper.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), incidents)

	stats, err := s.DatabaseStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalIncidents)
	require.NotNil(t, stats.OldestIncident)
	assert.Equal(t, clock.Now().Unix(), stats.OldestIncident.Unix())

	_, err = s.GetIncident(ctx, keptID)
	assert.NoError(t, err)
}
