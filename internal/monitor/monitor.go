// Package monitor drives the closed-loop control pipeline: probe,
// detect, dedup, decide, gate, execute, record, persist. A single
// goroutine owns the loop; each tick is the unit of resilience and
// nothing is recovered across ticks.
package monitor

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/actuator"
	"github.com/mainulhossain123/infra-autofix-agent/internal/breaker"
	"github.com/mainulhossain123/infra-autofix-agent/internal/detect"
	"github.com/mainulhossain123/infra-autofix-agent/internal/health"
	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
	"github.com/mainulhossain123/infra-autofix-agent/internal/ml"
	"github.com/mainulhossain123/infra-autofix-agent/internal/notify"
	"github.com/mainulhossain123/infra-autofix-agent/internal/store"
	"github.com/mainulhossain123/infra-autofix-agent/internal/strategy"
)

// Prober supplies health samples. *health.Prober is the production
// implementation.
type Prober interface {
	Probe(ctx context.Context) (*health.Snapshot, *health.ProbeError)
}

// Executor runs decided actions. *actuator.Actuator is the production
// implementation.
type Executor interface {
	Execute(ctx context.Context, action strategy.Action) actuator.Result
}

const (
	// thresholdRefreshEvery bounds config staleness at roughly
	// ten poll intervals.
	thresholdRefreshEvery = 10
	// predictionRealertWindow suppresses repeated predicted-failure
	// alerts for the same risk level.
	predictionRealertWindow = 10 * time.Minute
)

// Config tunes the monitor loop.
type Config struct {
	// PollInterval is the tick period.
	PollInterval time.Duration
	// Service names incidents when the probe cannot report one.
	Service string
	// CleanupInterval is how often the retention sweep runs.
	CleanupInterval time.Duration
	// FailureCheckInterval is how often the failure predictor is
	// consulted; zero disables the hook even with a predictor set.
	FailureCheckInterval time.Duration
}

// Monitor orchestrates one control loop.
type Monitor struct {
	cfg      Config
	probe    Prober
	chain    *detect.Chain
	dedup    *detect.Deduplicator
	strategy *strategy.Strategy
	breaker  *breaker.Breaker
	executor Executor
	store    *store.Store
	sweeper  *store.Sweeper
	notify   *notify.Manager
	// predictor is optional; nil disables the advisory hook.
	predictor ml.FailurePredictor
	clock     clockwork.Clock
	logger    zerolog.Logger

	iteration           int
	lastCleanup         time.Time
	lastPredictionCheck time.Time
	lastPredictionAlert map[ml.RiskLevel]time.Time
	loopErrors          int64
}

// Deps collects the monitor's collaborators.
type Deps struct {
	Probe     Prober
	Chain     *detect.Chain
	Dedup     *detect.Deduplicator
	Strategy  *strategy.Strategy
	Breaker   *breaker.Breaker
	Executor  Executor
	Store     *store.Store
	Sweeper   *store.Sweeper
	Notify    *notify.Manager
	Predictor ml.FailurePredictor
	Clock     clockwork.Clock
	Logger    zerolog.Logger
}

// New assembles a monitor.
func New(cfg Config, deps Deps) *Monitor {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	return &Monitor{
		cfg:                 cfg,
		probe:               deps.Probe,
		chain:               deps.Chain,
		dedup:               deps.Dedup,
		strategy:            deps.Strategy,
		breaker:             deps.Breaker,
		executor:            deps.Executor,
		store:               deps.Store,
		sweeper:             deps.Sweeper,
		notify:              deps.Notify,
		predictor:           deps.Predictor,
		clock:               deps.Clock,
		logger:              deps.Logger.With().Str("component", "monitor").Logger(),
		lastPredictionAlert: make(map[ml.RiskLevel]time.Time),
	}
}

// Run executes the control loop until the context is cancelled. The
// loop exits between ticks, so shutdown latency is at most one poll
// interval.
func (m *Monitor) Run(ctx context.Context) {
	m.logger.Info().
		Dur("pollInterval", m.cfg.PollInterval).
		Msg("Starting monitor loop")

	// Pick up operator thresholds immediately rather than waiting
	// for the periodic refresh.
	m.refreshThresholds(ctx)

	for {
		m.safeTick(ctx)

		select {
		case <-ctx.Done():
			m.logger.Info().Int64("loopErrors", m.loopErrors).Msg("Monitor loop stopped")
			return
		case <-m.clock.After(m.cfg.PollInterval):
		}
	}
}

// safeTick isolates tick panics; a broken tick must not kill the loop.
func (m *Monitor) safeTick(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			m.loopErrors++
			m.logger.Error().Interface("panic", r).Msg("Tick panicked")
		}
	}()
	m.tick(ctx)
}

// tick runs one full pipeline iteration.
func (m *Monitor) tick(ctx context.Context) {
	m.iteration++

	if m.iteration%thresholdRefreshEvery == 0 {
		m.refreshThresholds(ctx)
	}

	m.runCleanupIfDue(ctx)
	m.checkFailurePrediction(ctx)

	snap, probeErr := m.probe.Probe(ctx)
	if probeErr != nil {
		m.logger.Warn().Str("category", probeErr.Category).Msg("Health probe failed")
	}

	incidents := m.chain.Run(ctx, detect.Sample{Snapshot: snap, Failure: probeErr})
	if len(incidents) == 0 {
		m.logger.Debug().Msg("No incidents detected")
		return
	}

	service := m.cfg.Service
	if snap != nil && snap.Service != "" {
		service = snap.Service
	}

	for _, inc := range incidents {
		if !m.dedup.Admit(inc.Type) {
			continue
		}
		inc.AffectedService = service
		m.handleIncident(ctx, inc)
	}
}

// handleIncident runs the remediation pipeline for one surviving
// incident: log, decide, gate, execute, record, resolve or escalate.
func (m *Monitor) handleIncident(ctx context.Context, inc *incident.Incident) {
	m.logger.Warn().
		Str("type", string(inc.Type)).
		Str("severity", string(inc.Severity)).
		Msg("Incident detected")
	m.notify.IncidentDetected(inc, inc.AffectedService)

	incidentID, err := m.store.LogIncident(ctx, inc)
	if err != nil {
		// Without an incident identity there is no resolution
		// linkage, so no action may be taken.
		m.loopErrors++
		m.logger.Error().Err(err).Str("type", string(inc.Type)).Msg("Failed to log incident; skipping remediation")
		return
	}

	action := m.strategy.Decide(inc)
	if action == nil {
		m.logger.Info().Str("type", string(inc.Type)).Msg("No remediation action for incident")
		return
	}

	allowed, reason := m.breaker.Gate(action.Target, action.Type)
	if !allowed {
		m.notify.BreakerBlocked(action.Target, reason)
		m.notify.Escalation(action.Target, reason)
		if err := m.store.EscalateIncident(ctx, incidentID, reason); err != nil {
			m.logger.Error().Err(err).Int64("incident", incidentID).Msg("Failed to escalate incident")
		}
		return
	}

	m.notify.RemediationStarted(action.Type, action.Target, action.Reason)
	result := m.executor.Execute(ctx, *action)
	m.breaker.Record(action.Target, action.Type, result.Success)

	if _, err := m.store.LogAction(ctx, &incident.Action{
		IncidentID:      incidentID,
		ActionType:      action.Type,
		Target:          action.Target,
		Success:         result.Success,
		ErrorMessage:    result.ErrorMessage,
		ExecutionTimeMs: result.Ms(),
		TriggeredBy:     incident.TriggeredByBot,
	}); err != nil {
		m.loopErrors++
		m.logger.Error().Err(err).Int64("incident", incidentID).Msg("Failed to log action")
	}

	if result.Success {
		if err := m.store.ResolveIncident(ctx, incidentID); err != nil {
			m.logger.Error().Err(err).Int64("incident", incidentID).Msg("Failed to resolve incident")
		}
		m.logger.Info().
			Str("action", string(action.Type)).
			Str("target", action.Target).
			Int64("tookMs", result.Ms()).
			Msg("Remediation succeeded")
		m.notify.RemediationSucceeded(action.Type, action.Target, result.Ms())
		return
	}

	// The incident stays ACTIVE: the breach will be re-detected next
	// tick until the breaker blocks and escalates it.
	m.logger.Error().
		Str("action", string(action.Type)).
		Str("target", action.Target).
		Str("error", result.ErrorMessage).
		Msg("Remediation failed")
	m.notify.RemediationFailed(action.Type, action.Target, result.ErrorMessage)
	m.notify.Escalation(action.Target, result.ErrorMessage)
}

// refreshThresholds pulls operator thresholds from the config table so
// policy changes apply without a restart.
func (m *Monitor) refreshThresholds(ctx context.Context) {
	th, err := m.store.ReadThresholds(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to read thresholds")
		return
	}
	m.chain.UpdateThresholds(th)
}

// runCleanupIfDue runs the retention sweep when the interval has
// elapsed. Failures are reported and retried next interval.
func (m *Monitor) runCleanupIfDue(ctx context.Context) {
	now := m.clock.Now()
	if !m.lastCleanup.IsZero() && now.Sub(m.lastCleanup) < m.cfg.CleanupInterval {
		return
	}
	m.lastCleanup = now

	incidents, actions, err := m.sweeper.Sweep(ctx)
	if err != nil {
		m.logger.Error().Err(err).Msg("Retention sweep failed")
		m.notify.CleanupFailed(err)
		return
	}
	if incidents > 0 || actions > 0 {
		m.notify.CleanupSummary(incidents, actions, m.sweeper.RetentionDays())
	}
}

// checkFailurePrediction consults the optional failure predictor and
// logs an advisory predicted_failure incident for elevated risk. No
// action is ever mapped to it.
func (m *Monitor) checkFailurePrediction(ctx context.Context) {
	if m.predictor == nil || m.cfg.FailureCheckInterval <= 0 {
		return
	}
	now := m.clock.Now()
	if !m.lastPredictionCheck.IsZero() && now.Sub(m.lastPredictionCheck) < m.cfg.FailureCheckInterval {
		return
	}
	m.lastPredictionCheck = now

	predictCtx, cancel := context.WithTimeout(ctx, ml.Budget)
	defer cancel()

	pred, err := m.predictor.Predict(predictCtx)
	if err != nil {
		m.logger.Debug().Err(err).Msg("Failure prediction unavailable")
		return
	}
	m.logger.Info().
		Float64("probability", pred.Probability).
		Str("riskLevel", string(pred.RiskLevel)).
		Msg("Failure prediction")

	if pred.RiskLevel != ml.RiskMedium && pred.RiskLevel != ml.RiskHigh {
		return
	}
	if last, ok := m.lastPredictionAlert[pred.RiskLevel]; ok && now.Sub(last) < predictionRealertWindow {
		return
	}
	m.lastPredictionAlert[pred.RiskLevel] = now

	severity := incident.SeverityWarning
	if pred.RiskLevel == ml.RiskHigh {
		severity = incident.SeverityCritical
	}
	inc := &incident.Incident{
		Type:     incident.TypePredictedFailure,
		Severity: severity,
		Details: map[string]any{
			"probability":  pred.Probability,
			"risk_level":   string(pred.RiskLevel),
			"message":      pred.Message,
			"top_features": pred.TopFeatures,
		},
		AffectedService: "infrastructure",
	}
	if _, err := m.store.LogIncident(ctx, inc); err != nil {
		m.logger.Error().Err(err).Msg("Failed to log predicted failure incident")
		return
	}
	m.notify.PredictedFailure(pred.Probability, string(pred.RiskLevel))
}

// LoopErrors reports how many ticks hit an unrecoverable error.
func (m *Monitor) LoopErrors() int64 { return m.loopErrors }
