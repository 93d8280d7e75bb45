// Package detect converts health samples into typed incidents. Each
// detector is an independent classifier; the chain runs all of them
// per tick and isolates individual failures.
package detect

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/config"
	"github.com/mainulhossain123/infra-autofix-agent/internal/health"
	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
	"github.com/mainulhossain123/infra-autofix-agent/internal/ml"
)

// Sample is one probe outcome: either a snapshot or a categorized
// probe failure.
type Sample struct {
	Snapshot *health.Snapshot
	Failure  *health.ProbeError
}

// Detector classifies a sample into at most one incident.
type Detector interface {
	Name() string
	Detect(ctx context.Context, s Sample, th config.Thresholds) *incident.Incident
}

// Chain runs a fixed set of detectors with shared thresholds. The
// thresholds are refreshed by the monitor loop; detectors read the
// value current at the start of each run.
type Chain struct {
	mu         sync.RWMutex
	thresholds config.Thresholds
	detectors  []Detector
	logger     zerolog.Logger
}

// NewChain builds the standard detector chain. The scorer is optional;
// when nil, the ML anomaly detector is not installed.
func NewChain(th config.Thresholds, scorer ml.AnomalyScorer, logger zerolog.Logger) *Chain {
	detectors := []Detector{
		HealthCheckDetector{},
		ErrorRateDetector{},
		CPUSpikeDetector{},
		ResponseTimeDetector{},
	}
	if scorer != nil {
		detectors = append(detectors, MLAnomalyDetector{Scorer: scorer, MinSeverity: defaultMLMinSeverity})
	}
	return &Chain{
		thresholds: th,
		detectors:  detectors,
		logger:     logger.With().Str("component", "detect").Logger(),
	}
}

// UpdateThresholds swaps the thresholds seen by subsequent runs.
func (c *Chain) UpdateThresholds(th config.Thresholds) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if th != c.thresholds {
		c.logger.Info().
			Float64("errorRate", th.ErrorRate).
			Float64("cpuPercent", th.CPUPercent).
			Float64("responseTimeMs", th.ResponseTimeMs).
			Msg("Detector thresholds updated")
	}
	c.thresholds = th
}

// Thresholds returns the currently active thresholds.
func (c *Chain) Thresholds() config.Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.thresholds
}

// Run executes every detector against the sample. A detector panic is
// logged and does not suppress the others.
func (c *Chain) Run(ctx context.Context, s Sample) []*incident.Incident {
	th := c.Thresholds()

	var incidents []*incident.Incident
	for _, d := range c.detectors {
		if inc := c.runOne(ctx, d, s, th); inc != nil {
			incidents = append(incidents, inc)
		}
	}
	return incidents
}

func (c *Chain) runOne(ctx context.Context, d Detector, s Sample, th config.Thresholds) (inc *incident.Incident) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().
				Str("detector", d.Name()).
				Interface("panic", r).
				Msg("Detector panicked; skipping")
			inc = nil
		}
	}()
	return d.Detect(ctx, s, th)
}

// HealthCheckDetector emits when the probe produced no snapshot at all.
type HealthCheckDetector struct{}

func (HealthCheckDetector) Name() string { return "health_check" }

func (HealthCheckDetector) Detect(_ context.Context, s Sample, _ config.Thresholds) *incident.Incident {
	if s.Snapshot != nil {
		return nil
	}
	reason := health.FailOther
	message := "failed to reach health endpoint"
	if s.Failure != nil {
		reason = s.Failure.Category
		message = s.Failure.Error()
	}
	return &incident.Incident{
		Type:     incident.TypeHealthCheckFailed,
		Severity: incident.SeverityCritical,
		Details: map[string]any{
			"reason":  reason,
			"message": message,
		},
	}
}

// ErrorRateDetector emits when the error rate strictly exceeds its
// threshold. Three times the threshold is CRITICAL.
type ErrorRateDetector struct{}

func (ErrorRateDetector) Name() string { return "error_rate" }

func (ErrorRateDetector) Detect(_ context.Context, s Sample, th config.Thresholds) *incident.Incident {
	if s.Snapshot == nil {
		return nil
	}
	rate := s.Snapshot.Metrics.ErrorRate
	if rate <= th.ErrorRate {
		return nil
	}
	severity := incident.SeverityWarning
	if rate > th.ErrorRate*3 {
		severity = incident.SeverityCritical
	}
	return &incident.Incident{
		Type:     incident.TypeHighErrorRate,
		Severity: severity,
		Details: map[string]any{
			"error_rate":     rate,
			"threshold":      th.ErrorRate,
			"total_requests": s.Snapshot.Metrics.TotalRequests,
			"total_errors":   s.Snapshot.Metrics.TotalErrors,
		},
	}
}

// CPUSpikeDetector emits on a CPU threshold breach or when the
// monitored side raised its simulated spike flag.
type CPUSpikeDetector struct{}

func (CPUSpikeDetector) Name() string { return "cpu_spike" }

func (CPUSpikeDetector) Detect(_ context.Context, s Sample, th config.Thresholds) *incident.Incident {
	if s.Snapshot == nil {
		return nil
	}
	cpu := s.Snapshot.Metrics.CPUUsagePercent
	flagged := s.Snapshot.Flags.CPUSpike
	if cpu <= th.CPUPercent && !flagged {
		return nil
	}
	severity := incident.SeverityWarning
	if cpu > th.CPUPercent*1.2 {
		severity = incident.SeverityCritical
	}
	return &incident.Incident{
		Type:     incident.TypeCPUSpike,
		Severity: severity,
		Details: map[string]any{
			"cpu_usage_percent": cpu,
			"threshold":         th.CPUPercent,
			"simulated":         flagged,
		},
	}
}

// ResponseTimeDetector emits when the p95 latency strictly exceeds its
// threshold. Absent percentiles never trigger.
type ResponseTimeDetector struct{}

func (ResponseTimeDetector) Name() string { return "response_time" }

func (ResponseTimeDetector) Detect(_ context.Context, s Sample, th config.Thresholds) *incident.Incident {
	if s.Snapshot == nil {
		return nil
	}
	p95 := s.Snapshot.Metrics.ResponseTimeP95Ms
	if p95 == nil || *p95 <= th.ResponseTimeMs {
		return nil
	}
	severity := incident.SeverityWarning
	if *p95 > th.ResponseTimeMs*2 {
		severity = incident.SeverityCritical
	}
	details := map[string]any{
		"p95_response_time_ms": *p95,
		"threshold":            th.ResponseTimeMs,
	}
	if p50 := s.Snapshot.Metrics.ResponseTimeP50Ms; p50 != nil {
		details["p50_ms"] = *p50
	}
	if p99 := s.Snapshot.Metrics.ResponseTimeP99Ms; p99 != nil {
		details["p99_ms"] = *p99
	}
	return &incident.Incident{
		Type:     incident.TypeHighResponseTime,
		Severity: severity,
		Details:  details,
	}
}

const (
	defaultMLMinSeverity = 50.0
	criticalMLSeverity   = 85.0
	topFeatureCount      = 3
)

// MLAnomalyDetector consults an attached anomaly scorer. Scoring is
// bounded by ml.Budget; slow or failing scorers are skipped for the
// tick.
type MLAnomalyDetector struct {
	Scorer      ml.AnomalyScorer
	MinSeverity float64
}

func (MLAnomalyDetector) Name() string { return "ml_anomaly" }

func (d MLAnomalyDetector) Detect(ctx context.Context, s Sample, _ config.Thresholds) *incident.Incident {
	if s.Snapshot == nil || d.Scorer == nil {
		return nil
	}

	scoreCtx, cancel := context.WithTimeout(ctx, ml.Budget)
	defer cancel()

	score, err := d.Scorer.Score(scoreCtx, s.Snapshot)
	if err != nil {
		// Advisory input only; a failing scorer must not disturb the tick.
		return nil
	}
	if !score.IsAnomaly || score.Severity < d.MinSeverity {
		return nil
	}

	severity := incident.SeverityWarning
	if score.Severity >= criticalMLSeverity {
		severity = incident.SeverityCritical
	}
	return &incident.Incident{
		Type:     incident.TypeMLAnomaly,
		Severity: severity,
		Details: map[string]any{
			"anomaly_score":         score.Severity,
			"contributing_features": topFeatures(score.ContributingFeatures, topFeatureCount),
		},
	}
}

func topFeatures(features []ml.Feature, n int) []string {
	sorted := append([]ml.Feature(nil), features...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Weight > sorted[j].Weight })
	if len(sorted) > n {
		sorted = sorted[:n]
	}
	names := make([]string, 0, len(sorted))
	for _, f := range sorted {
		names = append(names, fmt.Sprintf("%s=%.3f", f.Name, f.Weight))
	}
	return names
}
