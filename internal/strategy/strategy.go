// Package strategy maps incidents to remediation actions. The mapping
// is graduated by severity within type and deliberately conservative:
// a restart of the primary container is the only automatic action
// until replicas are part of the deployment.
package strategy

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
)

// Action is a decided remediation step.
type Action struct {
	Type   incident.ActionType
	Target string
	Reason string
}

// Strategy decides the remediation action for an incident.
type Strategy struct {
	// target is the primary application container.
	target string
	logger zerolog.Logger
}

// New creates a strategy that directs actions at the given container.
func New(target string, logger zerolog.Logger) *Strategy {
	return &Strategy{
		target: target,
		logger: logger.With().Str("component", "strategy").Logger(),
	}
}

// Decide returns at most one action for the incident, or nil when the
// incident is advisory or unmapped.
func (s *Strategy) Decide(inc *incident.Incident) *Action {
	switch inc.Type {
	case incident.TypeHealthCheckFailed:
		return &Action{
			Type:   incident.ActionRestartContainer,
			Target: s.target,
			Reason: "health check failed, app unresponsive",
		}

	case incident.TypeHighErrorRate:
		rate, _ := inc.Details["error_rate"].(float64)
		return &Action{
			Type:   incident.ActionRestartContainer,
			Target: s.target,
			Reason: fmt.Sprintf("high error rate %.2f%%, restarting to recover", rate*100),
		}

	case incident.TypeCPUSpike:
		cpu, _ := inc.Details["cpu_usage_percent"].(float64)
		reason := fmt.Sprintf("CPU spike %.1f%%, restarting to recover", cpu)
		if cpu > 95 {
			reason = fmt.Sprintf("extreme CPU usage %.1f%%, forcing restart", cpu)
		}
		return &Action{
			Type:   incident.ActionRestartContainer,
			Target: s.target,
			Reason: reason,
		}

	case incident.TypeHighResponseTime:
		p95, _ := inc.Details["p95_response_time_ms"].(float64)
		return &Action{
			Type:   incident.ActionRestartContainer,
			Target: s.target,
			Reason: fmt.Sprintf("high response time p95=%.0fms, restarting", p95),
		}

	case incident.TypeMLAnomaly:
		if inc.Severity != incident.SeverityCritical {
			return nil
		}
		return &Action{
			Type:   incident.ActionRestartContainer,
			Target: s.target,
			Reason: "critical ML anomaly score, restarting",
		}

	case incident.TypePredictedFailure:
		// Advisory only; never an automatic action.
		return nil

	default:
		s.logger.Warn().Str("type", string(inc.Type)).Msg("No remediation action defined for incident type")
		return nil
	}
}
