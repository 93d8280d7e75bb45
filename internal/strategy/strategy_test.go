package strategy

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
)

func TestDecide_RestartMappings(t *testing.T) {
	s := New("ar_app", zerolog.Nop())

	tests := []struct {
		name string
		inc  *incident.Incident
	}{
		{"health check failure", &incident.Incident{Type: incident.TypeHealthCheckFailed, Severity: incident.SeverityCritical}},
		{"high error rate", &incident.Incident{Type: incident.TypeHighErrorRate, Severity: incident.SeverityWarning, Details: map[string]any{"error_rate": 0.5}}},
		{"cpu spike", &incident.Incident{Type: incident.TypeCPUSpike, Severity: incident.SeverityWarning, Details: map[string]any{"cpu_usage_percent": 85.0}}},
		{"high response time", &incident.Incident{Type: incident.TypeHighResponseTime, Severity: incident.SeverityCritical, Details: map[string]any{"p95_response_time_ms": 1200.0}}},
		{"critical ml anomaly", &incident.Incident{Type: incident.TypeMLAnomaly, Severity: incident.SeverityCritical}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			action := s.Decide(tc.inc)
			require.NotNil(t, action)
			assert.Equal(t, incident.ActionRestartContainer, action.Type)
			assert.Equal(t, "ar_app", action.Target)
			assert.NotEmpty(t, action.Reason)
		})
	}
}

func TestDecide_ExtremeCPUReason(t *testing.T) {
	s := New("ar_app", zerolog.Nop())

	action := s.Decide(&incident.Incident{
		Type:     incident.TypeCPUSpike,
		Severity: incident.SeverityCritical,
		Details:  map[string]any{"cpu_usage_percent": 98.0},
	})
	require.NotNil(t, action)
	assert.Contains(t, action.Reason, "extreme")
}

func TestDecide_NoAction(t *testing.T) {
	s := New("ar_app", zerolog.Nop())

	t.Run("predicted failure is advisory", func(t *testing.T) {
		assert.Nil(t, s.Decide(&incident.Incident{Type: incident.TypePredictedFailure, Severity: incident.SeverityCritical}))
	})

	t.Run("warning ml anomaly", func(t *testing.T) {
		assert.Nil(t, s.Decide(&incident.Incident{Type: incident.TypeMLAnomaly, Severity: incident.SeverityWarning}))
	})

	t.Run("unknown type", func(t *testing.T) {
		assert.Nil(t, s.Decide(&incident.Incident{Type: "disk_full"}))
	})
}
