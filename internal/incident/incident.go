// Package incident defines the persisted data model shared by the
// detector chain, the remediation pipeline, and the store.
package incident

import (
	"time"
)

// Type classifies what kind of threshold breach was observed.
type Type string

const (
	TypeHealthCheckFailed Type = "health_check_failed"
	TypeHighErrorRate     Type = "high_error_rate"
	TypeCPUSpike          Type = "cpu_spike"
	TypeHighResponseTime  Type = "high_response_time"
	TypeMLAnomaly         Type = "ml_anomaly"
	TypePredictedFailure  Type = "predicted_failure"
)

// Severity grades an incident.
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarning  Severity = "WARNING"
	SeverityCritical Severity = "CRITICAL"
)

// Status tracks the incident lifecycle. ACTIVE incidents may become
// RESOLVED (after a successful action) or ESCALATED (auto-remediation
// blocked or exhausted). ESCALATED incidents can only be resolved
// manually.
type Status string

const (
	StatusActive    Status = "ACTIVE"
	StatusResolved  Status = "RESOLVED"
	StatusEscalated Status = "ESCALATED"
)

// Incident is a typed observation that thresholds were breached.
type Incident struct {
	ID                    int64          `json:"id"`
	Timestamp             time.Time      `json:"timestamp"`
	Type                  Type           `json:"type"`
	Severity              Severity       `json:"severity"`
	Details               map[string]any `json:"details,omitempty"`
	Status                Status         `json:"status"`
	AffectedService       string         `json:"affected_service"`
	ResolvedAt            *time.Time     `json:"resolved_at,omitempty"`
	ResolutionTimeSeconds *int64         `json:"resolution_time_seconds,omitempty"`
}

// ActionType identifies a container mutation.
type ActionType string

const (
	ActionRestartContainer ActionType = "restart_container"
	ActionStartReplica     ActionType = "start_replica"
	ActionStopReplica      ActionType = "stop_replica"
	ActionScaleReplicas    ActionType = "scale_replicas"
)

// TriggeredBy records what initiated an action.
type TriggeredBy string

const (
	TriggeredByBot    TriggeredBy = "bot"
	TriggeredByAPI    TriggeredBy = "api"
	TriggeredByManual TriggeredBy = "manual"
)

// Action is a container mutation attributed to an incident.
type Action struct {
	ID              int64       `json:"id"`
	IncidentID      int64       `json:"incident_id"`
	Timestamp       time.Time   `json:"timestamp"`
	ActionType      ActionType  `json:"action_type"`
	Target          string      `json:"target"`
	Success         bool        `json:"success"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	ExecutionTimeMs int64       `json:"execution_time_ms"`
	TriggeredBy     TriggeredBy `json:"triggered_by"`
}
