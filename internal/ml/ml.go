// Package ml defines the optional machine-learning capability
// contracts. The bot compiles and runs with none of them attached;
// they plug in as an extra detector input and an advisory producer.
package ml

import (
	"context"
	"time"

	"github.com/mainulhossain123/infra-autofix-agent/internal/health"
)

// Budget is the hard deadline for any ML call. Scorers and predictors
// that do not answer within it are skipped for the tick.
const Budget = 500 * time.Millisecond

// Feature is a named contribution weight in an ML verdict.
type Feature struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// AnomalyScore is the verdict of an AnomalyScorer for one snapshot.
// Severity is on a 0..100 scale.
type AnomalyScore struct {
	IsAnomaly            bool      `json:"is_anomaly"`
	Severity             float64   `json:"severity"`
	ContributingFeatures []Feature `json:"contributing_features,omitempty"`
}

// AnomalyScorer scores health snapshots for anomalous shape.
type AnomalyScorer interface {
	Score(ctx context.Context, snap *health.Snapshot) (AnomalyScore, error)
}

// RiskLevel grades a failure prediction.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// FailurePrediction is an advisory forecast; it never maps to an
// automatic action.
type FailurePrediction struct {
	Probability float64   `json:"probability"`
	RiskLevel   RiskLevel `json:"risk_level"`
	TopFeatures []string  `json:"top_features,omitempty"`
	Message     string    `json:"message,omitempty"`
}

// FailurePredictor forecasts the chance of a failure in the near term.
type FailurePredictor interface {
	Predict(ctx context.Context) (FailurePrediction, error)
}
