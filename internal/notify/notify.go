// Package notify emits user-visible events at the control loop's
// decision points. Delivery is best-effort and fully detached: events
// flow through a bounded drop-oldest queue so a slow transport can
// never stall the control loop.
package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/buffer"
	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
)

// Event severities. SUCCESS exists on top of the incident severities
// for positive remediation outcomes.
const (
	SeverityInfo     = "INFO"
	SeverityWarning  = "WARNING"
	SeverityCritical = "CRITICAL"
	SeveritySuccess  = "SUCCESS"
)

// Event is one notification.
type Event struct {
	ID       string         `json:"id"`
	Severity string         `json:"severity"`
	Message  string         `json:"message"`
	Metadata map[string]any `json:"metadata,omitempty"`
	At       time.Time      `json:"at"`
}

// Notifier delivers a single event to one channel.
type Notifier interface {
	Name() string
	Send(ctx context.Context, ev Event) error
}

const (
	queueCapacity = 256
	sendTimeout   = 5 * time.Second
)

// Manager fans events out to all configured notifiers from a single
// background goroutine.
type Manager struct {
	notifiers []Notifier
	queue     *buffer.Ring[Event]
	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	stopOnce  sync.Once
	clock     clockwork.Clock
	logger    zerolog.Logger
}

// NewManager starts the background emitter.
func NewManager(clock clockwork.Clock, logger zerolog.Logger, notifiers ...Notifier) *Manager {
	m := &Manager{
		notifiers: notifiers,
		queue:     buffer.NewRing[Event](queueCapacity),
		wake:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		clock:     clock,
		logger:    logger.With().Str("component", "notify").Logger(),
	}
	go m.run()
	return m
}

// Notify enqueues an event. It never blocks; when the queue is full
// the oldest pending event is dropped.
func (m *Manager) Notify(severity, message string, metadata map[string]any) {
	ev := Event{
		ID:       uuid.NewString(),
		Severity: severity,
		Message:  message,
		Metadata: metadata,
		At:       m.clock.Now(),
	}
	if evicted := m.queue.Push(ev); evicted {
		m.logger.Warn().Msg("Notification queue full; dropped oldest event")
	}
	select {
	case m.wake <- struct{}{}:
	default:
	}
}

// Close stops the emitter after draining pending events.
func (m *Manager) Close() {
	m.stopOnce.Do(func() { close(m.stop) })
	<-m.done
}

func (m *Manager) run() {
	defer close(m.done)
	for {
		select {
		case <-m.wake:
			m.drain()
		case <-m.stop:
			m.drain()
			return
		}
	}
}

func (m *Manager) drain() {
	for {
		ev, ok := m.queue.Pop()
		if !ok {
			return
		}
		m.deliver(ev)
	}
}

func (m *Manager) deliver(ev Event) {
	for _, n := range m.notifiers {
		ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
		if err := n.Send(ctx, ev); err != nil {
			m.logger.Warn().
				Str("notifier", n.Name()).
				Str("event", ev.ID).
				Err(err).
				Msg("Notification delivery failed")
		}
		cancel()
	}
}

// IncidentDetected announces a new incident.
func (m *Manager) IncidentDetected(inc *incident.Incident, service string) {
	m.Notify(string(inc.Severity),
		fmt.Sprintf("Incident detected on %s: %s (%s)", service, inc.Type, inc.Severity),
		inc.Details)
}

// RemediationStarted announces that an action is about to run.
func (m *Manager) RemediationStarted(action incident.ActionType, target, reason string) {
	m.Notify(SeverityInfo,
		fmt.Sprintf("Starting remediation: %s on %s (%s)", action, target, reason), nil)
}

// RemediationSucceeded announces a verified successful action.
func (m *Manager) RemediationSucceeded(action incident.ActionType, target string, tookMs int64) {
	m.Notify(SeveritySuccess,
		fmt.Sprintf("Remediation successful: %s on %s (%dms)", action, target, tookMs), nil)
}

// RemediationFailed announces a failed action.
func (m *Manager) RemediationFailed(action incident.ActionType, target, errMsg string) {
	m.Notify(SeverityCritical,
		fmt.Sprintf("Remediation failed: %s on %s", action, target),
		map[string]any{"error": errMsg})
}

// BreakerBlocked announces a gate rejection.
func (m *Manager) BreakerBlocked(target, reason string) {
	m.Notify(SeverityWarning,
		fmt.Sprintf("Circuit breaker blocked action on %s", target),
		map[string]any{"reason": reason})
}

// Escalation announces that auto-remediation is exhausted for a target
// and manual intervention is needed.
func (m *Manager) Escalation(target, reason string) {
	m.Notify(SeverityCritical,
		fmt.Sprintf("ESCALATION REQUIRED for %s: auto-remediation exhausted, manual intervention needed", target),
		map[string]any{"escalation_reason": reason})
}

// CleanupSummary reports a retention sweep that removed records.
func (m *Manager) CleanupSummary(incidents, actions int64, retentionDays int) {
	m.Notify(SeverityInfo,
		fmt.Sprintf("Database cleanup removed %d incidents and %d actions older than %d days",
			incidents, actions, retentionDays), nil)
}

// CleanupFailed reports a retention sweep failure; the sweep retries
// next interval.
func (m *Manager) CleanupFailed(err error) {
	m.Notify(SeverityWarning,
		fmt.Sprintf("Database cleanup failed: %v", err), nil)
}

// PredictedFailure reports an advisory failure forecast.
func (m *Manager) PredictedFailure(probability float64, riskLevel string) {
	severity := SeverityWarning
	if riskLevel == "high" {
		severity = SeverityCritical
	}
	m.Notify(severity,
		fmt.Sprintf("Predicted failure: %.0f%% chance of failure in the next hour (%s risk)",
			probability*100, riskLevel), nil)
}
