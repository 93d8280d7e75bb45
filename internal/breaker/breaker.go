// Package breaker gates remediation actions per target. It combines a
// sliding attempt window with an OPEN/HALF_OPEN/CLOSED state machine
// so that sustained attempt frequency trips the breaker regardless of
// outcome: fast oscillation is itself a failure mode, so the window
// counts attempts, not failures.
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/config"
	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
)

// State of a single target's circuit.
type State int

const (
	// StateClosed passes actions through.
	StateClosed State = iota
	// StateOpen blocks all actions until the cooldown elapses.
	StateOpen
	// StateHalfOpen permits a single probe action to test recovery.
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// historyLimit bounds the per-target attempt ring.
const historyLimit = 100

type attempt struct {
	action incident.ActionType
	at     time.Time
}

// targetState holds the circuit for one target. All access goes
// through its mutex; independent targets never contend.
type targetState struct {
	mu sync.Mutex

	state        State
	openedAt     time.Time
	lastAttempt  time.Time
	failureCount int
	history      []attempt
	probeAllowed bool // set when a HALF_OPEN probe has been granted
}

// Status is a read-only snapshot of one target's circuit.
type Status struct {
	Target            string     `json:"target"`
	State             string     `json:"state"`
	FailureCount      int        `json:"failure_count"`
	AttemptsInWindow  int        `json:"attempts_in_window"`
	OpenedAt          *time.Time `json:"opened_at,omitempty"`
	LastAttempt       *time.Time `json:"last_attempt,omitempty"`
	CooldownRemaining int        `json:"cooldown_remaining_seconds"`
}

// Breaker is the per-target circuit breaker.
type Breaker struct {
	settings config.BreakerSettings
	clock    clockwork.Clock
	logger   zerolog.Logger

	mu      sync.Mutex
	targets map[string]*targetState
}

// New creates a breaker with the given policy.
func New(settings config.BreakerSettings, clock clockwork.Clock, logger zerolog.Logger) *Breaker {
	def := config.DefaultBreakerSettings()
	if settings.MaxFailures <= 0 {
		settings.MaxFailures = def.MaxFailures
	}
	if settings.Window <= 0 {
		settings.Window = def.Window
	}
	if settings.Cooldown <= 0 {
		settings.Cooldown = def.Cooldown
	}
	return &Breaker{
		settings: settings,
		clock:    clock,
		logger:   logger.With().Str("component", "breaker").Logger(),
		targets:  make(map[string]*targetState),
	}
}

// Settings returns the active policy.
func (b *Breaker) Settings() config.BreakerSettings { return b.settings }

func (b *Breaker) target(name string) *targetState {
	b.mu.Lock()
	defer b.mu.Unlock()
	ts, ok := b.targets[name]
	if !ok {
		ts = &targetState{state: StateClosed}
		b.targets[name] = ts
	}
	return ts
}

// Gate reports whether an action against the target may proceed. A
// blocked action comes with a human-readable reason. Gate may
// transition the circuit (OPEN→HALF_OPEN after cooldown, CLOSED→OPEN
// when the attempt window is saturated).
func (b *Breaker) Gate(target string, action incident.ActionType) (bool, string) {
	ts := b.target(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := b.clock.Now()

	if ts.state == StateOpen {
		sinceOpened := now.Sub(ts.openedAt)
		if sinceOpened < b.settings.Cooldown {
			remaining := (b.settings.Cooldown - sinceOpened).Round(time.Second)
			reason := fmt.Sprintf("circuit OPEN for %s, cooldown %s remaining", target, remaining)
			b.logger.Warn().Str("target", target).Str("action", string(action)).Msg(reason)
			return false, reason
		}
		ts.state = StateHalfOpen
		ts.probeAllowed = false
		b.logger.Info().Str("target", target).Msg("Circuit transitioning to HALF_OPEN")
	}

	if ts.state == StateHalfOpen {
		// The half-open probe bypasses the attempt window: its whole
		// purpose is to permit one test action after cooldown even
		// though the window may still be saturated.
		if ts.probeAllowed {
			reason := fmt.Sprintf("circuit HALF_OPEN for %s, probe already in flight", target)
			return false, reason
		}
		ts.probeAllowed = true
		return true, ""
	}

	ts.evictLocked(now, b.settings.Window)

	if len(ts.history) >= b.settings.MaxFailures {
		ts.state = StateOpen
		ts.openedAt = now
		reason := fmt.Sprintf("circuit OPEN for %s: %d %s actions in last %s (max %d)",
			target, len(ts.history), action, b.settings.Window, b.settings.MaxFailures)
		b.logger.Warn().Str("target", target).Int("attempts", len(ts.history)).Msg(reason)
		return false, reason
	}

	return true, ""
}

// Record notes an attempt and its outcome. A successful HALF_OPEN
// probe closes the circuit and clears its history; a failed probe
// re-opens it with a fresh cooldown.
func (b *Breaker) Record(target string, action incident.ActionType, success bool) {
	ts := b.target(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := b.clock.Now()
	ts.lastAttempt = now
	ts.history = append(ts.history, attempt{action: action, at: now})
	if len(ts.history) > historyLimit {
		ts.history = ts.history[len(ts.history)-historyLimit:]
	}

	if ts.state == StateHalfOpen {
		ts.probeAllowed = false
		if success {
			ts.state = StateClosed
			ts.openedAt = time.Time{}
			ts.failureCount = 0
			ts.history = ts.history[:0]
			b.logger.Info().Str("target", target).Msg("Circuit CLOSED after successful probe")
			return
		}
		ts.state = StateOpen
		ts.openedAt = now
		ts.failureCount++
		b.logger.Warn().Str("target", target).Msg("Circuit re-OPENED after failed probe")
		return
	}

	if !success {
		ts.failureCount++
	}
}

// Reset administratively closes the circuit for a target and empties
// its history.
func (b *Breaker) Reset(target string) {
	ts := b.target(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	ts.state = StateClosed
	ts.openedAt = time.Time{}
	ts.lastAttempt = time.Time{}
	ts.failureCount = 0
	ts.history = nil
	ts.probeAllowed = false
	b.logger.Info().Str("target", target).Msg("Circuit breaker reset")
}

// ResetAll resets every known target.
func (b *Breaker) ResetAll() {
	b.mu.Lock()
	names := make([]string, 0, len(b.targets))
	for name := range b.targets {
		names = append(names, name)
	}
	b.mu.Unlock()
	for _, name := range names {
		b.Reset(name)
	}
}

// State returns the current state for a target.
func (b *Breaker) State(target string) State {
	ts := b.target(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()
	return ts.state
}

// Status returns a snapshot of one target's circuit.
func (b *Breaker) Status(target string) Status {
	ts := b.target(target)
	ts.mu.Lock()
	defer ts.mu.Unlock()

	now := b.clock.Now()
	st := Status{
		Target:       target,
		State:        ts.state.String(),
		FailureCount: ts.failureCount,
	}
	inWindow := 0
	for _, a := range ts.history {
		if now.Sub(a.at) <= b.settings.Window {
			inWindow++
		}
	}
	st.AttemptsInWindow = inWindow
	if !ts.openedAt.IsZero() {
		openedAt := ts.openedAt
		st.OpenedAt = &openedAt
		if ts.state == StateOpen {
			if remaining := b.settings.Cooldown - now.Sub(ts.openedAt); remaining > 0 {
				st.CooldownRemaining = int(remaining / time.Second)
			}
		}
	}
	if !ts.lastAttempt.IsZero() {
		lastAttempt := ts.lastAttempt
		st.LastAttempt = &lastAttempt
	}
	return st
}

// AllStatuses returns a snapshot for every known target.
func (b *Breaker) AllStatuses() map[string]Status {
	b.mu.Lock()
	names := make([]string, 0, len(b.targets))
	for name := range b.targets {
		names = append(names, name)
	}
	b.mu.Unlock()

	out := make(map[string]Status, len(names))
	for _, name := range names {
		out[name] = b.Status(name)
	}
	return out
}

// evictLocked drops attempts older than the window. Caller holds the
// target mutex.
func (ts *targetState) evictLocked(now time.Time, window time.Duration) {
	i := 0
	for i < len(ts.history) && now.Sub(ts.history[i].at) > window {
		i++
	}
	if i > 0 {
		ts.history = append(ts.history[:0], ts.history[i:]...)
	}
}
