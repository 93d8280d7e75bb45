package breaker

import (
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/config"
)

func newTestBreaker(t *testing.T, settings config.BreakerSettings) (*Breaker, clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Unix(1_700_000_000, 0))
	return New(settings, clock, zerolog.Nop()), clock
}

func testSettings() config.BreakerSettings {
	return config.BreakerSettings{
		MaxFailures: 3,
		Window:      5 * time.Minute,
		Cooldown:    2 * time.Minute,
	}
}

func TestGate_InitialStateAllows(t *testing.T) {
	b, _ := newTestBreaker(t, testSettings())

	if b.State("app") != StateClosed {
		t.Errorf("Expected initial state CLOSED, got %s", b.State("app"))
	}
	allowed, reason := b.Gate("app", "restart_container")
	if !allowed {
		t.Errorf("Expected gate to allow in CLOSED state, got reason %q", reason)
	}
}

func TestGate_OpensWhenWindowSaturated(t *testing.T) {
	b, clock := newTestBreaker(t, testSettings())

	// Three attempts spaced 10s fill the window.
	for i := 0; i < 3; i++ {
		allowed, _ := b.Gate("app", "restart_container")
		if !allowed {
			t.Fatalf("attempt %d unexpectedly blocked", i+1)
		}
		b.Record("app", "restart_container", false)
		clock.Advance(10 * time.Second)
	}

	allowed, reason := b.Gate("app", "restart_container")
	if allowed {
		t.Fatal("Expected 4th attempt to be blocked")
	}
	if !strings.Contains(reason, "circuit OPEN") {
		t.Errorf("Expected reason to mention circuit OPEN, got %q", reason)
	}
	if b.State("app") != StateOpen {
		t.Errorf("Expected state OPEN, got %s", b.State("app"))
	}
}

func TestGate_CountsAttemptsNotFailures(t *testing.T) {
	b, clock := newTestBreaker(t, testSettings())

	// Successful attempts count toward the window: fast oscillation
	// is a failure mode even when every restart "works".
	for i := 0; i < 3; i++ {
		allowed, _ := b.Gate("app", "restart_container")
		if !allowed {
			t.Fatalf("attempt %d unexpectedly blocked", i+1)
		}
		b.Record("app", "restart_container", true)
		clock.Advance(10 * time.Second)
	}

	if allowed, _ := b.Gate("app", "restart_container"); allowed {
		t.Error("Expected saturated window of successes to trip the breaker")
	}
}

func TestGate_BlocksDuringCooldown(t *testing.T) {
	b, clock := newTestBreaker(t, testSettings())

	for i := 0; i < 3; i++ {
		b.Gate("app", "restart_container")
		b.Record("app", "restart_container", false)
	}
	b.Gate("app", "restart_container") // trips to OPEN

	clock.Advance(60 * time.Second) // cooldown is 120s

	allowed, reason := b.Gate("app", "restart_container")
	if allowed {
		t.Fatal("Expected gate to block during cooldown")
	}
	if !strings.Contains(reason, "cooldown") {
		t.Errorf("Expected reason to mention remaining cooldown, got %q", reason)
	}
}

func TestGate_HalfOpenAfterCooldownThenClose(t *testing.T) {
	b, clock := newTestBreaker(t, testSettings())

	for i := 0; i < 3; i++ {
		b.Gate("app", "restart_container")
		b.Record("app", "restart_container", false)
		clock.Advance(10 * time.Second)
	}
	b.Gate("app", "restart_container") // trips to OPEN

	clock.Advance(121 * time.Second)

	allowed, reason := b.Gate("app", "restart_container")
	if !allowed {
		t.Fatalf("Expected half-open probe after cooldown, got %q", reason)
	}
	if b.State("app") != StateHalfOpen {
		t.Fatalf("Expected HALF_OPEN, got %s", b.State("app"))
	}

	b.Record("app", "restart_container", true)
	if b.State("app") != StateClosed {
		t.Errorf("Expected CLOSED after successful probe, got %s", b.State("app"))
	}
	if st := b.Status("app"); st.FailureCount != 0 {
		t.Errorf("Expected failure count cleared, got %d", st.FailureCount)
	}
}

func TestGate_HalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(t, testSettings())

	for i := 0; i < 3; i++ {
		b.Gate("app", "restart_container")
		b.Record("app", "restart_container", false)
	}
	b.Gate("app", "restart_container")

	clock.Advance(121 * time.Second)

	if allowed, _ := b.Gate("app", "restart_container"); !allowed {
		t.Fatal("Expected half-open probe to be allowed")
	}
	b.Record("app", "restart_container", false)

	if b.State("app") != StateOpen {
		t.Fatalf("Expected re-OPEN after failed probe, got %s", b.State("app"))
	}

	// Fresh cooldown from the failed probe.
	clock.Advance(60 * time.Second)
	if allowed, _ := b.Gate("app", "restart_container"); allowed {
		t.Error("Expected gate to block during the fresh cooldown")
	}
}

func TestGate_WindowSlides(t *testing.T) {
	b, clock := newTestBreaker(t, testSettings())

	b.Gate("app", "restart_container")
	b.Record("app", "restart_container", false)
	clock.Advance(4 * time.Minute)

	b.Gate("app", "restart_container")
	b.Record("app", "restart_container", false)

	// First attempt ages out of the 5 minute window.
	clock.Advance(2 * time.Minute)

	b.Gate("app", "restart_container")
	b.Record("app", "restart_container", false)

	// Only two attempts remain in the window, so a third is allowed.
	allowed, reason := b.Gate("app", "restart_container")
	if !allowed {
		t.Errorf("Expected gate to allow after old attempts aged out, got %q", reason)
	}
}

func TestGate_TargetsAreIndependent(t *testing.T) {
	b, _ := newTestBreaker(t, testSettings())

	for i := 0; i < 3; i++ {
		b.Gate("app", "restart_container")
		b.Record("app", "restart_container", false)
	}
	if allowed, _ := b.Gate("app", "restart_container"); allowed {
		t.Fatal("Expected app circuit to be open")
	}

	if allowed, _ := b.Gate("replica", "start_replica"); !allowed {
		t.Error("Expected replica circuit to be unaffected")
	}
	if b.State("replica") != StateClosed {
		t.Errorf("Expected replica CLOSED, got %s", b.State("replica"))
	}
}

func TestReset(t *testing.T) {
	b, _ := newTestBreaker(t, testSettings())

	for i := 0; i < 3; i++ {
		b.Gate("app", "restart_container")
		b.Record("app", "restart_container", false)
	}
	b.Gate("app", "restart_container")
	if b.State("app") != StateOpen {
		t.Fatal("Expected OPEN before reset")
	}

	b.Reset("app")

	if b.State("app") != StateClosed {
		t.Errorf("Expected CLOSED after reset, got %s", b.State("app"))
	}
	if allowed, _ := b.Gate("app", "restart_container"); !allowed {
		t.Error("Expected gate to allow after reset")
	}
	if st := b.Status("app"); st.AttemptsInWindow != 0 {
		t.Errorf("Expected empty history after reset, got %d attempts", st.AttemptsInWindow)
	}
}

func TestStatus_CooldownRemaining(t *testing.T) {
	b, clock := newTestBreaker(t, testSettings())

	for i := 0; i < 3; i++ {
		b.Gate("app", "restart_container")
		b.Record("app", "restart_container", false)
	}
	b.Gate("app", "restart_container")

	clock.Advance(30 * time.Second)

	st := b.Status("app")
	if st.State != "OPEN" {
		t.Fatalf("Expected OPEN status, got %s", st.State)
	}
	if st.CooldownRemaining != 90 {
		t.Errorf("Expected 90s cooldown remaining, got %d", st.CooldownRemaining)
	}
	if st.OpenedAt == nil {
		t.Error("Expected OpenedAt to be set")
	}
}

func TestHistoryBounded(t *testing.T) {
	settings := testSettings()
	settings.MaxFailures = 1000 // never trips in this test
	b, _ := newTestBreaker(t, settings)

	for i := 0; i < historyLimit+50; i++ {
		b.Record("app", "restart_container", true)
	}

	ts := b.target("app")
	ts.mu.Lock()
	defer ts.mu.Unlock()
	if len(ts.history) != historyLimit {
		t.Errorf("Expected history capped at %d, got %d", historyLimit, len(ts.history))
	}
}
