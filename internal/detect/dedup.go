package detect

import (
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/mainulhossain123/infra-autofix-agent/internal/incident"
)

// DefaultDedupWindow suppresses repeats of an incident type for this
// long. Dedup is by type only, an intentional coarsening that prevents
// incident floods during sustained breaches.
const DefaultDedupWindow = 60 * time.Second

// Deduplicator suppresses repeated incident types within a rolling
// window.
type Deduplicator struct {
	mu       sync.Mutex
	window   time.Duration
	lastSeen map[incident.Type]time.Time
	clock    clockwork.Clock
	logger   zerolog.Logger
}

// NewDeduplicator creates a deduplicator with the given window.
func NewDeduplicator(window time.Duration, clock clockwork.Clock, logger zerolog.Logger) *Deduplicator {
	if window <= 0 {
		window = DefaultDedupWindow
	}
	return &Deduplicator{
		window:   window,
		lastSeen: make(map[incident.Type]time.Time),
		clock:    clock,
		logger:   logger.With().Str("component", "dedup").Logger(),
	}
}

// Admit reports whether an incident of this type may pass. Admission
// records the sighting; suppression leaves the previous timestamp in
// place so the window does not slide on duplicates.
func (d *Deduplicator) Admit(t incident.Type) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.clock.Now()
	if last, ok := d.lastSeen[t]; ok {
		if age := now.Sub(last); age < d.window {
			d.logger.Debug().
				Str("type", string(t)).
				Dur("seenAgo", age).
				Msg("Suppressing duplicate incident")
			return false
		}
	}
	d.lastSeen[t] = now
	return true
}
