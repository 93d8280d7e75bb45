package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Probe failure categories. HTTP status failures use the dynamic
// "http_<code>" form.
const (
	FailConnectionRefused = "connection_refused"
	FailTimeout           = "timeout"
	FailMalformedBody     = "malformed_body"
	FailOther             = "other"
)

const probeTimeout = 3 * time.Second

// ProbeError is a categorized probe failure. It is input to the
// health-check detector, not an incident by itself.
type ProbeError struct {
	Category string
	Err      error
}

func (e *ProbeError) Error() string {
	if e.Err == nil {
		return e.Category
	}
	return fmt.Sprintf("%s: %v", e.Category, e.Err)
}

func (e *ProbeError) Unwrap() error { return e.Err }

// Prober performs bounded-time health requests against the monitored
// service. It does not retry; the monitor loop's cadence supplies
// retry semantics.
type Prober struct {
	baseURL string
	client  *http.Client
	logger  zerolog.Logger
}

// NewProber creates a prober for the service at baseURL.
func NewProber(baseURL string, logger zerolog.Logger) *Prober {
	return &Prober{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: probeTimeout},
		logger:  logger.With().Str("component", "probe").Logger(),
	}
}

// Probe fetches one health snapshot. Exactly one of the return values
// is non-nil.
func (p *Prober) Probe(ctx context.Context) (*Snapshot, *ProbeError) {
	url := p.baseURL + "/api/health"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, &ProbeError{Category: FailOther, Err: err}
	}

	resp, err := p.client.Do(req)
	if err != nil {
		pe := &ProbeError{Category: categorize(err), Err: err}
		p.logger.Debug().Str("category", pe.Category).Err(err).Msg("Health probe failed")
		return nil, pe
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ProbeError{
			Category: fmt.Sprintf("http_%d", resp.StatusCode),
			Err:      fmt.Errorf("unexpected status %d", resp.StatusCode),
		}
	}

	var snap Snapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return nil, &ProbeError{Category: FailMalformedBody, Err: err}
	}
	return &snap, nil
}

func categorize(err error) string {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return FailConnectionRefused
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return FailTimeout
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailTimeout
	}
	return FailOther
}
