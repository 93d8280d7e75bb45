package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProbe_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/health", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"service": "ar_app",
			"uptime_seconds": 3600,
			"metrics": {
				"error_rate": 0.05,
				"cpu_usage_percent": 42.5,
				"memory_usage_mb": 256,
				"response_time_p95_ms": 120.5,
				"total_requests": 10000,
				"total_errors": 500
			},
			"flags": {"cpu_spike": false, "error_spike": true}
		}`))
	}))
	defer srv.Close()

	p := NewProber(srv.URL, zerolog.Nop())
	snap, pe := p.Probe(context.Background())
	require.Nil(t, pe)
	require.NotNil(t, snap)

	assert.Equal(t, "ar_app", snap.Service)
	assert.Equal(t, int64(3600), snap.UptimeSeconds)
	assert.Equal(t, 0.05, snap.Metrics.ErrorRate)
	assert.Equal(t, 42.5, snap.Metrics.CPUUsagePercent)
	require.NotNil(t, snap.Metrics.ResponseTimeP95Ms)
	assert.Equal(t, 120.5, *snap.Metrics.ResponseTimeP95Ms)
	assert.Nil(t, snap.Metrics.ResponseTimeP50Ms)
	assert.True(t, snap.Flags.ErrorSpike)
}

func TestProbe_Non200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "shedding load", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	p := NewProber(srv.URL, zerolog.Nop())
	snap, pe := p.Probe(context.Background())
	assert.Nil(t, snap)
	require.NotNil(t, pe)
	assert.Equal(t, "http_503", pe.Category)
}

func TestProbe_MalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"service": "ar_app", "metrics": {`))
	}))
	defer srv.Close()

	p := NewProber(srv.URL, zerolog.Nop())
	snap, pe := p.Probe(context.Background())
	assert.Nil(t, snap)
	require.NotNil(t, pe)
	assert.Equal(t, FailMalformedBody, pe.Category)
}

func TestProbe_ConnectionRefused(t *testing.T) {
	// Bind a port, then close it so connections are refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	p := NewProber(url, zerolog.Nop())
	snap, pe := p.Probe(context.Background())
	assert.Nil(t, snap)
	require.NotNil(t, pe)
	assert.Equal(t, FailConnectionRefused, pe.Category)
}

func TestProbe_MissingMetricsDecodeToZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"service": "ar_app"}`))
	}))
	defer srv.Close()

	p := NewProber(srv.URL, zerolog.Nop())
	snap, pe := p.Probe(context.Background())
	require.Nil(t, pe)
	require.NotNil(t, snap)
	assert.Zero(t, snap.Metrics.ErrorRate)
	assert.Nil(t, snap.Metrics.ResponseTimeP95Ms)
}

func TestProbeError_Error(t *testing.T) {
	pe := &ProbeError{Category: FailTimeout}
	assert.Equal(t, FailTimeout, pe.Error())
}
