// Package health fetches and models health snapshots from the
// monitored service.
package health

import (
	"time"
)

// Metrics carries the numeric health values reported by the monitored
// service. Response-time percentiles may be absent and are modeled as
// nil pointers.
type Metrics struct {
	ErrorRate         float64  `json:"error_rate"`
	CPUUsagePercent   float64  `json:"cpu_usage_percent"`
	MemoryUsageMB     float64  `json:"memory_usage_mb"`
	ResponseTimeP50Ms *float64 `json:"response_time_p50_ms"`
	ResponseTimeP95Ms *float64 `json:"response_time_p95_ms"`
	ResponseTimeP99Ms *float64 `json:"response_time_p99_ms"`
	TotalRequests     int64    `json:"total_requests"`
	TotalErrors       int64    `json:"total_errors"`
}

// Flags are fault-injection markers the monitored service can raise.
type Flags struct {
	CPUSpike   bool `json:"cpu_spike"`
	ErrorSpike bool `json:"error_spike"`
}

// Snapshot is one observation of the monitored service's health.
type Snapshot struct {
	Service       string    `json:"service"`
	Timestamp     time.Time `json:"timestamp"`
	UptimeSeconds int64     `json:"uptime_seconds"`
	Metrics       Metrics   `json:"metrics"`
	Flags         Flags     `json:"flags"`
}
