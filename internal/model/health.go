package model

import "time"

// HealthStatus represents the derived overall system status
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
)

// HealthSnapshot is a point-in-time view of system health derived from
// active alerts and recent resource/latency averages
type HealthSnapshot struct {
	Status         HealthStatus `json:"status"`
	ActiveAlerts   int          `json:"active_alerts"`
	CriticalAlerts int          `json:"critical_alerts"`
	CPUPercent     float64      `json:"cpu_percent"`
	MemoryPercent  float64      `json:"memory_percent"`
	AvgLatencyMs   float64      `json:"avg_latency_ms"`
	CollectedAt    time.Time    `json:"collected_at"`
}
