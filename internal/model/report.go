package model

import "time"

// ReportOptions controls report generation
type ReportOptions struct {
	// MaxResults bounds how many recent results feed the report.
	// Zero means all retained results for the key.
	MaxResults int
}

// ReportSummary holds the headline counters of a report
type ReportSummary struct {
	TotalExecutions    int     `json:"total_executions"`
	Passed             int     `json:"passed"`
	Failed             int     `json:"failed"`
	Errored            int     `json:"errored"`
	SuccessRate        float64 `json:"success_rate"`
	AvgExecutionTimeMs float64 `json:"avg_execution_time_ms"`
	TotalExecutionMs   int64   `json:"total_execution_ms"`
	AvgMemoryBytes     float64 `json:"avg_memory_bytes"`
	TotalAPICalls      int     `json:"total_api_calls"`
}

// DistributionStats holds min/max/average/median/p95 over one dimension
type DistributionStats struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Avg    float64 `json:"avg"`
	Median float64 `json:"median"`
	P95    float64 `json:"p95"`
}

// PerformanceAnalysis holds execution-time and memory distributions
// plus any threshold-derived issues
type PerformanceAnalysis struct {
	ExecutionTimeMs DistributionStats `json:"execution_time_ms"`
	MemoryBytes     DistributionStats `json:"memory_bytes"`
	AvgAPILatencyMs float64           `json:"avg_api_latency_ms"`
	Issues          []string          `json:"issues,omitempty"`
}

// ErrorCluster groups recurring errors by truncated message
type ErrorCluster struct {
	Message string `json:"message"`
	Count   int    `json:"count"`
}

// ErrorAnalysis clusters and ranks the errors seen in the window
type ErrorAnalysis struct {
	TotalErrors int               `json:"total_errors"`
	ByKind      map[ErrorKind]int `json:"by_kind"`
	Recurring   []ErrorCluster    `json:"recurring,omitempty"`
	Critical    []ExecutionError  `json:"critical,omitempty"`
	HourlyTrend map[string]int    `json:"hourly_trend,omitempty"`
}

// Recommendation is a deterministic suggestion derived from report data
type Recommendation struct {
	Category string        `json:"category"`
	Severity AlertSeverity `json:"severity"`
	Message  string        `json:"message"`
}

// TestReport is a derived, non-authoritative aggregate over recent
// execution results for one (project, version) pair
type TestReport struct {
	ID              string              `json:"id"`
	ProjectID       string              `json:"project_id"`
	VersionID       string              `json:"version_id"`
	Summary         ReportSummary       `json:"summary"`
	Performance     PerformanceAnalysis `json:"performance_analysis"`
	Errors          ErrorAnalysis       `json:"error_analysis"`
	Recommendations []Recommendation    `json:"recommendations,omitempty"`
	GeneratedAt     time.Time           `json:"generated_at"`
}
