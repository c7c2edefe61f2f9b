package metrics

import (
	"time"

	"github.com/codepage/sandbox/internal/model"
)

// DeriveFromResult converts one execution result into its telemetry
// points: execution time, peak memory, API call count and error count.
// The error-count metric is tagged so error-rate rules can pick it up.
func DeriveFromResult(result *model.ExecutionResult) []model.Metric {
	meta := map[string]string{
		"test_id":    result.ID,
		"project_id": result.ProjectID,
		"version_id": result.VersionID,
		"status":     string(result.Status),
	}
	if len(result.Errors) > 0 {
		meta["error"] = "true"
	}

	now := time.Now()
	out := []model.Metric{
		{
			Kind:      model.MetricKindExecution,
			Name:      "execution_time",
			Value:     float64(result.ExecutionTimeMs),
			Unit:      "ms",
			Timestamp: now,
			Metadata:  meta,
		},
		{
			Kind:      model.MetricKindSystemResource,
			Name:      "peak_memory",
			Value:     float64(result.PeakMemoryBytes),
			Unit:      "bytes",
			Timestamp: now,
			Metadata:  meta,
		},
		{
			Kind:      model.MetricKindExecution,
			Name:      "api_call_count",
			Value:     float64(result.APICallCount),
			Unit:      "calls",
			Timestamp: now,
			Metadata:  meta,
		},
		{
			Kind:      model.MetricKindExecution,
			Name:      "error_count",
			Value:     float64(len(result.Errors)),
			Unit:      "errors",
			Timestamp: now,
			Metadata:  meta,
		},
	}

	if result.PerformanceMetrics.AvgAPIResponseTimeMs > 0 {
		out = append(out, model.Metric{
			Kind:      model.MetricKindAPIResponse,
			Name:      "api_latency",
			Value:     result.PerformanceMetrics.AvgAPIResponseTimeMs,
			Unit:      "ms",
			Timestamp: now,
			Metadata:  meta,
		})
	}
	return out
}
