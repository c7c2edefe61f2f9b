package model

import (
	"encoding/json"
	"time"
)

// ExecutionStatus represents the terminal status of a sandboxed run
type ExecutionStatus string

const (
	ExecutionStatusPassed ExecutionStatus = "passed"
	ExecutionStatusFailed ExecutionStatus = "failed"
	ExecutionStatusError  ExecutionStatus = "error"
)

// ErrorKind classifies a failure captured at the sandbox boundary
type ErrorKind string

const (
	ErrorKindScript              ErrorKind = "ScriptError"
	ErrorKindReference           ErrorKind = "ReferenceError"
	ErrorKindType                ErrorKind = "TypeError"
	ErrorKindSyntax              ErrorKind = "SyntaxError"
	ErrorKindRange               ErrorKind = "RangeError"
	ErrorKindTimeoutExceeded     ErrorKind = "TimeoutExceeded"
	ErrorKindMemoryExceeded      ErrorKind = "MemoryExceeded"
	ErrorKindAPICallLimitReached ErrorKind = "ApiCallLimitExceeded"
)

// ExecutionConfig defines the resource ceilings for a single run.
// Immutable once the run starts; zero fields are filled from platform defaults.
type ExecutionConfig struct {
	TimeoutMs        int64             `json:"timeout_ms"`
	MemoryLimitBytes uint64            `json:"memory_limit_bytes"`
	APICallLimit     int               `json:"api_call_limit"`
	Environment      map[string]string `json:"environment,omitempty"`
}

// Timeout returns the wall-clock ceiling as a duration.
func (c ExecutionConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// APICall is one logged call against the mock external API
type APICall struct {
	Method    string          `json:"method"`
	Params    json.RawMessage `json:"params,omitempty"`
	Response  json.RawMessage `json:"response,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	Duration  time.Duration   `json:"duration"`
	Rejected  bool            `json:"rejected,omitempty"`
}

// ExecutionError describes one failure captured into a result
type ExecutionError struct {
	Message      string    `json:"message"`
	Stack        string    `json:"stack,omitempty"`
	Kind         ErrorKind `json:"kind"`
	LineNumber   int       `json:"line_number,omitempty"`
	ColumnNumber int       `json:"column_number,omitempty"`
}

// PerformanceMetrics summarizes resource consumption of one run
type PerformanceMetrics struct {
	ExecutionTimeMs      int64   `json:"execution_time_ms"`
	MemoryUsage          uint64  `json:"memory_usage"`
	APICallCount         int     `json:"api_call_count"`
	AvgAPIResponseTimeMs float64 `json:"avg_api_response_time_ms"`
}

// ExecutionResult is the immutable record produced exactly once per run
type ExecutionResult struct {
	ID                 string             `json:"id"`
	ProjectID          string             `json:"project_id"`
	VersionID          string             `json:"version_id"`
	Status             ExecutionStatus    `json:"status"`
	ExecutionTimeMs    int64              `json:"execution_time_ms"`
	PeakMemoryBytes    uint64             `json:"peak_memory_bytes"`
	APICallCount       int                `json:"api_call_count"`
	Errors             []ExecutionError   `json:"errors"`
	PerformanceMetrics PerformanceMetrics `json:"performance_metrics"`
	Logs               []string           `json:"logs,omitempty"`
	APICalls           []APICall          `json:"api_calls,omitempty"`
	CreatedAt          time.Time          `json:"created_at"`
	CompletedAt        time.Time          `json:"completed_at"`
}
