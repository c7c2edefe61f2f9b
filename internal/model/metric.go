package model

import "time"

// MetricKind represents the category of a telemetry point
type MetricKind string

const (
	MetricKindExecution      MetricKind = "execution"
	MetricKindAPIResponse    MetricKind = "api_response"
	MetricKindSystemResource MetricKind = "system_resource"
)

// Metric is a single append-only telemetry point
type Metric struct {
	ID        string            `json:"id"`
	Kind      MetricKind        `json:"kind"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Unit      string            `json:"unit,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// MetricFilter selects stored metrics for a query
type MetricFilter struct {
	Kind  MetricKind
	Name  string
	Since time.Time
	Until time.Time
	Limit int
}

// MetricStats summarizes metrics of one kind over a window
type MetricStats struct {
	Count int       `json:"count"`
	Min   float64   `json:"min"`
	Max   float64   `json:"max"`
	Avg   float64   `json:"avg"`
	Sum   float64   `json:"sum"`
	From  time.Time `json:"from"`
	To    time.Time `json:"to"`
}
