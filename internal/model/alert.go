package model

import "time"

// AlertSeverity represents the severity level of an alert
type AlertSeverity string

const (
	AlertSeverityLow      AlertSeverity = "low"
	AlertSeverityMedium   AlertSeverity = "medium"
	AlertSeverityHigh     AlertSeverity = "high"
	AlertSeverityCritical AlertSeverity = "critical"
)

// AlertRuleKind represents the evaluation strategy of a rule
type AlertRuleKind string

const (
	AlertRuleThreshold AlertRuleKind = "threshold"
	AlertRuleAnomaly   AlertRuleKind = "anomaly"
	AlertRuleErrorRate AlertRuleKind = "error_rate"
)

// AlertCondition is the comparison applied to a rule's trigger value
type AlertCondition string

const (
	ConditionGreaterThan AlertCondition = "gt"
	ConditionLessThan    AlertCondition = "lt"
	ConditionEqual       AlertCondition = "eq"
	ConditionNotEqual    AlertCondition = "neq"
)

// AlertRule is an operator-defined condition over a named metric,
// evaluated on a rolling time window
type AlertRule struct {
	ID            string         `json:"id"`
	Name          string         `json:"name"`
	Kind          AlertRuleKind  `json:"kind"`
	MetricName    string         `json:"metric_name"`
	Condition     AlertCondition `json:"condition"`
	Threshold     float64        `json:"threshold"`
	WindowMinutes int            `json:"window_minutes"`
	Active        bool           `json:"active"`
	Channels      []string       `json:"channels,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Window returns the rule's rolling evaluation window as a duration.
func (r *AlertRule) Window() time.Duration {
	return time.Duration(r.WindowMinutes) * time.Minute
}

// Alert represents a fired rule. At most one unresolved alert exists
// per rule; repeated firings update the open alert in place.
type Alert struct {
	ID           string            `json:"id"`
	RuleID       string            `json:"rule_id"`
	Severity     AlertSeverity     `json:"severity"`
	Message      string            `json:"message"`
	TriggerValue float64           `json:"trigger_value"`
	Threshold    float64           `json:"threshold"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Resolved     bool              `json:"resolved"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	ResolvedAt   *time.Time        `json:"resolved_at,omitempty"`
}
