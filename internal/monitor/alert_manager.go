package monitor

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

// MetricSource supplies the rolling window of metrics a rule evaluates.
type MetricSource interface {
	InWindow(name string, window time.Duration) []model.Metric
}

// NotificationChannel represents a channel for sending alert notifications
type NotificationChannel interface {
	Name() string
	Send(alert *model.Alert) error
}

// AlertManager manages alert rules, evaluates them against freshly
// ingested metrics, and owns the alert lifecycle. At most one unresolved
// alert exists per rule; repeated firings update the open alert in place.
type AlertManager struct {
	logger *zap.Logger
	source MetricSource

	mu       sync.RWMutex
	rules    map[string]*model.AlertRule
	alerts   map[string]*model.Alert
	open     map[string]string // rule id -> open alert id
	channels map[string]NotificationChannel
}

// NewAlertManager creates a new alert manager over the given metric source.
func NewAlertManager(source MetricSource, logger *zap.Logger) *AlertManager {
	return &AlertManager{
		logger:   logger.Named("alert-manager"),
		source:   source,
		rules:    make(map[string]*model.AlertRule),
		alerts:   make(map[string]*model.Alert),
		open:     make(map[string]string),
		channels: make(map[string]NotificationChannel),
	}
}

// RegisterChannel adds a notification channel.
func (m *AlertManager) RegisterChannel(ch NotificationChannel) {
	m.mu.Lock()
	m.channels[ch.Name()] = ch
	m.mu.Unlock()
}

// AddRule adds a new alert rule.
func (m *AlertManager) AddRule(rule *model.AlertRule) error {
	if rule.MetricName == "" {
		return fmt.Errorf("rule %q has no metric name", rule.Name)
	}
	if rule.ID == "" {
		rule.ID = uuid.New().String()
	}
	if rule.Condition == "" {
		rule.Condition = model.ConditionGreaterThan
	}
	rule.CreatedAt = time.Now()
	rule.UpdatedAt = rule.CreatedAt

	m.mu.Lock()
	m.rules[rule.ID] = rule
	m.mu.Unlock()

	m.logger.Info("Alert rule added",
		zap.String("rule_id", rule.ID),
		zap.String("name", rule.Name),
		zap.String("kind", string(rule.Kind)),
		zap.String("metric", rule.MetricName))
	return nil
}

// UpdateRule updates an existing alert rule.
func (m *AlertManager) UpdateRule(rule *model.AlertRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.rules[rule.ID]
	if !ok {
		return fmt.Errorf("rule not found: %s", rule.ID)
	}
	rule.CreatedAt = existing.CreatedAt
	rule.UpdatedAt = time.Now()
	m.rules[rule.ID] = rule
	return nil
}

// DeleteRule deletes an alert rule and resolves its open alert, if any.
func (m *AlertManager) DeleteRule(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.rules[id]; !ok {
		return fmt.Errorf("rule not found: %s", id)
	}
	delete(m.rules, id)
	if alertID, ok := m.open[id]; ok {
		m.resolveLocked(m.alerts[alertID])
	}
	m.logger.Info("Alert rule deleted", zap.String("rule_id", id))
	return nil
}

// GetRule returns a rule by ID.
func (m *AlertManager) GetRule(id string) (*model.AlertRule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rule, ok := m.rules[id]
	if !ok {
		return nil, fmt.Errorf("rule not found: %s", id)
	}
	copied := *rule
	return &copied, nil
}

// ListRules returns all rules.
func (m *AlertManager) ListRules() []*model.AlertRule {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*model.AlertRule, 0, len(m.rules))
	for _, rule := range m.rules {
		copied := *rule
		out = append(out, &copied)
	}
	return out
}

// Evaluate checks every active rule watching this metric's name against
// its rolling window. An empty window leaves the rule inert.
func (m *AlertManager) Evaluate(metric model.Metric) {
	m.mu.RLock()
	var matching []*model.AlertRule
	for _, rule := range m.rules {
		if rule.Active && rule.MetricName == metric.Name {
			matching = append(matching, rule)
		}
	}
	m.mu.RUnlock()

	for _, rule := range matching {
		window := m.source.InWindow(rule.MetricName, rule.Window())
		if len(window) == 0 {
			continue
		}

		trigger, ok := triggerValue(rule, metric, window)
		if !ok {
			continue
		}
		if !compare(trigger, rule.Condition, rule.Threshold) {
			continue
		}
		m.fire(rule, trigger, metric)
	}
}

// triggerValue computes the value a rule compares against its threshold.
func triggerValue(rule *model.AlertRule, metric model.Metric, window []model.Metric) (float64, bool) {
	switch rule.Kind {
	case model.AlertRuleThreshold:
		return metric.Value, true

	case model.AlertRuleErrorRate:
		var errorLike int
		for _, m := range window {
			if m.Metadata["error"] == "true" {
				errorLike++
			}
		}
		return float64(errorLike) / float64(len(window)), true

	case model.AlertRuleAnomaly:
		var rest []float64
		for _, m := range window {
			if m.ID != metric.ID {
				rest = append(rest, m.Value)
			}
		}
		// Below 5 prior samples there is no baseline to deviate from.
		if len(rest) < 5 {
			return 0, false
		}
		mean, stddev := meanStddev(rest)
		return math.Abs(metric.Value-mean) / math.Max(stddev, 1), true

	default:
		return 0, false
	}
}

func meanStddev(values []float64) (mean, stddev float64) {
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return mean, math.Sqrt(variance)
}

func compare(value float64, cond model.AlertCondition, threshold float64) bool {
	switch cond {
	case model.ConditionGreaterThan:
		return value > threshold
	case model.ConditionLessThan:
		return value < threshold
	case model.ConditionEqual:
		return value == threshold
	case model.ConditionNotEqual:
		return value != threshold
	default:
		return false
	}
}

// severityFor maps the deviation ratio between trigger and threshold
// onto a severity level.
func severityFor(trigger, threshold float64) model.AlertSeverity {
	denom := math.Abs(threshold)
	if denom == 0 {
		denom = 1
	}
	ratio := math.Abs(trigger-threshold) / denom
	switch {
	case ratio >= 2:
		return model.AlertSeverityCritical
	case ratio >= 1:
		return model.AlertSeverityHigh
	case ratio >= 0.5:
		return model.AlertSeverityMedium
	default:
		return model.AlertSeverityLow
	}
}

// fire creates a new alert for the rule, or updates the open one in place.
func (m *AlertManager) fire(rule *model.AlertRule, trigger float64, metric model.Metric) {
	now := time.Now()

	m.mu.Lock()
	if alertID, ok := m.open[rule.ID]; ok {
		alert := m.alerts[alertID]
		alert.TriggerValue = trigger
		alert.Severity = severityFor(trigger, rule.Threshold)
		alert.UpdatedAt = now
		m.mu.Unlock()

		m.logger.Debug("Open alert updated",
			zap.String("alert_id", alert.ID),
			zap.String("rule_id", rule.ID),
			zap.Float64("trigger_value", trigger))
		return
	}

	alert := &model.Alert{
		ID:           uuid.New().String(),
		RuleID:       rule.ID,
		Severity:     severityFor(trigger, rule.Threshold),
		Message:      fmt.Sprintf("Rule %q fired: %s %s %g (trigger: %g)", rule.Name, rule.MetricName, rule.Condition, rule.Threshold, trigger),
		TriggerValue: trigger,
		Threshold:    rule.Threshold,
		Metadata: map[string]string{
			"metric_id":   metric.ID,
			"metric_name": metric.Name,
			"rule_kind":   string(rule.Kind),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.alerts[alert.ID] = alert
	m.open[rule.ID] = alert.ID
	channels := m.channelsForLocked(rule)
	m.mu.Unlock()

	m.logger.Info("Alert created",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", rule.ID),
		zap.String("severity", string(alert.Severity)),
		zap.Float64("trigger_value", trigger))

	m.dispatch(alert, channels)
}

// channelsForLocked resolves the rule's channels; a rule with no channel
// list notifies every registered channel.
func (m *AlertManager) channelsForLocked(rule *model.AlertRule) []NotificationChannel {
	var out []NotificationChannel
	if len(rule.Channels) == 0 {
		for _, ch := range m.channels {
			out = append(out, ch)
		}
		return out
	}
	for _, name := range rule.Channels {
		if ch, ok := m.channels[name]; ok {
			out = append(out, ch)
		} else {
			m.logger.Warn("Unknown notification channel",
				zap.String("rule_id", rule.ID),
				zap.String("channel", name))
		}
	}
	return out
}

// dispatch sends the alert to each channel. One channel's failure never
// blocks the others or rolls back the alert state change.
func (m *AlertManager) dispatch(alert *model.Alert, channels []NotificationChannel) {
	copied := *alert
	for _, ch := range channels {
		if err := ch.Send(&copied); err != nil {
			m.logger.Error("Notification dispatch failed",
				zap.String("alert_id", alert.ID),
				zap.String("channel", ch.Name()),
				zap.Error(err))
		}
	}
}

// GetActiveAlerts returns all unresolved alerts.
func (m *AlertManager) GetActiveAlerts() []model.Alert {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]model.Alert, 0, len(m.open))
	for _, alertID := range m.open {
		out = append(out, *m.alerts[alertID])
	}
	return out
}

// GetAlert returns an alert by ID.
func (m *AlertManager) GetAlert(id string) (*model.Alert, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	alert, ok := m.alerts[id]
	if !ok {
		return nil, false
	}
	copied := *alert
	return &copied, true
}

// ResolveAlert marks an alert resolved. Resolving an already-resolved
// alert is a no-op.
func (m *AlertManager) ResolveAlert(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	alert, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("alert not found: %s", id)
	}
	if alert.Resolved {
		return nil
	}
	m.resolveLocked(alert)
	return nil
}

func (m *AlertManager) resolveLocked(alert *model.Alert) {
	now := time.Now()
	alert.Resolved = true
	alert.ResolvedAt = &now
	alert.UpdatedAt = now
	delete(m.open, alert.RuleID)

	m.logger.Info("Alert resolved",
		zap.String("alert_id", alert.ID),
		zap.String("rule_id", alert.RuleID))
}
