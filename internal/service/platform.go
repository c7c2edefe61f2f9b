package service

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/metrics"
	"github.com/codepage/sandbox/internal/model"
	"github.com/codepage/sandbox/internal/monitor"
	"github.com/codepage/sandbox/internal/report"
	"github.com/codepage/sandbox/internal/sandbox"
	"github.com/codepage/sandbox/internal/storage"
)

// Platform is the composition of the sandbox and observability core. It
// is the surface the routing/CRUD layer calls into; everything behind it
// is injected through the constructor.
type Platform struct {
	logger  *zap.Logger
	engine  *sandbox.Engine
	reports *report.Aggregator
	metrics *metrics.Store
	alerts  *monitor.AlertManager
	history storage.ResultStorage
}

// NewPlatform wires the engine's result fan-out and the metrics-to-alert
// path, returning the assembled core.
func NewPlatform(engine *sandbox.Engine, reports *report.Aggregator, store *metrics.Store, alerts *monitor.AlertManager, history storage.ResultStorage, logger *zap.Logger) *Platform {
	p := &Platform{
		logger:  logger.Named("platform"),
		engine:  engine,
		reports: reports,
		metrics: store,
		alerts:  alerts,
		history: history,
	}

	engine.AddSink(reports)
	engine.AddSink(&metricSink{store: store})
	engine.AddSink(&historySink{history: history, logger: p.logger})
	store.SetEvaluator(alerts)
	return p
}

// metricSink feeds derived telemetry from every result into the store.
type metricSink struct {
	store *metrics.Store
}

func (s *metricSink) Consume(result *model.ExecutionResult) {
	for _, m := range metrics.DeriveFromResult(result) {
		s.store.Record(m)
	}
}

// historySink persists every result. Persistence failures are logged,
// never surfaced to the execution caller.
type historySink struct {
	history storage.ResultStorage
	logger  *zap.Logger
}

func (s *historySink) Consume(result *model.ExecutionResult) {
	if err := s.history.Store(context.Background(), result); err != nil {
		s.logger.Error("Failed to persist execution result",
			zap.String("test_id", result.ID),
			zap.Error(err))
	}
}

// Execute runs a user script under the platform's resource limits and
// always returns a terminal result.
func (p *Platform) Execute(ctx context.Context, projectID, versionID, script string, testData map[string]interface{}, cfg model.ExecutionConfig) *model.ExecutionResult {
	return p.engine.Execute(ctx, sandbox.ExecutionRequest{
		ProjectID: projectID,
		VersionID: versionID,
		Script:    script,
		TestData:  testData,
		Config:    cfg,
	})
}

// GenerateReport builds a report over recent executions for the key.
func (p *Platform) GenerateReport(projectID, versionID string, opts model.ReportOptions) (*model.TestReport, error) {
	return p.reports.Generate(projectID, versionID, opts)
}

// GetReport returns a previously generated report.
func (p *Platform) GetReport(reportID string) (*model.TestReport, bool) {
	return p.reports.Get(reportID)
}

// RecordMetric ingests one telemetry point.
func (p *Platform) RecordMetric(kind model.MetricKind, name string, value float64, unit string, metadata map[string]string) {
	p.metrics.Record(model.Metric{
		Kind:     kind,
		Name:     name,
		Value:    value,
		Unit:     unit,
		Metadata: metadata,
	})
}

// GetMetrics queries stored metrics.
func (p *Platform) GetMetrics(filter model.MetricFilter) []model.Metric {
	return p.metrics.Query(filter)
}

// FlushMetrics forces the buffered metrics into the retained store.
func (p *Platform) FlushMetrics(ctx context.Context) error {
	return p.metrics.Flush(ctx)
}

// CreateAlertRule registers a new alert rule.
func (p *Platform) CreateAlertRule(rule *model.AlertRule) error {
	return p.alerts.AddRule(rule)
}

// UpdateAlertRule updates an existing alert rule.
func (p *Platform) UpdateAlertRule(rule *model.AlertRule) error {
	return p.alerts.UpdateRule(rule)
}

// DeleteAlertRule removes a rule and resolves its open alert.
func (p *Platform) DeleteAlertRule(id string) error {
	return p.alerts.DeleteRule(id)
}

// GetActiveAlerts returns all unresolved alerts.
func (p *Platform) GetActiveAlerts() []model.Alert {
	return p.alerts.GetActiveAlerts()
}

// ResolveAlert marks an alert resolved; resolving twice is a no-op.
func (p *Platform) ResolveAlert(id string) error {
	return p.alerts.ResolveAlert(id)
}

// GetResultHistory lists persisted execution results.
func (p *Platform) GetResultHistory(ctx context.Context, filter storage.ResultFilter, offset, limit int) ([]*model.ExecutionResult, error) {
	return p.history.List(ctx, filter, offset, limit)
}

// CleanupHistory deletes persisted results older than the given time.
func (p *Platform) CleanupHistory(ctx context.Context, before time.Time) error {
	return p.history.DeleteBefore(ctx, before)
}

// SystemHealth derives the overall status from active alerts and recent
// resource and latency averages.
func (p *Platform) SystemHealth() model.HealthSnapshot {
	snapshot := model.HealthSnapshot{
		Status:      model.HealthStatusHealthy,
		CollectedAt: time.Now(),
	}

	for _, alert := range p.alerts.GetActiveAlerts() {
		snapshot.ActiveAlerts++
		if alert.Severity == model.AlertSeverityCritical {
			snapshot.CriticalAlerts++
		}
	}

	if percents, err := cpu.Percent(0, false); err != nil {
		p.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(percents) > 0 {
		snapshot.CPUPercent = percents[0]
	}

	if memInfo, err := mem.VirtualMemory(); err != nil {
		p.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		snapshot.MemoryPercent = memInfo.UsedPercent
	}

	snapshot.AvgLatencyMs = p.metrics.Summarize(model.MetricKindAPIResponse, 15*time.Minute).Avg

	switch {
	case snapshot.CriticalAlerts > 0:
		snapshot.Status = model.HealthStatusCritical
	case snapshot.ActiveAlerts > 0,
		snapshot.CPUPercent > 80,
		snapshot.MemoryPercent > 90,
		snapshot.AvgLatencyMs > 1000:
		snapshot.Status = model.HealthStatusWarning
	}
	return snapshot
}
