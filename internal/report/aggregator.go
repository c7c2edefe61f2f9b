package report

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

// ringCapacity bounds how many recent results are kept per key. Older
// results are dropped, not archived, by this layer.
const ringCapacity = 100

// Thresholds that flag performance issues and drive recommendations.
const (
	p95ExecutionTimeCeilingMs = 10_000
	p95MemoryCeilingBytes     = 100 << 20
	avgAPILatencyCeilingMs    = 1_000
	successRateFloor          = 0.8
)

// ErrNoResults is returned when a report is requested for a key with no
// recorded executions.
var ErrNoResults = errors.New("no results available")

// Aggregator consumes execution results per (project, version) key and
// computes statistical reports over the recent window.
type Aggregator struct {
	logger *zap.Logger

	mu      sync.Mutex
	rings   map[string][]*model.ExecutionResult
	reports map[string]*model.TestReport
}

// NewAggregator creates an empty report aggregator.
func NewAggregator(logger *zap.Logger) *Aggregator {
	return &Aggregator{
		logger:  logger.Named("report-aggregator"),
		rings:   make(map[string][]*model.ExecutionResult),
		reports: make(map[string]*model.TestReport),
	}
}

func ringKey(projectID, versionID string) string {
	return projectID + "/" + versionID
}

// Record ingests one result into the key's ring. Recording a result that
// carries errors immediately regenerates the report for that key.
func (a *Aggregator) Record(result *model.ExecutionResult) {
	key := ringKey(result.ProjectID, result.VersionID)

	a.mu.Lock()
	ring := append(a.rings[key], result)
	if len(ring) > ringCapacity {
		ring = ring[len(ring)-ringCapacity:]
	}
	a.rings[key] = ring
	a.mu.Unlock()

	if result.Status == model.ExecutionStatusError || len(result.Errors) > 0 {
		if _, err := a.Generate(result.ProjectID, result.VersionID, model.ReportOptions{}); err != nil {
			a.logger.Error("Auto-generation failed",
				zap.String("project_id", result.ProjectID),
				zap.String("version_id", result.VersionID),
				zap.Error(err))
		}
	}
}

// Consume implements the engine's result sink.
func (a *Aggregator) Consume(result *model.ExecutionResult) {
	a.Record(result)
}

// Generate builds a report over the recent results for the key. A key
// with no recorded executions yields ErrNoResults, never an empty report.
func (a *Aggregator) Generate(projectID, versionID string, opts model.ReportOptions) (*model.TestReport, error) {
	key := ringKey(projectID, versionID)

	a.mu.Lock()
	ring := a.rings[key]
	results := make([]*model.ExecutionResult, len(ring))
	copy(results, ring)
	a.mu.Unlock()

	if len(results) == 0 {
		return nil, fmt.Errorf("%w for %s@%s", ErrNoResults, projectID, versionID)
	}
	if opts.MaxResults > 0 && len(results) > opts.MaxResults {
		results = results[len(results)-opts.MaxResults:]
	}

	rep := &model.TestReport{
		ID:          uuid.New().String(),
		ProjectID:   projectID,
		VersionID:   versionID,
		Summary:     buildSummary(results),
		Performance: buildPerformance(results),
		Errors:      buildErrorAnalysis(results),
		GeneratedAt: time.Now(),
	}
	rep.Recommendations = buildRecommendations(rep)

	a.mu.Lock()
	a.reports[rep.ID] = rep
	a.mu.Unlock()

	a.logger.Info("Report generated",
		zap.String("report_id", rep.ID),
		zap.String("project_id", projectID),
		zap.String("version_id", versionID),
		zap.Int("results", len(results)),
		zap.Float64("success_rate", rep.Summary.SuccessRate))
	return rep, nil
}

// Get returns a previously generated report by ID.
func (a *Aggregator) Get(reportID string) (*model.TestReport, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	rep, ok := a.reports[reportID]
	return rep, ok
}

func buildSummary(results []*model.ExecutionResult) model.ReportSummary {
	s := model.ReportSummary{TotalExecutions: len(results)}

	var memTotal float64
	for _, r := range results {
		switch r.Status {
		case model.ExecutionStatusPassed:
			s.Passed++
		case model.ExecutionStatusFailed:
			s.Failed++
		case model.ExecutionStatusError:
			s.Errored++
		}
		s.TotalExecutionMs += r.ExecutionTimeMs
		s.TotalAPICalls += r.APICallCount
		memTotal += float64(r.PeakMemoryBytes)
	}

	if s.TotalExecutions > 0 {
		s.SuccessRate = float64(s.Passed) / float64(s.TotalExecutions)
		s.AvgExecutionTimeMs = float64(s.TotalExecutionMs) / float64(s.TotalExecutions)
		s.AvgMemoryBytes = memTotal / float64(s.TotalExecutions)
	}
	return s
}

func buildPerformance(results []*model.ExecutionResult) model.PerformanceAnalysis {
	times := make([]float64, 0, len(results))
	mems := make([]float64, 0, len(results))
	var latencySum float64
	var latencyCount int

	for _, r := range results {
		times = append(times, float64(r.ExecutionTimeMs))
		mems = append(mems, float64(r.PeakMemoryBytes))
		if r.PerformanceMetrics.AvgAPIResponseTimeMs > 0 {
			latencySum += r.PerformanceMetrics.AvgAPIResponseTimeMs
			latencyCount++
		}
	}

	p := model.PerformanceAnalysis{
		ExecutionTimeMs: distribution(times),
		MemoryBytes:     distribution(mems),
	}
	if latencyCount > 0 {
		p.AvgAPILatencyMs = latencySum / float64(latencyCount)
	}

	if p.ExecutionTimeMs.P95 > p95ExecutionTimeCeilingMs {
		p.Issues = append(p.Issues, fmt.Sprintf("p95 execution time %.0fms exceeds %dms", p.ExecutionTimeMs.P95, p95ExecutionTimeCeilingMs))
	}
	if p.MemoryBytes.P95 > p95MemoryCeilingBytes {
		p.Issues = append(p.Issues, fmt.Sprintf("p95 memory %.0f bytes exceeds %d bytes", p.MemoryBytes.P95, p95MemoryCeilingBytes))
	}
	if p.AvgAPILatencyMs > avgAPILatencyCeilingMs {
		p.Issues = append(p.Issues, fmt.Sprintf("average API latency %.0fms exceeds %dms", p.AvgAPILatencyMs, avgAPILatencyCeilingMs))
	}
	return p
}

func distribution(values []float64) model.DistributionStats {
	if len(values) == 0 {
		return model.DistributionStats{}
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}
	return model.DistributionStats{
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Avg:    sum / float64(len(sorted)),
		Median: percentile(sorted, 50),
		P95:    percentile(sorted, 95),
	}
}

// percentile computes the nearest-rank percentile over sorted values:
// index = ceil(p/100 x n) - 1, clamped to [0, n-1].
func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func buildErrorAnalysis(results []*model.ExecutionResult) model.ErrorAnalysis {
	analysis := model.ErrorAnalysis{
		ByKind:      make(map[model.ErrorKind]int),
		HourlyTrend: make(map[string]int),
	}

	clusters := make(map[string]int)
	var critical []model.ExecutionError

	for _, r := range results {
		if len(r.Errors) > 0 {
			analysis.HourlyTrend[r.CreatedAt.Format("2006-01-02T15")]++
		}
		for _, e := range r.Errors {
			analysis.TotalErrors++
			analysis.ByKind[e.Kind]++
			clusters[truncate(e.Message, 100)]++
			if isCritical(e) && len(critical) < 5 {
				critical = append(critical, e)
			}
		}
	}

	recurring := make([]model.ErrorCluster, 0, len(clusters))
	for msg, count := range clusters {
		recurring = append(recurring, model.ErrorCluster{Message: msg, Count: count})
	}
	sort.Slice(recurring, func(i, j int) bool {
		if recurring[i].Count != recurring[j].Count {
			return recurring[i].Count > recurring[j].Count
		}
		return recurring[i].Message < recurring[j].Message
	})
	if len(recurring) > 10 {
		recurring = recurring[:10]
	}

	analysis.Recurring = recurring
	analysis.Critical = critical
	return analysis
}

func isCritical(e model.ExecutionError) bool {
	if e.Kind == model.ErrorKindReference || e.Kind == model.ErrorKindType {
		return true
	}
	msg := strings.ToLower(e.Message)
	return strings.Contains(msg, "timeout") || strings.Contains(msg, "memory")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// buildRecommendations applies a fixed rule set over the computed report
// data. The order is fixed so output is reproducible for identical input.
func buildRecommendations(rep *model.TestReport) []model.Recommendation {
	var recs []model.Recommendation

	if rep.Summary.SuccessRate < successRateFloor {
		recs = append(recs, model.Recommendation{
			Category: "reliability",
			Severity: model.AlertSeverityHigh,
			Message:  fmt.Sprintf("Success rate is %.0f%%; investigate the recurring errors before deploying this version.", rep.Summary.SuccessRate*100),
		})
	}
	if rep.Performance.ExecutionTimeMs.P95 > p95ExecutionTimeCeilingMs {
		recs = append(recs, model.Recommendation{
			Category: "performance",
			Severity: model.AlertSeverityMedium,
			Message:  "p95 execution time is above 10s; consider reducing script work or splitting tests.",
		})
	}
	if rep.Performance.MemoryBytes.P95 > p95MemoryCeilingBytes {
		recs = append(recs, model.Recommendation{
			Category: "optimization",
			Severity: model.AlertSeverityMedium,
			Message:  "p95 memory usage is above 100MB; look for large intermediate allocations in scripts.",
		})
	}
	if rep.Performance.AvgAPILatencyMs > avgAPILatencyCeilingMs {
		recs = append(recs, model.Recommendation{
			Category: "api",
			Severity: model.AlertSeverityLow,
			Message:  "Average API latency is above 1s; batch calls with bulkCreate where possible.",
		})
	}
	if rep.Errors.ByKind[model.ErrorKindTimeoutExceeded] > 0 {
		recs = append(recs, model.Recommendation{
			Category: "limits",
			Severity: model.AlertSeverityMedium,
			Message:  "Some executions hit the time limit; check for unbounded loops or raise the timeout.",
		})
	}
	return recs
}
