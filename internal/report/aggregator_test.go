package report

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	return NewAggregator(logger)
}

func passedResult(projectID, versionID string, execMs int64) *model.ExecutionResult {
	return &model.ExecutionResult{
		ID:              uuid.New().String(),
		ProjectID:       projectID,
		VersionID:       versionID,
		Status:          model.ExecutionStatusPassed,
		ExecutionTimeMs: execMs,
		PeakMemoryBytes: 10 << 20,
		APICallCount:    2,
		CreatedAt:       time.Now(),
		CompletedAt:     time.Now(),
	}
}

func erroredResult(projectID, versionID string, err model.ExecutionError) *model.ExecutionResult {
	r := passedResult(projectID, versionID, 50)
	r.Status = model.ExecutionStatusError
	r.Errors = []model.ExecutionError{err}
	return r
}

func TestAggregator_GenerateWithoutResults(t *testing.T) {
	agg := newTestAggregator(t)
	_, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.ErrorIs(t, err, ErrNoResults)
}

func TestAggregator_Summary(t *testing.T) {
	agg := newTestAggregator(t)

	for i := 0; i < 6; i++ {
		agg.Record(passedResult("proj", "v1", 100))
	}
	failed := passedResult("proj", "v1", 200)
	failed.Status = model.ExecutionStatusFailed
	failed.Errors = []model.ExecutionError{{Message: "assertion value was false", Kind: model.ErrorKindScript}}
	agg.Record(failed)
	agg.Record(erroredResult("proj", "v1", model.ExecutionError{
		Message: "x is not defined",
		Kind:    model.ErrorKindReference,
	}))

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)

	require.Equal(t, 8, rep.Summary.TotalExecutions)
	require.Equal(t, 6, rep.Summary.Passed)
	require.Equal(t, 1, rep.Summary.Failed)
	require.Equal(t, 1, rep.Summary.Errored)
	require.InDelta(t, 0.75, rep.Summary.SuccessRate, 1e-9)
	require.Equal(t, int64(6*100+200+50), rep.Summary.TotalExecutionMs)
	require.Equal(t, 16, rep.Summary.TotalAPICalls)
}

func TestAggregator_KeysAreIsolated(t *testing.T) {
	agg := newTestAggregator(t)

	agg.Record(passedResult("proj", "v1", 100))
	agg.Record(passedResult("proj", "v2", 100))

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Summary.TotalExecutions)

	_, err = agg.Generate("other", "v1", model.ReportOptions{})
	require.ErrorIs(t, err, ErrNoResults)
}

func TestAggregator_RingKeepsMostRecent(t *testing.T) {
	agg := newTestAggregator(t)

	// 150 results; only the last 100 survive. The first 50 run in 1ms,
	// the rest in 100ms, so a full ring of survivors averages exactly 100.
	for i := 0; i < 50; i++ {
		agg.Record(passedResult("proj", "v1", 1))
	}
	for i := 0; i < 100; i++ {
		agg.Record(passedResult("proj", "v1", 100))
	}

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)
	require.Equal(t, ringCapacity, rep.Summary.TotalExecutions)
	require.InDelta(t, 100.0, rep.Summary.AvgExecutionTimeMs, 1e-9)
}

func TestAggregator_MaxResultsTakesMostRecent(t *testing.T) {
	agg := newTestAggregator(t)

	for i := 0; i < 10; i++ {
		agg.Record(passedResult("proj", "v1", 10))
	}
	agg.Record(passedResult("proj", "v1", 1000))

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{MaxResults: 1})
	require.NoError(t, err)
	require.Equal(t, 1, rep.Summary.TotalExecutions)
	require.InDelta(t, 1000.0, rep.Summary.AvgExecutionTimeMs, 1e-9)
}

func TestAggregator_ErrorResultRegeneratesReport(t *testing.T) {
	agg := newTestAggregator(t)

	before := len(agg.reports)
	agg.Record(erroredResult("proj", "v1", model.ExecutionError{
		Message: "boom",
		Kind:    model.ErrorKindScript,
	}))
	require.Len(t, agg.reports, before+1)

	for id, rep := range agg.reports {
		got, ok := agg.Get(id)
		require.True(t, ok)
		require.Equal(t, rep.ID, got.ID)
		require.Equal(t, 1, got.Errors.TotalErrors)
	}

	_, ok := agg.Get("missing")
	require.False(t, ok)
}

func TestPercentile_NearestRank(t *testing.T) {
	sorted := []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100}

	require.Equal(t, 50.0, percentile(sorted, 50))
	require.Equal(t, 100.0, percentile(sorted, 95))
	require.Equal(t, 10.0, percentile(sorted, 0))
	require.Equal(t, 100.0, percentile(sorted, 100))
	require.Equal(t, 42.0, percentile([]float64{42}, 95))
	require.Equal(t, 0.0, percentile(nil, 95))
}

func TestDistribution(t *testing.T) {
	stats := distribution([]float64{30, 10, 20})
	require.Equal(t, 10.0, stats.Min)
	require.Equal(t, 30.0, stats.Max)
	require.Equal(t, 20.0, stats.Avg)
	require.Equal(t, 20.0, stats.Median)
	require.Equal(t, 30.0, stats.P95)

	// Same input twice gives the same answer.
	require.Equal(t, stats, distribution([]float64{30, 10, 20}))
}

func TestAggregator_ErrorAnalysis(t *testing.T) {
	agg := newTestAggregator(t)

	for i := 0; i < 3; i++ {
		agg.Record(erroredResult("proj", "v1", model.ExecutionError{
			Message: "x is not defined",
			Kind:    model.ErrorKindReference,
		}))
	}
	agg.Record(erroredResult("proj", "v1", model.ExecutionError{
		Message: "script exceeded memory limit",
		Kind:    model.ErrorKindMemoryExceeded,
	}))

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)

	require.Equal(t, 4, rep.Errors.TotalErrors)
	require.Equal(t, 3, rep.Errors.ByKind[model.ErrorKindReference])
	require.Equal(t, 1, rep.Errors.ByKind[model.ErrorKindMemoryExceeded])

	// Clusters are ordered by descending count.
	require.Len(t, rep.Errors.Recurring, 2)
	require.Equal(t, "x is not defined", rep.Errors.Recurring[0].Message)
	require.Equal(t, 3, rep.Errors.Recurring[0].Count)

	// Reference errors and memory messages both count as critical.
	require.Len(t, rep.Errors.Critical, 4)

	require.NotEmpty(t, rep.Errors.HourlyTrend)
	var trendTotal int
	for _, n := range rep.Errors.HourlyTrend {
		trendTotal += n
	}
	require.Equal(t, 4, trendTotal)
}

func TestAggregator_CriticalErrorsCapped(t *testing.T) {
	agg := newTestAggregator(t)

	for i := 0; i < 8; i++ {
		agg.Record(erroredResult("proj", "v1", model.ExecutionError{
			Message: "undefined is not a function",
			Kind:    model.ErrorKindType,
		}))
	}

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)
	require.Len(t, rep.Errors.Critical, 5)
}

func TestAggregator_Recommendations(t *testing.T) {
	agg := newTestAggregator(t)

	// One slow, memory-heavy timeout failure: low success rate, slow p95,
	// heavy p95 memory, and a timeout error all at once.
	slow := passedResult("proj", "v1", 20_000)
	slow.Status = model.ExecutionStatusError
	slow.PeakMemoryBytes = 200 << 20
	slow.Errors = []model.ExecutionError{{
		Message: "script exceeded timeout of 30000ms",
		Kind:    model.ErrorKindTimeoutExceeded,
	}}
	agg.Record(slow)

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)

	categories := make([]string, 0, len(rep.Recommendations))
	for _, rec := range rep.Recommendations {
		categories = append(categories, rec.Category)
	}
	require.Equal(t, []string{"reliability", "performance", "optimization", "limits"}, categories)

	// The same inputs produce the same recommendations.
	rep2, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)
	require.Equal(t, rep.Recommendations, rep2.Recommendations)
}

func TestAggregator_PerformanceIssues(t *testing.T) {
	agg := newTestAggregator(t)

	r := passedResult("proj", "v1", 15_000)
	r.PerformanceMetrics.AvgAPIResponseTimeMs = 2_000
	agg.Record(r)

	rep, err := agg.Generate("proj", "v1", model.ReportOptions{})
	require.NoError(t, err)
	require.Len(t, rep.Performance.Issues, 2)
	require.InDelta(t, 2_000.0, rep.Performance.AvgAPILatencyMs, 1e-9)
	require.Equal(t, 15_000.0, rep.Performance.ExecutionTimeMs.P95)
}
