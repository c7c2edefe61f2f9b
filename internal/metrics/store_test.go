package metrics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

func newTestStore(t *testing.T, opts ...StoreOption) (*Store, *MemoryRetained) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	retained := NewMemoryRetained()
	return NewStore(retained, logger, opts...), retained
}

func TestStore_RecordAndQuery(t *testing.T) {
	store, _ := newTestStore(t)

	store.Record(model.Metric{Kind: model.MetricKindExecution, Name: "execution_time", Value: 120})
	store.Record(model.Metric{Kind: model.MetricKindExecution, Name: "execution_time", Value: 340})
	store.Record(model.Metric{Kind: model.MetricKindAPIResponse, Name: "api_latency", Value: 45})

	all := store.Query(model.MetricFilter{Name: "execution_time"})
	require.Len(t, all, 2)
	require.NotEmpty(t, all[0].ID)
	require.False(t, all[0].Timestamp.IsZero())

	byKind := store.Query(model.MetricFilter{Kind: model.MetricKindAPIResponse})
	require.Len(t, byKind, 1)
	require.Equal(t, 45.0, byKind[0].Value)
}

func TestStore_FlushAtBufferSize(t *testing.T) {
	store, retained := newTestStore(t, WithBufferSize(10))

	for i := 0; i < 9; i++ {
		store.Record(model.Metric{Name: "m", Value: float64(i)})
	}
	flushed, err := retained.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	require.Empty(t, flushed)

	store.Record(model.Metric{Name: "m", Value: 9})
	flushed, err = retained.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	require.Len(t, flushed, 10)

	// Buffered and flushed views stay consistent for readers.
	require.Len(t, store.Query(model.MetricFilter{Name: "m"}), 10)
}

type failingRetained struct {
	mu       sync.Mutex
	failures int
	inner    *MemoryRetained
}

func (f *failingRetained) Append(ctx context.Context, batch []model.Metric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("store unavailable")
	}
	return f.inner.Append(ctx, batch)
}

func (f *failingRetained) Prune(ctx context.Context, before time.Time) (int, error) {
	return f.inner.Prune(ctx, before)
}

func (f *failingRetained) Query(ctx context.Context, filter model.MetricFilter) ([]model.Metric, error) {
	return f.inner.Query(ctx, filter)
}

func TestStore_FlushFailureRequeuesBatch(t *testing.T) {
	logger, _ := zap.NewDevelopment()
	retained := &failingRetained{failures: 1, inner: NewMemoryRetained()}
	store := NewStore(retained, logger)

	for i := 0; i < 5; i++ {
		store.Record(model.Metric{Name: "m", Value: float64(i)})
	}

	require.Error(t, store.Flush(context.Background()))
	// Nothing dropped: the batch sits at the front of the buffer.
	require.Len(t, store.Query(model.MetricFilter{Name: "m"}), 5)

	require.NoError(t, store.Flush(context.Background()))
	flushed, err := retained.inner.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	require.Len(t, flushed, 5)
}

func TestStore_RetentionPruning(t *testing.T) {
	store, retained := newTestStore(t, WithRetention(time.Hour))

	store.Record(model.Metric{Name: "old", Value: 1, Timestamp: time.Now().Add(-2 * time.Hour)})
	store.Record(model.Metric{Name: "fresh", Value: 2})
	require.NoError(t, store.Flush(context.Background()))

	flushed, err := retained.Query(context.Background(), model.MetricFilter{})
	require.NoError(t, err)
	require.Len(t, flushed, 1)
	require.Equal(t, "fresh", flushed[0].Name)
}

func TestStore_Summarize(t *testing.T) {
	store, _ := newTestStore(t)

	for _, v := range []float64{10, 20, 30, 40} {
		store.Record(model.Metric{Kind: model.MetricKindAPIResponse, Name: "api_latency", Value: v})
	}
	store.Record(model.Metric{Kind: model.MetricKindExecution, Name: "execution_time", Value: 999})

	stats := store.Summarize(model.MetricKindAPIResponse, time.Hour)
	require.Equal(t, 4, stats.Count)
	require.Equal(t, 10.0, stats.Min)
	require.Equal(t, 40.0, stats.Max)
	require.Equal(t, 25.0, stats.Avg)

	empty := store.Summarize(model.MetricKindSystemResource, time.Hour)
	require.Zero(t, empty.Count)
	require.Zero(t, empty.Avg)
}

func TestStore_InWindow(t *testing.T) {
	store, _ := newTestStore(t)

	store.Record(model.Metric{Name: "m", Value: 1, Timestamp: time.Now().Add(-30 * time.Minute)})
	store.Record(model.Metric{Name: "m", Value: 2})
	store.Record(model.Metric{Name: "other", Value: 3})

	window := store.InWindow("m", 10*time.Minute)
	require.Len(t, window, 1)
	require.Equal(t, 2.0, window[0].Value)
}

type countingEvaluator struct {
	mu      sync.Mutex
	metrics []model.Metric
}

func (e *countingEvaluator) Evaluate(metric model.Metric) {
	e.mu.Lock()
	e.metrics = append(e.metrics, metric)
	e.mu.Unlock()
}

func TestStore_RecordForwardsToEvaluator(t *testing.T) {
	store, _ := newTestStore(t)
	ev := &countingEvaluator{}
	store.SetEvaluator(ev)

	store.Record(model.Metric{Name: "m", Value: 7})

	require.Len(t, ev.metrics, 1)
	require.Equal(t, 7.0, ev.metrics[0].Value)
	require.NotEmpty(t, ev.metrics[0].ID)
}

func TestDeriveFromResult(t *testing.T) {
	result := &model.ExecutionResult{
		ID:              "t-1",
		ProjectID:       "p",
		VersionID:       "v",
		Status:          model.ExecutionStatusError,
		ExecutionTimeMs: 150,
		PeakMemoryBytes: 2048,
		APICallCount:    3,
		Errors:          []model.ExecutionError{{Message: "boom", Kind: model.ErrorKindScript}},
		PerformanceMetrics: model.PerformanceMetrics{
			AvgAPIResponseTimeMs: 12.5,
		},
	}

	derived := DeriveFromResult(result)
	require.Len(t, derived, 5)

	byName := make(map[string]model.Metric)
	for _, m := range derived {
		byName[m.Name] = m
	}
	require.Equal(t, 150.0, byName["execution_time"].Value)
	require.Equal(t, 2048.0, byName["peak_memory"].Value)
	require.Equal(t, 3.0, byName["api_call_count"].Value)
	require.Equal(t, 1.0, byName["error_count"].Value)
	require.Equal(t, 12.5, byName["api_latency"].Value)
	require.Equal(t, "true", byName["execution_time"].Metadata["error"])
}
