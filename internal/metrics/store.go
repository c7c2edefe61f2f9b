package metrics

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

const (
	// DefaultBufferSize is the number of buffered metrics that triggers a flush.
	DefaultBufferSize = 1000

	// DefaultRetention is the hard cap on how long flushed metrics are kept.
	DefaultRetention = 24 * time.Hour
)

// Evaluator reacts to each freshly ingested metric. The alert engine
// implements this; Record forwards the metric before returning.
type Evaluator interface {
	Evaluate(metric model.Metric)
}

// RetainedStore is the durable half of the metrics pipeline. Mutation
// goes through batch appends and retention pruning only.
type RetainedStore interface {
	Append(ctx context.Context, batch []model.Metric) error
	Prune(ctx context.Context, before time.Time) (int, error)
	Query(ctx context.Context, filter model.MetricFilter) ([]model.Metric, error)
}

// Store is the append-only ingestion point for numeric telemetry. It
// buffers in memory and flushes to the retained store in batches,
// pruning anything older than the retention horizon on every flush.
type Store struct {
	logger     *zap.Logger
	retained   RetainedStore
	bufferSize int
	retention  time.Duration

	mu        sync.Mutex
	buffer    []model.Metric
	evaluator Evaluator
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithBufferSize overrides the flush threshold.
func WithBufferSize(n int) StoreOption {
	return func(s *Store) { s.bufferSize = n }
}

// WithRetention overrides the retention horizon.
func WithRetention(d time.Duration) StoreOption {
	return func(s *Store) { s.retention = d }
}

// NewStore creates a metrics store flushing into the given retained store.
func NewStore(retained RetainedStore, logger *zap.Logger, opts ...StoreOption) *Store {
	s := &Store{
		logger:     logger.Named("metrics-store"),
		retained:   retained,
		bufferSize: DefaultBufferSize,
		retention:  DefaultRetention,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetEvaluator wires the alert engine into the ingestion path.
func (s *Store) SetEvaluator(ev Evaluator) {
	s.mu.Lock()
	s.evaluator = ev
	s.mu.Unlock()
}

// Record appends one metric. Once the buffer reaches the flush threshold
// it is flushed as a batch. The same metric is handed to the evaluator
// before Record returns.
func (s *Store) Record(metric model.Metric) {
	if metric.ID == "" {
		metric.ID = uuid.New().String()
	}
	if metric.Timestamp.IsZero() {
		metric.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.buffer = append(s.buffer, metric)
	if len(s.buffer) >= s.bufferSize {
		if err := s.flushLocked(context.Background()); err != nil {
			s.logger.Error("Metrics flush failed, batch re-queued", zap.Error(err))
		}
	}
	ev := s.evaluator
	s.mu.Unlock()

	if ev != nil {
		ev.Evaluate(metric)
	}
}

// Flush forces the buffered metrics into the retained store.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

// flushLocked appends the buffered batch atomically and prunes expired
// metrics. On append failure the batch is re-queued at the front of the
// buffer for the next attempt rather than dropped.
func (s *Store) flushLocked(ctx context.Context) error {
	if len(s.buffer) == 0 {
		return nil
	}

	batch := s.buffer
	s.buffer = nil

	if err := s.retained.Append(ctx, batch); err != nil {
		s.buffer = append(batch, s.buffer...)
		return fmt.Errorf("failed to append batch of %d metrics: %w", len(batch), err)
	}

	pruned, err := s.retained.Prune(ctx, time.Now().Add(-s.retention))
	if err != nil {
		s.logger.Error("Retention pruning failed", zap.Error(err))
	} else if pruned > 0 {
		s.logger.Debug("Pruned expired metrics", zap.Int("count", pruned))
	}

	s.logger.Debug("Flushed metrics batch", zap.Int("count", len(batch)))
	return nil
}

// Query returns stored metrics matching the filter, both flushed and
// still-buffered, ordered by timestamp.
func (s *Store) Query(filter model.MetricFilter) []model.Metric {
	retained, err := s.retained.Query(context.Background(), filter)
	if err != nil {
		s.logger.Error("Retained query failed", zap.Error(err))
	}

	s.mu.Lock()
	for _, m := range s.buffer {
		if matchesFilter(m, filter) {
			retained = append(retained, m)
		}
	}
	s.mu.Unlock()

	sort.Slice(retained, func(i, j int) bool {
		return retained[i].Timestamp.Before(retained[j].Timestamp)
	})
	if filter.Limit > 0 && len(retained) > filter.Limit {
		retained = retained[len(retained)-filter.Limit:]
	}
	return retained
}

// InWindow returns metrics with the given name inside the trailing window.
func (s *Store) InWindow(name string, window time.Duration) []model.Metric {
	return s.Query(model.MetricFilter{
		Name:  name,
		Since: time.Now().Add(-window),
	})
}

// Summarize computes count/min/max/avg over one metric kind in the
// trailing window.
func (s *Store) Summarize(kind model.MetricKind, window time.Duration) model.MetricStats {
	now := time.Now()
	stats := model.MetricStats{From: now.Add(-window), To: now}

	for _, m := range s.Query(model.MetricFilter{Kind: kind, Since: stats.From}) {
		if stats.Count == 0 || m.Value < stats.Min {
			stats.Min = m.Value
		}
		if stats.Count == 0 || m.Value > stats.Max {
			stats.Max = m.Value
		}
		stats.Sum += m.Value
		stats.Count++
	}
	if stats.Count > 0 {
		stats.Avg = stats.Sum / float64(stats.Count)
	}
	return stats
}

func matchesFilter(m model.Metric, f model.MetricFilter) bool {
	if f.Kind != "" && m.Kind != f.Kind {
		return false
	}
	if f.Name != "" && m.Name != f.Name {
		return false
	}
	if !f.Since.IsZero() && m.Timestamp.Before(f.Since) {
		return false
	}
	if !f.Until.IsZero() && m.Timestamp.After(f.Until) {
		return false
	}
	return true
}

// MemoryRetained is the in-memory retained store. A durable
// implementation can be swapped in behind the same interface.
type MemoryRetained struct {
	mu      sync.Mutex
	metrics []model.Metric
}

// NewMemoryRetained creates an empty in-memory retained store.
func NewMemoryRetained() *MemoryRetained {
	return &MemoryRetained{}
}

// Append implements RetainedStore.Append.
func (r *MemoryRetained) Append(_ context.Context, batch []model.Metric) error {
	r.mu.Lock()
	r.metrics = append(r.metrics, batch...)
	r.mu.Unlock()
	return nil
}

// Prune implements RetainedStore.Prune.
func (r *MemoryRetained) Prune(_ context.Context, before time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.metrics[:0]
	for _, m := range r.metrics {
		if !m.Timestamp.Before(before) {
			kept = append(kept, m)
		}
	}
	pruned := len(r.metrics) - len(kept)
	r.metrics = kept
	return pruned, nil
}

// Query implements RetainedStore.Query.
func (r *MemoryRetained) Query(_ context.Context, filter model.MetricFilter) ([]model.Metric, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []model.Metric
	for _, m := range r.metrics {
		if matchesFilter(m, filter) {
			out = append(out, m)
		}
	}
	return out, nil
}
