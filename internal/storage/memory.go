package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/codepage/sandbox/internal/model"
)

// MemoryResultStorage is a map-backed ResultStorage for tests and
// single-process deployments without durability requirements.
type MemoryResultStorage struct {
	mu      sync.RWMutex
	results map[string]*model.ExecutionResult
}

// NewMemoryResultStorage creates an empty in-memory result store.
func NewMemoryResultStorage() *MemoryResultStorage {
	return &MemoryResultStorage{results: make(map[string]*model.ExecutionResult)}
}

// Store implements ResultStorage.Store.
func (s *MemoryResultStorage) Store(_ context.Context, result *model.ExecutionResult) error {
	s.mu.Lock()
	s.results[result.ID] = result
	s.mu.Unlock()
	return nil
}

// Get implements ResultStorage.Get.
func (s *MemoryResultStorage) Get(_ context.Context, id string) (*model.ExecutionResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.results[id], nil
}

// List implements ResultStorage.List.
func (s *MemoryResultStorage) List(_ context.Context, filter ResultFilter, offset, limit int) ([]*model.ExecutionResult, error) {
	s.mu.RLock()
	var matched []*model.ExecutionResult
	for _, r := range s.results {
		if matchesResult(r, filter) {
			matched = append(matched, r)
		}
	}
	s.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit > 0 && len(matched) > limit {
		matched = matched[:limit]
	}
	return matched, nil
}

// Count implements ResultStorage.Count.
func (s *MemoryResultStorage) Count(_ context.Context, filter ResultFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	for _, r := range s.results {
		if matchesResult(r, filter) {
			count++
		}
	}
	return count, nil
}

// DeleteBefore implements ResultStorage.DeleteBefore.
func (s *MemoryResultStorage) DeleteBefore(_ context.Context, before time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, r := range s.results {
		if r.CreatedAt.Before(before) {
			delete(s.results, id)
		}
	}
	return nil
}

// Close implements ResultStorage.Close.
func (s *MemoryResultStorage) Close() error { return nil }

func matchesResult(r *model.ExecutionResult, filter ResultFilter) bool {
	if filter.ProjectID != "" && r.ProjectID != filter.ProjectID {
		return false
	}
	if filter.VersionID != "" && r.VersionID != filter.VersionID {
		return false
	}
	if filter.Status != "" && r.Status != filter.Status {
		return false
	}
	return true
}
