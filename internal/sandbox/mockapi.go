package sandbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

// MockAPI stands in for the platform's real data API during sandboxed
// runs. Every call is logged into the run context with its duration,
// counted against the monitor's call limit, and delayed by an artificial
// latency to emulate network cost. One instance serves one run.
type MockAPI struct {
	logger  *zap.Logger
	latency time.Duration
	monitor *RunMonitor
	run     *runContext

	mu      sync.Mutex
	records []map[string]interface{}
}

// NewMockAPI creates a mock API bound to one run.
func NewMockAPI(monitor *RunMonitor, run *runContext, latency time.Duration, logger *zap.Logger) *MockAPI {
	return &MockAPI{
		logger:  logger.Named("mock-api"),
		latency: latency,
		monitor: monitor,
		run:     run,
		records: seedFixtures(),
	}
}

func seedFixtures() []map[string]interface{} {
	return []map[string]interface{}{
		{"id": "rec-1", "name": "homepage", "kind": "page", "views": float64(1280)},
		{"id": "rec-2", "name": "checkout", "kind": "page", "views": float64(342)},
		{"id": "rec-3", "name": "pricing", "kind": "page", "views": float64(911)},
		{"id": "rec-4", "name": "order-form", "kind": "component", "views": float64(77)},
		{"id": "rec-5", "name": "nav-bar", "kind": "component", "views": float64(2034)},
	}
}

// Query returns all fixture records matching every key/value in params.
func (a *MockAPI) Query(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return a.call(ctx, "query", params, func() (interface{}, error) {
		a.mu.Lock()
		defer a.mu.Unlock()
		var out []map[string]interface{}
		for _, rec := range a.records {
			if matches(rec, params) {
				out = append(out, cloneRecord(rec))
			}
		}
		if out == nil {
			out = []map[string]interface{}{}
		}
		return out, nil
	})
}

// Get returns the record with the id in params, or nil.
func (a *MockAPI) Get(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return a.call(ctx, "get", params, func() (interface{}, error) {
		id, _ := params["id"].(string)
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, rec := range a.records {
			if rec["id"] == id {
				return cloneRecord(rec), nil
			}
		}
		return nil, nil
	})
}

// Create appends a new record with a generated id.
func (a *MockAPI) Create(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return a.call(ctx, "create", params, func() (interface{}, error) {
		rec := cloneRecord(params)
		rec["id"] = uuid.New().String()
		a.mu.Lock()
		a.records = append(a.records, rec)
		a.mu.Unlock()
		return cloneRecord(rec), nil
	})
}

// Update merges params into the record with the given id.
func (a *MockAPI) Update(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return a.call(ctx, "update", params, func() (interface{}, error) {
		id, _ := params["id"].(string)
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, rec := range a.records {
			if rec["id"] == id {
				for k, v := range params {
					if k != "id" {
						rec[k] = v
					}
				}
				return cloneRecord(rec), nil
			}
		}
		return nil, fmt.Errorf("record not found: %s", id)
	})
}

// Delete removes the record with the given id.
func (a *MockAPI) Delete(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return a.call(ctx, "delete", params, func() (interface{}, error) {
		id, _ := params["id"].(string)
		a.mu.Lock()
		defer a.mu.Unlock()
		for i, rec := range a.records {
			if rec["id"] == id {
				a.records = append(a.records[:i], a.records[i+1:]...)
				return map[string]interface{}{"deleted": true, "id": id}, nil
			}
		}
		return map[string]interface{}{"deleted": false, "id": id}, nil
	})
}

// BulkCreate creates one record per entry in params["items"].
func (a *MockAPI) BulkCreate(ctx context.Context, params map[string]interface{}) (interface{}, error) {
	return a.call(ctx, "bulkCreate", params, func() (interface{}, error) {
		items, _ := params["items"].([]interface{})
		created := make([]map[string]interface{}, 0, len(items))
		a.mu.Lock()
		defer a.mu.Unlock()
		for _, item := range items {
			fields, ok := item.(map[string]interface{})
			if !ok {
				continue
			}
			rec := cloneRecord(fields)
			rec["id"] = uuid.New().String()
			a.records = append(a.records, rec)
			created = append(created, cloneRecord(rec))
		}
		return created, nil
	})
}

// call enforces the call limit, applies the artificial latency, and logs
// the call into the run context. Rejected over-limit calls are still
// logged so the failure is attributable, but the operation never runs.
func (a *MockAPI) call(ctx context.Context, method string, params map[string]interface{}, op func() (interface{}, error)) (interface{}, error) {
	start := time.Now()

	if !a.monitor.RecordAPICall() {
		a.appendEntry(method, params, nil, start, true)
		a.logger.Debug("Call rejected by limit", zap.String("method", method))
		return nil, ErrAPICallLimitExceeded
	}

	if err := a.sleep(ctx); err != nil {
		a.appendEntry(method, params, nil, start, false)
		return nil, err
	}

	result, err := op()
	a.appendEntry(method, params, result, start, false)
	if err != nil {
		return nil, err
	}
	return result, nil
}

// sleep waits out the artificial latency, aborting if the run is cancelled.
func (a *MockAPI) sleep(ctx context.Context) error {
	if a.latency <= 0 {
		return nil
	}
	timer := time.NewTimer(a.latency)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (a *MockAPI) appendEntry(method string, params map[string]interface{}, response interface{}, start time.Time, rejected bool) {
	entry := model.APICall{
		Method:    method,
		Timestamp: start,
		Duration:  time.Since(start),
		Rejected:  rejected,
	}
	if params != nil {
		if raw, err := json.Marshal(params); err == nil {
			entry.Params = raw
		}
	}
	if response != nil {
		if raw, err := json.Marshal(response); err == nil {
			entry.Response = raw
		}
	}
	a.run.appendCall(entry)
}

func matches(rec, params map[string]interface{}) bool {
	for k, v := range params {
		if rec[k] != v {
			return false
		}
	}
	return true
}

func cloneRecord(rec map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	return out
}
