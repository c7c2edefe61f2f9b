package sandbox

import (
	"sync"
	"time"

	"github.com/codepage/sandbox/internal/model"
)

// runContext is the mutable per-run state: captured console output, the
// ordered log of mock-API calls, and memory samples. It is owned
// exclusively by the engine goroutine set of one run and discarded when
// the run ends.
type runContext struct {
	testID    string
	projectID string
	versionID string
	config    model.ExecutionConfig
	startTime time.Time

	mu            sync.Mutex
	apiCalls      []model.APICall
	logs          []string
	memorySamples []uint64
}

func newRunContext(testID, projectID, versionID string, cfg model.ExecutionConfig) *runContext {
	return &runContext{
		testID:    testID,
		projectID: projectID,
		versionID: versionID,
		config:    cfg,
		startTime: time.Now(),
	}
}

func (rc *runContext) appendCall(call model.APICall) {
	rc.mu.Lock()
	rc.apiCalls = append(rc.apiCalls, call)
	rc.mu.Unlock()
}

func (rc *runContext) appendLog(line string) {
	rc.mu.Lock()
	rc.logs = append(rc.logs, line)
	rc.mu.Unlock()
}

func (rc *runContext) recordMemorySample(bytes uint64) {
	rc.mu.Lock()
	rc.memorySamples = append(rc.memorySamples, bytes)
	rc.mu.Unlock()
}

func (rc *runContext) snapshotCalls() []model.APICall {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]model.APICall, len(rc.apiCalls))
	copy(out, rc.apiCalls)
	return out
}

func (rc *runContext) snapshotLogs() []string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]string, len(rc.logs))
	copy(out, rc.logs)
	return out
}

func (rc *runContext) peakMemory() uint64 {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	var peak uint64
	for _, s := range rc.memorySamples {
		if s > peak {
			peak = s
		}
	}
	return peak
}
