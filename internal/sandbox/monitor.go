package sandbox

import (
	"os"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/process"

	"github.com/codepage/sandbox/internal/model"
)

// PollInterval is the period between memory samples and deadline checks.
const PollInterval = 100 * time.Millisecond

// MemorySampler reports the current memory footprint in bytes.
type MemorySampler func() (uint64, error)

// ProcessMemorySampler samples the resident set size of this process.
func ProcessMemorySampler() MemorySampler {
	proc, err := process.NewProcess(int32(os.Getpid()))
	return func() (uint64, error) {
		if err != nil {
			return 0, err
		}
		info, infoErr := proc.MemoryInfo()
		if infoErr != nil {
			return 0, infoErr
		}
		return info.RSS, nil
	}
}

// RunMonitor tracks elapsed time, memory samples and external-call count
// for a single run. It is the authority that declares a limit violation;
// the first violation is terminal and becomes the run's sole error.
type RunMonitor struct {
	cfg       model.ExecutionConfig
	startTime time.Time
	deadline  time.Time

	mu        sync.Mutex
	apiCalls  int
	peak      uint64
	violation model.ErrorKind
}

// StartMonitor begins tracking a run against the given config.
func StartMonitor(cfg model.ExecutionConfig) *RunMonitor {
	now := time.Now()
	return &RunMonitor{
		cfg:       cfg,
		startTime: now,
		deadline:  now.Add(cfg.Timeout()),
	}
}

// StartTime returns when the run started.
func (m *RunMonitor) StartTime() time.Time { return m.startTime }

// Deadline returns the wall-clock ceiling for the run.
func (m *RunMonitor) Deadline() time.Time { return m.deadline }

// Elapsed returns the wall-clock time since the run started.
func (m *RunMonitor) Elapsed() time.Duration { return time.Since(m.startTime) }

// Expired reports whether the deadline has passed.
func (m *RunMonitor) Expired() bool { return time.Now().After(m.deadline) }

// RecordAPICall counts one external call against the limit. It returns
// false once the configured ceiling would be passed; the rejected call
// must not be executed.
func (m *RunMonitor) RecordAPICall() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.APICallLimit > 0 && m.apiCalls >= m.cfg.APICallLimit {
		if m.violation == "" {
			m.violation = model.ErrorKindAPICallLimitReached
		}
		return false
	}
	m.apiCalls++
	return true
}

// APICallCount returns the number of calls that were allowed to execute.
func (m *RunMonitor) APICallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.apiCalls
}

// SampleMemory records one memory sample. It returns false when the
// sample exceeds the configured limit, flipping the terminal exceeded flag.
func (m *RunMonitor) SampleMemory(bytes uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if bytes > m.peak {
		m.peak = bytes
	}
	if m.cfg.MemoryLimitBytes > 0 && bytes > m.cfg.MemoryLimitBytes {
		if m.violation == "" {
			m.violation = model.ErrorKindMemoryExceeded
		}
		return false
	}
	return true
}

// PeakMemory returns the largest memory sample seen so far.
func (m *RunMonitor) PeakMemory() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.peak
}

// MarkViolation records a limit violation. The first violation wins.
func (m *RunMonitor) MarkViolation(kind model.ErrorKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.violation == "" {
		m.violation = kind
	}
}

// Violation returns the terminal violation, if any.
func (m *RunMonitor) Violation() (model.ErrorKind, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.violation, m.violation != ""
}
