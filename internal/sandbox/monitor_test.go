package sandbox

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codepage/sandbox/internal/model"
)

func TestRunMonitor_APICallLimit(t *testing.T) {
	mon := StartMonitor(model.ExecutionConfig{TimeoutMs: 1000, APICallLimit: 2})

	require.True(t, mon.RecordAPICall())
	require.True(t, mon.RecordAPICall())
	require.False(t, mon.RecordAPICall())
	require.Equal(t, 2, mon.APICallCount())

	kind, ok := mon.Violation()
	require.True(t, ok)
	require.Equal(t, model.ErrorKindAPICallLimitReached, kind)
}

func TestRunMonitor_UnlimitedCallsWhenZero(t *testing.T) {
	mon := StartMonitor(model.ExecutionConfig{TimeoutMs: 1000})

	for i := 0; i < 500; i++ {
		require.True(t, mon.RecordAPICall())
	}
	_, ok := mon.Violation()
	require.False(t, ok)
}

func TestRunMonitor_MemorySampling(t *testing.T) {
	mon := StartMonitor(model.ExecutionConfig{TimeoutMs: 1000, MemoryLimitBytes: 100})

	require.True(t, mon.SampleMemory(50))
	require.True(t, mon.SampleMemory(99))
	require.False(t, mon.SampleMemory(101))
	require.Equal(t, uint64(101), mon.PeakMemory())

	kind, ok := mon.Violation()
	require.True(t, ok)
	require.Equal(t, model.ErrorKindMemoryExceeded, kind)
}

func TestRunMonitor_Deadline(t *testing.T) {
	mon := StartMonitor(model.ExecutionConfig{TimeoutMs: 30})

	require.False(t, mon.Expired())
	time.Sleep(50 * time.Millisecond)
	require.True(t, mon.Expired())
	require.GreaterOrEqual(t, mon.Elapsed(), 50*time.Millisecond)
}

func TestRunMonitor_FirstViolationWins(t *testing.T) {
	mon := StartMonitor(model.ExecutionConfig{TimeoutMs: 1000, MemoryLimitBytes: 100, APICallLimit: 1})

	require.False(t, mon.SampleMemory(200))
	mon.MarkViolation(model.ErrorKindTimeoutExceeded)

	kind, ok := mon.Violation()
	require.True(t, ok)
	require.Equal(t, model.ErrorKindMemoryExceeded, kind)
}

func TestProcessMemorySampler(t *testing.T) {
	sampler := ProcessMemorySampler()
	bytes, err := sampler()
	require.NoError(t, err)
	require.Greater(t, bytes, uint64(0))
}
