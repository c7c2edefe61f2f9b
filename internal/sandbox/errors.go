package sandbox

import "errors"

var (
	// ErrTimeoutExceeded is the interrupt value used when a run hits its wall-clock deadline
	ErrTimeoutExceeded = errors.New("execution timeout exceeded")

	// ErrMemoryExceeded is the interrupt value used when a memory sample passes the limit
	ErrMemoryExceeded = errors.New("memory limit exceeded")

	// ErrAPICallLimitExceeded is returned by the mock API once the call ceiling is passed
	ErrAPICallLimitExceeded = errors.New("api call limit exceeded")

	// ErrCancelled is used when the caller cancels a run before its deadline
	ErrCancelled = errors.New("execution cancelled")
)
