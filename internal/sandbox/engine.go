package sandbox

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dop251/goja"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/codepage/sandbox/internal/model"
)

// DefaultConfig returns the platform execution defaults. Caller-supplied
// config values are merged over these per run.
func DefaultConfig() model.ExecutionConfig {
	return model.ExecutionConfig{
		TimeoutMs:        30_000,
		MemoryLimitBytes: 256 << 20,
		APICallLimit:     100,
	}
}

// ExecutionRequest describes one script run.
type ExecutionRequest struct {
	ProjectID string
	VersionID string
	Script    string
	TestData  map[string]interface{}
	Config    model.ExecutionConfig
}

// ResultSink receives every produced execution result. This is the only
// coupling between the sandbox and the observability side.
type ResultSink interface {
	Consume(result *model.ExecutionResult)
}

// Engine runs untrusted user scripts in an isolated goja VM with
// host-enforced time, memory and call-count ceilings. Execute never
// returns an error to the caller; every failure mode is captured into
// the result.
type Engine struct {
	logger     *zap.Logger
	defaults   model.ExecutionConfig
	apiLatency time.Duration
	sampler    MemorySampler
	sinks      []ResultSink
}

// EngineOption customizes an Engine.
type EngineOption func(*Engine)

// WithMemorySampler replaces the default process-RSS sampler.
func WithMemorySampler(s MemorySampler) EngineOption {
	return func(e *Engine) { e.sampler = s }
}

// WithAPILatency sets the artificial latency of mock API calls.
func WithAPILatency(d time.Duration) EngineOption {
	return func(e *Engine) { e.apiLatency = d }
}

// NewEngine creates an execution engine with the given platform defaults.
func NewEngine(defaults model.ExecutionConfig, logger *zap.Logger, opts ...EngineOption) *Engine {
	e := &Engine{
		logger:     logger.Named("execution-engine"),
		defaults:   defaults,
		apiLatency: 25 * time.Millisecond,
		sampler:    ProcessMemorySampler(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AddSink registers a sink that receives every produced result.
// Sinks must be registered before the engine starts executing.
func (e *Engine) AddSink(sink ResultSink) {
	e.sinks = append(e.sinks, sink)
}

// Execute runs one script and always returns a terminal result.
func (e *Engine) Execute(ctx context.Context, req ExecutionRequest) *model.ExecutionResult {
	cfg := e.mergeConfig(req.Config)
	testID := uuid.New().String()
	run := newRunContext(testID, req.ProjectID, req.VersionID, cfg)
	mon := StartMonitor(cfg)
	api := NewMockAPI(mon, run, e.apiLatency, e.logger)

	e.logger.Debug("Starting execution",
		zap.String("test_id", testID),
		zap.String("project_id", req.ProjectID),
		zap.String("version_id", req.VersionID),
		zap.Int64("timeout_ms", cfg.TimeoutMs))

	vm := goja.New()
	runCtx, cancel := context.WithDeadline(ctx, mon.Deadline())
	defer cancel()

	e.bindConsole(vm, run)
	e.bindAPI(vm, api, run, runCtx)
	e.bindResources(vm, mon)
	vm.Set("testData", req.TestData)

	done := make(chan struct{})
	go e.watch(runCtx, done, vm, mon, run)

	value, runErr := vm.RunString(req.Script)
	close(done)
	cancel()

	result := e.buildResult(run, mon, value, runErr)
	for _, sink := range e.sinks {
		sink.Consume(result)
	}
	return result
}

// watch enforces the wall-clock deadline and periodic memory sampling
// for one run, interrupting the VM the instant a ceiling is hit.
func (e *Engine) watch(ctx context.Context, done <-chan struct{}, vm *goja.Runtime, mon *RunMonitor, run *runContext) {
	ticker := time.NewTicker(PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			// The run may have completed in the same instant.
			select {
			case <-done:
				return
			default:
			}
			if mon.Expired() {
				mon.MarkViolation(model.ErrorKindTimeoutExceeded)
				vm.Interrupt(ErrTimeoutExceeded)
			} else {
				vm.Interrupt(ErrCancelled)
			}
			return
		case <-ticker.C:
			bytes, err := e.sampler()
			if err != nil {
				e.logger.Debug("Memory sample failed", zap.Error(err))
				continue
			}
			run.recordMemorySample(bytes)
			if !mon.SampleMemory(bytes) {
				vm.Interrupt(ErrMemoryExceeded)
				return
			}
		}
	}
}

// bindConsole exposes a scoped console that appends to the run's log
// instead of writing to a shared stream.
func (e *Engine) bindConsole(vm *goja.Runtime, run *runContext) {
	appendLevel := func(level string) func(args ...interface{}) {
		return func(args ...interface{}) {
			run.appendLog(fmt.Sprintf("[%s] %s", level, formatConsoleArgs(args)))
		}
	}
	console := vm.NewObject()
	console.Set("log", appendLevel("log"))
	console.Set("info", appendLevel("info"))
	console.Set("warn", appendLevel("warn"))
	console.Set("error", appendLevel("error"))
	vm.Set("console", console)
}

// bindAPI exposes the mock external API as the `api` global.
func (e *Engine) bindAPI(vm *goja.Runtime, api *MockAPI, run *runContext, ctx context.Context) {
	wrap := func(method func(context.Context, map[string]interface{}) (interface{}, error)) func(goja.FunctionCall) goja.Value {
		return func(call goja.FunctionCall) goja.Value {
			params := map[string]interface{}{}
			if len(call.Arguments) > 0 {
				if m, ok := call.Argument(0).Export().(map[string]interface{}); ok {
					params = m
				}
			}
			result, err := method(ctx, params)
			if err != nil {
				if errors.Is(err, ErrAPICallLimitExceeded) {
					// Not catchable from script code: the run is abandoned.
					vm.Interrupt(ErrAPICallLimitExceeded)
					return goja.Undefined()
				}
				panic(vm.NewGoError(err))
			}
			return vm.ToValue(result)
		}
	}

	obj := vm.NewObject()
	obj.Set("query", wrap(api.Query))
	obj.Set("get", wrap(api.Get))
	obj.Set("create", wrap(api.Create))
	obj.Set("update", wrap(api.Update))
	obj.Set("delete", wrap(api.Delete))
	obj.Set("bulkCreate", wrap(api.BulkCreate))
	vm.Set("api", obj)
}

// bindResources exposes a read-only resource-usage accessor.
func (e *Engine) bindResources(vm *goja.Runtime, mon *RunMonitor) {
	obj := vm.NewObject()
	obj.Set("elapsedMs", func() int64 { return mon.Elapsed().Milliseconds() })
	obj.Set("apiCallCount", func() int { return mon.APICallCount() })
	obj.Set("peakMemoryBytes", func() uint64 { return mon.PeakMemory() })
	vm.Set("resources", obj)
}

func (e *Engine) mergeConfig(cfg model.ExecutionConfig) model.ExecutionConfig {
	merged := e.defaults
	if cfg.TimeoutMs > 0 {
		merged.TimeoutMs = cfg.TimeoutMs
	}
	if cfg.MemoryLimitBytes > 0 {
		merged.MemoryLimitBytes = cfg.MemoryLimitBytes
	}
	if cfg.APICallLimit > 0 {
		merged.APICallLimit = cfg.APICallLimit
	}
	if len(cfg.Environment) > 0 {
		merged.Environment = cfg.Environment
	}
	return merged
}

// buildResult converts the run outcome into the immutable result record.
// A limit violation takes precedence over any script-level error from the
// same run.
func (e *Engine) buildResult(run *runContext, mon *RunMonitor, value goja.Value, runErr error) *model.ExecutionResult {
	completed := time.Now()
	calls := run.snapshotCalls()

	result := &model.ExecutionResult{
		ID:              run.testID,
		ProjectID:       run.projectID,
		VersionID:       run.versionID,
		Status:          model.ExecutionStatusPassed,
		ExecutionTimeMs: mon.Elapsed().Milliseconds(),
		PeakMemoryBytes: run.peakMemory(),
		APICallCount:    mon.APICallCount(),
		Errors:          []model.ExecutionError{},
		Logs:            run.snapshotLogs(),
		APICalls:        calls,
		CreatedAt:       mon.StartTime(),
		CompletedAt:     completed,
	}

	if kind, ok := mon.Violation(); ok {
		result.Status = model.ExecutionStatusError
		result.Errors = []model.ExecutionError{violationError(kind)}
	} else if runErr != nil {
		result.Status = model.ExecutionStatusError
		result.Errors = []model.ExecutionError{classifyError(runErr)}
	} else if b, ok := completionBool(value); ok && !b {
		// A script returning false is a failed assertion, not a crash.
		result.Status = model.ExecutionStatusFailed
		result.Errors = []model.ExecutionError{{
			Message: "script completed with a false assertion value",
			Kind:    model.ErrorKindScript,
		}}
	}

	result.PerformanceMetrics = model.PerformanceMetrics{
		ExecutionTimeMs:      result.ExecutionTimeMs,
		MemoryUsage:          result.PeakMemoryBytes,
		APICallCount:         result.APICallCount,
		AvgAPIResponseTimeMs: avgCallLatencyMs(calls),
	}

	e.logger.Info("Execution finished",
		zap.String("test_id", result.ID),
		zap.String("status", string(result.Status)),
		zap.Int64("execution_time_ms", result.ExecutionTimeMs),
		zap.Int("api_calls", result.APICallCount),
		zap.Int("errors", len(result.Errors)))

	return result
}

func violationError(kind model.ErrorKind) model.ExecutionError {
	var msg string
	switch kind {
	case model.ErrorKindTimeoutExceeded:
		msg = "execution exceeded the configured time limit"
	case model.ErrorKindMemoryExceeded:
		msg = "execution exceeded the configured memory limit"
	case model.ErrorKindAPICallLimitReached:
		msg = "execution exceeded the configured API call limit"
	default:
		msg = "resource limit exceeded"
	}
	return model.ExecutionError{Message: msg, Kind: kind}
}

// classifyError maps a goja runtime error into the closed error taxonomy.
func classifyError(err error) model.ExecutionError {
	var intErr *goja.InterruptedError
	if errors.As(err, &intErr) {
		if cause, ok := intErr.Value().(error); ok {
			switch {
			case errors.Is(cause, ErrTimeoutExceeded):
				return violationError(model.ErrorKindTimeoutExceeded)
			case errors.Is(cause, ErrMemoryExceeded):
				return violationError(model.ErrorKindMemoryExceeded)
			case errors.Is(cause, ErrAPICallLimitExceeded):
				return violationError(model.ErrorKindAPICallLimitReached)
			}
		}
		return model.ExecutionError{Message: "execution interrupted", Kind: model.ErrorKindScript}
	}

	var exc *goja.Exception
	if errors.As(err, &exc) {
		return classifyException(exc)
	}

	return model.ExecutionError{Message: err.Error(), Kind: model.ErrorKindScript}
}

func classifyException(exc *goja.Exception) model.ExecutionError {
	out := model.ExecutionError{
		Message: exc.Error(),
		Kind:    model.ErrorKindScript,
	}

	obj, ok := exc.Value().(*goja.Object)
	if !ok {
		return out
	}

	if v := obj.Get("message"); v != nil && !goja.IsUndefined(v) {
		out.Message = v.String()
	}
	if v := obj.Get("stack"); v != nil && !goja.IsUndefined(v) {
		out.Stack = v.String()
	}
	if v := obj.Get("name"); v != nil && !goja.IsUndefined(v) {
		switch v.String() {
		case "ReferenceError":
			out.Kind = model.ErrorKindReference
		case "TypeError":
			out.Kind = model.ErrorKindType
		case "SyntaxError":
			out.Kind = model.ErrorKindSyntax
		case "RangeError":
			out.Kind = model.ErrorKindRange
		}
	}
	out.LineNumber, out.ColumnNumber = parsePosition(out.Stack)
	return out
}

// parsePosition extracts the first source position of the form
// "<source>:line:col(" from a goja stack trace.
func parsePosition(stack string) (line, col int) {
	for i := 0; i < len(stack); i++ {
		if stack[i] != ':' {
			continue
		}
		l, next := readInt(stack, i+1)
		if next <= i+1 || next >= len(stack) || stack[next] != ':' {
			continue
		}
		c, end := readInt(stack, next+1)
		if end <= next+1 {
			continue
		}
		return l, c
	}
	return 0, 0
}

func readInt(s string, start int) (value, end int) {
	end = start
	for end < len(s) && s[end] >= '0' && s[end] <= '9' {
		value = value*10 + int(s[end]-'0')
		end++
	}
	if end == start {
		return 0, start
	}
	return value, end
}

func completionBool(value goja.Value) (bool, bool) {
	if value == nil || goja.IsUndefined(value) || goja.IsNull(value) {
		return false, false
	}
	b, ok := value.Export().(bool)
	return b, ok
}

// avgCallLatencyMs averages the duration of executed calls; an empty
// call log averages to 0, not NaN.
func avgCallLatencyMs(calls []model.APICall) float64 {
	var total time.Duration
	var n int
	for _, c := range calls {
		if c.Rejected {
			continue
		}
		total += c.Duration
		n++
	}
	if n == 0 {
		return 0
	}
	return float64(total.Milliseconds()) / float64(n)
}

func formatConsoleArgs(args []interface{}) string {
	parts := make([]string, 0, len(args))
	for _, a := range args {
		parts = append(parts, fmt.Sprintf("%v", a))
	}
	return strings.Join(parts, " ")
}
