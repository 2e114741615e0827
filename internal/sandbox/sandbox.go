package sandbox

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"
)

// Result captures one sandbox trial of proposed content. All fields describe
// the proposed run; BaselineTests carries the original content's test-surface
// behavior so the regression check can diff pre/post.
type Result struct {
	Executed  bool          `json:"executed"`
	Status    ExitStatus    `json:"exit_status"`
	Output    string        `json:"captured_output,omitempty"`
	Truncated bool          `json:"truncated,omitempty"`
	Duration  time.Duration `json:"duration"`
	// PeakMemoryBytes approximates memory pressure as bytes allocated during
	// the run.
	PeakMemoryBytes uint64 `json:"peak_memory_bytes"`
	Steps           uint64 `json:"steps"`
	TestsPassed     int    `json:"test_pass_count"`
	TestsFailed     int    `json:"test_fail_count"`
	// TestResults maps test function name to pass/fail for the proposed run.
	TestResults map[string]bool `json:"test_results,omitempty"`
	// BaselineTests maps test function name to pass/fail for the original run.
	BaselineTests map[string]bool `json:"baseline_tests,omitempty"`
	Error         string          `json:"error,omitempty"`
}

// Executor trials proposed content inside an embedded Starlark interpreter.
// The interpreter has no filesystem, network, or process access; the only
// injected environment is a per-run scratch filesystem and test asserts, so
// side effects cannot escape the run. Executor is stateless and safe for
// concurrent use.
type Executor struct {
	limits Limits
}

// NewExecutor creates an Executor with the given limits.
func NewExecutor(limits Limits) *Executor {
	return &Executor{limits: limits.withDefaults()}
}

// Limits returns the executor's effective limits.
func (e *Executor) Limits() Limits { return e.limits }

// Run trials original and proposed content against the same test surface and
// returns the proposed run's result with the baseline test outcomes attached.
// The context cancels the run; cancellation is recorded as a timeout (the
// teardown path is identical). Run never panics and never retries.
func (e *Executor) Run(ctx context.Context, original, proposed, testSurface string) Result {
	baseline := e.runOne(ctx, original, testSurface)

	res := e.runOne(ctx, proposed, testSurface)
	res.BaselineTests = baseline.TestResults
	return res
}

// RunProposed trials only the proposed content. Used when no baseline
// comparison is wanted.
func (e *Executor) RunProposed(ctx context.Context, proposed, testSurface string) Result {
	return e.runOne(ctx, proposed, testSurface)
}

func (e *Executor) runOne(ctx context.Context, content, testSurface string) Result {
	start := time.Now()
	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	out := &boundedBuffer{limit: e.limits.MaxOutputBytes}
	thread := &starlark.Thread{
		Name: "sandbox",
		Print: func(_ *starlark.Thread, msg string) {
			out.append(msg + "\n")
		},
	}
	thread.SetMaxExecutionSteps(e.limits.MaxSteps)

	// Hard kill on timeout or external cancellation. Both paths cancel the
	// interpreter; teardown is the same either way.
	var killed atomic.Bool
	timer := time.AfterFunc(e.limits.Timeout, func() {
		killed.Store(true)
		thread.Cancel("timeout")
	})
	defer timer.Stop()
	stop := context.AfterFunc(ctx, func() {
		killed.Store(true)
		thread.Cancel("cancelled")
	})
	defer stop()

	// Memory watchdog. The interpreter has no allocation hook, so the ceiling
	// is enforced by sampling process allocation growth since the run started
	// and cancelling the thread when it crosses the limit.
	var memKilled atomic.Bool
	memDone := make(chan struct{})
	defer close(memDone)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-memDone:
				return
			case <-ticker.C:
				var ms runtime.MemStats
				runtime.ReadMemStats(&ms)
				if ms.TotalAlloc-before.TotalAlloc > e.limits.MaxMemoryBytes {
					memKilled.Store(true)
					thread.Cancel("memory limit exceeded")
					return
				}
			}
		}
	}()

	res := Result{Executed: true, TestResults: map[string]bool{}}
	func() {
		defer func() {
			if r := recover(); r != nil {
				res.Status = ExitCrashed
				res.Error = fmt.Sprintf("interpreter panic: %v", r)
			}
		}()
		res = e.exec(thread, content, testSurface, out, &killed)
	}()

	if killed.Load() {
		res.Status = ExitTimeout
		if res.Error == "" {
			res.Error = "execution cancelled by timeout"
		}
	} else if memKilled.Load() {
		res.Status = ExitFailure
		res.Error = "memory limit exceeded"
	}

	var after runtime.MemStats
	runtime.ReadMemStats(&after)
	if after.TotalAlloc > before.TotalAlloc {
		res.PeakMemoryBytes = after.TotalAlloc - before.TotalAlloc
	}
	res.Duration = time.Since(start)
	res.Steps = thread.ExecutionSteps()
	res.Output, res.Truncated = out.contents()
	return res
}

// exec loads the unit under trial, then runs its test surface. The unit's
// globals are predeclared for the test surface so tests call unit functions
// directly.
func (e *Executor) exec(thread *starlark.Thread, content, testSurface string, out *boundedBuffer, killed *atomic.Bool) Result {
	res := Result{Executed: true, TestResults: map[string]bool{}}
	fs := newScratchFS()
	predeclared := starlark.StringDict{
		"scratch":     fs.module(),
		"assert_eq":   starlark.NewBuiltin("assert_eq", assertEq),
		"assert_true": starlark.NewBuiltin("assert_true", assertTrue),
	}

	globals, err := starlark.ExecFileOptions(fileOptions(), thread, "<unit>", content, predeclared)
	if err != nil {
		res.Status = ExitFailure
		res.Error = evalErrorString(err)
		return res
	}

	if strings.TrimSpace(testSurface) == "" {
		res.Status = ExitSuccess
		return res
	}

	testEnv := make(starlark.StringDict, len(predeclared)+len(globals))
	for k, v := range predeclared {
		testEnv[k] = v
	}
	for k, v := range globals {
		testEnv[k] = v
	}
	testGlobals, err := starlark.ExecFileOptions(fileOptions(), thread, "<tests>", testSurface, testEnv)
	if err != nil {
		res.Status = ExitFailure
		res.Error = evalErrorString(err)
		return res
	}

	for _, name := range testNames(testGlobals) {
		fn, ok := testGlobals[name].(starlark.Callable)
		if !ok {
			continue
		}
		if _, err := starlark.Call(thread, fn, nil, nil); err != nil {
			res.TestResults[name] = false
			res.TestsFailed++
			fmt.Fprintf(out, "FAIL %s: %s\n", name, evalErrorString(err))
			// A cancelled thread cannot run further tests.
			if killed.Load() {
				break
			}
		} else {
			res.TestResults[name] = true
			res.TestsPassed++
		}
	}

	if res.TestsFailed > 0 {
		res.Status = ExitFailure
		res.Error = fmt.Sprintf("%d of %d tests failed", res.TestsFailed, res.TestsFailed+res.TestsPassed)
	} else {
		res.Status = ExitSuccess
	}
	return res
}

func testNames(globals starlark.StringDict) []string {
	var names []string
	for name := range globals {
		if strings.HasPrefix(name, "test_") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func evalErrorString(err error) string {
	if evalErr, ok := err.(*starlark.EvalError); ok {
		return evalErr.Msg
	}
	return err.Error()
}

func fileOptions() *syntax.FileOptions {
	return &syntax.FileOptions{
		Set:             true,
		While:           true,
		TopLevelControl: true,
		GlobalReassign:  true,
		Recursion:       true,
	}
}

func assertEq(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var got, want starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "got", &got, "want", &want); err != nil {
		return nil, err
	}
	eq, err := starlark.Equal(got, want)
	if err != nil {
		return nil, err
	}
	if !eq {
		return nil, fmt.Errorf("assert_eq: %s != %s", got.String(), want.String())
	}
	return starlark.None, nil
}

func assertTrue(_ *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var v starlark.Value
	if err := starlark.UnpackArgs(b.Name(), args, kwargs, "value", &v); err != nil {
		return nil, err
	}
	if !bool(v.Truth()) {
		return nil, fmt.Errorf("assert_true: %s is falsy", v.String())
	}
	return starlark.None, nil
}

// boundedBuffer captures sandbox output with deterministic truncation at the
// byte limit.
type boundedBuffer struct {
	mu        sync.Mutex
	buf       strings.Builder
	limit     int
	truncated bool
}

func (b *boundedBuffer) append(s string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	remaining := b.limit - b.buf.Len()
	if remaining <= 0 {
		b.truncated = true
		return
	}
	if len(s) > remaining {
		s = s[:remaining]
		b.truncated = true
	}
	b.buf.WriteString(s)
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	b.append(string(p))
	return len(p), nil
}

func (b *boundedBuffer) contents() (string, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String(), b.truncated
}
