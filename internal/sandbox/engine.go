package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"exam-grader/internal/monitor"
	"exam-grader/internal/toolchain"
)

// ArtifactPrefix starts the name of every file the engine writes.
const ArtifactPrefix = "grade_"

// runEnv is the whole environment a submitted program sees.
var runEnv = []string{"PATH=/usr/bin:/bin", "LANG=C.UTF-8"}

// Request is one program to build and run.
type Request struct {
	ExecID     string // unique per attempt; generated when empty
	QuestionID int
	Source     string
}

// Outcome is what one execution produced.
type Outcome struct {
	ID             string        `json:"id"`
	Stdout         string        `json:"stdout"`
	Stderr         string        `json:"stderr"`
	ExitCode       int           `json:"exit_code"`
	TimedOut       bool          `json:"timed_out"`
	OutputExceeded bool          `json:"output_exceeded"`
	WallTime       time.Duration `json:"wall_time"`
	CompileTime    time.Duration `json:"compile_time"`
}

type Options struct {
	Toolchain toolchain.Toolchain
	Limits    Limits
	WorkDir   string

	// SweepInterval and SweepAge control the orphan artifact sweep. A zero
	// interval disables the background loop.
	SweepInterval time.Duration
	SweepAge      time.Duration

	Metrics *monitor.Metrics
}

// Engine compiles and runs untrusted programs as local processes under
// wall-clock and output limits. Each execution gets its own artifact names,
// so concurrent executions never share files.
type Engine struct {
	tc      toolchain.Toolchain
	limits  Limits
	workDir string
	sweep   time.Duration
	metrics *monitor.Metrics

	active        atomic.Int64
	wg            sync.WaitGroup
	mu            sync.Mutex
	closed        bool
	cancelCleanup context.CancelFunc
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.Toolchain == nil {
		opts.Toolchain = toolchain.NewCPP("", nil)
	}
	if opts.Limits == (Limits{}) {
		opts.Limits = DefaultLimits()
	}
	if err := opts.Limits.Validate(); err != nil {
		return nil, err
	}
	if opts.WorkDir == "" {
		opts.WorkDir = filepath.Join(os.TempDir(), "exam-grader")
	}
	if opts.SweepAge <= 0 {
		opts.SweepAge = 10 * time.Minute
	}
	if err := os.MkdirAll(opts.WorkDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating work dir: %w", err)
	}

	e := &Engine{
		tc:      opts.Toolchain,
		limits:  opts.Limits,
		workDir: opts.WorkDir,
		sweep:   opts.SweepAge,
		metrics: opts.Metrics,
	}

	ctx, cancel := context.WithCancel(context.Background())
	e.cancelCleanup = cancel
	if opts.SweepInterval > 0 {
		go e.orphanCleanupLoop(ctx, opts.SweepInterval)
	} else {
		e.SweepOrphans(opts.SweepAge)
	}

	log.Info().
		Str("toolchain", e.tc.Name()).
		Str("work_dir", e.workDir).
		Dur("compile_timeout", e.limits.CompileTimeout).
		Dur("run_timeout", e.limits.RunTimeout).
		Msg("execution engine ready")

	return e, nil
}

// Execute builds and runs one program. On success the error is nil and the
// outcome carries stdout. Compile failures, time limits, output overflow and
// abnormal exits return an ExecutionError wrapping the matching sentinel,
// together with whatever outcome was observed. Both artifacts are removed
// before Execute returns.
func (e *Engine) Execute(ctx context.Context, req Request) (*Outcome, error) {
	execID := req.ExecID
	if execID == "" {
		execID = uuid.New().String()
	}

	logger := log.With().
		Str("exec_id", execID).
		Int("question_id", req.QuestionID).
		Logger()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil, &ExecutionError{ExecID: execID, Op: "execute", Err: ErrClosed}
	}
	e.wg.Add(1)
	e.mu.Unlock()
	defer e.wg.Done()

	e.active.Add(1)
	defer e.active.Add(-1)

	if err := e.tc.Validate(req.Source); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "validate", Err: fmt.Errorf("%w: %s", ErrInvalidRequest, err)}
	}

	src, exe := e.artifactPaths(execID, req.QuestionID)
	defer removeArtifacts(logger, src, exe)

	if err := os.WriteFile(src, []byte(req.Source), 0o600); err != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "write_source", Err: err}
	}

	out := &Outcome{ID: execID}

	compile := e.runProcess(ctx, processSpec{
		argv:      e.tc.CompileCommand(src, exe),
		env:       os.Environ(),
		timeout:   e.limits.CompileTimeout,
		stdoutCap: e.limits.CompileOutputBytes,
		stderrCap: e.limits.CompileOutputBytes,
	})
	out.CompileTime = compile.duration
	e.metrics.RecordStage("compile", compile.duration.Seconds())

	if compile.startErr != nil {
		return nil, &ExecutionError{ExecID: execID, Op: "compile", Err: compile.startErr}
	}
	if compile.canceled {
		return nil, &ExecutionError{ExecID: execID, Op: "compile", Err: ctx.Err()}
	}
	if compile.timedOut || compile.exitErr != nil {
		diag := compile.stderr
		if diag == "" {
			diag = compile.stdout
		}
		switch {
		case compile.timedOut:
			diag = fmt.Sprintf("compilation timed out after %s\n%s", e.limits.CompileTimeout, diag)
		case diag == "":
			diag = compile.exitErr.Error()
		}
		out.Stderr = diag
		out.ExitCode = compile.exitCode
		logger.Info().Int("exit_code", compile.exitCode).Msg("compilation failed")
		return out, &ExecutionError{ExecID: execID, Op: "compile", Err: ErrCompile, Detail: diag}
	}

	run := e.runProcess(ctx, processSpec{
		argv:      e.tc.RunCommand(exe),
		env:       runEnv,
		dir:       e.workDir,
		timeout:   e.limits.RunTimeout,
		stdoutCap: e.limits.RunOutputBytes,
		stderrCap: e.limits.StderrBytes,
	})
	e.metrics.RecordStage("run", run.duration.Seconds())
	e.metrics.ObserveSizes(len(req.Source), len(run.stdout))

	out.Stdout = run.stdout
	out.Stderr = run.stderr
	out.ExitCode = run.exitCode
	out.WallTime = run.duration
	out.TimedOut = run.timedOut
	out.OutputExceeded = run.overflow

	logger.Info().
		Int("exit_code", run.exitCode).
		Dur("compile", out.CompileTime).
		Dur("run", out.WallTime).
		Bool("timed_out", run.timedOut).
		Bool("output_exceeded", run.overflow).
		Msg("execution completed")

	switch {
	case run.startErr != nil:
		return nil, &ExecutionError{ExecID: execID, Op: "run", Err: run.startErr}
	case run.overflow:
		return out, &ExecutionError{ExecID: execID, Op: "run", Err: ErrOutputLimit,
			Detail: fmt.Sprintf("program wrote more than %d bytes", e.limits.RunOutputBytes)}
	case run.timedOut:
		return out, &ExecutionError{ExecID: execID, Op: "run", Err: ErrTimeLimit,
			Detail: fmt.Sprintf("program exceeded %s", e.limits.RunTimeout)}
	case run.canceled:
		return nil, &ExecutionError{ExecID: execID, Op: "run", Err: ctx.Err()}
	case run.exitErr != nil:
		detail := run.stderr
		if detail == "" {
			detail = run.exitErr.Error()
		}
		return out, &ExecutionError{ExecID: execID, Op: "run", Err: ErrRuntime, Detail: detail}
	}
	return out, nil
}

func (e *Engine) artifactPaths(execID string, questionID int) (src, exe string) {
	base := fmt.Sprintf("%s%s_q%d", ArtifactPrefix, execID, questionID)
	return filepath.Join(e.workDir, base+e.tc.SourceExtension()), filepath.Join(e.workDir, base)
}

func removeArtifacts(logger zerolog.Logger, paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
			logger.Warn().Err(err).Str("path", p).Msg("failed to remove artifact")
		}
	}
}

type processSpec struct {
	argv      []string
	env       []string
	dir       string
	timeout   time.Duration
	stdoutCap int
	stderrCap int
}

type processResult struct {
	stdout   string
	stderr   string
	exitCode int
	duration time.Duration
	timedOut bool
	overflow bool
	canceled bool  // the caller's context ended first
	exitErr  error // non-nil for a non-zero exit or a kill
	startErr error
}

// runProcess runs argv in its own process group. The group is killed with
// SIGKILL when the timeout fires, stdout exceeds its cap, or ctx ends.
func (e *Engine) runProcess(ctx context.Context, spec processSpec) processResult {
	procCtx, cancel := context.WithTimeout(ctx, spec.timeout)
	defer cancel()

	cmd := exec.CommandContext(procCtx, spec.argv[0], spec.argv[1:]...) // #nosec G204 -- argv comes from the toolchain, not the request
	cmd.Env = spec.env
	cmd.Dir = spec.dir
	cmd.WaitDelay = time.Second
	setProcessGroup(cmd)

	stdout := &cappedBuffer{limit: spec.stdoutCap, onOverflow: cancel}
	stderr := &cappedBuffer{limit: spec.stderrCap}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	start := time.Now()
	err := cmd.Run()
	res := processResult{
		stdout:   stdout.String(),
		stderr:   stderr.String(),
		duration: time.Since(start),
		overflow: stdout.Overflowed(),
	}

	if err == nil {
		return res
	}

	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) && cmd.ProcessState == nil {
		res.startErr = err
		return res
	}

	res.exitErr = err
	res.exitCode = -1
	if exitErr != nil {
		res.exitCode = exitErr.ExitCode()
	}
	switch {
	case res.overflow:
	case ctx.Err() != nil:
		res.canceled = true
	case errors.Is(procCtx.Err(), context.DeadlineExceeded):
		res.timedOut = true
	}
	return res
}

// ActiveCount returns the number of executions in progress.
func (e *Engine) ActiveCount() int64 {
	return e.active.Load()
}

func (e *Engine) Limits() Limits {
	return e.limits
}

func (e *Engine) WorkDir() string {
	return e.workDir
}

// Close stops the orphan sweep and waits up to 30s for executions to drain.
func (e *Engine) Close() error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	if e.cancelCleanup != nil {
		e.cancelCleanup()
	}

	done := make(chan struct{})
	go func() {
		e.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all executions drained")
	case <-time.After(30 * time.Second):
		log.Warn().Int64("active", e.active.Load()).Msg("timed out waiting for executions to drain")
	}
	return nil
}

// cappedBuffer keeps at most limit bytes. Writes past the limit are dropped
// and trigger onOverflow once.
type cappedBuffer struct {
	mu         sync.Mutex
	buf        bytes.Buffer
	limit      int
	overflowed bool
	onOverflow func()
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if room := c.limit - c.buf.Len(); room < len(p) {
		if room > 0 {
			c.buf.Write(p[:room])
		}
		if !c.overflowed {
			c.overflowed = true
			if c.onOverflow != nil {
				c.onOverflow()
			}
		}
		return len(p), nil
	}
	return c.buf.Write(p)
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}

func (c *cappedBuffer) Overflowed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.overflowed
}
