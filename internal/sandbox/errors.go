package sandbox

import (
	"errors"
	"fmt"
)

// Sentinel errors for typed error checking.
var (
	ErrCompile        = errors.New("compilation failed")
	ErrTimeLimit      = errors.New("time limit exceeded")
	ErrRuntime        = errors.New("runtime error")
	ErrOutputLimit    = errors.New("output limit exceeded")
	ErrInvalidRequest = errors.New("invalid execution request")
	ErrClosed         = errors.New("engine closed")
)

// ExecutionError wraps errors with execution context.
type ExecutionError struct {
	ExecID string
	Op     string // The operation that failed
	Err    error
	// Detail holds compiler diagnostics or program stderr, when any.
	Detail string
}

func (e *ExecutionError) Error() string {
	if e.ExecID != "" {
		return fmt.Sprintf("execution %s: %s: %s", e.ExecID, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// IsCompileError returns true if the program failed to build.
func IsCompileError(err error) bool {
	return errors.Is(err, ErrCompile)
}

// IsTimeLimit returns true if the program was killed at the run timeout.
func IsTimeLimit(err error) bool {
	return errors.Is(err, ErrTimeLimit)
}

// IsRuntimeError returns true if the program exited abnormally.
func IsRuntimeError(err error) bool {
	return errors.Is(err, ErrRuntime)
}

// IsOutputLimit returns true if the program was killed for writing too much.
func IsOutputLimit(err error) bool {
	return errors.Is(err, ErrOutputLimit)
}

// Detail returns the diagnostics attached to err, if it is an ExecutionError.
func Detail(err error) string {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Detail
	}
	return ""
}
