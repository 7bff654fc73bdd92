package sandbox

import (
	"fmt"
	"time"
)

type Limits struct {
	CompileTimeout     time.Duration `json:"compile_timeout" yaml:"compile_timeout"`
	RunTimeout         time.Duration `json:"run_timeout" yaml:"run_timeout"`
	CompileOutputBytes int           `json:"compile_output_bytes" yaml:"compile_output_bytes"`
	RunOutputBytes     int           `json:"run_output_bytes" yaml:"run_output_bytes"`
	StderrBytes        int           `json:"stderr_bytes" yaml:"stderr_bytes"`
}

func DefaultLimits() Limits {
	return Limits{
		CompileTimeout:     10 * time.Second,
		RunTimeout:         5 * time.Second,
		CompileOutputBytes: 512 << 10, // 512KB of diagnostics
		RunOutputBytes:     1 << 20,   // 1MB stdout
		StderrBytes:        256 << 10,
	}
}

func (l Limits) Validate() error {
	if l.CompileTimeout < time.Second || l.CompileTimeout > time.Minute {
		return fmt.Errorf("%w: compile_timeout must be 1s-1m, got %s", ErrInvalidRequest, l.CompileTimeout)
	}
	if l.RunTimeout < 100*time.Millisecond || l.RunTimeout > time.Minute {
		return fmt.Errorf("%w: run_timeout must be 100ms-1m, got %s", ErrInvalidRequest, l.RunTimeout)
	}
	if l.CompileOutputBytes < 1024 || l.CompileOutputBytes > 16<<20 {
		return fmt.Errorf("%w: compile_output_bytes must be 1KB-16MB, got %d", ErrInvalidRequest, l.CompileOutputBytes)
	}
	if l.RunOutputBytes < 1024 || l.RunOutputBytes > 64<<20 {
		return fmt.Errorf("%w: run_output_bytes must be 1KB-64MB, got %d", ErrInvalidRequest, l.RunOutputBytes)
	}
	if l.StderrBytes < 1024 || l.StderrBytes > 16<<20 {
		return fmt.Errorf("%w: stderr_bytes must be 1KB-16MB, got %d", ErrInvalidRequest, l.StderrBytes)
	}
	return nil
}
