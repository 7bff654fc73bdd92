package toolchain

import (
	"fmt"
	"slices"
	"strings"
)

const (
	DefaultCompiler       = "g++"
	DefaultMaxSourceBytes = 256 << 10
)

// DefaultFlags builds C++17 with optimisations and the usual warnings.
var DefaultFlags = []string{"-std=c++17", "-O2", "-Wall", "-Wextra"}

// CPP builds C++ programs with a GCC-compatible compiler driver.
type CPP struct {
	Compiler       string
	Flags          []string
	MaxSourceBytes int
}

// NewCPP returns a C++ toolchain. Empty arguments select the defaults.
func NewCPP(compiler string, flags []string) *CPP {
	if compiler == "" {
		compiler = DefaultCompiler
	}
	if len(flags) == 0 {
		flags = DefaultFlags
	}
	return &CPP{
		Compiler:       compiler,
		Flags:          slices.Clone(flags),
		MaxSourceBytes: DefaultMaxSourceBytes,
	}
}

func (c *CPP) Name() string { return "cpp" }

func (c *CPP) SourceExtension() string { return ".cpp" }

func (c *CPP) CompileCommand(src, exe string) []string {
	args := make([]string, 0, len(c.Flags)+4)
	args = append(args, c.Compiler)
	args = append(args, c.Flags...)
	return append(args, "-o", exe, src)
}

func (c *CPP) RunCommand(exe string) []string {
	return []string{exe}
}

func (c *CPP) Validate(source string) error {
	if strings.TrimSpace(source) == "" {
		return fmt.Errorf("empty source")
	}
	limit := c.MaxSourceBytes
	if limit <= 0 {
		limit = DefaultMaxSourceBytes
	}
	if len(source) > limit {
		return fmt.Errorf("source too large: %d bytes (max %d)", len(source), limit)
	}
	if strings.IndexByte(source, 0) >= 0 {
		return fmt.Errorf("source contains NUL bytes")
	}
	return nil
}
