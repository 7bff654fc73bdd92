package toolchain

// Toolchain describes how to build and run programs of one language.
type Toolchain interface {
	// Name returns the toolchain identifier (e.g., "cpp").
	Name() string

	// SourceExtension returns the extension for source files (e.g., ".cpp").
	SourceExtension() string

	// CompileCommand returns the command and args that compile src into exe.
	CompileCommand(src, exe string) []string

	// RunCommand returns the command and args that run a built executable.
	RunCommand(exe string) []string

	// Validate rejects sources that should never reach the compiler.
	Validate(source string) error
}
