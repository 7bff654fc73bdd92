package monitor

import (
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
)

// SourceDetector flags constructs in submitted C++ that an exam answer has no
// business using. Detections are logged and counted; they never block grading.
type SourceDetector struct {
	patterns []DetectionPattern
	metrics  *Metrics
}

// DetectionPattern defines a suspicious pattern to match.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected constructs.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents a detected suspicious pattern.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
	Line     int    `json:"line,omitempty"`
}

// NewSourceDetector creates a detector with default patterns. m may be nil.
func NewSourceDetector(m *Metrics) *SourceDetector {
	return &SourceDetector{
		patterns: defaultPatterns(),
		metrics:  m,
	}
}

// AnalyzeSource checks submitted code for suspicious constructs before it is
// compiled.
func (d *SourceDetector) AnalyzeSource(jobID, code string) []Detection {
	var detections []Detection

	lines := strings.Split(code, "\n")
	for i, line := range lines {
		for _, p := range d.patterns {
			if !p.Regex.MatchString(line) {
				continue
			}
			detections = append(detections, Detection{
				Pattern:  p.Name,
				Severity: p.Severity.String(),
				Detail:   p.Description,
				Line:     i + 1,
			})
			d.metrics.RecordSuspicious(p.Name)

			log.Warn().
				Str("job_id", jobID).
				Str("pattern", p.Name).
				Str("severity", p.Severity.String()).
				Int("line", i+1).
				Msg("suspicious construct in submission")
		}
	}

	return detections
}

// AnalyzeOutput checks program output for host information that a sandboxed
// answer should never be able to print.
func (d *SourceDetector) AnalyzeOutput(output string) []Detection {
	var detections []Detection

	outputPatterns := []struct {
		name   string
		substr string
		sev    Severity
	}{
		{"passwd_leak", "root:x:0:0", SeverityCritical},
		{"kernel_leak", "Linux version", SeverityHigh},
		{"environment_leak", "PATH=/", SeverityMedium},
	}

	for _, p := range outputPatterns {
		if strings.Contains(output, p.substr) {
			detections = append(detections, Detection{
				Pattern:  p.name,
				Severity: p.sev.String(),
				Detail:   "suspicious content in output: " + p.name,
			})
			d.metrics.RecordSuspicious(p.name)
		}
	}

	return detections
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "process_spawn",
			Description: "Spawning processes or shell commands",
			Regex:       regexp.MustCompile(`\b(system|popen|fork|vfork|execl|execlp|execle|execv|execvp|execve|posix_spawn)\s*\(`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "network_access",
			Description: "Opening network sockets",
			Regex:       regexp.MustCompile(`\b(socket|connect|bind|listen)\s*\(|<sys/socket\.h>|<netinet/|<arpa/inet\.h>`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "raw_syscall",
			Description: "Issuing raw system calls",
			Regex:       regexp.MustCompile(`\bsyscall\s*\(|<sys/syscall\.h>|<unistd\.h>`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "inline_asm",
			Description: "Inline assembly",
			Regex:       regexp.MustCompile(`\b(asm|__asm__|__asm)\b\s*(volatile\s*)?\(`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "ptrace_attempt",
			Description: "Attempting to use ptrace for debugging/injection",
			Regex:       regexp.MustCompile(`(?i)(ptrace|process_vm_readv|process_vm_writev)`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "file_access",
			Description: "Reading or writing files",
			Regex:       regexp.MustCompile(`\b(ifstream|ofstream|fstream|fopen|freopen|opendir)\b|<fstream>|<filesystem>`),
			Severity:    SeverityMedium,
		},
		{
			Name:        "host_paths",
			Description: "Referencing sensitive host paths",
			Regex:       regexp.MustCompile(`/proc/self|/etc/(passwd|shadow)|/sys/fs/cgroup`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "resource_control",
			Description: "Changing limits or signal handling",
			Regex:       regexp.MustCompile(`\b(setrlimit|prlimit|signal|sigaction|alarm)\s*\(`),
			Severity:    SeverityMedium,
		},
	}
}
