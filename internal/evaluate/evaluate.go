package evaluate

import (
	"strings"

	"exam-grader/internal/catalog"
)

// NoOutput is reported as the actual value of a test whose line is missing.
const NoOutput = "No output"

type TestResult struct {
	Index    int    `json:"index"`
	Input    string `json:"input,omitempty"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
	Passed   bool   `json:"passed"`
	Points   int    `json:"points"`
}

type Report struct {
	Score    int          `json:"score"`
	MaxScore int          `json:"max_score"`
	Passed   int          `json:"passed"`
	Tests    []TestResult `json:"tests"`
}

// Evaluate compares stdout line by line against the expected outputs. Line i is
// test i; both sides are trimmed and compared for exact equality. A test only
// has no output when stdout has fewer lines than there are tests, so a blank
// line is a real (empty) answer. Index is 1-based to match how tests are
// numbered for students.
func Evaluate(stdout string, tests []catalog.TestCase, shape catalog.InputShape) Report {
	lines := splitLines(stdout)
	report := Report{Tests: make([]TestResult, 0, len(tests))}

	for i, tc := range tests {
		expected := strings.TrimSpace(tc.Expected)
		actual := NoOutput
		if i < len(lines) {
			actual = strings.TrimSpace(lines[i])
		}
		passed := actual == expected
		points := 0
		if passed {
			points = tc.Points
			report.Passed++
		}
		report.Score += points
		report.MaxScore += tc.Points
		report.Tests = append(report.Tests, TestResult{
			Index:    i + 1,
			Input:    tc.Input.Render(shape),
			Expected: expected,
			Actual:   actual,
			Passed:   passed,
			Points:   points,
		})
	}
	return report
}

// splitLines splits program output into lines, dropping only the final
// newline. Empty output has no lines at all.
func splitLines(stdout string) []string {
	if stdout == "" {
		return nil
	}
	return strings.Split(strings.TrimSuffix(stdout, "\n"), "\n")
}

// Forfeit zeroes a report while keeping the observed output, for programs that
// ran without the required function.
func Forfeit(r Report) Report {
	r.Score, r.Passed = 0, 0
	tests := make([]TestResult, len(r.Tests))
	for i, tr := range r.Tests {
		tr.Passed, tr.Points = false, 0
		tests[i] = tr
	}
	r.Tests = tests
	return r
}

// Failed builds the report for a job whose program never produced usable
// output: every test fails and the score is zero.
func Failed(tests []catalog.TestCase, shape catalog.InputShape) Report {
	return Evaluate("", tests, shape)
}
