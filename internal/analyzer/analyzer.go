// Package analyzer estimates the asymptotic complexity of a submission from
// its source text. The estimate is a heuristic used for bonus scoring only;
// unusual but valid solutions can be misjudged.
package analyzer

import (
	"regexp"

	"exam-grader/internal/catalog"
	"exam-grader/internal/synth"
)

var (
	loopToken     = regexp.MustCompile(`for\s*\(|while\s*\(|\{|\}`)
	hashContainer = regexp.MustCompile(`unordered_map|unordered_set|map|set`)
	sortCall      = regexp.MustCompile(`sort\s*\(`)
	linearScan    = regexp.MustCompile(`for\s*\([^)]*\)\s*\{[^}]*for\s*\([^)]*\)`)
)

// Signals are the raw observations the per-question rules are built from.
type Signals struct {
	NestedLoops   int  `json:"nested_loops"`
	HashContainer bool `json:"hash_container"`
	Sorting       bool `json:"sorting"`
	LinearScan    bool `json:"linear_scan"`
}

type Analysis struct {
	Complexity        string  `json:"complexity"`
	OptimizationScore int     `json:"optimization_score"`
	Signals           Signals `json:"signals"`
}

// Analyze strips comments from source and rates it against the rules of the
// given profile.
func Analyze(source string, profile catalog.Profile) Analysis {
	sig := Detect(source)
	complexity, score := rate(profile, sig)
	return Analysis{
		Complexity:        complexity,
		OptimizationScore: score,
		Signals:           sig,
	}
}

// Detect computes the signals of source after removing comments.
func Detect(source string) Signals {
	clean := synth.StripComments(source)
	return Signals{
		NestedLoops:   CountNestedLoops(clean),
		HashContainer: hashContainer.MatchString(clean),
		Sorting:       sortCall.MatchString(clean),
		LinearScan:    linearScan.MatchString(clean),
	}
}

// CountNestedLoops returns the deepest loop nesting seen in code. Nesting is
// only reset when the brace depth returns to zero, so sequential loops inside
// one function body count as nested.
func CountNestedLoops(code string) int {
	maxNesting, current, depth := 0, 0, 0
	for _, tok := range loopToken.FindAllString(code, -1) {
		switch tok {
		case "{":
			depth++
		case "}":
			depth--
			if depth == 0 {
				current = 0
			}
		default:
			current++
			maxNesting = max(maxNesting, current)
		}
	}
	return maxNesting
}

func rate(profile catalog.Profile, s Signals) (string, int) {
	quadratic := s.NestedLoops >= 2 || s.LinearScan

	switch profile {
	case catalog.ProfileLinearScan:
		switch {
		case quadratic:
			return "O(n²)", 40
		case s.Sorting:
			return "O(n log n)", 60
		default:
			return "O(n)", 100
		}

	case catalog.ProfileMatrixRows:
		switch {
		case s.NestedLoops >= 3:
			return "O(n·m²)", 40
		case s.Sorting:
			return "O(n·m log m)", 60
		default:
			return "O(n·m)", 100
		}

	case catalog.ProfileInPlacePartition:
		switch {
		case quadratic:
			return "O(n²)", 30
		case s.Sorting:
			return "O(n log n)", 50
		default:
			return "O(n)", 100
		}

	case catalog.ProfileMatrixTranspose:
		if s.NestedLoops >= 2 {
			return "O(n²)", 100
		}
		return "O(n²)", 50

	case catalog.ProfileSortedMerge:
		switch {
		case quadratic:
			return "O(n²)", 30
		case s.Sorting:
			return "O(n log n)", 60
		default:
			return "O(n + m)", 100
		}

	case catalog.ProfileSetIntersection:
		switch {
		case quadratic:
			return "O(n²)", 20
		case s.Sorting:
			return "O(n log n)", 70
		case s.HashContainer:
			return "O(n + m)", 100
		default:
			return "O(n)", 50
		}
	}
	return "O(n)", 100
}
