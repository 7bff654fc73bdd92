package catalog

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

var (
	ErrUnknownQuestion = errors.New("no test cases available for question")
	ErrInvalidQuestion = errors.New("invalid question definition")
)

// Mode selects how much of a question's test list a job is graded against.
type Mode string

const (
	ModeFull    Mode = "full"
	ModeLimited Mode = "limited"
)

// ParseMode accepts "full", "limited" or the empty string (full).
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeFull:
		return ModeFull, nil
	case ModeLimited:
		return ModeLimited, nil
	default:
		return "", fmt.Errorf("unknown test mode %q: must be full or limited", s)
	}
}

// InputShape is the C++ type handed to the student function.
type InputShape string

const (
	ShapeArray     InputShape = "array"      // vector<int>
	ShapeMatrix    InputShape = "matrix"     // vector<vector<int>>
	ShapeArrayPair InputShape = "array_pair" // two vector<int>
)

// ReturnMode describes what the student function hands back.
type ReturnMode string

const (
	ReturnsInt   ReturnMode = "int"
	ReturnsArray ReturnMode = "array"
	MutatesInput ReturnMode = "in_place"
)

// OutputFormat is how one result is serialized onto its output line.
type OutputFormat string

const (
	FormatScalar    OutputFormat = "scalar"    // 3
	FormatSpaced    OutputFormat = "spaced"    // 4 5 1 0
	FormatBracketed OutputFormat = "bracketed" // [1,2] or [[1,3],[2,4]]
)

// Profile names the complexity heuristic the analyzer applies to a question.
type Profile string

const (
	ProfileLinearScan       Profile = "linear_scan"
	ProfileMatrixRows       Profile = "matrix_rows"
	ProfileInPlacePartition Profile = "in_place_partition"
	ProfileMatrixTranspose  Profile = "matrix_transpose"
	ProfileSortedMerge      Profile = "sorted_merge"
	ProfileSetIntersection  Profile = "set_intersection"
)

// Input is the structured argument of one test. Which fields are set depends on
// the question's InputShape.
type Input struct {
	Array  []int   `json:"array,omitempty"`
	Matrix [][]int `json:"matrix,omitempty"`
	Second []int   `json:"second,omitempty"`
}

// Render formats the input the way it is shown to students, e.g. [7,4,8,2,9].
func (in Input) Render(shape InputShape) string {
	switch shape {
	case ShapeMatrix:
		return renderMatrix(in.Matrix)
	case ShapeArrayPair:
		return "[" + renderArray(in.Array) + "," + renderArray(in.Second) + "]"
	default:
		return renderArray(in.Array)
	}
}

func renderArray(a []int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range a {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(v))
	}
	b.WriteByte(']')
	return b.String()
}

func renderMatrix(m [][]int) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, row := range m {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(renderArray(row))
	}
	b.WriteByte(']')
	return b.String()
}

type TestCase struct {
	Input    Input  `json:"input"`
	Expected string `json:"expected"`
	Points   int    `json:"points"`
}

// Question is one gradable exercise: the function the student must write, how
// the harness calls it, and the ordered tests it is scored against.
type Question struct {
	ID         int          `json:"id"`
	Title      string       `json:"title"`
	Function   string       `json:"function"`
	Shape      InputShape   `json:"shape"`
	Returns    ReturnMode   `json:"returns"`
	Format     OutputFormat `json:"format"`
	SortResult bool         `json:"sort_result,omitempty"`
	Includes   []string     `json:"includes,omitempty"`
	Profile    Profile      `json:"profile"`
	Tests      []TestCase   `json:"tests"`
}

// Validate checks that the harness can be generated for the question and that
// every test carries an input of the declared shape.
func (q *Question) Validate() error {
	if q.ID < 1 {
		return fmt.Errorf("%w: id must be >= 1, got %d", ErrInvalidQuestion, q.ID)
	}
	if !isIdentifier(q.Function) {
		return fmt.Errorf("%w: question %d: function %q is not a C++ identifier", ErrInvalidQuestion, q.ID, q.Function)
	}
	if err := validateSignature(q.Shape, q.Returns, q.Format); err != nil {
		return fmt.Errorf("%w: question %d: %s", ErrInvalidQuestion, q.ID, err)
	}
	if q.SortResult && q.Returns == ReturnsInt {
		return fmt.Errorf("%w: question %d: sort_result requires an array result", ErrInvalidQuestion, q.ID)
	}
	switch q.Profile {
	case ProfileLinearScan, ProfileMatrixRows, ProfileInPlacePartition,
		ProfileMatrixTranspose, ProfileSortedMerge, ProfileSetIntersection:
	default:
		return fmt.Errorf("%w: question %d: unknown profile %q", ErrInvalidQuestion, q.ID, q.Profile)
	}
	for _, inc := range q.Includes {
		if !isHeaderName(inc) {
			return fmt.Errorf("%w: question %d: bad include %q", ErrInvalidQuestion, q.ID, inc)
		}
	}
	if len(q.Tests) == 0 {
		return fmt.Errorf("%w: question %d has no tests", ErrInvalidQuestion, q.ID)
	}
	for i, tc := range q.Tests {
		if tc.Points < 1 {
			return fmt.Errorf("%w: question %d test %d: points must be positive", ErrInvalidQuestion, q.ID, i+1)
		}
		if strings.ContainsAny(tc.Expected, "\n\r") {
			return fmt.Errorf("%w: question %d test %d: expected output must be one line", ErrInvalidQuestion, q.ID, i+1)
		}
		if err := checkShape(q.Shape, tc.Input); err != nil {
			return fmt.Errorf("%w: question %d test %d: %s", ErrInvalidQuestion, q.ID, i+1, err)
		}
	}
	return nil
}

func validateSignature(shape InputShape, ret ReturnMode, format OutputFormat) error {
	switch shape {
	case ShapeArray, ShapeMatrix, ShapeArrayPair:
	default:
		return fmt.Errorf("unknown input shape %q", shape)
	}
	switch ret {
	case ReturnsInt:
		if format != FormatScalar {
			return fmt.Errorf("int results must use the scalar format")
		}
	case ReturnsArray:
		if format == FormatScalar {
			return fmt.Errorf("array results need the spaced or bracketed format")
		}
	case MutatesInput:
		if shape == ShapeArrayPair {
			return fmt.Errorf("in-place questions take a single argument")
		}
		if shape == ShapeMatrix && format != FormatBracketed {
			return fmt.Errorf("in-place matrix results must use the bracketed format")
		}
		if format == FormatScalar {
			return fmt.Errorf("in-place results need the spaced or bracketed format")
		}
	default:
		return fmt.Errorf("unknown return mode %q", ret)
	}
	return nil
}

func checkShape(shape InputShape, in Input) error {
	switch shape {
	case ShapeArray:
		if in.Matrix != nil || in.Second != nil {
			return fmt.Errorf("array input must only set array")
		}
	case ShapeMatrix:
		if in.Array != nil || in.Second != nil {
			return fmt.Errorf("matrix input must only set matrix")
		}
		if len(in.Matrix) == 0 {
			return fmt.Errorf("matrix input is empty")
		}
	case ShapeArrayPair:
		if in.Matrix != nil {
			return fmt.Errorf("array pair input must not set matrix")
		}
	}
	return nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, c := range s {
		switch {
		case c == '_', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z':
		case c >= '0' && c <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

func isHeaderName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c == '_' || c == '.' || c == '/' || c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9') {
			return false
		}
	}
	return true
}

// Catalog is the immutable set of questions known to the grader. It is safe for
// concurrent use; callers must treat returned questions as read-only.
type Catalog struct {
	questions map[int]*Question
	ids       []int
}

// New validates the questions and builds a catalog. Duplicate IDs are rejected.
func New(questions ...*Question) (*Catalog, error) {
	c := &Catalog{questions: make(map[int]*Question, len(questions))}
	for _, q := range questions {
		if q == nil {
			continue
		}
		if err := q.Validate(); err != nil {
			return nil, err
		}
		if _, dup := c.questions[q.ID]; dup {
			return nil, fmt.Errorf("%w: duplicate question id %d", ErrInvalidQuestion, q.ID)
		}
		c.questions[q.ID] = q
		c.ids = append(c.ids, q.ID)
	}
	if len(c.ids) == 0 {
		return nil, fmt.Errorf("%w: catalog has no questions", ErrInvalidQuestion)
	}
	slices.Sort(c.ids)
	return c, nil
}

func (c *Catalog) Get(id int) (*Question, bool) {
	q, ok := c.questions[id]
	return q, ok
}

// IDs returns the question IDs in ascending order.
func (c *Catalog) IDs() []int {
	return slices.Clone(c.ids)
}

// Tests returns the ordered tests a job in the given mode is scored against.
// Limited mode keeps the first limited tests.
func (c *Catalog) Tests(id int, mode Mode, limited int) ([]TestCase, error) {
	q, ok := c.questions[id]
	if !ok {
		return nil, fmt.Errorf("%w %d", ErrUnknownQuestion, id)
	}
	tests := q.Tests
	if mode == ModeLimited && limited > 0 && limited < len(tests) {
		tests = tests[:limited]
	}
	return slices.Clone(tests), nil
}

// MaxScore is the sum of points over the tests selected by mode.
func (c *Catalog) MaxScore(id int, mode Mode, limited int) int {
	tests, err := c.Tests(id, mode, limited)
	if err != nil {
		return 0
	}
	total := 0
	for _, tc := range tests {
		total += tc.Points
	}
	return total
}
