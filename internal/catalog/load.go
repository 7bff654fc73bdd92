package catalog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/pelletier/go-toml/v2"
)

// fileTest is one [[questions.tests]] entry.
type fileTest struct {
	Array    []int   `toml:"array"`
	Matrix   [][]int `toml:"matrix"`
	Second   []int   `toml:"second"`
	Expected string  `toml:"expected"`
	Points   int     `toml:"points"`
}

// fileQuestion maps to [[questions]] entries.
type fileQuestion struct {
	ID         int        `toml:"id"`
	Title      string     `toml:"title"`
	Function   string     `toml:"function"`
	Shape      string     `toml:"shape"`
	Returns    string     `toml:"returns"`
	Format     string     `toml:"format"`
	SortResult bool       `toml:"sort_result"`
	Includes   []string   `toml:"includes"`
	Profile    string     `toml:"profile"`
	Tests      []fileTest `toml:"tests"`
}

type fileRoot struct {
	Questions []fileQuestion `toml:"questions"`
}

// LoadFile reads a TOML question catalog.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Clean(path)) // #nosec G304 -- path comes from config
	if err != nil {
		return nil, fmt.Errorf("reading catalog file: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

// Parse decodes a TOML catalog document and validates every question.
func Parse(data []byte) (*Catalog, error) {
	var root fileRoot
	if err := toml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("parsing catalog TOML: %w", err)
	}

	questions := make([]*Question, 0, len(root.Questions))
	for _, fq := range root.Questions {
		q := &Question{
			ID:         fq.ID,
			Title:      fq.Title,
			Function:   fq.Function,
			Shape:      InputShape(fq.Shape),
			Returns:    ReturnMode(fq.Returns),
			Format:     OutputFormat(fq.Format),
			SortResult: fq.SortResult,
			Includes:   fq.Includes,
			Profile:    Profile(fq.Profile),
		}
		if len(q.Includes) == 0 {
			q.Includes = examIncludes
		}
		if q.Format == "" && q.Returns == ReturnsInt {
			q.Format = FormatScalar
		}
		for _, ft := range fq.Tests {
			in := Input{Array: ft.Array, Matrix: ft.Matrix, Second: ft.Second}
			if q.Shape == ShapeArrayPair {
				in = pair(ft.Array, ft.Second)
			}
			q.Tests = append(q.Tests, TestCase{
				Input:    in,
				Expected: ft.Expected,
				Points:   ft.Points,
			})
		}
		questions = append(questions, q)
	}
	return New(questions...)
}
