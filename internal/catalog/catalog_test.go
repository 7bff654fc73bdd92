package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c := Default()

	require.Equal(t, []int{1, 2, 3, 4, 5, 6}, c.IDs())

	q, ok := c.Get(1)
	require.True(t, ok)
	require.Equal(t, "countGreaterThanPrior", q.Function)
	require.Equal(t, "3", q.Tests[0].Expected)
	require.Equal(t, 7, q.Tests[0].Points)

	wantMax := map[int]int{1: 33, 2: 33, 3: 34, 4: 25, 5: 25, 6: 25}
	for id, want := range wantMax {
		if got := c.MaxScore(id, ModeFull, 3); got != want {
			t.Errorf("MaxScore(%d, full) = %d, want %d", id, got, want)
		}
	}
}

func TestTests_LimitedMode(t *testing.T) {
	c := Default()

	full, err := c.Tests(1, ModeFull, 3)
	require.NoError(t, err)
	require.Len(t, full, 5)

	limited, err := c.Tests(1, ModeLimited, 3)
	require.NoError(t, err)
	require.Len(t, limited, 3)
	require.Equal(t, full[:3], limited)
	require.Equal(t, 20, c.MaxScore(1, ModeLimited, 3))

	// A limit at or above the test count keeps everything.
	all, err := c.Tests(1, ModeLimited, 10)
	require.NoError(t, err)
	require.Len(t, all, 5)
}

func TestTests_UnknownQuestion(t *testing.T) {
	c := Default()
	_, err := c.Tests(99, ModeFull, 3)
	if !errors.Is(err, ErrUnknownQuestion) {
		t.Fatalf("Tests(99) error = %v, want ErrUnknownQuestion", err)
	}
	if got := c.MaxScore(99, ModeFull, 3); got != 0 {
		t.Errorf("MaxScore(99) = %d, want 0", got)
	}
}

func TestTests_ReturnsCopy(t *testing.T) {
	c := Default()
	tests, err := c.Tests(1, ModeFull, 0)
	require.NoError(t, err)
	tests[0].Expected = "tampered"

	again, err := c.Tests(1, ModeFull, 0)
	require.NoError(t, err)
	require.Equal(t, "3", again[0].Expected)
}

func TestParseMode(t *testing.T) {
	tests := []struct {
		in      string
		want    Mode
		wantErr bool
	}{
		{"", ModeFull, false},
		{"full", ModeFull, false},
		{"LIMITED", ModeLimited, false},
		{" limited ", ModeLimited, false},
		{"partial", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseMode(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseMode(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseMode(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestInputRender(t *testing.T) {
	tests := []struct {
		name  string
		in    Input
		shape InputShape
		want  string
	}{
		{"array", arr(7, 4, 8), ShapeArray, "[7,4,8]"},
		{"empty array", Input{}, ShapeArray, "[]"},
		{"matrix", mat([]int{1, 2}, []int{3, 4}), ShapeMatrix, "[[1,2],[3,4]]"},
		{"pair", pair([]int{1}, nil), ShapeArrayPair, "[[1],[]]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.in.Render(tt.shape); got != tt.want {
				t.Errorf("Render() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestQuestionValidate(t *testing.T) {
	valid := func() *Question {
		return Builtin()[0]
	}

	tests := []struct {
		name    string
		modify  func(*Question)
		wantErr bool
	}{
		{"valid", func(q *Question) {}, false},
		{"zero id", func(q *Question) { q.ID = 0 }, true},
		{"bad function name", func(q *Question) { q.Function = "count greater" }, true},
		{"leading digit", func(q *Question) { q.Function = "1count" }, true},
		{"int with spaced format", func(q *Question) { q.Format = FormatSpaced }, true},
		{"unknown shape", func(q *Question) { q.Shape = "tree" }, true},
		{"unknown profile", func(q *Question) { q.Profile = "quantum" }, true},
		{"no tests", func(q *Question) { q.Tests = nil }, true},
		{"zero points", func(q *Question) { q.Tests[0].Points = 0 }, true},
		{"multiline expected", func(q *Question) { q.Tests[0].Expected = "1\n2" }, true},
		{"matrix on array question", func(q *Question) { q.Tests[0].Input.Matrix = [][]int{{1}} }, true},
		{"sort on int result", func(q *Question) { q.SortResult = true }, true},
		{"bad include", func(q *Question) { q.Includes = []string{"vector>\n#include <x"} }, true},
		{"in-place pair", func(q *Question) {
			q.Shape = ShapeArrayPair
			q.Returns = MutatesInput
			q.Format = FormatBracketed
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := valid()
			q.Tests = append([]TestCase(nil), q.Tests...)
			tt.modify(q)
			err := q.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidQuestion) {
				t.Errorf("Validate() error = %v, want ErrInvalidQuestion", err)
			}
		})
	}
}

func TestNew_DuplicateIDs(t *testing.T) {
	qs := Builtin()
	qs[1].ID = qs[0].ID
	_, err := New(qs...)
	require.ErrorIs(t, err, ErrInvalidQuestion)
}

const sampleCatalog = `
[[questions]]
id = 10
title = "Sum Pairs"
function = "pairSum"
shape = "array_pair"
returns = "array"
format = "bracketed"
profile = "sorted_merge"

  [[questions.tests]]
  array = [1, 2]
  second = [3, 4]
  expected = "[4,6]"
  points = 4

  [[questions.tests]]
  array = []
  second = []
  expected = "[]"
  points = 2

[[questions]]
id = 11
function = "maxRow"
shape = "matrix"
returns = "int"
profile = "matrix_rows"

  [[questions.tests]]
  matrix = [[1, 0], [1, 1]]
  expected = "2"
  points = 5
`

func TestParse(t *testing.T) {
	c, err := Parse([]byte(sampleCatalog))
	require.NoError(t, err)
	require.Equal(t, []int{10, 11}, c.IDs())

	q, ok := c.Get(10)
	require.True(t, ok)
	require.Equal(t, ShapeArrayPair, q.Shape)
	require.Len(t, q.Tests, 2)
	require.Equal(t, "[[1,2],[3,4]]", q.Tests[0].Input.Render(q.Shape))
	require.Equal(t, "[[],[]]", q.Tests[1].Input.Render(q.Shape))
	require.Equal(t, 6, c.MaxScore(10, ModeFull, 3))

	q, ok = c.Get(11)
	require.True(t, ok)
	require.Equal(t, FormatScalar, q.Format)
	require.Equal(t, examIncludes, q.Includes)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{"not toml", "[[questions]\nid ="},
		{"empty", ""},
		{"no tests", "[[questions]]\nid = 1\nfunction = \"f\"\nshape = \"array\"\nreturns = \"int\"\nprofile = \"linear_scan\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse([]byte(tt.doc)); err == nil {
				t.Error("expected parse error")
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.toml")
	require.NoError(t, os.WriteFile(path, []byte(sampleCatalog), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	_, ok := c.Get(11)
	require.True(t, ok)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.toml"))
	require.Error(t, err)
}
