package synth

import (
	"strings"
	"testing"

	"exam-grader/internal/catalog"
)

const correctQ1 = `int countGreaterThanPrior(const vector<int>& arr) {
    if (arr.empty()) return 0;
    int best = arr[0], count = 1;
    for (size_t i = 1; i < arr.size(); i++) {
        if (arr[i] > best) { count++; best = arr[i]; }
    }
    return count;
}`

func question(t *testing.T, id int) *catalog.Question {
	t.Helper()
	q, ok := catalog.Default().Get(id)
	if !ok {
		t.Fatalf("question %d missing from default catalog", id)
	}
	return q
}

func TestStripComments(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"line", "int a; // note\nint b;", "int a; \nint b;"},
		{"block", "int /* x */a;", "int a;"},
		{"multiline block", "a/*\n b\n*/c", "ac"},
		{"line inside block", "a/* // */b", "ab"},
		{"none", "int main() {}", "int main() {}"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StripComments(tt.in); got != tt.want {
				t.Errorf("StripComments(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestHasFunction(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want bool
	}{
		{"definition", correctQ1, true},
		{"extra whitespace", "int countGreaterThanPrior ( vector<int> a )\n{ return 1; }", true},
		{"case-insensitive", "int COUNTGREATERTHANPRIOR(vector<int> a) { return 1; }", true},
		{"declaration only", "int countGreaterThanPrior(const vector<int>& arr);", false},
		{"commented out", "// int countGreaterThanPrior(const vector<int>& arr) {\n", false},
		{"block commented", "/* int countGreaterThanPrior(vector<int> a) { } */", false},
		{"prefix of another name", "int mycountGreaterThanPrior(vector<int> a) { return 1; }", false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasFunction(tt.src, "countGreaterThanPrior"); got != tt.want {
				t.Errorf("HasFunction() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestSynthesize_StudentCodeVerbatim(t *testing.T) {
	q := question(t, 1)
	p := Synthesize(q, correctQ1)

	if p.UsedStub {
		t.Fatal("UsedStub = true for a submission defining the function")
	}
	if p.TestCount != 5 {
		t.Errorf("TestCount = %d, want 5", p.TestCount)
	}
	if !strings.HasPrefix(p.Source, "#include <iostream>\n#include <vector>\nusing namespace std;\n\n") {
		t.Errorf("program does not start with the question headers:\n%s", p.Source)
	}
	if !strings.Contains(p.Source, correctQ1) {
		t.Error("student code not embedded verbatim")
	}
	headers := strings.Index(p.Source, "using namespace std;")
	code := strings.Index(p.Source, correctQ1)
	main := strings.Index(p.Source, "int main() {")
	if !(headers < code && code < main) {
		t.Errorf("sections out of order: headers=%d code=%d main=%d", headers, code, main)
	}
	for _, want := range []string{
		"vector<int> in1 = {7,4,8,2,9};",
		"cout << countGreaterThanPrior(in1) << endl;",
		"vector<int> in5 = {3,1,4,2,5,9,7};",
		"return 0;",
	} {
		if !strings.Contains(p.Source, want) {
			t.Errorf("program missing %q", want)
		}
	}
}

func TestSynthesize_MissingFunctionUsesStub(t *testing.T) {
	q := question(t, 1)
	p := Synthesize(q, "int somethingElse() { return 42; }")

	if !p.UsedStub {
		t.Fatal("UsedStub = false, want true")
	}
	if strings.Contains(p.Source, "somethingElse") {
		t.Error("student code should be replaced by the stub")
	}
	if !strings.Contains(p.Source, "int countGreaterThanPrior(const vector<int>& arr) {\n    return 0;\n}") {
		t.Errorf("stub missing from program:\n%s", p.Source)
	}
}

func TestSynthesize_Deterministic(t *testing.T) {
	for _, id := range catalog.Default().IDs() {
		q := question(t, id)
		a := Synthesize(q, correctQ1)
		b := Synthesize(q, correctQ1)
		if a.Source != b.Source {
			t.Errorf("question %d: synthesis is not deterministic", id)
		}
	}
}

func TestSynthesizeTests_Prefix(t *testing.T) {
	q := question(t, 1)
	p := SynthesizeTests(q, q.Tests[:3], correctQ1)
	if p.TestCount != 3 {
		t.Errorf("TestCount = %d, want 3", p.TestCount)
	}
	if strings.Contains(p.Source, "in4") {
		t.Error("limited program should only exercise the first three tests")
	}
	if got := strings.Count(p.Source, "<< endl;"); got != 3 {
		t.Errorf("program prints %d lines, want 3", got)
	}
}

func TestStub(t *testing.T) {
	tests := []struct {
		id   int
		want string
	}{
		{1, "int countGreaterThanPrior(const vector<int>& arr) {\n    return 0;\n}"},
		{2, "int rowWithMaxOnes(const vector<vector<int>>& matrix) {\n    return 0;\n}"},
		{3, "void moveZerosToEnd(vector<int>& arr) {\n}"},
		{4, "void transposeMatrix(vector<vector<int>>& matrix) {\n}"},
		{5, "vector<int> mergeSortedArrays(const vector<int>& arr1, const vector<int>& arr2) {\n    return {};\n}"},
	}
	for _, tt := range tests {
		if got := Stub(question(t, tt.id)); got != tt.want {
			t.Errorf("Stub(%d) =\n%s\nwant\n%s", tt.id, got, tt.want)
		}
	}
}

func TestSynthesize_Harnesses(t *testing.T) {
	tests := []struct {
		id       int
		contains []string
		absent   []string
	}{
		{2, []string{
			"vector<vector<int>> in1 = {{0,1,0},{1,1,0},{1,1,1}};",
			"cout << rowWithMaxOnes(in1) << endl;",
		}, []string{"harness_print"}},
		{3, []string{
			"moveZerosToEnd(in1);",
			"harness_print_spaced(in1);",
			"static void harness_print_spaced",
		}, []string{"harness_print_array"}},
		{4, []string{
			"#include <algorithm>",
			"transposeMatrix(in2);",
			"harness_print_matrix(in2);",
		}, nil},
		{5, []string{
			"vector<int> a2 = {2,4,6};",
			"vector<int> b2 = {};",
			"vector<int> out2 = mergeSortedArrays(a2, b2);",
			"harness_print_array(out2);",
		}, []string{"sort(", "harness_print_matrix"}},
		{6, []string{
			"vector<int> out1 = arrayIntersection(a1, b1);",
			"sort(out1.begin(), out1.end());",
		}, nil},
	}
	for _, tt := range tests {
		p := Synthesize(question(t, tt.id), "")
		for _, want := range tt.contains {
			if !strings.Contains(p.Source, want) {
				t.Errorf("question %d: program missing %q", tt.id, want)
			}
		}
		for _, bad := range tt.absent {
			if strings.Contains(p.Source, bad) {
				t.Errorf("question %d: program should not contain %q", tt.id, bad)
			}
		}
	}
}

func TestSynthesize_IncludesDeduplicated(t *testing.T) {
	q := question(t, 6)
	p := Synthesize(q, "")
	if n := strings.Count(p.Source, "#include <algorithm>"); n != 1 {
		t.Errorf("algorithm included %d times, want 1", n)
	}
}
