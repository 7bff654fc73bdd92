// Package synth turns a student's function into a complete C++ program: the
// question's includes, the submitted code (or a neutral stub when the required
// function is missing) and a generated main that prints one line per test.
package synth

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"exam-grader/internal/catalog"
)

var (
	blockComment = regexp.MustCompile(`(?s)/\*.*?\*/`)
	lineComment  = regexp.MustCompile(`//[^\n]*`)
)

// Program is a synthesized translation unit ready for compilation.
type Program struct {
	QuestionID int
	Function   string
	Source     string
	UsedStub   bool
	TestCount  int
}

// StripComments removes block and line comments. String literals are not
// tokenized, so a "//" inside a literal is treated as a comment too.
func StripComments(src string) string {
	return lineComment.ReplaceAllString(blockComment.ReplaceAllString(src, ""), "")
}

// HasFunction reports whether src defines name: the name, a parameter list and
// an opening brace. Matching is case-insensitive and ignores comments.
func HasFunction(src, name string) bool {
	re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(name) + `\s*\([^)]*\)\s*\{`)
	return re.MatchString(StripComments(src))
}

// Synthesize builds the program for every test of q.
func Synthesize(q *catalog.Question, source string) Program {
	return SynthesizeTests(q, q.Tests, source)
}

// SynthesizeTests builds the program for the given ordered tests. Output line i
// of the program is the result of tests[i]. The same inputs always produce the
// same bytes.
func SynthesizeTests(q *catalog.Question, tests []catalog.TestCase, source string) Program {
	p := Program{
		QuestionID: q.ID,
		Function:   q.Function,
		TestCount:  len(tests),
	}

	code := source
	if !HasFunction(source, q.Function) {
		code = Stub(q)
		p.UsedStub = true
	}

	var b strings.Builder
	writeHeaders(&b, q)
	b.WriteString("\n\n")
	b.WriteString(code)
	b.WriteString("\n\n")
	writeHelpers(&b, q)
	writeMain(&b, q, tests)
	p.Source = b.String()
	return p
}

// Stub is the default implementation used when the submission lacks the
// required function. It compiles and produces wrong answers on every test.
func Stub(q *catalog.Question) string {
	sig := signature(q)
	switch q.Returns {
	case catalog.ReturnsInt:
		return sig + " {\n    return 0;\n}"
	case catalog.ReturnsArray:
		return sig + " {\n    return {};\n}"
	default:
		return sig + " {\n}"
	}
}

func signature(q *catalog.Question) string {
	ret := "void"
	switch q.Returns {
	case catalog.ReturnsInt:
		ret = "int"
	case catalog.ReturnsArray:
		ret = "vector<int>"
	}
	constRef := "const "
	if q.Returns == catalog.MutatesInput {
		constRef = ""
	}

	var params string
	switch q.Shape {
	case catalog.ShapeMatrix:
		params = constRef + "vector<vector<int>>& matrix"
	case catalog.ShapeArrayPair:
		params = "const vector<int>& arr1, const vector<int>& arr2"
	default:
		params = constRef + "vector<int>& arr"
	}
	return fmt.Sprintf("%s %s(%s)", ret, q.Function, params)
}

func writeHeaders(b *strings.Builder, q *catalog.Question) {
	seen := make(map[string]bool)
	add := func(h string) {
		if seen[h] {
			return
		}
		seen[h] = true
		fmt.Fprintf(b, "#include <%s>\n", h)
	}
	for _, h := range q.Includes {
		add(h)
	}
	add("iostream")
	add("vector")
	if q.SortResult {
		add("algorithm")
	}
	b.WriteString("using namespace std;")
}

func writeHelpers(b *strings.Builder, q *catalog.Question) {
	switch q.Format {
	case catalog.FormatSpaced:
		b.WriteString(`static void harness_print_spaced(const vector<int>& v) {
    for (size_t i = 0; i < v.size(); i++) {
        if (i > 0) cout << " ";
        cout << v[i];
    }
    cout << endl;
}

`)
	case catalog.FormatBracketed:
		b.WriteString(`static void harness_print_row(const vector<int>& v) {
    cout << "[";
    for (size_t i = 0; i < v.size(); i++) {
        if (i > 0) cout << ",";
        cout << v[i];
    }
    cout << "]";
}

static void harness_print_array(const vector<int>& v) {
    harness_print_row(v);
    cout << endl;
}

`)
		if q.Shape == catalog.ShapeMatrix && q.Returns == catalog.MutatesInput {
			b.WriteString(`static void harness_print_matrix(const vector<vector<int>>& m) {
    cout << "[";
    for (size_t i = 0; i < m.size(); i++) {
        if (i > 0) cout << ",";
        harness_print_row(m[i]);
    }
    cout << "]" << endl;
}

`)
		}
	}
}

func writeMain(b *strings.Builder, q *catalog.Question, tests []catalog.TestCase) {
	b.WriteString("int main() {\n")
	for i, tc := range tests {
		n := i + 1
		var call string
		var arg string
		switch q.Shape {
		case catalog.ShapeMatrix:
			arg = "in" + strconv.Itoa(n)
			fmt.Fprintf(b, "    vector<vector<int>> %s = %s;\n", arg, matrixLiteral(tc.Input.Matrix))
			call = fmt.Sprintf("%s(%s)", q.Function, arg)
		case catalog.ShapeArrayPair:
			a, c := "a"+strconv.Itoa(n), "b"+strconv.Itoa(n)
			fmt.Fprintf(b, "    vector<int> %s = %s;\n", a, arrayLiteral(tc.Input.Array))
			fmt.Fprintf(b, "    vector<int> %s = %s;\n", c, arrayLiteral(tc.Input.Second))
			call = fmt.Sprintf("%s(%s, %s)", q.Function, a, c)
		default:
			arg = "in" + strconv.Itoa(n)
			fmt.Fprintf(b, "    vector<int> %s = %s;\n", arg, arrayLiteral(tc.Input.Array))
			call = fmt.Sprintf("%s(%s)", q.Function, arg)
		}

		switch q.Returns {
		case catalog.ReturnsInt:
			fmt.Fprintf(b, "    cout << %s << endl;\n", call)
		case catalog.ReturnsArray:
			out := "out" + strconv.Itoa(n)
			fmt.Fprintf(b, "    vector<int> %s = %s;\n", out, call)
			writePrint(b, q, out, false)
		case catalog.MutatesInput:
			fmt.Fprintf(b, "    %s;\n", call)
			writePrint(b, q, arg, q.Shape == catalog.ShapeMatrix)
		}
		b.WriteString("\n")
	}
	b.WriteString("    return 0;\n}\n")
}

func writePrint(b *strings.Builder, q *catalog.Question, v string, matrix bool) {
	if q.SortResult && !matrix {
		fmt.Fprintf(b, "    sort(%s.begin(), %s.end());\n", v, v)
	}
	switch {
	case matrix:
		fmt.Fprintf(b, "    harness_print_matrix(%s);\n", v)
	case q.Format == catalog.FormatSpaced:
		fmt.Fprintf(b, "    harness_print_spaced(%s);\n", v)
	default:
		fmt.Fprintf(b, "    harness_print_array(%s);\n", v)
	}
}

func arrayLiteral(a []int) string {
	parts := make([]string, len(a))
	for i, v := range a {
		parts[i] = strconv.Itoa(v)
	}
	return "{" + strings.Join(parts, ",") + "}"
}

func matrixLiteral(m [][]int) string {
	rows := make([]string, len(m))
	for i, row := range m {
		rows[i] = arrayLiteral(row)
	}
	return "{" + strings.Join(rows, ",") + "}"
}
