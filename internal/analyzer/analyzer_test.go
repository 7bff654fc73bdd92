package analyzer

import (
	"testing"

	"exam-grader/internal/catalog"
)

const linearCount = `int countGreaterThanPrior(const vector<int>& arr) {
    int best = INT_MIN, count = 0;
    for (int x : arr) {
        if (x > best) { count++; best = x; }
    }
    return count;
}`

const quadraticCount = `int countGreaterThanPrior(const vector<int>& arr) {
    int count = 0, n = arr.size();
    for (int i = 0; i < n; i++) {
        bool ok = true;
        for (int j = 0; j < i; j++) {
            if (arr[j] >= arr[i]) ok = false;
        }
        if (ok) count++;
    }
    return count;
}`

const hashIntersection = `vector<int> arrayIntersection(const vector<int>& a, const vector<int>& b) {
    unordered_set<int> seen(a.begin(), a.end());
    vector<int> out;
    for (int x : b) {
        if (seen.erase(x)) out.push_back(x);
    }
    return out;
}`

const sortedIntersection = `vector<int> arrayIntersection(vector<int> a, vector<int> b) {
    sort(a.begin(), a.end());
    sort (b.begin(), b.end());
    vector<int> out;
    return out;
}`

func TestCountNestedLoops(t *testing.T) {
	tests := []struct {
		name string
		code string
		want int
	}{
		{"none", "int f() { return 1; }", 0},
		{"single", linearCount, 1},
		{"nested", quadraticCount, 2},
		{"while inside for", "void f() { for (;;) { while (x) { } } }", 2},
		{"separate functions", "void f() { for (;;) {} }\nvoid g() { for (;;) {} }", 1},
		{"triple", "void f() { for(;;) { for(;;) { for(;;) {} } } }", 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CountNestedLoops(tt.code); got != tt.want {
				t.Errorf("CountNestedLoops() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDetect(t *testing.T) {
	s := Detect(hashIntersection)
	if !s.HashContainer {
		t.Error("HashContainer = false, want true")
	}
	if s.Sorting || s.LinearScan {
		t.Errorf("unexpected signals %+v", s)
	}

	s = Detect(sortedIntersection)
	if !s.Sorting {
		t.Error("Sorting = false, want true")
	}

	s = Detect(quadraticCount)
	if !s.LinearScan || s.NestedLoops != 2 {
		t.Errorf("signals = %+v, want linear scan with nesting 2", s)
	}

	// Commented-out code does not count.
	s = Detect("// sort(a.begin(), a.end());\n/* unordered_map<int,int> m; */ int f() { return 0; }")
	if s.Sorting || s.HashContainer {
		t.Errorf("comments leaked into signals: %+v", s)
	}
}

func TestAnalyze_Profiles(t *testing.T) {
	tests := []struct {
		name       string
		code       string
		profile    catalog.Profile
		complexity string
		score      int
	}{
		{"linear optimal", linearCount, catalog.ProfileLinearScan, "O(n)", 100},
		{"linear quadratic", quadraticCount, catalog.ProfileLinearScan, "O(n²)", 40},
		{"rows nested twice", quadraticCount, catalog.ProfileMatrixRows, "O(n·m)", 100},
		{"partition quadratic", quadraticCount, catalog.ProfileInPlacePartition, "O(n²)", 30},
		{"partition sort", "void moveZerosToEnd(vector<int>& a) { stable_sort(a.begin(), a.end()); }", catalog.ProfileInPlacePartition, "O(n log n)", 50},
		{"transpose nested", quadraticCount, catalog.ProfileMatrixTranspose, "O(n²)", 100},
		{"transpose flat", linearCount, catalog.ProfileMatrixTranspose, "O(n²)", 50},
		{"merge two-pointer", "vector<int> m(const vector<int>& a, const vector<int>& b) { vector<int> o; while (i < n) { o.push_back(a[i]); } return o; }", catalog.ProfileSortedMerge, "O(n + m)", 100},
		{"merge sorting", sortedIntersection, catalog.ProfileSortedMerge, "O(n log n)", 60},
		{"intersection hash", hashIntersection, catalog.ProfileSetIntersection, "O(n + m)", 100},
		{"intersection sort", sortedIntersection, catalog.ProfileSetIntersection, "O(n log n)", 70},
		{"intersection nested", quadraticCount, catalog.ProfileSetIntersection, "O(n²)", 20},
		{"intersection plain", "vector<int> f() { return {}; }", catalog.ProfileSetIntersection, "O(n)", 50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a := Analyze(tt.code, tt.profile)
			if a.Complexity != tt.complexity || a.OptimizationScore != tt.score {
				t.Errorf("Analyze() = %s/%d, want %s/%d (signals %+v)",
					a.Complexity, a.OptimizationScore, tt.complexity, tt.score, a.Signals)
			}
		})
	}
}

func TestAnalyze_ScoreRange(t *testing.T) {
	inputs := []string{"", "{{{{", "}}}}", "for(for(while(", linearCount, quadraticCount}
	for _, p := range []catalog.Profile{
		catalog.ProfileLinearScan, catalog.ProfileMatrixRows, catalog.ProfileInPlacePartition,
		catalog.ProfileMatrixTranspose, catalog.ProfileSortedMerge, catalog.ProfileSetIntersection,
	} {
		for _, in := range inputs {
			a := Analyze(in, p)
			if a.Complexity == "" || a.OptimizationScore < 0 || a.OptimizationScore > 100 {
				t.Errorf("Analyze(%q, %s) = %+v, want a label and a score in [0,100]", in, p, a)
			}
		}
	}
}
