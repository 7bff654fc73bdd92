package catalog

var examIncludes = []string{"iostream", "vector"}

var practiceIncludes = []string{"iostream", "vector", "algorithm", "unordered_set"}

func arr(v ...int) Input { return Input{Array: v} }

func mat(rows ...[]int) Input { return Input{Matrix: rows} }

func pair(a, b []int) Input {
	if a == nil {
		a = []int{}
	}
	if b == nil {
		b = []int{}
	}
	return Input{Array: a, Second: b}
}

// Builtin returns the built-in questions. IDs 1-3 are the exam
// questions; 4-6 are practice questions with bracketed output.
func Builtin() []*Question {
	return []*Question{
		{
			ID:       1,
			Title:    "Count Greater Than Prior",
			Function: "countGreaterThanPrior",
			Shape:    ShapeArray,
			Returns:  ReturnsInt,
			Format:   FormatScalar,
			Includes: examIncludes,
			Profile:  ProfileLinearScan,
			Tests: []TestCase{
				{Input: arr(7, 4, 8, 2, 9), Expected: "3", Points: 7},
				{Input: arr(1, 2, 3, 4, 5), Expected: "5", Points: 7},
				{Input: arr(5, 4, 3, 2, 1), Expected: "1", Points: 6},
				{Input: arr(10, 10, 10, 10), Expected: "1", Points: 7},
				{Input: arr(3, 1, 4, 2, 5, 9, 7), Expected: "4", Points: 6},
			},
		},
		{
			ID:       2,
			Title:    "Row With Max Ones",
			Function: "rowWithMaxOnes",
			Shape:    ShapeMatrix,
			Returns:  ReturnsInt,
			Format:   FormatScalar,
			Includes: examIncludes,
			Profile:  ProfileMatrixRows,
			Tests: []TestCase{
				{Input: mat([]int{0, 1, 0}, []int{1, 1, 0}, []int{1, 1, 1}), Expected: "3", Points: 7},
				{Input: mat([]int{0, 0, 0}, []int{0, 0, 0}, []int{0, 0, 0}), Expected: "1", Points: 7},
				{Input: mat([]int{1, 0}, []int{1, 1}, []int{0, 1}), Expected: "2", Points: 6},
				{Input: mat([]int{1, 1, 1}, []int{1, 0, 0}, []int{0, 1, 0}), Expected: "1", Points: 7},
				{Input: mat([]int{0, 1}, []int{0, 1}, []int{1, 1}), Expected: "3", Points: 6},
			},
		},
		{
			ID:       3,
			Title:    "Move Zeros To End",
			Function: "moveZerosToEnd",
			Shape:    ShapeArray,
			Returns:  MutatesInput,
			Format:   FormatSpaced,
			Includes: examIncludes,
			Profile:  ProfileInPlacePartition,
			Tests: []TestCase{
				{Input: arr(4, 5, 0, 1, 9, 0, 5, 0), Expected: "4 5 1 9 5 0 0 0", Points: 7},
				{Input: arr(0, 0, 0, 0), Expected: "0 0 0 0", Points: 7},
				{Input: arr(1, 2, 3, 4), Expected: "1 2 3 4", Points: 7},
				{Input: arr(0, 1, 0, 2, 0, 3, 0, 4), Expected: "1 2 3 4 0 0 0 0", Points: 6},
				{Input: arr(5), Expected: "5", Points: 7},
			},
		},
		{
			ID:       4,
			Title:    "Transpose Matrix",
			Function: "transposeMatrix",
			Shape:    ShapeMatrix,
			Returns:  MutatesInput,
			Format:   FormatBracketed,
			Includes: practiceIncludes,
			Profile:  ProfileMatrixTranspose,
			Tests: []TestCase{
				{Input: mat([]int{1, 2}, []int{3, 4}), Expected: "[[1,3],[2,4]]", Points: 5},
				{Input: mat([]int{2}), Expected: "[[2]]", Points: 5},
				{Input: mat([]int{5, 1, 8}, []int{4, 7, 2}, []int{9, 3, 6}), Expected: "[[5,4,9],[1,7,3],[8,2,6]]", Points: 5},
				{Input: mat([]int{0, 0, 0}, []int{1, 1, 1}, []int{2, 2, 2}), Expected: "[[0,1,2],[0,1,2],[0,1,2]]", Points: 5},
				{Input: mat([]int{-2, 3}, []int{7, -1}), Expected: "[[-2,7],[3,-1]]", Points: 5},
			},
		},
		{
			ID:       5,
			Title:    "Merge Sorted Arrays",
			Function: "mergeSortedArrays",
			Shape:    ShapeArrayPair,
			Returns:  ReturnsArray,
			Format:   FormatBracketed,
			Includes: practiceIncludes,
			Profile:  ProfileSortedMerge,
			Tests: []TestCase{
				{Input: pair([]int{1, 2, 3}, []int{4, 5, 6}), Expected: "[1,2,3,4,5,6]", Points: 5},
				{Input: pair([]int{2, 4, 6}, nil), Expected: "[2,4,6]", Points: 5},
				{Input: pair(nil, []int{1, 1, 2}), Expected: "[1,1,2]", Points: 5},
				{Input: pair([]int{1, 2, 3}, []int{1, 2, 3}), Expected: "[1,1,2,2,3,3]", Points: 5},
				{Input: pair([]int{0, 5, 7}, []int{3, 8, 10}), Expected: "[0,3,5,7,8,10]", Points: 5},
			},
		},
		{
			ID:         6,
			Title:      "Array Intersection",
			Function:   "arrayIntersection",
			Shape:      ShapeArrayPair,
			Returns:    ReturnsArray,
			Format:     FormatBracketed,
			SortResult: true,
			Includes:   practiceIncludes,
			Profile:    ProfileSetIntersection,
			Tests: []TestCase{
				{Input: pair([]int{1, 2, 3}, []int{3, 2, 1}), Expected: "[1,2,3]", Points: 5},
				{Input: pair([]int{1, 1, 1, 1}, []int{1}), Expected: "[1]", Points: 5},
				{Input: pair([]int{2, 3, 4}, []int{5, 6, 7}), Expected: "[]", Points: 5},
				{Input: pair([]int{0, 5, 7, 5}, []int{5, 10, 0}), Expected: "[0,5]", Points: 5},
				{Input: pair([]int{1, 2, 3, 4}, []int{2, 4, 6, 4}), Expected: "[2,4]", Points: 5},
			},
		},
	}
}

// Default builds the catalog of built-in questions.
func Default() *Catalog {
	c, err := New(Builtin()...)
	if err != nil {
		panic("catalog: invalid built-in questions: " + err.Error())
	}
	return c
}
