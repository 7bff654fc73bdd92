package grader

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-grader/internal/catalog"
	"exam-grader/internal/evaluate"
	"exam-grader/internal/sandbox"
)

// fakeExecutor answers Execute from a function so tests can script the engine.
type fakeExecutor struct {
	mu    sync.Mutex
	fn    func(ctx context.Context, req sandbox.Request) (*sandbox.Outcome, error)
	calls atomic.Int64
	last  sandbox.Request
}

func (f *fakeExecutor) Execute(ctx context.Context, req sandbox.Request) (*sandbox.Outcome, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.last = req
	f.mu.Unlock()
	return f.fn(ctx, req)
}

func (f *fakeExecutor) lastRequest() sandbox.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

func stdoutExecutor(stdout string) *fakeExecutor {
	return &fakeExecutor{fn: func(_ context.Context, req sandbox.Request) (*sandbox.Outcome, error) {
		return &sandbox.Outcome{ID: req.ExecID, Stdout: stdout}, nil
	}}
}

func errorExecutor(err error) *fakeExecutor {
	return &fakeExecutor{fn: func(_ context.Context, req sandbox.Request) (*sandbox.Outcome, error) {
		return &sandbox.Outcome{ID: req.ExecID}, err
	}}
}

const countSolution = `int countGreaterThanPrior(vector<int>& arr) {
    if (arr.empty()) return 0;
    int count = 1, best = arr[0];
    for (int i = 1; i < arr.size(); i++) {
        if (arr[i] > best) { count++; best = arr[i]; }
    }
    return count;
}`

func TestGrade_ScoresPerTest(t *testing.T) {
	exec := stdoutExecutor("3\n5\n2\n1\n4\n")
	p := NewPipeline(catalog.Default(), exec, PipelineOptions{})

	job := NewJob(1, countSolution, catalog.ModeFull)
	res := p.Grade(context.Background(), job)

	require.Nil(t, res.Error)
	assert.Equal(t, job.ID, res.JobID)
	assert.Equal(t, 27, res.Score, "test 3 fails and is worth 6")
	assert.Equal(t, 33, res.MaxScore)
	require.Len(t, res.Tests, 5)

	first := res.Tests[0]
	assert.Equal(t, "[7,4,8,2,9]", first.Input)
	assert.Equal(t, "3", first.Actual)
	assert.True(t, first.Passed)
	assert.Equal(t, 7, first.Points)

	third := res.Tests[2]
	assert.False(t, third.Passed)
	assert.Equal(t, "2", third.Actual)
	assert.Equal(t, 0, third.Points)

	assert.Equal(t, "O(n)", res.Complexity)
	assert.Positive(t, res.OptimizationScore)
	assert.False(t, res.UsedStub)

	req := exec.lastRequest()
	assert.Equal(t, job.ID, req.ExecID)
	assert.Equal(t, 1, req.QuestionID)
	assert.Contains(t, req.Source, "int main()")
	assert.Contains(t, req.Source, "countGreaterThanPrior")
}

func TestGrade_MissingOutputLines(t *testing.T) {
	p := NewPipeline(catalog.Default(), stdoutExecutor("3\n"), PipelineOptions{})
	res := p.Grade(context.Background(), NewJob(1, countSolution, catalog.ModeFull))

	require.Nil(t, res.Error)
	assert.Equal(t, 7, res.Score)
	for _, tr := range res.Tests[1:] {
		assert.Equal(t, evaluate.NoOutput, tr.Actual)
		assert.False(t, tr.Passed)
	}
}

func TestGrade_LimitedMode(t *testing.T) {
	exec := stdoutExecutor("3\n5\n1\n")
	p := NewPipeline(catalog.Default(), exec, PipelineOptions{})

	res := p.Grade(context.Background(), NewJob(1, countSolution, catalog.ModeLimited))

	require.Nil(t, res.Error)
	assert.Len(t, res.Tests, DefaultLimitedTests)
	assert.Equal(t, 20, res.Score)
	assert.Equal(t, 20, res.MaxScore)
	assert.Equal(t, catalog.ModeLimited, res.Mode)
}

func TestGrade_MissingFunctionUsesStub(t *testing.T) {
	exec := stdoutExecutor("0\n0\n0\n0\n0\n")
	p := NewPipeline(catalog.Default(), exec, PipelineOptions{})

	res := p.Grade(context.Background(), NewJob(1, "int helper() { return 1; }", catalog.ModeFull))

	require.Nil(t, res.Error)
	assert.True(t, res.UsedStub)
	assert.Equal(t, 0, res.Score)
	assert.Contains(t, exec.lastRequest().Source, "countGreaterThanPrior")
}

func TestGrade_StubNeverScores(t *testing.T) {
	// An in-place stub leaves inputs untouched, which some expected outputs equal.
	exec := stdoutExecutor("4 5 0 1 9 0 5 0\n0 0 0 0\n1 2 3 4\n0 1 0 2 0 3 0 4\n5\n")
	p := NewPipeline(catalog.Default(), exec, PipelineOptions{})

	res := p.Grade(context.Background(), NewJob(3, "// nothing here\nint x;", catalog.ModeFull))

	require.Nil(t, res.Error)
	assert.True(t, res.UsedStub)
	assert.Zero(t, res.Score)
	assert.Equal(t, 34, res.MaxScore)
	require.Len(t, res.Tests, 5)
	for _, tr := range res.Tests {
		assert.False(t, tr.Passed, "test %d", tr.Index)
		assert.Zero(t, tr.Points)
	}
	assert.Equal(t, "0 0 0 0", res.Tests[1].Actual, "observed output is still reported")
	assert.Empty(t, res.Complexity)
	assert.Zero(t, res.OptimizationScore)
	assert.False(t, res.Ran())
}

func TestGrade_UnknownQuestion(t *testing.T) {
	exec := stdoutExecutor("")
	p := NewPipeline(catalog.Default(), exec, PipelineOptions{})

	res := p.Grade(context.Background(), NewJob(99, countSolution, catalog.ModeFull))

	require.NotNil(t, res.Error)
	assert.Equal(t, KindNoTestCases, res.Error.Kind)
	assert.Equal(t, "No test cases available for question 99", res.Error.Message)
	assert.Zero(t, exec.calls.Load(), "nothing should be compiled")
	assert.Empty(t, res.Tests)
}

func TestGrade_ClassifiesEngineFailures(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		kind    ErrorKind
		message string
	}{
		{
			name:    "compile error",
			err:     &sandbox.ExecutionError{Op: "compile", Err: sandbox.ErrCompile, Detail: "expected ';'"},
			kind:    KindCompileError,
			message: "Compilation Error: expected ';'",
		},
		{
			name:    "time limit",
			err:     &sandbox.ExecutionError{Op: "run", Err: sandbox.ErrTimeLimit},
			kind:    KindTimeLimit,
			message: "Time Limit Exceeded (TLE): Your solution is too slow. Consider optimizing your algorithm.",
		},
		{
			name:    "runtime error",
			err:     &sandbox.ExecutionError{Op: "run", Err: sandbox.ErrRuntime, Detail: "Segmentation fault"},
			kind:    KindRuntimeError,
			message: "Runtime Error: Segmentation fault",
		},
		{
			name:    "output limit",
			err:     &sandbox.ExecutionError{Op: "run", Err: sandbox.ErrOutputLimit, Detail: "stdout exceeded 1048576 bytes"},
			kind:    KindOutputLimit,
			message: "Output Limit Exceeded: stdout exceeded 1048576 bytes",
		},
		{
			name:    "anything else",
			err:     errors.New("disk full"),
			kind:    KindPoolInternal,
			message: "Processing Error: disk full",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPipeline(catalog.Default(), errorExecutor(tt.err), PipelineOptions{})
			res := p.Grade(context.Background(), NewJob(1, countSolution, catalog.ModeFull))

			require.NotNil(t, res.Error)
			assert.Equal(t, tt.kind, res.Error.Kind)
			assert.Equal(t, tt.message, res.Error.Message)
			assert.Zero(t, res.Score)
			assert.Equal(t, 33, res.MaxScore)
			assert.Empty(t, res.Tests)
			assert.Empty(t, res.Complexity, "failed runs are not analyzed")
			assert.False(t, res.Ran())
		})
	}
}

func TestGrade_DurationRecorded(t *testing.T) {
	exec := &fakeExecutor{fn: func(_ context.Context, req sandbox.Request) (*sandbox.Outcome, error) {
		time.Sleep(5 * time.Millisecond)
		return &sandbox.Outcome{ID: req.ExecID, Stdout: "3"}, nil
	}}
	p := NewPipeline(catalog.Default(), exec, PipelineOptions{})
	res := p.Grade(context.Background(), NewJob(1, countSolution, catalog.ModeFull))
	assert.GreaterOrEqual(t, res.DurationMS, int64(5))
}

func TestGradingError(t *testing.T) {
	err := &GradingError{Kind: KindTimeLimit, Message: "too slow"}
	assert.Equal(t, "TimeLimitExceeded: too slow", err.Error())
	assert.True(t, strings.HasPrefix(err.Error(), string(KindTimeLimit)))
}

func TestBonusPolicy(t *testing.T) {
	tests := []struct {
		avg  float64
		want int
	}{
		{0, 0},
		{-5, 0},
		{9.9, 0},
		{10, 1},
		{73.3, 7},
		{100, 10},
		{250, 10},
	}
	b := DefaultBonusPolicy()
	for _, tt := range tests {
		assert.Equal(t, tt.want, b.Bonus(tt.avg), "avg %v", tt.avg)
	}
	assert.Zero(t, BonusPolicy{}.Bonus(80))
}

func TestCacheKey(t *testing.T) {
	a := CacheKey(1, catalog.ModeFull, "x")
	assert.Len(t, a, 64)
	assert.Equal(t, a, CacheKey(1, catalog.ModeFull, "x"))
	assert.NotEqual(t, a, CacheKey(2, catalog.ModeFull, "x"))
	assert.NotEqual(t, a, CacheKey(1, catalog.ModeLimited, "x"))
	assert.NotEqual(t, a, CacheKey(1, catalog.ModeFull, "x "))
}
