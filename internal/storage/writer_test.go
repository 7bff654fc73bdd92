package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-grader/internal/catalog"
	"exam-grader/internal/grader"
	"exam-grader/internal/monitor"
)

type fakeLogger struct {
	mu       sync.Mutex
	failures int // fail this many calls before succeeding
	calls    int
	logged   []*JobRecord
}

func (f *fakeLogger) LogJob(_ context.Context, rec *JobRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failures {
		return errors.New("connection reset")
	}
	f.logged = append(f.logged, rec)
	return nil
}

func (f *fakeLogger) snapshot() (int, []*JobRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls, append([]*JobRecord(nil), f.logged...)
}

func fastOptions(m *monitor.Metrics) WriterOptions {
	return WriterOptions{MaxRetries: 2, RetryBase: time.Millisecond, RetryMax: 2 * time.Millisecond, Metrics: m}
}

func TestNewJobRecord(t *testing.T) {
	job := grader.NewJob(1, "int f() { return 1; }", catalog.ModeLimited)
	job.Submitter = "25MCSS07"

	rec := NewJobRecord(job, &grader.GradingResult{
		Score: 14, MaxScore: 20, Complexity: "O(n)", OptimizationScore: 100, DurationMS: 42,
	})
	assert.Equal(t, job.ID, rec.ID)
	assert.Equal(t, "limited", rec.Mode)
	assert.Equal(t, "25MCSS07", rec.Submitter)
	assert.Equal(t, "graded", rec.Status)
	assert.Equal(t, 14, rec.Score)
	assert.Len(t, rec.SourceHash, 64)
	assert.Equal(t, job.SubmittedAt, rec.CreatedAt)

	failed := NewJobRecord(job, &grader.GradingResult{
		MaxScore: 20,
		Error:    &grader.GradingError{Kind: grader.KindCompileError, Message: "Compilation Error: x"},
	})
	assert.Equal(t, "CompileError", failed.Status)
	assert.Equal(t, "Compilation Error: x", failed.Message)
	assert.Equal(t, rec.SourceHash, failed.SourceHash)
}

func TestResultWriter_Writes(t *testing.T) {
	db := &fakeLogger{}
	w := NewResultWriter(db, fastOptions(nil))
	w.Start()

	for range 5 {
		job := grader.NewJob(1, "x", catalog.ModeFull)
		w.Record(job, &grader.GradingResult{JobID: job.ID})
	}
	w.Flush(time.Second)

	_, logged := db.snapshot()
	assert.Len(t, logged, 5)
}

func TestResultWriter_RetriesThenSucceeds(t *testing.T) {
	db := &fakeLogger{failures: 2}
	m := monitor.NewMetrics()
	w := NewResultWriter(db, fastOptions(m))
	w.Start()

	w.Log(&JobRecord{ID: "j1"})
	w.Flush(time.Second)

	calls, logged := db.snapshot()
	assert.Equal(t, 3, calls)
	require.Len(t, logged, 1)
	assert.Equal(t, "j1", logged[0].ID)
	assert.Zero(t, testutil.ToFloat64(m.ResultWriteErrors))
}

func TestResultWriter_GivesUp(t *testing.T) {
	db := &fakeLogger{failures: 100}
	m := monitor.NewMetrics()
	w := NewResultWriter(db, fastOptions(m))
	w.Start()

	w.Log(&JobRecord{ID: "j1"})
	w.Flush(time.Second)

	calls, logged := db.snapshot()
	assert.Equal(t, 3, calls, "first attempt plus two retries")
	assert.Empty(t, logged)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultWriteErrors))
}

func TestResultWriter_DropsWhenFull(t *testing.T) {
	m := monitor.NewMetrics()
	w := NewResultWriter(&fakeLogger{}, WriterOptions{BufferSize: 1, Metrics: m})

	// Not started: the second entry has nowhere to go.
	w.Log(&JobRecord{ID: "a"})
	w.Log(&JobRecord{ID: "b"})
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ResultWriteErrors))
}

func TestNormalizeLimit(t *testing.T) {
	assert.Equal(t, 100, normalizeLimit(0))
	assert.Equal(t, 100, normalizeLimit(5000))
	assert.Equal(t, 25, normalizeLimit(25))
}

func TestTruncateForDB(t *testing.T) {
	assert.Equal(t, "abc", truncateForDB("abc", 10))
	assert.Equal(t, "ab", truncateForDB("abc", 2))
}
