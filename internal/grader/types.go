// Package grader turns a submitted function into a score: it owns the grading
// pipeline and the service that runs it on the worker pool.
package grader

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"exam-grader/internal/catalog"
	"exam-grader/internal/evaluate"
)

// Pool-level failures returned by the Service. Per-job failures are reported
// in GradingResult.Error instead.
var (
	ErrBusy              = errors.New("server busy, please retry")
	ErrInternal          = errors.New("internal execution error")
	ErrDuplicate         = errors.New("duplicate submission")
	ErrInvalidSubmission = errors.New("invalid submission")
	ErrNoStore           = errors.New("no submission store configured")
)

type ErrorKind string

const (
	KindCompileError ErrorKind = "CompileError"
	KindTimeLimit    ErrorKind = "TimeLimitExceeded"
	KindRuntimeError ErrorKind = "RuntimeError"
	KindOutputLimit  ErrorKind = "OutputLimitExceeded"
	KindNoTestCases  ErrorKind = "NoTestCases"
	KindPoolTimeout  ErrorKind = "PoolExhaustedTimeout"
	KindPoolInternal ErrorKind = "PoolInternalError"
)

// MessageNoCode marks a blank answer in a submission.
const MessageNoCode = "No code submitted"

// GradingError is the per-job failure carried inside a GradingResult.
type GradingError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *GradingError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Job is one grading request. It is immutable once created.
type Job struct {
	ID          string       `json:"id"`
	QuestionID  int          `json:"question_id"`
	Source      string       `json:"source"`
	Submitter   string       `json:"submitter,omitempty"`
	Mode        catalog.Mode `json:"mode"`
	SubmittedAt time.Time    `json:"submitted_at"`
}

// NewJob creates a job with a fresh ID.
func NewJob(questionID int, source string, mode catalog.Mode) *Job {
	return &Job{
		ID:          uuid.New().String(),
		QuestionID:  questionID,
		Source:      source,
		Mode:        mode,
		SubmittedAt: time.Now().UTC(),
	}
}

type GradingResult struct {
	JobID             string                `json:"job_id"`
	QuestionID        int                   `json:"question_id"`
	Mode              catalog.Mode          `json:"mode"`
	Score             int                   `json:"score"`
	MaxScore          int                   `json:"max_score"`
	Tests             []evaluate.TestResult `json:"tests"`
	Complexity        string                `json:"complexity,omitempty"`
	OptimizationScore int                   `json:"optimization_score"`
	UsedStub          bool                  `json:"used_stub"`
	Message           string                `json:"message,omitempty"`
	Error             *GradingError         `json:"error,omitempty"`
	DurationMS        int64                 `json:"duration_ms"`
	Cached            bool                  `json:"cached,omitempty"`
}

// Ran reports whether the submitted function compiled and ran to completion.
// A run of the fallback stub does not count.
func (r *GradingResult) Ran() bool {
	return r.Error == nil && r.Message == "" && !r.UsedStub
}

// Submission is a full exam attempt: one answer per question.
type Submission struct {
	Submitter      string         `json:"submitter"`
	Name           string         `json:"name,omitempty"`
	Answers        map[int]string `json:"answers"`
	TabSwitchCount int            `json:"tab_switch_count,omitempty"`
}

type SubmissionResult struct {
	ID                string                 `json:"id"`
	Submitter         string                 `json:"submitter"`
	Name              string                 `json:"name,omitempty"`
	CodingScore       int                    `json:"coding_score"`
	CodingMaxScore    int                    `json:"coding_max_score"`
	OptimizationScore float64                `json:"optimization_score"`
	OptimizationBonus int                    `json:"optimization_bonus"`
	TotalScore        int                    `json:"total_score"`
	MaxScore          int                    `json:"max_score"`
	Results           map[int]*GradingResult `json:"results"`
	TabSwitchCount    int                    `json:"tab_switch_count,omitempty"`
	SubmittedAt       time.Time              `json:"submitted_at"`
	ProcessingMS      int64                  `json:"processing_ms"`
}

// BonusPolicy turns the average optimization score into bonus points:
// floor(avg/Step), capped at MaxPoints.
type BonusPolicy struct {
	Step      int `yaml:"step" json:"step"`
	MaxPoints int `yaml:"max_points" json:"max_points"`
}

func DefaultBonusPolicy() BonusPolicy {
	return BonusPolicy{Step: 10, MaxPoints: 10}
}

func (b BonusPolicy) Bonus(avg float64) int {
	if b.Step <= 0 || avg <= 0 {
		return 0
	}
	return min(int(math.Floor(avg/float64(b.Step))), b.MaxPoints)
}

// CacheKey identifies a grading input. Identical keys always grade the same.
func CacheKey(questionID int, mode catalog.Mode, source string) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d\x00%s\x00%s", questionID, mode, source)))
	return hex.EncodeToString(sum[:])
}
