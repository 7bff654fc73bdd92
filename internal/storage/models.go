package storage

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"exam-grader/internal/grader"
)

// JobRecord is one row of the grading job log.
type JobRecord struct {
	ID                string    `json:"id" db:"id"`
	QuestionID        int       `json:"question_id" db:"question_id"`
	Mode              string    `json:"mode" db:"mode"`
	Submitter         string    `json:"submitter,omitempty" db:"submitter"`
	SourceHash        string    `json:"source_hash" db:"source_hash"`
	Source            string    `json:"source" db:"source"`
	Score             int       `json:"score" db:"score"`
	MaxScore          int       `json:"max_score" db:"max_score"`
	Status            string    `json:"status" db:"status"` // graded, blank, or an error kind
	Message           string    `json:"message,omitempty" db:"message"`
	Complexity        string    `json:"complexity,omitempty" db:"complexity"`
	OptimizationScore int       `json:"optimization_score" db:"optimization_score"`
	UsedStub          bool      `json:"used_stub" db:"used_stub"`
	DurationMS        int64     `json:"duration_ms" db:"duration_ms"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// NewJobRecord flattens a graded job into a log row.
func NewJobRecord(job *grader.Job, res *grader.GradingResult) *JobRecord {
	sum := sha256.Sum256([]byte(job.Source))
	rec := &JobRecord{
		ID:         job.ID,
		QuestionID: job.QuestionID,
		Mode:       string(job.Mode),
		Submitter:  job.Submitter,
		SourceHash: hex.EncodeToString(sum[:]),
		Source:     job.Source,
		Status:     "graded",
		CreatedAt:  job.SubmittedAt,
	}
	if res == nil {
		return rec
	}
	rec.Score = res.Score
	rec.MaxScore = res.MaxScore
	rec.Complexity = res.Complexity
	rec.OptimizationScore = res.OptimizationScore
	rec.UsedStub = res.UsedStub
	rec.DurationMS = res.DurationMS
	rec.Message = res.Message
	if res.Error != nil {
		rec.Status = string(res.Error.Kind)
		rec.Message = res.Error.Message
	}
	return rec
}

// SubmissionSummary is a submission without its per-question results, as
// returned by list queries.
type SubmissionSummary struct {
	ID                string    `json:"id" db:"id"`
	Submitter         string    `json:"submitter" db:"submitter"`
	Name              string    `json:"name,omitempty" db:"name"`
	CodingScore       int       `json:"coding_score" db:"coding_score"`
	OptimizationBonus int       `json:"optimization_bonus" db:"optimization_bonus"`
	TotalScore        int       `json:"total_score" db:"total_score"`
	MaxScore          int       `json:"max_score" db:"max_score"`
	TabSwitchCount    int       `json:"tab_switch_count" db:"tab_switch_count"`
	SubmittedAt       time.Time `json:"submitted_at" db:"submitted_at"`
}

// SubmissionFilter provides criteria for querying submissions.
type SubmissionFilter struct {
	Submitter string
	MinScore  int
	Since     *time.Time
	Limit     int
	Offset    int
}
