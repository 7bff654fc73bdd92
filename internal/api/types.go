package api

import (
	"time"

	"exam-grader/internal/catalog"
	"exam-grader/internal/storage"
)

// GradeRequest asks for one answer to be graded against one question.
type GradeRequest struct {
	QuestionID int    `json:"question_id"`
	Code       string `json:"code"`
}

// SubmitRequest is a full exam attempt.
type SubmitRequest struct {
	Submitter      string         `json:"submitter"`
	Name           string         `json:"name,omitempty"`
	Answers        map[int]string `json:"answers"`
	TabSwitchCount int            `json:"tab_switch_count,omitempty"`
}

// Duration wraps time.Duration for JSON marshaling as a string like "10s".
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return []byte(`"` + d.String() + `"`), nil
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	s := string(b)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = dur
	return nil
}

// QuestionSummary is what a candidate sees before answering: the function to
// write and a stub to start from. Tests stay hidden.
type QuestionSummary struct {
	ID        int    `json:"id"`
	Title     string `json:"title"`
	Function  string `json:"function"`
	Stub      string `json:"stub"`
	NumTests  int    `json:"num_tests"`
	MaxScore  int    `json:"max_score"`
	TestScore int    `json:"test_code_max_score"`
	Profile   string `json:"profile"`
}

type QuestionsResponse struct {
	Questions []QuestionSummary `json:"questions"`
	Modes     []catalog.Mode    `json:"modes"`
}

type SubmissionListResponse struct {
	Submissions []storage.SubmissionSummary `json:"submissions"`
	Count       int                         `json:"count"`
}

// ErrorResponse is returned for API errors.
type ErrorResponse struct {
	Error      string `json:"error"`
	Code       string `json:"code"`
	RequestID  string `json:"request_id"`
	RetryAfter int    `json:"retry_after,omitempty"`
}

// HealthResponse is returned by the health check endpoint.
type HealthResponse struct {
	Status  string          `json:"status"`
	Checks  map[string]bool `json:"checks"`
	Workers int             `json:"workers"`
	Queued  int             `json:"queued"`
	Uptime  Duration        `json:"uptime"`
}
