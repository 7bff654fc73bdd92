package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"exam-grader/internal/catalog"
	"exam-grader/internal/grader"
	"exam-grader/internal/monitor"
	"exam-grader/internal/pool"
	"exam-grader/internal/storage"
	"exam-grader/internal/synth"
)

// RetryAfterSeconds is sent with every 503 caused by a saturated pool.
const RetryAfterSeconds = 10

// Grading is the part of grader.Service the HTTP layer needs.
type Grading interface {
	GradeJob(ctx context.Context, questionID int, source string, mode catalog.Mode) (*grader.GradingResult, error)
	Submit(ctx context.Context, sub grader.Submission) (*grader.SubmissionResult, error)
	SubmitWithProgress(ctx context.Context, sub grader.Submission, progress grader.Progress) (*grader.SubmissionResult, error)
	ResetExam(ctx context.Context) (int64, error)
	DeleteSubmission(ctx context.Context, id string) (string, error)
	PoolStatus() pool.Status
	Catalog() *catalog.Catalog
	LimitedTests() int
}

// SubmissionReader serves stored submissions. storage.DB implements it.
type SubmissionReader interface {
	GetSubmission(ctx context.Context, id string) (*grader.SubmissionResult, error)
	ListSubmissions(ctx context.Context, filter storage.SubmissionFilter) ([]storage.SubmissionSummary, error)
}

type Handlers struct {
	grading     Grading
	submissions SubmissionReader
	metrics     *monitor.Metrics
	maxSource   int
}

func NewHandlers(g Grading, submissions SubmissionReader, metrics *monitor.Metrics, maxSource int) *Handlers {
	return &Handlers{
		grading:     g,
		submissions: submissions,
		metrics:     metrics,
		maxSource:   maxSource,
	}
}

// HandleGrade grades code against every test of a question.
func (h *Handlers) HandleGrade(w http.ResponseWriter, r *http.Request) {
	h.grade(w, r, catalog.ModeFull)
}

// HandleTestCode grades code against the first few tests only.
func (h *Handlers) HandleTestCode(w http.ResponseWriter, r *http.Request) {
	h.grade(w, r, catalog.ModeLimited)
}

func (h *Handlers) grade(w http.ResponseWriter, r *http.Request, mode catalog.Mode) {
	var req GradeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if req.QuestionID < 1 {
		writeError(w, "question_id is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, "code is required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}
	if h.maxSource > 0 && len(req.Code) > h.maxSource {
		writeError(w, "code exceeds "+strconv.Itoa(h.maxSource)+" bytes", "INVALID_REQUEST", http.StatusRequestEntityTooLarge, r)
		return
	}

	if h.metrics != nil {
		h.metrics.SourceSizeBytes.Observe(float64(len(req.Code)))
	}

	res, err := h.grading.GradeJob(r.Context(), req.QuestionID, req.Code, mode)
	if err != nil {
		h.writeGradingError(w, r, err)
		return
	}

	status := http.StatusOK
	if res.Error != nil && res.Error.Kind == grader.KindNoTestCases {
		status = http.StatusNotFound
	}
	writeJSON(w, status, res)
}

// HandleSubmit grades and stores a full exam attempt.
func (h *Handlers) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	sub, ok := decodeSubmission(w, r)
	if !ok {
		return
	}

	res, err := h.grading.Submit(r.Context(), sub)
	if err != nil {
		h.writeGradingError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// HandleSubmitStream is HandleSubmit over Server-Sent Events: one "question"
// event per graded answer, then "done" with the full result or "error".
func (h *Handlers) HandleSubmitStream(w http.ResponseWriter, r *http.Request) {
	sub, ok := decodeSubmission(w, r)
	if !ok {
		return
	}

	sse := NewSSEWriter(w)
	if sse == nil {
		writeError(w, "streaming not supported", "STREAMING_UNSUPPORTED", http.StatusInternalServerError, r)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	res, err := h.grading.SubmitWithProgress(r.Context(), sub, func(_ int, qr *grader.GradingResult) {
		if err := sse.SendJSON("question", qr); err != nil {
			log.Debug().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("progress event not delivered")
		}
	})
	if err != nil {
		msg, code, _ := classifyError(err)
		_ = sse.SendJSON("error", ErrorResponse{Error: msg, Code: code, RequestID: RequestIDFromContext(r.Context())})
		return
	}
	_ = sse.SendJSON("done", res)
}

func decodeSubmission(w http.ResponseWriter, r *http.Request) (grader.Submission, bool) {
	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid JSON: "+err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return grader.Submission{}, false
	}
	return grader.Submission{
		Submitter:      strings.TrimSpace(req.Submitter),
		Name:           strings.TrimSpace(req.Name),
		Answers:        req.Answers,
		TabSwitchCount: req.TabSwitchCount,
	}, true
}

func (h *Handlers) HandleGetSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "submission ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	if h.submissions == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	sub, err := h.submissions.GetSubmission(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, "submission not found", "NOT_FOUND", http.StatusNotFound, r)
			return
		}
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("loading submission failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handlers) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	if h.submissions == nil {
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	}

	filter, err := parseFilter(r)
	if err != nil {
		writeError(w, err.Error(), "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	subs, err := h.submissions.ListSubmissions(r.Context(), filter)
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("listing submissions failed")
		writeError(w, "query failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	if subs == nil {
		subs = []storage.SubmissionSummary{}
	}

	writeJSON(w, http.StatusOK, SubmissionListResponse{Submissions: subs, Count: len(subs)})
}

func parseFilter(r *http.Request) (storage.SubmissionFilter, error) {
	q := r.URL.Query()
	filter := storage.SubmissionFilter{Submitter: q.Get("submitter")}

	ints := map[string]*int{
		"min_score": &filter.MinScore,
		"limit":     &filter.Limit,
		"offset":    &filter.Offset,
	}
	for name, dst := range ints {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return filter, errors.New(name + " must be a non-negative integer")
		}
		*dst = n
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return filter, errors.New("since must be an RFC 3339 timestamp")
		}
		filter.Since = &t
	}
	return filter, nil
}

// HandleReset removes every submission so the exam can be retaken.
func (h *Handlers) HandleReset(w http.ResponseWriter, r *http.Request) {
	removed, err := h.grading.ResetExam(r.Context())
	if err != nil {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("exam reset failed")
		writeError(w, "reset failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"removed": removed})
}

// HandleDeleteSubmission removes one submission and lets its submitter retake
// the exam.
func (h *Handlers) HandleDeleteSubmission(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, "submission ID required", "INVALID_REQUEST", http.StatusBadRequest, r)
		return
	}

	submitter, err := h.grading.DeleteSubmission(r.Context(), id)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, "submission not found", "NOT_FOUND", http.StatusNotFound, r)
		return
	case errors.Is(err, grader.ErrNoStore):
		writeError(w, "database not configured", "DB_UNAVAILABLE", http.StatusServiceUnavailable, r)
		return
	case err != nil:
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("deleting submission failed")
		writeError(w, "delete failed", "INTERNAL", http.StatusInternalServerError, r)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"deleted_id": id, "submitter": submitter})
}

// HandleQuestions lists the catalog with a starter stub per question.
func (h *Handlers) HandleQuestions(w http.ResponseWriter, r *http.Request) {
	cat := h.grading.Catalog()
	limited := h.grading.LimitedTests()

	resp := QuestionsResponse{
		Modes: []catalog.Mode{catalog.ModeFull, catalog.ModeLimited},
	}
	for _, id := range cat.IDs() {
		q, _ := cat.Get(id)
		resp.Questions = append(resp.Questions, QuestionSummary{
			ID:        q.ID,
			Title:     q.Title,
			Function:  q.Function,
			Stub:      synth.Stub(q),
			NumTests:  len(q.Tests),
			MaxScore:  cat.MaxScore(id, catalog.ModeFull, limited),
			TestScore: cat.MaxScore(id, catalog.ModeLimited, limited),
			Profile:   string(q.Profile),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handlers) HandlePoolStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.grading.PoolStatus())
}

func (h *Handlers) writeGradingError(w http.ResponseWriter, r *http.Request, err error) {
	msg, code, status := classifyError(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(RetryAfterSeconds))
		writeJSON(w, status, ErrorResponse{
			Error:      msg,
			Code:       code,
			RequestID:  RequestIDFromContext(r.Context()),
			RetryAfter: RetryAfterSeconds,
		})
		return
	}
	if status == http.StatusInternalServerError {
		log.Error().Err(err).Str("request_id", RequestIDFromContext(r.Context())).Msg("grading failed")
	}
	writeError(w, msg, code, status, r)
}

// classifyError maps service errors onto an HTTP status and error code.
func classifyError(err error) (msg, code string, status int) {
	switch {
	case errors.Is(err, grader.ErrBusy):
		return "Server busy, please retry", "SERVICE_BUSY", http.StatusServiceUnavailable
	case errors.Is(err, grader.ErrInvalidSubmission):
		return err.Error(), "INVALID_REQUEST", http.StatusBadRequest
	case errors.Is(err, grader.ErrDuplicate):
		return "a submission from this submitter already exists", "DUPLICATE_SUBMISSION", http.StatusConflict
	case errors.Is(err, context.Canceled):
		return "request cancelled", "CANCELLED", 499
	}
	return "Internal execution error", "INTERNAL", http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error().Err(err).Msg("failed to encode response")
	}
}

func writeError(w http.ResponseWriter, msg, code string, status int, r *http.Request) {
	resp := ErrorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	}
	writeJSON(w, status, resp)
}
