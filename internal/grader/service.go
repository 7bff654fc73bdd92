package grader

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"exam-grader/internal/backoff"
	"exam-grader/internal/catalog"
	"exam-grader/internal/monitor"
	"exam-grader/internal/pool"
)

const DefaultSubmissionTimeout = 30 * time.Second

// DefaultSubmitterPattern accepts roll numbers, usernames and the like.
var DefaultSubmitterPattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// ResultCache stores graded results by CacheKey.
type ResultCache interface {
	Get(ctx context.Context, key string) (*GradingResult, bool, error)
	Put(ctx context.Context, key string, res *GradingResult) error
}

// SubmissionGuard admits one submission per submitter.
type SubmissionGuard interface {
	Acquire(ctx context.Context, submitter string) error
	Release(ctx context.Context, submitter string) error
}

// SubmissionStore persists graded submissions.
type SubmissionStore interface {
	SubmissionExists(ctx context.Context, submitter string) (bool, error)
	SaveSubmission(ctx context.Context, res *SubmissionResult) error
}

// JobRecorder receives every graded job, e.g. for an audit log. Record must
// not block.
type JobRecorder interface {
	Record(job *Job, res *GradingResult)
}

type ServiceOptions struct {
	Pool pool.Options

	// ExamQuestions are the questions a submission answers. Empty means
	// every question in the catalog.
	ExamQuestions     []int
	SubmissionTimeout time.Duration
	SubmitterPattern  *regexp.Regexp
	Bonus             BonusPolicy

	Cache    ResultCache
	Guard    SubmissionGuard
	Store    SubmissionStore
	Recorder JobRecorder
	Metrics  *monitor.Metrics
}

// Service is the entry point of the grading core. It runs every job through
// the worker pool and turns pool failures into ErrBusy or ErrInternal.
type Service struct {
	pipeline *Pipeline
	pool     *pool.Pool[*Job, *GradingResult]
	opts     ServiceOptions
}

func NewService(p *Pipeline, opts ServiceOptions) *Service {
	if len(opts.ExamQuestions) == 0 {
		opts.ExamQuestions = p.Catalog().IDs()
	}
	if opts.SubmissionTimeout <= 0 {
		opts.SubmissionTimeout = DefaultSubmissionTimeout
	}
	if opts.SubmitterPattern == nil {
		opts.SubmitterPattern = DefaultSubmitterPattern
	}
	if opts.Bonus == (BonusPolicy{}) {
		opts.Bonus = DefaultBonusPolicy()
	}
	if opts.Pool.RestartPolicy == "" {
		opts.Pool.RestartPolicy = backoff.Fixed
	}
	if opts.Pool.Metrics == nil {
		opts.Pool.Metrics = opts.Metrics
	}

	s := &Service{pipeline: p, opts: opts}
	s.pool = pool.New(s.process, opts.Pool)
	return s
}

// process is the worker body. Per-job failures travel as *GradingError so the
// pool counts them, alongside the result that describes them.
func (s *Service) process(ctx context.Context, job *Job) (*GradingResult, error) {
	res := s.pipeline.Grade(ctx, job)
	if s.opts.Recorder != nil {
		s.opts.Recorder.Record(job, res)
	}
	if res.Error != nil {
		return res, res.Error
	}
	return res, nil
}

// GradeJob grades source against one question. The error is non-nil only when
// the job could not be run at all: ErrBusy if it waited too long for a worker,
// ErrInternal if its worker crashed or the pool is shut down. Compile, run and
// catalog failures are reported in the result.
func (s *Service) GradeJob(ctx context.Context, questionID int, source string, mode catalog.Mode) (*GradingResult, error) {
	return s.gradeJob(ctx, NewJob(questionID, source, mode))
}

func (s *Service) gradeJob(ctx context.Context, job *Job) (*GradingResult, error) {
	key := CacheKey(job.QuestionID, job.Mode, job.Source)
	if s.opts.Cache != nil {
		cached, ok, err := s.opts.Cache.Get(ctx, key)
		if err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("result cache lookup failed")
		}
		s.opts.Metrics.RecordCacheLookup(ok)
		if ok {
			cached.JobID = job.ID
			cached.Cached = true
			return cached, nil
		}
	}

	res, err := s.pool.Submit(ctx, job)

	var gerr *GradingError
	switch {
	case err == nil:
	case errors.As(err, &gerr) && gerr.Kind != KindPoolInternal:
	case errors.Is(err, pool.ErrTimeout):
		s.opts.Metrics.RecordError(string(KindPoolTimeout))
		return s.poolFailure(job, KindPoolTimeout, "Server busy, please retry"), ErrBusy
	case errors.Is(err, context.Canceled):
		return nil, err
	default:
		s.opts.Metrics.RecordError(string(KindPoolInternal))
		log.Error().Err(err).Str("job_id", job.ID).Msg("job failed inside the pool")
		return s.poolFailure(job, KindPoolInternal, "Internal execution error"), fmt.Errorf("%w: %w", ErrInternal, err)
	}

	if s.opts.Cache != nil && res.Error == nil {
		if err := s.opts.Cache.Put(ctx, key, res); err != nil {
			log.Warn().Err(err).Str("job_id", job.ID).Msg("result cache store failed")
		}
	}
	return res, nil
}

func (s *Service) poolFailure(job *Job, kind ErrorKind, msg string) *GradingResult {
	maxScore := s.pipeline.Catalog().MaxScore(job.QuestionID, job.Mode, s.pipeline.LimitedTests())
	return &GradingResult{
		JobID:      job.ID,
		QuestionID: job.QuestionID,
		Mode:       job.Mode,
		MaxScore:   maxScore,
		Error:      &GradingError{Kind: kind, Message: msg},
	}
}

// Progress is called once per exam question as soon as its result is known.
// Calls may come from several goroutines at once.
type Progress func(questionID int, res *GradingResult)

// GradeSubmission grades every exam question of sub concurrently under one
// overall deadline. Blank answers score zero without running.
func (s *Service) GradeSubmission(ctx context.Context, sub Submission) (*SubmissionResult, error) {
	return s.gradeSubmission(ctx, sub, nil)
}

func (s *Service) gradeSubmission(ctx context.Context, sub Submission, progress Progress) (*SubmissionResult, error) {
	if err := s.ValidateSubmission(sub); err != nil {
		return nil, err
	}
	if progress == nil {
		progress = func(int, *GradingResult) {}
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, s.opts.SubmissionTimeout)
	defer cancel()

	questions := s.opts.ExamQuestions
	results := make([]*GradingResult, len(questions))

	g, gctx := errgroup.WithContext(ctx)
	for i, qid := range questions {
		source := sub.Answers[qid]
		if strings.TrimSpace(source) == "" {
			results[i] = &GradingResult{
				QuestionID: qid,
				Mode:       catalog.ModeFull,
				MaxScore:   s.pipeline.Catalog().MaxScore(qid, catalog.ModeFull, 0),
				Tests:      nil,
				Message:    MessageNoCode,
			}
			progress(qid, results[i])
			continue
		}

		job := NewJob(qid, source, catalog.ModeFull)
		job.Submitter = sub.Submitter
		g.Go(func() error {
			res, err := s.gradeJob(gctx, job)
			if err != nil {
				return err
			}
			results[i] = res
			progress(qid, res)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrInternal) {
			return nil, ErrBusy
		}
		return nil, err
	}

	out := &SubmissionResult{
		ID:             uuid.New().String(),
		Submitter:      sub.Submitter,
		Name:           sub.Name,
		Results:        make(map[int]*GradingResult, len(questions)),
		TabSwitchCount: sub.TabSwitchCount,
		SubmittedAt:    time.Now().UTC(),
	}

	var optTotal, ran int
	for i, qid := range questions {
		res := results[i]
		out.Results[qid] = res
		out.CodingScore += res.Score
		out.CodingMaxScore += res.MaxScore
		if res.Ran() {
			optTotal += res.OptimizationScore
			ran++
		}
	}
	if ran > 0 {
		out.OptimizationScore = float64(optTotal) / float64(ran)
	}
	out.OptimizationBonus = s.opts.Bonus.Bonus(out.OptimizationScore)
	out.TotalScore = out.CodingScore + out.OptimizationBonus
	out.MaxScore = out.CodingMaxScore + s.opts.Bonus.MaxPoints
	out.ProcessingMS = time.Since(start).Milliseconds()

	return out, nil
}

// Submit is the full exam flow: admit the submitter once, grade, persist.
// A failed attempt releases the submitter so they can retry.
func (s *Service) Submit(ctx context.Context, sub Submission) (*SubmissionResult, error) {
	return s.SubmitWithProgress(ctx, sub, nil)
}

// SubmitWithProgress is Submit with a callback for per-question results.
func (s *Service) SubmitWithProgress(ctx context.Context, sub Submission, progress Progress) (*SubmissionResult, error) {
	if err := s.ValidateSubmission(sub); err != nil {
		return nil, err
	}

	if s.opts.Guard != nil {
		if err := s.opts.Guard.Acquire(ctx, sub.Submitter); err != nil {
			if errors.Is(err, ErrDuplicate) {
				s.opts.Metrics.RecordSubmission("duplicate")
			}
			return nil, err
		}
	}
	if s.opts.Store != nil {
		exists, err := s.opts.Store.SubmissionExists(ctx, sub.Submitter)
		if err != nil {
			s.release(sub.Submitter)
			return nil, fmt.Errorf("checking existing submission: %w", err)
		}
		if exists {
			s.opts.Metrics.RecordSubmission("duplicate")
			return nil, ErrDuplicate
		}
	}

	res, err := s.gradeSubmission(ctx, sub, progress)
	if err != nil {
		s.release(sub.Submitter)
		s.opts.Metrics.RecordSubmission("failed")
		return nil, err
	}

	if s.opts.Store != nil {
		if err := s.opts.Store.SaveSubmission(ctx, res); err != nil {
			s.release(sub.Submitter)
			s.opts.Metrics.RecordSubmission("failed")
			return nil, fmt.Errorf("saving submission: %w", err)
		}
	}

	s.opts.Metrics.RecordSubmission("graded")
	log.Info().
		Str("submission_id", res.ID).
		Str("submitter", res.Submitter).
		Int("total_score", res.TotalScore).
		Int("max_score", res.MaxScore).
		Int64("processing_ms", res.ProcessingMS).
		Msg("submission graded")

	return res, nil
}

func (s *Service) release(submitter string) {
	if s.opts.Guard == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.opts.Guard.Release(ctx, submitter); err != nil {
		log.Warn().Err(err).Str("submitter", submitter).Msg("failed to release submission guard")
	}
}

// ValidateSubmission checks the submitter and that every answer targets an
// exam question.
func (s *Service) ValidateSubmission(sub Submission) error {
	if !s.opts.SubmitterPattern.MatchString(sub.Submitter) {
		return fmt.Errorf("%w: submitter %q does not match %s", ErrInvalidSubmission, sub.Submitter, s.opts.SubmitterPattern)
	}
	for qid := range sub.Answers {
		if !slices.Contains(s.opts.ExamQuestions, qid) {
			return fmt.Errorf("%w: question %s is not part of the exam", ErrInvalidSubmission, strconv.Itoa(qid))
		}
	}
	return nil
}

// ResetExam deletes every stored submission and lifts every submitter lock so
// the exam can be taken again. Store and guard take part only if they support
// clearing. It returns the number of submissions removed.
func (s *Service) ResetExam(ctx context.Context) (int64, error) {
	var removed int64
	if c, ok := s.opts.Store.(interface {
		ClearSubmissions(ctx context.Context) (int64, error)
	}); ok {
		n, err := c.ClearSubmissions(ctx)
		if err != nil {
			return 0, fmt.Errorf("clearing submissions: %w", err)
		}
		removed = n
	}
	if c, ok := s.opts.Guard.(interface {
		Clear(ctx context.Context) (int, error)
	}); ok {
		if _, err := c.Clear(ctx); err != nil {
			return removed, fmt.Errorf("clearing submission locks: %w", err)
		}
	}
	log.Warn().Int64("removed", removed).Msg("exam reset")
	return removed, nil
}

// DeleteSubmission removes one stored submission and lifts its submitter's
// lock so they can submit again. It returns the submitter.
func (s *Service) DeleteSubmission(ctx context.Context, id string) (string, error) {
	d, ok := s.opts.Store.(interface {
		DeleteSubmission(ctx context.Context, id string) (string, error)
	})
	if !ok {
		return "", ErrNoStore
	}
	submitter, err := d.DeleteSubmission(ctx, id)
	if err != nil {
		return "", err
	}
	s.release(submitter)
	log.Warn().Str("submission_id", id).Str("submitter", submitter).Msg("submission deleted")
	return submitter, nil
}

func (s *Service) Catalog() *catalog.Catalog {
	return s.pipeline.Catalog()
}

func (s *Service) LimitedTests() int {
	return s.pipeline.LimitedTests()
}

func (s *Service) ExamQuestions() []int {
	return slices.Clone(s.opts.ExamQuestions)
}

func (s *Service) PoolStatus() pool.Status {
	return s.pool.Status()
}

func (s *Service) Shutdown(ctx context.Context) error {
	return s.pool.Shutdown(ctx)
}
