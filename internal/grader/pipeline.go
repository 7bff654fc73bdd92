package grader

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/codes"

	"exam-grader/internal/analyzer"
	"exam-grader/internal/catalog"
	"exam-grader/internal/evaluate"
	"exam-grader/internal/monitor"
	"exam-grader/internal/sandbox"
	"exam-grader/internal/synth"
)

// DefaultLimitedTests is how many tests a limited-mode job runs.
const DefaultLimitedTests = 3

// Executor builds and runs one synthesized program.
type Executor interface {
	Execute(ctx context.Context, req sandbox.Request) (*sandbox.Outcome, error)
}

type PipelineOptions struct {
	LimitedTests int
	Detector     *monitor.SourceDetector
	Metrics      *monitor.Metrics
	Tracer       *monitor.Tracer
}

// Pipeline grades a single job: synthesize, execute, evaluate, analyze.
type Pipeline struct {
	catalog  *catalog.Catalog
	exec     Executor
	limited  int
	detector *monitor.SourceDetector
	metrics  *monitor.Metrics
	tracer   *monitor.Tracer
}

func NewPipeline(cat *catalog.Catalog, exec Executor, opts PipelineOptions) *Pipeline {
	if opts.LimitedTests <= 0 {
		opts.LimitedTests = DefaultLimitedTests
	}
	return &Pipeline{
		catalog:  cat,
		exec:     exec,
		limited:  opts.LimitedTests,
		detector: opts.Detector,
		metrics:  opts.Metrics,
		tracer:   opts.Tracer,
	}
}

func (p *Pipeline) Catalog() *catalog.Catalog {
	return p.catalog
}

func (p *Pipeline) LimitedTests() int {
	return p.limited
}

// Grade runs the whole pipeline for job. Every failure is captured in the
// returned result; Grade never returns nil.
func (p *Pipeline) Grade(ctx context.Context, job *Job) *GradingResult {
	start := time.Now()
	question := strconv.Itoa(job.QuestionID)

	ctx, span := p.tracer.StartSpan(ctx, "grade",
		monitor.AttrJobID.String(job.ID),
		monitor.AttrQuestionID.Int(job.QuestionID),
		monitor.AttrMode.String(string(job.Mode)),
	)
	defer span.End()

	logger := log.With().
		Str("job_id", job.ID).
		Int("question_id", job.QuestionID).
		Str("mode", string(job.Mode)).
		Logger()

	res := p.grade(ctx, job)
	res.DurationMS = time.Since(start).Milliseconds()

	status := "graded"
	if res.Error != nil {
		status = string(res.Error.Kind)
		p.metrics.RecordError(status)
		span.SetAttributes(monitor.AttrErrorKind.String(status))
		span.SetStatus(codes.Error, res.Error.Message)
		logger.Info().Str("kind", status).Int64("duration_ms", res.DurationMS).Msg("job failed")
	} else {
		span.SetAttributes(monitor.AttrScore.Int(res.Score))
		logger.Info().
			Int("score", res.Score).
			Int("max_score", res.MaxScore).
			Str("complexity", res.Complexity).
			Int64("duration_ms", res.DurationMS).
			Msg("job graded")
	}
	span.SetAttributes(monitor.AttrDurationMS.Int64(res.DurationMS))
	p.metrics.RecordJob(question, status, time.Since(start).Seconds())

	return res
}

func (p *Pipeline) grade(ctx context.Context, job *Job) *GradingResult {
	res := &GradingResult{
		JobID:      job.ID,
		QuestionID: job.QuestionID,
		Mode:       job.Mode,
		Tests:      []evaluate.TestResult{},
	}

	q, ok := p.catalog.Get(job.QuestionID)
	if !ok {
		res.Error = &GradingError{
			Kind:    KindNoTestCases,
			Message: fmt.Sprintf("No test cases available for question %d", job.QuestionID),
		}
		return res
	}
	tests, err := p.catalog.Tests(job.QuestionID, job.Mode, p.limited)
	if err != nil {
		res.Error = &GradingError{Kind: KindNoTestCases, Message: err.Error()}
		return res
	}
	for _, tc := range tests {
		res.MaxScore += tc.Points
	}

	if p.detector != nil {
		p.detector.AnalyzeSource(job.ID, job.Source)
	}

	prog := synth.SynthesizeTests(q, tests, job.Source)
	res.UsedStub = prog.UsedStub

	_, span := p.tracer.StartSpan(ctx, "execute")
	out, err := p.exec.Execute(ctx, sandbox.Request{
		ExecID:     job.ID,
		QuestionID: job.QuestionID,
		Source:     prog.Source,
	})
	if out != nil {
		span.SetAttributes(monitor.AttrExitCode.Int(out.ExitCode))
	}
	span.End()

	if err != nil {
		res.Error = classify(err)
		return res
	}

	if p.detector != nil {
		p.detector.AnalyzeOutput(out.Stdout)
	}

	report := evaluate.Evaluate(out.Stdout, tests, q.Shape)
	if prog.UsedStub {
		// The stub's echo can coincide with an expected output.
		report = evaluate.Forfeit(report)
	}
	res.Score = report.Score
	res.MaxScore = report.MaxScore
	res.Tests = report.Tests
	if prog.UsedStub {
		return res
	}

	analysis := analyzer.Analyze(job.Source, q.Profile)
	res.Complexity = analysis.Complexity
	res.OptimizationScore = analysis.OptimizationScore

	return res
}

// classify maps an engine failure onto the per-job error taxonomy.
func classify(err error) *GradingError {
	detail := sandbox.Detail(err)
	switch {
	case sandbox.IsCompileError(err):
		return &GradingError{Kind: KindCompileError, Message: "Compilation Error: " + detail}
	case sandbox.IsTimeLimit(err):
		return &GradingError{
			Kind:    KindTimeLimit,
			Message: "Time Limit Exceeded (TLE): Your solution is too slow. Consider optimizing your algorithm.",
		}
	case sandbox.IsOutputLimit(err):
		return &GradingError{Kind: KindOutputLimit, Message: "Output Limit Exceeded: " + detail}
	case sandbox.IsRuntimeError(err):
		return &GradingError{Kind: KindRuntimeError, Message: "Runtime Error: " + detail}
	}
	return &GradingError{Kind: KindPoolInternal, Message: "Processing Error: " + err.Error()}
}
