package monitor

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "exam-grader"

// Tracer wraps OpenTelemetry tracing for the grading pipeline.
type Tracer struct {
	tracer trace.Tracer
}

// NewTracer creates a new Tracer using the global TracerProvider.
func NewTracer() *Tracer {
	return &Tracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartSpan creates a new span and returns the updated context. A nil Tracer
// returns a non-recording span.
func (t *Tracer) StartSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if t == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return t.tracer.Start(ctx, fmt.Sprintf("grader.%s", name),
		trace.WithAttributes(attrs...),
	)
}

var (
	AttrJobID      = attribute.Key("grader.job.id")
	AttrQuestionID = attribute.Key("grader.question.id")
	AttrMode       = attribute.Key("grader.mode")
	AttrScore      = attribute.Key("grader.score")
	AttrErrorKind  = attribute.Key("grader.error.kind")
	AttrExitCode   = attribute.Key("grader.exit_code")
	AttrDurationMS = attribute.Key("grader.duration_ms")
)
