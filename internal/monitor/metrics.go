package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the grader. Every method is safe on
// a nil *Metrics so components can run without instrumentation.
type Metrics struct {
	Registry *prometheus.Registry

	JobsTotal         *prometheus.CounterVec
	JobDuration       *prometheus.HistogramVec
	StageDuration     *prometheus.HistogramVec
	JobErrors         *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	ActiveJobs        prometheus.Gauge
	WorkerCrashes     prometheus.Counter
	WorkerRestarts    prometheus.Counter
	CacheLookups      *prometheus.CounterVec
	SuspiciousSource  *prometheus.CounterVec
	SubmissionsTotal  *prometheus.CounterVec
	RequestsInFlight  prometheus.Gauge
	SourceSizeBytes   prometheus.Histogram
	OutputSizeBytes   prometheus.Histogram
	ArtifactsSwept    prometheus.Counter
	ResultWriteErrors prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics using a dedicated registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		Registry: reg,

		JobsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grader",
				Name:      "jobs_total",
				Help:      "Total number of grading jobs by question and status.",
			},
			[]string{"question", "status"},
		),

		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "grader",
				Name:      "job_duration_seconds",
				Help:      "Duration of grading jobs in seconds.",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
			},
			[]string{"question"},
		),

		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "grader",
				Name:      "stage_duration_seconds",
				Help:      "Duration of the compile and run stages.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			},
			[]string{"stage"},
		),

		JobErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grader",
				Name:      "job_errors_total",
				Help:      "Total grading errors by kind.",
			},
			[]string{"kind"},
		),

		QueueDepth: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "grader",
				Subsystem: "pool",
				Name:      "queue_depth",
				Help:      "Number of jobs waiting for a worker.",
			},
		),

		ActiveJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "grader",
				Subsystem: "pool",
				Name:      "active_jobs",
				Help:      "Number of jobs currently bound to a worker.",
			},
		),

		WorkerCrashes: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grader",
				Subsystem: "pool",
				Name:      "worker_crashes_total",
				Help:      "Total worker crashes.",
			},
		),

		WorkerRestarts: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grader",
				Subsystem: "pool",
				Name:      "worker_restarts_total",
				Help:      "Total worker restarts after a crash.",
			},
		),

		CacheLookups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grader",
				Subsystem: "cache",
				Name:      "lookups_total",
				Help:      "Result cache lookups by outcome.",
			},
			[]string{"outcome"},
		),

		SuspiciousSource: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grader",
				Name:      "suspicious_source_total",
				Help:      "Submissions containing suspicious constructs, by pattern.",
			},
			[]string{"pattern"},
		),

		SubmissionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "grader",
				Name:      "submissions_total",
				Help:      "Total exam submissions by status.",
			},
			[]string{"status"},
		),

		RequestsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "grader",
				Subsystem: "api",
				Name:      "requests_in_flight",
				Help:      "Number of HTTP requests currently being processed.",
			},
		),

		SourceSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "grader",
				Name:      "source_size_bytes",
				Help:      "Size of submitted source in bytes.",
				Buckets:   prometheus.ExponentialBuckets(100, 4, 8),
			},
		),

		OutputSizeBytes: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "grader",
				Name:      "output_size_bytes",
				Help:      "Size of program output in bytes.",
				Buckets:   prometheus.ExponentialBuckets(10, 4, 8),
			},
		),

		ArtifactsSwept: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grader",
				Subsystem: "sandbox",
				Name:      "orphan_artifacts_removed_total",
				Help:      "Stale build artifacts removed by the orphan sweep.",
			},
		),

		ResultWriteErrors: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "grader",
				Subsystem: "storage",
				Name:      "write_errors_total",
				Help:      "Submission results that could not be persisted.",
			},
		),
	}

	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.StageDuration,
		m.JobErrors,
		m.QueueDepth,
		m.ActiveJobs,
		m.WorkerCrashes,
		m.WorkerRestarts,
		m.CacheLookups,
		m.SuspiciousSource,
		m.SubmissionsTotal,
		m.RequestsInFlight,
		m.SourceSizeBytes,
		m.OutputSizeBytes,
		m.ArtifactsSwept,
		m.ResultWriteErrors,
	)

	return m
}

// RecordJob records metrics for a graded job.
func (m *Metrics) RecordJob(question, status string, durationSec float64) {
	if m == nil {
		return
	}
	m.JobsTotal.WithLabelValues(question, status).Inc()
	m.JobDuration.WithLabelValues(question).Observe(durationSec)
}

// RecordStage records the duration of a compile or run stage.
func (m *Metrics) RecordStage(stage string, durationSec float64) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(durationSec)
}

// RecordError records a grading error by kind.
func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.JobErrors.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) SetActiveJobs(n int) {
	if m == nil {
		return
	}
	m.ActiveJobs.Set(float64(n))
}

func (m *Metrics) RecordWorkerCrash() {
	if m == nil {
		return
	}
	m.WorkerCrashes.Inc()
}

func (m *Metrics) RecordWorkerRestart() {
	if m == nil {
		return
	}
	m.WorkerRestarts.Inc()
}

// RecordCacheLookup records a result cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.CacheLookups.WithLabelValues(outcome).Inc()
}

// RecordSuspicious records a suspicious construct found in a submission.
func (m *Metrics) RecordSuspicious(pattern string) {
	if m == nil {
		return
	}
	m.SuspiciousSource.WithLabelValues(pattern).Inc()
}

func (m *Metrics) RecordSubmission(status string) {
	if m == nil {
		return
	}
	m.SubmissionsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSizes(sourceBytes, outputBytes int) {
	if m == nil {
		return
	}
	m.SourceSizeBytes.Observe(float64(sourceBytes))
	m.OutputSizeBytes.Observe(float64(outputBytes))
}

func (m *Metrics) RecordArtifactsSwept(n int) {
	if m == nil || n == 0 {
		return
	}
	m.ArtifactsSwept.Add(float64(n))
}

func (m *Metrics) RecordWriteError() {
	if m == nil {
		return
	}
	m.ResultWriteErrors.Inc()
}
