package storage

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"exam-grader/internal/backoff"
	"exam-grader/internal/grader"
	"exam-grader/internal/monitor"
)

// JobLogger persists one job log row. *DB implements it.
type JobLogger interface {
	LogJob(ctx context.Context, rec *JobRecord) error
}

type WriterOptions struct {
	BufferSize int
	MaxRetries int
	RetryBase  time.Duration
	RetryMax   time.Duration
	Metrics    *monitor.Metrics
}

// ResultWriter logs graded jobs off the grading path. Record never blocks; a
// full buffer drops the entry.
type ResultWriter struct {
	db   JobLogger
	opts WriterOptions
	ch   chan *JobRecord
	wg   sync.WaitGroup
	done chan struct{}
	rng  *rand.Rand
}

func NewResultWriter(db JobLogger, opts WriterOptions) *ResultWriter {
	if opts.BufferSize < 1 {
		opts.BufferSize = 10000
	}
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.RetryBase <= 0 {
		opts.RetryBase = 100 * time.Millisecond
	}
	if opts.RetryMax <= 0 {
		opts.RetryMax = 5 * time.Second
	}
	return &ResultWriter{
		db:   db,
		opts: opts,
		ch:   make(chan *JobRecord, opts.BufferSize),
		done: make(chan struct{}),
		rng:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (w *ResultWriter) Start() {
	w.wg.Add(1)
	go w.processLoop()
}

// Record implements grader.JobRecorder.
func (w *ResultWriter) Record(job *grader.Job, res *grader.GradingResult) {
	w.Log(NewJobRecord(job, res))
}

func (w *ResultWriter) Log(rec *JobRecord) {
	select {
	case w.ch <- rec:
	default:
		w.opts.Metrics.RecordWriteError()
		log.Warn().Str("job_id", rec.ID).Msg("job log buffer full, dropping entry")
	}
}

// Flush stops the writer after draining buffered entries, or gives up after
// timeout.
func (w *ResultWriter) Flush(timeout time.Duration) {
	close(w.done)

	doneCh := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(doneCh)
	}()

	select {
	case <-doneCh:
		log.Info().Msg("job log writer flushed")
	case <-time.After(timeout):
		log.Warn().Msg("job log writer flush timed out")
	}
}

func (w *ResultWriter) processLoop() {
	defer w.wg.Done()

	for {
		select {
		case rec := <-w.ch:
			w.writeWithRetry(rec)
		case <-w.done:
			for {
				select {
				case rec := <-w.ch:
					w.writeWithRetry(rec)
				default:
					return
				}
			}
		}
	}
}

func (w *ResultWriter) writeWithRetry(rec *JobRecord) {
	for attempt := 0; attempt <= w.opts.MaxRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.db.LogJob(ctx, rec)
		cancel()

		if err == nil {
			return
		}

		if attempt < w.opts.MaxRetries {
			delay := backoff.Compute(backoff.ExpEqualJitter, w.opts.RetryBase, w.opts.RetryMax, attempt, w.rng)
			log.Warn().
				Err(err).
				Str("job_id", rec.ID).
				Int("attempt", attempt+1).
				Dur("backoff", delay).
				Msg("job log write failed, retrying")
			time.Sleep(delay)
		} else {
			w.opts.Metrics.RecordWriteError()
			log.Error().
				Err(err).
				Str("job_id", rec.ID).
				Msg("job log write failed permanently after retries")
		}
	}
}
