// Package pool runs jobs on a fixed set of supervised worker slots fed from a
// single FIFO queue.
package pool

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"math/rand"
	"runtime"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"exam-grader/internal/backoff"
	"exam-grader/internal/monitor"
)

var (
	ErrTimeout       = errors.New("job timed out waiting for a worker")
	ErrWorkerCrashed = errors.New("worker crashed while processing job")
	ErrClosed        = errors.New("pool is shut down")
)

// ProcessFunc handles one job. The context is cancelled when the pool shuts
// down. A panic inside ProcessFunc crashes the worker slot.
type ProcessFunc[T, R any] func(ctx context.Context, job T) (R, error)

type State string

const (
	StateRunning    State = "running"
	StateCrashed    State = "crashed"
	StateRestarting State = "restarting"
)

const (
	DefaultMinWorkers = 4
	DefaultMaxWorkers = 8
	DefaultJobTimeout = 30 * time.Second
	DefaultRestart    = time.Second
)

type Options struct {
	// Workers fixes the pool size. Zero sizes the pool from the CPU count
	// clamped to [MinWorkers, MaxWorkers].
	Workers    int
	MinWorkers int
	MaxWorkers int

	// JobTimeout is the caller-side ceiling for one Submit.
	JobTimeout time.Duration

	RestartPolicy backoff.Policy
	RestartBase   time.Duration
	RestartMax    time.Duration

	Metrics *monitor.Metrics
}

// Size returns the CPU count clamped to [lo, hi].
func Size(lo, hi int) int {
	if hi < lo {
		hi = lo
	}
	return min(max(runtime.NumCPU(), lo), hi)
}

type WorkerStatus struct {
	ID           int     `json:"id"`
	State        State   `json:"state"`
	Busy         bool    `json:"busy"`
	JobsHandled  uint64  `json:"jobs_handled"`
	ErrorCount   uint64  `json:"error_count"`
	AvgLatencyMS float64 `json:"avg_latency_ms"`
	Restarts     int     `json:"restarts"`
}

type Status struct {
	PoolSize   int            `json:"pool_size"`
	QueueDepth int            `json:"queue_depth"`
	ActiveJobs int            `json:"active_jobs"`
	Workers    []WorkerStatus `json:"workers"`
}

type result[R any] struct {
	value R
	err   error
}

type task[T, R any] struct {
	job  T
	elem *list.Element // non-nil while queued
	done chan result[R]
	once sync.Once
}

// finish settles the task. Only the first call has any effect.
func (t *task[T, R]) finish(value R, err error) {
	t.once.Do(func() {
		t.done <- result[R]{value: value, err: err}
	})
}

type slot[T, R any] struct {
	id      int
	state   State
	busy    bool
	current *task[T, R]
	jobs    chan *task[T, R]

	jobsHandled  uint64
	errorCount   uint64
	totalLatency time.Duration
	restarts     int
	crashes      int // consecutive, reset by a clean job
}

type Pool[T, R any] struct {
	fn   ProcessFunc[T, R]
	opts Options

	mu     sync.Mutex
	queue  *list.List
	slots  []*slot[T, R]
	closed bool

	crashed chan int
	rng     *rand.Rand

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New starts the worker slots and the supervisor.
func New[T, R any](fn ProcessFunc[T, R], opts Options) *Pool[T, R] {
	if opts.MinWorkers <= 0 {
		opts.MinWorkers = DefaultMinWorkers
	}
	if opts.MaxWorkers <= 0 {
		opts.MaxWorkers = DefaultMaxWorkers
	}
	if opts.Workers <= 0 {
		opts.Workers = Size(opts.MinWorkers, opts.MaxWorkers)
	}
	if opts.JobTimeout <= 0 {
		opts.JobTimeout = DefaultJobTimeout
	}
	if opts.RestartPolicy == "" {
		opts.RestartPolicy = backoff.Fixed
	}
	if opts.RestartBase <= 0 {
		opts.RestartBase = DefaultRestart
	}
	if opts.RestartMax <= 0 {
		opts.RestartMax = 30 * opts.RestartBase
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool[T, R]{
		fn:      fn,
		opts:    opts,
		queue:   list.New(),
		slots:   make([]*slot[T, R], opts.Workers),
		crashed: make(chan int, opts.Workers),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		ctx:     ctx,
		cancel:  cancel,
	}

	p.mu.Lock()
	for i := range p.slots {
		s := &slot[T, R]{id: i}
		p.slots[i] = s
		p.startLocked(s)
	}
	p.mu.Unlock()

	p.wg.Add(1)
	go p.supervise()

	log.Info().
		Int("workers", opts.Workers).
		Dur("job_timeout", opts.JobTimeout).
		Str("restart_policy", string(opts.RestartPolicy)).
		Msg("worker pool started")

	return p
}

// Submit queues job and waits for its result. Jobs are dispatched in arrival
// order to the first free worker. If the job has not settled within the job
// timeout it is withdrawn: a queued job is never run, a running job's result
// is discarded. The value returned by the ProcessFunc is passed through even
// when it also returned an error.
func (p *Pool[T, R]) Submit(ctx context.Context, job T) (R, error) {
	var zero R
	t := &task[T, R]{job: job, done: make(chan result[R], 1)}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return zero, ErrClosed
	}
	t.elem = p.queue.PushBack(t)
	p.dispatchLocked()
	p.mu.Unlock()

	timer := time.NewTimer(p.opts.JobTimeout)
	defer timer.Stop()

	select {
	case res := <-t.done:
		return res.value, res.err
	case <-timer.C:
		p.withdraw(t, ErrTimeout)
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.withdraw(t, ErrTimeout)
		} else {
			p.withdraw(t, ctx.Err())
		}
	}

	// A worker may have settled the task first; whichever came first wins.
	res := <-t.done
	return res.value, res.err
}

func (p *Pool[T, R]) withdraw(t *task[T, R], err error) {
	p.mu.Lock()
	if t.elem != nil {
		p.queue.Remove(t.elem)
		t.elem = nil
		p.opts.Metrics.SetQueueDepth(p.queue.Len())
	}
	p.mu.Unlock()

	var zero R
	t.finish(zero, err)
}

// dispatchLocked hands queued jobs to free running slots, lowest slot ID
// first. Callers hold p.mu.
func (p *Pool[T, R]) dispatchLocked() {
	for p.queue.Len() > 0 {
		s := p.freeSlotLocked()
		if s == nil {
			break
		}
		t := p.queue.Remove(p.queue.Front()).(*task[T, R])
		t.elem = nil
		s.busy = true
		s.current = t
		s.jobs <- t
	}
	p.opts.Metrics.SetQueueDepth(p.queue.Len())
	p.opts.Metrics.SetActiveJobs(p.activeLocked())
}

func (p *Pool[T, R]) freeSlotLocked() *slot[T, R] {
	for _, s := range p.slots {
		if s.state == StateRunning && !s.busy {
			return s
		}
	}
	return nil
}

func (p *Pool[T, R]) activeLocked() int {
	n := 0
	for _, s := range p.slots {
		if s.busy {
			n++
		}
	}
	return n
}

// startLocked launches a worker goroutine on s with a fresh job channel.
func (p *Pool[T, R]) startLocked(s *slot[T, R]) {
	s.state = StateRunning
	s.busy = false
	s.current = nil
	jobs := make(chan *task[T, R], 1)
	s.jobs = jobs

	p.wg.Add(1)
	go p.work(s, jobs)
}

func (p *Pool[T, R]) work(s *slot[T, R], jobs <-chan *task[T, R]) {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case t := <-jobs:
			if !p.process(s, t) {
				return
			}
		}
	}
}

// process runs one job and reports whether the worker survived it.
func (p *Pool[T, R]) process(s *slot[T, R], t *task[T, R]) (ok bool) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			log.Error().
				Int("worker", s.id).
				Interface("panic", r).
				Msg("worker crashed")
			p.markCrashed(s)
			var zero R
			t.finish(zero, fmt.Errorf("%w: %v", ErrWorkerCrashed, r))
			ok = false
		}
	}()

	value, err := p.fn(p.ctx, t.job)
	p.release(s, time.Since(start), err)
	t.finish(value, err)
	return true
}

func (p *Pool[T, R]) release(s *slot[T, R], latency time.Duration, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	s.busy = false
	s.current = nil
	s.crashes = 0
	s.jobsHandled++
	s.totalLatency += latency
	if err != nil {
		s.errorCount++
	}
	if !p.closed {
		p.dispatchLocked()
	}
}

func (p *Pool[T, R]) markCrashed(s *slot[T, R]) {
	p.mu.Lock()
	s.state = StateCrashed
	s.busy = false
	s.current = nil
	s.crashes++
	s.errorCount++
	closed := p.closed
	p.opts.Metrics.SetActiveJobs(p.activeLocked())
	p.mu.Unlock()

	p.opts.Metrics.RecordWorkerCrash()
	if !closed {
		// One pending request per slot at most, so this never blocks.
		p.crashed <- s.id
	}
}

// supervise schedules a restart for every crashed slot after its cool-down.
func (p *Pool[T, R]) supervise() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ctx.Done():
			return
		case id := <-p.crashed:
			p.mu.Lock()
			s := p.slots[id]
			s.state = StateRestarting
			attempts := s.crashes - 1
			p.mu.Unlock()

			delay := backoff.Compute(p.opts.RestartPolicy, p.opts.RestartBase, p.opts.RestartMax, attempts, p.rng)
			log.Warn().
				Int("worker", id).
				Dur("cooldown", delay).
				Msg("restarting crashed worker")

			p.wg.Add(1)
			go p.restartAfter(s, delay)
		}
	}
}

func (p *Pool[T, R]) restartAfter(s *slot[T, R], delay time.Duration) {
	defer p.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-p.ctx.Done():
		return
	case <-timer.C:
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	s.jobsHandled = 0
	s.errorCount = 0
	s.totalLatency = 0
	s.restarts++
	p.startLocked(s)
	p.opts.Metrics.RecordWorkerRestart()
	log.Info().Int("worker", s.id).Int("restarts", s.restarts).Msg("worker restarted")
	p.dispatchLocked()
}

// Status returns a snapshot of the queue and every slot.
func (p *Pool[T, R]) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()

	st := Status{
		PoolSize:   len(p.slots),
		QueueDepth: p.queue.Len(),
		ActiveJobs: p.activeLocked(),
		Workers:    make([]WorkerStatus, 0, len(p.slots)),
	}
	for _, s := range p.slots {
		var avg float64
		if s.jobsHandled > 0 {
			avg = float64(s.totalLatency.Microseconds()) / 1000 / float64(s.jobsHandled)
		}
		st.Workers = append(st.Workers, WorkerStatus{
			ID:           s.id,
			State:        s.state,
			Busy:         s.busy,
			JobsHandled:  s.jobsHandled,
			ErrorCount:   s.errorCount,
			AvgLatencyMS: avg,
			Restarts:     s.restarts,
		})
	}
	return st
}

// Shutdown rejects new, queued and in-flight jobs with ErrClosed, cancels the
// workers' context and waits for every goroutine or ctx.
func (p *Pool[T, R]) Shutdown(ctx context.Context) error {
	var zero R

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	var pending []*task[T, R]
	for e := p.queue.Front(); e != nil; e = e.Next() {
		t := e.Value.(*task[T, R])
		t.elem = nil
		pending = append(pending, t)
	}
	p.queue.Init()
	for _, s := range p.slots {
		if s.current != nil {
			pending = append(pending, s.current)
		}
	}
	p.mu.Unlock()

	for _, t := range pending {
		t.finish(zero, ErrClosed)
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Info().Int("rejected", len(pending)).Msg("worker pool stopped")
		return nil
	case <-ctx.Done():
		log.Warn().Msg("worker pool shutdown timed out")
		return ctx.Err()
	}
}
