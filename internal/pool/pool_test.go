package pool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"exam-grader/internal/backoff"
)

func double(_ context.Context, n int) (int, error) {
	return n * 2, nil
}

// gate blocks jobs until opened or the pool context ends.
type gate struct {
	ch      chan struct{}
	started chan int
}

func newGate() *gate {
	return &gate{ch: make(chan struct{}), started: make(chan int, 64)}
}

func (g *gate) wait(ctx context.Context, n int) (int, error) {
	g.started <- n
	select {
	case <-g.ch:
		return n, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

func (g *gate) open() { close(g.ch) }

func shutdown(t *testing.T, p interface{ Shutdown(context.Context) error }) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Shutdown(ctx))
}

func TestSize(t *testing.T) {
	n := Size(4, 8)
	assert.GreaterOrEqual(t, n, 4)
	assert.LessOrEqual(t, n, 8)
	assert.Equal(t, 2, Size(2, 2))
	assert.Equal(t, 3, Size(3, 1), "upper bound below lower bound collapses to lower")
}

func TestNew_Defaults(t *testing.T) {
	p := New(double, Options{})
	defer shutdown(t, p)

	st := p.Status()
	assert.GreaterOrEqual(t, st.PoolSize, DefaultMinWorkers)
	assert.LessOrEqual(t, st.PoolSize, DefaultMaxWorkers)
	for i, w := range st.Workers {
		assert.Equal(t, i, w.ID)
		assert.Equal(t, StateRunning, w.State)
		assert.False(t, w.Busy)
	}
}

func TestSubmit_Result(t *testing.T) {
	p := New(double, Options{Workers: 2})
	defer shutdown(t, p)

	got, err := p.Submit(context.Background(), 21)
	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestSubmit_ValueKeptWithError(t *testing.T) {
	errJob := errors.New("compile failed")
	p := New(func(_ context.Context, n int) (int, error) {
		return n, errJob
	}, Options{Workers: 1})
	defer shutdown(t, p)

	got, err := p.Submit(context.Background(), 7)
	require.ErrorIs(t, err, errJob)
	assert.Equal(t, 7, got)

	w := p.Status().Workers[0]
	assert.Equal(t, uint64(1), w.JobsHandled)
	assert.Equal(t, uint64(1), w.ErrorCount)
}

func TestSubmit_FIFO(t *testing.T) {
	g := newGate()
	var (
		mu    sync.Mutex
		order []int
	)
	p := New(func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			return g.wait(ctx, n)
		}
		mu.Lock()
		order = append(order, n)
		mu.Unlock()
		return n, nil
	}, Options{Workers: 1})
	defer shutdown(t, p)

	var wg sync.WaitGroup
	submit := func(n int) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Submit(context.Background(), n)
			assert.NoError(t, err)
		}()
	}

	submit(0)
	<-g.started
	for i := 1; i <= 5; i++ {
		submit(i)
		want := i
		require.Eventually(t, func() bool {
			return p.Status().QueueDepth == want
		}, time.Second, time.Millisecond)
	}

	g.open()
	wg.Wait()
	assert.Equal(t, []int{1, 2, 3, 4, 5}, order)
}

func TestSubmit_ManyJobsExactlyOnce(t *testing.T) {
	const workers, jobs = 3, 60

	var (
		runs    [jobs]atomic.Int32
		active  atomic.Int32
		maxSeen atomic.Int32
	)
	p := New(func(_ context.Context, n int) (int, error) {
		cur := active.Add(1)
		for {
			prev := maxSeen.Load()
			if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
				break
			}
		}
		runs[n].Add(1)
		time.Sleep(time.Millisecond)
		active.Add(-1)
		return n * 2, nil
	}, Options{Workers: workers})
	defer shutdown(t, p)

	var wg sync.WaitGroup
	for i := range jobs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := p.Submit(context.Background(), i)
			assert.NoError(t, err)
			assert.Equal(t, i*2, got)
		}()
	}
	wg.Wait()

	for i := range jobs {
		assert.Equal(t, int32(1), runs[i].Load(), "job %d", i)
	}
	assert.LessOrEqual(t, maxSeen.Load(), int32(workers))

	var handled uint64
	for _, w := range p.Status().Workers {
		handled += w.JobsHandled
		assert.False(t, w.Busy)
	}
	assert.Equal(t, uint64(jobs), handled)
}

func TestSubmit_CrashRestartsSlot(t *testing.T) {
	p := New(func(_ context.Context, n int) (int, error) {
		if n < 0 {
			panic("boom")
		}
		return n, nil
	}, Options{Workers: 1, RestartPolicy: backoff.Fixed, RestartBase: 30 * time.Millisecond})
	defer shutdown(t, p)

	_, err := p.Submit(context.Background(), 1)
	require.NoError(t, err)

	_, err = p.Submit(context.Background(), -1)
	require.ErrorIs(t, err, ErrWorkerCrashed)

	w := p.Status().Workers[0]
	assert.Contains(t, []State{StateCrashed, StateRestarting}, w.State)

	// Queued while the slot is down, dispatched once it is back.
	got, err := p.Submit(context.Background(), 5)
	require.NoError(t, err)
	assert.Equal(t, 5, got)

	w = p.Status().Workers[0]
	assert.Equal(t, 0, w.ID)
	assert.Equal(t, StateRunning, w.State)
	assert.Equal(t, 1, w.Restarts)
	assert.Equal(t, uint64(1), w.JobsHandled, "stats reset on restart")
	assert.Equal(t, uint64(0), w.ErrorCount)
}

func TestSubmit_CrashDoesNotDisturbOtherSlots(t *testing.T) {
	g := newGate()
	p := New(func(ctx context.Context, n int) (int, error) {
		switch {
		case n < 0:
			panic("boom")
		case n == 0:
			return g.wait(ctx, n)
		}
		return n, nil
	}, Options{Workers: 2, RestartBase: time.Hour})
	defer shutdown(t, p)

	done := make(chan error, 1)
	go func() {
		_, err := p.Submit(context.Background(), 0)
		done <- err
	}()
	<-g.started

	_, err := p.Submit(context.Background(), -1)
	require.ErrorIs(t, err, ErrWorkerCrashed)

	g.open()
	require.NoError(t, <-done)

	require.Eventually(t, func() bool {
		return p.Status().Workers[1].State == StateRestarting
	}, time.Second, time.Millisecond)
	assert.Equal(t, StateRunning, p.Status().Workers[0].State)
}

func TestSubmit_TimeoutWhileQueued(t *testing.T) {
	g := newGate()
	var ran atomic.Int32
	p := New(func(ctx context.Context, n int) (int, error) {
		if n == 0 {
			return g.wait(ctx, n)
		}
		ran.Add(1)
		return n, nil
	}, Options{Workers: 1, JobTimeout: 50 * time.Millisecond})
	defer shutdown(t, p)

	go func() { _, _ = p.Submit(context.Background(), 0) }()
	<-g.started

	_, err := p.Submit(context.Background(), 1)
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, p.Status().QueueDepth, "timed out job removed from queue")

	g.open()
	require.Eventually(t, func() bool {
		return !p.Status().Workers[0].Busy
	}, time.Second, time.Millisecond)
	assert.Equal(t, int32(0), ran.Load(), "withdrawn job must never run")
}

func TestSubmit_TimeoutWhileRunning(t *testing.T) {
	g := newGate()
	p := New(g.wait, Options{Workers: 1, JobTimeout: 50 * time.Millisecond})
	defer shutdown(t, p)

	_, err := p.Submit(context.Background(), 1)
	require.ErrorIs(t, err, ErrTimeout)
	assert.True(t, p.Status().Workers[0].Busy, "abandoned job keeps running")

	g.open()
	require.Eventually(t, func() bool {
		return p.Status().ActiveJobs == 0
	}, time.Second, time.Millisecond)
}

func TestSubmit_CallerDeadline(t *testing.T) {
	g := newGate()
	p := New(g.wait, Options{Workers: 1})
	defer func() {
		g.open()
		shutdown(t, p)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p.Submit(ctx, 1)
	require.ErrorIs(t, err, ErrTimeout)

	ctx, cancel = context.WithCancel(context.Background())
	cancel()
	_, err = p.Submit(ctx, 2)
	require.ErrorIs(t, err, context.Canceled)
}

func TestShutdown_RejectsPendingJobs(t *testing.T) {
	g := newGate()
	p := New(g.wait, Options{Workers: 1})

	errs := make(chan error, 2)
	for i := range 2 {
		go func() {
			_, err := p.Submit(context.Background(), i)
			errs <- err
		}()
	}
	<-g.started
	require.Eventually(t, func() bool {
		return p.Status().QueueDepth == 1
	}, time.Second, time.Millisecond)

	shutdown(t, p)

	for range 2 {
		require.ErrorIs(t, <-errs, ErrClosed)
	}

	_, err := p.Submit(context.Background(), 3)
	require.ErrorIs(t, err, ErrClosed)

	// Second shutdown is a no-op.
	require.NoError(t, p.Shutdown(context.Background()))
}
