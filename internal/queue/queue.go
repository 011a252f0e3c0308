package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/avinash-eye/image-processor/internal/domain"
)

// Job is one unit of processing work admitted to the queue.
type Job func(ctx context.Context) (*domain.ProcessResult, error)

// Outcome resolves a submitted job: exactly one of Result and Err is set.
type Outcome struct {
	Result *domain.ProcessResult
	Err    error
}

type job struct {
	run Job
	out chan Outcome
}

// Queue runs at most `concurrency` jobs at a time, admitting the rest in
// FIFO order up to `capacity` waiting slots. Submission never blocks:
// a full admission buffer fails fast with domain.ErrQueueFull.
type Queue struct {
	jobs        chan job
	concurrency int

	size    atomic.Int64 // admitted, not yet started
	pending atomic.Int64 // currently executing

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func New(concurrency, capacity int) *Queue {
	if concurrency <= 0 {
		concurrency = 1
	}
	if capacity <= 0 {
		capacity = 64
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Queue{
		jobs:        make(chan job, capacity),
		concurrency: concurrency,
		ctx:         ctx,
		cancel:      cancel,
	}
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	innerCtx, innerCancel := context.WithCancel(ctx)
	q.ctx = innerCtx
	q.cancel = innerCancel
	q.mu.Unlock()

	q.wg.Add(q.concurrency)
	for i := 0; i < q.concurrency; i++ {
		go q.worker()
	}
}

func (q *Queue) Stop(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	q.cancel()
	close(q.jobs)
	q.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		q.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
	}

	slog.Info("processing queue stopped")
	return nil
}

// Submit admits a job and returns a one-shot channel that resolves when
// the job finishes. The submitting request's context does not cancel an
// admitted job: side effects run to completion to avoid half-finished
// state, even if the caller stops waiting on the returned channel.
func (q *Queue) Submit(run Job) (<-chan Outcome, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed || q.ctx.Err() != nil {
		return nil, domain.ErrQueueFull
	}

	j := job{run: run, out: make(chan Outcome, 1)}

	select {
	case q.jobs <- j:
		q.size.Add(1)
		return j.out, nil
	default:
		return nil, domain.ErrQueueFull
	}
}

// Snapshot is a read-only view of the counters for health reporting.
func (q *Queue) Snapshot() domain.QueueSnapshot {
	return domain.QueueSnapshot{
		Size:        int(q.size.Load()),
		Pending:     int(q.pending.Load()),
		Concurrency: q.concurrency,
	}
}

func (q *Queue) worker() {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			q.drain()
			return
		case j, ok := <-q.jobs:
			if !ok {
				return
			}

			q.size.Add(-1)
			q.pending.Add(1)

			res, err := j.run(q.ctx)

			q.pending.Add(-1)
			j.out <- Outcome{Result: res, Err: err}
		}
	}
}

// drain resolves admitted jobs that will never start. Taking the write
// lock first bars further submissions, so once the buffer reads empty it
// stays empty and every waiter has been released.
func (q *Queue) drain() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	for {
		select {
		case j, ok := <-q.jobs:
			if !ok {
				return
			}
			q.size.Add(-1)
			j.out <- Outcome{Err: fmt.Errorf("job dropped: %w", q.ctx.Err())}
		default:
			return
		}
	}
}
