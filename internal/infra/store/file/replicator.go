package filestore

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

type replicateJob struct {
	filename string
	size     int64
	hash     string
	retries  int
}

// replicator copies durable files from the local store to the MinIO
// replica in the background, with bounded retries. Replication is
// best-effort: a full queue degrades to local-only storage rather than
// failing the upload.
type replicator struct {
	local  *localStore
	remote *minioStore

	queue      chan replicateJob
	workerNum  int
	maxRetries int

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

func newReplicator(local *localStore, remote *minioStore, queueSize, workerNum, maxRetries int) *replicator {
	if queueSize <= 0 {
		queueSize = 100
	}
	if workerNum <= 0 {
		workerNum = 1
	}
	if maxRetries < 0 {
		maxRetries = 0
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &replicator{
		local:      local,
		remote:     remote,
		queue:      make(chan replicateJob, queueSize),
		workerNum:  workerNum,
		maxRetries: maxRetries,
		ctx:        ctx,
		cancel:     cancel,
	}
}

func (r *replicator) start(ctx context.Context) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	innerCtx, innerCancel := context.WithCancel(ctx)
	r.ctx = innerCtx
	r.cancel = innerCancel
	r.mu.Unlock()

	r.wg.Add(r.workerNum)
	for i := 0; i < r.workerNum; i++ {
		go r.worker()
	}
}

func (r *replicator) stop(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.cancel()
	close(r.queue)
	r.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		defer close(doneCh)
		r.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
	}

	slog.Info("replicator: stopped")
	return nil
}

func (r *replicator) enqueue(job replicateJob) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		return false
	}

	select {
	case r.queue <- job:
		return true
	default:
		return false
	}
}

func (r *replicator) worker() {
	defer r.wg.Done()

	for {
		select {
		case <-r.ctx.Done():
			return
		case job, ok := <-r.queue:
			if !ok {
				return
			}

			r.handleJob(job)
		}
	}
}

func (r *replicator) handleJob(job replicateJob) {
	l := slog.With(
		slog.String("filename", job.filename),
		slog.Int("retries", job.retries),
	)

	if err := r.replicateOnce(r.ctx, job); err != nil {
		if job.retries >= r.maxRetries {
			l.Error("replication failed, max retries exceeded",
				slog.String("error", err.Error()),
			)
			return
		}

		job.retries++
		select {
		case r.queue <- job:
			l.Warn("replication failed, job requeued",
				slog.String("error", err.Error()),
				slog.Int("next_retry", job.retries),
			)
		default:
			l.Error("replication failed and queue is full, dropping job",
				slog.String("error", err.Error()),
			)
		}
	}
}

func (r *replicator) replicateOnce(ctx context.Context, job replicateJob) error {
	rc, size, err := r.local.Open(ctx, job.filename)
	if err != nil {
		return fmt.Errorf("open local file: %w", err)
	}
	defer rc.Close()

	if job.size > 0 {
		size = job.size
	}

	written, remoteHash, err := r.remote.Save(ctx, rc, job.filename, size)
	if err != nil {
		return fmt.Errorf("save to remote: %w", err)
	}

	if written <= 0 {
		return fmt.Errorf("remote save wrote zero bytes")
	}

	if job.hash != "" && remoteHash != "" && job.hash != remoteHash {
		return fmt.Errorf("hash mismatch: local=%s remote=%s", job.hash, remoteHash)
	}

	slog.Debug("replicator: file replicated",
		slog.String("filename", job.filename),
		slog.Int64("size", written),
	)

	return nil
}
