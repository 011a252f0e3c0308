package filestore

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

// FileStore is the storage surface the pipeline works against.
// Filenames are keys relative to the shared root; transient uploads live
// under TempPrefix.
type FileStore interface {
	Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error)
	Open(ctx context.Context, filename string) (io.ReadCloser, int64, error)
	Promote(ctx context.Context, from, to string) error
	Delete(ctx context.Context, filename string) error
	Path(filename string) string
	CleanupOlderThan(ctx context.Context, maxAge time.Duration) error
}

// asyncStore writes locally first and replicates durable files to MinIO
// in the background. Transient files are never replicated: they are
// either promoted (and replicated under the durable name) or deleted.
type asyncStore struct {
	local      *localStore
	remote     *minioStore
	replicator *replicator
}

func NewAsyncStore(
	ctx context.Context,
	local *localStore,
	remote *minioStore,
	queueSize,
	workerNum,
	maxRetries int,
) *asyncStore {
	repl := newReplicator(local, remote, queueSize, workerNum, maxRetries)
	repl.start(ctx)

	return &asyncStore{
		local:      local,
		remote:     remote,
		replicator: repl,
	}
}

func (s *asyncStore) Close(ctx context.Context) error {
	return s.replicator.stop(ctx)
}

func (s *asyncStore) Save(
	ctx context.Context,
	reader io.Reader,
	filename string,
	size int64,
) (int64, string, error) {
	written, hash, err := s.local.Save(ctx, reader, filename, size)
	if err != nil {
		return 0, "", err
	}

	if !isTransient(filename) {
		s.replicate(filename, written, hash)
	}

	return written, hash, nil
}

func (s *asyncStore) Open(ctx context.Context, filename string) (io.ReadCloser, int64, error) {
	rc, size, err := s.local.Open(ctx, filename)
	if err == nil {
		return rc, size, nil
	}

	if !strings.Contains(err.Error(), "file not found") {
		return nil, 0, err
	}

	rc, size, err = s.remote.Open(ctx, filename)
	if err != nil {
		return nil, 0, err
	}

	return rc, size, nil
}

func (s *asyncStore) Promote(ctx context.Context, from, to string) error {
	if err := s.local.Promote(ctx, from, to); err != nil {
		return err
	}

	s.replicate(to, 0, "")
	return nil
}

func (s *asyncStore) Delete(ctx context.Context, filename string) error {
	var firstErr error

	if err := s.local.Delete(ctx, filename); err != nil {
		firstErr = err
		slog.Warn("asyncStore: delete local failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}

	// transient files never reached the replica
	if isTransient(filename) {
		return firstErr
	}

	if err := s.remote.Delete(ctx, filename); err != nil {
		if firstErr == nil {
			firstErr = err
		}
		slog.Warn("asyncStore: delete remote failed",
			slog.String("filename", filename),
			slog.String("error", err.Error()),
		)
	}

	return firstErr
}

func (s *asyncStore) Path(filename string) string {
	return s.local.Path(filename)
}

func (s *asyncStore) CleanupOlderThan(ctx context.Context, maxAge time.Duration) error {
	eg, eCtx := errgroup.WithContext(ctx)

	eg.Go(func() error {
		return s.local.CleanupOlderThan(eCtx, maxAge)
	})
	eg.Go(func() error {
		return s.remote.CleanupOlderThan(eCtx, maxAge)
	})

	return eg.Wait()
}

func (s *asyncStore) replicate(filename string, size int64, hash string) {
	ok := s.replicator.enqueue(replicateJob{
		filename: filename,
		size:     size,
		hash:     hash,
	})
	if !ok {
		slog.Error("asyncStore: replication queue full, file stored only locally",
			slog.String("filename", filename),
		)
	}
}

func isTransient(filename string) bool {
	return strings.HasPrefix(filename, TempPrefix)
}
