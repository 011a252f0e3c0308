package statusstore

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/avinash-eye/image-processor/internal/domain"
)

// recordTTL bounds how long finished records linger for the surrounding
// system's progress views.
const recordTTL = 24 * time.Hour

// Store tracks per-image processing status so the surrounding system can
// render progress without polling this service. Best-effort: a write
// failure is logged, never propagated into the pipeline.
type Store interface {
	Create(ctx context.Context, id, filename string)
	Update(ctx context.Context, id string, status domain.Status, errReason string)
	Get(ctx context.Context, id string) (domain.Status, bool)
}

type redisStore struct {
	rdb redis.Cmdable
}

func NewRedisStore(rdb redis.Cmdable) *redisStore {
	return &redisStore{rdb: rdb}
}

func (s *redisStore) Create(ctx context.Context, id, filename string) {
	hk := imageKey(id)
	now := time.Now().UnixNano()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, "status", string(domain.StatusPending))
	pipe.HSet(ctx, hk, "filename", filename)
	pipe.HSet(ctx, hk, "created_at", now)
	pipe.HSet(ctx, hk, "updated_at", now)
	pipe.Expire(ctx, hk, recordTTL)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis status Create", slog.String("error", err.Error()))
	}
}

func (s *redisStore) Update(ctx context.Context, id string, status domain.Status, errReason string) {
	hk := imageKey(id)
	now := time.Now().UnixNano()

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, hk, "status", string(status))
	pipe.HSet(ctx, hk, "error", errReason)
	pipe.HSet(ctx, hk, "updated_at", now)

	if _, err := pipe.Exec(ctx); err != nil {
		slog.Warn("redis status Update", slog.String("error", err.Error()))
	}
}

func (s *redisStore) Get(ctx context.Context, id string) (domain.Status, bool) {
	v, err := s.rdb.HGet(ctx, imageKey(id), "status").Result()
	if err != nil {
		return "", false
	}
	return domain.Status(v), true
}

func imageKey(id string) string {
	return "image:" + id
}

// Noop is the status store used when Redis is disabled.
type Noop struct{}

func (Noop) Create(context.Context, string, string)                {}
func (Noop) Update(context.Context, string, domain.Status, string) {}
func (Noop) Get(context.Context, string) (domain.Status, bool)     { return "", false }
