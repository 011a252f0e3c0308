package usecase

import (
	"context"
	"log/slog"
	"sync"

	"github.com/avinash-eye/image-processor/internal/domain"
	"github.com/avinash-eye/image-processor/internal/infra/events"
	statusstore "github.com/avinash-eye/image-processor/internal/infra/store/status"
	"github.com/avinash-eye/image-processor/internal/queue"
)

type Processor interface {
	Process(ctx context.Context, task domain.UploadTask) (*domain.ProcessResult, error)
	Metadata(ctx context.Context, task domain.UploadTask) (*domain.ImageMetadata, error)
}

// usecase drives the processing queue: it wraps each accepted upload in
// a status record, submits it as an independent queue task, and
// publishes a completion event once the image is durable.
type usecase struct {
	queue     *queue.Queue
	processor Processor
	status    statusstore.Store
	publisher events.Publisher
}

func New(
	q *queue.Queue,
	processor Processor,
	status statusstore.Store,
	publisher events.Publisher,
) *usecase {
	return &usecase{
		queue:     q,
		processor: processor,
		status:    status,
		publisher: publisher,
	}
}

// ProcessOne submits a single task and waits for its outcome. The wait
// is unconditional: an admitted task runs to completion, and abandoning
// it would race the caller's transient-file cleanup against the move.
func (uc *usecase) ProcessOne(ctx context.Context, task domain.UploadTask) (*domain.ProcessResult, error) {
	uc.status.Create(ctx, task.ID, task.OriginalName)

	out, err := uc.submit(task)
	if err != nil {
		uc.status.Update(ctx, task.ID, domain.StatusFailed, err.Error())
		return nil, err
	}

	outcome := <-out
	return outcome.Result, outcome.Err
}

// ProcessBatch submits every task independently and collects one outcome
// per task, in input order. One item's failure never removes or corrupts
// another item's result: errors are captured per slot, and a submission
// failure (full queue) marks only that slot as failed.
func (uc *usecase) ProcessBatch(ctx context.Context, tasks []domain.UploadTask) []domain.BatchItem {
	items := make([]domain.BatchItem, len(tasks))
	outs := make([]<-chan queue.Outcome, len(tasks))

	// submit everything first so admission order matches input order
	for i, task := range tasks {
		items[i].Filename = task.OriginalName
		uc.status.Create(ctx, task.ID, task.OriginalName)

		out, err := uc.submit(task)
		if err != nil {
			uc.status.Update(ctx, task.ID, domain.StatusFailed, err.Error())
			items[i].Err = err
			continue
		}
		outs[i] = out
	}

	for i, out := range outs {
		if out == nil {
			continue
		}
		outcome := <-out
		items[i].Result = outcome.Result
		items[i].Err = outcome.Err
	}

	return items
}

// MetadataOne extracts metadata without touching the queue or the
// analysis service. Extraction is quick local I/O, so it stays
// synchronous instead of competing with full pipeline runs for workers.
func (uc *usecase) MetadataOne(ctx context.Context, task domain.UploadTask) (*domain.ImageMetadata, error) {
	return uc.processor.Metadata(ctx, task)
}

// MetadataBatch extracts metadata for every task concurrently with
// per-item error capture.
func (uc *usecase) MetadataBatch(ctx context.Context, tasks []domain.UploadTask) []domain.MetadataItem {
	items := make([]domain.MetadataItem, len(tasks))

	var wg sync.WaitGroup
	for i, task := range tasks {
		wg.Add(1)
		go func(i int, task domain.UploadTask) {
			defer wg.Done()
			items[i].Filename = task.OriginalName
			items[i].Meta, items[i].Err = uc.processor.Metadata(ctx, task)
		}(i, task)
	}
	wg.Wait()

	return items
}

func (uc *usecase) QueueSnapshot() domain.QueueSnapshot {
	return uc.queue.Snapshot()
}

// Status looks up the processing state recorded for an image id.
func (uc *usecase) Status(ctx context.Context, id string) (domain.Status, bool) {
	return uc.status.Get(ctx, id)
}

func (uc *usecase) submit(task domain.UploadTask) (<-chan queue.Outcome, error) {
	return uc.queue.Submit(func(jctx context.Context) (*domain.ProcessResult, error) {
		uc.status.Update(jctx, task.ID, domain.StatusProcessing, "")

		result, err := uc.processor.Process(jctx, task)
		if err != nil {
			uc.status.Update(jctx, task.ID, domain.StatusFailed, err.Error())
			return nil, err
		}

		uc.status.Update(jctx, task.ID, domain.StatusDone, "")
		uc.announce(jctx, task, result)

		return result, nil
	})
}

func (uc *usecase) announce(ctx context.Context, task domain.UploadTask, result *domain.ProcessResult) {
	event := domain.ProcessedEvent{
		ID:          task.ID,
		Filename:    result.Filename,
		Path:        result.Path,
		ProcessedAt: result.ProcessedAt,
	}
	if result.Analysis != nil {
		event.Tags = result.Analysis.MetaTags
		event.FacesDetected = result.Analysis.FacesDetected
	}

	if err := uc.publisher.Processed(ctx, event); err != nil {
		slog.Warn("publish processed event",
			slog.String("image_id", task.ID),
			slog.String("error", err.Error()),
		)
	}
}
