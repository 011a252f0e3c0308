package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/avinash-eye/image-processor/internal/domain"
	statusstore "github.com/avinash-eye/image-processor/internal/infra/store/status"
	"github.com/avinash-eye/image-processor/internal/queue"
)

type fakeProcessor struct {
	mu      sync.Mutex
	delay   time.Duration
	failFor map[string]error
	calls   []string
}

func (f *fakeProcessor) Process(_ context.Context, task domain.UploadTask) (*domain.ProcessResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, task.OriginalName)
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if err, ok := f.failFor[task.OriginalName]; ok {
		return nil, err
	}
	return &domain.ProcessResult{
		Success:  true,
		Filename: task.OriginalName,
		Path:     "/shared/" + task.ID + ".jpg",
		Metadata: &domain.ImageMetadata{Filename: task.OriginalName},
		Analysis: &domain.Analysis{MetaTags: []string{"tag"}, Embedding: []float64{1}},
	}, nil
}

func (f *fakeProcessor) Metadata(_ context.Context, task domain.UploadTask) (*domain.ImageMetadata, error) {
	if err, ok := f.failFor[task.OriginalName]; ok {
		return nil, err
	}
	return &domain.ImageMetadata{Filename: task.OriginalName}, nil
}

type recordingStatus struct {
	mu      sync.Mutex
	history map[string][]domain.Status
}

func newRecordingStatus() *recordingStatus {
	return &recordingStatus{history: make(map[string][]domain.Status)}
}

func (r *recordingStatus) Create(_ context.Context, id, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[id] = append(r.history[id], domain.StatusPending)
}

func (r *recordingStatus) Update(_ context.Context, id string, status domain.Status, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.history[id] = append(r.history[id], status)
}

func (r *recordingStatus) Get(_ context.Context, id string) (domain.Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	h, ok := r.history[id]
	if !ok || len(h) == 0 {
		return "", false
	}
	return h[len(h)-1], true
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.ProcessedEvent
}

func (r *recordingPublisher) Processed(_ context.Context, event domain.ProcessedEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func newTestUsecase(t *testing.T, p Processor, status statusstore.Store, pub *recordingPublisher) *usecase {
	t.Helper()
	q := queue.New(2, 16)
	q.Start(context.Background())
	t.Cleanup(func() { q.Stop(context.Background()) })
	if pub == nil {
		pub = &recordingPublisher{}
	}
	return New(q, p, status, pub)
}

func task(id, name string) domain.UploadTask {
	return domain.UploadTask{ID: id, TempPath: "temp/" + id + ".jpg", OriginalName: name, MimeType: "image/jpeg"}
}

func TestProcessOneLifecycle(t *testing.T) {
	status := newRecordingStatus()
	pub := &recordingPublisher{}
	uc := newTestUsecase(t, &fakeProcessor{}, status, pub)

	result, err := uc.ProcessOne(context.Background(), task("one", "a.jpg"))
	if err != nil {
		t.Fatalf("ProcessOne failed: %v", err)
	}
	if !result.Success || result.Filename != "a.jpg" {
		t.Errorf("unexpected result %+v", result)
	}

	want := []domain.Status{domain.StatusPending, domain.StatusProcessing, domain.StatusDone}
	got := status.history["one"]
	if len(got) != len(want) {
		t.Fatalf("expected status history %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("status[%d]: expected %s, got %s", i, want[i], got[i])
		}
	}

	if st, ok := uc.Status(context.Background(), "one"); !ok || st != domain.StatusDone {
		t.Errorf("expected done status lookup, got %q/%v", st, ok)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(pub.events))
	}
	if pub.events[0].ID != "one" || len(pub.events[0].Tags) != 1 {
		t.Errorf("unexpected event %+v", pub.events[0])
	}
}

func TestProcessOneFailureTracked(t *testing.T) {
	status := newRecordingStatus()
	pub := &recordingPublisher{}
	fail := errors.New("decode failed")
	uc := newTestUsecase(t, &fakeProcessor{failFor: map[string]error{"bad.jpg": fail}}, status, pub)

	_, err := uc.ProcessOne(context.Background(), task("bad", "bad.jpg"))
	if !errors.Is(err, fail) {
		t.Fatalf("expected %v, got %v", fail, err)
	}

	if last, ok := status.Get(context.Background(), "bad"); !ok || last != domain.StatusFailed {
		t.Errorf("expected failed status, got %s", last)
	}
	if len(pub.events) != 0 {
		t.Errorf("expected no event on failure, got %d", len(pub.events))
	}
}

func TestProcessBatchIsolatesFailures(t *testing.T) {
	fail := errors.New("unreadable")
	proc := &fakeProcessor{failFor: map[string]error{"b.jpg": fail}}
	uc := newTestUsecase(t, proc, statusstore.Noop{}, nil)

	tasks := []domain.UploadTask{task("t1", "a.jpg"), task("t2", "b.jpg"), task("t3", "c.jpg")}
	items := uc.ProcessBatch(context.Background(), tasks)

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	for i, want := range []string{"a.jpg", "b.jpg", "c.jpg"} {
		if items[i].Filename != want {
			t.Errorf("item %d: expected filename %s, got %s", i, want, items[i].Filename)
		}
	}
	if items[0].Err != nil || items[2].Err != nil {
		t.Errorf("expected siblings to succeed: %v, %v", items[0].Err, items[2].Err)
	}
	if !errors.Is(items[1].Err, fail) {
		t.Errorf("expected middle item to fail with %v, got %v", fail, items[1].Err)
	}
	if items[1].Result != nil {
		t.Errorf("failed item must not carry a result, got %+v", items[1].Result)
	}
}

func TestProcessBatchQueueFullMarksOnlyOverflow(t *testing.T) {
	proc := &fakeProcessor{delay: 50 * time.Millisecond}
	q := queue.New(1, 2)
	q.Start(context.Background())
	t.Cleanup(func() { q.Stop(context.Background()) })
	uc := New(q, proc, statusstore.Noop{}, &recordingPublisher{})

	tasks := make([]domain.UploadTask, 6)
	for i := range tasks {
		tasks[i] = task(fmt.Sprintf("t%d", i), fmt.Sprintf("f%d.jpg", i))
	}

	items := uc.ProcessBatch(context.Background(), tasks)

	var full, ok int
	for _, item := range items {
		switch {
		case errors.Is(item.Err, domain.ErrQueueFull):
			full++
		case item.Err == nil:
			ok++
		default:
			t.Errorf("unexpected error: %v", item.Err)
		}
	}
	if full == 0 {
		t.Error("expected at least one ErrQueueFull with capacity 2 and 6 submissions")
	}
	if ok == 0 {
		t.Error("expected at least one successful item")
	}
}

func TestMetadataBatch(t *testing.T) {
	fail := errors.New("not an image")
	proc := &fakeProcessor{failFor: map[string]error{"x.bin": fail}}
	uc := newTestUsecase(t, proc, statusstore.Noop{}, nil)

	tasks := []domain.UploadTask{task("m1", "p.jpg"), task("m2", "x.bin"), task("m3", "q.jpg")}
	items := uc.MetadataBatch(context.Background(), tasks)

	if len(items) != 3 {
		t.Fatalf("expected 3 items, got %d", len(items))
	}
	if items[0].Meta == nil || items[0].Meta.Filename != "p.jpg" {
		t.Errorf("unexpected first item %+v", items[0])
	}
	if !errors.Is(items[1].Err, fail) {
		t.Errorf("expected middle failure, got %v", items[1].Err)
	}
	if items[2].Meta == nil {
		t.Errorf("expected third item metadata")
	}
}

func TestQueueSnapshotPassthrough(t *testing.T) {
	uc := newTestUsecase(t, &fakeProcessor{}, statusstore.Noop{}, nil)

	snap := uc.QueueSnapshot()
	if snap.Concurrency != 2 {
		t.Errorf("expected concurrency 2, got %d", snap.Concurrency)
	}
	if snap.Size != 0 || snap.Pending != 0 {
		t.Errorf("expected idle counters, got size=%d pending=%d", snap.Size, snap.Pending)
	}
}
