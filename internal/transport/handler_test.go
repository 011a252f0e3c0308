package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/avinash-eye/image-processor/internal/domain"
	filestore "github.com/avinash-eye/image-processor/internal/infra/store/file"
)

var acceptedTypes = []string{"image/jpeg", "image/png", "image/gif", "image/webp", "image/bmp"}

type fakeUsecase struct {
	mu    sync.Mutex
	tasks []domain.UploadTask
	err   error
}

func (f *fakeUsecase) record(task domain.UploadTask) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks = append(f.tasks, task)
}

func (f *fakeUsecase) ProcessOne(_ context.Context, task domain.UploadTask) (*domain.ProcessResult, error) {
	f.record(task)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ProcessResult{Success: true, Filename: task.OriginalName}, nil
}

func (f *fakeUsecase) ProcessBatch(_ context.Context, tasks []domain.UploadTask) []domain.BatchItem {
	items := make([]domain.BatchItem, len(tasks))
	for i, task := range tasks {
		f.record(task)
		items[i] = domain.BatchItem{
			Filename: task.OriginalName,
			Result:   &domain.ProcessResult{Success: true, Filename: task.OriginalName},
		}
	}
	return items
}

func (f *fakeUsecase) MetadataOne(_ context.Context, task domain.UploadTask) (*domain.ImageMetadata, error) {
	f.record(task)
	if f.err != nil {
		return nil, f.err
	}
	return &domain.ImageMetadata{Filename: task.OriginalName, Width: 10, Height: 10}, nil
}

func (f *fakeUsecase) MetadataBatch(_ context.Context, tasks []domain.UploadTask) []domain.MetadataItem {
	items := make([]domain.MetadataItem, len(tasks))
	for i, task := range tasks {
		f.record(task)
		items[i] = domain.MetadataItem{
			Filename: task.OriginalName,
			Meta:     &domain.ImageMetadata{Filename: task.OriginalName},
		}
	}
	return items
}

func (f *fakeUsecase) Status(_ context.Context, id string) (domain.Status, bool) {
	if id == "known-id" {
		return domain.StatusDone, true
	}
	return "", false
}

func (f *fakeUsecase) QueueSnapshot() domain.QueueSnapshot {
	return domain.QueueSnapshot{Size: 1, Pending: 2, Concurrency: 2}
}

func newTestServer(t *testing.T, uc Usecase, maxUploadMb int64) (*httptest.Server, filestore.FileStore, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := filestore.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}

	h := NewHandler(maxUploadMb, acceptedTypes, store, uc)
	mux := NewRouter(h).MountRoutes(http.NewServeMux())
	srv := httptest.NewServer(WithRecover(LogMiddleware(mux)))
	t.Cleanup(srv.Close)

	return srv, store, dir
}

func jpegBytes(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	for y := 0; y < 16; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{200, 100, 50, 255})
		}
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatalf("encode fixture: %v", err)
	}
	return buf.Bytes()
}

func addFilePart(t *testing.T, w *multipart.Writer, field, filename, contentType string, data []byte) {
	t.Helper()
	hdr := make(textproto.MIMEHeader)
	hdr.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field, filename))
	hdr.Set("Content-Type", contentType)
	part, err := w.CreatePart(hdr)
	if err != nil {
		t.Fatalf("create part: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write part: %v", err)
	}
}

func multipartBody(t *testing.T, build func(w *multipart.Writer)) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	build(w)
	if err := w.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return &buf, w.FormDataContentType()
}

func TestProcessSingleUpload(t *testing.T) {
	uc := &fakeUsecase{}
	srv, _, _ := newTestServer(t, uc, 50)

	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "image", "photo.jpg", "image/jpeg", jpegBytes(t))
	})

	resp, err := http.Post(srv.URL+"/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /process failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var result domain.ProcessResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if !result.Success || result.Filename != "photo.jpg" {
		t.Errorf("unexpected result %+v", result)
	}

	if len(uc.tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(uc.tasks))
	}
	task := uc.tasks[0]
	if task.OriginalName != "photo.jpg" || task.MimeType != "image/jpeg" {
		t.Errorf("unexpected task %+v", task)
	}
	if !strings.HasPrefix(task.TempPath, filestore.TempPrefix) {
		t.Errorf("expected transient path under %s, got %s", filestore.TempPrefix, task.TempPath)
	}
	if task.SHA256 == "" || task.Size == 0 {
		t.Errorf("expected size and hash to be captured, got %+v", task)
	}
}

func TestProcessMissingFile(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeUsecase{}, 50)

	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		w.WriteField("note", "no file here")
	})

	resp, err := http.Post(srv.URL+"/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /process failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}

	var e domain.ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode error response: %v", err)
	}
	if e.Error != "No image file provided" {
		t.Errorf("unexpected error %q", e.Error)
	}
}

func TestProcessRejectsNonImage(t *testing.T) {
	uc := &fakeUsecase{}
	srv, _, _ := newTestServer(t, uc, 50)

	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "image", "notes.txt", "text/plain", []byte("hello"))
	})

	resp, err := http.Post(srv.URL+"/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /process failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	if len(uc.tasks) != 0 {
		t.Errorf("rejected upload must never reach the pipeline, got %d tasks", len(uc.tasks))
	}
}

func TestProcessOversizedUpload(t *testing.T) {
	uc := &fakeUsecase{}
	srv, _, _ := newTestServer(t, uc, 1)

	big := make([]byte, 2<<20)
	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "image", "huge.jpg", "image/jpeg", big)
	})

	resp, err := http.Post(srv.URL+"/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /process failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.StatusCode)
	}
	if len(uc.tasks) != 0 {
		t.Errorf("oversized upload must be rejected before scheduling, got %d tasks", len(uc.tasks))
	}
}

func TestProcessQueueFull(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeUsecase{err: domain.ErrQueueFull}, 50)

	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "image", "photo.jpg", "image/jpeg", jpegBytes(t))
	})

	resp, err := http.Post(srv.URL+"/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /process failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", resp.StatusCode)
	}
}

func TestProcessCleansTransientFile(t *testing.T) {
	srv, _, dir := newTestServer(t, &fakeUsecase{err: errors.New("processing blew up")}, 50)

	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "image", "photo.jpg", "image/jpeg", jpegBytes(t))
	})

	resp, err := http.Post(srv.URL+"/process", contentType, body)
	if err != nil {
		t.Fatalf("POST /process failed: %v", err)
	}
	resp.Body.Close()

	entries, err := os.ReadDir(dir + "/temp")
	if err != nil {
		t.Fatalf("read temp dir: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("expected empty transient area after request, found %d entries", len(entries))
	}
}

func TestProcessBatchFiltersNonImages(t *testing.T) {
	uc := &fakeUsecase{}
	srv, _, _ := newTestServer(t, uc, 50)

	img := jpegBytes(t)
	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "images", "a.jpg", "image/jpeg", img)
		addFilePart(t, w, "images", "readme.txt", "text/plain", []byte("skip me"))
		addFilePart(t, w, "images", "b.png", "image/png", img)
		addFilePart(t, w, "other", "c.jpg", "image/jpeg", img)
		addFilePart(t, w, "other", "data.bin", "application/octet-stream", []byte{0, 1})
	})

	resp, err := http.Post(srv.URL+"/process/batch", contentType, body)
	if err != nil {
		t.Fatalf("POST /process/batch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var batch struct {
		Success   bool              `json:"success"`
		Processed int               `json:"processed"`
		Results   []json.RawMessage `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if !batch.Success {
		t.Error("expected success=true")
	}
	if batch.Processed != 3 {
		t.Errorf("expected processed=3 (images only), got %d", batch.Processed)
	}
	if len(batch.Results) != 3 {
		t.Errorf("expected 3 results, got %d", len(batch.Results))
	}
	if len(uc.tasks) != 3 {
		t.Errorf("expected only the 3 images to be scheduled, got %d", len(uc.tasks))
	}
}

// flakySaveStore fails a chosen Save call and delegates everything
// else to the wrapped store.
type flakySaveStore struct {
	filestore.FileStore
	calls  int
	failOn int
}

func (s *flakySaveStore) Save(ctx context.Context, reader io.Reader, filename string, size int64) (int64, string, error) {
	s.calls++
	if s.calls == s.failOn {
		return 0, "", errors.New("disk full")
	}
	return s.FileStore.Save(ctx, reader, filename, size)
}

func TestProcessBatchReportsStagingFailures(t *testing.T) {
	dir := t.TempDir()
	local, err := filestore.NewLocalStore(dir)
	if err != nil {
		t.Fatalf("NewLocalStore failed: %v", err)
	}
	store := &flakySaveStore{FileStore: local, failOn: 2}

	uc := &fakeUsecase{}
	h := NewHandler(50, acceptedTypes, store, uc)
	mux := NewRouter(h).MountRoutes(http.NewServeMux())
	srv := httptest.NewServer(WithRecover(LogMiddleware(mux)))
	t.Cleanup(srv.Close)

	img := jpegBytes(t)
	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "images", "a.jpg", "image/jpeg", img)
		addFilePart(t, w, "images", "b.jpg", "image/jpeg", img)
	})

	resp, err := http.Post(srv.URL+"/process/batch", contentType, body)
	if err != nil {
		t.Fatalf("POST /process/batch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var batch struct {
		Processed int `json:"processed"`
		Results   []struct {
			Success  bool   `json:"success"`
			Filename string `json:"filename"`
			Error    string `json:"error"`
		} `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if batch.Processed != 2 || len(batch.Results) != 2 {
		t.Fatalf("expected one outcome per image file, got processed=%d results=%d", batch.Processed, len(batch.Results))
	}
	if !batch.Results[0].Success || batch.Results[0].Filename != "a.jpg" {
		t.Errorf("expected a.jpg to succeed, got %+v", batch.Results[0])
	}
	if batch.Results[1].Success || batch.Results[1].Filename != "b.jpg" || batch.Results[1].Error == "" {
		t.Errorf("expected b.jpg failure with reason, got %+v", batch.Results[1])
	}
	if len(uc.tasks) != 1 {
		t.Errorf("expected only the staged file to be scheduled, got %d tasks", len(uc.tasks))
	}
}

func TestProcessBatchNoImages(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeUsecase{}, 50)

	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "files", "notes.txt", "text/plain", []byte("nope"))
	})

	resp, err := http.Post(srv.URL+"/process/batch", contentType, body)
	if err != nil {
		t.Fatalf("POST /process/batch failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMetadataSingle(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeUsecase{}, 50)

	body, contentType := multipartBody(t, func(w *multipart.Writer) {
		addFilePart(t, w, "image", "photo.jpg", "image/jpeg", jpegBytes(t))
	})

	resp, err := http.Post(srv.URL+"/metadata", contentType, body)
	if err != nil {
		t.Fatalf("POST /metadata failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var meta domain.ImageMetadata
	if err := json.NewDecoder(resp.Body).Decode(&meta); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if meta.Filename != "photo.jpg" {
		t.Errorf("unexpected metadata %+v", meta)
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeUsecase{}, 50)

	resp, err := http.Get(srv.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var health domain.HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if health.Status != "healthy" || health.Service != "image-processor" {
		t.Errorf("unexpected health payload %+v", health)
	}
	if health.Queue.Concurrency != 2 || health.Queue.Size != 1 || health.Queue.Pending != 2 {
		t.Errorf("unexpected queue snapshot %+v", health.Queue)
	}
}

func TestStatusLookup(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeUsecase{}, 50)

	resp, err := http.Get(srv.URL + "/status/known-id")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var status domain.StatusResponse
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if status.ID != "known-id" || status.Status != domain.StatusDone {
		t.Errorf("unexpected status payload %+v", status)
	}

	missing, err := http.Get(srv.URL + "/status/unknown-id")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", missing.StatusCode)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	srv, _, _ := newTestServer(t, &fakeUsecase{}, 50)

	resp, err := http.Get(srv.URL + "/process")
	if err != nil {
		t.Fatalf("GET /process failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", resp.StatusCode)
	}
}
