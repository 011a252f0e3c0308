package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/avinash-eye/image-processor/internal/domain"
	filestore "github.com/avinash-eye/image-processor/internal/infra/store/file"
)

const (
	serviceName    = "image-processor"
	serviceVersion = "1.0.0"
)

type Usecase interface {
	ProcessOne(ctx context.Context, task domain.UploadTask) (*domain.ProcessResult, error)
	ProcessBatch(ctx context.Context, tasks []domain.UploadTask) []domain.BatchItem
	MetadataOne(ctx context.Context, task domain.UploadTask) (*domain.ImageMetadata, error)
	MetadataBatch(ctx context.Context, tasks []domain.UploadTask) []domain.MetadataItem
	Status(ctx context.Context, id string) (domain.Status, bool)
	QueueSnapshot() domain.QueueSnapshot
}

type handler struct {
	maxUploadBytes int64
	accepted       map[string]struct{}
	store          filestore.FileStore
	usecase        Usecase
}

func NewHandler(maxUploadBytesMb int64, acceptedTypes []string, store filestore.FileStore, uc Usecase) *handler {
	accepted := make(map[string]struct{}, len(acceptedTypes))
	for _, t := range acceptedTypes {
		accepted[strings.ToLower(t)] = struct{}{}
	}

	return &handler{
		maxUploadBytes: maxUploadBytesMb << 20,
		accepted:       accepted,
		store:          store,
		usecase:        uc,
	}
}

// processOne accepts exactly one file under the `image` field, queues it
// for full processing and waits for the result. The transient copy is
// deleted on every exit path; on success the delete is a no-op because
// the pipeline already moved the file to its durable location.
func (h *handler) processOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "")
		return
	}

	logger := requestLogger(r, "process")

	file, header, ok := h.singleImage(w, r, logger)
	if !ok {
		return
	}
	defer file.Close()

	task, err := h.saveUpload(r.Context(), file, header)
	if err != nil {
		logger.Error("save upload", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to process image", "cannot store upload")
		return
	}
	defer h.cleanup(task)

	result, err := h.usecase.ProcessOne(r.Context(), task)
	if err != nil {
		logger.Error("process image",
			slog.String("file_name", task.OriginalName),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "Failed to process image", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// processBatch accepts any number of files under any field names,
// filters to image types, and processes every filtered file as an
// independent task. Partial success is the normal case: the response is
// a 200 with exactly one outcome per filtered file, failures embedded
// per item. A file that cannot even reach transient storage still
// occupies its slot as a failure.
func (h *handler) processBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "")
		return
	}

	logger := requestLogger(r, "process_batch")

	uploads, ok := h.batchUploads(w, r, logger)
	if !ok {
		return
	}
	defer h.cleanupUploads(uploads)

	items := h.usecase.ProcessBatch(r.Context(), stagedTasks(uploads))

	results := make([]any, 0, len(uploads))
	next := 0
	for _, u := range uploads {
		if u.err != nil {
			results = append(results, domain.BatchFailure{
				Filename: u.filename,
				Error:    u.err.Error(),
			})
			continue
		}

		item := items[next]
		next++
		if item.Err != nil {
			results = append(results, domain.BatchFailure{
				Filename: item.Filename,
				Error:    item.Err.Error(),
			})
			continue
		}
		results = append(results, item.Result)
	}

	writeJSON(w, http.StatusOK, domain.BatchResponse{
		Success:   true,
		Processed: len(results),
		Results:   results,
	})
}

// metadataOne extracts structural metadata only: no queue, no analysis
// service, used for fast AI-free inspection.
func (h *handler) metadataOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "")
		return
	}

	logger := requestLogger(r, "metadata")

	file, header, ok := h.singleImage(w, r, logger)
	if !ok {
		return
	}
	defer file.Close()

	task, err := h.saveUpload(r.Context(), file, header)
	if err != nil {
		logger.Error("save upload", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "Failed to extract metadata", "cannot store upload")
		return
	}
	defer h.cleanup(task)

	meta, err := h.usecase.MetadataOne(r.Context(), task)
	if err != nil {
		logger.Error("extract metadata",
			slog.String("file_name", task.OriginalName),
			slog.String("error", err.Error()),
		)
		writeError(w, statusFor(err), "Failed to extract metadata", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, meta)
}

func (h *handler) metadataBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "", "")
		return
	}

	logger := requestLogger(r, "metadata_batch")

	uploads, ok := h.batchUploads(w, r, logger)
	if !ok {
		return
	}
	defer h.cleanupUploads(uploads)

	items := h.usecase.MetadataBatch(r.Context(), stagedTasks(uploads))

	results := make([]any, 0, len(uploads))
	next := 0
	for _, u := range uploads {
		if u.err != nil {
			results = append(results, domain.MetadataFailure{
				Filename: u.filename,
				Error:    u.err.Error(),
			})
			continue
		}

		item := items[next]
		next++
		if item.Err != nil {
			results = append(results, domain.MetadataFailure{
				Filename: item.Filename,
				Error:    item.Err.Error(),
			})
			continue
		}
		results = append(results, item.Meta)
	}

	writeJSON(w, http.StatusOK, domain.BatchResponse{
		Success:   true,
		Processed: len(results),
		Results:   results,
	})
}

// status reports the recorded processing state of an image id. Records
// expire with the status store's TTL, so an unknown id is a 404 whether
// it never existed or has aged out.
func (h *handler) status(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/status/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing ID", "")
		return
	}

	state, ok := h.usecase.Status(r.Context(), id)
	if !ok {
		writeError(w, http.StatusNotFound, "image not found", "")
		return
	}

	writeJSON(w, http.StatusOK, domain.StatusResponse{ID: id, Status: state})
}

func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "", "")
		return
	}

	writeJSON(w, http.StatusOK, domain.HealthResponse{
		Status:  "healthy",
		Service: serviceName,
		Version: serviceVersion,
		Queue:   h.usecase.QueueSnapshot(),
	})
}

// singleImage parses the multipart body and returns the `image` field's
// file, rejecting missing files and non-accepted types before any work
// is queued.
func (h *handler) singleImage(w http.ResponseWriter, r *http.Request, logger *slog.Logger) (multipart.File, *multipart.FileHeader, bool) {
	if !h.parseMultipart(w, r, logger) {
		return nil, nil, false
	}

	file, header, err := r.FormFile("image")
	if err != nil {
		logger.Warn("missing image field")
		writeError(w, http.StatusBadRequest, "No image file provided", "")
		return nil, nil, false
	}

	if _, ok := h.accepted[mimeType(header)]; !ok {
		file.Close()
		logger.Warn("rejected file type",
			slog.String("file_name", header.Filename),
			slog.String("mime_type", mimeType(header)),
		)
		writeError(w, http.StatusBadRequest, "Invalid file type. Only images are allowed.", "")
		return nil, nil, false
	}

	return file, header, true
}

// batchUpload is one filtered image part. Either the file landed in
// transient storage and task describes it, or staging failed and err
// records why. Every filtered part keeps its slot either way.
type batchUpload struct {
	filename string
	task     domain.UploadTask
	err      error
}

// stagedTasks collects the tasks of the uploads that reached transient
// storage, in slot order.
func stagedTasks(uploads []batchUpload) []domain.UploadTask {
	tasks := make([]domain.UploadTask, 0, len(uploads))
	for _, u := range uploads {
		if u.err == nil {
			tasks = append(tasks, u.task)
		}
	}
	return tasks
}

// batchUploads parses the multipart body, filters the parts to image
// types (non-images are dropped before scheduling, not reported as
// failures), and lands every filtered file in transient storage. A
// staging failure does not shrink the result: the part stays in the
// slice with its error so the caller reports it per item.
func (h *handler) batchUploads(w http.ResponseWriter, r *http.Request, logger *slog.Logger) ([]batchUpload, bool) {
	if !h.parseMultipart(w, r, logger) {
		return nil, false
	}

	if r.MultipartForm == nil || len(r.MultipartForm.File) == 0 {
		writeError(w, http.StatusBadRequest, "No image files provided", "")
		return nil, false
	}

	var headers []*multipart.FileHeader
	for _, fieldFiles := range r.MultipartForm.File {
		for _, header := range fieldFiles {
			if strings.HasPrefix(mimeType(header), "image/") {
				headers = append(headers, header)
			}
		}
	}

	if len(headers) == 0 {
		writeError(w, http.StatusBadRequest, "No image files provided", "")
		return nil, false
	}

	uploads := make([]batchUpload, 0, len(headers))
	for _, header := range headers {
		file, err := header.Open()
		if err != nil {
			logger.Error("open multipart file",
				slog.String("file_name", header.Filename),
				slog.String("error", err.Error()),
			)
			uploads = append(uploads, batchUpload{filename: header.Filename, err: err})
			continue
		}

		task, err := h.saveUpload(r.Context(), file, header)
		file.Close()
		if err != nil {
			logger.Error("save upload",
				slog.String("file_name", header.Filename),
				slog.String("error", err.Error()),
			)
			uploads = append(uploads, batchUpload{filename: header.Filename, err: err})
			continue
		}

		uploads = append(uploads, batchUpload{filename: header.Filename, task: task})
	}

	return uploads, true
}

func (h *handler) parseMultipart(w http.ResponseWriter, r *http.Request, logger *slog.Logger) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			logger.Warn("upload too large", slog.Int64("limit", h.maxUploadBytes))
			writeError(w, http.StatusRequestEntityTooLarge, "Upload too large", fmt.Sprintf("limit is %d bytes", h.maxUploadBytes))
			return false
		}
		logger.Error("ParseMultipartForm", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, "unable to parse multipart form", "")
		return false
	}

	return true
}

// saveUpload lands one multipart file in the transient area under a
// unique name and returns the task describing it.
func (h *handler) saveUpload(ctx context.Context, file multipart.File, header *multipart.FileHeader) (domain.UploadTask, error) {
	id := uuid.NewString()
	tempName := filestore.TempPrefix + id + strings.ToLower(filepath.Ext(header.Filename))

	written, hash, err := h.store.Save(ctx, file, tempName, header.Size)
	if err != nil {
		return domain.UploadTask{}, fmt.Errorf("save upload %s: %w", header.Filename, err)
	}

	return domain.UploadTask{
		ID:           id,
		TempPath:     tempName,
		OriginalName: header.Filename,
		MimeType:     mimeType(header),
		Size:         written,
		SHA256:       hash,
	}, nil
}

// cleanup removes a task's transient file. Files already promoted to
// durable storage are simply gone from the transient area, so the
// delete degrades to a no-op and the invariant holds: every transient
// file is deleted exactly once.
func (h *handler) cleanup(task domain.UploadTask) {
	if err := h.store.Delete(context.Background(), task.TempPath); err != nil {
		slog.Warn("cleanup transient file",
			slog.String("filename", task.TempPath),
			slog.String("error", err.Error()),
		)
	}
}

func (h *handler) cleanupUploads(uploads []batchUpload) {
	for _, u := range uploads {
		if u.err == nil {
			h.cleanup(u.task)
		}
	}
}

func requestLogger(r *http.Request, name string) *slog.Logger {
	return slog.With(
		slog.String("request_id", uuid.NewString()),
		slog.String("handler", name),
		slog.String("remote_addr", r.RemoteAddr),
	)
}

func mimeType(header *multipart.FileHeader) string {
	return strings.ToLower(strings.TrimSpace(header.Header.Get("Content-Type")))
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrQueueFull):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
