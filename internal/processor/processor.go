package processor

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/avinash-eye/image-processor/internal/domain"
	filestore "github.com/avinash-eye/image-processor/internal/infra/store/file"
)

type Extractor interface {
	Extract(path string) (*domain.ImageMetadata, error)
}

type Analyzer interface {
	Analyze(ctx context.Context, imagePath string) (*domain.Analysis, error)
}

// Processor runs one image end-to-end: validate, extract, analyze,
// promote to durable storage, derive the optimized and thumbnail
// variants. It owns no concurrency; the queue decides how many of these
// run at once.
type Processor struct {
	accepted  map[string]struct{}
	extractor Extractor
	analyzer  Analyzer
	store     filestore.FileStore

	// analysisRequired keeps the pipeline fail-closed: when set, no
	// record is produced without a successful analysis.
	analysisRequired bool

	logger *slog.Logger
}

func New(
	acceptedTypes []string,
	extractor Extractor,
	analyzer Analyzer,
	store filestore.FileStore,
	analysisRequired bool,
) *Processor {
	accepted := make(map[string]struct{}, len(acceptedTypes))
	for _, t := range acceptedTypes {
		accepted[strings.ToLower(t)] = struct{}{}
	}

	return &Processor{
		accepted:         accepted,
		extractor:        extractor,
		analyzer:         analyzer,
		store:            store,
		analysisRequired: analysisRequired,
		logger:           slog.With(slog.String("component", "processor")),
	}
}

// Process runs the full pipeline for one task. On failure the transient
// file stays where it is: zero moves happen, and deleting it remains the
// caller's job. On success the transient file has been renamed to its
// durable location, so the caller's cleanup finds nothing to remove.
func (p *Processor) Process(ctx context.Context, task domain.UploadTask) (*domain.ProcessResult, error) {
	if _, ok := p.accepted[strings.ToLower(task.MimeType)]; !ok {
		return nil, &domain.ProcessError{
			Filename: task.OriginalName,
			Err:      fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidInput, task.MimeType),
		}
	}

	meta, err := p.extract(task)
	if err != nil {
		return nil, &domain.ProcessError{Filename: task.OriginalName, Err: err}
	}

	var analysisResult *domain.Analysis
	analysisResult, err = p.analyzer.Analyze(ctx, p.store.Path(task.TempPath))
	if err != nil {
		aErr := fmt.Errorf("%w: %v", domain.ErrAnalysisUnavailable, err)
		if p.analysisRequired {
			return nil, &domain.ProcessError{
				Filename: task.OriginalName,
				Metadata: meta,
				Err:      aErr,
			}
		}
		p.logger.Warn("analysis failed, producing degraded record",
			slog.String("filename", task.OriginalName),
			slog.String("error", err.Error()),
		)
		analysisResult = nil
	}

	finalName := task.ID + extension(task.OriginalName, meta.Format)
	if err := p.store.Promote(ctx, task.TempPath, finalName); err != nil {
		return nil, &domain.ProcessError{
			Filename: task.OriginalName,
			Metadata: meta,
			Err:      fmt.Errorf("%w: %v", domain.ErrStorage, err),
		}
	}

	optimizedPath, thumbnailPath := p.deriveVariants(ctx, task.ID, finalName)

	return &domain.ProcessResult{
		Success:       true,
		Filename:      task.OriginalName,
		Path:          p.store.Path(finalName),
		OptimizedPath: optimizedPath,
		ThumbnailPath: thumbnailPath,
		FileHashSHA:   task.SHA256,
		Metadata:      meta,
		Analysis:      analysisResult,
		ProcessedAt:   time.Now().UTC(),
	}, nil
}

// Metadata runs only the extraction stage, for the fast AI-free
// inspection endpoints. The transient file is untouched.
func (p *Processor) Metadata(_ context.Context, task domain.UploadTask) (*domain.ImageMetadata, error) {
	if _, ok := p.accepted[strings.ToLower(task.MimeType)]; !ok {
		return nil, fmt.Errorf("%w: unsupported type %q", domain.ErrInvalidInput, task.MimeType)
	}

	return p.extract(task)
}

func (p *Processor) extract(task domain.UploadTask) (*domain.ImageMetadata, error) {
	meta, err := p.extractor.Extract(p.store.Path(task.TempPath))
	if err != nil {
		return nil, err
	}

	// report the name the client uploaded, not the transient one
	meta.Filename = task.OriginalName
	if meta.MimeType == "" {
		meta.MimeType = task.MimeType
	}

	return meta, nil
}

// deriveVariants generates the optimized re-encode and the thumbnail
// next to the durable original. Both are best-effort: a failure is
// logged and leaves the corresponding path empty, never failing a
// pipeline that already has its durable original.
func (p *Processor) deriveVariants(ctx context.Context, id, finalName string) (optimizedPath, thumbnailPath string) {
	rc, _, err := p.store.Open(ctx, finalName)
	if err != nil {
		p.logger.Warn("variant generation skipped, cannot open original",
			slog.String("filename", finalName),
			slog.String("error", err.Error()),
		)
		return "", ""
	}
	defer rc.Close()

	src, _, err := image.Decode(rc)
	if err != nil {
		p.logger.Warn("variant generation skipped, cannot decode original",
			slog.String("filename", finalName),
			slog.String("error", err.Error()),
		)
		return "", ""
	}

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		name := id + "_optimized.jpg"
		if err := p.putJpeg(ctx, name, src, OptimizedQuality); err != nil {
			p.logger.Warn("image optimization failed", slog.String("error", err.Error()))
			return
		}
		optimizedPath = p.store.Path(name)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		name := id + "_thumb.jpg"
		thumb := resizeToFit(src, ThumbnailSide)
		if err := p.putJpeg(ctx, name, thumb, ThumbnailQuality); err != nil {
			p.logger.Warn("thumbnail generation failed", slog.String("error", err.Error()))
			return
		}
		thumbnailPath = p.store.Path(name)
	}()

	wg.Wait()
	return optimizedPath, thumbnailPath
}

func (p *Processor) putJpeg(ctx context.Context, name string, src image.Image, quality int) error {
	encoded, err := encodeToJpeg(src, quality)
	if err != nil {
		return fmt.Errorf("encode %s: %w", name, err)
	}

	if _, _, err := p.store.Save(ctx, bytes.NewReader(encoded), name, int64(len(encoded))); err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}

	return nil
}

// extension picks the stored extension from the uploaded name, falling
// back to the decoded format when the client sent none.
func extension(originalName, format string) string {
	if ext := strings.ToLower(filepath.Ext(originalName)); ext != "" {
		return ext
	}
	if format != "" {
		return "." + format
	}
	return ""
}
