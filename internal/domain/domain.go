package domain

import (
	"errors"
	"fmt"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusDone       Status = "done"
	StatusFailed     Status = "failed"
)

// UploadTask is one accepted upload: a file sitting in transient storage
// waiting to be processed. The transient file is deleted exactly once by
// the handler that created the task, whatever the outcome.
type UploadTask struct {
	ID           string
	TempPath     string
	OriginalName string
	MimeType     string
	Size         int64
	SHA256       string
}

type GPS struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Place     string  `json:"place,omitempty"`
}

type Camera struct {
	Make  string `json:"make,omitempty"`
	Model string `json:"model,omitempty"`
	Lens  string `json:"lens,omitempty"`
}

type Exposure struct {
	ExposureTime float64 `json:"exposure_time,omitempty"`
	FNumber      float64 `json:"f_number,omitempty"`
	ISO          int     `json:"iso,omitempty"`
	FocalLength  float64 `json:"focal_length,omitempty"`
}

// ImageMetadata is the structural and camera metadata read from the file
// itself. Optional sections are nil pointers so they serialize as null
// rather than zero values when the source image lacks them.
type ImageMetadata struct {
	Filename     string    `json:"filename"`
	FileSize     int64     `json:"file_size"`
	FileSizeMB   float64   `json:"file_size_mb"`
	Width        int       `json:"width"`
	Height       int       `json:"height"`
	Format       string    `json:"format"`
	MimeType     string    `json:"mime_type"`
	DateTaken    time.Time `json:"date_taken"`
	GPS          *GPS      `json:"gps"`
	Camera       *Camera   `json:"camera"`
	Exposure     *Exposure `json:"exposure"`
	Orientation  int       `json:"orientation,omitempty"`
	WhiteBalance int       `json:"white_balance,omitempty"`
	ExtractedAt  time.Time `json:"extracted_at"`
}

// Analysis is the semantic payload returned by the analysis service.
type Analysis struct {
	Description         string      `json:"description"`
	DetailedDescription string      `json:"detailed_description,omitempty"`
	MetaTags            []string    `json:"meta_tags"`
	Embedding           []float64   `json:"embedding"`
	FacesDetected       int         `json:"faces_detected"`
	FaceLocations       [][]int     `json:"face_locations,omitempty"`
	FaceEncodings       [][]float64 `json:"face_encodings,omitempty"`
}

// ProcessResult is the outcome of a successful pipeline run. Analysis is
// nil only when the service is configured to accept degraded records.
type ProcessResult struct {
	Success       bool           `json:"success"`
	Filename      string         `json:"filename"`
	Path          string         `json:"path"`
	OptimizedPath string         `json:"optimized_path,omitempty"`
	ThumbnailPath string         `json:"thumbnail_path,omitempty"`
	FileHashSHA   string         `json:"file_hash_sha,omitempty"`
	Metadata      *ImageMetadata `json:"metadata"`
	Analysis      *Analysis      `json:"ai_analysis"`
	ProcessedAt   time.Time      `json:"processed_at"`
}

// BatchItem is one per-file outcome of a batch run. Exactly one of
// Result and Err is set; Filename identifies the item either way.
type BatchItem struct {
	Filename string
	Result   *ProcessResult
	Err      error
}

// MetadataItem is one per-file outcome of a metadata-only batch run.
type MetadataItem struct {
	Filename string
	Meta     *ImageMetadata
	Err      error
}

// BatchFailure is the wire form of a failed batch item.
type BatchFailure struct {
	Success  bool   `json:"success"`
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

// MetadataFailure is the wire form of a failed metadata-only batch item.
type MetadataFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type BatchResponse struct {
	Success   bool  `json:"success"`
	Processed int   `json:"processed"`
	Results   []any `json:"results"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// QueueSnapshot is a read-only view of the processing queue counters:
// Size counts admitted tasks not yet started, Pending counts tasks
// currently executing.
type QueueSnapshot struct {
	Size        int `json:"size"`
	Pending     int `json:"pending"`
	Concurrency int `json:"concurrency"`
}

// StatusResponse reports the processing state of one submitted image.
type StatusResponse struct {
	ID     string `json:"id"`
	Status Status `json:"status"`
}

type HealthResponse struct {
	Status  string        `json:"status"`
	Service string        `json:"service"`
	Version string        `json:"version"`
	Queue   QueueSnapshot `json:"queue"`
}

// ProcessedEvent is published after an image lands in durable storage.
type ProcessedEvent struct {
	ID            string    `json:"id"`
	Filename      string    `json:"filename"`
	Path          string    `json:"path"`
	Tags          []string  `json:"tags,omitempty"`
	FacesDetected int       `json:"faces_detected"`
	ProcessedAt   time.Time `json:"processed_at"`
}

var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrExtraction          = errors.New("cannot decode image")
	ErrAnalysisUnavailable = errors.New("analysis unavailable")
	ErrStorage             = errors.New("storage relocation failed")
	ErrQueueFull           = errors.New("processing queue is full")
)

// ProcessError is a pipeline failure for a single image. Metadata holds
// whatever the extractor gathered before the failing stage, so the caller
// can decide between a hard failure and a degraded record.
type ProcessError struct {
	Filename string
	Metadata *ImageMetadata
	Err      error
}

func (e *ProcessError) Error() string {
	return fmt.Sprintf("process %s: %v", e.Filename, e.Err)
}

func (e *ProcessError) Unwrap() error { return e.Err }
