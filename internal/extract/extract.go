package extract

import (
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/rwcarlsen/goexif/exif"

	"github.com/avinash-eye/image-processor/internal/domain"
)

var formatMimeTypes = map[string]string{
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",
	"bmp":  "image/bmp",
}

// Extractor reads structural and camera metadata from a local image
// file. It performs no network I/O.
type Extractor struct{}

func New() *Extractor { return &Extractor{} }

// Extract decodes the image header for dimensions and format, then reads
// EXIF tags on a best-effort basis: jpeg and tiff commonly carry EXIF,
// png/gif/bmp typically do not, and their absence is not an error.
// An undecodable file fails with domain.ErrExtraction.
func (e *Extractor) Extract(path string) (*domain.ImageMetadata, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("%w: stat %s: %v", domain.ErrExtraction, path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %v", domain.ErrExtraction, path, err)
	}
	defer f.Close()

	cfg, format, err := image.DecodeConfig(f)
	if err != nil {
		return nil, fmt.Errorf("%w: decode %s: %v", domain.ErrExtraction, filepath.Base(path), err)
	}

	meta := &domain.ImageMetadata{
		Filename:    filepath.Base(path),
		FileSize:    info.Size(),
		FileSizeMB:  math.Round(float64(info.Size())/(1024*1024)*100) / 100,
		Width:       cfg.Width,
		Height:      cfg.Height,
		Format:      format,
		MimeType:    formatMimeTypes[format],
		DateTaken:   info.ModTime().UTC(),
		ExtractedAt: time.Now().UTC(),
	}

	if _, err := f.Seek(0, io.SeekStart); err != nil {
		return meta, nil
	}

	readExif(f, meta)

	return meta, nil
}

// readExif fills EXIF-derived fields into meta. Each field stays absent
// when the source lacks the corresponding tag.
func readExif(r io.Reader, meta *domain.ImageMetadata) {
	x, err := exif.Decode(r)
	if err != nil || x == nil {
		return
	}

	// best effort: DateTimeOriginal, then DateTimeDigitized, then DateTime
	if datetime, err := x.DateTime(); err == nil {
		meta.DateTaken = datetime.UTC()
	}

	camera := &domain.Camera{}
	if s, ok := tagToString(exif.Make, x); ok {
		camera.Make = s
	}
	if s, ok := tagToString(exif.Model, x); ok {
		camera.Model = s
	}
	if s, ok := tagToString(exif.LensModel, x); ok {
		camera.Lens = s
	}
	if *camera != (domain.Camera{}) {
		meta.Camera = camera
	}

	exposure := &domain.Exposure{}
	if v, ok := tagToFloat(exif.ExposureTime, x); ok {
		exposure.ExposureTime = v
	}
	if v, ok := tagToFloat(exif.FNumber, x); ok {
		exposure.FNumber = v
	}
	if v, ok := tagToInt(exif.ISOSpeedRatings, x); ok {
		exposure.ISO = v
	}
	if v, ok := tagToFloat(exif.FocalLength, x); ok {
		exposure.FocalLength = v
	}
	if *exposure != (domain.Exposure{}) {
		meta.Exposure = exposure
	}

	if lat, lon, err := x.LatLong(); err == nil {
		meta.GPS = &domain.GPS{Latitude: lat, Longitude: lon}
	}

	if v, ok := tagToInt(exif.Orientation, x); ok {
		meta.Orientation = v
	}
	if v, ok := tagToInt(exif.WhiteBalance, x); ok {
		meta.WhiteBalance = v
	}

	// EXIF pixel dimensions win over the decoded header when present:
	// some edited files carry a stale header but fresh tags.
	if v, ok := tagToInt(exif.PixelXDimension, x); ok && v > 0 {
		meta.Width = v
	}
	if v, ok := tagToInt(exif.PixelYDimension, x); ok && v > 0 {
		meta.Height = v
	}
}

func tagToString(tag exif.FieldName, x *exif.Exif) (string, bool) {
	if t, err := x.Get(tag); err == nil && t != nil {
		if s, err := t.StringVal(); err == nil && s != "" {
			return s, true
		}
	}
	return "", false
}

func tagToInt(tag exif.FieldName, x *exif.Exif) (int, bool) {
	if t, err := x.Get(tag); err == nil && t != nil {
		if i, err := t.Int(0); err == nil {
			return i, true
		}
		if num, den, err := t.Rat2(0); err == nil && den != 0 {
			return int(num / den), true
		}
	}
	return 0, false
}

func tagToFloat(tag exif.FieldName, x *exif.Exif) (float64, bool) {
	if t, err := x.Get(tag); err == nil && t != nil {
		if num, den, err := t.Rat2(0); err == nil && den != 0 {
			return float64(num) / float64(den), true
		}
		if i, err := t.Int(0); err == nil {
			return float64(i), true
		}
	}
	return 0, false
}
