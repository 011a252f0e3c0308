package processor

import (
	"bytes"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	"math"

	redraw "golang.org/x/image/draw"
)

const (
	OptimizedQuality int = 85
	ThumbnailQuality int = 80

	// ThumbnailSide is the bounding box for thumbnails; images are
	// scaled to fit inside it without enlargement.
	ThumbnailSide int = 300
)

// resizeToFit scales an image down so both sides fit within side,
// maintaining aspect ratio. Images already inside the box are returned
// unchanged.
func resizeToFit(src image.Image, side int) image.Image {
	if side <= 0 {
		return src
	}

	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 {
		return src
	}

	longest := w
	if h > w {
		longest = h
	}

	if longest <= side {
		return src
	}

	scale := float64(side) / float64(longest)
	dstWidth := int(math.Round(float64(w) * scale))
	dstHeight := int(math.Round(float64(h) * scale))

	dst := image.NewRGBA(image.Rect(0, 0, dstWidth, dstHeight))
	redraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, redraw.Over, nil)

	return dst
}

// encodeToJpeg encodes the image to JPEG at the given quality,
// flattening transparent images onto white first since JPEG has no
// alpha channel.
func encodeToJpeg(src image.Image, quality int) ([]byte, error) {
	if quality < 1 || quality > 100 {
		quality = OptimizedQuality
	}

	if hasAlphaChannel(src) {
		src = flattenOnWhite(src)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, src, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("encode image to JPEG: %w", err)
	}

	return buf.Bytes(), nil
}

func hasAlphaChannel(img image.Image) bool {
	switch img.(type) {
	case *image.NRGBA, *image.NRGBA64, *image.RGBA, *image.RGBA64, *image.Alpha, *image.Alpha16:
		return true
	default:
		return false
	}
}

func flattenOnWhite(src image.Image) image.Image {
	bounds := src.Bounds()

	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, &image.Uniform{C: image.White}, image.Point{}, draw.Src)
	draw.Draw(dst, bounds, src, bounds.Min, draw.Over)

	return dst
}
