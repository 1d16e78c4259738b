package imageprocessor

import (
	"bytes"
	"fmt"
	"image"
	"strings"

	"github.com/gen2brain/avif"
	"gocv.io/x/gocv"
)

// Encoder defaults, matching the converter's historical settings
const (
	DefaultSpeed   = 6
	DefaultQuality = 85
)

// Encoder re-encodes a decoded image into the output format
type Encoder interface {
	Encode(img image.Image) ([]byte, error)
	// Extension is the file extension of produced files, with the dot
	Extension() string
}

// NewEncoder builds the encoder for the given output format
func NewEncoder(format string, speed, quality int) (Encoder, error) {
	if speed < 0 || speed > 10 {
		return nil, fmt.Errorf("speed must be between 0 and 10, got %d", speed)
	}
	if quality < 1 || quality > 100 {
		return nil, fmt.Errorf("quality must be between 1 and 100, got %d", quality)
	}

	switch FormatType(strings.ToLower(strings.TrimSpace(format))) {
	case FormatAVIF, "":
		return &AVIFEncoder{Speed: speed, Quality: quality}, nil
	case FormatWEBP:
		return &WebPEncoder{Quality: quality}, nil
	default:
		return nil, fmt.Errorf("unsupported output format %q", format)
	}
}

// AVIFEncoder encodes to AVIF
type AVIFEncoder struct {
	Speed   int
	Quality int
}

// Extension returns ".avif"
func (e *AVIFEncoder) Extension() string {
	return FormatToExtension(FormatAVIF)
}

// Encode encodes img as AVIF
func (e *AVIFEncoder) Encode(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	err := avif.Encode(&buf, img, avif.Options{
		Quality:           e.Quality,
		QualityAlpha:      e.Quality,
		Speed:             e.Speed,
		ChromaSubsampling: image.YCbCrSubsampleRatio420,
	})
	if err != nil {
		return nil, fmt.Errorf("avif encode: %w", err)
	}
	return buf.Bytes(), nil
}

// WebPEncoder encodes to WebP through OpenCV. OpenCV exposes no speed knob
// for WebP, only quality.
type WebPEncoder struct {
	Quality int
}

// Extension returns ".webp"
func (e *WebPEncoder) Extension() string {
	return FormatToExtension(FormatWEBP)
}

// Encode encodes img as WebP
func (e *WebPEncoder) Encode(img image.Image) ([]byte, error) {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return nil, fmt.Errorf("webp encode: convert to matrix: %w", err)
	}
	defer mat.Close()

	params := []int{int(gocv.IMWriteWebpQuality), e.Quality}
	nbuf, err := gocv.IMEncodeWithParams(gocv.FileExt(e.Extension()), mat, params)
	if err != nil {
		return nil, fmt.Errorf("webp encode: %w", err)
	}
	defer nbuf.Close()

	// copy out of the native buffer before it is released
	out := make([]byte, nbuf.Len())
	copy(out, nbuf.GetBytes())
	return out, nil
}
