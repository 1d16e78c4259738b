package scanner

import (
	"bufio"
	"bytes"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"sync/atomic"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"imagededup/hashstore"
)

// pngDecoder decodes PNG content whatever the file extension
type pngDecoder struct{}

func (pngDecoder) LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return png.Decode(f)
}

// redHasher hashes an image to a word whose popcount is the red value of the
// top-left pixel, so the distance between two images is the difference of
// their red values
type redHasher struct{}

func (redHasher) Name() string { return "red" }

func (redHasher) Bits() int { return 64 }

func (redHasher) Hash(img image.Image) (hashstore.Hash, error) {
	r, _, _, _ := img.At(img.Bounds().Min.X, img.Bounds().Min.Y).RGBA()
	n := r >> 8
	if n > 63 {
		return hashstore.Hash{}, errors.New("red value out of range")
	}
	return hashstore.NewHash([]uint64{1<<n - 1}), nil
}

func redHash(n uint) hashstore.Hash {
	return hashstore.NewHash([]uint64{1<<n - 1})
}

// pngEncoder writes PNG bytes under a .webp name and can be told to fail
type pngEncoder struct {
	fail  bool
	calls atomic.Int32
}

func (e *pngEncoder) Extension() string { return ".webp" }

func (e *pngEncoder) Encode(img image.Image) ([]byte, error) {
	e.calls.Add(1)
	if e.fail {
		return nil, errors.New("encoder exploded")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeRedPNG writes a small image whose hash under redHasher is redHash(n)
func writeRedPNG(t *testing.T, path string, n uint8) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))

	img := image.NewRGBA(image.Rect(0, 0, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			img.Set(x, y, color.RGBA{R: n, G: 10, B: 20, A: 255})
		}
	}
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()
	require.NoError(t, png.Encode(f, img))
}

func newTestLogger() (*logrus.Logger, *test.Hook) {
	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	return logger, hook
}

func testScanOptions(src, out string, logger logrus.FieldLogger, enc *pngEncoder) ScanOptions {
	return ScanOptions{
		SourceDir: src,
		OutputDir: out,
		Workers:   4,
		Threshold: 10,
		Logger:    logger,
		Decoder:   pngDecoder{},
		Hasher:    redHasher{},
		Encoder:   enc,
	}
}

// readLogLines returns the non-empty lines of the hashes log, sorted
func readLogLines(t *testing.T, outputDir string) []string {
	t.Helper()
	f, err := os.Open(hashstore.LogPath(outputDir))
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if sc.Text() != "" {
			lines = append(lines, sc.Text())
		}
	}
	require.NoError(t, sc.Err())
	sort.Strings(lines)
	return lines
}

func outputNames(t *testing.T, outputDir string) []string {
	t.Helper()
	files, err := ListOutputFiles(outputDir)
	require.NoError(t, err)
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, filepath.Base(f))
	}
	return names
}
