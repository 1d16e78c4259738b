package imageprocessor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsImageFile(t *testing.T) {
	for _, p := range []string{"a.jpg", "b/C.JPEG", "x.Png", "y.tif", "z.WEBP", "q.bmp", "g.gif"} {
		assert.True(t, IsImageFile(p), p)
	}
	for _, p := range []string{"a.txt", "noext", "out.avif", "hashes", "raw.cr2"} {
		assert.False(t, IsImageFile(p), p)
	}
}

func TestGetFileFormat(t *testing.T) {
	assert.Equal(t, FormatJPEG, GetFileFormat("x.JPG"))
	assert.Equal(t, FormatAVIF, GetFileFormat("x.avif"))
	assert.Equal(t, FormatUnknown, GetFileFormat("x.doc"))
}

func TestOutputFiles(t *testing.T) {
	assert.True(t, IsOutputFile("0190-abc.avif"))
	assert.True(t, IsOutputFile("0190-abc.WEBP"))
	assert.False(t, IsOutputFile("hashes"))
	assert.False(t, IsOutputFile("catalog.db"))
	assert.False(t, IsOutputFile("0190-abc.avif.tmp"))
}

func TestGetSupportedExtensionsSorted(t *testing.T) {
	exts := GetSupportedExtensions()
	assert.IsNonDecreasing(t, exts)
	assert.Contains(t, exts, ".jpeg")
}
