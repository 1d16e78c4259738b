package imageprocessor

import (
	"path/filepath"
	"sort"
	"strings"
)

// FormatType represents a known image format type
type FormatType string

// Known image format constants
const (
	FormatUnknown FormatType = "unknown"
	FormatJPEG    FormatType = "jpeg"
	FormatPNG     FormatType = "png"
	FormatGIF     FormatType = "gif"
	FormatTIFF    FormatType = "tiff"
	FormatBMP     FormatType = "bmp"
	FormatWEBP    FormatType = "webp"
	FormatAVIF    FormatType = "avif"
)

// Map of source extensions to format types. This is the allow-list used
// when discovering candidates.
var formatExtensions = map[string]FormatType{
	".jpg":  FormatJPEG,
	".jpeg": FormatJPEG,
	".png":  FormatPNG,
	".gif":  FormatGIF,
	".tif":  FormatTIFF,
	".tiff": FormatTIFF,
	".bmp":  FormatBMP,
	".webp": FormatWEBP,
}

// IsImageFile checks if a file is a recognized source image based on its
// extension (case-insensitive)
func IsImageFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, supported := formatExtensions[ext]
	return supported
}

// GetFileFormat returns the format type based on file extension
func GetFileFormat(path string) FormatType {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".avif" {
		return FormatAVIF
	}
	format, exists := formatExtensions[ext]
	if !exists {
		return FormatUnknown
	}
	return format
}

// GetSupportedExtensions returns all recognized source extensions, sorted
func GetSupportedExtensions() []string {
	extensions := make([]string, 0, len(formatExtensions))
	for ext := range formatExtensions {
		extensions = append(extensions, ext)
	}
	sort.Strings(extensions)
	return extensions
}

// FormatToExtension returns a canonical file extension for a format
func FormatToExtension(format FormatType) string {
	switch format {
	case FormatJPEG:
		return ".jpg"
	case FormatPNG:
		return ".png"
	case FormatGIF:
		return ".gif"
	case FormatTIFF:
		return ".tiff"
	case FormatBMP:
		return ".bmp"
	case FormatWEBP:
		return ".webp"
	case FormatAVIF:
		return ".avif"
	default:
		return ""
	}
}

// OutputExtensions lists the extensions produced by the available encoders
func OutputExtensions() []string {
	return []string{FormatToExtension(FormatAVIF), FormatToExtension(FormatWEBP)}
}

// IsOutputFile reports whether a file name carries an encoder extension
func IsOutputFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, out := range OutputExtensions() {
		if ext == out {
			return true
		}
	}
	return false
}
