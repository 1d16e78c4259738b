package imageprocessor

import (
	"image"
	"os"

	// Decoders for image.Decode beyond jpeg/png/gif
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"

	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"gocv.io/x/gocv"
)

// StandardImageLoader handles common image formats through the Go image
// decoders, applying EXIF orientation
type StandardImageLoader struct {
	BaseImageLoader
}

// NewStandardImageLoader creates a new loader for standard image formats
func NewStandardImageLoader() *StandardImageLoader {
	return &StandardImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatJPEG,
				FormatPNG,
				FormatGIF,
				FormatBMP,
				FormatTIFF,
				FormatWEBP,
			},
		},
	}
}

// LoadImage loads a standard image format
func (l *StandardImageLoader) LoadImage(path string) (image.Image, error) {
	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return nil, newImageLoadError("failed to decode image", path, err)
	}
	return img, nil
}

// AVIFImageLoader decodes AVIF files, which is what the converter produces
type AVIFImageLoader struct {
	BaseImageLoader
}

// NewAVIFImageLoader creates a new AVIF loader
func NewAVIFImageLoader() *AVIFImageLoader {
	return &AVIFImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{FormatAVIF},
		},
	}
}

// LoadImage decodes an AVIF file
func (l *AVIFImageLoader) LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, newImageLoadError("failed to open image", path, err)
	}
	defer f.Close()

	img, err := avif.Decode(f)
	if err != nil {
		return nil, newImageLoadError("failed to decode avif image", path, err)
	}
	return img, nil
}

// OpenCVImageLoader decodes through OpenCV. It is used as the fallback for
// files the Go decoders reject (progressive CMYK JPEGs, odd TIFF layouts).
type OpenCVImageLoader struct {
	BaseImageLoader
}

// NewOpenCVImageLoader creates a new OpenCV-backed loader
func NewOpenCVImageLoader() *OpenCVImageLoader {
	return &OpenCVImageLoader{
		BaseImageLoader: BaseImageLoader{
			SupportedFormats: []FormatType{
				FormatJPEG,
				FormatPNG,
				FormatBMP,
				FormatTIFF,
				FormatWEBP,
			},
		},
	}
}

// LoadImage reads the file with OpenCV and converts the matrix to an image
func (l *OpenCVImageLoader) LoadImage(path string) (image.Image, error) {
	mat := gocv.IMRead(path, gocv.IMReadColor)
	defer mat.Close()

	if mat.Empty() {
		return nil, newImageLoadError("failed to load image with OpenCV", path, nil)
	}

	img, err := mat.ToImage()
	if err != nil {
		return nil, newImageLoadError("failed to convert OpenCV matrix", path, err)
	}
	return img, nil
}
