package imageprocessor

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"sync"
)

// ImageLoaderRegistry maintains a registry of image loaders keyed by file
// extension, plus an optional fallback tried when the primary loader fails
type ImageLoaderRegistry struct {
	loaders  map[string]ImageLoader
	fallback ImageLoader
	mutex    sync.RWMutex
}

// NewImageLoaderRegistry creates a registry with the default loaders
func NewImageLoaderRegistry() *ImageLoaderRegistry {
	registry := &ImageLoaderRegistry{
		loaders: make(map[string]ImageLoader),
	}

	registry.registerStandardLoaders()

	return registry
}

// NewEmptyImageLoaderRegistry creates a registry with no loaders registered
func NewEmptyImageLoaderRegistry() *ImageLoaderRegistry {
	return &ImageLoaderRegistry{
		loaders: make(map[string]ImageLoader),
	}
}

// registerStandardLoaders registers loaders for the recognized formats
func (r *ImageLoaderRegistry) registerStandardLoaders() {
	standardLoader := NewStandardImageLoader()
	for _, ext := range GetSupportedExtensions() {
		r.RegisterLoader(ext, standardLoader)
	}

	// Output formats, needed when rebuilding from the output directory
	r.RegisterLoader(".avif", NewAVIFImageLoader())

	r.SetFallback(NewOpenCVImageLoader())
}

// RegisterLoader registers a new loader for a specific file extension
func (r *ImageLoaderRegistry) RegisterLoader(ext string, loader ImageLoader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	ext = strings.ToLower(ext)
	r.loaders[ext] = loader
}

// SetFallback sets the loader tried after the primary loader fails. A nil
// loader disables the fallback.
func (r *ImageLoaderRegistry) SetFallback(loader ImageLoader) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	r.fallback = loader
}

// GetLoader returns the loader registered for the path's extension
func (r *ImageLoaderRegistry) GetLoader(path string) ImageLoader {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	return r.loaders[ext]
}

// CanLoadFile checks if any registered loader can handle the given file
func (r *ImageLoaderRegistry) CanLoadFile(path string) bool {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	ext := strings.ToLower(filepath.Ext(path))
	_, ok := r.loaders[ext]
	return ok
}

// LoadImage loads an image using the registered loader, then the fallback
func (r *ImageLoaderRegistry) LoadImage(path string) (image.Image, error) {
	loader := r.GetLoader(path)
	if loader == nil {
		return nil, fmt.Errorf("no suitable loader found for: %s", path)
	}

	img, err := loader.LoadImage(path)
	if err == nil {
		return img, nil
	}

	r.mutex.RLock()
	fallback := r.fallback
	r.mutex.RUnlock()

	if fallback == nil || fallback == loader || !fallback.CanLoad(path) {
		return nil, err
	}

	img, fbErr := fallback.LoadImage(path)
	if fbErr != nil {
		// report the primary decoder's error, it is the more specific one
		return nil, err
	}
	return img, nil
}
