package imageprocessor

import (
	"fmt"
	"image"
	"strings"

	"github.com/artyom/phash"
	"github.com/corona10/goimagehash"
	"github.com/disintegration/imaging"

	"imagededup/hashstore"
)

// Hash algorithm names accepted by NewHasher
const (
	AlgorithmPerception = "phash"
	AlgorithmAverage    = "ahash"
	AlgorithmDifference = "dhash"
	AlgorithmPHash64    = "phash64"
)

// DefaultHashSize is the default edge length of the hash grid (8x8 = 64 bits)
const DefaultHashSize = 8

// Hasher turns a decoded image into a perceptual hash
type Hasher interface {
	Hash(img image.Image) (hashstore.Hash, error)
	Name() string
	// Bits is the size of every hash the hasher produces
	Bits() int
}

// NewHasher builds the hasher for the given algorithm. size is the edge of
// the hash grid and must be a power of two between 8 and 64; phash64 only
// accepts 8.
func NewHasher(algorithm string, size int) (Hasher, error) {
	algorithm = strings.ToLower(strings.TrimSpace(algorithm))
	if algorithm == "" {
		algorithm = AlgorithmPerception
	}
	if size == 0 {
		size = DefaultHashSize
	}
	if size < 8 || size > 64 || size&(size-1) != 0 {
		return nil, fmt.Errorf("hash size must be a power of two between 8 and 64, got %d", size)
	}

	switch algorithm {
	case AlgorithmPerception, AlgorithmAverage, AlgorithmDifference:
		return &GridHasher{algorithm: algorithm, size: size}, nil
	case AlgorithmPHash64:
		if size != 8 {
			return nil, fmt.Errorf("%s produces 64-bit hashes, hash size must be 8, got %d", AlgorithmPHash64, size)
		}
		return &PHash64Hasher{}, nil
	default:
		return nil, fmt.Errorf("unknown hash algorithm %q", algorithm)
	}
}

// GridHasher computes size x size bit hashes with goimagehash
type GridHasher struct {
	algorithm string
	size      int
}

// Name returns the algorithm and grid size, e.g. "phash-8"
func (h *GridHasher) Name() string {
	return fmt.Sprintf("%s-%d", h.algorithm, h.size)
}

// Bits returns size*size
func (h *GridHasher) Bits() int {
	return h.size * h.size
}

// Hash computes the perceptual hash of img
func (h *GridHasher) Hash(img image.Image) (hashstore.Hash, error) {
	if img == nil {
		return hashstore.Hash{}, fmt.Errorf("cannot compute hash for empty image")
	}

	var (
		ext *goimagehash.ExtImageHash
		err error
	)
	switch h.algorithm {
	case AlgorithmAverage:
		ext, err = goimagehash.ExtAverageHash(img, h.size, h.size)
	case AlgorithmDifference:
		ext, err = goimagehash.ExtDifferenceHash(img, h.size, h.size)
	default:
		ext, err = goimagehash.ExtPerceptionHash(img, h.size, h.size)
	}
	if err != nil {
		return hashstore.Hash{}, fmt.Errorf("cannot compute %s: %w", h.Name(), err)
	}

	return hashstore.NewHash(ext.GetHash()), nil
}

// PHash64Hasher computes a 64-bit DCT hash with github.com/artyom/phash,
// resizing with a Lanczos filter
type PHash64Hasher struct{}

// Name returns the algorithm name
func (h *PHash64Hasher) Name() string {
	return AlgorithmPHash64
}

// Bits returns 64
func (h *PHash64Hasher) Bits() int {
	return 64
}

// Hash computes the perceptual hash of img
func (h *PHash64Hasher) Hash(img image.Image) (hashstore.Hash, error) {
	if img == nil {
		return hashstore.Hash{}, fmt.Errorf("cannot compute hash for empty image")
	}

	x, err := phash.Get(img, func(img image.Image, w, h int) image.Image {
		return imaging.Resize(img, w, h, imaging.Lanczos)
	})
	if err != nil {
		return hashstore.Hash{}, fmt.Errorf("cannot compute %s: %w", AlgorithmPHash64, err)
	}

	return hashstore.NewHash([]uint64{x}), nil
}
