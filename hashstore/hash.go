// Package hashstore keeps the set of perceptual hashes of admitted images and
// its durable projection, the append-only hashes log.
package hashstore

import (
	"encoding/base64"
	"encoding/binary"
	"strings"

	"github.com/pkg/errors"
	"github.com/willf/bitset"
)

// ErrMalformedHash is returned when a textual hash cannot be decoded
var ErrMalformedHash = errors.New("malformed hash")

// Hash is a fixed-size perceptual hash stored as big-endian 64-bit words
type Hash struct {
	words []uint64
}

// NewHash builds a Hash from its words. The slice is copied.
func NewHash(words []uint64) Hash {
	w := make([]uint64, len(words))
	copy(w, words)
	return Hash{words: w}
}

// Words returns a copy of the underlying words
func (h Hash) Words() []uint64 {
	w := make([]uint64, len(h.words))
	copy(w, h.words)
	return w
}

// Bits returns the size of the hash in bits
func (h Hash) Bits() int {
	return len(h.words) * 64
}

// String returns the textual encoding used in the hashes log:
// standard padded base64 of the big-endian bytes.
func (h Hash) String() string {
	buf := make([]byte, 8*len(h.words))
	for i, w := range h.words {
		binary.BigEndian.PutUint64(buf[i*8:], w)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// ParseHash decodes the textual form produced by Hash.String
func ParseHash(s string) (Hash, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Hash{}, errors.Wrap(ErrMalformedHash, "empty input")
	}

	buf, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return Hash{}, errors.Wrapf(ErrMalformedHash, "decode %q: %v", s, err)
	}
	if len(buf) == 0 || len(buf)%8 != 0 {
		return Hash{}, errors.Wrapf(ErrMalformedHash, "%d bytes is not a whole number of words", len(buf))
	}

	words := make([]uint64, len(buf)/8)
	for i := range words {
		words[i] = binary.BigEndian.Uint64(buf[i*8:])
	}
	return Hash{words: words}, nil
}

// Distance returns the Hamming distance between two hashes. Words present in
// only one of the hashes count as fully different.
func Distance(a, b Hash) int {
	short, long := a.words, b.words
	if len(short) > len(long) {
		short, long = long, short
	}

	n := len(short)
	d := bitset.From(short).SymmetricDifferenceCardinality(bitset.From(long[:n]))
	return int(d) + 64*(len(long)-n)
}
