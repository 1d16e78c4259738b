package scanner

import (
	"errors"
	"image"
	"io"
	"time"

	"github.com/sirupsen/logrus"

	"imagededup/hashstore"
	"imagededup/imageprocessor"
	"imagededup/types"
)

var (
	// ErrDecode marks candidates that could not be read or decoded
	ErrDecode = errors.New("decode failed")
	// ErrEncode marks admitted candidates whose re-encoding failed
	ErrEncode = errors.New("encode failed")
)

// ScanOptions defines the options for a conversion run
type ScanOptions struct {
	SourceDir     string
	OutputDir     string
	Workers       int
	Threshold     int
	HashAlgorithm string
	HashSize      int
	Format        string
	Speed         int
	Quality       int
	Catalog       bool
	SkipUnchanged bool
	Logger        logrus.FieldLogger
	// ProgressWriter receives the progress bar; nil disables it
	ProgressWriter io.Writer

	// Decoder, Hasher and Encoder replace the configured implementations
	// when set
	Decoder ImageDecoder
	Hasher  imageprocessor.Hasher
	Encoder imageprocessor.Encoder
}

// RebuildOptions defines the options for rebuilding the hashes log
type RebuildOptions struct {
	OutputDir     string
	Workers       int
	HashAlgorithm string
	HashSize      int
	Catalog       bool
	Logger        logrus.FieldLogger

	Decoder ImageDecoder
	Hasher  imageprocessor.Hasher
}

// AdmitStatus is the decision taken for one candidate
type AdmitStatus int

const (
	// Admitted means no stored hash is within threshold
	Admitted AdmitStatus = iota
	// Rejected means a near-duplicate is already stored
	Rejected
	// Failed means the candidate could not be decoded or hashed
	Failed
)

func (s AdmitStatus) String() string {
	switch s {
	case Admitted:
		return "admitted"
	case Rejected:
		return "rejected"
	default:
		return "failed"
	}
}

// AdmitResult is the outcome of the admission protocol. On Admitted the
// caller owns Reservation and must commit or abort it.
type AdmitResult struct {
	Status      AdmitStatus
	Hash        hashstore.Hash
	Image       image.Image
	Reservation *hashstore.Reservation
	Err         error
}

// Result holds the result of processing one candidate path
type Result struct {
	Path    string
	Outcome types.Outcome
	// Output is the produced file name for admitted images
	Output string
	Err    error
}

// Summary is returned by Run
type Summary struct {
	Discovered int
	Processed  int
	Admitted   int
	Rejected   int
	Skipped    int
	Failed     int
	// LoadedHashes is the number of hashes read from the log at startup
	LoadedHashes int
	// MalformedLines is the number of log lines skipped at startup
	MalformedLines int
	// ForeignHashes counts loaded hashes whose size differs from the
	// configured hasher's; they can never match a candidate
	ForeignHashes int
	Elapsed       time.Duration
}

// RebuildReport is returned by Rebuild
type RebuildReport struct {
	OutputFiles int
	Hashed      int
	Failed      int
	// PrunedAdmissions counts catalog rows dropped for missing outputs
	PrunedAdmissions int
	// ForgottenRejections counts duplicate verdicts cleared from the catalog
	ForgottenRejections int
	// Errors aggregates per-file failures, nil when there were none
	Errors  error
	Elapsed time.Duration
}
