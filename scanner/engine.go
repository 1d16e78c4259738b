package scanner

import (
	"database/sql"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"imagededup/hashstore"
	"imagededup/imageprocessor"
	"imagededup/logging"
	"imagededup/types"
)

// ImageDecoder decodes a file into an image
type ImageDecoder interface {
	LoadImage(path string) (image.Image, error)
}

// HashLog is the durable side of the hash store
type HashLog interface {
	Append(h hashstore.Hash) error
}

// EngineConfig lists the collaborators of an Engine. Everything is owned by
// the run and passed in explicitly.
type EngineConfig struct {
	Decoder   ImageDecoder
	Hasher    imageprocessor.Hasher
	Encoder   imageprocessor.Encoder
	Store     *hashstore.Store
	Log       HashLog
	OutputDir string
	Logger    logrus.FieldLogger

	// Catalog is optional; when nil nothing is recorded and nothing skipped
	Catalog       *sql.DB
	SkipUnchanged bool
}

// fileHasher decodes a file and computes its perceptual hash. Convert and
// rebuild share it, so an output file hashes exactly like its source did.
type fileHasher struct {
	decoder ImageDecoder
	hasher  imageprocessor.Hasher
	logger  logrus.FieldLogger
}

func newFileHasher(decoder ImageDecoder, hasher imageprocessor.Hasher, logger logrus.FieldLogger) (*fileHasher, error) {
	if decoder == nil || hasher == nil {
		return nil, fmt.Errorf("hashing files needs a decoder and a hasher")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &fileHasher{decoder: decoder, hasher: hasher, logger: logger}, nil
}

// HashFile decodes path and computes its perceptual hash. A panic inside a
// decoder or hasher is turned into an error for that file only.
func (f *fileHasher) HashFile(path string) (h hashstore.Hash, img image.Image, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.WithField("path", path).WithField("stack", string(debug.Stack())).
				Errorf("panic during decode: %v", r)
			err = fmt.Errorf("%w: panic while decoding %s: %v", ErrDecode, path, r)
		}
	}()

	img, err = f.decoder.LoadImage(path)
	if err != nil {
		return hashstore.Hash{}, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}

	h, err = f.hasher.Hash(img)
	if err != nil {
		return hashstore.Hash{}, nil, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	return h, img, nil
}

// Engine runs the admission protocol and the conversion commit for single
// candidates. It is safe for concurrent use by many workers.
type Engine struct {
	files     *fileHasher
	encoder   imageprocessor.Encoder
	store     *hashstore.Store
	log       HashLog
	outputDir string
	logger    logrus.FieldLogger

	catalog       *sql.DB
	skipUnchanged bool

	newName func() (string, error)
}

// NewEngine creates an engine from its collaborators
func NewEngine(cfg EngineConfig) (*Engine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("engine needs a store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	files, err := newFileHasher(cfg.Decoder, cfg.Hasher, logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		files:         files,
		encoder:       cfg.Encoder,
		store:         cfg.Store,
		log:           cfg.Log,
		outputDir:     cfg.OutputDir,
		logger:        logger,
		catalog:       cfg.Catalog,
		skipUnchanged: cfg.SkipUnchanged && cfg.Catalog != nil,
		newName:       newOutputName,
	}, nil
}

// newOutputName returns a fresh time-ordered unique base name
func newOutputName() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// HashFile decodes path and computes its perceptual hash
func (e *Engine) HashFile(path string) (hashstore.Hash, image.Image, error) {
	return e.files.HashFile(path)
}

// Admit runs the admission protocol for one candidate. Decoding and hashing
// happen outside the store lock; the scan and the reservation happen inside
// it.
func (e *Engine) Admit(path string) AdmitResult {
	h, img, err := e.HashFile(path)
	if err != nil {
		return AdmitResult{Status: Failed, Err: err}
	}

	r, ok := e.store.Admit(h)
	if !ok {
		return AdmitResult{Status: Rejected, Hash: h}
	}
	return AdmitResult{Status: Admitted, Hash: h, Image: img, Reservation: r}
}

// Process handles one candidate end to end: skip check, admission, and for
// admitted images the encode / write / log / insert commit
func (e *Engine) Process(path string) Result {
	result := Result{Path: path}

	var info os.FileInfo
	if e.catalog != nil {
		var err error
		info, err = os.Stat(path)
		if err != nil {
			result.Outcome = types.OutcomeFailed
			result.Err = fmt.Errorf("%w: cannot stat file %s: %v", ErrDecode, path, err)
			e.report(result)
			return result
		}
		if e.checkAndSkipIfUnchanged(path, info) {
			result.Outcome = types.OutcomeSkipped
			e.report(result)
			return result
		}
	}

	ar := e.Admit(path)
	switch ar.Status {
	case Failed:
		result.Outcome = types.OutcomeFailed
		result.Err = ar.Err
	case Rejected:
		result.Outcome = types.OutcomeRejected
		e.recordOutcome(path, info, result.Outcome)
	case Admitted:
		name, size, err := e.commit(ar)
		if err != nil {
			result.Outcome = types.OutcomeFailed
			result.Err = err
			break
		}
		result.Outcome = types.OutcomeAdmitted
		result.Output = name
		e.recordAdmission(path, info, name, size, ar)
	}

	e.report(result)
	return result
}

// commit makes an admission durable: encode, write the output file, append
// the hash to the log and finally insert it into the store. On any failure
// the output file is removed and the reservation aborted, so nothing of the
// item survives.
func (e *Engine) commit(ar AdmitResult) (name string, size int64, err error) {
	r := ar.Reservation
	var written string

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while committing: %v", p)
		}
		if err != nil {
			if written != "" {
				if rmErr := os.Remove(written); rmErr != nil && !os.IsNotExist(rmErr) {
					e.logger.WithField("output", written).WithError(rmErr).Error("cannot remove output of failed commit")
				}
			}
			r.Abort()
		}
	}()

	if e.encoder == nil || e.log == nil {
		return "", 0, fmt.Errorf("engine has no encoder or hashes log")
	}

	data, err := e.encoder.Encode(ar.Image)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %v", ErrEncode, err)
	}

	base, err := e.newName()
	if err != nil {
		return "", 0, fmt.Errorf("cannot generate output name: %w", err)
	}
	name = base + e.encoder.Extension()
	final := filepath.Join(e.outputDir, name)

	if err := writeOutputFile(final, data); err != nil {
		return "", 0, err
	}
	written = final

	if err := e.log.Append(r.Hash()); err != nil {
		return "", 0, fmt.Errorf("cannot record hash: %w", err)
	}

	r.Commit()
	return name, int64(len(data)), nil
}

// writeOutputFile writes data next to path under a temporary name and
// renames it into place, so a crash never leaves a truncated output behind
func writeOutputFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("cannot create output file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot write output file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("cannot sync output file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot close output file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot chmod output file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("cannot move output file into place: %w", err)
	}
	return nil
}

func (e *Engine) report(result Result) {
	logging.LogImageProcessed(e.logger, result.Path, result.Outcome, result.Output, result.Err)
}
