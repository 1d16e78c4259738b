package scanner

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"imagededup/database"
	"imagededup/hashstore"
	"imagededup/imageprocessor"
	"imagededup/signalhandler"
)

// Run discovers every candidate under opts.SourceDir and feeds them through
// the admission engine with opts.Workers parallel workers. Setup failures
// (unreadable log, unwritable output directory, unreadable source root) are
// returned before any candidate is processed; per-file failures are only
// counted. When ctx is cancelled no new candidates are started, in-flight
// ones finish, and the partial summary is returned with ctx.Err().
func Run(ctx context.Context, opts ScanOptions) (Summary, error) {
	startTime := time.Now()
	summary := Summary{}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return summary, fmt.Errorf("cannot create output directory %s: %w", opts.OutputDir, err)
	}
	if _, err := sweepTempFiles(opts.OutputDir, logger); err != nil {
		return summary, fmt.Errorf("cannot read output directory %s: %w", opts.OutputDir, err)
	}

	hasher := opts.Hasher
	if hasher == nil {
		h, err := imageprocessor.NewHasher(opts.HashAlgorithm, opts.HashSize)
		if err != nil {
			return summary, err
		}
		hasher = h
	}
	encoder := opts.Encoder
	if encoder == nil {
		enc, err := imageprocessor.NewEncoder(opts.Format, opts.Speed, opts.Quality)
		if err != nil {
			return summary, err
		}
		encoder = enc
	}
	var decoder ImageDecoder = imageprocessor.NewImageLoaderRegistry()
	if opts.Decoder != nil {
		decoder = opts.Decoder
	}

	logPath := hashstore.LogPath(opts.OutputDir)
	hashes, malformed, err := hashstore.ReadLog(logPath, logger)
	if err != nil {
		return summary, err
	}
	summary.LoadedHashes = len(hashes)
	summary.MalformedLines = malformed

	summary.ForeignHashes = countForeignHashes(hashes, hasher.Bits())
	if summary.ForeignHashes > 0 {
		logger.WithFields(logrus.Fields{
			"hashes": summary.ForeignHashes,
			"bits":   hasher.Bits(),
			"hasher": hasher.Name(),
		}).Warn("hashes log holds hashes of a different size; they never match and earlier outputs are not deduplicated against, run rebuild")
	}

	store := hashstore.NewStore(opts.Threshold)
	store.Load(hashes)

	hashLog, err := hashstore.OpenLog(logPath)
	if err != nil {
		return summary, err
	}
	defer hashLog.Close()

	var catalog *sql.DB
	if opts.Catalog {
		catalog, err = database.InitDatabase(database.CatalogPath(opts.OutputDir))
		if err != nil {
			return summary, err
		}
		defer catalog.Close()
	}

	engine, err := NewEngine(EngineConfig{
		Decoder:       decoder,
		Hasher:        hasher,
		Encoder:       encoder,
		Store:         store,
		Log:           hashLog,
		OutputDir:     opts.OutputDir,
		Logger:        logger,
		Catalog:       catalog,
		SkipUnchanged: opts.SkipUnchanged,
	})
	if err != nil {
		return summary, err
	}

	paths, err := Discover(opts.SourceDir, []string{opts.OutputDir}, logger)
	if err != nil {
		return summary, fmt.Errorf("cannot read source directory %s: %w", opts.SourceDir, err)
	}
	summary.Discovered = len(paths)

	logger.WithFields(logrus.Fields{
		"source":     opts.SourceDir,
		"output":     opts.OutputDir,
		"candidates": len(paths),
		"loaded":     len(hashes),
		"malformed":  malformed,
		"hasher":     hasher.Name(),
		"format":     encoder.Extension(),
	}).Info("starting conversion")

	runErr := processAll(ctx, engine, paths, opts.Workers, opts.ProgressWriter, &summary)

	summary.Elapsed = time.Since(startTime)
	logger.WithFields(logrus.Fields{
		"processed": summary.Processed,
		"admitted":  summary.Admitted,
		"rejected":  summary.Rejected,
		"skipped":   summary.Skipped,
		"failed":    summary.Failed,
		"elapsed":   summary.Elapsed.Round(time.Millisecond),
	}).Info("conversion finished")

	return summary, runErr
}

// countForeignHashes returns how many hashes are not bits wide
func countForeignHashes(hashes []hashstore.Hash, bits int) int {
	n := 0
	for _, h := range hashes {
		if h.Bits() != bits {
			n++
		}
	}
	return n
}

// processAll runs the worker pool over paths. A producer goroutine feeds a
// channel that workers drain; cancelling ctx stops the producer only, so
// every started candidate runs to completion.
func processAll(ctx context.Context, engine *Engine, paths []string, workers int, progress io.Writer, summary *Summary) error {
	if workers <= 0 {
		workers = signalhandler.GetOptimalProcs()
	}

	resultsChan := make(chan Result, 100)
	tracker := NewProgressTracker(len(paths), progress, resultsChan)

	jobs := make(chan string)
	var g errgroup.Group

	g.Go(func() error {
		defer close(jobs)
		for _, path := range paths {
			if ctx.Err() != nil {
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case jobs <- path:
			}
		}
		return nil
	})

	for i := 0; i < workers; i++ {
		g.Go(func() error {
			for path := range jobs {
				resultsChan <- engine.Process(path)
			}
			return nil
		})
	}

	g.Wait()
	close(resultsChan)
	tracker.Stop()
	tracker.Fill(summary)

	return ctx.Err()
}
