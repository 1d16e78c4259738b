package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"imagededup/database"
	"imagededup/hashstore"
	"imagededup/imageprocessor"
	"imagededup/signalhandler"
)

// ListOutputFiles returns the converted images directly inside outputDir,
// sorted by name. The log, the catalog and temporary files are not outputs.
func ListOutputFiles(outputDir string) ([]string, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		if imageprocessor.IsOutputFile(entry.Name()) {
			files = append(files, filepath.Join(outputDir, entry.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// Rebuild recomputes the hash of every output file and replaces the hashes
// log with exactly those hashes, one line per file that could be decoded.
// Files that fail are reported in the returned report and left out of the
// log. When the catalog is enabled, admissions whose output no longer exists
// are pruned and duplicate verdicts are cleared. Temporary files left by a
// crashed run are removed first.
func Rebuild(ctx context.Context, opts RebuildOptions) (RebuildReport, error) {
	startTime := time.Now()
	report := RebuildReport{}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	hasher := opts.Hasher
	if hasher == nil {
		h, err := imageprocessor.NewHasher(opts.HashAlgorithm, opts.HashSize)
		if err != nil {
			return report, err
		}
		hasher = h
	}
	var decoder ImageDecoder = imageprocessor.NewImageLoaderRegistry()
	if opts.Decoder != nil {
		decoder = opts.Decoder
	}

	fh, err := newFileHasher(decoder, hasher, logger)
	if err != nil {
		return report, err
	}

	if _, err := sweepTempFiles(opts.OutputDir, logger); err != nil {
		return report, fmt.Errorf("cannot read output directory %s: %w", opts.OutputDir, err)
	}
	files, err := ListOutputFiles(opts.OutputDir)
	if err != nil {
		return report, fmt.Errorf("cannot list output directory %s: %w", opts.OutputDir, err)
	}
	report.OutputFiles = len(files)

	workers := opts.Workers
	if workers <= 0 {
		workers = signalhandler.GetOptimalProcs()
	}

	// results keeps the file order so the rewritten log is deterministic
	results := make([]hashstore.Hash, len(files))
	ok := make([]bool, len(files))

	var mu sync.Mutex
	var failures *multierror.Error

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, path := range files {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			h, _, err := fh.HashFile(path)
			if err != nil {
				logger.WithField("path", path).WithError(err).Warn("cannot hash output file")
				mu.Lock()
				failures = multierror.Append(failures, fmt.Errorf("%s: %w", filepath.Base(path), err))
				mu.Unlock()
				return nil
			}
			results[i] = h
			ok[i] = true
			return nil
		})
	}
	g.Wait()

	if err := ctx.Err(); err != nil {
		report.Elapsed = time.Since(startTime)
		return report, err
	}

	hashes := make([]hashstore.Hash, 0, len(files))
	keep := make(map[string]struct{}, len(files))
	for i, path := range files {
		if !ok[i] {
			continue
		}
		hashes = append(hashes, results[i])
		keep[filepath.Base(path)] = struct{}{}
	}
	report.Hashed = len(hashes)
	report.Failed = len(files) - len(hashes)
	report.Errors = failures.ErrorOrNil()

	if err := hashstore.RewriteLog(hashstore.LogPath(opts.OutputDir), hashes); err != nil {
		return report, err
	}

	if opts.Catalog {
		pruned, forgotten, err := pruneCatalog(opts.OutputDir, keep)
		if err != nil {
			logger.WithError(err).Warn("cannot prune catalog")
		}
		report.PrunedAdmissions = pruned
		report.ForgottenRejections = forgotten
	}

	report.Elapsed = time.Since(startTime)
	logger.WithFields(logrus.Fields{
		"output_files": report.OutputFiles,
		"hashed":       report.Hashed,
		"failed":       report.Failed,
		"pruned":       report.PrunedAdmissions,
		"forgotten":    report.ForgottenRejections,
		"elapsed":      report.Elapsed.Round(time.Millisecond),
	}).Info("hashes log rebuilt")

	return report, nil
}

// pruneCatalog drops catalog admissions whose output is not in keep, then
// clears every duplicate verdict: the rewritten log may no longer hold the
// hash a rejected source was matched against. A missing catalog is not an
// error.
func pruneCatalog(outputDir string, keep map[string]struct{}) (pruned, forgotten int, err error) {
	path := database.CatalogPath(outputDir)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return 0, 0, nil
	}

	db, err := database.InitDatabase(path)
	if err != nil {
		return 0, 0, err
	}
	defer db.Close()

	if pruned, err = database.PruneAdmissions(db, keep); err != nil {
		return 0, 0, err
	}
	if forgotten, err = database.ForgetRejected(db); err != nil {
		return pruned, 0, err
	}
	return pruned, forgotten, nil
}
