package scanner

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/sirupsen/logrus"

	"imagededup/imageprocessor"
)

// Discover walks root recursively and returns every file whose extension is
// on the image allow-list. Unreadable subdirectories are skipped; an
// unreadable root is an error. Directories listed in exclude (typically the
// output directory when it lives inside the source tree) are not entered.
func Discover(root string, exclude []string, logger logrus.FieldLogger) ([]string, error) {
	skip := make(map[string]struct{}, len(exclude))
	for _, dir := range exclude {
		if abs, err := filepath.Abs(dir); err == nil {
			skip[abs] = struct{}{}
		}
	}

	var paths []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			logger.WithField("path", path).WithError(err).Debug("skipping unreadable path")
			return nil
		}

		if d.IsDir() {
			if path != root {
				if abs, absErr := filepath.Abs(path); absErr == nil {
					if _, ok := skip[abs]; ok {
						return filepath.SkipDir
					}
				}
			}
			return nil
		}

		if imageprocessor.IsImageFile(path) {
			paths = append(paths, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return paths, nil
}

// sweepTempFiles removes the "*.tmp" files a crashed run left directly
// inside outputDir. Outputs and the rewritten log only get their final name
// by rename, so any temporary file found at startup is garbage. A missing
// directory has nothing to sweep.
func sweepTempFiles(outputDir string, logger logrus.FieldLogger) (int, error) {
	entries, err := os.ReadDir(outputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}

	removed := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() || !strings.HasSuffix(entry.Name(), ".tmp") {
			continue
		}
		path := filepath.Join(outputDir, entry.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logger.WithField("path", path).WithError(err).Warn("cannot remove stale temporary file")
			continue
		}
		removed++
	}
	if removed > 0 {
		logger.WithField("output", outputDir).WithField("removed", removed).Info("removed stale temporary files")
	}
	return removed, nil
}
