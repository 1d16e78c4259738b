package scanner

import (
	"os"
	"time"

	"imagededup/database"
	"imagededup/types"
)

// checkAndSkipIfUnchanged reports whether a source can be skipped because a
// previous run already decided on it and it has not changed since. Catalog
// errors never skip a file.
func (e *Engine) checkAndSkipIfUnchanged(path string, info os.FileInfo) bool {
	if !e.skipUnchanged || info == nil {
		return false
	}

	unchanged, err := database.CheckSourceUnchanged(e.catalog, path, info.ModTime())
	if err != nil {
		e.logger.WithField("path", path).WithError(err).Debug("catalog lookup failed, processing anyway")
		return false
	}
	if unchanged {
		e.logger.WithField("path", path).Debug("skipping unchanged image")
	}
	return unchanged
}

// recordOutcome stores the decision for a source. The catalog is advisory:
// failures are logged and otherwise ignored.
func (e *Engine) recordOutcome(path string, info os.FileInfo, outcome types.Outcome) {
	if e.catalog == nil || info == nil {
		return
	}
	if err := database.RecordSource(e.catalog, path, info.ModTime(), outcome); err != nil {
		e.logger.WithField("path", path).WithError(err).Warn("cannot update catalog")
	}
}

// recordAdmission stores the admission row and the source decision
func (e *Engine) recordAdmission(path string, info os.FileInfo, name string, size int64, ar AdmitResult) {
	if e.catalog == nil {
		return
	}

	rec := types.AdmissionRecord{
		SourcePath: path,
		OutputName: name,
		Hash:       ar.Hash.String(),
		Size:       size,
		CreatedAt:  time.Now().UTC().Format(time.RFC3339),
	}
	if ar.Image != nil {
		b := ar.Image.Bounds()
		rec.Width = b.Dx()
		rec.Height = b.Dy()
	}

	if err := database.StoreAdmission(e.catalog, rec); err != nil {
		e.logger.WithField("path", path).WithError(err).Warn("cannot record admission in catalog")
	}
	e.recordOutcome(path, info, types.OutcomeAdmitted)
}
