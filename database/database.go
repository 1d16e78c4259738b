package database

import (
	"database/sql"
	"fmt"
	"path/filepath"
	"time"

	"imagededup/types"

	_ "github.com/mattn/go-sqlite3"
)

// CatalogFileName is the catalog database name inside the output directory
const CatalogFileName = "catalog.db"

// CatalogPath returns the catalog location for an output directory
func CatalogPath(outputDir string) string {
	return filepath.Join(outputDir, CatalogFileName)
}

// InitDatabase initializes and returns a database connection
func InitDatabase(dbPath string) (*sql.DB, error) {
	db, err := OpenDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	// Create tables if they don't exist
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS admissions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		source_path TEXT NOT NULL,
		output_name TEXT NOT NULL UNIQUE,
		hash TEXT NOT NULL,
		width INTEGER,
		height INTEGER,
		size INTEGER,
		created_at TEXT
	);
	CREATE TABLE IF NOT EXISTS sources (
		path TEXT PRIMARY KEY,
		modified_at TEXT NOT NULL,
		outcome TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_admissions_source ON admissions(source_path);
	CREATE INDEX IF NOT EXISTS idx_admissions_hash ON admissions(hash);`

	if _, err = db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot create catalog schema: %w", err)
	}

	return db, nil
}

// OpenDatabase opens a database connection. sqlite allows a single writer,
// so the pool is capped at one connection and writers wait on the busy
// timeout instead of failing.
func OpenDatabase(dbPath string) (*sql.DB, error) {
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", dbPath)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("cannot open catalog %s: %w", dbPath, err)
	}
	return db, nil
}

// CheckSourceUnchanged reports whether path was already decided on
// (admitted or rejected) and has not been modified since
func CheckSourceUnchanged(db *sql.DB, path string, modTime time.Time) (bool, error) {
	var storedModTime string
	var outcome string
	err := db.QueryRow("SELECT modified_at, outcome FROM sources WHERE path = ?", path).Scan(&storedModTime, &outcome)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("database error for %s: %w", path, err)
	}

	if outcome != string(types.OutcomeAdmitted) && outcome != string(types.OutcomeRejected) {
		return false, nil
	}

	storedTime, err := time.Parse(time.RFC3339Nano, storedModTime)
	if err != nil {
		return false, fmt.Errorf("cannot parse stored time for %s: %w", path, err)
	}

	return !modTime.After(storedTime), nil
}

// RecordSource stores the decision taken for a source file
func RecordSource(db *sql.DB, path string, modTime time.Time, outcome types.Outcome) error {
	_, err := db.Exec(`
		INSERT INTO sources (path, modified_at, outcome) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET modified_at = excluded.modified_at, outcome = excluded.outcome
	`, path, modTime.UTC().Format(time.RFC3339Nano), string(outcome))
	if err != nil {
		return fmt.Errorf("cannot record source %s: %w", path, err)
	}
	return nil
}

// StoreAdmission stores an admission record
func StoreAdmission(db *sql.DB, rec types.AdmissionRecord) error {
	createdAt := rec.CreatedAt
	if createdAt == "" {
		createdAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := db.Exec(`
		INSERT OR REPLACE INTO admissions (
			source_path, output_name, hash, width, height, size, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		rec.SourcePath,
		rec.OutputName,
		rec.Hash,
		rec.Width,
		rec.Height,
		rec.Size,
		createdAt,
	)
	if err != nil {
		return fmt.Errorf("cannot insert admission for %s: %w", rec.SourcePath, err)
	}
	return nil
}

// ListOutputNames returns the output file names of every admission
func ListOutputNames(db *sql.DB) ([]string, error) {
	rows, err := db.Query("SELECT output_name FROM admissions ORDER BY id")
	if err != nil {
		return nil, fmt.Errorf("cannot list admissions: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// PruneAdmissions removes admission rows whose output file is not in keep,
// together with the source rows that pointed at them. It returns the number
// of admissions removed.
func PruneAdmissions(db *sql.DB, keep map[string]struct{}) (int, error) {
	names, err := ListOutputNames(db)
	if err != nil {
		return 0, err
	}

	tx, err := db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	removed := 0
	for _, name := range names {
		if _, ok := keep[name]; ok {
			continue
		}
		// forget the source so a later run can admit it again
		if _, err := tx.Exec(`DELETE FROM sources WHERE path IN (SELECT source_path FROM admissions WHERE output_name = ?)`, name); err != nil {
			return 0, fmt.Errorf("cannot forget source of %s: %w", name, err)
		}
		if _, err := tx.Exec(`DELETE FROM admissions WHERE output_name = ?`, name); err != nil {
			return 0, fmt.Errorf("cannot delete admission %s: %w", name, err)
		}
		removed++
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return removed, nil
}

// ForgetRejected drops every source recorded as a near-duplicate. Those
// verdicts were taken against a set of hashes that a rebuild may have
// shrunk, so the sources have to be judged again on the next run.
func ForgetRejected(db *sql.DB) (int, error) {
	res, err := db.Exec(`DELETE FROM sources WHERE outcome = ?`, string(types.OutcomeRejected))
	if err != nil {
		return 0, fmt.Errorf("cannot forget rejected sources: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// GetScanStats retrieves catalog counters. LogLines and OutputFiles are
// filled in by the caller.
func GetScanStats(db *sql.DB) (*types.ScanStats, error) {
	var stats types.ScanStats

	if err := db.QueryRow("SELECT COUNT(*) FROM admissions").Scan(&stats.Admissions); err != nil {
		return nil, fmt.Errorf("failed to count admissions: %w", err)
	}
	if err := db.QueryRow("SELECT COUNT(*) FROM sources").Scan(&stats.Sources); err != nil {
		return nil, fmt.Errorf("failed to count sources: %w", err)
	}
	err := db.QueryRow("SELECT COUNT(*) FROM sources WHERE outcome = ?", string(types.OutcomeRejected)).Scan(&stats.Rejected)
	if err != nil {
		return nil, fmt.Errorf("failed to count rejected sources: %w", err)
	}

	return &stats, nil
}
