package hashstore

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// LogFileName is the name of the hashes log inside the output directory
const LogFileName = "hashes"

// LogPath returns the hashes log location for an output directory
func LogPath(outputDir string) string {
	return filepath.Join(outputDir, LogFileName)
}

// logFile is the part of *os.File the log writes through
type logFile interface {
	io.WriteCloser
	Sync() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// Log is the append-only hashes file. Each Append writes one full line with
// a single write call while holding the log mutex.
type Log struct {
	path string

	mu     sync.Mutex
	file   logFile
	broken error
}

// OpenLog opens (creating if needed) the hashes log for appending
func OpenLog(path string) (*Log, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "open hashes log %q", path)
	}
	return &Log{path: path, file: f}, nil
}

// Append writes h as a new line and syncs it to disk. When the write or the
// sync fails the file is truncated back to its previous size, so a failed
// Append leaves neither a complete nor a partial line behind.
func (l *Log) Append(h Hash) error {
	line := []byte(h.String() + "\n")

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return errors.Errorf("hashes log %q is closed", l.path)
	}
	if l.broken != nil {
		return errors.Wrapf(l.broken, "hashes log %q is unusable", l.path)
	}

	info, err := l.file.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat hashes log %q", l.path)
	}
	size := info.Size()

	if _, err := l.file.Write(line); err != nil {
		return l.rollback(size, errors.Wrapf(err, "append to hashes log %q", l.path))
	}
	if err := l.file.Sync(); err != nil {
		return l.rollback(size, errors.Wrapf(err, "sync hashes log %q", l.path))
	}
	return nil
}

// rollback cuts the file back to size after a failed append. If even that
// fails the log refuses further appends.
func (l *Log) rollback(size int64, cause error) error {
	if err := l.file.Truncate(size); err != nil {
		l.broken = errors.Wrapf(err, "truncate to %d bytes", size)
		return errors.Wrapf(cause, "truncate to %d bytes also failed: %v", size, err)
	}
	return cause
}

// Close closes the underlying file. Closing twice is a no-op.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadLog loads every well-formed hash from the log at path. Malformed lines
// are skipped and counted; blank lines are ignored. A missing file yields an
// empty result.
func ReadLog(path string, logger logrus.FieldLogger) ([]Hash, int, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, errors.Wrapf(err, "open hashes log %q", path)
	}
	defer f.Close()

	var hashes []Hash
	malformed := 0
	lineNo := 0

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		lineNo++
		text := sc.Text()
		if len(text) == 0 {
			continue
		}
		h, err := ParseHash(text)
		if err != nil {
			malformed++
			logger.WithField("path", path).WithField("line", lineNo).
				WithError(err).Warn("skipping malformed hash line")
			continue
		}
		hashes = append(hashes, h)
	}
	if err := sc.Err(); err != nil {
		return hashes, malformed, errors.Wrapf(err, "read hashes log %q", path)
	}

	return hashes, malformed, nil
}

// RewriteLog replaces the log at path with exactly the given hashes. The new
// content is written to a temporary file in the same directory and renamed
// over the old log.
func RewriteLog(path string, hashes []Hash) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), LogFileName+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temporary hashes log")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	for _, h := range hashes {
		if _, err := w.WriteString(h.String() + "\n"); err != nil {
			tmp.Close()
			return errors.Wrap(err, "write temporary hashes log")
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "flush temporary hashes log")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "sync temporary hashes log")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "close temporary hashes log")
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return errors.Wrap(err, "chmod temporary hashes log")
	}

	if err := os.Rename(tmpName, path); err != nil {
		return errors.Wrapf(err, "replace hashes log %q", path)
	}
	return nil
}
