package hashstore

import (
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyFile fails the next Write halfway through or the next Sync
type flakyFile struct {
	*os.File
	shortWrite   bool
	failSync     bool
	failTruncate bool
}

func (f *flakyFile) Write(p []byte) (int, error) {
	if f.shortWrite {
		f.shortWrite = false
		n, _ := f.File.Write(p[:len(p)/2])
		return n, errors.New("no space left on device")
	}
	return f.File.Write(p)
}

func (f *flakyFile) Sync() error {
	if f.failSync {
		f.failSync = false
		return errors.New("input/output error")
	}
	return f.File.Sync()
}

func (f *flakyFile) Truncate(size int64) error {
	if f.failTruncate {
		return errors.New("read-only file system")
	}
	return f.File.Truncate(size)
}

func TestLog(t *testing.T) {
	logger, _ := test.NewNullLogger()

	t.Run("missing file loads as empty", func(t *testing.T) {
		hashes, malformed, err := ReadLog(filepath.Join(t.TempDir(), LogFileName), logger)
		require.NoError(t, err)
		assert.Empty(t, hashes)
		assert.Zero(t, malformed)
	})

	t.Run("skips malformed lines", func(t *testing.T) {
		path := LogPath(t.TempDir())
		valid := NewHash([]uint64{123, 456})
		content := "garbage-line\n" + valid.String() + "\n\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

		logger, hook := test.NewNullLogger()
		hashes, malformed, err := ReadLog(path, logger)
		require.NoError(t, err)
		require.Len(t, hashes, 1)
		assert.Equal(t, valid.Words(), hashes[0].Words())
		assert.Equal(t, 1, malformed)
		require.Len(t, hook.Entries, 1)
		assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	})

	t.Run("appends survive reload", func(t *testing.T) {
		path := LogPath(t.TempDir())
		l, err := OpenLog(path)
		require.NoError(t, err)

		var wg sync.WaitGroup
		for i := 0; i < 50; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				assert.NoError(t, l.Append(NewHash([]uint64{uint64(i), ^uint64(i)})))
			}(i)
		}
		wg.Wait()
		require.NoError(t, l.Close())
		require.NoError(t, l.Close())

		raw, err := os.ReadFile(path)
		require.NoError(t, err)
		lines := strings.Split(strings.TrimSuffix(string(raw), "\n"), "\n")
		assert.Len(t, lines, 50)

		hashes, malformed, err := ReadLog(path, logger)
		require.NoError(t, err)
		assert.Len(t, hashes, 50)
		assert.Zero(t, malformed)
	})

	t.Run("append after close fails", func(t *testing.T) {
		l, err := OpenLog(LogPath(t.TempDir()))
		require.NoError(t, err)
		require.NoError(t, l.Close())
		assert.Error(t, l.Append(NewHash([]uint64{1})))
	})

	t.Run("failed append leaves no trace", func(t *testing.T) {
		for name, file := range map[string]*flakyFile{
			"sync":  {failSync: true},
			"write": {shortWrite: true},
		} {
			t.Run(name, func(t *testing.T) {
				path := LogPath(t.TempDir())
				l, err := OpenLog(path)
				require.NoError(t, err)

				first := NewHash([]uint64{1, 2})
				require.NoError(t, l.Append(first))

				file.File = l.file.(*os.File)
				l.file = file
				assert.Error(t, l.Append(NewHash([]uint64{3, 4})))

				raw, err := os.ReadFile(path)
				require.NoError(t, err)
				assert.Equal(t, first.String()+"\n", string(raw))

				last := NewHash([]uint64{5, 6})
				require.NoError(t, l.Append(last))
				require.NoError(t, l.Close())

				hashes, malformed, err := ReadLog(path, logger)
				require.NoError(t, err)
				assert.Zero(t, malformed)
				require.Len(t, hashes, 2)
				assert.Equal(t, first.String(), hashes[0].String())
				assert.Equal(t, last.String(), hashes[1].String())
			})
		}
	})

	t.Run("failed rollback refuses later appends", func(t *testing.T) {
		l, err := OpenLog(LogPath(t.TempDir()))
		require.NoError(t, err)
		defer l.Close()

		l.file = &flakyFile{File: l.file.(*os.File), shortWrite: true, failTruncate: true}
		assert.Error(t, l.Append(NewHash([]uint64{1})))
		assert.Error(t, l.Append(NewHash([]uint64{2})))
	})

	t.Run("rewrite replaces content", func(t *testing.T) {
		dir := t.TempDir()
		path := LogPath(dir)
		require.NoError(t, os.WriteFile(path, []byte("old\nlines\n"), 0o644))

		want := []Hash{NewHash([]uint64{1}), NewHash([]uint64{1}), NewHash([]uint64{2})}
		require.NoError(t, RewriteLog(path, want))

		got, malformed, err := ReadLog(path, logger)
		require.NoError(t, err)
		assert.Zero(t, malformed)
		require.Len(t, got, 3)
		for i := range want {
			assert.Equal(t, want[i].Words(), got[i].Words())
		}

		entries, err := os.ReadDir(dir)
		require.NoError(t, err)
		assert.Len(t, entries, 1, "no temporary files left behind")
	})

	t.Run("reloaded store rejects the same candidates", func(t *testing.T) {
		path := LogPath(t.TempDir())
		l, err := OpenLog(path)
		require.NoError(t, err)

		before := NewStore(10)
		for _, w := range []uint64{0, ^uint64(0)} {
			r, ok := before.Admit(NewHash([]uint64{w}))
			require.True(t, ok)
			require.NoError(t, l.Append(r.Hash()))
			r.Commit()
		}
		require.NoError(t, l.Close())

		hashes, _, err := ReadLog(path, logger)
		require.NoError(t, err)
		after := NewStore(10)
		after.Load(hashes)

		for _, c := range []Hash{flip(0, 3), flip(0, 30), NewHash([]uint64{^uint64(0) >> 2})} {
			assert.Equal(t, before.IsDuplicate(c), after.IsDuplicate(c))
		}
	})
}
