package scanner

import (
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscover(t *testing.T) {
	root := t.TempDir()
	out := filepath.Join(root, "out")

	files := []string{
		"a.jpg",
		"b.JPEG",
		"deep/nested/c.png",
		"d.tif",
		"e.webp",
		"f.txt",
		"g.avif",
		"out/converted.webp",
	}
	for _, f := range files {
		p := filepath.Join(root, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o644))
	}

	logger, _ := newTestLogger()
	paths, err := Discover(root, []string{out}, logger)
	require.NoError(t, err)

	var rel []string
	for _, p := range paths {
		r, err := filepath.Rel(root, p)
		require.NoError(t, err)
		rel = append(rel, filepath.ToSlash(r))
	}
	sort.Strings(rel)

	assert.Equal(t, []string{"a.jpg", "b.JPEG", "d.tif", "deep/nested/c.png", "e.webp"}, rel)
}

func TestDiscoverMissingRoot(t *testing.T) {
	logger, _ := newTestLogger()
	_, err := Discover(filepath.Join(t.TempDir(), "missing"), nil, logger)
	assert.Error(t, err)
}
