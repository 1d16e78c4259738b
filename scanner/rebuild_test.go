package scanner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"imagededup/database"
	"imagededup/hashstore"
)

func testRebuildOptions(out string) RebuildOptions {
	logger, _ := newTestLogger()
	return RebuildOptions{
		OutputDir: out,
		Workers:   4,
		Logger:    logger,
		Decoder:   pngDecoder{},
		Hasher:    redHasher{},
	}
}

func TestRebuildMatchesConvertedSet(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	for i := 0; i < 5; i++ {
		writeRedPNG(t, filepath.Join(src, fmt.Sprintf("img%d.png", i)), uint8(i*12))
	}

	logger, _ := newTestLogger()
	_, err := Run(context.Background(), testScanOptions(src, out, logger, &pngEncoder{}))
	require.NoError(t, err)
	before := readLogLines(t, out)
	require.Len(t, before, 5)

	// damage the log, rebuild must restore it
	require.NoError(t, os.WriteFile(hashstore.LogPath(out), []byte("garbage\n"), 0o644))

	report, err := Rebuild(context.Background(), testRebuildOptions(out))
	require.NoError(t, err)
	assert.Equal(t, 5, report.OutputFiles)
	assert.Equal(t, 5, report.Hashed)
	assert.Equal(t, 0, report.Failed)
	assert.NoError(t, report.Errors)

	assert.Equal(t, before, readLogLines(t, out))
}

func TestRebuildDropsDeletedOutputs(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	writeRedPNG(t, filepath.Join(src, "a.png"), 0)
	writeRedPNG(t, filepath.Join(src, "b.png"), 30)

	logger, _ := newTestLogger()
	_, err := Run(context.Background(), testScanOptions(src, out, logger, &pngEncoder{}))
	require.NoError(t, err)

	names := outputNames(t, out)
	require.Len(t, names, 2)
	require.NoError(t, os.Remove(filepath.Join(out, names[0])))

	_, err = Rebuild(context.Background(), testRebuildOptions(out))
	require.NoError(t, err)
	assert.Len(t, readLogLines(t, out), 1)
}

func TestRebuildReportsUndecodableFiles(t *testing.T) {
	out := t.TempDir()
	writeRedPNG(t, filepath.Join(out, "good.webp"), 7)
	require.NoError(t, os.WriteFile(filepath.Join(out, "bad.avif"), []byte("nope"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(out, "notes.txt"), []byte("nope"), 0o644))

	report, err := Rebuild(context.Background(), testRebuildOptions(out))
	require.NoError(t, err)

	assert.Equal(t, 2, report.OutputFiles)
	assert.Equal(t, 1, report.Hashed)
	assert.Equal(t, 1, report.Failed)

	var merr *multierror.Error
	require.ErrorAs(t, report.Errors, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.ErrorIs(t, merr.Errors[0], ErrDecode)

	assert.Equal(t, []string{redHash(7).String()}, readLogLines(t, out))
}

func TestRebuildEmptyOutputDir(t *testing.T) {
	out := t.TempDir()

	report, err := Rebuild(context.Background(), testRebuildOptions(out))
	require.NoError(t, err)
	assert.Equal(t, 0, report.OutputFiles)

	data, err := os.ReadFile(hashstore.LogPath(out))
	require.NoError(t, err)
	assert.Empty(t, data)
}

func TestRebuildMissingOutputDir(t *testing.T) {
	_, err := Rebuild(context.Background(), testRebuildOptions(filepath.Join(t.TempDir(), "missing")))
	assert.Error(t, err)
}

func TestRebuildPrunesCatalog(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	writeRedPNG(t, filepath.Join(src, "a.png"), 0)
	writeRedPNG(t, filepath.Join(src, "b.png"), 30)

	logger, _ := newTestLogger()
	opts := testScanOptions(src, out, logger, &pngEncoder{})
	opts.Catalog = true
	_, err := Run(context.Background(), opts)
	require.NoError(t, err)

	names := outputNames(t, out)
	require.Len(t, names, 2)
	require.NoError(t, os.Remove(filepath.Join(out, names[1])))

	ropts := testRebuildOptions(out)
	ropts.Catalog = true
	report, err := Rebuild(context.Background(), ropts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PrunedAdmissions)

	db, err := database.OpenDatabase(database.CatalogPath(out))
	require.NoError(t, err)
	defer db.Close()
	left, err := database.ListOutputNames(db)
	require.NoError(t, err)
	assert.Equal(t, []string{names[0]}, left)
}

func TestRebuildReadmitsSourcesRejectedAgainstRemovedOutputs(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()
	writeRedPNG(t, filepath.Join(src, "a.png"), 0)
	writeRedPNG(t, filepath.Join(src, "b.png"), 4)

	logger, _ := newTestLogger()
	opts := testScanOptions(src, out, logger, &pngEncoder{})
	opts.Workers = 1
	opts.Catalog = true
	opts.SkipUnchanged = true

	// b is within threshold of a, whichever of the two is admitted first
	first, err := Run(context.Background(), opts)
	require.NoError(t, err)
	require.Equal(t, 1, first.Admitted)
	require.Equal(t, 1, first.Rejected)

	names := outputNames(t, out)
	require.Len(t, names, 1)
	require.NoError(t, os.Remove(filepath.Join(out, names[0])))
	require.NoError(t, os.Remove(filepath.Join(src, "a.png")))

	ropts := testRebuildOptions(out)
	ropts.Catalog = true
	report, err := Rebuild(context.Background(), ropts)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PrunedAdmissions)
	assert.Empty(t, readLogLines(t, out))

	second, err := Run(context.Background(), opts)
	require.NoError(t, err)
	assert.Equal(t, 1, second.Admitted)
	assert.Equal(t, 0, second.Skipped)
	assert.Equal(t, []string{redHash(4).String()}, readLogLines(t, out))
}

func TestRebuildSweepsTemporaryFiles(t *testing.T) {
	out := t.TempDir()
	writeRedPNG(t, filepath.Join(out, "good.webp"), 7)
	for _, name := range []string{"good.webp.123.tmp", "hashes.456.tmp"} {
		require.NoError(t, os.WriteFile(filepath.Join(out, name), []byte("partial"), 0o644))
	}

	_, err := Rebuild(context.Background(), testRebuildOptions(out))
	require.NoError(t, err)

	assert.NoFileExists(t, filepath.Join(out, "good.webp.123.tmp"))
	assert.NoFileExists(t, filepath.Join(out, "hashes.456.tmp"))
	assert.FileExists(t, filepath.Join(out, "good.webp"))
}

func TestListOutputFilesIgnoresBookkeeping(t *testing.T) {
	out := t.TempDir()
	for _, name := range []string{"b.webp", "a.AVIF", "hashes", "catalog.db", "x.webp.123.tmp", ".write-test-1"} {
		require.NoError(t, os.WriteFile(filepath.Join(out, name), nil, 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(out, "dir.webp"), 0o755))

	assert.Equal(t, []string{"a.AVIF", "b.webp"}, outputNames(t, out))
}
