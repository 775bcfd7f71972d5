package services

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestListPDFsFiltersAndLimits(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.pdf", []byte("x"))
	writeFile(t, dir, "b.PDF", []byte("x"))
	writeFile(t, dir, "c.pdf", []byte("x"))
	writeFile(t, dir, "notes.txt", []byte("x"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.pdf"), 0o755))

	paths, err := listPDFs(dir, 0)
	require.NoError(t, err)
	assert.Len(t, paths, 3)

	paths, err = listPDFs(dir, 2)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
}

func TestScanReportsUnreadableFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "broken.pdf", []byte("this is not really a pdf"))

	ingest := newTestIngest(t)
	scanner := &BatchScanner{Config: ingest.Config, Logger: zap.NewNop(), Ingest: ingest}

	results, err := scanner.Scan(context.Background(), dir, 0)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Error(t, results[0].Err)
}

func TestScanMissingDirectory(t *testing.T) {
	ingest := newTestIngest(t)
	scanner := &BatchScanner{Config: ingest.Config, Logger: zap.NewNop(), Ingest: ingest}

	_, err := scanner.Scan(context.Background(), filepath.Join(t.TempDir(), "nope"), 0)
	require.Error(t, err)
}
