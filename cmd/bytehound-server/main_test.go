package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

const miniCapture = `{
  "metadata": {"executable": "demo"},
  "frames": [], "backtraces": [],
  "allocations": [{"address": 1, "size": 1, "timestamp": 0}],
  "operations": [{"kind": "alloc", "allocation_id": 0}]
}`

func writeCaptureFile(t *testing.T, dir, name string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(miniCapture), 0o644))
	return p
}

func TestLoadCapturesSequential(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		writeCaptureFile(t, dir, "a.json"),
		writeCaptureFile(t, dir, "b.json"),
	}

	results, err := loadCaptures(log.NewNopLogger(), capture.NewJSONLoader(), inputs, nil, false)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, d := range results {
		assert.Equal(t, "demo", d.Metadata().Executable)
	}
}

func TestLoadCapturesParallelAssignsDistinctIDs(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		writeCaptureFile(t, dir, "a.json"),
		writeCaptureFile(t, dir, "b.json"),
		writeCaptureFile(t, dir, "c.json"),
	}

	results, err := loadCaptures(log.NewNopLogger(), capture.NewJSONLoader(), inputs, nil, true)
	require.NoError(t, err)
	require.Len(t, results, 3)

	seen := make(map[capture.CaptureId]bool)
	for _, d := range results {
		require.NotNil(t, d)
		assert.False(t, seen[d.ID()], "capture ids must be distinct under parallel load")
		seen[d.ID()] = true
	}
}

func TestLoadCapturesAbortsOnMissingFile(t *testing.T) {
	dir := t.TempDir()
	inputs := []string{
		writeCaptureFile(t, dir, "a.json"),
		filepath.Join(dir, "does-not-exist.json"),
	}

	_, err := loadCaptures(log.NewNopLogger(), capture.NewJSONLoader(), inputs, nil, false)
	assert.Error(t, err)
}
