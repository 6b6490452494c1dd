package capture

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDynamicConstantsAndStaticsCollateSeparatelyByMarker(t *testing.T) {
	const src = `{
  "metadata": {},
  "frames": [
    {"function": "f", "source": "a.c", "line": 10},
    {"function": "g", "source": "a.c", "line": 20},
    {"function": "h", "source": "b.c", "line": 1}
  ],
  "backtraces": [[0], [1], [2]],
  "allocations": [
    {"address": 1, "size": 8, "timestamp": 0, "backtrace": 0, "marker": 1},
    {"address": 2, "size": 16, "timestamp": 1, "backtrace": 0, "marker": 1},
    {"address": 3, "size": 4, "timestamp": 2, "backtrace": 1, "marker": 2},
    {"address": 4, "size": 2, "timestamp": 3, "backtrace": 2}
  ],
  "operations": [
    {"kind": "alloc", "allocation_id": 0},
    {"kind": "alloc", "allocation_id": 1},
    {"kind": "alloc", "allocation_id": 2},
    {"kind": "alloc", "allocation_id": 3}
  ]
}`
	l := NewJSONLoader()
	data, err := l.Load(strings.NewReader(src), nil)
	require.NoError(t, err)

	constants := data.DynamicConstants()
	require.Contains(t, constants, "a.c")
	entry := constants["a.c"][10]
	assert.Equal(t, uint64(2), entry.Count)
	assert.Equal(t, uint64(24), entry.Size)
	assert.NotContains(t, constants, "b.c")

	statics := data.DynamicStatics()
	require.Contains(t, statics, "a.c")
	sEntry := statics["a.c"][20]
	assert.Equal(t, uint64(1), sEntry.Count)
	assert.Equal(t, uint64(4), sEntry.Size)
	assert.NotContains(t, statics, "b.c")
}

func TestCollationSkipsUnmarkedAllocations(t *testing.T) {
	l := NewJSONLoader()
	data, err := l.Load(strings.NewReader(sampleCapture), nil)
	require.NoError(t, err)

	assert.Empty(t, data.DynamicConstants())
	assert.Empty(t, data.DynamicStatics())
}
