package capture

import (
	"bytes"
	"strings"
	"testing"

	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleCapture = `{
  "metadata": {"executable": "demo", "architecture": "x86_64", "runtime": "glibc"},
  "frames": [
    {"function": "main", "source": "main.c", "line": 10},
    {"function": "helper", "source": "helper.c", "line": 3}
  ],
  "backtraces": [[0, 1], [0]],
  "allocations": [
    {"address": 4096, "size": 16, "timestamp": 0, "thread_id": 1, "backtrace": 0, "main_arena": true},
    {"address": 8192, "size": 32, "timestamp": 1000000, "thread_id": 1, "backtrace": 1,
     "dealloc": {"timestamp": 2000000, "thread_id": 1}}
  ],
  "operations": [
    {"kind": "alloc", "allocation_id": 0},
    {"kind": "alloc", "allocation_id": 1},
    {"kind": "dealloc", "allocation_id": 1}
  ]
}`

func TestJSONLoaderRoundTrip(t *testing.T) {
	l := NewJSONLoader()
	data, err := l.Load(strings.NewReader(sampleCapture), nil)
	require.NoError(t, err)

	assert.Equal(t, "demo", data.Metadata().Executable)
	assert.Equal(t, 2, data.AllocationCount())
	assert.Equal(t, Timestamp(0), data.InitialTimestamp())
	assert.Equal(t, Timestamp(2000000), data.LastTimestamp())

	a0 := data.Allocation(0)
	assert.Equal(t, uint64(4096), a0.Address)
	assert.True(t, a0.MainArena)
	assert.True(t, a0.IsLeaked())

	a1 := data.Allocation(1)
	require.NotNil(t, a1.Dealloc)
	assert.False(t, a1.IsLeaked())

	require.Len(t, data.Operations(), 3)
}

func TestJSONLoaderAssignsDistinctCaptureIds(t *testing.T) {
	l := NewJSONLoader()
	d1, err := l.Load(strings.NewReader(sampleCapture), nil)
	require.NoError(t, err)
	d2, err := l.Load(strings.NewReader(sampleCapture), nil)
	require.NoError(t, err)

	assert.NotEqual(t, d1.ID(), d2.ID())
}

func TestJSONLoaderAcceptsGzippedInput(t *testing.T) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	_, err := gw.Write([]byte(sampleCapture))
	require.NoError(t, err)
	require.NoError(t, gw.Close())

	l := NewJSONLoader()
	data, err := l.Load(&buf, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, data.AllocationCount())
}

func TestJSONLoaderRejectsUnknownOperationKind(t *testing.T) {
	l := NewJSONLoader()
	bad := `{"metadata":{},"frames":[],"backtraces":[],"allocations":[],"operations":[{"kind":"bogus"}]}`
	_, err := l.Load(strings.NewReader(bad), nil)
	assert.Error(t, err)
}
