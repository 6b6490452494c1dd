package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-kit/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/registry"
	"github.com/0xgxthxb/bytehound/pkg/script"
)

func newTestServer(t *testing.T) (*Server, *capture.Data) {
	t.Helper()
	interner := capture.NewInterner()
	store := capture.NewBacktraceStore()
	f := capture.Frame{}
	f.SetFunction(interner.Intern("main"))
	frameID := store.AddFrame(f)
	bt := store.AddBacktrace([]capture.FrameId{frameID})

	d := capture.New(0, capture.Metadata{Executable: "demo"}, interner, store)
	id0 := d.AddAllocation(capture.Allocation{Address: 0x1000, Size: 16, Timestamp: 0, Backtrace: bt, MainArena: true})
	id1 := d.AddAllocation(capture.Allocation{Address: 0x2000, Size: 2048, Timestamp: 1_000_000, Backtrace: bt, MainArena: true})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: id0})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: id1})
	d.Freeze()

	reg := registry.New([]*capture.Data{d})
	engine := script.NewDefaultEngine()
	server := NewServer(reg, engine, nil, log.NewNopLogger())
	return server, d
}

// TestHandleTimelineS1 is seed scenario S1: requesting /timeline against a
// two-allocation capture returns running totals with per-second deltas.
func TestHandleTimelineS1(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/timeline", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var points []timelinePoint
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &points))
	require.Len(t, points, 2)
	assert.Equal(t, uint64(16), points[0].AllocatedSize)
	assert.Equal(t, uint64(2064), points[1].AllocatedSize)
	assert.Equal(t, int64(2048), points[1].SizeDelta)
}

// TestHandleAllocationGroupsRegexFilterS2 is seed scenario S2: filtering
// allocation_groups by a function_regex narrows the result to matching
// backtraces.
func TestHandleAllocationGroupsRegexFilterS2(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/allocation_groups?function_regex=^main$", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var groups []groupView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &groups))
	require.Len(t, groups, 1)
	assert.Len(t, groups[0].IDs, 2)
}

func TestHandleAllocationGroupsInvalidRegexIsBadRequest(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/allocation_groups?function_regex=(", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Contains(t, body["error"], "invalid 'function_regex'")
}

// TestHandleUnknownCaptureIsNotFoundS6 is seed scenario S6.
func TestHandleUnknownCaptureIsNotFoundS6(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/99/timeline", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleListReturnsLoadedCaptures(t *testing.T) {
	server, d := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/list", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var out []map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, 1)
	assert.Equal(t, "demo", out[0]["executable"])
	assert.EqualValues(t, d.AllocationCount(), out[0]["allocation_count"])
}

func TestHandleBacktraceOutOfRangeIsNotFound(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/backtrace/999", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleExportFlamegraphSetsContentType(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/export/flamegraph", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "image/svg+xml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "main")
}

func TestHandleExportUnknownFormatIsBadRequest(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/export/bogus", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleExecuteScriptSetsDevOriginHeader(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/data/0/execute_script", jsonBody(t, map[string]string{"source": "size > 0"}))
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, devOrigin, rec.Header().Get("Access-Control-Allow-Origin"))

	var body executeScriptResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	require.Len(t, body.Outputs, 1)
	assert.Equal(t, "2 allocation(s) matched", body.Outputs[0])
}

// TestHandleTreeMergesSharedPrefix exercises the new /tree route end to
// end: two allocations sharing the same single-frame backtrace ("main")
// must fold into one child node under the root.
func TestHandleTreeMergesSharedPrefix(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/tree", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var root treeNodeView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &root))
	assert.Equal(t, uint64(2), root.Count)
	assert.Equal(t, uint64(2064), root.Size)
	require.Len(t, root.Children, 1)
	assert.Equal(t, "main", root.Children[0].Frame.Function)
	assert.Equal(t, uint64(2), root.Children[0].Count)
}

func newMarkedTestServer(t *testing.T) *Server {
	t.Helper()
	interner := capture.NewInterner()
	store := capture.NewBacktraceStore()
	f := capture.Frame{Line: 10}
	f.SetFunction(interner.Intern("initOnce"))
	f.SetSource(interner.Intern("init.c"))
	frameID := store.AddFrame(f)
	bt := store.AddBacktrace([]capture.FrameId{frameID})

	constant := capture.MarkerDynamicConstant
	static := capture.MarkerDynamicStatic

	d := capture.New(0, capture.Metadata{Executable: "demo"}, interner, store)
	id0 := d.AddAllocation(capture.Allocation{Address: 0x1000, Size: 8, Timestamp: 0, Backtrace: bt, Marker: &constant})
	id1 := d.AddAllocation(capture.Allocation{Address: 0x2000, Size: 16, Timestamp: 1, Backtrace: bt, Marker: &constant})
	id2 := d.AddAllocation(capture.Allocation{Address: 0x3000, Size: 4, Timestamp: 2, Backtrace: bt, Marker: &static})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: id0})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: id1})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: id2})
	d.Freeze()

	reg := registry.New([]*capture.Data{d})
	engine := script.NewDefaultEngine()
	return NewServer(reg, engine, nil, log.NewNopLogger())
}

func TestHandleDynamicConstantsCollatesByFileAndLine(t *testing.T) {
	server := newMarkedTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/dynamic_constants", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp collationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(2), resp.Count)
	assert.Equal(t, uint64(24), resp.Size)
	require.Contains(t, resp.PerFile, "init.c")
	assert.Equal(t, uint64(2), resp.PerFile["init.c"].PerLine[10].Count)
}

func TestHandleDynamicStaticsExcludesConstants(t *testing.T) {
	server := newMarkedTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/dynamic_statics", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp collationResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, uint64(1), resp.Count)
	assert.Equal(t, uint64(4), resp.Size)
}

func TestHandleDynamicConstantsAsciiTreeRendersPlainText(t *testing.T) {
	server := newMarkedTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/dynamic_constants_ascii_tree", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), "init.c 2 24")
	assert.Contains(t, rec.Body.String(), "10 2 24")
}

func TestHandleFilterToScriptReturnsScript(t *testing.T) {
	server, _ := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/data/0/filter_to_script?size_min=10", nil)
	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.NotEmpty(t, body["script"])
}
