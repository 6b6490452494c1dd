package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-kit/log/level"
	"github.com/gorilla/mux"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/export"
	"github.com/0xgxthxb/bytehound/pkg/filter"
	"github.com/0xgxthxb/bytehound/pkg/fragtimeline"
	"github.com/0xgxthxb/bytehound/pkg/registry"
	"github.com/0xgxthxb/bytehound/pkg/stream"
)

// streamResponse sets status (headers must already be set by the caller)
// and runs write on a dedicated goroutine piped through a bounded byte
// channel into w, so the request goroutine only ever blocks on the
// channel's backpressure, never on the serialization itself (spec.md
// §4.6/§5: "heavy work ... offloaded to a dedicated worker thread paired
// with a byte channel so the executor never blocks on computation"). If
// the client disconnects, the receiver is abandoned so the writer
// goroutine unblocks instead of leaking; a panic in write is recovered and
// surfaced as the body's terminal read error.
func (s *Server) streamResponse(w http.ResponseWriter, r *http.Request, status int, write func(io.Writer) error) {
	w.WriteHeader(status)

	sender, receiver := stream.NewByteChannel()
	go func() {
		defer func() {
			if p := recover(); p != nil {
				sender.Close(fmt.Errorf("panic in streaming worker: %v", p))
			}
		}()
		sender.Close(write(sender))
	}()

	copyDone := make(chan struct{})
	go func() {
		if _, err := io.Copy(w, receiver); err != nil {
			level.Error(s.logger).Log("msg", "streaming response body failed", "path", r.URL.Path, "err", err)
		}
		close(copyDone)
	}()

	select {
	case <-copyDone:
	case <-r.Context().Done():
		receiver.Abandon()
		<-copyDone
	}
}

// writeJSON writes v as the full JSON response body, synchronously
// (spec.md §4.8 "(a) produce a small JSON response synchronously").
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps an error to the NotFound/BadRequest/InternalError shape
// from spec.md §7.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	if errors.Is(err, registry.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

// resolveCapture extracts {id} from the request path and resolves it
// (accepting the "last" sentinel), writing a 404 on failure.
func (s *Server) resolveCapture(w http.ResponseWriter, r *http.Request) (*capture.Data, bool) {
	idOrLast := mux.Vars(r)["id"]
	data, err := s.reg.Resolve(idOrLast)
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	return data, true
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	type entry struct {
		ID               capture.CaptureId `json:"id"`
		Executable       string            `json:"executable"`
		Architecture     string            `json:"architecture"`
		Runtime          string            `json:"runtime"`
		AllocationCount  int               `json:"allocation_count"`
		InitialTimestamp capture.Timestamp `json:"initial_timestamp"`
		LastTimestamp    capture.Timestamp `json:"last_timestamp"`
	}
	var out []entry
	for _, d := range s.reg.List() {
		out = append(out, entry{
			ID:               d.ID(),
			Executable:       d.Metadata().Executable,
			Architecture:     d.Metadata().Architecture,
			Runtime:          d.Metadata().Runtime,
			AllocationCount:  d.AllocationCount(),
			InitialTimestamp: d.InitialTimestamp(),
			LastTimestamp:    d.LastTimestamp(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// timelinePoint is one bucket of spec.md §4.8's timeline response.
type timelinePoint struct {
	Xs            int64  `json:"xs"`
	AllocatedSize uint64 `json:"allocated_size"`
	AllocatedCount uint64 `json:"allocated_count"`
	SizeDelta     int64  `json:"size_delta"`
	CountDelta    int64  `json:"count_delta"`
}

// handleTimeline builds the running-total allocated size/count timeline
// (spec.md §4.8 "timeline"/"timeline_leaked"), one point per distinct
// whole second, restricted to never-freed allocations when leakedOnly.
func (s *Server) handleTimeline(leakedOnly bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, ok := s.resolveCapture(w, r)
		if !ok {
			return
		}

		var points []timelinePoint
		var totalSize, totalCount uint64
		var lastSecond int64 = -1

		for _, id := range data.ByTimestamp() {
			a := data.Allocation(id)
			if leakedOnly && !a.IsLeaked() {
				continue
			}
			second := int64(a.Timestamp-data.InitialTimestamp()) / 1_000_000
			totalSize += a.Size
			totalCount++
			if second == lastSecond && len(points) > 0 {
				points[len(points)-1].AllocatedSize = totalSize
				points[len(points)-1].AllocatedCount = totalCount
				continue
			}
			var prevSize, prevCount uint64
			if len(points) > 0 {
				prevSize = points[len(points)-1].AllocatedSize
				prevCount = points[len(points)-1].AllocatedCount
			}
			points = append(points, timelinePoint{
				Xs:             second * 1000,
				AllocatedSize:  totalSize,
				AllocatedCount: totalCount,
				SizeDelta:      int64(totalSize - prevSize),
				CountDelta:     int64(totalCount - prevCount),
			})
			lastSecond = second
		}

		writeJSON(w, http.StatusOK, points)
	}
}

func (s *Server) handleFragmentationTimeline(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, fragtimeline.Build(data))
}

// allocationView is the JSON shape for one allocation in the
// /allocations response, including its resolved backtrace.
type allocationView struct {
	ID        capture.AllocationId `json:"id"`
	Address   uint64               `json:"address"`
	Size      uint64               `json:"size"`
	Timestamp capture.Timestamp    `json:"timestamp"`
	ThreadID  uint32               `json:"thread_id"`
	Leaked    bool                 `json:"leaked"`
	Backtrace []string             `json:"backtrace"`
}

func toAllocationView(data *capture.Data, id capture.AllocationId) allocationView {
	a := data.Allocation(id)
	bt := data.Backtraces().Backtrace(a.Backtrace)
	frames := make([]string, 0, len(bt.Frames))
	for _, fid := range bt.Frames {
		f := data.Backtraces().Frame(fid)
		name := "???"
		if s, ok := f.FunctionID(); ok {
			if str, ok := data.Interner().Resolve(s); ok {
				name = str
			}
		}
		frames = append(frames, name)
	}
	return allocationView{
		ID:        id,
		Address:   a.Address,
		Size:      a.Size,
		Timestamp: a.Timestamp,
		ThreadID:  a.ThreadId,
		Leaked:    a.IsLeaked(),
		Backtrace: frames,
	}
}

// allocationIterator lazily walks a pre-filtered, paginated id slice,
// materializing each allocationView on demand so a large result set is
// never held fully in memory (spec.md §4.5).
type allocationIterator struct {
	data *capture.Data
	ids  []capture.AllocationId
	pos  int
}

func (it *allocationIterator) Next() (allocationView, bool) {
	if it.pos >= len(it.ids) {
		var zero allocationView
		return zero, false
	}
	v := toAllocationView(it.data, it.ids[it.pos])
	it.pos++
	return v, true
}

func (s *Server) compileRequestFilter(w http.ResponseWriter, r *http.Request, data *capture.Data) (filter.Compiled, bool) {
	q := r.URL.Query()
	wire, err := parseWire(q)
	if err != nil {
		writeError(w, err)
		return filter.Compiled{}, false
	}
	compiled, err := filter.CompileWithCustom(data, wire, q.Get("custom_filter"), s.engine)
	if err != nil {
		writeError(w, err)
		return filter.Compiled{}, false
	}
	return compiled, true
}

func (s *Server) handleAllocations(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	compiled, ok := s.compileRequestFilter(w, r, data)
	if !ok {
		return
	}
	page, err := parsePagination(r.URL.Query())
	if err != nil {
		writeError(w, err)
		return
	}

	seed := sortedIDsFor(data, r.URL.Query().Get("sort_key"))
	var matched []capture.AllocationId
	for _, id := range seed {
		a := data.Allocation(id)
		if compiled.Match(data, id, a) {
			matched = append(matched, id)
		}
	}
	matched = paginate(matched, page)

	st := stream.New(func() stream.Iterator[allocationView] {
		return &allocationIterator{data: data, ids: matched}
	})
	w.Header().Set("Content-Type", "application/json")
	s.streamResponse(w, r, http.StatusOK, st.WriteTo)
}

func sortedIDsFor(data *capture.Data, key string) []capture.AllocationId {
	switch key {
	case "address":
		return data.ByAddress()
	case "size":
		return data.BySize()
	default:
		return data.ByTimestamp()
	}
}

func paginate(ids []capture.AllocationId, page pagination) []capture.AllocationId {
	if page.Skip >= len(ids) {
		return nil
	}
	end := page.Skip + page.Count
	if end > len(ids) || page.Count == 0 {
		end = len(ids)
	}
	return ids[page.Skip:end]
}

// groupView is the JSON shape for one allocation_groups entry.
type groupView struct {
	Backtrace capture.BacktraceId    `json:"backtrace_id"`
	IDs       []capture.AllocationId `json:"allocation_ids"`
}

func (s *Server) handleAllocationGroups(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	wire, err := parseWire(q)
	if err != nil {
		writeError(w, err)
		return
	}
	sortBy, err := parseSortBy(q)
	if err != nil {
		writeError(w, err)
		return
	}
	order, err := parseOrder(q)
	if err != nil {
		writeError(w, err)
		return
	}

	groups, err := s.reg.Groups.Query(data, wire, q.Get("custom_filter"), s.engine, sortBy, order)
	if err != nil {
		writeError(w, err)
		return
	}

	page, err := parsePagination(q)
	if err != nil {
		writeError(w, err)
		return
	}

	entries := groups.Entries
	if page.Skip < len(entries) {
		end := page.Skip + page.Count
		if end > len(entries) || page.Count == 0 {
			end = len(entries)
		}
		entries = entries[page.Skip:end]
	} else {
		entries = nil
	}

	out := make([]groupView, len(entries))
	for i, e := range entries {
		out[i] = groupView{Backtrace: e.Backtrace, IDs: e.IDs}
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleBacktraces(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	seen := make(map[capture.BacktraceId]struct{})
	var ids []capture.BacktraceId
	for _, id := range data.ByTimestamp() {
		a := data.Allocation(id)
		if _, ok := seen[a.Backtrace]; ok {
			continue
		}
		seen[a.Backtrace] = struct{}{}
		ids = append(ids, a.Backtrace)
	}
	writeJSON(w, http.StatusOK, ids)
}

func (s *Server) handleBacktrace(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	raw := mux.Vars(r)["btid"]
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil || uint64(n) >= uint64(data.Backtraces().Len()) {
		writeError(w, registry.ErrNotFound)
		return
	}
	bt := data.Backtraces().Backtrace(capture.BacktraceId(n))
	frames := make([]string, 0, len(bt.Frames))
	for _, fid := range bt.Frames {
		f := data.Backtraces().Frame(fid)
		name := "???"
		if s, ok := f.FunctionID(); ok {
			if str, ok := data.Interner().Resolve(s); ok {
				name = str
			}
		}
		frames = append(frames, name)
	}
	writeJSON(w, http.StatusOK, frames)
}

// region is a coalesced, contiguous run of matched allocation address space.
type region struct {
	Start uint64 `json:"start"`
	End   uint64 `json:"end"`
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	compiled, ok := s.compileRequestFilter(w, r, data)
	if !ok {
		return
	}

	var regions []region
	for _, id := range data.ByAddress() {
		a := data.Allocation(id)
		if !compiled.Match(data, id, a) {
			continue
		}
		start, end := a.Address, a.Address+a.Size
		if n := len(regions); n > 0 && regions[n-1].End == start {
			regions[n-1].End = end
			continue
		}
		regions = append(regions, region{Start: start, End: end})
	}
	writeJSON(w, http.StatusOK, regions)
}

func (s *Server) handleMmaps(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, data.Mmaps())
}

func (s *Server) handleMallopts(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, data.Mallopts())
}

// handleRawAllocations emits the hand-written dense address-only encoding
// spec.md §4.8 names, bypassing encoding/json per-element overhead: one
// JSON array of hex address strings.
func (s *Server) handleRawAllocations(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "application/json")
	s.streamResponse(w, r, http.StatusOK, func(sink io.Writer) error {
		if _, err := sink.Write([]byte("[")); err != nil {
			return err
		}
		for i, id := range data.ByTimestamp() {
			if i > 0 {
				if _, err := sink.Write([]byte(",")); err != nil {
					return err
				}
			}
			a := data.Allocation(id)
			if _, err := sink.Write([]byte(strconv.Quote("0x" + strconv.FormatUint(a.Address, 16)))); err != nil {
				return err
			}
		}
		_, err := sink.Write([]byte("]"))
		return err
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	format := mux.Vars(r)["format"]
	enc, ok := export.ForFormat(format)
	if !ok {
		writeError(w, &paramError{field: "format", message: "unrecognized export format"})
		return
	}
	compiled, ok := s.compileRequestFilter(w, r, data)
	if !ok {
		return
	}

	switch format {
	case "flamegraph":
		w.Header().Set("Content-Type", "image/svg+xml")
	case "heaptrack":
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Encoding", "gzip")
	default:
		w.Header().Set("Content-Type", "application/octet-stream")
	}

	predicate := func(id capture.AllocationId, a *capture.Allocation) bool {
		return compiled.Match(data, id, a)
	}
	s.streamResponse(w, r, http.StatusOK, func(sink io.Writer) error {
		return enc.Export(sink, data, predicate)
	})
}

func (s *Server) handleAllocationAsciiTree(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	compiled, ok := s.compileRequestFilter(w, r, data)
	if !ok {
		return
	}

	counts := make(map[string]uint64)
	var order []string
	for _, id := range data.ByTimestamp() {
		a := data.Allocation(id)
		if !compiled.Match(data, id, a) {
			continue
		}
		bt := data.Backtraces().Backtrace(a.Backtrace)
		name := "???"
		if len(bt.Frames) > 0 {
			f := data.Backtraces().Frame(bt.Frames[0])
			if fid, ok := f.FunctionID(); ok {
				if s, ok := data.Interner().Resolve(fid); ok {
					name = s
				}
			}
		}
		if _, ok := counts[name]; !ok {
			order = append(order, name)
		}
		counts[name] += a.Size
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.streamResponse(w, r, http.StatusOK, func(sink io.Writer) error {
		for _, name := range order {
			if _, err := sink.Write([]byte(name + " " + strconv.FormatUint(counts[name], 10) + "\n")); err != nil {
				return err
			}
		}
		return nil
	})
}

// treeFrameView is the resolved frame label attached to a non-root tree
// node, mirroring lib.rs's dump_node frame rendering.
type treeFrameView struct {
	Function string `json:"function"`
	Source   string `json:"source,omitempty"`
	Line     uint32 `json:"line,omitempty"`
}

// treeNodeView is the JSON shape of one /tree node (spec.md §4.8 "/tree":
// "Recursive JSON tree of allocations grouped by frame stack").
type treeNodeView struct {
	Size     uint64            `json:"size"`
	Count    uint64            `json:"count"`
	First    capture.Timestamp `json:"first"`
	Last     capture.Timestamp `json:"last"`
	Frame    *treeFrameView    `json:"frame,omitempty"`
	Children []treeNodeView    `json:"children"`
}

func toTreeNodeView(data *capture.Data, n *capture.TreeNode) treeNodeView {
	v := treeNodeView{Size: n.TotalSize, Count: n.TotalCount, First: n.First, Last: n.Last}
	if n.HasFrame {
		f := data.Backtraces().Frame(n.Frame)
		fv := treeFrameView{Function: "???", Line: f.Line}
		if fid, ok := f.FunctionID(); ok {
			if str, ok := data.Interner().Resolve(fid); ok {
				fv.Function = str
			}
		}
		if sid, ok := f.SourceID(); ok {
			if str, ok := data.Interner().Resolve(sid); ok {
				fv.Source = str
			}
		}
		v.Frame = &fv
	}
	v.Children = make([]treeNodeView, len(n.Children))
	for i, c := range n.Children {
		v.Children[i] = toTreeNodeView(data, c)
	}
	return v
}

// handleTree builds the recursive call tree of every allocation matching
// the request's filter, grouped by shared backtrace prefix (spec.md §4.8
// "/tree"), ported from lib.rs's handler_tree.
func (s *Server) handleTree(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	compiled, ok := s.compileRequestFilter(w, r, data)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	s.streamResponse(w, r, http.StatusOK, func(sink io.Writer) error {
		tree := capture.NewTree()
		for _, id := range data.ByTimestamp() {
			a := data.Allocation(id)
			if !compiled.Match(data, id, a) {
				continue
			}
			tree.AddAllocation(a, data.Backtraces().Backtrace(a.Backtrace))
		}
		return json.NewEncoder(sink).Encode(toTreeNodeView(data, tree.Root))
	})
}

// collationLineView/collationFileView/collationResponse are the JSON shape
// lib.rs's handler_collation_json produces: a count/size rollup nested by
// file then by line.
type collationLineView struct {
	Count uint64 `json:"count"`
	Size  uint64 `json:"size"`
}

type collationFileView struct {
	Count   uint64                      `json:"count"`
	Size    uint64                      `json:"size"`
	PerLine map[uint32]collationLineView `json:"per_line"`
}

type collationResponse struct {
	Count   uint64                       `json:"count"`
	Size    uint64                       `json:"size"`
	PerFile map[string]collationFileView `json:"per_file"`
}

func buildCollationResponse(perFile map[string]map[uint32]capture.CountAndSize) collationResponse {
	resp := collationResponse{PerFile: make(map[string]collationFileView, len(perFile))}
	for file, perLine := range perFile {
		var fileCount, fileSize uint64
		lines := make(map[uint32]collationLineView, len(perLine))
		for line, e := range perLine {
			fileCount += e.Count
			fileSize += e.Size
			lines[line] = collationLineView{Count: e.Count, Size: e.Size}
		}
		resp.PerFile[file] = collationFileView{Count: fileCount, Size: fileSize, PerLine: lines}
		resp.Count += fileCount
		resp.Size += fileSize
	}
	return resp
}

// writeCollationAsciiTree renders a collation as indented plain text, one
// file line followed by its per-line breakdown, sorted for stable output.
func writeCollationAsciiTree(w io.Writer, perFile map[string]map[uint32]capture.CountAndSize) error {
	files := make([]string, 0, len(perFile))
	for file := range perFile {
		files = append(files, file)
	}
	sort.Strings(files)

	for _, file := range files {
		perLine := perFile[file]
		var fileCount, fileSize uint64
		for _, e := range perLine {
			fileCount += e.Count
			fileSize += e.Size
		}
		if _, err := fmt.Fprintf(w, "%s %d %d\n", file, fileCount, fileSize); err != nil {
			return err
		}

		lines := make([]uint32, 0, len(perLine))
		for line := range perLine {
			lines = append(lines, line)
		}
		sort.Slice(lines, func(i, j int) bool { return lines[i] < lines[j] })
		for _, line := range lines {
			e := perLine[line]
			if _, err := fmt.Fprintf(w, "  %d %d %d\n", line, e.Count, e.Size); err != nil {
				return err
			}
		}
	}
	return nil
}

// handleDynamicConstants serves spec.md §4.8 "/dynamic_constants": the
// count/size collation of every allocation tagged capture.MarkerDynamicConstant.
func (s *Server) handleDynamicConstants(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildCollationResponse(data.DynamicConstants()))
}

// handleDynamicConstantsAsciiTree serves the plain-text rendering of the
// same collation as handleDynamicConstants.
func (s *Server) handleDynamicConstantsAsciiTree(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.streamResponse(w, r, http.StatusOK, func(sink io.Writer) error {
		return writeCollationAsciiTree(sink, data.DynamicConstants())
	})
}

// handleDynamicStatics serves spec.md §4.8 "/dynamic_statics": the
// count/size collation of every allocation tagged capture.MarkerDynamicStatic.
func (s *Server) handleDynamicStatics(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, buildCollationResponse(data.DynamicStatics()))
}

// handleDynamicStaticsAsciiTree serves the plain-text rendering of the
// same collation as handleDynamicStatics.
func (s *Server) handleDynamicStaticsAsciiTree(w http.ResponseWriter, r *http.Request) {
	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	s.streamResponse(w, r, http.StatusOK, func(sink io.Writer) error {
		return writeCollationAsciiTree(sink, data.DynamicStatics())
	})
}

// executeScriptResponse is the JSON shape spec.md §4.8 names for
// execute_script: "status, elapsed, and produced outputs".
type executeScriptResponse struct {
	Status  string   `json:"status"`
	Elapsed int64    `json:"elapsed_us"`
	Outputs []string `json:"outputs"`
}

func (s *Server) handleExecuteScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", devOrigin)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return
	}

	data, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}

	var body struct {
		Source string `json:"source"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, &paramError{field: "body", message: err.Error()})
		return
	}

	start := time.Now()
	result, err := s.engine.Run(data, body.Source, nil)
	elapsed := time.Since(start)
	if err != nil {
		writeError(w, err)
		return
	}

	lines := make([]string, 0, len(result.Outputs))
	for _, o := range result.Outputs {
		if o.Line != "" {
			lines = append(lines, o.Line)
		}
	}
	writeJSON(w, http.StatusOK, executeScriptResponse{Status: "ok", Elapsed: elapsed.Microseconds(), Outputs: lines})
}

func (s *Server) handleFilterToScript(w http.ResponseWriter, r *http.Request) {
	_, ok := s.resolveCapture(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	wire, err := parseWire(q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"script": wire.ToCode(q.Get("base_variable"))})
}

func (s *Server) handleScriptFile(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	entry, ok := s.reg.Files.Get(vars["hash"])
	if !ok {
		writeError(w, registry.ErrNotFound)
		return
	}
	mimeType := entry.MIME
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(entry.Bytes)
}
