// Package export implements the export-encoder collaborator contract
// (spec.md §6 "Exporters — export_as_<fmt>(data, sink, predicate)") for
// the three formats spec.md §4.8's route table names: flamegraph (the
// folded-stack text flamegraph.pl takes as input, for both the
// "flamegraph" and "flamegraph.pl" names; no SVG is rendered), replay (a
// script that reconstructs
// the allocation timeline), and heaptrack (a gzip-compressed text dump in
// heaptrack's own record format).
package export

import (
	"bufio"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

// Predicate selects which allocations an export includes.
type Predicate func(id capture.AllocationId, a *capture.Allocation) bool

// Encoder writes one export format for data, restricted to the
// allocations predicate accepts, to w.
type Encoder interface {
	Export(w io.Writer, data *capture.Data, predicate Predicate) error
}

// frameString resolves a backtrace to its frames' function names ("???"
// for a frame with no resolved function), outermost frame first, for the
// flamegraph encoder.
func frameString(data *capture.Data, bt capture.BacktraceId) []string {
	backtrace := data.Backtraces().Backtrace(bt)
	out := make([]string, 0, len(backtrace.Frames))
	for i := len(backtrace.Frames) - 1; i >= 0; i-- {
		fid := backtrace.Frames[i]
		f := data.Backtraces().Frame(fid)
		name := "???"
		if fid, ok := f.FunctionID(); ok {
			if s, ok := data.Interner().Resolve(fid); ok {
				name = s
			}
		}
		out = append(out, name)
	}
	return out
}

// FlamegraphEncoder emits the folded-stack format flamegraph.pl expects:
// one line per distinct stack, "frame;frame;...;frame count", frames
// outermost-first, counts summed by total allocated bytes.
type FlamegraphEncoder struct{}

func (FlamegraphEncoder) Export(w io.Writer, data *capture.Data, predicate Predicate) error {
	counts := make(map[string]uint64)
	order := make([]string, 0)

	for _, id := range data.ByTimestamp() {
		a := data.Allocation(id)
		if predicate != nil && !predicate(id, a) {
			continue
		}
		frames := frameString(data, a.Backtrace)
		key := joinSemicolon(frames)
		if _, ok := counts[key]; !ok {
			order = append(order, key)
		}
		counts[key] += a.Size
	}

	bw := bufio.NewWriter(w)
	for _, key := range order {
		if _, err := fmt.Fprintf(bw, "%s %d\n", key, counts[key]); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func joinSemicolon(frames []string) string {
	out := ""
	for i, f := range frames {
		if i > 0 {
			out += ";"
		}
		out += f
	}
	return out
}

// ReplayEncoder emits a script-shaped reconstruction of the allocation
// timeline: one line per alloc, free or realloc operation whose
// allocation the predicate accepts, in recorded order, so a
// consumer can replay the capture's allocator activity. Grounded on
// spec.md §6's `export_as_replay`, whose output is deliberately a plain
// textual trace rather than a binary format.
type ReplayEncoder struct{}

func (ReplayEncoder) Export(w io.Writer, data *capture.Data, predicate Predicate) error {
	bw := bufio.NewWriter(w)
	for _, op := range data.Operations() {
		switch op.Kind {
		case capture.OpAlloc:
			a := data.Allocation(op.AllocationId)
			if predicate != nil && !predicate(op.AllocationId, a) {
				continue
			}
			if _, err := fmt.Fprintf(bw, "alloc %#x %d %d\n", a.Address, a.Size, a.Timestamp); err != nil {
				return err
			}
		case capture.OpDealloc:
			a := data.Allocation(op.AllocationId)
			if predicate != nil && !predicate(op.AllocationId, a) {
				continue
			}
			ts := a.Timestamp
			if a.Dealloc != nil {
				ts = a.Dealloc.Timestamp
			}
			if _, err := fmt.Fprintf(bw, "free %#x %d\n", a.Address, ts); err != nil {
				return err
			}
		case capture.OpRealloc:
			a := data.Allocation(op.AllocationId)
			if predicate != nil && !predicate(op.AllocationId, a) {
				continue
			}
			if _, err := fmt.Fprintf(bw, "realloc %#x %d %d\n", a.Address, a.Size, a.Timestamp); err != nil {
				return err
			}
		}
	}
	return bw.Flush()
}

// HeaptrackEncoder emits a minimal gzip-compressed heaptrack-format text
// dump: a `v` header line with the executable name, then one line per
// allocation event, prefixed with heaptrack's own record-type characters
// (`+`/`-` for alloc/dealloc events). Uses klauspost/compress/gzip because real
// heaptrack data files are always gzip-compressed.
type HeaptrackEncoder struct{}

func (HeaptrackEncoder) Export(w io.Writer, data *capture.Data, predicate Predicate) error {
	gw, err := gzip.NewWriterLevel(w, gzip.BestSpeed)
	if err != nil {
		return err
	}
	defer gw.Close()

	bw := bufio.NewWriter(gw)
	if _, err := fmt.Fprintf(bw, "v %s\n", data.Metadata().Executable); err != nil {
		return err
	}

	for _, id := range data.ByTimestamp() {
		a := data.Allocation(id)
		if predicate != nil && !predicate(id, a) {
			continue
		}
		if _, err := fmt.Fprintf(bw, "+ %x %d %d\n", a.Size, a.Backtrace, a.Timestamp); err != nil {
			return err
		}
		if a.Dealloc != nil {
			if _, err := fmt.Fprintf(bw, "- %x %d\n", a.Backtrace, a.Dealloc.Timestamp); err != nil {
				return err
			}
		}
	}

	if err := bw.Flush(); err != nil {
		return err
	}
	return gw.Close()
}

// ForFormat resolves the export-route format name to its Encoder, per the
// route table in spec.md §4.8.
func ForFormat(format string) (Encoder, bool) {
	switch format {
	case "flamegraph", "flamegraph.pl":
		return FlamegraphEncoder{}, true
	case "replay":
		return ReplayEncoder{}, true
	case "heaptrack":
		return HeaptrackEncoder{}, true
	}
	return nil, false
}
