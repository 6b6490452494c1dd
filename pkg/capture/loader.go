package capture

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// DebugSymbols names an extra file supplying symbol information the
// capture's own frames don't carry (the --debug-symbols CLI flag in §6 of
// spec.md). The core query engine never inspects its contents; it is
// opaque to everything except the Loader.
type DebugSymbols struct {
	Path string
}

// Loader materializes a Data from a capture file. This is an external
// collaborator per spec.md §1/§6 ("The capture-file loader ... deliberately
// out of scope"); the production bytehound/heaptrack binary formats are not
// reimplemented here. JSONLoader below is a minimal, real implementation
// sufficient to load test fixtures and drive every downstream component.
type Loader interface {
	Load(r io.Reader, debugSymbols []DebugSymbols) (*Data, error)
}

// wireCapture is the on-disk shape JSONLoader reads. It is a direct,
// line-oriented JSON encoding of the fields enumerated in spec.md §3 — not
// a wire-compatible rendition of any real profiler's binary format.
type wireCapture struct {
	Metadata    Metadata           `json:"metadata"`
	Frames      []wireFrame        `json:"frames"`
	Backtraces  [][]int            `json:"backtraces"`
	Allocations []wireAllocation   `json:"allocations"`
	Operations  []wireOperation    `json:"operations"`
}

type wireFrame struct {
	Function    string `json:"function"`
	RawFunction string `json:"raw_function"`
	Source      string `json:"source"`
	Line        uint32 `json:"line"`
	Column      uint32 `json:"column"`
	Library     string `json:"library"`
	Address     uint64 `json:"address"`
	Inline      bool   `json:"inline"`
}

type wireDeallocation struct {
	Timestamp int64  `json:"timestamp"`
	ThreadId  uint32 `json:"thread_id"`
}

type wireAllocation struct {
	Address       uint64            `json:"address"`
	Size          uint64            `json:"size"`
	Timestamp     int64             `json:"timestamp"`
	ThreadId      uint32            `json:"thread_id"`
	Backtrace     int               `json:"backtrace"`
	Dealloc       *wireDeallocation `json:"dealloc,omitempty"`
	MainArena     bool              `json:"main_arena"`
	Mmaped        bool              `json:"mmaped"`
	Jemalloc      bool              `json:"jemalloc"`
	ExtraUsable   uint64            `json:"extra_usable"`
	ChainPosition uint32            `json:"chain_position"`
	ChainLength   uint32            `json:"chain_length"`
	Marker        *uint64           `json:"marker,omitempty"`
}

type wireOperation struct {
	Kind                 string  `json:"kind"`
	AllocationId         int     `json:"allocation_id"`
	PreviousAllocationId int     `json:"previous_allocation_id"`
	Address              uint64  `json:"address"`
	Size                 uint64  `json:"size"`
	Timestamp            int64   `json:"timestamp"`
	ThreadId             uint32  `json:"thread_id"`
	Backtrace            int     `json:"backtrace"`
	MalloptParam         int32   `json:"mallopt_param"`
	MalloptValue         int32   `json:"mallopt_value"`
	MalloptResult        int32   `json:"mallopt_result"`
}

// JSONLoader reads the wireCapture JSON shape, transparently gzip-decoding
// the stream if it starts with a gzip magic header. Safe for concurrent
// use by multiple goroutines (spec.md §6 "--load-in-parallel"): nextId is
// a lock-free counter so concurrent Load calls still hand out distinct,
// stable CaptureIds.
type JSONLoader struct {
	nextId atomic.Uint32
}

// NewJSONLoader returns a loader that assigns sequential CaptureIds
// starting from 0.
func NewJSONLoader() *JSONLoader {
	return &JSONLoader{}
}

func (l *JSONLoader) Load(r io.Reader, _ []DebugSymbols) (*Data, error) {
	br := bufio.NewReader(r)
	peek, err := br.Peek(2)
	var src io.Reader = br
	if err == nil && len(peek) == 2 && peek[0] == 0x1f && peek[1] == 0x8b {
		gz, gzErr := gzip.NewReader(br)
		if gzErr != nil {
			return nil, errors.Wrap(gzErr, "opening gzip capture stream")
		}
		defer gz.Close()
		src = gz
	}

	var wc wireCapture
	if err := json.NewDecoder(src).Decode(&wc); err != nil {
		return nil, errors.Wrap(err, "decoding capture")
	}

	interner := NewInterner()
	store := NewBacktraceStore()

	for _, f := range wc.Frames {
		frame := Frame{
			Line:    f.Line,
			Column:  f.Column,
			Address: f.Address,
			Inline:  f.Inline,
		}
		if f.Function != "" {
			frame.SetFunction(interner.Intern(f.Function))
		}
		if f.RawFunction != "" {
			frame.SetRawFunction(interner.Intern(f.RawFunction))
		}
		if f.Source != "" {
			frame.SetSource(interner.Intern(f.Source))
		}
		frame.Library = interner.Intern(f.Library)
		store.AddFrame(frame)
	}

	for _, bt := range wc.Backtraces {
		frames := make([]FrameId, len(bt))
		for i, fid := range bt {
			frames[i] = FrameId(fid)
		}
		store.AddBacktrace(frames)
	}

	id := CaptureId(l.nextId.Inc() - 1)

	data := New(id, wc.Metadata, interner, store)

	for _, wa := range wc.Allocations {
		a := Allocation{
			Address:       wa.Address,
			Size:          wa.Size,
			Timestamp:     Timestamp(wa.Timestamp),
			ThreadId:      wa.ThreadId,
			Backtrace:     BacktraceId(wa.Backtrace),
			MainArena:     wa.MainArena,
			Mmaped:        wa.Mmaped,
			Jemalloc:      wa.Jemalloc,
			ExtraUsable:   wa.ExtraUsable,
			ChainPosition: wa.ChainPosition,
			ChainLength:   wa.ChainLength,
			Marker:        wa.Marker,
		}
		if wa.Dealloc != nil {
			a.Dealloc = &Deallocation{
				Timestamp: Timestamp(wa.Dealloc.Timestamp),
				ThreadId:  wa.Dealloc.ThreadId,
			}
		}
		data.AddAllocation(a)
	}

	for _, wo := range wc.Operations {
		op := Operation{
			AllocationId:         AllocationId(wo.AllocationId),
			PreviousAllocationId: AllocationId(wo.PreviousAllocationId),
		}
		switch wo.Kind {
		case "alloc":
			op.Kind = OpAlloc
		case "dealloc":
			op.Kind = OpDealloc
		case "realloc":
			op.Kind = OpRealloc
		case "mmap":
			op.Kind = OpMmap
			op.Mmap = &MmapOperation{Kind: OpMmap, Address: wo.Address, Size: wo.Size, Timestamp: Timestamp(wo.Timestamp), ThreadId: wo.ThreadId, Backtrace: BacktraceId(wo.Backtrace)}
		case "munmap":
			op.Kind = OpMunmap
			op.Mmap = &MmapOperation{Kind: OpMunmap, Address: wo.Address, Size: wo.Size, Timestamp: Timestamp(wo.Timestamp), ThreadId: wo.ThreadId, Backtrace: BacktraceId(wo.Backtrace)}
		case "mallopt":
			op.Kind = OpMallopt
			op.Mallopt = &MalloptOperation{Param: wo.MalloptParam, Value: wo.MalloptValue, Result: wo.MalloptResult, Timestamp: Timestamp(wo.Timestamp), ThreadId: wo.ThreadId, Backtrace: BacktraceId(wo.Backtrace)}
		default:
			return nil, errors.Errorf("unknown operation kind %q", wo.Kind)
		}
		data.AddOperation(op)
	}

	data.Freeze()
	return data, nil
}
