package capture

// Deallocation records when and by which thread a live allocation was freed.
type Deallocation struct {
	Timestamp Timestamp
	ThreadId  uint32
}

// Allocation is a single heap allocation observed in the traced process.
type Allocation struct {
	Address     uint64
	Size        uint64
	Timestamp   Timestamp
	ThreadId    uint32
	Backtrace   BacktraceId
	Dealloc     *Deallocation
	MainArena   bool
	Mmaped      bool
	Jemalloc    bool
	ExtraUsable uint64

	// ChainPosition is this allocation's 0-based index within its
	// realloc chain; ChainLength is the chain's total length (1 for an
	// allocation that was never realloced).
	ChainPosition uint32
	ChainLength   uint32

	// Marker is an optional user tag set by the scripting engine; carried
	// over from the original implementation's `only_with_marker` filter
	// field (see SPEC_FULL.md §C.1).
	Marker *uint64
}

// IsLeaked reports whether this allocation was never freed within the
// capture window.
func (a *Allocation) IsLeaked() bool {
	return a.Dealloc == nil
}

// LifetimeDuration returns how long the allocation was alive (deallocation
// timestamp minus allocation timestamp) and true if it was freed; for a
// live allocation it returns 0 and false.
func (a *Allocation) LifetimeDuration() (Duration, bool) {
	if a.Dealloc == nil {
		return 0, false
	}
	return Duration(a.Dealloc.Timestamp - a.Timestamp), true
}

// OperationKind enumerates the distinct events recorded in a capture's
// operation stream.
type OperationKind uint8

const (
	OpAlloc OperationKind = iota
	OpDealloc
	OpRealloc
	OpMmap
	OpMunmap
	OpMallopt
)

// MmapOperation records an mmap or munmap call observed in the trace.
type MmapOperation struct {
	Kind      OperationKind // OpMmap or OpMunmap
	Address   uint64
	Size      uint64
	Timestamp Timestamp
	ThreadId  uint32
	Backtrace BacktraceId
}

// MalloptOperation records a runtime allocator tuning call (e.g. glibc
// mallopt) observed in the trace.
type MalloptOperation struct {
	Param     int32
	Value     int32
	Result    int32
	Timestamp Timestamp
	ThreadId  uint32
	Backtrace BacktraceId
}

// Operation is one entry in the capture's recorded, ordered event stream.
// Exactly one of the typed fields is meaningful, selected by Kind.
type Operation struct {
	Kind OperationKind

	// AllocationId is set for OpAlloc/OpDealloc/OpRealloc and indexes into
	// Data's allocation table.
	AllocationId AllocationId
	// PreviousAllocationId is set for OpRealloc: the allocation id being
	// replaced (its Dealloc is implied by this event).
	PreviousAllocationId AllocationId

	Mmap    *MmapOperation
	Mallopt *MalloptOperation
}
