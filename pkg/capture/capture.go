package capture

import "sort"

// Metadata is the small set of facts about the traced process surfaced by
// GET /list, independent of any allocation data.
type Metadata struct {
	Executable   string
	Architecture string
	Runtime      string
}

// Data is one fully-loaded, immutable capture. Every exported method is
// safe to call concurrently from many goroutines: nothing here is mutated
// after Freeze is called by the loader.
type Data struct {
	id       CaptureId
	metadata Metadata

	initialTimestamp Timestamp
	lastTimestamp    Timestamp

	allocations []Allocation
	operations  []Operation
	mmaps       []MmapOperation
	mallopts    []MalloptOperation

	byTimestamp []AllocationId
	byAddress   []AllocationId
	bySize      []AllocationId

	backtraces *BacktraceStore
	groupStats map[BacktraceId]GroupStatistics
	interner   *Interner

	chainLifetime map[AllocationId]Duration
}

// New returns a Data under construction. Callers (the loader) append
// allocations/operations/frames and then call Freeze, after which Data is
// immutable.
func New(id CaptureId, metadata Metadata, interner *Interner, backtraces *BacktraceStore) *Data {
	return &Data{
		id:         id,
		metadata:   metadata,
		interner:   interner,
		backtraces: backtraces,
		groupStats: make(map[BacktraceId]GroupStatistics),
	}
}

// AddAllocation appends an allocation and returns its id. Must be called
// before Freeze.
func (d *Data) AddAllocation(a Allocation) AllocationId {
	id := AllocationId(len(d.allocations))
	d.allocations = append(d.allocations, a)
	return id
}

// AddOperation appends an operation to the recorded event stream, in the
// order it was observed. Must be called before Freeze.
func (d *Data) AddOperation(op Operation) {
	d.operations = append(d.operations, op)
	switch op.Kind {
	case OpMmap, OpMunmap:
		if op.Mmap != nil {
			d.mmaps = append(d.mmaps, *op.Mmap)
		}
	case OpMallopt:
		if op.Mallopt != nil {
			d.mallopts = append(d.mallopts, *op.Mallopt)
		}
	}
}

// Freeze finalizes timestamps, builds the three presorted index arrays and
// the per-backtrace group-statistics table, and makes Data safe to share.
// Must be called exactly once, after all allocations/operations have been
// added.
func (d *Data) Freeze() {
	d.computeTimestampBounds()
	d.buildIndexes()
	d.buildGroupStatistics()
	d.buildChainLifetimes()
}

func (d *Data) computeTimestampBounds() {
	d.initialTimestamp = MaxTimestampSentinel
	d.lastTimestamp = MinTimestampSentinel
	for i := range d.allocations {
		a := &d.allocations[i]
		if a.Timestamp < d.initialTimestamp {
			d.initialTimestamp = a.Timestamp
		}
		end := a.Timestamp
		if a.Dealloc != nil && a.Dealloc.Timestamp > end {
			end = a.Dealloc.Timestamp
		}
		if end > d.lastTimestamp {
			d.lastTimestamp = end
		}
	}
	if len(d.allocations) == 0 {
		d.initialTimestamp = 0
		d.lastTimestamp = 0
	}
}

func (d *Data) buildIndexes() {
	n := len(d.allocations)
	d.byTimestamp = make([]AllocationId, n)
	d.byAddress = make([]AllocationId, n)
	d.bySize = make([]AllocationId, n)
	for i := 0; i < n; i++ {
		id := AllocationId(i)
		d.byTimestamp[i] = id
		d.byAddress[i] = id
		d.bySize[i] = id
	}
	sort.Slice(d.byTimestamp, func(i, j int) bool {
		return d.allocations[d.byTimestamp[i]].Timestamp < d.allocations[d.byTimestamp[j]].Timestamp
	})
	sort.Slice(d.byAddress, func(i, j int) bool {
		return d.allocations[d.byAddress[i]].Address < d.allocations[d.byAddress[j]].Address
	})
	sort.Slice(d.bySize, func(i, j int) bool {
		return d.allocations[d.bySize[i]].Size < d.allocations[d.bySize[j]].Size
	})
}

// statEvent is one alloc or dealloc instant in the merged per-backtrace
// timeline buildGroupStatistics folds over, mirroring the alloc/dealloc-
// balanced pass pkg/fragtimeline.Build runs over the same operation
// stream for the same reason: live usage must fall back down on
// deallocation, not just rise.
type statEvent struct {
	ts    Timestamp
	alloc bool
	id    AllocationId
}

func (d *Data) buildGroupStatistics() {
	type acc struct {
		stats     GroupStatistics
		maxUsage  uint64
		liveUsage uint64
	}
	accs := make(map[BacktraceId]*acc)
	get := func(bt BacktraceId) *acc {
		a, ok := accs[bt]
		if !ok {
			a = &acc{stats: GroupStatistics{
				FirstAllocationTimestamp: MaxTimestampSentinel,
				LastAllocationTimestamp:  MinTimestampSentinel,
				MinSize:                  ^uint64(0),
				MaxSize:                  0,
			}}
			accs[bt] = a
		}
		return a
	}

	events := make([]statEvent, 0, len(d.allocations)*2)
	for i := range d.allocations {
		a := &d.allocations[i]
		events = append(events, statEvent{ts: a.Timestamp, alloc: true, id: AllocationId(i)})
		if a.Dealloc != nil {
			events = append(events, statEvent{ts: a.Dealloc.Timestamp, alloc: false, id: AllocationId(i)})
		}
	}
	// Deallocations at the same instant as a new allocation free their
	// bytes first, same tie-break pkg/fragtimeline uses.
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].ts != events[j].ts {
			return events[i].ts < events[j].ts
		}
		return !events[i].alloc && events[j].alloc
	})

	for _, ev := range events {
		a := &d.allocations[ev.id]
		acc := get(a.Backtrace)
		s := &acc.stats

		if !ev.alloc {
			acc.liveUsage -= a.Size
			s.FreeCount++
			continue
		}

		if a.Timestamp < s.FirstAllocationTimestamp {
			s.FirstAllocationTimestamp = a.Timestamp
		}
		if a.Timestamp > s.LastAllocationTimestamp {
			s.LastAllocationTimestamp = a.Timestamp
		}
		if a.Size < s.MinSize {
			s.MinSize = a.Size
		}
		if a.Size > s.MaxSize {
			s.MaxSize = a.Size
		}
		s.AllocCount++
		acc.liveUsage += a.Size
		if acc.liveUsage > acc.maxUsage {
			acc.maxUsage = acc.liveUsage
			s.MaxTotalUsageFirstSeenAt = ev.ts
		}
	}

	d.groupStats = make(map[BacktraceId]GroupStatistics, len(accs))
	for bt, a := range accs {
		d.groupStats[bt] = a.stats
	}
}

// ID returns the capture's stable identifier.
func (d *Data) ID() CaptureId { return d.id }

// Metadata returns the capture's process metadata.
func (d *Data) Metadata() Metadata { return d.metadata }

// InitialTimestamp returns the capture window's start.
func (d *Data) InitialTimestamp() Timestamp { return d.initialTimestamp }

// LastTimestamp returns the capture window's end.
func (d *Data) LastTimestamp() Timestamp { return d.lastTimestamp }

// AllocationCount reports the total number of allocations in the capture.
func (d *Data) AllocationCount() int { return len(d.allocations) }

// Allocation resolves an AllocationId to its Allocation. Panics on an
// out-of-range id (the index invariant guarantees every id is valid).
func (d *Data) Allocation(id AllocationId) *Allocation { return &d.allocations[id] }

// ByTimestamp returns the allocation-id index sorted ascending by timestamp.
func (d *Data) ByTimestamp() []AllocationId { return d.byTimestamp }

// ByAddress returns the allocation-id index sorted ascending by address.
func (d *Data) ByAddress() []AllocationId { return d.byAddress }

// BySize returns the allocation-id index sorted ascending by size.
func (d *Data) BySize() []AllocationId { return d.bySize }

// Operations returns the full recorded operation stream, in recorded order.
func (d *Data) Operations() []Operation { return d.operations }

// Mmaps returns every mmap/munmap operation observed.
func (d *Data) Mmaps() []MmapOperation { return d.mmaps }

// Mallopts returns every allocator tuning call observed.
func (d *Data) Mallopts() []MalloptOperation { return d.mallopts }

// Backtraces returns the capture's backtrace store.
func (d *Data) Backtraces() *BacktraceStore { return d.backtraces }

// Interner returns the capture's string interner.
func (d *Data) Interner() *Interner { return d.interner }

// GroupStatistics returns the precomputed global statistics for a
// backtrace, and false if the backtrace has no allocations.
func (d *Data) GroupStatistics(bt BacktraceId) (GroupStatistics, bool) {
	s, ok := d.groupStats[bt]
	return s, ok
}

// buildChainLifetimes reconstructs each realloc chain from the recorded
// OpRealloc operations (PreviousAllocationId -> AllocationId links) and
// assigns every member of a chain of length > 1 the span from the first
// member's allocation to the final member's deallocation, ported from
// filter.rs's only_chain_alive_for_at_least/at_most. A chain whose final
// member is still live has no bounded lifetime, same as a single
// allocation's own LifetimeMin/Max bound.
func (d *Data) buildChainLifetimes() {
	next := make(map[AllocationId]AllocationId, len(d.operations))
	isTarget := make(map[AllocationId]bool, len(d.operations))
	for _, op := range d.operations {
		if op.Kind != OpRealloc {
			continue
		}
		next[op.PreviousAllocationId] = op.AllocationId
		isTarget[op.AllocationId] = true
	}

	d.chainLifetime = make(map[AllocationId]Duration)

	for i := range d.allocations {
		head := AllocationId(i)
		if isTarget[head] {
			continue // not a chain head; reached from its predecessor below
		}

		tail := head
		for n, ok := next[tail]; ok; n, ok = next[tail] {
			tail = n
		}
		if tail == head {
			continue // length 1: the ordinary per-allocation lifetime bound applies
		}

		tailAlloc := &d.allocations[tail]
		if tailAlloc.Dealloc == nil {
			continue
		}
		lifetime := Duration(tailAlloc.Dealloc.Timestamp - d.allocations[head].Timestamp)

		for m := head; ; {
			d.chainLifetime[m] = lifetime
			n, ok := next[m]
			if !ok {
				break
			}
			m = n
		}
	}
}

// ChainLifetime returns the total span of id's realloc chain (first
// member's allocation to final member's deallocation), and false if the
// chain has length 1 or is still live.
func (d *Data) ChainLifetime(id AllocationId) (Duration, bool) {
	v, ok := d.chainLifetime[id]
	return v, ok
}
