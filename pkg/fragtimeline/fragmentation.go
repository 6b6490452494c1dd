// Package fragtimeline reconstructs the used/reserved address-space range
// over time from a capture's operation stream (spec.md §4.4).
package fragtimeline

import (
	"sort"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

// Point is one emitted sample: milliseconds from capture start, and the
// fragmentation value in bytes at that instant.
type Point struct {
	Xs            int64
	Fragmentation int64
}

// isTracked is the arena predicate from spec.md §4.4: "considering only
// allocations in the main arena, not mmaped, not jemalloc", ported from
// original_source/server-core/src/lib.rs's equivalent filter
// (`allocation.in_main_arena() && !allocation.is_mmaped() &&
// !allocation.is_jemalloc()`).
func isTracked(a *capture.Allocation) bool {
	return a.MainArena && !a.Mmaped && !a.Jemalloc
}

// addrRefcounts is a sorted mapping address -> live refcount, supporting
// the endpoint bookkeeping spec.md §4.4 describes. Kept as a sorted slice
// (binary search to locate, linear shift to insert/remove) — the
// allocation counts a single capture's address space realistically spans
// make this the simplest correct structure, not a performance-critical
// hot path relative to the O(n) allocation-id fold elsewhere in the
// engine.
type addrRefcounts struct {
	addrs []uint64
	count []int32
}

func (m *addrRefcounts) indexOf(addr uint64) (int, bool) {
	i := sort.Search(len(m.addrs), func(i int) bool { return m.addrs[i] >= addr })
	if i < len(m.addrs) && m.addrs[i] == addr {
		return i, true
	}
	return i, false
}

func (m *addrRefcounts) inc(addr uint64) {
	i, ok := m.indexOf(addr)
	if ok {
		m.count[i]++
		return
	}
	m.addrs = append(m.addrs, 0)
	copy(m.addrs[i+1:], m.addrs[i:])
	m.addrs[i] = addr
	m.count = append(m.count, 0)
	copy(m.count[i+1:], m.count[i:])
	m.count[i] = 1
}

func (m *addrRefcounts) dec(addr uint64) {
	i, ok := m.indexOf(addr)
	if !ok {
		return
	}
	m.count[i]--
}

// trimFront removes leading zero-refcount entries.
func (m *addrRefcounts) trimFront() {
	i := 0
	for i < len(m.count) && m.count[i] <= 0 {
		i++
	}
	m.addrs = m.addrs[i:]
	m.count = m.count[i:]
}

// trimBack removes trailing zero-refcount entries.
func (m *addrRefcounts) trimBack() {
	i := len(m.count)
	for i > 0 && m.count[i-1] <= 0 {
		i--
	}
	m.addrs = m.addrs[:i]
	m.count = m.count[:i]
}

func (m *addrRefcounts) first() (uint64, bool) {
	if len(m.addrs) == 0 {
		return 0, false
	}
	return m.addrs[0], true
}

func (m *addrRefcounts) last() (uint64, bool) {
	if len(m.addrs) == 0 {
		return 0, false
	}
	return m.addrs[len(m.addrs)-1], true
}

// Build reconstructs the fragmentation timeline from data's operation
// stream, in recorded order (spec.md §4.4, §5 "operations are consumed in
// their recorded order").
func Build(data *capture.Data) []Point {
	refs := &addrRefcounts{}
	var usedBytes uint64
	var minAddr, maxAddr uint64
	haveRange := false

	var points []Point
	var lastEmittedSecond int64 = -1
	var lastFragmentation int64

	initial := data.InitialTimestamp()

	currentValue := func() int64 {
		if !haveRange {
			return 0
		}
		return int64(maxAddr-minAddr) - int64(usedBytes)
	}

	emit := func(second int64, frag int64) {
		if second == lastEmittedSecond && len(points) > 0 {
			points[len(points)-1].Fragmentation = frag
			lastFragmentation = frag
			return
		}
		if lastEmittedSecond >= 0 && second-lastEmittedSecond >= 2 {
			points = append(points, Point{Xs: (lastEmittedSecond + 1) * 1000, Fragmentation: lastFragmentation})
			points = append(points, Point{Xs: (second - 1) * 1000, Fragmentation: lastFragmentation})
		}
		points = append(points, Point{Xs: second * 1000, Fragmentation: frag})
		lastEmittedSecond = second
		lastFragmentation = frag
	}

	doAlloc := func(addr, size uint64) {
		end := addr + size
		refs.inc(addr)
		refs.inc(end)
		usedBytes += size
		if !haveRange {
			minAddr, maxAddr, haveRange = addr, end, true
		} else {
			if addr < minAddr {
				minAddr = addr
			}
			if end > maxAddr {
				maxAddr = end
			}
		}
	}

	doDealloc := func(addr, size uint64) {
		end := addr + size
		refs.dec(addr)
		refs.dec(end)
		if size <= usedBytes {
			usedBytes -= size
		} else {
			usedBytes = 0
		}

		touchedMin := addr == minAddr
		touchedMax := end == maxAddr
		if touchedMin {
			refs.trimFront()
			if v, ok := refs.first(); ok {
				minAddr = v
			} else {
				haveRange = false
			}
		}
		if touchedMax {
			refs.trimBack()
			if v, ok := refs.last(); ok {
				maxAddr = v
			} else {
				haveRange = false
			}
		}
	}

	for _, op := range data.Operations() {
		switch op.Kind {
		case capture.OpAlloc:
			a := data.Allocation(op.AllocationId)
			if !isTracked(a) {
				continue
			}
			doAlloc(a.Address, a.Size)
			emitForTimestamp(emit, currentValue, initial, a.Timestamp)
		case capture.OpDealloc:
			a := data.Allocation(op.AllocationId)
			if !isTracked(a) {
				continue
			}
			ts := a.Timestamp
			if a.Dealloc != nil {
				ts = a.Dealloc.Timestamp
			}
			doDealloc(a.Address, a.Size)
			emitForTimestamp(emit, currentValue, initial, ts)
		case capture.OpRealloc:
			prev := data.Allocation(op.PreviousAllocationId)
			cur := data.Allocation(op.AllocationId)
			if isTracked(prev) {
				doDealloc(prev.Address, prev.Size)
			}
			if isTracked(cur) {
				doAlloc(cur.Address, cur.Size)
			}
			emitForTimestamp(emit, currentValue, initial, cur.Timestamp)
		}
	}

	return points
}

func emitForTimestamp(emit func(second, frag int64), currentValue func() int64, initial, ts capture.Timestamp) {
	second := int64(ts-initial) / 1_000_000
	emit(second, currentValue())
}
