// Package group builds and sorts allocation groups (spec.md §4.3):
// partitioning a filtered allocation set by backtrace id, computing
// per-group statistics, and caching the result.
package group

import (
	"sort"
	"sync"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filter"
	"github.com/0xgxthxb/bytehound/pkg/workerpool"
)

// Entry is one group: a backtrace id and the sorted ids of every
// allocation that matched the active filter and shares that backtrace.
type Entry struct {
	Backtrace capture.BacktraceId
	IDs       []capture.AllocationId
}

// Groups is the ordered result of a build+sort pass. Immutable once
// constructed, per spec.md §3 invariant (iii) and §9's "cached group
// values are immutable shared owners".
type Groups struct {
	Entries []Entry
}

// TotalMatched sums |group.ids| across every group (spec.md §8 property 3).
func (g *Groups) TotalMatched() int {
	n := 0
	for _, e := range g.Entries {
		n += len(e.IDs)
	}
	return n
}

// Build partitions data's allocations by backtrace id under the compiled
// filter, seeding from the timestamp-sorted index regardless of the final
// sort key (spec.md §9 "Open question — prefilter seed": kept as
// specified, not changed). Data-parallel fold over workerpool.Workers()
// goroutines, reduced by merging per-worker maps (spec.md §4.3 "Building").
func Build(data *capture.Data, compiled filter.Compiled) *Groups {
	seed := data.ByTimestamp()
	workers := workerpool.Workers()
	partials := make([]map[capture.BacktraceId][]capture.AllocationId, workers)

	var mu sync.Mutex
	slot := 0
	workerpool.ParallelChunks(len(seed), func(start, end int) {
		local := make(map[capture.BacktraceId][]capture.AllocationId)
		for i := start; i < end; i++ {
			id := seed[i]
			a := data.Allocation(id)
			if compiled.Match(data, id, a) {
				local[a.Backtrace] = append(local[a.Backtrace], id)
			}
		}
		mu.Lock()
		partials[slot] = local
		slot++
		mu.Unlock()
	})

	merged := make(map[capture.BacktraceId][]capture.AllocationId)
	for _, local := range partials[:slot] {
		for bt, ids := range local {
			merged[bt] = append(merged[bt], ids...)
		}
	}

	entries := make([]Entry, 0, len(merged))
	for bt, ids := range merged {
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		entries = append(entries, Entry{Backtrace: bt, IDs: ids})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Backtrace < entries[j].Backtrace })

	return &Groups{Entries: entries}
}

// ApplyGroupBounds drops groups that fail the filter's group-level bounds
// (spec.md §3 "Filter descriptor (wire)": group interval/allocation-count/
// leaked-count bounds). Matched statistics are used to evaluate the
// bounds, consistent with how the rest of the matched-variant sort keys
// are computed.
func ApplyGroupBounds(data *capture.Data, groups *Groups, bounds filter.GroupBounds) *Groups {
	if bounds == (filter.GroupBounds{}) {
		return groups
	}

	out := make([]Entry, 0, len(groups.Entries))
	for _, e := range groups.Entries {
		d := Fold(data, e.IDs)
		if bounds.IntervalMin != nil && d.Interval < *bounds.IntervalMin {
			continue
		}
		if bounds.IntervalMax != nil && d.Interval > *bounds.IntervalMax {
			continue
		}
		if bounds.AllocationsMin != nil && d.AllocatedCount < *bounds.AllocationsMin {
			continue
		}
		if bounds.AllocationsMax != nil && d.AllocatedCount > *bounds.AllocationsMax {
			continue
		}
		if bounds.LeakedAllocationsMin != nil || bounds.LeakedAllocationsMax != nil {
			var fraction float64
			if d.AllocatedCount > 0 {
				fraction = float64(d.LeakedCount) / float64(d.AllocatedCount)
			}
			// Fraction(total) normalizes both the absolute-count and
			// percentage forms of the bound against this group's own
			// matched total, the per-group resolution an absolute bound
			// needs and can only get here (filter.Compile has no group to
			// measure against).
			if bounds.LeakedAllocationsMin != nil && fraction < bounds.LeakedAllocationsMin.Fraction(d.AllocatedCount) {
				continue
			}
			if bounds.LeakedAllocationsMax != nil && fraction > bounds.LeakedAllocationsMax.Fraction(d.AllocatedCount) {
				continue
			}
		}
		if bounds.MaxUsageFirstSeenMin != nil || bounds.MaxUsageFirstSeenMax != nil {
			stats, ok := data.GroupStatistics(e.Backtrace)
			if ok {
				if bounds.MaxUsageFirstSeenMin != nil && stats.MaxTotalUsageFirstSeenAt < *bounds.MaxUsageFirstSeenMin {
					continue
				}
				if bounds.MaxUsageFirstSeenMax != nil && stats.MaxTotalUsageFirstSeenAt > *bounds.MaxUsageFirstSeenMax {
					continue
				}
			}
		}
		out = append(out, e)
	}
	return &Groups{Entries: out}
}

// Sort reorders groups.Entries in place by the chosen key, ascending, then
// reverses the slice for Desc order (spec.md §8 property 5: "sort(asc)
// then reverse == sort(desc)"). Matched-variant keys fold statistics over
// each group's id list in parallel; global-variant keys read the
// capture's precomputed per-backtrace table (spec.md §4.3 "Sorting").
func Sort(data *capture.Data, groups *Groups, sortBy SortBy, order Order) {
	global := sortBy >= GlobalMinTimestamp

	keyed := make([]Data, len(groups.Entries))
	if global {
		for i, e := range groups.Entries {
			stats, ok := data.GroupStatistics(e.Backtrace)
			if ok {
				keyed[i] = FromGlobalStatistics(stats)
			}
		}
	} else {
		workerpool.ParallelChunks(len(groups.Entries), func(start, end int) {
			for i := start; i < end; i++ {
				keyed[i] = Fold(data, groups.Entries[i].IDs)
			}
		})
	}

	less := func(i, j int) bool {
		a, b := keyed[i], keyed[j]
		switch sortBy {
		case MinTimestamp, GlobalMinTimestamp:
			return a.MinTimestamp < b.MinTimestamp
		case MaxTimestamp, GlobalMaxTimestamp:
			return a.MaxTimestamp < b.MaxTimestamp
		case Interval, GlobalInterval:
			return a.Interval < b.Interval
		case AllocatedCount, GlobalAllocatedCount:
			return a.AllocatedCount < b.AllocatedCount
		case LeakedCount, GlobalLeakedCount:
			return a.LeakedCount < b.LeakedCount
		case Size, GlobalSize:
			return a.SizeSum < b.SizeSum
		case GlobalMaxTotalUsageFirstSeenAt:
			return a.MaxTotalUsageFirstSeenAt < b.MaxTotalUsageFirstSeenAt
		}
		return false
	}

	indices := make([]int, len(groups.Entries))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(i, j int) bool { return less(indices[i], indices[j]) })

	sorted := make([]Entry, len(groups.Entries))
	for i, idx := range indices {
		sorted[i] = groups.Entries[idx]
	}
	copy(groups.Entries, sorted)

	if order == Desc {
		for i, j := 0, len(groups.Entries)-1; i < j; i, j = i+1, j-1 {
			groups.Entries[i], groups.Entries[j] = groups.Entries[j], groups.Entries[i]
		}
	}
}
