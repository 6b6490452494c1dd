package group

import (
	"sync"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/workerpool"
)

// Data is the per-group statistics computed over a set of allocations
// (spec.md §4.3 "Per-group data"). For the "global" sort variants it is
// read directly from capture.GroupStatistics instead of folded here.
type Data struct {
	AllocatedCount uint64
	LeakedCount    uint64
	SizeSum        uint64
	MinSize        uint64
	MaxSize        uint64
	MinTimestamp   capture.Timestamp
	MaxTimestamp   capture.Timestamp
	Interval       capture.Duration

	// MaxTotalUsageFirstSeenAt is only meaningful for the global variant.
	MaxTotalUsageFirstSeenAt capture.Timestamp
}

func identity() Data {
	return Data{
		MinSize:      ^uint64(0),
		MaxSize:      0,
		MinTimestamp: capture.MaxTimestampSentinel,
		MaxTimestamp: capture.MinTimestampSentinel,
	}
}

func reduce(a, b Data) Data {
	out := Data{
		AllocatedCount: a.AllocatedCount + b.AllocatedCount,
		LeakedCount:    a.LeakedCount + b.LeakedCount,
		SizeSum:        a.SizeSum + b.SizeSum,
	}
	out.MinSize = a.MinSize
	if b.MinSize < out.MinSize {
		out.MinSize = b.MinSize
	}
	out.MaxSize = a.MaxSize
	if b.MaxSize > out.MaxSize {
		out.MaxSize = b.MaxSize
	}
	out.MinTimestamp = a.MinTimestamp
	if b.MinTimestamp < out.MinTimestamp {
		out.MinTimestamp = b.MinTimestamp
	}
	out.MaxTimestamp = a.MaxTimestamp
	if b.MaxTimestamp > out.MaxTimestamp {
		out.MaxTimestamp = b.MaxTimestamp
	}
	if out.MaxTimestamp > out.MinTimestamp {
		out.Interval = capture.Duration(out.MaxTimestamp - out.MinTimestamp)
	}
	return out
}

// Fold computes matched AllocationGroupData over ids by parallel
// identity-element fold/reduce (spec.md §4.3), associative and commutative
// so the result is deterministic regardless of worker count (spec.md §9).
func Fold(data *capture.Data, ids []capture.AllocationId) Data {
	if len(ids) == 0 {
		d := identity()
		d.MinSize, d.MaxSize = 0, 0
		d.MinTimestamp, d.MaxTimestamp = 0, 0
		return d
	}

	partials := make([]Data, workerpool.Workers())
	var mu sync.Mutex
	next := 0

	workerpool.ParallelChunks(len(ids), func(start, end int) {
		acc := identity()
		for i := start; i < end; i++ {
			a := data.Allocation(ids[i])
			acc.AllocatedCount++
			acc.SizeSum += a.Size
			if a.Size < acc.MinSize {
				acc.MinSize = a.Size
			}
			if a.Size > acc.MaxSize {
				acc.MaxSize = a.Size
			}
			if a.Timestamp < acc.MinTimestamp {
				acc.MinTimestamp = a.Timestamp
			}
			if a.Timestamp > acc.MaxTimestamp {
				acc.MaxTimestamp = a.Timestamp
			}
			if a.IsLeaked() {
				acc.LeakedCount++
			}
		}
		mu.Lock()
		partials[next] = acc
		next++
		mu.Unlock()
	})

	out := identity()
	for _, p := range partials[:next] {
		out = reduce(out, p)
	}
	if out.MaxTimestamp >= out.MinTimestamp {
		out.Interval = capture.Duration(out.MaxTimestamp - out.MinTimestamp)
	}
	return out
}

// FromGlobalStatistics adapts a capture-wide GroupStatistics into the same
// Data shape so callers can treat matched and global sort keys uniformly.
func FromGlobalStatistics(s capture.GroupStatistics) Data {
	return Data{
		AllocatedCount:           s.AllocCount,
		LeakedCount:              s.AllocCount - s.FreeCount,
		MinSize:                  s.MinSize,
		MaxSize:                  s.MaxSize,
		MinTimestamp:             s.FirstAllocationTimestamp,
		MaxTimestamp:             s.LastAllocationTimestamp,
		Interval:                 capture.Duration(s.LastAllocationTimestamp - s.FirstAllocationTimestamp),
		MaxTotalUsageFirstSeenAt: s.MaxTotalUsageFirstSeenAt,
	}
}
