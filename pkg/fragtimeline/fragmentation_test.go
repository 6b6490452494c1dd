package fragtimeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

func newData() *capture.Data {
	return capture.New(0, capture.Metadata{}, capture.NewInterner(), capture.NewBacktraceStore())
}

// addAlloc records an allocation plus its OpAlloc operation and returns
// its id, matching the sequencing JSONLoader itself produces.
func addAlloc(d *capture.Data, addr, size uint64, ts capture.Timestamp) capture.AllocationId {
	id := d.AddAllocation(capture.Allocation{
		Address:   addr,
		Size:      size,
		Timestamp: ts,
		MainArena: true,
	})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: id})
	return id
}

// TestFragmentationTwoAllocationsS3 is seed scenario S3: two allocations at
// 0x1000..0x1010 and 0x2000..0x2008, both main-arena and non-mmaped. At
// their common second, fragmentation = (0x2008-0x1000) - (0x10+0x8) = 4080.
func TestFragmentationTwoAllocationsS3(t *testing.T) {
	d := newData()
	addAlloc(d, 0x1000, 0x10, 0)
	addAlloc(d, 0x2000, 0x8, 0)
	d.Freeze()

	points := Build(d)
	require.NotEmpty(t, points)
	last := points[len(points)-1]
	assert.Equal(t, int64(4080), last.Fragmentation)
}

// TestFragmentationIgnoresUntrackedArenas excludes mmaped/jemalloc
// allocations from both the used-bytes and address-range accounting, per
// the isTracked predicate.
func TestFragmentationIgnoresUntrackedArenas(t *testing.T) {
	d := newData()
	addAlloc(d, 0x1000, 0x10, 0)

	mmapped := d.AddAllocation(capture.Allocation{
		Address:   0x9000,
		Size:      0x1000,
		Timestamp: 0,
		MainArena: true,
		Mmaped:    true,
	})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: mmapped})
	d.Freeze()

	points := Build(d)
	require.NotEmpty(t, points)
	last := points[len(points)-1]
	// Only the 0x1000..0x1010 allocation is tracked: range == used bytes,
	// so fragmentation is zero, not influenced by the mmaped region.
	assert.Equal(t, int64(0), last.Fragmentation)
}

// TestFragmentationNonNegativeAndBoundedByRange is property 7: for every
// emitted point, fragmentation is non-negative and no larger than the
// address span the test's allocations cover (0x1000..0x3040).
func TestFragmentationNonNegativeAndBoundedByRange(t *testing.T) {
	d := newData()
	addAlloc(d, 0x1000, 0x100, 0)
	addAlloc(d, 0x2000, 0x10, 1_000_000)
	addAlloc(d, 0x3000, 0x40, 2_000_000)
	d.Freeze()

	points := Build(d)
	require.NotEmpty(t, points)
	for _, p := range points {
		assert.GreaterOrEqual(t, p.Fragmentation, int64(0))
		assert.LessOrEqual(t, p.Fragmentation, int64(0x3040-0x1000))
	}
}

// TestFragmentationBridgesSkippedSeconds exercises the synthetic
// two-point bridging: when consecutive events are two or more seconds
// apart, the timeline must carry the prior value forward to just before
// the next event instead of interpolating or dropping the gap.
func TestFragmentationBridgesSkippedSeconds(t *testing.T) {
	d := newData()
	addAlloc(d, 0x1000, 0x10, 0)
	addAlloc(d, 0x2000, 0x10, 5_000_000)
	d.Freeze()

	points := Build(d)
	require.GreaterOrEqual(t, len(points), 3)

	first := points[0]
	bridgeStart := points[1]
	bridgeEnd := points[2]

	assert.Equal(t, int64(0), first.Xs)
	assert.Equal(t, first.Fragmentation, bridgeStart.Fragmentation)
	assert.Equal(t, int64(1000), bridgeStart.Xs)
	assert.Equal(t, int64(4000), bridgeEnd.Xs)
	assert.Equal(t, first.Fragmentation, bridgeEnd.Fragmentation)
}

func TestFragmentationEmptyCapture(t *testing.T) {
	d := newData()
	d.Freeze()
	assert.Empty(t, Build(d))
}
