package group

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filter"
)

type noopScriptRunner struct{}

func (noopScriptRunner) EvalAllocationIds(*capture.Data, string) ([]capture.AllocationId, error) {
	return nil, nil
}

func newTestData(t *testing.T) *capture.Data {
	t.Helper()
	interner := capture.NewInterner()
	store := capture.NewBacktraceStore()
	fn := interner.Intern("alpha")
	bt1 := store.AddBacktrace([]capture.FrameId{store.AddFrame(capture.Frame{})})
	_ = fn
	_ = bt1

	d := capture.New(1, capture.Metadata{}, interner, store)
	d.AddAllocation(capture.Allocation{Address: 0x1000, Size: 16, Timestamp: 0, Backtrace: 0})
	d.AddAllocation(capture.Allocation{Address: 0x2000, Size: 32, Timestamp: 1, Backtrace: 0})
	d.AddAllocation(capture.Allocation{
		Address: 0x3000, Size: 8, Timestamp: 2, Backtrace: 0,
		Dealloc: &capture.Deallocation{Timestamp: 3},
	})
	d.Freeze()
	return d
}

// TestQueryCachesOnIdenticalKeyS4 is seed scenario S4: querying the same
// (capture, filter, sort) twice must not rebuild — the second call leaves
// BuildCount unchanged and returns the identical *Groups pointer.
func TestQueryCachesOnIdenticalKeyS4(t *testing.T) {
	e := NewEngine()
	data := newTestData(t)

	g1, err := e.Query(data, filter.Wire{}, "", noopScriptRunner{}, MinTimestamp, Asc)
	require.NoError(t, err)
	require.EqualValues(t, 1, e.BuildCount.Load())

	g2, err := e.Query(data, filter.Wire{}, "", noopScriptRunner{}, MinTimestamp, Asc)
	require.NoError(t, err)

	assert.EqualValues(t, 1, e.BuildCount.Load(), "identical query must not rebuild")
	assert.Same(t, g1, g2)
}

func TestQueryRebuildsOnDifferentSort(t *testing.T) {
	e := NewEngine()
	data := newTestData(t)

	_, err := e.Query(data, filter.Wire{}, "", noopScriptRunner{}, MinTimestamp, Asc)
	require.NoError(t, err)
	_, err = e.Query(data, filter.Wire{}, "", noopScriptRunner{}, Size, Asc)
	require.NoError(t, err)

	assert.EqualValues(t, 2, e.BuildCount.Load())
}

// TestGroupTotalMatchesFilteredAllocations is property 3: the sum of
// |group.ids| across every group equals the number of allocations that
// passed the filter.
func TestGroupTotalMatchesFilteredAllocations(t *testing.T) {
	data := newTestData(t)
	compiled, err := filter.CompileWithCustom(data, filter.Wire{}, "", noopScriptRunner{})
	require.NoError(t, err)

	groups := Build(data, compiled)
	assert.Equal(t, data.AllocationCount(), groups.TotalMatched())
}

// TestApplyGroupBoundsLeakedAllocationsAbsoluteForm is a regression test
// for the absolute-count form of group_leaked_allocations_min: it must be
// resolved against this group's own matched allocation total, not
// silently dropped because only the percentage form was ever read.
func TestApplyGroupBoundsLeakedAllocationsAbsoluteForm(t *testing.T) {
	data := newTestData(t)
	compiled, err := filter.CompileWithCustom(data, filter.Wire{}, "", noopScriptRunner{})
	require.NoError(t, err)
	groups := Build(data, compiled)
	require.Len(t, groups.Entries, 1, "all three allocations share one backtrace")

	n := uint64(10)
	bounds := filter.GroupBounds{LeakedAllocationsMin: &filter.NumberOrPercentage{Absolute: &n}}
	out := ApplyGroupBounds(data, groups, bounds)
	assert.Empty(t, out.Entries, "2 of 3 allocations leaked, an absolute floor of 10 must exclude the group")

	n = 1
	bounds = filter.GroupBounds{LeakedAllocationsMin: &filter.NumberOrPercentage{Absolute: &n}}
	out = ApplyGroupBounds(data, groups, bounds)
	assert.Len(t, out.Entries, 1, "2 leaked allocations clears a floor of 1")
}

// TestSortAscThenReverseEqualsDesc is property 5.
func TestSortAscThenReverseEqualsDesc(t *testing.T) {
	data := newTestData(t)
	compiled, err := filter.CompileWithCustom(data, filter.Wire{}, "", noopScriptRunner{})
	require.NoError(t, err)

	asc := Build(data, compiled)
	Sort(data, asc, Size, Asc)

	desc := Build(data, compiled)
	Sort(data, desc, Size, Desc)

	n := len(asc.Entries)
	require.Equal(t, n, len(desc.Entries))
	for i := 0; i < n; i++ {
		assert.Equal(t, asc.Entries[i].Backtrace, desc.Entries[n-1-i].Backtrace)
	}
}
