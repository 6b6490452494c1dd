package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

func newData() *capture.Data {
	d := capture.New(1, capture.Metadata{}, capture.NewInterner(), capture.NewBacktraceStore())
	d.AddAllocation(capture.Allocation{Address: 0x1000, Size: 16, Timestamp: 0})
	d.AddAllocation(capture.Allocation{Address: 0x2000, Size: 256, Timestamp: 100, Dealloc: &capture.Deallocation{Timestamp: 200}})
	d.AddAllocation(capture.Allocation{Address: 0x3000, Size: 64, Timestamp: 50, Mmaped: true})
	d.Freeze()
	return d
}

func TestCompileSizeBounds(t *testing.T) {
	d := newData()
	min := uint64(32)
	c, err := Compile(d, Wire{SizeMin: &min})
	require.NoError(t, err)

	assert.False(t, c.Match(d, 0, d.Allocation(0)))
	assert.True(t, c.Match(d, 1, d.Allocation(1)))
}

func TestCompileOnlyLeaked(t *testing.T) {
	d := newData()
	c, err := Compile(d, Wire{Lifetime: LifetimeOnlyLeaked})
	require.NoError(t, err)

	assert.True(t, c.Match(d, 0, d.Allocation(0)), "never-freed allocation is leaked")
	assert.False(t, c.Match(d, 1, d.Allocation(1)), "freed allocation is not leaked")
}

func TestCompileMmapedFilter(t *testing.T) {
	d := newData()
	c, err := Compile(d, Wire{Mmaped: MmapedNo})
	require.NoError(t, err)

	assert.True(t, c.Match(d, 0, d.Allocation(0)))
	assert.False(t, c.Match(d, 2, d.Allocation(2)))
}

func TestCompileInvalidRegexError(t *testing.T) {
	d := newData()
	_, err := Compile(d, Wire{FunctionRegex: "("})
	require.Error(t, err)

	var target *InvalidRegexError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, "function_regex", target.Field)
	assert.Contains(t, err.Error(), "invalid 'function_regex'")
}

// TestCompileDeterminism is property 1: compiling and matching the same
// (data, wire) twice yields identical results.
func TestCompileDeterminism(t *testing.T) {
	d := newData()
	min := uint64(10)
	w := Wire{SizeMin: &min}

	c1, err := Compile(d, w)
	require.NoError(t, err)
	c2, err := Compile(d, w)
	require.NoError(t, err)

	for id := capture.AllocationId(0); id < capture.AllocationId(d.AllocationCount()); id++ {
		assert.Equal(t, c1.Match(d, id, d.Allocation(id)), c2.Match(d, id, d.Allocation(id)))
	}
}

type recordingRunner struct {
	ids []capture.AllocationId
}

func (r recordingRunner) EvalAllocationIds(*capture.Data, string) ([]capture.AllocationId, error) {
	return r.ids, nil
}

// TestCompileWithCustomIntersectsStructural is property 2: a custom filter
// composes as an intersection with the structural predicate, never a union.
func TestCompileWithCustomIntersectsStructural(t *testing.T) {
	d := newData()
	min := uint64(32)
	runner := recordingRunner{ids: []capture.AllocationId{0, 1, 2}}

	compiled, err := CompileWithCustom(d, Wire{SizeMin: &min}, "size > 0", runner)
	require.NoError(t, err)

	assert.False(t, compiled.Match(d, 0, d.Allocation(0)), "excluded by structural size bound")
	assert.True(t, compiled.Match(d, 1, d.Allocation(1)))
}

func TestCompileWithCustomEmptySourceIsAbsent(t *testing.T) {
	d := newData()
	compiled, err := CompileWithCustom(d, Wire{}, "", recordingRunner{})
	require.NoError(t, err)
	assert.Nil(t, compiled.CustomIDs)
}

// newChainData builds a capture with one two-member realloc chain
// (allocation 0 -> allocation 1) spanning timestamp 0 to 100, plus one
// unrelated single allocation with no chain at all.
func newChainData() *capture.Data {
	d := capture.New(1, capture.Metadata{}, capture.NewInterner(), capture.NewBacktraceStore())
	d.AddAllocation(capture.Allocation{Address: 0x1000, Size: 8, Timestamp: 0, ChainLength: 2})
	d.AddAllocation(capture.Allocation{Address: 0x1000, Size: 16, Timestamp: 5, ChainLength: 2,
		Dealloc: &capture.Deallocation{Timestamp: 100}})
	d.AddAllocation(capture.Allocation{Address: 0x2000, Size: 4, Timestamp: 0, ChainLength: 1})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: 0})
	d.AddOperation(capture.Operation{Kind: capture.OpRealloc, AllocationId: 1, PreviousAllocationId: 0})
	d.AddOperation(capture.Operation{Kind: capture.OpDealloc, AllocationId: 1})
	d.AddOperation(capture.Operation{Kind: capture.OpAlloc, AllocationId: 2})
	d.Freeze()
	return d
}

func TestCompileChainLifetimeBounds(t *testing.T) {
	d := newChainData()
	min := capture.Duration(50)
	c, err := Compile(d, Wire{ChainLifetimeMin: &min})
	require.NoError(t, err)

	assert.True(t, c.Match(d, 0, d.Allocation(0)), "chain lifetime 100 >= min 50")
	assert.True(t, c.Match(d, 1, d.Allocation(1)))
	assert.False(t, c.Match(d, 2, d.Allocation(2)), "length-1 allocation has no chain lifetime to compare")
}

func TestCompileChainLifetimeMaxExcludesLongerChains(t *testing.T) {
	d := newChainData()
	max := capture.Duration(10)
	c, err := Compile(d, Wire{ChainLifetimeMax: &max})
	require.NoError(t, err)

	assert.False(t, c.Match(d, 0, d.Allocation(0)), "chain lifetime 100 exceeds max 10")
}

// newGroupData builds one backtrace's worth of allocations, some leaked,
// to exercise GroupBounds' absolute-count leaked-allocations form.
func newGroupData() *capture.Data {
	d := capture.New(1, capture.Metadata{}, capture.NewInterner(), capture.NewBacktraceStore())
	bt := d.Backtraces().AddBacktrace(nil)
	for i := 0; i < 3; i++ {
		d.AddAllocation(capture.Allocation{Address: uint64(i), Size: 8, Timestamp: capture.Timestamp(i), Backtrace: bt})
	}
	d.AddAllocation(capture.Allocation{Address: 9, Size: 8, Timestamp: 9, Backtrace: bt,
		Dealloc: &capture.Deallocation{Timestamp: 10}})
	d.Freeze()
	return d
}

func TestGroupBoundsLeakedAllocationsAbsoluteForm(t *testing.T) {
	d := newGroupData()
	n := uint64(2)
	c, err := Compile(d, Wire{GroupLeakedAllocationsMin: &NumberOrPercentage{Absolute: &n}})
	require.NoError(t, err)

	bounds := c.GroupBounds()
	require.NotNil(t, bounds.LeakedAllocationsMin)
	assert.Equal(t, 0.5, bounds.LeakedAllocationsMin.Fraction(4))
}
