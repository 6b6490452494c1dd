package script

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

func newScriptData() *capture.Data {
	d := capture.New(1, capture.Metadata{}, capture.NewInterner(), capture.NewBacktraceStore())
	d.AddAllocation(capture.Allocation{Address: 0x1000, Size: 16, Timestamp: 0, ThreadId: 1})
	d.AddAllocation(capture.Allocation{Address: 0x2000, Size: 256, Timestamp: 100, ThreadId: 2, Dealloc: &capture.Deallocation{Timestamp: 200}})
	d.AddAllocation(capture.Allocation{Address: 0x3000, Size: 4096, Timestamp: 200, ThreadId: 1})
	d.Freeze()
	return d
}

func TestEvalAllocationIdsSimpleComparison(t *testing.T) {
	e := NewDefaultEngine()
	d := newScriptData()

	ids, err := e.EvalAllocationIds(d, "size > 100")
	require.NoError(t, err)
	assert.ElementsMatch(t, []capture.AllocationId{1, 2}, ids)
}

func TestEvalAllocationIdsAndOr(t *testing.T) {
	e := NewDefaultEngine()
	d := newScriptData()

	ids, err := e.EvalAllocationIds(d, "size > 100 && thread_id == 1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []capture.AllocationId{2}, ids)

	ids, err = e.EvalAllocationIds(d, "size < 20 || size > 1000")
	require.NoError(t, err)
	assert.ElementsMatch(t, []capture.AllocationId{0, 2}, ids)
}

func TestEvalAllocationIdsLeakedField(t *testing.T) {
	e := NewDefaultEngine()
	d := newScriptData()

	ids, err := e.EvalAllocationIds(d, "leaked == 1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []capture.AllocationId{0, 2}, ids)
}

func TestEvalAllocationIdsNegationAndParens(t *testing.T) {
	e := NewDefaultEngine()
	d := newScriptData()

	ids, err := e.EvalAllocationIds(d, "!(thread_id == 1)")
	require.NoError(t, err)
	assert.ElementsMatch(t, []capture.AllocationId{1}, ids)
}

func TestEvalAllocationIdsSyntaxError(t *testing.T) {
	e := NewDefaultEngine()
	d := newScriptData()

	_, err := e.EvalAllocationIds(d, "size >")
	require.Error(t, err)
}

func TestRunReportsMatchCount(t *testing.T) {
	e := NewDefaultEngine()
	d := newScriptData()

	result, err := e.Run(d, "size > 100", nil)
	require.NoError(t, err)
	require.Len(t, result.Outputs, 1)
	assert.Equal(t, OutputPrintLine, result.Outputs[0].Kind)
	assert.Equal(t, "2 allocation(s) matched", result.Outputs[0].Line)
}

func TestRunSurfacesEvalError(t *testing.T) {
	e := NewDefaultEngine()
	d := newScriptData()

	_, err := e.Run(d, "", nil)
	require.Error(t, err)

	var target *EvalError
	require.ErrorAs(t, err, &target)
}
