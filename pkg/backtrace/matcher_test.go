package backtrace

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filter"
)

func newFrames(t *testing.T) (*capture.Data, []capture.FrameId) {
	t.Helper()
	interner := capture.NewInterner()
	store := capture.NewBacktraceStore()

	var f1, f2 capture.Frame
	f1.SetFunction(interner.Intern("main"))
	f2.SetFunction(interner.Intern("helper"))
	id1 := store.AddFrame(f1)
	id2 := store.AddFrame(f2)

	d := capture.New(1, capture.Metadata{}, interner, store)
	d.Freeze()
	return d, []capture.FrameId{id1, id2}
}

func TestMatchDepthBounds(t *testing.T) {
	data, frames := newFrames(t)
	f, err := Compile(filter.BacktraceWire{DepthMin: 3})
	require.NoError(t, err)

	memo := NewMemo()
	assert.False(t, f.Match(data, memo, frames))
}

func TestMatchFunctionRegex(t *testing.T) {
	data, frames := newFrames(t)
	f, err := Compile(filter.BacktraceWire{FunctionRegex: "^helper$"})
	require.NoError(t, err)

	memo := NewMemo()
	assert.True(t, f.Match(data, memo, frames))
}

func TestMatchNegativeRegexExcludes(t *testing.T) {
	data, frames := newFrames(t)
	f, err := Compile(filter.BacktraceWire{NegativeFunctionRegex: "^main$"})
	require.NoError(t, err)

	memo := NewMemo()
	assert.False(t, f.Match(data, memo, frames))
}

// TestMemoBoundsEvalCount is property 10: repeated matches against the
// same frame set must not re-evaluate regexes already decided for a
// FrameId within the same Memo.
func TestMemoBoundsEvalCount(t *testing.T) {
	data, frames := newFrames(t)
	f, err := Compile(filter.BacktraceWire{FunctionRegex: "^helper$"})
	require.NoError(t, err)

	memo := NewMemo()
	f.Match(data, memo, frames)
	first := memo.EvalCount
	require.LessOrEqual(t, first, len(frames))

	f.Match(data, memo, frames)
	assert.Equal(t, first, memo.EvalCount, "second pass over the same frames must be served from cache")
}
