// Package capture holds the in-memory representation of a single heap
// profiling capture: allocations, backtraces, frames, and the operation
// stream they were derived from.
package capture

import (
	"fmt"
	"strconv"
)

// CaptureId uniquely identifies a loaded capture for the lifetime of the
// process. It is never reused.
type CaptureId uint32

func (id CaptureId) String() string {
	return fmt.Sprintf("%d", uint32(id))
}

// ParseCaptureId parses the decimal form of a CaptureId, as it appears in
// a request path's `{id}` segment.
func ParseCaptureId(s string) (CaptureId, error) {
	n, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, err
	}
	return CaptureId(n), nil
}

// AllocationId indexes into a Data's allocation table.
type AllocationId uint32

// BacktraceId indexes into a Data's backtrace store.
type BacktraceId uint32

// FrameId indexes into a Data's frame table.
type FrameId uint32

// StringId is a stable id returned by the string interner.
type StringId uint32

// Timestamp is microseconds since an arbitrary monotonic epoch, matching
// the precision captured by the profiler.
type Timestamp int64

// Duration is a difference between two Timestamps, also in microseconds.
type Duration int64

const (
	// MaxTimestampSentinel is the largest representable Timestamp; folds that
	// compute a minimum seed their accumulator with this value so any real
	// timestamp replaces it.
	MaxTimestampSentinel Timestamp = 1<<63 - 1
	// MinTimestampSentinel is the smallest representable Timestamp; folds
	// that compute a maximum seed their accumulator with this value.
	MinTimestampSentinel Timestamp = -1 << 63
)
