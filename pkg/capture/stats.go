package capture

// GroupStatistics is the precomputed, capture-wide ("global") statistics
// for a single backtrace, covering every allocation sharing that backtrace
// regardless of the currently active filter. Contrast with the "matched"
// statistics the group engine folds over a filtered subset on demand.
type GroupStatistics struct {
	FirstAllocationTimestamp Timestamp
	LastAllocationTimestamp  Timestamp
	MinSize                  uint64
	MaxSize                  uint64
	AllocCount               uint64
	FreeCount                uint64
	// MaxTotalUsageFirstSeenAt is the timestamp at which the cumulative
	// live-byte usage attributable to this backtrace first reached its
	// all-time maximum.
	MaxTotalUsageFirstSeenAt Timestamp
}
