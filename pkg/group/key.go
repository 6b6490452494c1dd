package group

import (
	"encoding/json"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filter"
)

// SortBy enumerates the 13 public sort keys from spec.md §4.3, sampled
// directly from the original implementation's AllocGroupsSortBy enum.
type SortBy uint8

const (
	MinTimestamp SortBy = iota
	MaxTimestamp
	Interval
	AllocatedCount
	LeakedCount
	Size
	GlobalMinTimestamp
	GlobalMaxTimestamp
	GlobalInterval
	GlobalAllocatedCount
	GlobalLeakedCount
	GlobalSize
	GlobalMaxTotalUsageFirstSeenAt
)

// sortByNames maps the wire query-parameter spelling of each sort key to
// its SortBy value, for the `sort_by` request parameter.
var sortByNames = map[string]SortBy{
	"min_timestamp":                  MinTimestamp,
	"max_timestamp":                  MaxTimestamp,
	"interval":                       Interval,
	"allocated_count":                AllocatedCount,
	"leaked_count":                   LeakedCount,
	"size":                           Size,
	"global_min_timestamp":           GlobalMinTimestamp,
	"global_max_timestamp":           GlobalMaxTimestamp,
	"global_interval":                GlobalInterval,
	"global_allocated_count":         GlobalAllocatedCount,
	"global_leaked_count":            GlobalLeakedCount,
	"global_size":                    GlobalSize,
	"global_max_total_usage_first_seen_at": GlobalMaxTotalUsageFirstSeenAt,
}

// ParseSortBy resolves a request's `sort_by` parameter spelling, defaulting
// to MinTimestamp when raw is empty. ok is false for any unrecognized name.
func ParseSortBy(raw string) (sb SortBy, ok bool) {
	if raw == "" {
		return MinTimestamp, true
	}
	sb, ok = sortByNames[raw]
	return sb, ok
}

// Order selects ascending or descending sort.
type Order uint8

const (
	Asc Order = iota
	Desc
)

// Key identifies one cached Groups result: spec.md §3 invariant (iii),
// "group-cache entries are a pure function of (CaptureId, wire-filter,
// wire-custom-filter, sort key, order)". filter.Wire carries pointer
// fields for optional bounds, so two structurally-identical wire filters
// at different addresses must still hash/compare equal; Key is therefore a
// plain string built from a canonical JSON encoding rather than the Wire
// struct itself.
type Key string

type keyParts struct {
	CaptureID    capture.CaptureId
	Wire         filter.Wire
	CustomFilter string
	SortBy       SortBy
	Order        Order
}

// NewKey builds a cache key from the Wire as received, before any
// lifetime-class lowering (spec.md §4.1). Two wire filters that lower to
// the same bounds but are spelled differently (a LifetimeClass versus the
// equivalent explicit bounds) get different keys and separate entries.
func NewKey(captureID capture.CaptureId, w filter.Wire, customFilter string, sortBy SortBy, order Order) Key {
	parts := keyParts{CaptureID: captureID, Wire: w, CustomFilter: customFilter, SortBy: sortBy, Order: order}
	// encoding/json.Marshal of a struct with only comparable/primitive and
	// pointer-to-primitive fields is deterministic field-order output,
	// which is all Key needs: a stable byte sequence, not a human format.
	b, err := json.Marshal(parts)
	if err != nil {
		// Wire only ever contains primitives, pointers to primitives, and
		// the BacktraceId enum/value types below; marshaling cannot fail.
		panic(err)
	}
	return Key(b)
}
