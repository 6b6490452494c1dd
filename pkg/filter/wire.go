// Package filter compiles the wire-level filter descriptor described in
// spec.md §3/§4.1 into a compact predicate over allocations.
package filter

import "github.com/0xgxthxb/bytehound/pkg/capture"

// NumberOrPercentage is either an absolute count or a percentage of some
// group total, matching the wire filter's leaked-allocation bounds.
type NumberOrPercentage struct {
	Absolute *uint64
	Percent  *float64
}

// Fraction converts the value to a fraction of total, given the total. An
// absolute value is divided by total; a percentage is simply value/100.
func (n NumberOrPercentage) Fraction(total uint64) float64 {
	if n.Percent != nil {
		return *n.Percent / 100.0
	}
	if n.Absolute != nil && total > 0 {
		return float64(*n.Absolute) / float64(total)
	}
	return 0
}

// TimeBound is either an absolute timestamp or a fraction of the capture
// window ([0.0, 1.0]), normalized to an absolute Timestamp once the
// capture's initial/last timestamps are known.
type TimeBound struct {
	Absolute *capture.Timestamp
	Fraction *float64
}

// ToTimestamp normalizes the bound against a capture window.
func (t TimeBound) ToTimestamp(initial, last capture.Timestamp) capture.Timestamp {
	if t.Absolute != nil {
		return *t.Absolute
	}
	if t.Fraction != nil {
		span := int64(last - initial)
		return initial + capture.Timestamp(float64(span)*(*t.Fraction))
	}
	return 0
}

// LifetimeClass expands into lower-level bounds as described in spec.md
// §4.1.
type LifetimeClass uint8

const (
	LifetimeAll LifetimeClass = iota
	LifetimeOnlyLeaked
	LifetimeOnlyNotDeallocatedInCurrentRange
	LifetimeOnlyDeallocatedInCurrentRange
	LifetimeOnlyTemporary
	LifetimeOnlyWholeGroupLeaked
)

// MmapedFilter selects on the allocation's mmaped provenance flag.
type MmapedFilter uint8

const (
	MmapedAny MmapedFilter = iota
	MmapedYes
	MmapedNo
)

// JemallocFilter selects on the allocation's jemalloc provenance flag.
type JemallocFilter uint8

const (
	JemallocAny JemallocFilter = iota
	JemallocYes
	JemallocNo
)

// ArenaFilter selects on whether an allocation came from the main arena.
type ArenaFilter uint8

const (
	ArenaAny     ArenaFilter = iota
	ArenaMain                // only_ptmalloc_from_main_arena
	ArenaNonMain             // only_ptmalloc_not_from_main_arena
)

// Wire is the flat, JSON-decoded filter descriptor as it arrives over the
// query string (spec.md §3 "Filter descriptor (wire)").
type Wire struct {
	TimeMin *TimeBound
	TimeMax *TimeBound

	AddressMin *uint64
	AddressMax *uint64

	SizeMin *uint64
	SizeMax *uint64

	FirstSizeMin *uint64
	FirstSizeMax *uint64
	LastSizeMin  *uint64
	LastSizeMax  *uint64

	LifetimeMin *capture.Duration
	LifetimeMax *capture.Duration

	BacktraceDepthMin *uint32
	BacktraceDepthMax *uint32

	ChainLengthMin   *uint32
	ChainLengthMax   *uint32
	ChainLifetimeMin *capture.Duration
	ChainLifetimeMax *capture.Duration

	GroupIntervalMin                 *TimeBound
	GroupIntervalMax                 *TimeBound
	GroupMaxTotalUsageFirstSeenMin   *TimeBound
	GroupMaxTotalUsageFirstSeenMax   *TimeBound
	GroupAllocationsMin              *uint64
	GroupAllocationsMax              *uint64
	GroupLeakedAllocationsMin        *NumberOrPercentage
	GroupLeakedAllocationsMax        *NumberOrPercentage

	FunctionRegex         string
	NegativeFunctionRegex string
	SourceRegex           string
	NegativeSourceRegex   string

	Mmaped   MmapedFilter
	Jemalloc JemallocFilter
	Arena    ArenaFilter
	Lifetime LifetimeClass

	Backtrace *capture.BacktraceId

	// Marker filters on the user-settable tag described in SPEC_FULL.md §C.1.
	Marker *uint64
}

// BacktraceWire is the filter descriptor used by the backtrace matcher
// (spec.md §4.2): a depth range plus four optional regexes.
type BacktraceWire struct {
	DepthMin              uint32
	DepthMax              uint32
	FunctionRegex         string
	SourceRegex           string
	NegativeFunctionRegex string
	NegativeSourceRegex   string
}
