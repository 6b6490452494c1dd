package filter

import (
	"github.com/coregx/coregex"

	"github.com/0xgxthxb/bytehound/pkg/capture"
)

// TemporaryLifetimeThreshold is the lifetime at or below which a freed
// allocation is considered "temporary" by OnlyTemporary. The lower-level filter layer in
// the original implementation owns this definition (spec.md §9, "Open
// question — OnlyTemporary"); this rewrite inherits rather than invents it.
const TemporaryLifetimeThreshold = capture.Duration(1000) // 1ms, in microseconds

// basic holds every lowered bound a Wire descriptor can expand into. It is
// a plain value type (no pointers into shared mutable state) so a
// CompiledFilter is cheap to copy and safe to invoke concurrently from
// many worker goroutines, per spec.md §4.1 ("cheap to clone").
type basic struct {
	hasTimeMin bool
	timeMin    capture.Timestamp
	hasTimeMax bool
	timeMax    capture.Timestamp

	hasDeallocTimeMin bool
	deallocTimeMin    capture.Timestamp
	hasDeallocTimeMax bool
	deallocTimeMax    capture.Timestamp

	hasAddressMin bool
	addressMin    uint64
	hasAddressMax bool
	addressMax    uint64

	hasSizeMin bool
	sizeMin    uint64
	hasSizeMax bool
	sizeMax    uint64

	hasFirstSizeMin bool
	firstSizeMin    uint64
	hasFirstSizeMax bool
	firstSizeMax    uint64
	hasLastSizeMin  bool
	lastSizeMin     uint64
	hasLastSizeMax  bool
	lastSizeMax     uint64

	hasLifetimeMin bool
	lifetimeMin    capture.Duration
	hasLifetimeMax bool
	lifetimeMax    capture.Duration

	hasBacktraceDepthMin bool
	backtraceDepthMin    uint32
	hasBacktraceDepthMax bool
	backtraceDepthMax    uint32

	hasChainLengthMin bool
	chainLengthMin    uint32
	hasChainLengthMax bool
	chainLengthMax    uint32

	hasChainLifetimeMin bool
	chainLifetimeMin    capture.Duration
	hasChainLifetimeMax bool
	chainLifetimeMax    capture.Duration

	onlyLeaked    bool
	onlyTemporary bool

	mmaped   MmapedFilter
	jemalloc JemallocFilter
	arena    ArenaFilter

	hasBacktrace bool
	backtrace    capture.BacktraceId

	hasMarker bool
	marker    uint64

	functionRegex         *coregex.Regex
	negativeFunctionRegex *coregex.Regex
	sourceRegex           *coregex.Regex
	negativeSourceRegex   *coregex.Regex

	// group-level bounds, consulted by pkg/group when building group
	// membership, not by the per-allocation predicate.
	groupIntervalMin          *capture.Duration
	groupIntervalMax          *capture.Duration
	groupMaxUsageFirstSeenMin *capture.Timestamp
	groupMaxUsageFirstSeenMax *capture.Timestamp
	groupAllocationsMin       *uint64
	groupAllocationsMax       *uint64
	groupLeakedAllocationsMin *NumberOrPercentage
	groupLeakedAllocationsMax *NumberOrPercentage
}

// CompiledFilter is a filter.Wire lowered into a cheap-to-evaluate
// predicate, per spec.md §3/§4.1. The zero value matches everything.
type CompiledFilter struct {
	b basic
}

func compileRegex(field, pattern string) (*coregex.Regex, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := coregex.Compile(pattern)
	if err != nil {
		return nil, &InvalidRegexError{Field: field, Message: err.Error()}
	}
	return re, nil
}

// Compile lowers a Wire descriptor into a CompiledFilter against a
// specific capture (needed to normalize fraction-of-window time bounds;
// group leaked-allocation bounds are carried through unresolved).
func Compile(data *capture.Data, w Wire) (CompiledFilter, error) {
	var b basic

	initial, last := data.InitialTimestamp(), data.LastTimestamp()

	if w.TimeMin != nil {
		b.hasTimeMin = true
		b.timeMin = w.TimeMin.ToTimestamp(initial, last)
	}
	if w.TimeMax != nil {
		b.hasTimeMax = true
		b.timeMax = w.TimeMax.ToTimestamp(initial, last)
	}

	if w.AddressMin != nil {
		b.hasAddressMin, b.addressMin = true, *w.AddressMin
	}
	if w.AddressMax != nil {
		b.hasAddressMax, b.addressMax = true, *w.AddressMax
	}
	if w.SizeMin != nil {
		b.hasSizeMin, b.sizeMin = true, *w.SizeMin
	}
	if w.SizeMax != nil {
		b.hasSizeMax, b.sizeMax = true, *w.SizeMax
	}
	if w.FirstSizeMin != nil {
		b.hasFirstSizeMin, b.firstSizeMin = true, *w.FirstSizeMin
	}
	if w.FirstSizeMax != nil {
		b.hasFirstSizeMax, b.firstSizeMax = true, *w.FirstSizeMax
	}
	if w.LastSizeMin != nil {
		b.hasLastSizeMin, b.lastSizeMin = true, *w.LastSizeMin
	}
	if w.LastSizeMax != nil {
		b.hasLastSizeMax, b.lastSizeMax = true, *w.LastSizeMax
	}
	if w.LifetimeMin != nil {
		b.hasLifetimeMin, b.lifetimeMin = true, *w.LifetimeMin
	}
	if w.LifetimeMax != nil {
		b.hasLifetimeMax, b.lifetimeMax = true, *w.LifetimeMax
	}
	if w.BacktraceDepthMin != nil {
		b.hasBacktraceDepthMin, b.backtraceDepthMin = true, *w.BacktraceDepthMin
	}
	if w.BacktraceDepthMax != nil {
		b.hasBacktraceDepthMax, b.backtraceDepthMax = true, *w.BacktraceDepthMax
	}
	if w.ChainLengthMin != nil {
		b.hasChainLengthMin, b.chainLengthMin = true, *w.ChainLengthMin
	}
	if w.ChainLengthMax != nil {
		b.hasChainLengthMax, b.chainLengthMax = true, *w.ChainLengthMax
	}
	if w.ChainLifetimeMin != nil {
		b.hasChainLifetimeMin, b.chainLifetimeMin = true, *w.ChainLifetimeMin
	}
	if w.ChainLifetimeMax != nil {
		b.hasChainLifetimeMax, b.chainLifetimeMax = true, *w.ChainLifetimeMax
	}
	if w.Backtrace != nil {
		b.hasBacktrace, b.backtrace = true, *w.Backtrace
	}
	if w.Marker != nil {
		b.hasMarker, b.marker = true, *w.Marker
	}

	b.mmaped = w.Mmaped
	b.jemalloc = w.Jemalloc
	b.arena = w.Arena

	var err error
	if b.functionRegex, err = compileRegex("function_regex", w.FunctionRegex); err != nil {
		return CompiledFilter{}, err
	}
	if b.negativeFunctionRegex, err = compileRegex("negative_function_regex", w.NegativeFunctionRegex); err != nil {
		return CompiledFilter{}, err
	}
	if b.sourceRegex, err = compileRegex("source_regex", w.SourceRegex); err != nil {
		return CompiledFilter{}, err
	}
	if b.negativeSourceRegex, err = compileRegex("negative_source_regex", w.NegativeSourceRegex); err != nil {
		return CompiledFilter{}, err
	}

	if w.GroupIntervalMin != nil {
		d := capture.Duration(w.GroupIntervalMin.ToTimestamp(initial, last) - initial)
		b.groupIntervalMin = &d
	}
	if w.GroupIntervalMax != nil {
		d := capture.Duration(w.GroupIntervalMax.ToTimestamp(initial, last) - initial)
		b.groupIntervalMax = &d
	}
	if w.GroupMaxTotalUsageFirstSeenMin != nil {
		ts := w.GroupMaxTotalUsageFirstSeenMin.ToTimestamp(initial, last)
		b.groupMaxUsageFirstSeenMin = &ts
	}
	if w.GroupMaxTotalUsageFirstSeenMax != nil {
		ts := w.GroupMaxTotalUsageFirstSeenMax.ToTimestamp(initial, last)
		b.groupMaxUsageFirstSeenMax = &ts
	}
	b.groupAllocationsMin = w.GroupAllocationsMin
	b.groupAllocationsMax = w.GroupAllocationsMax
	// Both the absolute-count and percentage forms are carried through
	// unresolved: only pkg/group, once it has folded a group's matched
	// allocation count, knows the total an absolute bound needs to be
	// compared against (NumberOrPercentage.Fraction(total)).
	b.groupLeakedAllocationsMin = w.GroupLeakedAllocationsMin
	b.groupLeakedAllocationsMax = w.GroupLeakedAllocationsMax

	applyLifetimeClass(&b, w.Lifetime, initial, last)

	return CompiledFilter{b: b}, nil
}

// applyLifetimeClass lowers the high-level LifetimeClass enum into the
// lower-level bounds above, ported from filter.rs's LifetimeFilter match
// (spec.md §4.1). The group cache key is built from the Wire as received,
// not from these lowered bounds (see group.NewKey).
func applyLifetimeClass(b *basic, class LifetimeClass, initial, last capture.Timestamp) {
	switch class {
	case LifetimeAll:
		// no-op
	case LifetimeOnlyLeaked:
		b.onlyLeaked = true
	case LifetimeOnlyNotDeallocatedInCurrentRange:
		b.hasDeallocTimeMin, b.deallocTimeMin = b.hasTimeMin, b.timeMin
		b.hasDeallocTimeMax, b.deallocTimeMax = b.hasTimeMax, b.timeMax
	case LifetimeOnlyDeallocatedInCurrentRange:
		min1 := int64(initial)
		if b.hasTimeMin {
			min1 = int64(b.timeMin)
		}
		max1 := int64(last)
		if b.hasTimeMax {
			max1 = int64(b.timeMax)
		}
		min2 := int64(initial)
		if b.hasDeallocTimeMin {
			min2 = int64(b.deallocTimeMin)
		}
		max2 := int64(last)
		if b.hasDeallocTimeMax {
			max2 = int64(b.deallocTimeMax)
		}
		if min2 > min1 {
			min1 = min2
		}
		if max2 < max1 {
			max1 = max2
		}
		b.hasDeallocTimeMin, b.deallocTimeMin = true, capture.Timestamp(min1)
		b.hasDeallocTimeMax, b.deallocTimeMax = true, capture.Timestamp(max1)
	case LifetimeOnlyTemporary:
		b.onlyTemporary = true
	case LifetimeOnlyWholeGroupLeaked:
		hundred := 100.0
		b.groupLeakedAllocationsMin = &NumberOrPercentage{Percent: &hundred}
	}
}

// Match reports whether allocation id matches the compiled filter. data is
// needed to resolve interned function/source strings for regex matching.
func (f CompiledFilter) Match(data *capture.Data, id capture.AllocationId, a *capture.Allocation) bool {
	b := &f.b

	if b.hasTimeMin && a.Timestamp < b.timeMin {
		return false
	}
	if b.hasTimeMax && a.Timestamp > b.timeMax {
		return false
	}
	if b.hasAddressMin && a.Address < b.addressMin {
		return false
	}
	if b.hasAddressMax && a.Address > b.addressMax {
		return false
	}
	if b.hasSizeMin && a.Size < b.sizeMin {
		return false
	}
	if b.hasSizeMax && a.Size > b.sizeMax {
		return false
	}
	if b.hasBacktrace && a.Backtrace != b.backtrace {
		return false
	}
	if b.hasMarker && (a.Marker == nil || *a.Marker != b.marker) {
		return false
	}

	switch b.mmaped {
	case MmapedYes:
		if !a.Mmaped {
			return false
		}
	case MmapedNo:
		if a.Mmaped {
			return false
		}
	}
	switch b.jemalloc {
	case JemallocYes:
		if !a.Jemalloc {
			return false
		}
	case JemallocNo:
		if a.Jemalloc {
			return false
		}
	}
	switch b.arena {
	case ArenaMain:
		if !a.MainArena {
			return false
		}
	case ArenaNonMain:
		if a.MainArena {
			return false
		}
	}

	if b.hasChainLengthMin && a.ChainLength < b.chainLengthMin {
		return false
	}
	if b.hasChainLengthMax && a.ChainLength > b.chainLengthMax {
		return false
	}

	if b.hasChainLifetimeMin || b.hasChainLifetimeMax {
		lifetime, ok := data.ChainLifetime(id)
		if !ok {
			return false
		}
		if b.hasChainLifetimeMin && lifetime < b.chainLifetimeMin {
			return false
		}
		if b.hasChainLifetimeMax && lifetime > b.chainLifetimeMax {
			return false
		}
	}

	if b.onlyLeaked && !a.IsLeaked() {
		return false
	}

	if b.hasDeallocTimeMin || b.hasDeallocTimeMax {
		if a.Dealloc == nil {
			return false
		}
		if b.hasDeallocTimeMin && a.Dealloc.Timestamp < b.deallocTimeMin {
			return false
		}
		if b.hasDeallocTimeMax && a.Dealloc.Timestamp > b.deallocTimeMax {
			return false
		}
	}

	if b.hasLifetimeMin || b.hasLifetimeMax || b.onlyTemporary {
		lifetime, freed := a.LifetimeDuration()
		if !freed {
			// A still-live allocation has no bounded lifetime; only
			// temporary/lifetime-bounded filters exclude it.
			return false
		}
		if b.hasLifetimeMin && lifetime < b.lifetimeMin {
			return false
		}
		if b.hasLifetimeMax && lifetime > b.lifetimeMax {
			return false
		}
		if b.onlyTemporary && lifetime > TemporaryLifetimeThreshold {
			return false
		}
	}

	bt := data.Backtraces().Backtrace(a.Backtrace)
	depth := uint32(len(bt.Frames))
	if b.hasBacktraceDepthMin && depth < b.backtraceDepthMin {
		return false
	}
	if b.hasBacktraceDepthMax && depth > b.backtraceDepthMax {
		return false
	}

	if !matchRegexes(data, bt, b) {
		return false
	}

	return true
}

func matchRegexes(data *capture.Data, bt capture.Backtrace, b *basic) bool {
	if b.functionRegex == nil && b.negativeFunctionRegex == nil && b.sourceRegex == nil && b.negativeSourceRegex == nil {
		return true
	}

	positiveSatisfied := b.functionRegex == nil && b.sourceRegex == nil
	negativeMatched := false

	for _, fid := range bt.Frames {
		frame := data.Backtraces().Frame(fid)

		needFunction := b.functionRegex != nil || b.negativeFunctionRegex != nil
		needSource := b.sourceRegex != nil || b.negativeSourceRegex != nil

		var function, source string
		var haveFunction, haveSource bool
		if needFunction {
			if fidv, ok := frame.FunctionID(); ok {
				function, haveFunction = resolve(data, fidv)
			}
		}
		if needSource {
			if sidv, ok := frame.SourceID(); ok {
				source, haveSource = resolve(data, sidv)
			}
		}

		if !positiveSatisfied {
			matchedFunction := b.functionRegex == nil || (haveFunction && b.functionRegex.MatchString(function))
			matchedSource := b.sourceRegex == nil || (haveSource && b.sourceRegex.MatchString(source))
			positiveSatisfied = matchedFunction && matchedSource
		}

		if b.negativeFunctionRegex != nil && haveFunction && b.negativeFunctionRegex.MatchString(function) {
			negativeMatched = true
			break
		}
		if b.negativeSourceRegex != nil && haveSource && b.negativeSourceRegex.MatchString(source) {
			negativeMatched = true
			break
		}

		if positiveSatisfied && b.negativeFunctionRegex == nil && b.negativeSourceRegex == nil {
			break
		}
	}

	return positiveSatisfied && !negativeMatched
}

func resolve(data *capture.Data, id capture.StringId) (string, bool) {
	return data.Interner().Resolve(id)
}

// GroupBounds is the subset of a compiled filter that constrains a group
// as a whole rather than an individual allocation — consulted by
// pkg/group after group membership has been built, not by Match.
type GroupBounds struct {
	IntervalMin          *capture.Duration
	IntervalMax          *capture.Duration
	MaxUsageFirstSeenMin *capture.Timestamp
	MaxUsageFirstSeenMax *capture.Timestamp
	AllocationsMin       *uint64
	AllocationsMax       *uint64
	LeakedAllocationsMin *NumberOrPercentage
	LeakedAllocationsMax *NumberOrPercentage
}

// GroupBounds returns the group-level bounds carried by this filter.
func (f CompiledFilter) GroupBounds() GroupBounds {
	return GroupBounds{
		IntervalMin:          f.b.groupIntervalMin,
		IntervalMax:          f.b.groupIntervalMax,
		MaxUsageFirstSeenMin: f.b.groupMaxUsageFirstSeenMin,
		MaxUsageFirstSeenMax: f.b.groupMaxUsageFirstSeenMax,
		AllocationsMin:       f.b.groupAllocationsMin,
		AllocationsMax:       f.b.groupAllocationsMax,
		LeakedAllocationsMin: f.b.groupLeakedAllocationsMin,
		LeakedAllocationsMax: f.b.groupLeakedAllocationsMax,
	}
}
