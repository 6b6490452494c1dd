// Package httpapi implements the HTTP query surface described in
// spec.md §4.8: route registration, typed query-parameter parsing, and
// the handlers that drive the rest of the packages.
package httpapi

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filter"
	"github.com/0xgxthxb/bytehound/pkg/group"
)

// paramError formats the "invalid '{field}': {message}" shape spec.md §7
// specifies for a malformed query parameter.
type paramError struct {
	field   string
	message string
}

func (e *paramError) Error() string {
	return fmt.Sprintf("invalid '%s': %s", e.field, e.message)
}

func parseUint64(q url.Values, key string) (*uint64, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, &paramError{field: key, message: err.Error()}
	}
	return &v, nil
}

func parseUint32(q url.Values, key string) (*uint32, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, &paramError{field: key, message: err.Error()}
	}
	v32 := uint32(v)
	return &v32, nil
}

func parseDuration(q url.Values, key string) (*capture.Duration, error) {
	v, err := parseUint64(q, key)
	if err != nil || v == nil {
		return nil, err
	}
	d := capture.Duration(*v)
	return &d, nil
}

func parseTimeBound(q url.Values, absKey, fracKey string) (*filter.TimeBound, error) {
	if raw := q.Get(absKey); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return nil, &paramError{field: absKey, message: err.Error()}
		}
		ts := capture.Timestamp(n)
		return &filter.TimeBound{Absolute: &ts}, nil
	}
	if raw := q.Get(fracKey); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &paramError{field: fracKey, message: err.Error()}
		}
		return &filter.TimeBound{Fraction: &f}, nil
	}
	return nil, nil
}

func parseNumberOrPercentage(q url.Values, absKey, pctKey string) (*filter.NumberOrPercentage, error) {
	if raw := q.Get(absKey); raw != "" {
		n, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, &paramError{field: absKey, message: err.Error()}
		}
		return &filter.NumberOrPercentage{Absolute: &n}, nil
	}
	if raw := q.Get(pctKey); raw != "" {
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, &paramError{field: pctKey, message: err.Error()}
		}
		return &filter.NumberOrPercentage{Percent: &f}, nil
	}
	return nil, nil
}

func parseBacktraceID(q url.Values, key string) (*capture.BacktraceId, error) {
	raw := q.Get(key)
	if raw == "" {
		return nil, nil
	}
	n, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return nil, &paramError{field: key, message: err.Error()}
	}
	id := capture.BacktraceId(n)
	return &id, nil
}

func parseMarker(q url.Values, key string) (*uint64, error) {
	return parseUint64(q, key)
}

// parseWire parses the full wire filter descriptor from a request's query
// string (spec.md §3 "Filter descriptor (wire)").
func parseWire(q url.Values) (filter.Wire, error) {
	var w filter.Wire
	var err error

	if w.TimeMin, err = parseTimeBound(q, "time_min", "time_min_fraction"); err != nil {
		return w, err
	}
	if w.TimeMax, err = parseTimeBound(q, "time_max", "time_max_fraction"); err != nil {
		return w, err
	}
	if w.AddressMin, err = parseUint64(q, "address_min"); err != nil {
		return w, err
	}
	if w.AddressMax, err = parseUint64(q, "address_max"); err != nil {
		return w, err
	}
	if w.SizeMin, err = parseUint64(q, "size_min"); err != nil {
		return w, err
	}
	if w.SizeMax, err = parseUint64(q, "size_max"); err != nil {
		return w, err
	}
	if w.FirstSizeMin, err = parseUint64(q, "first_size_min"); err != nil {
		return w, err
	}
	if w.FirstSizeMax, err = parseUint64(q, "first_size_max"); err != nil {
		return w, err
	}
	if w.LastSizeMin, err = parseUint64(q, "last_size_min"); err != nil {
		return w, err
	}
	if w.LastSizeMax, err = parseUint64(q, "last_size_max"); err != nil {
		return w, err
	}
	if w.LifetimeMin, err = parseDuration(q, "lifetime_min"); err != nil {
		return w, err
	}
	if w.LifetimeMax, err = parseDuration(q, "lifetime_max"); err != nil {
		return w, err
	}
	if w.BacktraceDepthMin, err = parseUint32(q, "backtrace_depth_min"); err != nil {
		return w, err
	}
	if w.BacktraceDepthMax, err = parseUint32(q, "backtrace_depth_max"); err != nil {
		return w, err
	}
	if w.ChainLengthMin, err = parseUint32(q, "chain_length_min"); err != nil {
		return w, err
	}
	if w.ChainLengthMax, err = parseUint32(q, "chain_length_max"); err != nil {
		return w, err
	}
	if w.ChainLifetimeMin, err = parseDuration(q, "chain_lifetime_min"); err != nil {
		return w, err
	}
	if w.ChainLifetimeMax, err = parseDuration(q, "chain_lifetime_max"); err != nil {
		return w, err
	}
	if w.GroupIntervalMin, err = parseTimeBound(q, "group_interval_min", "group_interval_min_fraction"); err != nil {
		return w, err
	}
	if w.GroupIntervalMax, err = parseTimeBound(q, "group_interval_max", "group_interval_max_fraction"); err != nil {
		return w, err
	}
	if w.GroupMaxTotalUsageFirstSeenMin, err = parseTimeBound(q, "group_max_total_usage_first_seen_min", "group_max_total_usage_first_seen_min_fraction"); err != nil {
		return w, err
	}
	if w.GroupMaxTotalUsageFirstSeenMax, err = parseTimeBound(q, "group_max_total_usage_first_seen_max", "group_max_total_usage_first_seen_max_fraction"); err != nil {
		return w, err
	}
	if w.GroupAllocationsMin, err = parseUint64(q, "group_allocations_min"); err != nil {
		return w, err
	}
	if w.GroupAllocationsMax, err = parseUint64(q, "group_allocations_max"); err != nil {
		return w, err
	}
	if w.GroupLeakedAllocationsMin, err = parseNumberOrPercentage(q, "group_leaked_allocations_min", "group_leaked_allocations_min_percent"); err != nil {
		return w, err
	}
	if w.GroupLeakedAllocationsMax, err = parseNumberOrPercentage(q, "group_leaked_allocations_max", "group_leaked_allocations_max_percent"); err != nil {
		return w, err
	}
	if w.Backtrace, err = parseBacktraceID(q, "backtrace"); err != nil {
		return w, err
	}
	if w.Marker, err = parseMarker(q, "marker"); err != nil {
		return w, err
	}

	w.FunctionRegex = q.Get("function_regex")
	w.NegativeFunctionRegex = q.Get("negative_function_regex")
	w.SourceRegex = q.Get("source_regex")
	w.NegativeSourceRegex = q.Get("negative_source_regex")

	if w.Mmaped, err = parseMmapedFilter(q.Get("mmaped")); err != nil {
		return w, err
	}
	if w.Jemalloc, err = parseJemallocFilter(q.Get("jemalloc")); err != nil {
		return w, err
	}
	if w.Arena, err = parseArenaFilter(q.Get("arena")); err != nil {
		return w, err
	}
	if w.Lifetime, err = parseLifetimeClass(q.Get("lifetime")); err != nil {
		return w, err
	}

	return w, nil
}

func parseMmapedFilter(raw string) (filter.MmapedFilter, error) {
	switch raw {
	case "":
		return filter.MmapedAny, nil
	case "yes":
		return filter.MmapedYes, nil
	case "no":
		return filter.MmapedNo, nil
	}
	return filter.MmapedAny, &paramError{field: "mmaped", message: "expected 'yes' or 'no'"}
}

func parseJemallocFilter(raw string) (filter.JemallocFilter, error) {
	switch raw {
	case "":
		return filter.JemallocAny, nil
	case "yes":
		return filter.JemallocYes, nil
	case "no":
		return filter.JemallocNo, nil
	}
	return filter.JemallocAny, &paramError{field: "jemalloc", message: "expected 'yes' or 'no'"}
}

func parseArenaFilter(raw string) (filter.ArenaFilter, error) {
	switch raw {
	case "":
		return filter.ArenaAny, nil
	case "main":
		return filter.ArenaMain, nil
	case "non_main":
		return filter.ArenaNonMain, nil
	}
	return filter.ArenaAny, &paramError{field: "arena", message: "expected 'main' or 'non_main'"}
}

func parseLifetimeClass(raw string) (filter.LifetimeClass, error) {
	switch raw {
	case "", "all":
		return filter.LifetimeAll, nil
	case "only_leaked":
		return filter.LifetimeOnlyLeaked, nil
	case "only_not_deallocated_in_current_range":
		return filter.LifetimeOnlyNotDeallocatedInCurrentRange, nil
	case "only_deallocated_in_current_range":
		return filter.LifetimeOnlyDeallocatedInCurrentRange, nil
	case "only_temporary":
		return filter.LifetimeOnlyTemporary, nil
	case "only_whole_group_leaked":
		return filter.LifetimeOnlyWholeGroupLeaked, nil
	}
	return filter.LifetimeAll, &paramError{field: "lifetime", message: "unrecognized lifetime class"}
}

// pagination is the (skip, count) pair every listing route accepts.
type pagination struct {
	Skip  int
	Count int
}

const defaultPageCount = 100

func parsePagination(q url.Values) (pagination, error) {
	p := pagination{Count: defaultPageCount}
	if raw := q.Get("skip"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, &paramError{field: "skip", message: "expected a non-negative integer"}
		}
		p.Skip = n
	}
	if raw := q.Get("count"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return p, &paramError{field: "count", message: "expected a non-negative integer"}
		}
		p.Count = n
	}
	return p, nil
}

func parseSortBy(q url.Values) (group.SortBy, error) {
	raw := q.Get("sort_by")
	sb, ok := group.ParseSortBy(raw)
	if !ok {
		return 0, &paramError{field: "sort_by", message: "unrecognized sort key"}
	}
	return sb, nil
}

func parseOrder(q url.Values) (group.Order, error) {
	switch q.Get("order") {
	case "", "asc":
		return group.Asc, nil
	case "desc":
		return group.Desc, nil
	}
	return group.Asc, &paramError{field: "order", message: "expected 'asc' or 'desc'"}
}
