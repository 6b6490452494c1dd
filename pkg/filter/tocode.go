package filter

import (
	"fmt"
	"strings"
)

// ToCode translates a wire filter into equivalent script source, the
// collaborator contract named in spec.md §6 ("Filter lowering —
// Filter.to_code(maybe base_variable)"). When baseVar is non-empty the
// generated expression is written as `baseVar.where(...)` so it can be
// inlined into a larger user script instead of emitted standalone
// (SPEC_FULL.md §C.2).
func (w Wire) ToCode(baseVar string) string {
	var clauses []string

	add := func(format string, args ...interface{}) {
		clauses = append(clauses, fmt.Sprintf(format, args...))
	}

	if w.SizeMin != nil {
		add("size >= %d", *w.SizeMin)
	}
	if w.SizeMax != nil {
		add("size <= %d", *w.SizeMax)
	}
	if w.AddressMin != nil {
		add("address >= %d", *w.AddressMin)
	}
	if w.AddressMax != nil {
		add("address <= %d", *w.AddressMax)
	}
	if w.FunctionRegex != "" {
		add("backtrace.function_regex(%q)", w.FunctionRegex)
	}
	if w.NegativeFunctionRegex != "" {
		add("!backtrace.function_regex(%q)", w.NegativeFunctionRegex)
	}
	if w.SourceRegex != "" {
		add("backtrace.source_regex(%q)", w.SourceRegex)
	}
	if w.NegativeSourceRegex != "" {
		add("!backtrace.source_regex(%q)", w.NegativeSourceRegex)
	}
	switch w.Lifetime {
	case LifetimeOnlyLeaked:
		add("leaked()")
	case LifetimeOnlyTemporary:
		add("temporary()")
	case LifetimeOnlyWholeGroupLeaked:
		add("group_leaked_allocations_at_least(100%%)")
	}
	switch w.Mmaped {
	case MmapedYes:
		add("mmaped()")
	case MmapedNo:
		add("!mmaped()")
	}
	switch w.Jemalloc {
	case JemallocYes:
		add("jemalloc()")
	case JemallocNo:
		add("!jemalloc()")
	}
	switch w.Arena {
	case ArenaMain:
		add("main_arena()")
	case ArenaNonMain:
		add("!main_arena()")
	}

	body := "allocations()"
	if baseVar != "" {
		body = baseVar
	}
	if len(clauses) == 0 {
		return body
	}
	return fmt.Sprintf("%s.where(%s)", body, strings.Join(clauses, " && "))
}
