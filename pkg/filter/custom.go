package filter

import "github.com/0xgxthxb/bytehound/pkg/capture"

// ScriptRunner is the minimal collaborator contract the filter compiler
// needs from the scripting engine (spec.md §1/§6): evaluate a user's
// script source against a capture and return the allocation ids it
// selected. The full scripting engine (output capture, images, print
// lines) lives in pkg/script; this is the narrow slice filter.Compile
// needs.
type ScriptRunner interface {
	EvalAllocationIds(data *capture.Data, source string) ([]capture.AllocationId, error)
}

// Compiled is a complete compiled filter: the structural predicate plus an
// optional custom id set produced by a user script (spec.md §3 "Compiled
// filter"). An allocation matches only if it is in CustomIDs (when present)
// AND the structural predicate accepts it.
type Compiled struct {
	Structural CompiledFilter
	CustomIDs  map[capture.AllocationId]struct{} // nil means "no custom filter"
}

// Match reports whether allocation id matches the full compiled filter.
func (c Compiled) Match(data *capture.Data, id capture.AllocationId, a *capture.Allocation) bool {
	if c.CustomIDs != nil {
		if _, ok := c.CustomIDs[id]; !ok {
			return false
		}
	}
	return c.Structural.Match(data, id, a)
}

// CompileWithCustom compiles a Wire descriptor and, if customFilterSource
// is non-empty, evaluates it through runner to produce the custom id set.
// An empty customFilterSource is treated as absent, per spec.md §4.1.
func CompileWithCustom(data *capture.Data, w Wire, customFilterSource string, runner ScriptRunner) (Compiled, error) {
	structural, err := Compile(data, w)
	if err != nil {
		return Compiled{}, err
	}

	if customFilterSource == "" {
		return Compiled{Structural: structural}, nil
	}

	ids, err := runner.EvalAllocationIds(data, customFilterSource)
	if err != nil {
		return Compiled{}, &InvalidCustomFilterError{Message: err.Error()}
	}

	set := make(map[capture.AllocationId]struct{}, len(ids))
	for _, id := range ids {
		set[id] = struct{}{}
	}
	return Compiled{Structural: structural, CustomIDs: set}, nil
}
