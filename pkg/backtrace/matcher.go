// Package backtrace evaluates a BacktraceFilter against frame sequences,
// memoizing per-frame regex decisions across a whole request the way
// spec.md §4.2 requires: frames are heavily reused across backtraces, so
// caching the positive/negative decision per FrameId is the dominant
// optimization.
package backtrace

import (
	"math"

	"github.com/coregx/coregex"

	"github.com/0xgxthxb/bytehound/pkg/capture"
	"github.com/0xgxthxb/bytehound/pkg/filter"
)

// Filter is a compiled BacktraceWire descriptor: a depth range plus the
// four optional regexes, each eagerly compiled.
type Filter struct {
	DepthMin              uint32
	DepthMax              uint32
	FunctionRegex         *coregex.Regex
	SourceRegex           *coregex.Regex
	NegativeFunctionRegex *coregex.Regex
	NegativeSourceRegex   *coregex.Regex
}

func compileRegex(field, pattern string) (*coregex.Regex, error) {
	if pattern == "" {
		return nil, nil
	}
	re, err := coregex.Compile(pattern)
	if err != nil {
		return nil, &filter.InvalidRegexError{Field: field, Message: err.Error()}
	}
	return re, nil
}

// Compile eagerly compiles a BacktraceWire's regex fields. A zero
// DepthMax in the wire descriptor means "unbounded".
func Compile(w filter.BacktraceWire) (Filter, error) {
	f := Filter{DepthMin: w.DepthMin, DepthMax: w.DepthMax}
	if f.DepthMax == 0 {
		f.DepthMax = math.MaxUint32
	}

	var err error
	if f.FunctionRegex, err = compileRegex("function_regex", w.FunctionRegex); err != nil {
		return Filter{}, err
	}
	if f.SourceRegex, err = compileRegex("source_regex", w.SourceRegex); err != nil {
		return Filter{}, err
	}
	if f.NegativeFunctionRegex, err = compileRegex("negative_function_regex", w.NegativeFunctionRegex); err != nil {
		return Filter{}, err
	}
	if f.NegativeSourceRegex, err = compileRegex("negative_source_regex", w.NegativeSourceRegex); err != nil {
		return Filter{}, err
	}
	return f, nil
}

// Memo holds the two per-request caches described in spec.md §4.2. It must
// not outlive a single request: the decisions it caches are a function of
// (frame, filter), and a fresh Memo is created per compiled Filter.
type Memo struct {
	positive map[capture.FrameId]bool
	negative map[capture.FrameId]bool
	// EvalCount counts regex evaluations actually performed (not served
	// from cache), for spec.md §8 property 10 ("number of regex
	// evaluations per request <= unique frame count in the scanned set").
	EvalCount int
}

// NewMemo returns an empty per-request memoization cache.
func NewMemo() *Memo {
	return &Memo{
		positive: make(map[capture.FrameId]bool),
		negative: make(map[capture.FrameId]bool),
	}
}

// Match evaluates f against a backtrace's frame sequence, consulting and
// populating memo. Ported from the original implementation's
// match_backtrace (original_source/server-core/src/filter.rs).
func (f Filter) Match(data *capture.Data, memo *Memo, frames []capture.FrameId) bool {
	depth := uint32(len(frames))
	if depth < f.DepthMin || depth > f.DepthMax {
		return false
	}

	positiveMatched := f.FunctionRegex == nil && f.SourceRegex == nil
	negativeMatched := false
	checkNegative := f.NegativeFunctionRegex != nil || f.NegativeSourceRegex != nil

	for _, frameID := range frames {
		checkPositive := false
		if !positiveMatched {
			if cached, ok := memo.positive[frameID]; ok {
				positiveMatched = cached
			} else {
				checkPositive = true
			}
		}

		if positiveMatched && !checkNegative {
			break
		}

		frame := data.Backtraces().Frame(frameID)

		var function, source string
		var haveFunction, haveSource bool
		needFunction := (checkPositive && f.FunctionRegex != nil) || f.NegativeFunctionRegex != nil
		needSource := (checkPositive && f.SourceRegex != nil) || f.NegativeSourceRegex != nil
		if needFunction {
			if fid, ok := frame.FunctionID(); ok {
				function, haveFunction = data.Interner().Resolve(fid)
			}
		}
		if needSource {
			if sid, ok := frame.SourceID(); ok {
				source, haveSource = data.Interner().Resolve(sid)
			}
		}

		if checkPositive {
			matchedFunction := true
			if f.FunctionRegex != nil {
				matchedFunction = haveFunction && matchCounted(memo, f.FunctionRegex, function)
			}
			matchedSource := true
			if f.SourceRegex != nil {
				matchedSource = haveSource && matchCounted(memo, f.SourceRegex, source)
			}
			positiveMatched = matchedFunction && matchedSource
			memo.positive[frameID] = positiveMatched
		}

		if checkNegative {
			if cached, ok := memo.negative[frameID]; ok {
				if cached {
					negativeMatched = true
					break
				}
				continue
			}

			hit := false
			if f.NegativeFunctionRegex != nil && haveFunction && matchCounted(memo, f.NegativeFunctionRegex, function) {
				hit = true
			}
			if !hit && f.NegativeSourceRegex != nil && haveSource && matchCounted(memo, f.NegativeSourceRegex, source) {
				hit = true
			}
			memo.negative[frameID] = hit
			if hit {
				negativeMatched = true
				break
			}
		}
	}

	return positiveMatched && !negativeMatched
}

func matchCounted(memo *Memo, re *coregex.Regex, s string) bool {
	memo.EvalCount++
	return re.MatchString(s)
}
