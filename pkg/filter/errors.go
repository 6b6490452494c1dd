package filter

import "fmt"

// InvalidRegexError reports a regex field that failed to compile, matching
// the "invalid '{field}': {message}" wire shape from spec.md §7.
type InvalidRegexError struct {
	Field   string
	Message string
}

func (e *InvalidRegexError) Error() string {
	return fmt.Sprintf("invalid '%s': %s", e.Field, e.Message)
}

// InvalidCustomFilterError reports a custom-filter script evaluation
// failure, matching spec.md §7's "failed to evaluate custom filter: {message}".
type InvalidCustomFilterError struct {
	Message string
}

func (e *InvalidCustomFilterError) Error() string {
	return fmt.Sprintf("failed to evaluate custom filter: %s", e.Message)
}
