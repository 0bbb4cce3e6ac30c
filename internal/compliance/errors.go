package compliance

import "fmt"

// ValidationError reports malformed input to an aggregation function. It is
// never retried.
type ValidationError struct {
	Field  string
	Value  any
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s %v: %s", e.Field, e.Value, e.Reason)
}
