package trips

import "fmt"

// ValidationError reports a record that fails structural preconditions.
// It is never retried.
type ValidationError struct {
	Row      int
	TripUUID string
	Field    string
	Reason   string
}

func (e *ValidationError) Error() string {
	if e.Row > 0 {
		return fmt.Sprintf("row %d: invalid %s: %s", e.Row, e.Field, e.Reason)
	}
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}
