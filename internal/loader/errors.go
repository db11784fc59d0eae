package loader

import (
	"errors"
	"fmt"
)

// ErrErrorBudgetExceeded is wrapped by the FatalError returned when a run
// records more failures than its error budget allows.
var ErrErrorBudgetExceeded = errors.New("error budget exceeded")

type FatalReason string

const (
	ReasonStoreUnreachable FatalReason = "store unreachable"
	ReasonErrorBudget      FatalReason = "error budget exceeded"
	ReasonRunDeadline      FatalReason = "run deadline exceeded"
	ReasonCanceled         FatalReason = "canceled"
	ReasonInputFailed      FatalReason = "input unreadable"
)

// FatalError aborts a run. The summary returned alongside it covers the
// records processed before the abort.
type FatalError struct {
	Reason FatalReason
	Err    error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal: " + string(e.Reason)
	}
	return fmt.Sprintf("fatal: %s: %v", e.Reason, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}
