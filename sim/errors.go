package sim

import (
	"fmt"
	"time"
)

// RunError aborts a run. Index is the 0-based bar index and Time the bar's
// timestamp at which the run stopped.
type RunError struct {
	Index int
	Time  time.Time
	Err   error
}

func (e *RunError) Error() string {
	if e.Time.IsZero() {
		return fmt.Sprintf("bar %d: %v", e.Index, e.Err)
	}
	return fmt.Sprintf("bar %d (%s): %v", e.Index, e.Time.Format(time.RFC3339), e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }
