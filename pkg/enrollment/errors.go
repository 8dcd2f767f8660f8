package enrollment

import (
	"fmt"
	"strings"
	"time"
)

// TimeoutError is returned when a wait gives up before the expected state
// was observed.
type TimeoutError struct {
	Check   string
	Pending []string
	Waited  time.Duration
	Err     error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s: still pending after %s: %s",
		e.Check, e.Waited.Round(time.Second), strings.Join(e.Pending, ", "))
}

func (e *TimeoutError) Unwrap() error {
	return e.Err
}
