package enrollment

import "time"

// Metrics observes enrollment waits. Pass nil to disable.
type Metrics interface {
	// ObserveWait records a finished wait. outcome is success, timeout or error.
	ObserveWait(check, outcome string, duration time.Duration)

	// RecordPoll records one poll round of check.
	RecordPoll(check string)
}
