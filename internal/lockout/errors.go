package lockout

import (
	"fmt"
	"time"
)

type LockedError struct {
	Until time.Time
}

func (e LockedError) Error() string {
	return fmt.Sprintf("account locked until %s", e.Until.UTC().Format(time.RFC3339))
}

// RetryAfterSeconds rounds the remaining lock up to whole seconds, never
// below one.
func (e LockedError) RetryAfterSeconds(now time.Time) int {
	seconds := ceilSeconds(e.Until.Sub(now))
	if seconds < 1 {
		return 1
	}
	return seconds
}

type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("lockout store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

func ceilSeconds(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int((d + time.Second - 1) / time.Second)
}
