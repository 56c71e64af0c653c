package ratelimit

import (
	"fmt"
	"time"
)

type ExceededError struct {
	ResetAt time.Time
}

func (e ExceededError) Error() string {
	return fmt.Sprintf("rate limit exceeded until %s", e.ResetAt.UTC().Format(time.RFC3339))
}

// RetryAfter is the whole number of seconds until the window resets, never
// less than one.
func (e ExceededError) RetryAfter(now time.Time) int {
	wait := e.ResetAt.Sub(now)
	seconds := int((wait + time.Second - 1) / time.Second)
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
	return fmt.Sprintf("rate limit store %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}
