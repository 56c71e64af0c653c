package ratelimit

import (
	"context"
	"errors"
	"time"
)

var (
	ErrCounterExists  = errors.New("live counter already exists")
	ErrCounterMissing = errors.New("no live counter for key")
	ErrCounterFull    = errors.New("counter reached its limit")
)

type Counter struct {
	Key         string    `json:"key"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// CounterStore persists one fixed-window counter per key. Rows whose
// expires_at is not after now are treated as absent by every method.
type CounterStore interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
	GetLive(ctx context.Context, key string, now time.Time) (*Counter, error)
	// Increment returns ErrCounterMissing when no live row exists and
	// ErrCounterFull, together with the current counter, when count >= max.
	Increment(ctx context.Context, key string, max int, now time.Time) (Counter, error)
	// Create returns ErrCounterExists when a live row already holds the key.
	Create(ctx context.Context, key string, windowStart, expiresAt time.Time) (Counter, error)
}
