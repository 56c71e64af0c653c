// Package audit publishes security events (lockouts, throttled requests)
// for downstream consumers.
package audit

import (
	"context"
	"time"
)

const (
	EventLoginLocked = "login_locked"
	EventRateLimited = "rate_limited"
)

type Event struct {
	Type       string         `json:"type"`
	Subject    string         `json:"subject"`
	OccurredAt time.Time      `json:"occurred_at"`
	Details    map[string]any `json:"details,omitempty"`
}

// Publisher never blocks the caller on delivery and never returns errors;
// delivery problems are the publisher's to log.
type Publisher interface {
	Publish(ctx context.Context, event Event)
}

type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
