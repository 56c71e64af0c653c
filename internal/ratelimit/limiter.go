package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"idea-tracker/internal/audit"
	"idea-tracker/internal/observability"
)

const (
	defaultStoreTimeout = 3 * time.Second
	maxConsumeAttempts  = 3
)

type Decision struct {
	Allowed   bool      `json:"allowed"`
	Limit     int       `json:"limit"`
	Remaining int       `json:"remaining"`
	ResetAt   time.Time `json:"reset_at"`
}

// Err is nil for allowed decisions and an ExceededError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return ExceededError{ResetAt: d.ResetAt}
}

type Limiter struct {
	store        CounterStore
	logger       *observability.Logger
	audit        audit.Publisher
	clock        func() time.Time
	storeTimeout time.Duration
}

func NewLimiter(store CounterStore, logger *observability.Logger) *Limiter {
	return &Limiter{
		store:        store,
		logger:       logger,
		audit:        audit.Nop{},
		clock:        func() time.Time { return time.Now().UTC() },
		storeTimeout: defaultStoreTimeout,
	}
}

func (l *Limiter) WithClock(clock func() time.Time) *Limiter {
	if clock != nil {
		l.clock = clock
	}
	return l
}

func (l *Limiter) WithAudit(publisher audit.Publisher) *Limiter {
	if publisher != nil {
		l.audit = publisher
	}
	return l
}

func (l *Limiter) WithStoreTimeout(timeout time.Duration) *Limiter {
	if timeout > 0 {
		l.storeTimeout = timeout
	}
	return l
}

// CheckAndConsume counts one action against key in a fixed window of the
// given length. Store faults never deny: the action is allowed and the fault
// is logged.
func (l *Limiter) CheckAndConsume(ctx context.Context, key string, max int, window time.Duration) Decision {
	now := l.clock()
	if max <= 0 || window <= 0 {
		l.reportFault(key, &StoreError{Op: "validate", Err: fmt.Errorf("invalid limit %d per %s", max, window)})
		return failOpen(max, window, now)
	}

	// A client hanging up must not undo an action that was already counted.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.storeTimeout)
	defer cancel()

	if _, err := l.store.SweepExpired(storeCtx, now); err != nil {
		l.reportFault(key, &StoreError{Op: "sweep", Err: err})
	}

	for attempt := 0; attempt < maxConsumeAttempts; attempt++ {
		decision, retry, err := l.consume(storeCtx, key, max, window, now)
		if err != nil {
			l.reportFault(key, err)
			return failOpen(max, window, now)
		}
		if retry {
			continue
		}
		if !decision.Allowed {
			l.audit.Publish(ctx, audit.Event{
				Type:       audit.EventRateLimited,
				Subject:    key,
				OccurredAt: now,
				Details:    map[string]any{"limit": max, "reset_at": decision.ResetAt},
			})
		}
		return decision
	}

	l.reportFault(key, &StoreError{Op: "consume", Err: errors.New("counter kept disappearing between read and increment")})
	return failOpen(max, window, now)
}

func (l *Limiter) consume(ctx context.Context, key string, max int, window time.Duration, now time.Time) (Decision, bool, error) {
	current, err := l.store.GetLive(ctx, key, now)
	if err != nil {
		return Decision{}, false, &StoreError{Op: "get", Err: err}
	}

	if current == nil {
		created, err := l.store.Create(ctx, key, now, now.Add(window))
		switch {
		case err == nil:
			return allowed(max, created), false, nil
		case errors.Is(err, ErrCounterExists):
			// lost the race to another creator; count against its window
		default:
			return Decision{}, false, &StoreError{Op: "create", Err: err}
		}
	} else if current.Count >= max {
		return denied(max, *current), false, nil
	}

	updated, err := l.store.Increment(ctx, key, max, now)
	switch {
	case err == nil:
		return allowed(max, updated), false, nil
	case errors.Is(err, ErrCounterFull):
		return denied(max, updated), false, nil
	case errors.Is(err, ErrCounterMissing):
		return Decision{}, true, nil
	default:
		return Decision{}, false, &StoreError{Op: "increment", Err: err}
	}
}

func (l *Limiter) reportFault(key string, err error) {
	op := "unknown"
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		op = storeErr.Op
	}

	l.logger.Error("rate_limit_store_fault", map[string]any{
		"key":   key,
		"op":    op,
		"error": err.Error(),
	})
	observability.CaptureError(err, map[string]string{"component": "ratelimit", "op": op})
}

func allowed(max int, counter Counter) Decision {
	remaining := max - counter.Count
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: true, Limit: max, Remaining: remaining, ResetAt: counter.ExpiresAt}
}

func denied(max int, counter Counter) Decision {
	return Decision{Allowed: false, Limit: max, Remaining: 0, ResetAt: counter.ExpiresAt}
}

func failOpen(max int, window time.Duration, now time.Time) Decision {
	return Decision{Allowed: true, Limit: max, Remaining: max, ResetAt: now.Add(window)}
}
