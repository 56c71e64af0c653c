package lockout

import (
	"context"
	"errors"
	"strings"
	"time"

	"idea-tracker/internal/audit"
	"idea-tracker/internal/observability"
)

const (
	DefaultThreshold    = 5
	DefaultLockDuration = 15 * time.Minute
	defaultStoreTimeout = 3 * time.Second
)

type Store interface {
	Get(ctx context.Context, identifier string) (*Record, error)
	RegisterFailure(ctx context.Context, identifier string, threshold int, lockUntil, now time.Time) (Record, error)
	DeleteExpired(ctx context.Context, identifier string, now time.Time) error
	Delete(ctx context.Context, identifier string) (bool, error)
}

type Status struct {
	Locked    bool
	Remaining time.Duration
	Attempts  int
}

func (s Status) RemainingSeconds() int {
	return ceilSeconds(s.Remaining)
}

// Guard tracks consecutive failed logins per identifier and locks the
// identifier once the threshold is reached. Store faults never lock anyone
// out: they are logged and the identifier is treated as unlocked.
type Guard struct {
	store        Store
	logger       *observability.Logger
	audit        audit.Publisher
	clock        func() time.Time
	threshold    int
	lockDuration time.Duration
	storeTimeout time.Duration
}

func NewGuard(store Store, logger *observability.Logger) *Guard {
	return &Guard{
		store:        store,
		logger:       logger,
		audit:        audit.Nop{},
		clock:        func() time.Time { return time.Now().UTC() },
		threshold:    DefaultThreshold,
		lockDuration: DefaultLockDuration,
		storeTimeout: defaultStoreTimeout,
	}
}

func (g *Guard) WithPolicy(threshold int, lockDuration time.Duration) *Guard {
	if threshold > 0 {
		g.threshold = threshold
	}
	if lockDuration > 0 {
		g.lockDuration = lockDuration
	}
	return g
}

func (g *Guard) WithClock(clock func() time.Time) *Guard {
	if clock != nil {
		g.clock = clock
	}
	return g
}

func (g *Guard) WithAudit(publisher audit.Publisher) *Guard {
	if publisher != nil {
		g.audit = publisher
	}
	return g
}

func (g *Guard) Now() time.Time {
	return g.clock()
}

func NormalizeIdentifier(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}

func (g *Guard) CheckLock(ctx context.Context, identifier string) Status {
	identifier = NormalizeIdentifier(identifier)
	now := g.clock()
	storeCtx, cancel := g.storeContext(ctx)
	defer cancel()

	record, err := g.store.Get(storeCtx, identifier)
	if err != nil {
		g.reportFault(identifier, &StoreError{Op: "get", Err: err})
		return Status{}
	}
	if record == nil {
		return Status{}
	}
	if record.LockedUntil == nil {
		return Status{Attempts: record.AttemptCount}
	}
	if now.Before(*record.LockedUntil) {
		return Status{Locked: true, Remaining: record.LockedUntil.Sub(now), Attempts: record.AttemptCount}
	}

	if err := g.store.DeleteExpired(storeCtx, identifier, now); err != nil {
		g.reportFault(identifier, &StoreError{Op: "delete_expired", Err: err})
	}
	return Status{}
}

// RecordFailure counts a failed attempt and reports whether it engaged the
// lock.
func (g *Guard) RecordFailure(ctx context.Context, identifier string) Status {
	identifier = NormalizeIdentifier(identifier)
	now := g.clock()
	storeCtx, cancel := g.storeContext(ctx)
	defer cancel()

	record, err := g.store.RegisterFailure(storeCtx, identifier, g.threshold, now.Add(g.lockDuration), now)
	if err != nil {
		g.reportFault(identifier, &StoreError{Op: "record_failure", Err: err})
		return Status{}
	}

	if record.LockedUntil == nil || !now.Before(*record.LockedUntil) {
		return Status{Attempts: record.AttemptCount}
	}

	status := Status{Locked: true, Remaining: record.LockedUntil.Sub(now), Attempts: record.AttemptCount}
	g.logger.Info("login_locked", map[string]any{
		"identifier":   identifier,
		"attempts":     record.AttemptCount,
		"locked_until": record.LockedUntil.Format(time.RFC3339),
	})
	g.audit.Publish(ctx, audit.Event{
		Type:       audit.EventLoginLocked,
		Subject:    identifier,
		OccurredAt: now,
		Details:    map[string]any{"attempts": record.AttemptCount, "locked_until": *record.LockedUntil},
	})
	return status
}

func (g *Guard) ClearOnSuccess(ctx context.Context, identifier string) {
	identifier = NormalizeIdentifier(identifier)
	storeCtx, cancel := g.storeContext(ctx)
	defer cancel()

	if _, err := g.store.Delete(storeCtx, identifier); err != nil {
		g.reportFault(identifier, &StoreError{Op: "clear", Err: err})
	}
}

func (g *Guard) storeContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), g.storeTimeout)
}

func (g *Guard) reportFault(identifier string, err error) {
	op := "unknown"
	var storeErr *StoreError
	if errors.As(err, &storeErr) {
		op = storeErr.Op
	}

	g.logger.Error("login_guard_store_fault", map[string]any{
		"identifier": identifier,
		"op":         op,
		"error":      err.Error(),
	})
	observability.CaptureError(err, map[string]string{"component": "lockout", "op": op})
}
