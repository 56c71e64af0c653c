package maintenance

import (
	"context"
	"time"
)

const (
	DefaultRefreshRetention = 14 * 24 * time.Hour
	DefaultAttemptRetention = 30 * 24 * time.Hour
	DefaultBatchSize        = 500
)

type TokenPruner interface {
	DeleteStaleRefreshTokens(ctx context.Context, cutoff, now time.Time, batchSize int) (int64, error)
}

type AttemptPruner interface {
	DeleteStale(ctx context.Context, cutoff, now time.Time, batchSize int) (int64, error)
}

type CounterSweeper interface {
	SweepExpired(ctx context.Context, now time.Time) (int64, error)
}

type Options struct {
	RefreshRetention time.Duration
	AttemptRetention time.Duration
	BatchSize        int
}

type Result struct {
	DeletedRefreshTokens  int64 `json:"deleted_refresh_tokens"`
	DeletedFailedAttempts int64 `json:"deleted_failed_attempts"`
	DeletedRateLimits     int64 `json:"deleted_rate_limits"`
}

type Cleaner struct {
	tokens   TokenPruner
	attempts AttemptPruner
	counters CounterSweeper
	opts     Options
	now      func() time.Time
}

// NewCleaner wires the prunable stores. counters may be nil when counters
// expire on their own, as they do in Redis.
func NewCleaner(tokens TokenPruner, attempts AttemptPruner, counters CounterSweeper, opts Options) *Cleaner {
	if opts.RefreshRetention <= 0 {
		opts.RefreshRetention = DefaultRefreshRetention
	}
	if opts.AttemptRetention <= 0 {
		opts.AttemptRetention = DefaultAttemptRetention
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Cleaner{
		tokens:   tokens,
		attempts: attempts,
		counters: counters,
		opts:     opts,
		now:      time.Now,
	}
}

func (c *Cleaner) Run(ctx context.Context) (Result, error) {
	var (
		result Result
		err    error
		now    = c.now().UTC()
	)

	result.DeletedRefreshTokens, err = c.tokens.DeleteStaleRefreshTokens(ctx, now.Add(-c.opts.RefreshRetention), now, c.opts.BatchSize)
	if err != nil {
		return result, err
	}

	result.DeletedFailedAttempts, err = c.attempts.DeleteStale(ctx, now.Add(-c.opts.AttemptRetention), now, c.opts.BatchSize)
	if err != nil {
		return result, err
	}

	if c.counters != nil {
		result.DeletedRateLimits, err = c.counters.SweepExpired(ctx, now)
		if err != nil {
			return result, err
		}
	}
	return result, nil
}
