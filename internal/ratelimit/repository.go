package ratelimit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"idea-tracker/internal/db"
)

type Repository struct {
	db *db.Conn
}

func NewRepository(database *db.Conn) *Repository {
	return &Repository{db: database}
}

func (r *Repository) SweepExpired(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE expires_at <= $1`, now.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("sweep rate limits: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count swept rate limits: %w", err)
	}
	return deleted, nil
}

func (r *Repository) GetLive(ctx context.Context, key string, now time.Time) (*Counter, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT count, window_start, expires_at
		FROM rate_limits
		WHERE key = $1 AND expires_at > $2
	`, key, now.UnixMilli())

	counter, err := scanCounter(row, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get rate limit: %w", err)
	}
	return &counter, nil
}

func (r *Repository) Increment(ctx context.Context, key string, max int, now time.Time) (Counter, error) {
	row := r.db.QueryRowContext(ctx, `
		UPDATE rate_limits
		SET count = count + 1
		WHERE key = $1 AND expires_at > $2 AND count < $3
		RETURNING count, window_start, expires_at
	`, key, now.UnixMilli(), max)

	counter, err := scanCounter(row, key)
	if err == nil {
		return counter, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return Counter{}, fmt.Errorf("increment rate limit: %w", err)
	}

	current, err := r.GetLive(ctx, key, now)
	if err != nil {
		return Counter{}, err
	}
	if current == nil {
		return Counter{}, ErrCounterMissing
	}
	return *current, ErrCounterFull
}

func (r *Repository) Create(ctx context.Context, key string, windowStart, expiresAt time.Time) (Counter, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO rate_limits (key, count, window_start, expires_at)
		VALUES ($1, 1, $2, $3)
		ON CONFLICT (key) DO UPDATE SET
			count = 1,
			window_start = excluded.window_start,
			expires_at = excluded.expires_at
		WHERE rate_limits.expires_at <= $2
		RETURNING count, window_start, expires_at
	`, key, windowStart.UnixMilli(), expiresAt.UnixMilli())

	counter, err := scanCounter(row, key)
	if errors.Is(err, sql.ErrNoRows) {
		return Counter{}, ErrCounterExists
	}
	if err != nil {
		return Counter{}, fmt.Errorf("create rate limit: %w", err)
	}
	return counter, nil
}

// List returns live counters whose key starts with prefix, newest window
// first. An empty prefix lists everything.
func (r *Repository) List(ctx context.Context, prefix string, now time.Time, limit int) ([]Counter, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT key, count, window_start, expires_at
		FROM rate_limits
		WHERE key LIKE $1 ESCAPE '\' AND expires_at > $2
		ORDER BY window_start DESC, key
		LIMIT $3
	`, likePrefix(prefix), now.UnixMilli(), limit)
	if err != nil {
		return nil, fmt.Errorf("list rate limits: %w", err)
	}
	defer rows.Close()

	counters := make([]Counter, 0)
	for rows.Next() {
		var (
			counter     Counter
			windowStart int64
			expiresAt   int64
		)
		if err := rows.Scan(&counter.Key, &counter.Count, &windowStart, &expiresAt); err != nil {
			return nil, fmt.Errorf("scan rate limit: %w", err)
		}
		counter.WindowStart = time.UnixMilli(windowStart).UTC()
		counter.ExpiresAt = time.UnixMilli(expiresAt).UTC()
		counters = append(counters, counter)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rate limits: %w", err)
	}
	return counters, nil
}

// Reset deletes the counter for key, or every counter under the prefix when
// key ends with '*'.
func (r *Repository) Reset(ctx context.Context, key string) (int64, error) {
	var (
		result sql.Result
		err    error
	)
	if prefix, ok := strings.CutSuffix(key, "*"); ok {
		result, err = r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE key LIKE $1 ESCAPE '\'`, likePrefix(prefix))
	} else {
		result, err = r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE key = $1`, key)
	}
	if err != nil {
		return 0, fmt.Errorf("reset rate limit: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("count reset rate limits: %w", err)
	}
	return deleted, nil
}

func scanCounter(row *sql.Row, key string) (Counter, error) {
	var (
		counter     = Counter{Key: key}
		windowStart int64
		expiresAt   int64
	)
	if err := row.Scan(&counter.Count, &windowStart, &expiresAt); err != nil {
		return Counter{}, err
	}
	counter.WindowStart = time.UnixMilli(windowStart).UTC()
	counter.ExpiresAt = time.UnixMilli(expiresAt).UTC()
	return counter, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func likePrefix(prefix string) string {
	return likeEscaper.Replace(prefix) + "%"
}
