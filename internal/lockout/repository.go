package lockout

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"idea-tracker/internal/db"
)

type Record struct {
	Identifier   string     `json:"identifier"`
	AttemptCount int        `json:"attempt_count"`
	LockedUntil  *time.Time `json:"locked_until,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

type Repository struct {
	db *db.Conn
}

func NewRepository(database *db.Conn) *Repository {
	return &Repository{db: database}
}

func (r *Repository) Get(ctx context.Context, identifier string) (*Record, error) {
	var (
		record      = Record{Identifier: identifier}
		lockedUntil sql.NullInt64
		updatedAt   int64
	)
	err := r.db.QueryRowContext(ctx, `
		SELECT attempt_count, locked_until, updated_at
		FROM failed_attempts
		WHERE identifier = $1
	`, identifier).Scan(&record.AttemptCount, &lockedUntil, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query failed attempts: %w", err)
	}

	record.LockedUntil = fromNullMillis(lockedUntil)
	record.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return &record, nil
}

// RegisterFailure counts one failure in a single statement. A record whose
// lock already expired starts over at one; reaching threshold sets
// locked_until to lockUntil.
func (r *Repository) RegisterFailure(ctx context.Context, identifier string, threshold int, lockUntil, now time.Time) (Record, error) {
	var (
		record      = Record{Identifier: identifier, UpdatedAt: now.UTC()}
		lockedUntil sql.NullInt64
	)
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO failed_attempts (identifier, attempt_count, locked_until, updated_at)
		VALUES ($1, 1, CASE WHEN $2 <= 1 THEN CAST($3 AS BIGINT) END, $4)
		ON CONFLICT (identifier) DO UPDATE SET
			attempt_count = CASE
				WHEN failed_attempts.locked_until IS NOT NULL AND failed_attempts.locked_until <= $4 THEN 1
				ELSE failed_attempts.attempt_count + 1
			END,
			locked_until = CASE
				WHEN failed_attempts.locked_until IS NOT NULL AND failed_attempts.locked_until <= $4
					THEN CASE WHEN $2 <= 1 THEN CAST($3 AS BIGINT) END
				WHEN failed_attempts.attempt_count + 1 >= $2 THEN CAST($3 AS BIGINT)
				ELSE failed_attempts.locked_until
			END,
			updated_at = $4
		RETURNING attempt_count, locked_until
	`, identifier, threshold, lockUntil.UnixMilli(), now.UnixMilli()).Scan(&record.AttemptCount, &lockedUntil)
	if err != nil {
		return Record{}, fmt.Errorf("register failed attempt: %w", err)
	}

	record.LockedUntil = fromNullMillis(lockedUntil)
	return record, nil
}

// DeleteExpired removes the record only if its lock has passed, so a lock
// engaged concurrently is left alone.
func (r *Repository) DeleteExpired(ctx context.Context, identifier string, now time.Time) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM failed_attempts
		WHERE identifier = $1 AND locked_until IS NOT NULL AND locked_until <= $2
	`, identifier, now.UnixMilli())
	if err != nil {
		return fmt.Errorf("delete expired lock: %w", err)
	}
	return nil
}

func (r *Repository) Delete(ctx context.Context, identifier string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM failed_attempts WHERE identifier = $1`, identifier)
	if err != nil {
		return false, fmt.Errorf("delete failed attempts: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed attempts rows affected: %w", err)
	}
	return affected > 0, nil
}

// List returns records, currently locked ones first.
func (r *Repository) List(ctx context.Context, now time.Time, lockedOnly bool, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT identifier, attempt_count, locked_until, updated_at
		FROM failed_attempts
		WHERE ($2 = 0 OR (locked_until IS NOT NULL AND locked_until > $1))
		ORDER BY CASE WHEN locked_until IS NOT NULL AND locked_until > $1 THEN 0 ELSE 1 END, updated_at DESC
		LIMIT $3
	`
	onlyLocked := 0
	if lockedOnly {
		onlyLocked = 1
	}

	rows, err := r.db.QueryContext(ctx, query, now.UnixMilli(), onlyLocked, limit)
	if err != nil {
		return nil, fmt.Errorf("list failed attempts: %w", err)
	}
	defer rows.Close()

	records := make([]Record, 0)
	for rows.Next() {
		var (
			record      Record
			lockedUntil sql.NullInt64
			updatedAt   int64
		)
		if err := rows.Scan(&record.Identifier, &record.AttemptCount, &lockedUntil, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan failed attempts: %w", err)
		}
		record.LockedUntil = fromNullMillis(lockedUntil)
		record.UpdatedAt = time.UnixMilli(updatedAt).UTC()
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate failed attempts: %w", err)
	}
	return records, nil
}

// DeleteStale removes up to batchSize records untouched since cutoff that
// are not currently locked.
func (r *Repository) DeleteStale(ctx context.Context, cutoff, now time.Time, batchSize int) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM failed_attempts
		WHERE identifier IN (
			SELECT identifier
			FROM failed_attempts
			WHERE updated_at < $1
			  AND (locked_until IS NULL OR locked_until <= $2)
			ORDER BY updated_at ASC
			LIMIT $3
		)
	`, cutoff.UnixMilli(), now.UnixMilli(), batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete stale failed attempts: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("stale failed attempts rows affected: %w", err)
	}
	return affected, nil
}

func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := time.UnixMilli(value.Int64).UTC()
	return &t
}
