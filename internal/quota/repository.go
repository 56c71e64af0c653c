package quota

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"idea-tracker/internal/db"
)

type Usage struct {
	TotalSize int64 `json:"total_size"`
	FileCount int64 `json:"file_count"`
}

type Repository struct {
	db *db.Conn
}

func NewRepository(database *db.Conn) *Repository {
	return &Repository{db: database}
}

// Get returns nil when the user has no usage row yet.
func (r *Repository) Get(ctx context.Context, userID string) (*Usage, error) {
	var usage Usage
	err := r.db.QueryRowContext(ctx, `
		SELECT total_size, file_count
		FROM user_storage
		WHERE user_id = $1
	`, userID).Scan(&usage.TotalSize, &usage.FileCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query user storage: %w", err)
	}
	return &usage, nil
}

// Seed creates the usage row from the user's stored file attachments. An
// existing row is left untouched and returned.
// Seed creates the usage row from the user's current file attachments. The
// bool reports whether this call inserted it; an existing row is left as is.
func (r *Repository) Seed(ctx context.Context, userID string, now time.Time) (Usage, bool, error) {
	result, err := r.db.ExecContext(ctx, `
		INSERT INTO user_storage (user_id, total_size, file_count, updated_at)
		SELECT $1, COALESCE(SUM(a.size), 0), COUNT(a.id), $2
		FROM attachments a
		JOIN ideas i ON i.id = a.idea_id
		WHERE i.user_id = $1 AND a.type = 'file'
		ON CONFLICT (user_id) DO NOTHING
	`, userID, now.UnixMilli())
	if err != nil {
		return Usage{}, false, fmt.Errorf("seed user storage: %w", err)
	}
	inserted, err := result.RowsAffected()
	if err != nil {
		return Usage{}, false, fmt.Errorf("seed user storage rows affected: %w", err)
	}

	usage, err := r.Get(ctx, userID)
	if err != nil {
		return Usage{}, false, err
	}
	if usage == nil {
		return Usage{}, false, fmt.Errorf("seed user storage: row missing after insert")
	}
	return *usage, inserted > 0, nil
}

// Adjust applies deltas in one upsert, clamping both totals at zero.
func (r *Repository) Adjust(ctx context.Context, userID string, sizeDelta, countDelta int64, now time.Time) (Usage, error) {
	var usage Usage
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO user_storage (user_id, total_size, file_count, updated_at)
		VALUES (
			$1,
			CASE WHEN CAST($2 AS BIGINT) > 0 THEN CAST($2 AS BIGINT) ELSE 0 END,
			CASE WHEN CAST($3 AS BIGINT) > 0 THEN CAST($3 AS BIGINT) ELSE 0 END,
			$4
		)
		ON CONFLICT (user_id) DO UPDATE SET
			total_size = CASE
				WHEN user_storage.total_size + CAST($2 AS BIGINT) > 0 THEN user_storage.total_size + CAST($2 AS BIGINT)
				ELSE 0
			END,
			file_count = CASE
				WHEN user_storage.file_count + CAST($3 AS BIGINT) > 0 THEN user_storage.file_count + CAST($3 AS BIGINT)
				ELSE 0
			END,
			updated_at = $4
		RETURNING total_size, file_count
	`, userID, sizeDelta, countDelta, now.UnixMilli()).Scan(&usage.TotalSize, &usage.FileCount)
	if err != nil {
		return Usage{}, fmt.Errorf("adjust user storage: %w", err)
	}
	return usage, nil
}
