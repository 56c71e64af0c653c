package attachment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"idea-tracker/internal/db"
)

type Repository struct {
	db *db.Conn
}

func NewRepository(database *db.Conn) *Repository {
	return &Repository{db: database}
}

const attachmentColumns = `a.id, a.idea_id, a.file_name, a.file_url, a.blob_key, a.size, a.type, a.created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanAttachment(row scanner, extra ...any) (Attachment, error) {
	var (
		a         Attachment
		blobKey   sql.NullString
		createdAt int64
	)
	dest := append([]any{&a.ID, &a.IdeaID, &a.FileName, &a.FileURL, &blobKey, &a.Size, &a.Type, &createdAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Attachment{}, err
	}
	a.BlobKey = blobKey.String
	a.CreatedAt = time.UnixMilli(createdAt).UTC()
	return a, nil
}

func (r *Repository) Create(ctx context.Context, a Attachment, now time.Time) (Attachment, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Attachment{}, fmt.Errorf("generate uuid v7: %w", err)
	}
	a.ID = id.String()
	a.CreatedAt = time.UnixMilli(now.UnixMilli()).UTC()

	var blobKey sql.NullString
	if a.BlobKey != "" {
		blobKey = sql.NullString{String: a.BlobKey, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO attachments (id, idea_id, file_name, file_url, blob_key, size, type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.IdeaID, a.FileName, a.FileURL, blobKey, a.Size, a.Type, a.CreatedAt.UnixMilli())
	if err != nil {
		return Attachment{}, fmt.Errorf("insert attachment: %w", err)
	}
	return a, nil
}

// GetWithOwner returns the attachment and the id of the user owning its idea.
func (r *Repository) GetWithOwner(ctx context.Context, id string) (Attachment, string, error) {
	var ownerID string
	row := r.db.QueryRowContext(ctx, `
		SELECT `+attachmentColumns+`, i.user_id
		FROM attachments a
		JOIN ideas i ON i.id = a.idea_id
		WHERE a.id = $1
	`, id)
	a, err := scanAttachment(row, &ownerID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Attachment{}, "", ErrNotFound
		}
		return Attachment{}, "", fmt.Errorf("query attachment: %w", err)
	}
	return a, ownerID, nil
}

// BlobOwnedBy reports whether key belongs to a file attachment on one of
// userID's ideas.
func (r *Repository) BlobOwnedBy(ctx context.Context, key, userID string) (bool, error) {
	var found int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1
		FROM attachments a
		JOIN ideas i ON i.id = a.idea_id
		WHERE a.blob_key = $1 AND i.user_id = $2
		LIMIT 1
	`, key, userID).Scan(&found)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("query blob owner: %w", err)
	}
	return true, nil
}

func (r *Repository) ListByIdea(ctx context.Context, ideaID string) ([]Attachment, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+attachmentColumns+`
		FROM attachments a
		WHERE a.idea_id = $1
		ORDER BY a.created_at DESC, a.id DESC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("query attachments: %w", err)
	}
	defer rows.Close()

	attachments := make([]Attachment, 0)
	for rows.Next() {
		a, err := scanAttachment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan attachment: %w", err)
		}
		attachments = append(attachments, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate attachments: %w", err)
	}
	return attachments, nil
}

func (r *Repository) CountByIdea(ctx context.Context, ideaID, kind string) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM attachments WHERE idea_id = $1 AND type = $2
	`, ideaID, kind).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count attachments: %w", err)
	}
	return count, nil
}

func (r *Repository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete attachment: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *Repository) DeleteByIdea(ctx context.Context, ideaID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM attachments WHERE idea_id = $1`, ideaID); err != nil {
		return fmt.Errorf("delete idea attachments: %w", err)
	}
	return nil
}

func (r *Repository) IdeaOwnedBy(ctx context.Context, ideaID, userID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx, `
		SELECT 1 FROM ideas WHERE id = $1 AND user_id = $2
	`, ideaID, userID).Scan(&one)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("query idea owner: %w", err)
	}
	return true, nil
}
