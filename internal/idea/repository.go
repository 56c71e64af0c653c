package idea

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
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

const ideaColumns = `i.id, i.user_id, i.title, i.description, i.tags, i.status, i.created_at, i.updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanIdea(row scanner, extra ...any) (Idea, error) {
	var (
		idea                 Idea
		description, tags    sql.NullString
		createdAt, updatedAt int64
	)
	dest := append([]any{&idea.ID, &idea.UserID, &idea.Title, &description, &tags, &idea.Status, &createdAt, &updatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return Idea{}, err
	}
	idea.Description = fromNullString(description)
	idea.Tags = fromNullString(tags)
	idea.CreatedAt = time.UnixMilli(createdAt).UTC()
	idea.UpdatedAt = time.UnixMilli(updatedAt).UTC()
	return idea, nil
}

// List returns one page of the user's ideas, most recently updated first.
func (r *Repository) List(ctx context.Context, userID string, filter Filter) (Page, error) {
	where, args := filterClause(userID, filter)

	var total int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM ideas i WHERE `+where, args...).Scan(&total); err != nil {
		return Page{}, fmt.Errorf("count ideas: %w", err)
	}

	totalPages := (total + PageSize - 1) / PageSize
	page := int64(filter.Page)
	if page < 1 {
		page = 1
	}
	// Anything past the first empty page reads the same rows, and capping
	// keeps the offset from overflowing.
	if page > totalPages+1 {
		page = totalPages + 1
	}
	limitArg := len(args) + 1
	query := `
		SELECT ` + ideaColumns + `,
			(SELECT COUNT(*) FROM attachments a WHERE a.idea_id = i.id)
		FROM ideas i
		WHERE ` + where + `
		ORDER BY i.updated_at DESC, i.id DESC
		LIMIT $` + strconv.Itoa(limitArg) + ` OFFSET $` + strconv.Itoa(limitArg+1)
	args = append(args, PageSize, (page-1)*PageSize)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return Page{}, fmt.Errorf("query ideas: %w", err)
	}
	defer rows.Close()

	items := make([]ListItem, 0, PageSize)
	for rows.Next() {
		var item ListItem
		idea, err := scanIdea(rows, &item.AttachmentCount)
		if err != nil {
			return Page{}, fmt.Errorf("scan idea: %w", err)
		}
		item.Idea = idea
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return Page{}, fmt.Errorf("iterate ideas: %w", err)
	}

	return Page{
		Ideas: items,
		Pagination: Pagination{
			Page:       int(page),
			Limit:      PageSize,
			Total:      total,
			TotalPages: totalPages,
		},
	}, nil
}

func filterClause(userID string, filter Filter) (string, []any) {
	clauses := []string{"i.user_id = $1"}
	args := []any{userID}
	next := func(value any) string {
		args = append(args, value)
		return "$" + strconv.Itoa(len(args))
	}

	if search := strings.TrimSpace(filter.Search); search != "" {
		p := next(likeContains(search))
		clauses = append(clauses, "(LOWER(i.title) LIKE "+p+` ESCAPE '\' OR LOWER(COALESCE(i.description, '')) LIKE `+p+` ESCAPE '\')`)
	}
	if status := strings.TrimSpace(filter.Status); status != "" {
		clauses = append(clauses, "i.status = "+next(status))
	}
	if tag := strings.TrimSpace(filter.Tag); tag != "" {
		clauses = append(clauses, "LOWER(COALESCE(i.tags, '')) LIKE "+next(likeContains(tag))+` ESCAPE '\'`)
	}
	return strings.Join(clauses, " AND "), args
}

// likeContains lower-cases term and escapes LIKE wildcards for a
// substring match.
func likeContains(term string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + replacer.Replace(strings.ToLower(term)) + "%"
}

func (r *Repository) Create(ctx context.Context, userID string, input CreateInput, now time.Time) (Idea, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return Idea{}, fmt.Errorf("generate uuid v7: %w", err)
	}

	ts := time.UnixMilli(now.UnixMilli()).UTC()
	idea := Idea{
		ID:          id.String(),
		UserID:      userID,
		Title:       input.Title,
		Description: input.Description,
		Tags:        input.Tags,
		Status:      input.Status,
		CreatedAt:   ts,
		UpdatedAt:   ts,
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO ideas (id, user_id, title, description, tags, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, idea.ID, idea.UserID, idea.Title, toNullString(idea.Description), toNullString(idea.Tags), idea.Status, ts.UnixMilli(), ts.UnixMilli())
	if err != nil {
		return Idea{}, fmt.Errorf("insert idea: %w", err)
	}
	return idea, nil
}

func (r *Repository) Get(ctx context.Context, id, userID string) (Idea, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+ideaColumns+`
		FROM ideas i
		WHERE i.id = $1 AND i.user_id = $2
	`, id, userID)
	idea, err := scanIdea(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Idea{}, ErrNotFound
		}
		return Idea{}, fmt.Errorf("query idea: %w", err)
	}
	return idea, nil
}

// Save writes the mutable fields of an existing idea and bumps updated_at.
func (r *Repository) Save(ctx context.Context, idea Idea, now time.Time) (Idea, error) {
	idea.UpdatedAt = time.UnixMilli(now.UnixMilli()).UTC()

	res, err := r.db.ExecContext(ctx, `
		UPDATE ideas
		SET title = $3, description = $4, tags = $5, status = $6, updated_at = $7
		WHERE id = $1 AND user_id = $2
	`, idea.ID, idea.UserID, idea.Title, toNullString(idea.Description), toNullString(idea.Tags), idea.Status, idea.UpdatedAt.UnixMilli())
	if err != nil {
		return Idea{}, fmt.Errorf("update idea: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return Idea{}, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return Idea{}, ErrNotFound
	}
	return idea, nil
}

func (r *Repository) Delete(ctx context.Context, id, userID string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM ideas WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("delete idea: %w", err)
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

func fromNullString(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}

func toNullString(value *string) sql.NullString {
	if value == nil || *value == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
