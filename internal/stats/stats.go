package stats

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"idea-tracker/internal/db"
)

// Months is how many calendar months the monthly breakdown covers.
const Months = 12

type StatusCount struct {
	Status string `json:"status"`
	Count  int64  `json:"count"`
}

type MonthCount struct {
	Month string `json:"month"`
	Count int64  `json:"count"`
}

type Summary struct {
	StatusStats      []StatusCount `json:"status_stats"`
	MonthlyStats     []MonthCount  `json:"monthly_stats"`
	TotalIdeas       int64         `json:"total_ideas"`
	TotalAttachments int64         `json:"total_attachments"`
	TotalStorage     int64         `json:"total_storage"`
}

type Repository struct {
	db *db.Conn
}

func NewRepository(database *db.Conn) *Repository {
	return &Repository{db: database}
}

// Summary runs the independent aggregate queries concurrently.
func (r *Repository) Summary(ctx context.Context, userID string, now time.Time) (Summary, error) {
	var summary Summary
	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		counts, err := r.statusCounts(ctx, userID)
		if err != nil {
			return err
		}
		summary.StatusStats = counts
		for _, c := range counts {
			summary.TotalIdeas += c.Count
		}
		return nil
	})
	g.Go(func() error {
		months, err := r.monthlyCounts(ctx, userID, now)
		summary.MonthlyStats = months
		return err
	})
	g.Go(func() error {
		err := r.db.QueryRowContext(ctx, `
			SELECT COUNT(a.id), COALESCE(SUM(a.size), 0)
			FROM attachments a
			JOIN ideas i ON i.id = a.idea_id
			WHERE i.user_id = $1
		`, userID).Scan(&summary.TotalAttachments, &summary.TotalStorage)
		if err != nil {
			return fmt.Errorf("sum attachments: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}
	return summary, nil
}

func (r *Repository) statusCounts(ctx context.Context, userID string) ([]StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM ideas
		WHERE user_id = $1
		GROUP BY status
		ORDER BY status
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("query status counts: %w", err)
	}
	defer rows.Close()

	counts := make([]StatusCount, 0, 4)
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts = append(counts, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate status counts: %w", err)
	}
	return counts, nil
}

// monthlyCounts buckets creation times by UTC calendar month, newest month
// first, skipping months without ideas.
func (r *Repository) monthlyCounts(ctx context.Context, userID string, now time.Time) ([]MonthCount, error) {
	now = now.UTC()
	since := time.Date(now.Year(), now.Month()-(Months-1), 1, 0, 0, 0, 0, time.UTC)

	rows, err := r.db.QueryContext(ctx, `
		SELECT created_at FROM ideas WHERE user_id = $1 AND created_at >= $2
	`, userID, since.UnixMilli())
	if err != nil {
		return nil, fmt.Errorf("query monthly counts: %w", err)
	}
	defer rows.Close()

	buckets := make(map[string]int64)
	for rows.Next() {
		var createdAt int64
		if err := rows.Scan(&createdAt); err != nil {
			return nil, fmt.Errorf("scan created_at: %w", err)
		}
		buckets[time.UnixMilli(createdAt).UTC().Format("2006-01")]++
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate monthly counts: %w", err)
	}

	months := make([]MonthCount, 0, len(buckets))
	for month, count := range buckets {
		months = append(months, MonthCount{Month: month, Count: count})
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Month > months[j].Month })
	return months, nil
}
