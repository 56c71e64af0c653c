package stats

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea-tracker/internal/auth"
	"idea-tracker/internal/db"
	"idea-tracker/internal/db/dbtest"
	"idea-tracker/internal/observability"
)

var now = time.Date(2026, time.March, 15, 9, 0, 0, 0, time.UTC)

func insertIdea(t *testing.T, conn *db.Conn, id, userID, status string, createdAt time.Time) {
	t.Helper()
	_, err := conn.ExecContext(context.Background(), `
		INSERT INTO ideas (id, user_id, title, status, created_at, updated_at)
		VALUES ($1, $2, 'idea', $3, $4, $4)
	`, id, userID, status, createdAt.UnixMilli())
	require.NoError(t, err)
}

func insertAttachment(t *testing.T, conn *db.Conn, id, ideaID string, size int64) {
	t.Helper()
	_, err := conn.ExecContext(context.Background(), `
		INSERT INTO attachments (id, idea_id, file_name, file_url, size, type, created_at)
		VALUES ($1, $2, 'f', 'u', $3, 'file', 0)
	`, id, ideaID, size)
	require.NoError(t, err)
}

func TestSummary(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "u1", "one@example.com")
	dbtest.SeedUser(t, conn, "u2", "two@example.com")

	insertIdea(t, conn, "i1", "u1", "draft", now.Add(-time.Hour))
	insertIdea(t, conn, "i2", "u1", "draft", time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	insertIdea(t, conn, "i3", "u1", "ready", time.Date(2026, time.February, 28, 23, 59, 0, 0, time.UTC))
	insertIdea(t, conn, "i4", "u1", "published", time.Date(2025, time.April, 2, 0, 0, 0, 0, time.UTC))
	insertIdea(t, conn, "i5", "u1", "published", time.Date(2025, time.March, 31, 0, 0, 0, 0, time.UTC))
	insertIdea(t, conn, "i6", "u2", "draft", now)
	insertAttachment(t, conn, "a1", "i1", 100)
	insertAttachment(t, conn, "a2", "i3", 50)
	insertAttachment(t, conn, "a3", "i6", 999)

	summary, err := NewRepository(conn).Summary(context.Background(), "u1", now)
	require.NoError(t, err)

	assert.Equal(t, []StatusCount{
		{Status: "draft", Count: 2},
		{Status: "published", Count: 2},
		{Status: "ready", Count: 1},
	}, summary.StatusStats)
	assert.Equal(t, []MonthCount{
		{Month: "2026-03", Count: 2},
		{Month: "2026-02", Count: 1},
		{Month: "2025-04", Count: 1},
	}, summary.MonthlyStats)
	assert.Equal(t, int64(5), summary.TotalIdeas)
	assert.Equal(t, int64(2), summary.TotalAttachments)
	assert.Equal(t, int64(150), summary.TotalStorage)
}

func TestHandler(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "u1", "one@example.com")
	handler := NewHandler(NewRepository(conn), observability.NewNop())
	handler.now = func() time.Time { return now }

	req := httptest.NewRequest(http.MethodGet, "/api/stats", nil)
	req = req.WithContext(auth.WithIdentity(req.Context(), auth.Identity{UserID: "u1"}))
	rec := httptest.NewRecorder()
	handler.Get(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(0), body["total_ideas"])
	assert.Equal(t, []any{}, body["status_stats"])
	assert.Equal(t, []any{}, body["monthly_stats"])

	require.NoError(t, conn.Close())
	rec = httptest.NewRecorder()
	handler.Get(rec, req)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
