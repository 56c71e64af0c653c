package quota

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"idea-tracker/internal/db"
	"idea-tracker/internal/db/dbtest"
	"idea-tracker/internal/observability"
)

func seedAttachment(t *testing.T, conn *db.Conn, ideaID, userID, id, kind string, size int64) {
	t.Helper()
	ctx := context.Background()
	_, err := conn.ExecContext(ctx, `
		INSERT INTO ideas (id, user_id, title, status, created_at, updated_at)
		VALUES ($1, $2, 'idea', 'draft', 0, 0)
		ON CONFLICT (id) DO NOTHING
	`, ideaID, userID)
	require.NoError(t, err)
	_, err = conn.ExecContext(ctx, `
		INSERT INTO attachments (id, idea_id, file_name, file_url, size, type, created_at)
		VALUES ($1, $2, 'f', 'u', $3, $4, 0)
	`, id, ideaID, size, kind)
	require.NoError(t, err)
}

func newService(t *testing.T, limits Limits) (*Service, *db.Conn) {
	t.Helper()
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "u1", "a@example.com")
	return NewService(NewRepository(conn), limits, observability.NewNop()), conn
}

func TestInfoSeedsFromFileAttachments(t *testing.T) {
	svc, conn := newService(t, DefaultLimits())
	seedAttachment(t, conn, "i1", "u1", "a1", "file", 30*1024*1024)
	seedAttachment(t, conn, "i1", "u1", "a2", "file", 20*1024*1024)
	seedAttachment(t, conn, "i1", "u1", "a3", "url", 0)

	info := svc.Info(context.Background(), "u1")
	assert.Equal(t, int64(50*1024*1024), info.TotalSize)
	assert.Equal(t, int64(2), info.FileCount)
	assert.Equal(t, 50.0, info.PercentUsed)
	assert.True(t, info.CanUpload)

	// The seeded row is not recomputed once present.
	seedAttachment(t, conn, "i1", "u1", "a4", "file", 1024)
	assert.Equal(t, int64(2), svc.Info(context.Background(), "u1").FileCount)
}

func TestCheckRefusesOverBudget(t *testing.T) {
	svc, _ := newService(t, Limits{MaxBytes: 1000, MaxFiles: 2, MaxFilesPerIdea: 1})
	ctx := context.Background()

	require.NoError(t, svc.Check(ctx, "u1", 1000))

	svc.Adjust(ctx, "u1", 600, 1)
	err := svc.Check(ctx, "u1", 500)
	var exceeded *ExceededError
	require.ErrorAs(t, err, &exceeded)
	assert.Contains(t, exceeded.Reason, "Storage quota exceeded")

	require.NoError(t, svc.Check(ctx, "u1", 400))

	svc.Adjust(ctx, "u1", 10, 1)
	err = svc.Check(ctx, "u1", 1)
	require.ErrorAs(t, err, &exceeded)
	assert.Equal(t, "Maximum file limit reached (2 files)", exceeded.Reason)
	assert.False(t, svc.Info(ctx, "u1").CanUpload)
}

func TestCheckIdea(t *testing.T) {
	svc := NewService(nil, Limits{MaxFilesPerIdea: 10}, nil)
	assert.NoError(t, svc.CheckIdea(9))
	assert.EqualError(t, svc.CheckIdea(10), "Maximum 10 files per idea")
}

func TestAdjustClampsAtZero(t *testing.T) {
	svc, conn := newService(t, DefaultLimits())
	ctx := context.Background()

	require.Zero(t, svc.Info(ctx, "u1").FileCount)
	svc.Adjust(ctx, "u1", 100, 1)
	assert.Equal(t, int64(100), svc.Info(ctx, "u1").TotalSize)
	svc.Adjust(ctx, "u1", -500, -3)

	usage, err := NewRepository(conn).Get(ctx, "u1")
	require.NoError(t, err)
	require.NotNil(t, usage)
	assert.Equal(t, Usage{}, *usage)
}

func TestAdjustWithoutRowSeedsOnceFromAttachments(t *testing.T) {
	svc, conn := newService(t, DefaultLimits())
	ctx := context.Background()

	// The upload's attachment row already exists, as when the pre-upload
	// check could not reach the store.
	seedAttachment(t, conn, "i1", "u1", "a1", "file", 500)
	svc.Adjust(ctx, "u1", 500, 1)

	info := svc.Info(ctx, "u1")
	assert.Equal(t, int64(500), info.TotalSize)
	assert.Equal(t, int64(1), info.FileCount)

	seedAttachment(t, conn, "i1", "u1", "a2", "file", 300)
	svc.Adjust(ctx, "u1", 300, 1)

	info = svc.Info(ctx, "u1")
	assert.Equal(t, int64(800), info.TotalSize)
	assert.Equal(t, int64(2), info.FileCount)
}

func TestRepositorySeedReportsInsert(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "u1", "a@example.com")
	repo := NewRepository(conn)
	ctx := context.Background()

	_, inserted, err := repo.Seed(ctx, "u1", time.UnixMilli(1_700_000_000_000))
	require.NoError(t, err)
	assert.True(t, inserted)

	_, inserted, err = repo.Seed(ctx, "u1", time.UnixMilli(1_700_000_000_000))
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestRepositoryAdjustInsertsClampedRow(t *testing.T) {
	conn := dbtest.Open(t)
	dbtest.SeedUser(t, conn, "u1", "a@example.com")
	repo := NewRepository(conn)

	usage, err := repo.Adjust(context.Background(), "u1", -10, 2, time.UnixMilli(1_700_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, Usage{TotalSize: 0, FileCount: 2}, usage)
}

func TestFaultsFailOpen(t *testing.T) {
	conn := dbtest.Open(t)
	require.NoError(t, conn.Close())

	core, logs := observer.New(zap.ErrorLevel)
	svc := NewService(NewRepository(conn), DefaultLimits(), observability.Wrap(zap.New(core)))
	ctx := context.Background()

	assert.NoError(t, svc.Check(ctx, "u1", 1<<40))
	info := svc.Info(ctx, "u1")
	assert.True(t, info.CanUpload)
	assert.Zero(t, info.TotalSize)
	svc.Adjust(ctx, "u1", 1, 1)

	entries := logs.FilterMessage("storage_quota_fault").All()
	require.Len(t, entries, 3)
	assert.Equal(t, "check", entries[0].ContextMap()["op"])
	assert.Equal(t, "info", entries[1].ContextMap()["op"])
	assert.Equal(t, "adjust", entries[2].ContextMap()["op"])
}
