package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea-tracker/internal/db/dbtest"
)

var baseTime = time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T) *Repository {
	t.Helper()
	return NewRepository(dbtest.Open(t))
}

func TestRepositoryCreateAndIncrement(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	counter, err := repo.GetLive(ctx, "upload:u1", baseTime)
	require.NoError(t, err)
	assert.Nil(t, counter)

	created, err := repo.Create(ctx, "upload:u1", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, created.Count)
	assert.True(t, created.ExpiresAt.Equal(baseTime.Add(time.Hour)))

	updated, err := repo.Increment(ctx, "upload:u1", 2, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Count)
	assert.True(t, updated.WindowStart.Equal(baseTime))

	full, err := repo.Increment(ctx, "upload:u1", 2, baseTime.Add(2*time.Minute))
	require.ErrorIs(t, err, ErrCounterFull)
	assert.Equal(t, 2, full.Count)
	assert.True(t, full.ExpiresAt.Equal(baseTime.Add(time.Hour)))
}

func TestRepositoryIncrementMissing(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.Increment(context.Background(), "nobody", 5, baseTime)
	assert.ErrorIs(t, err, ErrCounterMissing)
}

func TestRepositoryCreateRejectsLiveRow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Create(ctx, "k", baseTime, baseTime.Add(time.Minute))
	require.NoError(t, err)

	_, err = repo.Create(ctx, "k", baseTime.Add(time.Second), baseTime.Add(time.Minute+time.Second))
	assert.ErrorIs(t, err, ErrCounterExists)
}

func TestRepositoryCreateOverwritesStaleRow(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Create(ctx, "k", baseTime, baseTime.Add(time.Minute))
	require.NoError(t, err)
	_, err = repo.Increment(ctx, "k", 10, baseTime.Add(time.Second))
	require.NoError(t, err)

	later := baseTime.Add(time.Minute)
	stale, err := repo.GetLive(ctx, "k", later)
	require.NoError(t, err)
	assert.Nil(t, stale, "row expiring exactly now is not live")

	fresh, err := repo.Create(ctx, "k", later, later.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, fresh.Count)
	assert.True(t, fresh.WindowStart.Equal(later))
}

func TestRepositorySweepExpired(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	_, err := repo.Create(ctx, "short", baseTime, baseTime.Add(time.Second))
	require.NoError(t, err)
	_, err = repo.Create(ctx, "long", baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)

	deleted, err := repo.SweepExpired(ctx, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	deleted, err = repo.SweepExpired(ctx, baseTime.Add(time.Minute))
	require.NoError(t, err)
	assert.Zero(t, deleted)

	counter, err := repo.GetLive(ctx, "long", baseTime.Add(time.Minute))
	require.NoError(t, err)
	require.NotNil(t, counter)
}

func TestRepositoryListAndReset(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepository(t)

	for _, key := range []string{"auth:login:1.1.1.1", "auth:login:2.2.2.2", "auth:register:1.1.1.1", "upload:uX1"} {
		_, err := repo.Create(ctx, key, baseTime, baseTime.Add(time.Hour))
		require.NoError(t, err)
	}

	counters, err := repo.List(ctx, "auth:login:", baseTime, 0)
	require.NoError(t, err)
	assert.Len(t, counters, 2)

	all, err := repo.List(ctx, "", baseTime, 0)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	// '_' must not act as a LIKE wildcard
	none, err := repo.List(ctx, "upload:u_", baseTime, 0)
	require.NoError(t, err)
	assert.Empty(t, none)

	deleted, err := repo.Reset(ctx, "auth:login:*")
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	deleted, err = repo.Reset(ctx, "upload:uX1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	remaining, err := repo.List(ctx, "", baseTime, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, "auth:register:1.1.1.1", remaining[0].Key)
}
