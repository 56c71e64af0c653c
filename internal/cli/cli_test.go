package cli

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"idea-tracker/internal/db"
	"idea-tracker/internal/lockout"
	"idea-tracker/internal/ratelimit"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dbURL := "sqlite:" + filepath.Join(t.TempDir(), "cli.db")
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("DATABASE_URL", dbURL)
	t.Setenv("RATE_LIMIT_STORE", "sql")
	return dbURL
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--no-dotenv"}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func openSeeded(t *testing.T, dbURL string) *db.Conn {
	t.Helper()
	conn, err := db.Open(context.Background(), dbURL, db.PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestMigrateListsAppliedVersions(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "applied 0001_init")
}

func TestRateLimitListAndReset(t *testing.T) {
	dbURL := setupEnv(t)
	_, err := run(t, "migrate")
	require.NoError(t, err)

	conn := openSeeded(t, dbURL)
	repo := ratelimit.NewRepository(conn)
	now := time.Now().UTC()
	for _, key := range []string{"auth:login:10.0.0.1", "auth:login:10.0.0.2", "api:user-1"} {
		_, err := repo.Create(context.Background(), key, now, now.Add(time.Hour))
		require.NoError(t, err)
	}

	out, err := run(t, "ratelimit", "list", "--prefix", "auth:login:")
	require.NoError(t, err)
	assert.Contains(t, out, "auth:login:10.0.0.1")
	assert.Contains(t, out, "auth:login:10.0.0.2")
	assert.NotContains(t, out, "api:user-1")

	out, err = run(t, "ratelimit", "reset", "auth:login:*")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted 2 counter(s)")

	out, err = run(t, "rate-limit", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "api:user-1")
	assert.NotContains(t, out, "auth:login:")

	_, err = run(t, "rate-limit", "reset", "*")
	assert.Error(t, err)
}

func TestRateLimitCommandsRejectRedisStore(t *testing.T) {
	setupEnv(t)
	t.Setenv("RATE_LIMIT_STORE", "redis")
	t.Setenv("REDIS_URL", "redis://127.0.0.1:6379/0")

	_, err := run(t, "rate-limit", "list")
	assert.ErrorIs(t, err, errRedisStore)
}

func TestLockoutListAndClear(t *testing.T) {
	dbURL := setupEnv(t)
	_, err := run(t, "migrate")
	require.NoError(t, err)

	conn := openSeeded(t, dbURL)
	repo := lockout.NewRepository(conn)
	now := time.Now().UTC()
	_, err = repo.RegisterFailure(context.Background(), "locked@example.com", 1, now.Add(15*time.Minute), now)
	require.NoError(t, err)
	_, err = repo.RegisterFailure(context.Background(), "open@example.com", 5, now.Add(15*time.Minute), now)
	require.NoError(t, err)

	out, err := run(t, "lockout", "list", "--locked")
	require.NoError(t, err)
	assert.Contains(t, out, "locked@example.com")
	assert.NotContains(t, out, "open@example.com")

	out, err = run(t, "lockout", "clear", " Locked@Example.com ")
	require.NoError(t, err)
	assert.Contains(t, out, "cleared locked@example.com")

	out, err = run(t, "lockout", "list", "--locked")
	require.NoError(t, err)
	assert.Contains(t, out, "(no failed-login records)")

	out, err = run(t, "lockout", "clear", "ghost@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "no record for ghost@example.com")
}

func TestCleanupPrintsResult(t *testing.T) {
	setupEnv(t)

	out, err := run(t, "cleanup")
	require.NoError(t, err)
	assert.Contains(t, out, `"deleted_refresh_tokens": 0`)
	assert.Contains(t, out, `"deleted_rate_limits": 0`)
}
