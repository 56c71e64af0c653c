package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTemp(t *testing.T) *Conn {
	t.Helper()
	conn, err := Open(context.Background(), "sqlite:"+filepath.Join(t.TempDir(), "test.db"), PoolOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestParseURL(t *testing.T) {
	dialect, dsn, err := parseURL("postgres://u:p@localhost:5432/ideas?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, DialectPostgres, dialect)
	assert.Equal(t, "postgres://u:p@localhost:5432/ideas?sslmode=disable", dsn)

	dialect, dsn, err = parseURL("sqlite:/tmp/ideas.db")
	require.NoError(t, err)
	assert.Equal(t, DialectSQLite, dialect)
	assert.Contains(t, dsn, "file:///tmp/ideas.db?")
	assert.Contains(t, dsn, "_pragma=foreign_keys%281%29")

	_, _, err = parseURL("mysql://nope")
	assert.Error(t, err)

	_, _, err = parseURL("")
	assert.Error(t, err)
}

func TestRebind(t *testing.T) {
	sqlite := &Conn{dialect: DialectSQLite}
	postgres := &Conn{dialect: DialectPostgres}
	query := `SELECT * FROM ideas WHERE user_id = $1 AND status = $2 LIMIT $10`

	assert.Equal(t, `SELECT * FROM ideas WHERE user_id = ?1 AND status = ?2 LIMIT ?10`, sqlite.Rebind(query))
	assert.Equal(t, query, postgres.Rebind(query))
}

func TestRunMigrationsIsIdempotent(t *testing.T) {
	ctx := context.Background()
	conn := openTemp(t)

	require.NoError(t, RunMigrations(ctx, conn))
	require.NoError(t, RunMigrations(ctx, conn))

	versions, err := AppliedMigrations(ctx, conn)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init.sql"}, versions)

	for _, table := range []string{"users", "ideas", "attachments", "user_storage", "rate_limits", "failed_attempts", "auth_refresh_tokens"} {
		var count int
		err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&count)
		require.NoError(t, err)
		assert.Equal(t, 1, count, table)
	}
}

func TestPlaceholdersBindOnSQLite(t *testing.T) {
	ctx := context.Background()
	conn := openTemp(t)
	require.NoError(t, RunMigrations(ctx, conn))

	_, err := conn.ExecContext(ctx, `INSERT INTO rate_limits (key, count, window_start, expires_at) VALUES ($1, $2, $3, $4)`, "k", 3, int64(10), int64(20))
	require.NoError(t, err)

	var count int
	var expiresAt int64
	require.NoError(t, conn.QueryRowContext(ctx, `SELECT count, expires_at FROM rate_limits WHERE key = $1`, "k").Scan(&count, &expiresAt))
	assert.Equal(t, 3, count)
	assert.Equal(t, int64(20), expiresAt)
}
