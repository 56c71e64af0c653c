// Package dbtest opens throwaway migrated sqlite databases for tests.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"idea-tracker/internal/db"
)

func Open(t testing.TB) *db.Conn {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	conn, err := db.Open(context.Background(), "sqlite:"+path, db.PoolOptions{})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { conn.Close() })

	if err := db.RunMigrations(context.Background(), conn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}
	return conn
}

// SeedUser inserts a bare user row so foreign keys resolve.
func SeedUser(t testing.TB, conn *db.Conn, id, email string) {
	t.Helper()

	_, err := conn.ExecContext(context.Background(), `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES ($1, $2, 'x', 0, 0)
	`, id, email)
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
}
