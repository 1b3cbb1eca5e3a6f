package testutils

import (
	"context"
	"database/sql"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"dbmigrator/internal/db"
	"dbmigrator/internal/logging"
)

// Logger writes through the test log when -v is set and discards otherwise.
func Logger(t testing.TB) *slog.Logger {
	t.Helper()

	if testing.Verbose() {
		return logging.Slog(zerolog.New(zerolog.NewTestWriter(t)), zerolog.DebugLevel)
	}
	return logging.Nop()
}

// SQLiteDB opens a database file in a temp dir that is closed on cleanup.
func SQLiteDB(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test.db")
	sqlDB, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(ON)")
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return sqlDB
}

// SQLiteProvider returns a provider over a fresh SQLite database.
func SQLiteProvider(t testing.TB, schemaTag string) (*db.Provider, *sql.DB) {
	t.Helper()

	sqlDB := SQLiteDB(t)
	p, err := db.New(context.Background(), sqlDB, db.NewSQLiteDialect(), schemaTag, Logger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })
	return p, sqlDB
}
