// Package dbtest opens a migrated throwaway SQLite database for repository tests.
package dbtest

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"uid-whitelist/internal/config"
	"uid-whitelist/internal/db"
)

func Open(t testing.TB) *sql.DB {
	t.Helper()

	ctx := context.Background()
	database, err := db.Open(ctx, config.DatabaseConfig{
		Driver: config.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })

	require.NoError(t, db.RunMigrations(ctx, database, config.DriverSQLite))
	return database
}
