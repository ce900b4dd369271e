package db_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uid-whitelist/internal/config"
	"uid-whitelist/internal/db"
	"uid-whitelist/internal/db/dbtest"
)

func TestRunMigrations_CreatesTables(t *testing.T) {
	database := dbtest.Open(t)

	for _, table := range []string{"users", "auth_login_attempts", "uids", "discord_bots"} {
		var name string
		err := database.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = $1`, table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	version, err := db.SchemaVersion(context.Background(), database, config.DriverSQLite)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)
}

func TestRunMigrations_Idempotent(t *testing.T) {
	database := dbtest.Open(t)

	require.NoError(t, db.RunMigrations(context.Background(), database, config.DriverSQLite))
}

func TestOpen_UnknownDriver(t *testing.T) {
	_, err := db.Open(context.Background(), config.DatabaseConfig{Driver: "mysql", URL: "x"})
	require.Error(t, err)
}

func TestOpen_SQLiteFile(t *testing.T) {
	database, err := db.Open(context.Background(), config.DatabaseConfig{
		Driver: config.DriverSQLite,
		URL:    filepath.Join(t.TempDir(), "open.db"),
	})
	require.NoError(t, err)
	defer database.Close()

	assert.Equal(t, 1, database.Stats().MaxOpenConnections)
}

func TestRoleConstraint(t *testing.T) {
	database := dbtest.Open(t)

	_, err := database.Exec(`
		INSERT INTO users (id, username, password_hash, role, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $5)
	`, "id-1", "someone", "hash", "root", int64(1))
	require.Error(t, err)
}
