package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerkit/devicesync/internal/db"
)

func newSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	conn, err := db.NewSQLiteConnection(context.Background(), filepath.Join(t.TempDir(), "migrate.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn.DB
}

func tableExists(t *testing.T, sqlDB *sql.DB, name string) bool {
	t.Helper()

	var count int
	err := sqlDB.QueryRowContext(context.Background(),
		"SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", name).Scan(&count)
	require.NoError(t, err)
	return count == 1
}

func TestMigrations_ListsBothDialects(t *testing.T) {
	t.Parallel()

	for _, dialect := range []string{db.DialectSQLite, db.DialectPostgres} {
		migrations, err := Migrations(dialect)
		require.NoError(t, err, dialect)
		require.NotEmpty(t, migrations, dialect)

		assert.Equal(t, int64(1), migrations[0].Version)
		assert.Equal(t, "init", migrations[0].Name)
		assert.Contains(t, migrations[0].Up, "CREATE TABLE IF NOT EXISTS sync_cursors")
		assert.Contains(t, migrations[0].Down, "DROP TABLE IF EXISTS sync_cursors")

		for i := 1; i < len(migrations); i++ {
			assert.Less(t, migrations[i-1].Version, migrations[i].Version)
		}
	}
}

func TestMigrations_UnknownDialect(t *testing.T) {
	t.Parallel()

	_, err := Migrations("oracle")
	require.Error(t, err)
}

func TestMigrateUp_SQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sqlDB := newSQLiteDB(t)

	require.NoError(t, MigrateUp(ctx, sqlDB, db.DialectSQLite))
	for _, table := range []string{"sync_cursors", "ledger_events", "ledger_snapshots", "outbox_events"} {
		assert.True(t, tableExists(t, sqlDB, table), table)
	}

	migrations, err := Migrations(db.DialectSQLite)
	require.NoError(t, err)
	version, err := Version(ctx, sqlDB)
	require.NoError(t, err)
	assert.Equal(t, migrations[len(migrations)-1].Version, version)

	// Applying again is a no-op
	require.NoError(t, MigrateUp(ctx, sqlDB, db.DialectSQLite))
	again, err := Version(ctx, sqlDB)
	require.NoError(t, err)
	assert.Equal(t, version, again)
}

func TestMigrateDown_SQLite(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	sqlDB := newSQLiteDB(t)

	migrations, err := Migrations(db.DialectSQLite)
	require.NoError(t, err)

	// step up, step down, step up again
	require.NoError(t, MigrateUp(ctx, sqlDB, db.DialectSQLite))
	require.NoError(t, MigrateDown(ctx, sqlDB, db.DialectSQLite, len(migrations)))

	version, err := Version(ctx, sqlDB)
	require.NoError(t, err)
	assert.Equal(t, int64(0), version)
	assert.False(t, tableExists(t, sqlDB, "sync_cursors"))

	require.NoError(t, MigrateUp(ctx, sqlDB, db.DialectSQLite))
	assert.True(t, tableExists(t, sqlDB, "sync_cursors"))
}
