//go:build integration

package database

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	tclog "github.com/testcontainers/testcontainers-go/log"
	"github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/db"
)

const (
	testDatabase = "ledger"
	testUser     = "devicesync"
	testPassword = "devicesync-test"
)

type quietLogger struct{}

func (quietLogger) Printf(string, ...any) {}

var _ tclog.Logger = quietLogger{}

// StartPostgres runs a throwaway Postgres container and connects to it
// through db.NewConnection, the same path the daemon uses. The schema is
// migrated up, fully down and up again so both directions of every
// migration run. Everything is released when the test ends.
func StartPostgres(t *testing.T) *db.Connection {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase(testDatabase),
		postgres.WithUsername(testUser),
		postgres.WithPassword(testPassword),
		postgres.BasicWaitStrategies(),
		tc.WithLogger(quietLogger{}),
	)
	tc.CleanupContainer(t, container)
	require.NoError(t, err)

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)

	passwordFile := filepath.Join(t.TempDir(), "pgpass")
	require.NoError(t, os.WriteFile(passwordFile, []byte(testPassword+"\n"), 0o600))

	conn, err := db.NewConnection(ctx, &config.DatabaseConfig{
		Host:         host,
		Port:         port.Int(),
		User:         testUser,
		PasswordFile: passwordFile,
		Database:     testDatabase,
		SSLMode:      "disable",
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	migrations, err := Migrations(conn.Dialect)
	require.NoError(t, err)
	require.NoError(t, MigrateUp(ctx, conn.DB, conn.Dialect))
	require.NoError(t, MigrateDown(ctx, conn.DB, conn.Dialect, len(migrations)))
	require.NoError(t, MigrateUp(ctx, conn.DB, conn.Dialect))

	return conn
}
