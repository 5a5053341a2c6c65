// Package database provides the embedded schema migrations of the SQL store
// and the functions to apply them.
package database

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ledgerkit/devicesync/internal/db"
)

//go:embed migrations
var migrationsFS embed.FS

const createVersionTable = `CREATE TABLE IF NOT EXISTS schema_migrations (
    version    BIGINT PRIMARY KEY,
    applied_at BIGINT NOT NULL
)`

// Migration is one numbered schema change
type Migration struct {
	Version int64
	Name    string
	Up      string
	Down    string
}

// Migrations returns the migrations of a dialect in version order
func Migrations(dialect string) ([]Migration, error) {
	dir := path.Join("migrations", dialect)
	upFiles, err := fs.Glob(migrationsFS, path.Join(dir, "*.up.sql"))
	if err != nil {
		return nil, err
	}
	if len(upFiles) == 0 {
		return nil, fmt.Errorf("no migrations for dialect %q", dialect)
	}

	migrations := make([]Migration, 0, len(upFiles))
	for _, upFile := range upFiles {
		base := strings.TrimSuffix(path.Base(upFile), ".up.sql")
		versionPart, name, ok := strings.Cut(base, "_")
		if !ok {
			return nil, fmt.Errorf("invalid migration file name %s", upFile)
		}
		version, err := strconv.ParseInt(versionPart, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid migration version in %s: %w", upFile, err)
		}

		up, err := fs.ReadFile(migrationsFS, upFile)
		if err != nil {
			return nil, err
		}
		down, err := fs.ReadFile(migrationsFS, path.Join(dir, base+".down.sql"))
		if err != nil {
			return nil, fmt.Errorf("missing down migration for %s: %w", upFile, err)
		}

		migrations = append(migrations, Migration{
			Version: version,
			Name:    name,
			Up:      string(up),
			Down:    string(down),
		})
	}

	sort.Slice(migrations, func(i, j int) bool { return migrations[i].Version < migrations[j].Version })
	return migrations, nil
}

// MigrateUp applies every migration newer than the current schema version.
// Each migration runs in its own transaction together with its version row.
func MigrateUp(ctx context.Context, sqlDB *sql.DB, dialect string) error {
	migrations, err := Migrations(dialect)
	if err != nil {
		return err
	}

	if _, err := sqlDB.ExecContext(ctx, createVersionTable); err != nil {
		return fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	current, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}

	for _, m := range migrations {
		if m.Version <= current {
			continue
		}
		err := inTx(ctx, sqlDB, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Up); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				db.Rebind(dialect, "INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)"),
				m.Version, time.Now().UnixMilli())
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to apply migration %d_%s: %w", m.Version, m.Name, err)
		}
		slog.Info("Applied database migration", "version", m.Version, "name", m.Name, "dialect", dialect)
	}
	return nil
}

// MigrateDown reverts the given number of applied migrations, newest first
func MigrateDown(ctx context.Context, sqlDB *sql.DB, dialect string, steps int) error {
	migrations, err := Migrations(dialect)
	if err != nil {
		return err
	}

	current, err := Version(ctx, sqlDB)
	if err != nil {
		return err
	}

	for i := len(migrations) - 1; i >= 0 && steps > 0; i-- {
		m := migrations[i]
		if m.Version > current {
			continue
		}
		err := inTx(ctx, sqlDB, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, m.Down); err != nil {
				return err
			}
			_, err := tx.ExecContext(ctx,
				db.Rebind(dialect, "DELETE FROM schema_migrations WHERE version = ?"), m.Version)
			return err
		})
		if err != nil {
			return fmt.Errorf("failed to revert migration %d_%s: %w", m.Version, m.Name, err)
		}
		steps--
	}
	return nil
}

// Version returns the newest applied migration, 0 when none
func Version(ctx context.Context, sqlDB *sql.DB) (int64, error) {
	if _, err := sqlDB.ExecContext(ctx, createVersionTable); err != nil {
		return 0, fmt.Errorf("failed to create schema_migrations table: %w", err)
	}

	var version sql.NullInt64
	if err := sqlDB.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version); err != nil {
		return 0, fmt.Errorf("failed to read schema version: %w", err)
	}
	return version.Int64, nil
}

func inTx(ctx context.Context, sqlDB *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
