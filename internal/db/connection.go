// Package db contains code for connecting to the SQL databases backing the store.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"       // Needs to be imported for Postgres driver
	_ "github.com/ncruces/go-sqlite3/driver" // Registers the "sqlite3" database/sql driver
	_ "github.com/ncruces/go-sqlite3/embed"  // Embeds the SQLite WASM build

	"github.com/ledgerkit/devicesync/internal/config"
)

const (
	// DialectSQLite is the embedded SQLite dialect
	DialectSQLite = "sqlite"
	// DialectPostgres is the PostgreSQL dialect
	DialectPostgres = "postgres"

	defaultMaxOpenConns    = 25
	defaultMaxIdleConns    = 5
	defaultConnMaxLifetime = 5 * time.Minute
	defaultConnectTimeout  = 10 * time.Second
	sqliteBusyTimeout      = 5000
)

// Connection wraps a database handle and the SQL dialect it speaks
type Connection struct {
	DB      *sql.DB
	Dialect string
}

// NewConnection creates a new PostgreSQL connection from the provided configuration
func NewConnection(ctx context.Context, cfg *config.DatabaseConfig) (*Connection, error) {
	if cfg == nil {
		return nil, fmt.Errorf("database configuration is required")
	}

	// Validate required fields
	if cfg.Host == "" {
		return nil, fmt.Errorf("database host is required")
	}
	if cfg.Port == 0 {
		return nil, fmt.Errorf("database port is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("database user is required")
	}
	if cfg.Database == "" {
		return nil, fmt.Errorf("database name is required")
	}

	maxOpenConns := int(cfg.MaxOpenConns)
	if maxOpenConns == 0 {
		maxOpenConns = defaultMaxOpenConns
	}

	maxIdleConns := int(cfg.MaxIdleConns)
	if maxIdleConns == 0 {
		maxIdleConns = defaultMaxIdleConns
	}

	connMaxLifetime := defaultConnMaxLifetime
	if cfg.ConnMaxLifetime != "" {
		duration, err := time.ParseDuration(cfg.ConnMaxLifetime)
		if err != nil {
			return nil, fmt.Errorf("invalid connection max lifetime: %w", err)
		}
		connMaxLifetime = duration
	}

	// Password comes from the password file or the environment
	connStr, err := cfg.GetConnectionString()
	if err != nil {
		return nil, fmt.Errorf("failed to get database password: %w", err)
	}
	connStr = fmt.Sprintf("%s&connect_timeout=%d", connStr, int(defaultConnectTimeout.Seconds()))

	conn, err := open(ctx, "pgx", connStr, DialectPostgres)
	if err != nil {
		return nil, err
	}

	// Configure connection pool
	conn.DB.SetMaxOpenConns(maxOpenConns)
	conn.DB.SetMaxIdleConns(maxIdleConns)
	conn.DB.SetConnMaxLifetime(connMaxLifetime)

	slog.Info("Database connection established",
		"user", cfg.User, "host", cfg.Host, "port", cfg.Port, "database", cfg.Database)

	return conn, nil
}

// NewSQLiteConnection opens (and creates if needed) an embedded SQLite database.
// The database runs in WAL mode with a busy timeout and foreign keys enabled
// on every pooled connection.
func NewSQLiteConnection(ctx context.Context, path string) (*Connection, error) {
	if path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	connStr := fmt.Sprintf(
		"file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(wal)&_pragma=foreign_keys(on)",
		path, sqliteBusyTimeout,
	)

	conn, err := open(ctx, "sqlite3", connStr, DialectSQLite)
	if err != nil {
		return nil, err
	}

	// One connection, so transactions are serialized in-process
	conn.DB.SetMaxOpenConns(1)

	slog.Debug("SQLite database opened", "path", path)

	return conn, nil
}

func open(ctx context.Context, driver, connStr, dialect string) (*Connection, error) {
	sqlDB, err := sql.Open(driver, connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	// Verify connection
	if err := sqlDB.PingContext(ctx); err != nil {
		if closeErr := sqlDB.Close(); closeErr != nil {
			slog.Error("Failed to close database connection after ping failure", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Connection{DB: sqlDB, Dialect: dialect}, nil
}

// Close closes the database connection.
// SQLite databases are checkpointed first so the WAL file is folded back.
func (c *Connection) Close() error {
	if c.DB == nil {
		return nil
	}

	if c.Dialect == DialectSQLite {
		if _, err := c.DB.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			slog.Warn("Failed to checkpoint WAL", "error", err)
		}
	}

	slog.Debug("Closing database connection", "dialect", c.Dialect)
	return c.DB.Close()
}

// Ping verifies the database connection is still alive
func (c *Connection) Ping(ctx context.Context) error {
	if c.DB != nil {
		return c.DB.PingContext(ctx)
	}
	return fmt.Errorf("database connection is nil")
}

// Rebind rewrites "?" placeholders to the positional "$n" form PostgreSQL
// expects. Queries for SQLite are returned unchanged.
func Rebind(dialect, query string) string {
	if dialect != DialectPostgres {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteString("$")
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}
