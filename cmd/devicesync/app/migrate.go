package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ledgerkit/devicesync/database"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Database migration tool",
	Long: `Manage the schema of the SQLite or PostgreSQL store. The store applies pending
migrations when it opens; use these commands to prepare or revert a schema ahead of time.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return cmd.Usage()
	},
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply pending database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withDatabase(cmd, func(ctx context.Context, conn *db.Connection) error {
			slog.Info("Applying database migrations...", "dialect", conn.Dialect)
			return database.MigrateUp(ctx, conn.DB, conn.Dialect)
		})
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert applied database migrations",
	RunE: func(cmd *cobra.Command, _ []string) error {
		steps, _ := cmd.Flags().GetUint("num-steps")
		yes, _ := cmd.Flags().GetBool("yes")

		return withDatabase(cmd, func(ctx context.Context, conn *db.Connection) error {
			if !yes {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "About to revert %d migration(s) of the %s store. Continue? (yes/no): ",
					steps, conn.Dialect)
				var response string
				if _, err := fmt.Fscanln(cmd.InOrStdin(), &response); err != nil {
					return fmt.Errorf("failed to read user input: %w", err)
				}
				if response != "yes" && response != "y" {
					slog.Info("Migration cancelled by user")
					return nil
				}
			}
			return database.MigrateDown(ctx, conn.DB, conn.Dialect, int(steps))
		})
	},
}

func init() {
	migrateCmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	migrateDownCmd.Flags().UintP("num-steps", "n", 1, "Number of migrations to revert")

	migrateCmd.AddCommand(migrateUpCmd)
	migrateCmd.AddCommand(migrateDownCmd)
}

// withDatabase opens the configured SQL store, runs fn and reports the
// resulting schema version
func withDatabase(cmd *cobra.Command, fn func(context.Context, *db.Connection) error) error {
	ctx := commandContext(cmd)

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var conn *db.Connection
	switch cfg.GetStorageType() {
	case config.StorageTypeSQLite:
		conn, err = db.NewSQLiteConnection(ctx, cfg.Storage.Path)
	case config.StorageTypePostgres:
		conn, err = db.NewConnection(ctx, cfg.Storage.Database)
	default:
		return fmt.Errorf("storage type %s has no database schema", cfg.GetStorageType())
	}
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil {
			slog.Error("Error closing database connection", "error", closeErr)
		}
	}()

	if err := fn(ctx, conn); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, err := database.Version(ctx, conn.DB)
	if err != nil {
		slog.Warn("Unable to get migration version", "error", err)
		return nil
	}
	_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Current schema version: %d\n", version)
	return nil
}
