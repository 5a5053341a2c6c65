package app

import (
	"context"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	devicesyncapp "github.com/ledgerkit/devicesync/internal/app"
)

const defaultGracefulTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the sync daemon",
	Long: `Run background sync for every configured stream and serve the local API
used to trigger passes, read cursors and follow sync notifications.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("address", "", "Address to listen on (overrides server.address)")
	serveCmd.Flags().Duration("shutdown-timeout", defaultGracefulTimeout, "Time allowed for in-flight requests on shutdown")

	if err := viper.BindPFlag("address", serveCmd.Flags().Lookup("address")); err != nil {
		slog.Error("Failed to bind address flag", "error", err)
	}
	if err := viper.BindPFlag("shutdown-timeout", serveCmd.Flags().Lookup("shutdown-timeout")); err != nil {
		slog.Error("Failed to bind shutdown-timeout flag", "error", err)
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := []devicesyncapp.Option{devicesyncapp.WithConfig(cfg)}
	if addr := viper.GetString("address"); addr != "" {
		opts = append(opts, devicesyncapp.WithAddress(addr))
	}

	app, err := devicesyncapp.NewDeviceSyncApp(ctx, opts...)
	if err != nil {
		return fmt.Errorf("failed to build application: %w", err)
	}

	slog.Info("Starting devicesync",
		"device_id", cfg.Device.ID,
		"streams", cfg.Streams,
		"background_sync", app.BackgroundSyncEnabled())

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start()
	}()

	select {
	case err := <-errChan:
		if stopErr := app.Stop(viper.GetDuration("shutdown-timeout")); stopErr != nil {
			slog.Warn("Shutdown after server failure was incomplete", "error", stopErr)
		}
		return err
	case <-ctx.Done():
		slog.Info("Received shutdown signal")
	}

	if err := app.Stop(viper.GetDuration("shutdown-timeout")); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}
	return nil
}

// commandContext returns the command context or a background context when
// the command runs outside Execute, as in tests
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
