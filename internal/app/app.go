// Package app provides application lifecycle management for the sync daemon.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/sync/scheduler"
)

// DeviceSyncApp runs the local API and the background scheduler on top of
// the sync components, with graceful shutdown
type DeviceSyncApp struct {
	config     *config.Config
	components *Components
	scheduler  *scheduler.Scheduler
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// NewDeviceSyncApp builds the daemon from the configuration
func NewDeviceSyncApp(ctx context.Context, opts ...Option) (*DeviceSyncApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	components, err := buildComponents(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build sync components: %w", err)
	}

	httpServer, err := buildHTTPServer(cfg, components)
	if err != nil {
		if closeErr := components.Close(ctx); closeErr != nil {
			slog.Warn("Failed to release components", "error", closeErr)
		}
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)
	return &DeviceSyncApp{
		config:     cfg.config,
		components: components,
		scheduler:  buildScheduler(cfg, components),
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancel,
	}, nil
}

// Start starts the background scheduler and serves the API.
// It blocks until the HTTP server stops or fails.
func (app *DeviceSyncApp) Start() error {
	listener, err := net.Listen("tcp", app.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", app.httpServer.Addr, err)
	}
	return app.Serve(listener)
}

// Serve is Start on an existing listener
func (app *DeviceSyncApp) Serve(listener net.Listener) error {
	if app.scheduler != nil {
		go func() {
			if err := app.scheduler.Start(app.ctx); err != nil {
				slog.Error("Background sync scheduler failed", "error", err)
			}
		}()
	}

	slog.Info("Server listening", "address", listener.Addr().String())
	if err := app.httpServer.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

// Stop gracefully stops the application with the given timeout.
// It stops the scheduler, drains the HTTP server and then closes the store.
func (app *DeviceSyncApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	if app.scheduler != nil {
		app.scheduler.Stop()
	}
	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}
	if err := app.components.Close(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	slog.Info("Server shutdown complete")
	return nil
}

// GetConfig returns the application configuration
func (app *DeviceSyncApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *DeviceSyncApp) GetHTTPServer() *http.Server {
	return app.httpServer
}

// Components returns the sync components the app runs on
func (app *DeviceSyncApp) Components() *Components {
	return app.components
}

// BackgroundSyncEnabled reports whether the scheduler runs with the server
func (app *DeviceSyncApp) BackgroundSyncEnabled() bool {
	return app.scheduler != nil
}
