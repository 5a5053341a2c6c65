// Package main is the entry point for the devicesync daemon and CLI.
package main

import (
	"log/slog"
	"os"

	"github.com/ledgerkit/devicesync/cmd/devicesync/app"
)

func main() {
	// Logs go to stderr to keep stdout clean for commands that output data (e.g., version --format json)
	slog.SetDefault(app.NewLogger(os.Stderr, app.GetLogLevel()))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
