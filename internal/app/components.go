package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/ledgerkit/devicesync/internal/auth"
	"github.com/ledgerkit/devicesync/internal/config"
	"github.com/ledgerkit/devicesync/internal/notify"
	"github.com/ledgerkit/devicesync/internal/protocol"
	"github.com/ledgerkit/devicesync/internal/secrets"
	"github.com/ledgerkit/devicesync/internal/store"
	pkgsync "github.com/ledgerkit/devicesync/internal/sync"
	"github.com/ledgerkit/devicesync/internal/telemetry"
)

// Components groups the parts of the sync engine shared by every command
//
//nolint:revive // This name is fine
type Components struct {
	Config *config.Config

	// Store is the local ledger
	Store store.Store

	// Secrets holds the sync credentials
	Secrets secrets.Store

	Tokens       *auth.TokenSource
	Client       protocol.Client
	Orchestrator pkgsync.Orchestrator

	// Events fans lifecycle notifications out to API subscribers
	Events *notify.Broadcaster

	Telemetry *telemetry.Telemetry
}

// Close releases the store and flushes telemetry
func (c *Components) Close(ctx context.Context) error {
	var errs []error
	if c.Store != nil {
		if err := c.Store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store: %w", err))
		}
	}
	if c.Telemetry != nil {
		if err := c.Telemetry.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
