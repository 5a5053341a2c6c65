package store

import (
	"context"
	"fmt"

	"github.com/ledgerkit/devicesync/internal/config"
)

// New creates the store backend selected by the storage configuration
func New(ctx context.Context, cfg *config.StorageConfig) (Store, error) {
	if cfg == nil {
		return nil, fmt.Errorf("storage configuration is required")
	}

	switch cfg.Type {
	case config.StorageTypeFile, "":
		return NewFileStore(cfg.Path)
	case config.StorageTypeSQLite:
		return NewSQLiteStore(ctx, cfg.Path)
	case config.StorageTypePostgres:
		return NewPostgresStore(ctx, cfg.Database)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}
