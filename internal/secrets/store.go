// Package secrets provides named secret storage for sync credentials.
package secrets

import (
	"errors"
	"fmt"
)

// DefaultServiceName is the keyring service secrets are stored under
const DefaultServiceName = "devicesync"

// Backend types
const (
	TypeKeyring = "keyring"
	TypeFile    = "file"
	TypeMemory  = "memory"
)

// ErrInvalidName is returned for empty secret names
var ErrInvalidName = errors.New("secret name must not be empty")

// Store reads and writes named secrets
//
//go:generate mockgen -destination=mocks/mock_store.go -package=mocks github.com/ledgerkit/devicesync/internal/secrets Store
type Store interface {
	// GetSecret returns the secret value and whether it exists.
	// A missing secret is not an error.
	GetSecret(name string) (string, bool, error)

	// SetSecret creates or replaces a secret
	SetSecret(name, value string) error

	// DeleteSecret removes a secret. Deleting a missing secret is not an error.
	DeleteSecret(name string) error
}

// Config selects and configures a backend
type Config struct {
	Type        string
	ServiceName string
	Path        string
}

// New creates the Store described by cfg
func New(cfg Config) (Store, error) {
	switch cfg.Type {
	case TypeKeyring, "":
		return NewKeyringStore(cfg.ServiceName), nil
	case TypeFile:
		if cfg.Path == "" {
			return nil, fmt.Errorf("file secret store requires a path")
		}
		return NewFileStore(cfg.Path), nil
	case TypeMemory:
		return NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unsupported secrets type: %s", cfg.Type)
	}
}

func validateName(name string) error {
	if name == "" {
		return ErrInvalidName
	}
	return nil
}
