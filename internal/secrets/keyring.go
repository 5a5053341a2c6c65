package secrets

import (
	"errors"
	"fmt"

	"github.com/zalando/go-keyring"
)

// keyringStore keeps secrets in the operating system keyring
type keyringStore struct {
	service string
}

// NewKeyringStore creates a Store backed by the OS keyring.
// An empty service falls back to DefaultServiceName.
func NewKeyringStore(service string) Store {
	if service == "" {
		service = DefaultServiceName
	}
	return &keyringStore{service: service}
}

func (k *keyringStore) GetSecret(name string) (string, bool, error) {
	if err := validateName(name); err != nil {
		return "", false, err
	}
	value, err := keyring.Get(k.service, name)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read secret %s from keyring: %w", name, err)
	}
	return value, true, nil
}

func (k *keyringStore) SetSecret(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := keyring.Set(k.service, name, value); err != nil {
		return fmt.Errorf("failed to write secret %s to keyring: %w", name, err)
	}
	return nil
}

func (k *keyringStore) DeleteSecret(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	if err := keyring.Delete(k.service, name); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete secret %s from keyring: %w", name, err)
	}
	return nil
}
