package secrets

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// fileStore keeps secrets in a 0600 JSON file for hosts without a keyring.
// A sidecar lock file serializes access across processes.
type fileStore struct {
	path string
	lock *flock.Flock
}

// NewFileStore creates a Store backed by the JSON file at path
func NewFileStore(path string) Store {
	return &fileStore{
		path: path,
		lock: flock.New(path + ".lock"),
	}
}

func (f *fileStore) GetSecret(name string) (string, bool, error) {
	if err := validateName(name); err != nil {
		return "", false, err
	}
	if err := f.ensureDir(); err != nil {
		return "", false, err
	}
	if err := f.lock.RLock(); err != nil {
		return "", false, fmt.Errorf("failed to lock secrets file: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	values, err := f.read()
	if err != nil {
		return "", false, err
	}
	value, ok := values[name]
	return value, ok, nil
}

func (f *fileStore) SetSecret(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return f.update(func(values map[string]string) {
		values[name] = value
	})
}

func (f *fileStore) DeleteSecret(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	return f.update(func(values map[string]string) {
		delete(values, name)
	})
}

func (f *fileStore) update(fn func(map[string]string)) error {
	if err := f.ensureDir(); err != nil {
		return err
	}
	if err := f.lock.Lock(); err != nil {
		return fmt.Errorf("failed to lock secrets file: %w", err)
	}
	defer func() { _ = f.lock.Unlock() }()

	values, err := f.read()
	if err != nil {
		return err
	}
	fn(values)
	return f.write(values)
}

func (f *fileStore) ensureDir() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0700); err != nil {
		return fmt.Errorf("failed to create secrets directory: %w", err)
	}
	return nil
}

func (f *fileStore) read() (map[string]string, error) {
	// #nosec G304 -- path comes from local configuration
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read secrets file: %w", err)
	}

	values := map[string]string{}
	if len(data) == 0 {
		return values, nil
	}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse secrets file: %w", err)
	}
	return values, nil
}

func (f *fileStore) write(values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal secrets: %w", err)
	}

	tempPath := f.path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary secrets file: %w", err)
	}
	if err := os.Rename(tempPath, f.path); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("failed to rename secrets file: %w", err)
	}
	return nil
}
