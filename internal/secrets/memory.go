package secrets

import "sync"

type memoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates a process-local Store, for tests and ephemeral runs
func NewMemoryStore() Store {
	return &memoryStore{values: make(map[string]string)}
}

func (m *memoryStore) GetSecret(name string) (string, bool, error) {
	if err := validateName(name); err != nil {
		return "", false, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.values[name]
	return value, ok, nil
}

func (m *memoryStore) SetSecret(name, value string) error {
	if err := validateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[name] = value
	return nil
}

func (m *memoryStore) DeleteSecret(name string) error {
	if err := validateName(name); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.values, name)
	return nil
}
