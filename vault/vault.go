package vault

import (
	"errors"
	"sync"
)

// ErrNotFound is returned by Read for a key that holds nothing.
var ErrNotFound = errors.New("vault: not found")

// Vault is key/value secret storage. Delete of a missing key is not an error.
type Vault interface {
	Store(key string, value []byte) error
	Read(key string) ([]byte, error)
	Delete(key string) error
}

// Memory keeps values in process memory.
type Memory struct {
	mu   sync.Mutex
	data map[string][]byte
}

func NewMemory() *Memory {
	return &Memory{data: map[string][]byte{}}
}

func (m *Memory) Store(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *Memory) Read(key string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[key]; ok {
		clear(v)
		delete(m.data, key)
	}
	return nil
}
