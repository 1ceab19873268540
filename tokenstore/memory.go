package tokenstore

import (
	"context"
	"fmt"
	"sync"

	apperrors "github.com/jrsteele09/artvinci-web/internal/errors"
)

var _ Backend = (*MemoryBackend)(nil)

// MemoryBackend is a thread-safe in-memory Backend. State is lost when the
// process exits.
type MemoryBackend struct {
	mu     sync.RWMutex
	values map[string][]byte
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		values: make(map[string][]byte),
	}
}

func (m *MemoryBackend) Read(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, fmt.Errorf("key is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.values[key]
	if !ok {
		return nil, apperrors.ErrNotFound
	}

	// Return a copy to prevent external modifications
	return append([]byte(nil), value...), nil
}

func (m *MemoryBackend) Write(_ context.Context, key string, value []byte) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[key] = append([]byte(nil), value...)
	return nil
}

func (m *MemoryBackend) Delete(_ context.Context, key string) error {
	if key == "" {
		return fmt.Errorf("key is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.values, key)
	return nil
}
