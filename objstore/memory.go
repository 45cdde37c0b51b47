package objstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Object is a stored blob with its content type.
type Object struct {
	Data        []byte
	ContentType string
}

// Memory keeps objects in a map.
type Memory struct {
	mu      sync.RWMutex
	baseURL string
	objects map[string]Object
}

// NewMemory creates an empty in-memory store whose URLs start with baseURL.
func NewMemory(baseURL string) *Memory {
	return &Memory{baseURL: baseURL, objects: make(map[string]Object)}
}

func (m *Memory) Upload(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := ValidateKey(key); err != nil {
		return "", err
	}
	m.mu.Lock()
	m.objects[key] = Object{Data: append([]byte(nil), data...), ContentType: contentType}
	m.mu.Unlock()
	return PublicURL(m.baseURL, key), nil
}

// Delete is a no-op for a missing key.
func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	delete(m.objects, key)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Get(_ context.Context, key string) (Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.objects[key]
	if !ok {
		return Object{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return obj, nil
}

// Keys returns every stored key, sorted.
func (m *Memory) Keys() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	keys := make([]string, 0, len(m.objects))
	for k := range m.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
