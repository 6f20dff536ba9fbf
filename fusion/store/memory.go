package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// memoryKVStore is an in-process KVStore used as a fallback when valkey is
// unreachable and as the store in tests. TTLs are honored lazily on read.
// Note: it cannot provide a cross-instance single-flight guard; deployments
// running more than one instance need the valkey store.
type memoryKVStore struct {
	mu      sync.Mutex
	data    map[string]string
	expires map[string]time.Time
}

// NewMemoryKVStore creates an empty in-process KVStore.
func NewMemoryKVStore() KVStore {
	return &memoryKVStore{
		data:    make(map[string]string),
		expires: make(map[string]time.Time),
	}
}

func (m *memoryKVStore) expired(key string) bool {
	deadline, ok := m.expires[key]
	if !ok {
		return false
	}
	if time.Now().After(deadline) {
		delete(m.data, key)
		delete(m.expires, key)
		return true
	}
	return false
}

func (m *memoryKVStore) SetValue(ctx context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	delete(m.expires, key)
	return nil
}

func (m *memoryKVStore) SetValueWithTTL(ctx context.Context, key, value string, ttlSeconds int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[key] = value
	m.expires[key] = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	return nil
}

func (m *memoryKVStore) SetValueNX(ctx context.Context, key, value string, ttlSeconds int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.data[key]; exists && !m.expired(key) {
		return false, nil
	}
	m.data[key] = value
	m.expires[key] = time.Now().Add(time.Duration(ttlSeconds) * time.Second)
	return true, nil
}

func (m *memoryKVStore) GetValue(ctx context.Context, key string) (ValkeyResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	value, exists := m.data[key]
	if !exists || m.expired(key) {
		return ValkeyResponse{}, fmt.Errorf("key '%s' not found", key)
	}
	return ValkeyResponse{Message: ValkeyValue{Value: value}}, nil
}

func (m *memoryKVStore) ListKeys(ctx context.Context, pattern string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := strings.TrimSuffix(pattern, "*")
	keys := make([]string, 0)
	for key := range m.data {
		if m.expired(key) {
			continue
		}
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}

func (m *memoryKVStore) DeleteValue(ctx context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	delete(m.expires, key)
	return nil
}

func (m *memoryKVStore) Close() error {
	return nil
}
