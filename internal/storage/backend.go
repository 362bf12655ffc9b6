package storage

import (
	"sort"
	"sync"
)

// Backend is a bucketed byte store used by the durable shard registry.
// Values are opaque to the backend; the registry encodes them as JSON.
type Backend interface {
	// Get returns ErrKeyNotFound if the key doesn't exist
	Get(bucket, key string) ([]byte, error)

	// Put overwrites any existing value for the key
	Put(bucket, key string, value []byte) error

	// Delete is a no-op if the key doesn't exist
	Delete(bucket, key string) error

	// ForEach visits every entry of a bucket in key order. Returning an
	// error from fn stops the iteration and is returned.
	ForEach(bucket string, fn func(key string, value []byte) error) error

	Close() error
}

// MemoryBackend implements Backend in memory. Used for tests and for
// running against a seed file without persistence.
type MemoryBackend struct {
	mu      sync.RWMutex
	buckets map[string]map[string][]byte
}

// NewMemoryBackend returns an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		buckets: make(map[string]map[string][]byte),
	}
}

// Get returns a copy of the value to prevent external modification
func (m *MemoryBackend) Get(bucket, key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, exists := m.buckets[bucket][key]
	if !exists {
		return nil, ErrKeyNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

func (m *MemoryBackend) Put(bucket, key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.buckets[bucket]
	if !ok {
		b = make(map[string][]byte)
		m.buckets[bucket] = b
	}

	stored := make([]byte, len(value))
	copy(stored, value)
	b[key] = stored

	return nil
}

func (m *MemoryBackend) Delete(bucket, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.buckets[bucket], key)
	return nil
}

// ForEach iterates over a snapshot, so fn may call back into the backend.
func (m *MemoryBackend) ForEach(bucket string, fn func(key string, value []byte) error) error {
	m.mu.RLock()
	b := m.buckets[bucket]
	keys := make([]string, 0, len(b))
	values := make(map[string][]byte, len(b))
	for k, v := range b {
		keys = append(keys, k)
		values[k] = append([]byte(nil), v...)
	}
	m.mu.RUnlock()

	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, values[k]); err != nil {
			return err
		}
	}
	return nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
