package storage

import (
	"errors"
	"sync"
)

// ErrKeyNotFound is returned when a key doesn't exist in the store
var ErrKeyNotFound = errors.New("key not found")

// Table is a transient keyed store. The override table and the lock table
// are Tables so a persistent or replicated implementation can replace the
// in-memory one without touching call sites.
// All implementations must be thread-safe for concurrent access
type Table[K comparable, V any] interface {
	// Get returns the value for key and whether it exists
	Get(key K) (V, bool)

	// Put stores a value with the given key
	// Overwrites any existing value for the key
	Put(key K, value V)

	// PutIfAbsent stores value only when key is absent, atomically.
	// Returns false if the key already existed
	PutIfAbsent(key K, value V) bool

	// Delete removes a key. Returns false if the key was not present
	Delete(key K) bool

	// Keys returns all keys in the table
	// Order is not guaranteed
	Keys() []K

	// Len returns the number of entries
	Len() int
}

// MemoryTable implements Table with a map guarded by a single mutex.
// The mutex is only held for the in-memory operation itself.
type MemoryTable[K comparable, V any] struct {
	mu   sync.RWMutex
	data map[K]V
}

// NewMemoryTable creates a new in-memory table
func NewMemoryTable[K comparable, V any]() *MemoryTable[K, V] {
	return &MemoryTable[K, V]{
		data: make(map[K]V),
	}
}

func (m *MemoryTable[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.data[key]
	return value, ok
}

func (m *MemoryTable[K, V]) Put(key K, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.data[key] = value
}

func (m *MemoryTable[K, V]) PutIfAbsent(key K, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.data[key]; exists {
		return false
	}
	m.data[key] = value
	return true
}

// Delete is idempotent
func (m *MemoryTable[K, V]) Delete(key K) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	_, exists := m.data[key]
	delete(m.data, key)
	return exists
}

func (m *MemoryTable[K, V]) Keys() []K {
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]K, 0, len(m.data))
	for key := range m.data {
		keys = append(keys, key)
	}
	return keys
}

func (m *MemoryTable[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return len(m.data)
}
