package registry

import "sync"

// Map is a thread-safe map indexed by key.
// It uses sync.RWMutex for read-heavy workloads. Values are compared with ==
// by CompareAndDelete, so pointer values identify one specific entry.
type Map[K comparable, V comparable] struct {
	mu      sync.RWMutex
	entries map[K]V
}

// NewMap creates an empty map.
func NewMap[K comparable, V comparable]() *Map[K, V] {
	return &Map[K, V]{
		entries: make(map[K]V),
	}
}

// Insert stores value under key only if key is absent.
// It returns false, leaving the map unchanged, when key is present.
func (m *Map[K, V]) Insert(key K, value V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.entries[key]; ok {
		return false
	}
	m.entries[key] = value
	return true
}

// Get returns the value for a key and whether it exists.
func (m *Map[K, V]) Get(key K) (V, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.entries[key]
	return v, ok
}

// Has returns true if the key exists.
func (m *Map[K, V]) Has(key K) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.entries[key]
	return ok
}

// CompareAndDelete removes key only if its current value equals old.
// It reports whether the entry was removed.
func (m *Map[K, V]) CompareAndDelete(key K, old V) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.entries[key]
	if !ok || v != old {
		return false
	}
	delete(m.entries, key)
	return true
}

// Len returns the number of entries.
func (m *Map[K, V]) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// Range calls fn for each entry until fn returns false.
//
// Range iterates over a snapshot, so fn may call Insert or
// CompareAndDelete without affecting the current iteration.
func (m *Map[K, V]) Range(fn func(K, V) bool) {
	m.mu.RLock()
	snapshot := make(map[K]V, len(m.entries))
	for k, v := range m.entries {
		snapshot[k] = v
	}
	m.mu.RUnlock()

	for k, v := range snapshot {
		if !fn(k, v) {
			return
		}
	}
}
