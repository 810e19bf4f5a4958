package checkpoint

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory checkpoint store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]map[int64]storedCheckpoint // agentID -> step sort key -> checkpoint
	closed bool
}

// storedCheckpoint holds checkpoint bytes with metadata for List().
type storedCheckpoint struct {
	data []byte
	info Info
}

// NewMemoryStore creates a new in-memory checkpoint store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string]map[int64]storedCheckpoint),
	}
}

// Append implements Store.
func (m *MemoryStore) Append(_ context.Context, cp *Checkpoint) error {
	if err := validate(cp); err != nil {
		return err
	}
	data, err := cp.Marshal()
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	agent := m.data[cp.AgentID]
	if agent == nil {
		agent = make(map[int64]storedCheckpoint)
		m.data[cp.AgentID] = agent
	}
	key := cp.Step.SortKey()
	if _, ok := agent[key]; ok {
		return ErrCheckpointExists
	}

	agent[key] = storedCheckpoint{
		data: data,
		info: cp.Info(int64(len(data))),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, agentID string, step Step) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	cp, ok := m.data[agentID][step.SortKey()]
	if !ok {
		return nil, ErrNotFound
	}

	// Return a copy to prevent modification
	result := make([]byte, len(cp.data))
	copy(result, cp.data)
	return result, nil
}

// List implements Store.
func (m *MemoryStore) List(_ context.Context, agentID string) ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	agent := m.data[agentID]
	infos := make([]Info, 0, len(agent))
	for _, cp := range agent {
		infos = append(infos, cp.info)
	}
	sortInfos(infos)
	return infos, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.data = nil
	return nil
}

// Len returns the total number of checkpoints across all agents.
// Useful for testing.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, agent := range m.data {
		count += len(agent)
	}
	return count
}
