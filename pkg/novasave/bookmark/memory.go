package bookmark

import (
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory bookmark store for testing.
// Data is lost when the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	slots  map[int]storedSlot
	closed bool
}

type storedSlot struct {
	data      []byte
	timestamp time.Time
}

// NewMemoryStore creates a new in-memory bookmark store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[int]storedSlot),
	}
}

// Save implements Store.
func (m *MemoryStore) Save(id int, data []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	// Copy data to avoid retaining caller's slice
	stored := make([]byte, len(data))
	copy(stored, data)

	m.slots[id] = storedSlot{
		data:      stored,
		timestamp: time.Now().UTC(),
	}
	return nil
}

// Load implements Store.
func (m *MemoryStore) Load(id int) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	slot, ok := m.slots[id]
	if !ok {
		return nil, ErrNotFound
	}

	result := make([]byte, len(slot.data))
	copy(result, slot.data)
	return result, nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return ErrStoreClosed
	}

	delete(m.slots, id)
	return nil
}

// List implements Store.
func (m *MemoryStore) List() ([]Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.closed {
		return nil, ErrStoreClosed
	}

	infos := make([]Info, 0, len(m.slots))
	for id, slot := range m.slots {
		infos = append(infos, Info{
			ID:        id,
			Timestamp: slot.timestamp,
			Size:      int64(len(slot.data)),
		})
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].ID < infos[j].ID
	})
	return infos, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.closed = true
	m.slots = nil
	return nil
}

// Len returns the number of occupied slots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}
