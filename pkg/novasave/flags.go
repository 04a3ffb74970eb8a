package novasave

import (
	"encoding/json"
	"fmt"
	"sort"
)

// Get returns the author flag stored under key decoded as T, or def when
// the flag is unset or holds another type.
func Get[T any](m *Manager, key string, def T) T {
	raw, ok := m.global.Data[key]
	if !ok {
		return def
	}
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return def
	}
	return v
}

// Set stores an author flag. A nil value removes it. Like every other
// mutation it reaches disk with the next UpdateGlobalSave.
func (m *Manager) Set(key string, value any) error {
	if m.closed {
		return ErrClosed
	}
	if value == nil {
		delete(m.global.Data, key)
		return nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("set flag %q: %w", key, err)
	}
	if m.global.Data == nil {
		m.global.Data = make(map[string]json.RawMessage)
	}
	m.global.Data[key] = raw
	return nil
}

// Flags returns the names of every set author flag, sorted.
func (m *Manager) Flags() []string {
	out := make([]string, 0, len(m.global.Data))
	for k := range m.global.Data {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
