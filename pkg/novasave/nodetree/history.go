package nodetree

import (
	"sort"

	"github.com/cespare/xxhash/v2"
)

// golden is 2^64 divided by the golden ratio, used to mix history hashes.
const golden uint64 = 11400714819323199563

// Entry is one node visit in a NodeHistory.
type Entry struct {
	// Name is the script node name.
	Name string `json:"name"`
	// Interrupts maps a dialogue index inside the node to the variable hash
	// taken when the node was interrupted there.
	Interrupts map[int]uint64 `json:"interrupts,omitempty"`
}

func (e Entry) clone() Entry {
	out := Entry{Name: e.Name}
	if len(e.Interrupts) > 0 {
		out.Interrupts = make(map[int]uint64, len(e.Interrupts))
		for k, v := range e.Interrupts {
			out.Interrupts[k] = v
		}
	}
	return out
}

// NodeHistory is the ordered sequence of nodes visited on a path, keyed by a
// hash over names and interrupts.
type NodeHistory struct {
	entries []Entry
	hash    uint64
	dirty   bool
}

// NewNodeHistory creates a history visiting names in order.
func NewNodeHistory(names ...string) *NodeHistory {
	h := &NodeHistory{dirty: true}
	for _, name := range names {
		h.entries = append(h.entries, Entry{Name: name})
	}
	return h
}

// HistoryFromEntries creates a history holding copies of entries.
func HistoryFromEntries(entries []Entry) *NodeHistory {
	h := &NodeHistory{dirty: true, entries: make([]Entry, len(entries))}
	for i, e := range entries {
		h.entries[i] = e.clone()
	}
	return h
}

// Add appends a visit to name.
func (h *NodeHistory) Add(name string) {
	h.entries = append(h.entries, Entry{Name: name})
	h.dirty = true
}

// AddInterrupt records an interrupt at dialogue index idx of the last node.
// It panics on an empty history.
func (h *NodeHistory) AddInterrupt(idx int, varHash uint64) {
	if len(h.entries) == 0 {
		panic("nodetree: interrupt on empty node history")
	}
	last := &h.entries[len(h.entries)-1]
	if last.Interrupts == nil {
		last.Interrupts = make(map[int]uint64)
	}
	last.Interrupts[idx] = varHash
	h.dirty = true
}

// RemoveInterruptsFrom drops the last node's interrupts at dialogue index
// idx and later, used when rewinding inside a node.
func (h *NodeHistory) RemoveInterruptsFrom(idx int) {
	if len(h.entries) == 0 {
		return
	}
	last := &h.entries[len(h.entries)-1]
	for k := range last.Interrupts {
		if k >= idx {
			delete(last.Interrupts, k)
			h.dirty = true
		}
	}
}

// RemoveLast drops the last visit.
func (h *NodeHistory) RemoveLast() {
	if len(h.entries) == 0 {
		return
	}
	h.entries = h.entries[:len(h.entries)-1]
	h.dirty = true
}

// Truncate keeps the first n visits.
func (h *NodeHistory) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	if n >= len(h.entries) {
		return
	}
	h.entries = h.entries[:n]
	h.dirty = true
}

// Len returns the number of visits.
func (h *NodeHistory) Len() int {
	return len(h.entries)
}

// Last returns the most recent visit.
func (h *NodeHistory) Last() (Entry, bool) {
	if len(h.entries) == 0 {
		return Entry{}, false
	}
	return h.entries[len(h.entries)-1].clone(), true
}

// Names returns the visited node names in order.
func (h *NodeHistory) Names() []string {
	names := make([]string, len(h.entries))
	for i, e := range h.entries {
		names[i] = e.Name
	}
	return names
}

// Entries returns a copy of the visits.
func (h *NodeHistory) Entries() []Entry {
	out := make([]Entry, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.clone()
	}
	return out
}

// Clone returns an independent copy.
func (h *NodeHistory) Clone() *NodeHistory {
	return &NodeHistory{entries: h.Entries(), hash: h.hash, dirty: h.dirty}
}

// Equal reports whether both histories hold the same visits and interrupts.
func (h *NodeHistory) Equal(other *NodeHistory) bool {
	if other == nil || len(h.entries) != len(other.entries) {
		return false
	}
	for i := range h.entries {
		if !EntryEqual(h.entries[i], other.entries[i]) {
			return false
		}
	}
	return true
}

// EntryEqual reports whether two visits have the same name and interrupts.
func EntryEqual(a, b Entry) bool {
	if a.Name != b.Name || len(a.Interrupts) != len(b.Interrupts) {
		return false
	}
	for k, v := range a.Interrupts {
		if w, ok := b.Interrupts[k]; !ok || w != v {
			return false
		}
	}
	return true
}

// Hash returns the history key. It is recomputed only after a change.
func (h *NodeHistory) Hash() uint64 {
	if !h.dirty {
		return h.hash
	}
	var x uint64
	for _, e := range h.entries {
		x = (x + xxhash.Sum64String(e.Name)) * golden
		if len(e.Interrupts) == 0 {
			continue
		}
		keys := make([]int, 0, len(e.Interrupts))
		for k := range e.Interrupts {
			keys = append(keys, k)
		}
		sort.Ints(keys)
		for _, k := range keys {
			x = (x + uint64(k)) * golden
			x = (x + e.Interrupts[k]) * golden
		}
	}
	h.hash = x
	h.dirty = false
	return x
}

// RehashKey returns the key tried after key collides with a different
// history.
func RehashKey(key uint64) uint64 {
	return (key + 1) * golden
}
