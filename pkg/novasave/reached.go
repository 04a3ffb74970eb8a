package novasave

import (
	"fmt"
	"sort"

	"github.com/RoaringBitmap/roaring/v2"

	"github.com/randalmurphal/novasave/pkg/novasave/nodetree"
	"github.com/randalmurphal/novasave/pkg/novasave/observability"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

type dialogueKey struct {
	history uint64
	index   int
}

type branchKey struct {
	history uint64
	branch  string
}

// reachedIndex is the in-memory view of the reached list. The list itself
// is append-only; the index is rebuilt from it on open and after upgrades.
type reachedIndex struct {
	histories map[uint64][]nodetree.Entry
	dialogue  map[dialogueKey]*savedata.ReachedDialogue
	// anyHistory holds, per node name, the dialogue indices reached on any
	// history.
	anyHistory map[string]*roaring.Bitmap
	branches   map[branchKey]struct{}
	ends       map[string]struct{}
}

func newReachedIndex() *reachedIndex {
	return &reachedIndex{
		histories:  make(map[uint64][]nodetree.Entry),
		dialogue:   make(map[dialogueKey]*savedata.ReachedDialogue),
		anyHistory: make(map[string]*roaring.Bitmap),
		branches:   make(map[branchKey]struct{}),
		ends:       make(map[string]struct{}),
	}
}

// loadReachedIndex indexes the reached list at begin and returns the offset
// where the next entry goes.
func loadReachedIndex(a *record.Allocator, begin int64) (*reachedIndex, int64, error) {
	idx := newReachedIndex()
	end, err := savedata.ForEach(a, begin, func(_ int64, p savedata.Payload) error {
		idx.apply(p)
		return nil
	})
	if err != nil {
		return nil, 0, err
	}
	return idx, end, nil
}

func (r *reachedIndex) apply(p savedata.Payload) {
	switch e := p.(type) {
	case *savedata.ReachedHistory:
		r.histories[e.Key] = e.Entries
	case *savedata.ReachedDialogue:
		r.dialogue[dialogueKey{e.HistoryKey, e.DialogueIndex}] = e
		bm, ok := r.anyHistory[e.Node]
		if !ok {
			bm = roaring.New()
			r.anyHistory[e.Node] = bm
		}
		bm.Add(uint32(e.DialogueIndex))
	case *savedata.ReachedBranch:
		r.branches[branchKey{e.HistoryKey, e.Branch}] = struct{}{}
	case *savedata.ReachedEnd:
		r.ends[e.Name] = struct{}{}
	}
}

// lookup returns the key under which h is stored. Two different histories
// with the same hash are told apart by comparing their entries; the later
// one is stored under the next rehashed key.
func (r *reachedIndex) lookup(h *nodetree.NodeHistory) (key uint64, found bool) {
	key = h.Hash()
	for {
		stored, ok := r.histories[key]
		if !ok {
			return key, false
		}
		if nodetree.HistoryFromEntries(stored).Equal(h) {
			return key, true
		}
		key = nodetree.RehashKey(key)
	}
}

// appendReached adds p to the reached list and the index.
func (m *Manager) appendReached(p savedata.Payload) error {
	end, err := savedata.Put(m.alloc, m.global.EndReached, p)
	if err != nil {
		return fmt.Errorf("append %s: %w", p.PayloadType(), err)
	}
	m.global.EndReached = end
	m.reached.apply(p)
	return nil
}

// registerHistory returns the key of h, storing h first if it is new.
func (m *Manager) registerHistory(h *nodetree.NodeHistory) (uint64, error) {
	key, found := m.reached.lookup(h)
	if found {
		return key, nil
	}
	if key != h.Hash() {
		observability.LogHistoryCollision(m.logger, h.Hash(), key)
	}
	if err := m.appendReached(&savedata.ReachedHistory{Key: key, Entries: h.Entries()}); err != nil {
		return 0, err
	}
	return key, nil
}

// SetReached marks dialogue index idx of the last node of history as seen,
// storing entry alongside. Marking a step twice keeps the first entry.
func (m *Manager) SetReached(history *nodetree.NodeHistory, idx int, entry *savedata.RestoreData) error {
	if m.closed {
		return ErrClosed
	}
	if idx < 0 {
		return fmt.Errorf("negative dialogue index %d", idx)
	}
	last, ok := history.Last()
	if !ok {
		return ErrEmptyHistory
	}
	key, err := m.registerHistory(history)
	if err != nil {
		return err
	}
	if _, ok := m.reached.dialogue[dialogueKey{key, idx}]; ok {
		return nil
	}
	return m.appendReached(&savedata.ReachedDialogue{
		HistoryKey:    key,
		Node:          last.Name,
		DialogueIndex: idx,
		Entry:         entry,
	})
}

// IsReached reports whether dialogue index idx was seen on history.
func (m *Manager) IsReached(history *nodetree.NodeHistory, idx int) bool {
	key, found := m.reached.lookup(history)
	if !found {
		return false
	}
	_, ok := m.reached.dialogue[dialogueKey{key, idx}]
	return ok
}

// IsReachedWithAnyHistory reports whether dialogue index idx of node was
// seen on any path.
func (m *Manager) IsReachedWithAnyHistory(node string, idx int) bool {
	if idx < 0 {
		return false
	}
	bm, ok := m.reached.anyHistory[node]
	return ok && bm.Contains(uint32(idx))
}

// ReachedIndices returns the dialogue indices of node seen on any path, in
// ascending order.
func (m *Manager) ReachedIndices(node string) []int {
	bm, ok := m.reached.anyHistory[node]
	if !ok {
		return nil
	}
	out := make([]int, 0, bm.GetCardinality())
	it := bm.Iterator()
	for it.HasNext() {
		out = append(out, int(it.Next()))
	}
	return out
}

// ReachedDialogue returns the entry stored when dialogue index idx was
// first seen on history.
func (m *Manager) ReachedDialogue(history *nodetree.NodeHistory, idx int) (*savedata.RestoreData, bool) {
	key, found := m.reached.lookup(history)
	if !found {
		return nil, false
	}
	e, ok := m.reached.dialogue[dialogueKey{key, idx}]
	if !ok {
		return nil, false
	}
	return e.Entry, true
}

// SetBranchReached marks branch as taken from the last node of history.
func (m *Manager) SetBranchReached(history *nodetree.NodeHistory, branch string) error {
	if m.closed {
		return ErrClosed
	}
	last, ok := history.Last()
	if !ok {
		return ErrEmptyHistory
	}
	key, err := m.registerHistory(history)
	if err != nil {
		return err
	}
	if _, ok := m.reached.branches[branchKey{key, branch}]; ok {
		return nil
	}
	return m.appendReached(&savedata.ReachedBranch{HistoryKey: key, Node: last.Name, Branch: branch})
}

// IsBranchReached reports whether branch was taken on history.
func (m *Manager) IsBranchReached(history *nodetree.NodeHistory, branch string) bool {
	key, found := m.reached.lookup(history)
	if !found {
		return false
	}
	_, ok := m.reached.branches[branchKey{key, branch}]
	return ok
}

// SetEndReached marks a story ending as reached.
func (m *Manager) SetEndReached(name string) error {
	if m.closed {
		return ErrClosed
	}
	if _, ok := m.reached.ends[name]; ok {
		return nil
	}
	return m.appendReached(&savedata.ReachedEnd{Name: name})
}

// IsEndReached reports whether the ending was reached.
func (m *Manager) IsEndReached(name string) bool {
	_, ok := m.reached.ends[name]
	return ok
}

// ReachedEnds returns every reached ending, sorted.
func (m *Manager) ReachedEnds() []string {
	out := make([]string, 0, len(m.reached.ends))
	for name := range m.reached.ends {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// NodeHistory returns the node names of the history stored under key.
func (m *Manager) NodeHistory(key uint64) ([]string, bool) {
	entries, ok := m.reached.histories[key]
	if !ok {
		return nil, false
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name
	}
	return names, true
}
