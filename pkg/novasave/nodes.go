package novasave

import (
	"fmt"

	"github.com/randalmurphal/novasave/pkg/novasave/nodetree"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

// CheckpointRef locates one checkpoint of a node.
type CheckpointRef struct {
	Offset        int64
	DialogueIndex int
}

// Root returns the forest root. Its children are the first nodes of every
// playthrough.
func (m *Manager) Root() (*nodetree.NodeRecord, error) {
	if m.closed {
		return nil, ErrClosed
	}
	return m.tree.Load(m.global.BeginCheckpoint)
}

// Node returns the node record at off.
func (m *Manager) Node(off int64) (*nodetree.NodeRecord, error) {
	if m.closed {
		return nil, ErrClosed
	}
	return m.tree.Load(off)
}

// Children returns the nodes entered from n, in the order they were first
// played.
func (m *Manager) Children(n *nodetree.NodeRecord) ([]*nodetree.NodeRecord, error) {
	if m.closed {
		return nil, ErrClosed
	}
	stored, err := m.tree.Load(n.Offset)
	if err != nil {
		return nil, err
	}
	return m.tree.Children(stored)
}

// LatestNode returns the most recently created node record, or the root
// when nothing was played.
func (m *Manager) LatestNode() (*nodetree.NodeRecord, error) {
	return m.Node(m.global.EndCheckpoint)
}

// AddOrGetNode returns the child of parent entered at dialogue index begin
// of name, creating it when this path is new.
func (m *Manager) AddOrGetNode(parent *nodetree.NodeRecord, name string, begin int, varHash uint64) (*nodetree.NodeRecord, error) {
	if m.closed {
		return nil, ErrClosed
	}
	n, created, err := m.tree.AddOrGetNode(parent, name, begin, varHash)
	if err != nil {
		return nil, err
	}
	if created {
		m.global.EndCheckpoint = n.Offset
	}
	return n, nil
}

// ExtendDialogue records that dialogue index idx of n was played.
func (m *Manager) ExtendDialogue(n *nodetree.NodeRecord, idx int) error {
	if m.closed {
		return ErrClosed
	}
	return m.tree.ExtendDialogue(n, idx)
}

// AppendCheckpoint stores cp after the last checkpoint of n and returns its
// offset. The dialogue range of n is extended to cover cp.
func (m *Manager) AppendCheckpoint(n *nodetree.NodeRecord, cp *savedata.Checkpoint) (int64, error) {
	if m.closed {
		return 0, ErrClosed
	}
	if err := m.tree.ExtendDialogue(n, cp.DialogueIndex); err != nil {
		return 0, err
	}
	at, err := m.checkpointTail(n.Offset)
	if err != nil {
		return 0, err
	}
	next, err := savedata.Put(m.alloc, at, cp)
	if err != nil {
		return 0, fmt.Errorf("append checkpoint to %q: %w", n.Name, err)
	}
	m.tails[n.Offset] = next
	return at, nil
}

func (m *Manager) checkpointTail(off int64) (int64, error) {
	if tail, ok := m.tails[off]; ok {
		return tail, nil
	}
	begin, err := m.tree.RecordEnd(off)
	if err != nil {
		return 0, err
	}
	tail, err := m.alloc.ForEach(begin, func(int64, []byte) error { return nil })
	if err != nil {
		return 0, err
	}
	m.tails[off] = tail
	return tail, nil
}

// Checkpoint reads the checkpoint record at off.
func (m *Manager) Checkpoint(off int64) (*savedata.Checkpoint, error) {
	if m.closed {
		return nil, ErrClosed
	}
	return savedata.Get[*savedata.Checkpoint](m.alloc, off)
}

// Checkpoints lists the checkpoints of n in the order they were stored.
func (m *Manager) Checkpoints(n *nodetree.NodeRecord) ([]CheckpointRef, error) {
	if m.closed {
		return nil, ErrClosed
	}
	begin, err := m.tree.RecordEnd(n.Offset)
	if err != nil {
		return nil, err
	}
	var refs []CheckpointRef
	_, err = savedata.ForEach(m.alloc, begin, func(off int64, p savedata.Payload) error {
		cp, ok := p.(*savedata.Checkpoint)
		if !ok {
			return fmt.Errorf("%w: %s in checkpoint list of %q", ErrCorruptedStore, p.PayloadType(), n.Name)
		}
		refs = append(refs, CheckpointRef{Offset: off, DialogueIndex: cp.DialogueIndex})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return refs, nil
}
