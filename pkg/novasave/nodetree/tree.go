package nodetree

import (
	"encoding/binary"
	"fmt"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
)

// Tree reads and links node records through a record allocator.
type Tree struct {
	alloc *record.Allocator
	debug bool
}

// Option configures a Tree.
type Option func(*Tree)

// WithDebug makes invariant violations by callers panic instead of being
// ignored. Tests and development builds turn it on.
func WithDebug(debug bool) Option {
	return func(t *Tree) {
		t.debug = debug
	}
}

// NewTree creates a tree over alloc.
func NewTree(alloc *record.Allocator, opts ...Option) *Tree {
	t := &Tree{alloc: alloc}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Allocator returns the underlying record allocator.
func (t *Tree) Allocator() *record.Allocator {
	return t.alloc
}

// CreateRoot writes a new forest root.
func (t *Tree) CreateRoot() (*NodeRecord, error) {
	return t.Create(&NodeRecord{})
}

// Create writes n at the start of a fresh block chain and sets n.Offset.
// The record is not linked into any sibling list.
func (t *Tree) Create(n *NodeRecord) (*NodeRecord, error) {
	data, err := n.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("create node %q: %w", n.Name, err)
	}
	off, err := t.alloc.Begin(blockstore.TypeCheckpoint)
	if err != nil {
		return nil, fmt.Errorf("create node %q: %w", n.Name, err)
	}
	if _, err := t.alloc.Append(off, data); err != nil {
		return nil, fmt.Errorf("create node %q: %w", n.Name, err)
	}
	n.Offset = off
	return n, nil
}

// Relocate copies n into a fresh block chain and returns the copy. The old
// record is left as is; links pointing at it must be patched by the caller.
func (t *Tree) Relocate(n *NodeRecord) (*NodeRecord, error) {
	cp := *n
	return t.Create(&cp)
}

// Load reads the node record at off.
func (t *Tree) Load(off int64) (*NodeRecord, error) {
	data, err := t.alloc.Get(off)
	if err != nil {
		return nil, fmt.Errorf("load node: %w", err)
	}
	return UnmarshalNode(off, data)
}

// AddOrGetNode returns the child of parent with the given name and begin
// index, creating and linking it at the end of the child list when there is
// none. The boolean reports whether the node was created. parent's child
// link is refreshed from the file first, so a stale copy is safe to pass.
func (t *Tree) AddOrGetNode(parent *NodeRecord, name string, begin int, varHash uint64) (*NodeRecord, bool, error) {
	stored, err := t.Load(parent.Offset)
	if err != nil {
		return nil, false, err
	}
	parent.Child = stored.Child

	var last *NodeRecord
	for off := parent.Child; off != 0; {
		child, err := t.Load(off)
		if err != nil {
			return nil, false, err
		}
		if child.Name == name && child.Begin == begin {
			return child, false, nil
		}
		last = child
		off = child.Brother
	}

	n, err := t.Create(&NodeRecord{
		Parent:       parent.Offset,
		Begin:        begin,
		End:          begin,
		VariableHash: varHash,
		Name:         name,
	})
	if err != nil {
		return nil, false, err
	}
	if last == nil {
		err = t.SetChild(parent, n.Offset)
	} else {
		err = t.SetBrother(last, n.Offset)
	}
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

// ExtendDialogue records that dialogue index idx was played in n. End only
// grows. Extending with an index before n's range, or through a node whose
// stored parent differs from n.Parent, is a caller bug: it panics in debug
// mode and is ignored otherwise.
func (t *Tree) ExtendDialogue(n *NodeRecord, idx int) error {
	stored, err := t.Load(n.Offset)
	if err != nil {
		return err
	}
	if idx < n.Begin || stored.Parent != n.Parent {
		if t.debug {
			panic(fmt.Sprintf("nodetree: extend %q@%d to %d from parent %d, stored parent %d",
				n.Name, n.Offset, idx, n.Parent, stored.Parent))
		}
		return nil
	}
	if idx+1 <= stored.End {
		n.End = stored.End
		return nil
	}
	if err := t.putUint32(n.Offset, endAt, uint32(idx+1)); err != nil {
		return err
	}
	n.End = idx + 1
	return nil
}

// SetRange rewrites the dialogue range of n in place.
func (t *Tree) SetRange(n *NodeRecord, begin, end int) error {
	if begin < 0 || end < begin {
		return fmt.Errorf("set range of %q: invalid range [%d,%d)", n.Name, begin, end)
	}
	if err := t.putUint32(n.Offset, beginAt, uint32(begin)); err != nil {
		return err
	}
	if err := t.putUint32(n.Offset, endAt, uint32(end)); err != nil {
		return err
	}
	n.Begin, n.End = begin, end
	return nil
}

// SetParent rewrites n's parent link in place.
func (t *Tree) SetParent(n *NodeRecord, off int64) error {
	if err := t.putUint64(n.Offset, parentAt, uint64(off)); err != nil {
		return err
	}
	n.Parent = off
	return nil
}

// SetChild rewrites n's first-child link in place.
func (t *Tree) SetChild(n *NodeRecord, off int64) error {
	if err := t.putUint64(n.Offset, childAt, uint64(off)); err != nil {
		return err
	}
	n.Child = off
	return nil
}

// SetBrother rewrites n's next-sibling link in place.
func (t *Tree) SetBrother(n *NodeRecord, off int64) error {
	if err := t.putUint64(n.Offset, brotherAt, uint64(off)); err != nil {
		return err
	}
	n.Brother = off
	return nil
}

// Children returns the child list of n in sibling order.
func (t *Tree) Children(n *NodeRecord) ([]*NodeRecord, error) {
	var children []*NodeRecord
	for off := n.Child; off != 0; {
		child, err := t.Load(off)
		if err != nil {
			return nil, err
		}
		children = append(children, child)
		off = child.Brother
	}
	return children, nil
}

// Unlink removes child from parent's child list. The child record itself is
// not modified.
func (t *Tree) Unlink(parent, child *NodeRecord) error {
	if parent.Child == child.Offset {
		return t.SetChild(parent, child.Brother)
	}
	for off := parent.Child; off != 0; {
		sib, err := t.Load(off)
		if err != nil {
			return err
		}
		if sib.Brother == child.Offset {
			return t.SetBrother(sib, child.Brother)
		}
		off = sib.Brother
	}
	return fmt.Errorf("unlink %q@%d: not a child of %d", child.Name, child.Offset, parent.Offset)
}

// Walk visits n and every node below it in pre-order. Returning an error
// from fn stops the walk.
func (t *Tree) Walk(n *NodeRecord, fn func(*NodeRecord) error) error {
	if err := fn(n); err != nil {
		return err
	}
	for off := n.Child; off != 0; {
		child, err := t.Load(off)
		if err != nil {
			return err
		}
		if err := t.Walk(child, fn); err != nil {
			return err
		}
		off = child.Brother
	}
	return nil
}

// RecordEnd returns the offset just past the node record at off, where its
// first checkpoint is stored.
func (t *Tree) RecordEnd(off int64) (int64, error) {
	return t.alloc.Next(off)
}

func (t *Tree) putUint64(off int64, at int, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return t.alloc.Overwrite(off, at, buf[:])
}

func (t *Tree) putUint32(off int64, at int, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return t.alloc.Overwrite(off, at, buf[:])
}
