// Package nodetree persists the forest of visited narrative nodes.
//
// Every NodeRecord is one occurrence of a script node on some playthrough.
// Records link to each other by record offset: Parent, the first Child, and
// the next Brother in the parent's child list. Offset 0 is the null link.
// Each record starts its own block chain, and the checkpoints taken inside
// the node are stored back-to-back right after it.
package nodetree

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
)

// Binary layout of a node record. Every field before the name has a fixed
// position so links and ranges can be patched in place.
const (
	parentAt  = 0
	childAt   = 8
	brotherAt = 16
	beginAt   = 24
	endAt     = 28
	varHashAt = 32
	nameLenAt = 40
	nameAt    = 42
)

// NodeRecord is one visited node occurrence.
type NodeRecord struct {
	// Offset is the record's own location.
	Offset int64
	// Parent is the node this one was entered from, 0 for the forest root.
	Parent int64
	// Child is the first node entered from this one, 0 for a leaf.
	Child int64
	// Brother is the next sibling in the parent's child list.
	Brother int64
	// Begin is the first dialogue index played on this path.
	Begin int
	// End is one past the last dialogue index played on this path.
	End int
	// VariableHash is the hash of the variable store on entry.
	VariableHash uint64
	// Name is the script node name. The forest root has an empty name.
	Name string
}

// IsLeaf reports whether no path continues past this node.
func (n *NodeRecord) IsLeaf() bool {
	return n.Child == 0
}

// IsRoot reports whether n is the forest root.
func (n *NodeRecord) IsRoot() bool {
	return n.Parent == 0 && n.Name == ""
}

// Contains reports whether dialogue index i was played on this path.
func (n *NodeRecord) Contains(i int) bool {
	return i >= n.Begin && i < n.End
}

// MarshalBinary encodes the record.
func (n *NodeRecord) MarshalBinary() ([]byte, error) {
	if len(n.Name) > math.MaxUint16 {
		return nil, fmt.Errorf("node name too long (%d bytes)", len(n.Name))
	}
	if n.Begin < 0 || n.End < n.Begin || n.End > math.MaxInt32 {
		return nil, fmt.Errorf("invalid dialogue range [%d,%d)", n.Begin, n.End)
	}
	buf := make([]byte, nameAt+len(n.Name))
	binary.LittleEndian.PutUint64(buf[parentAt:], uint64(n.Parent))
	binary.LittleEndian.PutUint64(buf[childAt:], uint64(n.Child))
	binary.LittleEndian.PutUint64(buf[brotherAt:], uint64(n.Brother))
	binary.LittleEndian.PutUint32(buf[beginAt:], uint32(n.Begin))
	binary.LittleEndian.PutUint32(buf[endAt:], uint32(n.End))
	binary.LittleEndian.PutUint64(buf[varHashAt:], n.VariableHash)
	binary.LittleEndian.PutUint16(buf[nameLenAt:], uint16(len(n.Name)))
	copy(buf[nameAt:], n.Name)
	return buf, nil
}

// UnmarshalNode decodes the record stored at offset.
func UnmarshalNode(offset int64, data []byte) (*NodeRecord, error) {
	if len(data) < nameAt {
		return nil, fmt.Errorf("%w: node record at %d too short (%d bytes)", blockstore.ErrCorruptedStore, offset, len(data))
	}
	nameLen := int(binary.LittleEndian.Uint16(data[nameLenAt:]))
	if len(data) != nameAt+nameLen {
		return nil, fmt.Errorf("%w: node record at %d has %d bytes, name needs %d", blockstore.ErrCorruptedStore, offset, len(data), nameAt+nameLen)
	}
	n := &NodeRecord{
		Offset:       offset,
		Parent:       int64(binary.LittleEndian.Uint64(data[parentAt:])),
		Child:        int64(binary.LittleEndian.Uint64(data[childAt:])),
		Brother:      int64(binary.LittleEndian.Uint64(data[brotherAt:])),
		Begin:        int(binary.LittleEndian.Uint32(data[beginAt:])),
		End:          int(binary.LittleEndian.Uint32(data[endAt:])),
		VariableHash: binary.LittleEndian.Uint64(data[varHashAt:]),
		Name:         string(data[nameAt:]),
	}
	if n.End < n.Begin {
		return nil, fmt.Errorf("%w: node record at %d has range [%d,%d)", blockstore.ErrCorruptedStore, offset, n.Begin, n.End)
	}
	return n, nil
}
