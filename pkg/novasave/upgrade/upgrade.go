// Package upgrade migrates a save onto an edited narrative script.
//
// The caller describes the edit as a change map from node name to the
// Differ of the node's old and new dialogue hashes; a nil Differ means the
// node was removed from the script. An Upgrader then rewrites, in order:
//
//  1. the reached history (UpgradeReached), into a new list the caller
//     switches to once the tree is done;
//  2. the node tree (UpgradeTree): removed nodes and their subtrees are
//     unlinked, changed nodes are copied into new records with remapped
//     dialogue ranges and checkpoints, and every surviving link is patched;
//  3. each bookmark, independently (UpgradeBookmark).
//
// Nodes whose name is not in the change map keep their offset, so an empty
// change map writes nothing.
package upgrade

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/randalmurphal/novasave/pkg/novasave/diff"
	"github.com/randalmurphal/novasave/pkg/novasave/nodetree"
	"github.com/randalmurphal/novasave/pkg/novasave/observability"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

// ErrInvalidBookmark is returned for a bookmark that no longer points at a
// playable position and must be deleted.
var ErrInvalidBookmark = errors.New("bookmark invalidated by upgrade")

// Changes maps a node name to the alignment of its old and new dialogue.
// A nil Differ marks the node as removed.
type Changes map[string]*diff.Differ

// Removed reports whether name was removed from the script.
func (c Changes) Removed(name string) bool {
	d, ok := c[name]
	return ok && d == nil
}

// Counts returns the number of changed and removed nodes.
func (c Changes) Counts() (changed, removed int) {
	for _, d := range c {
		if d == nil {
			removed++
		} else {
			changed++
		}
	}
	return changed, removed
}

// Report summarizes what an upgrade did.
type Report struct {
	NodesRelocated     int
	NodesDeleted       int
	CheckpointsDropped int
	ReachedDropped     int
}

// Option configures an Upgrader.
type Option func(*Upgrader)

// WithLogger sets the logger used for clamp and drop diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(u *Upgrader) {
		u.logger = logger
	}
}

// checkpointRef is a surviving checkpoint of a relocated node.
type checkpointRef struct {
	offset   int64
	dialogue int
}

// plan is the in-memory decision for one node record.
type plan struct {
	old      *nodetree.NodeRecord
	parent   *plan
	children []*plan

	differ     *diff.Differ
	removed    bool
	deleted    bool
	begin, end int

	// cur is the record that survives: old when kept in place, the copy
	// when relocated.
	cur         *nodetree.NodeRecord
	checkpoints []checkpointRef
}

func (p *plan) relocated() bool {
	return p.differ != nil && !p.deleted
}

// Upgrader rewrites one save. It is not safe for concurrent use.
type Upgrader struct {
	tree    *nodetree.Tree
	alloc   *record.Allocator
	changes Changes
	logger  *slog.Logger
	put     func(*record.Allocator, int64, savedata.Payload) (int64, error)

	plans       map[int64]*plan
	nodeMap     map[int64]int64
	checkpoints map[int64]int64
	report      Report
}

// New creates an Upgrader over tree. Identical differs count as unchanged.
func New(tree *nodetree.Tree, changes Changes, opts ...Option) *Upgrader {
	u := &Upgrader{
		tree:        tree,
		alloc:       tree.Allocator(),
		changes:     changes,
		put:         savedata.Put,
		plans:       make(map[int64]*plan),
		nodeMap:     make(map[int64]int64),
		checkpoints: make(map[int64]int64),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Report returns the counts gathered so far.
func (u *Upgrader) Report() Report {
	return u.report
}

// Relocation returns where the node record at off now lives. ok is false
// when the node was not touched; a zero offset means it was deleted.
func (u *Upgrader) Relocation(off int64) (newOff int64, ok bool) {
	newOff, ok = u.nodeMap[off]
	return newOff, ok
}

// CheckpointRelocation returns where the checkpoint record at off now
// lives. ok is false when its node was not relocated; a zero offset means
// the checkpoint was dropped.
func (u *Upgrader) CheckpointRelocation(off int64) (newOff int64, ok bool) {
	newOff, ok = u.checkpoints[off]
	return newOff, ok
}

// UpgradeTree rewrites the tree below root. The root itself is never
// relocated. It returns ctx.Err() if the context ends before the rewrite
// starts writing links.
//
// A node record that cannot be read or copied is dropped with everything
// below it, the same way a removed node is; its siblings are upgraded as
// usual. Failing to write a surviving checkpoint or link aborts.
func (u *Upgrader) UpgradeTree(ctx context.Context, root *nodetree.NodeRecord) error {
	top := u.load(root, nil)
	for _, c := range top.children {
		u.planRanges(c)
	}
	for _, c := range top.children {
		u.propagate(c, false)
	}

	if err := ctx.Err(); err != nil {
		return err
	}

	if err := u.relocate(ctx, top); err != nil {
		return err
	}
	return u.link(top)
}

// load reads the subtree at n into plans. An unreadable child ends n's
// sibling list there, since the brother link past it is lost too.
func (u *Upgrader) load(n *nodetree.NodeRecord, parent *plan) *plan {
	p := &plan{old: n, parent: parent, cur: n, begin: n.Begin, end: n.End}
	if parent != nil {
		if d, ok := u.changes[n.Name]; ok {
			p.removed = d == nil
			if d != nil && !d.Identical() {
				p.differ = d
			}
		}
	}
	u.plans[n.Offset] = p

	for off := n.Child; off != 0; {
		c, err := u.tree.Load(off)
		if err != nil {
			u.nodeMap[off] = 0
			u.report.NodesDeleted++
			observability.LogNodeDropped(u.logger, n.Name, off, err)
			break
		}
		p.children = append(p.children, u.load(c, p))
		off = c.Brother
	}
	return p
}

// planRanges decides, children first, which nodes are dropped and the new
// dialogue range of every changed node.
func (u *Upgrader) planRanges(p *plan) {
	for _, c := range p.children {
		u.planRanges(c)
	}
	if p.removed {
		p.deleted = true
		return
	}
	if p.differ == nil {
		return
	}

	d := p.differ
	p.begin = d.RightMap(p.old.Begin)

	sameName := -1
	otherName := false
	for _, c := range p.children {
		if c.deleted {
			continue
		}
		if c.old.Name == p.old.Name {
			if c.begin > sameName {
				sameName = c.begin
			}
		} else {
			otherName = true
		}
	}
	switch {
	case otherName:
		// The node was played to its end before moving on.
		p.end = d.NewLen()
	case sameName >= 0:
		// Play was interrupted and resumed in the same node.
		p.end = sameName
	default:
		p.end = d.LeftMap(p.old.End-1) + 1
	}

	if p.end <= p.begin {
		p.deleted = true
	}
}

func (u *Upgrader) propagate(p *plan, parentDeleted bool) {
	if parentDeleted {
		p.deleted = true
	}
	if p.deleted {
		u.nodeMap[p.old.Offset] = 0
		u.report.NodesDeleted++
	}
	for _, c := range p.children {
		u.propagate(c, p.deleted)
	}
}

// relocate copies every surviving changed node into a new record.
func (u *Upgrader) relocate(ctx context.Context, p *plan) error {
	if p.relocated() {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := u.relocateNode(p); err != nil {
			return err
		}
		if p.deleted {
			return nil
		}
	}
	for _, c := range p.children {
		if c.deleted {
			continue
		}
		if err := u.relocate(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

// relocateNode copies p into a new record followed by its surviving
// checkpoints. When the copy itself cannot be made, p is dropped instead.
func (u *Upgrader) relocateNode(p *plan) error {
	old := p.old
	from, err := u.tree.RecordEnd(old.Offset)
	if err != nil {
		u.dropSubtree(p, err)
		return nil
	}
	n, err := u.tree.Create(&nodetree.NodeRecord{
		Name:         old.Name,
		Begin:        p.begin,
		End:          p.end,
		VariableHash: old.VariableHash,
	})
	if err != nil {
		u.dropSubtree(p, err)
		return nil
	}
	tail, err := u.tree.RecordEnd(n.Offset)
	if err != nil {
		u.dropSubtree(p, err)
		return nil
	}
	p.cur = n
	u.nodeMap[old.Offset] = n.Offset
	u.report.NodesRelocated++

	// A broken checkpoint list loses the rest of the list, not the node.
	var writeErr error
	_, walkErr := u.alloc.ForEach(from, func(off int64, data []byte) error {
		cp, err := savedata.Decode[*savedata.Checkpoint](data)
		if err != nil {
			u.dropCheckpoint(old.Name, off, err)
			return nil
		}
		j := p.differ.Forward(cp.DialogueIndex)
		if j < p.begin || j >= p.end {
			u.dropCheckpoint(old.Name, off, nil)
			return nil
		}
		cp.DialogueIndex = j
		at := tail
		tail, writeErr = u.put(u.alloc, at, cp)
		if writeErr != nil {
			return writeErr
		}
		u.checkpoints[off] = at
		p.checkpoints = append(p.checkpoints, checkpointRef{offset: at, dialogue: j})
		return nil
	})
	if writeErr != nil {
		return fmt.Errorf("relocate %q@%d: %w", old.Name, old.Offset, writeErr)
	}
	if walkErr != nil {
		var recErr *record.RecordError
		if !errors.As(walkErr, &recErr) {
			return fmt.Errorf("relocate %q@%d: %w", old.Name, old.Offset, walkErr)
		}
		observability.LogCheckpointDropped(u.logger, old.Name, recErr.Offset, walkErr)
	}
	return nil
}

// dropSubtree deletes p and every node below it after p could not be
// relocated.
func (u *Upgrader) dropSubtree(p *plan, err error) {
	name := ""
	if p.parent != nil {
		name = p.parent.old.Name
	}
	observability.LogNodeDropped(u.logger, name, p.old.Offset, err)
	var drop func(*plan)
	drop = func(q *plan) {
		if !q.deleted {
			q.deleted = true
			q.cur = q.old
			u.nodeMap[q.old.Offset] = 0
			u.report.NodesDeleted++
		}
		for _, c := range q.children {
			drop(c)
		}
	}
	drop(p)
}

func (u *Upgrader) dropCheckpoint(node string, off int64, err error) {
	u.checkpoints[off] = 0
	u.report.CheckpointsDropped++
	observability.LogCheckpointDropped(u.logger, node, off, err)
}

// link patches parent, child and brother pointers of every surviving node
// whose targets moved. Records that already point at the right place are
// not written.
func (u *Upgrader) link(p *plan) error {
	var kept []*plan
	for _, c := range p.children {
		if !c.deleted {
			kept = append(kept, c)
		}
	}

	var child int64
	if len(kept) > 0 {
		child = kept[0].cur.Offset
	}
	if p.cur.Child != child {
		if err := u.tree.SetChild(p.cur, child); err != nil {
			return err
		}
	}

	for i, c := range kept {
		var brother int64
		if i+1 < len(kept) {
			brother = kept[i+1].cur.Offset
		}
		if c.cur.Brother != brother {
			if err := u.tree.SetBrother(c.cur, brother); err != nil {
				return err
			}
		}
		if c.cur.Parent != p.cur.Offset {
			if err := u.tree.SetParent(c.cur, p.cur.Offset); err != nil {
				return err
			}
		}
		if err := u.link(c); err != nil {
			return err
		}
	}
	return nil
}
