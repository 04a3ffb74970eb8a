package upgrade_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/diff"
	"github.com/randalmurphal/novasave/pkg/novasave/nodetree"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
	"github.com/randalmurphal/novasave/pkg/novasave/upgrade"
)

type fixture struct {
	t     *testing.T
	store *blockstore.Store
	tree  *nodetree.Tree
	root  *nodetree.NodeRecord
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := blockstore.Open(filepath.Join(t.TempDir(), "checkpoints.nsav"), blockstore.WithCacheSize(8))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	tree := nodetree.NewTree(record.New(store))
	root, err := tree.CreateRoot()
	require.NoError(t, err)
	return &fixture{t: t, store: store, tree: tree, root: root}
}

// node adds a child of parent played over [begin, end).
func (f *fixture) node(parent *nodetree.NodeRecord, name string, begin, end int) *nodetree.NodeRecord {
	f.t.Helper()
	n, _, err := f.tree.AddOrGetNode(parent, name, begin, 0)
	require.NoError(f.t, err)
	if end > begin {
		require.NoError(f.t, f.tree.ExtendDialogue(n, end-1))
	}
	// AddOrGetNode patched parent in the file; keep the in-memory copy current.
	reloaded, err := f.tree.Load(parent.Offset)
	require.NoError(f.t, err)
	*parent = *reloaded
	return n
}

// checkpoints appends one checkpoint per dialogue index to n.
func (f *fixture) checkpoints(n *nodetree.NodeRecord, indices ...int) []int64 {
	f.t.Helper()
	a := f.tree.Allocator()
	tail, err := f.tree.RecordEnd(n.Offset)
	require.NoError(f.t, err)
	offs := make([]int64, 0, len(indices))
	for _, idx := range indices {
		at := tail
		tail, err = savedata.Put(a, at, &savedata.Checkpoint{
			DialogueIndex: idx,
			Variables:     map[string]savedata.Variable{"idx": savedata.NumberVar(float64(idx))},
		})
		require.NoError(f.t, err)
		offs = append(offs, at)
	}
	return offs
}

func (f *fixture) load(off int64) *nodetree.NodeRecord {
	f.t.Helper()
	n, err := f.tree.Load(off)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) checkpoint(off int64) *savedata.Checkpoint {
	f.t.Helper()
	cp, err := savedata.Get[*savedata.Checkpoint](f.tree.Allocator(), off)
	require.NoError(f.t, err)
	return cp
}

// names lists every node name reachable from the root, in pre-order.
func (f *fixture) names() []string {
	f.t.Helper()
	var out []string
	root := f.load(f.root.Offset)
	require.NoError(f.t, f.tree.Walk(root, func(n *nodetree.NodeRecord) error {
		if !n.IsRoot() {
			out = append(out, n.Name)
		}
		return nil
	}))
	return out
}

func hashes(texts ...string) []uint64 {
	return diff.HashEntries(texts)
}

func TestUpgrade_EmptyChangesIsIdentity(t *testing.T) {
	f := newFixture(t)
	intro := f.node(f.root, "intro", 0, 3)
	ch1 := f.node(intro, "ch1", 0, 4)
	alt := f.node(intro, "alt", 0, 2)
	cps := f.checkpoints(ch1, 0, 2)
	require.NoError(t, f.store.Flush())

	var before []nodetree.NodeRecord
	require.NoError(t, f.tree.Walk(f.load(f.root.Offset), func(n *nodetree.NodeRecord) error {
		before = append(before, *n)
		return nil
	}))
	blocks := f.store.Len()

	u := upgrade.New(f.tree, upgrade.Changes{})
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	var after []nodetree.NodeRecord
	require.NoError(t, f.tree.Walk(f.load(f.root.Offset), func(n *nodetree.NodeRecord) error {
		after = append(after, *n)
		return nil
	}))
	assert.Equal(t, before, after)
	assert.Equal(t, blocks, f.store.Len(), "nothing was written")
	assert.Equal(t, upgrade.Report{}, u.Report())

	for _, off := range []int64{intro.Offset, ch1.Offset, alt.Offset} {
		_, ok := u.Relocation(off)
		assert.False(t, ok)
	}

	b := &bookmark.Bookmark{NodeOffset: ch1.Offset, CheckpointOffset: cps[1], DialogueIndex: 3}
	want := *b
	changed, err := u.UpgradeBookmark(b)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, want, *b)
}

func TestUpgrade_IdenticalDifferIsUnchanged(t *testing.T) {
	f := newFixture(t)
	intro := f.node(f.root, "intro", 0, 3)
	seq := hashes("a", "b", "c")

	u := upgrade.New(f.tree, upgrade.Changes{"intro": diff.New(seq, seq)})
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	_, ok := u.Relocation(intro.Offset)
	assert.False(t, ok)
	assert.Equal(t, intro.Offset, f.load(f.root.Offset).Child)
}

func TestUpgrade_DeletionPropagation(t *testing.T) {
	f := newFixture(t)
	intro := f.node(f.root, "intro", 0, 2)
	x := f.node(intro, "X", 0, 5)
	after := f.node(x, "after", 0, 3)
	keep := f.node(intro, "keep", 0, 1)
	// A second playthrough enters X straight from the root.
	x2 := f.node(f.root, "X", 0, 1)
	xcp := f.checkpoints(x, 0, 3)
	acp := f.checkpoints(after, 1)
	icp := f.checkpoints(intro, 0)

	var logs bytes.Buffer
	u := upgrade.New(f.tree, upgrade.Changes{"X": nil},
		upgrade.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	assert.Equal(t, []string{"intro", "keep"}, f.names())
	for _, off := range []int64{x.Offset, after.Offset, x2.Offset} {
		newOff, ok := u.Relocation(off)
		assert.True(t, ok)
		assert.Zero(t, newOff)
	}
	assert.Equal(t, 3, u.Report().NodesDeleted)
	assert.Equal(t, keep.Offset, f.load(intro.Offset).Child)

	for _, b := range []*bookmark.Bookmark{
		{NodeOffset: x.Offset, CheckpointOffset: xcp[1], DialogueIndex: 4},
		{NodeOffset: after.Offset, CheckpointOffset: acp[0], DialogueIndex: 2},
		{NodeOffset: x2.Offset, DialogueIndex: 0},
	} {
		_, err := u.UpgradeBookmark(b)
		assert.ErrorIs(t, err, upgrade.ErrInvalidBookmark)
	}

	b := &bookmark.Bookmark{NodeOffset: intro.Offset, CheckpointOffset: icp[0], DialogueIndex: 1}
	changed, err := u.UpgradeBookmark(b)
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, intro.Offset, b.NodeOffset)
}

func TestUpgrade_RemapsChangedNode(t *testing.T) {
	f := newFixture(t)
	intro := f.node(f.root, "intro", 0, 2)
	ch1 := f.node(intro, "ch1", 0, 4)
	cps := f.checkpoints(ch1, 0, 1, 2)

	// b moves from 1 to 2, c is deleted, d moves to 3.
	d := diff.New(hashes("a", "b", "c", "d"), hashes("a", "x", "b", "d"))

	var logs bytes.Buffer
	u := upgrade.New(f.tree, upgrade.Changes{"ch1": d},
		upgrade.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	newOff, ok := u.Relocation(ch1.Offset)
	require.True(t, ok)
	require.NotZero(t, newOff)
	assert.NotEqual(t, ch1.Offset, newOff)

	moved := f.load(newOff)
	assert.Equal(t, "ch1", moved.Name)
	assert.Equal(t, 0, moved.Begin)
	assert.Equal(t, 4, moved.End)
	assert.Equal(t, intro.Offset, moved.Parent)
	assert.Equal(t, newOff, f.load(intro.Offset).Child)
	assert.Equal(t, 1, u.Report().NodesRelocated)
	assert.Equal(t, 1, u.Report().CheckpointsDropped)

	cp0, ok := u.CheckpointRelocation(cps[0])
	require.True(t, ok)
	assert.Equal(t, 0, f.checkpoint(cp0).DialogueIndex)
	cp1, ok := u.CheckpointRelocation(cps[1])
	require.True(t, ok)
	assert.Equal(t, 2, f.checkpoint(cp1).DialogueIndex)
	cp2, ok := u.CheckpointRelocation(cps[2])
	require.True(t, ok)
	assert.Zero(t, cp2)
	assert.Contains(t, logs.String(), "checkpoint dropped")

	t.Run("bookmark on deleted line is clamped", func(t *testing.T) {
		logs.Reset()
		b := &bookmark.Bookmark{NodeOffset: ch1.Offset, CheckpointOffset: cps[2], DialogueIndex: 2}
		changed, err := u.UpgradeBookmark(b)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, newOff, b.NodeOffset)
		assert.Equal(t, 2, b.DialogueIndex)
		assert.Equal(t, cp1, b.CheckpointOffset, "falls back to the nearest earlier checkpoint")
		assert.Contains(t, logs.String(), "bookmark dialogue clamped")
	})

	t.Run("bookmark keeps its relocated checkpoint", func(t *testing.T) {
		logs.Reset()
		b := &bookmark.Bookmark{NodeOffset: ch1.Offset, CheckpointOffset: cps[0], DialogueIndex: 3}
		changed, err := u.UpgradeBookmark(b)
		require.NoError(t, err)
		assert.True(t, changed)
		assert.Equal(t, 3, b.DialogueIndex)
		assert.Equal(t, cp0, b.CheckpointOffset)
		assert.Empty(t, logs.String())
	})
}

func TestUpgrade_InterruptedNodeEndsAtResume(t *testing.T) {
	f := newFixture(t)
	first := f.node(f.root, "ch1", 0, 2)
	resumed := f.node(first, "ch1", 2, 4)
	f.checkpoints(first, 0)
	f.checkpoints(resumed, 2)

	d := diff.New(hashes("a", "b", "c", "d"), hashes("z", "a", "b", "c", "d"))
	u := upgrade.New(f.tree, upgrade.Changes{"ch1": d})
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	off1, _ := u.Relocation(first.Offset)
	off2, _ := u.Relocation(resumed.Offset)
	n1, n2 := f.load(off1), f.load(off2)
	assert.Equal(t, [2]int{1, 3}, [2]int{n1.Begin, n1.End})
	assert.Equal(t, [2]int{3, 5}, [2]int{n2.Begin, n2.End})
	assert.Equal(t, off2, n1.Child)
	assert.Equal(t, off1, n2.Parent)
	assert.Equal(t, off1, f.load(f.root.Offset).Child)
}

func TestUpgrade_PlayedThroughEndsAtNewLength(t *testing.T) {
	f := newFixture(t)
	ch1 := f.node(f.root, "ch1", 0, 2)
	ch2 := f.node(ch1, "ch2", 0, 1)

	d := diff.New(hashes("a", "b"), hashes("a", "b", "c"))
	u := upgrade.New(f.tree, upgrade.Changes{"ch1": d})
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	off, _ := u.Relocation(ch1.Offset)
	n := f.load(off)
	assert.Equal(t, 3, n.End)
	assert.Equal(t, ch2.Offset, n.Child)
	assert.Equal(t, off, f.load(ch2.Offset).Parent, "unchanged child is re-parented in place")
}

func TestUpgrade_EmptyRangeDeletesSubtree(t *testing.T) {
	f := newFixture(t)
	// Only line c was played before the node was interrupted, and c is gone.
	ch1 := f.node(f.root, "ch1", 2, 3)
	resumed := f.node(ch1, "ch1", 3, 4)

	d := diff.New(hashes("a", "b", "c", "d"), hashes("a", "x", "b", "d"))
	u := upgrade.New(f.tree, upgrade.Changes{"ch1": d})
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	assert.Empty(t, f.names())
	for _, off := range []int64{ch1.Offset, resumed.Offset} {
		newOff, ok := u.Relocation(off)
		assert.True(t, ok)
		assert.Zero(t, newOff)
	}
}

func TestUpgrade_ContextCanceled(t *testing.T) {
	f := newFixture(t)
	ch1 := f.node(f.root, "ch1", 0, 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := diff.New(hashes("a", "b"), hashes("b"))
	u := upgrade.New(f.tree, upgrade.Changes{"ch1": d})
	err := u.UpgradeTree(ctx, f.load(f.root.Offset))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ch1.Offset, f.load(f.root.Offset).Child, "tree untouched")
}

func TestUpgrade_UnreadableSiblingIsDropped(t *testing.T) {
	f := newFixture(t)
	intro := f.node(f.root, "intro", 0, 3)
	cps := f.checkpoints(intro, 2)
	side := f.node(f.root, "side", 0, 2)

	// Truncate side's record to 5 bytes by rewriting its length prefix.
	id, index, err := blockstore.SplitOffset(side.Offset)
	require.NoError(t, err)
	blk, err := f.store.Get(id)
	require.NoError(t, err)
	binary.LittleEndian.PutUint32(blk.Payload()[index:], 5)
	blk.MarkDirty()
	_, err = f.tree.Load(side.Offset)
	require.ErrorIs(t, err, blockstore.ErrCorruptedStore)

	var logs bytes.Buffer
	d := diff.New(hashes("a", "b", "c"), hashes("a", "x", "b", "c"))
	u := upgrade.New(f.tree, upgrade.Changes{"intro": d},
		upgrade.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))

	assert.Equal(t, []string{"intro"}, f.names())
	assert.Equal(t, 1, u.Report().NodesRelocated)
	assert.Equal(t, 1, u.Report().NodesDeleted)
	assert.Contains(t, logs.String(), "node dropped")

	sideOff, ok := u.Relocation(side.Offset)
	assert.True(t, ok)
	assert.Zero(t, sideOff)

	newOff, ok := u.Relocation(intro.Offset)
	require.True(t, ok)
	require.NotZero(t, newOff)
	assert.Zero(t, f.load(newOff).Brother)

	b := &bookmark.Bookmark{NodeOffset: intro.Offset, CheckpointOffset: cps[0], DialogueIndex: 2}
	changed, err := u.UpgradeBookmark(b)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, newOff, b.NodeOffset)
	assert.Equal(t, 3, b.DialogueIndex)
	assert.Equal(t, 3, f.checkpoint(b.CheckpointOffset).DialogueIndex)

	sideBookmark := &bookmark.Bookmark{NodeOffset: side.Offset, DialogueIndex: 1}
	_, err = u.UpgradeBookmark(sideBookmark)
	assert.ErrorIs(t, err, upgrade.ErrInvalidBookmark)
}

func TestUpgradeBookmark_CheckpointsOutOfOrder(t *testing.T) {
	f := newFixture(t)
	ch1 := f.node(f.root, "ch1", 0, 4)
	// a rewound playthrough stores later lines first
	cps := f.checkpoints(ch1, 2, 0)

	d := diff.New(hashes("a", "b", "c", "d"), hashes("a", "b", "c", "d", "e"))
	u := upgrade.New(f.tree, upgrade.Changes{"ch1": d})
	require.NoError(t, u.UpgradeTree(context.Background(), f.load(f.root.Offset)))
	at2, _ := u.CheckpointRelocation(cps[0])
	at0, _ := u.CheckpointRelocation(cps[1])

	t.Run("unknown checkpoint picks highest earlier line", func(t *testing.T) {
		b := &bookmark.Bookmark{NodeOffset: ch1.Offset, DialogueIndex: 3}
		_, err := u.UpgradeBookmark(b)
		require.NoError(t, err)
		assert.Equal(t, at2, b.CheckpointOffset)
	})

	t.Run("relocated checkpoint after a later one is kept", func(t *testing.T) {
		b := &bookmark.Bookmark{NodeOffset: ch1.Offset, CheckpointOffset: cps[1], DialogueIndex: 1}
		_, err := u.UpgradeBookmark(b)
		require.NoError(t, err)
		assert.Equal(t, at0, b.CheckpointOffset)
	})

	t.Run("later checkpoint is skipped", func(t *testing.T) {
		b := &bookmark.Bookmark{NodeOffset: ch1.Offset, CheckpointOffset: cps[0], DialogueIndex: 1}
		_, err := u.UpgradeBookmark(b)
		require.NoError(t, err)
		assert.Equal(t, at0, b.CheckpointOffset)
	})
}

func TestUpgradeReached(t *testing.T) {
	f := newFixture(t)
	a := f.tree.Allocator()
	begin, err := a.Begin(blockstore.TypeReached)
	require.NoError(t, err)

	entries := []savedata.Payload{
		&savedata.ReachedHistory{Key: 1, Entries: []nodetree.Entry{{Name: "intro"}, {Name: "X"}}},
		&savedata.ReachedHistory{Key: 2, Entries: []nodetree.Entry{{Name: "intro"}, {Name: "ch1"}}},
		&savedata.ReachedDialogue{HistoryKey: 1, Node: "intro", DialogueIndex: 0},
		&savedata.ReachedDialogue{HistoryKey: 2, Node: "ch1", DialogueIndex: 2},
		&savedata.ReachedDialogue{HistoryKey: 2, Node: "ch1", DialogueIndex: 1},
		&savedata.ReachedDialogue{HistoryKey: 2, Node: "intro", DialogueIndex: 1},
		&savedata.ReachedBranch{HistoryKey: 1, Node: "intro", Branch: "left"},
		&savedata.ReachedBranch{HistoryKey: 2, Node: "intro", Branch: "right"},
		&savedata.ReachedEnd{Name: "good"},
	}
	off := begin
	for i, p := range entries {
		off, err = savedata.Put(a, off, p)
		require.NoError(t, err)
		if i == 2 {
			off, err = a.Append(off, []byte(`{"type":"reflect.Value","data":{}}`))
			require.NoError(t, err)
		}
	}

	d := diff.New(hashes("a", "b", "c", "d"), hashes("a", "x", "b", "d"))
	u := upgrade.New(f.tree, upgrade.Changes{"X": nil, "ch1": d})
	newBegin, newEnd, err := u.UpgradeReached(begin)
	require.NoError(t, err)
	assert.NotEqual(t, begin, newBegin)

	var got []savedata.Payload
	end, err := savedata.ForEach(a, newBegin, func(_ int64, p savedata.Payload) error {
		got = append(got, p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, newEnd, end)

	assert.Equal(t, []savedata.Payload{
		&savedata.ReachedHistory{Key: 2, Entries: []nodetree.Entry{{Name: "intro"}, {Name: "ch1"}}},
		&savedata.ReachedDialogue{HistoryKey: 2, Node: "ch1", DialogueIndex: 2},
		&savedata.ReachedDialogue{HistoryKey: 2, Node: "intro", DialogueIndex: 1},
		&savedata.ReachedBranch{HistoryKey: 2, Node: "intro", Branch: "right"},
		&savedata.ReachedEnd{Name: "good"},
	}, got)
	assert.Equal(t, 5, u.Report().ReachedDropped)
}

func TestChanges(t *testing.T) {
	c := upgrade.Changes{"gone": nil, "edited": diff.New(hashes("a"), hashes("b"))}
	assert.True(t, c.Removed("gone"))
	assert.False(t, c.Removed("edited"))
	assert.False(t, c.Removed("other"))

	changed, removed := c.Counts()
	assert.Equal(t, 1, changed)
	assert.Equal(t, 1, removed)
}
