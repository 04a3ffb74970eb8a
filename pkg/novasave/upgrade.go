package novasave

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/diff"
	"github.com/randalmurphal/novasave/pkg/novasave/observability"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
	"github.com/randalmurphal/novasave/pkg/novasave/upgrade"
)

// UpgradeReport summarizes an upgrade of the save and its bookmarks.
type UpgradeReport struct {
	upgrade.Report
	BookmarksUpgraded int
	BookmarksDeleted  int
	Duration          time.Duration
}

// Upgrade migrates the save onto an edited script. changes maps each edited
// node name to the Differ of its old and new dialogue hashes, nil for a
// removed node. An empty map changes nothing.
//
// The reached history and then the node tree are rewritten first; an
// error there is returned, nothing is flushed and the save keeps reading
// the old tree and history. Bookmarks are then upgraded one by one: a
// bookmark that cannot be remapped is deleted without affecting the others.
func (m *Manager) Upgrade(ctx context.Context, changes upgrade.Changes) (UpgradeReport, error) {
	return m.runUpgrade(ctx, changes, nil)
}

// runUpgrade is Upgrade with a hook that stores more of the save. finish
// runs after the rewrite and before the one flush, so both reach the file
// together. With no changes, only finish and the flush run.
func (m *Manager) runUpgrade(ctx context.Context, changes upgrade.Changes, finish func() error) (UpgradeReport, error) {
	if m.closed {
		return UpgradeReport{}, ErrClosed
	}
	if len(changes) == 0 {
		if finish == nil {
			return UpgradeReport{}, nil
		}
		if err := finish(); err != nil {
			return UpgradeReport{}, err
		}
		return UpgradeReport{}, m.UpdateGlobalSaveContext(ctx)
	}
	if m.cfg.upgradeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.cfg.upgradeTimeout)
		defer cancel()
	}

	changed, removed := changes.Counts()
	ctx, span := m.cfg.spans.StartUpgradeSpan(ctx, changed, removed)
	observability.LogUpgradeStart(m.logger, changed, removed)
	start := time.Now()
	done := observability.TimedOperation()

	report, err := m.upgrade(ctx, changes, finish)
	report.Duration = time.Since(start)

	m.cfg.spans.EndSpanWithError(span, err)
	m.cfg.metrics.RecordUpgrade(ctx, report.NodesRelocated, report.NodesDeleted, report.BookmarksDeleted, report.Duration, err)
	if err != nil {
		observability.LogUpgradeError(m.logger, err, done())
		return report, err
	}
	observability.LogUpgradeComplete(m.logger, report.NodesRelocated, report.NodesDeleted, report.BookmarksDeleted, done())
	return report, nil
}

func (m *Manager) upgrade(ctx context.Context, changes upgrade.Changes, finish func() error) (UpgradeReport, error) {
	var report UpgradeReport
	if err := ctx.Err(); err != nil {
		return report, err
	}

	root, err := m.tree.Load(m.global.BeginCheckpoint)
	if err != nil {
		return report, fmt.Errorf("upgrade: %w", err)
	}
	u := upgrade.New(m.tree, changes, upgrade.WithLogger(m.logger))

	// The new reached list is an unreferenced chain until the tree has been
	// relinked, so failing either step leaves the save on the old pair.
	begin, end, err := u.UpgradeReached(m.global.BeginReached)
	if err != nil {
		return report, err
	}
	idx, _, err := loadReachedIndex(m.alloc, begin)
	if err != nil {
		return report, fmt.Errorf("upgrade reached: %w", err)
	}

	if err := u.UpgradeTree(ctx, root); err != nil {
		return report, fmt.Errorf("upgrade tree: %w", err)
	}
	m.global.BeginReached, m.global.EndReached = begin, end
	m.reached = idx
	m.tails = make(map[int64]int64)
	if newOff, ok := u.Relocation(m.global.EndCheckpoint); ok {
		if newOff == 0 {
			newOff = m.global.BeginCheckpoint
		}
		m.global.EndCheckpoint = newOff
	}
	m.cfg.spans.AddSpanEvent(ctx, "tree_upgraded",
		attribute.Int("nodes.relocated", u.Report().NodesRelocated),
		attribute.Int("nodes.deleted", u.Report().NodesDeleted),
	)

	m.cache.Clear()
	infos, err := m.bookmarks.List()
	if err != nil {
		// the tree is already upgraded; bookmarks are left to fail on load
		m.logger.Warn("list bookmarks for upgrade", slog.String("error", err.Error()))
	}
	for _, info := range infos {
		upgraded, err := m.upgradeBookmark(u, info.ID)
		if err != nil {
			observability.LogBookmarkDropped(m.logger, info.ID, err)
			report.BookmarksDeleted++
			if err := m.bookmarks.Delete(info.ID); err != nil {
				m.logger.Warn("delete invalid bookmark",
					slog.Int("bookmark_id", info.ID),
					slog.String("error", err.Error()))
			}
			continue
		}
		if upgraded {
			report.BookmarksUpgraded++
		}
	}
	m.cfg.spans.AddSpanEvent(ctx, "bookmarks_upgraded",
		attribute.Int("bookmarks.upgraded", report.BookmarksUpgraded),
		attribute.Int("bookmarks.deleted", report.BookmarksDeleted),
	)

	report.Report = u.Report()
	if finish != nil {
		if err := finish(); err != nil {
			return report, err
		}
	}
	// the rewrite is done; a deadline must not keep it from disk
	if err := m.UpdateGlobalSaveContext(context.WithoutCancel(ctx)); err != nil {
		return report, err
	}
	return report, nil
}

// upgradeBookmark rewrites slot id when its node moved. Bookmarks of other
// saves are left alone; they never point into this tree.
func (m *Manager) upgradeBookmark(u *upgrade.Upgrader, id int) (bool, error) {
	data, err := m.bookmarks.Load(id)
	if err != nil {
		return false, err
	}
	b, err := bookmark.Decode(data)
	if err != nil {
		return false, err
	}
	if b.GlobalSaveIdentifier != m.global.Identifier {
		return false, nil
	}
	upgraded, err := u.UpgradeBookmark(b)
	if err != nil || !upgraded {
		return false, err
	}
	data, err = bookmark.Encode(b, m.cfg.compression)
	if err != nil {
		return false, err
	}
	if err := m.bookmarks.Save(id, data); err != nil {
		return false, err
	}
	return true, nil
}

// SyncScript brings the save in line with script, the dialogue content
// hashes of every node of the current script. The first call only records
// script. Later calls diff it against the recorded one, upgrade the save
// through the resulting changes and record the new script. The upgraded
// save and the new script are flushed together.
func (m *Manager) SyncScript(ctx context.Context, script map[string][]uint64) (UpgradeReport, error) {
	if m.closed {
		return UpgradeReport{}, ErrClosed
	}
	var changes upgrade.Changes
	if m.global.Script != 0 {
		old, err := savedata.Get[*savedata.ScriptSnapshot](m.alloc, m.global.Script)
		if err != nil {
			return UpgradeReport{}, fmt.Errorf("load script snapshot: %w", err)
		}
		if scriptsEqual(old.Nodes, script) {
			return UpgradeReport{}, nil
		}
		changes = ScriptChanges(old.Nodes, script)
	}

	return m.runUpgrade(ctx, changes, func() error {
		return m.storeScript(script)
	})
}

// storeScript writes the script snapshot. It is the only record of its
// chain and is replaced in place.
func (m *Manager) storeScript(script map[string][]uint64) error {
	off := m.global.Script
	if off == 0 {
		var err error
		if off, err = m.alloc.Begin(blockstore.TypeGlobal); err != nil {
			return fmt.Errorf("store script snapshot: %w", err)
		}
	}
	if _, err := savedata.Put(m.alloc, off, &savedata.ScriptSnapshot{Nodes: script}); err != nil {
		return fmt.Errorf("store script snapshot: %w", err)
	}
	m.global.Script = off
	return nil
}

// ScriptChanges builds the change map between two scripts. Nodes missing
// from next are removed; nodes whose dialogue is unchanged are left out.
func ScriptChanges(prev, next map[string][]uint64) upgrade.Changes {
	changes := make(upgrade.Changes)
	for name, old := range prev {
		cur, ok := next[name]
		if !ok {
			changes[name] = nil
			continue
		}
		if d := diff.New(old, cur); !d.Identical() {
			changes[name] = d
		}
	}
	return changes
}

func scriptsEqual(a, b map[string][]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for name, x := range a {
		y, ok := b[name]
		if !ok || len(x) != len(y) {
			return false
		}
		for i := range x {
			if x[i] != y[i] {
				return false
			}
		}
	}
	return true
}
