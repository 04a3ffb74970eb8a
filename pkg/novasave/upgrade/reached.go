package upgrade

import (
	"fmt"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

// UpgradeReached copies the reached list starting at begin into a new list
// and returns its bounds. Histories through removed nodes are dropped along
// with every entry recorded on them. Dialogue entries of changed nodes are
// remapped, and dropped when their line was deleted. Entries that fail to
// decode are skipped.
func (u *Upgrader) UpgradeReached(begin int64) (newBegin, newEnd int64, err error) {
	newBegin, err = u.alloc.Begin(blockstore.TypeReached)
	if err != nil {
		return 0, 0, fmt.Errorf("upgrade reached: %w", err)
	}
	tail := newBegin
	dropped := make(map[uint64]bool)

	var writeErr error
	_, walkErr := u.alloc.ForEach(begin, func(_ int64, data []byte) error {
		p, err := savedata.Unmarshal(data)
		if err != nil || !u.upgradeEntry(p, dropped) {
			u.report.ReachedDropped++
			return nil
		}
		tail, writeErr = savedata.Put(u.alloc, tail, p)
		return writeErr
	})
	if writeErr != nil {
		return 0, 0, fmt.Errorf("upgrade reached: %w", writeErr)
	}
	if walkErr != nil {
		// The rest of a broken list is lost; what was read is kept.
		u.report.ReachedDropped++
	}
	return newBegin, tail, nil
}

// upgradeEntry rewrites p in place and reports whether it survives.
func (u *Upgrader) upgradeEntry(p savedata.Payload, dropped map[uint64]bool) bool {
	switch e := p.(type) {
	case *savedata.ReachedHistory:
		for _, entry := range e.Entries {
			if u.changes.Removed(entry.Name) {
				dropped[e.Key] = true
				return false
			}
		}
		return true
	case *savedata.ReachedDialogue:
		if dropped[e.HistoryKey] || u.changes.Removed(e.Node) {
			return false
		}
		if d := u.changes[e.Node]; d != nil {
			j := d.Forward(e.DialogueIndex)
			if j < 0 {
				return false
			}
			e.DialogueIndex = j
		}
		return true
	case *savedata.ReachedBranch:
		return !dropped[e.HistoryKey] && !u.changes.Removed(e.Node)
	case *savedata.ReachedEnd:
		return true
	default:
		return false
	}
}
