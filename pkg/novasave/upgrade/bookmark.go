package upgrade

import (
	"fmt"

	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/observability"
)

// UpgradeBookmark moves b onto the upgraded tree. It reports whether b was
// modified. A bookmark whose node was deleted, or that has no surviving
// checkpoint at or before its new dialogue index, yields
// ErrInvalidBookmark. Bookmarks of untouched nodes are left as they are.
func (u *Upgrader) UpgradeBookmark(b *bookmark.Bookmark) (bool, error) {
	newOff, ok := u.nodeMap[b.NodeOffset]
	if !ok {
		return false, nil
	}
	if newOff == 0 {
		return false, fmt.Errorf("%w: node at %d was deleted", ErrInvalidBookmark, b.NodeOffset)
	}
	p := u.plans[b.NodeOffset]

	idx := p.differ.LeftMap(b.DialogueIndex)
	exact := p.differ.Forward(b.DialogueIndex)
	if idx < p.begin {
		idx = p.begin
	}
	if idx >= p.end {
		idx = p.end - 1
	}
	if idx != exact {
		observability.LogClamp(u.logger, p.old.Name, b.DialogueIndex, idx)
	}

	cpOff, err := p.checkpointFor(u.checkpoints[b.CheckpointOffset], idx)
	if err != nil {
		return false, err
	}

	b.NodeOffset = newOff
	b.CheckpointOffset = cpOff
	b.DialogueIndex = idx
	return true, nil
}

// checkpointFor picks the relocated checkpoint when it is at or before idx,
// and otherwise the surviving checkpoint with the highest dialogue index at
// or before idx, the later one in list order on a tie. Checkpoints need not
// be stored in dialogue order.
func (p *plan) checkpointFor(relocated int64, idx int) (int64, error) {
	var best int64
	bestDialogue := -1
	for _, ref := range p.checkpoints {
		if ref.dialogue > idx {
			continue
		}
		if ref.offset == relocated {
			return relocated, nil
		}
		if ref.dialogue >= bestDialogue {
			best, bestDialogue = ref.offset, ref.dialogue
		}
	}
	if best == 0 {
		return 0, fmt.Errorf("%w: no checkpoint of %q at or before dialogue %d", ErrInvalidBookmark, p.old.Name, idx)
	}
	return best, nil
}
