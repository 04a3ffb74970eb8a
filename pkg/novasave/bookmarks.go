package novasave

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	nserrors "github.com/randalmurphal/novasave/pkg/novasave/errors"
	"github.com/randalmurphal/novasave/pkg/novasave/observability"
)

// Slot bands. Ids below AutoSaveBegin are free for the game to use.
const (
	AutoSaveBegin   = 101
	QuickSaveBegin  = 201
	NormalSaveBegin = 301
)

// TimeOrder selects which end of a time-ordered slot range to return.
type TimeOrder int

const (
	// Latest selects the most recently written slot.
	Latest TimeOrder = iota
	// Earliest selects the least recently written slot.
	Earliest
)

// SaveBookmark writes b to slot id, stamping it with this save's
// identifier and, when unset, the current time. A bookmark already in the
// slot is replaced and its decoded screenshot released.
func (m *Manager) SaveBookmark(id int, b *bookmark.Bookmark) error {
	if m.closed {
		return ErrClosed
	}
	ctx := context.Background()

	b.GlobalSaveIdentifier = m.global.Identifier
	if b.CreationTime.IsZero() {
		b.CreationTime = time.Now().UTC()
	}
	data, err := bookmark.Encode(b, m.cfg.compression)
	if err != nil {
		m.cfg.metrics.RecordBookmark(ctx, "save", 0, err)
		return &BookmarkError{ID: id, Op: "encode", Err: err}
	}

	err = nserrors.Do(ctx, m.cfg.retry, func(_ context.Context) error {
		return m.bookmarks.Save(id, data)
	})
	m.cfg.metrics.RecordBookmark(ctx, "save", int64(len(data)), err)
	if err != nil {
		return &BookmarkError{ID: id, Op: "save", Err: err}
	}

	m.cache.Put(id, b.Clone())
	observability.LogBookmarkSaved(m.logger, id, len(data))
	return nil
}

// LoadBookmark reads slot id. A bookmark written under another save fails
// with ErrIncompatibleSave and is left in place. The returned bookmark is
// shared with the cache until the slot is saved or deleted; its decoded
// screenshot stays cached with it.
func (m *Manager) LoadBookmark(id int) (*bookmark.Bookmark, error) {
	if m.closed {
		return nil, ErrClosed
	}
	if b, ok := m.cache.Get(id); ok {
		return b, nil
	}
	ctx := context.Background()

	data, err := m.bookmarks.Load(id)
	if err != nil {
		m.cfg.metrics.RecordBookmark(ctx, "load", 0, err)
		return nil, &BookmarkError{ID: id, Op: "load", Err: err}
	}
	b, err := m.decodeBookmark(data)
	m.cfg.metrics.RecordBookmark(ctx, "load", int64(len(data)), err)
	if err != nil {
		return nil, &BookmarkError{ID: id, Op: "load", Err: err}
	}
	m.cache.Put(id, b)
	return b, nil
}

func (m *Manager) decodeBookmark(data []byte) (*bookmark.Bookmark, error) {
	b, err := bookmark.Decode(data)
	if err != nil {
		return nil, err
	}
	if b.GlobalSaveIdentifier != m.global.Identifier {
		return nil, fmt.Errorf("%w: bookmark belongs to save %x, current save is %x",
			ErrIncompatibleSave, b.GlobalSaveIdentifier, m.global.Identifier)
	}
	return b, nil
}

// DeleteBookmark empties slot id. Deleting an empty slot is not an error.
func (m *Manager) DeleteBookmark(id int) error {
	if m.closed {
		return ErrClosed
	}
	m.cache.Invalidate(id)
	err := m.bookmarks.Delete(id)
	m.cfg.metrics.RecordBookmark(context.Background(), "delete", 0, err)
	if err != nil {
		return &BookmarkError{ID: id, Op: "delete", Err: err}
	}
	return nil
}

// ListBookmarks returns every used slot ordered by id.
func (m *Manager) ListBookmarks() ([]bookmark.Info, error) {
	if m.closed {
		return nil, ErrClosed
	}
	return m.bookmarks.List()
}

// QueryMinUnusedSaveID returns the lowest free slot in [begin, end).
func (m *Manager) QueryMinUnusedSaveID(begin, end int) (int, error) {
	infos, err := m.ListBookmarks()
	if err != nil {
		return 0, err
	}
	used := make(map[int]bool, len(infos))
	for _, info := range infos {
		used[info.ID] = true
	}
	for id := begin; id < end; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w in [%d, %d)", ErrNoFreeSlot, begin, end)
}

// QuerySaveIDByTime returns the slot in [begin, end) written last or first.
// ok is false when the range holds no bookmark. Ties go to the lower id.
func (m *Manager) QuerySaveIDByTime(begin, end int, order TimeOrder) (id int, ok bool, err error) {
	infos, err := m.ListBookmarks()
	if err != nil {
		return 0, false, err
	}
	var best bookmark.Info
	for _, info := range infos {
		if info.ID < begin || info.ID >= end {
			continue
		}
		if !ok {
			best, ok = info, true
			continue
		}
		if (order == Latest && info.Timestamp.After(best.Timestamp)) ||
			(order == Earliest && info.Timestamp.Before(best.Timestamp)) {
			best = info
		}
	}
	return best.ID, ok, nil
}

// IsIncompatible reports whether err is a load failure caused by a
// bookmark of another save.
func IsIncompatible(err error) bool {
	return errors.Is(err, ErrIncompatibleSave)
}
