package novasave

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	nserrors "github.com/randalmurphal/novasave/pkg/novasave/errors"
	"github.com/randalmurphal/novasave/pkg/novasave/nodetree"
	"github.com/randalmurphal/novasave/pkg/novasave/observability"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

// SaveFileName is the block file holding the global save.
const SaveFileName = "checkpoints.nsav"

// Manager owns one save directory: the block file with the global save,
// the node tree and the reached history, and the bookmark slots.
//
// Mutations are applied to the block cache and the in-memory global save.
// The file on disk is authoritative only after UpdateGlobalSave, which
// callers invoke at dialogue-step boundaries.
//
// Manager is not safe for concurrent use.
type Manager struct {
	dir    string
	cfg    managerConfig
	logger *slog.Logger

	store *blockstore.Store
	alloc *record.Allocator
	tree  *nodetree.Tree

	global  *savedata.GlobalSave
	reached *reachedIndex
	// tails caches where the next checkpoint of a node is appended.
	tails map[int64]int64

	bookmarks     bookmark.Store
	ownsBookmarks bool
	cache         *bookmark.Cache

	lastStats blockstore.Stats
	closed    bool
}

// Open opens the save in dir, creating the directory and a fresh global
// save when none exists.
//
// Errors wrapping ErrCorruptedStore, ErrVersionMismatch, ErrRecordOverflow
// or ErrTypeDenied mean the global save cannot be read; the caller should
// offer Reset.
func Open(dir string, opts ...Option) (*Manager, error) {
	cfg := defaultManagerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create save directory: %w", err)
	}
	bookmarks, owned, err := cfg.openBookmarkStore(dir)
	if err != nil {
		return nil, fmt.Errorf("open bookmark store: %w", err)
	}

	m := &Manager{
		dir:           dir,
		cfg:           cfg,
		logger:        cfg.logger,
		bookmarks:     bookmarks,
		ownsBookmarks: owned,
		cache:         bookmark.NewCache(),
	}
	if err := m.openSave(); err != nil {
		if owned {
			bookmarks.Close()
		}
		return nil, err
	}
	return m, nil
}

func (m *Manager) openSave() error {
	store, err := blockstore.Open(m.savePath(), blockstore.WithCacheSize(m.cfg.cacheBlocks))
	if err != nil {
		return err
	}
	m.store = store
	m.alloc = record.New(store)
	m.tree = nodetree.NewTree(m.alloc, nodetree.WithDebug(m.cfg.debug))
	m.tails = make(map[int64]int64)
	m.lastStats = blockstore.Stats{}

	created := store.Root() == 0
	if created {
		err = m.initGlobal()
	} else {
		err = m.loadGlobal()
	}
	if err != nil {
		store.Close()
		return err
	}

	m.logger = observability.EnrichLogger(m.cfg.logger, m.dir, m.global.Identifier)
	observability.LogOpen(m.logger, m.dir, store.Len(), created)
	return nil
}

// initGlobal writes the global save, the forest root and an empty reached
// list into a new file.
func (m *Manager) initGlobal() error {
	globalOff, err := m.alloc.Begin(blockstore.TypeGlobal)
	if err != nil {
		return err
	}
	root, err := m.tree.CreateRoot()
	if err != nil {
		return err
	}
	reachedOff, err := m.alloc.Begin(blockstore.TypeReached)
	if err != nil {
		return err
	}

	m.global = &savedata.GlobalSave{
		Identifier:      newIdentifier(),
		BeginReached:    reachedOff,
		EndReached:      reachedOff,
		BeginCheckpoint: root.Offset,
		EndCheckpoint:   root.Offset,
	}
	if _, err := savedata.Put(m.alloc, globalOff, m.global); err != nil {
		return err
	}
	m.store.SetRoot(globalOff)
	m.reached = newReachedIndex()
	return m.flush(context.Background())
}

// loadGlobal reads the global save and rebuilds the reached index.
func (m *Manager) loadGlobal() error {
	global, err := savedata.Get[*savedata.GlobalSave](m.alloc, m.store.Root())
	if err != nil {
		return fmt.Errorf("load global save: %w", err)
	}
	if _, err := m.tree.Load(global.BeginCheckpoint); err != nil {
		return fmt.Errorf("load global save: %w", err)
	}
	m.global = global

	idx, end, err := loadReachedIndex(m.alloc, global.BeginReached)
	if err != nil {
		return fmt.Errorf("load reached history: %w", err)
	}
	m.reached = idx
	// entries appended after the last UpdateGlobalSave may have reached disk
	// through cache eviction
	m.global.EndReached = end
	return nil
}

// newIdentifier draws a random save identifier.
func newIdentifier() uint64 {
	id := uuid.New()
	return binary.LittleEndian.Uint64(id[:8])
}

func (m *Manager) savePath() string {
	return filepath.Join(m.dir, SaveFileName)
}

// Dir returns the save directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Identifier returns the identifier bookmarks of this save are stamped with.
func (m *Manager) Identifier() uint64 {
	return m.global.Identifier
}

// Stats returns block cache statistics.
func (m *Manager) Stats() blockstore.Stats {
	return m.store.Stats()
}

// UpdateGlobalSave writes the global save and flushes every dirty block.
func (m *Manager) UpdateGlobalSave() error {
	return m.UpdateGlobalSaveContext(context.Background())
}

// UpdateGlobalSaveContext is UpdateGlobalSave with a context bounding the
// retries of a failed flush.
func (m *Manager) UpdateGlobalSaveContext(ctx context.Context) error {
	if m.closed {
		return ErrClosed
	}
	if _, err := savedata.Put(m.alloc, m.store.Root(), m.global); err != nil {
		return fmt.Errorf("update global save: %w", err)
	}
	return m.flush(ctx)
}

func (m *Manager) flush(ctx context.Context) error {
	start := time.Now()
	done := observability.TimedOperation()
	err := nserrors.Do(ctx, m.cfg.retry, func(_ context.Context) error {
		return m.store.Flush()
	})
	if err != nil {
		return fmt.Errorf("flush: %w", err)
	}

	stats := m.store.Stats()
	m.cfg.metrics.RecordFlush(ctx, stats.Blocks, time.Since(start))
	m.cfg.metrics.RecordCache(ctx,
		stats.Hits-m.lastStats.Hits,
		stats.Misses-m.lastStats.Misses,
		stats.Evictions-m.lastStats.Evictions)
	m.lastStats = stats
	observability.LogFlush(m.logger, stats.Blocks, done())
	return nil
}

// Reset deletes the save file and every bookmark, then starts a fresh save
// with a new identifier.
func (m *Manager) Reset() error {
	if m.closed {
		return ErrClosed
	}
	var errs []error
	if err := m.store.Close(); err != nil {
		// the file is deleted below; a failed final flush does not matter
		m.logger.Debug("close before reset", slog.String("error", err.Error()))
	}
	if err := os.Remove(m.savePath()); err != nil && !errors.Is(err, os.ErrNotExist) {
		errs = append(errs, fmt.Errorf("remove save file: %w", err))
	}

	m.cache.Clear()
	infos, err := m.bookmarks.List()
	if err != nil {
		errs = append(errs, fmt.Errorf("list bookmarks: %w", err))
	}
	for _, info := range infos {
		if err := m.bookmarks.Delete(info.ID); err != nil {
			errs = append(errs, &BookmarkError{ID: info.ID, Op: "delete", Err: err})
		}
	}
	if len(errs) > 0 {
		return m.abandon(errors.Join(errs...))
	}

	if err := m.openSave(); err != nil {
		return m.abandon(err)
	}
	m.logger.Info("save reset")
	return nil
}

// abandon leaves the Manager closed after a failed Reset.
func (m *Manager) abandon(err error) error {
	m.closed = true
	if m.ownsBookmarks {
		m.bookmarks.Close()
	}
	return err
}

// Close flushes the block file and closes every store the Manager opened.
// Unflushed changes to the global save are written first. Closing twice is
// safe.
func (m *Manager) Close() error {
	if m.closed {
		return nil
	}
	var errs []error
	if err := m.UpdateGlobalSave(); err != nil {
		errs = append(errs, err)
	}
	m.closed = true
	m.cache.Clear()
	if err := m.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if m.ownsBookmarks {
		if err := m.bookmarks.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close bookmark store: %w", err))
		}
	}
	return errors.Join(errs...)
}
