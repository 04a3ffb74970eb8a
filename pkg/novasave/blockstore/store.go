package blockstore

import (
	"bytes"
	"container/list"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sort"
)

// Anchor payload layout.
const (
	anchorMagicEnd   = 8
	anchorVersionEnd = anchorMagicEnd + 4
	anchorRootEnd    = anchorVersionEnd + 8
)

// Store is a block file with a bounded LRU cache of blocks.
//
// Store is not safe for concurrent use. A save directory is owned by a
// single Store for its whole lifetime.
type Store struct {
	file     *os.File
	path     string
	count    int64
	anchor   *Block
	capacity int
	items    map[int64]*list.Element
	lru      *list.List
	closed   bool

	hits      int64
	misses    int64
	evictions int64
}

// Stats reports cache behaviour.
type Stats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Cached    int
	Blocks    int64
}

// Option configures a Store.
type Option func(*Store)

// WithCacheSize sets the maximum number of cached blocks.
// Default: 256
func WithCacheSize(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.capacity = n
		}
	}
}

// Open opens the block file at path, creating it with a fresh anchor block
// when it does not exist or is empty.
func Open(path string, opts ...Option) (*Store, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open block file: %w", err)
	}

	s := &Store{
		file:     f,
		path:     path,
		capacity: DefaultCacheSize,
		items:    make(map[int64]*list.Element),
		lru:      list.New(),
	}
	for _, opt := range opts {
		opt(s)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat block file: %w", err)
	}

	if info.Size() == 0 {
		if err := s.initAnchor(); err != nil {
			f.Close()
			return nil, err
		}
		return s, nil
	}

	if info.Size()%BlockSize != 0 {
		f.Close()
		return nil, fmt.Errorf("%w: file size %d is not a multiple of %d", ErrCorruptedStore, info.Size(), BlockSize)
	}
	s.count = info.Size() / BlockSize

	if err := s.loadAnchor(); err != nil {
		f.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initAnchor() error {
	s.anchor = newBlock(0, TypeGlobal)
	p := s.anchor.Payload()
	copy(p[:anchorMagicEnd], Magic[:])
	binary.LittleEndian.PutUint32(p[anchorMagicEnd:anchorVersionEnd], Version)
	s.count = 1
	return s.Flush()
}

func (s *Store) loadAnchor() error {
	b := &Block{id: 0}
	if _, err := s.file.ReadAt(b.buf[:], 0); err != nil {
		return &BlockError{ID: 0, Op: "read", Err: err}
	}
	p := b.Payload()
	if b.Type() != TypeGlobal || !bytes.Equal(p[:anchorMagicEnd], Magic[:]) {
		return fmt.Errorf("%w: bad magic", ErrCorruptedStore)
	}
	if v := binary.LittleEndian.Uint32(p[anchorMagicEnd:anchorVersionEnd]); v != Version {
		return fmt.Errorf("%w: got %d, expected %d", ErrVersionMismatch, v, Version)
	}
	s.anchor = b
	return nil
}

// Path returns the file path.
func (s *Store) Path() string {
	return s.path
}

// Root returns the offset stored in the anchor block, 0 if unset.
func (s *Store) Root() int64 {
	return int64(binary.LittleEndian.Uint64(s.anchor.Payload()[anchorVersionEnd:anchorRootEnd]))
}

// SetRoot stores an offset in the anchor block.
func (s *Store) SetRoot(offset int64) {
	binary.LittleEndian.PutUint64(s.anchor.Payload()[anchorVersionEnd:anchorRootEnd], uint64(offset))
	s.anchor.MarkDirty()
}

// Len returns the number of blocks in the file, including the anchor.
func (s *Store) Len() int64 {
	return s.count
}

// Allocate appends a new zeroed block of the given type at the end of the
// file and returns it. The file grows when the block is written back.
func (s *Store) Allocate(t Type) (*Block, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	b := newBlock(s.count, t)
	s.count++
	if err := s.insert(b); err != nil {
		return nil, err
	}
	return b, nil
}

// Get returns block id from the cache, loading it from disk on a miss.
func (s *Store) Get(id int64) (*Block, error) {
	if s.closed {
		return nil, ErrStoreClosed
	}
	if id == 0 {
		return s.anchor, nil
	}
	if id < 0 || id >= s.count {
		return nil, &BlockError{ID: id, Op: "get", Err: fmt.Errorf("%w: block out of bounds (%d blocks)", ErrCorruptedStore, s.count)}
	}

	if el, ok := s.items[id]; ok {
		s.hits++
		s.lru.MoveToFront(el)
		return el.Value.(*Block), nil
	}
	s.misses++

	b := &Block{id: id}
	n, err := s.file.ReadAt(b.buf[:], id*BlockSize)
	if err != nil && !(err == io.EOF && n == BlockSize) {
		if err == io.EOF {
			err = fmt.Errorf("%w: short block read (%d bytes)", ErrCorruptedStore, n)
		}
		return nil, &BlockError{ID: id, Op: "read", Err: err}
	}
	if err := s.insert(b); err != nil {
		return nil, err
	}
	return b, nil
}

// insert adds b to the front of the cache and evicts from the back while the
// cache is over capacity. A dirty block is written before it is dropped; if
// the write fails the block stays cached and the error is returned.
func (s *Store) insert(b *Block) error {
	s.items[b.id] = s.lru.PushFront(b)
	for s.lru.Len() > s.capacity {
		el := s.lru.Back()
		victim := el.Value.(*Block)
		if victim.dirty {
			if err := s.write(victim); err != nil {
				return err
			}
		}
		s.lru.Remove(el)
		delete(s.items, victim.id)
		s.evictions++
	}
	return nil
}

func (s *Store) write(b *Block) error {
	if _, err := s.file.WriteAt(b.buf[:], b.id*BlockSize); err != nil {
		return &BlockError{ID: b.id, Op: "write", Err: err}
	}
	b.dirty = false
	return nil
}

// Flush writes every dirty block in id order, then syncs the file.
func (s *Store) Flush() error {
	if s.closed {
		return ErrStoreClosed
	}

	dirty := make([]*Block, 0, len(s.items)+1)
	if s.anchor.dirty {
		dirty = append(dirty, s.anchor)
	}
	for _, el := range s.items {
		if b := el.Value.(*Block); b.dirty {
			dirty = append(dirty, b)
		}
	}
	sort.Slice(dirty, func(i, j int) bool {
		return dirty[i].id < dirty[j].id
	})

	for _, b := range dirty {
		if err := s.write(b); err != nil {
			return err
		}
	}
	if err := s.file.Sync(); err != nil {
		return fmt.Errorf("sync block file: %w", err)
	}
	return nil
}

// Stats returns cache statistics.
func (s *Store) Stats() Stats {
	return Stats{
		Hits:      s.hits,
		Misses:    s.misses,
		Evictions: s.evictions,
		Cached:    s.lru.Len(),
		Blocks:    s.count,
	}
}

// Close flushes and closes the file. Closing twice is safe.
func (s *Store) Close() error {
	if s.closed {
		return nil
	}
	flushErr := s.Flush()
	s.closed = true
	s.items = nil
	s.lru.Init()
	if err := s.file.Close(); err != nil && flushErr == nil {
		return fmt.Errorf("close block file: %w", err)
	}
	return flushErr
}
