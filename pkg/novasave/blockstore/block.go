// Package blockstore provides a fixed-size block file with an LRU block cache.
//
// The file is a sequence of 4096-byte blocks. Every block starts with a
// 9-byte header (1 byte type, 8 byte next-block id) followed by raw payload.
// Block 0 is the anchor: it carries the file magic, the format version and
// a single root offset, and never holds record data.
package blockstore

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// BlockSize is the size of one block on disk.
	BlockSize = 4096

	// HeaderSize is the size of the per-block header ([type][nextBlock]).
	HeaderSize = 1 + 8

	// PayloadSize is the number of payload bytes per block.
	PayloadSize = BlockSize - HeaderSize

	// Version is the current file format version.
	// Increment when making breaking changes to the block layout.
	Version uint32 = 1

	// DefaultCacheSize is the default number of cached blocks.
	DefaultCacheSize = 256
)

// Magic identifies novasave files. It is shared by the block file and
// bookmark files.
var Magic = [8]byte{'N', 'O', 'V', 'A', 'S', 'A', 'V', 'E'}

// Type tags the content of a block.
type Type uint8

const (
	// TypeFree marks a block that was never written.
	TypeFree Type = iota
	// TypeGlobal holds the anchor or the global save record.
	TypeGlobal
	// TypeReached holds the reached history list.
	TypeReached
	// TypeCheckpoint holds a node record followed by its checkpoints.
	TypeCheckpoint
	// TypeContinuation holds the spill-over of a record from a previous block.
	TypeContinuation
)

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeFree:
		return "free"
	case TypeGlobal:
		return "global"
	case TypeReached:
		return "reached"
	case TypeCheckpoint:
		return "checkpoint"
	case TypeContinuation:
		return "continuation"
	default:
		return fmt.Sprintf("type(%d)", uint8(t))
	}
}

// Sentinel errors for block operations.
var (
	// ErrCorruptedStore indicates a bad header, a bad offset or a bad block id.
	ErrCorruptedStore = errors.New("corrupted store")

	// ErrVersionMismatch indicates the file was written by another format version.
	ErrVersionMismatch = errors.New("file format version mismatch")

	// ErrStoreClosed indicates the block store has been closed.
	ErrStoreClosed = errors.New("block store closed")
)

// BlockError wraps errors from block I/O with the block involved.
type BlockError struct {
	// ID is the block that failed.
	ID int64
	// Op is the operation that failed ("read", "write", "get").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *BlockError) Error() string {
	return fmt.Sprintf("block %d: %s: %v", e.ID, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *BlockError) Unwrap() error {
	return e.Err
}

// Block is one cached page of the file.
type Block struct {
	id    int64
	buf   [BlockSize]byte
	dirty bool
}

func newBlock(id int64, t Type) *Block {
	b := &Block{id: id, dirty: true}
	b.buf[0] = byte(t)
	return b
}

// ID returns the block id. Its byte position in the file is ID*BlockSize.
func (b *Block) ID() int64 {
	return b.id
}

// Type returns the block type tag.
func (b *Block) Type() Type {
	return Type(b.buf[0])
}

// SetType changes the block type tag.
func (b *Block) SetType(t Type) {
	b.buf[0] = byte(t)
	b.dirty = true
}

// Next returns the id of the successor block in a chain, 0 if none.
func (b *Block) Next() int64 {
	return int64(binary.LittleEndian.Uint64(b.buf[1:HeaderSize]))
}

// SetNext links a successor block.
func (b *Block) SetNext(id int64) {
	binary.LittleEndian.PutUint64(b.buf[1:HeaderSize], uint64(id))
	b.dirty = true
}

// Payload returns the payload bytes. Callers that modify the slice must
// call MarkDirty.
func (b *Block) Payload() []byte {
	return b.buf[HeaderSize:]
}

// MarkDirty flags the block for write-back.
func (b *Block) MarkDirty() {
	b.dirty = true
}

// Dirty reports whether the block has unwritten changes.
func (b *Block) Dirty() bool {
	return b.dirty
}

// DataOffset returns the offset of the first payload byte of block id.
func DataOffset(id int64) int64 {
	return id*BlockSize + HeaderSize
}

// SplitOffset converts a data offset into a block id and an index into its
// payload. The offset just past the last payload byte of a block is encoded
// as the start of the next block and decodes to (id, PayloadSize).
func SplitOffset(offset int64) (id int64, index int, err error) {
	if offset <= BlockSize {
		return 0, 0, fmt.Errorf("%w: offset %d inside anchor block", ErrCorruptedStore, offset)
	}
	id = offset / BlockSize
	rem := int(offset % BlockSize)
	switch {
	case rem == 0:
		return id - 1, PayloadSize, nil
	case rem < HeaderSize:
		return 0, 0, fmt.Errorf("%w: offset %d points into a block header", ErrCorruptedStore, offset)
	default:
		return id, rem - HeaderSize, nil
	}
}

// JoinOffset is the inverse of SplitOffset.
func JoinOffset(id int64, index int) int64 {
	return id*BlockSize + HeaderSize + int64(index)
}
