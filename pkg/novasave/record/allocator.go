// Package record stores variable-length byte records on top of a block store.
//
// A record is addressed by the offset of its 4-byte length prefix. When a
// record does not fit in the remaining payload of its block, the rest is
// written into chained continuation blocks, allocating them as needed.
// Records may also be stored back-to-back to form an append-only list; a
// zero length prefix terminates such a list.
package record

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
)

// prefixSize is the size of the record length prefix.
const prefixSize = 4

// ErrRecordOverflow indicates a record or its chain is malformed beyond the
// addressed region.
var ErrRecordOverflow = errors.New("record overflow")

// errEndOfChain is returned by a read-only cursor that runs off its chain.
var errEndOfChain = errors.New("end of block chain")

// RecordError wraps errors from record operations with the offset involved.
type RecordError struct {
	// Offset is the record offset.
	Offset int64
	// Op is the operation that failed ("append", "get", "next", "overwrite").
	Op string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *RecordError) Error() string {
	return fmt.Sprintf("record at %d: %s: %v", e.Offset, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *RecordError) Unwrap() error {
	return e.Err
}

// Allocator reads and writes records through a block store.
type Allocator struct {
	store *blockstore.Store
}

// New creates an allocator over store.
func New(store *blockstore.Store) *Allocator {
	return &Allocator{store: store}
}

// Store returns the underlying block store.
func (a *Allocator) Store() *blockstore.Store {
	return a.store
}

// Begin allocates a fresh block of type t and returns its first data offset.
func (a *Allocator) Begin(t blockstore.Type) (int64, error) {
	b, err := a.store.Allocate(t)
	if err != nil {
		return 0, fmt.Errorf("begin record: %w", err)
	}
	return blockstore.DataOffset(b.ID()), nil
}

// Append writes data as a record at offset and returns the offset just past
// it. Existing content at offset is overwritten; a longer record follows or
// extends the block chain, and space freed by a shorter one is not reclaimed.
func (a *Allocator) Append(offset int64, data []byte) (int64, error) {
	c, err := a.cursorAt(offset, true)
	if err != nil {
		return 0, &RecordError{Offset: offset, Op: "append", Err: err}
	}
	var prefix [prefixSize]byte
	binary.LittleEndian.PutUint32(prefix[:], uint32(len(data)))
	if err := c.write(prefix[:]); err != nil {
		return 0, &RecordError{Offset: offset, Op: "append", Err: err}
	}
	if err := c.write(data); err != nil {
		return 0, &RecordError{Offset: offset, Op: "append", Err: err}
	}
	return c.offset(), nil
}

// Get reads the record at offset.
func (a *Allocator) Get(offset int64) ([]byte, error) {
	c, err := a.cursorAt(offset, false)
	if err != nil {
		return nil, &RecordError{Offset: offset, Op: "get", Err: err}
	}
	n, err := a.readLength(c)
	if err != nil {
		return nil, &RecordError{Offset: offset, Op: "get", Err: err}
	}
	data := make([]byte, n)
	if err := c.read(data); err != nil {
		return nil, &RecordError{Offset: offset, Op: "get", Err: overflow(err)}
	}
	return data, nil
}

// Next returns the offset immediately following the record at offset.
func (a *Allocator) Next(offset int64) (int64, error) {
	c, err := a.cursorAt(offset, false)
	if err != nil {
		return 0, &RecordError{Offset: offset, Op: "next", Err: err}
	}
	n, err := a.readLength(c)
	if err != nil {
		return 0, &RecordError{Offset: offset, Op: "next", Err: err}
	}
	if err := c.skip(int(n)); err != nil {
		return 0, &RecordError{Offset: offset, Op: "next", Err: overflow(err)}
	}
	return c.offset(), nil
}

// Overwrite patches len(data) bytes of the record at offset, starting at
// byte at of its payload. The patch must lie inside the record.
func (a *Allocator) Overwrite(offset int64, at int, data []byte) error {
	c, err := a.cursorAt(offset, false)
	if err != nil {
		return &RecordError{Offset: offset, Op: "overwrite", Err: err}
	}
	n, err := a.readLength(c)
	if err != nil {
		return &RecordError{Offset: offset, Op: "overwrite", Err: err}
	}
	if at < 0 || at+len(data) > int(n) {
		return &RecordError{Offset: offset, Op: "overwrite",
			Err: fmt.Errorf("%w: patch [%d,%d) outside record of %d bytes", ErrRecordOverflow, at, at+len(data), n)}
	}
	if err := c.skip(at); err != nil {
		return &RecordError{Offset: offset, Op: "overwrite", Err: overflow(err)}
	}
	if err := c.write(data); err != nil {
		return &RecordError{Offset: offset, Op: "overwrite", Err: overflow(err)}
	}
	return nil
}

// ForEach walks the back-to-back record list starting at begin, calling fn
// for every record until a zero-length record or the end of the chain. It
// returns the offset at which the next record of the list would be written.
func (a *Allocator) ForEach(begin int64, fn func(offset int64, data []byte) error) (int64, error) {
	offset := begin
	for {
		c, err := a.cursorAt(offset, false)
		if err != nil {
			return 0, &RecordError{Offset: offset, Op: "walk", Err: err}
		}
		var prefix [prefixSize]byte
		if err := c.read(prefix[:]); err != nil {
			// a writer extends the chain before the prefix, so a chain
			// ending inside a prefix means nothing was written there
			if errors.Is(err, errEndOfChain) {
				return offset, nil
			}
			return 0, &RecordError{Offset: offset, Op: "walk", Err: overflow(err)}
		}
		n := binary.LittleEndian.Uint32(prefix[:])
		if n == 0 {
			return offset, nil
		}
		if err := a.checkLength(n); err != nil {
			return 0, &RecordError{Offset: offset, Op: "walk", Err: err}
		}
		data := make([]byte, n)
		if err := c.read(data); err != nil {
			return 0, &RecordError{Offset: offset, Op: "walk", Err: overflow(err)}
		}
		if err := fn(offset, data); err != nil {
			return 0, err
		}
		offset = c.offset()
	}
}

func (a *Allocator) readLength(c *cursor) (uint32, error) {
	var prefix [prefixSize]byte
	if err := c.read(prefix[:]); err != nil {
		return 0, overflow(err)
	}
	n := binary.LittleEndian.Uint32(prefix[:])
	if err := a.checkLength(n); err != nil {
		return 0, err
	}
	return n, nil
}

// checkLength rejects lengths that cannot fit in the file, so a corrupted
// prefix never triggers a huge allocation.
func (a *Allocator) checkLength(n uint32) error {
	if int64(n) > a.store.Len()*blockstore.PayloadSize {
		return fmt.Errorf("%w: length %d exceeds file capacity", ErrRecordOverflow, n)
	}
	return nil
}

func overflow(err error) error {
	if errors.Is(err, errEndOfChain) {
		return fmt.Errorf("%w: chain ends early", ErrRecordOverflow)
	}
	return err
}
