package record

import (
	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
)

// cursor walks a block chain as one byte stream.
//
// A cursor never holds a *blockstore.Block across calls into the store: any
// store call may evict a cached block, so every modification re-fetches the
// block right before touching it.
type cursor struct {
	a     *Allocator
	id    int64
	index int
	grow  bool
}

func (a *Allocator) cursorAt(offset int64, grow bool) (*cursor, error) {
	id, index, err := blockstore.SplitOffset(offset)
	if err != nil {
		return nil, err
	}
	if _, err := a.store.Get(id); err != nil {
		return nil, err
	}
	return &cursor{a: a, id: id, index: index, grow: grow}, nil
}

func (c *cursor) offset() int64 {
	return blockstore.JoinOffset(c.id, c.index)
}

// advance moves to the next block of the chain when the current one is
// exhausted. A growing cursor links a new continuation block at the end of
// the chain; a read-only cursor reports errEndOfChain.
func (c *cursor) advance() error {
	if c.index < blockstore.PayloadSize {
		return nil
	}
	b, err := c.a.store.Get(c.id)
	if err != nil {
		return err
	}
	next := b.Next()
	if next == 0 {
		if !c.grow {
			return errEndOfChain
		}
		nb, err := c.a.store.Allocate(blockstore.TypeContinuation)
		if err != nil {
			return err
		}
		next = nb.ID()
		b, err = c.a.store.Get(c.id)
		if err != nil {
			return err
		}
		b.SetNext(next)
	}
	c.id, c.index = next, 0
	return nil
}

func (c *cursor) write(p []byte) error {
	for len(p) > 0 {
		if err := c.advance(); err != nil {
			return err
		}
		b, err := c.a.store.Get(c.id)
		if err != nil {
			return err
		}
		n := copy(b.Payload()[c.index:], p)
		b.MarkDirty()
		c.index += n
		p = p[n:]
	}
	return nil
}

func (c *cursor) read(p []byte) error {
	for len(p) > 0 {
		if err := c.advance(); err != nil {
			return err
		}
		b, err := c.a.store.Get(c.id)
		if err != nil {
			return err
		}
		n := copy(p, b.Payload()[c.index:])
		c.index += n
		p = p[n:]
	}
	return nil
}

func (c *cursor) skip(n int) error {
	for n > 0 {
		if err := c.advance(); err != nil {
			return err
		}
		step := blockstore.PayloadSize - c.index
		if step > n {
			step = n
		}
		c.index += step
		n -= step
	}
	return nil
}
