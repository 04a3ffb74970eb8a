package bookmark

import (
	"errors"
	"fmt"
	"time"
)

// Store persists encoded bookmark files by slot id.
// Implementations must be safe for concurrent use.
type Store interface {
	// Save stores data for a slot, replacing any previous content.
	Save(id int, data []byte) error

	// Load retrieves the data of a slot.
	// Returns ErrNotFound if the slot is empty.
	Load(id int) ([]byte, error)

	// Delete empties a slot.
	// Returns nil if the slot is already empty.
	Delete(id int) error

	// List returns every occupied slot, ordered by id.
	// Returns an empty slice (not an error) if no slot is occupied.
	List() ([]Info, error)

	// Close releases any resources (connections, files).
	Close() error
}

// Info describes an occupied slot without loading it.
type Info struct {
	ID        int
	Timestamp time.Time
	Size      int64
}

// Sentinel errors for bookmark operations.
var (
	// ErrNotFound indicates the slot holds no bookmark.
	ErrNotFound = errors.New("bookmark not found")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("bookmark store closed")

	// ErrCorruptedBookmark indicates a bookmark file that cannot be decoded.
	ErrCorruptedBookmark = errors.New("corrupted bookmark")

	// ErrIncompatibleSave indicates a bookmark written under another global save.
	ErrIncompatibleSave = errors.New("bookmark belongs to another save")
)

// SlotError reports a failed operation on one slot.
type SlotError struct {
	ID  int
	Op  string
	Err error
}

// Error implements the error interface.
func (e *SlotError) Error() string {
	return fmt.Sprintf("bookmark %d: %s: %v", e.ID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *SlotError) Unwrap() error {
	return e.Err
}
