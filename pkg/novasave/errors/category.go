// Package errors classifies save engine errors by the recovery a caller
// must offer.
//
// The engine never discards player data on its own. When an operation
// fails, Categorize tells the caller what to do with the error:
//   - ResetRequired: the global save is unreadable; offer reset or quit
//   - SlotLocal: a single bookmark is unreadable; the slot may be deleted
//   - Retryable: an I/O failure that may succeed on retry
//   - Bug: an engine invariant was violated
package errors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
)

// Category represents how an error should be handled.
type Category int

const (
	// CategoryBug indicates an engine invariant violation or misuse.
	// Examples: using a closed store, an unknown error.
	CategoryBug Category = iota

	// CategoryResetRequired indicates the checkpoint file cannot be trusted.
	// Examples: bad magic, broken record chain, denied payload type.
	CategoryResetRequired

	// CategorySlotLocal indicates only one bookmark is affected.
	// Examples: checksum mismatch, bookmark from another save.
	CategorySlotLocal

	// CategoryRetryable indicates retry will likely help.
	// Examples: transient file system errors, deadline exceeded.
	CategoryRetryable
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryBug:
		return "bug"
	case CategoryResetRequired:
		return "reset_required"
	case CategorySlotLocal:
		return "slot_local"
	case CategoryRetryable:
		return "retryable"
	default:
		return "unknown"
	}
}

// CategorizedError wraps an error with its category and context.
type CategorizedError struct {
	// Err is the underlying error.
	Err error

	// Category indicates how this error should be handled.
	Category Category

	// Retries is the number of attempts that have been made.
	Retries int

	// Context describes what operation was being attempted.
	Context string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	if e.Context != "" {
		return fmt.Sprintf("%s: %s (category: %s, attempts: %d)",
			e.Context, e.Err, e.Category, e.Retries)
	}
	return fmt.Sprintf("%s (category: %s, attempts: %d)",
		e.Err, e.Category, e.Retries)
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// NewCategorized creates a new categorized error.
func NewCategorized(err error, category Category, context string) *CategorizedError {
	return &CategorizedError{
		Err:      err,
		Category: category,
		Context:  context,
	}
}

// Categorize determines how an error should be handled.
func Categorize(err error) Category {
	if err == nil {
		return CategoryBug // shouldn't happen, fail safe
	}

	var catErr *CategorizedError
	if errors.As(err, &catErr) {
		return catErr.Category
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return CategoryRetryable
	}

	// Closed stores are checked before the slot errors that wrap them.
	if errors.Is(err, blockstore.ErrStoreClosed) || errors.Is(err, bookmark.ErrStoreClosed) {
		return CategoryBug
	}

	var slotErr *bookmark.SlotError
	if errors.As(err, &slotErr) ||
		errors.Is(err, bookmark.ErrCorruptedBookmark) ||
		errors.Is(err, bookmark.ErrIncompatibleSave) ||
		errors.Is(err, bookmark.ErrNotFound) {
		return CategorySlotLocal
	}

	if errors.Is(err, blockstore.ErrCorruptedStore) ||
		errors.Is(err, blockstore.ErrVersionMismatch) ||
		errors.Is(err, record.ErrRecordOverflow) ||
		errors.Is(err, savedata.ErrTypeDenied) {
		return CategoryResetRequired
	}

	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		return CategoryRetryable
	}

	return CategoryBug
}

// IsRetryable reports whether the error should be retried.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryRetryable
}

// NeedsReset reports whether the player must choose between resetting
// progress and quitting.
func NeedsReset(err error) bool {
	return Categorize(err) == CategoryResetRequired
}

// IsSlotLocal reports whether the error concerns a single bookmark only.
func IsSlotLocal(err error) bool {
	return Categorize(err) == CategorySlotLocal
}
