package novasave

import (
	"errors"

	"github.com/randalmurphal/novasave/pkg/novasave/blockstore"
	"github.com/randalmurphal/novasave/pkg/novasave/bookmark"
	"github.com/randalmurphal/novasave/pkg/novasave/record"
	"github.com/randalmurphal/novasave/pkg/novasave/savedata"
	"github.com/randalmurphal/novasave/pkg/novasave/upgrade"
)

// Sentinel errors for the save file. Any of them while opening means the
// player must reset progress or quit.
var (
	// ErrCorruptedStore indicates a bad header, offset or record framing.
	ErrCorruptedStore = blockstore.ErrCorruptedStore

	// ErrVersionMismatch indicates a file written by another format version.
	ErrVersionMismatch = blockstore.ErrVersionMismatch

	// ErrRecordOverflow indicates a record or chain malformed beyond the
	// addressed region.
	ErrRecordOverflow = record.ErrRecordOverflow

	// ErrTypeDenied indicates a payload naming a type outside the codec.
	ErrTypeDenied = savedata.ErrTypeDenied

	// ErrClosed indicates use of a closed Manager.
	ErrClosed = errors.New("manager closed")

	// ErrEmptyHistory indicates a reached call with a history of no nodes.
	ErrEmptyHistory = errors.New("empty node history")
)

// Sentinel errors for bookmarks. They affect a single slot.
var (
	// ErrIncompatibleSave indicates a bookmark created under another save.
	ErrIncompatibleSave = bookmark.ErrIncompatibleSave

	// ErrCorruptedBookmark indicates an unreadable bookmark file.
	ErrCorruptedBookmark = bookmark.ErrCorruptedBookmark

	// ErrNotFound indicates an empty slot.
	ErrNotFound = bookmark.ErrNotFound

	// ErrStoreClosed indicates use of a closed bookmark store.
	ErrStoreClosed = bookmark.ErrStoreClosed

	// ErrNoFreeSlot indicates every slot of a queried range is in use.
	ErrNoFreeSlot = errors.New("no free bookmark slot")

	// ErrInvalidBookmark indicates a bookmark an upgrade could not remap.
	ErrInvalidBookmark = upgrade.ErrInvalidBookmark
)

// BookmarkError wraps errors from bookmark operations with the slot involved.
type BookmarkError = bookmark.SlotError
