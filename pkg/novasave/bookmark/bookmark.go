// Package bookmark stores numbered save slots.
//
// A Bookmark points into the checkpoint tree: the node record to resume
// from, the checkpoint record to deserialize, and the dialogue index inside
// the node. Bookmarks are encoded into self-describing files (see Encode)
// and kept in a Store keyed by slot id.
package bookmark

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"time"
)

// Bookmark is one save slot.
type Bookmark struct {
	NodeOffset           int64     `json:"node"`
	CheckpointOffset     int64     `json:"checkpoint"`
	DialogueIndex        int       `json:"dialogue"`
	Description          string    `json:"description,omitempty"`
	Screenshot           []byte    `json:"screenshot,omitempty"`
	GlobalSaveIdentifier uint64    `json:"global_save"`
	CreationTime         time.Time `json:"created"`

	image image.Image
}

// Image decodes the PNG screenshot on first use and caches the result until
// Release or SetScreenshot. A bookmark without a screenshot returns nil.
func (b *Bookmark) Image() (image.Image, error) {
	if b.image != nil || len(b.Screenshot) == 0 {
		return b.image, nil
	}
	img, err := png.Decode(bytes.NewReader(b.Screenshot))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	b.image = img
	return img, nil
}

// SetScreenshot encodes img as PNG and replaces the stored screenshot.
// A nil image clears it.
func (b *Bookmark) SetScreenshot(img image.Image) error {
	b.Release()
	if img == nil {
		b.Screenshot = nil
		return nil
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return fmt.Errorf("encode screenshot: %w", err)
	}
	b.Screenshot = buf.Bytes()
	b.image = img
	return nil
}

// Released reports whether no decoded screenshot is held.
func (b *Bookmark) Released() bool {
	return b.image == nil
}

// Release drops the decoded screenshot. The encoded bytes are kept.
func (b *Bookmark) Release() {
	b.image = nil
}

// Clone returns a copy that shares no mutable state with b. The decoded
// screenshot is not carried over.
func (b *Bookmark) Clone() *Bookmark {
	c := *b
	c.image = nil
	if b.Screenshot != nil {
		c.Screenshot = append([]byte(nil), b.Screenshot...)
	}
	return &c
}
