// Package savedata defines every payload the save engine persists as JSON
// and the closed codec that reads them back.
//
// Payloads are wrapped in an envelope naming their type:
//
//	{"type": "checkpoint", "data": {...}}
//
// Decoding switches over a fixed set of type tags. Any other tag is
// rejected with ErrTypeDenied, so a tampered or foreign save file can never
// cause an arbitrary type to be constructed.
package savedata

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/randalmurphal/novasave/pkg/novasave/record"
)

// ErrTypeDenied is returned when a payload names a type outside the codec.
var ErrTypeDenied = errors.New("payload type denied")

// Type is the tag stored in a payload envelope.
type Type string

// Payload type tags. Renaming one breaks every existing save.
const (
	TypeGlobalSave      Type = "global_save"
	TypeCheckpoint      Type = "checkpoint"
	TypeScript          Type = "script"
	TypeReachedHistory  Type = "reached_history"
	TypeReachedDialogue Type = "reached_dialogue"
	TypeReachedBranch   Type = "reached_branch"
	TypeReachedEnd      Type = "reached_end"
)

// Payload is implemented only by the types of this package.
type Payload interface {
	PayloadType() Type
	payload()
}

type envelope struct {
	Type Type            `json:"type"`
	Data json.RawMessage `json:"data"`
}

// Marshal encodes p in its envelope.
func Marshal(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", p.PayloadType(), err)
	}
	return json.Marshal(envelope{Type: p.PayloadType(), Data: data})
}

// Unmarshal decodes an envelope into the payload type it names.
func Unmarshal(data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	var p Payload
	switch env.Type {
	case TypeGlobalSave:
		p = &GlobalSave{}
	case TypeCheckpoint:
		p = &Checkpoint{}
	case TypeScript:
		p = &ScriptSnapshot{}
	case TypeReachedHistory:
		p = &ReachedHistory{}
	case TypeReachedDialogue:
		p = &ReachedDialogue{}
	case TypeReachedBranch:
		p = &ReachedBranch{}
	case TypeReachedEnd:
		p = &ReachedEnd{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrTypeDenied, env.Type)
	}
	if err := json.Unmarshal(env.Data, p); err != nil {
		return nil, fmt.Errorf("unmarshal %s: %w", env.Type, err)
	}
	return p, nil
}

// Decode unmarshals data and requires the payload to be a T.
func Decode[T Payload](data []byte) (T, error) {
	var zero T
	p, err := Unmarshal(data)
	if err != nil {
		return zero, err
	}
	v, ok := p.(T)
	if !ok {
		return zero, fmt.Errorf("%w: want %s, got %s", ErrTypeDenied, zero.PayloadType(), p.PayloadType())
	}
	return v, nil
}

// Put writes p as a record at off and returns the offset just past it.
func Put(a *record.Allocator, off int64, p Payload) (int64, error) {
	data, err := Marshal(p)
	if err != nil {
		return 0, err
	}
	return a.Append(off, data)
}

// Get reads the record at off as a T.
func Get[T Payload](a *record.Allocator, off int64) (T, error) {
	data, err := a.Get(off)
	if err != nil {
		var zero T
		return zero, err
	}
	return Decode[T](data)
}

// ForEach walks the back-to-back payload list starting at begin and calls fn
// for every record. It returns the offset where the next record would be
// appended.
func ForEach(a *record.Allocator, begin int64, fn func(off int64, p Payload) error) (int64, error) {
	return a.ForEach(begin, func(off int64, data []byte) error {
		p, err := Unmarshal(data)
		if err != nil {
			return fmt.Errorf("record at %d: %w", off, err)
		}
		return fn(off, p)
	})
}
