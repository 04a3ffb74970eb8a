package savedata

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// VariableKind tags the value held by a Variable.
type VariableKind string

const (
	VariableBool   VariableKind = "bool"
	VariableNumber VariableKind = "number"
	VariableString VariableKind = "string"
)

// Variable is a script variable value.
type Variable struct {
	Kind   VariableKind
	Bool   bool
	Number float64
	String string
}

// BoolVar returns a boolean variable.
func BoolVar(v bool) Variable { return Variable{Kind: VariableBool, Bool: v} }

// NumberVar returns a numeric variable.
func NumberVar(v float64) Variable { return Variable{Kind: VariableNumber, Number: v} }

// StringVar returns a string variable.
func StringVar(v string) Variable { return Variable{Kind: VariableString, String: v} }

// Value returns the held value as bool, float64 or string.
func (v Variable) Value() any {
	switch v.Kind {
	case VariableBool:
		return v.Bool
	case VariableNumber:
		return v.Number
	default:
		return v.String
	}
}

type taggedValue struct {
	Type  string          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (v Variable) MarshalJSON() ([]byte, error) {
	var value any
	switch v.Kind {
	case VariableBool:
		value = v.Bool
	case VariableNumber:
		value = v.Number
	case VariableString:
		value = v.String
	default:
		return nil, fmt.Errorf("%w: variable kind %q", ErrTypeDenied, v.Kind)
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedValue{Type: string(v.Kind), Value: raw})
}

func (v *Variable) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	out := Variable{Kind: VariableKind(tv.Type)}
	var err error
	switch out.Kind {
	case VariableBool:
		err = json.Unmarshal(tv.Value, &out.Bool)
	case VariableNumber:
		err = json.Unmarshal(tv.Value, &out.Number)
	case VariableString:
		err = json.Unmarshal(tv.Value, &out.String)
	default:
		return fmt.Errorf("%w: variable kind %q", ErrTypeDenied, tv.Type)
	}
	if err != nil {
		return fmt.Errorf("variable %s: %w", tv.Type, err)
	}
	*v = out
	return nil
}

// HashVariables hashes a variable store for NodeRecord.VariableHash. Names
// are visited in sorted order so equal stores hash equally.
func HashVariables(vars map[string]Variable) uint64 {
	names := make([]string, 0, len(vars))
	for name := range vars {
		names = append(names, name)
	}
	sort.Strings(names)

	d := xxhash.New()
	var num [8]byte
	for _, name := range names {
		v := vars[name]
		_, _ = d.WriteString(name)
		_, _ = d.Write([]byte{0, kindByte(v.Kind)})
		switch v.Kind {
		case VariableBool:
			if v.Bool {
				_, _ = d.Write([]byte{1})
			} else {
				_, _ = d.Write([]byte{0})
			}
		case VariableNumber:
			bits := math.Float64bits(v.Number)
			for i := range num {
				num[i] = byte(bits >> (8 * i))
			}
			_, _ = d.Write(num[:])
		default:
			_, _ = d.WriteString(v.String)
		}
		_, _ = d.Write([]byte{0})
	}
	return d.Sum64()
}

func kindByte(k VariableKind) byte {
	switch k {
	case VariableBool:
		return 'b'
	case VariableNumber:
		return 'n'
	default:
		return 's'
	}
}

// RestoreKind tags the payload held by a RestoreData.
type RestoreKind string

const (
	RestoreRaw  RestoreKind = "raw"
	RestoreJSON RestoreKind = "json"
	RestoreText RestoreKind = "text"
)

// RestoreData is the opaque state one object saved at a checkpoint. The
// engine never interprets it.
type RestoreData struct {
	Kind RestoreKind
	Raw  []byte
	JSON json.RawMessage
	Text string
}

// RawRestore wraps binary restore data.
func RawRestore(b []byte) RestoreData { return RestoreData{Kind: RestoreRaw, Raw: b} }

// JSONRestore wraps restore data that is already JSON.
func JSONRestore(m json.RawMessage) RestoreData { return RestoreData{Kind: RestoreJSON, JSON: m} }

// TextRestore wraps textual restore data.
func TextRestore(s string) RestoreData { return RestoreData{Kind: RestoreText, Text: s} }

func (r RestoreData) MarshalJSON() ([]byte, error) {
	var raw []byte
	var err error
	switch r.Kind {
	case RestoreRaw:
		raw, err = json.Marshal(r.Raw)
	case RestoreJSON:
		raw = r.JSON
		if len(raw) == 0 {
			raw = []byte("null")
		}
		if !json.Valid(raw) {
			return nil, fmt.Errorf("restore data: invalid JSON")
		}
	case RestoreText:
		raw, err = json.Marshal(r.Text)
	default:
		return nil, fmt.Errorf("%w: restore kind %q", ErrTypeDenied, r.Kind)
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedValue{Type: string(r.Kind), Value: raw})
}

func (r *RestoreData) UnmarshalJSON(data []byte) error {
	var tv taggedValue
	if err := json.Unmarshal(data, &tv); err != nil {
		return err
	}
	out := RestoreData{Kind: RestoreKind(tv.Type)}
	var err error
	switch out.Kind {
	case RestoreRaw:
		err = json.Unmarshal(tv.Value, &out.Raw)
	case RestoreJSON:
		out.JSON = append(json.RawMessage(nil), tv.Value...)
	case RestoreText:
		err = json.Unmarshal(tv.Value, &out.Text)
	default:
		return fmt.Errorf("%w: restore kind %q", ErrTypeDenied, tv.Type)
	}
	if err != nil {
		return fmt.Errorf("restore %s: %w", tv.Type, err)
	}
	*r = out
	return nil
}
