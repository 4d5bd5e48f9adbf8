package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ValueKind identifies which member of the Value union is populated
type ValueKind string

const (
	ValueKindString ValueKind = "string"
	ValueKindNumber ValueKind = "number"
	ValueKindBool   ValueKind = "bool"
	ValueKindList   ValueKind = "list"

	// ValueKindRaw carries JSON this version does not model. The bytes
	// pass through storage and export untouched.
	ValueKindRaw ValueKind = "raw"
)

// Value is a metadata value: one of a small closed set of scalar kinds,
// or an opaque JSON blob for anything else.
type Value struct {
	Kind ValueKind       `json:"-"`
	Str  string          `json:"-"`
	Num  float64         `json:"-"`
	Bool bool            `json:"-"`
	List []string        `json:"-"`
	Raw  json.RawMessage `json:"-"`
}

// String constructs a string-kind value
func String(s string) Value { return Value{Kind: ValueKindString, Str: s} }

// Number constructs a number-kind value
func Number(n float64) Value { return Value{Kind: ValueKindNumber, Num: n} }

// Bool constructs a bool-kind value
func Bool(b bool) Value { return Value{Kind: ValueKindBool, Bool: b} }

// List constructs a string-list value
func List(items ...string) Value { return Value{Kind: ValueKindList, List: items} }

// MarshalJSON writes the value in its natural JSON shape
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case ValueKindString:
		return json.Marshal(v.Str)
	case ValueKindNumber:
		return json.Marshal(v.Num)
	case ValueKindBool:
		return json.Marshal(v.Bool)
	case ValueKindList:
		if v.List == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.List)
	case ValueKindRaw:
		if len(v.Raw) == 0 {
			return []byte("null"), nil
		}
		return v.Raw, nil
	}
	return nil, fmt.Errorf("unknown value kind: %q", v.Kind)
}

// UnmarshalJSON sniffs the JSON shape and picks the matching kind.
// Objects, nulls, and mixed arrays land in the raw escape hatch.
func (v *Value) UnmarshalJSON(data []byte) error {
	if string(bytes.TrimSpace(data)) == "null" {
		*v = Value{Kind: ValueKindRaw, Raw: append(json.RawMessage(nil), data...)}
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = String(s)
		return nil
	}
	var n float64
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Number(n)
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*v = Bool(b)
		return nil
	}
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*v = Value{Kind: ValueKindList, List: list}
		return nil
	}
	if !json.Valid(data) {
		return fmt.Errorf("invalid metadata value: %s", data)
	}
	*v = Value{Kind: ValueKindRaw, Raw: append(json.RawMessage(nil), data...)}
	return nil
}

// Display returns the value rendered for audit summaries and diffs
func (v Value) Display() string {
	data, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(data)
}
