package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

type Kind uint8

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindBool
)

// Value is one side of a field change.
type Value struct {
	Kind Kind
	Str  string
	Int  int64
	Bool bool
}

func Null() Value                { return Value{Kind: KindNull} }
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }
func IntValue(i int64) Value     { return Value{Kind: KindInt, Int: i} }
func BoolValue(b bool) Value     { return Value{Kind: KindBool, Bool: b} }

// OptStringValue maps a nil pointer to Null.
func OptStringValue(s *string) Value {
	if s == nil {
		return Null()
	}
	return StringValue(*s)
}

func (v Value) IsNull() bool {
	return v.Kind == KindNull
}

// String renders the value for humans; null renders as "null".
func (v Value) String() string {
	switch v.Kind {
	case KindString:
		return v.Str
	case KindInt:
		return strconv.FormatInt(v.Int, 10)
	case KindBool:
		return strconv.FormatBool(v.Bool)
	default:
		return "null"
	}
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindString:
		return json.Marshal(v.Str)
	case KindInt:
		return json.Marshal(v.Int)
	case KindBool:
		return json.Marshal(v.Bool)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON restores a value from the wire.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*v = Null()
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
	case bytes.Equal(data, []byte("true")), bytes.Equal(data, []byte("false")):
		*v = BoolValue(data[0] == 't')
	default:
		i, err := strconv.ParseInt(string(data), 10, 64)
		if err != nil {
			return fmt.Errorf("decode change value %s: %w", data, err)
		}
		*v = IntValue(i)
	}
	return nil
}

type Change struct {
	Field string
	Old   Value
	New   Value
}

// DeletedChange records an entity coming back after a soft delete.
func DeletedChange(deleted time.Time) Change {
	return Change{
		Field: "deleted",
		Old:   StringValue(deleted.UTC().Format(time.RFC3339)),
		New:   Null(),
	}
}

// FilePathChange records a successful (re)download.
func FilePathChange(old *string, path string) Change {
	return Change{
		Field: "file_path",
		Old:   OptStringValue(old),
		New:   StringValue(path),
	}
}

// Changes is an ordered list of field changes. It is encoded as a JSON object
// {"field": [old, new], ...} preserving order; a nil list encodes as null.
type Changes []Change

func (c Changes) Get(field string) (Change, bool) {
	for _, ch := range c {
		if ch.Field == field {
			return ch, true
		}
	}
	return Change{}, false
}

func (c Changes) MarshalJSON() ([]byte, error) {
	if c == nil {
		return []byte("null"), nil
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, ch := range c {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(ch.Field)
		if err != nil {
			return nil, err
		}
		pair, err := json.Marshal([2]Value{ch.Old, ch.New})
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(pair)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (c *Changes) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = nil
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	if _, err := dec.Token(); err != nil {
		return fmt.Errorf("decode changes: %w", err)
	}

	out := Changes{}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("decode changes: %w", err)
		}
		field, ok := tok.(string)
		if !ok {
			return fmt.Errorf("decode changes: unexpected key %v", tok)
		}
		var pair [2]Value
		if err := dec.Decode(&pair); err != nil {
			return fmt.Errorf("decode change %q: %w", field, err)
		}
		out = append(out, Change{Field: field, Old: pair[0], New: pair[1]})
	}
	*c = out
	return nil
}

// fieldMapping copies one attribute from a remote record onto a persisted one.
// apply returns the old and new value when they differ.
type fieldMapping[T any] struct {
	name  string
	apply func(dst, src *T) (from, to Value, changed bool)
}

func applyFields[T any](fields []fieldMapping[T], dst, src *T) Changes {
	var changes Changes
	for _, f := range fields {
		if from, to, changed := f.apply(dst, src); changed {
			changes = append(changes, Change{Field: f.name, Old: from, New: to})
		}
	}
	return changes
}

func stringField[T any](name string, get func(*T) *string) fieldMapping[T] {
	return fieldMapping[T]{name: name, apply: func(dst, src *T) (Value, Value, bool) {
		d, s := get(dst), get(src)
		if *d == *s {
			return Value{}, Value{}, false
		}
		old := StringValue(*d)
		*d = *s
		return old, StringValue(*s), true
	}}
}

func optStringField[T any](name string, get func(*T) **string) fieldMapping[T] {
	return fieldMapping[T]{name: name, apply: func(dst, src *T) (Value, Value, bool) {
		d, s := get(dst), get(src)
		if equalOpt(*d, *s) {
			return Value{}, Value{}, false
		}
		old := OptStringValue(*d)
		if *s == nil {
			*d = nil
		} else {
			v := **s
			*d = &v
		}
		return old, OptStringValue(*s), true
	}}
}

func intField[T any](name string, get func(*T) *int64) fieldMapping[T] {
	return fieldMapping[T]{name: name, apply: func(dst, src *T) (Value, Value, bool) {
		d, s := get(dst), get(src)
		if *d == *s {
			return Value{}, Value{}, false
		}
		old := IntValue(*d)
		*d = *s
		return old, IntValue(*s), true
	}}
}

func boolField[T any](name string, get func(*T) *bool) fieldMapping[T] {
	return fieldMapping[T]{name: name, apply: func(dst, src *T) (Value, Value, bool) {
		d, s := get(dst), get(src)
		if *d == *s {
			return Value{}, Value{}, false
		}
		old := BoolValue(*d)
		*d = *s
		return old, BoolValue(*s), true
	}}
}

func equalOpt(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
