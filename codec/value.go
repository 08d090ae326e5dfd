// Package codec defines the tagged values kvault stores and
// their byte representation.
//
// Every value is framed as
//
//	[1-byte tag][4-byte big-endian payload length][payload]
//
// String payloads are UTF-8 text, Int payloads are 8-byte big-endian
// two's complement integers and Bool payloads are a single 0 or 1 byte.
// Map payloads carry a 4-byte entry count followed by, for each entry,
// a 4-byte key length, the UTF-8 key and the framed value. Array payloads
// carry a 4-byte element count followed by the framed elements. Map
// entries are written in ascending key order so equal maps always encode
// to equal bytes.
package codec

import (
	"errors"
	"fmt"
	"sort"
)

// Tag identifies the kind of a Value
type Tag byte

const (
	TagString Tag = iota + 1
	TagInt
	TagBool
	TagMap
	TagArray
)

func (tag Tag) String() string {
	switch tag {
	case TagString:
		return "string"
	case TagInt:
		return "int"
	case TagBool:
		return "bool"
	case TagMap:
		return "map"
	case TagArray:
		return "array"
	}

	return fmt.Sprintf("tag(%d)", byte(tag))
}

func (tag Tag) valid() bool {
	return tag >= TagString && tag <= TagArray
}

var (
	// ErrTypeMismatch is returned when a value is read as a
	// different kind than the one it holds
	ErrTypeMismatch = errors.New("stored value has a different type")
	// ErrCorrupt is returned when bytes are not a valid frame
	ErrCorrupt = errors.New("value encoding is corrupt")
	// ErrTooDeep is returned for values nested deeper than MaxDepth
	ErrTooDeep = errors.New("value is nested too deeply")
	// ErrTruncated is returned when a native value can't be represented
	// exactly, such as integers outside the int64 range
	ErrTruncated = errors.New("value cannot be represented without truncation")
	// ErrUnsupported is returned for native values with no tag
	ErrUnsupported = errors.New("unsupported value type")
)

// MaxDepth is the deepest nesting of maps and arrays a value may have.
// A scalar has depth 0.
const MaxDepth = 64

// Value is a tagged union over string, int64, bool,
// map[string]Value and []Value. The zero Value is invalid.
type Value struct {
	tag Tag
	s   string
	i   int64
	b   bool
	m   map[string]Value
	a   []Value
}

// String creates a string value
func String(s string) Value {
	return Value{tag: TagString, s: s}
}

// Int creates an integer value
func Int(i int64) Value {
	return Value{tag: TagInt, i: i}
}

// Bool creates a boolean value
func Bool(b bool) Value {
	return Value{tag: TagBool, b: b}
}

// Map creates a map value. A nil map is an empty map.
func Map(m map[string]Value) Value {
	if m == nil {
		m = map[string]Value{}
	}

	return Value{tag: TagMap, m: m}
}

// Array creates an array value. A nil slice is an empty array.
func Array(a []Value) Value {
	if a == nil {
		a = []Value{}
	}

	return Value{tag: TagArray, a: a}
}

// Tag returns the kind of this value
func (v Value) Tag() Tag {
	return v.tag
}

func (v Value) mismatch(want Tag) error {
	return fmt.Errorf("%w: want %s, have %s", ErrTypeMismatch, want, v.tag)
}

// AsString returns the string held by v
func (v Value) AsString() (string, error) {
	if v.tag != TagString {
		return "", v.mismatch(TagString)
	}

	return v.s, nil
}

// AsInt returns the integer held by v
func (v Value) AsInt() (int64, error) {
	if v.tag != TagInt {
		return 0, v.mismatch(TagInt)
	}

	return v.i, nil
}

// AsBool returns the boolean held by v
func (v Value) AsBool() (bool, error) {
	if v.tag != TagBool {
		return false, v.mismatch(TagBool)
	}

	return v.b, nil
}

// AsMap returns the map held by v
func (v Value) AsMap() (map[string]Value, error) {
	if v.tag != TagMap {
		return nil, v.mismatch(TagMap)
	}

	return v.m, nil
}

// AsArray returns the elements held by v
func (v Value) AsArray() ([]Value, error) {
	if v.tag != TagArray {
		return nil, v.mismatch(TagArray)
	}

	return v.a, nil
}

// Equal reports whether v and other hold the same tagged contents
func (v Value) Equal(other Value) bool {
	if v.tag != other.tag {
		return false
	}

	switch v.tag {
	case TagString:
		return v.s == other.s
	case TagInt:
		return v.i == other.i
	case TagBool:
		return v.b == other.b
	case TagMap:
		if len(v.m) != len(other.m) {
			return false
		}

		for k, child := range v.m {
			otherChild, ok := other.m[k]

			if !ok || !child.Equal(otherChild) {
				return false
			}
		}

		return true
	case TagArray:
		if len(v.a) != len(other.a) {
			return false
		}

		for i := range v.a {
			if !v.a[i].Equal(other.a[i]) {
				return false
			}
		}

		return true
	}

	return true
}

// Interface converts v to plain Go values: string, int64, bool,
// map[string]interface{} or []interface{}.
func (v Value) Interface() interface{} {
	switch v.tag {
	case TagString:
		return v.s
	case TagInt:
		return v.i
	case TagBool:
		return v.b
	case TagMap:
		m := make(map[string]interface{}, len(v.m))

		for k, child := range v.m {
			m[k] = child.Interface()
		}

		return m
	case TagArray:
		a := make([]interface{}, len(v.a))

		for i, child := range v.a {
			a[i] = child.Interface()
		}

		return a
	}

	return nil
}

func (v Value) sortedKeys() []string {
	keys := make([]string, 0, len(v.m))

	for k := range v.m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}
