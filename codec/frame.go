package codec

import (
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

const (
	headerSize = 5
	countSize  = 4
)

// Marshal encodes v into its framed representation
func Marshal(v Value) ([]byte, error) {
	return appendValue(nil, v, 0)
}

// Unmarshal decodes a single framed value. data must contain
// exactly one frame.
func Unmarshal(data []byte) (Value, error) {
	v, n, err := decodeValue(data, 0)

	if err != nil {
		return Value{}, err
	}

	if n != len(data) {
		return Value{}, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, len(data)-n)
	}

	return v, nil
}

// PeekTag returns the tag of a framed value without decoding it
func PeekTag(data []byte) (Tag, error) {
	if len(data) < headerSize {
		return 0, fmt.Errorf("%w: short header", ErrCorrupt)
	}

	tag := Tag(data[0])

	if !tag.valid() {
		return 0, fmt.Errorf("%w: unknown tag %d", ErrCorrupt, data[0])
	}

	return tag, nil
}

func appendUint32(b []byte, n int) ([]byte, error) {
	if n < 0 || uint64(n) > math.MaxUint32 {
		return nil, fmt.Errorf("length %d does not fit in a frame", n)
	}

	return binary.BigEndian.AppendUint32(b, uint32(n)), nil
}

func appendValue(b []byte, v Value, depth int) ([]byte, error) {
	if depth > MaxDepth {
		return nil, ErrTooDeep
	}

	if !v.tag.valid() {
		return nil, fmt.Errorf("%w: zero Value", ErrUnsupported)
	}

	b = append(b, byte(v.tag))

	// Reserve the length and patch it once the payload is written
	lengthAt := len(b)
	b = append(b, 0, 0, 0, 0)

	var err error

	switch v.tag {
	case TagString:
		if !utf8.ValidString(v.s) {
			return nil, fmt.Errorf("%w: string is not valid UTF-8", ErrUnsupported)
		}

		b = append(b, v.s...)
	case TagInt:
		b = binary.BigEndian.AppendUint64(b, uint64(v.i))
	case TagBool:
		if v.b {
			b = append(b, 1)
		} else {
			b = append(b, 0)
		}
	case TagMap:
		if b, err = appendUint32(b, len(v.m)); err != nil {
			return nil, err
		}

		for _, k := range v.sortedKeys() {
			if !utf8.ValidString(k) {
				return nil, fmt.Errorf("%w: map key is not valid UTF-8", ErrUnsupported)
			}

			if b, err = appendUint32(b, len(k)); err != nil {
				return nil, err
			}

			b = append(b, k...)

			if b, err = appendValue(b, v.m[k], depth+1); err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
		}
	case TagArray:
		if b, err = appendUint32(b, len(v.a)); err != nil {
			return nil, err
		}

		for i, child := range v.a {
			if b, err = appendValue(b, child, depth+1); err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
		}
	}

	payloadSize := len(b) - lengthAt - 4

	if uint64(payloadSize) > math.MaxUint32 {
		return nil, fmt.Errorf("payload of %d bytes does not fit in a frame", payloadSize)
	}

	binary.BigEndian.PutUint32(b[lengthAt:], uint32(payloadSize))

	return b, nil
}

// decodeValue decodes the frame at the start of data and
// returns the number of bytes it occupied
func decodeValue(data []byte, depth int) (Value, int, error) {
	if depth > MaxDepth {
		return Value{}, 0, ErrTooDeep
	}

	tag, err := PeekTag(data)

	if err != nil {
		return Value{}, 0, err
	}

	length := uint64(binary.BigEndian.Uint32(data[1:headerSize]))

	if uint64(len(data)-headerSize) < length {
		return Value{}, 0, fmt.Errorf("%w: payload of %d bytes is truncated", ErrCorrupt, length)
	}

	payload := data[headerSize : headerSize+int(length)]
	size := headerSize + int(length)

	switch tag {
	case TagString:
		if !utf8.Valid(payload) {
			return Value{}, 0, fmt.Errorf("%w: string is not valid UTF-8", ErrCorrupt)
		}

		return String(string(payload)), size, nil
	case TagInt:
		if len(payload) != 8 {
			return Value{}, 0, fmt.Errorf("%w: int payload is %d bytes", ErrCorrupt, len(payload))
		}

		return Int(int64(binary.BigEndian.Uint64(payload))), size, nil
	case TagBool:
		if len(payload) != 1 || payload[0] > 1 {
			return Value{}, 0, fmt.Errorf("%w: invalid bool payload", ErrCorrupt)
		}

		return Bool(payload[0] == 1), size, nil
	case TagMap:
		m, err := decodeMap(payload, depth)

		if err != nil {
			return Value{}, 0, err
		}

		return Map(m), size, nil
	}

	a, err := decodeArray(payload, depth)

	if err != nil {
		return Value{}, 0, err
	}

	return Array(a), size, nil
}

func readCount(payload []byte) (int, []byte, error) {
	if len(payload) < countSize {
		return 0, nil, fmt.Errorf("%w: missing count", ErrCorrupt)
	}

	return int(binary.BigEndian.Uint32(payload)), payload[countSize:], nil
}

func decodeMap(payload []byte, depth int) (map[string]Value, error) {
	count, rest, err := readCount(payload)

	if err != nil {
		return nil, err
	}

	// Each entry takes at least a key length and a header
	if count > len(rest)/(countSize+headerSize) {
		return nil, fmt.Errorf("%w: map count %d exceeds payload", ErrCorrupt, count)
	}

	m := make(map[string]Value, count)

	for i := 0; i < count; i++ {
		keyLength, afterLength, err := readCount(rest)

		if err != nil {
			return nil, err
		}

		if len(afterLength) < keyLength {
			return nil, fmt.Errorf("%w: map key is truncated", ErrCorrupt)
		}

		key := afterLength[:keyLength]

		if !utf8.Valid(key) {
			return nil, fmt.Errorf("%w: map key is not valid UTF-8", ErrCorrupt)
		}

		if _, ok := m[string(key)]; ok {
			return nil, fmt.Errorf("%w: duplicate map key %q", ErrCorrupt, key)
		}

		v, n, err := decodeValue(afterLength[keyLength:], depth+1)

		if err != nil {
			return nil, err
		}

		m[string(key)] = v
		rest = afterLength[keyLength+n:]
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in map", ErrCorrupt, len(rest))
	}

	return m, nil
}

func decodeArray(payload []byte, depth int) ([]Value, error) {
	count, rest, err := readCount(payload)

	if err != nil {
		return nil, err
	}

	if count > len(rest)/headerSize {
		return nil, fmt.Errorf("%w: array count %d exceeds payload", ErrCorrupt, count)
	}

	a := make([]Value, count)

	for i := 0; i < count; i++ {
		v, n, err := decodeValue(rest, depth+1)

		if err != nil {
			return nil, err
		}

		a[i] = v
		rest = rest[n:]
	}

	if len(rest) != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes in array", ErrCorrupt, len(rest))
	}

	return a, nil
}
