package codec

import (
	"fmt"
	"math"
)

// FromGo converts a plain Go value into a Value. It accepts strings,
// booleans, every integer kind, floats holding integral values,
// map[string]interface{}, []interface{} (and typed maps and slices of
// those) and Values. Integers that don't fit in an int64 and floats
// with a fractional part fail with ErrTruncated. The result shares no
// maps or slices with native.
func FromGo(native interface{}) (Value, error) {
	return fromGo(native, 0)
}

func fromGo(native interface{}, depth int) (Value, error) {
	if depth > MaxDepth {
		return Value{}, ErrTooDeep
	}

	switch n := native.(type) {
	case Value:
		switch n.tag {
		case TagMap:
			return fromGo(n.m, depth)
		case TagArray:
			return fromGo(n.a, depth)
		}

		if !n.tag.valid() {
			return Value{}, fmt.Errorf("%w: zero Value", ErrUnsupported)
		}

		return n, nil
	case string:
		return String(n), nil
	case bool:
		return Bool(n), nil
	case int:
		return Int(int64(n)), nil
	case int8:
		return Int(int64(n)), nil
	case int16:
		return Int(int64(n)), nil
	case int32:
		return Int(int64(n)), nil
	case int64:
		return Int(n), nil
	case uint:
		return fromUint(uint64(n))
	case uint8:
		return Int(int64(n)), nil
	case uint16:
		return Int(int64(n)), nil
	case uint32:
		return Int(int64(n)), nil
	case uint64:
		return fromUint(n)
	case float32:
		return fromFloat(float64(n))
	case float64:
		return fromFloat(n)
	case map[string]interface{}:
		m := make(map[string]Value, len(n))

		for k, child := range n {
			v, err := fromGo(child, depth+1)

			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}

			m[k] = v
		}

		return Map(m), nil
	case map[string]string:
		m := make(map[string]Value, len(n))

		for k, child := range n {
			m[k] = String(child)
		}

		return Map(m), nil
	case map[string]Value:
		m := make(map[string]Value, len(n))

		for k, child := range n {
			v, err := fromGo(child, depth+1)

			if err != nil {
				return Value{}, fmt.Errorf("key %q: %w", k, err)
			}

			m[k] = v
		}

		return Map(m), nil
	case []interface{}:
		a := make([]Value, len(n))

		for i, child := range n {
			v, err := fromGo(child, depth+1)

			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}

			a[i] = v
		}

		return Array(a), nil
	case []string:
		a := make([]Value, len(n))

		for i, child := range n {
			a[i] = String(child)
		}

		return Array(a), nil
	case []int64:
		a := make([]Value, len(n))

		for i, child := range n {
			a[i] = Int(child)
		}

		return Array(a), nil
	case []Value:
		a := make([]Value, len(n))

		for i, child := range n {
			v, err := fromGo(child, depth+1)

			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}

			a[i] = v
		}

		return Array(a), nil
	case nil:
		return Value{}, fmt.Errorf("%w: nil", ErrUnsupported)
	}

	return Value{}, fmt.Errorf("%w: %T", ErrUnsupported, native)
}

func fromUint(n uint64) (Value, error) {
	if n > math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: %d overflows int64", ErrTruncated, n)
	}

	return Int(int64(n)), nil
}

func fromFloat(f float64) (Value, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return Value{}, fmt.Errorf("%w: %v is not an integer", ErrTruncated, f)
	}

	// float64(math.MaxInt64) rounds up to 2^63 which is out of range
	if f < math.MinInt64 || f >= math.MaxInt64 {
		return Value{}, fmt.Errorf("%w: %v overflows int64", ErrTruncated, f)
	}

	return Int(int64(f)), nil
}
