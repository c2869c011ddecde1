package pgcopy

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"
)

func mismatch(t Type, v any, reason string) *TypeMismatchError {
	return &TypeMismatchError{Declared: t, Actual: fmt.Sprintf("%T", v), Reason: reason}
}

// isNull reports whether v stands for NULL: untyped nil or a nil pointer of
// one of the accepted pointer types.
func isNull(v any) bool {
	switch p := v.(type) {
	case nil:
		return true
	case *string:
		return p == nil
	case *int32:
		return p == nil
	case *int64:
		return p == nil
	case *float64:
		return p == nil
	case *bool:
		return p == nil
	case *time.Time:
		return p == nil
	}
	return false
}

func deref(v any) any {
	switch p := v.(type) {
	case *string:
		return *p
	case *int32:
		return *p
	case *int64:
		return *p
	case *float64:
		return *p
	case *bool:
		return *p
	case *time.Time:
		return *p
	}
	return v
}

// appendColumn appends the length-prefixed encoding of v under the declared
// type t. On error b is returned unchanged in length.
func appendColumn(b []byte, v any, t Type) ([]byte, error) {
	if !t.valid() {
		return b, &TypeMismatchError{Declared: t, Actual: fmt.Sprintf("%T", v), Reason: "unsupported declared type"}
	}
	if isNull(v) {
		return putInt32(b, nullValue), nil
	}
	v = deref(v)

	start := len(b)
	b = putInt32(b, 0)
	var err error
	if t.IsArray() {
		b, err = appendArray(b, v, t)
	} else {
		b, err = appendScalar(b, v, t)
	}
	if err != nil {
		return b[:start], err
	}
	n := len(b) - start - 4
	if n > maxFieldSize {
		return b[:start], mismatch(t, v, "value exceeds 1GB")
	}
	binary.BigEndian.PutUint32(b[start:], uint32(n))
	return b, nil
}

func appendScalar(b []byte, v any, t Type) ([]byte, error) {
	switch t {
	case Text:
		s, ok := v.(string)
		if !ok {
			return b, mismatch(t, v, "")
		}
		if !utf8.ValidString(s) {
			return b, mismatch(t, v, "invalid UTF-8")
		}
		return append(b, s...), nil

	case Integer:
		i, ok := toInt64(v)
		if !ok {
			return b, mismatch(t, v, "")
		}
		if i < math.MinInt32 || i > math.MaxInt32 {
			return b, mismatch(t, v, "out of range")
		}
		return putInt32(b, int32(i)), nil

	case Bigint:
		i, ok := toInt64(v)
		if !ok {
			if u, isU := v.(uint64); isU {
				if u > math.MaxInt64 {
					return b, mismatch(t, v, "out of range")
				}
				return putInt64(b, int64(u)), nil
			}
			return b, mismatch(t, v, "")
		}
		return putInt64(b, i), nil

	case Double:
		var f float64
		switch x := v.(type) {
		case float64:
			f = x
		case float32:
			f = float64(x)
		default:
			return b, mismatch(t, v, "")
		}
		return putInt64(b, int64(math.Float64bits(f))), nil

	case Boolean:
		x, ok := v.(bool)
		if !ok {
			return b, mismatch(t, v, "")
		}
		if x {
			return append(b, 1), nil
		}
		return append(b, 0), nil

	case Timestamp, TimestampTZ:
		x, ok := v.(time.Time)
		if !ok {
			return b, mismatch(t, v, "")
		}
		us, ok := toMicros(x, t == TimestampTZ)
		if !ok {
			return b, mismatch(t, v, "out of range")
		}
		return putInt64(b, us), nil

	case Bytea:
		x, ok := v.([]byte)
		if !ok {
			return b, mismatch(t, v, "")
		}
		return append(b, x...), nil
	}
	return b, mismatch(t, v, "unsupported declared type")
}

// toInt64 accepts every Go integer kind that fits an int64.
func toInt64(v any) (int64, bool) {
	switch x := v.(type) {
	case int:
		return int64(x), true
	case int8:
		return int64(x), true
	case int16:
		return int64(x), true
	case int32:
		return int64(x), true
	case int64:
		return x, true
	case uint8:
		return int64(x), true
	case uint16:
		return int64(x), true
	case uint32:
		return int64(x), true
	}
	return 0, false
}

// elements flattens a typed Go slice into its elements, or reports that v
// is not a slice matching the array's element type.
func elements(v any, elem Type) ([]any, bool) {
	var out []any
	switch elem {
	case Text:
		s, ok := v.([]string)
		if !ok {
			return nil, false
		}
		out = make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
	case Integer:
		s, ok := v.([]int32)
		if !ok {
			return nil, false
		}
		out = make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
	case Bigint:
		s, ok := v.([]int64)
		if !ok {
			return nil, false
		}
		out = make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
	case Double:
		s, ok := v.([]float64)
		if !ok {
			return nil, false
		}
		out = make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
	case Boolean:
		s, ok := v.([]bool)
		if !ok {
			return nil, false
		}
		out = make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
	case Timestamp, TimestampTZ:
		s, ok := v.([]time.Time)
		if !ok {
			return nil, false
		}
		out = make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
	case Bytea:
		s, ok := v.([][]byte)
		if !ok {
			return nil, false
		}
		out = make([]any, len(s))
		for i := range s {
			out[i] = s[i]
		}
	default:
		return nil, false
	}
	return out, true
}

// appendArray writes a one-dimensional array with lower bound 1. An empty
// slice is written as a zero-dimensional array, as the server does.
func appendArray(b []byte, v any, t Type) ([]byte, error) {
	elem := t.Elem()
	elems, ok := elements(v, elem)
	if !ok {
		return b, mismatch(t, v, "")
	}

	ndim := int32(1)
	if len(elems) == 0 {
		ndim = 0
	}
	b = putInt32(b, ndim)
	b = putInt32(b, 0) // no NULL elements
	b = putInt32(b, int32(elem.OID()))
	if ndim == 1 {
		b = putInt32(b, int32(len(elems)))
		b = putInt32(b, 1)
	}
	for i, e := range elems {
		var err error
		b, err = appendColumn(b, e, elem)
		if err != nil {
			m := mismatch(t, v, fmt.Sprintf("element %d: %v", i, err))
			return b, m
		}
	}
	return b, nil
}
