package pgcopy

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
	"unicode/utf8"

	"github.com/lib/pq/oid"
)

func payloadMismatch(t Type, reason string) *TypeMismatchError {
	return &TypeMismatchError{Declared: t, Actual: "encoded value", Reason: reason}
}

func fixedWidth(t Type, p []byte, n int) error {
	if len(p) != n {
		return payloadMismatch(t, fmt.Sprintf("payload is %d bytes, want %d", len(p), n))
	}
	return nil
}

// decodeScalar decodes a non-null payload under the scalar type t. Byte
// slices in the result never alias p.
func decodeScalar(p []byte, t Type) (any, error) {
	switch t {
	case Text:
		if !utf8.Valid(p) {
			return nil, payloadMismatch(t, "invalid UTF-8")
		}
		return string(p), nil

	case Integer:
		if err := fixedWidth(t, p, 4); err != nil {
			return nil, err
		}
		return int32(binary.BigEndian.Uint32(p)), nil

	case Bigint:
		if err := fixedWidth(t, p, 8); err != nil {
			return nil, err
		}
		return int64(binary.BigEndian.Uint64(p)), nil

	case Double:
		if err := fixedWidth(t, p, 8); err != nil {
			return nil, err
		}
		return math.Float64frombits(binary.BigEndian.Uint64(p)), nil

	case Boolean:
		if err := fixedWidth(t, p, 1); err != nil {
			return nil, err
		}
		return p[0] != 0, nil

	case Timestamp, TimestampTZ:
		if err := fixedWidth(t, p, 8); err != nil {
			return nil, err
		}
		us := int64(binary.BigEndian.Uint64(p))
		if us == math.MaxInt64 || us == math.MinInt64 {
			return nil, payloadMismatch(t, "infinity")
		}
		return fromMicros(us), nil

	case Bytea:
		out := make([]byte, len(p))
		copy(out, p)
		return out, nil
	}
	return nil, payloadMismatch(t, "unsupported declared type")
}

// decodeArray decodes a one-dimensional array payload. A NULL element
// yields a *NullValueError naming the element.
func decodeArray(p []byte, t Type) (any, error) {
	elem := t.Elem()
	if len(p) < 12 {
		return nil, payloadMismatch(t, "array header truncated")
	}
	ndim := int32(binary.BigEndian.Uint32(p))
	elemOID := oid.Oid(binary.BigEndian.Uint32(p[8:]))
	p = p[12:]

	if ndim > 1 {
		return nil, payloadMismatch(t, fmt.Sprintf("%d-dimensional arrays are not supported", ndim))
	}
	if ndim < 0 {
		return nil, payloadMismatch(t, "negative dimension count")
	}
	if !elem.acceptsElem(elemOID) {
		return nil, payloadMismatch(t, fmt.Sprintf("array element type oid %d", elemOID))
	}

	n := 0
	if ndim == 1 {
		if len(p) < 8 {
			return nil, payloadMismatch(t, "array dimension truncated")
		}
		n = int(int32(binary.BigEndian.Uint32(p)))
		p = p[8:]
		if n < 0 {
			return nil, payloadMismatch(t, "negative array length")
		}
		// Every element carries at least its 4-byte length.
		if n > len(p)/4 {
			return nil, payloadMismatch(t, "array length exceeds payload")
		}
	}

	vals := make([]any, n)
	for i := 0; i < n; i++ {
		if len(p) < 4 {
			return nil, payloadMismatch(t, fmt.Sprintf("element %d truncated", i))
		}
		size := int32(binary.BigEndian.Uint32(p))
		p = p[4:]
		if size == nullValue {
			return nil, &NullValueError{Declared: t, Element: i}
		}
		if size < 0 || int(size) > len(p) {
			return nil, payloadMismatch(t, fmt.Sprintf("element %d truncated", i))
		}
		v, err := decodeScalar(p[:size], elem)
		if err != nil {
			return nil, payloadMismatch(t, fmt.Sprintf("element %d: %v", i, err))
		}
		vals[i] = v
		p = p[size:]
	}
	if len(p) != 0 {
		return nil, payloadMismatch(t, "trailing bytes after array elements")
	}
	return typedSlice(vals, elem), nil
}

// typedSlice converts decoded elements into the Go slice type for elem.
// The result is non-nil even when empty.
func typedSlice(vals []any, elem Type) any {
	switch elem {
	case Text:
		out := make([]string, len(vals))
		for i, v := range vals {
			out[i] = v.(string)
		}
		return out
	case Integer:
		out := make([]int32, len(vals))
		for i, v := range vals {
			out[i] = v.(int32)
		}
		return out
	case Bigint:
		out := make([]int64, len(vals))
		for i, v := range vals {
			out[i] = v.(int64)
		}
		return out
	case Double:
		out := make([]float64, len(vals))
		for i, v := range vals {
			out[i] = v.(float64)
		}
		return out
	case Boolean:
		out := make([]bool, len(vals))
		for i, v := range vals {
			out[i] = v.(bool)
		}
		return out
	case Timestamp, TimestampTZ:
		out := make([]time.Time, len(vals))
		for i, v := range vals {
			out[i] = v.(time.Time)
		}
		return out
	default:
		out := make([][]byte, len(vals))
		for i, v := range vals {
			out[i] = v.([]byte)
		}
		return out
	}
}

func decodeValue(p []byte, t Type) (any, error) {
	if !t.valid() {
		return nil, payloadMismatch(t, "unsupported declared type")
	}
	if t.IsArray() {
		return decodeArray(p, t)
	}
	return decodeScalar(p, t)
}
