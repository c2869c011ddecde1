package loader

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"pgbulk/internal/pgcopy"
)

// timeLayouts are tried in order when a timestamp arrives as text.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999-07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// Coerce converts a value produced by a source driver or a text file into
// the Go type the copy encoder expects for t. Text input is parsed; native
// values the encoder accepts pass through unchanged and are range checked
// when written.
func Coerce(v any, t pgcopy.Type) (any, error) {
	switch x := v.(type) {
	case nil:
		return nil, nil
	case []byte:
		if t == pgcopy.Bytea {
			return append([]byte(nil), x...), nil
		}
		return parse(string(x), t)
	case string:
		return parse(x, t)
	}

	if t == pgcopy.Text {
		switch x := v.(type) {
		case time.Time:
			return x.Format(time.RFC3339Nano), nil
		case fmt.Stringer:
			return x.String(), nil
		default:
			return fmt.Sprint(x), nil
		}
	}
	if x, ok := v.(float32); ok && t == pgcopy.Double {
		return float64(x), nil
	}
	return v, nil
}

func parse(s string, t pgcopy.Type) (any, error) {
	if t.IsArray() {
		return parseArray(s, t.Elem())
	}
	switch t {
	case pgcopy.Text:
		return s, nil
	case pgcopy.Integer:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 32)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return int32(n), nil
	case pgcopy.Bigint:
		n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return n, nil
	case pgcopy.Double:
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return nil, fmt.Errorf("parse %s: %w", t, err)
		}
		return f, nil
	case pgcopy.Boolean:
		return parseBool(s)
	case pgcopy.Timestamp, pgcopy.TimestampTZ:
		return parseTime(s)
	case pgcopy.Bytea:
		if strings.HasPrefix(s, `\x`) {
			b, err := hex.DecodeString(s[2:])
			if err != nil {
				return nil, fmt.Errorf("parse %s: %w", t, err)
			}
			return b, nil
		}
		return []byte(s), nil
	}
	return nil, fmt.Errorf("cannot load values of type %s", t)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "t", "true", "y", "yes", "on", "1":
		return true, nil
	case "f", "false", "n", "no", "off", "0":
		return false, nil
	}
	return false, fmt.Errorf("parse boolean: invalid value %q", s)
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("parse timestamp: invalid value %q", s)
}

// parseArray reads a one-dimensional array literal such as {a,"b c",NULL}.
// Arrays with NULL elements cannot be written in binary and are refused.
func parseArray(s string, elem pgcopy.Type) (any, error) {
	items, err := splitArray(s)
	if err != nil {
		return nil, err
	}
	vals := make([]any, len(items))
	for i, item := range items {
		if item == nil {
			return nil, fmt.Errorf("array element %d is NULL", i+1)
		}
		if vals[i], err = parse(*item, elem); err != nil {
			return nil, fmt.Errorf("array element %d: %w", i+1, err)
		}
	}

	switch elem {
	case pgcopy.Text:
		return collect[string](vals), nil
	case pgcopy.Integer:
		return collect[int32](vals), nil
	case pgcopy.Bigint:
		return collect[int64](vals), nil
	case pgcopy.Double:
		return collect[float64](vals), nil
	case pgcopy.Boolean:
		return collect[bool](vals), nil
	case pgcopy.Timestamp, pgcopy.TimestampTZ:
		return collect[time.Time](vals), nil
	case pgcopy.Bytea:
		return collect[[]byte](vals), nil
	}
	return nil, fmt.Errorf("cannot load arrays of %s", elem)
}

func collect[T any](vals []any) []T {
	out := make([]T, len(vals))
	for i, v := range vals {
		out[i] = v.(T)
	}
	return out
}

var errArraySyntax = errors.New("malformed array literal")

// splitArray returns the elements of an array literal. A nil entry is an
// unquoted NULL.
func splitArray(s string) ([]*string, error) {
	s = strings.TrimSpace(s)
	if len(s) < 2 || s[0] != '{' || s[len(s)-1] != '}' {
		return nil, fmt.Errorf("%w: %q", errArraySyntax, s)
	}
	body := s[1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return []*string{}, nil
	}

	var (
		out    []*string
		cur    strings.Builder
		quoted bool
		inQ    bool
	)
	emit := func() {
		v := cur.String()
		if !quoted {
			v = strings.TrimSpace(v)
			if strings.EqualFold(v, "NULL") {
				out = append(out, nil)
				cur.Reset()
				return
			}
		}
		out = append(out, &v)
		cur.Reset()
		quoted = false
	}

	for i := 0; i < len(body); i++ {
		c := body[i]
		switch {
		case c == '\\':
			i++
			if i == len(body) {
				return nil, fmt.Errorf("%w: trailing backslash", errArraySyntax)
			}
			cur.WriteByte(body[i])
		case c == '"':
			inQ = !inQ
			quoted = true
		case c == ',' && !inQ:
			emit()
		case c == '{' && !inQ:
			return nil, fmt.Errorf("%w: nested arrays are not supported", errArraySyntax)
		case !inQ && isArraySpace(c) && (quoted || cur.Len() == 0):
			// Whitespace around an element is not part of it.
		default:
			cur.WriteByte(c)
		}
	}
	if inQ {
		return nil, fmt.Errorf("%w: unterminated quote", errArraySyntax)
	}
	emit()
	return out, nil
}

func isArraySpace(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\f', '\v':
		return true
	}
	return false
}
