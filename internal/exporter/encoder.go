package exporter

import (
	"encoding/hex"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"pgbulk/internal/pgcopy"
)

// Column names an exported column and its declared copy type.
type Column struct {
	Name string
	Type pgcopy.Type
}

// RowEncoder defines a common interface for different export formats (CSV, JSON, Excel, PDF, PGCOPY).
// It allows the exporter to be agnostic of the underlying output format.
type RowEncoder interface {
	// WriteHeader receives the columns of the export.
	// This should be called exactly once before any rows are written.
	WriteHeader(columns []Column) error

	// WriteRow writes a single row of decoded values; nil is NULL.
	// The values slice length must match the headers length.
	WriteRow(values []interface{}) error

	// Flush ensures all buffered data is written to the underlying writer.
	// Formats with a footer (xlsx, pdf, pgcopy) write the whole document here.
	Flush() error

	// Error returns the first error that occurred during encoding, if any.
	// This allows for cleaner loops where error checking can happen at the end.
	Error() error

	io.Closer
}

// Formats lists the supported export formats.
var Formats = []string{"csv", "json", "xlsx", "pdf", "pgcopy"}

// NewEncoder returns the encoder for format writing to w. With sanitize,
// text cells of spreadsheet-bound formats are guarded against formula
// injection.
func NewEncoder(format string, w io.Writer, sanitize bool) (RowEncoder, error) {
	switch strings.ToLower(format) {
	case "csv":
		enc := NewCSVEncoder(w)
		enc.SanitizeFormulas = sanitize
		return enc, nil
	case "json", "jsonl":
		return NewJSONEncoder(w), nil
	case "xlsx", "excel":
		return NewExcelEncoder(w), nil
	case "pdf":
		return NewPDFEncoder(w), nil
	case "pgcopy", "binary":
		return NewCopyEncoder(w), nil
	default:
		return nil, fmt.Errorf("unsupported export format %q", format)
	}
}

// Extension returns the file extension for format, without the dot.
func Extension(format string) string {
	switch strings.ToLower(format) {
	case "json", "jsonl":
		return "jsonl"
	case "xlsx", "excel":
		return "xlsx"
	case "pgcopy", "binary":
		return "pgcopy"
	case "pdf":
		return "pdf"
	default:
		return "csv"
	}
}

// formatValue renders a decoded value as text the way PostgreSQL's text
// output does, except that NULL is the empty string.
func formatValue(val interface{}) string {
	switch v := val.(type) {
	case nil:
		return ""
	case string:
		return v
	case []byte:
		return `\x` + hex.EncodeToString(v)
	case int32:
		return strconv.FormatInt(int64(v), 10)
	case int64:
		return strconv.FormatInt(v, 10)
	case int:
		return strconv.Itoa(v)
	case float64:
		return strconv.FormatFloat(v, 'g', -1, 64)
	case bool:
		if v {
			return "t"
		}
		return "f"
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case []string:
		return arrayLiteral(len(v), func(i int) string { return quoteElem(v[i]) })
	case []int32:
		return arrayLiteral(len(v), func(i int) string { return strconv.FormatInt(int64(v[i]), 10) })
	case []int64:
		return arrayLiteral(len(v), func(i int) string { return strconv.FormatInt(v[i], 10) })
	case []float64:
		return arrayLiteral(len(v), func(i int) string { return strconv.FormatFloat(v[i], 'g', -1, 64) })
	case []bool:
		return arrayLiteral(len(v), func(i int) string { return formatValue(v[i]) })
	case []time.Time:
		return arrayLiteral(len(v), func(i int) string { return quoteElem(formatValue(v[i])) })
	case [][]byte:
		return arrayLiteral(len(v), func(i int) string { return quoteElem(formatValue(v[i])) })
	default:
		return fmt.Sprint(v)
	}
}

func arrayLiteral(n int, elem func(int) string) string {
	var b strings.Builder
	b.WriteByte('{')
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(elem(i))
	}
	b.WriteByte('}')
	return b.String()
}

// quoteElem quotes an array element when the array literal syntax needs it.
func quoteElem(s string) string {
	if s != "" && !strings.ContainsAny(s, "{},\"\\ \t\n") && !strings.EqualFold(s, "null") {
		return s
	}
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`)
	return `"` + r.Replace(s) + `"`
}

// guardFormula prefixes text that a spreadsheet would evaluate as a formula.
func guardFormula(s string) string {
	if len(s) > 0 {
		first := s[0]
		if first == '=' || first == '+' || first == '-' || first == '@' {
			return "'" + s
		}
	}
	return s
}

func columnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.Name
	}
	return names
}
