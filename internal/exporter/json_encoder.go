package exporter

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
)

// JSONEncoder implements RowEncoder for JSON Lines format.
// Each row is exported as a JSON object on a new line.
type JSONEncoder struct {
	w       *bufio.Writer
	enc     *json.Encoder
	columns []string
	err     error
}

// NewJSONEncoder creates a new JSON Lines encoder.
func NewJSONEncoder(w io.Writer) *JSONEncoder {
	buf := bufio.NewWriterSize(w, 64*1024)
	return &JSONEncoder{w: buf, enc: json.NewEncoder(buf)}
}

// WriteHeader captures the column names to be used as JSON keys.
// Unlike CSV, JSON doesn't write a header row, but needs the names for object properties.
func (e *JSONEncoder) WriteHeader(columns []Column) error {
	e.columns = columnNames(columns)
	return nil
}

func (e *JSONEncoder) WriteRow(values []interface{}) error {
	if e.err != nil {
		return e.err
	}

	rowMap := make(map[string]interface{}, len(values))
	for i, v := range values {
		colName := fmt.Sprintf("column_%d", i+1)
		if i < len(e.columns) {
			colName = e.columns[i]
		}
		rowMap[colName] = jsonValue(v)
	}

	// Encode appends the newline.
	if err := e.enc.Encode(rowMap); err != nil {
		e.err = err
		return err
	}
	return nil
}

// jsonValue renders bytea as PostgreSQL's hex text instead of base64.
func jsonValue(v interface{}) interface{} {
	switch b := v.(type) {
	case []byte:
		return `\x` + hex.EncodeToString(b)
	case [][]byte:
		out := make([]string, len(b))
		for i := range b {
			out[i] = `\x` + hex.EncodeToString(b[i])
		}
		return out
	}
	return v
}

func (e *JSONEncoder) Flush() error {
	if e.err != nil {
		return e.err
	}
	if err := e.w.Flush(); err != nil {
		e.err = err
	}
	return e.err
}

func (e *JSONEncoder) Error() error {
	return e.err
}

func (e *JSONEncoder) Close() error {
	return e.Flush()
}
