package exporter

import (
	"bufio"
	"encoding/csv"
	"io"
)

// CSVEncoder wraps encoding/csv with type-aware, low-allocation logic.
// It uses a bufio.Writer to minimize IO syscalls, which is crucial for high-throughput exporting.
// NULL is written as an empty field, as COPY ... (FORMAT CSV) does.
type CSVEncoder struct {
	w      *csv.Writer
	buf    *bufio.Writer
	record []string

	// SanitizeFormulas prefixes text fields starting with =, +, - or @ with
	// a single quote (CSV injection).
	SanitizeFormulas bool
}

// NewCSVEncoder creates a new CSV encoder that writes to the provided io.Writer.
// It initializes a 64KB buffer to optimize write performance.
func NewCSVEncoder(w io.Writer) *CSVEncoder {
	buf := bufio.NewWriterSize(w, 64*1024) // 64KB buffer
	return &CSVEncoder{
		w:   csv.NewWriter(buf),
		buf: buf,
	}
}

// WriteHeader writes the CSV header row.
func (e *CSVEncoder) WriteHeader(columns []Column) error {
	e.record = make([]string, len(columns))
	return e.w.Write(columnNames(columns))
}

func (e *CSVEncoder) WriteRow(values []interface{}) error {
	if len(e.record) != len(values) {
		e.record = make([]string, len(values))
	}
	for i, v := range values {
		s := formatValue(v)
		if _, isText := v.(string); isText && e.SanitizeFormulas {
			s = guardFormula(s)
		}
		e.record[i] = s
	}
	// csv.Writer copies the fields, so the record is reused.
	return e.w.Write(e.record)
}

// Flush ensures all data is written to the underlying writer.
func (e *CSVEncoder) Flush() error {
	e.w.Flush()
	if err := e.w.Error(); err != nil {
		return err
	}
	return e.buf.Flush()
}

// Error returns any error stored in the CSV writer.
func (e *CSVEncoder) Error() error {
	return e.w.Error()
}

// Close flushes and satisfies io.Closer.
func (e *CSVEncoder) Close() error {
	return e.Flush()
}
