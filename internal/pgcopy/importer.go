package pgcopy

import (
	"errors"
	"fmt"
	"io"

	"github.com/lib/pq/oid"
)

// Option configures an Importer, an Exporter or a session.
type Option func(*options)

type options struct {
	flushSize   int
	columnTypes []Type
}

// WithFlushSize sets how many encoded bytes an Importer buffers before it
// hands them to the underlying writer at the next row boundary.
func WithFlushSize(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.flushSize = n
		}
	}
}

// WithColumnTypes declares the types of the session's columns up front.
// Writes and reads under a different declared type are rejected before any
// bytes move. Sessions otherwise ask a ColumnResolver when the connection
// implements one.
func WithColumnTypes(types ...Type) Option {
	return func(o *options) {
		o.columnTypes = types
	}
}

func buildOptions(opts []Option) options {
	o := options{flushSize: defaultFlushSize}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func typeOIDs(types []Type) []oid.Oid {
	if len(types) == 0 {
		return nil
	}
	out := make([]oid.Oid, len(types))
	for i, t := range types {
		out[i] = t.OID()
	}
	return out
}

// Importer encodes rows into a binary copy stream written to w.
//
// Rows are buffered and handed to w at row boundaries only, so a failed
// column never leaves half a row on the wire. An Importer is not safe for
// concurrent use.
type Importer struct {
	w         io.Writer
	buf       []byte
	flushSize int
	declared  int
	target    []oid.Oid

	rows     int
	written  int
	open     bool
	finished bool
	err      error
}

// NewImporter returns an Importer for rows of ncols columns. The stream
// header is written with the first flush.
func NewImporter(w io.Writer, ncols int, opts ...Option) (*Importer, error) {
	if ncols < 1 || ncols > maxColumns {
		return nil, fmt.Errorf("pgcopy: column count %d out of range [1, %d]", ncols, maxColumns)
	}
	o := buildOptions(opts)
	if len(o.columnTypes) > 0 && len(o.columnTypes) != ncols {
		return nil, fmt.Errorf("pgcopy: %d column types for %d columns", len(o.columnTypes), ncols)
	}
	imp := &Importer{
		w:         w,
		buf:       make([]byte, 0, o.flushSize+headerSize),
		flushSize: o.flushSize,
		declared:  ncols,
		target:    typeOIDs(o.columnTypes),
	}
	imp.buf = appendHeader(imp.buf)
	return imp, nil
}

// Rows returns the number of complete rows encoded so far.
func (i *Importer) Rows() int64 {
	if i.open && i.written < i.declared {
		return int64(i.rows - 1)
	}
	return int64(i.rows)
}

// Buffered returns the number of encoded bytes not yet handed to the writer.
func (i *Importer) Buffered() int {
	return len(i.buf)
}

func (i *Importer) check(op string) error {
	if i.err != nil {
		return i.err
	}
	if i.finished {
		return &StateError{Op: op, State: "import already finished"}
	}
	return nil
}

func (i *Importer) incomplete() error {
	if i.open && i.written < i.declared {
		return &IncompleteRowError{Row: i.rows - 1, Written: i.written, Declared: i.declared}
	}
	return nil
}

// StartRow opens the next row. It fails with *IncompleteRowError while the
// current row still lacks columns.
func (i *Importer) StartRow() error {
	if err := i.check("StartRow"); err != nil {
		return err
	}
	if err := i.incomplete(); err != nil {
		return err
	}
	if len(i.buf) >= i.flushSize {
		if err := i.flush(); err != nil {
			return err
		}
	}
	i.buf = putInt16(i.buf, int16(i.declared))
	i.rows++
	i.written = 0
	i.open = true
	return nil
}

// WriteColumn encodes v as the next column of the open row under the
// declared type t. On error nothing is appended and the row stays where it
// was, so the caller may retry the column.
func (i *Importer) WriteColumn(v any, t Type) error {
	if err := i.columnTurn("WriteColumn"); err != nil {
		return err
	}
	if i.target != nil && !t.accepts(i.target[i.written]) {
		return &TypeMismatchError{
			Row: i.rows - 1, Column: i.written, Declared: t,
			Actual: fmt.Sprintf("column of type oid %d", i.target[i.written]),
		}
	}
	b, err := appendColumn(i.buf, v, t)
	if err != nil {
		var tm *TypeMismatchError
		if errors.As(err, &tm) {
			tm.Row, tm.Column = i.rows-1, i.written
		}
		return err
	}
	i.buf = b
	i.written++
	return nil
}

// WriteNull writes NULL as the next column of the open row.
func (i *Importer) WriteNull() error {
	if err := i.columnTurn("WriteNull"); err != nil {
		return err
	}
	i.buf = putInt32(i.buf, nullValue)
	i.written++
	return nil
}

func (i *Importer) columnTurn(op string) error {
	if err := i.check(op); err != nil {
		return err
	}
	if !i.open {
		return &StateError{Op: op, State: "no open row"}
	}
	if i.written == i.declared {
		return &ColumnCountError{Row: i.rows - 1, Got: i.written + 1, Declared: i.declared}
	}
	return nil
}

// WriteRow writes a complete row. Either all columns are encoded or the row
// is dropped and the importer is left as it was before the call.
func (i *Importer) WriteRow(values []any, types []Type) error {
	if err := i.check("WriteRow"); err != nil {
		return err
	}
	if len(values) != i.declared {
		return &ColumnCountError{Row: i.rows, Got: len(values), Declared: i.declared}
	}
	if len(types) != len(values) {
		return fmt.Errorf("pgcopy: %d types for %d values", len(types), len(values))
	}
	if err := i.StartRow(); err != nil {
		return err
	}
	mark := len(i.buf) - 2
	for c, v := range values {
		if err := i.WriteColumn(v, types[c]); err != nil {
			i.buf = i.buf[:mark]
			i.rows--
			i.written = i.declared
			i.open = i.rows > 0
			return err
		}
	}
	return nil
}

// Finish writes the trailer and flushes everything buffered. The last row
// must be complete.
func (i *Importer) Finish() error {
	if err := i.check("Finish"); err != nil {
		return err
	}
	if err := i.incomplete(); err != nil {
		return err
	}
	i.buf = putInt16(i.buf, trailer)
	i.open = false
	if err := i.flush(); err != nil {
		return err
	}
	i.finished = true
	return nil
}

func (i *Importer) flush() error {
	if len(i.buf) == 0 {
		return nil
	}
	if _, err := i.w.Write(i.buf); err != nil {
		i.err = fmt.Errorf("pgcopy: write copy stream: %w", err)
		return i.err
	}
	i.buf = i.buf[:0]
	return nil
}
