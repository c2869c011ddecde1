package pgcopy

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/lib/pq/oid"
)

// Exporter decodes a binary copy stream read from r.
//
// A declared type that disagrees with the stream is fatal: the exporter
// keeps returning the first such error. A NULL read through ReadColumn is
// not; the column is consumed and reading continues with the next one.
type Exporter struct {
	r        *bufio.Reader
	declared int
	source   []oid.Oid
	scratch  []byte

	// atEnd runs once when the trailer is read.
	atEnd func() error

	started   bool
	rows      int
	cols      int
	read      int
	open      bool
	exhausted bool
	err       error
}

// NewExporter returns an Exporter for rows of ncols columns. With ncols 0
// the count is taken from the first row and enforced from then on.
func NewExporter(r io.Reader, ncols int, opts ...Option) (*Exporter, error) {
	if ncols < 0 || ncols > maxColumns {
		return nil, fmt.Errorf("pgcopy: column count %d out of range [0, %d]", ncols, maxColumns)
	}
	o := buildOptions(opts)
	if len(o.columnTypes) > 0 && ncols != 0 && len(o.columnTypes) != ncols {
		return nil, fmt.Errorf("pgcopy: %d column types for %d columns", len(o.columnTypes), ncols)
	}
	if ncols == 0 {
		ncols = len(o.columnTypes)
	}
	return &Exporter{
		r:        bufio.NewReaderSize(r, o.flushSize),
		declared: ncols,
		source:   typeOIDs(o.columnTypes),
	}, nil
}

// Rows returns the number of rows started so far.
func (e *Exporter) Rows() int64 {
	return int64(e.rows)
}

// Columns returns the declared column count, or 0 before the first row of
// an exporter created without one.
func (e *Exporter) Columns() int {
	return e.declared
}

func (e *Exporter) fail(err error) error {
	e.err = err
	e.open = false
	return err
}

func (e *Exporter) readFull(p []byte, what string) error {
	if _, err := io.ReadFull(e.r, p); err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return &FormatError{Reason: "unexpected end of stream reading " + what}
		}
		return fmt.Errorf("pgcopy: read copy stream: %w", err)
	}
	return nil
}

func (e *Exporter) readHeader() error {
	var h [headerSize]byte
	if err := e.readFull(h[:], "header"); err != nil {
		return err
	}
	if !bytes.Equal(h[:len(signature)], signature[:]) {
		return &FormatError{Reason: "bad signature"}
	}
	flags := binary.BigEndian.Uint32(h[len(signature):])
	if flags&flagHasOIDs != 0 {
		return &FormatError{Reason: "streams with row OIDs are not supported"}
	}
	ext := int32(binary.BigEndian.Uint32(h[len(signature)+4:]))
	if ext < 0 {
		return &FormatError{Reason: "negative header extension length"}
	}
	if _, err := e.r.Discard(int(ext)); err != nil {
		return &FormatError{Reason: "header extension truncated", Err: err}
	}
	return nil
}

// StartRow advances to the next row and returns its column count. At the
// end of the data it returns -1 and io.EOF, and keeps doing so.
func (e *Exporter) StartRow() (int, error) {
	if e.err != nil {
		return -1, e.err
	}
	if e.exhausted {
		return -1, io.EOF
	}
	if e.open && e.read < e.cols {
		return -1, &IncompleteRowError{Row: e.rows - 1, Written: e.read, Declared: e.cols}
	}
	if !e.started {
		if err := e.readHeader(); err != nil {
			return -1, e.fail(err)
		}
		e.started = true
	}

	var b [2]byte
	if err := e.readFull(b[:], "row column count"); err != nil {
		return -1, e.fail(err)
	}
	n := int16(binary.BigEndian.Uint16(b[:]))
	if n == trailer {
		e.open = false
		e.exhausted = true
		if e.atEnd != nil {
			if err := e.atEnd(); err != nil {
				return -1, e.fail(err)
			}
		}
		return -1, io.EOF
	}
	if n < 0 {
		return -1, e.fail(&FormatError{Reason: fmt.Sprintf("negative column count %d", n)})
	}
	if e.declared == 0 {
		e.declared = int(n)
	}
	if int(n) != e.declared {
		return -1, e.fail(&ColumnCountError{Row: e.rows, Got: int(n), Declared: e.declared})
	}

	e.rows++
	e.cols = int(n)
	e.read = 0
	e.open = true
	return e.cols, nil
}

func (e *Exporter) columnTurn(op string) error {
	if e.err != nil {
		return e.err
	}
	if e.exhausted {
		return &StateError{Op: op, State: "export exhausted"}
	}
	if !e.open {
		return &StateError{Op: op, State: "no open row"}
	}
	if e.read == e.cols {
		return &ColumnCountError{Row: e.rows - 1, Got: e.read + 1, Declared: e.cols}
	}
	return nil
}

func (e *Exporter) readLength() (int32, error) {
	var b [4]byte
	if err := e.readFull(b[:], "column length"); err != nil {
		return 0, err
	}
	n := int32(binary.BigEndian.Uint32(b[:]))
	if n < nullValue || n > maxFieldSize {
		return 0, &FormatError{Reason: fmt.Sprintf("column length %d out of range", n)}
	}
	return n, nil
}

// ReadColumn decodes the next column of the open row under the declared
// type t. A NULL column yields a *NullValueError, never a zero value.
func (e *Exporter) ReadColumn(t Type) (any, error) {
	if err := e.columnTurn("ReadColumn"); err != nil {
		return nil, err
	}
	row, col := e.rows-1, e.read
	if !t.valid() {
		return nil, e.fail(&TypeMismatchError{Row: row, Column: col, Declared: t, Actual: "unsupported declared type"})
	}
	if e.source != nil && col < len(e.source) && !t.accepts(e.source[col]) {
		return nil, e.fail(&TypeMismatchError{
			Row: row, Column: col, Declared: t,
			Actual: fmt.Sprintf("column of type oid %d", e.source[col]),
		})
	}

	n, err := e.readLength()
	if err != nil {
		return nil, e.fail(err)
	}
	if n == nullValue {
		e.read++
		return nil, &NullValueError{Row: row, Column: col, Declared: t, Element: -1}
	}
	if cap(e.scratch) < int(n) {
		e.scratch = make([]byte, n)
	}
	p := e.scratch[:n]
	if err := e.readFull(p, "column payload"); err != nil {
		return nil, e.fail(err)
	}
	e.read++

	v, err := decodeValue(p, t)
	if err != nil {
		var nv *NullValueError
		if errors.As(err, &nv) {
			nv.Row, nv.Column = row, col
			return nil, nv
		}
		var tm *TypeMismatchError
		if errors.As(err, &tm) {
			tm.Row, tm.Column = row, col
		}
		return nil, e.fail(err)
	}
	return v, nil
}

// IsNull reports whether the next column of the open row is NULL without
// consuming it.
func (e *Exporter) IsNull() (bool, error) {
	if err := e.columnTurn("IsNull"); err != nil {
		return false, err
	}
	b, err := e.r.Peek(4)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return false, e.fail(&FormatError{Reason: "unexpected end of stream reading column length"})
		}
		return false, e.fail(fmt.Errorf("pgcopy: read copy stream: %w", err))
	}
	return int32(binary.BigEndian.Uint32(b)) == nullValue, nil
}

// Skip consumes the next column of the open row whatever its type.
func (e *Exporter) Skip() error {
	if err := e.columnTurn("Skip"); err != nil {
		return err
	}
	n, err := e.readLength()
	if err != nil {
		return e.fail(err)
	}
	if n > 0 {
		if _, err := e.r.Discard(int(n)); err != nil {
			return e.fail(&FormatError{Reason: "column payload truncated", Err: err})
		}
	}
	e.read++
	return nil
}

// ReadRow starts the next row and reads all of its columns. NULL columns
// come back as nil. At the end of the data it returns nil and io.EOF.
func (e *Exporter) ReadRow(types []Type) ([]any, error) {
	n, err := e.StartRow()
	if err != nil {
		return nil, err
	}
	if len(types) != n {
		return nil, e.fail(&ColumnCountError{Row: e.rows - 1, Got: n, Declared: len(types)})
	}
	vals := make([]any, n)
	for c, t := range types {
		null, err := e.IsNull()
		if err != nil {
			return nil, err
		}
		if null {
			if err := e.Skip(); err != nil {
				return nil, err
			}
			continue
		}
		v, err := e.ReadColumn(t)
		if err != nil {
			return nil, err
		}
		vals[c] = v
	}
	return vals, nil
}
