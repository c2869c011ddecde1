package exporter

import (
	"errors"
	"io"

	"pgbulk/internal/pgcopy"
)

// CopyEncoder writes a PostgreSQL binary COPY file that COPY ... FROM
// (FORMAT BINARY) or the pgcopy loader can read back.
type CopyEncoder struct {
	w     io.Writer
	imp   *pgcopy.Importer
	types []pgcopy.Type
	err   error
}

func NewCopyEncoder(w io.Writer) *CopyEncoder {
	return &CopyEncoder{w: w}
}

// WriteHeader starts the stream. Every column needs a known type.
func (e *CopyEncoder) WriteHeader(columns []Column) error {
	if e.err != nil {
		return e.err
	}
	e.types = make([]pgcopy.Type, len(columns))
	for i, c := range columns {
		if c.Type == pgcopy.Unknown {
			e.err = errors.New("pgcopy output needs the type of column " + c.Name)
			return e.err
		}
		e.types[i] = c.Type
	}
	e.imp, e.err = pgcopy.NewImporter(e.w, len(columns), pgcopy.WithColumnTypes(e.types...))
	return e.err
}

func (e *CopyEncoder) WriteRow(values []interface{}) error {
	if e.err != nil {
		return e.err
	}
	if e.imp == nil {
		e.err = errors.New("pgcopy output: row written before header")
		return e.err
	}
	if err := e.imp.WriteRow(values, e.types); err != nil {
		e.err = err
	}
	return e.err
}

// Flush writes the trailer. The stream is complete afterwards and further
// flushes do nothing.
func (e *CopyEncoder) Flush() error {
	if e.err != nil || e.imp == nil {
		return e.err
	}
	var state *pgcopy.StateError
	if err := e.imp.Finish(); err != nil && !errors.As(err, &state) {
		e.err = err
	}
	return e.err
}

func (e *CopyEncoder) Error() error {
	return e.err
}

func (e *CopyEncoder) Close() error {
	return e.Flush()
}
