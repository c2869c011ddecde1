package pgcopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/lib/pq/oid"
)

// fakeConn is an in-memory COPY server holding a single table. Incoming
// binary streams are decoded with an Exporter and outgoing ones encoded
// with an Importer, the way the server would see them.
type fakeConn struct {
	mu      sync.Mutex
	columns []string
	types   []Type
	rows    [][]any

	// reject, when set, is checked for every incoming row. A non-nil error
	// makes the whole copy fail.
	reject func(row []any) error

	statements []string
}

func newFakeConn(columns []string, types []Type) *fakeConn {
	return &fakeConn{columns: columns, types: types}
}

func (c *fakeConn) record(sql string) {
	c.mu.Lock()
	c.statements = append(c.statements, sql)
	c.mu.Unlock()
}

func (c *fakeConn) CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error) {
	c.record(sql)
	if !strings.Contains(sql, "FROM STDIN (FORMAT BINARY)") {
		return 0, &ServerRejectedCopyError{Code: "42601", Message: "syntax error"}
	}
	exp, err := NewExporter(r, len(c.types))
	if err != nil {
		return 0, err
	}

	var staged [][]any
	for {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		row, err := exp.ReadRow(c.types)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return 0, &ServerRejectedCopyError{Code: "22P04", Message: "COPY from stdin failed", Detail: err.Error(), Err: err}
		}
		if c.reject != nil {
			if err := c.reject(row); err != nil {
				return 0, &ServerRejectedCopyError{Code: "23514", Message: err.Error()}
			}
		}
		staged = append(staged, row)
	}

	c.mu.Lock()
	c.rows = append(c.rows, staged...)
	c.mu.Unlock()
	return int64(len(staged)), nil
}

func (c *fakeConn) CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error) {
	c.record(sql)
	c.mu.Lock()
	rows := append([][]any(nil), c.rows...)
	c.mu.Unlock()

	imp, err := NewImporter(w, len(c.types), WithFlushSize(512))
	if err != nil {
		return 0, err
	}
	for _, row := range rows {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		if err := imp.WriteRow(row, c.types); err != nil {
			return 0, err
		}
	}
	if err := imp.Finish(); err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

func (c *fakeConn) ColumnTypes(ctx context.Context, table string, columns []string) ([]oid.Oid, error) {
	if len(columns) == 0 {
		return typeOIDs(c.types), nil
	}
	out := make([]oid.Oid, 0, len(columns))
	for _, name := range columns {
		found := false
		for i, col := range c.columns {
			if col == name {
				out = append(out, c.types[i].OID())
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("column %q does not exist", name)
		}
	}
	return out, nil
}

func (c *fakeConn) stored() [][]any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]any(nil), c.rows...)
}

// plainConn hides the ColumnResolver of a fakeConn.
type plainConn struct {
	c *fakeConn
}

func (p plainConn) CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error) {
	return p.c.CopyFrom(ctx, r, sql)
}

func (p plainConn) CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error) {
	return p.c.CopyTo(ctx, w, sql)
}
