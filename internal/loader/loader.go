// Package loader moves rows into PostgreSQL through binary COPY: from a
// query against a source database, or from a file written by an export.
package loader

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"pgbulk/internal/driver"
	"pgbulk/internal/pgcopy"
)

const progressEvery = 10000

// File formats LoadFile reads.
const (
	FormatPGCOPY = "pgcopy"
	FormatCSV    = "csv"
)

// LoadResult contains stats about a load.
type LoadResult struct {
	Rows     int64
	Duration time.Duration
}

// columnNamer is implemented by connections that can list a table's columns.
type columnNamer interface {
	ColumnNames(ctx context.Context, table string) ([]string, error)
}

// Loader runs imports against one COPY connection.
type Loader struct {
	conn pgcopy.Conn

	// FlushSize is passed to the import session when positive.
	FlushSize int
	// Progress, when set, is called with the running row count.
	Progress func(rows int64)
}

func New(conn pgcopy.Conn) *Loader {
	return &Loader{conn: conn}
}

// Target is the destination of a load. Columns may be left empty to mean
// every column of the table; Types may be left empty when the connection
// can resolve them.
type Target struct {
	Table   string
	Columns []string
	Types   []pgcopy.Type
}

// resolve fills in the column names and types of t. fallback supplies
// names when neither t nor the connection does.
func (l *Loader) resolve(ctx context.Context, t Target, fallback []string) (Target, error) {
	if len(t.Columns) == 0 {
		if namer, ok := l.conn.(columnNamer); ok {
			names, err := namer.ColumnNames(ctx, t.Table)
			if err != nil {
				return t, fmt.Errorf("failed to get columns: %w", err)
			}
			t.Columns = names
		} else {
			t.Columns = fallback
		}
	}
	if len(t.Columns) == 0 {
		return t, fmt.Errorf("no columns to load into %s", t.Table)
	}

	if len(t.Types) == 0 {
		resolver, ok := l.conn.(pgcopy.ColumnResolver)
		if !ok {
			return t, fmt.Errorf("column types of %s are unknown: declare them or use a connection that resolves them", t.Table)
		}
		oids, err := resolver.ColumnTypes(ctx, t.Table, t.Columns)
		if err != nil {
			return t, fmt.Errorf("failed to resolve column types: %w", err)
		}
		t.Types = make([]pgcopy.Type, len(oids))
		for i, o := range oids {
			typ, ok := pgcopy.TypeForOID(o)
			if !ok {
				return t, fmt.Errorf("column %s of %s has a type the binary importer does not support", t.Columns[i], t.Table)
			}
			t.Types[i] = typ
		}
	}
	if len(t.Types) != len(t.Columns) {
		return t, fmt.Errorf("%d column types for %d columns", len(t.Types), len(t.Columns))
	}
	return t, nil
}

func (l *Loader) begin(ctx context.Context, t Target) (*pgcopy.ImportSession, error) {
	opts := []pgcopy.Option{pgcopy.WithColumnTypes(t.Types...)}
	if l.FlushSize > 0 {
		opts = append(opts, pgcopy.WithFlushSize(l.FlushSize))
	}
	sess, err := pgcopy.BeginImport(ctx, l.conn, t.Table, t.Columns, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to begin copy: %w", err)
	}
	return sess, nil
}

// rowSource yields one row of raw values per call and io.EOF at the end.
type rowSource func() ([]any, error)

// run feeds rows from next into a new import session. Nothing is committed
// unless every row is accepted.
func (l *Loader) run(ctx context.Context, t Target, next rowSource, coerce bool) (*LoadResult, error) {
	start := time.Now()
	sess, err := l.begin(ctx, t)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	var n int64
	for {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		raw, err := next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}
		if len(raw) != len(t.Types) {
			return nil, fmt.Errorf("row %d: %d values for %d columns", n, len(raw), len(t.Types))
		}

		if coerce {
			for i := range raw {
				v, err := Coerce(raw[i], t.Types[i])
				if err != nil {
					return nil, fmt.Errorf("row %d column %s: %w", n, t.Columns[i], err)
				}
				raw[i] = v
			}
		}
		if err := sess.WriteRow(raw, t.Types); err != nil {
			return nil, fmt.Errorf("row %d: %w", n, err)
		}

		n++
		if l.Progress != nil && n%progressEvery == 0 {
			l.Progress(n)
		}
	}

	committed, err := sess.Finalize(ctx)
	if err != nil {
		return nil, err
	}
	if l.Progress != nil {
		l.Progress(committed)
	}
	return &LoadResult{Rows: committed, Duration: time.Since(start)}, nil
}

// LoadQuery streams the result of query on src into the target table.
// Without target columns the source column names are used.
func (l *Loader) LoadQuery(ctx context.Context, src driver.Driver, query string, t Target) (*LoadResult, error) {
	rows, err := src.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	srcCols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to get columns: %w", err)
	}
	if len(t.Columns) == 0 {
		t.Columns = srcCols
	}
	t, err = l.resolve(ctx, t, srcCols)
	if err != nil {
		return nil, err
	}
	if len(srcCols) != len(t.Columns) {
		return nil, fmt.Errorf("query returns %d columns, %s takes %d", len(srcCols), t.Table, len(t.Columns))
	}

	values := make([]any, len(srcCols))
	ptrs := make([]any, len(srcCols))
	for i := range values {
		ptrs[i] = &values[i]
	}
	next := func() ([]any, error) {
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		return append([]any(nil), values...), nil
	}

	res, err := l.run(ctx, t, next, true)
	if err != nil {
		return nil, err
	}
	slog.Info("Query load completed", "source", src.Name(), "table", t.Table, "rows", res.Rows, "duration", res.Duration)
	return res, nil
}

// LoadFile imports a file in one of the export formats. Binary copy files
// are decoded and re-encoded row by row, so a damaged file is refused
// before the server commits anything. CSV files start with a header row;
// an empty field is NULL.
func (l *Loader) LoadFile(ctx context.Context, r io.Reader, format string, t Target) (*LoadResult, error) {
	var (
		next   rowSource
		coerce bool
		err    error
	)

	switch strings.ToLower(format) {
	case FormatPGCOPY, "binary":
		if t, err = l.resolve(ctx, t, nil); err != nil {
			return nil, err
		}
		exp, err := pgcopy.NewExporter(r, len(t.Types))
		if err != nil {
			return nil, err
		}
		types := t.Types
		next = func() ([]any, error) { return exp.ReadRow(types) }

	case FormatCSV:
		cr := csv.NewReader(r)
		cr.ReuseRecord = true
		header, err := cr.Read()
		if err != nil {
			return nil, fmt.Errorf("read csv header: %w", err)
		}
		if len(t.Columns) == 0 {
			t.Columns = append([]string(nil), header...)
		}
		if t, err = l.resolve(ctx, t, nil); err != nil {
			return nil, err
		}
		cr.FieldsPerRecord = len(t.Columns)
		next = func() ([]any, error) {
			rec, err := cr.Read()
			if err != nil {
				return nil, err
			}
			vals := make([]any, len(rec))
			for i, f := range rec {
				if f != "" {
					vals[i] = f
				}
			}
			return vals, nil
		}
		coerce = true

	default:
		return nil, fmt.Errorf("unsupported import format: %s", format)
	}

	res, err := l.run(ctx, t, next, coerce)
	if err != nil {
		return nil, err
	}
	slog.Info("File load completed", "format", format, "table", t.Table, "rows", res.Rows, "duration", res.Duration)
	return res, nil
}
