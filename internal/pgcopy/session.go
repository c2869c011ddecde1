package pgcopy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/lib/pq/oid"
)

// Conn is a connection able to run COPY statements. CopyFrom feeds r to a
// COPY ... FROM STDIN statement; CopyTo writes the output of a COPY ... TO
// STDOUT statement to w. Both return the server's row count.
type Conn interface {
	CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error)
	CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error)
}

// ColumnResolver is implemented by connections that can report the server
// type of a table's columns. An empty column list means every column.
type ColumnResolver interface {
	ColumnTypes(ctx context.Context, table string, columns []string) ([]oid.Oid, error)
}

type copyResult struct {
	rows int64
	err  error
}

// QuoteTable quotes a possibly schema-qualified table name.
func QuoteTable(table string) (string, error) {
	if strings.TrimSpace(table) == "" {
		return "", errors.New("pgcopy: empty table name")
	}
	parts := strings.Split(table, ".")
	for i, p := range parts {
		if p == "" {
			return "", fmt.Errorf("pgcopy: invalid table name %q", table)
		}
		parts[i] = pq.QuoteIdentifier(p)
	}
	return strings.Join(parts, "."), nil
}

func quoteColumns(columns []string) (string, error) {
	if len(columns) == 0 {
		return "", nil
	}
	quoted := make([]string, len(columns))
	for i, c := range columns {
		if c == "" {
			return "", fmt.Errorf("pgcopy: empty column name at position %d", i)
		}
		quoted[i] = pq.QuoteIdentifier(c)
	}
	return " (" + strings.Join(quoted, ", ") + ")", nil
}

// CopyFromStatement builds the binary COPY ... FROM STDIN statement for
// table and columns.
func CopyFromStatement(table string, columns []string) (string, error) {
	if len(columns) == 0 {
		return "", errors.New("pgcopy: import needs at least one column")
	}
	t, err := QuoteTable(table)
	if err != nil {
		return "", err
	}
	cols, err := quoteColumns(columns)
	if err != nil {
		return "", err
	}
	return "COPY " + t + cols + " FROM STDIN (FORMAT BINARY)", nil
}

// CopyToStatement builds the binary COPY ... TO STDOUT statement for table
// and columns. No columns means every column of the table.
func CopyToStatement(table string, columns []string) (string, error) {
	t, err := QuoteTable(table)
	if err != nil {
		return "", err
	}
	cols, err := quoteColumns(columns)
	if err != nil {
		return "", err
	}
	return "COPY " + t + cols + " TO STDOUT (FORMAT BINARY)", nil
}

// resolveTypes returns the server type OIDs of the session's columns: from
// WithColumnTypes, else from the connection when it is a ColumnResolver,
// else nil.
func resolveTypes(ctx context.Context, conn Conn, table string, columns []string, o options) ([]oid.Oid, error) {
	if len(o.columnTypes) > 0 {
		return typeOIDs(o.columnTypes), nil
	}
	res, ok := conn.(ColumnResolver)
	if !ok {
		return nil, nil
	}
	oids, err := res.ColumnTypes(ctx, table, columns)
	if err != nil {
		return nil, fmt.Errorf("pgcopy: resolve column types of %s: %w", table, err)
	}
	return oids, nil
}

func copyError(table string, err error) error {
	var rejected *ServerRejectedCopyError
	if errors.As(err, &rejected) {
		return rejected
	}
	return fmt.Errorf("pgcopy: copy %s: %w", table, err)
}

// pipeSink forwards encoded rows to the copy goroutine. A write error means
// the server side has already stopped; it is recorded and reported by
// Finalize together with the server's own error.
type pipeSink struct {
	pw  *io.PipeWriter
	err error
}

func (s *pipeSink) Write(p []byte) (int, error) {
	if s.err != nil {
		return len(p), nil
	}
	if _, err := s.pw.Write(p); err != nil {
		s.err = err
	}
	return len(p), nil
}

// ImportSession is one COPY ... FROM STDIN (FORMAT BINARY) in flight. Rows
// are written with the embedded Importer; nothing is committed until
// Finalize succeeds. Close aborts an unfinalized session and is safe to
// defer.
type ImportSession struct {
	*Importer

	table   string
	sink    *pipeSink
	done    chan copyResult
	cancel  context.CancelFunc
	started time.Time
	closed  bool
}

// BeginImport starts a binary import into table. The connection is busy
// until the session is finalized or closed.
func BeginImport(ctx context.Context, conn Conn, table string, columns []string, opts ...Option) (*ImportSession, error) {
	sql, err := CopyFromStatement(table, columns)
	if err != nil {
		return nil, err
	}
	oids, err := resolveTypes(ctx, conn, table, columns, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	if oids != nil && len(oids) != len(columns) {
		return nil, fmt.Errorf("pgcopy: %d column types for %d columns", len(oids), len(columns))
	}

	pr, pw := io.Pipe()
	sink := &pipeSink{pw: pw}
	imp, err := NewImporter(sink, len(columns), opts...)
	if err != nil {
		return nil, err
	}
	imp.target = oids

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan copyResult, 1)
	go func() {
		n, err := conn.CopyFrom(cctx, pr, sql)
		if err != nil {
			pr.CloseWithError(err)
		} else {
			pr.Close()
		}
		done <- copyResult{rows: n, err: err}
	}()

	slog.Debug("Copy import started", "table", table, "columns", len(columns))
	return &ImportSession{
		Importer: imp,
		table:    table,
		sink:     sink,
		done:     done,
		cancel:   cancel,
		started:  time.Now(),
	}, nil
}

// Finalize completes the stream and waits for the server to accept it. It
// returns the number of rows the server committed. A server refusal is a
// *ServerRejectedCopyError and means no row was committed.
//
// An incomplete last row is reported without ending the session: the row
// can be completed and Finalize called again, or the session closed.
func (s *ImportSession) Finalize(ctx context.Context) (int64, error) {
	if s.closed {
		return 0, &StateError{Op: "Finalize", State: "session closed"}
	}
	if err := s.Importer.Finish(); err != nil {
		var incomplete *IncompleteRowError
		if errors.As(err, &incomplete) {
			return 0, err
		}
		s.abort()
		return 0, err
	}
	s.sink.pw.Close()

	var res copyResult
	select {
	case res = <-s.done:
	case <-ctx.Done():
		s.cancel()
		res = <-s.done
		if res.err == nil {
			res.err = ctx.Err()
		}
	}
	s.closed = true
	s.cancel()

	if res.err != nil {
		slog.Info("Copy import rejected", "table", s.table, "error", res.err)
		return 0, copyError(s.table, res.err)
	}
	slog.Info("Copy import finalized", "table", s.table, "rows", res.rows, "duration", time.Since(s.started))
	return res.rows, nil
}

// Close aborts the import unless it was finalized. No rows are committed.
func (s *ImportSession) Close() error {
	if s.closed {
		return nil
	}
	s.abort()
	slog.Debug("Copy import aborted", "table", s.table, "rows_discarded", s.Rows())
	return nil
}

func (s *ImportSession) abort() {
	s.closed = true
	s.sink.pw.CloseWithError(ErrAborted)
	<-s.done
	s.cancel()
}

// ExportSession is one COPY ... TO STDOUT (FORMAT BINARY) in flight. Rows
// are read with the embedded Exporter. The session ends when StartRow
// reports io.EOF or when it is closed.
type ExportSession struct {
	*Exporter

	table   string
	types   []Type
	pr      *io.PipeReader
	done    chan copyResult
	cancel  context.CancelFunc
	started time.Time
	closed  bool
}

// BeginExport starts a binary export of table. An empty column list exports
// every column. When the column types are known, from WithColumnTypes or a
// ColumnResolver connection, reads are checked against them before any
// bytes are consumed.
func BeginExport(ctx context.Context, conn Conn, table string, columns []string, opts ...Option) (*ExportSession, error) {
	sql, err := CopyToStatement(table, columns)
	if err != nil {
		return nil, err
	}
	oids, err := resolveTypes(ctx, conn, table, columns, buildOptions(opts))
	if err != nil {
		return nil, err
	}
	if len(columns) > 0 && oids != nil && len(oids) != len(columns) {
		return nil, fmt.Errorf("pgcopy: %d column types for %d columns", len(oids), len(columns))
	}
	ncols := len(columns)
	if ncols == 0 {
		ncols = len(oids)
	}
	var types []Type
	if oids != nil {
		types = make([]Type, len(oids))
		for i, o := range oids {
			// Unsupported columns stay Unknown; they can only be skipped.
			types[i], _ = TypeForOID(o)
		}
	}

	pr, pw := io.Pipe()
	exp, err := NewExporter(pr, ncols, opts...)
	if err != nil {
		return nil, err
	}
	exp.source = oids

	cctx, cancel := context.WithCancel(ctx)
	done := make(chan copyResult, 1)
	go func() {
		n, err := conn.CopyTo(cctx, pw, sql)
		if err != nil {
			pw.CloseWithError(err)
		} else {
			pw.Close()
		}
		done <- copyResult{rows: n, err: err}
	}()

	s := &ExportSession{
		Exporter: exp,
		table:    table,
		types:    types,
		pr:       pr,
		done:     done,
		cancel:   cancel,
		started:  time.Now(),
	}
	exp.atEnd = s.finish
	slog.Debug("Copy export started", "table", table, "columns", ncols)
	return s, nil
}

// ColumnTypes returns the source column types, if they are known.
func (s *ExportSession) ColumnTypes() []Type {
	return s.types
}

// finish waits for the server once the trailer has been read.
func (s *ExportSession) finish() error {
	_, _ = io.Copy(io.Discard, s.pr)
	res := <-s.done
	s.closed = true
	s.cancel()
	if res.err != nil {
		return copyError(s.table, res.err)
	}
	slog.Info("Copy export finished", "table", s.table, "rows", s.Rows(), "duration", time.Since(s.started))
	return nil
}

// Close abandons the export if it has not reached the end of the data.
func (s *ExportSession) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.pr.CloseWithError(ErrAborted)
	s.cancel()
	<-s.done
	slog.Debug("Copy export aborted", "table", s.table, "rows_read", s.Rows())
	return nil
}
