package exporter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"pgbulk/internal/pgcopy"
)

// progressEvery is how many rows pass between progress callbacks.
const progressEvery = 10000

// ExportResult contains stats about the export
type ExportResult struct {
	RowsProcessed int64
	Duration      time.Duration
}

// columnNamer is implemented by connections that can list a table's columns.
type columnNamer interface {
	ColumnNames(ctx context.Context, table string) ([]string, error)
}

// CopyStreamer exports tables through binary COPY sessions.
type CopyStreamer struct {
	conn pgcopy.Conn

	// Progress, when set, is called with the running row count.
	Progress func(rows int64)
}

// NewCopyStreamer creates a new streamer instance.
func NewCopyStreamer(conn pgcopy.Conn) *CopyStreamer {
	return &CopyStreamer{conn: conn}
}

// StreamTable copies table out and feeds every row to the encoder. Columns
// with a Type are read under it; otherwise the connection must resolve the
// types. No columns means the whole table.
// It ensures constant memory usage: one row is decoded at a time.
func (cs *CopyStreamer) StreamTable(ctx context.Context, table string, columns []Column, encoder RowEncoder) (*ExportResult, error) {
	start := time.Now()

	names := columnNames(columns)
	var opts []pgcopy.Option
	if typed(columns) {
		types := make([]pgcopy.Type, len(columns))
		for i, c := range columns {
			types[i] = c.Type
		}
		opts = append(opts, pgcopy.WithColumnTypes(types...))
	}

	sess, err := pgcopy.BeginExport(ctx, cs.conn, table, names, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to begin copy: %w", err)
	}
	defer sess.Close()

	header, err := cs.header(ctx, table, columns, sess)
	if err != nil {
		return nil, err
	}
	if err := encoder.WriteHeader(header); err != nil {
		return nil, fmt.Errorf("failed to write header: %w", err)
	}

	types := make([]pgcopy.Type, len(header))
	for i, c := range header {
		types[i] = c.Type
	}

	var rowCount int64
	for {
		// Stop if context cancelled
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		values, err := sess.ReadRow(types)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", rowCount, err)
		}
		if err := encoder.WriteRow(values); err != nil {
			return nil, fmt.Errorf("encode row %d: %w", rowCount, err)
		}

		rowCount++
		if cs.Progress != nil && rowCount%progressEvery == 0 {
			cs.Progress(rowCount)
		}
	}

	if err := encoder.Flush(); err != nil {
		return nil, fmt.Errorf("encoder flush error: %w", err)
	}
	if err := encoder.Error(); err != nil {
		return nil, fmt.Errorf("encoder error: %w", err)
	}
	if cs.Progress != nil {
		cs.Progress(rowCount)
	}

	return &ExportResult{
		RowsProcessed: rowCount,
		Duration:      time.Since(start),
	}, nil
}

func typed(columns []Column) bool {
	if len(columns) == 0 {
		return false
	}
	for _, c := range columns {
		if c.Type == pgcopy.Unknown {
			return false
		}
	}
	return true
}

// header completes the column list with resolved names and types. Columns
// of a type the copy layer cannot decode are reported here, before any row
// is read.
func (cs *CopyStreamer) header(ctx context.Context, table string, columns []Column, sess *pgcopy.ExportSession) ([]Column, error) {
	if typed(columns) {
		return columns, nil
	}
	types := sess.ColumnTypes()
	if types == nil {
		return nil, fmt.Errorf("column types of %s are unknown: declare them or use a connection that resolves them", table)
	}

	out := make([]Column, len(types))
	if len(columns) == 0 {
		names, err := cs.names(ctx, table, len(types))
		if err != nil {
			return nil, err
		}
		for i := range out {
			out[i].Name = names[i]
		}
	} else {
		copy(out, columns)
	}
	for i, t := range types {
		if t == pgcopy.Unknown {
			return nil, fmt.Errorf("column %s of %s has a type the binary exporter does not support", out[i].Name, table)
		}
		out[i].Type = t
	}
	return out, nil
}

func (cs *CopyStreamer) names(ctx context.Context, table string, n int) ([]string, error) {
	if namer, ok := cs.conn.(columnNamer); ok {
		names, err := namer.ColumnNames(ctx, table)
		if err != nil {
			return nil, fmt.Errorf("failed to get columns: %w", err)
		}
		if len(names) == n {
			return names, nil
		}
	}
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("column_%d", i+1)
	}
	return names, nil
}
