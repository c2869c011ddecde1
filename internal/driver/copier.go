package driver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/lib/pq"
	"github.com/lib/pq/oid"

	"pgbulk/internal/pgcopy"
)

// PgCopier runs COPY statements on pooled PostgreSQL connections. Every copy
// holds its own connection from acquire to completion, so concurrent
// sessions never share one.
type PgCopier struct {
	pool *pgxpool.Pool
}

// NewPgCopier connects a pool of at most maxConns connections (pgx default
// when 0) and pings it.
func NewPgCopier(ctx context.Context, dsn string, maxConns int) (*PgCopier, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if maxConns > 0 {
		config.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PgCopier{pool: pool}, nil
}

func (c *PgCopier) Name() string {
	return "pgx"
}

func (c *PgCopier) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// CopyFrom feeds r to a COPY ... FROM STDIN statement. If r fails, the
// server is sent CopyFail with the error text and nothing is committed.
func (c *PgCopier) CopyFrom(ctx context.Context, r io.Reader, sql string) (int64, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Conn().PgConn().CopyFrom(ctx, r, sql)
	if err != nil {
		return 0, serverError(err)
	}
	return tag.RowsAffected(), nil
}

// CopyTo writes the output of a COPY ... TO STDOUT statement to w. A
// failing w leaves the connection unusable; pgconn closes it and the pool
// replaces it.
func (c *PgCopier) CopyTo(ctx context.Context, w io.Writer, sql string) (int64, error) {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return 0, fmt.Errorf("acquire connection: %w", err)
	}
	defer conn.Release()

	tag, err := conn.Conn().PgConn().CopyTo(ctx, w, sql)
	if err != nil {
		return 0, serverError(err)
	}
	return tag.RowsAffected(), nil
}

// ColumnTypes reports the type OIDs of columns in table from the row
// description of an empty select. No columns means every column, in table
// order.
func (c *PgCopier) ColumnTypes(ctx context.Context, table string, columns []string) ([]oid.Oid, error) {
	fields, err := c.describe(ctx, table, columns)
	if err != nil {
		return nil, err
	}
	out := make([]oid.Oid, len(fields))
	for i, f := range fields {
		out[i] = oid.Oid(f.DataTypeOID)
	}
	return out, nil
}

// ColumnNames returns the column names of table in table order.
func (c *PgCopier) ColumnNames(ctx context.Context, table string) ([]string, error) {
	fields, err := c.describe(ctx, table, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.Name
	}
	return out, nil
}

func (c *PgCopier) describe(ctx context.Context, table string, columns []string) ([]pgconn.FieldDescription, error) {
	t, err := pgcopy.QuoteTable(table)
	if err != nil {
		return nil, err
	}
	list := "*"
	if len(columns) > 0 {
		quoted := make([]string, len(columns))
		for i, col := range columns {
			quoted[i] = pq.QuoteIdentifier(col)
		}
		list = strings.Join(quoted, ", ")
	}

	rows, err := c.pool.Query(ctx, "SELECT "+list+" FROM "+t+" LIMIT 0")
	if err != nil {
		return nil, serverError(err)
	}
	defer rows.Close()
	fields := append([]pgconn.FieldDescription(nil), rows.FieldDescriptions()...)
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, serverError(err)
	}
	return fields, nil
}

// Exec runs a statement outside any copy, for DDL and the per-row insert
// benchmark.
func (c *PgCopier) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	tag, err := c.pool.Exec(ctx, stmt, args...)
	if err != nil {
		return 0, serverError(err)
	}
	return tag.RowsAffected(), nil
}

func (c *PgCopier) Close() error {
	c.pool.Close()
	return nil
}

// serverError turns a server diagnostic into a *pgcopy.ServerRejectedCopyError.
// Other errors (network, context) pass through.
func serverError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return &pgcopy.ServerRejectedCopyError{
			Code:    pgErr.Code,
			Message: pgErr.Message,
			Detail:  pgErr.Detail,
			Err:     err,
		}
	}
	return err
}
