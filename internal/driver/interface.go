package driver

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrUnsupported is returned by drivers for operations their backend has no
// equivalent for, such as Exec on a document store.
var ErrUnsupported = errors.New("operation not supported by driver")

// Driver abstracts a database that rows are read from and statements are
// run against. It is the opaque database client the copy layer sits beside:
// connect, execute a statement, run a query.
type Driver interface {
	// Name returns the driver name (e.g., "mysql", "postgres").
	Name() string

	// Ping verifies the connection to the database.
	Ping(ctx context.Context) error

	// Query executes a query and returns a RowStreamer to iterate over results.
	Query(ctx context.Context, query string, args ...interface{}) (RowStreamer, error)

	// Exec runs a statement and returns the number of rows it affected.
	Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error)

	// Close closes the database connection.
	Close() error
}

// RowStreamer iterates over query results.
// It is designed to be memory-efficient and stream-oriented.
type RowStreamer interface {
	// Columns returns the column names. Safe to call after Query returns.
	Columns() ([]string, error)

	// Next advances to the next row. Returns false when there are no more rows or an error occurs.
	Next() bool

	// Scan copies the columns in the current row into the values pointed at by dest.
	// The number of values must be the same as the number of columns.
	Scan(dest ...interface{}) error

	// Err returns the error, if any, that was encountered during iteration.
	Err() error

	// Close closes the streamer and frees resources.
	Close() error
}

// New returns the source driver for kind. Connections are opened lazily.
func New(kind, dsn string) (Driver, error) {
	if dsn == "" {
		return nil, fmt.Errorf("driver %s: empty DSN", kind)
	}
	switch strings.ToLower(kind) {
	case "postgres", "postgresql", "pg":
		return NewPostgresDriver(dsn), nil
	case "mysql":
		return NewMySQLDriver(dsn), nil
	case "mongo", "mongodb":
		return NewMongoDriver(dsn), nil
	default:
		return nil, fmt.Errorf("unknown driver kind %q", kind)
	}
}
