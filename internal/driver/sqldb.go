package driver

import (
	"context"
	"database/sql"
	"sync"
)

// sqlDB is the database/sql plumbing shared by the relational drivers.
type sqlDB struct {
	driverName string
	dsn        string

	mu sync.Mutex
	db *sql.DB
}

func (d *sqlDB) conn() (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db == nil {
		// Lazy connect
		db, err := sql.Open(d.driverName, d.dsn)
		if err != nil {
			return nil, err
		}
		d.db = db
	}
	return d.db, nil
}

func (d *sqlDB) Name() string {
	return d.driverName
}

func (d *sqlDB) Ping(ctx context.Context) error {
	db, err := d.conn()
	if err != nil {
		return err
	}
	return db.PingContext(ctx)
}

func (d *sqlDB) Query(ctx context.Context, query string, args ...interface{}) (RowStreamer, error) {
	db, err := d.conn()
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	// *sql.Rows satisfies RowStreamer as is.
	return rows, nil
}

func (d *sqlDB) Exec(ctx context.Context, stmt string, args ...interface{}) (int64, error) {
	db, err := d.conn()
	if err != nil {
		return 0, err
	}
	res, err := db.ExecContext(ctx, stmt, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *sqlDB) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.db != nil {
		err := d.db.Close()
		d.db = nil
		return err
	}
	return nil
}
