package driver

import (
	_ "github.com/lib/pq"
)

// PostgresDriver reads from and runs statements against PostgreSQL through
// database/sql. Bulk copies go through PgCopier instead.
type PostgresDriver struct {
	sqlDB
}

func NewPostgresDriver(dsn string) *PostgresDriver {
	return &PostgresDriver{sqlDB{driverName: "postgres", dsn: dsn}}
}
