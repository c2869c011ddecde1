package driver

import (
	_ "github.com/go-sql-driver/mysql"
)

type MySQLDriver struct {
	sqlDB
}

func NewMySQLDriver(dsn string) *MySQLDriver {
	return &MySQLDriver{sqlDB{driverName: "mysql", dsn: dsn}}
}
