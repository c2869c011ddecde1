package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"pgbulk/internal/config"
	"pgbulk/internal/driver"
	"pgbulk/internal/pgcopy"
)

const dataTable = `CREATE TABLE IF NOT EXISTS data(
	id serial PRIMARY KEY,
	time timestamp DEFAULT clock_timestamp(),
	name text,
	numeric integer
)`

var demoColumns = []string{"name", "numeric"}

func resetData(ctx context.Context, c *driver.PgCopier) error {
	if _, err := c.Exec(ctx, "DROP TABLE IF EXISTS data"); err != nil {
		return fmt.Errorf("drop data: %w", err)
	}
	if _, err := c.Exec(ctx, dataTable); err != nil {
		return fmt.Errorf("create data: %w", err)
	}
	return nil
}

// copyIn writes rows ("name{i}", i) for i in [0, n) in one binary import.
func copyIn(ctx context.Context, c pgcopy.Conn, n, flushSize int) (int64, error) {
	sess, err := pgcopy.BeginImport(ctx, c, "data", demoColumns,
		pgcopy.WithColumnTypes(pgcopy.Text, pgcopy.Integer),
		pgcopy.WithFlushSize(flushSize),
	)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	types := []pgcopy.Type{pgcopy.Text, pgcopy.Integer}
	row := make([]any, 2)
	for i := 0; i < n; i++ {
		row[0], row[1] = fmt.Sprintf("name%d", i), int32(i)
		if err := sess.WriteRow(row, types); err != nil {
			return 0, err
		}
	}
	return sess.Finalize(ctx)
}

// copyOut reads the demo rows back and checks that they arrive in insertion
// order as ("name{i}", i) for i in [0, n).
func copyOut(ctx context.Context, c pgcopy.Conn, n int) (int64, error) {
	sess, err := pgcopy.BeginExport(ctx, c, "data", demoColumns)
	if err != nil {
		return 0, err
	}
	defer sess.Close()

	for want := int32(0); ; want++ {
		if _, err := sess.StartRow(); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return 0, err
		}
		name, err := sess.ReadColumn(pgcopy.Text)
		if err != nil {
			return 0, err
		}
		num, err := sess.ReadColumn(pgcopy.Integer)
		if err != nil {
			return 0, err
		}
		if num != want || name != fmt.Sprintf("name%d", want) {
			return 0, fmt.Errorf("row %d is (%v, %v)", want, name, num)
		}
	}
	if got := sess.Rows(); got != int64(n) {
		return got, fmt.Errorf("exported %d rows, want %d", got, n)
	}
	return sess.Rows(), nil
}

func runDemo(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("demo", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN (default PG_DSN)")
	rows := fs.Int("rows", 100000, "rows to import")
	keep := fs.Bool("keep", false, "keep the data table afterwards")
	fs.Parse(args)

	c, err := connect(ctx, cfg, *dsn)
	if err != nil {
		return err
	}
	defer c.Close()

	if err := resetData(ctx, c); err != nil {
		return err
	}
	if !*keep {
		defer c.Exec(context.Background(), "DROP TABLE IF EXISTS data")
	}

	start := time.Now()
	n, err := copyIn(ctx, c, *rows, cfg.CopyFlushBytes)
	if err != nil {
		return fmt.Errorf("binary import: %w", err)
	}
	fmt.Printf("binary import: %d rows in %s\n", n, time.Since(start))

	start = time.Now()
	n, err = copyOut(ctx, c, *rows)
	if err != nil {
		return fmt.Errorf("binary export: %w", err)
	}
	fmt.Printf("binary export: %d rows in %s (verified)\n", n, time.Since(start))
	return nil
}

func runBench(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("bench", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN (default PG_DSN)")
	rows := fs.Int("rows", 10000, "rows per method")
	fs.Parse(args)

	c, err := connect(ctx, cfg, *dsn)
	if err != nil {
		return err
	}
	defer c.Close()
	defer c.Exec(context.Background(), "DROP TABLE IF EXISTS data")

	if err := resetData(ctx, c); err != nil {
		return err
	}
	start := time.Now()
	for i := 0; i < *rows; i++ {
		if _, err := c.Exec(ctx, "INSERT INTO data(name, numeric) VALUES ($1, $2)", fmt.Sprintf("name%d", i), i); err != nil {
			return fmt.Errorf("insert row %d: %w", i, err)
		}
	}
	report("INSERT per row", *rows, time.Since(start))

	if err := resetData(ctx, c); err != nil {
		return err
	}
	start = time.Now()
	if _, err := copyIn(ctx, c, *rows, cfg.CopyFlushBytes); err != nil {
		return err
	}
	report("binary COPY", *rows, time.Since(start))

	start = time.Now()
	if _, err := copyOut(ctx, c, *rows); err != nil {
		return err
	}
	report("binary COPY out", *rows, time.Since(start))
	return nil
}

func report(method string, rows int, d time.Duration) {
	fmt.Printf("%-16s %8d rows %12s %12.0f rows/s\n", method, rows, d.Round(time.Microsecond), float64(rows)/d.Seconds())
}
