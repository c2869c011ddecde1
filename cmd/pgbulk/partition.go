package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"pgbulk/internal/config"
	"pgbulk/internal/driver"
	"pgbulk/internal/pgcopy"
)

type partitionLayout struct {
	ddl   []string
	cols  []string
	types []pgcopy.Type
	rows  [][]any
}

var partitionLayouts = map[string]partitionLayout{
	"list": {
		ddl: []string{
			"CREATE TABLE data(time timestamp DEFAULT clock_timestamp(), name text, numeric integer) PARTITION BY LIST (name)",
			"CREATE TABLE data_a PARTITION OF data FOR VALUES IN ('a')",
			"CREATE TABLE default_name PARTITION OF data DEFAULT",
		},
		cols:  []string{"name", "numeric"},
		types: []pgcopy.Type{pgcopy.Text, pgcopy.Integer},
		rows:  [][]any{{"a", int32(1)}, {"b", int32(2)}},
	},
	"range": {
		ddl: []string{
			"CREATE TABLE data(time timestamp DEFAULT clock_timestamp(), name text, numeric integer) PARTITION BY RANGE (numeric)",
			"CREATE TABLE data_1 PARTITION OF data FOR VALUES FROM (1) TO (6)",
			"CREATE TABLE data_2 PARTITION OF data FOR VALUES FROM (6) TO (11)",
		},
		cols:  []string{"name", "numeric"},
		types: []pgcopy.Type{pgcopy.Text, pgcopy.Integer},
		rows:  [][]any{{"a", int32(1)}, {"b", int32(10)}},
	},
	"year": {
		ddl: []string{
			"CREATE TABLE data(time timestamp DEFAULT clock_timestamp(), name text, numeric integer) PARTITION BY LIST (date_part('year', time))",
			"CREATE TABLE _2020 PARTITION OF data FOR VALUES IN (2020)",
			"CREATE TABLE _2021 PARTITION OF data FOR VALUES IN (2021)",
		},
		cols:  []string{"time", "name", "numeric"},
		types: []pgcopy.Type{pgcopy.Timestamp, pgcopy.Text, pgcopy.Integer},
		rows:  [][]any{
			{time.Date(2021, time.March, 1, 9, 0, 0, 0, time.UTC), "a", int32(1)},
			{time.Date(2020, time.October, 10, 10, 20, 30, 0, time.UTC), "b", int32(2)},
		},
	},
}

// runPartition creates a partitioned data table, copies sample rows into it
// and prints where the server routed them.
func runPartition(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("partition", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN (default PG_DSN)")
	kind := fs.String("kind", "list", "partitioning: list, range or year")
	keep := fs.Bool("keep", false, "keep the data table afterwards")
	fs.Parse(args)

	layout, ok := partitionLayouts[*kind]
	if !ok {
		return fmt.Errorf("unknown partition kind %q", *kind)
	}
	if *dsn == "" {
		*dsn = cfg.PostgresDSN
	}

	db, err := driver.New("postgres", *dsn)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := db.Exec(ctx, "DROP TABLE IF EXISTS data"); err != nil {
		return err
	}
	for _, stmt := range layout.ddl {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%s: %w", stmt, err)
		}
	}
	if !*keep {
		defer db.Exec(context.Background(), "DROP TABLE IF EXISTS data")
	}

	c, err := connect(ctx, cfg, *dsn)
	if err != nil {
		return err
	}
	defer c.Close()

	sess, err := pgcopy.BeginImport(ctx, c, "data", layout.cols, pgcopy.WithColumnTypes(layout.types...))
	if err != nil {
		return err
	}
	defer sess.Close()
	for _, row := range layout.rows {
		if err := sess.WriteRow(row, layout.types); err != nil {
			return err
		}
	}
	if _, err := sess.Finalize(ctx); err != nil {
		return err
	}

	rows, err := db.Query(ctx, "SELECT tableoid::regclass::text, count(*) FROM data GROUP BY 1 ORDER BY 1")
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var part string
		var n int64
		if err := rows.Scan(&part, &n); err != nil {
			return err
		}
		fmt.Printf("%-14s %d\n", part, n)
	}
	return rows.Err()
}
