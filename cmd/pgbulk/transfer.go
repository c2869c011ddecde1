package main

import (
	"compress/gzip"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"pgbulk/internal/config"
	"pgbulk/internal/driver"
	"pgbulk/internal/exporter"
	"pgbulk/internal/loader"
	"pgbulk/internal/security"
)

func runExport(ctx context.Context, cfg *config.Config, args []string) (err error) {
	fs := flag.NewFlagSet("export", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN (default PG_DSN)")
	table := fs.String("table", "", "table to export (required)")
	columns := fs.String("columns", "", "comma separated columns (default all)")
	format := fs.String("format", "csv", "output format: "+strings.Join(exporter.Formats, ", "))
	out := fs.String("out", "-", "output file, - for stdout")
	compress := fs.Bool("gzip", cfg.Compression, "gzip the output")
	sanitize := fs.Bool("sanitize", true, "escape spreadsheet formulas in text cells")
	fs.Parse(args)

	if *table == "" {
		return errors.New("-table is required")
	}
	if err := security.ValidateIdentifier(*table); err != nil {
		return err
	}
	var cols []exporter.Column
	for _, name := range splitList(*columns) {
		cols = append(cols, exporter.Column{Name: name})
	}

	var w io.Writer = os.Stdout
	if *out != "-" {
		f, ferr := os.Create(*out)
		if ferr != nil {
			return ferr
		}
		defer func() {
			if cerr := f.Close(); err == nil {
				err = cerr
			}
		}()
		w = f
	}
	if *compress {
		gw := gzip.NewWriter(w)
		defer func() {
			if cerr := gw.Close(); err == nil {
				err = cerr
			}
		}()
		w = gw
	}

	enc, err := exporter.NewEncoder(*format, w, *sanitize)
	if err != nil {
		return err
	}

	c, err := connect(ctx, cfg, *dsn)
	if err != nil {
		return err
	}
	defer c.Close()

	res, err := exporter.NewCopyStreamer(c).StreamTable(ctx, *table, cols, enc)
	if err != nil {
		return err
	}
	if err := enc.Close(); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "exported %d rows from %s in %s\n", res.RowsProcessed, *table, res.Duration)
	return nil
}

func runImport(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("import", flag.ExitOnError)
	dsn := fs.String("dsn", "", "PostgreSQL DSN (default PG_DSN)")
	table := fs.String("table", "", "target table (required)")
	columns := fs.String("columns", "", "comma separated target columns (default all)")
	file := fs.String("file", "", "csv or pgcopy file to import, - for stdin")
	format := fs.String("format", "", "file format: csv or pgcopy (default from the file extension)")
	query := fs.String("query", "", "source query to import instead of a file")
	sourceKind := fs.String("source-kind", cfg.SourceKind, "source driver: postgres, mysql or mongo")
	sourceDSN := fs.String("source-dsn", cfg.SourceDSN, "source connection string")
	fs.Parse(args)

	if *table == "" {
		return errors.New("-table is required")
	}
	if err := security.ValidateIdentifier(*table); err != nil {
		return err
	}
	if (*file == "") == (*query == "") {
		return errors.New("exactly one of -file and -query is required")
	}

	c, err := connect(ctx, cfg, *dsn)
	if err != nil {
		return err
	}
	defer c.Close()

	l := loader.New(c)
	l.FlushSize = cfg.CopyFlushBytes
	target := loader.Target{Table: *table, Columns: splitList(*columns)}

	var res *loader.LoadResult
	if *query != "" {
		if err := security.ValidateSourceQuery(*sourceKind, *query); err != nil {
			return err
		}
		src, err := driver.New(*sourceKind, *sourceDSN)
		if err != nil {
			return err
		}
		defer src.Close()
		res, err = l.LoadQuery(ctx, src, *query, target)
		if err != nil {
			return err
		}
	} else {
		r, name, err := openInput(*file)
		if err != nil {
			return err
		}
		defer r.Close()
		if *format == "" {
			*format = formatOf(name)
		}
		res, err = l.LoadFile(ctx, r, *format, target)
		if err != nil {
			return err
		}
	}
	fmt.Fprintf(os.Stderr, "imported %d rows into %s in %s\n", res.Rows, *table, res.Duration)
	return nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g gzipFile) Close() error {
	g.Reader.Close()
	return g.f.Close()
}

// openInput opens path, decompressing .gz files. The returned name has the
// .gz suffix removed.
func openInput(path string) (io.ReadCloser, string, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), "", nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, "", err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, path, nil
	}
	gr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, "", fmt.Errorf("%s: %w", path, err)
	}
	return gzipFile{Reader: gr, f: f}, strings.TrimSuffix(path, ".gz"), nil
}

func formatOf(name string) string {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pgcopy", ".bin", ".copy":
		return loader.FormatPGCOPY
	default:
		return loader.FormatCSV
	}
}
