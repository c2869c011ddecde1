package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"pgbulk/internal/config"
	"pgbulk/internal/security"
	"pgbulk/internal/server/api"
	"pgbulk/internal/worker"
)

// apiClient calls a pgbulkd server, signing every request when a secret is
// set.
type apiClient struct {
	base   string
	secret string
	http   *http.Client
}

func newAPIClient(base, secret string) *apiClient {
	return &apiClient{
		base:   strings.TrimSuffix(base, "/"),
		secret: secret,
		http:   &http.Client{Timeout: time.Minute},
	}
}

// do sends a request and decodes a JSON response into out. Only signed
// holds the body covered by the signature; streamed bodies are sent
// unsigned.
func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, signed string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.secret != "" {
		ts := strconv.FormatInt(time.Now().Unix(), 10)
		req.Header.Set("X-Timestamp", ts)
		req.Header.Set("X-Signature", security.Sign(c.secret, method, req.URL.Path, signed, ts))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(data, &e) == nil && e.Error != "" {
			return fmt.Errorf("%s %s: %s (%d)", method, path, e.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: %s (%d)", method, path, strings.TrimSpace(string(data)), resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(data, out)
}

func (c *apiClient) postJSON(ctx context.Context, path string, in, out any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, path, bytes.NewReader(body), string(body), out)
}

// upload stores r on the server and returns its storage key.
func (c *apiClient) upload(ctx context.Context, name string, r io.Reader) (string, error) {
	var resp struct {
		Key string `json:"key"`
	}
	path := "/uploads?name=" + url.QueryEscape(name)
	if err := c.do(ctx, http.MethodPost, path, r, "", &resp); err != nil {
		return "", err
	}
	return resp.Key, nil
}

func (c *apiClient) job(ctx context.Context, id string) (*api.JobResponse, error) {
	var resp api.JobResponse
	if err := c.do(ctx, http.MethodGet, "/jobs?id="+url.QueryEscape(id), nil, "", &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// wait polls the job until it completes or fails.
func (c *apiClient) wait(ctx context.Context, id string, every time.Duration) (*api.JobResponse, error) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		job, err := c.job(ctx, id)
		if err != nil {
			return nil, err
		}
		switch job.Status {
		case worker.StatusCompleted, worker.StatusFailed:
			return job, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// runSubmit queues an export or import job on a running pgbulkd.
func runSubmit(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("submit", flag.ExitOnError)
	server := fs.String("server", cfg.PublicURL, "pgbulkd base URL (default PUBLIC_URL)")
	secret := fs.String("secret", cfg.APISecret, "API secret (default API_SECRET)")
	kind := fs.String("kind", "export", "job kind: export or import")
	table := fs.String("table", "", "table (required)")
	columns := fs.String("columns", "", "comma separated columns (default all)")
	format := fs.String("format", "", "file format")
	mail := fs.String("email", "", "notify this address when the job finishes")
	file := fs.String("file", "", "import: upload this file first")
	key := fs.String("key", "", "import: a previously uploaded file")
	query := fs.String("query", "", "import: a source database query")
	wait := fs.Bool("wait", false, "wait for the job to finish")
	fs.Parse(args)

	if *table == "" {
		return errors.New("-table is required")
	}
	c := newAPIClient(*server, *secret)

	var job api.JobResponse
	switch *kind {
	case "export":
		req := api.ExportRequest{Table: *table, Columns: splitList(*columns), Format: *format, Email: *mail}
		if err := c.postJSON(ctx, "/jobs/export", req, &job); err != nil {
			return err
		}
	case "import":
		if *file != "" {
			f, err := os.Open(*file)
			if err != nil {
				return err
			}
			*key, err = c.upload(ctx, filepath.Base(*file), f)
			f.Close()
			if err != nil {
				return err
			}
			fmt.Fprintf(os.Stderr, "uploaded %s as %s\n", *file, *key)
		}
		req := api.ImportRequest{Table: *table, Columns: splitList(*columns), Key: *key, Query: *query, Format: *format, Email: *mail}
		if err := c.postJSON(ctx, "/jobs/import", req, &job); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown job kind %q", *kind)
	}
	fmt.Println(job.ID)

	if !*wait {
		return nil
	}
	done, err := c.wait(ctx, job.ID, time.Second)
	if err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "%s %s: %d rows in %s\n", done.ID, done.Status, done.Rows, done.Duration)
	if done.DownloadURL != "" {
		fmt.Println(done.DownloadURL)
	}
	if done.Error != "" {
		return errors.New(done.Error)
	}
	return nil
}
