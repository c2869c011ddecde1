package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"pgbulk/internal/worker"
)

var ErrNotFound = errors.New("job not found")

// Store keeps the job ledger in PostgreSQL.
type Store struct {
	db *sql.DB
}

func NewStore(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return &Store{db: db}, nil
}

const schema = `CREATE TABLE IF NOT EXISTS pgbulk_jobs (
	id          uuid PRIMARY KEY,
	kind        text NOT NULL,
	status      text NOT NULL,
	table_name  text NOT NULL,
	format      text NOT NULL,
	storage_key text NOT NULL DEFAULT '',
	email       text NOT NULL DEFAULT '',
	row_count   bigint NOT NULL DEFAULT 0,
	duration    text NOT NULL DEFAULT '',
	error       text NOT NULL DEFAULT '',
	submitted   timestamptz NOT NULL,
	started     timestamptz,
	finished    timestamptz,
	updated_at  timestamptz NOT NULL DEFAULT now()
)`

func (s *Store) InitSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("create pgbulk_jobs: %w", err)
	}
	return nil
}

const upsert = `INSERT INTO pgbulk_jobs
	(id, kind, status, table_name, format, storage_key, email, row_count, duration, error, submitted, started, finished)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	storage_key = EXCLUDED.storage_key,
	row_count = EXCLUDED.row_count,
	duration = EXCLUDED.duration,
	error = EXCLUDED.error,
	started = EXCLUDED.started,
	finished = EXCLUDED.finished,
	updated_at = now()`

// Record upserts the job's current state. It implements worker.Recorder.
func (s *Store) Record(v worker.JobView) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := s.db.ExecContext(ctx, upsert, recordArgs(v)...)
	return err
}

func recordArgs(v worker.JobView) []any {
	return []any{
		v.ID, string(v.Kind), string(v.Status), v.Table, v.Format, v.Key, v.Email,
		v.Rows, v.Duration, v.Error, v.Submitted, nullTime(v.Started), nullTime(v.Finished),
	}
}

func nullTime(t time.Time) sql.NullTime {
	return sql.NullTime{Time: t, Valid: !t.IsZero()}
}

const selectJobs = `SELECT id, kind, status, table_name, format, storage_key, email, row_count, duration, error, submitted, started, finished
FROM pgbulk_jobs`

type scanner interface {
	Scan(dest ...any) error
}

func scanJob(row scanner) (*worker.JobView, error) {
	var (
		v                 worker.JobView
		kind, status      string
		started, finished sql.NullTime
	)
	err := row.Scan(&v.ID, &kind, &status, &v.Table, &v.Format, &v.Key, &v.Email,
		&v.Rows, &v.Duration, &v.Error, &v.Submitted, &started, &finished)
	if err != nil {
		return nil, err
	}
	v.Kind = worker.JobKind(kind)
	v.Status = worker.JobStatus(status)
	v.Started = started.Time
	v.Finished = finished.Time
	return &v, nil
}

// Get returns the recorded state of job id.
func (s *Store) Get(ctx context.Context, id string) (*worker.JobView, error) {
	v, err := scanJob(s.db.QueryRowContext(ctx, selectJobs+" WHERE id = $1", id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return v, nil
}

// List returns the most recently submitted jobs, newest first.
func (s *Store) List(ctx context.Context, limit int) ([]worker.JobView, error) {
	rows, err := s.db.QueryContext(ctx, selectJobs+" ORDER BY submitted DESC LIMIT $1", limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []worker.JobView
	for rows.Next() {
		v, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, rows.Err()
}

// FailInterrupted marks jobs left running by a previous process as failed.
func (s *Store) FailInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `UPDATE pgbulk_jobs
SET status = $1, error = 'interrupted by server restart', finished = now(), updated_at = now()
WHERE status IN ($2, $3)`, string(worker.StatusFailed), string(worker.StatusPending), string(worker.StatusProcessing))
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) Close() error {
	return s.db.Close()
}
