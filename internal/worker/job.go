package worker

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	StatusPending    JobStatus = "PENDING"
	StatusProcessing JobStatus = "PROCESSING"
	StatusCompleted  JobStatus = "COMPLETED"
	StatusFailed     JobStatus = "FAILED"
)

type JobKind string

const (
	// KindExport copies a table out into a stored file.
	KindExport JobKind = "export"
	// KindImport copies a stored file, or the result of a source query, into a table.
	KindImport JobKind = "import"
)

// Job is a single unit of work for the pool. Fields set at creation are
// read-only afterwards; progress fields are guarded and read through View.
type Job struct {
	// ID is the unique UUID v4 for the job.
	ID   string
	Kind JobKind
	// Table and Columns name the PostgreSQL side of the copy. No columns
	// means every column.
	Table   string
	Columns []string
	// Format is the export output format or the import file format.
	Format string
	// Query, for imports, selects the rows from the source database
	// instead of a file.
	Query string
	// Email is the recipient address for notifications.
	Email string

	// Context manages the lifecycle/cancellation of the job.
	Ctx    context.Context
	Cancel context.CancelFunc

	mu        sync.RWMutex
	key       string
	submitted time.Time
	started   time.Time
	finished  time.Time
	status    JobStatus
	err       error
	rows      int64
	duration  time.Duration
}

// JobView is a point-in-time copy of a job, safe to hand to other goroutines.
type JobView struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Status    JobStatus `json:"status"`
	Table     string    `json:"table"`
	Format    string    `json:"format"`
	Key       string    `json:"key,omitempty"`
	Email     string    `json:"email,omitempty"`
	Rows      int64     `json:"rows"`
	Duration  string    `json:"duration,omitempty"`
	Error     string    `json:"error,omitempty"`
	Submitted time.Time `json:"submitted"`
	Started   time.Time `json:"started,omitempty"`
	Finished  time.Time `json:"finished,omitempty"`
}

func newJob(kind JobKind, table string, columns []string, format, email string, timeout time.Duration) *Job {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	return &Job{
		ID:        uuid.New().String(),
		Kind:      kind,
		Table:     table,
		Columns:   columns,
		Format:    strings.ToLower(format),
		Email:     email,
		Ctx:       ctx,
		Cancel:    cancel,
		submitted: time.Now(),
		status:    StatusPending,
	}
}

// NewExportJob creates a job that exports table in format (csv by default).
func NewExportJob(table string, columns []string, format, email string, timeout time.Duration) *Job {
	if format == "" {
		format = "csv"
	}
	return newJob(KindExport, table, columns, format, email, timeout)
}

// NewImportJob creates a job that imports the stored file under key. The
// format defaults to the file extension.
func NewImportJob(table string, columns []string, key, format, email string, timeout time.Duration) *Job {
	if format == "" {
		format = formatOf(key)
	}
	j := newJob(KindImport, table, columns, format, email, timeout)
	j.key = key
	return j
}

// NewTransferJob creates an import whose rows come from query on the
// pool's source database.
func NewTransferJob(table string, columns []string, query, email string, timeout time.Duration) *Job {
	j := newJob(KindImport, table, columns, "query", email, timeout)
	j.Query = query
	return j
}

func formatOf(key string) string {
	k := strings.TrimSuffix(strings.ToLower(key), ".gz")
	if strings.HasSuffix(k, ".csv") {
		return "csv"
	}
	return "pgcopy"
}

// View returns a snapshot of the job.
func (j *Job) View() JobView {
	j.mu.RLock()
	defer j.mu.RUnlock()
	v := JobView{
		ID:        j.ID,
		Kind:      j.Kind,
		Status:    j.status,
		Table:     j.Table,
		Format:    j.Format,
		Key:       j.key,
		Email:     j.Email,
		Rows:      j.rows,
		Submitted: j.submitted,
		Started:   j.started,
		Finished:  j.finished,
	}
	if j.duration > 0 {
		v.Duration = j.duration.String()
	}
	if j.err != nil {
		v.Error = j.err.Error()
	}
	return v
}

// Status returns the current status.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Err returns the failure, if the job failed.
func (j *Job) Err() error {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.err
}

func (j *Job) start() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.started = time.Now()
	j.status = StatusProcessing
	return j.started.Sub(j.submitted)
}

func (j *Job) setKey(key string) {
	j.mu.Lock()
	j.key = key
	j.mu.Unlock()
}

func (j *Job) progress(rows int64) {
	j.mu.Lock()
	j.rows = rows
	j.mu.Unlock()
}

func (j *Job) complete(rows int64, d time.Duration) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusCompleted
	j.rows = rows
	j.duration = d
	j.finished = time.Now()
}

func (j *Job) fail(err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = StatusFailed
	j.err = err
	j.finished = time.Now()
}
