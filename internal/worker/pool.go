package worker

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"pgbulk/internal/driver"
	"pgbulk/internal/exporter"
	"pgbulk/internal/loader"
	"pgbulk/internal/pgcopy"
	"pgbulk/internal/storage"
)

var (
	ErrNoSource  = errors.New("no source database configured")
	ErrQueueFull = errors.New("job queue is full")
)

// Notifier is told about every job that reaches a final status.
type Notifier interface {
	JobFinished(job JobView)
}

// Recorder persists job state changes.
type Recorder interface {
	Record(job JobView) error
}

// Options sizes a Pool.
type Options struct {
	Workers   int
	QueueSize int
	// MaxDBConcurrency limits how many copy sessions run at once.
	MaxDBConcurrency int64
	// Gzip compresses export files.
	Gzip bool
	// FlushSize is the import buffer size handed to copy sessions.
	FlushSize int
	// Sanitize guards text cells of exports against formula injection.
	Sanitize bool
}

// Pool manages concurrent copy jobs and limits database load.
// It implements a worker pool pattern with a separate semaphore for copy sessions,
// allowing for fine-grained control over resource usage.
type Pool struct {
	// jobQueue allows for buffering incoming requests before workers pick them up.
	jobQueue chan *Job
	opts     Options
	// dbSem restricts the number of concurrent copy sessions.
	dbSem *semaphore.Weighted
	wg    sync.WaitGroup
	quit  chan struct{}
	stop  sync.Once

	conn    pgcopy.Conn
	source  driver.Driver
	storage storage.Provider

	// Notifier, Recorder and OnProgress are optional; set them before Start.
	Notifier   Notifier
	Recorder   Recorder
	OnProgress func(job JobView)

	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewPool initializes a worker pool. source may be nil, in which case
// transfer jobs fail. It does not start the workers; call Start() to begin
// processing.
func NewPool(opts Options, conn pgcopy.Conn, source driver.Driver, store storage.Provider) *Pool {
	if opts.Workers <= 0 {
		opts.Workers = 1
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 100
	}
	if opts.MaxDBConcurrency <= 0 {
		opts.MaxDBConcurrency = 1
	}
	return &Pool{
		jobQueue: make(chan *Job, opts.QueueSize), // Bounded buffer to prevent infinite memory growth
		opts:     opts,
		dbSem:    semaphore.NewWeighted(opts.MaxDBConcurrency),
		quit:     make(chan struct{}),
		conn:     conn,
		source:   source,
		storage:  store,
		jobs:     make(map[string]*Job),
	}
}

func (p *Pool) Start() {
	for i := 0; i < p.opts.Workers; i++ {
		p.wg.Add(1)
		go p.workerLoop(i)
	}
	slog.Info("Worker pool started", "workers", p.opts.Workers, "max_copy_sessions", p.opts.MaxDBConcurrency)
}

// Submit queues the job. It returns false when the queue is full or the
// pool is stopping; the job is then marked failed with ErrQueueFull.
func (p *Pool) Submit(job *Job) bool {
	p.mu.Lock()
	p.jobs[job.ID] = job
	p.mu.Unlock()
	// Published before a worker can pick it up, so PENDING is seen first.
	p.publish(job)

	select {
	case <-p.quit:
	default:
		select {
		case p.jobQueue <- job:
			return true
		default:
		}
	}
	job.fail(ErrQueueFull)
	job.Cancel()
	p.publish(job)
	return false
}

// Get returns a submitted job by ID.
func (p *Pool) Get(id string) (*Job, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	j, ok := p.jobs[id]
	return j, ok
}

// Stop initiates graceful shutdown. Running jobs finish; queued jobs are
// left unprocessed.
func (p *Pool) Stop() {
	p.stop.Do(func() { close(p.quit) })
	p.wg.Wait()
	slog.Info("Worker pool stopped")
}

func (p *Pool) workerLoop(id int) {
	defer p.wg.Done()
	slog.Debug("Worker started", "worker_id", id)

	for {
		select {
		case <-p.quit:
			return
		default:
		}
		select {
		case job := <-p.jobQueue:
			p.processJob(id, job)
		case <-p.quit:
			return
		}
	}
}

// publish records and broadcasts the job's current state.
func (p *Pool) publish(job *Job) {
	v := job.View()
	if p.Recorder != nil {
		if err := p.Recorder.Record(v); err != nil {
			slog.Warn("Failed to record job", "job_id", v.ID, "error", err)
		}
	}
	if p.OnProgress != nil {
		p.OnProgress(v)
	}
}

func (p *Pool) processJob(workerID int, job *Job) {
	defer job.Cancel()
	slog.Info("Processing job", "worker_id", workerID, "job_id", job.ID, "kind", job.Kind, "table", job.Table)

	wait := job.start()
	p.publish(job)

	if err := p.dbSem.Acquire(job.Ctx, 1); err != nil {
		p.failJob(job, fmt.Errorf("failed to acquire copy slot: %w", err))
		return
	}

	var (
		rows int64
		took time.Duration
		err  error
	)
	switch job.Kind {
	case KindExport:
		rows, took, err = p.executeExport(job)
	case KindImport:
		rows, took, err = p.executeImport(job)
	default:
		err = fmt.Errorf("unknown job kind %q", job.Kind)
	}
	p.dbSem.Release(1)

	if err != nil {
		p.failJob(job, err)
		return
	}

	job.complete(rows, took)
	slog.Info("Job completed", "job_id", job.ID, "rows", rows, "wait", wait, "copy_duration", took)
	p.publish(job)
	if p.Notifier != nil {
		p.Notifier.JobFinished(job.View())
	}
}

func (p *Pool) reportProgress(job *Job) func(int64) {
	return func(n int64) {
		job.progress(n)
		if p.OnProgress != nil {
			p.OnProgress(job.View())
		}
	}
}

func (p *Pool) executeExport(job *Job) (int64, time.Duration, error) {
	key := fmt.Sprintf("exports/%s.%s", job.ID, exporter.Extension(job.Format))
	if p.opts.Gzip {
		key += ".gz"
	}
	job.setKey(key)

	// Start Storage Upload in background (it reads from pipe)
	storageWriter, errChan := p.storage.Create(job.Ctx, key)
	if storageWriter == nil {
		return 0, 0, fmt.Errorf("storage: %w", <-errChan)
	}

	// Prepare Output Writer (maybe wrapped in Gzip)
	var finalWriter io.Writer = storageWriter
	var gw *gzip.Writer
	if p.opts.Gzip {
		gw = gzip.NewWriter(storageWriter)
		finalWriter = gw
	}

	encoder, err := exporter.NewEncoder(job.Format, finalWriter, p.opts.Sanitize)
	if err != nil {
		storage.Abort(storageWriter, err)
		<-errChan
		return 0, 0, err
	}

	var columns []exporter.Column
	for _, name := range job.Columns {
		columns = append(columns, exporter.Column{Name: name})
	}

	streamer := exporter.NewCopyStreamer(p.conn)
	streamer.Progress = p.reportProgress(job)

	// Run Export (COPY -> Encoder -> [Gzip?] -> Storage)
	stats, exportErr := streamer.StreamTable(job.Ctx, job.Table, columns, encoder)
	if exportErr != nil {
		storage.Abort(storageWriter, exportErr)
		<-errChan
		return 0, 0, fmt.Errorf("export failed: %w", exportErr)
	}

	// Close Encoder (some formats need to finish writing/flushing)
	if err := encoder.Close(); err != nil {
		storage.Abort(storageWriter, err)
		<-errChan
		return 0, 0, fmt.Errorf("encoder close failed: %w", err)
	}
	// If Gzip, close it first to flush footer
	if gw != nil {
		if err := gw.Close(); err != nil {
			storage.Abort(storageWriter, err)
			<-errChan
			return 0, 0, fmt.Errorf("gzip close failed: %w", err)
		}
	}

	storageCloseErr := storageWriter.Close()
	uploadErr := <-errChan
	if storageCloseErr != nil {
		return 0, 0, fmt.Errorf("storage close failed: %w", storageCloseErr)
	}
	if uploadErr != nil {
		return 0, 0, fmt.Errorf("upload failed: %w", uploadErr)
	}
	return stats.RowsProcessed, stats.Duration, nil
}

func (p *Pool) executeImport(job *Job) (int64, time.Duration, error) {
	l := loader.New(p.conn)
	l.FlushSize = p.opts.FlushSize
	l.Progress = p.reportProgress(job)
	target := loader.Target{Table: job.Table, Columns: job.Columns}

	if job.Query != "" {
		if p.source == nil {
			return 0, 0, ErrNoSource
		}
		res, err := l.LoadQuery(job.Ctx, p.source, job.Query, target)
		if err != nil {
			return 0, 0, fmt.Errorf("transfer failed: %w", err)
		}
		return res.Rows, res.Duration, nil
	}

	key := job.View().Key
	reader, err := p.storage.Open(job.Ctx, key)
	if err != nil {
		return 0, 0, fmt.Errorf("open %s: %w", key, err)
	}
	defer reader.Close()

	var in io.Reader = reader
	if strings.HasSuffix(strings.ToLower(key), ".gz") {
		gr, err := gzip.NewReader(reader)
		if err != nil {
			return 0, 0, fmt.Errorf("open %s: %w", key, err)
		}
		defer gr.Close()
		in = gr
	}

	res, err := l.LoadFile(job.Ctx, in, job.Format, target)
	if err != nil {
		return 0, 0, fmt.Errorf("import failed: %w", err)
	}
	return res.Rows, res.Duration, nil
}

func (p *Pool) failJob(job *Job, err error) {
	job.fail(err)
	slog.Error("Job failed", "job_id", job.ID, "error", err)
	p.publish(job)
	if p.Notifier != nil {
		p.Notifier.JobFinished(job.View())
	}
}
