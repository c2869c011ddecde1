package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"pgbulk/internal/exporter"
	"pgbulk/internal/security"
	"pgbulk/internal/server/hub"
	"pgbulk/internal/storage"
	"pgbulk/internal/worker"
)

// Jobs is the part of the worker pool the API drives.
type Jobs interface {
	Submit(job *worker.Job) bool
	Get(id string) (*worker.Job, bool)
}

// Ledger looks up jobs no longer held in memory.
type Ledger interface {
	Get(ctx context.Context, id string) (*worker.JobView, error)
	List(ctx context.Context, limit int) ([]worker.JobView, error)
}

type Handler struct {
	Jobs    Jobs
	Ledger  Ledger
	Hub     *hub.Hub
	Storage storage.Provider

	// SourceKind selects the query syntax accepted for transfer imports.
	SourceKind  string
	TokenSecret string
	TokenTTL    time.Duration
	// PublicURL is the externally visible base URL of the server.
	PublicURL string
	// JobTimeout bounds every submitted job.
	JobTimeout time.Duration

	upgrader websocket.Upgrader
}

// NewHandler creates a handler. allowedOrigins restricts websocket
// listeners the same way CORS restricts API calls.
func NewHandler(jobs Jobs, h *hub.Hub, store storage.Provider, allowedOrigins []string) *Handler {
	return &Handler{
		Jobs:       jobs,
		Hub:        h,
		Storage:    store,
		TokenTTL:   24 * time.Hour,
		JobTimeout: 15 * time.Minute,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || slices.Contains(allowedOrigins, "*") || slices.Contains(allowedOrigins, origin)
			},
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to write response", "error", err)
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// --- Job Handlers ---

type ExportRequest struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	Format  string   `json:"format"`
	Email   string   `json:"email"`
}

type ImportRequest struct {
	Table   string   `json:"table"`
	Columns []string `json:"columns"`
	// Key names a stored file; Query selects rows from the source database.
	Key    string `json:"key"`
	Query  string `json:"query"`
	Format string `json:"format"`
	Email  string `json:"email"`
}

type JobResponse struct {
	worker.JobView
	DownloadURL string `json:"download_url,omitempty"`
}

func validateTarget(table string, columns []string, emailAddr string) error {
	if err := security.ValidateIdentifier(table); err != nil {
		return err
	}
	for _, c := range columns {
		if err := security.ValidateIdentifier(c); err != nil || strings.Contains(c, ".") {
			return fmt.Errorf("%w: column %q", security.ErrInvalidName, c)
		}
	}
	if emailAddr != "" {
		return security.ValidateEmail(emailAddr)
	}
	return nil
}

func (h *Handler) submit(w http.ResponseWriter, job *worker.Job) {
	if !h.Jobs.Submit(job) {
		writeError(w, http.StatusServiceUnavailable, "Job queue is full, try again later")
		return
	}
	slog.Info("Job submitted", "job_id", job.ID, "kind", job.Kind, "table", job.Table, "format", job.Format)
	writeJSON(w, http.StatusAccepted, JobResponse{JobView: job.View()})
}

func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ExportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := validateTarget(req.Table, req.Columns, req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Format != "" && !knownExportFormat(req.Format) {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported format %q, use one of %s", req.Format, strings.Join(exporter.Formats, ", ")))
		return
	}

	h.submit(w, worker.NewExportJob(req.Table, req.Columns, req.Format, req.Email, h.JobTimeout))
}

func knownExportFormat(f string) bool {
	switch strings.ToLower(f) {
	case "jsonl", "excel", "binary":
		return true
	}
	return slices.Contains(exporter.Formats, strings.ToLower(f))
}

func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ImportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request")
		return
	}
	if err := validateTarget(req.Table, req.Columns, req.Email); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if (req.Key == "") == (req.Query == "") {
		writeError(w, http.StatusBadRequest, "exactly one of key and query is required")
		return
	}

	if req.Query != "" {
		if err := security.ValidateSourceQuery(h.SourceKind, req.Query); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.submit(w, worker.NewTransferJob(req.Table, req.Columns, req.Query, req.Email, h.JobTimeout))
		return
	}

	key, err := storage.CleanKey(req.Key)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	switch strings.ToLower(req.Format) {
	case "", "csv", "pgcopy", "binary":
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported import format %q", req.Format))
		return
	}
	h.submit(w, worker.NewImportJob(req.Table, req.Columns, key, req.Format, req.Email, h.JobTimeout))
}

// HandleUpload stores the request body as a file for a later import and
// returns its key.
func (h *Handler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	name := path.Base(r.URL.Query().Get("name"))
	if name == "." || name == "/" || name == "" {
		writeError(w, http.StatusBadRequest, "Missing name")
		return
	}
	key := fmt.Sprintf("imports/%s-%s", uuid.New().String(), name)

	out, errc := h.Storage.Create(r.Context(), key)
	if out == nil {
		slog.Error("Upload failed", "key", key, "error", <-errc)
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}
	n, err := io.Copy(out, r.Body)
	if err != nil {
		storage.Abort(out, err)
		<-errc
		writeError(w, http.StatusBadRequest, "Failed to read upload")
		return
	}
	closeErr := out.Close()
	if err := errors.Join(closeErr, <-errc); err != nil {
		slog.Error("Upload failed", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to store file")
		return
	}

	slog.Info("File uploaded", "key", key, "bytes", n)
	writeJSON(w, http.StatusCreated, map[string]any{"key": key, "bytes": n})
}

func (h *Handler) HandleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		h.listJobs(w, r)
		return
	}

	var view *worker.JobView
	if job, ok := h.Jobs.Get(id); ok {
		v := job.View()
		view = &v
	} else if h.Ledger != nil {
		v, err := h.Ledger.Get(r.Context(), id)
		if err == nil {
			view = v
		}
	}
	if view == nil {
		writeError(w, http.StatusNotFound, "Job not found")
		return
	}

	resp := JobResponse{JobView: *view}
	if view.Kind == worker.KindExport && view.Status == worker.StatusCompleted {
		link, err := h.DownloadLink(*view)
		if err != nil {
			slog.Warn("Failed to create download link", "job_id", id, "error", err)
		}
		resp.DownloadURL = link
	}
	writeJSON(w, http.StatusOK, resp)
}

// listJobs returns the most recent jobs from the ledger, newest first.
func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	if h.Ledger == nil {
		writeError(w, http.StatusBadRequest, "Missing id")
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		limit = n
	}
	views, err := h.Ledger.List(r.Context(), limit)
	if err != nil {
		slog.Error("Failed to list jobs", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list jobs")
		return
	}
	if views == nil {
		views = []worker.JobView{}
	}
	writeJSON(w, http.StatusOK, views)
}

// DownloadLink returns a signed /download URL for a completed export.
func (h *Handler) DownloadLink(v worker.JobView) (string, error) {
	token, err := security.IssueDownloadToken(h.TokenSecret, v.ID, v.Key, h.TokenTTL)
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(h.PublicURL, "/") + "/download?token=" + url.QueryEscape(token), nil
}

func (h *Handler) HandleDownload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	claims, err := security.ParseDownloadToken(h.TokenSecret, r.URL.Query().Get("token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "Invalid or expired link")
		return
	}

	reader, err := h.Storage.Open(r.Context(), claims.Key)
	if err != nil {
		slog.Warn("Download failed", "key", claims.Key, "error", err)
		writeError(w, http.StatusNotFound, "File not found")
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", path.Base(claims.Key)))
	n, err := io.Copy(w, reader)
	if err != nil {
		slog.Warn("Download interrupted", "key", claims.Key, "bytes", n, "error", err)
		return
	}
	slog.Info("File downloaded", "job_id", claims.JobID, "bytes", n)
}

// --- Progress Handler ---

func (h *Handler) HandleProgress(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Progress upgrade failed", "error", err)
		return
	}

	h.Hub.Register(conn)

	// Keep connection open until the client goes away.
	for {
		if _, _, err := conn.NextReader(); err != nil {
			h.Hub.Unregister(conn)
			break
		}
	}
}

// Publish forwards a job state change to progress listeners. It is the
// pool's OnProgress callback.
func (h *Handler) Publish(v worker.JobView) {
	typ := "progress"
	if v.Status != worker.StatusProcessing {
		typ = "job_status"
	}
	h.Hub.Broadcast(hub.Update{
		Type:   typ,
		JobID:  v.ID,
		Kind:   string(v.Kind),
		Table:  v.Table,
		Status: string(v.Status),
		Rows:   v.Rows,
		Error:  v.Error,
	})
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
