package main

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pgbulk/internal/server/api"
	"pgbulk/internal/server/middleware"
	"pgbulk/internal/worker"
)

func testServer(t *testing.T, secret string) *httptest.Server {
	t.Helper()
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.Handle("/jobs/export", middleware.HMAC(secret, true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req api.ExportRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.WriteHeader(http.StatusAccepted)
		json.NewEncoder(w).Encode(api.JobResponse{JobView: worker.JobView{ID: "job-1", Table: req.Table, Status: worker.StatusPending}})
	})))
	mux.Handle("/uploads", middleware.HMAC(secret, false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"key": "imports/x-" + r.URL.Query().Get("name"), "bytes": len(data)})
	})))
	mux.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
		status := worker.StatusProcessing
		if polls.Add(1) >= 3 {
			status = worker.StatusCompleted
		}
		json.NewEncoder(w).Encode(api.JobResponse{JobView: worker.JobView{ID: r.URL.Query().Get("id"), Status: status, Rows: 7}})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientSignsRequests(t *testing.T) {
	srv := testServer(t, "s3cret")
	ctx := context.Background()

	var job api.JobResponse
	c := newAPIClient(srv.URL+"/", "s3cret")
	require.NoError(t, c.postJSON(ctx, "/jobs/export", api.ExportRequest{Table: "people"}, &job))
	assert.Equal(t, "job-1", job.ID)
	assert.Equal(t, "people", job.Table)

	key, err := c.upload(ctx, "people.csv", strings.NewReader("id\n1\n"))
	require.NoError(t, err)
	assert.Equal(t, "imports/x-people.csv", key)

	bad := newAPIClient(srv.URL, "wrong")
	err = bad.postJSON(ctx, "/jobs/export", api.ExportRequest{Table: "people"}, &job)
	assert.ErrorContains(t, err, "401")
}

func TestClientWait(t *testing.T) {
	srv := testServer(t, "")
	c := newAPIClient(srv.URL, "")

	job, err := c.wait(context.Background(), "job-9", 10*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, worker.StatusCompleted, job.Status)
	assert.EqualValues(t, 7, job.Rows)
}
