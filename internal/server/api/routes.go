package api

import (
	"net/http"

	"pgbulk/internal/server/middleware"
)

// Routes wires the handlers. Job submission and uploads need an HMAC
// signature; downloads carry their own token.
func Routes(h *Handler, apiSecret string) *http.ServeMux {
	signed := middleware.HMAC(apiSecret, true)
	signedStream := middleware.HMAC(apiSecret, false)

	mux := http.NewServeMux()
	mux.Handle("/jobs/export", signed(http.HandlerFunc(h.HandleExport)))
	mux.Handle("/jobs/import", signed(http.HandlerFunc(h.HandleImport)))
	mux.Handle("/uploads", signedStream(http.HandlerFunc(h.HandleUpload)))
	mux.HandleFunc("/jobs", h.HandleJob)
	mux.HandleFunc("/download", h.HandleDownload)
	mux.HandleFunc("/progress", h.HandleProgress)
	mux.HandleFunc("/health", h.HandleHealth)
	return mux
}
