package middleware

import (
	"log/slog"
	"net/http"
	"slices"
)

// CORS answers browser preflights and tags responses for allowed origins.
// A preflight from an origin outside the list is refused outright; plain
// requests still reach the handler, only without CORS headers.
func CORS(allowedOrigins []string, env string) func(http.Handler) http.Handler {
	wildcard := slices.Contains(allowedOrigins, "*")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			h := w.Header()

			allowed := wildcard || (origin != "" && slices.Contains(allowedOrigins, origin))
			switch {
			case wildcard:
				h.Set("Access-Control-Allow-Origin", "*")
			case allowed:
				h.Set("Access-Control-Allow-Origin", origin)
				h.Set("Access-Control-Allow-Credentials", "true")
				h.Add("Vary", "Origin")
			}
			if env == "development" {
				slog.Debug("CORS check", "origin", origin, "allowed", allowed)
			}

			if r.Method == http.MethodOptions {
				if !allowed && origin != "" {
					w.WriteHeader(http.StatusForbidden)
					return
				}
				h.Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
				h.Set("Access-Control-Allow-Headers", "Content-Type, X-Signature, X-Timestamp")
				h.Set("Access-Control-Max-Age", "600")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			if allowed {
				// Browsers hide these otherwise; downloads name their file here.
				h.Set("Access-Control-Expose-Headers", "Content-Disposition, Content-Length")
			}
			next.ServeHTTP(w, r)
		})
	}
}
