package middleware

import (
	"bytes"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"pgbulk/internal/security"
)

// maxSignedBody is the largest request body covered by a signature.
const maxSignedBody = 1 << 20

// HMAC rejects requests without a valid X-Signature over method, path,
// body and X-Timestamp (see security.Sign). When signBody is false the
// body is left unread and the signature covers an empty body; streaming
// uploads use this. An empty secret disables the check.
func HMAC(secret string, signBody bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret == "" {
				next.ServeHTTP(w, r)
				return
			}

			var body []byte
			if signBody && r.Body != nil {
				var err error
				body, err = io.ReadAll(io.LimitReader(r.Body, maxSignedBody+1))
				if err != nil {
					http.Error(w, "Failed to read body", http.StatusBadRequest)
					return
				}
				if len(body) > maxSignedBody {
					http.Error(w, "Request body too large", http.StatusRequestEntityTooLarge)
					return
				}
				r.Body = io.NopCloser(bytes.NewReader(body))
			}

			err := security.VerifyHMAC(secret, r.Method, r.URL.Path, string(body),
				r.Header.Get("X-Timestamp"), r.Header.Get("X-Signature"))
			if err != nil {
				slog.Warn("Rejected unsigned request", "path", r.URL.Path, "error", err)
				status := http.StatusUnauthorized
				if errors.Is(err, security.ErrRequestExpired) {
					status = http.StatusForbidden
				}
				http.Error(w, "Invalid signature", status)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
