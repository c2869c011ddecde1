package storage

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
)

// Provider stores export files and serves files to import.
type Provider interface {
	// Create returns a WriteCloser. Data written to it is streamed to the storage destination.
	// The key is the relative path/filename for the object.
	// The returned channel receives a single error (or nil) when the storage operation completes.
	Create(ctx context.Context, key string) (io.WriteCloser, <-chan error)

	// Open opens the stored file for reading.
	Open(ctx context.Context, key string) (io.ReadCloser, error)

	// URL returns a location for the stored item meant for operators and
	// logs. Clients download through signed links instead.
	URL(key string) string
}

// Abort ends a write from Create without completing it. The partial object
// is discarded where the provider can do so.
func Abort(w io.WriteCloser, cause error) error {
	if a, ok := w.(interface{ CloseWithError(error) error }); ok {
		return a.CloseWithError(cause)
	}
	return w.Close()
}

// CleanKey normalizes a storage key and rejects keys that climb out of the
// storage root.
func CleanKey(key string) (string, error) {
	k := path.Clean("/" + strings.ReplaceAll(key, "\\", "/"))
	k = strings.TrimPrefix(k, "/")
	if k == "" || k == "." {
		return "", fmt.Errorf("invalid storage key %q", key)
	}
	for _, seg := range strings.Split(strings.ReplaceAll(key, "\\", "/"), "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid storage key %q", key)
		}
	}
	return k, nil
}

func failed(err error) <-chan error {
	errChan := make(chan error, 1)
	errChan <- err
	close(errChan)
	return errChan
}
