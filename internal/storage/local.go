package storage

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

type LocalProvider struct {
	basePath string
}

func NewLocalProvider(basePath string) *LocalProvider {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		slog.Error("Failed to ensure local storage directory exists", "path", basePath, "error", err)
	}
	return &LocalProvider{
		basePath: basePath,
	}
}

func (p *LocalProvider) path(key string) (string, error) {
	k, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(p.basePath, filepath.FromSlash(k)), nil
}

// Create writes to a temporary file that is renamed into place on Close,
// so readers never see a partial file.
func (p *LocalProvider) Create(ctx context.Context, key string) (io.WriteCloser, <-chan error) {
	fullPath, err := p.path(key)
	if err != nil {
		return nil, failed(err)
	}

	// Ensure subdirectories exist if key contains them
	dir := filepath.Dir(fullPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, failed(fmt.Errorf("failed to create directory %s: %w", dir, err))
	}

	f, err := os.CreateTemp(dir, ".upload-*")
	if err != nil {
		return nil, failed(fmt.Errorf("failed to create file %s: %w", fullPath, err))
	}

	errChan := make(chan error, 1)
	return &localWriter{
		f:       f,
		errChan: errChan,
		path:    fullPath,
	}, errChan
}

func (p *LocalProvider) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	fullPath, err := p.path(key)
	if err != nil {
		return nil, err
	}
	return os.Open(fullPath)
}

func (p *LocalProvider) URL(key string) string {
	fullPath, err := p.path(key)
	if err != nil {
		return ""
	}
	abs, _ := filepath.Abs(fullPath)
	return fmt.Sprintf("file://%s", filepath.ToSlash(abs))
}

type localWriter struct {
	f       *os.File
	errChan chan error
	path    string
	done    bool
}

func (w *localWriter) Write(p []byte) (n int, err error) {
	return w.f.Write(p)
}

func (w *localWriter) finish(err error) error {
	if w.done {
		return nil
	}
	w.done = true
	w.errChan <- err
	close(w.errChan)
	return err
}

func (w *localWriter) Close() error {
	if w.done {
		return nil
	}
	if err := w.f.Close(); err != nil {
		os.Remove(w.f.Name())
		return w.finish(err)
	}
	if err := os.Rename(w.f.Name(), w.path); err != nil {
		os.Remove(w.f.Name())
		return w.finish(fmt.Errorf("failed to move file into place: %w", err))
	}
	slog.Info("Local file write completed", "path", w.path)
	return w.finish(nil)
}

// CloseWithError discards the partial file.
func (w *localWriter) CloseWithError(cause error) error {
	if w.done {
		return nil
	}
	w.f.Close()
	os.Remove(w.f.Name())
	w.finish(cause)
	return nil
}
