package config

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("STORAGE_TYPE", "local")
	cfg := Load()
	assert.Equal(t, "local", cfg.StorageType)
	assert.Equal(t, 64*1024, cfg.CopyFlushBytes)
	assert.Equal(t, 24*time.Hour, cfg.TokenTTL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://u:p@db:5432/app")
	t.Setenv("SOURCE_KIND", "mysql")
	t.Setenv("WORKER_COUNT", "8")
	t.Setenv("MAX_DB_CONCURRENCY", "2")
	t.Setenv("DEFAULT_TIMEOUT", "90s")
	t.Setenv("COMPRESSION", "true")
	t.Setenv("S3_PATH_STYLE", "1")
	t.Setenv("ALLOWED_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("COPY_FLUSH_BYTES", "not-a-number")

	cfg := Load()
	assert.Equal(t, "postgres://u:p@db:5432/app", cfg.PostgresDSN)
	assert.Equal(t, "mysql", cfg.SourceKind)
	assert.Equal(t, 8, cfg.WorkerCount)
	assert.EqualValues(t, 2, cfg.MaxDBConcurrency)
	assert.Equal(t, 90*time.Second, cfg.DefaultTimeout)
	assert.True(t, cfg.Compression)
	assert.True(t, cfg.S3PathStyle)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.AllowedOrigins)
	assert.Equal(t, 64*1024, cfg.CopyFlushBytes)
}

func TestSlogLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, (&Config{LogLevel: "debug"}).SlogLevel())
	assert.Equal(t, slog.LevelWarn, (&Config{LogLevel: "WARN"}).SlogLevel())
	assert.Equal(t, slog.LevelInfo, (&Config{LogLevel: "loud"}).SlogLevel())
}
