package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"pgbulk/internal/config"
	"pgbulk/internal/driver"
	"pgbulk/internal/email"
	"pgbulk/internal/server/api"
	"pgbulk/internal/server/hub"
	"pgbulk/internal/server/middleware"
	"pgbulk/internal/server/store"
	"pgbulk/internal/storage"
	"pgbulk/internal/worker"
)

var version = "dev"

func main() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "pgbulkd %s\n\n", version)
		fmt.Fprintf(os.Stderr, "Usage:\n")
		fmt.Fprintf(os.Stderr, "  pgbulkd [flags]\n\n")
		fmt.Fprintf(os.Stderr, "Flags:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  PG_DSN        PostgreSQL connection string (required)\n")
		fmt.Fprintf(os.Stderr, "  API_SECRET    HMAC secret for job submission (required in production)\n")
		fmt.Fprintf(os.Stderr, "  TOKEN_SECRET  Secret for download links (required)\n")
		fmt.Fprintf(os.Stderr, "  STORAGE_TYPE  local or s3\n")
		fmt.Fprintf(os.Stderr, "  SOURCE_KIND   Transfer source driver (postgres, mysql, mongo)\n")
		fmt.Fprintf(os.Stderr, "  SOURCE_DSN    Transfer source connection string\n")
	}
	showVersion := flag.Bool("version", false, "Show version")
	flag.Parse()
	if *showVersion {
		fmt.Printf("pgbulkd %s\n", version)
		os.Exit(0)
	}

	_ = godotenv.Load()
	cfg := config.Load()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	if err := run(cfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config) error {
	slog.Info("Starting pgbulkd", "env", cfg.AppEnv, "version", version)

	if cfg.TokenSecret == "" {
		return errors.New("TOKEN_SECRET not set")
	}
	if cfg.APISecret == "" {
		if cfg.AppEnv == "production" {
			return errors.New("API_SECRET not set")
		}
		slog.Warn("API_SECRET not set, job submission is unauthenticated")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Copy connection pool
	copier, err := driver.NewPgCopier(ctx, cfg.PostgresDSN, cfg.PostgresMaxConns)
	if err != nil {
		return err
	}
	defer copier.Close()
	slog.Info("Connected to PostgreSQL", "max_conns", cfg.PostgresMaxConns)

	// 2. Job ledger
	st, err := store.NewStore(cfg.PostgresDSN)
	if err != nil {
		return err
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		return err
	}
	if n, err := st.FailInterrupted(ctx); err != nil {
		return err
	} else if n > 0 {
		slog.Warn("Marked interrupted jobs as failed", "count", n)
	}

	// 3. File storage
	files, err := newStorage(ctx, cfg)
	if err != nil {
		return err
	}

	// 4. Optional transfer source
	var source driver.Driver
	if cfg.SourceDSN != "" {
		source, err = driver.New(cfg.SourceKind, cfg.SourceDSN)
		if err != nil {
			return err
		}
		defer source.Close()
		if err := source.Ping(ctx); err != nil {
			slog.Warn("Source database unreachable", "kind", cfg.SourceKind, "error", err)
		}
	}

	// 5. Workers and API
	h := hub.NewHub()
	pool := worker.NewPool(worker.Options{
		Workers:          cfg.WorkerCount,
		QueueSize:        cfg.QueueSize,
		MaxDBConcurrency: cfg.MaxDBConcurrency,
		Gzip:             cfg.Compression,
		FlushSize:        cfg.CopyFlushBytes,
		Sanitize:         true,
	}, copier, source, files)

	handler := api.NewHandler(pool, h, files, cfg.AllowedOrigins)
	handler.Ledger = st
	handler.SourceKind = cfg.SourceKind
	handler.TokenSecret = cfg.TokenSecret
	handler.TokenTTL = cfg.TokenTTL
	handler.PublicURL = cfg.PublicURL
	handler.JobTimeout = cfg.DefaultTimeout

	pool.Recorder = st
	pool.OnProgress = handler.Publish
	pool.Notifier = &worker.EmailNotifier{
		Sender:     newSender(cfg),
		Storage:    files,
		AttachFile: cfg.AttachFile,
		Link:       handler.DownloadLink,
	}
	pool.Start()
	defer pool.Stop()

	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           middleware.CORS(cfg.AllowedOrigins, cfg.AppEnv)(api.Routes(handler, cfg.APISecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("pgbulkd listening", "port", cfg.ServerPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func newStorage(ctx context.Context, cfg *config.Config) (storage.Provider, error) {
	switch cfg.StorageType {
	case "s3":
		p, err := storage.NewS3ProviderFromOptions(ctx, storage.S3Options{
			Region:          cfg.AWSRegion,
			Bucket:          cfg.S3Bucket,
			Endpoint:        cfg.S3Endpoint,
			PathStyle:       cfg.S3PathStyle,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("Using S3 storage", "bucket", cfg.S3Bucket, "region", cfg.AWSRegion)
		return p, nil
	case "local", "":
		slog.Info("Using local storage", "path", cfg.LocalStoragePath)
		return storage.NewLocalProvider(cfg.LocalStoragePath), nil
	default:
		return nil, fmt.Errorf("unknown STORAGE_TYPE %q", cfg.StorageType)
	}
}

func newSender(cfg *config.Config) email.Sender {
	if cfg.SMTPHost == "" {
		slog.Info("SMTP not configured, notifications are logged")
		return email.NewLogSender()
	}
	return email.NewSMTPSender(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPassword, cfg.SMTPFrom)
}
