package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/gorilla/websocket"

	"pgbulk/internal/config"
	"pgbulk/internal/server/hub"
	"pgbulk/internal/worker"
)

// progressURL turns the server base URL into its websocket progress
// endpoint.
func progressURL(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws", "":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	u.Path = strings.TrimSuffix(u.Path, "/") + "/progress"
	return u.String(), nil
}

// runWatch prints job updates from a running pgbulkd until interrupted, or
// until the watched job finishes.
func runWatch(ctx context.Context, cfg *config.Config, args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	server := fs.String("server", cfg.PublicURL, "pgbulkd base URL (default PUBLIC_URL)")
	job := fs.String("job", "", "only show this job and exit when it finishes")
	fs.Parse(args)

	target, err := progressURL(*server)
	if err != nil {
		return err
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", target, err)
	}
	defer conn.Close()
	slog.Debug("Watching job updates", "url", target)

	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		conn.Close()
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return nil
			}
			return err
		}
		var u hub.Update
		if err := json.Unmarshal(message, &u); err != nil {
			slog.Warn("Invalid update", "error", err)
			continue
		}
		if *job != "" && u.JobID != *job {
			continue
		}
		line := fmt.Sprintf("%s %-6s %-10s %-12s %d rows", u.JobID, u.Kind, u.Table, u.Status, u.Rows)
		if u.Error != "" {
			line += " error: " + u.Error
		}
		fmt.Println(line)
		if *job != "" && (u.Status == string(worker.StatusCompleted) || u.Status == string(worker.StatusFailed)) {
			return nil
		}
	}
}
