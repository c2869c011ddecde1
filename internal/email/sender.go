package email

import (
	"fmt"
	"log/slog"
	"time"
)

// Notice summarizes a finished job for its requester.
type Notice struct {
	JobID       string
	Kind        string
	Table       string
	Format      string
	Status      string
	Rows        int64
	Duration    time.Duration
	DownloadURL string
	Error       string
}

// Stats renders the one-line summary used in subjects and logs.
func (n Notice) Stats() string {
	s := fmt.Sprintf("%s of %s: %d rows in %s", n.Kind, n.Table, n.Rows, n.Duration.Round(time.Millisecond))
	if n.Error != "" {
		s += " (failed: " + n.Error + ")"
	}
	return s
}

type Sender interface {
	SendNotice(to string, n Notice)
	SendWithAttachment(to, filename string, content []byte, n Notice)
}

type LogSender struct{}

func NewLogSender() *LogSender {
	return &LogSender{}
}

// SendNotice only logs; it is the sender used when no SMTP host is set.
func (s *LogSender) SendNotice(to string, n Notice) {
	slog.Info("EMAIL SENT",
		"to", to,
		"job_id", n.JobID,
		"status", n.Status,
		"url", n.DownloadURL,
		"stats", n.Stats(),
	)
}

func (s *LogSender) SendWithAttachment(to, filename string, content []byte, n Notice) {
	slog.Info("EMAIL SENT WITH ATTACHMENT",
		"to", to,
		"job_id", n.JobID,
		"filename", filename,
		"size", len(content),
		"stats", n.Stats(),
	)
}
