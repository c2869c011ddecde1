package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"time"

	"pgbulk/internal/email"
	"pgbulk/internal/storage"
)

// maxAttachmentSize is the largest export sent as an attachment.
const maxAttachmentSize = 25 * 1024 * 1024 // 25MB

// EmailNotifier mails a summary of every finished job that has a
// recipient. Completed exports carry a download link, or the file itself
// when AttachFile is set and it is small enough.
type EmailNotifier struct {
	Sender     email.Sender
	Storage    storage.Provider
	AttachFile bool
	// Link returns the download URL for an export.
	Link func(job JobView) (string, error)
}

func (n *EmailNotifier) JobFinished(job JobView) {
	if job.Email == "" {
		return
	}
	notice := email.Notice{
		JobID:  job.ID,
		Kind:   string(job.Kind),
		Table:  job.Table,
		Format: job.Format,
		Status: string(job.Status),
		Rows:   job.Rows,
		Error:  job.Error,
	}
	if d, err := time.ParseDuration(job.Duration); err == nil {
		notice.Duration = d
	}

	if job.Kind != KindExport || job.Status != StatusCompleted {
		n.Sender.SendNotice(job.Email, notice)
		return
	}

	if n.AttachFile {
		content, err := n.readAttachment(job.Key)
		if err == nil {
			n.Sender.SendWithAttachment(job.Email, path.Base(job.Key), content, notice)
			return
		}
		slog.Warn("Skipping attachment (too large or error)", "key", job.Key, "error", err)
	}

	if n.Link != nil {
		link, err := n.Link(job)
		if err != nil {
			slog.Warn("Failed to create download link", "job_id", job.ID, "error", err)
		}
		notice.DownloadURL = link
	}
	n.Sender.SendNotice(job.Email, notice)
}

func (n *EmailNotifier) readAttachment(key string) ([]byte, error) {
	reader, err := n.Storage.Open(context.Background(), key)
	if err != nil {
		return nil, err
	}
	defer reader.Close()

	content, err := io.ReadAll(io.LimitReader(reader, maxAttachmentSize+1))
	if err != nil {
		return nil, err
	}
	if len(content) > maxAttachmentSize {
		return nil, fmt.Errorf("file exceeds max attachment size (%d bytes)", maxAttachmentSize)
	}
	return content, nil
}
