package email

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/smtp"
	"path"
)

type SMTPSender struct {
	Host     string
	Port     int
	User     string
	Password string
	From     string

	// send is smtp.SendMail, replaced in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

func NewSMTPSender(host string, port int, user, password, from string) *SMTPSender {
	return &SMTPSender{
		Host:     host,
		Port:     port,
		User:     user,
		Password: password,
		From:     from,
		send:     smtp.SendMail,
	}
}

func (s *SMTPSender) auth() smtp.Auth {
	if s.User != "" && s.Password != "" {
		return smtp.PlainAuth("", s.User, s.Password, s.Host)
	}
	return nil
}

// deliver sends in the background so workers are not held up by the
// mail server.
func (s *SMTPSender) deliver(to string, msg []byte) {
	addr := fmt.Sprintf("%s:%d", s.Host, s.Port)
	go func() {
		err := s.send(addr, s.auth(), s.From, []string{to}, msg)
		if err != nil {
			slog.Error("Failed to send email", "error", err, "to", to)
		} else {
			slog.Info("Email sent successfully", "to", to)
		}
	}()
}

func (s *SMTPSender) SendNotice(to string, n Notice) {
	slog.Info("Sending email via SMTP", "to", to, "host", s.Host, "job_id", n.JobID)
	s.deliver(to, noticeMessage(to, n))
}

func (s *SMTPSender) SendWithAttachment(to, filename string, content []byte, n Notice) {
	slog.Info("Sending email with attachment via SMTP", "to", to, "size", len(content), "job_id", n.JobID)
	s.deliver(to, attachmentMessage(to, filename, content, n))
}

func subject(n Notice) string {
	if n.Status == "COMPLETED" {
		return fmt.Sprintf("pgbulk %s job %s completed", n.Kind, n.JobID)
	}
	return fmt.Sprintf("pgbulk %s job %s failed", n.Kind, n.JobID)
}

func body(n Notice) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "Hello,\n\nYour %s job %s finished with status %s.\n\nStats: %s\n", n.Kind, n.JobID, n.Status, n.Stats())
	if n.DownloadURL != "" {
		fmt.Fprintf(&b, "\nDownload Link:\n%s\n\nThe link expires after a limited time.\n", n.DownloadURL)
	}
	return b.String()
}

func noticeMessage(to string, n Notice) []byte {
	return []byte(fmt.Sprintf("To: %s\r\n"+
		"Subject: %s\r\n"+
		"\r\n"+
		"%s\r\n", to, subject(n), body(n)))
}

const boundary = "pgbulk-export-boundary"

func attachmentMessage(to, filename string, content []byte, n Notice) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", subject(n))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/mixed; boundary=%q\r\n\r\n", boundary)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=\"utf-8\"\r\n\r\n")
	b.WriteString(body(n) + "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: %s; name=%q\r\n", contentType(filename), filename)
	b.WriteString("Content-Transfer-Encoding: base64\r\n")
	fmt.Fprintf(&b, "Content-Disposition: attachment; filename=%q\r\n\r\n", filename)

	// RFC 2045 line limit
	encoded := base64.StdEncoding.EncodeToString(content)
	for i := 0; i < len(encoded); i += 76 {
		end := min(i+76, len(encoded))
		b.WriteString(encoded[i:end] + "\r\n")
	}
	fmt.Fprintf(&b, "\r\n--%s--", boundary)
	return b.Bytes()
}

func contentType(filename string) string {
	switch path.Ext(filename) {
	case ".csv":
		return "text/csv"
	case ".gz":
		return "application/gzip"
	case ".jsonl":
		return "application/x-ndjson"
	case ".xlsx":
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case ".pdf":
		return "application/pdf"
	}
	return "application/octet-stream"
}
