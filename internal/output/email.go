package output

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"os"
	"strings"
)

// DefaultEmailSubject is used when neither the output nor the message sets a
// subject.
const DefaultEmailSubject = "New message from Quantum Portal"

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// EmailOutput sends notifications via SMTP email.
type EmailOutput struct {
	to       string
	from     string
	subject  string
	smtpHost string
	smtpPort string
	username string
	password string
	sendMail sendMailFunc
}

// NewEmailOutput creates a new email output.
// SMTP configuration is read from environment variables:
//   - SMTP_HOST: SMTP server hostname
//   - SMTP_PORT: SMTP server port (default: 587)
//   - SMTP_USER: SMTP authentication username
//   - SMTP_PASS: SMTP authentication password
//   - SMTP_FROM: Sender email address
func NewEmailOutput(to, subject string) (*EmailOutput, error) {
	if to == "" {
		return nil, fmt.Errorf("email recipient (to) is required")
	}
	host := os.Getenv("SMTP_HOST")
	if host == "" {
		return nil, fmt.Errorf("SMTP_HOST environment variable not set")
	}
	from := os.Getenv("SMTP_FROM")
	if from == "" {
		return nil, fmt.Errorf("SMTP_FROM environment variable not set")
	}
	return NewEmailOutputWithConfig(to, from, subject, host, os.Getenv("SMTP_PORT"),
		os.Getenv("SMTP_USER"), os.Getenv("SMTP_PASS"))
}

// NewEmailOutputWithConfig creates an email output with explicit configuration.
func NewEmailOutputWithConfig(to, from, subject, smtpHost, smtpPort, username, password string) (*EmailOutput, error) {
	if to == "" {
		return nil, fmt.Errorf("email recipient (to) is required")
	}
	if from == "" {
		return nil, fmt.Errorf("sender email (from) is required")
	}
	if smtpHost == "" {
		return nil, fmt.Errorf("SMTP host is required")
	}
	if smtpPort == "" {
		smtpPort = "587"
	}
	if subject == "" {
		subject = DefaultEmailSubject
	}

	return &EmailOutput{
		to:       to,
		from:     from,
		subject:  subject,
		smtpHost: smtpHost,
		smtpPort: smtpPort,
		username: username,
		password: password,
		sendMail: smtp.SendMail,
	}, nil
}

// Name returns "email".
func (e *EmailOutput) Name() string {
	return "email"
}

// headerValue strips line breaks so user-supplied text cannot add headers,
// and Q-encodes non-ASCII text (RFC 2047).
func headerValue(s string) string {
	return mime.QEncoding.Encode("utf-8", strings.NewReplacer("\r", " ", "\n", " ").Replace(s))
}

// build renders the RFC 5322 message for msg.
func (e *EmailOutput) build(msg Message) []byte {
	subject := e.subject
	if msg.Subject != "" {
		subject = msg.Subject
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.from)
	fmt.Fprintf(&b, "To: %s\r\n", e.to)
	fmt.Fprintf(&b, "Subject: %s\r\n", headerValue(subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(strings.ReplaceAll(msg.PlainText(), "\n", "\r\n"))
	return []byte(b.String())
}

// Send delivers the message by SMTP.
// smtp.SendMail does not take a context, so ctx is only checked before
// dialing.
func (e *EmailOutput) Send(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if e.username != "" && e.password != "" {
		auth = smtp.PlainAuth("", e.username, e.password, e.smtpHost)
	}

	addr := e.smtpHost + ":" + e.smtpPort
	if err := e.sendMail(addr, auth, e.from, []string{e.to}, e.build(msg)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

// Close is a no-op for email output.
func (e *EmailOutput) Close() error {
	return nil
}

// To returns the configured recipient address.
func (e *EmailOutput) To() string {
	return e.to
}

// Subject returns the configured subject line.
func (e *EmailOutput) Subject() string {
	return e.subject
}
