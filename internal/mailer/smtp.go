package mailer

import (
	"context"
	"fmt"
	"mime"
	"net/smtp"
	"strings"

	appconfig "github.com/ignite/phishing-trainer/internal/config"
)

// SMTPMailer sends through a plain SMTP relay, the usual path on corporate
// networks where the training mail must originate from the internal gateway.
type SMTPMailer struct {
	host     string
	port     int
	username string
	password string
	from     string
}

// NewSMTPMailer creates a new SMTP mail transport.
func NewSMTPMailer(cfg appconfig.SMTPConfig, from string) *SMTPMailer {
	return &SMTPMailer{
		host:     cfg.Host,
		port:     cfg.Port,
		username: cfg.Username,
		password: cfg.Password,
		from:     from,
	}
}

// Send delivers one message as multipart/alternative (text + HTML).
func (m *SMTPMailer) Send(ctx context.Context, to, subject, htmlBody, textBody string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg := m.buildMessage(to, subject, htmlBody, textBody)

	addr := fmt.Sprintf("%s:%d", m.host, m.port)
	var auth smtp.Auth
	if m.username != "" {
		auth = smtp.PlainAuth("", m.username, m.password, m.host)
	}
	if err := smtp.SendMail(addr, auth, m.from, []string{to}, msg); err != nil {
		return fmt.Errorf("SMTP send to %s: %w", to, err)
	}
	return nil
}

const boundary = "phishing-trainer-alt"

func (m *SMTPMailer) buildMessage(to, subject, htmlBody, textBody string) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", m.from)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", subject))
	b.WriteString("MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=%q\r\n", boundary)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(textBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	b.WriteString("Content-Type: text/html; charset=utf-8\r\n\r\n")
	b.WriteString(htmlBody)
	b.WriteString("\r\n")

	fmt.Fprintf(&b, "--%s--\r\n", boundary)
	return []byte(b.String())
}
