// Package mailer provides the outbound mail transports. Dispatch only needs
// one operation: send a message, get ok or an error. Two implementations
// exist, AWS SES for cloud deployments and a plain SMTP relay for on-prem
// corporate mail gateways.
package mailer

import (
	"context"
	"fmt"

	"github.com/ignite/phishing-trainer/internal/config"
)

// Mailer sends one rendered message to one recipient.
type Mailer interface {
	Send(ctx context.Context, to, subject, htmlBody, textBody string) error
}

// New builds the mail transport selected by configuration.
func New(ctx context.Context, cfg config.MailerConfig) (Mailer, error) {
	switch cfg.Provider {
	case "ses":
		return NewSESMailer(ctx, cfg.SES, cfg.From)
	case "smtp":
		return NewSMTPMailer(cfg.SMTP, cfg.From), nil
	default:
		return nil, fmt.Errorf("unknown mailer provider %q", cfg.Provider)
	}
}
