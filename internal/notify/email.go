package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"

	"github.com/tradewatch/sentinel/internal/domain"
)

// EmailConfig holds SMTP parameters for the email sender.
type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// DefaultTo receives notifications whose recipient is empty.
	DefaultTo string
}

// EmailSender delivers notifications over SMTP.
type EmailSender struct {
	cfg EmailConfig
	// send is swappable for tests; defaults to smtp.SendMail.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailSender creates an EmailSender.
func NewEmailSender(cfg EmailConfig) *EmailSender {
	return &EmailSender{cfg: cfg, send: smtp.SendMail}
}

// Send delivers the notification to the recipient address, falling back to
// the configured default when the recipient is empty.
func (e *EmailSender) Send(ctx context.Context, title, message, recipient string) error {
	to := recipient
	if to == "" {
		to = e.cfg.DefaultTo
	}
	if to == "" {
		return fmt.Errorf("email: no recipient configured")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", e.cfg.From)
	fmt.Fprintf(&b, "To: %s\r\n", to)
	fmt.Fprintf(&b, "Subject: %s\r\n", title)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")
	b.WriteString(message)
	b.WriteString("\r\n")

	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}

	addr := fmt.Sprintf("%s:%d", e.cfg.Host, e.cfg.Port)
	if err := e.send(addr, auth, e.cfg.From, []string{to}, []byte(b.String())); err != nil {
		return fmt.Errorf("email: send to %s: %w", to, err)
	}
	return nil
}

// Channel returns the channel identifier.
func (e *EmailSender) Channel() domain.NotificationChannel {
	return domain.ChannelEmail
}
