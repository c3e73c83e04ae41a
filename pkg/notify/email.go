package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"

	mail "github.com/go-mail/mail"
)

// MailSender sends composed messages. *mail.Dialer satisfies it.
type MailSender interface {
	DialAndSend(m ...*mail.Message) error
}

// SMTPConfig configures EmailNotifier
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// TLSMode is "auto" (STARTTLS when offered), "ssl" or "none"
	TLSMode            string
	InsecureSkipVerify bool
}

// EmailNotifier delivers notifications over SMTP
type EmailNotifier struct {
	from   string
	sender MailSender
}

// NewEmailNotifier creates an SMTP notifier
func NewEmailNotifier(cfg SMTPConfig) (*EmailNotifier, error) {
	if cfg.Host == "" {
		return nil, errors.New("smtp host is required")
	}
	if cfg.From == "" {
		return nil, errors.New("smtp from address is required")
	}

	d := mail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.TLSConfig = &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}
	switch cfg.TLSMode {
	case "ssl":
		d.SSL = true
	case "none":
		d.StartTLSPolicy = mail.NoStartTLS
	}

	return NewEmailNotifierWithSender(cfg.From, d), nil
}

// NewEmailNotifierWithSender creates a notifier over an existing sender
func NewEmailNotifierWithSender(from string, sender MailSender) *EmailNotifier {
	return &EmailNotifier{from: from, sender: sender}
}

// NotifyAssignment renders msg and sends it to the recipient's address
func (n *EmailNotifier) NotifyAssignment(ctx context.Context, msg Message) error {
	if msg.To.Email == "" {
		return fmt.Errorf("user %d: %w", msg.To.UserID, ErrNoChannel)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	subject, body := Render(msg)

	m := mail.NewMessage()
	m.SetHeader("From", n.from)
	m.SetAddressHeader("To", msg.To.Email, msg.To.Name)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)

	if err := n.sender.DialAndSend(m); err != nil {
		return fmt.Errorf("smtp send: %w", err)
	}
	return nil
}

// Channel returns "email"
func (n *EmailNotifier) Channel() string { return "email" }
