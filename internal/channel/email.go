package channel

import (
	"context"
	"crypto/tls"
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

type EmailConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	FromName string
	// ImplicitTLS opens the connection with TLS (465). Otherwise the
	// dialer upgrades with STARTTLS (587).
	ImplicitTLS bool
}

type mailDialer interface {
	DialAndSend(m ...*gomail.Message) error
}

// EmailTransport sends mail over SMTP.
type EmailTransport struct {
	dialer   mailDialer
	from     string
	fromName string
	domain   string
}

// NewEmail returns ErrNotConfigured when host or sender address are missing.
func NewEmail(cfg EmailConfig) (*EmailTransport, error) {
	if strings.TrimSpace(cfg.Host) == "" || strings.TrimSpace(cfg.From) == "" {
		return nil, fmt.Errorf("smtp: %w", ErrNotConfigured)
	}
	if cfg.Port <= 0 {
		cfg.Port = 587
		if cfg.ImplicitTLS {
			cfg.Port = 465
		}
	}
	d := gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password)
	d.SSL = cfg.ImplicitTLS
	d.TLSConfig = &tls.Config{ServerName: cfg.Host}
	return newEmail(d, cfg), nil
}

func newEmail(d mailDialer, cfg EmailConfig) *EmailTransport {
	domain := cfg.Host
	if at := strings.LastIndex(cfg.From, "@"); at >= 0 {
		domain = cfg.From[at+1:]
	}
	return &EmailTransport{dialer: d, from: cfg.From, fromName: cfg.FromName, domain: domain}
}

// Deliver returns the generated Message-ID as provider reference.
func (t *EmailTransport) Deliver(ctx context.Context, m Message) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := fmt.Sprintf("<%s@%s>", uuid.NewString(), t.domain)

	msg := gomail.NewMessage()
	if t.fromName != "" {
		msg.SetAddressHeader("From", t.from, t.fromName)
	} else {
		msg.SetHeader("From", t.from)
	}
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	msg.SetHeader("Message-ID", id)
	msg.SetBody("text/plain", m.Body)
	msg.AddAlternative("text/html", "<p>"+html.EscapeString(m.Body)+"</p>")

	if err := t.dialer.DialAndSend(msg); err != nil {
		return "", fmt.Errorf("smtp: send: %w", err)
	}
	return id, nil
}
