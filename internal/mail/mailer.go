// Package mail sends outbound notification email over SMTP.
package mail

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	netmail "net/mail"
	"net/smtp"
	"strings"
	"time"
)

// ErrDisabled is returned by Send when delivery is switched off in config.
var ErrDisabled = errors.New("mail: delivery disabled")

// Message is a single outbound email.
type Message struct {
	From     string
	To       []string
	Subject  string
	TextBody string
	HTMLBody string
}

// Mailer sends messages.
type Mailer interface {
	Send(ctx context.Context, msg Message) error
}

// Settings configure the SMTP transport.
type Settings struct {
	Enabled  bool
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// UseTLS requires STARTTLS; delivery fails if the server does not
	// offer it. Without it STARTTLS is still used opportunistically.
	UseTLS bool
	// UseSSL dials with implicit TLS (port 465).
	UseSSL  bool
	Timeout time.Duration
}

// client is the subset of *smtp.Client the mailer drives.
type client interface {
	Auth(smtp.Auth) error
	Mail(string) error
	Rcpt(string) error
	Data() (io.WriteCloser, error)
	Quit() error
	Close() error
}

type dialFunc func(ctx context.Context, s Settings) (client, error)

// SMTPMailer delivers messages through a single SMTP relay.
type SMTPMailer struct {
	settings Settings
	dial     dialFunc
}

// NewSMTPMailer validates settings and returns a mailer.
func NewSMTPMailer(s Settings) (*SMTPMailer, error) {
	if s.Enabled {
		if strings.TrimSpace(s.Host) == "" {
			return nil, errors.New("mail: host is required when enabled")
		}
		if s.Port <= 0 {
			return nil, errors.New("mail: port is required when enabled")
		}
	}
	if s.Timeout <= 0 {
		s.Timeout = 10 * time.Second
	}
	if s.From == "" {
		s.From = s.Username
	}
	return &SMTPMailer{settings: s, dial: dialSMTP}, nil
}

// Send delivers msg, honouring ctx for the dial.
func (m *SMTPMailer) Send(ctx context.Context, msg Message) error {
	if !m.settings.Enabled {
		return ErrDisabled
	}

	from := strings.TrimSpace(msg.From)
	if from == "" {
		from = m.settings.From
	}
	if _, err := netmail.ParseAddress(from); err != nil {
		return fmt.Errorf("mail: invalid sender %q: %w", from, err)
	}
	if len(msg.To) == 0 {
		return errors.New("mail: at least one recipient is required")
	}
	for _, rcpt := range msg.To {
		if _, err := netmail.ParseAddress(rcpt); err != nil {
			return fmt.Errorf("mail: invalid recipient %q: %w", rcpt, err)
		}
	}

	c, err := m.dial(ctx, m.settings)
	if err != nil {
		return err
	}
	defer c.Close()

	if m.settings.Username != "" {
		auth := smtp.PlainAuth("", m.settings.Username, m.settings.Password, m.settings.Host)
		if err := c.Auth(auth); err != nil {
			return fmt.Errorf("mail: auth: %w", err)
		}
	}
	if err := c.Mail(from); err != nil {
		return fmt.Errorf("mail: mail from: %w", err)
	}
	for _, rcpt := range msg.To {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("mail: rcpt to %s: %w", rcpt, err)
		}
	}

	wc, err := c.Data()
	if err != nil {
		return fmt.Errorf("mail: data: %w", err)
	}
	if _, err := io.WriteString(wc, render(from, msg)); err != nil {
		wc.Close()
		return fmt.Errorf("mail: write body: %w", err)
	}
	if err := wc.Close(); err != nil {
		return fmt.Errorf("mail: close body: %w", err)
	}
	return c.Quit()
}

func dialSMTP(ctx context.Context, s Settings) (client, error) {
	addr := net.JoinHostPort(s.Host, fmt.Sprint(s.Port))
	dialer := &net.Dialer{Timeout: s.Timeout}
	tlsConfig := &tls.Config{ServerName: s.Host}

	var (
		conn net.Conn
		err  error
	)
	if s.UseSSL {
		conn, err = (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("mail: dial %s: %w", addr, err)
	}
	conn.SetDeadline(time.Now().Add(s.Timeout))

	c, err := smtp.NewClient(conn, s.Host)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("mail: handshake: %w", err)
	}
	if !s.UseSSL {
		if err := startTLS(c, s.UseTLS, tlsConfig); err != nil {
			c.Close()
			return nil, err
		}
	}
	return c, nil
}

// ErrNoStartTLS is returned when STARTTLS is required but not offered.
var ErrNoStartTLS = errors.New("mail: server does not support STARTTLS")

type tlsUpgrader interface {
	Extension(string) (bool, string)
	StartTLS(*tls.Config) error
}

// startTLS upgrades c when the server offers STARTTLS. With required set a
// server that does not offer it is an error.
func startTLS(c tlsUpgrader, required bool, cfg *tls.Config) error {
	if ok, _ := c.Extension("STARTTLS"); !ok {
		if required {
			return ErrNoStartTLS
		}
		return nil
	}
	if err := c.StartTLS(cfg); err != nil {
		return fmt.Errorf("mail: starttls: %w", err)
	}
	return nil
}

const boundary = "access-panel-alt"

// render builds the RFC 5322 message. With both bodies present it emits a
// multipart/alternative document.
func render(from string, msg Message) string {
	var b strings.Builder
	header := func(k, v string) { fmt.Fprintf(&b, "%s: %s\r\n", k, v) }

	header("From", from)
	header("To", strings.Join(msg.To, ", "))
	header("Subject", sanitizeHeader(msg.Subject))
	header("MIME-Version", "1.0")

	switch {
	case msg.HTMLBody != "" && msg.TextBody != "":
		header("Content-Type", `multipart/alternative; boundary="`+boundary+`"`)
		b.WriteString("\r\n")
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.TextBody)
		fmt.Fprintf(&b, "--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n", boundary, msg.HTMLBody)
		fmt.Fprintf(&b, "--%s--\r\n", boundary)
	case msg.HTMLBody != "":
		header("Content-Type", "text/html; charset=UTF-8")
		b.WriteString("\r\n" + msg.HTMLBody)
	default:
		header("Content-Type", "text/plain; charset=UTF-8")
		b.WriteString("\r\n" + msg.TextBody)
	}
	return b.String()
}

func sanitizeHeader(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
