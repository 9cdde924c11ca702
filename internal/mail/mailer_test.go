package mail

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net/smtp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingClient struct {
	authed  bool
	from    string
	rcpts   []string
	body    bytes.Buffer
	quit    bool
	rcptErr error
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }

func (c *recordingClient) Auth(smtp.Auth) error { c.authed = true; return nil }
func (c *recordingClient) Mail(from string) error {
	c.from = from
	return nil
}
func (c *recordingClient) Rcpt(to string) error {
	if c.rcptErr != nil {
		return c.rcptErr
	}
	c.rcpts = append(c.rcpts, to)
	return nil
}
func (c *recordingClient) Data() (io.WriteCloser, error) { return nopCloser{&c.body}, nil }
func (c *recordingClient) Quit() error                   { c.quit = true; return nil }
func (c *recordingClient) Close() error                  { return nil }

func newTestMailer(t *testing.T, rc *recordingClient) *SMTPMailer {
	t.Helper()
	m, err := NewSMTPMailer(Settings{
		Enabled:  true,
		Host:     "smtp.example.com",
		Port:     587,
		Username: "noreply@example.com",
		Password: "pw",
	})
	require.NoError(t, err)
	m.dial = func(context.Context, Settings) (client, error) { return rc, nil }
	return m
}

func TestNewSMTPMailerValidates(t *testing.T) {
	_, err := NewSMTPMailer(Settings{Enabled: true})
	require.ErrorContains(t, err, "host is required")

	_, err = NewSMTPMailer(Settings{Enabled: true, Host: "smtp.example.com"})
	require.ErrorContains(t, err, "port is required")

	m, err := NewSMTPMailer(Settings{Enabled: false})
	require.NoError(t, err)
	require.ErrorIs(t, m.Send(context.Background(), Message{To: []string{"a@example.com"}}), ErrDisabled)
}

func TestSendDeliversMultipart(t *testing.T) {
	rc := &recordingClient{}
	m := newTestMailer(t, rc)

	err := m.Send(context.Background(), Message{
		To:       []string{"alice@example.com"},
		Subject:  "Email Verification",
		TextBody: "plain link",
		HTMLBody: "<a href=\"x\">link</a>",
	})
	require.NoError(t, err)

	assert.True(t, rc.authed)
	assert.True(t, rc.quit)
	assert.Equal(t, "noreply@example.com", rc.from, "sender falls back to the username")
	assert.Equal(t, []string{"alice@example.com"}, rc.rcpts)

	body := rc.body.String()
	assert.Contains(t, body, "Subject: Email Verification\r\n")
	assert.Contains(t, body, "multipart/alternative")
	assert.Contains(t, body, "plain link")
	assert.Contains(t, body, "<a href=\"x\">link</a>")
}

func TestSendRejectsBadAddresses(t *testing.T) {
	m := newTestMailer(t, &recordingClient{})

	err := m.Send(context.Background(), Message{To: nil})
	require.ErrorContains(t, err, "at least one recipient")

	err = m.Send(context.Background(), Message{To: []string{"not an address"}})
	require.ErrorContains(t, err, "invalid recipient")
}

func TestSendPropagatesTransportErrors(t *testing.T) {
	rc := &recordingClient{rcptErr: errors.New("550 mailbox unavailable")}
	m := newTestMailer(t, rc)

	err := m.Send(context.Background(), Message{To: []string{"alice@example.com"}, TextBody: "x"})
	require.ErrorContains(t, err, "550 mailbox unavailable")

	m.dial = func(context.Context, Settings) (client, error) { return nil, errors.New("connection refused") }
	err = m.Send(context.Background(), Message{To: []string{"alice@example.com"}, TextBody: "x"})
	require.ErrorContains(t, err, "connection refused")
}

func TestRenderSanitizesSubject(t *testing.T) {
	out := render("a@example.com", Message{To: []string{"b@example.com"}, Subject: "Hi\r\nBcc: evil@example.com", TextBody: "Body"})
	assert.Contains(t, out, "Subject: Hi  Bcc: evil@example.com\r\n")
	assert.True(t, strings.HasSuffix(out, "Body"))
	assert.Contains(t, out, "text/plain")
}

type upgrader struct {
	offered  bool
	upgraded bool
	err      error
}

func (u *upgrader) Extension(name string) (bool, string) { return u.offered && name == "STARTTLS", "" }
func (u *upgrader) StartTLS(*tls.Config) error {
	if u.err != nil {
		return u.err
	}
	u.upgraded = true
	return nil
}

func TestStartTLS(t *testing.T) {
	cfg := &tls.Config{ServerName: "smtp.example.com"}

	t.Run("required and offered", func(t *testing.T) {
		u := &upgrader{offered: true}
		require.NoError(t, startTLS(u, true, cfg))
		assert.True(t, u.upgraded)
	})

	t.Run("required but not offered", func(t *testing.T) {
		u := &upgrader{}
		require.ErrorIs(t, startTLS(u, true, cfg), ErrNoStartTLS)
		assert.False(t, u.upgraded)
	})

	t.Run("optional and not offered", func(t *testing.T) {
		u := &upgrader{}
		require.NoError(t, startTLS(u, false, cfg))
		assert.False(t, u.upgraded)
	})

	t.Run("optional and offered", func(t *testing.T) {
		u := &upgrader{offered: true}
		require.NoError(t, startTLS(u, false, cfg))
		assert.True(t, u.upgraded)
	})

	t.Run("handshake failure", func(t *testing.T) {
		u := &upgrader{offered: true, err: errors.New("bad certificate")}
		require.ErrorContains(t, startTLS(u, true, cfg), "bad certificate")
	})
}
