// internal/app/system/mailer/mailer.go
package mailer

import (
	"bytes"
	"errors"
	"fmt"
	"mime"
	"mime/multipart"
	"net"
	"net/mail"
	"net/smtp"
	"net/textproto"
	"strconv"

	"go.uber.org/zap"
)

// ErrNotConfigured is returned by Send when no SMTP host or sender is set.
var ErrNotConfigured = errors.New("mailer not configured")

// Config holds the SMTP settings of a Mailer.
type Config struct {
	Host     string
	Port     int
	User     string
	Pass     string
	From     string
	FromName string
}

// Mailer sends email over SMTP. It implements Sender.
type Mailer struct {
	cfg Config
	log *zap.Logger
}

// New creates a Mailer. log may be nil.
func New(cfg Config, log *zap.Logger) *Mailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Mailer{cfg: cfg, log: log}
}

// Enabled reports whether an SMTP host and sender address are configured.
func (m *Mailer) Enabled() bool {
	return m != nil && m.cfg.Host != "" && m.cfg.From != ""
}

// Email is one outgoing message. HTMLBody is optional; when set the message
// is sent as multipart/alternative with TextBody as the fallback.
type Email struct {
	To       string
	Subject  string
	TextBody string
	HTMLBody string
}

// Send delivers email synchronously.
func (m *Mailer) Send(email Email) error {
	if !m.Enabled() {
		return ErrNotConfigured
	}
	to, err := mail.ParseAddress(email.To)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", email.To, err)
	}

	msg, err := m.compose(to, email)
	if err != nil {
		return err
	}

	var auth smtp.Auth
	if m.cfg.User != "" && m.cfg.Pass != "" {
		auth = smtp.PlainAuth("", m.cfg.User, m.cfg.Pass, m.cfg.Host)
	}

	addr := net.JoinHostPort(m.cfg.Host, strconv.Itoa(m.cfg.Port))
	if err := smtp.SendMail(addr, auth, m.cfg.From, []string{to.Address}, msg); err != nil {
		m.log.Error("failed to send email",
			zap.String("to", to.Address),
			zap.String("subject", email.Subject),
			zap.Error(err))
		return fmt.Errorf("failed to send email: %w", err)
	}

	m.log.Info("email sent",
		zap.String("to", to.Address),
		zap.String("subject", email.Subject))
	return nil
}

func (m *Mailer) compose(to *mail.Address, email Email) ([]byte, error) {
	var buf bytes.Buffer
	from := mail.Address{Name: m.cfg.FromName, Address: m.cfg.From}
	fmt.Fprintf(&buf, "From: %s\r\n", from.String())
	fmt.Fprintf(&buf, "To: %s\r\n", to.String())
	fmt.Fprintf(&buf, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", email.Subject))
	buf.WriteString("MIME-Version: 1.0\r\n")

	if email.HTMLBody == "" {
		buf.WriteString("Content-Type: text/plain; charset=UTF-8\r\n\r\n")
		buf.WriteString(email.TextBody)
		return buf.Bytes(), nil
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, part := range []struct{ ctype, content string }{
		{"text/plain; charset=UTF-8", email.TextBody},
		{"text/html; charset=UTF-8", email.HTMLBody},
	} {
		pw, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {part.ctype}})
		if err != nil {
			return nil, err
		}
		if _, err := pw.Write([]byte(part.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	fmt.Fprintf(&buf, "Content-Type: multipart/alternative; boundary=%q\r\n\r\n", mw.Boundary())
	buf.Write(body.Bytes())
	return buf.Bytes(), nil
}
