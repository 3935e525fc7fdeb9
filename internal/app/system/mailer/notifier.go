// internal/app/system/mailer/notifier.go
package mailer

import (
	"context"
	"net/url"
	"time"

	"go.uber.org/zap"
)

// Sender delivers a single email. *Mailer is the SMTP implementation.
type Sender interface {
	Send(email Email) error
}

// Recipient is who an account notification goes to.
type Recipient struct {
	Email string
	Name  string
}

// Notifier sends the account lifecycle emails. Every method is safe to call
// from a detached goroutine; callers only log the returned error.
type Notifier interface {
	NotifyBlocked(ctx context.Context, to Recipient) error
	NotifyUnlocked(ctx context.Context, to Recipient) error
	NotifyConfirmation(ctx context.Context, to Recipient, token string) error
	NotifyPasswordReset(ctx context.Context, to Recipient, token string) error
}

// NotifierConfig configures the links and wording of account emails.
type NotifierConfig struct {
	AppName      string
	BaseURL      string
	ContactEmail string
	ResetExpiry  time.Duration
}

// MailNotifier renders the account templates and hands them to a Sender.
type MailNotifier struct {
	sender Sender
	cfg    NotifierConfig
	log    *zap.Logger
}

// NewNotifier returns a Notifier that sends through sender.
func NewNotifier(sender Sender, cfg NotifierConfig, log *zap.Logger) *MailNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.AppName == "" {
		cfg.AppName = "StrataBook"
	}
	return &MailNotifier{sender: sender, cfg: cfg, log: log}
}

func (n *MailNotifier) NotifyBlocked(ctx context.Context, to Recipient) error {
	text, html := AccountBlockedEmail(AccountBlockedEmailData{
		AppName:      n.cfg.AppName,
		UserName:     to.Name,
		ContactEmail: n.cfg.ContactEmail,
	})
	return n.send(ctx, to, n.cfg.AppName+": your account has been blocked", text, html)
}

func (n *MailNotifier) NotifyUnlocked(ctx context.Context, to Recipient) error {
	text, html := AccountUnlockedEmail(AccountUnlockedEmailData{
		AppName:  n.cfg.AppName,
		UserName: to.Name,
		LoginURL: n.link("/login", nil),
	})
	return n.send(ctx, to, n.cfg.AppName+": your account has been unlocked", text, html)
}

func (n *MailNotifier) NotifyConfirmation(ctx context.Context, to Recipient, token string) error {
	text, html := ConfirmAccountEmail(ConfirmAccountEmailData{
		AppName:    n.cfg.AppName,
		UserName:   to.Name,
		ConfirmURL: n.link("/confirm", url.Values{"token": {token}}),
	})
	return n.send(ctx, to, "Confirm your "+n.cfg.AppName+" account", text, html)
}

func (n *MailNotifier) NotifyPasswordReset(ctx context.Context, to Recipient, token string) error {
	text, html := PasswordResetEmail(PasswordResetEmailData{
		AppName:   n.cfg.AppName,
		ResetURL:  n.link("/reset-password", url.Values{"token": {token}}),
		ExpiryMin: int(n.cfg.ResetExpiry.Minutes()),
	})
	return n.send(ctx, to, "Reset your "+n.cfg.AppName+" password", text, html)
}

func (n *MailNotifier) send(ctx context.Context, to Recipient, subject, text, html string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return n.sender.Send(Email{
		To:       to.Email,
		Subject:  subject,
		TextBody: text,
		HTMLBody: html,
	})
}

// link joins path onto the configured base URL.
func (n *MailNotifier) link(path string, q url.Values) string {
	u, err := url.Parse(n.cfg.BaseURL)
	if err != nil || n.cfg.BaseURL == "" {
		u = &url.URL{}
	}
	u = u.JoinPath(path)
	if q != nil {
		u.RawQuery = q.Encode()
	}
	return u.String()
}

// Discard is a Notifier that sends nothing. It is used when no SMTP host is configured.
type Discard struct {
	Log *zap.Logger
}

func (d Discard) NotifyBlocked(ctx context.Context, to Recipient) error {
	d.skip("blocked", to)
	return nil
}

func (d Discard) NotifyUnlocked(ctx context.Context, to Recipient) error {
	d.skip("unlocked", to)
	return nil
}

func (d Discard) NotifyConfirmation(ctx context.Context, to Recipient, token string) error {
	d.skip("confirmation", to)
	return nil
}

func (d Discard) NotifyPasswordReset(ctx context.Context, to Recipient, token string) error {
	d.skip("password_reset", to)
	return nil
}

func (d Discard) skip(kind string, to Recipient) {
	if d.Log != nil {
		d.Log.Debug("mail disabled, notification dropped",
			zap.String("kind", kind), zap.String("to", to.Email))
	}
}
