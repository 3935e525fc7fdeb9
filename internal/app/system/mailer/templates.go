// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"html/template"
	"strconv"
)

// ConfirmAccountEmailData contains the data for a new-account confirmation email.
type ConfirmAccountEmailData struct {
	AppName    string
	UserName   string
	ConfirmURL string
}

// PasswordResetEmailData contains the data for a password reset email.
type PasswordResetEmailData struct {
	AppName   string
	ResetURL  string
	ExpiryMin int
}

// AccountBlockedEmailData contains the data for an account blocked notification.
type AccountBlockedEmailData struct {
	AppName      string
	UserName     string
	ContactEmail string
}

// AccountUnlockedEmailData contains the data for an account unlocked notification.
type AccountUnlockedEmailData struct {
	AppName  string
	UserName string
	LoginURL string
}

// ConfirmAccountEmail generates both plain text and HTML versions of a confirmation email.
func ConfirmAccountEmail(data ConfirmAccountEmailData) (textBody, htmlBody string) {
	textBody = "Hello " + data.UserName + ",\n\n" +
		"Thanks for registering with " + data.AppName + ".\n\n" +
		"Confirm your account by opening the link below:\n\n" +
		data.ConfirmURL + "\n\n" +
		"If you did not create this account, you can ignore this email."
	return textBody, execute(confirmHTMLTmpl, data)
}

// PasswordResetEmail generates both plain text and HTML versions of a password reset email.
func PasswordResetEmail(data PasswordResetEmailData) (textBody, htmlBody string) {
	textBody = "You requested a password reset for your " + data.AppName + " account.\n\n" +
		"Click the link below to reset your password:\n\n" +
		data.ResetURL + "\n\n" +
		"This link will expire in " + strconv.Itoa(data.ExpiryMin) + " minutes.\n\n" +
		"If you did not request this, you can safely ignore this email."
	return textBody, execute(resetHTMLTmpl, data)
}

// AccountBlockedEmail generates both plain text and HTML versions of an account blocked notification.
func AccountBlockedEmail(data AccountBlockedEmailData) (textBody, htmlBody string) {
	textBody = "Hello " + data.UserName + ",\n\n" +
		"Your " + data.AppName + " account has been blocked.\n\n" +
		"If you believe this was done in error, please contact your administrator"
	if data.ContactEmail != "" {
		textBody += " at " + data.ContactEmail
	}
	textBody += "."
	return textBody, execute(blockedHTMLTmpl, data)
}

// AccountUnlockedEmail generates both plain text and HTML versions of an account unlocked notification.
func AccountUnlockedEmail(data AccountUnlockedEmailData) (textBody, htmlBody string) {
	textBody = "Hello " + data.UserName + ",\n\n" +
		"Your " + data.AppName + " account has been unlocked.\n\n" +
		"You can log in again at:\n" + data.LoginURL
	return textBody, execute(unlockedHTMLTmpl, data)
}

func execute(t *template.Template, data any) string {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return ""
	}
	return buf.String()
}

// layoutHTML is the shared frame; each email defines "title" and "content".
const layoutHTML = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>{{template "title" .}}</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, 'Helvetica Neue', Arial, sans-serif; background-color: #f4f4f5;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f4f4f5;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px;">
          <tr>
            <td style="padding: 32px 32px 24px 32px; text-align: center; border-bottom: 1px solid #e4e4e7;">
              <h1 style="margin: 0; font-size: 24px; font-weight: 600; color: #18181b;">{{.AppName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px; font-size: 15px; line-height: 1.6; color: #52525b;">
              <h2 style="margin: 0 0 16px 0; font-size: 20px; font-weight: 600; color: #18181b;">{{template "title" .}}</h2>
              {{template "content" .}}
            </td>
          </tr>
          <tr>
            <td style="padding: 24px 32px; background-color: #fafafa; border-top: 1px solid #e4e4e7; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #a1a1aa; text-align: center;">
                This is an automated notification from {{.AppName}}.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`

const buttonHTML = `{{define "button"}}<p style="text-align: center; padding: 8px 0 24px 0;">
  <a href="{{.URL}}" style="display: inline-block; padding: 14px 32px; background-color: #4f46e5; color: #ffffff; text-decoration: none; font-weight: 600; border-radius: 6px;">{{.Label}}</a>
</p>{{end}}`

func page(name, body string) *template.Template {
	return template.Must(template.New(name).Funcs(template.FuncMap{
		"button": func(url, label string) map[string]string {
			return map[string]string{"URL": url, "Label": label}
		},
	}).Parse(layoutHTML + buttonHTML + body))
}

var confirmHTMLTmpl = page("confirm_account", `
{{define "title"}}Confirm Your Account{{end}}
{{define "content"}}
<p>Hello {{.UserName}},</p>
<p>Thanks for registering. Confirm your account to finish setting it up.</p>
{{template "button" button .ConfirmURL "Confirm Account"}}
<p style="font-size: 12px; word-break: break-all;">{{.ConfirmURL}}</p>
{{end}}`)

var resetHTMLTmpl = page("password_reset", `
{{define "title"}}Reset Your Password{{end}}
{{define "content"}}
<p>You requested a password reset for your account. Click the button below to choose a new password.</p>
{{template "button" button .ResetURL "Reset Password"}}
<p>This link will expire in <strong>{{.ExpiryMin}} minutes</strong>.</p>
<p>If you didn't request this password reset, you can safely ignore this email.</p>
{{end}}`)

var blockedHTMLTmpl = page("account_blocked", `
{{define "title"}}Account Blocked{{end}}
{{define "content"}}
<p>Hello {{.UserName}},</p>
<p>Your {{.AppName}} account has been blocked.</p>
<p>If you believe this was done in error, please contact your administrator{{if .ContactEmail}} at <a href="mailto:{{.ContactEmail}}" style="color: #4f46e5;">{{.ContactEmail}}</a>{{end}}.</p>
{{end}}`)

var unlockedHTMLTmpl = page("account_unlocked", `
{{define "title"}}Account Unlocked{{end}}
{{define "content"}}
<p>Hello {{.UserName}},</p>
<p>Your {{.AppName}} account has been unlocked. You can log in again.</p>
{{template "button" button .LoginURL "Log In"}}
{{end}}`)
