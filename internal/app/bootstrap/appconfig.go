// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). WAFFLE's CoreConfig covers the
// framework side (ports, TLS, logging, CORS); everything here is specific to
// the account service.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64 // Maximum connections in pool (default: 100)
	MongoMinPoolSize uint64 // Minimum connections to keep warm (default: 10)

	// Session management configuration
	SessionKey    string        // Secret key for signing session cookies (must be strong in production)
	SessionName   string        // Cookie name for sessions (default: stratabook-session)
	SessionDomain string        // Cookie domain (blank means current host)
	SessionMaxAge time.Duration // Maximum session cookie lifetime (default: 24h)

	// CSRF protection configuration
	CSRFKey string // Secret key for CSRF token signing (32 bytes, must be strong in production)

	// Account operations
	TransactionRetryLimit         int           // Extra attempts after a conflict (default: 3)
	PasswordPepper                string        // Server-side secret in every password digest
	MaxFailedAuth                 int           // Failed sign-ins before blocking (default: 3, 0 disables)
	ForgotPasswordExpiry          time.Duration // Forgot-password token lifetime (default: 30m)
	ForgotPasswordCleanupInterval time.Duration // Expired token purge interval (default: 1h)

	// Email/SMTP configuration
	MailSMTPHost string // SMTP server host (e.g., localhost for Mailpit); empty disables sending
	MailSMTPPort int    // SMTP server port (e.g., 1025 for Mailpit, 587 for SES)
	MailSMTPUser string // SMTP username
	MailSMTPPass string // SMTP password
	MailFrom     string // From email address (e.g., noreply@example.com)
	MailFromName string // From display name (e.g., StrataBook)
	MailContact  string // Contact address quoted in account-blocked emails

	// Base URL for email links (confirmation, password reset)
	BaseURL string // e.g., "https://example.com" or "http://localhost:3000"

	// Time budgets
	TimeoutPing   time.Duration // Health probe timeout (default: 2s)
	TimeoutNotify time.Duration // Single notification send timeout (default: 30s)
}
