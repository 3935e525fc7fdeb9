// internal/app/bootstrap/config.go
package bootstrap

import (
	"errors"
	"fmt"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// EnvVarPrefix is the prefix for environment variables.
const EnvVarPrefix = "STRATABOOK"

// appConfigKeys defines the configuration keys for this application.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, transaction_retry_limit, etc.
//   - Environment variables: STRATABOOK_MONGO_URI, STRATABOOK_TRANSACTION_RETRY_LIMIT, etc.
//   - Command-line flags: --mongo_uri, --transaction_retry_limit, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "stratabook", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "stratabook-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},
	{Name: "session_max_age", Default: "24h", Desc: "Session cookie max age (e.g., 24h, 720h, 30m)"},

	{Name: "csrf_key", Default: "dev-only-csrf-key-please-change-0123456789", Desc: "CSRF token signing key (32+ chars in production)"},

	// Account operations
	{Name: "transaction_retry_limit", Default: 3, Desc: "Extra attempts after a conflicted account transaction (0 = run once)"},
	{Name: "password_pepper", Default: "dev-only-pepper-change-me", Desc: "Server-side secret mixed into password digests (changing it invalidates every stored password)"},
	{Name: "max_failed_auth", Default: 3, Desc: "Consecutive failed sign-ins before an account is blocked (0 disables)"},
	{Name: "forgot_password_expiry", Default: "30m", Desc: "Lifetime of a forgot-password token (e.g., 30m, 2h)"},
	{Name: "forgot_password_cleanup_interval", Default: "1h", Desc: "How often expired forgot-password tokens are purged"},

	// Email/SMTP configuration. Leave mail_smtp_host empty to log notifications instead of sending them.
	{Name: "mail_smtp_host", Default: "localhost", Desc: "SMTP server host"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@example.com", Desc: "From email address"},
	{Name: "mail_from_name", Default: "StrataBook", Desc: "From display name"},
	{Name: "mail_contact", Default: "", Desc: "Address blocked account holders are told to contact"},

	// Base URL for email links (confirmation, password reset)
	{Name: "base_url", Default: "http://localhost:8080", Desc: "Base URL for email links"},

	// Time budgets
	{Name: "timeout_ping", Default: "2s", Desc: "Health and readiness probe timeout"},
	{Name: "timeout_notify", Default: "30s", Desc: "Timeout for sending one notification email"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, STRATABOOK_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, EnvVarPrefix, appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),
		SessionKey:       appValues.String("session_key"),
		SessionName:      appValues.String("session_name"),
		SessionDomain:    appValues.String("session_domain"),
		SessionMaxAge:    appValues.Duration("session_max_age", 24*time.Hour),

		CSRFKey: appValues.String("csrf_key"),

		// Account operations
		TransactionRetryLimit:         appValues.Int("transaction_retry_limit"),
		PasswordPepper:                appValues.String("password_pepper"),
		MaxFailedAuth:                 appValues.Int("max_failed_auth"),
		ForgotPasswordExpiry:          appValues.Duration("forgot_password_expiry", 30*time.Minute),
		ForgotPasswordCleanupInterval: appValues.Duration("forgot_password_cleanup_interval", time.Hour),

		// Email/SMTP
		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),
		MailContact:  appValues.String("mail_contact"),

		BaseURL: appValues.String("base_url"),

		TimeoutPing:   appValues.Duration("timeout_ping", 2*time.Second),
		TimeoutNotify: appValues.Duration("timeout_notify", 30*time.Second),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	var problems []error
	if appCfg.TransactionRetryLimit < 0 {
		problems = append(problems, fmt.Errorf("transaction_retry_limit must be >= 0, got %d", appCfg.TransactionRetryLimit))
	}
	if appCfg.MaxFailedAuth < 0 {
		problems = append(problems, fmt.Errorf("max_failed_auth must be >= 0, got %d", appCfg.MaxFailedAuth))
	}
	if appCfg.ForgotPasswordExpiry <= 0 {
		problems = append(problems, errors.New("forgot_password_expiry must be positive"))
	}
	if appCfg.PasswordPepper == "" {
		problems = append(problems, errors.New("password_pepper must not be empty"))
	}
	if err := errors.Join(problems...); err != nil {
		logger.Error("invalid account configuration", zap.Error(err))
		return err
	}

	if coreCfg != nil && coreCfg.Env == "prod" && appCfg.PasswordPepper == "dev-only-pepper-change-me" {
		logger.Warn("password_pepper is still the development default")
	}

	return nil
}
