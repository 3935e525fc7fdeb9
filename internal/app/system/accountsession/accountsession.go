// Package accountsession keeps the "current account" of a client session: the
// account the client last looked up, which later operations in the same
// session act on. The reference is a cache only. Operations still receive the
// account id explicitly, and the store's version check is what protects
// concurrent writes; two requests racing on one session simply leave the last
// written reference in place.
package accountsession

// Terminology: Account Identifiers
//   - AccountID / accountID / account_id: the numeric _id assigned by the store on creation
//   - Login / login: the human-readable, immutable string the account signs in with

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/dalemusser/stratabook/internal/domain/models"
	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"go.uber.org/zap"
)

// Session error classification for logging and monitoring.
type sessionErrorType int

const (
	sessionErrUnknown   sessionErrorType = iota
	sessionErrExpired                    // timestamp expired - normal
	sessionErrTampered                   // MAC invalid - potential attack
	sessionErrCorrupted                  // decode/decrypt failed - corruption or key rotation
	sessionErrBackend                    // store/backend failure
)

/*─────────────────────────────────────────────────────────────────────────────*
| Session constants                                                           |
*─────────────────────────────────────────────────────────────────────────────*/

const (
	accountIDKey      = "current_account_id"
	accountLoginKey   = "current_account_login"
	accountVersionKey = "current_account_version"
)

/*─────────────────────────────────────────────────────────────────────────────*
| Manager                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

// Manager stores the current-account reference in a signed cookie session.
type Manager struct {
	store  *sessions.CookieStore
	logger *zap.Logger
	name   string
}

// NewManager creates a Manager.
//
// Parameters:
//   - sessionKey: signing key for cookies (must be ≥32 chars in production)
//   - name: session cookie name (defaults to "stratabook-session" if empty)
//   - domain: cookie domain (empty means current host)
//   - maxAge: session cookie lifetime (e.g., 24*time.Hour)
//   - secure: if true, cookies are Secure and weak keys are refused
//   - logger: zap logger for session error logging
func NewManager(sessionKey, name, domain string, maxAge time.Duration, secure bool, logger *zap.Logger) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sessionKey == "" {
		return nil, &ConfigError{Message: "session key is empty; provide ≥32 random chars"}
	}

	isWeak := len(sessionKey) < 32 || isDefaultKey(sessionKey)
	if secure && isWeak {
		return nil, &ConfigError{
			Message: "session key is too weak for production; provide ≥32 random chars (not the default dev key)",
		}
	} else if isWeak {
		logger.Warn("session key is weak; 32+ random chars required in production",
			zap.Int("length", len(sessionKey)),
			zap.Bool("is_default", isDefaultKey(sessionKey)))
	}

	if name == "" {
		name = "stratabook-session"
	}

	store := sessions.NewCookieStore([]byte(sessionKey))
	store.Options = &sessions.Options{
		Domain:   domain,
		Path:     "/",
		MaxAge:   int(maxAge.Seconds()),
		Secure:   secure,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}

	logger.Info("account session manager initialized",
		zap.Bool("secure", secure),
		zap.String("name", name),
		zap.String("domain", domain))

	return &Manager{store: store, logger: logger, name: name}, nil
}

// ConfigError is returned when session configuration is invalid.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// Name returns the configured session cookie name.
func (m *Manager) Name() string {
	return m.name
}

/*─────────────────────────────────────────────────────────────────────────────*
| Current account                                                             |
*─────────────────────────────────────────────────────────────────────────────*/

// Current is the session's reference to an account. Version is the version
// seen at lookup time and is informational only.
type Current struct {
	ID      int64  `json:"id"`
	Login   string `json:"login"`
	Version int64  `json:"version"`
}

// Remember replaces the session's current account with a.
func (m *Manager) Remember(w http.ResponseWriter, r *http.Request, a models.Account) error {
	sess := m.session(r)
	sess.Values[accountIDKey] = a.ID
	sess.Values[accountLoginKey] = a.Login
	sess.Values[accountVersionKey] = a.Version
	return sess.Save(r, w)
}

// Current returns the session's current account, if any. Values loaded by the
// Load middleware take precedence over the cookie.
func (m *Manager) Current(r *http.Request) (Current, bool) {
	if c, ok := FromContext(r.Context()); ok {
		return c, true
	}
	return m.read(m.session(r))
}

// Forget clears the session's current account.
func (m *Manager) Forget(w http.ResponseWriter, r *http.Request) {
	sess := m.session(r)
	delete(sess.Values, accountIDKey)
	delete(sess.Values, accountLoginKey)
	delete(sess.Values, accountVersionKey)
	if err := sess.Save(r, w); err != nil {
		m.logger.Warn("failed to clear current account", zap.Error(err))
	}
}

func (m *Manager) read(sess *sessions.Session) (Current, bool) {
	id, ok := sess.Values[accountIDKey].(int64)
	if !ok || id == 0 {
		return Current{}, false
	}
	login, _ := sess.Values[accountLoginKey].(string)
	version, _ := sess.Values[accountVersionKey].(int64)
	return Current{ID: id, Login: login, Version: version}, true
}

// session returns the request's session, starting a fresh one when the
// cookie cannot be decoded.
func (m *Manager) session(r *http.Request) *sessions.Session {
	sess, err := m.store.Get(r, m.name)
	if err != nil {
		m.logSessionError(r, err)
	}
	return sess
}

func (m *Manager) logSessionError(r *http.Request, err error) {
	errType, errCategory := classifySessionError(err)
	switch errType {
	case sessionErrExpired:
		m.logger.Debug("session expired, starting fresh session",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path))
	case sessionErrTampered:
		m.logger.Warn("session MAC validation failed (possible tampering)",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr))
	case sessionErrCorrupted:
		m.logger.Info("session decode failed, starting fresh session",
			zap.String("category", errCategory),
			zap.String("path", r.URL.Path))
	default:
		m.logger.Error("session store error, starting fresh session",
			zap.Error(err),
			zap.String("path", r.URL.Path))
	}
}

/*─────────────────────────────────────────────────────────────────────────────*
| Middleware                                                                  |
*─────────────────────────────────────────────────────────────────────────────*/

type ctxKey string

const currentKey ctxKey = "currentAccount"

// FromContext returns the current account placed by Load or WithCurrent.
func FromContext(ctx context.Context) (Current, bool) {
	c, ok := ctx.Value(currentKey).(Current)
	return c, ok
}

// WithCurrent returns a copy of ctx carrying c.
func WithCurrent(ctx context.Context, c Current) context.Context {
	return context.WithValue(ctx, currentKey, c)
}

// Load returns middleware that reads the current account once per request
// and puts it in the request context.
func (m *Manager) Load(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := m.read(m.session(r)); ok {
			r = r.WithContext(WithCurrent(r.Context(), c))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireCurrent returns middleware that rejects requests with no current
// account with 428 Precondition Required.
func (m *Manager) RequireCurrent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := m.Current(r); !ok {
			http.Error(w, "no current account; look one up first", http.StatusPreconditionRequired)
			return
		}
		next.ServeHTTP(w, r)
	})
}

/*─────────────────────────────────────────────────────────────────────────────*
| Helpers                                                                     |
*─────────────────────────────────────────────────────────────────────────────*/

// isDefaultKey checks if the session key appears to be a default/placeholder value.
func isDefaultKey(key string) bool {
	lower := strings.ToLower(key)
	patterns := []string{
		"dev-only",
		"change-me",
		"placeholder",
		"default",
		"example",
		"insecure",
		"test-key",
		"secret123",
		"password",
	}
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// classifySessionError categorizes a session/cookie error for appropriate logging.
func classifySessionError(err error) (sessionErrorType, string) {
	if err == nil {
		return sessionErrUnknown, "none"
	}

	errStr := strings.ToLower(err.Error())

	if scErr, ok := err.(securecookie.Error); ok {
		if !scErr.IsDecode() {
			return sessionErrBackend, "backend"
		}

		switch {
		case strings.Contains(errStr, "expired timestamp"):
			return sessionErrExpired, "expired"
		case strings.Contains(errStr, "mac") || strings.Contains(errStr, "hash"):
			return sessionErrTampered, "mac_invalid"
		case strings.Contains(errStr, "decrypt"):
			return sessionErrCorrupted, "decrypt_failed"
		case strings.Contains(errStr, "base64") || strings.Contains(errStr, "decode"):
			return sessionErrCorrupted, "decode_failed"
		default:
			return sessionErrCorrupted, "decode_other"
		}
	}

	return sessionErrBackend, "unknown"
}
