// internal/app/bootstrap/routes.go
package bootstrap

import (
	"net/http"
	"time"

	accountsfeature "github.com/dalemusser/stratabook/internal/app/features/accounts"
	healthfeature "github.com/dalemusser/stratabook/internal/app/features/health"
	accountstore "github.com/dalemusser/stratabook/internal/app/store/accounts"
	"github.com/dalemusser/stratabook/internal/app/store/forgotpassword"
	"github.com/dalemusser/stratabook/internal/app/store/passwordhistory"
	"github.com/dalemusser/stratabook/internal/app/system/accountmgr"
	"github.com/dalemusser/stratabook/internal/app/system/accountops"
	"github.com/dalemusser/stratabook/internal/app/system/accountsession"
	"github.com/dalemusser/stratabook/internal/app/system/authutil"
	"github.com/dalemusser/stratabook/internal/app/system/jsonutil"
	"github.com/dalemusser/stratabook/internal/app/system/mailer"
	"github.com/dalemusser/stratabook/internal/app/system/retry"
	"github.com/dalemusser/stratabook/internal/app/system/txn"
	"github.com/dalemusser/waffle/config"
	"github.com/dalemusser/waffle/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/csrf"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// The account API is mounted at /api/accounts behind session and CSRF
// middleware. Health probes and Prometheus metrics sit at the root.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	sessionMgr, err := accountsession.NewManager(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, appCfg.SessionMaxAge, secure, logger)
	if err != nil {
		logger.Error("session manager init failed", zap.Error(err))
		return nil, err
	}

	ops, err := newAccountOps(deps.MongoDatabase, appCfg, newNotifier(appCfg, deps.Mailer, logger), logger)
	if err != nil {
		logger.Error("account operations init failed", zap.Error(err))
		return nil, err
	}

	r := chi.NewRouter()

	// ─────────────────────────────────────────────────────────────────────────────
	// Global Middleware (applies to ALL routes)
	// ─────────────────────────────────────────────────────────────────────────────

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)

	// Request timeout middleware: prevents requests from hanging indefinitely.
	r.Use(chimw.Timeout(30 * time.Second))

	// CORS middleware: must be early in the chain to handle preflight requests.
	r.Use(middleware.CORSFromConfig(coreCfg))

	// Security headers middleware: adds X-Frame-Options, X-Content-Type-Options, etc.
	r.Use(middleware.SecurityHeadersFromConfig(coreCfg))

	// ─────────────────────────────────────────────────────────────────────────────
	// Routes
	// ─────────────────────────────────────────────────────────────────────────────

	// Health check endpoints for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoDatabase, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))
	healthfeature.MountRootEndpoints(r, healthHandler)

	r.Handle("/metrics", promhttp.Handler())

	// Account API. Every state-changing request must carry the token from
	// GET /api/accounts/csrf-token in the X-CSRF-Token header.
	accountsHandler := accountsfeature.NewHandler(ops, sessionMgr, logger)
	r.Route("/api/accounts", func(r chi.Router) {
		r.Use(csrfProtect(appCfg, secure, logger))
		r.Mount("/", accountsfeature.Routes(accountsHandler))
	})

	// 404 catch-all for unmatched routes
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		jsonutil.NotFound(w, "not found")
	})

	return r, nil
}

// newAccountOps assembles stores, the account service and the retry executor.
func newAccountOps(db *mongo.Database, appCfg AppConfig, notifier mailer.Notifier, logger *zap.Logger) (*accountops.Ops, error) {
	metrics, err := retry.NewMetrics(retry.MetricsOptions{})
	if err != nil {
		return nil, err
	}

	svc := accountmgr.New(
		accountstore.New(db),
		passwordhistory.New(db),
		forgotpassword.New(db, appCfg.ForgotPasswordExpiry),
	)
	exec := retry.New(appCfg.TransactionRetryLimit, txn.New(db, logger), logger, metrics)
	logger.Info("account operations ready", zap.Int("transaction_retry_limit", exec.Limit()))

	return accountops.New(exec, svc, authutil.NewHasher(appCfg.PasswordPepper), notifier, logger,
		accountops.Config{MaxFailedAuth: appCfg.MaxFailedAuth}), nil
}

// newNotifier mails notifications when SMTP is configured and otherwise only
// logs them.
func newNotifier(appCfg AppConfig, mail *mailer.Mailer, logger *zap.Logger) mailer.Notifier {
	if mail == nil || !mail.Enabled() {
		return mailer.Discard{Log: logger}
	}
	return mailer.NewNotifier(mail, mailer.NotifierConfig{
		AppName:      appCfg.MailFromName,
		BaseURL:      appCfg.BaseURL,
		ContactEmail: appCfg.MailContact,
		ResetExpiry:  appCfg.ForgotPasswordExpiry,
	}, logger)
}

// csrfProtect builds the CSRF middleware for the account API.
// Cookie name is "stratabook_csrf" to avoid collisions with other services
// on the same domain.
func csrfProtect(appCfg AppConfig, secure bool, logger *zap.Logger) func(http.Handler) http.Handler {
	opts := []csrf.Option{
		csrf.Secure(secure),
		csrf.Path("/"),
		csrf.CookieName("stratabook_csrf"),
		csrf.RequestHeader("X-CSRF-Token"),
		csrf.SameSite(csrf.SameSiteLaxMode),
		csrf.ErrorHandler(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			logger.Warn("CSRF validation failed",
				zap.String("path", req.URL.Path),
				zap.String("method", req.Method),
				zap.String("reason", csrf.FailureReason(req).Error()),
			)
			jsonutil.Forbidden(w, "CSRF token invalid or missing")
		})),
	}
	// In dev mode, trust localhost origins for CSRF validation.
	if !secure {
		opts = append(opts, csrf.TrustedOrigins([]string{
			"localhost:8080",
			"localhost:3000",
			"127.0.0.1:8080",
			"127.0.0.1:3000",
		}))
	}
	if appCfg.SessionDomain != "" {
		opts = append(opts, csrf.Domain(appCfg.SessionDomain))
	}
	protect := csrf.Protect([]byte(appCfg.CSRFKey), opts...)
	if secure {
		return protect
	}
	// Outside prod the server is reached over plain HTTP, so the Referer
	// check that assumes TLS is switched off.
	return func(next http.Handler) http.Handler {
		h := protect(next)
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			h.ServeHTTP(w, csrf.PlaintextHTTPRequest(req))
		})
	}
}
