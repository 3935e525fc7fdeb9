// Package accounts exposes the account operations as a JSON API.
//
// A client first looks an account up (or authenticates); the account found
// becomes the session's current account and the /current endpoints act on
// it. Every response that returns an account also refreshes the current
// reference.
package accounts

import (
	"errors"
	"net"
	"net/http"
	"strconv"

	"github.com/dalemusser/stratabook/internal/app/store/storeutil"
	"github.com/dalemusser/stratabook/internal/app/system/accountmgr"
	"github.com/dalemusser/stratabook/internal/app/system/accountops"
	"github.com/dalemusser/stratabook/internal/app/system/accountsession"
	"github.com/dalemusser/stratabook/internal/app/system/inputval"
	"github.com/dalemusser/stratabook/internal/app/system/jsonutil"
	"github.com/dalemusser/stratabook/internal/app/system/retry"
	"github.com/dalemusser/stratabook/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/query"
	"github.com/gorilla/csrf"
	"go.uber.org/zap"
)

// Handler serves the account API.
type Handler struct {
	ops      *accountops.Ops
	sessions *accountsession.Manager
	logger   *zap.Logger
}

// NewHandler creates a new accounts handler.
func NewHandler(ops *accountops.Ops, sessions *accountsession.Manager, logger *zap.Logger) *Handler {
	return &Handler{ops: ops, sessions: sessions, logger: logger}
}

type listResponse struct {
	Accounts []models.Account `json:"accounts"`
	Page     int64            `json:"page"`
	PerPage  int64            `json:"per_page"`
}

// Create handles POST /api/accounts.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var in accountops.CreateInput
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	a, err := h.ops.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, "create", err)
		return
	}
	h.remember(w, r, &a)
	jsonutil.Created(w, a)
}

// List handles GET /api/accounts?q=&page=&per_page=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	lo := accountops.ListOptions{
		Page:    queryInt(r, "page"),
		PerPage: queryInt(r, "per_page"),
	}

	var (
		list []models.Account
		err  error
	)
	if q := query.Get(r, "q"); q != "" {
		list, err = h.ops.Filter(r.Context(), q, lo)
	} else {
		list, err = h.ops.List(r.Context(), lo)
	}
	if err != nil {
		h.writeError(w, r, "list", err)
		return
	}

	// echo the effective paging
	opts := storeutil.Paginate(lo.PerPage, lo.Page)
	resp := listResponse{Accounts: list, PerPage: *opts.Limit, Page: *opts.Skip / *opts.Limit + 1}
	jsonutil.OK(w, resp)
}

// LookupByLogin handles POST /api/accounts/lookup/login.
func (h *Handler) LookupByLogin(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Login string `json:"login"`
	}
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	h.respond(w, r, "lookup_by_login")(h.ops.LookupByLogin(r.Context(), in.Login))
}

// LookupByEmail handles POST /api/accounts/lookup/email.
func (h *Handler) LookupByEmail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	h.respond(w, r, "lookup_by_email")(h.ops.LookupByEmail(r.Context(), in.Email))
}

// LookupByToken handles POST /api/accounts/lookup/token.
func (h *Handler) LookupByToken(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token string `json:"token"`
	}
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	h.respond(w, r, "lookup_by_token")(h.ops.LookupByToken(r.Context(), in.Token))
}

// Authenticate handles POST /api/accounts/authenticate.
func (h *Handler) Authenticate(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	h.respond(w, r, "authenticate")(h.ops.Authenticate(r.Context(), in.Login, in.Password, clientIP(r)))
}

// Current handles GET /api/accounts/current. The account is reloaded so the
// response shows its latest version.
func (h *Handler) Current(w http.ResponseWriter, r *http.Request) {
	c, _ := h.sessions.Current(r)
	h.respond(w, r, "current")(h.ops.Get(r.Context(), c.ID))
}

// Forget handles DELETE /api/accounts/current.
func (h *Handler) Forget(w http.ResponseWriter, r *http.Request) {
	h.sessions.Forget(w, r)
	jsonutil.NoContent(w)
}

// Confirm handles POST /api/accounts/current/confirm.
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	c, _ := h.sessions.Current(r)
	h.respond(w, r, "confirm")(h.ops.Confirm(r.Context(), c.ID))
}

type passwordInput struct {
	Password string `json:"password"`
}

// ChangeOwnPassword handles POST /api/accounts/current/password.
func (h *Handler) ChangeOwnPassword(w http.ResponseWriter, r *http.Request) {
	var in passwordInput
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	c, _ := h.sessions.Current(r)
	h.respond(w, r, "change_own_password")(h.ops.ChangeOwnPassword(r.Context(), c.ID, in.Password))
}

// ChangeOtherPassword handles POST /api/accounts/current/reset-password.
func (h *Handler) ChangeOtherPassword(w http.ResponseWriter, r *http.Request) {
	var in passwordInput
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	c, _ := h.sessions.Current(r)
	h.respond(w, r, "change_other_password")(h.ops.ChangeOtherPassword(r.Context(), c.ID, in.Password))
}

// EditProfile handles POST /api/accounts/current/profile.
func (h *Handler) EditProfile(w http.ResponseWriter, r *http.Request) {
	var patch models.ProfilePatch
	if err := jsonutil.DecodeStrict(w, r, &patch); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	c, _ := h.sessions.Current(r)
	h.respond(w, r, "edit_profile")(h.ops.EditProfile(r.Context(), c.ID, patch))
}

// Block handles POST /api/accounts/current/block.
func (h *Handler) Block(w http.ResponseWriter, r *http.Request) {
	c, _ := h.sessions.Current(r)
	h.respond(w, r, "block")(h.ops.Block(r.Context(), c.ID))
}

// Unlock handles POST /api/accounts/current/unlock.
func (h *Handler) Unlock(w http.ResponseWriter, r *http.Request) {
	c, _ := h.sessions.Current(r)
	h.respond(w, r, "unlock")(h.ops.Unlock(r.Context(), c.ID))
}

// ForgotPassword handles POST /api/accounts/forgot-password. The response is
// the same whether or not the e-mail belongs to an account.
func (h *Handler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Email string `json:"email"`
	}
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if err := h.ops.RequestPasswordReset(r.Context(), in.Email); err != nil {
		h.writeError(w, r, "request_password_reset", err)
		return
	}
	jsonutil.JSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// CompletePasswordReset handles POST /api/accounts/forgot-password/complete.
func (h *Handler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := jsonutil.DecodeStrict(w, r, &in); err != nil {
		jsonutil.BadRequest(w, err.Error())
		return
	}
	if _, err := h.ops.CompletePasswordReset(r.Context(), in.Token, in.Password); err != nil {
		h.writeError(w, r, "complete_password_reset", err)
		return
	}
	jsonutil.NoContent(w)
}

// CSRFToken handles GET /api/accounts/csrf-token. Clients echo the token in
// the X-CSRF-Token header of every mutating request.
func (h *Handler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	jsonutil.OK(w, map[string]string{"csrf_token": csrf.Token(r)})
}

// respond returns a writer for the (account, error) pair of an operation:
// on success the account becomes the current one and is written as JSON.
func (h *Handler) respond(w http.ResponseWriter, r *http.Request, op string) func(*models.Account, error) {
	return func(a *models.Account, err error) {
		if err != nil {
			h.writeError(w, r, op, err)
			return
		}
		h.remember(w, r, a)
		jsonutil.OK(w, a)
	}
}

func (h *Handler) remember(w http.ResponseWriter, r *http.Request, a *models.Account) {
	if err := h.sessions.Remember(w, r, *a); err != nil {
		h.logger.Warn("failed to remember current account",
			zap.Int64("account_id", a.ID),
			zap.Error(err))
	}
}

// writeError maps an operation error onto a status code.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	var invalid *inputval.Error
	switch {
	case errors.As(err, &invalid):
		fields := make(map[string]string, len(invalid.Result.Errors))
		for _, fe := range invalid.Result.Errors {
			fields[fe.Field] = fe.Message
		}
		jsonutil.ValidationError(w, fields)
	case errors.Is(err, accountops.ErrInvalidPassword),
		errors.Is(err, accountmgr.ErrInvalidResetToken):
		jsonutil.BadRequest(w, err.Error())
	case errors.Is(err, accountops.ErrInvalidCredentials):
		jsonutil.Unauthorized(w, err.Error())
	case errors.Is(err, accountops.ErrAccountInactive):
		jsonutil.Forbidden(w, err.Error())
	case errors.Is(err, accountmgr.ErrAccountNotFound),
		errors.Is(err, accountmgr.ErrLookupFailed):
		jsonutil.NotFound(w, err.Error())
	case errors.Is(err, accountmgr.ErrLoginAlreadyExists),
		errors.Is(err, accountmgr.ErrEmailAlreadyExists),
		errors.Is(err, accountmgr.ErrAccountAlreadyConfirmed),
		errors.Is(err, accountmgr.ErrPasswordAlreadyUsed):
		jsonutil.Conflict(w, err.Error())
	case errors.Is(err, retry.ErrRetriesExhausted):
		h.logger.Warn("account operation gave up", zap.String("operation", op), zap.Error(err))
		jsonutil.ServiceUnavailable(w, "the account is busy, try again")
	case errors.Is(err, storeutil.ErrConnection):
		h.logger.Error("database unavailable", zap.String("operation", op), zap.Error(err))
		jsonutil.ServiceUnavailable(w, "database unavailable")
	default:
		h.logger.Error("account operation failed",
			zap.String("operation", op),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		jsonutil.InternalError(w, "internal error")
	}
}

func queryInt(r *http.Request, key string) int64 {
	n, err := strconv.ParseInt(query.Get(r, key), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// clientIP returns the address recorded on authentication. chi's RealIP
// middleware has already applied X-Forwarded-For / X-Real-IP.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
