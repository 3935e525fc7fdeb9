package accounts

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes returns a router with the account endpoints.
//
// When mounted at /api/accounts:
//   - GET    /csrf-token                - CSRF token for the X-CSRF-Token header
//   - POST   /                          - create an account
//   - GET    /                          - list accounts (?q= filters, ?page= & ?per_page= page)
//   - POST   /lookup/{login,email,token} - look an account up and make it current
//   - POST   /authenticate              - check a password and make the account current
//   - GET    /current                   - reload the current account
//   - DELETE /current                   - forget the current account
//   - POST   /current/confirm           - confirm the current account
//   - POST   /current/password          - self-service password change
//   - POST   /current/reset-password    - administrator password reset
//   - POST   /current/profile           - edit first/last name
//   - POST   /current/block             - block
//   - POST   /current/unlock            - unlock
//   - POST   /forgot-password           - mail a reset link
//   - POST   /forgot-password/complete  - redeem a reset token
func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(h.sessions.Load)

	r.Get("/csrf-token", h.CSRFToken)
	r.Post("/", h.Create)
	r.Get("/", h.List)

	r.Post("/lookup/login", h.LookupByLogin)
	r.Post("/lookup/email", h.LookupByEmail)
	r.Post("/lookup/token", h.LookupByToken)
	r.Post("/authenticate", h.Authenticate)

	r.Post("/forgot-password", h.ForgotPassword)
	r.Post("/forgot-password/complete", h.CompletePasswordReset)

	r.Route("/current", func(cr chi.Router) {
		cr.Use(h.sessions.RequireCurrent)
		cr.Get("/", h.Current)
		cr.Delete("/", h.Forget)
		cr.Post("/confirm", h.Confirm)
		cr.Post("/password", h.ChangeOwnPassword)
		cr.Post("/reset-password", h.ChangeOtherPassword)
		cr.Post("/profile", h.EditProfile)
		cr.Post("/block", h.Block)
		cr.Post("/unlock", h.Unlock)
	})

	return r
}
