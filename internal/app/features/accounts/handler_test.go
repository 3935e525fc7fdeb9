package accounts

import (
	"net/http"
	"strings"
	"testing"
	"time"

	accountstore "github.com/dalemusser/stratabook/internal/app/store/accounts"
	"github.com/dalemusser/stratabook/internal/app/store/forgotpassword"
	"github.com/dalemusser/stratabook/internal/app/store/passwordhistory"
	"github.com/dalemusser/stratabook/internal/app/system/accountmgr"
	"github.com/dalemusser/stratabook/internal/app/system/accountops"
	"github.com/dalemusser/stratabook/internal/app/system/accountsession"
	"github.com/dalemusser/stratabook/internal/app/system/authutil"
	"github.com/dalemusser/stratabook/internal/app/system/mailer"
	"github.com/dalemusser/stratabook/internal/app/system/retry"
	"github.com/dalemusser/stratabook/internal/app/system/txn"
	"github.com/dalemusser/stratabook/internal/domain/models"
	"github.com/dalemusser/stratabook/internal/testutil"
	"go.uber.org/zap"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	db := testutil.SetupTestDB(t)
	logger := zap.NewNop()

	svc := accountmgr.New(accountstore.New(db), passwordhistory.New(db), forgotpassword.New(db, time.Hour))
	exec := retry.New(3, txn.New(db, logger), logger, nil)
	ops := accountops.New(exec, svc, authutil.NewHasher("test-pepper"), mailer.Discard{}, logger,
		accountops.Config{MaxFailedAuth: 3})

	sessions, err := accountsession.NewManager("xK8nP2mQ9rT5vW7yB3cF6hJ0lN4sU1wZ", "test-session", "", time.Hour, false, logger)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return NewHandler(ops, sessions, logger)
}

var bob = map[string]string{
	"login":      "bob",
	"password":   "tr0ub4dor",
	"first_name": "Bob",
	"last_name":  "Smith",
	"email":      "bob@x.com",
}

func TestCreateAndConfirm(t *testing.T) {
	h := newTestHandler(t)
	b := testutil.NewBrowser(Routes(h))

	rec := b.Do(testutil.JSONRequest(http.MethodPost, "/", bob))
	rec.AssertStatus(t, http.StatusCreated)
	var created models.Account
	rec.DecodeJSON(t, &created)
	if created.ID == 0 || created.Login != "bob" || created.Confirmed {
		t.Fatalf("created = %+v", created)
	}
	rec.AssertContains(t, `"email":"bob@x.com"`)
	if body := rec.Body.String(); strings.Contains(body, `"password":`) || strings.Contains(body, "verification_token") {
		t.Errorf("secrets leaked in response: %s", body)
	}

	rec = b.Do(testutil.JSONRequest(http.MethodPost, "/current/confirm", nil))
	rec.AssertStatus(t, http.StatusOK)
	var confirmed models.Account
	rec.DecodeJSON(t, &confirmed)
	if !confirmed.Confirmed || confirmed.Version != created.Version+1 {
		t.Errorf("confirmed = %+v", confirmed)
	}

	b.Do(testutil.JSONRequest(http.MethodPost, "/current/confirm", nil)).AssertStatus(t, http.StatusConflict)
}

func TestCreate_Errors(t *testing.T) {
	h := newTestHandler(t)
	b := testutil.NewBrowser(Routes(h))
	b.Do(testutil.JSONRequest(http.MethodPost, "/", bob)).AssertStatus(t, http.StatusCreated)

	dupEmail := map[string]string{"login": "rob", "password": "s3cretpw", "first_name": "R", "last_name": "S", "email": "bob@x.com"}
	badEmail := map[string]string{"login": "rob", "password": "s3cretpw", "first_name": "R", "last_name": "S", "email": "nope"}
	weak := map[string]string{"login": "rob", "password": "123456", "first_name": "R", "last_name": "S", "email": "rob@x.com"}

	tests := []struct {
		name string
		body any
		want int
	}{
		{"duplicate login", bob, http.StatusConflict},
		{"duplicate email", dupEmail, http.StatusConflict},
		{"invalid email", badEmail, http.StatusBadRequest},
		{"weak password", weak, http.StatusBadRequest},
		{"unknown field", map[string]string{"login": "x", "role": "admin"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b.Do(testutil.JSONRequest(http.MethodPost, "/", tt.body)).AssertStatus(t, tt.want)
		})
	}
}

func TestLookups(t *testing.T) {
	h := newTestHandler(t)
	b := testutil.NewBrowser(Routes(h))
	b.Do(testutil.JSONRequest(http.MethodPost, "/", bob)).AssertStatus(t, http.StatusCreated)

	// a fresh client has no current account
	fresh := testutil.NewBrowser(Routes(h))
	fresh.Do(testutil.JSONRequest(http.MethodGet, "/current", nil)).AssertStatus(t, http.StatusPreconditionRequired)

	fresh.Do(testutil.JSONRequest(http.MethodPost, "/lookup/login", map[string]string{"login": "nobody"})).
		AssertStatus(t, http.StatusNotFound)
	fresh.Do(testutil.JSONRequest(http.MethodPost, "/lookup/token", map[string]string{"token": "nope"})).
		AssertStatus(t, http.StatusNotFound)

	fresh.Do(testutil.JSONRequest(http.MethodPost, "/lookup/email", map[string]string{"email": "BOB@x.com"})).
		AssertStatus(t, http.StatusOK)
	rec := fresh.Do(testutil.JSONRequest(http.MethodGet, "/current", nil))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"login":"bob"`)

	fresh.Do(testutil.JSONRequest(http.MethodDelete, "/current", nil)).AssertStatus(t, http.StatusNoContent)
	fresh.Do(testutil.JSONRequest(http.MethodGet, "/current", nil)).AssertStatus(t, http.StatusPreconditionRequired)
}

func TestPasswordEndpoints(t *testing.T) {
	h := newTestHandler(t)
	b := testutil.NewBrowser(Routes(h))
	b.Do(testutil.JSONRequest(http.MethodPost, "/", bob)).AssertStatus(t, http.StatusCreated)

	same := map[string]string{"password": "tr0ub4dor"}
	b.Do(testutil.JSONRequest(http.MethodPost, "/current/password", same)).AssertStatus(t, http.StatusConflict)
	b.Do(testutil.JSONRequest(http.MethodPost, "/current/reset-password", same)).AssertStatus(t, http.StatusOK)

	rec := b.Do(testutil.JSONRequest(http.MethodPost, "/current/password", map[string]string{"password": "n3w-secret"}))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"force_password_change":false`)

	b.Do(testutil.JSONRequest(http.MethodPost, "/authenticate", map[string]string{"login": "bob", "password": "n3w-secret"})).
		AssertStatus(t, http.StatusOK)
	b.Do(testutil.JSONRequest(http.MethodPost, "/authenticate", map[string]string{"login": "bob", "password": "wrong-one"})).
		AssertStatus(t, http.StatusUnauthorized)
}

func TestProfileBlockUnlock(t *testing.T) {
	h := newTestHandler(t)
	b := testutil.NewBrowser(Routes(h))
	b.Do(testutil.JSONRequest(http.MethodPost, "/", bob)).AssertStatus(t, http.StatusCreated)

	rec := b.Do(testutil.JSONRequest(http.MethodPost, "/current/profile", map[string]string{"last_name": "<b>Jones</b>"}))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"last_name":"Jones"`)

	rec = b.Do(testutil.JSONRequest(http.MethodPost, "/current/block", nil))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"active":false`)

	b.Do(testutil.JSONRequest(http.MethodPost, "/authenticate", map[string]string{"login": "bob", "password": "guess"})).
		AssertStatus(t, http.StatusUnauthorized)
	b.Do(testutil.JSONRequest(http.MethodPost, "/authenticate", map[string]string{"login": "bob", "password": "tr0ub4dor"})).
		AssertStatus(t, http.StatusForbidden)

	rec = b.Do(testutil.JSONRequest(http.MethodPost, "/current/unlock", nil))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, `"active":true`)
}

func TestList(t *testing.T) {
	h := newTestHandler(t)
	b := testutil.NewBrowser(Routes(h))
	b.Do(testutil.JSONRequest(http.MethodPost, "/", bob)).AssertStatus(t, http.StatusCreated)
	b.Do(testutil.JSONRequest(http.MethodPost, "/", map[string]string{
		"login": "alice", "password": "w0nderland", "first_name": "Alice", "last_name": "Liddell", "email": "alice@x.com",
	})).AssertStatus(t, http.StatusCreated)

	var resp listResponse
	rec := b.Do(testutil.JSONRequest(http.MethodGet, "/?per_page=1&page=2", nil))
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &resp)
	if len(resp.Accounts) != 1 || resp.Accounts[0].Login != "bob" || resp.Page != 2 || resp.PerPage != 1 {
		t.Errorf("List(page 2) = %+v", resp)
	}

	rec = b.Do(testutil.JSONRequest(http.MethodGet, "/?q=lidd", nil))
	rec.AssertStatus(t, http.StatusOK)
	rec.DecodeJSON(t, &resp)
	if len(resp.Accounts) != 1 || resp.Accounts[0].Login != "alice" {
		t.Errorf("Filter() = %+v", resp)
	}
}

func TestForgotPassword(t *testing.T) {
	h := newTestHandler(t)
	b := testutil.NewBrowser(Routes(h))
	b.Do(testutil.JSONRequest(http.MethodPost, "/", bob)).AssertStatus(t, http.StatusCreated)

	b.Do(testutil.JSONRequest(http.MethodPost, "/forgot-password", map[string]string{"email": "bob@x.com"})).
		AssertStatus(t, http.StatusAccepted)
	b.Do(testutil.JSONRequest(http.MethodPost, "/forgot-password", map[string]string{"email": "ghost@x.com"})).
		AssertStatus(t, http.StatusAccepted)
	b.Do(testutil.JSONRequest(http.MethodPost, "/forgot-password/complete", map[string]string{"token": "bogus", "password": "n3w-secret"})).
		AssertStatus(t, http.StatusBadRequest)
}

func TestCSRFToken(t *testing.T) {
	h := newTestHandler(t)
	rec := testutil.NewRecorder()
	h.CSRFToken(rec, testutil.WithCSRFToken(testutil.JSONRequest(http.MethodGet, "/csrf-token", nil)))
	rec.AssertStatus(t, http.StatusOK)
	rec.AssertContains(t, testutil.TestCSRFToken)
}

func TestWithCurrent(t *testing.T) {
	h := newTestHandler(t)
	rec := testutil.NewRecorder()
	req := testutil.WithCurrent(testutil.JSONRequest(http.MethodGet, "/current", nil), 999, "ghost")
	Routes(h).ServeHTTP(rec, req)
	rec.AssertStatus(t, http.StatusNotFound)
}
