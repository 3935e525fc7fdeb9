package testutil

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/dalemusser/stratabook/internal/app/system/accountsession"
)

// JSONRequest creates an HTTP request whose body is body encoded as JSON.
// A nil body sends no body.
func JSONRequest(method, target string, body any) *http.Request {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// WithCurrent puts id/login in the request context as the session's current
// account, bypassing the session cookie.
func WithCurrent(r *http.Request, id int64, login string) *http.Request {
	return r.WithContext(accountsession.WithCurrent(r.Context(), accountsession.Current{ID: id, Login: login}))
}

// Browser replays cookies between requests served by one handler, the way a
// client session would.
type Browser struct {
	Handler http.Handler
	cookies map[string]*http.Cookie
}

// NewBrowser returns a Browser for h.
func NewBrowser(h http.Handler) *Browser {
	return &Browser{Handler: h, cookies: map[string]*http.Cookie{}}
}

// Do sends req with the stored cookies and keeps any the response sets.
func (b *Browser) Do(req *http.Request) *ResponseRecorder {
	for _, c := range b.cookies {
		req.AddCookie(c)
	}
	rec := NewRecorder()
	b.Handler.ServeHTTP(rec, req)
	for _, c := range rec.Result().Cookies() {
		if c.MaxAge < 0 {
			delete(b.cookies, c.Name)
			continue
		}
		b.cookies[c.Name] = c
	}
	return rec
}

// ResponseRecorder wraps httptest.ResponseRecorder with helper methods.
type ResponseRecorder struct {
	*httptest.ResponseRecorder
}

// NewRecorder creates a new ResponseRecorder.
func NewRecorder() *ResponseRecorder {
	return &ResponseRecorder{httptest.NewRecorder()}
}

// AssertStatus checks the response status code.
func (r *ResponseRecorder) AssertStatus(t interface{ Errorf(string, ...any) }, expected int) {
	if r.Code != expected {
		t.Errorf("status code: got %d, want %d (body: %s)", r.Code, expected, strings.TrimSpace(r.Body.String()))
	}
}

// AssertContains checks if the response body contains the expected string.
func (r *ResponseRecorder) AssertContains(t interface{ Errorf(string, ...any) }, expected string) {
	body := r.Body.String()
	if !strings.Contains(body, expected) {
		t.Errorf("response body does not contain %q", expected)
	}
}

// DecodeJSON decodes the response body into v, failing the test on error.
func (r *ResponseRecorder) DecodeJSON(t testing.TB, v any) {
	t.Helper()
	if err := json.Unmarshal(r.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response %q: %v", r.Body.String(), err)
	}
}
