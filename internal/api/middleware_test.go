package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := securityHeadersMiddleware(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":       "nosniff",
		"X-Frame-Options":              "DENY",
		"Referrer-Policy":              "strict-origin-when-cross-origin",
		"Cross-Origin-Opener-Policy":   "same-origin",
		"Cross-Origin-Resource-Policy": "same-origin",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestBasicAuthMiddleware(t *testing.T) {
	h := basicAuthMiddleware("admin", "hunter2")(okHandler())

	tests := []struct {
		name       string
		user, pass string
		noAuth     bool
		want       int
	}{
		{name: "missing credentials", noAuth: true, want: http.StatusUnauthorized},
		{name: "wrong user", user: "root", pass: "hunter2", want: http.StatusUnauthorized},
		{name: "wrong password", user: "admin", pass: "hunter3", want: http.StatusUnauthorized},
		{name: "correct", user: "admin", pass: "hunter2", want: http.StatusOK},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if !tt.noAuth {
			req.SetBasicAuth(tt.user, tt.pass)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.name, rec.Code, tt.want)
		}
		if tt.want == http.StatusUnauthorized && rec.Header().Get("WWW-Authenticate") == "" {
			t.Errorf("%s: missing challenge header", tt.name)
		}
	}
}

func TestConstantTimeEqualString(t *testing.T) {
	if !constantTimeEqualString("abc", "abc") {
		t.Error("equal strings should match")
	}
	if constantTimeEqualString("abc", "abd") || constantTimeEqualString("abc", "abcd") {
		t.Error("different strings must not match")
	}
}
