package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestAdminGatePassthroughWithoutToken(t *testing.T) {
	gate := newAdminGate("", discardLogger())
	rec := httptest.NewRecorder()
	gate.require(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/admin/save", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 when no token configured", rec.Code)
	}
}

func TestAdminGateRejectsNonBearerAuth(t *testing.T) {
	gate := newAdminGate("sekret", discardLogger())
	req := httptest.NewRequest(http.MethodPost, "/admin/save", nil)
	req.Header.Set("Authorization", "Basic c2VrcmV0")
	rec := httptest.NewRecorder()
	gate.require(okHandler()).ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for non-bearer auth", rec.Code)
	}
}

func TestIPLimiterBurstThenDeny(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := newIPLimiter(ctx)

	for i := 0; i < 5; i++ {
		if !l.allow("10.0.0.1") {
			t.Fatalf("request %d denied inside burst", i+1)
		}
	}
	if l.allow("10.0.0.1") {
		t.Error("request 6 allowed, want denied once burst is spent")
	}
	if !l.allow("10.0.0.2") {
		t.Error("other IP denied, limits must be per client")
	}
}

func TestRateLimitResponds429(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	h := rateLimit(okHandler(), newIPLimiter(ctx))

	var last *httptest.ResponseRecorder
	for i := 0; i < 6; i++ {
		last = httptest.NewRecorder()
		h.ServeHTTP(last, httptest.NewRequest(http.MethodPost, "/admin/save", nil))
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("sixth request status = %d, want 429", last.Code)
	}
	if last.Header().Get("Retry-After") == "" {
		t.Error("429 response missing Retry-After")
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "127.0.0.1:9999"
	req.Header.Set("X-Forwarded-For", "203.0.113.7, 70.41.3.18")
	if got := clientIP(req); got != "203.0.113.7" {
		t.Errorf("clientIP = %q, want first forwarded hop", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:1234"
	if got := clientIP(req); got != "192.0.2.1" {
		t.Errorf("clientIP = %q, want remote addr without port", got)
	}
}

func TestCORSPermissiveByDefault(t *testing.T) {
	t.Setenv("ENV", "")
	h := withCORS(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Allow-Origin = %q, want *", got)
	}
}

func TestCORSAllowlistInProduction(t *testing.T) {
	t.Setenv("ENV", "production")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://overlay.example.com")
	h := withCORS(okHandler())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://overlay.example.com")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://overlay.example.com" {
		t.Errorf("Allow-Origin = %q, want the allowlisted origin", got)
	}
	if rec.Header().Get("Access-Control-Allow-Credentials") != "true" {
		t.Error("allowlisted origin missing Allow-Credentials")
	}

	req = httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Error("Allow-Origin set for origin outside the allowlist")
	}
}

func TestCORSPreflight(t *testing.T) {
	t.Setenv("ENV", "dev")
	h := withCORS(okHandler())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/admin/save", nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("preflight status = %d, want 204", rec.Code)
	}
	if rec.Header().Get("Access-Control-Allow-Methods") == "" {
		t.Error("preflight missing Allow-Methods")
	}
}
