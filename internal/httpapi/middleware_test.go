package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterBoundsClients(t *testing.T) {
	l := NewRateLimiter(1, 2)
	now := time.Now()
	l.now = func() time.Time { return now }

	if !l.Allow("10.0.0.1") || !l.Allow("10.0.0.1") {
		t.Fatalf("burst should admit two requests")
	}
	if l.Allow("10.0.0.1") {
		t.Fatalf("third request within the same instant should be rejected")
	}
	// Other clients are unaffected.
	if !l.Allow("10.0.0.2") {
		t.Fatalf("independent client throttled")
	}
}

func TestRateLimiterEvictsIdleBuckets(t *testing.T) {
	l := NewRateLimiter(1, 1)
	l.maxBuckets = 3
	base := time.Now()
	current := base
	l.now = func() time.Time { return current }

	l.Allow("a")
	l.Allow("b")
	l.Allow("c")
	if len(l.buckets) != 3 {
		t.Fatalf("buckets = %d, want 3", len(l.buckets))
	}

	// New client past the idle TTL forces the stale entries out.
	current = base.Add(10 * time.Minute)
	l.Allow("d")
	if len(l.buckets) >= 3 {
		t.Fatalf("stale buckets not evicted: %d", len(l.buckets))
	}
	if _, ok := l.buckets["d"]; !ok {
		t.Fatalf("new client not tracked")
	}
}

func TestRateLimitMiddlewareReturns429(t *testing.T) {
	l := NewRateLimiter(1, 1)
	h := l.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/auth/login", nil)
	req.RemoteAddr = "203.0.113.7:51000"

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("first request: %d", rec.Code)
	}
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("second request: %d", rec.Code)
	}
}

func TestWithRequestIDMintsAndEchoes(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = w.Header().Get("X-Request-ID")
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if seen == "" {
		t.Fatalf("no request id minted")
	}

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-abc")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Header().Get("X-Request-ID") != "req-abc" {
		t.Fatalf("inbound request id not echoed: %q", rec.Header().Get("X-Request-ID"))
	}
}

func TestClientIPPrefersForwardedFor(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:443"
	req.Header.Set("X-Forwarded-For", "198.51.100.7, 10.0.0.1")
	if ip := clientIP(req); ip != "198.51.100.7" {
		t.Fatalf("clientIP = %q", ip)
	}
	req.Header.Del("X-Forwarded-For")
	if ip := clientIP(req); ip != "192.0.2.1" {
		t.Fatalf("clientIP = %q", ip)
	}
}
