package middleware

import (
	"net/http"
	"net/http/httptest"
	"net/netip"
	"strconv"
	"testing"
	"time"
)

func TestTrustedRealIP_UntrustedPeer_IgnoresForwardedHeaders(t *testing.T) {
	rl := NewRateLimiter(RateLimiterConfig{AuthRate: 1.0 / 60, AuthBurst: 1, GeneralRate: 1, GeneralBurst: 1, CleanupInterval: time.Minute})
	defer rl.Stop()
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	handler := NewTrustedRealIPMiddleware(trusted)(rl.AuthMiddleware()(okHandler()))

	limited := 0
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", "198.51.100."+strconv.Itoa(i+1))
		req.Header.Set("X-Real-IP", "198.51.100."+strconv.Itoa(i+1))
		req.Header.Set("True-Client-IP", "198.51.100."+strconv.Itoa(i+1))
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)
		if w.Code == http.StatusTooManyRequests {
			limited++
		}
	}

	if limited != 4 {
		t.Errorf("rate-limited = %d, want 4 (spoofed headers must not create new keys)", limited)
	}
	if got := rl.AuthLimiterCount(); got != 1 {
		t.Errorf("AuthLimiterCount() = %d, want 1", got)
	}
}

func TestTrustedRealIP_TrustedProxy_UsesForwardedAddress(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.RemoteAddr
	})
	trusted := []netip.Prefix{netip.MustParsePrefix("10.0.0.0/8")}
	handler := NewTrustedRealIPMiddleware(trusted)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "198.51.100.9" {
		t.Errorf("RemoteAddr = %q, want %q", got, "198.51.100.9")
	}
}

func TestTrustedRealIP_NoTrustedProxies_KeepsRemoteAddr(t *testing.T) {
	var got string
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.RemoteAddr
	})
	handler := NewTrustedRealIPMiddleware(nil)(inner)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.1.2.3:5555"
	req.Header.Set("X-Forwarded-For", "198.51.100.9")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	if got != "10.1.2.3:5555" {
		t.Errorf("RemoteAddr = %q, want %q", got, "10.1.2.3:5555")
	}
}
