package core

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"tubenotify/internal/config"
	"tubenotify/internal/types"
)

func TestDeviceRateLimit_BlocksAfterLimit(t *testing.T) {
	srv := newTestServer(t, &config.Config{Security: config.SecurityConfig{DeviceRateLimit: 3}})
	h := srv.DeviceRateLimit()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(ip string) *httptest.ResponseRecorder {
		req := requestWithID(http.MethodPost, "/api/devices/register", "")
		req.RemoteAddr = ip + ":51234"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		if rec := send("10.0.0.1"); rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
	}

	rec := send("10.0.0.1")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "60" {
		t.Errorf("Retry-After: got %q", rec.Header().Get("Retry-After"))
	}
	if body := decodeErrorBody(t, rec); body.Code != string(types.ErrCodeRateLimit) {
		t.Errorf("code: got %q", body.Code)
	}

	if rec := send("10.0.0.2"); rec.Code != http.StatusOK {
		t.Errorf("other client should not be limited, got %d", rec.Code)
	}
}

func TestRateLimit_CustomKey(t *testing.T) {
	srv := newTestServer(t, nil)
	h := srv.RateLimit(RateLimitConfig{
		RequestLimit: 1,
		WindowSize:   time.Minute,
		KeyFunc:      func(r *http.Request) (string, error) { return "shared", nil },
	})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

	first, second := httptest.NewRecorder(), httptest.NewRecorder()
	h.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/", nil))
	h.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/", nil))

	if first.Code != http.StatusOK || second.Code != http.StatusTooManyRequests {
		t.Errorf("got %d then %d", first.Code, second.Code)
	}
}

func TestExtractClientIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		hops       int
		want       string
	}{
		{name: "no trusted proxy ignores forwarded header", xff: "203.0.113.7", remoteAddr: "198.51.100.2:443", want: "198.51.100.2"},
		{name: "one proxy takes right-most entry", xff: "1.2.3.4, 203.0.113.7", remoteAddr: "10.0.0.1:443", hops: 1, want: "203.0.113.7"},
		{name: "two proxies", xff: "1.2.3.4, 203.0.113.7, 10.0.0.5", remoteAddr: "10.0.0.1:443", hops: 2, want: "203.0.113.7"},
		{name: "short chain falls back to peer", xff: "203.0.113.7", remoteAddr: "10.0.0.1:443", hops: 2, want: "10.0.0.1"},
		{name: "remote addr with port", remoteAddr: "192.0.2.4:5555", want: "192.0.2.4"},
		{name: "remote addr without port", remoteAddr: "192.0.2.4", want: "192.0.2.4"},
		{name: "blank forwarded header", xff: " ", remoteAddr: "192.0.2.9:1", hops: 1, want: "192.0.2.9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}
			if got := extractClientIP(req, tt.hops); got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDeviceRateLimit_SpoofedForwardedForDoesNotEvade(t *testing.T) {
	srv := newTestServer(t, &config.Config{Security: config.SecurityConfig{DeviceRateLimit: 2, TrustedProxyHops: 1}})
	h := srv.DeviceRateLimit()(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	// The proxy appends the real client; the client rotates the prefix.
	send := func(spoofed string) int {
		req := requestWithID(http.MethodPost, "/api/devices/register", "")
		req.RemoteAddr = "10.0.0.1:443"
		req.Header.Set("X-Forwarded-For", spoofed+", 203.0.113.7")
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	send("1.1.1.1")
	send("2.2.2.2")
	if code := send("3.3.3.3"); code != http.StatusTooManyRequests {
		t.Errorf("rotating X-Forwarded-For prefixes: expected 429, got %d", code)
	}
}
