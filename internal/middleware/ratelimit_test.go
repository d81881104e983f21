// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
}

func TestRateLimiter_BurstThenReject(t *testing.T) {
	// A tiny refill rate keeps the test independent of wall-clock timing.
	rl := NewRateLimiter(0.001, 2, nil)
	h := rl.Middleware()(okHandler())

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodDelete, "/api/v1/sites/x/pages/y", nil)
		req.RemoteAddr = "192.0.2.10:5555"
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)

		if rr.Code == http.StatusTooManyRequests {
			if rr.Header().Get("Retry-After") == "" {
				t.Error("Retry-After header missing")
			}
			if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q, want application/json", ct)
			}
		}
	}

	want := []int{http.StatusNoContent, http.StatusNoContent, http.StatusTooManyRequests}
	for i := range want {
		if codes[i] != want[i] {
			t.Errorf("request %d status = %d, want %d", i, codes[i], want[i])
		}
	}
}

func TestRateLimiter_PerClient(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, nil)
	h := rl.Middleware()(okHandler())

	for _, addr := range []string{"192.0.2.1:1000", "192.0.2.2:1000"} {
		req := httptest.NewRequest(http.MethodDelete, "/", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != http.StatusNoContent {
			t.Errorf("first request from %s status = %d, want %d", addr, rr.Code, http.StatusNoContent)
		}
	}
}

func TestRateLimiter_SpoofedHeadersShareBucket(t *testing.T) {
	rl := NewRateLimiter(0.001, 1, nil)
	h := rl.Middleware()(okHandler())

	codes := make([]int, 0, 2)
	for _, spoof := range []string{"203.0.113.1", "203.0.113.2"} {
		req := httptest.NewRequest(http.MethodDelete, "/", nil)
		req.RemoteAddr = "192.0.2.30:1000"
		req.Header.Set("X-Forwarded-For", spoof)
		req.Header.Set("X-Real-IP", spoof)
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		codes = append(codes, rr.Code)
	}
	if codes[1] != http.StatusTooManyRequests {
		t.Errorf("second request with a new forwarded address: status = %d, want %d", codes[1], http.StatusTooManyRequests)
	}
}

func TestRateLimiter_RetryAfterReflectsRefill(t *testing.T) {
	// One token every 4s: the second request must wait about 4s.
	rl := NewRateLimiter(0.25, 1, nil)
	h := rl.Middleware()(okHandler())

	var last *httptest.ResponseRecorder
	for range 2 {
		req := httptest.NewRequest(http.MethodDelete, "/", nil)
		req.RemoteAddr = "192.0.2.20:1000"
		last = httptest.NewRecorder()
		h.ServeHTTP(last, req)
	}
	if last.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want %d", last.Code, http.StatusTooManyRequests)
	}
	if got := last.Header().Get("Retry-After"); got != "4" {
		t.Errorf("Retry-After = %q, want 4", got)
	}
}

func TestClientLimiters_RejectedRequestKeepsToken(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClientLimiters(1, 1)
	c.now = func() time.Time { return now }

	if ok, _ := c.reserve("a"); !ok {
		t.Fatal("first reservation should succeed")
	}
	for range 3 {
		if ok, _ := c.reserve("a"); ok {
			t.Fatal("reservation within the same instant should fail")
		}
	}
	now = now.Add(time.Second)
	if ok, _ := c.reserve("a"); !ok {
		t.Error("token should be available after one refill interval")
	}
}

func TestClientLimiters_SweepsIdleClients(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := newClientLimiters(1, 1)
	c.now = func() time.Time { return now }
	c.max = 3

	c.reserve("old-1")
	c.reserve("old-2")
	now = now.Add(c.idle / 2)
	c.reserve("recent")
	now = now.Add(c.idle/2 + time.Second)

	c.reserve("new")
	if got := c.size(); got != 2 {
		t.Errorf("size after sweep = %d, want 2 (recent, new)", got)
	}
	if _, ok := c.clients["recent"]; !ok {
		t.Error("recently seen client was swept")
	}
}

func TestClientLimiters_ResetsWhenAllActive(t *testing.T) {
	c := newClientLimiters(1, 1)
	c.max = 2

	c.reserve("a")
	c.reserve("b")
	c.reserve("c")
	if got := c.size(); got != 1 {
		t.Errorf("size = %d, want 1", got)
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		headers    map[string]string
		remoteAddr string
		want       string
	}{
		{"remote addr", nil, "198.51.100.7:4321", "198.51.100.7"},
		{"remote addr without port", nil, "198.51.100.7", "198.51.100.7"},
		{"x-real-ip ignored", map[string]string{"X-Real-IP": "203.0.113.5"}, "10.0.0.1:80", "10.0.0.1"},
		{"x-forwarded-for ignored", map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.2"}, "10.0.0.1:80", "10.0.0.1"},
		{"ipv6", nil, "[2001:db8::1]:443", "2001:db8::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
