// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedClients triggers a sweep of idle limiters once exceeded.
	maxTrackedClients = 10000
	// clientIdleTTL is how long an unused limiter survives a sweep.
	clientIdleTTL = 10 * time.Minute
)

type clientLimiter struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// clientLimiters holds one token bucket per client key.
type clientLimiters struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	limit   rate.Limit
	burst   int
	max     int
	idle    time.Duration
	now     func() time.Time
}

func newClientLimiters(rps float64, burst int) *clientLimiters {
	return &clientLimiters{
		clients: make(map[string]*clientLimiter),
		limit:   rate.Limit(rps),
		burst:   burst,
		max:     maxTrackedClients,
		idle:    clientIdleTTL,
		now:     time.Now,
	}
}

// reserve takes a token for key. When none is available it returns false and
// how long the client should wait; the token is not consumed.
func (c *clientLimiters) reserve(key string) (bool, time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	cl, ok := c.clients[key]
	if !ok {
		if len(c.clients) >= c.max {
			c.sweepLocked(now)
		}
		cl = &clientLimiter{lim: rate.NewLimiter(c.limit, c.burst)}
		c.clients[key] = cl
	}
	cl.lastSeen = now

	r := cl.lim.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

// sweepLocked drops limiters idle for longer than c.idle. If every client is
// active the table is reset so memory stays bounded.
func (c *clientLimiters) sweepLocked(now time.Time) {
	for k, cl := range c.clients {
		if now.Sub(cl.lastSeen) > c.idle {
			delete(c.clients, k)
		}
	}
	if len(c.clients) >= c.max {
		c.clients = make(map[string]*clientLimiter)
	}
}

func (c *clientLimiters) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.clients)
}

// RateLimiter limits requests per client IP.
type RateLimiter struct {
	clients *clientLimiters
	logger  *slog.Logger
}

// NewRateLimiter creates a per-client limiter allowing rps requests per second
// with the given burst.
func NewRateLimiter(rps float64, burst int, logger *slog.Logger) *RateLimiter {
	if logger == nil {
		logger = slog.Default()
	}
	return &RateLimiter{
		clients: newClientLimiters(rps, burst),
		logger:  logger,
	}
}

// Middleware rejects requests over the client's budget with 429 and a
// Retry-After header in whole seconds.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			ok, wait := rl.clients.reserve(ip)
			if !ok {
				retry := int(math.Ceil(wait.Seconds()))
				if retry < 1 {
					retry = 1
				}
				rl.logger.Info("api rate limit exceeded", "ip", ip, "method", r.Method, "path", r.URL.Path, "retry_after", retry)
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				WriteError(w, http.StatusTooManyRequests, CodeRateLimited, "Rate limit exceeded. Please slow down.", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the host part of RemoteAddr. Proxy headers are not read
// here; chi's RealIP middleware has already applied them to RemoteAddr.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
