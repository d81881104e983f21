// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package cache provides the read-side cache for published pages.
package cache

import (
	"context"
	"errors"
	"sync/atomic"
	"time"
)

var (
	// ErrCacheMiss is returned by Get for absent or expired keys.
	ErrCacheMiss = errors.New("cache miss")
	// ErrCacheClosed is returned by every operation after Close.
	ErrCacheClosed = errors.New("cache closed")
)

// Cacher is a byte-oriented key/value store with per-entry expiry.
// Implementations are safe for concurrent use; the in-process and Redis
// backends are interchangeable behind it.
type Cacher interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Set stores value for ttl. A non-positive ttl selects the backend default.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Delete is a no-op for absent keys.
	Delete(ctx context.Context, key string) error
	Close() error
}

// StatsProvider is implemented by backends that count their lookups.
type StatsProvider interface {
	Stats() Stats
}

// Pinger is implemented by backends that live outside the process.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Stats is a point-in-time snapshot of backend counters.
// Items is zero for backends that do not track their key count.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Errors  int64   `json:"errors"`
	Items   int     `json:"items"`
	HitRate float64 `json:"hit_rate"`
}

// counters is embedded by the backends.
type counters struct {
	hits   atomic.Int64
	misses atomic.Int64
	errors atomic.Int64
}

func (c *counters) snapshot(items int) Stats {
	s := Stats{
		Hits:   c.hits.Load(),
		Misses: c.misses.Load(),
		Errors: c.errors.Load(),
		Items:  items,
	}
	if lookups := s.Hits + s.Misses; lookups > 0 {
		s.HitRate = float64(s.Hits) / float64(lookups) * 100
	}
	return s
}
