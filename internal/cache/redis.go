// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisOptions tunes the Redis backend. Zero fields take the defaults below.
type RedisOptions struct {
	Prefix      string
	DefaultTTL  time.Duration
	PoolSize    int
	DialTimeout time.Duration
	IOTimeout   time.Duration // applied to both reads and writes
}

func (o RedisOptions) withDefaults() RedisOptions {
	if o.Prefix == "" {
		o.Prefix = "ocms:"
	}
	if o.DefaultTTL <= 0 {
		o.DefaultTTL = DefaultPublishedTTL
	}
	if o.PoolSize <= 0 {
		o.PoolSize = 10
	}
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.IOTimeout <= 0 {
		o.IOTimeout = 3 * time.Second
	}
	return o
}

// RedisCache shares published pages between service instances.
// Keys are namespaced with the configured prefix.
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	closed     atomic.Bool
	counters
}

// DialRedis connects to the server at rawURL and checks it answers PING
// within the dial timeout.
func DialRedis(ctx context.Context, rawURL string, opts RedisOptions) (*RedisCache, error) {
	if rawURL == "" {
		return nil, errors.New("redis: empty URL")
	}
	ro, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis URL: %w", err)
	}

	opts = opts.withDefaults()
	ro.PoolSize = opts.PoolSize
	ro.DialTimeout = opts.DialTimeout
	ro.ReadTimeout = opts.IOTimeout
	ro.WriteTimeout = opts.IOTimeout
	client := redis.NewClient(ro)

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}

	return NewRedisCacheWithClient(client, opts), nil
}

// NewRedisCacheWithClient wraps an existing client. The cache owns client
// and closes it on Close.
func NewRedisCacheWithClient(client redis.UniversalClient, opts RedisOptions) *RedisCache {
	opts = opts.withDefaults()
	return &RedisCache{
		client:     client,
		prefix:     opts.Prefix,
		defaultTTL: opts.DefaultTTL,
	}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, error) {
	if c.closed.Load() {
		return nil, ErrCacheClosed
	}

	b, err := c.client.Get(ctx, c.prefix+key).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
		c.misses.Add(1)
		return nil, ErrCacheMiss
	case err != nil:
		return nil, c.fail("get", key, err)
	}
	c.hits.Add(1)
	return b, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	if ttl <= 0 {
		ttl = c.defaultTTL
	}
	if err := c.client.Set(ctx, c.prefix+key, value, ttl).Err(); err != nil {
		return c.fail("set", key, err)
	}
	return nil
}

// Delete uses UNLINK so the server reclaims memory off the command path.
func (c *RedisCache) Delete(ctx context.Context, key string) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	if err := c.client.Unlink(ctx, c.prefix+key).Err(); err != nil {
		return c.fail("unlink", key, err)
	}
	return nil
}

func (c *RedisCache) Ping(ctx context.Context) error {
	if c.closed.Load() {
		return ErrCacheClosed
	}
	return c.client.Ping(ctx).Err()
}

func (c *RedisCache) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	return c.client.Close()
}

// Stats reports lookup counters kept by this process. Items is always zero.
func (c *RedisCache) Stats() Stats {
	return c.snapshot(0)
}

func (c *RedisCache) fail(op, key string, err error) error {
	c.errors.Add(1)
	return fmt.Errorf("redis %s %s: %w", op, key, err)
}

var (
	_ Cacher        = (*RedisCache)(nil)
	_ StatsProvider = (*RedisCache)(nil)
	_ Pinger        = (*RedisCache)(nil)
)
