// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// dialTestRedis connects to OCMS_TEST_REDIS_URL or skips the test.
func dialTestRedis(t *testing.T, prefix string) *RedisCache {
	t.Helper()
	url := os.Getenv("OCMS_TEST_REDIS_URL")
	if url == "" {
		t.Skip("OCMS_TEST_REDIS_URL not set")
	}
	c, err := DialRedis(context.Background(), url, RedisOptions{Prefix: prefix, DefaultTTL: time.Minute})
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRedisCache_SetGetDelete(t *testing.T) {
	c := dialTestRedis(t, "test-basic:")
	ctx := context.Background()
	_ = c.Delete(ctx, "k")

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), time.Minute))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	require.NoError(t, c.Delete(ctx, "k"))
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	assert.NoError(t, c.Ping(ctx))
	s := c.Stats()
	assert.Equal(t, int64(1), s.Hits)
	assert.Equal(t, int64(2), s.Misses)
}

func TestRedisCache_TTL(t *testing.T) {
	c := dialTestRedis(t, "test-ttl:")
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "short", []byte("v"), 100*time.Millisecond))
	assert.Eventually(t, func() bool {
		_, err := c.Get(ctx, "short")
		return err == ErrCacheMiss
	}, 2*time.Second, 50*time.Millisecond)
}

func TestRedisCache_PublishedPages(t *testing.T) {
	testPublishedPageCache(t, dialTestRedis(t, "test-published:"))
}

func TestDialRedis_BadInput(t *testing.T) {
	ctx := context.Background()

	_, err := DialRedis(ctx, "", RedisOptions{})
	assert.Error(t, err)

	_, err = DialRedis(ctx, "http://not-redis", RedisOptions{})
	assert.ErrorContains(t, err, "parsing redis URL")

	_, err = DialRedis(ctx, "redis://127.0.0.1:1/0", RedisOptions{DialTimeout: 200 * time.Millisecond})
	assert.ErrorContains(t, err, "pinging redis")
}

func TestRedisCache_ClosedAndUnreachable(t *testing.T) {
	// The client is lazy; nothing listens on port 1 so every command fails.
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
	c := NewRedisCacheWithClient(client, RedisOptions{Prefix: "x:"})
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	assert.ErrorContains(t, err, "redis get k")
	assert.Error(t, c.Set(ctx, "k", []byte("v"), 0))
	assert.Equal(t, int64(2), c.Stats().Errors)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	_, err = c.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheClosed)
	assert.ErrorIs(t, c.Delete(ctx, "k"), ErrCacheClosed)
	assert.ErrorIs(t, c.Ping(ctx), ErrCacheClosed)
}
