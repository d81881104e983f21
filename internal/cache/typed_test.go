// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testItem struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestTypedCache_RoundTrip(t *testing.T) {
	backend, clk := newClockedCache(t, 0)
	c := NewTypedCache[testItem](backend)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "item", testItem{Name: "a", Count: 2}, time.Minute))

	raw, err := backend.Get(ctx, "item")
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"a","count":2}`, string(raw))

	got, err := c.Get(ctx, "item")
	require.NoError(t, err)
	assert.Equal(t, testItem{Name: "a", Count: 2}, got)

	clk.Advance(time.Minute)
	_, err = c.Get(ctx, "item")
	assert.ErrorIs(t, err, ErrCacheMiss, "ttl is passed to the backend")

	require.NoError(t, c.Set(ctx, "item", testItem{Name: "b"}, 0))
	require.NoError(t, c.Delete(ctx, "item"))
	_, err = c.Get(ctx, "item")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestTypedCache_CorruptEntry(t *testing.T) {
	backend, _ := newClockedCache(t, 0)
	c := NewTypedCache[testItem](backend)
	ctx := context.Background()

	require.NoError(t, backend.Set(ctx, "bad", []byte("not json"), 0))

	got, err := c.Get(ctx, "bad")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrCacheMiss)
	assert.Contains(t, err.Error(), "decoding cached bad")
	assert.Zero(t, got)
}
