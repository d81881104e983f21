// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// TypedCache stores JSON-encoded values of type T in a Cacher.
type TypedCache[T any] struct {
	backend Cacher
}

func NewTypedCache[T any](backend Cacher) TypedCache[T] {
	return TypedCache[T]{backend: backend}
}

// Get decodes the value stored under key. Backend errors, ErrCacheMiss
// included, are returned unchanged.
func (c TypedCache[T]) Get(ctx context.Context, key string) (T, error) {
	var v T
	data, err := c.backend.Get(ctx, key)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(data, &v); err != nil {
		return v, fmt.Errorf("decoding cached %s: %w", key, err)
	}
	return v, nil
}

func (c TypedCache[T]) Set(ctx context.Context, key string, v T, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encoding %s for cache: %w", key, err)
	}
	return c.backend.Set(ctx, key, data, ttl)
}

func (c TypedCache[T]) Delete(ctx context.Context, key string) error {
	return c.backend.Delete(ctx, key)
}
