// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package cache

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/metrics"
	"github.com/olegiv/ocms-publish/internal/model"
)

// Default TTLs for published page entries.
const (
	DefaultPublishedTTL = 60 * time.Second
	DefaultNegativeTTL  = 10 * time.Second
)

// publishedEntry is the cached value. A nil Page records that the page has
// no published snapshot.
type publishedEntry struct {
	Page *model.PublishedPage `json:"page"`
}

// PublishedPageCache caches published page snapshots by (site, slug).
// Backend failures are logged and otherwise ignored: a failed Get is a miss.
type PublishedPageCache struct {
	entries     TypedCache[publishedEntry]
	positiveTTL time.Duration
	negativeTTL time.Duration
	logger      *slog.Logger
}

// NewPublishedPageCache wraps backend. Zero TTLs fall back to the defaults.
func NewPublishedPageCache(backend Cacher, positiveTTL, negativeTTL time.Duration, logger *slog.Logger) *PublishedPageCache {
	if positiveTTL <= 0 {
		positiveTTL = DefaultPublishedTTL
	}
	if negativeTTL <= 0 {
		negativeTTL = DefaultNegativeTTL
	}
	return &PublishedPageCache{
		entries:     NewTypedCache[publishedEntry](backend),
		positiveTTL: positiveTTL,
		negativeTTL: negativeTTL,
		logger:      logger,
	}
}

// PublishedPageKey returns the cache key for a page.
func PublishedPageKey(siteID uuid.UUID, slug string) string {
	return "published-page:" + siteID.String() + ":" + slug
}

// Get looks up a page. hit reports whether an entry was cached at all; when
// hit is true and found is false the page is known to have no published
// snapshot.
func (c *PublishedPageCache) Get(ctx context.Context, siteID uuid.UUID, slug string) (page *model.PublishedPage, found bool, hit bool) {
	key := PublishedPageKey(siteID, slug)
	entry, err := c.entries.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, ErrCacheMiss) {
			c.logger.Debug("cache get failed", "key", key, "error", err)
		}
		metrics.CacheLookups.WithLabelValues(metrics.LookupMiss).Inc()
		return nil, false, false
	}

	if entry.Page == nil {
		metrics.CacheLookups.WithLabelValues(metrics.LookupNegativeHit).Inc()
		return nil, false, true
	}
	metrics.CacheLookups.WithLabelValues(metrics.LookupHit).Inc()
	return entry.Page, true, true
}

// Put caches page, or a "no published snapshot" marker when page is nil.
func (c *PublishedPageCache) Put(ctx context.Context, siteID uuid.UUID, slug string, page *model.PublishedPage) {
	key := PublishedPageKey(siteID, slug)
	ttl := c.positiveTTL
	if page == nil {
		ttl = c.negativeTTL
	}
	if err := c.entries.Set(ctx, key, publishedEntry{Page: page}, ttl); err != nil {
		c.logger.Warn("cache put failed", "category", model.EventCategoryCache, "key", key, "error", err)
	}
}

// Invalidate drops the entry for a page.
func (c *PublishedPageCache) Invalidate(ctx context.Context, siteID uuid.UUID, slug string) {
	key := PublishedPageKey(siteID, slug)
	if err := c.entries.Delete(ctx, key); err != nil {
		c.logger.Warn("cache invalidate failed", "category", model.EventCategoryCache, "key", key, "error", err)
		return
	}
	metrics.CacheInvalidations.Inc()
}
