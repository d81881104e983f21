// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/ocms-publish/internal/cache"
	"github.com/olegiv/ocms-publish/internal/middleware"
	"github.com/olegiv/ocms-publish/internal/service"
	"github.com/olegiv/ocms-publish/internal/store"
	"github.com/olegiv/ocms-publish/internal/testutil"
)

// testServer wires the API against a seeded SQLite database and a memory cache.
type testServer struct {
	router http.Handler
	repo   *store.PageRepository
}

func newTestServer(t *testing.T, writeMiddlewares ...func(http.Handler) http.Handler) *testServer {
	t.Helper()

	db := testutil.SeededDB(t)

	logger := testutil.Logger()
	mem := cache.NewMemoryCache(cache.MemoryCacheOptions{DefaultTTL: time.Minute})
	t.Cleanup(func() { _ = mem.Close() })
	pageCache := cache.NewPublishedPageCache(mem, cache.DefaultPublishedTTL, cache.DefaultNegativeTTL, logger)

	svc := service.NewStorePageService(db, store.DialectSQLite, pageCache, logger, store.Hooks{})
	h := NewHandler(svc, logger)

	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		h.Routes(r, writeMiddlewares...)
	})

	return &testServer{
		router: r,
		repo:   store.NewPageRepository(db, store.DialectSQLite),
	}
}

func (s *testServer) do(t *testing.T, method, path string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(method, path, nil))
	return w
}

func demoPagePath() string {
	return "/api/v1/sites/" + store.DemoSiteID.String() + "/pages/" + store.DemoSlug()
}

func TestRoutes_ArchiveAndPublishScenario(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	// Seeded page is published to draft #2.
	w := s.do(t, http.MethodGet, demoPagePath()+"/published")
	require.Equal(t, http.StatusOK, w.Code)
	before := unmarshalData[PublishedPageResponse](t, w)
	require.NotNil(t, before.Published)
	assert.Equal(t, 2, before.Published.DraftNumber)
	assert.Equal(t, store.DemoDraft2, before.Published.Content)
	assert.Contains(t, before.Published.ContentHTML, "<p>Draft 2 Content</p>")

	w = s.do(t, http.MethodDelete, demoPagePath()+"?publishDraft=1")
	require.Equal(t, http.StatusNoContent, w.Code)

	// Archived pages are filtered from the read path, and the cached entry
	// for draft #2 must not be served.
	w = s.do(t, http.MethodGet, demoPagePath()+"/published")
	assert.Equal(t, http.StatusNotFound, w.Code)

	snap, err := s.repo.GetPageSnapshot(ctx, store.DemoSiteID, store.DemoSlug())
	require.NoError(t, err)
	require.NotNil(t, snap)
	require.NotNil(t, snap.Published)
	assert.True(t, snap.IsArchived)
	assert.Equal(t, 1, snap.Published.DraftNumber)
	assert.Equal(t, store.DemoDraft1, snap.Published.Content)

	// Repeating the request is an idempotent no-op.
	w = s.do(t, http.MethodDelete, demoPagePath()+"?publishDraft=1")
	assert.Equal(t, http.StatusNoContent, w.Code)

	again, err := s.repo.GetPageSnapshot(ctx, store.DemoSiteID, store.DemoSlug())
	require.NoError(t, err)
	assert.True(t, snap.UpdatedAt.Equal(again.UpdatedAt), "no-op must not touch updated_at")
}

func TestRoutes_ErrorStatuses(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name     string
		method   string
		path     string
		wantCode int
	}{
		{"unknown slug", http.MethodDelete, "/api/v1/sites/" + store.DemoSiteID.String() + "/pages/missing", http.StatusNotFound},
		{"unknown site", http.MethodDelete, "/api/v1/sites/" + uuid.NewString() + "/pages/" + store.DemoSlug(), http.StatusNotFound},
		{"unknown draft", http.MethodDelete, demoPagePath() + "?publishDraft=9", http.StatusBadRequest},
		{"malformed site", http.MethodDelete, "/api/v1/sites/abc/pages/" + store.DemoSlug(), http.StatusBadRequest},
		{"unpublished read", http.MethodGet, "/api/v1/sites/" + store.DemoSiteID.String() + "/pages/missing/published", http.StatusNotFound},
		{"wrong method", http.MethodPost, demoPagePath(), http.StatusMethodNotAllowed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := s.do(t, tt.method, tt.path)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}

	// None of the failed requests changed the page.
	snap, err := s.repo.GetPageSnapshot(context.Background(), store.DemoSiteID, store.DemoSlug())
	require.NoError(t, err)
	assert.False(t, snap.IsArchived)
	assert.Equal(t, 2, snap.Published.DraftNumber)
}

func TestRoutes_NonCanonicalSlug(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	page, err := s.repo.CreatePage(ctx, store.DemoSiteID, "About_Us")
	require.NoError(t, err)
	draft, err := s.repo.CreateDraft(ctx, page.ID, 1, "Legacy content")
	require.NoError(t, err)
	require.NoError(t, s.repo.SetPublished(ctx, draft, time.Now().UTC()))

	base := "/api/v1/sites/" + store.DemoSiteID.String() + "/pages/"

	w := s.do(t, http.MethodGet, base+"About_Us/published")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "About_Us", unmarshalData[PublishedPageResponse](t, w).Slug)

	w = s.do(t, http.MethodDelete, base+"About_Us?publishDraft=1")
	require.Equal(t, http.StatusNoContent, w.Code)

	snap, err := s.repo.GetPageSnapshot(ctx, store.DemoSiteID, "About_Us")
	require.NoError(t, err)
	assert.True(t, snap.IsArchived)

	// An absent page is not found, whatever its slug looks like.
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, base+"No_Such").Code)
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, base+"No_Such/published").Code)
}

func TestRoutes_WriteMiddlewareOnlyOnDelete(t *testing.T) {
	limiter := middleware.NewRateLimiter(0.001, 1, testutil.Logger())
	s := newTestServer(t, limiter.Middleware())

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, demoPagePath()).Code)
	assert.Equal(t, http.StatusTooManyRequests, s.do(t, http.MethodDelete, demoPagePath()).Code)

	// Reads are not limited.
	for range 3 {
		assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, demoPagePath()+"/published").Code)
	}
}
