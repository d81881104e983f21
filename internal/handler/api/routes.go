// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Routes registers the v1 API on r, which is expected to be mounted at /api/v1.
// writeMiddlewares wrap only the mutating routes (rate limiting).
func (h *Handler) Routes(r chi.Router, writeMiddlewares ...func(http.Handler) http.Handler) {
	r.Get("/status", h.Status)
	r.Get(RoutePagePublished, h.GetPublishedPage)

	r.Group(func(r chi.Router) {
		r.Use(writeMiddlewares...)
		r.Delete(RoutePage, h.ArchivePage)
	})
}
