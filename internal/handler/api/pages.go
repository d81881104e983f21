// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/model"
	"github.com/olegiv/ocms-publish/internal/service"
	"github.com/olegiv/ocms-publish/internal/util"
)

// Route parameters and query keys.
const (
	ParamSiteID       = "siteId"
	ParamSlug         = "slug"
	QueryPublishDraft = "publishDraft"
)

// Route patterns relative to /api/v1.
const (
	RoutePage          = "/sites/{" + ParamSiteID + "}/pages/{" + ParamSlug + "}"
	RoutePagePublished = RoutePage + "/published"
)

// PublishedPageResponse represents a published page in API responses.
type PublishedPageResponse struct {
	ID         uuid.UUID                  `json:"id"`
	SiteID     uuid.UUID                  `json:"site_id"`
	Slug       string                     `json:"slug"`
	IsArchived bool                       `json:"is_archived"`
	UpdatedAt  time.Time                  `json:"updated_at"`
	Published  *PublishedRevisionResponse `json:"published,omitempty"`
}

// PublishedRevisionResponse is the published draft of a page.
type PublishedRevisionResponse struct {
	DraftID     uuid.UUID `json:"draft_id"`
	DraftNumber int       `json:"draft_number"`
	Content     string    `json:"content"`
	ContentHTML string    `json:"content_html"`
	PublishedAt time.Time `json:"published_at"`
}

// pageAddress holds the parsed (siteId, slug) route parameters.
type pageAddress struct {
	siteID uuid.UUID
	slug   string
}

// parsePageAddress validates the route parameters, writing a 400 response on failure.
func parsePageAddress(w http.ResponseWriter, r *http.Request) (pageAddress, bool) {
	siteID, err := uuid.Parse(chi.URLParam(r, ParamSiteID))
	if err != nil {
		WriteBadRequest(w, "Invalid site ID", map[string]string{ParamSiteID: "must be a UUID"})
		return pageAddress{}, false
	}

	slug := chi.URLParam(r, ParamSlug)
	if !util.IsAddressableSlug(slug) {
		WriteBadRequest(w, "Invalid slug", map[string]string{ParamSlug: fmt.Sprintf("must be 1 to %d bytes of UTF-8", util.MaxSlugLength)})
		return pageAddress{}, false
	}

	return pageAddress{siteID: siteID, slug: slug}, true
}

// parsePublishDraft returns nil when the query parameter is absent or empty.
func parsePublishDraft(r *http.Request) (*int, bool) {
	raw := r.URL.Query().Get(QueryPublishDraft)
	if raw == "" {
		return nil, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return nil, false
	}
	return &n, true
}

// ArchivePage handles DELETE /api/v1/sites/{siteId}/pages/{slug}.
// The page is archived and, when publishDraft is given, published to that draft.
func (h *Handler) ArchivePage(w http.ResponseWriter, r *http.Request) {
	addr, ok := parsePageAddress(w, r)
	if !ok {
		return
	}

	draftNumber, ok := parsePublishDraft(r)
	if !ok {
		WriteBadRequest(w, "Invalid draft number", map[string]string{QueryPublishDraft: "must be a non-negative integer"})
		return
	}

	err := h.pages.ArchiveAndMaybePublish(r.Context(), addr.siteID, addr.slug, draftNumber)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to archive page")
		return
	}

	WriteNoContent(w)
}

// GetPublishedPage handles GET /api/v1/sites/{siteId}/pages/{slug}/published.
func (h *Handler) GetPublishedPage(w http.ResponseWriter, r *http.Request) {
	addr, ok := parsePageAddress(w, r)
	if !ok {
		return
	}

	page, err := h.pages.GetPublishedPage(r.Context(), addr.siteID, addr.slug)
	if err != nil {
		h.writeServiceError(w, r, err, "Failed to retrieve published page")
		return
	}

	resp, err := h.publishedPageToResponse(page)
	if err != nil {
		h.logger.Error("rendering published page failed", "category", model.EventCategoryPage, "page_id", page.ID, "error", err)
		WriteInternalError(w, "Failed to render published page")
		return
	}

	WriteSuccess(w, resp)
}

func (h *Handler) publishedPageToResponse(p *model.PublishedPage) (PublishedPageResponse, error) {
	resp := PublishedPageResponse{
		ID:         p.ID,
		SiteID:     p.SiteID,
		Slug:       p.Slug,
		IsArchived: p.IsArchived,
		UpdatedAt:  p.UpdatedAt,
	}
	if p.Published != nil {
		html, err := h.renderer.Render(p.Published.Content)
		if err != nil {
			return PublishedPageResponse{}, err
		}
		resp.Published = &PublishedRevisionResponse{
			DraftID:     p.Published.DraftID,
			DraftNumber: p.Published.DraftNumber,
			Content:     p.Published.Content,
			ContentHTML: html,
			PublishedAt: p.Published.PublishedAt,
		}
	}
	return resp, nil
}

// writeServiceError maps service outcomes to HTTP status codes.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error, internalMessage string) {
	switch service.Classify(err) {
	case service.OutcomeNotFound:
		WriteNotFound(w, "Page not found")
	case service.OutcomeInvalidArgument:
		WriteBadRequest(w, "Draft does not belong to the page", map[string]string{QueryPublishDraft: "unknown draft number"})
	case service.OutcomeConflict:
		WriteConflict(w, "Page was modified concurrently, please retry")
	default:
		h.logger.Error("api request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		WriteInternalError(w, internalMessage)
	}
}
