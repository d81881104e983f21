// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package model defines the domain types shared by the store, cache, service and API layers.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Page is a content page identified by (SiteID, Slug).
// Version is an opaque concurrency token regenerated on every successful mutation.
type Page struct {
	ID         uuid.UUID `json:"id"`
	SiteID     uuid.UUID `json:"site_id"`
	Slug       string    `json:"slug"`
	IsArchived bool      `json:"is_archived"`
	Version    string    `json:"-"`
	UpdatedAt  time.Time `json:"updated_at"`

	// Published is the page's published pointer, nil if the page was never published.
	Published *PagePublished `json:"published,omitempty"`
}

// Draft is an immutable content revision owned by a single page.
type Draft struct {
	ID          uuid.UUID `json:"id"`
	PageID      uuid.UUID `json:"page_id"`
	DraftNumber int       `json:"draft_number"`
	Content     string    `json:"content"`
}

// PagePublished points a page at one of its own drafts.
type PagePublished struct {
	PageID      uuid.UUID `json:"page_id"`
	DraftID     uuid.UUID `json:"draft_id"`
	PublishedAt time.Time `json:"published_at"`
}

// IsPublishedTo reports whether the page's published pointer references draftID.
func (p *Page) IsPublishedTo(draftID uuid.UUID) bool {
	return p.Published != nil && p.Published.DraftID == draftID
}

// PublishedPage is the read-side snapshot of a page and its published draft.
type PublishedPage struct {
	ID         uuid.UUID          `json:"id"`
	SiteID     uuid.UUID          `json:"site_id"`
	Slug       string             `json:"slug"`
	IsArchived bool               `json:"is_archived"`
	UpdatedAt  time.Time          `json:"updated_at"`
	Published  *PublishedRevision `json:"published,omitempty"`
}

// PublishedRevision carries the referenced draft alongside publish metadata.
type PublishedRevision struct {
	DraftID     uuid.UUID `json:"draft_id"`
	DraftNumber int       `json:"draft_number"`
	Content     string    `json:"content"`
	PublishedAt time.Time `json:"published_at"`
}
