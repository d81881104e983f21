// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package notify publishes page change events for downstream consumers
// (search indexers, CDN purgers, static site builders).
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/model"
)

// Event types.
const (
	EventPageArchived  = "page.archived"
	EventPagePublished = "page.published"
)

// PageEvent describes a committed page transition. Draft fields are set
// only for EventPagePublished.
type PageEvent struct {
	ID          uuid.UUID  `json:"id"`
	Type        string     `json:"type"`
	Timestamp   time.Time  `json:"timestamp"`
	SiteID      uuid.UUID  `json:"site_id"`
	PageID      uuid.UUID  `json:"page_id"`
	Slug        string     `json:"slug"`
	DraftID     *uuid.UUID `json:"draft_id,omitempty"`
	DraftNumber *int       `json:"draft_number,omitempty"`
}

// NewPageEvent builds the event for page after it was archived and, when
// draft is non-nil, published to draft.
func NewPageEvent(page *model.Page, draft *model.Draft) PageEvent {
	e := PageEvent{
		ID:        uuid.New(),
		Type:      EventPageArchived,
		Timestamp: page.UpdatedAt.UTC(),
		SiteID:    page.SiteID,
		PageID:    page.ID,
		Slug:      page.Slug,
	}
	if draft != nil {
		id, n := draft.ID, draft.DraftNumber
		e.Type = EventPagePublished
		e.DraftID = &id
		e.DraftNumber = &n
	}
	return e
}

// Notifier delivers page events. Delivery is best effort: callers log
// failures and carry on.
type Notifier interface {
	Notify(ctx context.Context, e PageEvent) error
	Close() error
}

// Nop discards every event. It is used when no broker is configured.
type Nop struct{}

func (Nop) Notify(context.Context, PageEvent) error { return nil }
func (Nop) Close() error                            { return nil }
