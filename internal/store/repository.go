// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/model"
)

// PageRepository reads pages, drafts and published snapshots.
// Lookups that find nothing return (nil, nil).
type PageRepository struct {
	uow *UnitOfWork
}

// NewPageRepository returns a repository without change tracking.
func NewPageRepository(db *sql.DB, dialect Dialect) *PageRepository {
	return NewUnitOfWork(db, dialect, Hooks{}).Pages()
}

// GetPageWithPublishedTracking loads a page and its published pointer inside
// the open transaction and registers it for SaveChanges.
func (r *PageRepository) GetPageWithPublishedTracking(ctx context.Context, siteID uuid.UUID, slug string) (*model.Page, error) {
	if !r.uow.InTransaction() {
		return nil, ErrNoTransaction
	}
	p, err := r.uow.querier().GetPageBySiteAndSlug(ctx, siteID, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading page %s/%s: %w", siteID, slug, err)
	}
	r.uow.track(&p)
	return &p, nil
}

// GetDraftByPageAndNumber resolves a draft number within pageID only.
func (r *PageRepository) GetDraftByPageAndNumber(ctx context.Context, pageID uuid.UUID, number int) (*model.Draft, error) {
	d, err := r.uow.querier().GetDraftByPageAndNumber(ctx, pageID, number)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading draft %d of page %s: %w", number, pageID, err)
	}
	return &d, nil
}

// GetPublishedPage returns the published snapshot of a page that is not
// archived and has a published pointer.
func (r *PageRepository) GetPublishedPage(ctx context.Context, siteID uuid.UUID, slug string) (*model.PublishedPage, error) {
	p, err := r.uow.querier().GetPublishedPage(ctx, siteID, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading published page %s/%s: %w", siteID, slug, err)
	}
	return &p, nil
}

// GetPageSnapshot returns a page and its published draft, if any, whether or
// not the page is archived.
func (r *PageRepository) GetPageSnapshot(ctx context.Context, siteID uuid.UUID, slug string) (*model.PublishedPage, error) {
	p, err := r.uow.querier().GetPageSnapshot(ctx, siteID, slug)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("loading page snapshot %s/%s: %w", siteID, slug, err)
	}
	return &p, nil
}

// CreatePage inserts a new unarchived page with a fresh version.
func (r *PageRepository) CreatePage(ctx context.Context, siteID uuid.UUID, slug string) (*model.Page, error) {
	p, err := r.uow.querier().CreatePage(ctx, CreatePageParams{
		ID:        uuid.New(),
		SiteID:    siteID,
		Slug:      slug,
		Version:   uuid.NewString(),
		UpdatedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, fmt.Errorf("creating page %s/%s: %w", siteID, slug, err)
	}
	return &p, nil
}

// CreateDraft adds a draft to a page.
func (r *PageRepository) CreateDraft(ctx context.Context, pageID uuid.UUID, number int, content string) (*model.Draft, error) {
	d, err := r.uow.querier().CreateDraft(ctx, CreateDraftParams{
		ID:          uuid.New(),
		PageID:      pageID,
		DraftNumber: number,
		Content:     content,
	})
	if err != nil {
		return nil, fmt.Errorf("creating draft %d of page %s: %w", number, pageID, err)
	}
	return &d, nil
}

// SetPublished points a page at one of its drafts without touching the page
// row. It is meant for seeding; the archive flow goes through SaveChanges.
func (r *PageRepository) SetPublished(ctx context.Context, draft *model.Draft, publishedAt time.Time) error {
	err := r.uow.querier().UpsertPublished(ctx, UpsertPublishedParams{
		PageID:      draft.PageID,
		DraftID:     draft.ID,
		PublishedAt: publishedAt,
	})
	if err != nil {
		return fmt.Errorf("publishing draft %d of page %s: %w", draft.DraftNumber, draft.PageID, err)
	}
	return nil
}
