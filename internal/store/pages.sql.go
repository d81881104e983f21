// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/model"
)

const pageColumns = `p.id, p.site_id, p.slug, p.is_archived, p.version, p.updated_at, pp.draft_id, pp.published_at`

const getPageBySiteAndSlug = `
SELECT ` + pageColumns + `
FROM pages p
LEFT JOIN page_published pp ON pp.page_id = p.id
WHERE p.site_id = ? AND p.slug = ?`

// GetPageBySiteAndSlug loads a page together with its published pointer.
func (q *Queries) GetPageBySiteAndSlug(ctx context.Context, siteID uuid.UUID, slug string) (model.Page, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(getPageBySiteAndSlug), siteID, slug)
	return scanPage(row)
}

const getPageByID = `
SELECT ` + pageColumns + `
FROM pages p
LEFT JOIN page_published pp ON pp.page_id = p.id
WHERE p.id = ?`

// GetPageByID loads a page together with its published pointer.
func (q *Queries) GetPageByID(ctx context.Context, id uuid.UUID) (model.Page, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(getPageByID), id)
	return scanPage(row)
}

func scanPage(row *sql.Row) (model.Page, error) {
	var (
		p           model.Page
		draftID     uuid.NullUUID
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&p.SiteID,
		&p.Slug,
		&p.IsArchived,
		&p.Version,
		&p.UpdatedAt,
		&draftID,
		&publishedAt,
	)
	if err != nil {
		return p, err
	}
	if draftID.Valid {
		p.Published = &model.PagePublished{
			PageID:      p.ID,
			DraftID:     draftID.UUID,
			PublishedAt: publishedAt.Time,
		}
	}
	return p, nil
}

const getDraftByPageAndNumber = `
SELECT id, page_id, draft_number, content
FROM page_drafts
WHERE page_id = ? AND draft_number = ?`

// GetDraftByPageAndNumber resolves a draft number within a single page.
func (q *Queries) GetDraftByPageAndNumber(ctx context.Context, pageID uuid.UUID, number int) (model.Draft, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(getDraftByPageAndNumber), pageID, number)
	var d model.Draft
	err := row.Scan(&d.ID, &d.PageID, &d.DraftNumber, &d.Content)
	return d, err
}

const getPublishedPage = `
SELECT p.id, p.site_id, p.slug, p.is_archived, p.updated_at, d.id, d.draft_number, d.content, pp.published_at
FROM pages p
JOIN page_published pp ON pp.page_id = p.id
JOIN page_drafts d ON d.id = pp.draft_id AND d.page_id = p.id
WHERE p.site_id = ? AND p.slug = ? AND p.is_archived = ?`

// GetPublishedPage returns the published snapshot of a non-archived page.
func (q *Queries) GetPublishedPage(ctx context.Context, siteID uuid.UUID, slug string) (model.PublishedPage, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(getPublishedPage), siteID, slug, false)
	var (
		p   model.PublishedPage
		rev model.PublishedRevision
	)
	err := row.Scan(
		&p.ID,
		&p.SiteID,
		&p.Slug,
		&p.IsArchived,
		&p.UpdatedAt,
		&rev.DraftID,
		&rev.DraftNumber,
		&rev.Content,
		&rev.PublishedAt,
	)
	if err != nil {
		return p, err
	}
	p.Published = &rev
	return p, nil
}

const getPageSnapshot = `
SELECT p.id, p.site_id, p.slug, p.is_archived, p.updated_at, d.id, d.draft_number, d.content, pp.published_at
FROM pages p
LEFT JOIN page_published pp ON pp.page_id = p.id
LEFT JOIN page_drafts d ON d.id = pp.draft_id AND d.page_id = p.id
WHERE p.site_id = ? AND p.slug = ?`

// GetPageSnapshot returns a page and its published draft regardless of archive state.
func (q *Queries) GetPageSnapshot(ctx context.Context, siteID uuid.UUID, slug string) (model.PublishedPage, error) {
	row := q.db.QueryRowContext(ctx, q.rebind(getPageSnapshot), siteID, slug)
	var (
		p           model.PublishedPage
		draftID     uuid.NullUUID
		draftNumber sql.NullInt64
		content     sql.NullString
		publishedAt sql.NullTime
	)
	err := row.Scan(
		&p.ID,
		&p.SiteID,
		&p.Slug,
		&p.IsArchived,
		&p.UpdatedAt,
		&draftID,
		&draftNumber,
		&content,
		&publishedAt,
	)
	if err != nil {
		return p, err
	}
	if draftID.Valid {
		p.Published = &model.PublishedRevision{
			DraftID:     draftID.UUID,
			DraftNumber: int(draftNumber.Int64),
			Content:     content.String,
			PublishedAt: publishedAt.Time,
		}
	}
	return p, nil
}

const updatePageVersioned = `
UPDATE pages
SET is_archived = ?, updated_at = ?, version = ?
WHERE id = ? AND version = ?`

type UpdatePageVersionedParams struct {
	ID              uuid.UUID
	IsArchived      bool
	UpdatedAt       time.Time
	Version         string
	ExpectedVersion string
}

// UpdatePageVersioned writes a page only if its version still equals ExpectedVersion.
// It returns the number of rows affected; zero means the version moved on.
func (q *Queries) UpdatePageVersioned(ctx context.Context, arg UpdatePageVersionedParams) (int64, error) {
	result, err := q.db.ExecContext(ctx, q.rebind(updatePageVersioned),
		arg.IsArchived,
		arg.UpdatedAt,
		arg.Version,
		arg.ID,
		arg.ExpectedVersion,
	)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

const upsertPublished = `
INSERT INTO page_published (page_id, draft_id, published_at)
VALUES (?, ?, ?)
ON CONFLICT (page_id) DO UPDATE SET draft_id = excluded.draft_id, published_at = excluded.published_at`

const upsertPublishedMySQL = `
INSERT INTO page_published (page_id, draft_id, published_at)
VALUES (?, ?, ?)
ON DUPLICATE KEY UPDATE draft_id = VALUES(draft_id), published_at = VALUES(published_at)`

type UpsertPublishedParams struct {
	PageID      uuid.UUID
	DraftID     uuid.UUID
	PublishedAt time.Time
}

// UpsertPublished creates or moves a page's published pointer.
func (q *Queries) UpsertPublished(ctx context.Context, arg UpsertPublishedParams) error {
	query := upsertPublished
	if q.dialect == DialectMySQL {
		query = upsertPublishedMySQL
	}
	_, err := q.db.ExecContext(ctx, q.rebind(query), arg.PageID, arg.DraftID, arg.PublishedAt)
	return err
}

const createPage = `
INSERT INTO pages (id, site_id, slug, is_archived, version, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`

type CreatePageParams struct {
	ID         uuid.UUID
	SiteID     uuid.UUID
	Slug       string
	IsArchived bool
	Version    string
	UpdatedAt  time.Time
}

func (q *Queries) CreatePage(ctx context.Context, arg CreatePageParams) (model.Page, error) {
	_, err := q.db.ExecContext(ctx, q.rebind(createPage),
		arg.ID,
		arg.SiteID,
		arg.Slug,
		arg.IsArchived,
		arg.Version,
		arg.UpdatedAt,
	)
	if err != nil {
		return model.Page{}, err
	}
	return model.Page{
		ID:         arg.ID,
		SiteID:     arg.SiteID,
		Slug:       arg.Slug,
		IsArchived: arg.IsArchived,
		Version:    arg.Version,
		UpdatedAt:  arg.UpdatedAt,
	}, nil
}

const createDraft = `
INSERT INTO page_drafts (id, page_id, draft_number, content)
VALUES (?, ?, ?, ?)`

type CreateDraftParams struct {
	ID          uuid.UUID
	PageID      uuid.UUID
	DraftNumber int
	Content     string
}

func (q *Queries) CreateDraft(ctx context.Context, arg CreateDraftParams) (model.Draft, error) {
	_, err := q.db.ExecContext(ctx, q.rebind(createDraft), arg.ID, arg.PageID, arg.DraftNumber, arg.Content)
	if err != nil {
		return model.Draft{}, err
	}
	return model.Draft{
		ID:          arg.ID,
		PageID:      arg.PageID,
		DraftNumber: arg.DraftNumber,
		Content:     arg.Content,
	}, nil
}
