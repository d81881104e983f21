// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/util"
)

// Demo content created by Seed.
var DemoSiteID = uuid.MustParse("5f0c2a1e-8b7d-4c3a-9e61-2d4b8f7a1c30")

const (
	DemoPageTitle = "Welcome Page"
	DemoDraft1    = "Draft 1 Content"
	DemoDraft2    = "Draft 2 Content"
)

// DemoSlug returns the slug of the demo page.
func DemoSlug() string {
	return util.Slugify(DemoPageTitle)
}

// Seed creates a demo page with two drafts, published to the second one.
// It does nothing if the page already exists.
func Seed(ctx context.Context, db *sql.DB, dialect Dialect) error {
	uow := NewUnitOfWork(db, dialect, Hooks{})
	repo := uow.Pages()
	slug := DemoSlug()

	existing, err := repo.GetPageSnapshot(ctx, DemoSiteID, slug)
	if err != nil {
		return fmt.Errorf("checking for demo page: %w", err)
	}
	if existing != nil {
		slog.Info("demo page already exists, skipping seed", "site_id", DemoSiteID, "slug", slug)
		return nil
	}

	if err := uow.Begin(ctx); err != nil {
		return err
	}
	defer func() { _ = uow.Rollback() }()

	page, err := repo.CreatePage(ctx, DemoSiteID, slug)
	if err != nil {
		return err
	}
	if _, err := repo.CreateDraft(ctx, page.ID, 1, DemoDraft1); err != nil {
		return err
	}
	draft2, err := repo.CreateDraft(ctx, page.ID, 2, DemoDraft2)
	if err != nil {
		return err
	}
	if err := repo.SetPublished(ctx, draft2, time.Now().UTC()); err != nil {
		return err
	}

	if err := uow.Commit(ctx); err != nil {
		return err
	}

	slog.Info("created demo page",
		"site_id", DemoSiteID,
		"slug", slug,
		"page_id", page.ID,
		"published_draft", draft2.DraftNumber,
	)
	return nil
}
