// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/model"
)

// Hooks are optional callbacks invoked by the unit of work.
type Hooks struct {
	// BeforeSave runs inside SaveChanges after the dirty set is computed and
	// before anything is written. A non-nil error aborts the save.
	BeforeSave func(ctx context.Context) error
}

// trackedPage pairs a loaded page with the state it had when it was loaded.
type trackedPage struct {
	page      *model.Page
	original  model.Page
	published *model.PagePublished
}

func newTrackedPage(p *model.Page) *trackedPage {
	t := &trackedPage{page: p}
	t.acceptChanges()
	return t
}

// acceptChanges makes the current state the new baseline.
func (t *trackedPage) acceptChanges() {
	t.original = *t.page
	t.original.Published = nil
	t.published = nil
	if t.page.Published != nil {
		cp := *t.page.Published
		t.published = &cp
	}
}

func (t *trackedPage) pageDirty() bool {
	return t.page.IsArchived != t.original.IsArchived || !t.page.UpdatedAt.Equal(t.original.UpdatedAt)
}

func (t *trackedPage) publishedDirty() bool {
	cur := t.page.Published
	switch {
	case cur == nil:
		return false
	case t.published == nil:
		return true
	default:
		return cur.DraftID != t.published.DraftID || !cur.PublishedAt.Equal(t.published.PublishedAt)
	}
}

// UnitOfWork demarcates one database transaction and tracks the pages loaded
// through it. Changes made to tracked pages are written by SaveChanges.
// A UnitOfWork is not safe for concurrent use; create one per request.
type UnitOfWork struct {
	db      *sql.DB
	queries *Queries
	hooks   Hooks

	tx      *sql.Tx
	txq     *Queries
	tracked []*trackedPage
}

// NewUnitOfWork creates a unit of work over db.
func NewUnitOfWork(db *sql.DB, dialect Dialect, hooks Hooks) *UnitOfWork {
	return &UnitOfWork{
		db:      db,
		queries: New(db, dialect),
		hooks:   hooks,
	}
}

// Pages returns a repository that reads through this unit of work.
func (u *UnitOfWork) Pages() *PageRepository {
	return &PageRepository{uow: u}
}

// Begin opens a transaction. The transaction is rolled back by database/sql
// if ctx is cancelled before Commit.
func (u *UnitOfWork) Begin(ctx context.Context) error {
	if u.tx != nil {
		return ErrTransactionActive
	}
	tx, err := u.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	u.tx = tx
	u.txq = u.queries.WithTx(tx)
	return nil
}

// InTransaction reports whether a transaction is open.
func (u *UnitOfWork) InTransaction() bool {
	return u.tx != nil
}

// SaveChanges writes every dirty tracked page inside the open transaction.
// The page row is updated only if its version is unchanged since it was
// loaded; otherwise a *ConflictError is returned.
func (u *UnitOfWork) SaveChanges(ctx context.Context) error {
	if u.tx == nil {
		return ErrNoTransaction
	}

	var dirty []*trackedPage
	for _, t := range u.tracked {
		if t.pageDirty() || t.publishedDirty() {
			dirty = append(dirty, t)
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	if u.hooks.BeforeSave != nil {
		if err := u.hooks.BeforeSave(ctx); err != nil {
			return fmt.Errorf("before save hook: %w", err)
		}
	}

	for _, t := range dirty {
		if err := u.savePage(ctx, t); err != nil {
			return err
		}
	}
	return nil
}

func (u *UnitOfWork) savePage(ctx context.Context, t *trackedPage) error {
	p := t.page
	version := uuid.NewString()

	n, err := u.txq.UpdatePageVersioned(ctx, UpdatePageVersionedParams{
		ID:              p.ID,
		IsArchived:      p.IsArchived,
		UpdatedAt:       p.UpdatedAt,
		Version:         version,
		ExpectedVersion: t.original.Version,
	})
	if err != nil {
		return u.writeError(p.ID, "updating page", err)
	}
	if n == 0 {
		return &ConflictError{PageID: p.ID}
	}

	if t.publishedDirty() {
		err := u.txq.UpsertPublished(ctx, UpsertPublishedParams{
			PageID:      p.ID,
			DraftID:     p.Published.DraftID,
			PublishedAt: p.Published.PublishedAt,
		})
		if err != nil {
			return u.writeError(p.ID, "saving published pointer", err)
		}
	}

	p.Version = version
	t.acceptChanges()
	return nil
}

func (u *UnitOfWork) writeError(pageID uuid.UUID, op string, err error) error {
	if IsSerializationFailure(err) {
		return &ConflictError{PageID: pageID, Err: err}
	}
	return fmt.Errorf("%s %s: %w", op, pageID, err)
}

// Commit commits the open transaction. The transaction is closed whether or
// not the commit succeeds. Serialization failures are reported as a
// *ConflictError.
func (u *UnitOfWork) Commit(_ context.Context) error {
	if u.tx == nil {
		return ErrNoTransaction
	}
	tx := u.tx
	u.tx, u.txq = nil, nil

	if err := tx.Commit(); err != nil {
		if IsSerializationFailure(err) {
			return &ConflictError{PageID: u.lastTrackedID(), Err: err}
		}
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (u *UnitOfWork) lastTrackedID() uuid.UUID {
	if len(u.tracked) == 0 {
		return uuid.Nil
	}
	return u.tracked[len(u.tracked)-1].page.ID
}

// Rollback aborts the open transaction. It is a no-op without one, and a
// transaction already aborted by context cancellation is not an error.
func (u *UnitOfWork) Rollback() error {
	if u.tx == nil {
		return nil
	}
	tx := u.tx
	u.tx, u.txq = nil, nil

	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rolling back transaction: %w", err)
	}
	return nil
}

// Clear forgets every tracked page.
func (u *UnitOfWork) Clear() {
	u.tracked = nil
}

// Reload re-reads page from the database outside any transaction and
// replaces its fields in place. If the page is tracked its baseline is reset.
func (u *UnitOfWork) Reload(ctx context.Context, page *model.Page) error {
	fresh, err := u.queries.GetPageByID(ctx, page.ID)
	if err != nil {
		return fmt.Errorf("reloading page %s: %w", page.ID, err)
	}
	*page = fresh
	if t := u.find(page.ID); t != nil {
		t.page = page
		t.acceptChanges()
	}
	return nil
}

// track registers p, replacing any earlier entry for the same page.
func (u *UnitOfWork) track(p *model.Page) {
	for i, t := range u.tracked {
		if t.page.ID == p.ID {
			u.tracked[i] = newTrackedPage(p)
			return
		}
	}
	u.tracked = append(u.tracked, newTrackedPage(p))
}

func (u *UnitOfWork) find(id uuid.UUID) *trackedPage {
	for _, t := range u.tracked {
		if t.page.ID == id {
			return t
		}
	}
	return nil
}

// querier returns the queries bound to the open transaction, or to the
// database when none is open.
func (u *UnitOfWork) querier() *Queries {
	if u.txq != nil {
		return u.txq
	}
	return u.queries
}
