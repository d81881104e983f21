// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package service implements the archive-and-publish transition and the
// published page read path.
package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/olegiv/ocms-publish/internal/cache"
	"github.com/olegiv/ocms-publish/internal/metrics"
	"github.com/olegiv/ocms-publish/internal/model"
	"github.com/olegiv/ocms-publish/internal/notify"
	"github.com/olegiv/ocms-publish/internal/store"
	"github.com/olegiv/ocms-publish/internal/tracing"
)

// notifyTimeout bounds event delivery after a committed transition.
const notifyTimeout = 2 * time.Second

// loadTimeout bounds a shared published-page load, which outlives any single
// caller's cancellation.
const loadTimeout = 10 * time.Second

// MaxRetries is the number of times a conflicting archive is re-run.
const MaxRetries = 1

var (
	// ErrPageNotFound is returned when no page exists for (site, slug), or on
	// the read path when the page has no published snapshot.
	ErrPageNotFound = errors.New("page not found")

	// ErrInvalidDraft is returned when the requested draft number does not
	// exist for the page.
	ErrInvalidDraft = errors.New("draft not found for page")

	// ErrConflictAfterRetries is returned when the page kept changing under
	// the request after the retry budget was spent.
	ErrConflictAfterRetries = errors.New("page modified concurrently")
)

// UnitOfWork is the transaction boundary used by the archive flow.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	SaveChanges(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback() error
	Clear()
	Reload(ctx context.Context, page *model.Page) error
}

// PageStore reads pages and drafts through a UnitOfWork.
type PageStore interface {
	GetPageWithPublishedTracking(ctx context.Context, siteID uuid.UUID, slug string) (*model.Page, error)
	GetDraftByPageAndNumber(ctx context.Context, pageID uuid.UUID, number int) (*model.Draft, error)
}

// PublishedReader loads published snapshots without tracking.
type PublishedReader interface {
	GetPublishedPage(ctx context.Context, siteID uuid.UUID, slug string) (*model.PublishedPage, error)
}

// PublishedCache is the read-side cache. Implementations never fail the caller.
type PublishedCache interface {
	Get(ctx context.Context, siteID uuid.UUID, slug string) (page *model.PublishedPage, found bool, hit bool)
	Put(ctx context.Context, siteID uuid.UUID, slug string, page *model.PublishedPage)
	Invalidate(ctx context.Context, siteID uuid.UUID, slug string)
}

// SessionFactory returns a fresh unit of work and the page store bound to it.
type SessionFactory func() (UnitOfWork, PageStore)

// StoreSessions returns a SessionFactory backed by the SQL store.
func StoreSessions(db *sql.DB, dialect store.Dialect, hooks store.Hooks) SessionFactory {
	return func() (UnitOfWork, PageStore) {
		uow := store.NewUnitOfWork(db, dialect, hooks)
		return uow, uow.Pages()
	}
}

// PageServiceDeps holds the collaborators of a PageService.
type PageServiceDeps struct {
	Sessions SessionFactory
	Reader   PublishedReader
	Cache    PublishedCache
	Logger   *slog.Logger

	// Notifier receives committed transitions. Defaults to notify.Nop.
	Notifier notify.Notifier
	// Tracer defaults to the global provider's tracer.
	Tracer trace.Tracer
	// Now defaults to time.Now.
	Now func() time.Time
}

// PageService archives pages and serves their published snapshots.
type PageService struct {
	sessions SessionFactory
	reader   PublishedReader
	cache    PublishedCache
	logger   *slog.Logger
	notifier notify.Notifier
	tracer   trace.Tracer
	now      func() time.Time
	loads    singleflight.Group
}

// NewPageService creates a PageService.
func NewPageService(deps PageServiceDeps) *PageService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.Nop{}
	}
	tracer := deps.Tracer
	if tracer == nil {
		tracer = tracing.Tracer()
	}
	return &PageService{
		sessions: deps.Sessions,
		reader:   deps.Reader,
		cache:    deps.Cache,
		logger:   logger,
		notifier: notifier,
		tracer:   tracer,
		now:      now,
	}
}

// NewStorePageService wires a PageService to the SQL store and pageCache.
func NewStorePageService(db *sql.DB, dialect store.Dialect, pageCache *cache.PublishedPageCache, logger *slog.Logger, hooks store.Hooks) *PageService {
	return NewPageService(PageServiceDeps{
		Sessions: StoreSessions(db, dialect, hooks),
		Reader:   store.NewPageRepository(db, dialect),
		Cache:    pageCache,
		Logger:   logger,
	})
}

// ArchiveAndMaybePublish archives the page (siteID, slug) and, when
// draftNumber is set, points its published snapshot at that draft.
//
// A request that finds the page already archived and published to the
// requested draft succeeds without writing. A concurrency conflict is retried
// MaxRetries times before ErrConflictAfterRetries is returned.
func (s *PageService) ArchiveAndMaybePublish(ctx context.Context, siteID uuid.UUID, slug string, draftNumber *int) (err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "PageService.ArchiveAndMaybePublish", trace.WithAttributes(pageAttrs(siteID, slug)...))
	if draftNumber != nil {
		span.SetAttributes(attribute.Int("ocms.draft_number", *draftNumber))
	}
	defer func() {
		outcome := Classify(err)
		metrics.ObserveArchive(outcome.String(), time.Since(start))
		endSpan(span, outcome, err)
	}()

	uow, pages := s.sessions()

	for attempt := 0; ; attempt++ {
		res, err := s.archiveOnce(ctx, uow, pages, siteID, slug, draftNumber)
		if err == nil {
			span.SetAttributes(attribute.Bool("ocms.noop", res.noop))
			if !res.noop {
				s.notify(ctx, notify.NewPageEvent(res.page, res.draft))
			}
			return nil
		}
		if !errors.Is(err, store.ErrConcurrencyConflict) {
			if Classify(err) == OutcomeUnexpected {
				s.logger.Error("archiving page failed",
					"category", model.EventCategoryPage,
					"site_id", siteID,
					"slug", slug,
					"error", err,
				)
			}
			return err
		}

		metrics.ArchiveConflicts.Inc()
		span.AddEvent("conflict", trace.WithAttributes(attribute.Int("attempt", attempt)))
		pageID := uuid.Nil
		if res.page != nil {
			pageID = res.page.ID
		}
		if attempt >= MaxRetries {
			s.logger.Warn("page modified concurrently, giving up",
				"category", model.EventCategoryPage,
				"page_id", pageID,
				"attempt", attempt,
				"error", err,
			)
			return fmt.Errorf("%w: page %s after %d attempts", ErrConflictAfterRetries, pageID, attempt+1)
		}

		s.logger.Warn("page modified concurrently, retrying",
			"category", model.EventCategoryPage,
			"page_id", pageID,
			"attempt", attempt,
		)
		if res.page != nil {
			// The retry reads the page again; a failed reload only costs the log line.
			if rerr := uow.Reload(ctx, res.page); rerr != nil {
				s.logger.Debug("reloading conflicting page failed", "page_id", pageID, "error", rerr)
			} else {
				s.logger.Debug("reloaded conflicting page", "page_id", pageID, "archived", res.page.IsArchived)
			}
		}
		uow.Clear()
	}
}

// attemptResult is what one archiveOnce call saw and did. page is set whenever the
// page was loaded, so a conflicting attempt can be reloaded.
type attemptResult struct {
	page  *model.Page
	draft *model.Draft
	noop  bool
}

// archiveOnce runs a single attempt in its own transaction. The transaction
// is always closed before it returns.
func (s *PageService) archiveOnce(ctx context.Context, uow UnitOfWork, pages PageStore, siteID uuid.UUID, slug string, draftNumber *int) (attemptResult, error) {
	var res attemptResult
	if err := uow.Begin(ctx); err != nil {
		return res, err
	}
	defer s.rollback(uow)

	page, err := pages.GetPageWithPublishedTracking(ctx, siteID, slug)
	if err != nil {
		return res, err
	}
	if page == nil {
		return res, ErrPageNotFound
	}
	res.page = page

	if draftNumber != nil {
		res.draft, err = pages.GetDraftByPageAndNumber(ctx, page.ID, *draftNumber)
		if err != nil {
			return res, err
		}
		if res.draft == nil {
			return res, fmt.Errorf("%w: draft %d of page %s", ErrInvalidDraft, *draftNumber, page.ID)
		}
	}
	draft := res.draft

	if draft != nil && page.IsArchived && page.IsPublishedTo(draft.ID) {
		s.cache.Invalidate(ctx, siteID, slug)
		if err := uow.SaveChanges(ctx); err != nil {
			return res, err
		}
		if err := uow.Commit(ctx); err != nil {
			return res, err
		}
		s.logger.Debug("page already archived and published", "page_id", page.ID, "draft", draft.DraftNumber)
		res.noop = true
		return res, nil
	}

	now := s.now().UTC().Truncate(time.Microsecond)
	page.IsArchived = true
	page.UpdatedAt = now
	if draft != nil {
		page.Published = &model.PagePublished{
			PageID:      page.ID,
			DraftID:     draft.ID,
			PublishedAt: now,
		}
	}

	if err := uow.SaveChanges(ctx); err != nil {
		return res, err
	}
	if err := uow.Commit(ctx); err != nil {
		return res, err
	}

	s.cache.Invalidate(ctx, siteID, slug)

	attrs := []any{"page_id", page.ID, "site_id", siteID, "slug", slug}
	if draft != nil {
		attrs = append(attrs, "draft", draft.DraftNumber)
	}
	s.logger.Info("page archived", attrs...)
	return res, nil
}

// notify delivers e after the transition has committed. The request's
// cancellation does not apply; delivery is bounded by notifyTimeout instead.
func (s *PageService) notify(ctx context.Context, e notify.PageEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), notifyTimeout)
	defer cancel()

	if err := s.notifier.Notify(ctx, e); err != nil {
		metrics.Notifications.WithLabelValues(e.Type, "error").Inc()
		s.logger.Warn("page notification failed",
			"category", model.EventCategoryMessages,
			"event", e.Type,
			"page_id", e.PageID,
			"error", err,
		)
		return
	}
	metrics.Notifications.WithLabelValues(e.Type, "sent").Inc()
}

func (s *PageService) rollback(uow UnitOfWork) {
	if err := uow.Rollback(); err != nil {
		s.logger.Error("rollback failed", "category", model.EventCategoryPage, "error", err)
	}
}

// GetPublishedPage returns the published snapshot of a non-archived page, or
// ErrPageNotFound. Results, including absence, are cached. Concurrent misses
// for the same page share one store query; a caller that gives up does not
// cancel the query for the others.
func (s *PageService) GetPublishedPage(ctx context.Context, siteID uuid.UUID, slug string) (page *model.PublishedPage, err error) {
	ctx, span := s.tracer.Start(ctx, "PageService.GetPublishedPage", trace.WithAttributes(pageAttrs(siteID, slug)...))
	defer func() { endSpan(span, Classify(err), err) }()

	if page, found, hit := s.cache.Get(ctx, siteID, slug); hit {
		span.SetAttributes(attribute.Bool("ocms.cache_hit", true))
		if !found {
			return nil, ErrPageNotFound
		}
		return page, nil
	}
	span.SetAttributes(attribute.Bool("ocms.cache_hit", false))

	key := cache.PublishedPageKey(siteID, slug)
	loadCtx := context.WithoutCancel(ctx)
	ch := s.loads.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(loadCtx, loadTimeout)
		defer cancel()

		page, err := s.reader.GetPublishedPage(ctx, siteID, slug)
		if err != nil {
			return nil, err
		}
		s.cache.Put(ctx, siteID, slug, page)
		return page, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, fmt.Errorf("waiting for published page: %w", ctx.Err())
	}
	span.SetAttributes(attribute.Bool("ocms.load_shared", res.Shared))
	if res.Err != nil {
		return nil, fmt.Errorf("loading published page: %w", res.Err)
	}

	page, _ = res.Val.(*model.PublishedPage)
	if page == nil {
		return nil, ErrPageNotFound
	}
	return page, nil
}

func pageAttrs(siteID uuid.UUID, slug string) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("ocms.site_id", siteID.String()),
		attribute.String("ocms.slug", slug),
	}
}

// endSpan records the outcome on span and ends it. Only conflicts and
// unexpected failures mark the span as an error.
func endSpan(span trace.Span, outcome Outcome, err error) {
	span.SetAttributes(attribute.String("ocms.outcome", outcome.String()))
	if outcome == OutcomeConflict || outcome == OutcomeUnexpected {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome.String())
	}
	span.End()
}
