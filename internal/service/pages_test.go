// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/olegiv/ocms-publish/internal/model"
	"github.com/olegiv/ocms-publish/internal/store"
	"github.com/olegiv/ocms-publish/internal/testutil"
)

// scriptedSession is a UnitOfWork and PageStore whose failures are queued
// up front. It records every call in order.
type scriptedSession struct {
	page   *model.Page
	drafts map[int]*model.Draft

	loadErr    error
	saveErrs   []error
	commitErrs []error

	calls []string
	saves int
}

func (s *scriptedSession) Begin(context.Context) error {
	s.calls = append(s.calls, "begin")
	return nil
}

func (s *scriptedSession) SaveChanges(context.Context) error {
	s.calls = append(s.calls, "save")
	s.saves++
	return pop(&s.saveErrs)
}

func (s *scriptedSession) Commit(context.Context) error {
	s.calls = append(s.calls, "commit")
	return pop(&s.commitErrs)
}

func (s *scriptedSession) Rollback() error {
	s.calls = append(s.calls, "rollback")
	return nil
}

func (s *scriptedSession) Clear() {
	s.calls = append(s.calls, "clear")
}

func (s *scriptedSession) Reload(context.Context, *model.Page) error {
	s.calls = append(s.calls, "reload")
	return nil
}

func (s *scriptedSession) GetPageWithPublishedTracking(_ context.Context, siteID uuid.UUID, slug string) (*model.Page, error) {
	s.calls = append(s.calls, "load")
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	if s.page == nil || s.page.SiteID != siteID || s.page.Slug != slug {
		return nil, nil
	}
	cp := *s.page
	return &cp, nil
}

func (s *scriptedSession) GetDraftByPageAndNumber(_ context.Context, pageID uuid.UUID, number int) (*model.Draft, error) {
	d, ok := s.drafts[number]
	if !ok || d.PageID != pageID {
		return nil, nil
	}
	return d, nil
}

func (s *scriptedSession) count(call string) int {
	n := 0
	for _, c := range s.calls {
		if c == call {
			n++
		}
	}
	return n
}

func pop(errs *[]error) error {
	if len(*errs) == 0 {
		return nil
	}
	err := (*errs)[0]
	*errs = (*errs)[1:]
	return err
}

// recordingCache is an in-process PublishedCache that counts calls.
type recordingCache struct {
	mu            sync.Mutex
	entries       map[string]*model.PublishedPage
	invalidations int
}

func newRecordingCache() *recordingCache {
	return &recordingCache{entries: make(map[string]*model.PublishedPage)}
}

func (c *recordingCache) Get(_ context.Context, siteID uuid.UUID, slug string) (*model.PublishedPage, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	page, ok := c.entries[siteID.String()+slug]
	if !ok {
		return nil, false, false
	}
	return page, page != nil, true
}

func (c *recordingCache) Put(_ context.Context, siteID uuid.UUID, slug string, page *model.PublishedPage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[siteID.String()+slug] = page
}

func (c *recordingCache) Invalidate(_ context.Context, siteID uuid.UUID, slug string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, siteID.String()+slug)
	c.invalidations++
}

func newScriptedSession() *scriptedSession {
	page := &model.Page{
		ID:      uuid.New(),
		SiteID:  uuid.New(),
		Slug:    "about",
		Version: "v1",
	}
	return &scriptedSession{
		page: page,
		drafts: map[int]*model.Draft{
			1: {ID: uuid.New(), PageID: page.ID, DraftNumber: 1, Content: "Draft 1 Content"},
			2: {ID: uuid.New(), PageID: page.ID, DraftNumber: 2, Content: "Draft 2 Content"},
		},
	}
}

func newScriptedService(sess *scriptedSession, c PublishedCache) *PageService {
	return NewPageService(PageServiceDeps{
		Sessions: func() (UnitOfWork, PageStore) { return sess, sess },
		Cache:    c,
		Logger:   testutil.Logger(),
	})
}

func conflict(pageID uuid.UUID) error {
	return &store.ConflictError{PageID: pageID}
}

func intPtr(n int) *int { return &n }

func TestArchive_RetriesOnceAfterConflict(t *testing.T) {
	sess := newScriptedSession()
	sess.saveErrs = []error{conflict(sess.page.ID)}
	c := newRecordingCache()
	svc := newScriptedService(sess, c)

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", intPtr(1))

	require.NoError(t, err)
	assert.Equal(t, []string{
		"begin", "load", "save", "rollback", "reload", "clear",
		"begin", "load", "save", "commit", "rollback",
	}, sess.calls)
	assert.Equal(t, 1, c.invalidations)
}

func TestArchive_CommitConflictIsRetried(t *testing.T) {
	sess := newScriptedSession()
	sess.commitErrs = []error{conflict(sess.page.ID)}
	svc := newScriptedService(sess, newRecordingCache())

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", nil)

	require.NoError(t, err)
	assert.Equal(t, 2, sess.count("begin"))
	assert.Equal(t, 2, sess.count("commit"))
}

func TestArchive_ConflictAfterRetries(t *testing.T) {
	sess := newScriptedSession()
	sess.saveErrs = []error{conflict(sess.page.ID), conflict(sess.page.ID), conflict(sess.page.ID)}
	c := newRecordingCache()
	svc := newScriptedService(sess, c)

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", intPtr(1))

	require.ErrorIs(t, err, ErrConflictAfterRetries)
	assert.Equal(t, OutcomeConflict, Classify(err))
	assert.Equal(t, 1+MaxRetries, sess.count("begin"))
	assert.Equal(t, MaxRetries, sess.count("clear"))
	assert.Equal(t, 0, sess.count("commit"))
	assert.Equal(t, "rollback", sess.calls[len(sess.calls)-1])
	assert.Equal(t, 0, c.invalidations, "failed archive must not invalidate the cache")
}

func TestArchive_UnexpectedErrorIsNotRetried(t *testing.T) {
	sess := newScriptedSession()
	diskErr := errors.New("disk I/O error")
	sess.saveErrs = []error{diskErr}
	svc := newScriptedService(sess, newRecordingCache())

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", nil)

	require.ErrorIs(t, err, diskErr)
	assert.Equal(t, OutcomeUnexpected, Classify(err))
	assert.Equal(t, 1, sess.count("begin"))
	assert.Equal(t, []string{"begin", "load", "save", "rollback"}, sess.calls)
}

func TestArchive_CancellationRollsBackFirst(t *testing.T) {
	sess := newScriptedSession()
	sess.saveErrs = []error{context.Canceled}
	svc := newScriptedService(sess, newRecordingCache())

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", intPtr(2))

	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "rollback", sess.calls[len(sess.calls)-1])
	assert.Equal(t, 0, sess.count("commit"))
}

func TestArchive_NotFound(t *testing.T) {
	sess := newScriptedSession()
	c := newRecordingCache()
	svc := newScriptedService(sess, c)

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "missing", intPtr(1))

	require.ErrorIs(t, err, ErrPageNotFound)
	assert.Equal(t, OutcomeNotFound, Classify(err))
	assert.Equal(t, []string{"begin", "load", "rollback"}, sess.calls)
	assert.Equal(t, 0, c.invalidations)
}

func TestArchive_InvalidDraft(t *testing.T) {
	sess := newScriptedSession()
	// Draft 999 exists, but for another page.
	sess.drafts[999] = &model.Draft{ID: uuid.New(), PageID: uuid.New(), DraftNumber: 999}
	svc := newScriptedService(sess, newRecordingCache())

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", intPtr(999))

	require.ErrorIs(t, err, ErrInvalidDraft)
	assert.Equal(t, OutcomeInvalidArgument, Classify(err))
	assert.Equal(t, 0, sess.saves)
}

func TestArchive_IdempotentNoOp(t *testing.T) {
	sess := newScriptedSession()
	updated := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	sess.page.IsArchived = true
	sess.page.UpdatedAt = updated
	sess.page.Published = &model.PagePublished{PageID: sess.page.ID, DraftID: sess.drafts[1].ID, PublishedAt: updated}
	c := newRecordingCache()
	svc := newScriptedService(sess, c)

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", intPtr(1))

	require.NoError(t, err)
	assert.Equal(t, []string{"begin", "load", "save", "commit", "rollback"}, sess.calls)
	assert.Equal(t, 1, c.invalidations, "no-op still refreshes the cache")
}

func TestArchive_LoadErrorIsUnexpected(t *testing.T) {
	sess := newScriptedSession()
	sess.loadErr = errors.New("connection refused")
	svc := newScriptedService(sess, newRecordingCache())

	err := svc.ArchiveAndMaybePublish(context.Background(), sess.page.SiteID, "about", nil)

	require.Error(t, err)
	assert.Equal(t, OutcomeUnexpected, Classify(err))
	assert.Equal(t, []string{"begin", "load", "rollback"}, sess.calls)
}

// stubReader returns a fixed result and counts calls.
type stubReader struct {
	page    *model.PublishedPage
	err     error
	calls   atomic.Int32
	release chan struct{}
}

func (r *stubReader) GetPublishedPage(ctx context.Context, _ uuid.UUID, _ string) (*model.PublishedPage, error) {
	r.calls.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return r.page, r.err
}

func newReaderService(r PublishedReader, c PublishedCache) *PageService {
	return NewPageService(PageServiceDeps{
		Reader: r,
		Cache:  c,
		Logger: testutil.Logger(),
	})
}

func TestGetPublishedPage_MissPopulatesCache(t *testing.T) {
	siteID := uuid.New()
	want := &model.PublishedPage{ID: uuid.New(), SiteID: siteID, Slug: "about"}
	reader := &stubReader{page: want}
	svc := newReaderService(reader, newRecordingCache())
	ctx := context.Background()

	got, err := svc.GetPublishedPage(ctx, siteID, "about")
	require.NoError(t, err)
	assert.Equal(t, want, got)

	got, err = svc.GetPublishedPage(ctx, siteID, "about")
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Equal(t, int32(1), reader.calls.Load(), "second read should be served from cache")
}

func TestGetPublishedPage_NegativeCaching(t *testing.T) {
	reader := &stubReader{}
	c := newRecordingCache()
	svc := newReaderService(reader, c)
	ctx := context.Background()
	siteID := uuid.New()

	_, err := svc.GetPublishedPage(ctx, siteID, "draft-only")
	require.ErrorIs(t, err, ErrPageNotFound)

	_, err = svc.GetPublishedPage(ctx, siteID, "draft-only")
	require.ErrorIs(t, err, ErrPageNotFound)
	assert.Equal(t, int32(1), reader.calls.Load())

	_, found, hit := c.Get(ctx, siteID, "draft-only")
	assert.True(t, hit)
	assert.False(t, found)
}

func TestGetPublishedPage_StoreErrorIsNotCached(t *testing.T) {
	reader := &stubReader{err: errors.New("timeout")}
	c := newRecordingCache()
	svc := newReaderService(reader, c)
	ctx := context.Background()
	siteID := uuid.New()

	_, err := svc.GetPublishedPage(ctx, siteID, "about")
	require.Error(t, err)
	assert.Equal(t, OutcomeUnexpected, Classify(err))

	_, _, hit := c.Get(ctx, siteID, "about")
	assert.False(t, hit)
}

func TestGetPublishedPage_CoalescesConcurrentMisses(t *testing.T) {
	siteID := uuid.New()
	reader := &stubReader{
		page:    &model.PublishedPage{ID: uuid.New(), SiteID: siteID, Slug: "about"},
		release: make(chan struct{}),
	}
	svc := newReaderService(reader, newRecordingCache())

	var wg sync.WaitGroup
	errs := make(chan error, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.GetPublishedPage(context.Background(), siteID, "about")
			errs <- err
		}()
	}

	time.Sleep(50 * time.Millisecond)
	close(reader.release)
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, int32(1), reader.calls.Load())
}

func TestGetPublishedPage_CancelledCallerDoesNotFailOthers(t *testing.T) {
	siteID := uuid.New()
	want := &model.PublishedPage{ID: uuid.New(), SiteID: siteID, Slug: "about"}
	reader := &stubReader{page: want, release: make(chan struct{})}
	c := newRecordingCache()
	svc := newReaderService(reader, c)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.GetPublishedPage(firstCtx, siteID, "about")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return reader.calls.Load() == 1 }, time.Second, time.Millisecond)

	type result struct {
		page *model.PublishedPage
		err  error
	}
	second := make(chan result, 1)
	go func() {
		page, err := svc.GetPublishedPage(context.Background(), siteID, "about")
		second <- result{page, err}
	}()
	time.Sleep(30 * time.Millisecond)

	cancelFirst()
	select {
	case err := <-firstErr:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("cancelled caller did not return")
	}

	close(reader.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, want, res.page)
	case <-time.After(time.Second):
		t.Fatal("second caller did not return")
	}
	assert.Equal(t, int32(1), reader.calls.Load())

	_, found, hit := c.Get(context.Background(), siteID, "about")
	assert.True(t, hit && found, "shared load still populates the cache")
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeSuccess},
		{ErrPageNotFound, OutcomeNotFound},
		{ErrInvalidDraft, OutcomeInvalidArgument},
		{ErrConflictAfterRetries, OutcomeConflict},
		{errors.New("boom"), OutcomeUnexpected},
		{store.ErrConcurrencyConflict, OutcomeUnexpected},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Classify(tt.err), "Classify(%v)", tt.err)
	}
	assert.Equal(t, "invalid_argument", OutcomeInvalidArgument.String())
}
