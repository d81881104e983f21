// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/olegiv/ocms-publish/internal/store"
)

// Logger returns a logger that only prints errors, so expected warnings
// (conflicts, cache failures) do not clutter test output.
func Logger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// DB opens a migrated SQLite database in the test's temp dir. It is closed
// when the test finishes.
func DB(t testing.TB) *sql.DB {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ocms-publish-test.db")
	db, _, err := store.Open(store.DriverSQLite, path, store.DBConfig{
		MaxOpenConns:    4,
		MaxIdleConns:    4,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := store.Migrate(db, store.DialectSQLite); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

// SeededDB is DB plus the demo site's "about" page with two drafts,
// published to draft 2.
func SeededDB(t testing.TB) *sql.DB {
	t.Helper()
	db := DB(t)
	if err := store.Seed(context.Background(), db, store.DialectSQLite); err != nil {
		t.Fatalf("seeding test database: %v", err)
	}
	return db
}
