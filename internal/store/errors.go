// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package store

import (
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	"modernc.org/sqlite"
)

var (
	// ErrConcurrencyConflict is returned when a tracked page was modified by
	// another writer between load and save.
	ErrConcurrencyConflict = errors.New("concurrency conflict")

	// ErrTransactionActive is returned by Begin when a transaction is already open.
	ErrTransactionActive = errors.New("transaction already active")

	// ErrNoTransaction is returned by operations that need an open transaction.
	ErrNoTransaction = errors.New("no active transaction")
)

// ConflictError describes a concurrency conflict on a single page.
// It matches ErrConcurrencyConflict with errors.Is.
type ConflictError struct {
	PageID uuid.UUID
	// Err is the driver error when the conflict was reported by the database
	// rather than detected by the version check.
	Err error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("concurrency conflict on page %s: %v", e.PageID, e.Err)
	}
	return fmt.Sprintf("concurrency conflict on page %s: version changed", e.PageID)
}

func (e *ConflictError) Is(target error) bool {
	return target == ErrConcurrencyConflict
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// SQLite primary result codes.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// PostgreSQL SQLSTATE codes.
const (
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// MySQL server error numbers.
const (
	mysqlLockWaitTimeout = 1205
	mysqlDeadlock        = 1213
)

// IsSerializationFailure reports whether err is a driver error meaning the
// transaction lost a race with another writer and may succeed if re-run.
func IsSerializationFailure(err error) bool {
	if err == nil {
		return false
	}

	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		// Extended codes such as SQLITE_BUSY_SNAPSHOT keep the primary code in the low byte.
		code := liteErr.Code() & 0xff
		return code == sqliteBusy || code == sqliteLocked
	}

	var cgoErr sqlite3.Error
	if errors.As(err, &cgoErr) {
		return cgoErr.Code == sqlite3.ErrBusy || cgoErr.Code == sqlite3.ErrLocked
	}

	var pgErr *pq.Error
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFailure || pgErr.Code == pgDeadlockDetected
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDeadlock || myErr.Number == mysqlLockWaitTimeout
	}

	return false
}
