// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

package model

import "time"

// Levels stored in the events table. They mirror slog levels at and above
// WARN; info is only used for records written with an explicit category.
const (
	EventLevelInfo    = "info"
	EventLevelWarning = "warning"
	EventLevelError   = "error"
)

// Categories group persisted log records by the subsystem that wrote them.
const (
	EventCategoryPage     = "page"
	EventCategoryCache    = "cache"
	EventCategoryMessages = "messaging"
	EventCategorySystem   = "system"
)

// Event is a persisted WARN or ERROR log record.
type Event struct {
	ID        int64     `json:"id"`
	Level     string    `json:"level"`
	Category  string    `json:"category"`
	Message   string    `json:"message"`
	Metadata  string    `json:"metadata"` // flat JSON object of strings
	CreatedAt time.Time `json:"created_at"`
}
