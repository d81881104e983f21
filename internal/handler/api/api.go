// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package api provides the REST API handlers for page archiving and the
// published page read path.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/olegiv/ocms-publish/internal/middleware"
	"github.com/olegiv/ocms-publish/internal/model"
)

// PageService is the page workflow consumed by the handlers.
type PageService interface {
	ArchiveAndMaybePublish(ctx context.Context, siteID uuid.UUID, slug string, draftNumber *int) error
	GetPublishedPage(ctx context.Context, siteID uuid.UUID, slug string) (*model.PublishedPage, error)
}

// Handler holds shared dependencies for all API handlers.
type Handler struct {
	pages    PageService
	renderer *ContentRenderer
	logger   *slog.Logger
}

// NewHandler creates a new API handler.
func NewHandler(pages PageService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		pages:    pages,
		renderer: NewContentRenderer(),
		logger:   logger,
	}
}

// Response is the standard API response wrapper.
type Response struct {
	Data any `json:"data,omitempty"`
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess writes a successful JSON response.
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteJSON(w, http.StatusOK, Response{Data: data})
}

// WriteNoContent writes an empty 204 response.
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}

// WriteError writes the shared JSON error envelope.
func WriteError(w http.ResponseWriter, statusCode int, code, message string, details map[string]string) {
	middleware.WriteError(w, statusCode, code, message, details)
}

func WriteBadRequest(w http.ResponseWriter, message string, details map[string]string) {
	WriteError(w, http.StatusBadRequest, middleware.CodeBadRequest, message, details)
}

func WriteNotFound(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusNotFound, middleware.CodeNotFound, message, nil)
}

func WriteConflict(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusConflict, middleware.CodeConflict, message, nil)
}

func WriteInternalError(w http.ResponseWriter, message string) {
	WriteError(w, http.StatusInternalServerError, middleware.CodeInternal, message, nil)
}

// StatusResponse contains API status information.
type StatusResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// Status returns the API status.
func (h *Handler) Status(w http.ResponseWriter, _ *http.Request) {
	WriteSuccess(w, StatusResponse{
		Status:  "ok",
		Version: "v1",
	})
}
