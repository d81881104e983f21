// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package handler provides the operational HTTP handlers of the service.
package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/olegiv/ocms-publish/internal/cache"
	"github.com/olegiv/ocms-publish/internal/version"
)

// Check statuses.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// pingTimeout bounds each dependency check.
const pingTimeout = 2 * time.Second

// DBPinger is satisfied by *sql.DB.
type DBPinger interface {
	PingContext(ctx context.Context) error
}

// ConnChecker reports whether a long-lived client is connected.
type ConnChecker interface {
	Connected() bool
}

// HealthHandler handles health check requests.
type HealthHandler struct {
	db           DBPinger
	cache        cache.Cacher
	cacheBackend string
	events       ConnChecker
	version      version.Info
	startTime    time.Time
}

// NewHealthHandler creates a new health handler. backend is the name of the
// active cache backend as returned by cache.NewCache.
func NewHealthHandler(db DBPinger, c cache.Cacher, backend string, v version.Info) *HealthHandler {
	return &HealthHandler{
		db:           db,
		cache:        c,
		cacheBackend: backend,
		version:      v,
		startTime:    time.Now(),
	}
}

// WithEvents adds the page event publisher to /health. A disconnected
// publisher degrades the service.
func (h *HealthHandler) WithEvents(c ConnChecker) *HealthHandler {
	h.events = c
	return h
}

// HealthStatus represents the overall health status.
type HealthStatus struct {
	Status    string           `json:"status"`
	Timestamp time.Time        `json:"timestamp"`
	Uptime    string           `json:"uptime"`
	Version   version.Info     `json:"version"`
	Checks    map[string]Check `json:"checks"`
	System    *SystemInfo      `json:"system,omitempty"`
}

// Check represents a single health check result.
type Check struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Latency string `json:"latency,omitempty"`
}

// SystemInfo contains system-level information.
type SystemInfo struct {
	GoVersion    string `json:"go_version"`
	NumGoroutine int    `json:"num_goroutines"`
	NumCPU       int    `json:"num_cpus"`
	MemAlloc     string `json:"mem_alloc"`
	MemSys       string `json:"mem_sys"`
}

// Health handles GET /health. The database being unreachable makes the
// service unhealthy (503); a failing cache only degrades it, because reads
// fall through to the database.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	dbCheck := h.checkDatabase(r.Context())
	cacheCheck := h.checkCache(r.Context())

	status := HealthStatus{
		Status:    StatusHealthy,
		Timestamp: time.Now().UTC(),
		Uptime:    time.Since(h.startTime).Round(time.Second).String(),
		Version:   h.version,
		Checks: map[string]Check{
			"database": dbCheck,
			"cache":    cacheCheck,
		},
	}
	if h.events != nil {
		status.Checks["events"] = h.checkEvents()
	}

	code := http.StatusOK
	switch {
	case dbCheck.Status != StatusHealthy:
		status.Status = StatusUnhealthy
		code = http.StatusServiceUnavailable
	case cacheCheck.Status != StatusHealthy:
		status.Status = StatusDegraded
	case h.events != nil && status.Checks["events"].Status != StatusHealthy:
		status.Status = StatusDegraded
	}

	if r.URL.Query().Get("verbose") == "true" {
		status.System = systemInfo()
	}

	writeJSON(w, code, status)
}

// Liveness handles GET /health/live.
func (h *HealthHandler) Liveness(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "alive"})
}

// Readiness handles GET /health/ready - checks if the service is ready to accept traffic.
func (h *HealthHandler) Readiness(w http.ResponseWriter, r *http.Request) {
	dbCheck := h.checkDatabase(r.Context())
	if dbCheck.Status != StatusHealthy {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status":  "not_ready",
			"message": dbCheck.Message,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// checkDatabase verifies database connectivity.
func (h *HealthHandler) checkDatabase(ctx context.Context) Check {
	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()

	start := time.Now()
	err := h.db.PingContext(ctx)
	latency := time.Since(start)

	if err != nil {
		return Check{
			Status:  StatusUnhealthy,
			Message: err.Error(),
			Latency: latency.String(),
		}
	}

	return Check{
		Status:  StatusHealthy,
		Message: "Connected",
		Latency: latency.String(),
	}
}

// checkCache pings out-of-process backends and reports entry counts for the
// in-memory one.
func (h *HealthHandler) checkCache(ctx context.Context) Check {
	if h.cache == nil {
		return Check{Status: StatusHealthy, Message: "disabled"}
	}

	if p, ok := h.cache.(cache.Pinger); ok {
		ctx, cancel := context.WithTimeout(ctx, pingTimeout)
		defer cancel()

		start := time.Now()
		err := p.Ping(ctx)
		latency := time.Since(start)
		if err != nil {
			return Check{
				Status:  StatusUnhealthy,
				Message: h.cacheBackend + ": " + err.Error(),
				Latency: latency.String(),
			}
		}
		return Check{Status: StatusHealthy, Message: h.cacheBackend, Latency: latency.String()}
	}

	msg := h.cacheBackend
	if sp, ok := h.cache.(cache.StatsProvider); ok {
		msg = fmt.Sprintf("%s (%d items)", h.cacheBackend, sp.Stats().Items)
	}
	return Check{Status: StatusHealthy, Message: msg}
}

func (h *HealthHandler) checkEvents() Check {
	if h.events.Connected() {
		return Check{Status: StatusHealthy, Message: "nats"}
	}
	return Check{Status: StatusUnhealthy, Message: "nats: disconnected"}
}

// systemInfo returns system-level metrics.
func systemInfo() *SystemInfo {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	return &SystemInfo{
		GoVersion:    runtime.Version(),
		NumGoroutine: runtime.NumGoroutine(),
		NumCPU:       runtime.NumCPU(),
		MemAlloc:     formatBytes(m.Alloc),
		MemSys:       formatBytes(m.Sys),
	}
}

// formatBytes formats bytes into a human-readable string.
func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
