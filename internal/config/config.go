// Copyright (c) 2025-2026 Oleg Ivanchenko
// SPDX-License-Identifier: GPL-3.0-or-later

// Package config loads application configuration from OCMS_ environment variables.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Supported values for OCMS_DB_DRIVER.
const (
	DriverSQLite    = "sqlite"
	DriverSQLiteCgo = "sqlite3"
	DriverPostgres  = "postgres"
	DriverMySQL     = "mysql"
)

// Config holds the application configuration loaded from environment variables.
type Config struct {
	// Database configuration
	DBDriver string `env:"OCMS_DB_DRIVER" envDefault:"sqlite"`
	DBPath   string `env:"OCMS_DB_PATH" envDefault:"./data/ocms-publish.db"` // SQLite drivers only
	DBDSN    string `env:"OCMS_DB_DSN"`                                      // PostgreSQL and MySQL

	ServerHost string `env:"OCMS_SERVER_HOST" envDefault:"localhost"`
	ServerPort int    `env:"OCMS_SERVER_PORT" envDefault:"8080"`
	Env        string `env:"OCMS_ENV" envDefault:"development"`
	LogLevel   string `env:"OCMS_LOG_LEVEL" envDefault:"info"`

	// Cache configuration
	RedisURL          string        `env:"OCMS_REDIS_URL"`                            // Optional Redis URL for distributed caching
	CachePrefix       string        `env:"OCMS_CACHE_PREFIX" envDefault:"ocms:"`      // Redis key prefix
	CacheMaxSize      int           `env:"OCMS_CACHE_MAX_SIZE" envDefault:"10000"`    // Max memory cache entries
	CachePublishedTTL time.Duration `env:"OCMS_CACHE_PUBLISHED_TTL" envDefault:"60s"` // Published page entries
	CacheNegativeTTL  time.Duration `env:"OCMS_CACHE_NEGATIVE_TTL" envDefault:"10s"`  // "not published" entries

	// HTTP configuration
	RequestTimeout time.Duration `env:"OCMS_REQUEST_TIMEOUT" envDefault:"30s"`
	APIRateLimit   float64       `env:"OCMS_API_RATE_LIMIT" envDefault:"10"` // Write requests per second per client
	APIRateBurst   int           `env:"OCMS_API_RATE_BURST" envDefault:"20"`

	// Page event notifications
	NATSURL           string `env:"OCMS_NATS_URL"` // Optional; events are dropped when empty
	NATSSubjectPrefix string `env:"OCMS_NATS_SUBJECT_PREFIX" envDefault:"ocms.pages"`

	// Tracing configuration
	TracingExporter    string  `env:"OCMS_TRACING_EXPORTER" envDefault:"none"` // none|stdout|otlp
	TracingEndpoint    string  `env:"OCMS_TRACING_ENDPOINT"`                   // OTLP/HTTP collector host:port
	TracingInsecure    bool    `env:"OCMS_TRACING_INSECURE" envDefault:"false"`
	TracingSampleRatio float64 `env:"OCMS_TRACING_SAMPLE_RATIO" envDefault:"1"`

	// Seeding configuration
	DoSeed bool `env:"OCMS_DO_SEED" envDefault:"false"` // Enable database seeding
}

// IsDevelopment returns true if the application is running in development mode.
func (c Config) IsDevelopment() bool {
	return c.Env == "development"
}

// ServerAddr returns the full server address in host:port format.
func (c Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.ServerHost, c.ServerPort)
}

// UseRedisCache returns true if Redis caching is configured.
func (c Config) UseRedisCache() bool {
	return c.RedisURL != ""
}

// UseNATS returns true if page events should be published to NATS.
func (c Config) UseNATS() bool {
	return c.NATSURL != ""
}

// IsSQLite reports whether one of the SQLite drivers is configured.
func (c Config) IsSQLite() bool {
	return c.DBDriver == DriverSQLite || c.DBDriver == DriverSQLiteCgo
}

// DataSource returns the path or DSN handed to the database driver.
func (c Config) DataSource() string {
	if c.IsSQLite() {
		return c.DBPath
	}
	return c.DBDSN
}

// SlogLevel converts LogLevel to a slog.Level. Unknown values map to info.
func (c Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load parses environment variables and returns a validated Config.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks field values that env tags cannot express.
func (c Config) Validate() error {
	var errs []error

	switch c.DBDriver {
	case DriverSQLite, DriverSQLiteCgo:
		if c.DBPath == "" {
			errs = append(errs, errors.New("OCMS_DB_PATH must not be empty for SQLite drivers"))
		}
	case DriverPostgres, DriverMySQL:
		if c.DBDSN == "" {
			errs = append(errs, fmt.Errorf("OCMS_DB_DSN is required for driver %q", c.DBDriver))
		}
	default:
		errs = append(errs, fmt.Errorf("OCMS_DB_DRIVER %q is not supported (sqlite, sqlite3, postgres, mysql)", c.DBDriver))
	}

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, fmt.Errorf("OCMS_LOG_LEVEL %q is not one of debug, info, warn, error", c.LogLevel))
	}

	if c.ServerPort < 1 || c.ServerPort > 65535 {
		errs = append(errs, fmt.Errorf("OCMS_SERVER_PORT %d is out of range", c.ServerPort))
	}
	if c.CacheMaxSize < 0 {
		errs = append(errs, errors.New("OCMS_CACHE_MAX_SIZE must not be negative"))
	}
	if c.CachePublishedTTL <= 0 {
		errs = append(errs, errors.New("OCMS_CACHE_PUBLISHED_TTL must be positive"))
	}
	if c.CacheNegativeTTL <= 0 {
		errs = append(errs, errors.New("OCMS_CACHE_NEGATIVE_TTL must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("OCMS_REQUEST_TIMEOUT must be positive"))
	}
	if c.APIRateLimit <= 0 {
		errs = append(errs, errors.New("OCMS_API_RATE_LIMIT must be positive"))
	}
	if c.APIRateBurst < 1 {
		errs = append(errs, errors.New("OCMS_API_RATE_BURST must be at least 1"))
	}

	if c.UseNATS() && strings.TrimSpace(c.NATSSubjectPrefix) == "" {
		errs = append(errs, errors.New("OCMS_NATS_SUBJECT_PREFIX must not be empty when OCMS_NATS_URL is set"))
	}

	switch c.TracingExporter {
	case "none", "stdout":
	case "otlp":
		if c.TracingEndpoint == "" {
			errs = append(errs, errors.New("OCMS_TRACING_ENDPOINT is required for the otlp exporter"))
		}
	default:
		errs = append(errs, fmt.Errorf("OCMS_TRACING_EXPORTER %q is not one of none, stdout, otlp", c.TracingExporter))
	}
	if c.TracingSampleRatio <= 0 || c.TracingSampleRatio > 1 {
		errs = append(errs, fmt.Errorf("OCMS_TRACING_SAMPLE_RATIO %v must be in (0, 1]", c.TracingSampleRatio))
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}
