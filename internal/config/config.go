// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

// Package config loads Geomark configuration with Koanf v2 from layered
// sources: built-in defaults, an optional YAML file, and environment
// variables (highest priority).
package config

import (
	"fmt"
	"time"
)

// Config is the root configuration for the Geomark server.
type Config struct {
	Server   ServerConfig   `koanf:"server"`
	Database DatabaseConfig `koanf:"database"`
	Bulk     BulkConfig     `koanf:"bulk"`
	API      APIConfig      `koanf:"api"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port"`
	Timeout         time.Duration `koanf:"timeout"`
	RateLimitReqs   int           `koanf:"rate_limit_reqs"`
	RateLimitWindow time.Duration `koanf:"rate_limit_window"`
	CORSOrigins     []string      `koanf:"cors_origins"`
}

// DatabaseConfig holds DuckDB settings.
type DatabaseConfig struct {
	// Path is the database file path, or ":memory:" for tests.
	Path string `koanf:"path"`

	// MaxMemory is DuckDB's memory limit, e.g. "2GB".
	MaxMemory string `koanf:"max_memory"`

	// Threads is the DuckDB thread count. 0 means runtime.NumCPU().
	Threads int `koanf:"threads"`
}

// BulkConfig holds bulk import pipeline settings.
type BulkConfig struct {
	// Workers bounds concurrent record processing within one job.
	Workers int `koanf:"workers"`

	// MaxBatchSize is the largest accepted input batch.
	MaxBatchSize int `koanf:"max_batch_size"`

	// RecordTimeout bounds each record's storage call.
	RecordTimeout time.Duration `koanf:"record_timeout"`

	// RatePerSecond throttles record creation against storage.
	// 0 disables throttling.
	RatePerSecond float64 `koanf:"rate_per_second"`

	// JobRetention is how long completed job reports are kept for
	// status lookups before cleanup.
	JobRetention time.Duration `koanf:"job_retention"`
}

// APIConfig holds pagination settings.
type APIConfig struct {
	DefaultPageSize int `koanf:"default_page_size"`
	MaxPageSize     int `koanf:"max_page_size"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// Validate checks cross-field constraints not expressible as defaults.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path must not be empty")
	}
	if c.Bulk.Workers < 1 {
		return fmt.Errorf("bulk.workers must be at least 1")
	}
	if c.Bulk.MaxBatchSize < 1 {
		return fmt.Errorf("bulk.max_batch_size must be at least 1")
	}
	if c.API.MaxPageSize < c.API.DefaultPageSize {
		return fmt.Errorf("api.max_page_size %d below default_page_size %d",
			c.API.MaxPageSize, c.API.DefaultPageSize)
	}
	return nil
}
