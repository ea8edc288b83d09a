// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

// Package main is the entry point for the Geomark server.
//
// Geomark stores player-placed map markers for games and answers spatial
// queries over them: bounding-box lookups, radius searches, paginated
// listings, full version history, and bulk imports with near-duplicate
// suppression.
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and config file via Koanf v2
//  2. Database: DuckDB storage for marker rows and history
//  3. Spatial index: in-memory grid rebuilt from live markers
//  4. Bulk pipeline: worker pool with circuit breaker and job registry
//  5. HTTP server: Chi REST API with Prometheus metrics
//
// Shutdown on SIGINT or SIGTERM drains in-flight requests, cancels
// running bulk jobs, and checkpoints the database before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/geomark/internal/api"
	"github.com/tomtom215/geomark/internal/bulk"
	"github.com/tomtom215/geomark/internal/config"
	"github.com/tomtom215/geomark/internal/database"
	"github.com/tomtom215/geomark/internal/logging"
	"github.com/tomtom215/geomark/internal/marker"
	"github.com/tomtom215/geomark/internal/spatial"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Int("port", cfg.Server.Port).
		Msg("Starting Geomark")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	index := spatial.NewIndex()
	store := marker.NewStore(db, index)
	if err := store.RebuildIndex(ctx); err != nil {
		logging.Fatal().Err(err).Msg("Failed to rebuild spatial index")
	}
	logging.Info().Int("markers", index.Len()).Msg("Spatial index rebuilt")

	registry := bulk.NewRegistry(cfg.Bulk.JobRetention)
	go registry.StartJanitor(ctx)
	pipeline := bulk.NewPipeline(db, store, index, registry, &cfg.Bulk)

	handlers := api.NewHandlers(db, store, marker.NewQueryEngine(db, index), pipeline, registry, &cfg.API)
	router := api.NewRouter(handlers, &cfg.Server)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		errCh <- server.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("HTTP server error")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown error")
	}

	// Drain bulk jobs before the deferred db.Close checkpoints the
	// database: cancelled jobs stop launching records, in-flight records
	// finish, then no writers remain.
	if err := pipeline.Shutdown(shutdownCtx); err != nil {
		logging.Warn().Err(err).Msg("Bulk jobs did not drain before shutdown deadline")
	}

	// Stops the registry janitor.
	cancel()

	logging.Info().Msg("Geomark stopped")
}
