// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package database

import (
	"context"
	"fmt"
	"time"
)

// createTables creates the markers and marker_history tables.
// marker_history is append-only: rows are inserted exactly once per marker
// mutation and never updated or deleted.
func (db *DB) createTables() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	statements := []string{
		`CREATE TABLE IF NOT EXISTS markers (
			id UUID PRIMARY KEY,
			game_id VARCHAR NOT NULL,
			map_id VARCHAR,
			category_id VARCHAR,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			title VARCHAR NOT NULL,
			description VARCHAR,
			metadata VARCHAR NOT NULL DEFAULT '{}',
			visibility_level INTEGER NOT NULL DEFAULT 1,
			tag_ids VARCHAR NOT NULL DEFAULT '[]',
			difficulty INTEGER,
			created_by VARCHAR NOT NULL,
			version BIGINT NOT NULL,
			deleted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS marker_history (
			id UUID PRIMARY KEY,
			marker_id UUID NOT NULL,
			game_id VARCHAR NOT NULL,
			latitude DOUBLE NOT NULL,
			longitude DOUBLE NOT NULL,
			title VARCHAR NOT NULL,
			description VARCHAR,
			metadata VARCHAR NOT NULL DEFAULT '{}',
			visibility_level INTEGER NOT NULL,
			operation_type VARCHAR NOT NULL,
			changed_by VARCHAR NOT NULL,
			version BIGINT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}
	return nil
}

// createIndexes creates query indexes for the marker tables.
func (db *DB) createIndexes() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_markers_game ON markers (game_id)`,
		`CREATE INDEX IF NOT EXISTS idx_markers_game_created ON markers (game_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_history_marker ON marker_history (marker_id)`,
		`CREATE INDEX IF NOT EXISTS idx_history_created ON marker_history (created_at)`,
	}

	for _, stmt := range indexes {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
