// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/metrics"
	"github.com/tomtom215/geomark/internal/models"
)

const historyColumns = `id, marker_id, game_id, latitude, longitude, title,
	description, metadata, visibility_level, operation_type, changed_by,
	version, created_at`

func scanHistoryEntry(row interface{ Scan(...any) error }) (*models.HistoryEntry, error) {
	e := &models.HistoryEntry{}
	var (
		desc     sql.NullString
		metadata string
		op       string
	)

	err := row.Scan(
		&e.ID, &e.MarkerID, &e.GameID, &e.Position.Latitude, &e.Position.Longitude, &e.Title,
		&desc, &metadata, &e.VisibilityLevel, &op, &e.ChangedBy,
		&e.Version, &e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan history entry: %w", err)
	}

	if desc.Valid {
		e.Description = &desc.String
	}
	e.OperationType = models.OperationType(op)
	if e.Metadata, err = models.DecodeMetadata(metadata); err != nil {
		return nil, err
	}
	return e, nil
}

// InsertHistoryTx appends one history entry within tx. History is append
// only; entries are never updated or removed.
func (db *DB) InsertHistoryTx(ctx context.Context, tx *sql.Tx, e *models.HistoryEntry) error {
	metadata, err := e.Metadata.Encode()
	if err != nil {
		return err
	}

	query := `INSERT INTO marker_history (` + historyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		e.ID, e.MarkerID, e.GameID, e.Position.Latitude, e.Position.Longitude, e.Title,
		e.Description, metadata, e.VisibilityLevel, string(e.OperationType), e.ChangedBy,
		e.Version, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	return nil
}

// QueryHistoryByMarker returns a marker's history entries in version order,
// optionally restricted to a time window. Nil bounds are open ended.
func (db *DB) QueryHistoryByMarker(ctx context.Context, markerID uuid.UUID, from, to *time.Time) (entries []*models.HistoryEntry, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("list", "marker_history", time.Since(start), err) }()

	query := `SELECT ` + historyColumns + ` FROM marker_history WHERE marker_id = ?`
	args := []any{markerID}
	if from != nil {
		query += ` AND created_at >= ?`
		args = append(args, *from)
	}
	if to != nil {
		query += ` AND created_at <= ?`
		args = append(args, *to)
	}
	query += ` ORDER BY version ASC`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query marker history: %w", err)
	}
	defer closeWithLog(rows, "history rows")

	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating history entries: %w", err)
	}
	return entries, nil
}

// LatestHistoryAt returns the most recent history entry for a marker at or
// before the given instant, which is the marker's state at that time.
// Returns ErrNoRows when the marker did not yet exist.
func (db *DB) LatestHistoryAt(ctx context.Context, markerID uuid.UUID, at time.Time) (*models.HistoryEntry, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	query := `SELECT ` + historyColumns + ` FROM marker_history
		WHERE marker_id = ? AND created_at <= ?
		ORDER BY version DESC LIMIT 1`

	return scanHistoryEntry(db.conn.QueryRowContext(ctx, query, markerID, at))
}

// CountHistory returns the number of history entries for a marker.
func (db *DB) CountHistory(ctx context.Context, markerID uuid.UUID) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	var count int64
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM marker_history WHERE marker_id = ?`, markerID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count history entries: %w", err)
	}
	return count, nil
}
