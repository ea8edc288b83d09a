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

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/metrics"
	"github.com/tomtom215/geomark/internal/models"
)

// ErrNoRows is returned by row lookups when no matching row exists. Callers
// translate it into their own not-found error.
var ErrNoRows = errors.New("database: no rows")

const markerColumns = `id, game_id, map_id, category_id, latitude, longitude,
	title, description, metadata, visibility_level, tag_ids, difficulty,
	created_by, version, deleted, created_at, updated_at`

// encodeTagIDs serializes a tag id set as a JSON array for storage.
func encodeTagIDs(tags []string) (string, error) {
	if len(tags) == 0 {
		return "[]", nil
	}
	raw, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("failed to encode tag ids: %w", err)
	}
	return string(raw), nil
}

// decodeTagIDs parses a stored JSON array back into a tag id slice.
func decodeTagIDs(raw string) ([]string, error) {
	if raw == "" || raw == "[]" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw), &tags); err != nil {
		return nil, fmt.Errorf("failed to decode tag ids: %w", err)
	}
	return tags, nil
}

// scanMarker scans one markers row.
func scanMarker(row interface{ Scan(...any) error }) (*models.Marker, error) {
	m := &models.Marker{}
	var (
		mapID      sql.NullString
		categoryID sql.NullString
		desc       sql.NullString
		metadata   string
		tagIDs     string
		difficulty sql.NullInt32
	)

	err := row.Scan(
		&m.ID, &m.GameID, &mapID, &categoryID, &m.Position.Latitude, &m.Position.Longitude,
		&m.Title, &desc, &metadata, &m.VisibilityLevel, &tagIDs, &difficulty,
		&m.CreatedBy, &m.Version, &m.Deleted, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoRows
		}
		return nil, fmt.Errorf("failed to scan marker: %w", err)
	}

	if mapID.Valid {
		m.MapID = &mapID.String
	}
	if categoryID.Valid {
		m.CategoryID = &categoryID.String
	}
	if desc.Valid {
		m.Description = &desc.String
	}
	if difficulty.Valid {
		d := int(difficulty.Int32)
		m.Difficulty = &d
	}
	if m.Metadata, err = models.DecodeMetadata(metadata); err != nil {
		return nil, err
	}
	if m.TagIDs, err = decodeTagIDs(tagIDs); err != nil {
		return nil, err
	}
	return m, nil
}

// InsertMarkerTx inserts a new marker row within tx.
func (db *DB) InsertMarkerTx(ctx context.Context, tx *sql.Tx, m *models.Marker) error {
	metadata, err := m.Metadata.Encode()
	if err != nil {
		return err
	}
	tagIDs, err := encodeTagIDs(m.TagIDs)
	if err != nil {
		return err
	}

	query := `INSERT INTO markers (` + markerColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, query,
		m.ID, m.GameID, m.MapID, m.CategoryID, m.Position.Latitude, m.Position.Longitude,
		m.Title, m.Description, metadata, m.VisibilityLevel, tagIDs, m.Difficulty,
		m.CreatedBy, m.Version, m.Deleted, m.CreatedAt, m.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert marker: %w", err)
	}
	return nil
}

// UpdateMarkerTx writes the mutated marker state within tx, guarded by the
// previous version. Returns ErrNoRows when the guard does not match, which
// callers surface as a version conflict.
func (db *DB) UpdateMarkerTx(ctx context.Context, tx *sql.Tx, m *models.Marker, previousVersion int64) error {
	metadata, err := m.Metadata.Encode()
	if err != nil {
		return err
	}
	tagIDs, err := encodeTagIDs(m.TagIDs)
	if err != nil {
		return err
	}

	query := `UPDATE markers SET
		category_id = ?, latitude = ?, longitude = ?, title = ?, description = ?,
		metadata = ?, visibility_level = ?, tag_ids = ?, difficulty = ?,
		version = ?, updated_at = ?
		WHERE id = ? AND version = ? AND NOT deleted`

	result, err := tx.ExecContext(ctx, query,
		m.CategoryID, m.Position.Latitude, m.Position.Longitude, m.Title, m.Description,
		metadata, m.VisibilityLevel, tagIDs, m.Difficulty,
		m.Version, m.UpdatedAt,
		m.ID, previousVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update marker: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

// MarkDeletedTx flags a marker deleted within tx. The row is retained so the
// id is never reused and history stays reconstructable.
func (db *DB) MarkDeletedTx(ctx context.Context, tx *sql.Tx, id uuid.UUID, version int64, previousVersion int64) error {
	query := `UPDATE markers SET deleted = TRUE, version = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ? AND NOT deleted`

	result, err := tx.ExecContext(ctx, query, version, id, previousVersion)
	if err != nil {
		return fmt.Errorf("failed to delete marker: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if affected == 0 {
		return ErrNoRows
	}
	return nil
}

// GetMarker retrieves a marker row by id, including deleted rows. Callers
// decide whether a deleted row is visible.
func (db *DB) GetMarker(ctx context.Context, id uuid.UUID) (m *models.Marker, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("select", "markers", time.Since(start), err) }()

	query := `SELECT ` + markerColumns + ` FROM markers WHERE id = ?`
	return scanMarker(db.conn.QueryRowContext(ctx, query, id))
}

// GetMarkersByIDs retrieves live (non-deleted) markers for the given ids.
// Missing or deleted ids are silently absent from the result.
func (db *DB) GetMarkersByIDs(ctx context.Context, ids []uuid.UUID) ([]*models.Marker, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	placeholders := ""
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			placeholders += ", "
		}
		placeholders += "?"
		args[i] = id
	}

	query := `SELECT ` + markerColumns + ` FROM markers
		WHERE NOT deleted AND id IN (` + placeholders + `)`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query markers by ids: %w", err)
	}
	defer closeWithLog(rows, "marker rows")

	var markers []*models.Marker
	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, err
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating markers: %w", err)
	}
	return markers, nil
}

// ListMarkersByGame returns a page of live markers for a game ordered by
// creation time then id, plus the total count for pagination. The ordering
// is deterministic so pages stay stable under concurrent inserts.
func (db *DB) ListMarkersByGame(ctx context.Context, gameID string, filter MarkerFilter, limit, offset int) (markers []*models.Marker, total int64, err error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	start := time.Now()
	defer func() { metrics.RecordDBQuery("list", "markers", time.Since(start), err) }()

	whereClause, args := filter.buildWhereClause(gameID)

	countQuery := `SELECT COUNT(*) FROM markers` + whereClause
	if err := db.conn.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count markers: %w", err)
	}

	query := `SELECT ` + markerColumns + ` FROM markers` + whereClause +
		` ORDER BY created_at ASC, id ASC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list markers: %w", err)
	}
	defer closeWithLog(rows, "marker rows")

	for rows.Next() {
		m, err := scanMarker(rows)
		if err != nil {
			return nil, 0, err
		}
		markers = append(markers, m)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("error iterating markers: %w", err)
	}
	return markers, total, nil
}

// LivePosition is one row of the index rebuild scan.
type LivePosition struct {
	ID       uuid.UUID
	GameID   string
	Position models.Position
}

// LoadLivePositions streams id/position pairs for all non-deleted markers.
// Used to rebuild the in-memory spatial index at startup.
func (db *DB) LoadLivePositions(ctx context.Context) ([]LivePosition, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, game_id, latitude, longitude FROM markers WHERE NOT deleted`)
	if err != nil {
		return nil, fmt.Errorf("failed to load marker positions: %w", err)
	}
	defer closeWithLog(rows, "position rows")

	var out []LivePosition
	for rows.Next() {
		var lp LivePosition
		if err := rows.Scan(&lp.ID, &lp.GameID, &lp.Position.Latitude, &lp.Position.Longitude); err != nil {
			return nil, fmt.Errorf("failed to scan position row: %w", err)
		}
		out = append(out, lp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating position rows: %w", err)
	}
	return out, nil
}

// DetachCategory clears the category reference on all live markers of a
// game. This is the explicit cleanup step invoked when a category is
// removed upstream; there is no implicit cascade. Returns the number of
// markers touched.
func (db *DB) DetachCategory(ctx context.Context, gameID, categoryID string) (int64, error) {
	ctx, cancel := db.ensureContext(ctx)
	defer cancel()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE markers SET category_id = NULL WHERE game_id = ? AND category_id = ? AND NOT deleted`,
		gameID, categoryID)
	if err != nil {
		return 0, fmt.Errorf("failed to detach category: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}
	return affected, nil
}
