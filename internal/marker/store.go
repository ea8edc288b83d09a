// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

// Package marker owns the marker lifecycle: creation, optimistic-version
// updates, terminal deletion, and the atomic pairing of every mutation
// with a history append and a spatial index change.
package marker

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/database"
	"github.com/tomtom215/geomark/internal/logging"
	"github.com/tomtom215/geomark/internal/metrics"
	"github.com/tomtom215/geomark/internal/models"
	"github.com/tomtom215/geomark/internal/spatial"
)

// Store coordinates marker mutations. Each mutation executes under a
// per-id lock so version checks and bumps are race free, and inside a
// database transaction so the row, the history entry, and the spatial
// index are observed together or not at all.
type Store struct {
	db    *database.DB
	index *spatial.Index

	// Per-marker write locks. Mutations on different ids proceed in
	// parallel; same-id mutations serialize.
	idLocks sync.Map
}

// NewStore creates a marker store over the given database and index.
func NewStore(db *database.DB, index *spatial.Index) *Store {
	return &Store{db: db, index: index}
}

// RebuildIndex repopulates the spatial index from all live marker rows.
// Called once at startup before the store serves traffic.
func (s *Store) RebuildIndex(ctx context.Context) error {
	positions, err := s.db.LoadLivePositions(ctx)
	if err != nil {
		return storageErr("index rebuild", err)
	}
	for _, lp := range positions {
		s.index.Insert(lp.ID, lp.Position)
	}
	metrics.SpatialIndexSize.Set(float64(s.index.Len()))
	logging.Info().Int("markers", len(positions)).Msg("Spatial index rebuilt")
	return nil
}

// acquireIDLock acquires the per-marker mutex.
func (s *Store) acquireIDLock(id uuid.UUID) *sync.Mutex {
	muInterface, _ := s.idLocks.LoadOrStore(id, &sync.Mutex{})
	mu, ok := muInterface.(*sync.Mutex)
	if !ok {
		mu = &sync.Mutex{}
		s.idLocks.Store(id, mu)
	}
	mu.Lock()
	return mu
}

// Create validates the input, assigns an id, and persists the marker at
// version 1 together with its Create history entry. The spatial index is
// updated only after the transaction commits.
func (s *Store) Create(ctx context.Context, input *models.CreateMarkerInput) (*models.Marker, error) {
	start := time.Now()

	m, err := buildMarker(input)
	if err != nil {
		return nil, err
	}

	entry := models.SnapshotOf(m, models.OperationCreate, input.ActorID)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.db.InsertMarkerTx(ctx, tx, m); err != nil {
			return err
		}
		return s.db.InsertHistoryTx(ctx, tx, entry)
	})
	if err != nil {
		return nil, storageErr("create", err)
	}

	s.index.Insert(m.ID, m.Position)
	metrics.SpatialIndexSize.Set(float64(s.index.Len()))
	metrics.RecordMutation("create", time.Since(start))

	logging.Ctx(ctx).Debug().
		Str("marker_id", m.ID.String()).
		Str("game_id", m.GameID).
		Msg("Marker created")
	return m, nil
}

// Get returns a live marker by id. Deleted markers report ErrNotFound.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (*models.Marker, error) {
	m, err := s.db.GetMarker(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("get", err)
	}
	if m.Deleted {
		return nil, ErrNotFound
	}
	return m, nil
}

// Update applies the patch when expectedVersion matches the current
// version, bumping the version by exactly 1 and appending an Update
// history entry atomically. Game id and map id are immutable and not
// patchable.
func (s *Store) Update(ctx context.Context, id uuid.UUID, expectedVersion int64, patch *models.MarkerPatch, actorID string) (*models.Marker, error) {
	start := time.Now()

	mu := s.acquireIDLock(id)
	defer mu.Unlock()

	m, err := s.db.GetMarker(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("update", err)
	}
	if m.Deleted {
		return nil, ErrNotFound
	}
	if m.Version != expectedVersion {
		metrics.VersionConflicts.Inc()
		return nil, ErrVersionConflict
	}

	oldPosition := m.Position
	if err := applyPatch(m, patch); err != nil {
		return nil, err
	}

	m.Version = expectedVersion + 1
	m.UpdatedAt = time.Now().UTC()

	entry := models.SnapshotOf(m, models.OperationUpdate, actorID)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.db.UpdateMarkerTx(ctx, tx, m, expectedVersion); err != nil {
			return err
		}
		return s.db.InsertHistoryTx(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			// Row changed under us despite the lock, treat as conflict.
			metrics.VersionConflicts.Inc()
			return nil, ErrVersionConflict
		}
		return nil, storageErr("update", err)
	}

	if m.Position != oldPosition {
		if err := s.index.Update(m.ID, m.Position); err != nil {
			logging.Error().Err(err).Str("marker_id", id.String()).Msg("Spatial index out of sync on update")
		}
	}
	metrics.RecordMutation("update", time.Since(start))
	return m, nil
}

// Delete marks the marker deleted, appends the final Delete history
// entry, and removes it from the spatial index. Deletion is terminal: the
// row is retained so the id is never reused, but no further mutation or
// query returns it.
func (s *Store) Delete(ctx context.Context, id uuid.UUID, actorID string) error {
	start := time.Now()

	mu := s.acquireIDLock(id)
	defer mu.Unlock()

	m, err := s.db.GetMarker(ctx, id)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return ErrNotFound
		}
		return storageErr("delete", err)
	}
	if m.Deleted {
		return ErrNotFound
	}

	previousVersion := m.Version
	m.Version = previousVersion + 1
	m.UpdatedAt = time.Now().UTC()

	entry := models.SnapshotOf(m, models.OperationDelete, actorID)
	err = s.db.WithTx(ctx, func(tx *sql.Tx) error {
		if err := s.db.MarkDeletedTx(ctx, tx, id, m.Version, previousVersion); err != nil {
			return err
		}
		return s.db.InsertHistoryTx(ctx, tx, entry)
	})
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			metrics.VersionConflicts.Inc()
			return ErrVersionConflict
		}
		return storageErr("delete", err)
	}

	if err := s.index.Remove(id); err != nil {
		logging.Error().Err(err).Str("marker_id", id.String()).Msg("Spatial index out of sync on delete")
	}
	metrics.SpatialIndexSize.Set(float64(s.index.Len()))
	metrics.RecordMutation("delete", time.Since(start))

	logging.Ctx(ctx).Debug().Str("marker_id", id.String()).Msg("Marker deleted")
	return nil
}

// History returns the marker's history entries in version order,
// optionally restricted to a time window. Known for deleted markers too,
// since the log is the permanent record.
func (s *Store) History(ctx context.Context, id uuid.UUID, from, to *time.Time) ([]*models.HistoryEntry, error) {
	if _, err := s.db.GetMarker(ctx, id); err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("history", err)
	}

	entries, err := s.db.QueryHistoryByMarker(ctx, id, from, to)
	if err != nil {
		return nil, storageErr("history", err)
	}
	return entries, nil
}

// VersionAt reconstructs the marker's state at the given instant from the
// latest history entry with a timestamp at or before it. An instant
// before creation reports ErrNotFound; an instant after the latest
// mutation yields the live state.
func (s *Store) VersionAt(ctx context.Context, id uuid.UUID, at time.Time) (*models.HistoryEntry, error) {
	entry, err := s.db.LatestHistoryAt(ctx, id, at)
	if err != nil {
		if errors.Is(err, database.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("version at", err)
	}
	return entry, nil
}

// DetachCategory clears the category reference on all live markers of a
// game. Invoked when the owning service removes a category; markers are
// kept, only the dangling reference is dropped.
func (s *Store) DetachCategory(ctx context.Context, gameID, categoryID string) (int64, error) {
	affected, err := s.db.DetachCategory(ctx, gameID, categoryID)
	if err != nil {
		return 0, storageErr("detach category", err)
	}
	if affected > 0 {
		logging.Info().
			Str("game_id", gameID).
			Str("category_id", categoryID).
			Int64("markers", affected).
			Msg("Category detached from markers")
	}
	return affected, nil
}

// ValidateInput checks a creation input without persisting anything.
// Used by bulk imports for dry runs.
func ValidateInput(input *models.CreateMarkerInput) error {
	_, err := buildMarker(input)
	return err
}

// buildMarker validates a creation input and assembles the version-1
// marker.
func buildMarker(input *models.CreateMarkerInput) (*models.Marker, error) {
	if input.GameID == "" {
		return nil, &ValidationError{Field: "game_id", Message: "required"}
	}
	if err := input.Position.Validate(); err != nil {
		return nil, &ValidationError{Field: "position", Message: err.Error()}
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return nil, &ValidationError{Field: "title", Message: "required"}
	}
	if len(title) > models.MaxTitleLength {
		return nil, &ValidationError{Field: "title", Message: "exceeds maximum length"}
	}
	if input.Description != nil && len(*input.Description) > models.MaxDescriptionLength {
		return nil, &ValidationError{Field: "description", Message: "exceeds maximum length"}
	}
	if err := input.Metadata.Validate(); err != nil {
		return nil, &ValidationError{Field: "metadata", Message: err.Error()}
	}
	if input.VisibilityLevel < 0 {
		return nil, &ValidationError{Field: "visibility_level", Message: "must be >= 0"}
	}
	if input.ActorID == "" {
		return nil, &ValidationError{Field: "actor_id", Message: "required"}
	}

	now := time.Now().UTC()
	return &models.Marker{
		ID:              uuid.New(),
		GameID:          input.GameID,
		MapID:           input.MapID,
		CategoryID:      input.CategoryID,
		Position:        input.Position,
		Title:           title,
		Description:     input.Description,
		Metadata:        input.Metadata,
		VisibilityLevel: input.VisibilityLevel,
		TagIDs:          input.TagIDs,
		Difficulty:      input.Difficulty,
		CreatedBy:       input.ActorID,
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}, nil
}

// applyPatch applies the present patch fields to the marker, validating
// each. Game id and map id never change after creation.
func applyPatch(m *models.Marker, patch *models.MarkerPatch) error {
	if patch == nil || patch.IsEmpty() {
		return &ValidationError{Field: "patch", Message: "no fields to update"}
	}
	if patch.Position != nil {
		if err := patch.Position.Validate(); err != nil {
			return &ValidationError{Field: "position", Message: err.Error()}
		}
		m.Position = *patch.Position
	}
	if patch.Title != nil {
		title := strings.TrimSpace(*patch.Title)
		if title == "" {
			return &ValidationError{Field: "title", Message: "required"}
		}
		if len(title) > models.MaxTitleLength {
			return &ValidationError{Field: "title", Message: "exceeds maximum length"}
		}
		m.Title = title
	}
	if patch.Description != nil {
		if len(*patch.Description) > models.MaxDescriptionLength {
			return &ValidationError{Field: "description", Message: "exceeds maximum length"}
		}
		m.Description = patch.Description
	}
	if patch.CategoryID != nil {
		m.CategoryID = patch.CategoryID
	}
	if patch.Metadata != nil {
		if err := patch.Metadata.Validate(); err != nil {
			return &ValidationError{Field: "metadata", Message: err.Error()}
		}
		m.Metadata = *patch.Metadata
	}
	if patch.VisibilityLevel != nil {
		if *patch.VisibilityLevel < 0 {
			return &ValidationError{Field: "visibility_level", Message: "must be >= 0"}
		}
		m.VisibilityLevel = *patch.VisibilityLevel
	}
	if patch.TagIDs != nil {
		m.TagIDs = *patch.TagIDs
	}
	if patch.Difficulty != nil {
		m.Difficulty = patch.Difficulty
	}
	return nil
}
