// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package models

import (
	"time"

	"github.com/google/uuid"
)

// OperationType categorizes marker state transitions.
type OperationType string

const (
	OperationCreate OperationType = "create"
	OperationUpdate OperationType = "update"
	OperationDelete OperationType = "delete"
)

// HistoryEntry is an immutable snapshot of a marker at one version.
// Entries for a marker are ordered by strictly increasing version and
// timestamp, and are never mutated or deleted.
type HistoryEntry struct {
	ID              uuid.UUID     `json:"id"`
	MarkerID        uuid.UUID     `json:"marker_id"`
	GameID          string        `json:"game_id"`
	OperationType   OperationType `json:"operation_type"`
	Position        Position      `json:"position"`
	Title           string        `json:"title"`
	Description     *string       `json:"description,omitempty"`
	Metadata        Metadata      `json:"metadata,omitempty"`
	VisibilityLevel int           `json:"visibility_level"`
	ChangedBy       string        `json:"changed_by"`
	Version         int64         `json:"version"`
	CreatedAt       time.Time     `json:"created_at"`
}

// SnapshotOf builds a history entry capturing the marker's current state.
func SnapshotOf(m *Marker, op OperationType, actorID string) *HistoryEntry {
	return &HistoryEntry{
		ID:              uuid.New(),
		MarkerID:        m.ID,
		GameID:          m.GameID,
		OperationType:   op,
		Position:        m.Position,
		Title:           m.Title,
		Description:     m.Description,
		Metadata:        m.Metadata.Clone(),
		VisibilityLevel: m.VisibilityLevel,
		ChangedBy:       actorID,
		Version:         m.Version,
		CreatedAt:       m.UpdatedAt,
	}
}
