// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

// Package models defines the core data types shared across Geomark:
// markers, marker history entries, and bulk import jobs.
package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Title and description limits enforced on create and update.
const (
	MaxTitleLength       = 255
	MaxDescriptionLength = 2000
)

// Position is a WGS 84 coordinate pair.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate checks that the position is a valid lat/lon pair.
func (p Position) Validate() error {
	if p.Latitude < -90 || p.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range [-90, 90]", p.Latitude)
	}
	if p.Longitude < -180 || p.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range [-180, 180]", p.Longitude)
	}
	return nil
}

// Marker is a geo-referenced point of interest on a game map.
//
// The (GameID, MapID) pair is fixed at creation. Version starts at 1 and
// increases by exactly 1 on every successful mutation. Deleted is terminal;
// a deleted marker's id is never reused.
type Marker struct {
	ID              uuid.UUID `json:"id"`
	GameID          string    `json:"game_id"`
	MapID           *string   `json:"map_id,omitempty"`
	CategoryID      *string   `json:"category_id,omitempty"`
	Position        Position  `json:"position"`
	Title           string    `json:"title"`
	Description     *string   `json:"description,omitempty"`
	Metadata        Metadata  `json:"metadata,omitempty"`
	VisibilityLevel int       `json:"visibility_level"`
	TagIDs          []string  `json:"tag_ids,omitempty"`
	Difficulty      *int      `json:"difficulty,omitempty"`
	CreatedBy       string    `json:"created_by"`
	Version         int64     `json:"version"`
	Deleted         bool      `json:"-"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// CreateMarkerInput carries the fields for MarkerStore.Create.
type CreateMarkerInput struct {
	GameID          string
	MapID           *string
	CategoryID      *string
	Position        Position
	Title           string
	Description     *string
	Metadata        Metadata
	VisibilityLevel int
	TagIDs          []string
	Difficulty      *int
	ActorID         string
}

// MarkerPatch carries the fields for MarkerStore.Update. Nil fields are
// left unchanged.
type MarkerPatch struct {
	Position        *Position `json:"position,omitempty"`
	CategoryID      *string   `json:"category_id,omitempty"`
	Title           *string   `json:"title,omitempty"`
	Description     *string   `json:"description,omitempty"`
	Metadata        *Metadata `json:"metadata,omitempty"`
	VisibilityLevel *int      `json:"visibility_level,omitempty"`
	TagIDs          *[]string `json:"tag_ids,omitempty"`
	Difficulty      *int      `json:"difficulty,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p MarkerPatch) IsEmpty() bool {
	return p.Position == nil && p.CategoryID == nil && p.Title == nil &&
		p.Description == nil && p.Metadata == nil && p.VisibilityLevel == nil &&
		p.TagIDs == nil && p.Difficulty == nil
}
