// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package api

import (
	"github.com/tomtom215/geomark/internal/models"
)

// createMarkerRequest is the POST body for marker creation.
type createMarkerRequest struct {
	MapID           *string         `json:"map_id,omitempty"`
	CategoryID      *string         `json:"category_id,omitempty"`
	Latitude        float64         `json:"latitude" validate:"latitude"`
	Longitude       float64         `json:"longitude" validate:"longitude"`
	Title           string          `json:"title" validate:"required,max=255"`
	Description     *string         `json:"description,omitempty" validate:"omitempty,max=2000"`
	Metadata        models.Metadata `json:"metadata,omitempty"`
	VisibilityLevel *int            `json:"visibility_level,omitempty" validate:"omitempty,gte=0"`
	TagIDs          []string        `json:"tag_ids,omitempty"`
	Difficulty      *int            `json:"difficulty,omitempty" validate:"omitempty,gte=0"`
}

// updateMarkerRequest is the PATCH body for marker mutation. The expected
// version implements the optimistic concurrency precondition.
type updateMarkerRequest struct {
	ExpectedVersion int64              `json:"expected_version" validate:"gte=1"`
	Patch           models.MarkerPatch `json:"patch"`
}

// boundsRequest holds the parsed bounding-box query parameters.
type boundsRequest struct {
	West  float64 `validate:"longitude"`
	South float64 `validate:"latitude"`
	East  float64 `validate:"longitude"`
	North float64 `validate:"latitude"`
}

// nearbyRequest holds the parsed radius query parameters.
type nearbyRequest struct {
	Latitude  float64 `validate:"latitude"`
	Longitude float64 `validate:"longitude"`
	Radius    float64 `validate:"gt=0,lte=100000"`
}

// listMarkersRequest holds the parsed pagination parameters.
type listMarkersRequest struct {
	Page     int `validate:"gte=0"`
	PageSize int `validate:"gte=0,lte=1000"`
}

// bulkImportRequest is the POST body for a bulk import submission.
type bulkImportRequest struct {
	OperationType string                    `json:"operation_type" validate:"omitempty,oneof=create"`
	Records       []models.BulkImportRecord `json:"records"`
	Options       models.BulkImportOptions  `json:"options"`
}
