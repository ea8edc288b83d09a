// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of a bulk import job.
type JobStatus string

const (
	JobStatusAccepted  JobStatus = "accepted"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// DefaultDuplicateToleranceMeters is the radius within which an incoming
// record is considered a near-duplicate of an existing marker.
const DefaultDuplicateToleranceMeters = 10.0

// BulkImportRecord is one input row of a bulk import request.
type BulkImportRecord struct {
	MapID           *string  `json:"map_id,omitempty"`
	CategoryID      *string  `json:"category_id,omitempty"`
	Position        Position `json:"position"`
	Title           string   `json:"title"`
	Description     *string  `json:"description,omitempty"`
	Metadata        Metadata `json:"metadata,omitempty"`
	VisibilityLevel *int     `json:"visibility_level,omitempty"`
	TagIDs          []string `json:"tag_ids,omitempty"`
	Difficulty      *int     `json:"difficulty,omitempty"`
}

// BulkImportOptions control duplicate handling and dry runs.
type BulkImportOptions struct {
	// ValidateOnly runs validation and duplicate detection without inserting.
	ValidateOnly bool `json:"validate_only"`

	// SkipDuplicates enables near-duplicate suppression via radius lookup.
	SkipDuplicates bool `json:"skip_duplicates"`

	// DuplicatesAsErrors counts suppressed duplicates as record failures
	// instead of silent skips.
	DuplicatesAsErrors bool `json:"duplicates_as_errors"`

	// DuplicateToleranceMeters is the match radius for SkipDuplicates.
	// Zero means DefaultDuplicateToleranceMeters.
	DuplicateToleranceMeters float64 `json:"duplicate_tolerance_meters"`
}

// RecordError ties a failure message to the input record index.
type RecordError struct {
	Index   int    `json:"index"`
	Message string `json:"message"`
}

// SkippedDuplicate records a suppressed near-duplicate input.
type SkippedDuplicate struct {
	Index           int       `json:"index"`
	MatchedMarkerID uuid.UUID `json:"matched_marker_id"`
	DistanceMeters  float64   `json:"distance_meters"`
}

// BulkImportJob is the aggregate report for one bulk import.
//
// Invariant: Processed == Succeeded + Failed + Skipped at all times; the
// counters only increase while the job is running, and the job is immutable
// once Status is completed or failed.
type BulkImportJob struct {
	ID            uuid.UUID          `json:"id"`
	GameID        string             `json:"game_id"`
	OperationType string             `json:"operation_type"`
	Status        JobStatus          `json:"status"`
	Options       BulkImportOptions  `json:"options"`
	ActorID       string             `json:"actor_id"`
	Total         int64              `json:"total"`
	Processed     int64              `json:"processed"`
	Succeeded     int64              `json:"succeeded"`
	Failed        int64              `json:"failed"`
	Skipped       int64              `json:"skipped"`
	Errors        []RecordError      `json:"errors,omitempty"`
	Duplicates    []SkippedDuplicate `json:"duplicates,omitempty"`
	StartedAt     time.Time          `json:"started_at"`
	CompletedAt   *time.Time         `json:"completed_at,omitempty"`
}
