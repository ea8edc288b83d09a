// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package marker

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a marker id does not exist or the
	// marker has been deleted. Deletion is terminal.
	ErrNotFound = errors.New("marker not found")

	// ErrVersionConflict is returned when a mutation's expected version
	// does not match the marker's current version. Distinct from
	// ErrNotFound so callers can re-read and retry.
	ErrVersionConflict = errors.New("marker version conflict")
)

// ValidationError reports malformed input. It is surfaced directly to the
// caller and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
}

// StorageError wraps an I/O failure from the persistence layer. Single
// operations propagate it; bulk operations convert it into a record-level
// failure and continue.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage failure during %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}
