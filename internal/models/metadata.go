// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// MaxMetadataBytes caps the serialized size of a marker's metadata map.
const MaxMetadataBytes = 8 * 1024

// Metadata is an arbitrary string-keyed map of JSON-like values attached to
// a marker (string | number | bool | nested map | nested list). It is
// validated only for serialized size, never for shape.
type Metadata map[string]any

// Validate checks the serialized size against MaxMetadataBytes.
func (m Metadata) Validate() error {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("metadata not serializable: %w", err)
	}
	if len(raw) > MaxMetadataBytes {
		return fmt.Errorf("metadata exceeds %d bytes (got %d)", MaxMetadataBytes, len(raw))
	}
	return nil
}

// Encode serializes the metadata to a JSON string for storage.
// An empty map encodes as "{}".
func (m Metadata) Encode() (string, error) {
	if len(m) == 0 {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(raw), nil
}

// DecodeMetadata parses a stored JSON string back into a Metadata map.
func DecodeMetadata(raw string) (Metadata, error) {
	if raw == "" || raw == "{}" {
		return nil, nil
	}
	var m Metadata
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("failed to decode metadata: %w", err)
	}
	return m, nil
}

// Clone returns a deep copy via a JSON round trip. Used when snapshotting
// marker state into history entries.
func (m Metadata) Clone() Metadata {
	if len(m) == 0 {
		return nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil
	}
	var out Metadata
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
