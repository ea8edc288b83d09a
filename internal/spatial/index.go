// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

// Package spatial provides an in-memory grid index over marker positions.
//
// The index buckets positions into fixed-size lat/lon cells. Radius queries
// use great-circle (haversine) distance; bounding-box queries use planar
// lon/lat rectangle containment. Rectangle containment degrades near the
// poles and does not span the antimeridian (west > east yields an empty
// result) - both are documented limitations, not defects.
package spatial

import (
	"bytes"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/models"
)

// ErrNotFound is returned by Update and Remove for an unknown id.
var ErrNotFound = errors.New("spatial: id not found")

// cellSizeDegrees is the grid cell edge length. 0.01 degrees is roughly
// 1.1 km of latitude, which keeps typical radius queries within a handful
// of cells.
const cellSizeDegrees = 0.01

// CellKey identifies one grid cell. The bulk import pipeline uses cell keys
// to serialize duplicate checks against inserts in the same neighborhood.
type CellKey struct {
	X, Y int32
}

// CellOf returns the grid cell containing the given position.
func CellOf(pos models.Position) CellKey {
	return CellKey{
		X: int32(math.Floor(pos.Longitude / cellSizeDegrees)),
		Y: int32(math.Floor(pos.Latitude / cellSizeDegrees)),
	}
}

// Match is one radius query result.
type Match struct {
	ID             uuid.UUID
	DistanceMeters float64
}

// Index maps marker ids to positions with cell-bucketed spatial lookup.
// All methods are safe for concurrent use; queries take a read lock so
// they never block each other.
type Index struct {
	mu    sync.RWMutex
	cells map[CellKey]map[uuid.UUID]models.Position
	byID  map[uuid.UUID]models.Position
}

// NewIndex creates an empty spatial index.
func NewIndex() *Index {
	return &Index{
		cells: make(map[CellKey]map[uuid.UUID]models.Position),
		byID:  make(map[uuid.UUID]models.Position),
	}
}

// Insert adds or repositions an id. Re-inserting a known id updates its
// position rather than duplicating it.
func (idx *Index) Insert(id uuid.UUID, pos models.Position) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.insertLocked(id, pos)
}

// Update repositions a known id. Returns ErrNotFound for an unknown id.
func (idx *Index) Update(id uuid.UUID, pos models.Position) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if _, ok := idx.byID[id]; !ok {
		return ErrNotFound
	}
	idx.insertLocked(id, pos)
	return nil
}

// Remove drops an id from the index. Returns ErrNotFound for an unknown id.
func (idx *Index) Remove(id uuid.UUID) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	pos, ok := idx.byID[id]
	if !ok {
		return ErrNotFound
	}
	idx.removeLocked(id, pos)
	return nil
}

// insertLocked upserts under idx.mu.
func (idx *Index) insertLocked(id uuid.UUID, pos models.Position) {
	if prev, ok := idx.byID[id]; ok {
		idx.removeLocked(id, prev)
	}

	key := CellOf(pos)
	cell, ok := idx.cells[key]
	if !ok {
		cell = make(map[uuid.UUID]models.Position)
		idx.cells[key] = cell
	}
	cell[id] = pos
	idx.byID[id] = pos
}

// removeLocked deletes under idx.mu, pruning empty cells.
func (idx *Index) removeLocked(id uuid.UUID, pos models.Position) {
	key := CellOf(pos)
	if cell, ok := idx.cells[key]; ok {
		delete(cell, id)
		if len(cell) == 0 {
			delete(idx.cells, key)
		}
	}
	delete(idx.byID, id)
}

// Len returns the number of indexed ids.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.byID)
}

// Position returns the stored position for an id.
func (idx *Index) Position(id uuid.UUID) (models.Position, bool) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	pos, ok := idx.byID[id]
	return pos, ok
}

// QueryBounds returns the ids whose positions fall inside the rectangle
// [west, east] x [south, north] (planar containment, bounds inclusive).
func (idx *Index) QueryBounds(west, south, east, north float64) []uuid.UUID {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if west > east || south > north {
		return nil
	}

	minX := int32(math.Floor(west / cellSizeDegrees))
	maxX := int32(math.Floor(east / cellSizeDegrees))
	minY := int32(math.Floor(south / cellSizeDegrees))
	maxY := int32(math.Floor(north / cellSizeDegrees))

	var out []uuid.UUID
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for id, pos := range idx.cells[CellKey{X: x, Y: y}] {
				if pos.Longitude >= west && pos.Longitude <= east &&
					pos.Latitude >= south && pos.Latitude <= north {
					out = append(out, id)
				}
			}
		}
	}
	return out
}

// QueryRadius returns all ids within radiusMeters of center, ordered by
// ascending haversine distance, ties broken by ascending id.
func (idx *Index) QueryRadius(center models.Position, radiusMeters float64) []Match {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if radiusMeters < 0 {
		return nil
	}

	latDelta := radiusMeters / metersPerDegreeLat
	cosLat := math.Cos(center.Latitude * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6 // degenerate at the poles; scan the full longitude band
	}
	lonDelta := radiusMeters / (metersPerDegreeLat * cosLat)

	minX := int32(math.Floor((center.Longitude - lonDelta) / cellSizeDegrees))
	maxX := int32(math.Floor((center.Longitude + lonDelta) / cellSizeDegrees))
	minY := int32(math.Floor((center.Latitude - latDelta) / cellSizeDegrees))
	maxY := int32(math.Floor((center.Latitude + latDelta) / cellSizeDegrees))

	var out []Match
	for x := minX; x <= maxX; x++ {
		for y := minY; y <= maxY; y++ {
			for id, pos := range idx.cells[CellKey{X: x, Y: y}] {
				d := HaversineMeters(center, pos)
				if d <= radiusMeters {
					out = append(out, Match{ID: id, DistanceMeters: d})
				}
			}
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DistanceMeters != out[j].DistanceMeters {
			return out[i].DistanceMeters < out[j].DistanceMeters
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}
