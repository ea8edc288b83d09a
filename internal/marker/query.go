// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package marker

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/database"
	"github.com/tomtom215/geomark/internal/metrics"
	"github.com/tomtom215/geomark/internal/models"
	"github.com/tomtom215/geomark/internal/spatial"
)

const (
	// MinPageSize and MaxPageSize bound the page size clamp.
	MinPageSize = 1
	MaxPageSize = 100
)

// Filter holds the post-filter predicates applied over spatial query
// candidates. Empty sets and nil bounds mean no constraint.
type Filter struct {
	Categories    []string
	Tags          []string
	MinDifficulty *int
	MaxDifficulty *int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
}

// matches reports whether a marker passes every present predicate. Tag
// matching is intersection: the marker needs at least one requested tag.
func (f Filter) matches(m *models.Marker) bool {
	if len(f.Categories) > 0 {
		if m.CategoryID == nil || !containsString(f.Categories, *m.CategoryID) {
			return false
		}
	}
	if len(f.Tags) > 0 {
		found := false
		for _, tag := range m.TagIDs {
			if containsString(f.Tags, tag) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.MinDifficulty != nil && (m.Difficulty == nil || *m.Difficulty < *f.MinDifficulty) {
		return false
	}
	if f.MaxDifficulty != nil && (m.Difficulty == nil || *m.Difficulty > *f.MaxDifficulty) {
		return false
	}
	if f.CreatedAfter != nil && m.CreatedAt.Before(*f.CreatedAfter) {
		return false
	}
	if f.CreatedBefore != nil && m.CreatedAt.After(*f.CreatedBefore) {
		return false
	}
	return true
}

func containsString(set []string, s string) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}

// Page is one page of a game-scoped marker listing.
type Page struct {
	Markers    []*models.Marker
	Page       int
	PageSize   int
	TotalCount int64
	TotalPages int
}

// NearbyMarker pairs a marker with its distance from a query center.
type NearbyMarker struct {
	Marker         *models.Marker
	DistanceMeters float64
}

// QueryEngine is the read-only facade over the spatial index and the
// marker rows. It never mutates state.
type QueryEngine struct {
	db    *database.DB
	index *spatial.Index
}

// NewQueryEngine creates a query engine over the given database and index.
func NewQueryEngine(db *database.DB, index *spatial.Index) *QueryEngine {
	return &QueryEngine{db: db, index: index}
}

// ClampPage normalizes pagination parameters. Page floors at 1; page size
// clamps to [MinPageSize, MaxPageSize], with defaultSize used for zero.
func ClampPage(page, pageSize, defaultSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = defaultSize
	}
	if pageSize < MinPageSize {
		pageSize = MinPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// ListByGame returns one page of a game's live markers ordered by creation
// time then id. The ordering is deterministic so pagination stays stable
// under concurrent inserts.
func (q *QueryEngine) ListByGame(ctx context.Context, gameID string, filter database.MarkerFilter, page, pageSize int) (*Page, error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("list", time.Since(start)) }()

	offset := (page - 1) * pageSize
	markers, total, err := q.db.ListMarkersByGame(ctx, gameID, filter, pageSize, offset)
	if err != nil {
		return nil, storageErr("list by game", err)
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	return &Page{
		Markers:    markers,
		Page:       page,
		PageSize:   pageSize,
		TotalCount: total,
		TotalPages: totalPages,
	}, nil
}

// ListInBounds returns a game's markers inside the bounding box, hidden
// markers (visibility level 0) excluded. Post-filter predicates are
// applied over the spatial candidates.
func (q *QueryEngine) ListInBounds(ctx context.Context, gameID string, west, south, east, north float64, filter Filter) ([]*models.Marker, error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("bounds", time.Since(start)) }()
	metrics.SpatialQueries.WithLabelValues("bounds").Inc()

	ids := q.index.QueryBounds(west, south, east, north)
	markers, err := q.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}

	out := make([]*models.Marker, 0, len(markers))
	for _, m := range markers {
		if m.GameID != gameID || m.VisibilityLevel == 0 {
			continue
		}
		if !filter.matches(m) {
			continue
		}
		out = append(out, m)
	}
	return out, nil
}

// ListNearby returns a game's visible markers within radiusMeters of the
// center, nearest first. Equidistant markers order by id so results are
// deterministic.
func (q *QueryEngine) ListNearby(ctx context.Context, gameID string, center models.Position, radiusMeters float64, filter Filter) ([]*NearbyMarker, error) {
	start := time.Now()
	defer func() { metrics.RecordQuery("radius", time.Since(start)) }()
	metrics.SpatialQueries.WithLabelValues("radius").Inc()

	candidates := q.index.QueryRadius(center, radiusMeters)
	ids := make([]uuid.UUID, len(candidates))
	distances := make(map[uuid.UUID]float64, len(candidates))
	for i, c := range candidates {
		ids[i] = c.ID
		distances[c.ID] = c.DistanceMeters
	}

	markers, err := q.hydrate(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[uuid.UUID]*models.Marker, len(markers))
	for _, m := range markers {
		byID[m.ID] = m
	}

	// Walk candidates in index order to preserve the distance sort.
	out := make([]*NearbyMarker, 0, len(candidates))
	for _, c := range candidates {
		m, ok := byID[c.ID]
		if !ok || m.GameID != gameID || m.VisibilityLevel == 0 {
			continue
		}
		if !filter.matches(m) {
			continue
		}
		out = append(out, &NearbyMarker{Marker: m, DistanceMeters: distances[c.ID]})
	}
	return out, nil
}

func (q *QueryEngine) hydrate(ctx context.Context, ids []uuid.UUID) ([]*models.Marker, error) {
	markers, err := q.db.GetMarkersByIDs(ctx, ids)
	if err != nil {
		return nil, storageErr("hydrate", err)
	}
	return markers, nil
}
