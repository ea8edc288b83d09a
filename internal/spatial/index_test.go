// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package spatial

import (
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/models"
)

func TestHaversineMeters(t *testing.T) {
	tests := []struct {
		name      string
		a, b      models.Position
		want      float64
		tolerance float64
	}{
		{
			name:      "zero distance",
			a:         models.Position{Latitude: 40.7128, Longitude: -74.0060},
			b:         models.Position{Latitude: 40.7128, Longitude: -74.0060},
			want:      0,
			tolerance: 0.001,
		},
		{
			name: "one degree of latitude at equator",
			a:    models.Position{Latitude: 0, Longitude: 0},
			b:    models.Position{Latitude: 1, Longitude: 0},
			// ~111.2 km
			want:      111195,
			tolerance: 500,
		},
		{
			name: "NYC to LA",
			a:    models.Position{Latitude: 40.7128, Longitude: -74.0060},
			b:    models.Position{Latitude: 34.0522, Longitude: -118.2437},
			// ~3936 km great-circle
			want:      3936000,
			tolerance: 10000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := HaversineMeters(tt.a, tt.b)
			if math.Abs(got-tt.want) > tt.tolerance {
				t.Errorf("HaversineMeters() = %f, want %f +/- %f", got, tt.want, tt.tolerance)
			}
		})
	}
}

func TestInsertIsIdempotentUpsert(t *testing.T) {
	idx := NewIndex()
	id := uuid.New()

	idx.Insert(id, models.Position{Latitude: 10, Longitude: 10})
	idx.Insert(id, models.Position{Latitude: 50, Longitude: 50})

	if idx.Len() != 1 {
		t.Fatalf("expected 1 entry after re-insert, got %d", idx.Len())
	}
	pos, ok := idx.Position(id)
	if !ok || pos.Latitude != 50 {
		t.Errorf("expected position updated to lat=50, got %+v ok=%v", pos, ok)
	}

	// Old cell must not retain the id.
	if got := idx.QueryBounds(9, 9, 11, 11); len(got) != 0 {
		t.Errorf("old position still indexed: %v", got)
	}
	if got := idx.QueryBounds(49, 49, 51, 51); len(got) != 1 {
		t.Errorf("new position not indexed: %v", got)
	}
}

func TestUpdateAndRemoveUnknownID(t *testing.T) {
	idx := NewIndex()

	if err := idx.Update(uuid.New(), models.Position{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("Update on unknown id: got %v, want ErrNotFound", err)
	}
	if err := idx.Remove(uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Remove on unknown id: got %v, want ErrNotFound", err)
	}
}

func TestQueryBounds(t *testing.T) {
	idx := NewIndex()
	inside := uuid.New()
	outside := uuid.New()
	edge := uuid.New()

	idx.Insert(inside, models.Position{Latitude: 40.5, Longitude: -74.5})
	idx.Insert(outside, models.Position{Latitude: 42.0, Longitude: -74.5})
	idx.Insert(edge, models.Position{Latitude: 41.0, Longitude: -75.0})

	got := idx.QueryBounds(-75.0, 40.0, -74.0, 41.0)
	found := make(map[uuid.UUID]bool, len(got))
	for _, id := range got {
		found[id] = true
	}

	if !found[inside] {
		t.Error("expected inside marker in bounds result")
	}
	if found[outside] {
		t.Error("did not expect outside marker in bounds result")
	}
	if !found[edge] {
		t.Error("expected edge marker in bounds result (bounds are inclusive)")
	}
}

func TestQueryBoundsInvertedRectangle(t *testing.T) {
	idx := NewIndex()
	idx.Insert(uuid.New(), models.Position{Latitude: 0, Longitude: 0})

	if got := idx.QueryBounds(10, 0, -10, 5); got != nil {
		t.Errorf("west > east should return nil, got %v", got)
	}
}

func TestQueryRadiusOrderingAndCutoff(t *testing.T) {
	idx := NewIndex()
	center := models.Position{Latitude: 40.7128, Longitude: -74.0060}

	near := uuid.New()
	mid := uuid.New()
	far := uuid.New()

	// ~5m, ~50m, ~2km east of center. One degree of longitude at this
	// latitude is ~84.3 km.
	idx.Insert(near, models.Position{Latitude: 40.7128, Longitude: -74.0060 + 5.0/84300})
	idx.Insert(mid, models.Position{Latitude: 40.7128, Longitude: -74.0060 + 50.0/84300})
	idx.Insert(far, models.Position{Latitude: 40.7128, Longitude: -74.0060 + 2000.0/84300})

	got := idx.QueryRadius(center, 100)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches within 100m, got %d", len(got))
	}
	if got[0].ID != near || got[1].ID != mid {
		t.Errorf("expected ascending distance order [near, mid], got %v", got)
	}
	for _, m := range got {
		if m.DistanceMeters > 100 {
			t.Errorf("match %s at %f m exceeds radius", m.ID, m.DistanceMeters)
		}
		if d := HaversineMeters(center, mustPosition(t, idx, m.ID)); math.Abs(d-m.DistanceMeters) > 0.01 {
			t.Errorf("reported distance %f disagrees with haversine %f", m.DistanceMeters, d)
		}
	}
}

func TestQueryRadiusTieBreakByID(t *testing.T) {
	idx := NewIndex()
	pos := models.Position{Latitude: 10, Longitude: 10}

	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")
	idx.Insert(b, pos)
	idx.Insert(a, pos)

	got := idx.QueryRadius(pos, 1)
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}
	if got[0].ID != a || got[1].ID != b {
		t.Errorf("equidistant matches not ordered by id: %v", got)
	}
}

func TestQueryRadiusSpansCells(t *testing.T) {
	idx := NewIndex()
	// Positions straddling a cell boundary at lon 0.01.
	left := uuid.New()
	right := uuid.New()
	idx.Insert(left, models.Position{Latitude: 0, Longitude: 0.0099})
	idx.Insert(right, models.Position{Latitude: 0, Longitude: 0.0101})

	center := models.Position{Latitude: 0, Longitude: 0.01}
	got := idx.QueryRadius(center, 100)
	if len(got) != 2 {
		t.Errorf("expected matches from both neighboring cells, got %d", len(got))
	}
}

func TestConcurrentReadsAndWrites(t *testing.T) {
	idx := NewIndex()
	center := models.Position{Latitude: 20, Longitude: 20}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				idx.Insert(uuid.New(), center)
			}
		}()
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				idx.QueryRadius(center, 1000)
				idx.QueryBounds(19, 19, 21, 21)
			}
		}()
	}
	wg.Wait()

	if idx.Len() != 800 {
		t.Errorf("expected 800 entries, got %d", idx.Len())
	}
}

func mustPosition(t *testing.T, idx *Index, id uuid.UUID) models.Position {
	t.Helper()
	pos, ok := idx.Position(id)
	if !ok {
		t.Fatalf("position for %s not found", id)
	}
	return pos
}
