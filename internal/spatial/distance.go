// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package spatial

import (
	"math"

	"github.com/tomtom215/geomark/internal/models"
)

const (
	// earthRadiusMeters is the mean Earth radius (WGS 84 authalic sphere).
	earthRadiusMeters = 6371008.8

	// metersPerDegreeLat approximates one degree of latitude.
	metersPerDegreeLat = 111320.0
)

// HaversineMeters returns the great-circle distance between two positions.
func HaversineMeters(a, b models.Position) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	sinLat := math.Sin(dLat / 2)
	sinLon := math.Sin(dLon / 2)
	h := sinLat*sinLat + math.Cos(lat1)*math.Cos(lat2)*sinLon*sinLon

	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}
