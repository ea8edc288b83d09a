// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package bulk

import (
	"sync"

	"github.com/tomtom215/geomark/internal/models"
	"github.com/tomtom215/geomark/internal/spatial"
)

// cellLocks serializes duplicate-check-then-insert sequences that target
// the same spatial grid cell. The duplicate tolerance (meters) is far
// smaller than a cell (roughly a kilometer), so near-duplicate pairs
// almost always share a cell. Two residual windows remain: pairs
// straddling a cell boundary, and direct marker creates, which write
// through the store without taking a cell lock and can land between a
// record's duplicate check and its insert. Both are accepted best-effort
// gaps, not a hard exclusion guarantee.
type cellLocks struct {
	locks sync.Map // spatial.CellKey -> *sync.Mutex
}

// acquire locks the cell containing pos and returns the held mutex.
func (c *cellLocks) acquire(pos models.Position) *sync.Mutex {
	key := spatial.CellOf(pos)
	muInterface, _ := c.locks.LoadOrStore(key, &sync.Mutex{})
	mu, ok := muInterface.(*sync.Mutex)
	if !ok {
		mu = &sync.Mutex{}
		c.locks.Store(key, mu)
	}
	mu.Lock()
	return mu
}
