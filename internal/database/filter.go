// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package database

import "time"

// MarkerFilter narrows game-scoped marker listings. Zero values mean no
// constraint. Tag matching is containment: a marker matches when its tag
// set includes the requested tag.
type MarkerFilter struct {
	MapID         string
	CategoryID    string
	TagID         string
	MinDifficulty *int
	MaxDifficulty *int
	CreatedAfter  *time.Time
	CreatedBefore *time.Time
	CreatedBy     string
	VisibleOnly   bool
}

// buildWhereClause assembles the WHERE clause and parameter list for a
// filtered listing. Game scope and the deleted exclusion always apply.
func (f MarkerFilter) buildWhereClause(gameID string) (string, []any) {
	conditions := []string{"game_id = ?", "NOT deleted"}
	args := []any{gameID}

	if f.MapID != "" {
		conditions = append(conditions, "map_id = ?")
		args = append(args, f.MapID)
	}
	if f.CategoryID != "" {
		conditions = append(conditions, "category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.TagID != "" {
		// tag_ids is a JSON array string; substring match on the quoted
		// tag is sufficient because tags are identifiers without quotes.
		conditions = append(conditions, "tag_ids LIKE ?")
		args = append(args, `%"`+f.TagID+`"%`)
	}
	if f.MinDifficulty != nil {
		conditions = append(conditions, "difficulty >= ?")
		args = append(args, *f.MinDifficulty)
	}
	if f.MaxDifficulty != nil {
		conditions = append(conditions, "difficulty <= ?")
		args = append(args, *f.MaxDifficulty)
	}
	if f.CreatedAfter != nil {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, *f.CreatedAfter)
	}
	if f.CreatedBefore != nil {
		conditions = append(conditions, "created_at <= ?")
		args = append(args, *f.CreatedBefore)
	}
	if f.CreatedBy != "" {
		conditions = append(conditions, "created_by = ?")
		args = append(args, f.CreatedBy)
	}
	if f.VisibleOnly {
		conditions = append(conditions, "visibility_level > 0")
	}

	clause := " WHERE " + conditions[0]
	for _, c := range conditions[1:] {
		clause += " AND " + c
	}
	return clause, args
}
