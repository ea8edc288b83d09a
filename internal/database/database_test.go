// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package database

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/config"
	"github.com/tomtom215/geomark/internal/models"
)

// testDBSemaphore serializes test database lifecycles. Concurrent DuckDB
// CGO calls from parallel tests can hang under CI resource pressure, so
// only one test holds an open connection at a time.
var testDBSemaphore = make(chan struct{}, 1)

// testDBMutex provides additional safety around the New() call.
var testDBMutex sync.Mutex

// setupTestDB creates a new in-memory test database with timeout
// protection. The semaphore is held for the entire test lifecycle and
// released via t.Cleanup when the test completes.
func setupTestDB(t *testing.T) *DB {
	t.Helper()

	testDBSemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testDBSemaphore
	})

	cfg := &config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
		Threads:   2,
	}

	type result struct {
		db  *DB
		err error
	}

	resultCh := make(chan result, 1)
	go func() {
		testDBMutex.Lock()
		db, err := New(cfg)
		testDBMutex.Unlock()
		resultCh <- result{db: db, err: err}
	}()

	select {
	case res := <-resultCh:
		if res.err != nil {
			t.Fatalf("Failed to create test database: %v", res.err)
		}
		return res.db
	case <-time.After(120 * time.Second):
		t.Fatal("Timed out creating test database")
		return nil
	}
}

func strPtr(s string) *string { return &s }

func intPtr(i int) *int { return &i }

func testMarker(gameID string) *models.Marker {
	now := time.Now().UTC().Truncate(time.Microsecond)
	return &models.Marker{
		ID:     uuid.New(),
		GameID: gameID,
		MapID:  strPtr("overworld"),
		Position: models.Position{
			Latitude:  40.7128,
			Longitude: -74.0060,
		},
		Title:           "Hidden chest",
		Description:     strPtr("Behind the waterfall"),
		Metadata:        models.Metadata{"loot": "rare"},
		VisibilityLevel: 1,
		TagIDs:          []string{"chest", "secret"},
		Difficulty:      intPtr(3),
		CreatedBy:       "user1",
		Version:         1,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// insertMarker persists a marker through a transaction, failing the test on
// any error.
func insertMarker(t *testing.T, db *DB, m *models.Marker) {
	t.Helper()
	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return db.InsertMarkerTx(context.Background(), tx, m)
	})
	if err != nil {
		t.Fatalf("Failed to insert marker: %v", err)
	}
}

func TestInsertAndGetMarker(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	m := testMarker("game1")
	insertMarker(t, db, m)

	got, err := db.GetMarker(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}

	if got.ID != m.ID {
		t.Errorf("ID = %s, want %s", got.ID, m.ID)
	}
	if got.GameID != "game1" {
		t.Errorf("GameID = %q, want %q", got.GameID, "game1")
	}
	if got.MapID == nil || *got.MapID != "overworld" {
		t.Errorf("MapID = %v, want overworld", got.MapID)
	}
	if got.Position.Latitude != m.Position.Latitude {
		t.Errorf("Latitude = %f, want %f", got.Position.Latitude, m.Position.Latitude)
	}
	if got.Title != m.Title {
		t.Errorf("Title = %q, want %q", got.Title, m.Title)
	}
	if got.Metadata["loot"] != "rare" {
		t.Errorf("Metadata[loot] = %v, want rare", got.Metadata["loot"])
	}
	if len(got.TagIDs) != 2 || got.TagIDs[0] != "chest" {
		t.Errorf("TagIDs = %v, want [chest secret]", got.TagIDs)
	}
	if got.Difficulty == nil || *got.Difficulty != 3 {
		t.Errorf("Difficulty = %v, want 3", got.Difficulty)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.Deleted {
		t.Error("Expected marker to not be deleted")
	}
}

func TestGetMarkerNotFound(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	_, err := db.GetMarker(context.Background(), uuid.New())
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows, got %v", err)
	}
}

func TestUpdateMarkerVersionGuard(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	m := testMarker("game1")
	insertMarker(t, db, m)

	// Matching guard succeeds.
	m.Title = "Moved chest"
	m.Version = 2
	m.UpdatedAt = time.Now().UTC()
	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return db.UpdateMarkerTx(context.Background(), tx, m, 1)
	})
	if err != nil {
		t.Fatalf("UpdateMarkerTx failed: %v", err)
	}

	got, err := db.GetMarker(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	if got.Title != "Moved chest" {
		t.Errorf("Title = %q, want %q", got.Title, "Moved chest")
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	// Stale guard reports no rows.
	m.Version = 3
	err = db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return db.UpdateMarkerTx(context.Background(), tx, m, 1)
	})
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows for stale version, got %v", err)
	}
}

func TestMarkDeleted(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	m := testMarker("game1")
	insertMarker(t, db, m)

	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return db.MarkDeletedTx(context.Background(), tx, m.ID, 2, 1)
	})
	if err != nil {
		t.Fatalf("MarkDeletedTx failed: %v", err)
	}

	// Row is retained but flagged.
	got, err := db.GetMarker(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("GetMarker failed: %v", err)
	}
	if !got.Deleted {
		t.Error("Expected marker to be flagged deleted")
	}
	if got.Version != 2 {
		t.Errorf("Version = %d, want 2", got.Version)
	}

	// Deleting again with any guard reports no rows.
	err = db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return db.MarkDeletedTx(context.Background(), tx, m.ID, 3, 2)
	})
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows for repeated delete, got %v", err)
	}
}

func TestListMarkersByGame(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	base := time.Now().UTC().Add(-time.Hour)
	for i := 0; i < 5; i++ {
		m := testMarker("game1")
		m.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		m.UpdatedAt = m.CreatedAt
		insertMarker(t, db, m)
	}
	other := testMarker("game2")
	insertMarker(t, db, other)

	markers, total, err := db.ListMarkersByGame(context.Background(), "game1", MarkerFilter{}, 3, 0)
	if err != nil {
		t.Fatalf("ListMarkersByGame failed: %v", err)
	}
	if total != 5 {
		t.Errorf("total = %d, want 5", total)
	}
	if len(markers) != 3 {
		t.Fatalf("len(markers) = %d, want 3", len(markers))
	}
	for i := 1; i < len(markers); i++ {
		if markers[i].CreatedAt.Before(markers[i-1].CreatedAt) {
			t.Error("Expected markers ordered by created_at ascending")
		}
	}

	// Second page.
	markers, _, err = db.ListMarkersByGame(context.Background(), "game1", MarkerFilter{}, 3, 3)
	if err != nil {
		t.Fatalf("ListMarkersByGame page 2 failed: %v", err)
	}
	if len(markers) != 2 {
		t.Errorf("len(page 2) = %d, want 2", len(markers))
	}
}

func TestListMarkersFilters(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	easy := testMarker("game1")
	easy.Difficulty = intPtr(1)
	easy.CategoryID = strPtr("quest")
	easy.TagIDs = []string{"npc"}
	insertMarker(t, db, easy)

	hard := testMarker("game1")
	hard.Difficulty = intPtr(5)
	hard.CategoryID = strPtr("boss")
	hard.TagIDs = []string{"boss", "elite"}
	hard.VisibilityLevel = 0
	insertMarker(t, db, hard)

	tests := []struct {
		name   string
		filter MarkerFilter
		want   int
	}{
		{"no filter", MarkerFilter{}, 2},
		{"category", MarkerFilter{CategoryID: "quest"}, 1},
		{"tag containment", MarkerFilter{TagID: "elite"}, 1},
		{"min difficulty", MarkerFilter{MinDifficulty: intPtr(3)}, 1},
		{"max difficulty", MarkerFilter{MaxDifficulty: intPtr(3)}, 1},
		{"visible only", MarkerFilter{VisibleOnly: true}, 1},
		{"created by", MarkerFilter{CreatedBy: "user1"}, 2},
		{"created by nobody", MarkerFilter{CreatedBy: "ghost"}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, total, err := db.ListMarkersByGame(context.Background(), "game1", tt.filter, 10, 0)
			if err != nil {
				t.Fatalf("ListMarkersByGame failed: %v", err)
			}
			if total != int64(tt.want) {
				t.Errorf("total = %d, want %d", total, tt.want)
			}
		})
	}
}

func TestHistoryAppendAndQuery(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	m := testMarker("game1")
	insertMarker(t, db, m)

	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	for v := int64(1); v <= 3; v++ {
		m.Version = v
		m.UpdatedAt = base.Add(time.Duration(v) * time.Minute)
		op := models.OperationUpdate
		if v == 1 {
			op = models.OperationCreate
		}
		entry := models.SnapshotOf(m, op, "user1")
		err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
			return db.InsertHistoryTx(context.Background(), tx, entry)
		})
		if err != nil {
			t.Fatalf("InsertHistoryTx v%d failed: %v", v, err)
		}
	}

	entries, err := db.QueryHistoryByMarker(context.Background(), m.ID, nil, nil)
	if err != nil {
		t.Fatalf("QueryHistoryByMarker failed: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("len(entries) = %d, want 3", len(entries))
	}
	for i, e := range entries {
		if e.Version != int64(i+1) {
			t.Errorf("entries[%d].Version = %d, want %d", i, e.Version, i+1)
		}
	}
	if entries[0].OperationType != models.OperationCreate {
		t.Errorf("First entry operation = %s, want create", entries[0].OperationType)
	}

	// Time window excludes the first entry.
	from := base.Add(90 * time.Second)
	entries, err = db.QueryHistoryByMarker(context.Background(), m.ID, &from, nil)
	if err != nil {
		t.Fatalf("QueryHistoryByMarker with window failed: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("len(windowed entries) = %d, want 2", len(entries))
	}

	count, err := db.CountHistory(context.Background(), m.ID)
	if err != nil {
		t.Fatalf("CountHistory failed: %v", err)
	}
	if count != 3 {
		t.Errorf("CountHistory = %d, want 3", count)
	}
}

func TestLatestHistoryAt(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	m := testMarker("game1")
	base := time.Now().UTC().Add(-time.Hour).Truncate(time.Microsecond)
	titles := []string{"First", "Second", "Third"}
	for v := int64(1); v <= 3; v++ {
		m.Version = v
		m.Title = titles[v-1]
		m.UpdatedAt = base.Add(time.Duration(v) * 10 * time.Minute)
		entry := models.SnapshotOf(m, models.OperationUpdate, "user1")
		err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
			return db.InsertHistoryTx(context.Background(), tx, entry)
		})
		if err != nil {
			t.Fatalf("InsertHistoryTx v%d failed: %v", v, err)
		}
	}

	// Instant between versions 2 and 3 resolves to version 2.
	at := base.Add(25 * time.Minute)
	e, err := db.LatestHistoryAt(context.Background(), m.ID, at)
	if err != nil {
		t.Fatalf("LatestHistoryAt failed: %v", err)
	}
	if e.Version != 2 {
		t.Errorf("Version = %d, want 2", e.Version)
	}
	if e.Title != "Second" {
		t.Errorf("Title = %q, want %q", e.Title, "Second")
	}

	// Instant before the first entry means the marker did not exist.
	_, err = db.LatestHistoryAt(context.Background(), m.ID, base)
	if !errors.Is(err, ErrNoRows) {
		t.Errorf("Expected ErrNoRows before creation, got %v", err)
	}
}

func TestLoadLivePositions(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	live := testMarker("game1")
	insertMarker(t, db, live)

	dead := testMarker("game1")
	insertMarker(t, db, dead)
	err := db.WithTx(context.Background(), func(tx *sql.Tx) error {
		return db.MarkDeletedTx(context.Background(), tx, dead.ID, 2, 1)
	})
	if err != nil {
		t.Fatalf("MarkDeletedTx failed: %v", err)
	}

	positions, err := db.LoadLivePositions(context.Background())
	if err != nil {
		t.Fatalf("LoadLivePositions failed: %v", err)
	}
	if len(positions) != 1 {
		t.Fatalf("len(positions) = %d, want 1", len(positions))
	}
	if positions[0].ID != live.ID {
		t.Errorf("ID = %s, want %s", positions[0].ID, live.ID)
	}
	if positions[0].GameID != "game1" {
		t.Errorf("GameID = %q, want game1", positions[0].GameID)
	}
}

func TestDetachCategory(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	for i := 0; i < 3; i++ {
		m := testMarker("game1")
		m.CategoryID = strPtr("dungeon")
		insertMarker(t, db, m)
	}
	other := testMarker("game1")
	other.CategoryID = strPtr("quest")
	insertMarker(t, db, other)

	affected, err := db.DetachCategory(context.Background(), "game1", "dungeon")
	if err != nil {
		t.Fatalf("DetachCategory failed: %v", err)
	}
	if affected != 3 {
		t.Errorf("affected = %d, want 3", affected)
	}

	_, total, err := db.ListMarkersByGame(context.Background(), "game1", MarkerFilter{CategoryID: "dungeon"}, 10, 0)
	if err != nil {
		t.Fatalf("ListMarkersByGame failed: %v", err)
	}
	if total != 0 {
		t.Errorf("Expected no markers left in category, got %d", total)
	}
}

func TestGetMarkersByIDs(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	a := testMarker("game1")
	b := testMarker("game1")
	insertMarker(t, db, a)
	insertMarker(t, db, b)

	got, err := db.GetMarkersByIDs(context.Background(), []uuid.UUID{a.ID, b.ID, uuid.New()})
	if err != nil {
		t.Fatalf("GetMarkersByIDs failed: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("len(got) = %d, want 2", len(got))
	}

	got, err = db.GetMarkersByIDs(context.Background(), nil)
	if err != nil {
		t.Fatalf("GetMarkersByIDs(nil) failed: %v", err)
	}
	if got != nil {
		t.Errorf("Expected nil result for empty id list, got %v", got)
	}
}

func TestCheckpointAndPing(t *testing.T) {
	db := setupTestDB(t)
	defer db.Close()

	if err := db.Ping(context.Background()); err != nil {
		t.Errorf("Ping failed: %v", err)
	}
	if err := db.Checkpoint(context.Background()); err != nil {
		t.Errorf("Checkpoint failed: %v", err)
	}
}
