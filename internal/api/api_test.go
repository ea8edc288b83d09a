// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package api

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/geomark/internal/bulk"
	"github.com/tomtom215/geomark/internal/config"
	"github.com/tomtom215/geomark/internal/database"
	"github.com/tomtom215/geomark/internal/marker"
	"github.com/tomtom215/geomark/internal/models"
	"github.com/tomtom215/geomark/internal/spatial"
)

// testAPISemaphore serializes DuckDB lifecycles across tests.
var testAPISemaphore = make(chan struct{}, 1)

func setupServer(t *testing.T) *httptest.Server {
	t.Helper()

	testAPISemaphore <- struct{}{}
	t.Cleanup(func() {
		<-testAPISemaphore
	})

	db, err := database.New(&config.DatabaseConfig{
		Path:      ":memory:",
		MaxMemory: "1GB",
		Threads:   2,
	})
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() {
		if err := db.Close(); err != nil {
			t.Errorf("Failed to close test database: %v", err)
		}
	})

	index := spatial.NewIndex()
	store := marker.NewStore(db, index)
	engine := marker.NewQueryEngine(db, index)
	registry := bulk.NewRegistry(time.Hour)
	pipeline := bulk.NewPipeline(db, store, index, registry, &config.BulkConfig{
		Workers:       4,
		MaxBatchSize:  100,
		RecordTimeout: 10 * time.Second,
		JobRetention:  time.Hour,
	})

	handlers := NewHandlers(db, store, engine, pipeline, registry, &config.APIConfig{
		DefaultPageSize: 20,
		MaxPageSize:     100,
	})
	router := NewRouter(handlers, &config.ServerConfig{
		RateLimitReqs:   1000,
		RateLimitWindow: time.Minute,
	})

	srv := httptest.NewServer(router.Setup())
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url string, body interface{}, actor string) (*http.Response, *models.APIResponse) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("Failed to encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatalf("Failed to build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if actor != "" {
		req.Header.Set("X-Actor-ID", actor)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}
	defer resp.Body.Close()

	var envelope models.APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	return resp, &envelope
}

// createMarkerBody returns a valid create payload at the given position.
func createMarkerBody(lat, lon float64, title string) map[string]interface{} {
	return map[string]interface{}{
		"latitude":  lat,
		"longitude": lon,
		"title":     title,
	}
}

// dataMap re-decodes envelope data into a map for field assertions.
func dataMap(t *testing.T, envelope *models.APIResponse) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(envelope.Data)
	if err != nil {
		t.Fatalf("Failed to re-marshal data: %v", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("Failed to decode data: %v", err)
	}
	return m
}

func createMarker(t *testing.T, srv *httptest.Server, gameID string, lat, lon float64, title string) map[string]interface{} {
	t.Helper()
	resp, envelope := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/games/"+gameID+"/markers",
		createMarkerBody(lat, lon, title), "tester")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create returned status %d", resp.StatusCode)
	}
	return dataMap(t, envelope)
}

func TestCreateAndGetMarker(t *testing.T) {
	srv := setupServer(t)

	created := createMarker(t, srv, "skyrim", 40.7128, -74.0060, "Whiterun Gate")
	id, _ := created["id"].(string)
	if id == "" {
		t.Fatal("Created marker has no id")
	}
	if created["version"].(float64) != 1 {
		t.Errorf("New marker version = %v, want 1", created["version"])
	}

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/markers/"+id, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Get returned status %d", resp.StatusCode)
	}
	got := dataMap(t, envelope)
	if got["title"] != "Whiterun Gate" {
		t.Errorf("Title = %v, want Whiterun Gate", got["title"])
	}
	if got["game_id"] != "skyrim" {
		t.Errorf("GameID = %v, want skyrim", got["game_id"])
	}
}

func TestCreateMarkerValidation(t *testing.T) {
	srv := setupServer(t)

	tests := []struct {
		name  string
		body  map[string]interface{}
		actor string
	}{
		{"missing title", createMarkerBody(40.0, -74.0, ""), "tester"},
		{"latitude out of range", createMarkerBody(91.0, -74.0, "Bad"), "tester"},
		{"longitude out of range", createMarkerBody(40.0, 181.0, "Bad"), "tester"},
		{"missing actor", createMarkerBody(40.0, -74.0, "NoActor"), ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, envelope := doJSON(t, http.MethodPost,
				srv.URL+"/api/v1/games/skyrim/markers", tt.body, tt.actor)
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("Status = %d, want 400", resp.StatusCode)
			}
			if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
				t.Errorf("Error = %+v, want VALIDATION_ERROR", envelope.Error)
			}
		})
	}
}

func TestUpdateMarkerVersionConflict(t *testing.T) {
	srv := setupServer(t)

	created := createMarker(t, srv, "skyrim", 40.7128, -74.0060, "Original")
	id := created["id"].(string)

	newTitle := "Renamed"
	body := map[string]interface{}{
		"expected_version": 1,
		"patch":            map[string]interface{}{"title": newTitle},
	}
	resp, envelope := doJSON(t, http.MethodPatch, srv.URL+"/api/v1/markers/"+id, body, "tester")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Update returned status %d", resp.StatusCode)
	}
	updated := dataMap(t, envelope)
	if updated["version"].(float64) != 2 {
		t.Errorf("Version after update = %v, want 2", updated["version"])
	}

	// Replaying the same expected version must conflict.
	resp, envelope = doJSON(t, http.MethodPatch, srv.URL+"/api/v1/markers/"+id, body, "tester")
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("Stale update returned status %d, want 409", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "VERSION_CONFLICT" {
		t.Errorf("Error = %+v, want VERSION_CONFLICT", envelope.Error)
	}
}

func TestDeleteMarker(t *testing.T) {
	srv := setupServer(t)

	created := createMarker(t, srv, "skyrim", 40.7128, -74.0060, "Doomed")
	id := created["id"].(string)

	resp, _ := doJSON(t, http.MethodDelete, srv.URL+"/api/v1/markers/"+id, nil, "tester")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Delete returned status %d", resp.StatusCode)
	}

	resp, envelope := doJSON(t, http.MethodGet, srv.URL+"/api/v1/markers/"+id, nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("Get after delete returned status %d, want 404", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "NOT_FOUND" {
		t.Errorf("Error = %+v, want NOT_FOUND", envelope.Error)
	}
}

func TestGetMarkerBadID(t *testing.T) {
	srv := setupServer(t)

	resp, _ := doJSON(t, http.MethodGet, srv.URL+"/api/v1/markers/not-a-uuid", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Status = %d, want 400", resp.StatusCode)
	}
}

func TestListMarkersPagination(t *testing.T) {
	srv := setupServer(t)

	for i := 0; i < 5; i++ {
		createMarker(t, srv, "skyrim", 40.0+float64(i)*0.01, -74.0, fmt.Sprintf("Marker %d", i))
	}
	createMarker(t, srv, "oblivion", 40.0, -74.0, "Other game")

	resp, envelope := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/games/skyrim/markers?page=1&page_size=2", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("List returned status %d", resp.StatusCode)
	}
	if envelope.Meta.Pagination == nil {
		t.Fatal("List response has no pagination meta")
	}
	if envelope.Meta.Pagination.TotalCount != 5 {
		t.Errorf("TotalCount = %d, want 5", envelope.Meta.Pagination.TotalCount)
	}
	if envelope.Meta.Pagination.TotalPages != 3 {
		t.Errorf("TotalPages = %d, want 3", envelope.Meta.Pagination.TotalPages)
	}

	markers, ok := envelope.Data.([]interface{})
	if !ok {
		t.Fatalf("Data is %T, want array", envelope.Data)
	}
	if len(markers) != 2 {
		t.Errorf("Page has %d markers, want 2", len(markers))
	}
}

func TestMarkersInBounds(t *testing.T) {
	srv := setupServer(t)

	createMarker(t, srv, "skyrim", 40.5, -74.5, "Inside")
	createMarker(t, srv, "skyrim", 50.0, -74.5, "Outside")

	resp, envelope := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/games/skyrim/markers/bounds?west=-75&south=40&east=-74&north=41", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Bounds returned status %d", resp.StatusCode)
	}
	markers, ok := envelope.Data.([]interface{})
	if !ok {
		t.Fatalf("Data is %T, want array", envelope.Data)
	}
	if len(markers) != 1 {
		t.Fatalf("Bounds returned %d markers, want 1", len(markers))
	}

	resp, _ = doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/games/skyrim/markers/bounds?west=-75&south=40", nil, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Partial bounds returned status %d, want 400", resp.StatusCode)
	}
}

func TestMarkersNearby(t *testing.T) {
	srv := setupServer(t)

	createMarker(t, srv, "skyrim", 40.7128, -74.0060, "Close")
	createMarker(t, srv, "skyrim", 40.8000, -74.0060, "Far")

	resp, envelope := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/games/skyrim/markers/nearby?lat=40.7128&lon=-74.0060&radius=500", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Nearby returned status %d", resp.StatusCode)
	}
	results, ok := envelope.Data.([]interface{})
	if !ok {
		t.Fatalf("Data is %T, want array", envelope.Data)
	}
	if len(results) != 1 {
		t.Fatalf("Nearby returned %d results, want 1", len(results))
	}

	first, _ := results[0].(map[string]interface{})
	if _, ok := first["distance_meters"]; !ok {
		t.Error("Nearby result missing distance_meters")
	}
}

func TestMarkerHistory(t *testing.T) {
	srv := setupServer(t)

	created := createMarker(t, srv, "skyrim", 40.7128, -74.0060, "Versioned")
	id := created["id"].(string)

	title := "Renamed"
	doJSON(t, http.MethodPatch, srv.URL+"/api/v1/markers/"+id, map[string]interface{}{
		"expected_version": 1,
		"patch":            map[string]interface{}{"title": title},
	}, "tester")

	resp, envelope := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/markers/"+id+"/history", nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("History returned status %d", resp.StatusCode)
	}
	entries, ok := envelope.Data.([]interface{})
	if !ok {
		t.Fatalf("Data is %T, want array", envelope.Data)
	}
	if len(entries) != 2 {
		t.Fatalf("History has %d entries, want 2", len(entries))
	}

	at := time.Now().UTC().Add(time.Minute).Format(time.RFC3339)
	resp, envelope = doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/markers/"+id+"/version-at?at="+at, nil, "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("VersionAt returned status %d", resp.StatusCode)
	}
	entry := dataMap(t, envelope)
	if entry["version"].(float64) != 2 {
		t.Errorf("VersionAt = %v, want 2", entry["version"])
	}
}

func TestBulkImportLifecycle(t *testing.T) {
	srv := setupServer(t)

	body := map[string]interface{}{
		"records": []map[string]interface{}{
			{"position": map[string]float64{"latitude": 40.0, "longitude": -74.0}, "title": "A"},
			{"position": map[string]float64{"latitude": 41.0, "longitude": -74.0}, "title": "B"},
		},
	}
	resp, envelope := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/games/skyrim/bulk-import", body, "tester")
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("Bulk import returned status %d, want 202", resp.StatusCode)
	}
	job := dataMap(t, envelope)
	jobID, _ := job["id"].(string)
	if jobID == "" {
		t.Fatal("Bulk job has no id")
	}

	deadline := time.Now().Add(10 * time.Second)
	for {
		resp, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/v1/bulk-jobs/"+jobID, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("Job status returned %d", resp.StatusCode)
		}
		job = dataMap(t, envelope)
		if job["status"] == "completed" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("Job did not complete, status %v", job["status"])
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job["succeeded"].(float64) != 2 {
		t.Errorf("Succeeded = %v, want 2", job["succeeded"])
	}
}

func TestBulkImportRequiresActor(t *testing.T) {
	srv := setupServer(t)

	resp, envelope := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/games/skyrim/bulk-import",
		map[string]interface{}{"records": []map[string]interface{}{}}, "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("Anonymous submission returned %d, want 400", resp.StatusCode)
	}
	if envelope.Error == nil || envelope.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("Error = %+v, want VALIDATION_ERROR", envelope.Error)
	}
}

func TestBulkJobNotFound(t *testing.T) {
	srv := setupServer(t)

	resp, _ := doJSON(t, http.MethodGet,
		srv.URL+"/api/v1/bulk-jobs/00000000-0000-0000-0000-000000000001", nil, "")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Status = %d, want 404", resp.StatusCode)
	}
}

func TestDetachCategory(t *testing.T) {
	srv := setupServer(t)

	category := "dungeons"
	resp, envelope := doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/games/skyrim/markers",
		map[string]interface{}{
			"latitude":    40.0,
			"longitude":   -74.0,
			"title":       "Bleak Falls",
			"category_id": category,
		}, "tester")
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("Create returned status %d", resp.StatusCode)
	}
	id := dataMap(t, envelope)["id"].(string)

	resp, envelope = doJSON(t, http.MethodPost,
		srv.URL+"/api/v1/games/skyrim/categories/"+category+"/detach", nil, "tester")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Detach returned status %d", resp.StatusCode)
	}
	result := dataMap(t, envelope)
	if result["markers_updated"].(float64) != 1 {
		t.Errorf("markers_updated = %v, want 1", result["markers_updated"])
	}

	_, envelope = doJSON(t, http.MethodGet, srv.URL+"/api/v1/markers/"+id, nil, "")
	got := dataMap(t, envelope)
	if got["category_id"] != nil {
		t.Errorf("CategoryID after detach = %v, want null", got["category_id"])
	}
}

func TestHealthEndpoints(t *testing.T) {
	srv := setupServer(t)

	for _, path := range []string{"/api/v1/health/live", "/api/v1/health/ready"} {
		resp, envelope := doJSON(t, http.MethodGet, srv.URL+path, nil, "")
		if resp.StatusCode != http.StatusOK {
			t.Errorf("%s returned status %d", path, resp.StatusCode)
		}
		if envelope.Status != "ok" {
			t.Errorf("%s envelope status = %q", path, envelope.Status)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv := setupServer(t)

	resp, err := http.Get(srv.URL + "/metrics")
	if err != nil {
		t.Fatalf("Metrics request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("Metrics returned status %d", resp.StatusCode)
	}
}
