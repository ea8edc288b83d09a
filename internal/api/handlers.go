// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

// Package api provides the HTTP transport over the marker engine: Chi
// routing, request validation, and the JSON response envelope.
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/tomtom215/geomark/internal/bulk"
	"github.com/tomtom215/geomark/internal/config"
	"github.com/tomtom215/geomark/internal/database"
	"github.com/tomtom215/geomark/internal/marker"
	"github.com/tomtom215/geomark/internal/models"
)

// Handlers wires the HTTP endpoints to the engine components.
type Handlers struct {
	db       *database.DB
	store    *marker.Store
	engine   *marker.QueryEngine
	pipeline *bulk.Pipeline
	registry *bulk.Registry
	cfg      *config.APIConfig
}

// NewHandlers creates the handler set.
func NewHandlers(db *database.DB, store *marker.Store, engine *marker.QueryEngine, pipeline *bulk.Pipeline, registry *bulk.Registry, cfg *config.APIConfig) *Handlers {
	return &Handlers{
		db:       db,
		store:    store,
		engine:   engine,
		pipeline: pipeline,
		registry: registry,
		cfg:      cfg,
	}
}

// respondMarkerError maps engine errors onto HTTP statuses. VersionConflict
// is distinct from NotFound so clients can re-read and retry.
func respondMarkerError(w http.ResponseWriter, err error) {
	var ve *marker.ValidationError
	switch {
	case errors.As(err, &ve):
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", ve.Error(), nil)
	case errors.Is(err, marker.ErrNotFound):
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Marker not found", nil)
	case errors.Is(err, marker.ErrVersionConflict):
		respondError(w, http.StatusConflict, "VERSION_CONFLICT",
			"Expected version does not match current version", nil)
	default:
		respondError(w, http.StatusInternalServerError, "STORAGE_ERROR", "Storage failure", err)
	}
}

// markerID parses the marker id path parameter.
func markerID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "markerID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "marker id must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// requireActor extracts the actor identity, rejecting anonymous mutation.
func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := actorID(r)
	if actor == "" {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "X-Actor-ID header is required", nil)
		return "", false
	}
	return actor, true
}

// CreateMarker handles POST /games/{gameID}/markers.
func (h *Handlers) CreateMarker(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req createMarkerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	visibility := 1
	if req.VisibilityLevel != nil {
		visibility = *req.VisibilityLevel
	}

	m, err := h.store.Create(r.Context(), &models.CreateMarkerInput{
		GameID:          chi.URLParam(r, "gameID"),
		MapID:           req.MapID,
		CategoryID:      req.CategoryID,
		Position:        models.Position{Latitude: req.Latitude, Longitude: req.Longitude},
		Title:           req.Title,
		Description:     req.Description,
		Metadata:        req.Metadata,
		VisibilityLevel: visibility,
		TagIDs:          req.TagIDs,
		Difficulty:      req.Difficulty,
		ActorID:         actor,
	})
	if err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusCreated, m, models.ResponseMeta{})
}

// GetMarker handles GET /markers/{markerID}.
func (h *Handlers) GetMarker(w http.ResponseWriter, r *http.Request) {
	id, ok := markerID(w, r)
	if !ok {
		return
	}

	m, err := h.store.Get(r.Context(), id)
	if err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusOK, m, models.ResponseMeta{})
}

// UpdateMarker handles PATCH /markers/{markerID}.
func (h *Handlers) UpdateMarker(w http.ResponseWriter, r *http.Request) {
	id, ok := markerID(w, r)
	if !ok {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req updateMarkerRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	m, err := h.store.Update(r.Context(), id, req.ExpectedVersion, &req.Patch, actor)
	if err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusOK, m, models.ResponseMeta{})
}

// DeleteMarker handles DELETE /markers/{markerID}.
func (h *Handlers) DeleteMarker(w http.ResponseWriter, r *http.Request) {
	id, ok := markerID(w, r)
	if !ok {
		return
	}
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := h.store.Delete(r.Context(), id, actor); err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"deleted": true}, models.ResponseMeta{})
}

// ListMarkers handles GET /games/{gameID}/markers.
func (h *Handlers) ListMarkers(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	req := listMarkersRequest{
		Page:     getIntParam(r, "page", 1),
		PageSize: getIntParam(r, "page_size", h.cfg.DefaultPageSize),
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	page, pageSize := marker.ClampPage(req.Page, req.PageSize, h.cfg.DefaultPageSize)

	createdAfter, err := getTimeParam(r, "created_after")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	createdBefore, err := getTimeParam(r, "created_before")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	filter := database.MarkerFilter{
		MapID:         r.URL.Query().Get("map_id"),
		CategoryID:    r.URL.Query().Get("category_id"),
		TagID:         r.URL.Query().Get("tag_id"),
		MinDifficulty: getIntPtrParam(r, "min_difficulty"),
		MaxDifficulty: getIntPtrParam(r, "max_difficulty"),
		CreatedAfter:  createdAfter,
		CreatedBefore: createdBefore,
		CreatedBy:     r.URL.Query().Get("created_by"),
	}

	result, err := h.engine.ListByGame(r.Context(), chi.URLParam(r, "gameID"), filter, page, pageSize)
	if err != nil {
		respondMarkerError(w, err)
		return
	}

	respondData(w, http.StatusOK, result.Markers, models.ResponseMeta{
		QueryTimeMS: time.Since(start).Milliseconds(),
		Pagination: &models.PaginationMeta{
			Page:       result.Page,
			PageSize:   result.PageSize,
			TotalCount: result.TotalCount,
			TotalPages: result.TotalPages,
		},
	})
}

// spatialFilter parses the shared post-filter query parameters.
func spatialFilter(r *http.Request) (marker.Filter, error) {
	createdAfter, err := getTimeParam(r, "created_after")
	if err != nil {
		return marker.Filter{}, err
	}
	createdBefore, err := getTimeParam(r, "created_before")
	if err != nil {
		return marker.Filter{}, err
	}
	return marker.Filter{
		Categories:    splitParam(r, "categories"),
		Tags:          splitParam(r, "tags"),
		MinDifficulty: getIntPtrParam(r, "min_difficulty"),
		MaxDifficulty: getIntPtrParam(r, "max_difficulty"),
		CreatedAfter:  createdAfter,
		CreatedBefore: createdBefore,
	}, nil
}

// MarkersInBounds handles GET /games/{gameID}/markers/bounds.
func (h *Handlers) MarkersInBounds(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	west, okW := getFloatParam(r, "west")
	south, okS := getFloatParam(r, "south")
	east, okE := getFloatParam(r, "east")
	north, okN := getFloatParam(r, "north")
	if !okW || !okS || !okE || !okN {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"west, south, east, and north are required", nil)
		return
	}
	req := boundsRequest{West: west, South: south, East: east, North: north}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	filter, err := spatialFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	markers, err := h.engine.ListInBounds(r.Context(), chi.URLParam(r, "gameID"),
		west, south, east, north, filter)
	if err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusOK, markers, models.ResponseMeta{
		QueryTimeMS: time.Since(start).Milliseconds(),
	})
}

// MarkersNearby handles GET /games/{gameID}/markers/nearby.
func (h *Handlers) MarkersNearby(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	lat, okLat := getFloatParam(r, "lat")
	lon, okLon := getFloatParam(r, "lon")
	radius, okRad := getFloatParam(r, "radius")
	if !okLat || !okLon || !okRad {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR",
			"lat, lon, and radius are required", nil)
		return
	}
	req := nearbyRequest{Latitude: lat, Longitude: lon, Radius: radius}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}

	filter, err := spatialFilter(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	results, err := h.engine.ListNearby(r.Context(), chi.URLParam(r, "gameID"),
		models.Position{Latitude: lat, Longitude: lon}, radius, filter)
	if err != nil {
		respondMarkerError(w, err)
		return
	}

	type nearbyResult struct {
		Marker         *models.Marker `json:"marker"`
		DistanceMeters float64        `json:"distance_meters"`
	}
	out := make([]nearbyResult, len(results))
	for i, res := range results {
		out[i] = nearbyResult{Marker: res.Marker, DistanceMeters: res.DistanceMeters}
	}
	respondData(w, http.StatusOK, out, models.ResponseMeta{
		QueryTimeMS: time.Since(start).Milliseconds(),
	})
}

// MarkerHistory handles GET /markers/{markerID}/history.
func (h *Handlers) MarkerHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := markerID(w, r)
	if !ok {
		return
	}

	from, err := getTimeParam(r, "from")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	to, err := getTimeParam(r, "to")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}

	entries, err := h.store.History(r.Context(), id, from, to)
	if err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusOK, entries, models.ResponseMeta{})
}

// MarkerVersionAt handles GET /markers/{markerID}/version-at.
func (h *Handlers) MarkerVersionAt(w http.ResponseWriter, r *http.Request) {
	id, ok := markerID(w, r)
	if !ok {
		return
	}

	at, err := getTimeParam(r, "at")
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", err.Error(), nil)
		return
	}
	if at == nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "at is required", nil)
		return
	}

	entry, err := h.store.VersionAt(r.Context(), id, *at)
	if err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusOK, entry, models.ResponseMeta{})
}

// BulkImport handles POST /games/{gameID}/bulk-import. The job runs
// detached; the Accepted report carries the id to poll.
func (h *Handlers) BulkImport(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	var req bulkImportRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if apiErr := validateRequest(&req); apiErr != nil {
		respondError(w, http.StatusBadRequest, apiErr.Code, apiErr.Message, nil)
		return
	}
	if req.OperationType == "" {
		req.OperationType = "create"
	}

	job, err := h.pipeline.Submit(&bulk.Request{
		GameID:        chi.URLParam(r, "gameID"),
		OperationType: req.OperationType,
		Records:       req.Records,
		Options:       req.Options,
		ActorID:       actor,
	})
	if err != nil {
		// Job-level fatal: the Failed report is still registered.
		respondJSON(w, http.StatusBadRequest, &models.APIResponse{
			Status: "error",
			Data:   job,
			Meta:   models.ResponseMeta{Timestamp: time.Now().UTC()},
			Error:  &models.APIError{Code: "VALIDATION_ERROR", Message: err.Error()},
		})
		return
	}
	respondData(w, http.StatusAccepted, job, models.ResponseMeta{})
}

// BulkJobStatus handles GET /bulk-jobs/{jobID}.
func (h *Handlers) BulkJobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "job id must be a UUID", nil)
		return
	}

	job, err := h.registry.Get(id)
	if err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Bulk import job not found", nil)
		return
	}
	respondData(w, http.StatusOK, job, models.ResponseMeta{})
}

// BulkJobCancel handles DELETE /bulk-jobs/{jobID}.
func (h *Handlers) BulkJobCancel(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "jobID"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "VALIDATION_ERROR", "job id must be a UUID", nil)
		return
	}

	if err := h.registry.Cancel(id); err != nil {
		respondError(w, http.StatusNotFound, "NOT_FOUND", "Bulk import job not found", nil)
		return
	}
	respondData(w, http.StatusAccepted, map[string]interface{}{"cancelled": true}, models.ResponseMeta{})
}

// DetachCategory handles POST /games/{gameID}/categories/{categoryID}/detach.
// Invoked by the category-owning service when a category is removed.
func (h *Handlers) DetachCategory(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}

	affected, err := h.store.DetachCategory(r.Context(),
		chi.URLParam(r, "gameID"), chi.URLParam(r, "categoryID"))
	if err != nil {
		respondMarkerError(w, err)
		return
	}
	respondData(w, http.StatusOK, map[string]interface{}{"markers_updated": affected}, models.ResponseMeta{})
}

// HealthLive handles GET /health/live. Process is up.
func (h *Handlers) HealthLive(w http.ResponseWriter, _ *http.Request) {
	respondData(w, http.StatusOK, map[string]string{"status": "alive"}, models.ResponseMeta{})
}

// HealthReady handles GET /health/ready. Storage must answer.
func (h *Handlers) HealthReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		respondError(w, http.StatusServiceUnavailable, "STORAGE_ERROR", "Database not reachable", err)
		return
	}
	respondData(w, http.StatusOK, map[string]string{"status": "ready"}, models.ResponseMeta{})
}
