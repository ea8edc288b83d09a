// Geomark - Game Map Marker Storage and Query Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geomark

package models

import "time"

// APIResponse is the envelope for every JSON response.
type APIResponse struct {
	Status string       `json:"status"`
	Data   interface{}  `json:"data"`
	Meta   ResponseMeta `json:"meta"`
	Error  *APIError    `json:"error,omitempty"`
}

// ResponseMeta carries response observability fields and, for listing
// endpoints, pagination state.
type ResponseMeta struct {
	Timestamp   time.Time       `json:"timestamp"`
	QueryTimeMS int64           `json:"query_time_ms,omitempty"`
	Pagination  *PaginationMeta `json:"pagination,omitempty"`
}

// PaginationMeta describes one page of a listing. TotalPages is ceiling
// division of TotalCount by PageSize.
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	TotalCount int64 `json:"total_count"`
	TotalPages int   `json:"total_pages"`
}

// APIError is the structured error payload.
//
// Common codes: VALIDATION_ERROR, NOT_FOUND, VERSION_CONFLICT,
// STORAGE_ERROR, RATE_LIMIT_EXCEEDED.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}
