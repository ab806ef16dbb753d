// Package handlers provides HTTP handlers and middleware for the Argus
// REST API.
package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrorResponse is the standard error response format for the API.
type ErrorResponse struct {
	Error   string                 `json:"error"`
	Code    string                 `json:"code"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// ReprocessRequest is the request format for POST /api/reprocess.
type ReprocessRequest struct {
	From          *time.Time `json:"from,omitempty"`
	To            *time.Time `json:"to,omitempty"`
	CameraID      string     `json:"camera_id,omitempty"`
	OnlyUnmatched bool       `json:"only_unmatched"`
}

// CancelResponse is the response format for POST /api/reprocess/cancel.
type CancelResponse struct {
	Cancelled bool `json:"cancelled"`
}

// AdjustmentRequest is the request format for POST and PUT
// /api/events/{id}/entity.
type AdjustmentRequest struct {
	EntityID string `json:"entity_id"`
}

// StatsResponse is the response format for GET /api/stats.
type StatsResponse struct {
	TotalEvents    int            `json:"total_events"`
	LinkedEvents   int            `json:"linked_events"`
	EventsWithVec  int            `json:"events_with_embedding"`
	TotalEntities  int            `json:"total_entities"`
	EntitiesByType map[string]int `json:"entities_by_type"`
	LedgerRows     int            `json:"ledger_rows"`
}

// respondJSON writes a JSON response with the given status code.
func respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		// Headers already sent; nothing sensible left to write.
		fmt.Printf("failed to encode JSON response: %v\n", err)
	}
}

// respondError writes an error response with the given status code.
func respondError(w http.ResponseWriter, statusCode int, message string, err error) {
	errResp := ErrorResponse{
		Error: message,
		Code:  http.StatusText(statusCode),
	}

	if err != nil {
		errResp.Details = map[string]interface{}{
			"error": err.Error(),
		}
	}

	respondJSON(w, statusCode, errResp)
}

// parseInt parses a query parameter with a fallback.
func parseInt(s string, defaultValue int) int {
	if s == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(s)
	if err != nil {
		return defaultValue
	}
	return val
}

// parseTime parses an RFC 3339 query parameter, returning the zero
// time for empty or malformed values.
func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
