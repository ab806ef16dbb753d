package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/haverlock/argus/internal/ledger"
	"github.com/haverlock/argus/internal/storage"
)

// AdjustmentHandlers contains HTTP handlers for manual entity
// adjustments on events.
type AdjustmentHandlers struct {
	service *ledger.Service
}

// NewAdjustmentHandlers creates a new AdjustmentHandlers instance.
func NewAdjustmentHandlers(service *ledger.Service) *AdjustmentHandlers {
	return &AdjustmentHandlers{service: service}
}

// HandleEventEntity dispatches /api/events/{id}/entity by method:
// POST assigns, PUT moves, DELETE unlinks.
func (h *AdjustmentHandlers) HandleEventEntity(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")
	if eventID == "" {
		respondError(w, http.StatusBadRequest, "event ID is required", nil)
		return
	}

	switch r.Method {
	case http.MethodPost:
		h.assign(w, r, eventID)
	case http.MethodPut:
		h.move(w, r, eventID)
	case http.MethodDelete:
		h.unlink(w, r, eventID)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
	}
}

// GetHistory handles GET /api/events/{id}/adjustments - the event's
// ledger rows, oldest first.
func (h *AdjustmentHandlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	eventID := r.PathValue("id")

	history, err := h.service.History(r.Context(), eventID)
	if err != nil {
		respondAdjustmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"event_id":    eventID,
		"adjustments": history,
	})
}

func (h *AdjustmentHandlers) assign(w http.ResponseWriter, r *http.Request, eventID string) {
	req, ok := decodeAdjustment(w, r)
	if !ok {
		return
	}

	state, err := h.service.Assign(r.Context(), eventID, req.EntityID)
	if err != nil {
		respondAdjustmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (h *AdjustmentHandlers) move(w http.ResponseWriter, r *http.Request, eventID string) {
	req, ok := decodeAdjustment(w, r)
	if !ok {
		return
	}

	state, err := h.service.Move(r.Context(), eventID, req.EntityID)
	if err != nil {
		respondAdjustmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func (h *AdjustmentHandlers) unlink(w http.ResponseWriter, r *http.Request, eventID string) {
	state, err := h.service.Unlink(r.Context(), eventID)
	if err != nil {
		respondAdjustmentError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, state)
}

func decodeAdjustment(w http.ResponseWriter, r *http.Request) (AdjustmentRequest, bool) {
	var req AdjustmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return req, false
	}
	if req.EntityID == "" {
		respondError(w, http.StatusBadRequest, "entity_id is required", nil)
		return req, false
	}
	return req, true
}

// respondAdjustmentError maps storage sentinels to HTTP statuses.
func respondAdjustmentError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		respondError(w, http.StatusNotFound, "not found", err)
	case errors.Is(err, storage.ErrAlreadyLinked):
		respondError(w, http.StatusConflict, "event is already linked to an entity", err)
	case errors.Is(err, storage.ErrNotLinked):
		respondError(w, http.StatusConflict, "event is not linked to an entity", err)
	case errors.Is(err, storage.ErrInvalidInput):
		respondError(w, http.StatusBadRequest, "invalid input", err)
	default:
		respondError(w, http.StatusInternalServerError, "adjustment failed", err)
	}
}
