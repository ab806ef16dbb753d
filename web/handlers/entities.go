package handlers

import (
	"errors"
	"net/http"

	"github.com/haverlock/argus/internal/ledger"
	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// EntityHandlers contains HTTP handlers for the entity surface.
type EntityHandlers struct {
	store   storage.Store
	service *ledger.Service
}

// NewEntityHandlers creates a new EntityHandlers instance.
func NewEntityHandlers(store storage.Store, service *ledger.Service) *EntityHandlers {
	return &EntityHandlers{store: store, service: service}
}

// EntityListResponse is the response format for GET /api/entities.
type EntityListResponse struct {
	Entities []*types.Entity `json:"entities"`
	Total    int             `json:"total"`
	Page     int             `json:"page"`
	Limit    int             `json:"limit"`
}

// ListEntities handles GET /api/entities - paginated entity listing
// with an optional type filter, most recently seen first.
func (h *EntityHandlers) ListEntities(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	filter := storage.EntityFilter{
		Type:  q.Get("type"),
		Page:  parseInt(q.Get("page"), 1),
		Limit: parseInt(q.Get("limit"), 50),
	}
	if filter.Type != "" && !types.ValidEntityType(filter.Type) {
		respondError(w, http.StatusBadRequest, "unknown entity type", nil)
		return
	}
	filter.Normalize()

	entities, total, err := h.store.ListEntities(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list entities", err)
		return
	}
	if entities == nil {
		entities = []*types.Entity{}
	}

	respondJSON(w, http.StatusOK, EntityListResponse{
		Entities: entities,
		Total:    total,
		Page:     filter.Page,
		Limit:    filter.Limit,
	})
}

// GetEntity handles GET /api/entities/{id}.
func (h *EntityHandlers) GetEntity(w http.ResponseWriter, r *http.Request) {
	entity, err := h.store.GetEntity(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			respondError(w, http.StatusNotFound, "entity not found", nil)
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to get entity", err)
		return
	}
	respondJSON(w, http.StatusOK, entity)
}

// GetEntityHistory handles GET /api/entities/{id}/adjustments - all
// ledger rows touching the entity, oldest first.
func (h *EntityHandlers) GetEntityHistory(w http.ResponseWriter, r *http.Request) {
	entityID := r.PathValue("id")

	history, err := h.service.EntityHistory(r.Context(), entityID)
	if err != nil {
		respondAdjustmentError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entity_id":   entityID,
		"adjustments": history,
	})
}
