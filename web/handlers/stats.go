package handlers

import (
	"net/http"

	"github.com/haverlock/argus/internal/storage"
)

// StatsHandlers contains HTTP handlers for coverage statistics.
type StatsHandlers struct {
	store storage.Store
}

// NewStatsHandlers creates a new StatsHandlers instance.
func NewStatsHandlers(store storage.Store) *StatsHandlers {
	return &StatsHandlers{store: store}
}

// GetStats handles GET /api/stats - event/embedding coverage and
// entity counts by type.
func (h *StatsHandlers) GetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to collect stats", err)
		return
	}

	respondJSON(w, http.StatusOK, StatsResponse{
		TotalEvents:    stats.TotalEvents,
		LinkedEvents:   stats.LinkedEvents,
		EventsWithVec:  stats.EventsWithVec,
		TotalEntities:  stats.TotalEntities,
		EntitiesByType: stats.EntitiesByType,
		LedgerRows:     stats.LedgerRowCount,
	})
}
