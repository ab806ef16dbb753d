package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/haverlock/argus/internal/reprocess"
	"github.com/haverlock/argus/internal/storage"
)

// ReprocessHandlers contains HTTP handlers for the bulk reprocessing
// lifecycle.
type ReprocessHandlers struct {
	coordinator *reprocess.Coordinator
}

// NewReprocessHandlers creates a new ReprocessHandlers instance.
func NewReprocessHandlers(coordinator *reprocess.Coordinator) *ReprocessHandlers {
	return &ReprocessHandlers{coordinator: coordinator}
}

// StartReprocess handles POST /api/reprocess - begin a bulk run over
// the events selected by the request filters. An empty body selects
// the full history.
func (h *ReprocessHandlers) StartReprocess(w http.ResponseWriter, r *http.Request) {
	var req ReprocessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		respondError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	filter := storage.EventFilter{
		CameraID:      req.CameraID,
		OnlyUnmatched: req.OnlyUnmatched,
	}
	if req.From != nil {
		filter.From = *req.From
	}
	if req.To != nil {
		filter.To = *req.To
	}

	snap, err := h.coordinator.Start(r.Context(), filter)
	if err != nil {
		switch {
		case errors.Is(err, reprocess.ErrAlreadyRunning):
			respondError(w, http.StatusConflict, "a reprocessing task is already running", nil)
		case errors.Is(err, reprocess.ErrResumeRequiresUnmatched):
			respondError(w, http.StatusConflict, err.Error(), nil)
		default:
			respondError(w, http.StatusInternalServerError, "failed to start reprocessing", err)
		}
		return
	}

	respondJSON(w, http.StatusAccepted, snap)
}

// GetStatus handles GET /api/reprocess/status - current or most
// recent task snapshot.
func (h *ReprocessHandlers) GetStatus(w http.ResponseWriter, r *http.Request) {
	snap, ok := h.coordinator.Status()
	if !ok {
		respondJSON(w, http.StatusOK, map[string]string{"status": "idle"})
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

// CancelReprocess handles POST /api/reprocess/cancel - request
// cooperative cancellation of the running task.
func (h *ReprocessHandlers) CancelReprocess(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, CancelResponse{
		Cancelled: h.coordinator.Cancel(),
	})
}
