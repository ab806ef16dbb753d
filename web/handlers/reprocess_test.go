package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haverlock/argus/internal/reprocess"
	"github.com/haverlock/argus/internal/resolver"
	"github.com/haverlock/argus/internal/storage/sqlite"
	"github.com/haverlock/argus/pkg/types"
)

// stubGateway returns a fixed vector for every media reference.
type stubGateway struct{}

func (stubGateway) Generate(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (stubGateway) Healthy(context.Context) error { return nil }

func newReprocessMux(t *testing.T) (*http.ServeMux, *reprocess.Coordinator, *sqlite.Store) {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "argus_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	coordinator := reprocess.NewCoordinator(store, stubGateway{}, resolver.New(store, 0, 0), nil, 10)
	h := NewReprocessHandlers(coordinator)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/reprocess", h.StartReprocess)
	mux.HandleFunc("GET /api/reprocess/status", h.GetStatus)
	mux.HandleFunc("POST /api/reprocess/cancel", h.CancelReprocess)
	return mux, coordinator, store
}

func TestReprocessLifecycleOverHTTP(t *testing.T) {
	mux, coordinator, store := newReprocessMux(t)
	ctx := context.Background()

	require.NoError(t, store.PutEvent(ctx, &types.Event{
		ID:         "evt-1",
		CameraID:   "cam-front",
		OccurredAt: time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC),
		MediaRef:   "media/evt-1.mp4",
		Descriptor: "person at the front door",
	}))

	// Status before any run.
	rr := doJSON(t, mux, http.MethodGet, "/api/reprocess/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"idle"}`, rr.Body.String())

	// Cancel with nothing running.
	rr = doJSON(t, mux, http.MethodPost, "/api/reprocess/cancel", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"cancelled":false}`, rr.Body.String())

	// Start accepts and reports the scoped total.
	rr = doJSON(t, mux, http.MethodPost, "/api/reprocess", `{"only_unmatched":true}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	var snap types.ProgressSnapshot
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, 1, snap.Total)
	assert.NotEmpty(t, snap.TaskID)

	coordinator.Wait()

	rr = doJSON(t, mux, http.MethodGet, "/api/reprocess/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &snap))
	assert.Equal(t, types.TaskCompleted, snap.Status)
	assert.Equal(t, 1, snap.Processed)
}

func TestStartConflictsWhileRunning(t *testing.T) {
	mux, coordinator, store := newReprocessMux(t)
	ctx := context.Background()

	// A checkpoint from a crashed run gates the next start.
	require.NoError(t, store.SaveCheckpoint(ctx, &types.ReprocessTask{
		TaskID:    "task-old",
		Status:    types.TaskRunning,
		Total:     10,
		Processed: 5,
		StartedAt: time.Now(),
		UpdatedAt: time.Now(),
	}))
	require.NoError(t, coordinator.RecoverInterrupted(ctx))

	rr := doJSON(t, mux, http.MethodPost, "/api/reprocess", `{}`)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = doJSON(t, mux, http.MethodPost, "/api/reprocess", `{"only_unmatched":true}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())
	coordinator.Wait()
}

func TestStartRejectsMalformedBody(t *testing.T) {
	mux, _, _ := newReprocessMux(t)
	rr := doJSON(t, mux, http.MethodPost, "/api/reprocess", `{"from": "not-a-time"`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
