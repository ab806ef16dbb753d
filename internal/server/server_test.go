package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haverlock/argus/internal/config"
	"github.com/haverlock/argus/internal/reprocess"
	"github.com/haverlock/argus/internal/resolver"
	"github.com/haverlock/argus/internal/storage/sqlite"
	"github.com/haverlock/argus/pkg/types"
)

type noopGateway struct{}

func (noopGateway) Generate(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

func (noopGateway) Healthy(context.Context) error { return nil }

func startTestServer(t *testing.T, cfg *config.Config) string {
	t.Helper()

	store, err := sqlite.NewStore(filepath.Join(t.TempDir(), "argus_test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	coordinator := reprocess.NewCoordinator(store, noopGateway{}, resolver.New(store, 0, 0), nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	addr, err := Start(ctx, cfg, store, coordinator, nil)
	require.NoError(t, err)
	return addr
}

func devConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 0
	cfg.Security.SecurityMode = "development"
	return cfg
}

func TestHealthEndpointAndSecurityHeaders(t *testing.T) {
	addr := startTestServer(t, devConfig())

	resp, err := http.Get(fmt.Sprintf("http://%s/api/health", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", resp.Header.Get("X-Frame-Options"))
}

func TestStatusRouteServesIdle(t *testing.T) {
	addr := startTestServer(t, devConfig())

	resp, err := http.Get(fmt.Sprintf("http://%s/api/reprocess/status", addr))
	require.NoError(t, err)
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Equal(t, "idle", body["status"])
}

func TestProductionModeRequiresToken(t *testing.T) {
	cfg := devConfig()
	cfg.Security.SecurityMode = "production"
	cfg.Security.APIToken = "test-token"
	addr := startTestServer(t, cfg)

	resp, err := http.Get(fmt.Sprintf("http://%s/api/stats", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, fmt.Sprintf("http://%s/api/stats", addr), nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer test-token")

	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// Health stays reachable without a token.
	resp, err = http.Get(fmt.Sprintf("http://%s/api/health", addr))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestReprocessRoundTripThroughServer(t *testing.T) {
	addr := startTestServer(t, devConfig())

	// Start over an empty event set completes immediately.
	resp, err := http.Post(fmt.Sprintf("http://%s/api/reprocess", addr), "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusAccepted, resp.StatusCode)

	var snap types.ProgressSnapshot
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&snap))
	assert.Equal(t, 0, snap.Total)

	// The run finishes promptly; poll status briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		sr, err := http.Get(fmt.Sprintf("http://%s/api/reprocess/status", addr))
		require.NoError(t, err)
		var status types.ProgressSnapshot
		require.NoError(t, json.NewDecoder(sr.Body).Decode(&status))
		sr.Body.Close()

		if status.Status.Terminal() {
			assert.Equal(t, types.TaskCompleted, status.Status)
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("reprocessing did not finish in time")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
