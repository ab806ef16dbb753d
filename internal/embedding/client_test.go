package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReturnsVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/embed", r.URL.Path)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "media/clip-42.mp4", req.MediaRef)

		json.NewEncoder(w).Encode(embedResponse{
			Embedding: []float32{0.1, 0.2, 0.3},
			Dimension: 3,
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	vec, err := client.Generate(context.Background(), "media/clip-42.mp4")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestGenerateRejectsEmptyVector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := client.Generate(context.Background(), "media/clip-1.mp4")
	assert.ErrorIs(t, err, ErrEmptyVector)
}

func TestGenerateRejectsDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(embedResponse{
			Embedding: []float32{0.1, 0.2},
			Dimension: 512,
		})
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := client.Generate(context.Background(), "media/clip-1.mp4")
	assert.ErrorContains(t, err, "dimension mismatch")
}

func TestGenerateSurfacesGatewayError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})

	_, err := client.Generate(context.Background(), "media/clip-1.mp4")
	require.Error(t, err)
	assert.ErrorContains(t, err, "status 503")
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{
		BaseURL: srv.URL,
		Breaker: CircuitBreakerConfig{MaxFailures: 2, Timeout: time.Minute},
	})

	_, err := client.Generate(context.Background(), "m1")
	require.Error(t, err)
	_, err = client.Generate(context.Background(), "m2")
	require.Error(t, err)

	// Breaker is now open: the request is rejected without reaching
	// the gateway.
	_, err = client.Generate(context.Background(), "m3")
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.Equal(t, "open", client.BreakerState())
}

func TestHealthy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		http.NotFound(w, r)
	}))
	defer srv.Close()

	client := NewClient(ClientConfig{BaseURL: srv.URL})
	assert.NoError(t, client.Healthy(context.Background()))

	srv.Close()
	assert.Error(t, client.Healthy(context.Background()))
}
