package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client handles communication with the embedding gateway over HTTP.
// It wraps all calls with circuit breaker protection.
type Client struct {
	baseURL        string
	client         *http.Client
	circuitBreaker *CircuitBreaker
	model          string
	timeout        time.Duration
}

// ClientConfig holds gateway client configuration.
type ClientConfig struct {
	// BaseURL is the base URL for the gateway (default: http://localhost:8091)
	BaseURL string

	// Model is the embedding model requested from the gateway (default: clip-vit-b32)
	Model string

	// Timeout is the request timeout duration (default: 30s)
	Timeout time.Duration

	// Breaker overrides the default circuit breaker settings.
	Breaker CircuitBreakerConfig
}

// embedRequest represents the request body for the /v1/embed endpoint.
type embedRequest struct {
	Model    string `json:"model"`
	MediaRef string `json:"media_ref"`
}

// embedResponse represents the response from the /v1/embed endpoint.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Dimension int       `json:"dimension"`
}

// NewClient creates a gateway client with the given configuration.
func NewClient(config ClientConfig) *Client {
	if config.BaseURL == "" {
		config.BaseURL = "http://localhost:8091"
	}
	if config.Model == "" {
		config.Model = "clip-vit-b32"
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}

	return &Client{
		baseURL: config.BaseURL,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		circuitBreaker: NewCircuitBreakerWithConfig(config.Breaker),
		model:          config.Model,
		timeout:        config.Timeout,
	}
}

// Generate returns the embedding vector for the given media reference.
func (c *Client) Generate(ctx context.Context, mediaRef string) ([]float32, error) {
	result, err := c.circuitBreaker.Execute(ctx, func() (interface{}, error) {
		return c.generate(ctx, mediaRef)
	})
	if err != nil {
		if errors.Is(err, ErrCircuitOpen) {
			return nil, fmt.Errorf("embedding gateway circuit breaker open: %w", err)
		}
		return nil, err
	}

	return result.([]float32), nil
}

// generate is the internal implementation without circuit breaker wrapping.
func (c *Client) generate(ctx context.Context, mediaRef string) ([]float32, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	reqBody := embedRequest{
		Model:    c.model,
		MediaRef: mediaRef,
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/embed", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding gateway returned status %d: %s", resp.StatusCode, string(body))
	}

	var embResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embResp); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}

	if len(embResp.Embedding) == 0 {
		return nil, ErrEmptyVector
	}
	if embResp.Dimension != 0 && embResp.Dimension != len(embResp.Embedding) {
		return nil, fmt.Errorf("dimension mismatch: gateway declared %d, vector has %d",
			embResp.Dimension, len(embResp.Embedding))
	}

	return embResp.Embedding, nil
}

// Healthy checks gateway reachability via GET /v1/health.
func (c *Client) Healthy(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("gateway unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("gateway health check returned status %d", resp.StatusCode)
	}
	return nil
}

// BreakerState exposes the circuit state for the health endpoint.
func (c *Client) BreakerState() string {
	return c.circuitBreaker.State()
}
