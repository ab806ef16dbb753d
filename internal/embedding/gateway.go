// Package embedding provides the client for the feature-embedding
// gateway. The gateway turns a media reference (a detection clip or
// snapshot) into a fixed-dimension float32 vector used for entity
// resolution. All HTTP calls are wrapped with circuit breaker
// protection so a dead gateway degrades bulk reprocessing instead of
// stalling it.
package embedding

import (
	"context"
	"errors"
)

// ErrEmptyVector is returned when the gateway responds successfully
// but with no usable vector.
var ErrEmptyVector = errors.New("gateway returned an empty embedding")

// Gateway generates feature embeddings for event media.
type Gateway interface {
	// Generate returns the embedding vector for the given media
	// reference. Returns ErrCircuitOpen when the breaker is rejecting
	// calls.
	Generate(ctx context.Context, mediaRef string) ([]float32, error)

	// Healthy reports whether the gateway is reachable.
	Healthy(ctx context.Context) error
}
