// Package resolver implements the entity matching policy: given an
// event's feature embedding and a type hint, either find an existing
// entity whose representative embedding is close enough, or mint a
// new one. The resolver only chooses the entity; count and signature
// mutations are applied by the ledger in the caller's transaction.
package resolver

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// DefaultThreshold is the cosine similarity above which an embedding
// is considered the same entity.
const DefaultThreshold = 0.82

// DefaultCandidateLimit caps how many stored entities are scored per
// resolution.
const DefaultCandidateLimit = 50

// Resolver matches embeddings against stored entities.
type Resolver struct {
	store          storage.EntityStore
	threshold      float64
	candidateLimit int
}

// Result describes one resolution outcome.
type Result struct {
	Entity *types.Entity
	// IsNew is true when no candidate met the threshold and a new
	// entity was created.
	IsNew bool
	// Score is the winning cosine similarity; zero for new entities.
	Score float64
	// Attributes are signature attributes extracted from the event
	// descriptor, to be merged into the entity alongside the link.
	Attributes map[string]string
}

// New creates a resolver. Zero threshold or limit select the defaults.
func New(store storage.EntityStore, threshold float64, candidateLimit int) *Resolver {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if candidateLimit <= 0 {
		candidateLimit = DefaultCandidateLimit
	}
	return &Resolver{
		store:          store,
		threshold:      threshold,
		candidateLimit: candidateLimit,
	}
}

// Resolve finds the entity for an embedding. The descriptor drives
// type inference and attribute extraction; candidates are drawn from
// the inferred type's pool, falling back to the unknown pool when the
// typed pool has no match.
func (r *Resolver) Resolve(ctx context.Context, vec []float32, descriptor string) (*Result, error) {
	if len(vec) == 0 {
		return nil, fmt.Errorf("%w: embedding vector is required", storage.ErrInvalidInput)
	}

	entityType := InferType(descriptor)
	attrs := ExtractAttributes(descriptor, entityType)

	best, score, err := r.bestMatch(ctx, entityType, vec)
	if err != nil {
		return nil, err
	}
	if best == nil && entityType != types.EntityTypeUnknown {
		best, score, err = r.bestMatch(ctx, types.EntityTypeUnknown, vec)
		if err != nil {
			return nil, err
		}
	}

	if best != nil {
		return &Result{Entity: best, Score: score, Attributes: attrs}, nil
	}

	now := time.Now()
	entity := &types.Entity{
		ID:        uuid.NewString(),
		Type:      entityType,
		Signature: attrs,
		Embedding: vec,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateEntity(ctx, entity); err != nil {
		return nil, fmt.Errorf("failed to create entity: %w", err)
	}

	return &Result{Entity: entity, IsNew: true, Attributes: attrs}, nil
}

// bestMatch scores the candidate pool for one type and returns the
// best entity at or above the threshold, or nil.
func (r *Resolver) bestMatch(ctx context.Context, entityType string, vec []float32) (*types.Entity, float64, error) {
	candidates, err := r.store.NearestCandidates(ctx, entityType, vec, r.candidateLimit)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to load candidates: %w", err)
	}

	var best *types.Entity
	var bestScore float64
	for _, candidate := range candidates {
		score := CosineSimilarity(vec, candidate.Embedding)
		if score >= r.threshold && (best == nil || score > bestScore) {
			best = candidate
			bestScore = score
		}
	}
	return best, bestScore, nil
}

// CosineSimilarity computes the cosine of the angle between two
// vectors. Mismatched dimensions or zero vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
