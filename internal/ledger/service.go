// Package ledger exposes the manual adjustment operations over the
// append-only adjustment ledger. Every operation records the event's
// state at adjustment time so the history stays meaningful even after
// the event itself changes.
package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/haverlock/argus/internal/storage"
	"github.com/haverlock/argus/pkg/types"
)

// Service applies manual entity adjustments.
type Service struct {
	store storage.Store
}

// NewService creates the adjustment service.
func NewService(store storage.Store) *Service {
	return &Service{store: store}
}

// Assign links an unlinked event to an entity.
// Returns storage.ErrAlreadyLinked when the event has a link,
// storage.ErrNotFound when the event or entity does not exist.
func (s *Service) Assign(ctx context.Context, eventID, entityID string) (*types.LinkState, error) {
	snap, err := s.snapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEntity(ctx, entityID); err != nil {
		return nil, err
	}
	return s.store.ApplyAssign(ctx, eventID, entityID, snap)
}

// Move relinks an event to a different entity.
// Returns storage.ErrNotLinked when the event has no link and
// storage.ErrInvalidInput when the target equals the current entity.
func (s *Service) Move(ctx context.Context, eventID, newEntityID string) (*types.LinkState, error) {
	snap, err := s.snapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}
	if err := s.checkEntity(ctx, newEntityID); err != nil {
		return nil, err
	}
	return s.store.ApplyMove(ctx, eventID, newEntityID, snap)
}

// Unlink clears an event's entity link.
// Returns storage.ErrNotLinked when the event has no link.
func (s *Service) Unlink(ctx context.Context, eventID string) (*types.LinkState, error) {
	snap, err := s.snapshot(ctx, eventID)
	if err != nil {
		return nil, err
	}
	return s.store.ApplyUnlink(ctx, eventID, snap)
}

// History returns the ledger rows for an event, oldest first.
func (s *Service) History(ctx context.Context, eventID string) ([]*types.EntityAdjustment, error) {
	if _, err := s.store.GetEvent(ctx, eventID); err != nil {
		return nil, err
	}
	return s.store.ListAdjustments(ctx, eventID, "")
}

// EntityHistory returns the ledger rows touching an entity, oldest first.
func (s *Service) EntityHistory(ctx context.Context, entityID string) ([]*types.EntityAdjustment, error) {
	if err := s.checkEntity(ctx, entityID); err != nil {
		return nil, err
	}
	return s.store.ListAdjustments(ctx, "", entityID)
}

// snapshot captures the event's current camera and descriptor for the
// ledger row, confirming the event exists.
func (s *Service) snapshot(ctx context.Context, eventID string) (*types.EventSnapshot, error) {
	event, err := s.store.GetEvent(ctx, eventID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: event %s", storage.ErrNotFound, eventID)
		}
		return nil, err
	}
	return &types.EventSnapshot{
		CameraID:   event.CameraID,
		Descriptor: event.Descriptor,
		OccurredAt: event.OccurredAt,
	}, nil
}

func (s *Service) checkEntity(ctx context.Context, entityID string) error {
	if entityID == "" {
		return fmt.Errorf("%w: entity ID is required", storage.ErrInvalidInput)
	}
	if _, err := s.store.GetEntity(ctx, entityID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("%w: entity %s", storage.ErrNotFound, entityID)
		}
		return err
	}
	return nil
}
