package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

// CircleService manages personal friend lists. Circles only ever hold the
// owner's accepted friends; friendship removal cleans them up via the
// storage cascade.
type CircleService struct {
	store *storage.Store
	log   zerolog.Logger
}

func NewCircleService(store *storage.Store, log zerolog.Logger) *CircleService {
	return &CircleService{store: store, log: log.With().Str("component", "circles").Logger()}
}

// Create adds a circle for the owner. Names are unique per owner; owners are
// capped at MaxCirclesPerOwner circles.
func (s *CircleService) Create(ctx context.Context, ownerID, name string) (*domain.Circle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Invalid(domain.CodeValidation, "circle name is required")
	}
	if len(name) > 50 {
		return nil, domain.Invalid(domain.CodeValidation, "circle name must be at most 50 characters")
	}
	c := &domain.Circle{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateCircle(ctx, c); err != nil {
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return nil, domain.Conflict(domain.CodeDuplicate, "a circle with this name already exists")
		case errors.Is(err, storage.ErrCapacity):
			return nil, domain.Invalid(domain.CodeValidation, "circle limit reached")
		}
		return nil, err
	}
	return c, nil
}

// List returns all circles owned by the claw, members included.
func (s *CircleService) List(ctx context.Context, ownerID string) ([]*domain.Circle, error) {
	return s.store.ListCircles(ctx, ownerID)
}

// Delete removes an owned circle and its memberships.
func (s *CircleService) Delete(ctx context.Context, ownerID, circleID string) error {
	if _, err := s.owned(ctx, ownerID, circleID); err != nil {
		return err
	}
	return s.store.DeleteCircle(ctx, circleID)
}

// AddFriend places an accepted friend into an owned circle.
func (s *CircleService) AddFriend(ctx context.Context, ownerID, circleID, friendID string) error {
	if _, err := s.owned(ctx, ownerID, circleID); err != nil {
		return err
	}
	f, err := s.store.GetActiveFriendshipBetween(ctx, ownerID, friendID)
	if err != nil || f.Status != domain.FriendshipAccepted {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		return domain.Invalid(domain.CodeValidation, "circles can only contain accepted friends")
	}
	if err := s.store.AddCircleMember(ctx, circleID, friendID, time.Now().UTC()); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return domain.Conflict(domain.CodeDuplicate, "friend is already in this circle")
		}
		return err
	}
	return nil
}

// RemoveFriend takes a friend out of an owned circle.
func (s *CircleService) RemoveFriend(ctx context.Context, ownerID, circleID, friendID string) error {
	if _, err := s.owned(ctx, ownerID, circleID); err != nil {
		return err
	}
	if err := s.store.RemoveCircleMember(ctx, circleID, friendID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound(domain.CodeNotFound, "friend is not in this circle")
		}
		return err
	}
	return nil
}

// Members lists the claw IDs in an owned circle.
func (s *CircleService) Members(ctx context.Context, ownerID, circleID string) ([]string, error) {
	if _, err := s.owned(ctx, ownerID, circleID); err != nil {
		return nil, err
	}
	return s.store.ListCircleMemberIDs(ctx, circleID)
}

// owned loads a circle and hides other owners' circles behind NOT_FOUND.
func (s *CircleService) owned(ctx context.Context, ownerID, circleID string) (*domain.Circle, error) {
	c, err := s.store.GetCircle(ctx, circleID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "circle not found")
		}
		return nil, err
	}
	if c.OwnerID != ownerID {
		return nil, domain.NotFound(domain.CodeNotFound, "circle not found")
	}
	return c, nil
}
