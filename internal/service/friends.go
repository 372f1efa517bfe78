package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// maxRequestAttemptsPerDay bounds re-requests to the same claw after
// rejections.
const maxRequestAttemptsPerDay = 3

// FriendService owns the friendship lifecycle. Accepting emits
// friend.accepted, which seeds relationship, friend-model and trust state in
// the subscribed engines.
type FriendService struct {
	store *storage.Store
	bus   *events.Bus
	log   zerolog.Logger
}

func NewFriendService(store *storage.Store, bus *events.Bus, log zerolog.Logger) *FriendService {
	return &FriendService{store: store, bus: bus, log: log.With().Str("component", "friends").Logger()}
}

// Request sends a friend request from requester to accepter. A reverse
// pending request auto-accepts instead of creating a duplicate pair.
func (s *FriendService) Request(ctx context.Context, requesterID, accepterID string) (*domain.Friendship, error) {
	if requesterID == accepterID {
		return nil, domain.Invalid(domain.CodeSelfRequest, "cannot send a friend request to yourself")
	}
	if _, err := s.store.GetClaw(ctx, accepterID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeClawNotFound, "claw not found")
		}
		return nil, err
	}

	total, _, err := s.store.CountRecentRequestAttempts(ctx, requesterID, accepterID, time.Now().UTC().Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	if total >= maxRequestAttemptsPerDay {
		return nil, domain.RateLimited("too many requests to this claw, try again later")
	}

	existing, err := s.store.GetActiveFriendshipBetween(ctx, requesterID, accepterID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		switch existing.Status {
		case domain.FriendshipAccepted:
			return nil, domain.Conflict(domain.CodeAlreadyFriends, "already friends")
		case domain.FriendshipPending:
			if existing.RequesterID == requesterID {
				return nil, domain.Conflict(domain.CodeDuplicateReq, "request already pending")
			}
			// Both sides asked: the pair agrees, accept the earlier request.
			return s.acceptPending(ctx, existing)
		default:
			// A blocked record occupies the pair without revealing itself.
			return nil, domain.Conflict(domain.CodeDuplicateReq, "request already on file for this pair")
		}
	}

	now := time.Now().UTC()
	f := &domain.Friendship{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		AccepterID:  accepterID,
		Status:      domain.FriendshipPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.CreateFriendship(ctx, f); err != nil {
		return nil, err
	}
	s.bus.Publish(ctx, events.New(events.FriendRequest, requesterID, []string{accepterID}, events.FriendPayload{
		FriendshipID: f.ID,
		RequesterID:  requesterID,
		AccepterID:   accepterID,
	}))
	return f, nil
}

// Accept marks a pending request as accepted. Only the addressee may accept.
func (s *FriendService) Accept(ctx context.Context, clawID, friendshipID string) (*domain.Friendship, error) {
	f, err := s.pendingFor(ctx, clawID, friendshipID)
	if err != nil {
		return nil, err
	}
	return s.acceptPending(ctx, f)
}

// Reject declines a pending request. With block the pair stays occupied, so
// the requester cannot ask again.
func (s *FriendService) Reject(ctx context.Context, clawID, friendshipID string, block bool) error {
	f, err := s.pendingFor(ctx, clawID, friendshipID)
	if err != nil {
		return err
	}
	status := domain.FriendshipRejected
	if block {
		status = domain.FriendshipBlocked
	}
	return s.store.UpdateFriendshipStatus(ctx, f.ID, status, time.Now().UTC())
}

// Remove deletes an accepted friendship and its dependent state: circle
// memberships, friend models and relationship records on both sides. Trust
// history survives removal.
func (s *FriendService) Remove(ctx context.Context, clawID, friendID string) error {
	f, err := s.store.GetActiveFriendshipBetween(ctx, clawID, friendID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.NotFound(domain.CodeNotFound, "not friends")
		}
		return err
	}
	if f.Status != domain.FriendshipAccepted {
		return domain.NotFound(domain.CodeNotFound, "not friends")
	}
	if err := s.store.DeleteFriendshipCascade(ctx, f.ID, clawID, friendID); err != nil {
		return err
	}
	s.log.Info().Str("claw_id", clawID).Str("friend_id", friendID).Msg("friendship removed")
	return nil
}

// ListFriends returns accepted friendships for the claw.
func (s *FriendService) ListFriends(ctx context.Context, clawID string) ([]*domain.Friendship, error) {
	return s.store.ListFriendships(ctx, clawID)
}

// Requests bundles the pending traffic in both directions.
type Requests struct {
	Incoming []*domain.Friendship `json:"incoming"`
	Outgoing []*domain.Friendship `json:"outgoing"`
}

// ListRequests returns pending requests addressed to and sent by the claw.
func (s *FriendService) ListRequests(ctx context.Context, clawID string) (*Requests, error) {
	in, err := s.store.ListIncomingRequests(ctx, clawID)
	if err != nil {
		return nil, err
	}
	out, err := s.store.ListOutgoingRequests(ctx, clawID)
	if err != nil {
		return nil, err
	}
	return &Requests{Incoming: in, Outgoing: out}, nil
}

func (s *FriendService) pendingFor(ctx context.Context, clawID, friendshipID string) (*domain.Friendship, error) {
	f, err := s.store.GetFriendship(ctx, friendshipID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "friend request not found")
		}
		return nil, err
	}
	if f.AccepterID != clawID {
		return nil, domain.Forbidden(domain.CodeInsufficient, "only the addressee can act on a request")
	}
	switch f.Status {
	case domain.FriendshipPending:
		return f, nil
	case domain.FriendshipAccepted:
		return nil, domain.Conflict(domain.CodeAlreadyFriends, "request already accepted")
	default:
		return nil, domain.NotFound(domain.CodeNotFound, "friend request not found")
	}
}

func (s *FriendService) acceptPending(ctx context.Context, f *domain.Friendship) (*domain.Friendship, error) {
	now := time.Now().UTC()
	if err := s.store.UpdateFriendshipStatus(ctx, f.ID, domain.FriendshipAccepted, now); err != nil {
		return nil, err
	}
	f.Status = domain.FriendshipAccepted
	f.UpdatedAt = now
	s.bus.Publish(ctx, events.New(events.FriendAccepted, f.AccepterID,
		[]string{f.RequesterID, f.AccepterID}, events.FriendPayload{
			FriendshipID: f.ID,
			RequesterID:  f.RequesterID,
			AccepterID:   f.AccepterID,
		}))
	s.log.Info().Str("friendship_id", f.ID).Msg("friendship accepted")
	return f, nil
}
