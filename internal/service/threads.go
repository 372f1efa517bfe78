package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// ThreadService manages collaborative threads. A thread is visible to its
// owner and the owner's accepted friends; contributions referencing a pearl
// feed that pearl's luster through the bus.
type ThreadService struct {
	store  *storage.Store
	bus    *events.Bus
	pearls *PearlService
	log    zerolog.Logger
}

func NewThreadService(store *storage.Store, bus *events.Bus, pearls *PearlService, log zerolog.Logger) *ThreadService {
	return &ThreadService{
		store:  store,
		bus:    bus,
		pearls: pearls,
		log:    log.With().Str("component", "threads").Logger(),
	}
}

// Create opens a thread owned by the claw.
func (s *ThreadService) Create(ctx context.Context, clawID, title string) (*domain.Thread, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, domain.Invalid(domain.CodeValidation, "title is required")
	}
	if len(title) > 200 {
		return nil, domain.Invalid(domain.CodeValidation, "title too long")
	}
	t := &domain.Thread{
		ID:        uuid.NewString(),
		OwnerID:   clawID,
		Title:     title,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.store.CreateThread(ctx, t); err != nil {
		return nil, err
	}
	return t, nil
}

// Get returns a thread the claw can see.
func (s *ThreadService) Get(ctx context.Context, clawID, threadID string) (*domain.Thread, error) {
	return s.visible(ctx, clawID, threadID)
}

// List returns threads owned by the claw or its accepted friends, newest
// first.
func (s *ThreadService) List(ctx context.Context, clawID string, limit int) ([]*domain.Thread, error) {
	friends, err := s.store.ListFriendIDs(ctx, clawID)
	if err != nil {
		return nil, err
	}
	return s.store.ListThreadsForClaws(ctx, append(friends, clawID), limit)
}

// Delete removes a thread and its contributions. Owner only.
func (s *ThreadService) Delete(ctx context.Context, clawID, threadID string) error {
	t, err := s.visible(ctx, clawID, threadID)
	if err != nil {
		return err
	}
	if t.OwnerID != clawID {
		return domain.Forbidden(domain.CodeInsufficient, "only the owner can delete a thread")
	}
	return s.store.DeleteThread(ctx, threadID)
}

// ContributionInput is one thread entry. Text entries carry text; pearl_ref
// entries carry the referenced pearl's id.
type ContributionInput struct {
	ContentType string `json:"contentType"`
	Text        string `json:"text"`
	PearlRefID  string `json:"pearlRefId"`
}

// Contribute appends an entry to a visible thread. A pearl_ref entry must
// reference a pearl the contributor can read.
func (s *ThreadService) Contribute(ctx context.Context, clawID, threadID string, in ContributionInput) (*domain.ThreadContribution, error) {
	t, err := s.visible(ctx, clawID, threadID)
	if err != nil {
		return nil, err
	}

	c := &domain.ThreadContribution{
		ID:          uuid.NewString(),
		ThreadID:    t.ID,
		ClawID:      clawID,
		ContentType: domain.ContributionType(in.ContentType),
		CreatedAt:   time.Now().UTC(),
	}
	switch c.ContentType {
	case domain.ContributionText:
		c.Text = strings.TrimSpace(in.Text)
		if c.Text == "" {
			return nil, domain.Invalid(domain.CodeValidation, "text is required")
		}
		if len(c.Text) > 2000 {
			return nil, domain.Invalid(domain.CodeValidation, "text too long")
		}
	case domain.ContributionPearlRef:
		if in.PearlRefID == "" {
			return nil, domain.Invalid(domain.CodeValidation, "pearlRefId is required")
		}
		if _, err := s.pearls.Get(ctx, clawID, in.PearlRefID); err != nil {
			return nil, err
		}
		c.PearlRefID = in.PearlRefID
	default:
		return nil, domain.Invalid(domain.CodeValidation, "contentType must be text or pearl_ref")
	}

	recipients, err := s.participants(ctx, t, clawID)
	if err != nil {
		return nil, err
	}
	if err := s.store.CreateThreadContribution(ctx, c); err != nil {
		return nil, err
	}

	s.bus.Publish(ctx, events.New(events.ThreadContributionAdded, clawID, recipients, events.ThreadContributionPayload{
		ThreadID:       t.ID,
		ContributionID: c.ID,
		ClawID:         clawID,
		ContentType:    string(c.ContentType),
		PearlRefID:     c.PearlRefID,
	}))
	return c, nil
}

// Contributions lists a visible thread's entries in order.
func (s *ThreadService) Contributions(ctx context.Context, clawID, threadID string) ([]*domain.ThreadContribution, error) {
	if _, err := s.visible(ctx, clawID, threadID); err != nil {
		return nil, err
	}
	return s.store.ListThreadContributions(ctx, threadID)
}

// participants collects the thread owner and prior contributors, minus the
// actor. These are the notification recipients for a new contribution.
func (s *ThreadService) participants(ctx context.Context, t *domain.Thread, actorID string) ([]string, error) {
	existing, err := s.store.ListThreadContributions(ctx, t.ID)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{actorID: true}
	var out []string
	if !seen[t.OwnerID] {
		seen[t.OwnerID] = true
		out = append(out, t.OwnerID)
	}
	for _, c := range existing {
		if !seen[c.ClawID] {
			seen[c.ClawID] = true
			out = append(out, c.ClawID)
		}
	}
	return out, nil
}

func (s *ThreadService) visible(ctx context.Context, clawID, threadID string) (*domain.Thread, error) {
	t, err := s.store.GetThread(ctx, threadID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "thread not found")
		}
		return nil, err
	}
	if t.OwnerID == clawID {
		return t, nil
	}
	f, err := s.store.GetActiveFriendshipBetween(ctx, clawID, t.OwnerID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "thread not found")
		}
		return nil, err
	}
	if f.Status != domain.FriendshipAccepted {
		return nil, domain.NotFound(domain.CodeNotFound, "thread not found")
	}
	return t, nil
}
