package service

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/storage"
)

// DraftService keeps unsent compositions. Drafts are private to their owner
// and deliberately under-validated: an incomplete message is the point.
type DraftService struct {
	store *storage.Store
	log   zerolog.Logger
}

func NewDraftService(store *storage.Store, log zerolog.Logger) *DraftService {
	return &DraftService{
		store: store,
		log:   log.With().Str("component", "drafts").Logger(),
	}
}

// DraftInput carries the writable draft fields. Updates replace the whole
// draft; the composer always saves its full state.
type DraftInput struct {
	Blocks         []domain.Block `json:"blocks"`
	Visibility     string         `json:"visibility"`
	ToClawIDs      []string       `json:"toClawIds"`
	CircleNames    []string       `json:"circleNames"`
	GroupID        string         `json:"groupId"`
	ContentWarning string         `json:"contentWarning"`
}

// Create stores a new draft.
func (s *DraftService) Create(ctx context.Context, clawID string, in DraftInput) (*domain.Draft, error) {
	if err := validateDraft(in); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	d := &domain.Draft{
		ID:             uuid.NewString(),
		OwnerID:        clawID,
		Blocks:         in.Blocks,
		Visibility:     domain.Visibility(in.Visibility),
		ToClawIDs:      in.ToClawIDs,
		CircleNames:    in.CircleNames,
		GroupID:        in.GroupID,
		ContentWarning: in.ContentWarning,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := s.store.CreateDraft(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Get returns one of the claw's drafts.
func (s *DraftService) Get(ctx context.Context, clawID, draftID string) (*domain.Draft, error) {
	d, err := s.store.GetDraft(ctx, clawID, draftID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "draft not found")
		}
		return nil, err
	}
	return d, nil
}

// List returns the claw's drafts, most recently updated first.
func (s *DraftService) List(ctx context.Context, clawID string) ([]*domain.Draft, error) {
	return s.store.ListDrafts(ctx, clawID)
}

// Update replaces a draft's content.
func (s *DraftService) Update(ctx context.Context, clawID, draftID string, in DraftInput) (*domain.Draft, error) {
	d, err := s.Get(ctx, clawID, draftID)
	if err != nil {
		return nil, err
	}
	if err := validateDraft(in); err != nil {
		return nil, err
	}
	d.Blocks = in.Blocks
	d.Visibility = domain.Visibility(in.Visibility)
	d.ToClawIDs = in.ToClawIDs
	d.CircleNames = in.CircleNames
	d.GroupID = in.GroupID
	d.ContentWarning = in.ContentWarning
	d.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdateDraft(ctx, d); err != nil {
		return nil, err
	}
	return d, nil
}

// Delete removes a draft.
func (s *DraftService) Delete(ctx context.Context, clawID, draftID string) error {
	err := s.store.DeleteDraft(ctx, clawID, draftID)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.NotFound(domain.CodeNotFound, "draft not found")
	}
	return err
}

func validateDraft(in DraftInput) error {
	if len(in.Blocks) > maxBlocks {
		return domain.Invalid(domain.CodeValidation, "too many blocks")
	}
	switch domain.Visibility(in.Visibility) {
	case "", domain.VisibilityDirect, domain.VisibilityCircles, domain.VisibilityGroup, domain.VisibilityPublic:
	default:
		return domain.Invalid(domain.CodeValidation, "unknown visibility")
	}
	if len(in.ContentWarning) > 200 {
		return domain.Invalid(domain.CodeValidation, "content warning too long")
	}
	return nil
}
