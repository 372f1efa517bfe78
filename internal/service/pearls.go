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

// lusterPriorWeight anchors the trust-weighted endorsement mean to the 0.5
// prior; more endorsement weight pulls the blend away from it.
const lusterPriorWeight = 1.0

// lusterRefBonus and lusterRefBonusCap reward thread citations.
const (
	lusterRefBonus    = 0.02
	lusterRefBonusCap = 0.1
)

// PearlService owns the wisdom units: CRUD with shareability gating,
// endorsements, shares, and the luster recompute that blends trust-weighted
// endorsement scores with citation bonuses.
type PearlService struct {
	store *storage.Store
	bus   *events.Bus
	trust *TrustService
	log   zerolog.Logger
}

func NewPearlService(store *storage.Store, bus *events.Bus, trust *TrustService, log zerolog.Logger) *PearlService {
	return &PearlService{
		store: store,
		bus:   bus,
		trust: trust,
		log:   log.With().Str("component", "pearls").Logger(),
	}
}

// Start subscribes the luster updater to thread citations. Contributions
// that are not pearl_ref, or whose reference does not resolve, are ignored.
func (s *PearlService) Start(bus *events.Bus) func() {
	return bus.Subscribe(events.ThreadContributionAdded, "pearls", func(ctx context.Context, evt events.Event) {
		p, ok := evt.Data.(events.ThreadContributionPayload)
		if !ok || p.ContentType != string(domain.ContributionPearlRef) || p.PearlRefID == "" {
			return
		}
		pearl, err := s.store.GetPearl(ctx, p.PearlRefID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.log.Error().Err(err).Str("pearl_id", p.PearlRefID).Msg("citation pearl lookup failed")
			}
			return
		}
		if err := s.recomputeLuster(ctx, pearl); err != nil {
			s.log.Error().Err(err).Str("pearl_id", pearl.ID).Msg("luster recompute failed")
		}
	})
}

// PearlInput is the create/update payload.
type PearlInput struct {
	Type         domain.PearlType    `json:"type"`
	TriggerText  string              `json:"triggerText"`
	Body         string              `json:"body"`
	Context      string              `json:"context"`
	DomainTags   []string            `json:"domainTags"`
	Shareability domain.Shareability `json:"shareability"`
}

// Create stores a new pearl with the default luster.
func (s *PearlService) Create(ctx context.Context, ownerID string, in PearlInput) (*domain.Pearl, error) {
	if err := validatePearlInput(&in); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	p := &domain.Pearl{
		ID:           uuid.NewString(),
		OwnerID:      ownerID,
		Type:         in.Type,
		TriggerText:  in.TriggerText,
		Body:         in.Body,
		Context:      in.Context,
		DomainTags:   dedupeStrings(in.DomainTags),
		Luster:       domain.DefaultLuster,
		Shareability: in.Shareability,
		OriginType:   "manual",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.store.CreatePearl(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Get returns a pearl the claw may read: the owner, a share recipient, any
// accepted friend for friends_only, or anyone for public.
func (s *PearlService) Get(ctx context.Context, clawID, pearlID string) (*domain.Pearl, error) {
	return s.readable(ctx, clawID, pearlID)
}

// List returns the claw's own pearls, optionally filtered.
func (s *PearlService) List(ctx context.Context, ownerID string, pearlType domain.PearlType, tag string, limit int) ([]*domain.Pearl, error) {
	if pearlType != "" && !validPearlType(pearlType) {
		return nil, domain.Invalid(domain.CodeValidation, "type must be insight, framework or experience")
	}
	return s.store.ListPearls(ctx, ownerID, pearlType, tag, limit)
}

// Update edits an owned pearl. Luster is system-owned and not editable.
func (s *PearlService) Update(ctx context.Context, ownerID, pearlID string, in PearlInput) (*domain.Pearl, error) {
	p, err := s.owned(ctx, ownerID, pearlID)
	if err != nil {
		return nil, err
	}
	if in.Type != "" {
		p.Type = in.Type
	}
	if in.TriggerText != "" {
		p.TriggerText = in.TriggerText
	}
	if in.Body != "" {
		p.Body = in.Body
	}
	if in.Context != "" {
		p.Context = in.Context
	}
	if in.DomainTags != nil {
		p.DomainTags = dedupeStrings(in.DomainTags)
	}
	if in.Shareability != "" {
		p.Shareability = in.Shareability
	}
	probe := PearlInput{
		Type:         p.Type,
		TriggerText:  p.TriggerText,
		Shareability: p.Shareability,
	}
	if err := validatePearlInput(&probe); err != nil {
		return nil, err
	}
	p.UpdatedAt = time.Now().UTC()
	if err := s.store.UpdatePearl(ctx, p); err != nil {
		return nil, err
	}
	return p, nil
}

// Delete removes an owned pearl with its endorsements and shares.
func (s *PearlService) Delete(ctx context.Context, ownerID, pearlID string) error {
	if _, err := s.owned(ctx, ownerID, pearlID); err != nil {
		return err
	}
	return s.store.DeletePearl(ctx, pearlID)
}

// Endorse records or overwrites the endorser's score on a readable pearl
// and recomputes luster with the owner's freshly updated trust weights.
func (s *PearlService) Endorse(ctx context.Context, endorserID, pearlID string, score float64, comment string) (*domain.PearlEndorsement, error) {
	if score < 0 || score > 1 {
		return nil, domain.Invalid(domain.CodeValidation, "score must be between 0 and 1")
	}
	p, err := s.readable(ctx, endorserID, pearlID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID == endorserID {
		return nil, domain.Invalid(domain.CodeValidation, "cannot endorse your own pearl")
	}

	now := time.Now().UTC()
	e := &domain.PearlEndorsement{
		ID:         uuid.NewString(),
		PearlID:    pearlID,
		EndorserID: endorserID,
		Score:      score,
		Comment:    comment,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.store.UpsertEndorsement(ctx, e); err != nil {
		return nil, err
	}

	// Publish first: the trust subscriber runs inline, so the luster
	// recompute below weighs this endorsement with up-to-date trust.
	s.bus.Publish(ctx, events.New(events.PearlEndorsed, endorserID, []string{p.OwnerID}, events.PearlEndorsedPayload{
		PearlID:    pearlID,
		OwnerID:    p.OwnerID,
		EndorserID: endorserID,
		Score:      score,
		DomainTags: p.DomainTags,
	}))
	if err := s.recomputeLuster(ctx, p); err != nil {
		return nil, err
	}
	return e, nil
}

// Endorsements lists a readable pearl's endorsements, newest first.
func (s *PearlService) Endorsements(ctx context.Context, clawID, pearlID string) ([]*domain.PearlEndorsement, error) {
	if _, err := s.readable(ctx, clawID, pearlID); err != nil {
		return nil, err
	}
	return s.store.ListEndorsements(ctx, pearlID)
}

// Share grants a friend access to an owned pearl. One share per recipient.
func (s *PearlService) Share(ctx context.Context, ownerID, pearlID, toClawID, note string) (*domain.PearlShare, error) {
	if _, err := s.owned(ctx, ownerID, pearlID); err != nil {
		return nil, err
	}
	if toClawID == ownerID {
		return nil, domain.Invalid(domain.CodeValidation, "cannot share a pearl with yourself")
	}
	f, err := s.store.GetActiveFriendshipBetween(ctx, ownerID, toClawID)
	if err != nil || f.Status != domain.FriendshipAccepted {
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
		return nil, domain.Invalid(domain.CodeValidation, "pearls can only be shared with accepted friends")
	}

	sh := &domain.PearlShare{
		ID:         uuid.NewString(),
		PearlID:    pearlID,
		FromClawID: ownerID,
		ToClawID:   toClawID,
		Note:       note,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.store.CreatePearlShare(ctx, sh); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, domain.Conflict(domain.CodeDuplicate, "pearl already shared with this claw")
		}
		return nil, err
	}
	s.bus.Publish(ctx, events.New(events.PearlShared, ownerID, []string{toClawID}, events.PearlSharedPayload{
		PearlID:    pearlID,
		FromClawID: ownerID,
		ToClawID:   toClawID,
	}))
	return sh, nil
}

// SharedWithMe lists pearls other claws have shared with this one.
func (s *PearlService) SharedWithMe(ctx context.Context, clawID string, limit int) ([]*domain.Pearl, error) {
	return s.store.ListSharedPearls(ctx, clawID, limit)
}

// recomputeLuster blends the trust-weighted endorsement mean toward the 0.5
// prior and adds the citation bonus.
func (s *PearlService) recomputeLuster(ctx context.Context, p *domain.Pearl) error {
	endorsements, err := s.store.ListEndorsements(ctx, p.ID)
	if err != nil {
		return err
	}
	trustDomain := domain.TrustDomainOverall
	if len(p.DomainTags) > 0 {
		trustDomain = p.DomainTags[0]
	}

	weightedSum := lusterPriorWeight * domain.DefaultLuster
	weightTotal := lusterPriorWeight
	for _, e := range endorsements {
		w := s.trust.CompositeFor(ctx, p.OwnerID, e.EndorserID, trustDomain)
		weightedSum += w * e.Score
		weightTotal += w
	}
	luster := weightedSum / weightTotal

	refs, err := s.store.CountPearlRefContributions(ctx, p.ID)
	if err != nil {
		return err
	}
	bonus := lusterRefBonus * float64(refs)
	if bonus > lusterRefBonusCap {
		bonus = lusterRefBonusCap
	}
	luster = clamp01(luster + bonus)

	p.Luster = luster
	return s.store.UpdatePearlLuster(ctx, p.ID, luster, time.Now().UTC())
}

func (s *PearlService) owned(ctx context.Context, ownerID, pearlID string) (*domain.Pearl, error) {
	p, err := s.store.GetPearl(ctx, pearlID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "pearl not found")
		}
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, domain.NotFound(domain.CodeNotFound, "pearl not found")
	}
	return p, nil
}

func (s *PearlService) readable(ctx context.Context, clawID, pearlID string) (*domain.Pearl, error) {
	p, err := s.store.GetPearl(ctx, pearlID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "pearl not found")
		}
		return nil, err
	}
	if p.OwnerID == clawID {
		return p, nil
	}
	shared, err := s.store.HasPearlShare(ctx, pearlID, clawID)
	if err != nil {
		return nil, err
	}
	if shared {
		return p, nil
	}
	switch p.Shareability {
	case domain.SharePublic:
		return p, nil
	case domain.ShareFriendsOnly:
		f, err := s.store.GetActiveFriendshipBetween(ctx, p.OwnerID, clawID)
		if err == nil && f.Status == domain.FriendshipAccepted {
			return p, nil
		}
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return nil, err
		}
	}
	return nil, domain.NotFound(domain.CodeNotFound, "pearl not found")
}

func validatePearlInput(in *PearlInput) error {
	if !validPearlType(in.Type) {
		return domain.Invalid(domain.CodeValidation, "type must be insight, framework or experience")
	}
	if strings.TrimSpace(in.TriggerText) == "" {
		return domain.Invalid(domain.CodeValidation, "triggerText is required")
	}
	if in.Shareability == "" {
		in.Shareability = domain.SharePrivate
	}
	switch in.Shareability {
	case domain.SharePrivate, domain.ShareFriendsOnly, domain.SharePublic:
	default:
		return domain.Invalid(domain.CodeValidation, "shareability must be private, friends_only or public")
	}
	return nil
}

func validPearlType(t domain.PearlType) bool {
	switch t {
	case domain.PearlInsight, domain.PearlFramework, domain.PearlExperience:
		return true
	}
	return false
}
