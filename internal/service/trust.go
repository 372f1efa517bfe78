package service

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// qualityStep is how far one endorsement signal pulls Q toward its target.
const qualityStep = 0.3

// TrustService maintains per (claw, friend, domain) trust scores. H tracks
// the running mean of raw endorsement scores, Q follows the high/low quality
// signals, and the composite is clamp01(0.6·H + 0.4·Q). Trust survives
// friendship removal so a re-added friend keeps their history.
type TrustService struct {
	store *storage.Store
	log   zerolog.Logger
}

func NewTrustService(store *storage.Store, log zerolog.Logger) *TrustService {
	return &TrustService{store: store, log: log.With().Str("component", "trust").Logger()}
}

// Start subscribes the trust updaters. The returned func detaches them.
func (s *TrustService) Start(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.FriendAccepted, "trust", s.onFriendAccepted),
		bus.Subscribe(events.PearlEndorsed, "trust", s.onPearlEndorsed),
		bus.Subscribe(events.LayerChanged, "trust", s.onLayerChanged),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

// onFriendAccepted seeds the neutral prior in both directions.
func (s *TrustService) onFriendAccepted(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.FriendPayload)
	if !ok {
		return
	}
	now := time.Now().UTC()
	for _, pair := range [][2]string{{p.RequesterID, p.AccepterID}, {p.AccepterID, p.RequesterID}} {
		err := s.store.SeedTrustScore(ctx, &domain.TrustScore{
			ClawID:       pair[0],
			FriendID:     pair[1],
			Domain:       domain.TrustDomainOverall,
			HistoryScore: 0.5,
			QualityScore: 0.5,
			Composite:    0.5,
			UpdatedAt:    now,
		})
		if err != nil {
			s.log.Error().Err(err).Str("claw_id", pair[0]).Str("friend_id", pair[1]).Msg("trust seed failed")
		}
	}
}

// onPearlEndorsed feeds the endorsement into the pearl owner's trust in the
// endorser, under the pearl's first domain tag.
func (s *TrustService) onPearlEndorsed(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.PearlEndorsedPayload)
	if !ok || p.OwnerID == p.EndorserID {
		return
	}
	trustDomain := domain.TrustDomainOverall
	if len(p.DomainTags) > 0 {
		trustDomain = p.DomainTags[0]
	}
	if err := s.applySignal(ctx, p.OwnerID, p.EndorserID, trustDomain, p.Score); err != nil {
		s.log.Error().Err(err).Str("pearl_id", p.PearlID).Msg("trust signal failed")
	}
}

func (s *TrustService) applySignal(ctx context.Context, clawID, friendID, trustDomain string, score float64) error {
	t, err := s.store.GetTrustScore(ctx, clawID, friendID, trustDomain)
	if errors.Is(err, storage.ErrNotFound) {
		t = &domain.TrustScore{
			ClawID:       clawID,
			FriendID:     friendID,
			Domain:       trustDomain,
			HistoryScore: 0.5,
			QualityScore: 0.5,
		}
	} else if err != nil {
		return err
	}

	t.HistoryScore = (t.HistoryScore*float64(t.SignalCount) + score) / float64(t.SignalCount+1)
	switch {
	case score > 0.7:
		t.QualityScore += qualityStep * (1 - t.QualityScore)
	case score < 0.3:
		t.QualityScore -= qualityStep * t.QualityScore
	}
	t.SignalCount++
	t.Composite = clamp01(0.6*t.HistoryScore + 0.4*t.QualityScore)
	t.UpdatedAt = time.Now().UTC()
	return s.store.UpsertTrustScore(ctx, t)
}

// onLayerChanged recomputes the pair's composites so stored values stay
// consistent with the formula after layer moves.
func (s *TrustService) onLayerChanged(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.LayerChangePayload)
	if !ok {
		return
	}
	scores, err := s.store.ListTrustForFriend(ctx, p.ClawID, p.FriendID)
	if err != nil {
		s.log.Error().Err(err).Str("claw_id", p.ClawID).Msg("trust recompute lookup failed")
		return
	}
	now := time.Now().UTC()
	for _, t := range scores {
		composite := clamp01(0.6*t.HistoryScore + 0.4*t.QualityScore)
		if composite == t.Composite {
			continue
		}
		t.Composite = composite
		t.UpdatedAt = now
		if err := s.store.UpsertTrustScore(ctx, t); err != nil {
			s.log.Error().Err(err).Str("claw_id", p.ClawID).Msg("trust recompute save failed")
		}
	}
}

// List returns every trust score held by the claw.
func (s *TrustService) List(ctx context.Context, clawID string) ([]*domain.TrustScore, error) {
	return s.store.ListTrustScores(ctx, clawID)
}

// ForFriend returns the claw's per-domain scores about one friend.
func (s *TrustService) ForFriend(ctx context.Context, clawID, friendID string) ([]*domain.TrustScore, error) {
	return s.store.ListTrustForFriend(ctx, clawID, friendID)
}

// CompositeFor resolves the claw's trust in a friend for a domain, falling
// back to the overall domain and then the neutral prior.
func (s *TrustService) CompositeFor(ctx context.Context, clawID, friendID, trustDomain string) float64 {
	if t, err := s.store.GetTrustScore(ctx, clawID, friendID, trustDomain); err == nil {
		return t.Composite
	}
	if trustDomain != domain.TrustDomainOverall {
		if t, err := s.store.GetTrustScore(ctx, clawID, friendID, domain.TrustDomainOverall); err == nil {
			return t.Composite
		}
	}
	return 0.5
}
