package service

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// decayFactor is the piecewise strength multiplier applied once per daily
// sweep and folded into every boost write. Weak ties fade fast, strong ties
// barely move.
func decayFactor(s float64) float64 {
	switch {
	case s < 0.3:
		return 0.95 + s*0.1
	case s < 0.6:
		return 0.98 + (s-0.3)*0.05
	case s < 0.8:
		return 0.995 + (s-0.6)*0.02
	default:
		return 0.999
	}
}

// boostWeights maps interaction types to strength increments.
var boostWeights = map[domain.InteractionType]float64{
	domain.InteractionMessage:    0.05,
	domain.InteractionReaction:   0.02,
	domain.InteractionHeartbeat:  0.005,
	domain.InteractionPearlShare: 0.08,
	domain.InteractionPollVote:   0.03,
}

// dunbarLayers orders the layers by exclusivity. Capacity 0 means unbounded.
var dunbarLayers = []struct {
	layer     domain.DunbarLayer
	threshold float64
	capacity  int
}{
	{domain.LayerCore, 0.8, 5},
	{domain.LayerSympathy, 0.6, 15},
	{domain.LayerActive, 0.3, 50},
	{domain.LayerCasual, 0.0, 0},
}

func layerFloor(l domain.DunbarLayer) float64 {
	for _, spec := range dunbarLayers {
		if spec.layer == l {
			return spec.threshold
		}
	}
	return 0
}

func validLayer(l domain.DunbarLayer) bool {
	for _, spec := range dunbarLayers {
		if spec.layer == l {
			return true
		}
	}
	return false
}

// RelationshipService maintains the directional strength records and their
// Dunbar layers. It seeds on friend.accepted, boosts on interaction events,
// and the scheduler drives the daily decay plus reclassification.
//
// The boost budget is tracked per (claw, friend, UTC day) in process memory
// only; a restart refills the day's budget. Multi-node deployments overgrant
// by up to one cap per node, which is accepted.
type RelationshipService struct {
	store          *storage.Store
	bus            *events.Bus
	log            zerolog.Logger
	dailyCap       float64
	atRiskMargin   float64
	atRiskInactive time.Duration

	mu      sync.Mutex
	day     string
	granted map[string]float64
}

func NewRelationshipService(store *storage.Store, bus *events.Bus, dailyCap, atRiskMargin float64, atRiskInactive time.Duration, log zerolog.Logger) *RelationshipService {
	return &RelationshipService{
		store:          store,
		bus:            bus,
		log:            log.With().Str("component", "relationships").Logger(),
		dailyCap:       dailyCap,
		atRiskMargin:   atRiskMargin,
		atRiskInactive: atRiskInactive,
		granted:        map[string]float64{},
	}
}

// Start subscribes the engine to the events that seed and boost
// relationships. The returned func detaches every subscription.
func (s *RelationshipService) Start(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.FriendAccepted, "relationships", s.onFriendAccepted),
		bus.Subscribe(events.MessageNew, "relationships", s.onMessageNew),
		bus.Subscribe(events.ReactionAdded, "relationships", s.onReactionAdded),
		bus.Subscribe(events.PollVoted, "relationships", s.onPollVoted),
		bus.Subscribe(events.PearlShared, "relationships", s.onPearlShared),
		bus.Subscribe(events.HeartbeatReceived, "relationships", s.onHeartbeat),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *RelationshipService) onFriendAccepted(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.FriendPayload)
	if !ok {
		return
	}
	now := time.Now().UTC()
	for _, pair := range [][2]string{{p.RequesterID, p.AccepterID}, {p.AccepterID, p.RequesterID}} {
		err := s.store.SeedRelationship(ctx, &domain.RelationshipStrength{
			ClawID:      pair[0],
			FriendID:    pair[1],
			Strength:    domain.InitialStrength,
			DunbarLayer: domain.LayerCasual,
			UpdatedAt:   now,
		})
		if err != nil {
			s.log.Error().Err(err).Str("claw_id", pair[0]).Str("friend_id", pair[1]).Msg("relationship seed failed")
		}
	}
}

func (s *RelationshipService) onMessageNew(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.MessagePayload)
	if !ok {
		return
	}
	for _, rid := range p.RecipientIDs {
		s.boost(ctx, p.SenderID, rid, domain.InteractionMessage)
	}
}

func (s *RelationshipService) onReactionAdded(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.ReactionPayload)
	if !ok {
		return
	}
	s.boost(ctx, p.ClawID, p.OwnerID, domain.InteractionReaction)
}

func (s *RelationshipService) onPollVoted(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.PollVotePayload)
	if !ok {
		return
	}
	s.boost(ctx, p.VoterID, p.OwnerID, domain.InteractionPollVote)
}

func (s *RelationshipService) onPearlShared(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.PearlSharedPayload)
	if !ok {
		return
	}
	s.boost(ctx, p.FromClawID, p.ToClawID, domain.InteractionPearlShare)
}

func (s *RelationshipService) onHeartbeat(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.HeartbeatPayload)
	if !ok {
		return
	}
	s.boost(ctx, p.FromClawID, p.ToClawID, domain.InteractionHeartbeat)
}

// boost credits an interaction from claw toward friend. The acting side's
// record gets the boost; the passive side only sees decay until it acts
// itself, which is what keeps one-sided ties fading.
func (s *RelationshipService) boost(ctx context.Context, clawID, friendID string, typ domain.InteractionType) {
	weight := boostWeights[typ]
	if weight == 0 || clawID == friendID {
		return
	}
	r, err := s.store.GetRelationship(ctx, clawID, friendID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.log.Error().Err(err).Str("claw_id", clawID).Str("friend_id", friendID).Msg("boost lookup failed")
		}
		return
	}

	now := time.Now().UTC()
	granted := s.takeBudget(clawID, friendID, now, weight)
	if granted > 0 {
		r.Strength = minFloat(1, r.Strength*decayFactor(r.Strength)+granted)
	}
	r.LastInteractionAt = &now
	r.UpdatedAt = now
	if err := s.store.SaveRelationship(ctx, r); err != nil {
		s.log.Error().Err(err).Str("claw_id", clawID).Str("friend_id", friendID).Msg("boost save failed")
	}
}

// takeBudget reserves up to weight from the pair's daily cap and returns the
// granted amount. The map holds one UTC day at a time.
func (s *RelationshipService) takeBudget(clawID, friendID string, now time.Time, weight float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	day := now.Format("2006-01-02")
	if day != s.day {
		s.day = day
		s.granted = map[string]float64{}
	}
	key := clawID + "|" + friendID
	remaining := s.dailyCap - s.granted[key]
	if remaining <= 0 {
		return 0
	}
	granted := minFloat(weight, remaining)
	s.granted[key] += granted
	return granted
}

// DecayOwner applies one decay step to every record of one claw, then walks
// the layer ladder: strongest first, each record lands in the highest layer
// whose threshold it meets and whose capacity is free. Overridden records
// keep their layer and consume no capacity.
func (s *RelationshipService) DecayOwner(ctx context.Context, clawID string) (changed int, err error) {
	rels, err := s.store.ListRelationships(ctx, clawID)
	if err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	for _, r := range rels {
		r.Strength = r.Strength * decayFactor(r.Strength)
		r.UpdatedAt = now
	}
	sort.SliceStable(rels, func(i, j int) bool { return rels[i].Strength > rels[j].Strength })

	counts := make([]int, len(dunbarLayers))
	type change struct {
		friendID string
		from, to domain.DunbarLayer
		strength float64
	}
	var changes []change

	for _, r := range rels {
		if !r.ManualOverride {
			next := assignLayer(r.Strength, counts)
			if next != r.DunbarLayer {
				changes = append(changes, change{r.FriendID, r.DunbarLayer, next, r.Strength})
				r.DunbarLayer = next
			}
		}
		if err := s.store.SaveRelationship(ctx, r); err != nil {
			return changed, err
		}
	}
	for _, c := range changes {
		changed++
		s.bus.Publish(ctx, events.New(events.LayerChanged, clawID, []string{clawID}, events.LayerChangePayload{
			ClawID:   clawID,
			FriendID: c.friendID,
			OldLayer: c.from,
			NewLayer: c.to,
			Strength: c.strength,
		}))
	}
	return changed, nil
}

func assignLayer(strength float64, counts []int) domain.DunbarLayer {
	for i, spec := range dunbarLayers {
		if strength >= spec.threshold && (spec.capacity == 0 || counts[i] < spec.capacity) {
			counts[i]++
			return spec.layer
		}
	}
	return domain.LayerCasual
}

// DecaySweep runs DecayOwner for every claw that has relationship records.
// Owners fail independently; errors are logged and counted, never returned.
func (s *RelationshipService) DecaySweep(ctx context.Context) (owners, layerChanges, failures int) {
	ids, err := s.store.ListRelationshipOwners(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("decay sweep owner listing failed")
		return 0, 0, 1
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, id := range ids {
		clawID := id
		g.Go(func() error {
			changed, err := s.DecayOwner(gctx, clawID)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failures++
				s.log.Error().Err(err).Str("claw_id", clawID).Msg("decay failed for owner")
				return nil
			}
			owners++
			layerChanges += changed
			return nil
		})
	}
	_ = g.Wait()
	return owners, layerChanges, failures
}

// List returns the claw's relationship records, strongest first.
func (s *RelationshipService) List(ctx context.Context, clawID string) ([]*domain.RelationshipStrength, error) {
	return s.store.ListRelationships(ctx, clawID)
}

// Get returns one directional record.
func (s *RelationshipService) Get(ctx context.Context, clawID, friendID string) (*domain.RelationshipStrength, error) {
	r, err := s.store.GetRelationship(ctx, clawID, friendID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "no relationship record for this claw")
		}
		return nil, err
	}
	return r, nil
}

// AtRiskEntry is a relationship flagged by the maintenance sweep.
type AtRiskEntry struct {
	*domain.RelationshipStrength
	Reasons []string `json:"reasons"`
}

// AtRisk flags relationships sitting within the margin of their layer floor
// or without interaction for the configured window.
func (s *RelationshipService) AtRisk(ctx context.Context, clawID string) ([]*AtRiskEntry, error) {
	rels, err := s.store.ListRelationships(ctx, clawID)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().UTC().Add(-s.atRiskInactive)
	var out []*AtRiskEntry
	for _, r := range rels {
		var reasons []string
		if r.Strength-layerFloor(r.DunbarLayer) < s.atRiskMargin {
			reasons = append(reasons, "decay_margin")
		}
		if r.LastInteractionAt == nil || r.LastInteractionAt.Before(cutoff) {
			reasons = append(reasons, "inactive")
		}
		if len(reasons) > 0 {
			out = append(out, &AtRiskEntry{RelationshipStrength: r, Reasons: reasons})
		}
	}
	return out, nil
}

// LayerOverride is the manual layer patch; nil fields are left unchanged.
type LayerOverride struct {
	Layer          *domain.DunbarLayer `json:"layer"`
	ManualOverride *bool               `json:"manualOverride"`
}

// Override pins or unpins a record's layer. Pinned layers survive the daily
// reclassification until the override is cleared.
func (s *RelationshipService) Override(ctx context.Context, clawID, friendID string, in LayerOverride) (*domain.RelationshipStrength, error) {
	r, err := s.Get(ctx, clawID, friendID)
	if err != nil {
		return nil, err
	}
	old := r.DunbarLayer
	if in.Layer != nil {
		if !validLayer(*in.Layer) {
			return nil, domain.Invalid(domain.CodeValidation, "layer must be core, sympathy, active or casual")
		}
		r.DunbarLayer = *in.Layer
		r.ManualOverride = true
	}
	if in.ManualOverride != nil {
		r.ManualOverride = *in.ManualOverride
	}
	r.UpdatedAt = time.Now().UTC()
	if err := s.store.SaveRelationship(ctx, r); err != nil {
		return nil, err
	}
	if r.DunbarLayer != old {
		s.bus.Publish(ctx, events.New(events.LayerChanged, clawID, []string{clawID}, events.LayerChangePayload{
			ClawID:   clawID,
			FriendID: friendID,
			OldLayer: old,
			NewLayer: r.DunbarLayer,
			Strength: r.Strength,
		}))
	}
	return r, nil
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
