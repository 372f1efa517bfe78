package service

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

const (
	maxHeartbeatInterests = 50
	maxHeartbeatTopics    = 50
	maxAvailabilityLen    = 200
)

// HeartbeatService fans ambient state to every accepted friend. The pushed
// state is diffed against what each friend last received: an unchanged state
// persists as a keepalive row with no payload.
type HeartbeatService struct {
	store *storage.Store
	bus   *events.Bus
	log   zerolog.Logger
}

func NewHeartbeatService(store *storage.Store, bus *events.Bus, log zerolog.Logger) *HeartbeatService {
	return &HeartbeatService{
		store: store,
		bus:   bus,
		log:   log.With().Str("component", "heartbeats").Logger(),
	}
}

// PushResult reports how the heartbeat fanned out.
type PushResult struct {
	Sent       int `json:"sent"`
	Keepalives int `json:"keepalives"`
}

// Push sends the claw's current state to every accepted friend. Each friend
// gets its own row because diffing is per receiver: a new friend gets the
// full state while long-standing ones may only need a keepalive.
func (s *HeartbeatService) Push(ctx context.Context, clawID string, state domain.HeartbeatState) (*PushResult, error) {
	state.Interests = dedupeStrings(state.Interests)
	state.RecentTopics = dedupeStrings(state.RecentTopics)
	state.Availability = strings.TrimSpace(state.Availability)
	if len(state.Interests) > maxHeartbeatInterests {
		return nil, domain.Invalid(domain.CodeValidation, "too many interests")
	}
	if len(state.RecentTopics) > maxHeartbeatTopics {
		return nil, domain.Invalid(domain.CodeValidation, "too many recent topics")
	}
	if len(state.Availability) > maxAvailabilityLen {
		return nil, domain.Invalid(domain.CodeValidation, "availability too long")
	}

	friends, err := s.store.ListFriendIDs(ctx, clawID)
	if err != nil {
		return nil, err
	}

	res := &PushResult{}
	now := time.Now().UTC()
	for _, friendID := range friends {
		last, ok, err := s.store.LastSentState(ctx, clawID, friendID)
		if err != nil {
			return nil, err
		}
		keepalive := ok && state.Equal(last)

		hb := &domain.Heartbeat{
			ID:          xid.New().String(),
			FromClawID:  clawID,
			ToClawID:    friendID,
			IsKeepalive: keepalive,
			CreatedAt:   now,
		}
		if !keepalive {
			hb.Interests = state.Interests
			hb.Availability = state.Availability
			hb.RecentTopics = state.RecentTopics
		}
		if err := s.store.CreateHeartbeat(ctx, hb); err != nil {
			return nil, err
		}

		s.bus.Publish(ctx, events.New(events.HeartbeatReceived, clawID, []string{friendID}, events.HeartbeatPayload{
			FromClawID: clawID,
			ToClawID:   friendID,
			Heartbeat:  hb,
		}))

		res.Sent++
		if keepalive {
			res.Keepalives++
		}
	}

	s.log.Debug().
		Str("claw", clawID).
		Int("sent", res.Sent).
		Int("keepalives", res.Keepalives).
		Msg("heartbeat pushed")
	return res, nil
}

// Received lists heartbeats delivered to the claw, newest first. fromClawID
// narrows to a single sender when non-empty.
func (s *HeartbeatService) Received(ctx context.Context, clawID, fromClawID string, limit int) ([]*domain.Heartbeat, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.store.ListReceivedHeartbeats(ctx, clawID, fromClawID, limit)
}

// PruneOlderThan drops heartbeat rows older than cutoff. Folded state in the
// friend models survives; only the raw datagrams go.
func (s *HeartbeatService) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	return s.store.DeleteHeartbeatsBefore(ctx, cutoff)
}

// Proxy ToM expertise evolution per heartbeat.
const (
	expertiseSeed  = 0.3
	expertiseStep  = 0.05
	expertiseDecay = 0.02
	expertiseFloor = 0.1
)

// ProxyToMService maintains each claw's model of its friends, folded from
// heartbeats and message activity. Models are server-side state that clients
// read; the server never acts on them beyond briefings and overlap queries.
type ProxyToMService struct {
	store *storage.Store
	log   zerolog.Logger
}

func NewProxyToMService(store *storage.Store, log zerolog.Logger) *ProxyToMService {
	return &ProxyToMService{
		store: store,
		log:   log.With().Str("component", "friend_models").Logger(),
	}
}

// Start subscribes the model updater. Models are seeded empty in both
// directions when a friendship is accepted.
func (s *ProxyToMService) Start(bus *events.Bus) func() {
	unsubs := []func(){
		bus.Subscribe(events.FriendAccepted, "friend_models", s.onFriendAccepted),
		bus.Subscribe(events.HeartbeatReceived, "friend_models", s.onHeartbeat),
		bus.Subscribe(events.MessageNew, "friend_models", s.onMessageNew),
	}
	return func() {
		for _, u := range unsubs {
			u()
		}
	}
}

func (s *ProxyToMService) onFriendAccepted(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.FriendPayload)
	if !ok {
		return
	}
	now := time.Now().UTC()
	for _, pair := range [][2]string{{p.RequesterID, p.AccepterID}, {p.AccepterID, p.RequesterID}} {
		fm := &domain.FriendModel{
			ClawID:        pair[0],
			FriendID:      pair[1],
			ExpertiseTags: map[string]float64{},
			UpdatedAt:     now,
		}
		if err := s.store.UpsertFriendModel(ctx, fm); err != nil {
			s.log.Error().Err(err).Str("claw", pair[0]).Str("friend", pair[1]).Msg("seed friend model")
		}
	}
}

func (s *ProxyToMService) onHeartbeat(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.HeartbeatPayload)
	if !ok || p.Heartbeat == nil {
		return
	}
	if err := s.updateFromHeartbeat(ctx, p.ToClawID, p.FromClawID, p.Heartbeat); err != nil {
		s.log.Error().Err(err).Str("claw", p.ToClawID).Str("friend", p.FromClawID).Msg("update friend model")
	}
}

// onMessageNew touches lastInteractionAt on each recipient's model of the
// sender. Recipients without a model (group co-members who are not friends)
// are skipped.
func (s *ProxyToMService) onMessageNew(ctx context.Context, evt events.Event) {
	p, ok := evt.Data.(events.MessagePayload)
	if !ok {
		return
	}
	now := time.Now().UTC()
	for _, recipientID := range p.RecipientIDs {
		fm, err := s.store.GetFriendModel(ctx, recipientID, p.SenderID)
		if err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				s.log.Error().Err(err).Str("claw", recipientID).Msg("load friend model")
			}
			continue
		}
		fm.LastInteractionAt = &now
		fm.UpdatedAt = now
		if err := s.store.UpsertFriendModel(ctx, fm); err != nil {
			s.log.Error().Err(err).Str("claw", recipientID).Msg("touch friend model")
		}
	}
}

// updateFromHeartbeat folds one received heartbeat into owner's model of the
// sender. Keepalives only prove liveness. A full heartbeat replaces the
// inferred interests and availability wholesale, evolves the expertise map
// incrementally, and rewrites lastKnownState only when topics were shared.
func (s *ProxyToMService) updateFromHeartbeat(ctx context.Context, ownerID, senderID string, hb *domain.Heartbeat) error {
	fm, err := s.store.GetFriendModel(ctx, ownerID, senderID)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			return err
		}
		fm = &domain.FriendModel{ClawID: ownerID, FriendID: senderID, ExpertiseTags: map[string]float64{}}
	}
	now := time.Now().UTC()
	fm.LastHeartbeatAt = &hb.CreatedAt
	fm.UpdatedAt = now

	if hb.IsKeepalive {
		return s.store.UpsertFriendModel(ctx, fm)
	}

	fm.InferredInterests = hb.Interests
	fm.Availability = hb.Availability
	if fm.ExpertiseTags == nil {
		fm.ExpertiseTags = map[string]float64{}
	}

	seen := make(map[string]bool, len(hb.Interests))
	for _, tag := range hb.Interests {
		seen[tag] = true
		if cur, ok := fm.ExpertiseTags[tag]; ok {
			fm.ExpertiseTags[tag] = minFloat(1, cur+expertiseStep)
		} else {
			fm.ExpertiseTags[tag] = expertiseSeed
		}
	}
	for tag, cur := range fm.ExpertiseTags {
		if seen[tag] {
			continue
		}
		cur -= expertiseDecay
		if cur < expertiseFloor {
			delete(fm.ExpertiseTags, tag)
		} else {
			fm.ExpertiseTags[tag] = cur
		}
	}

	if len(hb.RecentTopics) > 0 {
		fm.LastKnownState = strings.Join(hb.RecentTopics, ", ")
	}
	return s.store.UpsertFriendModel(ctx, fm)
}

// List returns every model the claw holds.
func (s *ProxyToMService) List(ctx context.Context, clawID string) ([]*domain.FriendModel, error) {
	return s.store.ListFriendModels(ctx, clawID)
}

// Get returns the claw's model of one friend.
func (s *ProxyToMService) Get(ctx context.Context, clawID, friendID string) (*domain.FriendModel, error) {
	fm, err := s.store.GetFriendModel(ctx, clawID, friendID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, domain.NotFound(domain.CodeNotFound, "no model for that friend")
		}
		return nil, err
	}
	return fm, nil
}

// InterestOverlap is a pair of friends with shared inferred interests.
type InterestOverlap struct {
	FriendA string   `json:"friendA"`
	FriendB string   `json:"friendB"`
	Shared  []string `json:"shared"`
}

// Overlaps finds friend pairs whose inferred interests intersect, as seen
// from the claw's models. When a and b are both set only that pair is
// checked. Pairs with nothing in common are omitted.
func (s *ProxyToMService) Overlaps(ctx context.Context, clawID, a, b string) ([]*InterestOverlap, error) {
	if a != "" && b != "" {
		ma, err := s.Get(ctx, clawID, a)
		if err != nil {
			return nil, err
		}
		mb, err := s.Get(ctx, clawID, b)
		if err != nil {
			return nil, err
		}
		out := []*InterestOverlap{}
		if shared := sharedInterests(ma, mb); len(shared) > 0 {
			out = append(out, &InterestOverlap{FriendA: a, FriendB: b, Shared: shared})
		}
		return out, nil
	}

	models, err := s.store.ListFriendModels(ctx, clawID)
	if err != nil {
		return nil, err
	}
	sort.Slice(models, func(i, j int) bool { return models[i].FriendID < models[j].FriendID })
	out := []*InterestOverlap{}
	for i := 0; i < len(models); i++ {
		for j := i + 1; j < len(models); j++ {
			if shared := sharedInterests(models[i], models[j]); len(shared) > 0 {
				out = append(out, &InterestOverlap{
					FriendA: models[i].FriendID,
					FriendB: models[j].FriendID,
					Shared:  shared,
				})
			}
		}
	}
	return out, nil
}

func sharedInterests(a, b *domain.FriendModel) []string {
	if len(a.InferredInterests) == 0 || len(b.InferredInterests) == 0 {
		return nil
	}
	in := make(map[string]bool, len(a.InferredInterests))
	for _, t := range a.InferredInterests {
		in[t] = true
	}
	var shared []string
	for _, t := range b.InferredInterests {
		if in[t] {
			shared = append(shared, t)
			in[t] = false
		}
	}
	sort.Strings(shared)
	return shared
}
