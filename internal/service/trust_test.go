package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
)

func TestTrustSeedOnAccept(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	trust := NewTrustService(store, zerolog.Nop())
	defer trust.Start(bus)()
	friends := NewFriendService(store, bus, zerolog.Nop())

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	ctx := context.Background()
	for _, pair := range [][2]string{{a.ClawID, b.ClawID}, {b.ClawID, a.ClawID}} {
		scores, err := trust.ForFriend(ctx, pair[0], pair[1])
		require.NoError(t, err)
		require.Len(t, scores, 1)
		assert.Equal(t, domain.TrustDomainOverall, scores[0].Domain)
		assert.InDelta(t, 0.5, scores[0].Composite, 1e-9)
		assert.Zero(t, scores[0].SignalCount)
	}
}

func TestTrustSignalEvolution(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	trust := NewTrustService(store, zerolog.Nop())
	defer trust.Start(bus)()
	pearls := NewPearlService(store, bus, trust, zerolog.Nop())
	friends := NewFriendService(store, bus, zerolog.Nop())
	ctx := context.Background()

	owner := seedClaw(t, store, "owner")
	friend := seedClaw(t, store, "friend")
	makeFriends(t, friends, owner.ClawID, friend.ClawID)

	p, err := pearls.Create(ctx, owner.ClawID, PearlInput{
		Type:         domain.PearlFramework,
		TriggerText:  "molting schedule",
		DomainTags:   []string{"biology"},
		Shareability: domain.ShareFriendsOnly,
	})
	require.NoError(t, err)

	// A high endorsement drives H up and nudges Q toward 1.
	_, err = pearls.Endorse(ctx, friend.ClawID, p.ID, 0.9, "")
	require.NoError(t, err)

	got, err := store.GetTrustScore(ctx, owner.ClawID, friend.ClawID, "biology")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.HistoryScore, 1e-9)
	assert.InDelta(t, 0.65, got.QualityScore, 1e-9)
	assert.InDelta(t, 0.6*0.9+0.4*0.65, got.Composite, 1e-9)
	assert.Equal(t, 1, got.SignalCount)

	// Mid-range scores update H but leave Q alone.
	_, err = pearls.Endorse(ctx, friend.ClawID, p.ID, 0.5, "")
	require.NoError(t, err)
	got, err = store.GetTrustScore(ctx, owner.ClawID, friend.ClawID, "biology")
	require.NoError(t, err)
	assert.InDelta(t, 0.7, got.HistoryScore, 1e-9)
	assert.InDelta(t, 0.65, got.QualityScore, 1e-9)
	assert.Equal(t, 2, got.SignalCount)

	// A low score pulls Q down by the same asymptotic step.
	_, err = pearls.Endorse(ctx, friend.ClawID, p.ID, 0.1, "")
	require.NoError(t, err)
	got, err = store.GetTrustScore(ctx, owner.ClawID, friend.ClawID, "biology")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, got.HistoryScore, 1e-9)
	assert.InDelta(t, 0.65*0.7, got.QualityScore, 1e-9)
	assert.GreaterOrEqual(t, got.Composite, 0.0)
	assert.LessOrEqual(t, got.Composite, 1.0)
}

func TestTrustCompositeFallback(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	trust := NewTrustService(store, zerolog.Nop())
	defer trust.Start(bus)()
	friends := NewFriendService(store, bus, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	stranger := seedClaw(t, store, "stranger")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	// No domain record falls back to overall, no record at all to 0.5.
	assert.InDelta(t, 0.5, trust.CompositeFor(ctx, a.ClawID, b.ClawID, "sailing"), 1e-9)
	assert.InDelta(t, 0.5, trust.CompositeFor(ctx, a.ClawID, stranger.ClawID, "sailing"), 1e-9)

	require.NoError(t, store.UpsertTrustScore(ctx, &domain.TrustScore{
		ClawID: a.ClawID, FriendID: b.ClawID, Domain: domain.TrustDomainOverall,
		HistoryScore: 0.8, QualityScore: 0.8, Composite: 0.8, SignalCount: 3,
	}))
	assert.InDelta(t, 0.8, trust.CompositeFor(ctx, a.ClawID, b.ClawID, "sailing"), 1e-9)

	require.NoError(t, store.UpsertTrustScore(ctx, &domain.TrustScore{
		ClawID: a.ClawID, FriendID: b.ClawID, Domain: "sailing",
		HistoryScore: 0.2, QualityScore: 0.2, Composite: 0.2, SignalCount: 1,
	}))
	assert.InDelta(t, 0.2, trust.CompositeFor(ctx, a.ClawID, b.ClawID, "sailing"), 1e-9)
}

func TestTrustSurvivesFriendshipRemoval(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	trust := NewTrustService(store, zerolog.Nop())
	defer trust.Start(bus)()
	friends := NewFriendService(store, bus, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)
	require.NoError(t, store.UpsertTrustScore(ctx, &domain.TrustScore{
		ClawID: a.ClawID, FriendID: b.ClawID, Domain: "sailing",
		HistoryScore: 0.9, QualityScore: 0.9, Composite: 0.9, SignalCount: 4,
	}))

	require.NoError(t, friends.Remove(ctx, a.ClawID, b.ClawID))

	got, err := store.GetTrustScore(ctx, a.ClawID, b.ClawID, "sailing")
	require.NoError(t, err)
	assert.InDelta(t, 0.9, got.Composite, 1e-9)
}
