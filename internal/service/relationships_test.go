package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
)

func TestDecayFactor(t *testing.T) {
	cases := []struct {
		strength, want float64
	}{
		{0.0, 0.95},
		{0.1, 0.96},
		{0.29, 0.979},
		{0.3, 0.98},
		{0.5, 0.99},
		{0.6, 0.995},
		{0.7, 0.997},
		{0.8, 0.999},
		{1.0, 0.999},
	}
	for _, tc := range cases {
		assert.InDelta(t, tc.want, decayFactor(tc.strength), 1e-12, "strength %v", tc.strength)
	}

	// One decay step on a mid-range tie.
	s := 0.35
	assert.InDelta(t, 0.343875, s*decayFactor(s), 1e-9)
}

func TestDecayFactorMonotone(t *testing.T) {
	// Stronger ties always retain at least as much as weaker ones.
	prev := 0.0
	for s := 0.0; s <= 1.0; s += 0.01 {
		f := decayFactor(s)
		require.GreaterOrEqual(t, f, prev, "strength %v", s)
		require.Less(t, f, 1.0)
		prev = f
	}
}

func TestRelationshipSeedOnAccept(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)
	defer rels.Start(bus)()
	friends := NewFriendService(store, bus, zerolog.Nop())

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	ctx := context.Background()
	for _, pair := range [][2]string{{a.ClawID, b.ClawID}, {b.ClawID, a.ClawID}} {
		r, err := rels.Get(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.InDelta(t, domain.InitialStrength, r.Strength, 1e-12)
		assert.Equal(t, domain.LayerCasual, r.DunbarLayer)
		assert.False(t, r.ManualOverride)
	}
}

func TestBoostOnMessage(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)
	defer rels.Start(bus)()
	friends := NewFriendService(store, bus, zerolog.Nop())
	msgs := NewMessageService(store, bus, 5*time.Minute, zerolog.Nop())

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	ctx := context.Background()
	_, err := msgs.Send(ctx, a.ClawID, SendInput{
		Visibility: domain.VisibilityDirect,
		ToClawIDs:  []string{b.ClawID},
		Blocks:     []domain.Block{{Type: domain.BlockText, Text: "hi"}},
	})
	require.NoError(t, err)

	// Only the sender's record moves; boosts fold in one decay step.
	ra, err := rels.Get(ctx, a.ClawID, b.ClawID)
	require.NoError(t, err)
	assert.InDelta(t, 0.5*decayFactor(0.5)+0.05, ra.Strength, 1e-9)
	require.NotNil(t, ra.LastInteractionAt)

	rb, err := rels.Get(ctx, b.ClawID, a.ClawID)
	require.NoError(t, err)
	assert.InDelta(t, domain.InitialStrength, rb.Strength, 1e-12)
}

func TestBoostDailyCap(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)
	defer rels.Start(bus)()
	friends := NewFriendService(store, bus, zerolog.Nop())
	msgs := NewMessageService(store, bus, 5*time.Minute, zerolog.Nop())

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		_, err := msgs.Send(ctx, a.ClawID, SendInput{
			Visibility: domain.VisibilityDirect,
			ToClawIDs:  []string{b.ClawID},
			Blocks:     []domain.Block{{Type: domain.BlockText, Text: fmt.Sprintf("msg %d", i)}},
		})
		require.NoError(t, err)
	}

	// 10 messages at 0.05 each would grant 0.5; the cap holds it to 0.15.
	// Only the first three boosts carry grants, so the result stays
	// strictly under seed + cap.
	r, err := rels.Get(ctx, a.ClawID, b.ClawID)
	require.NoError(t, err)
	assert.Less(t, r.Strength, domain.InitialStrength+0.15)
	assert.Greater(t, r.Strength, domain.InitialStrength)
	assert.LessOrEqual(t, r.Strength, 1.0)
}

func TestDecayOwnerLayerCapacity(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)

	ctx := context.Background()
	owner := seedClaw(t, store, "owner")
	now := time.Now().UTC()

	// Eight records all above the core threshold; only five fit in core,
	// the overflow lands in sympathy.
	for i := 0; i < 8; i++ {
		f := seedClaw(t, store, fmt.Sprintf("friend-%d", i))
		require.NoError(t, store.SeedRelationship(ctx, &domain.RelationshipStrength{
			ClawID:      owner.ClawID,
			FriendID:    f.ClawID,
			Strength:    0.92 - float64(i)*0.005,
			DunbarLayer: domain.LayerCasual,
			UpdatedAt:   now,
		}))
	}

	_, err := rels.DecayOwner(ctx, owner.ClawID)
	require.NoError(t, err)

	listed, err := rels.List(ctx, owner.ClawID)
	require.NoError(t, err)
	counts := map[domain.DunbarLayer]int{}
	for _, r := range listed {
		counts[r.DunbarLayer]++
	}
	assert.Equal(t, 5, counts[domain.LayerCore])
	assert.Equal(t, 3, counts[domain.LayerSympathy])
}

func TestDecayOwnerManualOverride(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)

	var layerEvents int
	bus.Subscribe(events.LayerChanged, "probe", func(ctx context.Context, evt events.Event) {
		layerEvents++
	})

	ctx := context.Background()
	owner := seedClaw(t, store, "owner")
	friend := seedClaw(t, store, "friend")

	// Weak tie pinned to core: decay must not demote it.
	require.NoError(t, store.SeedRelationship(ctx, &domain.RelationshipStrength{
		ClawID:         owner.ClawID,
		FriendID:       friend.ClawID,
		Strength:       0.2,
		DunbarLayer:    domain.LayerCore,
		ManualOverride: true,
		UpdatedAt:      time.Now().UTC(),
	}))

	changed, err := rels.DecayOwner(ctx, owner.ClawID)
	require.NoError(t, err)
	assert.Zero(t, changed)
	assert.Zero(t, layerEvents)

	r, err := rels.Get(ctx, owner.ClawID, friend.ClawID)
	require.NoError(t, err)
	assert.Equal(t, domain.LayerCore, r.DunbarLayer)
	assert.True(t, r.ManualOverride)
	assert.InDelta(t, 0.2*decayFactor(0.2), r.Strength, 1e-9)
}

func TestOverridePinAndUnpin(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)

	ctx := context.Background()
	owner := seedClaw(t, store, "owner")
	friend := seedClaw(t, store, "friend")
	require.NoError(t, store.SeedRelationship(ctx, &domain.RelationshipStrength{
		ClawID:      owner.ClawID,
		FriendID:    friend.ClawID,
		Strength:    0.5,
		DunbarLayer: domain.LayerActive,
		UpdatedAt:   time.Now().UTC(),
	}))

	core := domain.LayerCore
	r, err := rels.Override(ctx, owner.ClawID, friend.ClawID, LayerOverride{Layer: &core})
	require.NoError(t, err)
	assert.Equal(t, domain.LayerCore, r.DunbarLayer)
	assert.True(t, r.ManualOverride)

	bad := domain.DunbarLayer("inner_circle")
	_, err = rels.Override(ctx, owner.ClawID, friend.ClawID, LayerOverride{Layer: &bad})
	require.Error(t, err)
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))

	off := false
	r, err = rels.Override(ctx, owner.ClawID, friend.ClawID, LayerOverride{ManualOverride: &off})
	require.NoError(t, err)
	assert.False(t, r.ManualOverride)
}

func TestAtRisk(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)

	ctx := context.Background()
	owner := seedClaw(t, store, "owner")
	fading := seedClaw(t, store, "fading")
	healthy := seedClaw(t, store, "healthy")

	recent := time.Now().UTC().Add(-time.Hour)
	stale := time.Now().UTC().Add(-30 * 24 * time.Hour)
	require.NoError(t, store.SeedRelationship(ctx, &domain.RelationshipStrength{
		ClawID: owner.ClawID, FriendID: fading.ClawID,
		Strength: 0.61, DunbarLayer: domain.LayerSympathy,
		LastInteractionAt: &stale, UpdatedAt: time.Now().UTC(),
	}))
	require.NoError(t, store.SeedRelationship(ctx, &domain.RelationshipStrength{
		ClawID: owner.ClawID, FriendID: healthy.ClawID,
		Strength: 0.75, DunbarLayer: domain.LayerSympathy,
		LastInteractionAt: &recent, UpdatedAt: time.Now().UTC(),
	}))

	out, err := rels.AtRisk(ctx, owner.ClawID)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, fading.ClawID, out[0].FriendID)
	assert.ElementsMatch(t, []string{"decay_margin", "inactive"}, out[0].Reasons)
}
