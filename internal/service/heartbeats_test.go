package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
)

func TestHeartbeatKeepaliveDiff(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	hb := NewHeartbeatService(store, bus, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	c := seedClaw(t, store, "c")
	makeFriends(t, friends, a.ClawID, b.ClawID)
	makeFriends(t, friends, a.ClawID, c.ClawID)

	state := domain.HeartbeatState{
		Interests:    []string{"tidepools", "rust"},
		Availability: "open",
	}
	res, err := hb.Push(ctx, a.ClawID, state)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 0, res.Keepalives)

	// Unchanged state collapses to keepalives for every friend.
	res, err = hb.Push(ctx, a.ClawID, state)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Sent)
	assert.Equal(t, 2, res.Keepalives)

	got, err := hb.Received(ctx, b.ClawID, a.ClawID, 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].IsKeepalive)
	assert.Empty(t, got[0].Interests)
	assert.False(t, got[1].IsKeepalive)
	assert.Equal(t, []string{"tidepools", "rust"}, got[1].Interests)

	// Any field change makes the next push a full heartbeat again.
	state.Availability = "heads-down"
	res, err = hb.Push(ctx, a.ClawID, state)
	require.NoError(t, err)
	assert.Equal(t, 0, res.Keepalives)
}

func TestHeartbeatValidation(t *testing.T) {
	store := testStore(t)
	hb := NewHeartbeatService(store, testBus(), zerolog.Nop())
	a := seedClaw(t, store, "a")

	many := make([]string, 51)
	for i := range many {
		many[i] = string(rune('a'+i%26)) + string(rune('0'+i/26))
	}
	_, err := hb.Push(context.Background(), a.ClawID, domain.HeartbeatState{Interests: many})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestFriendModelExpertiseEvolution(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	hb := NewHeartbeatService(store, bus, zerolog.Nop())
	tom := NewProxyToMService(store, zerolog.Nop())
	defer tom.Start(bus)()
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	// First mention seeds, repeats step up.
	_, err := hb.Push(ctx, a.ClawID, domain.HeartbeatState{Interests: []string{"kelp"}})
	require.NoError(t, err)
	fm, err := tom.Get(ctx, b.ClawID, a.ClawID)
	require.NoError(t, err)
	assert.InDelta(t, 0.3, fm.ExpertiseTags["kelp"], 1e-9)

	_, err = hb.Push(ctx, a.ClawID, domain.HeartbeatState{Interests: []string{"kelp", "tides"}})
	require.NoError(t, err)
	fm, err = tom.Get(ctx, b.ClawID, a.ClawID)
	require.NoError(t, err)
	assert.InDelta(t, 0.35, fm.ExpertiseTags["kelp"], 1e-9)
	assert.InDelta(t, 0.3, fm.ExpertiseTags["tides"], 1e-9)

	// A tag absent from the next full heartbeat decays; keepalives do not
	// touch the map at all.
	_, err = hb.Push(ctx, a.ClawID, domain.HeartbeatState{Interests: []string{"tides"}})
	require.NoError(t, err)
	fm, err = tom.Get(ctx, b.ClawID, a.ClawID)
	require.NoError(t, err)
	assert.InDelta(t, 0.33, fm.ExpertiseTags["kelp"], 1e-9)

	_, err = hb.Push(ctx, a.ClawID, domain.HeartbeatState{Interests: []string{"tides"}})
	require.NoError(t, err)
	fm, err = tom.Get(ctx, b.ClawID, a.ClawID)
	require.NoError(t, err)
	assert.InDelta(t, 0.33, fm.ExpertiseTags["kelp"], 1e-9, "keepalive must not decay tags")
	require.NotNil(t, fm.LastHeartbeatAt)
}

func TestFriendModelExpertisePrune(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	hb := NewHeartbeatService(store, bus, zerolog.Nop())
	tom := NewProxyToMService(store, zerolog.Nop())
	defer tom.Start(bus)()
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	_, err := hb.Push(ctx, a.ClawID, domain.HeartbeatState{Interests: []string{"surf"}})
	require.NoError(t, err)

	// 0.3 decays by 0.02 per missing mention; below 0.1 the tag is dropped.
	// Alternate the other tag's presence so no push is a keepalive.
	for i := 0; i < 11; i++ {
		interests := []string{"tides"}
		if i%2 == 1 {
			interests = []string{"tides", "moon"}
		}
		_, err = hb.Push(ctx, a.ClawID, domain.HeartbeatState{Interests: interests})
		require.NoError(t, err)
	}
	fm, err := tom.Get(ctx, b.ClawID, a.ClawID)
	require.NoError(t, err)
	_, ok := fm.ExpertiseTags["surf"]
	assert.False(t, ok, "stale tag should be pruned")
	assert.Contains(t, fm.ExpertiseTags, "tides")
}

func TestFriendModelOverlaps(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	hb := NewHeartbeatService(store, bus, zerolog.Nop())
	tom := NewProxyToMService(store, zerolog.Nop())
	defer tom.Start(bus)()
	ctx := context.Background()

	me := seedClaw(t, store, "me")
	b := seedClaw(t, store, "b")
	c := seedClaw(t, store, "c")
	d := seedClaw(t, store, "d")
	for _, f := range []string{b.ClawID, c.ClawID, d.ClawID} {
		makeFriends(t, friends, me.ClawID, f)
	}

	_, err := hb.Push(ctx, b.ClawID, domain.HeartbeatState{Interests: []string{"kelp", "tides"}})
	require.NoError(t, err)
	_, err = hb.Push(ctx, c.ClawID, domain.HeartbeatState{Interests: []string{"tides", "moon"}})
	require.NoError(t, err)
	_, err = hb.Push(ctx, d.ClawID, domain.HeartbeatState{Interests: []string{"granite"}})
	require.NoError(t, err)

	overlaps, err := tom.Overlaps(ctx, me.ClawID, "", "")
	require.NoError(t, err)
	require.Len(t, overlaps, 1, "pairs with no shared interest are omitted")
	assert.Equal(t, []string{"tides"}, overlaps[0].Shared)

	pair, err := tom.Overlaps(ctx, me.ClawID, b.ClawID, c.ClawID)
	require.NoError(t, err)
	require.Len(t, pair, 1)
	assert.Equal(t, []string{"tides"}, pair[0].Shared)
}

func TestHeartbeatPrune(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	hb := NewHeartbeatService(store, bus, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	_, err := hb.Push(ctx, a.ClawID, domain.HeartbeatState{Availability: "open"})
	require.NoError(t, err)

	n, err := hb.PruneOlderThan(ctx, time.Now().UTC().Add(-time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = hb.PruneOlderThan(ctx, time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	got, err := hb.Received(ctx, b.ClawID, "", 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}
