package service

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
)

func TestFriendRequestLifecycle(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")

	f, err := friends.Request(ctx, a.ClawID, b.ClawID)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipPending, f.Status)
	assert.Equal(t, a.ClawID, f.RequesterID)

	// The requester asking again is a duplicate.
	_, err = friends.Request(ctx, a.ClawID, b.ClawID)
	assert.Equal(t, domain.CodeDuplicateReq, domain.CodeOf(err))

	accepted, err := friends.Accept(ctx, b.ClawID, f.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipAccepted, accepted.Status)

	// Accepted is symmetric: either side resolves the same friendship.
	for _, pair := range [][2]string{{a.ClawID, b.ClawID}, {b.ClawID, a.ClawID}} {
		got, err := store.GetActiveFriendshipBetween(ctx, pair[0], pair[1])
		require.NoError(t, err)
		assert.Equal(t, domain.FriendshipAccepted, got.Status)
	}

	_, err = friends.Request(ctx, a.ClawID, b.ClawID)
	assert.Equal(t, domain.CodeAlreadyFriends, domain.CodeOf(err))
}

func TestFriendRequestSelf(t *testing.T) {
	store := testStore(t)
	friends := NewFriendService(store, testBus(), zerolog.Nop())
	a := seedClaw(t, store, "a")

	_, err := friends.Request(context.Background(), a.ClawID, a.ClawID)
	assert.Equal(t, domain.CodeSelfRequest, domain.CodeOf(err))
}

func TestFriendRequestUnknownClaw(t *testing.T) {
	store := testStore(t)
	friends := NewFriendService(store, testBus(), zerolog.Nop())
	a := seedClaw(t, store, "a")

	_, err := friends.Request(context.Background(), a.ClawID, "claw_nobody")
	assert.Equal(t, domain.CodeClawNotFound, domain.CodeOf(err))
}

func TestFriendReverseRequestAutoAccepts(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	ctx := context.Background()

	var accepts int
	bus.Subscribe(events.FriendAccepted, "probe", func(ctx context.Context, evt events.Event) {
		accepts++
	})

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")

	first, err := friends.Request(ctx, a.ClawID, b.ClawID)
	require.NoError(t, err)

	second, err := friends.Request(ctx, b.ClawID, a.ClawID)
	require.NoError(t, err)
	assert.Equal(t, domain.FriendshipAccepted, second.Status)
	assert.Equal(t, first.ID, second.ID, "the earlier request is the one accepted")
	assert.Equal(t, 1, accepts)
}

func TestFriendRejectWithBlockOccupiesPair(t *testing.T) {
	store := testStore(t)
	friends := NewFriendService(store, testBus(), zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")

	f, err := friends.Request(ctx, a.ClawID, b.ClawID)
	require.NoError(t, err)
	require.NoError(t, friends.Reject(ctx, b.ClawID, f.ID, true))

	// The block is indistinguishable from a plain duplicate to the requester.
	_, err = friends.Request(ctx, a.ClawID, b.ClawID)
	assert.Equal(t, domain.CodeDuplicateReq, domain.CodeOf(err))
}

func TestFriendRemoveClearsBothSides(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	rels := newTestRelationships(store, bus)
	defer rels.Start(bus)()
	friends := NewFriendService(store, bus, zerolog.Nop())
	circles := NewCircleService(store, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	c, err := circles.Create(ctx, a.ClawID, "inner")
	require.NoError(t, err)
	require.NoError(t, circles.AddFriend(ctx, a.ClawID, c.ID, b.ClawID))

	require.NoError(t, friends.Remove(ctx, a.ClawID, b.ClawID))

	// Friendship, circle membership and both relationship records are gone.
	_, err = store.GetActiveFriendshipBetween(ctx, a.ClawID, b.ClawID)
	assert.Error(t, err)
	members, err := circles.Members(ctx, a.ClawID, c.ID)
	require.NoError(t, err)
	assert.Empty(t, members)
	_, err = rels.Get(ctx, a.ClawID, b.ClawID)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
	_, err = rels.Get(ctx, b.ClawID, a.ClawID)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))

	// Either side may befriend again from scratch.
	_, err = friends.Request(ctx, b.ClawID, a.ClawID)
	assert.NoError(t, err)
}

func TestFriendRemoveNotFriends(t *testing.T) {
	store := testStore(t)
	friends := NewFriendService(store, testBus(), zerolog.Nop())

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	err := friends.Remove(context.Background(), a.ClawID, b.ClawID)
	assert.Equal(t, domain.CodeNotFound, domain.CodeOf(err))
}
