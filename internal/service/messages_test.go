package service

import (
	"context"
	"sort"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
)

func textMsg(text string) []domain.Block {
	return []domain.Block{{Type: domain.BlockText, Text: text}}
}

func TestSendDirectFanOut(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	msgs := NewMessageService(store, bus, 5*time.Minute, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	c := seedClaw(t, store, "c")
	makeFriends(t, friends, a.ClawID, b.ClawID)
	makeFriends(t, friends, a.ClawID, c.ClawID)

	res, err := msgs.Send(ctx, a.ClawID, SendInput{
		Visibility: domain.VisibilityDirect,
		ToClawIDs:  []string{b.ClawID, c.ClawID, b.ClawID, a.ClawID},
		Blocks:     textMsg("hello"),
	})
	require.NoError(t, err)

	// Dedup, no self-delivery, and the count is the number of inbox rows.
	assert.Equal(t, 2, res.RecipientCount)
	assert.Len(t, res.Recipients, 2)
	assert.True(t, sort.StringsAreSorted(res.Recipients))

	for _, rid := range res.Recipients {
		entries, err := store.ListInbox(ctx, rid, 0, "", 10)
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, res.MessageID, entries[0].MessageID)
	}
}

func TestSendDirectRequiresFriendship(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	msgs := NewMessageService(store, bus, 5*time.Minute, zerolog.Nop())

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	_, err := msgs.Send(context.Background(), a.ClawID, SendInput{
		Visibility: domain.VisibilityDirect,
		ToClawIDs:  []string{b.ClawID},
		Blocks:     textMsg("hi stranger"),
	})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestSendCirclesUnion(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	circles := NewCircleService(store, zerolog.Nop())
	msgs := NewMessageService(store, bus, 5*time.Minute, zerolog.Nop())
	ctx := context.Background()

	sender := seedClaw(t, store, "sender")
	var ids []string
	for _, name := range []string{"b", "c", "d"} {
		f := seedClaw(t, store, name)
		makeFriends(t, friends, sender.ClawID, f.ClawID)
		ids = append(ids, f.ClawID)
	}
	// One more claw in a circle but no longer a friend by send time.
	ex := seedClaw(t, store, "ex")
	makeFriends(t, friends, sender.ClawID, ex.ClawID)

	work, err := circles.Create(ctx, sender.ClawID, "work")
	require.NoError(t, err)
	pods, err := circles.Create(ctx, sender.ClawID, "pods")
	require.NoError(t, err)
	require.NoError(t, circles.AddFriend(ctx, sender.ClawID, work.ID, ids[0]))
	require.NoError(t, circles.AddFriend(ctx, sender.ClawID, work.ID, ids[1]))
	require.NoError(t, circles.AddFriend(ctx, sender.ClawID, pods.ID, ids[1]))
	require.NoError(t, circles.AddFriend(ctx, sender.ClawID, pods.ID, ids[2]))
	require.NoError(t, circles.AddFriend(ctx, sender.ClawID, pods.ID, ex.ClawID))
	require.NoError(t, friends.Remove(ctx, sender.ClawID, ex.ClawID))

	res, err := msgs.Send(ctx, sender.ClawID, SendInput{
		Visibility:  domain.VisibilityCircles,
		CircleNames: []string{"work", "pods"},
		Blocks:      textMsg("standup moved"),
	})
	require.NoError(t, err)

	// Union of the two circles, deduplicated, current friends only.
	want := append([]string(nil), ids...)
	sort.Strings(want)
	assert.Equal(t, want, res.Recipients)
	assert.Equal(t, 3, res.RecipientCount)
}

func TestSendCirclesUnknownName(t *testing.T) {
	store := testStore(t)
	msgs := NewMessageService(store, testBus(), 5*time.Minute, zerolog.Nop())
	a := seedClaw(t, store, "a")

	_, err := msgs.Send(context.Background(), a.ClawID, SendInput{
		Visibility:  domain.VisibilityCircles,
		CircleNames: []string{"nope"},
		Blocks:      textMsg("hello"),
	})
	assert.Equal(t, domain.CodeValidation, domain.CodeOf(err))
}

func TestInboxSeqMonotone(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	msgs := NewMessageService(store, bus, 5*time.Minute, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	for i := 0; i < 3; i++ {
		_, err := msgs.Send(ctx, a.ClawID, SendInput{
			Visibility: domain.VisibilityDirect,
			ToClawIDs:  []string{b.ClawID},
			Blocks:     textMsg("tick"),
		})
		require.NoError(t, err)
	}

	entries, err := store.ListInbox(ctx, b.ClawID, 0, "", 10)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	sort.Slice(entries, func(i, j int) bool { return entries[i].Seq < entries[j].Seq })
	for i, e := range entries {
		assert.Equal(t, int64(i+1), e.Seq)
	}

	// sinceSeq is an exclusive cursor.
	tail, err := store.ListInbox(ctx, b.ClawID, 2, "", 10)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Seq)
}

func TestEditWindow(t *testing.T) {
	store := testStore(t)
	bus := testBus()
	friends := NewFriendService(store, bus, zerolog.Nop())
	ctx := context.Background()

	a := seedClaw(t, store, "a")
	b := seedClaw(t, store, "b")
	makeFriends(t, friends, a.ClawID, b.ClawID)

	// A negative window means every message is already past its edit window.
	closed := NewMessageService(store, bus, -time.Minute, zerolog.Nop())
	res, err := closed.Send(ctx, a.ClawID, SendInput{
		Visibility: domain.VisibilityDirect,
		ToClawIDs:  []string{b.ClawID},
		Blocks:     textMsg("tpyo"),
	})
	require.NoError(t, err)
	_, err = closed.Edit(ctx, a.ClawID, res.MessageID, textMsg("typo"))
	assert.Equal(t, domain.CodeEditWindow, domain.CodeOf(err))

	open := NewMessageService(store, bus, 5*time.Minute, zerolog.Nop())
	res, err = open.Send(ctx, a.ClawID, SendInput{
		Visibility: domain.VisibilityDirect,
		ToClawIDs:  []string{b.ClawID},
		Blocks:     textMsg("tpyo"),
	})
	require.NoError(t, err)
	m, err := open.Edit(ctx, a.ClawID, res.MessageID, textMsg("typo"))
	require.NoError(t, err)
	assert.Equal(t, "typo", m.Blocks[0].Text)

	// Only the author edits.
	_, err = open.Edit(ctx, b.ClawID, res.MessageID, textMsg("hijack"))
	assert.Error(t, err)
}
