package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
)

// forEachBackend runs the test once against a throwaway SQLite file and,
// when TEST_POSTGRES_URL is set, once against that PostgreSQL database.
// Tests use generated IDs so runs against a shared database stay isolated.
func forEachBackend(t *testing.T, fn func(t *testing.T, s *Store)) {
	t.Helper()

	t.Run("sqlite", func(t *testing.T) {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})

	pgURL := os.Getenv("TEST_POSTGRES_URL")
	t.Run("postgres", func(t *testing.T) {
		if pgURL == "" {
			t.Skip("TEST_POSTGRES_URL not set")
		}
		s, err := Open(context.Background(), pgURL, zerolog.Nop())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close() })
		fn(t, s)
	})
}

func seedClaw(t *testing.T, s *Store, name string) *domain.Claw {
	t.Helper()
	id := xid.New().String()
	c := &domain.Claw{
		ClawID:      "claw_" + id,
		PublicKey:   "pk_" + id,
		DisplayName: name,
		Status:      domain.ClawActive,
		CreatedAt:   time.Now().UTC().Truncate(time.Millisecond),
	}
	require.NoError(t, s.CreateClaw(context.Background(), c))
	return c
}

func TestDetectDriver(t *testing.T) {
	cases := []struct {
		url, driver, dsn string
	}{
		{"postgres://u:p@localhost/db", "postgres", "postgres://u:p@localhost/db"},
		{"postgresql://u:p@localhost/db", "postgres", "postgresql://u:p@localhost/db"},
		{"sqlite:///tmp/claw.db", "sqlite", "/tmp/claw.db"},
		{"clawbuds.db", "sqlite", "clawbuds.db"},
	}
	for _, tc := range cases {
		driver, dsn := detectDriver(tc.url)
		assert.Equal(t, tc.driver, driver, tc.url)
		assert.Equal(t, tc.dsn, dsn, tc.url)
	}
}

func TestRebind(t *testing.T) {
	s := &Store{driver: driverSQLite}
	assert.Equal(t, "SELECT * FROM t WHERE a = ? AND b = ?",
		s.rebind("SELECT * FROM t WHERE a = $1 AND b = $2"))
	assert.Equal(t, "VALUES (?, ?, ?)", s.rebind("VALUES ($1, $2, $13)"))

	pg := &Store{driver: driverPostgres}
	assert.Equal(t, "SELECT $1", pg.rebind("SELECT $1"))
}

func TestClawRoundTrip(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := seedClaw(t, s, "Shelly")
		c.Tags = []string{"go", "distsys"}
		c.Bio = "likes warm rocks"
		c.Discoverable = true
		require.NoError(t, s.UpdateClawProfile(ctx, c))

		got, err := s.GetClaw(ctx, c.ClawID)
		require.NoError(t, err)
		assert.Equal(t, c.DisplayName, got.DisplayName)
		assert.Equal(t, c.Tags, got.Tags)
		assert.True(t, got.Discoverable)
		assert.Equal(t, c.CreatedAt, got.CreatedAt)

		byKey, err := s.GetClawByPublicKey(ctx, c.PublicKey)
		require.NoError(t, err)
		assert.Equal(t, c.ClawID, byKey.ClawID)

		_, err = s.GetClaw(ctx, "claw_missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestClawUniqueness(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := seedClaw(t, s, "Shelly")

		dup := &domain.Claw{ClawID: c.ClawID, PublicKey: "pk_other_" + xid.New().String(),
			DisplayName: "x", Status: domain.ClawActive, CreatedAt: time.Now()}
		assert.ErrorIs(t, s.CreateClaw(ctx, dup), ErrDuplicate)

		dupKey := &domain.Claw{ClawID: "claw_other_" + xid.New().String(), PublicKey: c.PublicKey,
			DisplayName: "x", Status: domain.ClawActive, CreatedAt: time.Now()}
		assert.ErrorIs(t, s.CreateClaw(ctx, dupKey), ErrDuplicate)
	})
}

func TestMessageFanoutAllocatesPerRecipientSeq(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		sender := seedClaw(t, s, "sender")
		r1 := seedClaw(t, s, "r1")
		r2 := seedClaw(t, s, "r2")

		send := func() *domain.Message {
			m := &domain.Message{
				ID:         xid.New().String(),
				FromClawID: sender.ClawID,
				Blocks:     []domain.Block{{Type: domain.BlockText, Text: "hello"}},
				Visibility: domain.VisibilityDirect,
				CreatedAt:  time.Now().UTC().Truncate(time.Millisecond),
			}
			_, err := s.CreateMessageWithInbox(ctx, m, []string{r1.ClawID, r2.ClawID})
			require.NoError(t, err)
			return m
		}
		send()
		m2 := send()

		inbox, err := s.ListInbox(ctx, r1.ClawID, 0, "", 10)
		require.NoError(t, err)
		require.Len(t, inbox, 2)
		assert.Equal(t, int64(1), inbox[0].Seq)
		assert.Equal(t, int64(2), inbox[1].Seq)
		assert.Equal(t, m2.ID, inbox[1].MessageID)
		require.NotNil(t, inbox[0].Message)
		assert.Equal(t, "hello", inbox[0].Message.Blocks[0].Text)

		// Third recipient-specific message only bumps r2.
		m3 := &domain.Message{ID: xid.New().String(), FromClawID: sender.ClawID,
			Blocks:     []domain.Block{{Type: domain.BlockText, Text: "solo"}},
			Visibility: domain.VisibilityDirect, CreatedAt: time.Now()}
		_, err = s.CreateMessageWithInbox(ctx, m3, []string{r2.ClawID})
		require.NoError(t, err)

		inbox2, err := s.ListInbox(ctx, r2.ClawID, 2, "", 10)
		require.NoError(t, err)
		require.Len(t, inbox2, 1)
		assert.Equal(t, int64(3), inbox2[0].Seq)
	})
}

func TestMessageFanoutRollsBackOnBadRecipient(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		sender := seedClaw(t, s, "sender")
		good := seedClaw(t, s, "good")

		m := &domain.Message{
			ID:         xid.New().String(),
			FromClawID: sender.ClawID,
			Blocks:     []domain.Block{{Type: domain.BlockText, Text: "doomed"}},
			Visibility: domain.VisibilityDirect,
			CreatedAt:  time.Now(),
		}
		_, err := s.CreateMessageWithInbox(ctx, m, []string{good.ClawID, "claw_nonexistent"})
		require.Error(t, err)

		// The whole write rolled back: no message, no partial inbox entries.
		_, err = s.GetMessage(ctx, m.ID)
		assert.ErrorIs(t, err, ErrNotFound)
		inbox, err := s.ListInbox(ctx, good.ClawID, 0, "", 10)
		require.NoError(t, err)
		assert.Empty(t, inbox)
	})
}

func TestInboxStatusMovesForwardOnly(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		sender := seedClaw(t, s, "sender")
		r := seedClaw(t, s, "r")

		m := &domain.Message{ID: xid.New().String(), FromClawID: sender.ClawID,
			Blocks:     []domain.Block{{Type: domain.BlockText, Text: "hi"}},
			Visibility: domain.VisibilityDirect, CreatedAt: time.Now()}
		_, err := s.CreateMessageWithInbox(ctx, m, []string{r.ClawID})
		require.NoError(t, err)

		n, err := s.SetInboxStatus(ctx, r.ClawID, []string{m.ID}, domain.InboxAcked)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)

		// Acked never regresses to read.
		n, err = s.SetInboxStatus(ctx, r.ClawID, []string{m.ID}, domain.InboxRead)
		require.NoError(t, err)
		assert.Zero(t, n)

		entry, err := s.GetInboxEntry(ctx, r.ClawID, m.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.InboxAcked, entry.Status)
	})
}

func TestGroupCapacityEnforced(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		owner := seedClaw(t, s, "owner")
		m1 := seedClaw(t, s, "m1")
		m2 := seedClaw(t, s, "m2")

		g := &domain.Group{ID: xid.New().String(), Name: "tidepool", Type: domain.GroupPrivate,
			OwnerID: owner.ClawID, MaxMembers: 2, CreatedAt: time.Now()}
		require.NoError(t, s.CreateGroup(ctx, g))

		require.NoError(t, s.AddGroupMember(ctx, &domain.GroupMember{
			GroupID: g.ID, ClawID: m1.ClawID, Role: domain.RoleMember, JoinedAt: time.Now()}))

		err := s.AddGroupMember(ctx, &domain.GroupMember{
			GroupID: g.ID, ClawID: m2.ClawID, Role: domain.RoleMember, JoinedAt: time.Now()})
		assert.ErrorIs(t, err, ErrCapacity)

		got, err := s.GetGroup(ctx, g.ID)
		require.NoError(t, err)
		assert.Equal(t, 2, got.MemberCount)
	})
}

func TestGroupInvitationIsSingleUse(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		owner := seedClaw(t, s, "owner")
		invitee := seedClaw(t, s, "invitee")

		g := &domain.Group{ID: xid.New().String(), Name: "reef", Type: domain.GroupPublic,
			OwnerID: owner.ClawID, MaxMembers: 50, CreatedAt: time.Now()}
		require.NoError(t, s.CreateGroup(ctx, g))
		require.NoError(t, s.CreateGroupInvitation(ctx, &domain.GroupInvitation{
			ID: xid.New().String(), GroupID: g.ID, InviterID: owner.ClawID,
			InviteeID: invitee.ClawID, CreatedAt: time.Now()}))

		require.NoError(t, s.ConsumeInvitationAndJoin(ctx, g.ID, invitee.ClawID, time.Now()))

		member, err := s.GetGroupMember(ctx, g.ID, invitee.ClawID)
		require.NoError(t, err)
		assert.Equal(t, domain.RoleMember, member.Role)

		// Leaving and rejoining without a fresh invitation fails.
		require.NoError(t, s.RemoveGroupMember(ctx, g.ID, invitee.ClawID))
		err = s.ConsumeInvitationAndJoin(ctx, g.ID, invitee.ClawID, time.Now())
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestFriendshipCascadeRemovesDerivedState(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seedClaw(t, s, "a")
		b := seedClaw(t, s, "b")
		now := time.Now()

		f := &domain.Friendship{ID: xid.New().String(), RequesterID: a.ClawID,
			AccepterID: b.ClawID, Status: domain.FriendshipAccepted, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.CreateFriendship(ctx, f))

		circle := &domain.Circle{ID: xid.New().String(), OwnerID: a.ClawID, Name: "close", CreatedAt: now}
		require.NoError(t, s.CreateCircle(ctx, circle))
		require.NoError(t, s.AddCircleMember(ctx, circle.ID, b.ClawID, now))

		require.NoError(t, s.UpsertFriendModel(ctx, &domain.FriendModel{
			ClawID: a.ClawID, FriendID: b.ClawID, Availability: "online", UpdatedAt: now}))
		require.NoError(t, s.SeedRelationship(ctx, &domain.RelationshipStrength{
			ClawID: a.ClawID, FriendID: b.ClawID, Strength: 0.5,
			DunbarLayer: domain.LayerActive, UpdatedAt: now}))

		require.NoError(t, s.DeleteFriendshipCascade(ctx, f.ID, a.ClawID, b.ClawID))

		members, err := s.ListCircleMemberIDs(ctx, circle.ID)
		require.NoError(t, err)
		assert.Empty(t, members)
		_, err = s.GetFriendModel(ctx, a.ClawID, b.ClawID)
		assert.ErrorIs(t, err, ErrNotFound)
		_, err = s.GetRelationship(ctx, a.ClawID, b.ClawID)
		assert.ErrorIs(t, err, ErrNotFound)
		ids, err := s.ListFriendIDs(ctx, a.ClawID)
		require.NoError(t, err)
		assert.Empty(t, ids)
	})
}

func TestRelationshipSeedNeverResets(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seedClaw(t, s, "a")
		b := seedClaw(t, s, "b")
		now := time.Now()

		r := &domain.RelationshipStrength{ClawID: a.ClawID, FriendID: b.ClawID,
			Strength: 0.5, DunbarLayer: domain.LayerActive, UpdatedAt: now}
		require.NoError(t, s.SeedRelationship(ctx, r))

		r.Strength = 0.83
		r.DunbarLayer = domain.LayerCore
		require.NoError(t, s.SaveRelationship(ctx, r))

		// Seeding again, as a re-accept would, keeps the earned strength.
		require.NoError(t, s.SeedRelationship(ctx, &domain.RelationshipStrength{
			ClawID: a.ClawID, FriendID: b.ClawID, Strength: 0.5,
			DunbarLayer: domain.LayerActive, UpdatedAt: now}))

		got, err := s.GetRelationship(ctx, a.ClawID, b.ClawID)
		require.NoError(t, err)
		assert.InDelta(t, 0.83, got.Strength, 1e-9)
		assert.Equal(t, domain.LayerCore, got.DunbarLayer)
	})
}

func TestLastSentStateSkipsKeepalives(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seedClaw(t, s, "a")
		b := seedClaw(t, s, "b")
		base := time.Now().Add(-time.Hour)

		require.NoError(t, s.CreateHeartbeat(ctx, &domain.Heartbeat{
			ID: xid.New().String(), FromClawID: a.ClawID, ToClawID: b.ClawID,
			Interests: []string{"tides"}, Availability: "online",
			RecentTopics: []string{"molting"}, CreatedAt: base}))
		require.NoError(t, s.CreateHeartbeat(ctx, &domain.Heartbeat{
			ID: xid.New().String(), FromClawID: a.ClawID, ToClawID: b.ClawID,
			IsKeepalive: true, CreatedAt: base.Add(time.Minute)}))

		state, ok, err := s.LastSentState(ctx, a.ClawID, b.ClawID)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, domain.HeartbeatState{Interests: []string{"tides"},
			Availability: "online", RecentTopics: []string{"molting"}}, state)

		_, ok, err = s.LastSentState(ctx, b.ClawID, a.ClawID)
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestHeartbeatRetentionSweep(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		a := seedClaw(t, s, "a")
		b := seedClaw(t, s, "b")
		now := time.Now()

		require.NoError(t, s.CreateHeartbeat(ctx, &domain.Heartbeat{
			ID: xid.New().String(), FromClawID: a.ClawID, ToClawID: b.ClawID,
			CreatedAt: now.Add(-8 * 24 * time.Hour)}))
		require.NoError(t, s.CreateHeartbeat(ctx, &domain.Heartbeat{
			ID: xid.New().String(), FromClawID: a.ClawID, ToClawID: b.ClawID,
			CreatedAt: now.Add(-time.Hour)}))

		deleted, err := s.DeleteHeartbeatsBefore(ctx, now.Add(-7*24*time.Hour))
		require.NoError(t, err)
		assert.GreaterOrEqual(t, deleted, int64(1))

		left, err := s.ListReceivedHeartbeats(ctx, b.ClawID, a.ClawID, 10)
		require.NoError(t, err)
		require.Len(t, left, 1)
	})
}

func TestPollRevoteReplacesChoice(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		sender := seedClaw(t, s, "sender")
		voter := seedClaw(t, s, "voter")

		m := &domain.Message{ID: xid.New().String(), FromClawID: sender.ClawID,
			Blocks: []domain.Block{{Type: domain.BlockPoll, Question: "best rock?",
				Options: []string{"flat", "pointy"}}},
			Visibility: domain.VisibilityDirect, CreatedAt: time.Now()}
		_, err := s.CreateMessageWithInbox(ctx, m, []string{voter.ClawID})
		require.NoError(t, err)

		require.NoError(t, s.UpsertPollVote(ctx, &domain.PollVote{ID: xid.New().String(),
			MessageID: m.ID, ClawID: voter.ClawID, OptionIndex: 0, CreatedAt: time.Now()}))
		require.NoError(t, s.UpsertPollVote(ctx, &domain.PollVote{ID: xid.New().String(),
			MessageID: m.ID, ClawID: voter.ClawID, OptionIndex: 1, CreatedAt: time.Now()}))

		votes, err := s.ListPollVotes(ctx, m.ID)
		require.NoError(t, err)
		require.Len(t, votes, 1)
		assert.Equal(t, 1, votes[0].OptionIndex)
	})
}

func TestCarapaceVersioningAndPrune(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := seedClaw(t, s, "c")

		for i := 1; i <= 5; i++ {
			doc := json.RawMessage(fmt.Sprintf(`{"values":{"rev":%d}}`, i))
			v, err := s.AppendCarapaceVersion(ctx, c.ClawID, doc, time.Now())
			require.NoError(t, err)
			assert.Equal(t, i, v.Version)
			assert.NotEmpty(t, v.ID)
		}

		current, err := s.CurrentCarapace(ctx, c.ClawID)
		require.NoError(t, err)
		assert.Equal(t, 5, current.Version)
		assert.JSONEq(t, `{"values":{"rev":5}}`, string(current.Document))

		pruned, err := s.PruneCarapaceHistory(ctx, 2)
		require.NoError(t, err)
		assert.Equal(t, int64(3), pruned)

		history, err := s.ListCarapaceHistory(ctx, c.ClawID, 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, 5, history[0].Version)
		assert.Equal(t, 4, history[1].Version)
	})
}

func TestWebhookFailureCountDisables(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		c := seedClaw(t, s, "c")
		now := time.Now()

		w := &domain.Webhook{ID: xid.New().String(), ClawID: c.ClawID, Name: "notify",
			Type: domain.WebhookOutgoing, URL: "https://example.com/hook", Secret: "s",
			Events: []string{"*"}, Active: true, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.CreateWebhook(ctx, w))

		status := 500
		for i := 1; i <= 9; i++ {
			count, active, err := s.RecordWebhookFailure(ctx, w.ID, &status, 10, time.Now())
			require.NoError(t, err)
			assert.Equal(t, i, count)
			assert.True(t, active)
		}

		// A success resets the streak.
		require.NoError(t, s.RecordWebhookSuccess(ctx, w.ID, 200, time.Now()))
		count, active, err := s.RecordWebhookFailure(ctx, w.ID, &status, 10, time.Now())
		require.NoError(t, err)
		assert.Equal(t, 1, count)
		assert.True(t, active)

		for i := 2; i <= 10; i++ {
			count, active, err = s.RecordWebhookFailure(ctx, w.ID, &status, 10, time.Now())
			require.NoError(t, err)
		}
		assert.Equal(t, 10, count)
		assert.False(t, active)

		got, err := s.GetWebhook(ctx, w.ID)
		require.NoError(t, err)
		assert.False(t, got.Active)
		assert.Equal(t, 10, got.FailureCount)
	})
}

func TestEndorsementUpsert(t *testing.T) {
	forEachBackend(t, func(t *testing.T, s *Store) {
		ctx := context.Background()
		owner := seedClaw(t, s, "owner")
		endorser := seedClaw(t, s, "endorser")
		now := time.Now()

		p := &domain.Pearl{ID: xid.New().String(), OwnerID: owner.ClawID,
			Type: domain.PearlInsight, TriggerText: "barnacles drift",
			Body: "they settle where the current slows", Luster: domain.DefaultLuster,
			Shareability: domain.ShareFriendsOnly, CreatedAt: now, UpdatedAt: now}
		require.NoError(t, s.CreatePearl(ctx, p))

		created, err := s.UpsertEndorsement(ctx, &domain.PearlEndorsement{
			ID: xid.New().String(), PearlID: p.ID, EndorserID: endorser.ClawID,
			Score: 0.9, CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
		assert.True(t, created)

		created, err = s.UpsertEndorsement(ctx, &domain.PearlEndorsement{
			ID: xid.New().String(), PearlID: p.ID, EndorserID: endorser.ClawID,
			Score: 0.4, CreatedAt: now, UpdatedAt: now})
		require.NoError(t, err)
		assert.False(t, created)

		list, err := s.ListEndorsements(ctx, p.ID)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.InDelta(t, 0.4, list[0].Score, 1e-9)
	})
}
