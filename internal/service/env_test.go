package service

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/xid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/domain"
	"github.com/clawbuds/backend/internal/events"
	"github.com/clawbuds/backend/internal/storage"
)

// testStore opens a throwaway SQLite store. Service behavior does not
// depend on the driver, so the PostgreSQL matrix stays in the storage tests.
func testStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(context.Background(), filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testBus() *events.Bus {
	return events.NewBus(zerolog.Nop())
}

func seedClaw(t *testing.T, s *storage.Store, name string) *domain.Claw {
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

// makeFriends requests in both directions, which auto-accepts the pending
// request and fires friend.accepted for whatever is on the bus.
func makeFriends(t *testing.T, friends *FriendService, a, b string) {
	t.Helper()
	ctx := context.Background()
	_, err := friends.Request(ctx, a, b)
	require.NoError(t, err)
	f, err := friends.Request(ctx, b, a)
	require.NoError(t, err)
	require.Equal(t, domain.FriendshipAccepted, f.Status)
}

// testFixture bundles the store and bus for tests that wire several
// services together.
type testFixture struct {
	store *storage.Store
	bus   *events.Bus
}

func newTestRelationships(s *storage.Store, bus *events.Bus) *RelationshipService {
	return NewRelationshipService(s, bus, 0.15, 0.05, 7*24*time.Hour, zerolog.Nop())
}
