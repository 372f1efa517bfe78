package realtime

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clawbuds/backend/internal/events"
)

// testSocket builds a socket without a conn; pumps never start, so frames
// accumulate in the send channel for assertions.
func testSocket() *Socket {
	return &Socket{send: make(chan []byte, 8), done: make(chan struct{})}
}

func received(s *Socket) [][]byte {
	var out [][]byte
	for {
		select {
		case p := <-s.send:
			out = append(out, p)
		default:
			return out
		}
	}
}

func TestRegisterReplacesPriorSocket(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	ctx := context.Background()

	old := testSocket()
	require.NoError(t, l.Register(ctx, "claw_a", old))
	replacement := testSocket()
	require.NoError(t, l.Register(ctx, "claw_a", replacement))

	assert.True(t, old.closed())
	assert.False(t, replacement.closed())

	require.NoError(t, l.SendToUser(ctx, "claw_a", []byte("hi")))
	assert.Empty(t, received(old))
	assert.Len(t, received(replacement), 1)
}

func TestSendToDisconnectedUserIsNoop(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	assert.NoError(t, l.SendToUser(context.Background(), "claw_ghost", []byte("hi")))
}

func TestStaleUnregisterKeepsCurrentSocket(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	ctx := context.Background()

	old := testSocket()
	require.NoError(t, l.Register(ctx, "claw_a", old))
	current := testSocket()
	require.NoError(t, l.Register(ctx, "claw_a", current))

	// The old socket's read pump finishing must not unbind the reconnect.
	l.Unregister(ctx, "claw_a", old)
	assert.True(t, l.Connected("claw_a"))

	require.NoError(t, l.SendToUser(ctx, "claw_a", []byte("still here")))
	assert.Len(t, received(current), 1)
}

func TestBroadcastReachesEachCurrentMemberOnce(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	ctx := context.Background()

	a, b := testSocket(), testSocket()
	require.NoError(t, l.Register(ctx, "claw_a", a))
	require.NoError(t, l.Register(ctx, "claw_b", b))
	require.NoError(t, l.JoinRoom(ctx, "claw_a", "reef"))
	require.NoError(t, l.JoinRoom(ctx, "claw_b", "reef"))

	require.NoError(t, l.Broadcast(ctx, "reef", []byte("tide in")))
	assert.Len(t, received(a), 1)
	assert.Len(t, received(b), 1)

	require.NoError(t, l.LeaveRoom(ctx, "claw_b", "reef"))
	require.NoError(t, l.Broadcast(ctx, "reef", []byte("tide out")))
	assert.Len(t, received(a), 1)
	assert.Empty(t, received(b))
}

func TestLastMemberLeavingRemovesRoom(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, l.JoinRoom(ctx, "claw_a", "reef"))
	require.NoError(t, l.LeaveRoom(ctx, "claw_a", "reef"))

	assert.Equal(t, 0, l.RoomCount("reef"))
	l.mu.RLock()
	_, exists := l.rooms["reef"]
	l.mu.RUnlock()
	assert.False(t, exists)
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	ctx := context.Background()

	var got [][]byte
	unsub, err := l.Subscribe(ctx, "presence", func(p []byte) { got = append(got, p) })
	require.NoError(t, err)

	require.NoError(t, l.Publish(ctx, "presence", []byte("one")))
	unsub()
	require.NoError(t, l.Publish(ctx, "presence", []byte("two")))

	require.Len(t, got, 1)
	assert.Equal(t, []byte("one"), got[0])
}

func TestSweepRemovesClosedSockets(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	ctx := context.Background()

	s := testSocket()
	require.NoError(t, l.Register(ctx, "claw_a", s))
	require.NoError(t, l.JoinRoom(ctx, "claw_a", "reef"))

	s.close()
	l.sweep()

	assert.False(t, l.Connected("claw_a"))
	assert.Equal(t, 0, l.RoomCount("reef"))
	n, err := l.OnlineCount(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestPusherDeliversPayloadNotEnvelope(t *testing.T) {
	l := NewLocal(zerolog.Nop())
	ctx := context.Background()

	s := testSocket()
	require.NoError(t, l.Register(ctx, "claw_b", s))

	bus := events.NewBus(zerolog.Nop())
	unsub := StartPusher(bus, l, zerolog.Nop())
	defer unsub()

	bus.Publish(ctx, events.New(events.ReactionAdded, "claw_a", []string{"claw_b"},
		events.ReactionPayload{MessageID: "msg1", OwnerID: "claw_b", ClawID: "claw_a", Emoji: "🦀"}))

	frames := received(s)
	require.Len(t, frames, 1)

	var frame struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(frames[0], &frame))
	assert.Equal(t, "reaction.added", frame.Type)
	assert.Equal(t, "msg1", frame.Data["messageId"])
	// The bus envelope's recipient list stays server-side.
	assert.NotContains(t, string(frames[0]), "recipients")
}
