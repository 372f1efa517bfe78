// Package realtime pushes event frames to connected claws. Service is the
// capability seam: Local keeps sockets on this node only, Redis layers a
// pub/sub broker on top so any node can reach a claw connected elsewhere.
package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/clawbuds/backend/internal/events"
)

// Service is the push capability the rest of the server depends on.
// Sends to disconnected claws are silent no-ops, never errors.
type Service interface {
	SendToUser(ctx context.Context, userID string, payload []byte) error
	SendToUsers(ctx context.Context, userIDs []string, payload []byte) error
	Broadcast(ctx context.Context, room string, payload []byte) error

	JoinRoom(ctx context.Context, userID, room string) error
	LeaveRoom(ctx context.Context, userID, room string) error

	// Subscribe registers a handler on a named channel and returns an
	// unsubscribe function; after it runs the handler is never invoked again.
	Subscribe(ctx context.Context, channel string, handler func([]byte)) (func(), error)
	Publish(ctx context.Context, channel string, payload []byte) error

	OnlineCount(ctx context.Context) (int, error)
	Close() error
}

// Registrar binds sockets to claw ids. Both implementations satisfy it; the
// HTTP gateway only needs this half.
type Registrar interface {
	Register(ctx context.Context, userID string, s *Socket) error
	Unregister(ctx context.Context, userID string, s *Socket)
}

// Frame is the wire shape written to sockets: the event payload plus its
// type tag, without the internal bus envelope.
type Frame struct {
	Type       string      `json:"type"`
	OccurredAt time.Time   `json:"occurredAt"`
	Data       interface{} `json:"data"`
}

// StartPusher subscribes to the bus and fans every event out to its
// recipients' sockets. Returns the unsubscribe function.
func StartPusher(bus *events.Bus, rt Service, log zerolog.Logger) func() {
	l := log.With().Str("component", "realtime_pusher").Logger()
	return bus.SubscribeAll("realtime", func(ctx context.Context, evt events.Event) {
		if len(evt.Recipients) == 0 {
			return
		}
		payload, err := json.Marshal(Frame{
			Type:       string(evt.Type),
			OccurredAt: evt.OccurredAt,
			Data:       evt.Data,
		})
		if err != nil {
			l.Error().Err(err).Str("event_type", string(evt.Type)).Msg("marshal frame")
			return
		}
		if err := rt.SendToUsers(ctx, evt.Recipients, payload); err != nil {
			l.Warn().Err(err).Str("event_type", string(evt.Type)).Msg("push failed")
		}
	})
}
