package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Local is the single-node Service: sockets, rooms and channels all live in
// process memory behind one mutex. Socket writes themselves stay lock-free,
// each socket's pump serializes its conn.
type Local struct {
	mu        sync.RWMutex
	sockets   map[string]*Socket             // claw id -> active socket
	rooms     map[string]map[string]struct{} // room -> member claw ids
	userRooms map[string]map[string]struct{} // claw id -> joined rooms
	channels  map[string][]channelSub
	nextSub   int
	log       zerolog.Logger
}

type channelSub struct {
	id      int
	handler func([]byte)
}

// NewLocal builds an empty local service.
func NewLocal(log zerolog.Logger) *Local {
	return &Local{
		sockets:   make(map[string]*Socket),
		rooms:     make(map[string]map[string]struct{}),
		userRooms: make(map[string]map[string]struct{}),
		channels:  make(map[string][]channelSub),
		log:       log.With().Str("component", "realtime").Logger(),
	}
}

// Register binds a socket to a claw. A claw reconnecting on a new socket
// closes the previous one.
func (l *Local) Register(_ context.Context, userID string, s *Socket) error {
	l.mu.Lock()
	prev := l.sockets[userID]
	l.sockets[userID] = s
	l.mu.Unlock()

	if prev != nil && prev != s {
		prev.close()
		l.log.Debug().Str("claw_id", userID).Msg("replaced existing socket")
	}
	return nil
}

// Unregister drops the socket binding and the claw's room memberships. A
// stale socket (already replaced by a reconnect) only closes itself.
func (l *Local) Unregister(_ context.Context, userID string, s *Socket) {
	s.close()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sockets[userID] != s {
		return
	}
	delete(l.sockets, userID)
	for room := range l.userRooms[userID] {
		l.dropMembership(userID, room)
	}
}

// SendToUser pushes a payload to one claw. Disconnected or dead sockets are
// skipped silently.
func (l *Local) SendToUser(_ context.Context, userID string, payload []byte) error {
	l.mu.RLock()
	s := l.sockets[userID]
	l.mu.RUnlock()

	if s == nil {
		return nil
	}
	if !s.enqueue(payload) {
		l.log.Debug().Str("claw_id", userID).Msg("dropping frame for dead socket")
	}
	return nil
}

// SendToUsers pushes the same payload to several claws.
func (l *Local) SendToUsers(ctx context.Context, userIDs []string, payload []byte) error {
	for _, id := range userIDs {
		if err := l.SendToUser(ctx, id, payload); err != nil {
			return err
		}
	}
	return nil
}

// Broadcast delivers a payload once to every current member of the room.
func (l *Local) Broadcast(ctx context.Context, room string, payload []byte) error {
	l.mu.RLock()
	members := make([]string, 0, len(l.rooms[room]))
	for id := range l.rooms[room] {
		members = append(members, id)
	}
	l.mu.RUnlock()

	return l.SendToUsers(ctx, members, payload)
}

// JoinRoom adds a claw to a room, creating the room on first join.
func (l *Local) JoinRoom(_ context.Context, userID, room string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.rooms[room] == nil {
		l.rooms[room] = make(map[string]struct{})
	}
	l.rooms[room][userID] = struct{}{}
	if l.userRooms[userID] == nil {
		l.userRooms[userID] = make(map[string]struct{})
	}
	l.userRooms[userID][room] = struct{}{}
	return nil
}

// LeaveRoom removes a claw from a room. The last member leaving removes the
// room itself.
func (l *Local) LeaveRoom(_ context.Context, userID, room string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.dropMembership(userID, room)
	return nil
}

// dropMembership unlinks both directions of a room membership. Caller holds
// the write lock.
func (l *Local) dropMembership(userID, room string) {
	if members := l.rooms[room]; members != nil {
		delete(members, userID)
		if len(members) == 0 {
			delete(l.rooms, room)
		}
	}
	if rooms := l.userRooms[userID]; rooms != nil {
		delete(rooms, room)
		if len(rooms) == 0 {
			delete(l.userRooms, userID)
		}
	}
}

// Subscribe registers a handler for a named channel.
func (l *Local) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.nextSub++
	id := l.nextSub
	l.channels[channel] = append(l.channels[channel], channelSub{id: id, handler: handler})

	return func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		subs := l.channels[channel]
		for i, sub := range subs {
			if sub.id == id {
				l.channels[channel] = append(subs[:i], subs[i+1:]...)
				break
			}
		}
		if len(l.channels[channel]) == 0 {
			delete(l.channels, channel)
		}
	}, nil
}

// Publish invokes every handler subscribed to the channel.
func (l *Local) Publish(_ context.Context, channel string, payload []byte) error {
	l.mu.RLock()
	subs := make([]channelSub, len(l.channels[channel]))
	copy(subs, l.channels[channel])
	l.mu.RUnlock()

	for _, sub := range subs {
		sub.handler(payload)
	}
	return nil
}

// OnlineCount reports how many claws hold a live socket.
func (l *Local) OnlineCount(_ context.Context) (int, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	n := 0
	for _, s := range l.sockets {
		if !s.closed() {
			n++
		}
	}
	return n, nil
}

// RoomCount reports how many members a room currently has.
func (l *Local) RoomCount(room string) int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.rooms[room])
}

// Connected reports whether the claw holds a live socket on this node.
func (l *Local) Connected(userID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := l.sockets[userID]
	return s != nil && !s.closed()
}

// StartJanitor sweeps closed sockets out of the map until ctx ends. Sockets
// normally unregister themselves; the sweep catches pumps that died without
// running their cleanup.
func (l *Local) StartJanitor(ctx context.Context, every time.Duration) {
	go func() {
		ticker := time.NewTicker(every)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				l.sweep()
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (l *Local) sweep() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id, s := range l.sockets {
		if s.closed() {
			delete(l.sockets, id)
			for room := range l.userRooms[id] {
				l.dropMembership(id, room)
			}
		}
	}
}

// Close shuts every socket down.
func (l *Local) Close() error {
	l.mu.Lock()
	sockets := make([]*Socket, 0, len(l.sockets))
	for _, s := range l.sockets {
		sockets = append(sockets, s)
	}
	l.sockets = make(map[string]*Socket)
	l.rooms = make(map[string]map[string]struct{})
	l.userRooms = make(map[string]map[string]struct{})
	l.mu.Unlock()

	for _, s := range sockets {
		s.close()
	}
	return nil
}
