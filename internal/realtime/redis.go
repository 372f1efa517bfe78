package realtime

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Redis is the broker-backed Service for multi-node deployments. Sockets
// still live in the embedded Local; Redis pub/sub carries frames between
// nodes, and presence lives in a shared sorted set whose scores are
// per-member expiry times.
type Redis struct {
	rdb    *redis.Client
	local  *Local
	prefix string
	ttl    time.Duration
	log    zerolog.Logger

	mu       sync.Mutex
	userSubs map[string]func()
	roomSubs map[string]func()
	stop     chan struct{}
}

// NewRedis connects to the broker and starts the presence refresh loop.
func NewRedis(ctx context.Context, addr, password string, db int, log zerolog.Logger) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  3 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
		PoolSize:     20,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}

	r := &Redis{
		rdb:      rdb,
		local:    NewLocal(log),
		prefix:   "clawbuds:",
		ttl:      90 * time.Second,
		log:      log.With().Str("component", "realtime_redis").Logger(),
		userSubs: make(map[string]func()),
		roomSubs: make(map[string]func()),
		stop:     make(chan struct{}),
	}
	go r.refreshPresence()
	r.log.Info().Str("addr", addr).Msg("realtime broker connected")
	return r, nil
}

func (r *Redis) userChannel(id string) string   { return r.prefix + "user:" + id }
func (r *Redis) roomChannel(room string) string { return r.prefix + "room:" + room }
func (r *Redis) chanChannel(name string) string { return r.prefix + "chan:" + name }
func (r *Redis) onlineKey() string              { return r.prefix + "online" }

// Register binds the socket locally and subscribes this node to the claw's
// broker channel so frames published anywhere reach it.
func (r *Redis) Register(ctx context.Context, userID string, s *Socket) error {
	if err := r.local.Register(ctx, userID, s); err != nil {
		return err
	}

	r.mu.Lock()
	_, subscribed := r.userSubs[userID]
	r.mu.Unlock()

	if !subscribed {
		unsub, err := r.subscribeRaw(r.userChannel(userID), func(payload []byte) {
			r.local.SendToUser(context.Background(), userID, payload)
		})
		if err != nil {
			r.log.Warn().Err(err).Str("claw_id", userID).Msg("user channel subscribe failed, local-only delivery")
		} else {
			r.mu.Lock()
			r.userSubs[userID] = unsub
			r.mu.Unlock()
		}
	}

	deadline := float64(time.Now().Add(r.ttl).UnixMilli())
	if err := r.rdb.ZAdd(ctx, r.onlineKey(), redis.Z{Score: deadline, Member: userID}).Err(); err != nil {
		r.log.Warn().Err(err).Msg("presence add failed")
	}
	return nil
}

// Unregister drops the socket. The broker subscription and presence entry go
// with it once the claw has no live socket left on this node.
func (r *Redis) Unregister(ctx context.Context, userID string, s *Socket) {
	r.local.Unregister(ctx, userID, s)
	if r.local.Connected(userID) {
		return
	}

	r.mu.Lock()
	unsub := r.userSubs[userID]
	delete(r.userSubs, userID)
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}

	if err := r.rdb.ZRem(ctx, r.onlineKey(), userID).Err(); err != nil {
		r.log.Warn().Err(err).Msg("presence remove failed")
	}
}

// SendToUser publishes the payload on the claw's channel; whichever node
// holds the socket delivers it.
func (r *Redis) SendToUser(ctx context.Context, userID string, payload []byte) error {
	return r.rdb.Publish(ctx, r.userChannel(userID), payload).Err()
}

// SendToUsers publishes to many claws in one pipeline round trip.
func (r *Redis) SendToUsers(ctx context.Context, userIDs []string, payload []byte) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := r.rdb.Pipeline()
	for _, id := range userIDs {
		pipe.Publish(ctx, r.userChannel(id), payload)
	}
	_, err := pipe.Exec(ctx)
	return err
}

// Broadcast publishes on the room channel; every node with members delivers
// to its own sockets.
func (r *Redis) Broadcast(ctx context.Context, room string, payload []byte) error {
	return r.rdb.Publish(ctx, r.roomChannel(room), payload).Err()
}

// JoinRoom records the membership locally and ensures this node listens on
// the room channel.
func (r *Redis) JoinRoom(ctx context.Context, userID, room string) error {
	if err := r.local.JoinRoom(ctx, userID, room); err != nil {
		return err
	}

	r.mu.Lock()
	_, subscribed := r.roomSubs[room]
	r.mu.Unlock()
	if subscribed {
		return nil
	}

	unsub, err := r.subscribeRaw(r.roomChannel(room), func(payload []byte) {
		r.local.Broadcast(context.Background(), room, payload)
	})
	if err != nil {
		return fmt.Errorf("room subscribe %s: %w", room, err)
	}
	r.mu.Lock()
	r.roomSubs[room] = unsub
	r.mu.Unlock()
	return nil
}

// LeaveRoom removes the membership; the last local member leaving releases
// the node's room subscription.
func (r *Redis) LeaveRoom(ctx context.Context, userID, room string) error {
	if err := r.local.LeaveRoom(ctx, userID, room); err != nil {
		return err
	}
	if r.local.RoomCount(room) > 0 {
		return nil
	}

	r.mu.Lock()
	unsub := r.roomSubs[room]
	delete(r.roomSubs, room)
	r.mu.Unlock()
	if unsub != nil {
		unsub()
	}
	return nil
}

// Subscribe listens on a named broker channel.
func (r *Redis) Subscribe(_ context.Context, channel string, handler func([]byte)) (func(), error) {
	return r.subscribeRaw(r.chanChannel(channel), handler)
}

// Publish sends a payload on a named broker channel.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	return r.rdb.Publish(ctx, r.chanChannel(channel), payload).Err()
}

// OnlineCount counts presence entries whose expiry lies in the future,
// dropping stale ones first.
func (r *Redis) OnlineCount(ctx context.Context) (int, error) {
	now := time.Now().UnixMilli()
	if err := r.rdb.ZRemRangeByScore(ctx, r.onlineKey(), "-inf", strconv.FormatInt(now, 10)).Err(); err != nil {
		return 0, err
	}
	n, err := r.rdb.ZCount(ctx, r.onlineKey(), "("+strconv.FormatInt(now, 10), "+inf").Result()
	return int(n), err
}

// refreshPresence re-stamps the expiry of every locally connected claw.
func (r *Redis) refreshPresence() {
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			deadline := float64(time.Now().Add(r.ttl).UnixMilli())

			r.mu.Lock()
			ids := make([]string, 0, len(r.userSubs))
			for id := range r.userSubs {
				ids = append(ids, id)
			}
			r.mu.Unlock()

			if len(ids) > 0 {
				pipe := r.rdb.Pipeline()
				for _, id := range ids {
					if r.local.Connected(id) {
						pipe.ZAdd(ctx, r.onlineKey(), redis.Z{Score: deadline, Member: id})
					}
				}
				if _, err := pipe.Exec(ctx); err != nil {
					r.log.Warn().Err(err).Msg("presence refresh failed")
				}
			}
			cancel()

		case <-r.stop:
			return
		}
	}
}

func (r *Redis) subscribeRaw(channel string, handler func([]byte)) (func(), error) {
	sub := r.rdb.Subscribe(context.Background(), channel)
	if _, err := sub.Receive(context.Background()); err != nil {
		sub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}

	ch := sub.Channel()
	go func() {
		for msg := range ch {
			handler([]byte(msg.Payload))
		}
	}()
	return func() { sub.Close() }, nil
}

// Close tears down subscriptions, sockets and the client connection.
func (r *Redis) Close() error {
	close(r.stop)

	r.mu.Lock()
	for _, unsub := range r.userSubs {
		unsub()
	}
	for _, unsub := range r.roomSubs {
		unsub()
	}
	r.userSubs = make(map[string]func())
	r.roomSubs = make(map[string]func())
	r.mu.Unlock()

	r.local.Close()
	return r.rdb.Close()
}
