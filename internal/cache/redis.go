// Package cache implements core.Realtime on Redis: the recent-message
// cache, cross-instance pub/sub fan-out, presence tracking and rate
// limiting all live in one Redis deployment so they hold across server
// instances.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chatwave/chatwave-server/internal/core"
)

// Config tunes the Redis-backed realtime fabric.
type Config struct {
	// Origin identifies this server instance in pub/sub frames.
	Origin string
	// RecentSize is how many messages the per-room cache retains.
	RecentSize int
	// RecentTTL is how long an idle room cache lives.
	RecentTTL time.Duration
	// PresenceTTL is how long a user stays online without a refresh.
	PresenceTTL time.Duration
	// RateLimitMax is the number of messages allowed per window.
	RateLimitMax int
	// RateLimitWindow is the rate limit window length.
	RateLimitWindow time.Duration
}

const (
	defaultRecentSize      = 50
	defaultRecentTTL       = 24 * time.Hour
	defaultPresenceTTL     = 30 * time.Second
	defaultRateLimitMax    = 30
	defaultRateLimitWindow = time.Minute

	frameBuffer = 256
)

// Redis implements core.Realtime.
type Redis struct {
	rdb    *redis.Client
	pubsub *redis.PubSub
	cfg    Config
	log    zerolog.Logger
	frames chan core.Frame
}

// wireMessage is the JSON shape of a message in the recent cache.
type wireMessage struct {
	ID        string    `json:"id"`
	Room      string    `json:"room"`
	User      string    `json:"user"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// wireFrame is the JSON shape of a pub/sub frame.
type wireFrame struct {
	Origin  string       `json:"origin"`
	Kind    string       `json:"kind"`
	Room    string       `json:"room"`
	User    string       `json:"user,omitempty"`
	Online  []string     `json:"online,omitempty"`
	Message *wireMessage `json:"message,omitempty"`
}

// New builds the fabric on an already connected client and starts the
// pub/sub relay. Close releases the subscription; the client itself
// belongs to the caller.
func New(rdb *redis.Client, cfg Config, logger *zerolog.Logger) *Redis {
	if cfg.RecentSize <= 0 {
		cfg.RecentSize = defaultRecentSize
	}
	if cfg.RecentTTL <= 0 {
		cfg.RecentTTL = defaultRecentTTL
	}
	if cfg.PresenceTTL <= 0 {
		cfg.PresenceTTL = defaultPresenceTTL
	}
	if cfg.RateLimitMax <= 0 {
		cfg.RateLimitMax = defaultRateLimitMax
	}
	if cfg.RateLimitWindow <= 0 {
		cfg.RateLimitWindow = defaultRateLimitWindow
	}

	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}

	r := &Redis{
		rdb:    rdb,
		pubsub: rdb.Subscribe(context.Background()),
		cfg:    cfg,
		log:    log,
		frames: make(chan core.Frame, frameBuffer),
	}
	go r.relay()
	return r
}

// Ping verifies Redis is reachable.
func (r *Redis) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close stops the pub/sub relay.
func (r *Redis) Close() error {
	return r.pubsub.Close()
}

func recentKey(room string) string { return "chat:" + room + ":recent" }

func channelKey(room string) string { return "chat:" + room }

func presenceKey(room, user string) string { return "presence:" + room + ":" + user }

func onlineKey(room string) string { return "online:" + room }

func rateKey(room, user string) string { return "ratelimit:" + room + ":" + user }

// ==== recent-message cache ====

// CacheMessage pushes a message onto the room cache, trimming it to the
// configured size. Newest messages sit at the head of the list.
func (r *Redis) CacheMessage(ctx context.Context, room string, msg core.Message) error {
	payload, err := json.Marshal(wireFromMessage(msg))
	if err != nil {
		return fmt.Errorf("marshal cached message: %w", err)
	}

	key := recentKey(room)
	_, err = r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, payload)
		pipe.LTrim(ctx, key, 0, int64(r.cfg.RecentSize-1))
		pipe.Expire(ctx, key, r.cfg.RecentTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache message: %w", err)
	}
	return nil
}

// CachedMessages returns up to limit recent messages, oldest first.
// ok is false when the room has no cache entry.
func (r *Redis) CachedMessages(ctx context.Context, room string, limit int) ([]core.Message, bool, error) {
	raw, err := r.rdb.LRange(ctx, recentKey(room), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, false, fmt.Errorf("read cached messages: %w", err)
	}
	if len(raw) == 0 {
		return nil, false, nil
	}

	messages := make([]core.Message, 0, len(raw))
	for _, item := range raw {
		var wm wireMessage
		if err := json.Unmarshal([]byte(item), &wm); err != nil {
			r.log.Warn().Err(err).Str("room", room).Msg("skip undecodable cached message")
			continue
		}
		messages = append(messages, messageFromWire(wm))
	}

	// List head is newest; flip to chronological.
	for i, j := 0, len(messages)-1; i < j; i, j = i+1, j-1 {
		messages[i], messages[j] = messages[j], messages[i]
	}
	return messages, true, nil
}

// ==== pub/sub ====

// Publish relays a frame to all instances subscribed to the room.
func (r *Redis) Publish(ctx context.Context, frame core.Frame) error {
	frame.Origin = r.cfg.Origin
	payload, err := json.Marshal(wireFromFrame(frame))
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}
	if err := r.rdb.Publish(ctx, channelKey(frame.Room), payload).Err(); err != nil {
		return fmt.Errorf("publish frame: %w", err)
	}
	return nil
}

// Subscribe starts delivery of remote frames for a room.
func (r *Redis) Subscribe(ctx context.Context, room string) error {
	if err := r.pubsub.Subscribe(ctx, channelKey(room)); err != nil {
		return fmt.Errorf("subscribe %s: %w", room, err)
	}
	return nil
}

// Unsubscribe stops delivery of remote frames for a room.
func (r *Redis) Unsubscribe(ctx context.Context, room string) error {
	if err := r.pubsub.Unsubscribe(ctx, channelKey(room)); err != nil {
		return fmt.Errorf("unsubscribe %s: %w", room, err)
	}
	return nil
}

// Frames is the stream of frames published by other instances.
func (r *Redis) Frames() <-chan core.Frame {
	return r.frames
}

// relay pumps pub/sub payloads into the frame channel, dropping frames
// published by this instance. It exits when the subscription closes.
func (r *Redis) relay() {
	for msg := range r.pubsub.Channel() {
		var wf wireFrame
		if err := json.Unmarshal([]byte(msg.Payload), &wf); err != nil {
			r.log.Warn().Err(err).Str("channel", msg.Channel).Msg("skip undecodable frame")
			continue
		}
		if wf.Origin == r.cfg.Origin {
			continue
		}
		select {
		case r.frames <- frameFromWire(wf):
		default:
			r.log.Warn().Str("room", wf.Room).Msg("frame buffer full, dropping")
		}
	}
}

// ==== presence ====

// SetOnline marks a user online in a room until the presence TTL lapses.
func (r *Redis) SetOnline(ctx context.Context, room, user string) error {
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SetEx(ctx, presenceKey(room, user), "online", r.cfg.PresenceTTL)
		pipe.SAdd(ctx, onlineKey(room), user)
		pipe.Expire(ctx, onlineKey(room), r.cfg.PresenceTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set online: %w", err)
	}
	return nil
}

// SetOffline removes a user from a room's online set.
func (r *Redis) SetOffline(ctx context.Context, room, user string) error {
	_, err := r.rdb.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, presenceKey(room, user))
		pipe.SRem(ctx, onlineKey(room), user)
		return nil
	})
	if err != nil {
		return fmt.Errorf("set offline: %w", err)
	}
	return nil
}

// OnlineUsers lists users currently online in a room, sorted for stable
// output.
func (r *Redis) OnlineUsers(ctx context.Context, room string) ([]string, error) {
	users, err := r.rdb.SMembers(ctx, onlineKey(room)).Result()
	if err != nil {
		return nil, fmt.Errorf("list online users: %w", err)
	}
	sort.Strings(users)
	return users, nil
}

// ==== rate limiting ====

// AllowMessage counts a message against the per-room, per-user window
// and reports whether it may be sent. The first message of a window
// arms the window's expiry.
func (r *Redis) AllowMessage(ctx context.Context, room, user string) (bool, time.Duration, error) {
	key := rateKey(room, user)

	count, err := r.rdb.Incr(ctx, key).Result()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit incr: %w", err)
	}
	if count == 1 {
		if err := r.rdb.Expire(ctx, key, r.cfg.RateLimitWindow).Err(); err != nil {
			return false, 0, fmt.Errorf("rate limit expire: %w", err)
		}
	}
	if count <= int64(r.cfg.RateLimitMax) {
		return true, 0, nil
	}

	retryAfter, err := r.rdb.TTL(ctx, key).Result()
	if err != nil || retryAfter < 0 {
		retryAfter = r.cfg.RateLimitWindow
	}
	return false, retryAfter, nil
}

// ==== wire mapping ====

func wireFromMessage(msg core.Message) wireMessage {
	return wireMessage{
		ID:        msg.ID,
		Room:      msg.Room,
		User:      msg.From,
		Text:      msg.Text,
		CreatedAt: msg.CreatedAt,
	}
}

func messageFromWire(wm wireMessage) core.Message {
	return core.Message{
		ID:        wm.ID,
		Room:      wm.Room,
		From:      wm.User,
		Text:      wm.Text,
		CreatedAt: wm.CreatedAt,
	}
}

func wireFromFrame(frame core.Frame) wireFrame {
	wf := wireFrame{
		Origin: frame.Origin,
		Kind:   string(frame.Kind),
		Room:   frame.Room,
		User:   frame.User,
		Online: frame.Online,
	}
	if frame.Kind == core.FrameMessage {
		wm := wireFromMessage(frame.Message)
		wf.Message = &wm
	}
	return wf
}

func frameFromWire(wf wireFrame) core.Frame {
	frame := core.Frame{
		Origin: wf.Origin,
		Kind:   core.FrameKind(wf.Kind),
		Room:   wf.Room,
		User:   wf.User,
		Online: wf.Online,
	}
	if wf.Message != nil {
		frame.Message = messageFromWire(*wf.Message)
	}
	return frame
}
