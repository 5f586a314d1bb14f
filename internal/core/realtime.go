package core

import (
	"context"
	"time"
)

// FrameKind identifies the payload of a cross-instance frame.
type FrameKind string

const (
	FrameMessage    FrameKind = "message"
	FrameUserJoined FrameKind = "user_joined"
	FrameUserLeft   FrameKind = "user_left"
)

// Frame is an event relayed between server instances through the
// shared message fabric. Origin is stamped by the fabric on publish
// so that an instance never re-broadcasts its own frames.
type Frame struct {
	Origin  string
	Kind    FrameKind
	Room    string
	User    string
	Online  []string
	Message Message
}

// Realtime is the shared fabric backing cross-instance fan-out, the
// recent-message cache, presence tracking and rate limiting. All state
// behind it survives a single server instance.
type Realtime interface {
	// CacheMessage pushes a message onto the room's recent-message cache.
	CacheMessage(ctx context.Context, room string, msg Message) error

	// CachedMessages returns up to limit recent messages in chronological
	// order. ok is false on a cache miss.
	CachedMessages(ctx context.Context, room string, limit int) (msgs []Message, ok bool, err error)

	// Publish relays a frame to all other server instances.
	Publish(ctx context.Context, frame Frame) error

	// Subscribe starts delivery of remote frames for a room.
	Subscribe(ctx context.Context, room string) error

	// Unsubscribe stops delivery of remote frames for a room.
	Unsubscribe(ctx context.Context, room string) error

	// Frames is the stream of remote frames from other instances.
	Frames() <-chan Frame

	// SetOnline marks a user online in a room until the presence TTL lapses.
	SetOnline(ctx context.Context, room, user string) error

	// SetOffline removes a user from a room's online set.
	SetOffline(ctx context.Context, room, user string) error

	// OnlineUsers lists users currently online in a room.
	OnlineUsers(ctx context.Context, room string) ([]string, error)

	// AllowMessage reports whether a user may send another message in the
	// room, and if not, how long until the window resets.
	AllowMessage(ctx context.Context, room, user string) (allowed bool, retryAfter time.Duration, err error)
}
