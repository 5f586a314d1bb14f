package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrExists is returned when a unique constraint is violated.
	ErrExists = errors.New("already exists")
	// ErrInvalidCursor is returned when a pagination cursor cannot be parsed.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// User represents a chat user account.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	IsGuest      bool
	SessionID    string // For guest user session tracking
	CreatedAt    time.Time
}

// Message represents a persisted chat message.
type Message struct {
	ID        string // ObjectID hex, assigned on save
	Room      string
	Username  string
	Content   string
	CreatedAt time.Time
}

// UserStore handles user persistence.
type UserStore interface {
	// CreateUser creates a new user with hashed password.
	CreateUser(ctx context.Context, username, passwordHash string) (*User, error)

	// CreateGuestUser creates a temporary guest user with session ID.
	CreateGuestUser(ctx context.Context, sessionID string) (*User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// GetUserBySessionID retrieves a guest user by session ID.
	GetUserBySessionID(ctx context.Context, sessionID string) (*User, error)
}

// MessageStore handles message persistence.
type MessageStore interface {
	// SaveMessage persists a message and fills in its ID and timestamp.
	SaveMessage(ctx context.Context, msg *Message) error

	// ListMessages retrieves the newest messages of a room, returned in
	// chronological order. beforeID, when non-empty, restricts the result
	// to messages older than that ID.
	ListMessages(ctx context.Context, room string, limit int, beforeID string) ([]*Message, error)

	// DeleteMessage removes a single message scoped to its room.
	DeleteMessage(ctx context.Context, room, id string) error
}

// Store aggregates all storage interfaces.
type Store interface {
	UserStore
	MessageStore

	// Ping verifies the backing database is reachable.
	Ping(ctx context.Context) error

	// Close releases the underlying database connection.
	Close(ctx context.Context) error
}
