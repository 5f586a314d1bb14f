package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/chatwave/chatwave-server/internal/store"
)

const (
	messagesCollection = "messages"
	usersCollection    = "users"
)

// MongoStore implements store.Store backed by MongoDB.
type MongoStore struct {
	client *mongo.Client
	db     *mongo.Database
}

type messageDoc struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	Room      string             `bson:"room"`
	Username  string             `bson:"username"`
	Content   string             `bson:"content"`
	CreatedAt time.Time          `bson:"created_at"`
}

type userDoc struct {
	ID           primitive.ObjectID `bson:"_id,omitempty"`
	Username     string             `bson:"username"`
	PasswordHash string             `bson:"password_hash"`
	IsGuest      bool               `bson:"is_guest"`
	SessionID    string             `bson:"session_id,omitempty"`
	CreatedAt    time.Time          `bson:"created_at"`
}

// New connects to MongoDB, verifies the connection and ensures indexes.
func New(ctx context.Context, uri, dbName string) (*MongoStore, error) {
	if uri == "" {
		return nil, errors.New("mongo uri is required")
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ping mongo: %w", err)
	}

	s := &MongoStore{client: client, db: client.Database(dbName)}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("ensure indexes: %w", err)
	}

	return s, nil
}

func (s *MongoStore) ensureIndexes(ctx context.Context) error {
	messages := s.db.Collection(messagesCollection)
	_, err := messages.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "room", Value: 1}, {Key: "_id", Value: -1}},
	})
	if err != nil {
		return fmt.Errorf("messages index: %w", err)
	}

	users := s.db.Collection(usersCollection)
	_, err = users.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "username", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "session_id", Value: 1}},
			Options: options.Index().SetSparse(true),
		},
	})
	if err != nil {
		return fmt.Errorf("users indexes: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

// Close disconnects from MongoDB.
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// ==== MessageStore implementation ====

// SaveMessage persists a message and fills in its ID and timestamp.
func (s *MongoStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	doc := messageDoc{
		Room:      msg.Room,
		Username:  msg.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt,
	}

	res, err := s.db.Collection(messagesCollection).InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("insert message: %w", err)
	}

	oid, ok := res.InsertedID.(primitive.ObjectID)
	if !ok {
		return fmt.Errorf("unexpected inserted id type %T", res.InsertedID)
	}
	msg.ID = oid.Hex()
	return nil
}

// ListMessages retrieves the newest messages of a room in chronological order.
func (s *MongoStore) ListMessages(ctx context.Context, room string, limit int, beforeID string) ([]*store.Message, error) {
	filter := bson.M{"room": room}
	if beforeID != "" {
		oid, err := primitive.ObjectIDFromHex(beforeID)
		if err != nil {
			return nil, fmt.Errorf("%w: %q", store.ErrInvalidCursor, beforeID)
		}
		filter["_id"] = bson.M{"$lt": oid}
	}

	opts := options.Find().
		SetSort(bson.D{{Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := s.db.Collection(messagesCollection).Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find messages: %w", err)
	}

	var docs []messageDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode messages: %w", err)
	}

	// Query returns newest first; flip to chronological.
	messages := make([]*store.Message, len(docs))
	for i, doc := range docs {
		messages[len(docs)-1-i] = &store.Message{
			ID:        doc.ID.Hex(),
			Room:      doc.Room,
			Username:  doc.Username,
			Content:   doc.Content,
			CreatedAt: doc.CreatedAt,
		}
	}
	return messages, nil
}

// DeleteMessage removes a single message scoped to its room.
func (s *MongoStore) DeleteMessage(ctx context.Context, room, id string) error {
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return fmt.Errorf("%w: %q", store.ErrInvalidCursor, id)
	}

	res, err := s.db.Collection(messagesCollection).DeleteOne(ctx, bson.M{"_id": oid, "room": room})
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	if res.DeletedCount == 0 {
		return store.ErrNotFound
	}
	return nil
}

// ==== UserStore implementation ====

// CreateUser creates a new user with hashed password.
func (s *MongoStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	doc := userDoc{
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}

	res, err := s.db.Collection(usersCollection).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrExists
		}
		return nil, fmt.Errorf("insert user: %w", err)
	}

	doc.ID = res.InsertedID.(primitive.ObjectID)
	return userFromDoc(doc), nil
}

// CreateGuestUser creates a temporary guest user with session ID.
func (s *MongoStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	doc := userDoc{
		Username:  guestUsername(sessionID),
		IsGuest:   true,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}

	res, err := s.db.Collection(usersCollection).InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, store.ErrExists
		}
		return nil, fmt.Errorf("insert guest user: %w", err)
	}

	doc.ID = res.InsertedID.(primitive.ObjectID)
	return userFromDoc(doc), nil
}

// GetUserByUsername retrieves a user by username.
func (s *MongoStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"username": username})
}

// GetUserBySessionID retrieves a guest user by session ID.
func (s *MongoStore) GetUserBySessionID(ctx context.Context, sessionID string) (*store.User, error) {
	return s.findUser(ctx, bson.M{"session_id": sessionID})
}

func (s *MongoStore) findUser(ctx context.Context, filter bson.M) (*store.User, error) {
	var doc userDoc
	err := s.db.Collection(usersCollection).FindOne(ctx, filter).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return userFromDoc(doc), nil
}

// guestUsername derives a display name from the session ID. Session IDs
// are normally UUIDs but shorter values must not panic.
func guestUsername(sessionID string) string {
	suffix := sessionID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	return "guest_" + suffix
}

func userFromDoc(doc userDoc) *store.User {
	return &store.User{
		ID:           doc.ID.Hex(),
		Username:     doc.Username,
		PasswordHash: doc.PasswordHash,
		IsGuest:      doc.IsGuest,
		SessionID:    doc.SessionID,
		CreatedAt:    doc.CreatedAt,
	}
}
