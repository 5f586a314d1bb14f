package http

import (
	"context"
	"fmt"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/chatwave/chatwave-server/internal/auth"
	"github.com/chatwave/chatwave-server/internal/config"
	"github.com/chatwave/chatwave-server/internal/core"
	"github.com/chatwave/chatwave-server/internal/store"
)

// memStore is an in-memory store.Store used instead of MongoDB in tests.
type memStore struct {
	mu       sync.Mutex
	seq      int
	users    map[string]*store.User
	sessions map[string]*store.User
	messages []*store.Message
	pingErr  error
}

func newMemStore() *memStore {
	return &memStore{
		users:    make(map[string]*store.User),
		sessions: make(map[string]*store.User),
	}
}

func (m *memStore) nextID() string {
	m.seq++
	return fmt.Sprintf("%024x", m.seq)
}

func (m *memStore) CreateUser(ctx context.Context, username, passwordHash string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[username]; ok {
		return nil, store.ErrExists
	}
	u := &store.User{
		ID:           m.nextID(),
		Username:     username,
		PasswordHash: passwordHash,
		CreatedAt:    time.Now().UTC(),
	}
	m.users[username] = u
	return u, nil
}

func (m *memStore) CreateGuestUser(ctx context.Context, sessionID string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID()
	u := &store.User{
		ID:        id,
		Username:  "guest-" + id[len(id)-6:],
		IsGuest:   true,
		SessionID: sessionID,
		CreatedAt: time.Now().UTC(),
	}
	m.users[u.Username] = u
	m.sessions[sessionID] = u
	return u, nil
}

func (m *memStore) GetUserByUsername(ctx context.Context, username string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[username]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) GetUserBySessionID(ctx context.Context, sessionID string) (*store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.sessions[sessionID]
	if !ok {
		return nil, store.ErrNotFound
	}
	return u, nil
}

func (m *memStore) SaveMessage(ctx context.Context, msg *store.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = m.nextID()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stored := *msg
	m.messages = append(m.messages, &stored)
	return nil
}

func (m *memStore) ListMessages(ctx context.Context, room string, limit int, beforeID string) ([]*store.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if beforeID != "" && len(beforeID) != 24 {
		return nil, store.ErrInvalidCursor
	}
	var matched []*store.Message
	for _, msg := range m.messages {
		if msg.Room != room {
			continue
		}
		if beforeID != "" && msg.ID >= beforeID {
			continue
		}
		matched = append(matched, msg)
	}
	if len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched, nil
}

func (m *memStore) DeleteMessage(ctx context.Context, room, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(id) != 24 {
		return store.ErrInvalidCursor
	}
	for i, msg := range m.messages {
		if msg.Room == room && msg.ID == id {
			m.messages = append(m.messages[:i], m.messages[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memStore) Ping(ctx context.Context) error { return m.pingErr }

func (m *memStore) Close(ctx context.Context) error { return nil }

// stubPinger reports a fixed ping result.
type stubPinger struct {
	err error
}

func (p stubPinger) Ping(ctx context.Context) error { return p.err }

type testEnv struct {
	ts    *httptest.Server
	store *memStore
	auth  *auth.Service
	hub   *core.Hub
}

func testConfig() config.Config {
	return config.Config{
		Addr:              ":0",
		ReadHeaderTimeout: time.Second,
		ShutdownTimeout:   time.Second,
		HistoryLimit:      20,
		HistoryMaxLimit:   100,
		MessageMaxLen:     1000,
		UsernameMaxLen:    50,
		ConnMessageLimit:  120,
		AllowedOrigins:    []string{"*"},
	}
}

func startTestServer(t *testing.T) *testEnv {
	t.Helper()

	st := newMemStore()
	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte("test-secret"),
		Issuer:   "test",
		Audience: "test",
		TTL:      time.Hour,
	})

	cfg := testConfig()
	hub := core.NewHub(st, nil, core.HubConfig{
		HistoryLimit:  cfg.HistoryLimit,
		MaxMessageLen: cfg.MessageMaxLen,
	}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)

	server := NewServer(Deps{
		Hub:   hub,
		Auth:  authService,
		Store: st,
		Mongo: st,
		Redis: stubPinger{},
	}, cfg)

	ts := httptest.NewServer(server.Handler)
	t.Cleanup(ts.Close)

	return &testEnv{ts: ts, store: st, auth: authService, hub: hub}
}
