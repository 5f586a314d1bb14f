package core

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chatwave/chatwave-server/internal/store"
)

func mustEvent(t *testing.T, ch <-chan *Event, kind EventKind) *Event {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		select {
		case ev := <-ch:
			if ev == nil {
				continue
			}
			if ev.Kind == kind {
				return ev
			}
		default:
			time.Sleep(10 * time.Millisecond)
		}
	}
	t.Fatalf("expected event kind %v not received", kind)
	return nil
}

// fakeRealtime is an in-memory Realtime for hub tests.
type fakeRealtime struct {
	mu sync.Mutex

	cached      map[string][]Message
	published   []Frame
	frames      chan Frame
	online      map[string]map[string]struct{}
	onlineCalls map[string]int
	onlineErrs  map[string]error

	allow      bool
	retryAfter time.Duration
}

func newFakeRealtime() *fakeRealtime {
	return &fakeRealtime{
		cached:      make(map[string][]Message),
		frames:      make(chan Frame, 16),
		online:      make(map[string]map[string]struct{}),
		onlineCalls: make(map[string]int),
		onlineErrs:  make(map[string]error),
		allow:       true,
	}
}

func (f *fakeRealtime) CacheMessage(_ context.Context, room string, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached[room] = append(f.cached[room], msg)
	return nil
}

func (f *fakeRealtime) CachedMessages(_ context.Context, room string, limit int) ([]Message, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	msgs, ok := f.cached[room]
	if !ok || len(msgs) == 0 {
		return nil, false, nil
	}
	if len(msgs) > limit {
		msgs = msgs[len(msgs)-limit:]
	}
	out := make([]Message, len(msgs))
	copy(out, msgs)
	return out, true, nil
}

func (f *fakeRealtime) Publish(_ context.Context, frame Frame) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.published = append(f.published, frame)
	return nil
}

func (f *fakeRealtime) Subscribe(context.Context, string) error   { return nil }
func (f *fakeRealtime) Unsubscribe(context.Context, string) error { return nil }

func (f *fakeRealtime) Frames() <-chan Frame { return f.frames }

func (f *fakeRealtime) SetOnline(_ context.Context, room, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineCalls[room+"/"+user]++
	if err := f.onlineErrs[room+"/"+user]; err != nil {
		return err
	}
	if f.online[room] == nil {
		f.online[room] = make(map[string]struct{})
	}
	f.online[room][user] = struct{}{}
	return nil
}

func (f *fakeRealtime) setOnlineCount(room, user string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.onlineCalls[room+"/"+user]
}

func (f *fakeRealtime) failSetOnline(room, user string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onlineErrs[room+"/"+user] = err
}

func (f *fakeRealtime) SetOffline(_ context.Context, room, user string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.online[room], user)
	return nil
}

func (f *fakeRealtime) OnlineUsers(_ context.Context, room string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]string, 0, len(f.online[room]))
	for user := range f.online[room] {
		users = append(users, user)
	}
	sort.Strings(users)
	return users, nil
}

func (f *fakeRealtime) AllowMessage(context.Context, string, string) (bool, time.Duration, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.allow, f.retryAfter, nil
}

func (f *fakeRealtime) publishedFrames() []Frame {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Frame, len(f.published))
	copy(out, f.published)
	return out
}

// fakeMessageStore is an in-memory store.MessageStore for hub tests.
type fakeMessageStore struct {
	mu       sync.Mutex
	messages []*store.Message
	nextID   int
}

func (f *fakeMessageStore) SaveMessage(_ context.Context, msg *store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	msg.ID = testObjectID(f.nextID)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	stored := *msg
	f.messages = append(f.messages, &stored)
	return nil
}

func (f *fakeMessageStore) ListMessages(_ context.Context, room string, limit int, beforeID string) ([]*store.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var matched []*store.Message
	for _, msg := range f.messages {
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

func (f *fakeMessageStore) DeleteMessage(_ context.Context, room, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, msg := range f.messages {
		if msg.Room == room && msg.ID == id {
			f.messages = append(f.messages[:i], f.messages[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

// testObjectID builds sortable 24-char hex IDs.
func testObjectID(n int) string {
	const hexDigits = "0123456789abcdef"
	id := make([]byte, 24)
	for i := range id {
		id[i] = '0'
	}
	for i := 23; i >= 0 && n > 0; i-- {
		id[i] = hexDigits[n%16]
		n /= 16
	}
	return string(id)
}
