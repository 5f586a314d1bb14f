package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/chatwave/chatwave-server/internal/core"
)

func newTestFabric(t *testing.T, mr *miniredis.Miniredis, origin string, cfg Config) *Redis {
	t.Helper()

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg.Origin = origin
	fabric := New(rdb, cfg, nil)
	t.Cleanup(func() { _ = fabric.Close() })
	return fabric
}

func TestCacheMessageTrimsToSize(t *testing.T) {
	mr := miniredis.RunT(t)
	fabric := newTestFabric(t, mr, "a", Config{RecentSize: 3})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		err := fabric.CacheMessage(ctx, "general", core.Message{
			ID:   fmt.Sprintf("%024d", i),
			Room: "general",
			From: "alice",
			Text: fmt.Sprintf("msg-%d", i),
		})
		if err != nil {
			t.Fatalf("cache message %d: %v", i, err)
		}
	}

	messages, ok, err := fabric.CachedMessages(ctx, "general", 10)
	if err != nil || !ok {
		t.Fatalf("cached messages: ok=%v err=%v", ok, err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 cached messages, got %d", len(messages))
	}
	// Oldest of the retained window first.
	if messages[0].Text != "msg-2" || messages[2].Text != "msg-4" {
		t.Fatalf("unexpected order: %+v", messages)
	}
}

func TestCachedMessagesMiss(t *testing.T) {
	mr := miniredis.RunT(t)
	fabric := newTestFabric(t, mr, "a", Config{})

	_, ok, err := fabric.CachedMessages(context.Background(), "empty", 10)
	if err != nil {
		t.Fatalf("cached messages: %v", err)
	}
	if ok {
		t.Fatal("expected cache miss for unknown room")
	}
}

func TestCacheExpiry(t *testing.T) {
	mr := miniredis.RunT(t)
	fabric := newTestFabric(t, mr, "a", Config{RecentTTL: time.Hour})
	ctx := context.Background()

	if err := fabric.CacheMessage(ctx, "general", core.Message{Text: "hi"}); err != nil {
		t.Fatalf("cache message: %v", err)
	}

	mr.FastForward(2 * time.Hour)

	_, ok, err := fabric.CachedMessages(ctx, "general", 10)
	if err != nil {
		t.Fatalf("cached messages: %v", err)
	}
	if ok {
		t.Fatal("expected cache entry to expire")
	}
}

func TestPresenceLifecycle(t *testing.T) {
	mr := miniredis.RunT(t)
	fabric := newTestFabric(t, mr, "a", Config{PresenceTTL: 30 * time.Second})
	ctx := context.Background()

	if err := fabric.SetOnline(ctx, "general", "alice"); err != nil {
		t.Fatalf("set online alice: %v", err)
	}
	if err := fabric.SetOnline(ctx, "general", "bob"); err != nil {
		t.Fatalf("set online bob: %v", err)
	}

	users, err := fabric.OnlineUsers(ctx, "general")
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(users) != 2 || users[0] != "alice" || users[1] != "bob" {
		t.Fatalf("unexpected online set: %v", users)
	}

	if err := fabric.SetOffline(ctx, "general", "alice"); err != nil {
		t.Fatalf("set offline: %v", err)
	}
	users, err = fabric.OnlineUsers(ctx, "general")
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(users) != 1 || users[0] != "bob" {
		t.Fatalf("unexpected online set after offline: %v", users)
	}

	// Without refresh, presence lapses.
	mr.FastForward(time.Minute)
	users, err = fabric.OnlineUsers(ctx, "general")
	if err != nil {
		t.Fatalf("online users: %v", err)
	}
	if len(users) != 0 {
		t.Fatalf("expected empty online set, got %v", users)
	}
}

func TestAllowMessageWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	fabric := newTestFabric(t, mr, "a", Config{RateLimitMax: 3, RateLimitWindow: time.Minute})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		allowed, _, err := fabric.AllowMessage(ctx, "general", "alice")
		if err != nil {
			t.Fatalf("allow %d: %v", i, err)
		}
		if !allowed {
			t.Fatalf("message %d unexpectedly limited", i)
		}
	}

	allowed, retryAfter, err := fabric.AllowMessage(ctx, "general", "alice")
	if err != nil {
		t.Fatalf("allow over limit: %v", err)
	}
	if allowed {
		t.Fatal("expected message over limit to be rejected")
	}
	if retryAfter <= 0 || retryAfter > time.Minute {
		t.Fatalf("unexpected retry-after: %v", retryAfter)
	}

	// Separate user in the same room is unaffected.
	allowed, _, err = fabric.AllowMessage(ctx, "general", "bob")
	if err != nil || !allowed {
		t.Fatalf("bob should be allowed, allowed=%v err=%v", allowed, err)
	}

	// Window reset frees the limited user.
	mr.FastForward(2 * time.Minute)
	allowed, _, err = fabric.AllowMessage(ctx, "general", "alice")
	if err != nil || !allowed {
		t.Fatalf("alice should be allowed after reset, allowed=%v err=%v", allowed, err)
	}
}

func TestPublishSkipsOwnOrigin(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newTestFabric(t, mr, "instance-a", Config{})
	receiver := newTestFabric(t, mr, "instance-b", Config{})
	ctx := context.Background()

	if err := publisher.Subscribe(ctx, "general"); err != nil {
		t.Fatalf("subscribe publisher: %v", err)
	}
	if err := receiver.Subscribe(ctx, "general"); err != nil {
		t.Fatalf("subscribe receiver: %v", err)
	}

	// Give both subscriptions time to land.
	time.Sleep(50 * time.Millisecond)

	err := publisher.Publish(ctx, core.Frame{
		Kind:    core.FrameMessage,
		Room:    "general",
		Message: core.Message{Room: "general", From: "alice", Text: "hello"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case frame := <-receiver.Frames():
		if frame.Origin != "instance-a" || frame.Message.Text != "hello" {
			t.Fatalf("unexpected frame: %+v", frame)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("receiver did not get the frame")
	}

	select {
	case frame := <-publisher.Frames():
		t.Fatalf("publisher received its own frame: %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestUnsubscribeStopsDelivery(t *testing.T) {
	mr := miniredis.RunT(t)
	publisher := newTestFabric(t, mr, "instance-a", Config{})
	receiver := newTestFabric(t, mr, "instance-b", Config{})
	ctx := context.Background()

	if err := receiver.Subscribe(ctx, "general"); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := receiver.Unsubscribe(ctx, "general"); err != nil {
		t.Fatalf("unsubscribe: %v", err)
	}
	time.Sleep(50 * time.Millisecond)

	err := publisher.Publish(ctx, core.Frame{
		Kind:    core.FrameMessage,
		Room:    "general",
		Message: core.Message{Room: "general", From: "alice", Text: "hello"},
	})
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	select {
	case frame := <-receiver.Frames():
		t.Fatalf("received frame after unsubscribe: %+v", frame)
	case <-time.After(100 * time.Millisecond):
	}
}
