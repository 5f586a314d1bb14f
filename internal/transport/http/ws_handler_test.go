package http

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/chatwave/chatwave-server/internal/proto"
)

type outboundFrame struct {
	Type  string          `json:"type"`
	Event string          `json:"event,omitempty"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *proto.Error    `json:"error,omitempty"`
}

func dialWS(ctx context.Context, t *testing.T, env *testEnv) *websocket.Conn {
	t.Helper()

	wsURL := strings.Replace(env.ts.URL, "http", "ws", 1) + "/ws"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "done") })
	return conn
}

func sendInbound(ctx context.Context, t *testing.T, conn *websocket.Conn, typ string, data any) {
	t.Helper()

	payload, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal %s: %v", typ, err)
	}
	if err := wsjson.Write(ctx, conn, proto.Inbound{Type: typ, Data: payload}); err != nil {
		t.Fatalf("write %s: %v", typ, err)
	}
}

func readFrame(ctx context.Context, t *testing.T, conn *websocket.Conn) outboundFrame {
	t.Helper()

	var frame outboundFrame
	if err := wsjson.Read(ctx, conn, &frame); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return frame
}

func expectEvent(ctx context.Context, t *testing.T, conn *websocket.Conn, event string) outboundFrame {
	t.Helper()

	frame := readFrame(ctx, t, conn)
	if frame.Type != proto.OutboundTypeEvent || frame.Event != event {
		t.Fatalf("expected event %q, got type=%q event=%q error=%+v", event, frame.Type, frame.Event, frame.Error)
	}
	return frame
}

func TestWebSocketJoinAndMessage(t *testing.T) {
	env := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(ctx, t, env)
	sendInbound(ctx, t, connA, proto.InboundTypeHello, proto.HelloData{User: "alice"})
	sendInbound(ctx, t, connA, proto.InboundTypeJoin, proto.JoinData{Room: "general"})

	frame := expectEvent(ctx, t, connA, "history")
	var history proto.EventHistory
	if err := json.Unmarshal(frame.Data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if history.Room != "general" || len(history.Messages) != 0 {
		t.Fatalf("expected empty history for general, got %+v", history)
	}

	frame = expectEvent(ctx, t, connA, "user_joined")
	var joined proto.EventUserJoined
	if err := json.Unmarshal(frame.Data, &joined); err != nil {
		t.Fatalf("unmarshal user_joined: %v", err)
	}
	if joined.User != "alice" || joined.Room != "general" {
		t.Fatalf("unexpected user_joined payload: %+v", joined)
	}

	connB := dialWS(ctx, t, env)
	sendInbound(ctx, t, connB, proto.InboundTypeHello, proto.HelloData{User: "bob"})
	sendInbound(ctx, t, connB, proto.InboundTypeJoin, proto.JoinData{Room: "general"})

	expectEvent(ctx, t, connB, "history")
	expectEvent(ctx, t, connB, "user_joined")

	frame = expectEvent(ctx, t, connA, "user_joined")
	if err := json.Unmarshal(frame.Data, &joined); err != nil {
		t.Fatalf("unmarshal user_joined: %v", err)
	}
	if joined.User != "bob" {
		t.Fatalf("expected bob to join, got %+v", joined)
	}

	sendInbound(ctx, t, connA, proto.InboundTypeMsg, proto.MsgData{Room: "general", Text: "hi there"})

	for _, conn := range []*websocket.Conn{connA, connB} {
		frame = expectEvent(ctx, t, conn, "message")
		var event proto.EventMessage
		if err := json.Unmarshal(frame.Data, &event); err != nil {
			t.Fatalf("unmarshal message: %v", err)
		}
		if event.User != "alice" || event.Text != "hi there" || event.Room != "general" {
			t.Fatalf("unexpected message payload: %+v", event)
		}
		if event.ID == "" {
			t.Fatal("expected message to carry a persisted ID")
		}
	}
}

func TestWebSocketHistoryReplay(t *testing.T) {
	env := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	connA := dialWS(ctx, t, env)
	sendInbound(ctx, t, connA, proto.InboundTypeHello, proto.HelloData{User: "alice"})
	sendInbound(ctx, t, connA, proto.InboundTypeJoin, proto.JoinData{Room: "general"})
	expectEvent(ctx, t, connA, "history")
	expectEvent(ctx, t, connA, "user_joined")

	sendInbound(ctx, t, connA, proto.InboundTypeMsg, proto.MsgData{Room: "general", Text: "first"})
	expectEvent(ctx, t, connA, "message")
	sendInbound(ctx, t, connA, proto.InboundTypeMsg, proto.MsgData{Room: "general", Text: "second"})
	expectEvent(ctx, t, connA, "message")

	connB := dialWS(ctx, t, env)
	sendInbound(ctx, t, connB, proto.InboundTypeHello, proto.HelloData{User: "bob"})
	sendInbound(ctx, t, connB, proto.InboundTypeJoin, proto.JoinData{Room: "general"})

	frame := expectEvent(ctx, t, connB, "history")
	var history proto.EventHistory
	if err := json.Unmarshal(frame.Data, &history); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if len(history.Messages) != 2 {
		t.Fatalf("expected 2 messages in history, got %d", len(history.Messages))
	}
	if history.Messages[0].Text != "first" || history.Messages[1].Text != "second" {
		t.Fatalf("expected chronological history, got %+v", history.Messages)
	}
}

func TestWebSocketTokenIdentity(t *testing.T) {
	env := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	token, err := env.auth.Register(ctx, "carol", "secret123")
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	conn := dialWS(ctx, t, env)
	// The display name in hello is ignored when a valid token is present.
	sendInbound(ctx, t, conn, proto.InboundTypeHello, proto.HelloData{User: "impostor", Token: token})
	sendInbound(ctx, t, conn, proto.InboundTypeJoin, proto.JoinData{Room: "general"})

	expectEvent(ctx, t, conn, "history")
	frame := expectEvent(ctx, t, conn, "user_joined")
	var joined proto.EventUserJoined
	if err := json.Unmarshal(frame.Data, &joined); err != nil {
		t.Fatalf("unmarshal user_joined: %v", err)
	}
	if joined.User != "carol" {
		t.Fatalf("expected token identity carol, got %q", joined.User)
	}
}

func TestWebSocketRejectsWithoutHello(t *testing.T) {
	env := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, env)
	sendInbound(ctx, t, conn, proto.InboundTypeJoin, proto.JoinData{Room: "general"})

	frame := readFrame(ctx, t, conn)
	if frame.Type != proto.OutboundTypeError || frame.Error == nil {
		t.Fatalf("expected protocol error, got %+v", frame)
	}

	// The server closes the connection after a failed handshake.
	var probe outboundFrame
	if err := wsjson.Read(ctx, conn, &probe); err == nil {
		t.Fatal("expected connection to be closed")
	}
}

func TestWebSocketSendWithoutJoin(t *testing.T) {
	env := startTestServer(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := dialWS(ctx, t, env)
	sendInbound(ctx, t, conn, proto.InboundTypeHello, proto.HelloData{User: "alice"})
	sendInbound(ctx, t, conn, proto.InboundTypeMsg, proto.MsgData{Room: "general", Text: "hello"})

	frame := readFrame(ctx, t, conn)
	if frame.Type != proto.OutboundTypeError || frame.Error == nil || frame.Error.Code != "not_in_room" {
		t.Fatalf("expected not_in_room error, got %+v", frame)
	}
}
