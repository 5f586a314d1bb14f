package core

import (
	"context"
	"strings"
	"time"

	"github.com/hako/durafmt"
	"github.com/rs/zerolog"

	"github.com/chatwave/chatwave-server/internal/store"
)

// HubConfig tunes hub behavior. Zero values fall back to defaults.
type HubConfig struct {
	// HistoryLimit is the number of messages replayed on room join.
	HistoryLimit int
	// MaxMessageLen caps message text length in runes.
	MaxMessageLen int
	// PresenceRefresh is how often presence TTLs are re-armed for
	// connected clients.
	PresenceRefresh time.Duration
}

const (
	defaultHistoryLimit    = 20
	defaultMaxMessageLen   = 1000
	defaultPresenceRefresh = 10 * time.Second
)

// RoomInfo is a point-in-time view of an occupied room.
type RoomInfo struct {
	Name    string
	Clients int
}

type clientCommand struct {
	client *Client
	cmd    *Command
}

// Hub coordinates clients and rooms. A single goroutine started by Run
// owns all room state; everything else talks to it through channels.
type Hub struct {
	store store.MessageStore
	rt    Realtime
	cfg   HubConfig
	log   zerolog.Logger

	register   chan *Client
	unregister chan *Client
	commands   chan clientCommand
	ingest     chan Message
	snapshots  chan chan []RoomInfo

	rooms   map[string]*Room
	clients map[*Client]struct{}
}

// NewHub creates a new chat hub. Both store and rt may be nil, in which
// case persistence, caching, presence and rate limiting are skipped and
// the hub degrades to local-only fan-out.
func NewHub(st store.MessageStore, rt Realtime, cfg HubConfig, logger *zerolog.Logger) *Hub {
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = defaultMaxMessageLen
	}
	if cfg.PresenceRefresh <= 0 {
		cfg.PresenceRefresh = defaultPresenceRefresh
	}

	log := zerolog.Nop()
	if logger != nil {
		log = *logger
	}

	return &Hub{
		store:      st,
		rt:         rt,
		cfg:        cfg,
		log:        log,
		register:   make(chan *Client, 16),
		unregister: make(chan *Client, 16),
		commands:   make(chan clientCommand, 64),
		ingest:     make(chan Message, 64),
		snapshots:  make(chan chan []RoomInfo),
		rooms:      make(map[string]*Room),
		clients:    make(map[*Client]struct{}),
	}
}

// RegisterClient attaches a client to the hub.
func (h *Hub) RegisterClient(c *Client) {
	h.register <- c
}

// UnregisterClient detaches a client, leaving all its rooms.
func (h *Hub) UnregisterClient(c *Client) {
	h.unregister <- c
}

// Deliver fans out an already persisted message to room subscribers,
// the recent cache and peer instances. Used by the REST message path.
func (h *Hub) Deliver(msg Message) {
	h.ingest <- msg
}

// Snapshot reports occupied rooms and their client counts.
func (h *Hub) Snapshot() []RoomInfo {
	reply := make(chan []RoomInfo, 1)
	h.snapshots <- reply
	return <-reply
}

// Run processes hub traffic until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	var frames <-chan Frame
	if h.rt != nil {
		frames = h.rt.Frames()
	}

	ticker := time.NewTicker(h.cfg.PresenceRefresh)
	defer ticker.Stop()

	for {
		select {
		case c := <-h.register:
			h.addClient(c)
		case c := <-h.unregister:
			h.dropClient(ctx, c)
		case cc := <-h.commands:
			h.handle(ctx, cc.client, cc.cmd)
		case frame := <-frames:
			h.handleFrame(frame)
		case msg := <-h.ingest:
			h.fanOut(ctx, msg)
		case reply := <-h.snapshots:
			reply <- h.snapshot()
		case <-ticker.C:
			h.refreshPresence(ctx)
		case <-ctx.Done():
			return
		}
	}
}

func (h *Hub) addClient(c *Client) {
	if _, exists := h.clients[c]; exists {
		return
	}
	h.clients[c] = struct{}{}

	// Pump the client's command channel into the hub loop.
	go func() {
		for {
			select {
			case cmd := <-c.Commands:
				select {
				case h.commands <- clientCommand{client: c, cmd: cmd}:
				case <-c.done:
					return
				}
			case <-c.done:
				return
			}
		}
	}()
}

func (h *Hub) dropClient(ctx context.Context, c *Client) {
	if _, exists := h.clients[c]; !exists {
		return
	}
	delete(h.clients, c)
	close(c.done)

	for name := range c.Rooms {
		h.removeFromRoom(ctx, c, name)
	}
}

func (h *Hub) handle(ctx context.Context, c *Client, cmd *Command) {
	switch cmd.Kind {
	case CommandJoinRoom:
		h.handleJoin(ctx, c, cmd.Room)
	case CommandLeaveRoom:
		h.handleLeave(ctx, c, cmd.Room)
	case CommandSendRoomMessage:
		h.handleSend(ctx, c, cmd)
	default:
		h.sendEvent(c, &Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "unknown command")})
	}
}

func (h *Hub) handleJoin(ctx context.Context, c *Client, name string) {
	if name == "" {
		h.sendEvent(c, &Event{Kind: EventError, Error: coreError(ErrCodeBadRequest, "room is required")})
		return
	}
	if _, joined := c.Rooms[name]; joined {
		h.sendEvent(c, &Event{Kind: EventError, Room: name, Error: coreError(ErrCodeAlreadyJoined, "already joined")})
		return
	}

	room, exists := h.rooms[name]
	if !exists {
		room = NewRoom(name)
		h.rooms[name] = room
		h.subscribe(ctx, name)
		h.log.Debug().Str("room", name).Msg("room created")
	}
	room.AddClient(c)
	c.Rooms[name] = struct{}{}

	h.setOnline(ctx, name, c.Name)

	messages, source := h.history(ctx, name)
	h.sendEvent(c, &Event{Kind: EventHistory, Room: name, Messages: messages, Source: source})

	online := h.onlineUsers(ctx, name, c.Name)
	joinEvent := &Event{Kind: EventUserJoined, Room: name, User: c.Name, Online: online}
	room.Broadcast(joinEvent)
	h.publish(ctx, Frame{Kind: FrameUserJoined, Room: name, User: c.Name, Online: online})

	h.log.Info().Str("room", name).Str("user", c.Name).Int("occupancy", room.Len()).Msg("client joined room")
}

func (h *Hub) handleLeave(ctx context.Context, c *Client, name string) {
	if _, exists := h.rooms[name]; !exists {
		h.sendEvent(c, &Event{Kind: EventError, Room: name, Error: coreError(ErrCodeRoomNotFound, "room not found")})
		return
	}
	if _, joined := c.Rooms[name]; !joined {
		h.sendEvent(c, &Event{Kind: EventError, Room: name, Error: coreError(ErrCodeNotInRoom, "not in room")})
		return
	}
	h.removeFromRoom(ctx, c, name)
}

func (h *Hub) removeFromRoom(ctx context.Context, c *Client, name string) {
	room, exists := h.rooms[name]
	if !exists {
		return
	}
	if !room.RemoveClient(c) {
		return
	}
	delete(c.Rooms, name)

	h.setOffline(ctx, name, c.Name)

	online := h.onlineUsers(ctx, name)
	leftEvent := &Event{Kind: EventUserLeft, Room: name, User: c.Name, Online: online}
	room.Broadcast(leftEvent)
	h.publish(ctx, Frame{Kind: FrameUserLeft, Room: name, User: c.Name, Online: online})

	if room.Empty() {
		delete(h.rooms, name)
		h.unsubscribe(ctx, name)
		h.log.Debug().Str("room", name).Msg("room removed")
	}
}

func (h *Hub) handleSend(ctx context.Context, c *Client, cmd *Command) {
	name := cmd.Room
	if _, joined := c.Rooms[name]; !joined {
		h.sendEvent(c, &Event{Kind: EventError, Room: name, Error: coreError(ErrCodeNotInRoom, "join the room first")})
		return
	}

	text := strings.TrimSpace(cmd.Message.Text)
	if text == "" {
		h.sendEvent(c, &Event{Kind: EventError, Room: name, Error: coreError(ErrCodeBadRequest, "message text is empty")})
		return
	}
	if runes := []rune(text); len(runes) > h.cfg.MaxMessageLen {
		text = string(runes[:h.cfg.MaxMessageLen])
	}

	if h.rt != nil {
		allowed, retryAfter, err := h.rt.AllowMessage(ctx, name, c.Name)
		if err != nil {
			// Fail open: a broken limiter must not silence the room.
			h.log.Warn().Err(err).Str("room", name).Str("user", c.Name).Msg("rate limit check failed")
		} else if !allowed {
			if retryAfter <= 0 {
				retryAfter = time.Second
			}
			wait := durafmt.Parse(retryAfter.Round(time.Second)).LimitFirstN(1).String()
			h.sendEvent(c, &Event{Kind: EventError, Room: name, Error: coreError(ErrCodeRateLimited, "too many messages, retry in "+wait)})
			return
		}
	}

	msg := Message{
		Room:      name,
		From:      c.Name,
		Text:      text,
		CreatedAt: time.Now().UTC(),
	}

	if h.store != nil {
		stored := &store.Message{
			Room:      msg.Room,
			Username:  msg.From,
			Content:   msg.Text,
			CreatedAt: msg.CreatedAt,
		}
		if err := h.store.SaveMessage(ctx, stored); err != nil {
			h.log.Error().Err(err).Str("room", name).Msg("save message failed")
			h.sendEvent(c, &Event{Kind: EventError, Room: name, Error: coreError(ErrCodeInternal, "message not saved")})
			return
		}
		msg.ID = stored.ID
		msg.CreatedAt = stored.CreatedAt
	}

	h.fanOut(ctx, msg)
}

// fanOut caches, relays and locally broadcasts an already persisted message.
func (h *Hub) fanOut(ctx context.Context, msg Message) {
	if h.rt != nil {
		if err := h.rt.CacheMessage(ctx, msg.Room, msg); err != nil {
			h.log.Warn().Err(err).Str("room", msg.Room).Msg("cache message failed")
		}
		h.publish(ctx, Frame{Kind: FrameMessage, Room: msg.Room, Message: msg})
	}
	if room, exists := h.rooms[msg.Room]; exists {
		room.Broadcast(&Event{Kind: EventRoomMessage, Room: msg.Room, Message: msg})
	}
}

func (h *Hub) handleFrame(frame Frame) {
	room, exists := h.rooms[frame.Room]
	if !exists {
		return
	}

	switch frame.Kind {
	case FrameMessage:
		room.Broadcast(&Event{Kind: EventRoomMessage, Room: frame.Room, Message: frame.Message})
	case FrameUserJoined:
		room.Broadcast(&Event{Kind: EventUserJoined, Room: frame.Room, User: frame.User, Online: frame.Online})
	case FrameUserLeft:
		room.Broadcast(&Event{Kind: EventUserLeft, Room: frame.Room, User: frame.User, Online: frame.Online})
	}
}

// history reads recent messages cache-first, falling back to the store
// and warming the cache in chronological order on a miss.
func (h *Hub) history(ctx context.Context, room string) ([]Message, string) {
	limit := h.cfg.HistoryLimit

	if h.rt != nil {
		messages, ok, err := h.rt.CachedMessages(ctx, room, limit)
		if err != nil {
			h.log.Warn().Err(err).Str("room", room).Msg("read cached history failed")
		} else if ok {
			return messages, HistorySourceCache
		}
	}

	if h.store == nil {
		return nil, HistorySourceDatabase
	}

	stored, err := h.store.ListMessages(ctx, room, limit, "")
	if err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("read stored history failed")
		return nil, HistorySourceDatabase
	}

	messages := make([]Message, 0, len(stored))
	for _, m := range stored {
		msg := MessageFromStore(m)
		messages = append(messages, msg)
		if h.rt != nil {
			if err := h.rt.CacheMessage(ctx, room, msg); err != nil {
				h.log.Warn().Err(err).Str("room", room).Msg("warm cache failed")
			}
		}
	}
	return messages, HistorySourceDatabase
}

func (h *Hub) refreshPresence(ctx context.Context) {
	if h.rt == nil {
		return
	}
	for name, room := range h.rooms {
		for client := range room.clients {
			if err := h.rt.SetOnline(ctx, name, client.Name); err != nil {
				// One failed write must not starve the rest of the room.
				h.log.Warn().Err(err).Str("room", name).Str("user", client.Name).Msg("presence refresh failed")
			}
		}
	}
}

func (h *Hub) snapshot() []RoomInfo {
	infos := make([]RoomInfo, 0, len(h.rooms))
	for name, room := range h.rooms {
		infos = append(infos, RoomInfo{Name: name, Clients: room.Len()})
	}
	return infos
}

func (h *Hub) sendEvent(c *Client, event *Event) {
	select {
	case c.Events <- event:
	default:
		// Drop if slow consumer.
	}
}

func (h *Hub) setOnline(ctx context.Context, room, user string) {
	if h.rt == nil {
		return
	}
	if err := h.rt.SetOnline(ctx, room, user); err != nil {
		h.log.Warn().Err(err).Str("room", room).Str("user", user).Msg("set online failed")
	}
}

func (h *Hub) setOffline(ctx context.Context, room, user string) {
	if h.rt == nil {
		return
	}
	if err := h.rt.SetOffline(ctx, room, user); err != nil {
		h.log.Warn().Err(err).Str("room", room).Str("user", user).Msg("set offline failed")
	}
}

// onlineUsers lists the room's online set. Users passed as must are
// included even if their presence write has not landed yet.
func (h *Hub) onlineUsers(ctx context.Context, room string, must ...string) []string {
	var online []string
	if h.rt != nil {
		users, err := h.rt.OnlineUsers(ctx, room)
		if err != nil {
			h.log.Warn().Err(err).Str("room", room).Msg("list online users failed")
		} else {
			online = users
		}
	}
	for _, user := range must {
		found := false
		for _, existing := range online {
			if existing == user {
				found = true
				break
			}
		}
		if !found {
			online = append(online, user)
		}
	}
	return online
}

func (h *Hub) subscribe(ctx context.Context, room string) {
	if h.rt == nil {
		return
	}
	if err := h.rt.Subscribe(ctx, room); err != nil {
		h.log.Warn().Err(err).Str("room", room).Msg("subscribe failed")
	}
}

func (h *Hub) unsubscribe(ctx context.Context, room string) {
	if h.rt == nil {
		return
	}
	if err := h.rt.Unsubscribe(ctx, room); err != nil {
		h.log.Warn().Err(err).Str("room", room).Msg("unsubscribe failed")
	}
}

func (h *Hub) publish(ctx context.Context, frame Frame) {
	if h.rt == nil {
		return
	}
	if err := h.rt.Publish(ctx, frame); err != nil {
		h.log.Warn().Err(err).Str("room", frame.Room).Msg("publish frame failed")
	}
}

// MessageFromStore converts a persisted message to the domain model.
func MessageFromStore(m *store.Message) Message {
	return Message{
		ID:        m.ID,
		Room:      m.Room,
		From:      m.Username,
		Text:      m.Content,
		CreatedAt: m.CreatedAt,
	}
}
