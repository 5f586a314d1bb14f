package http

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/chatwave/chatwave-server/internal/config"
	"github.com/chatwave/chatwave-server/internal/core"
	"github.com/chatwave/chatwave-server/internal/store"
)

// MessageHandlers provides HTTP handlers for room message endpoints.
type MessageHandlers struct {
	store store.MessageStore
	hub   *core.Hub
	cfg   config.Config
	log   *zerolog.Logger
}

// NewMessageHandlers creates a new message handlers instance.
func NewMessageHandlers(st store.MessageStore, hub *core.Hub, cfg config.Config, logger *zerolog.Logger) *MessageHandlers {
	return &MessageHandlers{
		store: st,
		hub:   hub,
		cfg:   cfg,
		log:   logger,
	}
}

// CreateMessageRequest represents the post message request body.
type CreateMessageRequest struct {
	Username string `json:"username" binding:"required,min=1,max=50"`
	Content  string `json:"content" binding:"required,min=1,max=1000"`
}

// MessageResponse represents a message in API responses.
type MessageResponse struct {
	ID        string `json:"id"`
	Room      string `json:"room"`
	Username  string `json:"username"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// MessagePageResponse represents a page of room history.
type MessagePageResponse struct {
	Room       string            `json:"room"`
	Items      []MessageResponse `json:"items"`
	Count      int               `json:"count"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

// List handles paginated room history.
// GET /api/v1/rooms/:room/messages
func (h *MessageHandlers) List(c *gin.Context) {
	room := c.Param("room")

	limit := h.cfg.HistoryLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = parsed
	}
	if limit > h.cfg.HistoryMaxLimit {
		limit = h.cfg.HistoryMaxLimit
	}

	beforeID := c.Query("before_id")

	messages, err := h.store.ListMessages(c.Request.Context(), room, limit, beforeID)
	if err != nil {
		if errors.Is(err, store.ErrInvalidCursor) {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid before_id cursor"})
			return
		}
		h.log.Error().Err(err).Str("room", room).Msg("failed to list messages")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	items := make([]MessageResponse, 0, len(messages))
	for _, msg := range messages {
		items = append(items, messageResponse(msg))
	}

	resp := MessagePageResponse{
		Room:  room,
		Items: items,
		Count: len(items),
	}
	// Messages are chronological; the oldest item is the cursor for the
	// next (older) page.
	if len(items) == limit {
		resp.NextCursor = items[0].ID
	}

	c.JSON(http.StatusOK, resp)
}

// Create handles posting a message over REST. The message is persisted
// and then handed to the hub so connected WebSocket clients see it too.
// POST /api/v1/rooms/:room/messages
func (h *MessageHandlers) Create(c *gin.Context) {
	room := c.Param("room")

	var req CreateMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.log.Debug().Err(err).Msg("invalid create message request")
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	content := strings.TrimSpace(req.Content)
	if content == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "content must not be blank"})
		return
	}

	msg := &store.Message{
		Room:     room,
		Username: req.Username,
		Content:  content,
	}
	if err := h.store.SaveMessage(c.Request.Context(), msg); err != nil {
		h.log.Error().Err(err).Str("room", room).Msg("failed to save message")
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return
	}

	if h.hub != nil {
		h.hub.Deliver(core.MessageFromStore(msg))
	}

	h.log.Info().Str("room", room).Str("username", req.Username).Msg("message posted")
	c.JSON(http.StatusCreated, messageResponse(msg))
}

// Delete handles removing a message by ID.
// DELETE /api/v1/rooms/:room/messages/:id
func (h *MessageHandlers) Delete(c *gin.Context) {
	room := c.Param("room")
	id := c.Param("id")

	if err := h.store.DeleteMessage(c.Request.Context(), room, id); err != nil {
		switch {
		case errors.Is(err, store.ErrInvalidCursor):
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid message id"})
		case errors.Is(err, store.ErrNotFound):
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "message not found"})
		default:
			h.log.Error().Err(err).Str("room", room).Str("id", id).Msg("failed to delete message")
			c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		}
		return
	}

	c.Status(http.StatusNoContent)
}

func messageResponse(msg *store.Message) MessageResponse {
	return MessageResponse{
		ID:        msg.ID,
		Room:      msg.Room,
		Username:  msg.Username,
		Content:   msg.Content,
		CreatedAt: msg.CreatedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
