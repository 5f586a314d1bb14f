package http

import (
	"context"
	stdhttp "net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"github.com/chatwave/chatwave-server/internal/auth"
	"github.com/chatwave/chatwave-server/internal/config"
	"github.com/chatwave/chatwave-server/internal/core"
	"github.com/chatwave/chatwave-server/internal/store"
)

// Pinger reports reachability of a backing service.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps bundles everything the HTTP layer needs.
type Deps struct {
	Hub   *core.Hub
	Auth  *auth.Service
	Store store.Store
	Mongo Pinger
	Redis Pinger
	Log   *zerolog.Logger
}

// NewServer builds the HTTP server with REST and WebSocket routes.
func NewServer(deps Deps, cfg config.Config) *stdhttp.Server {
	if deps.Log == nil {
		nop := zerolog.Nop()
		deps.Log = &nop
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Log))

	api := NewAPIHandlers(deps.Auth, deps.Log)
	messages := NewMessageHandlers(deps.Store, deps.Hub, cfg, deps.Log)
	system := NewSystemHandlers(deps.Hub, deps.Mongo, deps.Redis, deps.Log)

	r.GET("/health", system.Health)
	r.GET("/info", system.Info)

	r.POST("/api/register", api.Register)
	r.POST("/api/login", api.Login)
	r.POST("/api/guest", api.GuestLogin)

	v1 := r.Group("/api/v1")
	{
		v1.GET("/rooms", system.ListRooms)
		v1.GET("/rooms/:room/messages", messages.List)
		v1.POST("/rooms/:room/messages", messages.Create)
		v1.DELETE("/rooms/:room/messages/:id", AuthMiddleware(deps.Auth, deps.Log), messages.Delete)
	}

	// The WebSocket endpoint hangs off a plain mux: gin's response writer
	// refuses to hijack once the 101 status is written, which breaks the
	// upgrade. Everything else goes through the engine.
	mux := stdhttp.NewServeMux()
	mux.Handle("/ws", NewWSHandler(deps.Hub, deps.Auth, cfg, deps.Log))
	mux.Handle("/", r)

	handler := cors.New(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{stdhttp.MethodGet, stdhttp.MethodPost, stdhttp.MethodDelete, stdhttp.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	return &stdhttp.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
	}
}
