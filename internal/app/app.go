package app

import (
	"context"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/chatwave/chatwave-server/internal/auth"
	"github.com/chatwave/chatwave-server/internal/cache"
	"github.com/chatwave/chatwave-server/internal/config"
	"github.com/chatwave/chatwave-server/internal/core"
	"github.com/chatwave/chatwave-server/internal/store"
	"github.com/chatwave/chatwave-server/internal/store/mongo"
	transporthttp "github.com/chatwave/chatwave-server/internal/transport/http"
)

// App wires together storage, cache, core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	hub             *core.Hub
	store           store.Store
	rt              *cache.Redis
	rdb             *redis.Client
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg config.Config, logger *zerolog.Logger) (*App, error) {
	st, err := mongo.New(ctx, cfg.MongoURI, cfg.MongoDB)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("db", cfg.MongoDB).Msg("mongodb connected")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	logger.Info().Str("addr", opts.Addr).Msg("redis connected")

	rt := cache.New(rdb, cache.Config{
		Origin:          uuid.NewString(),
		RecentSize:      cfg.CacheSize,
		RecentTTL:       cfg.CacheTTL,
		PresenceTTL:     cfg.PresenceTTL,
		RateLimitMax:    cfg.RateLimitMax,
		RateLimitWindow: cfg.RateLimitWindow,
	}, logger)

	authService := auth.NewService(st, &auth.JWTConfig{
		Secret:   []byte(cfg.JWTSecret),
		Issuer:   cfg.JWTIssuer,
		Audience: cfg.JWTAudience,
		TTL:      24 * time.Hour,
	})

	hub := core.NewHub(st, rt, core.HubConfig{
		HistoryLimit:    cfg.HistoryLimit,
		MaxMessageLen:   cfg.MessageMaxLen,
		PresenceRefresh: cfg.PresenceTTL / 3,
	}, logger)

	server := transporthttp.NewServer(transporthttp.Deps{
		Hub:   hub,
		Auth:  authService,
		Store: st,
		Mongo: st,
		Redis: rt,
		Log:   logger,
	}, cfg)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		hub:             hub,
		store:           st,
		rt:              rt,
		rdb:             rdb,
		log:             logger,
	}, nil
}

// Run starts the HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	serverErr := make(chan error, 1)

	go a.hub.Run(ctx)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != stdhttp.ErrServerClosed {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	a.log.Info().Str("addr", a.server.Addr).Msg("http server listening")

	select {
	case err := <-serverErr:
		a.cleanup()
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		if err := a.server.Shutdown(shutdownCtx); err != nil {
			a.cleanup()
			return err
		}

		a.cleanup()
		return <-serverErr
	}
}

// cleanup closes cache and database resources.
func (a *App) cleanup() {
	if a.rt != nil {
		if err := a.rt.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close pubsub relay")
		}
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close redis client")
		}
	}
	if a.store != nil {
		closeCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()
		if err := a.store.Close(closeCtx); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
