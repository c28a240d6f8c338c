package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/teamhive/signal-relay/config"
	"github.com/teamhive/signal-relay/internal/broadcast"
	"github.com/teamhive/signal-relay/internal/buffer"
	"github.com/teamhive/signal-relay/internal/handlers"
	"github.com/teamhive/signal-relay/internal/membership"
	"github.com/teamhive/signal-relay/internal/middleware"
	"github.com/teamhive/signal-relay/internal/presence"
	"github.com/teamhive/signal-relay/internal/redis"
	"github.com/teamhive/signal-relay/internal/relay"
	"github.com/teamhive/signal-relay/internal/transport"
)

func main() {
	cfg := config.Load()

	if cfg.Environment == "development" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})
	}

	if err := redis.Connect(cfg.Redis); err != nil {
		log.Fatal().Err(err).Msg("failed to connect to Redis")
	}
	defer redis.Close()
	log.Info().Msg("Redis connection established")

	// Presence store: in-process by default, Redis when scaling out.
	var store presence.Store
	if cfg.RedisPresence {
		store = presence.NewRedisStore(redis.GetClient(), cfg.PresenceStaleTime)
	} else {
		store = presence.NewMemoryStore(cfg.PresenceStaleTime)
	}

	members := membership.NewRedisMembers(redis.GetClient())
	ring := buffer.NewRing(cfg.BufferCapacity)
	hub := transport.NewHub()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Push transport is feature-detected from config; "none" leaves
	// clients on the polling fallback alone.
	var push transport.PushChannel
	switch cfg.PushTransport {
	case "redis":
		rc := transport.NewRedisChannel(redis.GetClient(), hub)
		go rc.Run(ctx)
		push = rc
	case "ws":
		push = hub
	default:
		log.Info().Msg("push transport disabled, polling-only mode")
		push = transport.Noop{}
	}

	broadcaster := broadcast.New(push, ring)
	signalRelay := relay.New(members, store, broadcaster)

	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	router.Use(handlers.OriginFilter(cfg.AllowedOrigins))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	auth := middleware.JWTAuth(cfg.JWTSecret)

	apiGroup := router.Group("/api")
	{
		apiGroup.POST("/auth/login", handlers.Login(cfg.JWTSecret))

		apiGroup.POST("/rooms", auth, handlers.CreateRoom(members))
		apiGroup.GET("/rooms/:roomId", handlers.GetRoom(members, store))
		apiGroup.POST("/rooms/:roomId/join", auth, handlers.JoinRoom(members))
		apiGroup.DELETE("/rooms/:roomId", auth, handlers.DeleteRoom(members, ring))

		apiGroup.POST("/rooms/:roomId/signal", auth, handlers.Signal(signalRelay))
		apiGroup.GET("/rooms/:roomId/events", auth, handlers.PollEvents(signalRelay, members, cfg.PollInterval))
		apiGroup.GET("/rooms/:roomId/participants", auth, handlers.Participants(signalRelay, members))
	}

	wsGroup := router.Group("/ws")
	{
		wsGroup.GET("/rooms/:roomId", handlers.SubscribeFeed(hub, members, cfg.JWTSecret))
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		log.Info().Str("port", cfg.Port).Str("push", cfg.PushTransport).Msg("starting signal relay")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}
}
