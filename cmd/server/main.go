package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/redis/go-redis/v9"

	"farmrealm-server/internal/api"
	authapp "farmrealm-server/internal/app/auth"
	"farmrealm-server/internal/app/economy"
	"farmrealm-server/internal/app/peer"
	"farmrealm-server/internal/app/rooms"
	"farmrealm-server/internal/platform/cache"
	"farmrealm-server/internal/platform/config"
	"farmrealm-server/internal/platform/db"
	"farmrealm-server/internal/platform/kv"
	"farmrealm-server/internal/platform/migrate"
	"farmrealm-server/internal/platform/mq"
	"farmrealm-server/internal/platform/observability"
)

func main() {
	ctx := context.Background()
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := observability.NewLogger(cfg.Env)

	pg, err := db.Connect(ctx, cfg.PostgresURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection failed")
	}
	defer pg.Close()

	if _, err := migrate.Up(ctx, pg, cfg.MigrationDir, logger); err != nil {
		logger.Fatal().Err(err).Msg("migrations failed")
	}

	var redisClient *redis.Client
	var stores kv.Factory
	redisClient, err = cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Warn().Err(err).Msg("redis unavailable; room state is process-local and scores are uncached")
		redisClient = nil
		stores = kv.NewMemoryFactory()
	} else {
		defer redisClient.Close()
		stores = kv.NewRedisFactory(redisClient)
	}

	publisher, err := mq.NewPublisher(cfg.NATSURL)
	if err != nil {
		logger.Warn().Err(err).Msg("nats unavailable; using noop publisher")
		publisher = mq.NewNoopPublisher()
	}
	defer publisher.Close()

	authSvc := authapp.NewService(cfg.SharedSecret, cfg.InternalSecret, cfg.TokenTTL)
	econSvc := economy.NewService(pg, redisClient, cfg.ScoresTTL, publisher)
	peerClient := peer.NewClient(cfg.PeerBaseURL, cfg.InternalSecret, cfg.LobbyRoomID, cfg.PeerTimeout)

	system := actor.NewActorSystem()
	registry := rooms.NewRegistry(system, logger, stores, econSvc, peerClient, publisher, rooms.Config{
		LobbyID:          cfg.LobbyRoomID,
		TickInterval:     cfg.TickInterval,
		RequestTimeout:   cfg.ActorRequestLimit,
		WorkTimeout:      cfg.ActorRequestLimit,
		WriteQueueSize:   cfg.WriteQueueSize,
		WriteRetries:     cfg.WriteRetries,
		RealmDuration:    cfg.RealmDuration,
		RealmGrace:       cfg.RealmGrace,
		LobbyWaitTimeout: cfg.LobbyWaitTimeout,
		MessageRate:      cfg.MessageRate,
		MessageBurst:     cfg.MessageBurst,
	})

	ready := func(ctx context.Context) error {
		if err := pg.Ping(ctx); err != nil {
			return err
		}
		if redisClient != nil {
			return redisClient.Ping(ctx).Err()
		}
		return nil
	}
	handler := api.NewHandler(logger, authSvc, registry, ready, cfg.CorsOrigin, cfg.MaxRequestBody)
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      handler.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", cfg.HTTPAddr).Str("lobby", cfg.LobbyRoomID).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	<-sigCh
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("http shutdown failed")
	}
	registry.Shutdown()
	system.Shutdown()
	logger.Info().Int("rooms", registry.Live()).Msg("server stopped")
}
