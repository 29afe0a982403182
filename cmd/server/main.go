package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/syncbridge/replica-server-go/internal/config"
	"github.com/syncbridge/replica-server-go/internal/database"
	"github.com/syncbridge/replica-server-go/internal/handler"
	"github.com/syncbridge/replica-server-go/internal/importer"
	"github.com/syncbridge/replica-server-go/internal/jobs"
	"github.com/syncbridge/replica-server-go/internal/middleware"
	"github.com/syncbridge/replica-server-go/internal/redis"
	"github.com/syncbridge/replica-server-go/internal/repository"
	"github.com/syncbridge/replica-server-go/internal/schema"
	"github.com/syncbridge/replica-server-go/internal/service"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	setLogLevel(cfg.LogLevel)

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	if err := db.Ping(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to ping database")
	}
	cancel()
	log.Info().Msg("database connected")

	redisClient, err := redis.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to redis")
	}
	defer redisClient.Close()
	log.Info().Msg("redis connected")

	connectionRepo := repository.NewConnectionRepository(db.DB)
	transferRepo := repository.NewTransferRepository(db.DB)
	settings := repository.NewSettingsStore(db.DB)

	inspector := schema.NewInspector(db.DB)
	engine := importer.NewEngine(db.DB, inspector)

	// Page size prefers the stored setting; the env default covers a fresh
	// settings table.
	settingsCtx, settingsCancel := context.WithTimeout(context.Background(), config.DBPingTimeout)
	pageSize := settings.GetInt(settingsCtx, repository.SettingDefaultPageSize, cfg.DefaultPageSize)
	settingsCancel()

	connectionService := service.NewConnectionService(connectionRepo, settings)
	transferService := service.NewTransferService(transferRepo, connectionRepo, settings, cfg.ApprovalWindowHours)
	sessionBroker := service.NewSessionBroker()

	transport := redis.NewTransport(redisClient, cfg.NodeName)
	channelClient := service.NewChannelClient(transport, cfg.NodeName, cfg.ChannelTimeout())
	responder := service.NewResponder(transport, db.DB, inspector, connectionService, sessionBroker, pageSize)
	replicator := service.NewReplicator(transferService, channelClient, inspector, engine, pageSize)

	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go func() {
		if err := channelClient.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("channel client stopped")
		}
	}()
	go func() {
		if err := responder.Run(runCtx); err != nil && runCtx.Err() == nil {
			log.Error().Err(err).Msg("channel responder stopped")
		}
	}()

	authMiddleware := middleware.NewPeerAuthMiddleware(connectionService)
	rateLimitMiddleware := middleware.NewRedisRateLimitMiddleware(redisClient.Client, cfg.DefaultRateLimitPerMin)

	adminHandler := handler.NewAdminHandler(connectionService, transferService, sessionBroker)
	peerHandler := handler.NewPeerHandler(
		connectionService, responder,
		authMiddleware.Handler, rateLimitMiddleware.Handler,
	)
	transferHandler := handler.NewTransferRunHandler(transferService, replicator)

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]any{
			"status":    "ok",
			"node":      cfg.NodeName,
			"timestamp": time.Now().UnixMilli(),
		})
	})

	r.Route("/api", func(r chi.Router) {
		r.Mount("/", adminHandler.Routes())
		r.Mount("/runs", transferHandler.Routes())
	})

	r.Route("/peer", func(r chi.Router) {
		r.Mount("/", peerHandler.Routes())
	})

	sweepJob := jobs.NewSweepJob(transferService, connectionRepo, sessionBroker, config.SweepJobInterval)
	sweepJob.Start()
	defer sweepJob.Stop()

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      r,
		ReadTimeout:  config.ServerReadTimeout,
		WriteTimeout: 0,
		IdleTimeout:  config.ServerIdleTimeout,
	}

	go func() {
		log.Info().Str("addr", cfg.Addr()).Str("node", cfg.NodeName).Msg("starting server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), config.ServerShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

func setLogLevel(level string) {
	switch level {
	case "debug":
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	case "info":
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	case "warn":
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	case "error":
		zerolog.SetGlobalLevel(zerolog.ErrorLevel)
	default:
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
}
