package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/pburglin/EpicSagaBuilder/internal/config"
	"github.com/pburglin/EpicSagaBuilder/internal/handlers"
	"github.com/pburglin/EpicSagaBuilder/internal/logger"
	"github.com/pburglin/EpicSagaBuilder/internal/narration"
	"github.com/pburglin/EpicSagaBuilder/internal/services"
	"github.com/pburglin/EpicSagaBuilder/internal/services/events"
	"github.com/pburglin/EpicSagaBuilder/internal/services/lock"
	"github.com/pburglin/EpicSagaBuilder/internal/session"
	"github.com/pburglin/EpicSagaBuilder/internal/storage"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	log := logger.Setup(cfg)

	log.Info("Starting EpicSagaBuilder API",
		"port", cfg.Port,
		"environment", cfg.Environment,
		"llm_provider", cfg.LLMProvider,
		"model_name", cfg.ModelName)

	completion, err := newCompletionService(cfg, log)
	if err != nil {
		log.Error("Failed to configure completion service", "error", err)
		os.Exit(1)
	}

	// Initialize the model on startup
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := completion.InitModel(ctx, cfg.ModelName); err != nil {
		log.Error("Failed to initialize LLM model", "error", err, "model", cfg.ModelName)
		os.Exit(1)
	}

	store, err := storage.NewSQLStore(cfg.DatabasePath, log)
	if err != nil {
		log.Error("Failed to open database", "error", err, "path", cfg.DatabasePath)
		os.Exit(1)
	}
	log.Info("Database opened", "path", cfg.DatabasePath)

	var (
		cache       services.Cache
		redisClient *redis.Client
		publisher   session.Publisher
		locker      session.Locker
	)
	if cfg.RedisURL != "" {
		redisService, err := services.NewRedisService(cfg.RedisURL, log)
		if err != nil {
			log.Error("Invalid Redis configuration", "error", err)
			os.Exit(1)
		}
		if err := redisService.WaitForConnection(ctx); err != nil {
			log.Error("Failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		log.Info("Redis connection established successfully")

		cache = redisService
		redisClient = redisService.Client()
		publisher = events.NewBroadcaster(redisClient, log)
		owner, _ := os.Hostname()
		locker = lock.NewRedisLocker(redisClient, owner+"-"+uuid.NewString(), cfg.LockTTL, log)
	} else {
		log.Warn("Redis disabled: no realtime events, no cross-replica locking, no leaderboard cache")
	}

	manager := session.NewManager(store, newNarratorFactory(cfg, completion, store, log), publisher, locker, log)
	optimizer := narration.NewOptimizer(completion, narrationConfig(cfg), log)

	handler := handlers.NewRouter(handlers.Dependencies{
		Store:             store,
		Manager:           manager,
		Optimizer:         optimizer,
		Cache:             cache,
		Redis:             redisClient,
		DefaultImageStyle: cfg.DefaultImageStyle,
		Logger:            log,
	})

	server := &http.Server{
		Addr:        ":" + cfg.Port,
		Handler:     handler,
		ReadTimeout: 15 * time.Second,
		// No WriteTimeout: SSE streams and narration responses are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("Server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("Server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Server is shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", "error", err)
	}

	if cache != nil {
		if err := cache.Close(); err != nil {
			log.Error("Error closing Redis connection", "error", err)
		}
	}
	if err := store.Close(); err != nil {
		log.Error("Error closing database", "error", err)
	}

	log.Info("Server exited")
}
