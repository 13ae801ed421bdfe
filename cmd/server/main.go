package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/steam-achievement-widget/internal/cache"
	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/handler"
	"github.com/steam-achievement-widget/internal/kafka"
	"github.com/steam-achievement-widget/internal/postgres"
	"github.com/steam-achievement-widget/internal/redis"
	"github.com/steam-achievement-widget/internal/service"
	"github.com/steam-achievement-widget/internal/steam"
	"github.com/steam-achievement-widget/internal/websocket"
	"github.com/steam-achievement-widget/internal/worker"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	if cfg.Steam.APIKey == "" {
		logger.Warn("no Steam API key configured, requests must pass steamkey")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	steamClient := steam.NewClient(&cfg.Steam, logger)
	store := cache.NewStore(cfg.Cache.TTL, cache.SystemClock, logger)
	widgetService := service.NewWidgetService(
		steamClient,
		store,
		&cfg.Widget,
		cfg.Steam.RequestTimeout,
		logger,
	)

	wsHub := websocket.NewHub(logger)
	wsHub.SetStateSource(widgetService)
	go wsHub.Run()
	widgetService.AddUnlockSink(wsHub)
	widgetService.AddProgressRecorder(wsHub)
	logger.Info("WebSocket hub initialized")

	httpHandler := handler.NewHandler(widgetService, wsHub, cfg, logger)

	if cfg.Redis.Enabled {
		logger.Info("connecting to Redis", "addr", cfg.Redis.Addr)
		board, err := redis.NewProgressBoard(&cfg.Redis, logger)
		if err != nil {
			logger.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer board.Close()
		widgetService.AddProgressRecorder(board)
		widgetService.SetProgressBoard(board)
		httpHandler.AddReadinessCheck("redis", board.Ping)
		logger.Info("connected to Redis")
	}

	if cfg.Postgres.Enabled {
		logger.Info("connecting to PostgreSQL", "host", cfg.Postgres.Host, "database", cfg.Postgres.Database)
		repo, err := postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()

		if err := repo.RunMigrations(ctx); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
		widgetService.AddUnlockSink(repo)
		widgetService.SetHistory(repo)
		httpHandler.AddReadinessCheck("postgres", repo.Ping)
		logger.Info("connected to PostgreSQL")
	}

	var producer *kafka.Producer
	if cfg.Kafka.Enabled {
		producer, err = kafka.NewProducer(&cfg.Kafka, logger)
		if err != nil {
			logger.Warn("failed to create Kafka producer, continuing without Kafka", "error", err)
		} else {
			widgetService.AddUnlockSink(producer)
		}
	}

	watchWorker := worker.NewWatchWorker(widgetService, &cfg.Watch, &cfg.Steam, logger)
	if cfg.Watch.Enabled {
		if err := watchWorker.Start(ctx); err != nil {
			logger.Error("failed to start watch worker", "error", err)
			os.Exit(1)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      httpHandler.Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting HTTP server",
			"port", cfg.Server.Port,
			"cache_ttl", store.TTL(),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := watchWorker.Stop(); err != nil {
		logger.Error("failed to stop watch worker", "error", err)
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to shutdown server", "error", err)
	}

	wsHub.Stop()

	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("failed to close Kafka producer", "error", err)
		}
	}

	logger.Info("server stopped")
}
