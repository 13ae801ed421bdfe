// Command unlock-tail follows the achievement unlock topic and logs every
// event. With postgres enabled it also records the events as unlock history.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/kafka"
	"github.com/steam-achievement-widget/internal/postgres"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	brokers := flag.String("brokers", "", "Kafka brokers (comma-separated), overrides config")
	topic := flag.String("topic", "", "Kafka topic, overrides config")
	record := flag.Bool("record", false, "Record events in PostgreSQL")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Warn("failed to load config file, using defaults", "error", err)
		cfg = config.DefaultConfig()
	}
	if *brokers != "" {
		cfg.Kafka.Brokers = strings.Split(*brokers, ",")
	}
	if *topic != "" {
		cfg.Kafka.Topic = *topic
	}

	var repo *postgres.Repository
	if *record {
		repo, err = postgres.NewRepository(&cfg.Postgres, logger)
		if err != nil {
			logger.Error("failed to connect to PostgreSQL", "error", err)
			os.Exit(1)
		}
		defer repo.Close()
		if err := repo.RunMigrations(context.Background()); err != nil {
			logger.Error("failed to run migrations", "error", err)
			os.Exit(1)
		}
	}

	handler := kafka.EventHandlerFunc(func(ctx context.Context, event domain.UnlockEvent) error {
		logger.Info("achievement unlocked",
			"event_id", event.EventID,
			"player_id", event.PlayerID,
			"app_id", event.AppID,
			"game", event.GameName,
			"achievement", event.Achievement.DisplayName,
			"unlock_time", event.Achievement.UnlockTime,
			"detected_at", event.DetectedAt,
		)
		if repo == nil {
			return nil
		}
		return repo.RecordUnlocks(ctx, []domain.UnlockEvent{event})
	})

	consumer, err := kafka.NewConsumer(&cfg.Kafka, handler, logger)
	if err != nil {
		logger.Error("failed to create Kafka consumer", "error", err)
		os.Exit(1)
	}
	if err := consumer.Start(); err != nil {
		logger.Error("failed to start Kafka consumer", "error", err)
		os.Exit(1)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	if err := consumer.Stop(); err != nil {
		logger.Error("failed to stop Kafka consumer", "error", err)
	}
	logger.Info("unlock tail stopped")
}
