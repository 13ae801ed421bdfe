package redis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
)

// ProgressBoard ranks the players of each game by completion percentage
type ProgressBoard struct {
	client *redis.Client
	logger *slog.Logger
}

// NewProgressBoard connects to Redis and creates a progress board
func NewProgressBoard(cfg *config.RedisConfig, logger *slog.Logger) (*ProgressBoard, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return NewProgressBoardWithClient(client, logger), nil
}

// NewProgressBoardWithClient creates a progress board on an existing client
func NewProgressBoardWithClient(client *redis.Client, logger *slog.Logger) *ProgressBoard {
	return &ProgressBoard{
		client: client,
		logger: logger,
	}
}

// Close closes the Redis connection
func (b *ProgressBoard) Close() error {
	return b.client.Close()
}

// Ping checks the connection
func (b *ProgressBoard) Ping(ctx context.Context) error {
	return b.client.Ping(ctx).Err()
}

// progressKey returns the Redis key for a game's sorted set
func progressKey(appID string) string {
	return fmt.Sprintf("progress:%s", appID)
}

// metaKey returns the Redis key for a game's metadata
func metaKey(appID string) string {
	return fmt.Sprintf("progress:%s:meta", appID)
}

// RecordProgress stores a player's completion percentage for a game
func (b *ProgressBoard) RecordProgress(ctx context.Context, playerID string, game domain.CurrentGame, progress domain.Progress) error {
	if game.AppID == "" {
		return nil
	}

	pipe := b.client.Pipeline()
	pipe.ZAdd(ctx, progressKey(game.AppID), redis.Z{
		Score:  float64(progress.Percentage),
		Member: playerID,
	})
	if game.GameName != "" {
		pipe.HSet(ctx, metaKey(game.AppID), "game_name", game.GameName, "total", progress.Total)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("recording progress: %w", err)
	}
	return nil
}

// TopProgress returns the n most complete players of a game (descending order)
func (b *ProgressBoard) TopProgress(ctx context.Context, appID string, n int) ([]domain.ProgressEntry, error) {
	results, err := b.client.ZRevRangeWithScores(ctx, progressKey(appID), 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("getting top progress: %w", err)
	}

	entries := make([]domain.ProgressEntry, len(results))
	for i, result := range results {
		entries[i] = domain.ProgressEntry{
			Rank:       int64(i + 1),
			PlayerID:   result.Member.(string),
			Percentage: int(result.Score),
		}
	}
	return entries, nil
}

// PlayerProgress returns a player's rank and percentage for a game
func (b *ProgressBoard) PlayerProgress(ctx context.Context, appID, playerID string) (*domain.ProgressEntry, error) {
	key := progressKey(appID)

	pipe := b.client.Pipeline()
	rankCmd := pipe.ZRevRank(ctx, key, playerID)
	scoreCmd := pipe.ZScore(ctx, key, playerID)
	if _, err := pipe.Exec(ctx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrPlayerNotFound
		}
		return nil, fmt.Errorf("getting player progress: %w", err)
	}

	return &domain.ProgressEntry{
		Rank:       rankCmd.Val() + 1,
		PlayerID:   playerID,
		Percentage: int(scoreCmd.Val()),
	}, nil
}

// GameName returns the stored name of a game, or "" when unknown
func (b *ProgressBoard) GameName(ctx context.Context, appID string) (string, error) {
	name, err := b.client.HGet(ctx, metaKey(appID), "game_name").Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("getting game name: %w", err)
	}
	return name, nil
}
