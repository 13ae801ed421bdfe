package postgres

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
)

// Repository stores the history of detected unlocks
type Repository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
	now    func() time.Time
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *slog.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return NewRepositoryWithPool(pool, logger), nil
}

// NewRepositoryWithPool creates a repository on an existing pool
func NewRepositoryWithPool(pool *pgxpool.Pool, logger *slog.Logger) *Repository {
	return &Repository{
		pool:   pool,
		logger: logger,
		now:    time.Now,
	}
}

// Close closes the database connection pool
func (r *Repository) Close() {
	r.pool.Close()
}

// Ping checks the connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.pool.Ping(ctx)
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS achievement_unlocks (
			id BIGSERIAL PRIMARY KEY,
			player_id VARCHAR(64) NOT NULL,
			app_id VARCHAR(32) NOT NULL,
			game_name VARCHAR(255) NOT NULL DEFAULT '',
			achievement_id VARCHAR(255) NOT NULL,
			display_name VARCHAR(255) NOT NULL DEFAULT '',
			image TEXT NOT NULL DEFAULT '',
			unlock_time BIGINT NOT NULL DEFAULT 0,
			recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE(player_id, app_id, achievement_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_achievement_unlocks_player ON achievement_unlocks(player_id, recorded_at DESC)`,
	}

	for _, migration := range migrations {
		if _, err := r.pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// RecordUnlocks stores unlock events. An unlock already recorded for the same
// player, game and achievement is left as is.
func (r *Repository) RecordUnlocks(ctx context.Context, events []domain.UnlockEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO achievement_unlocks
			(player_id, app_id, game_name, achievement_id, display_name, image, unlock_time, recorded_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (player_id, app_id, achievement_id) DO NOTHING
	`
	for _, event := range events {
		recordedAt := event.DetectedAt
		if recordedAt.IsZero() {
			recordedAt = r.now()
		}
		batch.Queue(query,
			event.PlayerID,
			event.AppID,
			event.GameName,
			event.Achievement.ID,
			event.Achievement.DisplayName,
			event.Achievement.Image,
			event.Achievement.UnlockTime,
			recordedAt,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range events {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("recording unlocks: %w", err)
		}
	}
	return nil
}

// PublishUnlocks records unlock events as history
func (r *Repository) PublishUnlocks(ctx context.Context, events []domain.UnlockEvent) error {
	return r.RecordUnlocks(ctx, events)
}

// ListUnlocks returns a player's recorded unlocks, newest first
func (r *Repository) ListUnlocks(ctx context.Context, playerID string, limit int) ([]domain.UnlockHistoryEntry, error) {
	query := `
		SELECT player_id, app_id, game_name, achievement_id, display_name, image, unlock_time, recorded_at
		FROM achievement_unlocks
		WHERE player_id = $1
		ORDER BY recorded_at DESC, id DESC
		LIMIT $2
	`
	rows, err := r.pool.Query(ctx, query, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unlocks: %w", err)
	}
	defer rows.Close()

	entries := []domain.UnlockHistoryEntry{}
	for rows.Next() {
		var entry domain.UnlockHistoryEntry
		err := rows.Scan(
			&entry.PlayerID,
			&entry.AppID,
			&entry.GameName,
			&entry.AchievementID,
			&entry.DisplayName,
			&entry.Image,
			&entry.UnlockTime,
			&entry.RecordedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scanning unlock: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing unlocks: %w", err)
	}
	return entries, nil
}

// CountUnlocks returns how many unlocks are recorded for a player across all games
func (r *Repository) CountUnlocks(ctx context.Context, playerID string) (int64, error) {
	query := `SELECT COUNT(*) FROM achievement_unlocks WHERE player_id = $1`
	var count int64
	if err := r.pool.QueryRow(ctx, query, playerID).Scan(&count); err != nil {
		return 0, fmt.Errorf("counting unlocks: %w", err)
	}
	return count, nil
}
