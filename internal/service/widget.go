package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/steam-achievement-widget/internal/achievement"
	"github.com/steam-achievement-widget/internal/cache"
	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/metrics"
)

// GameProvider is the game platform API as seen by the widget
type GameProvider interface {
	// CurrentGame returns nil when the player is not in a game
	CurrentGame(ctx context.Context, playerKey, playerID string) (*domain.CurrentGame, error)
	Playtime(ctx context.Context, appID, playerKey, playerID string) (string, error)
	UnlockRecords(ctx context.Context, appID, playerKey, playerID, language string) ([]domain.RawUnlockRecord, error)
	Schema(ctx context.Context, appID, playerKey, language string) ([]domain.SchemaAchievement, error)
	HeaderImage(appID string) string
}

// UnlockSink receives newly unlocked achievements
type UnlockSink interface {
	PublishUnlocks(ctx context.Context, events []domain.UnlockEvent) error
}

// ProgressRecorder receives a player's completion after each active refresh
type ProgressRecorder interface {
	RecordProgress(ctx context.Context, playerID string, game domain.CurrentGame, progress domain.Progress) error
}

// UnlockHistory lists stored unlock transitions
type UnlockHistory interface {
	ListUnlocks(ctx context.Context, playerID string, limit int) ([]domain.UnlockHistoryEntry, error)
	CountUnlocks(ctx context.Context, playerID string) (int64, error)
}

// ProgressBoard ranks players of one game by completion
type ProgressBoard interface {
	TopProgress(ctx context.Context, appID string, n int) ([]domain.ProgressEntry, error)
	// PlayerProgress returns domain.ErrPlayerNotFound for players not on the board
	PlayerProgress(ctx context.Context, appID, playerID string) (*domain.ProgressEntry, error)
	GameName(ctx context.Context, appID string) (string, error)
}

// RefreshRequest identifies whose achievements to serve and how
type RefreshRequest struct {
	PlayerID  string
	PlayerKey string
	Language  string
	// Count is how many recent unlocks to return; zero or less means the default
	Count int
}

// refreshOutcome carries what a completed refresh has to publish
type refreshOutcome struct {
	game     domain.CurrentGame
	progress domain.Progress
	newly    []domain.AchievementRecord
	at       time.Time
}

// WidgetService serves the achievement widget
type WidgetService struct {
	provider        GameProvider
	cache           *cache.Store
	config          *config.WidgetConfig
	upstreamTimeout time.Duration
	sinks           []UnlockSink
	recorders       []ProgressRecorder
	history         UnlockHistory
	board           ProgressBoard
	logger          *slog.Logger
}

// NewWidgetService creates a new widget service
func NewWidgetService(
	provider GameProvider,
	store *cache.Store,
	cfg *config.WidgetConfig,
	upstreamTimeout time.Duration,
	logger *slog.Logger,
) *WidgetService {
	return &WidgetService{
		provider:        provider,
		cache:           store,
		config:          cfg,
		upstreamTimeout: upstreamTimeout,
		logger:          logger,
	}
}

// AddUnlockSink registers a receiver for newly unlocked achievements
func (s *WidgetService) AddUnlockSink(sink UnlockSink) {
	s.sinks = append(s.sinks, sink)
}

// AddProgressRecorder registers a receiver for progress updates
func (s *WidgetService) AddProgressRecorder(recorder ProgressRecorder) {
	s.recorders = append(s.recorders, recorder)
}

// SetHistory sets the unlock history store
func (s *WidgetService) SetHistory(history UnlockHistory) {
	s.history = history
}

// SetProgressBoard sets the progress board
func (s *WidgetService) SetProgressBoard(board ProgressBoard) {
	s.board = board
}

// Refresh returns the widget payload for a player, calling upstream only when
// the cached payload has expired
func (s *WidgetService) Refresh(ctx context.Context, req RefreshRequest) (domain.Payload, error) {
	if req.PlayerID == "" {
		return nil, domain.ErrInvalidRequest
	}
	req.Count = s.coerceCount(req.Count)

	// Waiters share this flight, so it must outlive the caller that started it
	flightCtx := context.WithoutCancel(ctx)

	var outcome *refreshOutcome
	payload, err := s.cache.GetOrRefresh(req.PlayerID, func(previous domain.Snapshot, now time.Time) (domain.Payload, domain.Snapshot, error) {
		p, snapshot, o, err := s.refresh(flightCtx, req, previous, now)
		if err != nil {
			metrics.Refresh("error")
			return nil, domain.Snapshot{}, err
		}
		outcome = o
		return p, snapshot, nil
	})
	if err != nil {
		return nil, fmt.Errorf("refreshing player %s: %w", req.PlayerID, err)
	}

	// Only the caller that ran the refresh publishes its results
	if outcome != nil {
		s.publish(flightCtx, req.PlayerID, outcome)
	}

	return payload, nil
}

// refresh runs the full upstream sequence for one player
func (s *WidgetService) refresh(ctx context.Context, req RefreshRequest, previous domain.Snapshot, now time.Time) (domain.Payload, domain.Snapshot, *refreshOutcome, error) {
	game, err := callUpstream(ctx, s.upstreamTimeout, "current game", func(ctx context.Context) (*domain.CurrentGame, error) {
		return s.provider.CurrentGame(ctx, req.PlayerKey, req.PlayerID)
	})
	if err != nil {
		return nil, domain.Snapshot{}, nil, err
	}

	if game == nil {
		metrics.Refresh("idle")
		s.logger.Debug("player is idle", "player_id", req.PlayerID)
		// Keep the baseline so unlocks made before going idle are still detected
		return domain.NewIdlePayload(s.config.IdleMessage), previous, nil, nil
	}

	var (
		playtime string
		raw      []domain.RawUnlockRecord
		schema   []domain.SchemaAchievement
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		playtime, err = callUpstream(gctx, s.upstreamTimeout, "playtime", func(ctx context.Context) (string, error) {
			return s.provider.Playtime(ctx, game.AppID, req.PlayerKey, req.PlayerID)
		})
		return err
	})
	g.Go(func() error {
		var err error
		raw, err = callUpstream(gctx, s.upstreamTimeout, "unlock records", func(ctx context.Context) ([]domain.RawUnlockRecord, error) {
			return s.provider.UnlockRecords(ctx, game.AppID, req.PlayerKey, req.PlayerID, req.Language)
		})
		return err
	})
	g.Go(func() error {
		var err error
		schema, err = callUpstream(gctx, s.upstreamTimeout, "schema", func(ctx context.Context) ([]domain.SchemaAchievement, error) {
			return s.provider.Schema(ctx, game.AppID, req.PlayerKey, req.Language)
		})
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, domain.Snapshot{}, nil, err
	}

	records := achievement.Normalize(raw, schema)
	classified := achievement.Classify(records)
	newly := achievement.DetectNewlyUnlocked(previous.BaselineFor(game.AppID), records)
	progress := classified.Progress()

	payload := domain.ActivePayload{
		Active: true,
		AppID:  game.AppID,
		Game: domain.GameInfo{
			Name:       game.GameName,
			Image:      s.provider.HeaderImage(game.AppID),
			TimePlayed: playtime,
		},
		Progress:                 progress,
		LastAchievements:         classified.Recent(req.Count),
		NewAchievements:          newly,
		BlockedAchievementsCount: len(classified.Locked),
	}

	metrics.Refresh("active")
	metrics.Unlocked(len(newly))
	s.logger.Debug("player refreshed",
		"player_id", req.PlayerID,
		"app_id", game.AppID,
		"unlocked", progress.Unlocked,
		"total", progress.Total,
		"newly_unlocked", len(newly),
	)

	snapshot := domain.Snapshot{AppID: game.AppID, Records: records}
	outcome := &refreshOutcome{game: *game, progress: progress, newly: newly, at: now}
	return payload, snapshot, outcome, nil
}

// publish hands a refresh's results to the registered sinks and recorders.
// Failures are logged and never fail the refresh.
func (s *WidgetService) publish(ctx context.Context, playerID string, outcome *refreshOutcome) {
	if len(outcome.newly) > 0 && len(s.sinks) > 0 {
		events := make([]domain.UnlockEvent, len(outcome.newly))
		for i, rec := range outcome.newly {
			events[i] = domain.UnlockEvent{
				EventID:     uuid.NewString(),
				PlayerID:    playerID,
				AppID:       outcome.game.AppID,
				GameName:    outcome.game.GameName,
				Achievement: rec,
				DetectedAt:  outcome.at,
			}
		}

		for _, sink := range s.sinks {
			sinkCtx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
			if err := sink.PublishUnlocks(sinkCtx, events); err != nil {
				s.logger.Warn("failed to publish unlocks",
					"player_id", playerID,
					"sink", fmt.Sprintf("%T", sink),
					"error", err,
				)
			}
			cancel()
		}
	}

	for _, recorder := range s.recorders {
		recCtx, cancel := context.WithTimeout(ctx, s.upstreamTimeout)
		if err := recorder.RecordProgress(recCtx, playerID, outcome.game, outcome.progress); err != nil {
			s.logger.Warn("failed to record progress",
				"player_id", playerID,
				"recorder", fmt.Sprintf("%T", recorder),
				"error", err,
			)
		}
		cancel()
	}
}

// ListUnlocks returns the newest part of a player's stored unlock history
// together with the total number recorded
func (s *WidgetService) ListUnlocks(ctx context.Context, playerID string, limit int) (*domain.UnlockHistoryPage, error) {
	if s.history == nil {
		return nil, domain.ErrFeatureDisabled
	}
	if playerID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if limit <= 0 || limit > s.config.MaxCount {
		limit = s.config.MaxCount
	}

	entries, err := s.history.ListUnlocks(ctx, playerID, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unlocks: %w", err)
	}
	count, err := s.history.CountUnlocks(ctx, playerID)
	if err != nil {
		return nil, fmt.Errorf("counting unlocks: %w", err)
	}

	return &domain.UnlockHistoryPage{
		PlayerID: playerID,
		Count:    count,
		Unlocks:  entries,
	}, nil
}

// TopProgress returns the most complete players of a game
func (s *WidgetService) TopProgress(ctx context.Context, appID string, n int) (*domain.GameProgress, error) {
	if s.board == nil {
		return nil, domain.ErrFeatureDisabled
	}
	if appID == "" {
		return nil, domain.ErrInvalidRequest
	}
	if n <= 0 || n > s.config.MaxCount {
		n = s.config.MaxCount
	}

	entries, err := s.board.TopProgress(ctx, appID, n)
	if err != nil {
		return nil, fmt.Errorf("getting progress board: %w", err)
	}
	name, err := s.board.GameName(ctx, appID)
	if err != nil {
		return nil, fmt.Errorf("getting progress board: %w", err)
	}

	return &domain.GameProgress{
		AppID:    appID,
		GameName: name,
		Entries:  entries,
	}, nil
}

// PlayerProgress returns one player's place on a game's progress board
func (s *WidgetService) PlayerProgress(ctx context.Context, appID, playerID string) (*domain.ProgressEntry, error) {
	if s.board == nil {
		return nil, domain.ErrFeatureDisabled
	}
	if appID == "" || playerID == "" {
		return nil, domain.ErrInvalidRequest
	}

	entry, err := s.board.PlayerProgress(ctx, appID, playerID)
	if err != nil {
		return nil, fmt.Errorf("getting player progress: %w", err)
	}
	return entry, nil
}

// LatestPayload returns the last payload served for a player, however old,
// without calling upstream
func (s *WidgetService) LatestPayload(playerID string) (domain.Payload, time.Time, bool) {
	entry, ok := s.cache.Latest(playerID)
	if !ok {
		return nil, time.Time{}, false
	}
	return entry.Payload, entry.LastUpdateAt, true
}

// CachedPlayers returns the number of players held in the cache
func (s *WidgetService) CachedPlayers() int {
	return s.cache.Len()
}

// ErrorMessage returns the generic message served on failure
func (s *WidgetService) ErrorMessage() string {
	return s.config.ErrorMessage
}

// coerceCount applies the default and maximum recent-unlock count
func (s *WidgetService) coerceCount(n int) int {
	if n <= 0 {
		n = s.config.DefaultCount
	}
	if s.config.MaxCount > 0 && n > s.config.MaxCount {
		n = s.config.MaxCount
	}
	return n
}

// callUpstream runs fn with a bounded timeout. A timeout, and any error not
// already classified, becomes an UpstreamError.
func callUpstream[T any](ctx context.Context, timeout time.Duration, op string, fn func(context.Context) (T, error)) (T, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	type result struct {
		value T
		err   error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{value: v, err: err}
	}()

	var zero T
	select {
	case <-ctx.Done():
		return zero, &domain.UpstreamError{Op: op, Err: ctx.Err()}
	case r := <-done:
		if r.err == nil {
			return r.value, nil
		}
		if errors.Is(r.err, domain.ErrUpstream) || errors.Is(r.err, domain.ErrPlayerNotFound) {
			return zero, r.err
		}
		return zero, &domain.UpstreamError{Op: op, Err: r.err}
	}
}
