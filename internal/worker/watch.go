package worker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/service"
)

const (
	// maxConcurrentRefreshes bounds how many watched players refresh at once
	maxConcurrentRefreshes = 4

	defaultInterval = 30 * time.Second
)

// Refresher refreshes one player's widget payload
type Refresher interface {
	Refresh(ctx context.Context, req service.RefreshRequest) (domain.Payload, error)
}

// WatchWorker periodically refreshes a fixed set of players so unlocks are
// detected and pushed even when no widget is polling
type WatchWorker struct {
	refresher Refresher
	config    *config.WatchConfig
	playerKey string
	language  string
	logger    *slog.Logger
	stopCh    chan struct{}
	doneCh    chan struct{}
	mu        sync.Mutex
	running   bool
}

// NewWatchWorker creates a new watch worker
func NewWatchWorker(
	refresher Refresher,
	cfg *config.WatchConfig,
	steam *config.SteamConfig,
	logger *slog.Logger,
) *WatchWorker {
	return &WatchWorker{
		refresher: refresher,
		config:    cfg,
		playerKey: steam.APIKey,
		language:  steam.Language,
		logger:    logger,
	}
}

// Start begins the background refresh loop
func (w *WatchWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	// Fresh channels per run so the worker can be restarted after Stop
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.running = true
	stop, done := w.stopCh, w.doneCh
	w.mu.Unlock()

	w.logger.Info("watch worker started",
		"interval", w.interval(),
		"players", len(w.config.Players),
	)

	go w.run(ctx, stop, done)
	return nil
}

// Stop stops the background refresh loop
func (w *WatchWorker) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	stop, done := w.stopCh, w.doneCh
	w.running = false
	w.mu.Unlock()

	close(stop)
	<-done

	w.logger.Info("watch worker stopped")
	return nil
}

func (w *WatchWorker) interval() time.Duration {
	if w.config.Interval <= 0 {
		return defaultInterval
	}
	return w.config.Interval
}

func (w *WatchWorker) run(ctx context.Context, stop <-chan struct{}, done chan struct{}) {
	defer func() {
		w.mu.Lock()
		// A newer run owns running once Start has been called again
		if w.doneCh == done {
			w.running = false
		}
		w.mu.Unlock()
		close(done)
	}()

	w.RunOnce(ctx)

	ticker := time.NewTicker(w.interval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce refreshes every watched player once. Failures are logged per player.
func (w *WatchWorker) RunOnce(ctx context.Context) {
	if len(w.config.Players) == 0 {
		return
	}
	startTime := time.Now()

	var (
		mu     sync.Mutex
		active int
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentRefreshes)
	for _, playerID := range w.config.Players {
		playerID := playerID
		g.Go(func() error {
			payload, err := w.refresher.Refresh(gctx, service.RefreshRequest{
				PlayerID:  playerID,
				PlayerKey: w.playerKey,
				Language:  w.language,
				Count:     w.config.Count,
			})

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failed++
				w.logger.Warn("failed to refresh watched player", "player_id", playerID, "error", err)
				return nil
			}
			if payload.IsActive() {
				active++
			}
			return nil
		})
	}
	g.Wait()

	w.logger.Debug("watch cycle completed",
		"duration", time.Since(startTime),
		"players", len(w.config.Players),
		"active", active,
		"errors", failed,
	)
}

// IsRunning returns whether the worker is currently running
func (w *WatchWorker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}
