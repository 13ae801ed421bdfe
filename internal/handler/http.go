package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/service"
	"github.com/steam-achievement-widget/internal/websocket"
)

const readinessTimeout = 2 * time.Second

// ReadinessCheck reports whether a dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Handler provides HTTP handlers for the widget API
type Handler struct {
	service *service.WidgetService
	hub     *websocket.Hub
	steam   config.SteamConfig
	limiter *RateLimiter
	checks  map[string]ReadinessCheck
	logger  *slog.Logger
}

// NewHandler creates a new HTTP handler
func NewHandler(svc *service.WidgetService, hub *websocket.Hub, cfg *config.Config, logger *slog.Logger) *Handler {
	h := &Handler{
		service: svc,
		hub:     hub,
		steam:   cfg.Steam,
		checks:  make(map[string]ReadinessCheck),
		logger:  logger,
	}
	if cfg.RateLimit.Enabled {
		h.limiter = NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	}
	return h
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// APIResponse represents a standard API response
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// Router creates and configures the HTTP router
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(corsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Get("/ready", h.ReadyCheck)
	r.Handle("/metrics", promhttp.Handler())

	r.Get("/ws", h.HandleWebSocket)

	// Widget endpoint, kept at the path existing overlays poll
	r.Group(func(r chi.Router) {
		if h.limiter != nil {
			r.Use(h.limiter.Middleware(PlayerKey, h.rejectRateLimited))
		}
		r.Get("/api/steam/achievements", h.GetAchievements)
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/players/{playerID}/unlocks", h.ListUnlocks)
		r.Get("/games/{appID}/progress", h.GetProgressBoard)
		r.Get("/games/{appID}/progress/{playerID}", h.GetPlayerProgress)
		r.Get("/ws/stats", h.GetWebSocketStats)
	})

	return r
}

// corsMiddleware adds CORS headers
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, X-Request-ID")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to write response", "error", err)
	}
}

// writeSuccess writes a successful JSON response
func (h *Handler) writeSuccess(w http.ResponseWriter, data interface{}) {
	h.writeJSON(w, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
	})
}

// writeError writes an error JSON response
func (h *Handler) writeError(w http.ResponseWriter, status int, err error) {
	h.writeJSON(w, status, APIResponse{
		Success: false,
		Error:   err.Error(),
	})
}

// writeWidgetError writes the widget's failure payload
func (h *Handler) writeWidgetError(w http.ResponseWriter, status int) {
	h.writeJSON(w, status, domain.NewIdlePayload(h.service.ErrorMessage()))
}

func (h *Handler) rejectRateLimited(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Retry-After", "1")
	h.logger.Info("achievement request rejected",
		"player_id", PlayerKey(r),
		"remote_addr", r.RemoteAddr,
		"error", domain.ErrRateLimited,
	)
	h.writeWidgetError(w, widgetStatus(domain.ErrRateLimited))
}

// GetAchievements serves the widget payload for one player
func (h *Handler) GetAchievements(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	req := service.RefreshRequest{
		PlayerID:  q.Get("steamid"),
		PlayerKey: firstNonEmpty(q.Get("steamkey"), h.steam.APIKey),
		Language:  firstNonEmpty(q.Get("lang"), h.steam.Language),
		Count:     parseCount(firstNonEmpty(q.Get("count"), q.Get("numeroLogros"))),
	}
	if req.PlayerID == "" || req.PlayerKey == "" {
		h.writeWidgetError(w, http.StatusBadRequest)
		return
	}

	payload, err := h.service.Refresh(r.Context(), req)
	if err != nil {
		status := widgetStatus(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error("failed to refresh achievements", "player_id", req.PlayerID, "error", err)
		} else {
			h.logger.Info("achievement request rejected", "player_id", req.PlayerID, "status", status, "error", err)
		}
		h.writeWidgetError(w, status)
		return
	}

	h.writeJSON(w, http.StatusOK, payload)
}

// widgetStatus maps a refresh error to an HTTP status
func widgetStatus(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrPlayerNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrUpstream):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseCount reads a recent-unlock count; anything unparsable means the default
func parseCount(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func parseLimit(r *http.Request) int {
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			return l
		}
	}
	return 0
}

// ListUnlocks returns a player's recorded unlocks, newest first, and how many
// are recorded in total
func (h *Handler) ListUnlocks(w http.ResponseWriter, r *http.Request) {
	playerID := chi.URLParam(r, "playerID")
	if playerID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	page, err := h.service.ListUnlocks(r.Context(), playerID, parseLimit(r))
	if err != nil {
		h.writeServiceError(w, "failed to list unlocks", err)
		return
	}

	h.writeSuccess(w, page)
}

// GetProgressBoard returns the most complete players of a game
func (h *Handler) GetProgressBoard(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	if appID == "" {
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
		return
	}

	board, err := h.service.TopProgress(r.Context(), appID, parseLimit(r))
	if err != nil {
		h.writeServiceError(w, "failed to get progress board", err)
		return
	}

	h.writeSuccess(w, board)
}

// GetPlayerProgress returns one player's rank and percentage in a game
func (h *Handler) GetPlayerProgress(w http.ResponseWriter, r *http.Request) {
	appID := chi.URLParam(r, "appID")
	playerID := chi.URLParam(r, "playerID")

	entry, err := h.service.PlayerProgress(r.Context(), appID, playerID)
	if err != nil {
		h.writeServiceError(w, "failed to get player progress", err)
		return
	}

	h.writeSuccess(w, entry)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrFeatureDisabled):
		h.writeError(w, http.StatusNotImplemented, domain.ErrFeatureDisabled)
	case errors.Is(err, domain.ErrInvalidRequest):
		h.writeError(w, http.StatusBadRequest, domain.ErrInvalidRequest)
	case errors.Is(err, domain.ErrPlayerNotFound):
		h.writeError(w, http.StatusNotFound, domain.ErrPlayerNotFound)
	default:
		h.logger.Error(msg, "error", err)
		h.writeError(w, http.StatusInternalServerError, domain.ErrInternalError)
	}
}

// HandleWebSocket handles WebSocket upgrade requests
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	h.hub.ServeHTTP(w, r)
}

// GetWebSocketStats returns WebSocket connection statistics
func (h *Handler) GetWebSocketStats(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"total_connections": h.hub.GetTotalConnections(),
		"watched_players":   h.hub.GetWatchedPlayers(),
	})
}

// HealthCheck returns service health status
func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	h.writeSuccess(w, map[string]interface{}{
		"status":         "healthy",
		"cached_players": h.service.CachedPlayers(),
	})
}

// ReadyCheck runs every registered dependency check
func (h *Handler) ReadyCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
	defer cancel()

	failed := make(map[string]string)
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}

	if len(failed) > 0 {
		h.logger.Warn("readiness check failed", "failed", failed)
		h.writeJSON(w, http.StatusServiceUnavailable, APIResponse{
			Success: false,
			Data:    failed,
			Error:   "not ready",
		})
		return
	}

	h.writeSuccess(w, map[string]string{"status": "ready"})
}
