package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steam-achievement-widget/internal/cache"
	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/service"
	"github.com/steam-achievement-widget/internal/websocket"
)

type stubProvider struct {
	game     *domain.CurrentGame
	gameErr  error
	raw      []domain.RawUnlockRecord
	lastKey  string
	lastLang string
}

func (p *stubProvider) CurrentGame(ctx context.Context, playerKey, playerID string) (*domain.CurrentGame, error) {
	p.lastKey = playerKey
	return p.game, p.gameErr
}

func (p *stubProvider) Playtime(ctx context.Context, appID, playerKey, playerID string) (string, error) {
	return "1.0 hrs", nil
}

func (p *stubProvider) UnlockRecords(ctx context.Context, appID, playerKey, playerID, language string) ([]domain.RawUnlockRecord, error) {
	p.lastLang = language
	return p.raw, nil
}

func (p *stubProvider) Schema(ctx context.Context, appID, playerKey, language string) ([]domain.SchemaAchievement, error) {
	return nil, nil
}

func (p *stubProvider) HeaderImage(appID string) string {
	return "https://cdn.example.com/" + appID + ".jpg"
}

type stubHistory struct {
	entries []domain.UnlockHistoryEntry
	limit   int
}

func (s *stubHistory) ListUnlocks(ctx context.Context, playerID string, limit int) ([]domain.UnlockHistoryEntry, error) {
	s.limit = limit
	return s.entries, nil
}

func (s *stubHistory) CountUnlocks(ctx context.Context, playerID string) (int64, error) {
	return 42, nil
}

type stubBoard struct {
	entries []domain.ProgressEntry
	name    string
}

func (b *stubBoard) TopProgress(ctx context.Context, appID string, n int) ([]domain.ProgressEntry, error) {
	if len(b.entries) > n {
		return b.entries[:n], nil
	}
	return b.entries, nil
}

func (b *stubBoard) PlayerProgress(ctx context.Context, appID, playerID string) (*domain.ProgressEntry, error) {
	for _, e := range b.entries {
		if e.PlayerID == playerID {
			entry := e
			return &entry, nil
		}
	}
	return nil, domain.ErrPlayerNotFound
}

func (b *stubBoard) GameName(ctx context.Context, appID string) (string, error) {
	return b.name, nil
}

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Steam.APIKey = "configured-key"
	cfg.RateLimit.Enabled = false
	return cfg
}

func newTestHandler(t *testing.T, provider *stubProvider, cfg *config.Config) (*Handler, *service.WidgetService) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := cache.NewStore(cfg.Cache.TTL, nil, logger)
	svc := service.NewWidgetService(provider, store, &cfg.Widget, time.Second, logger)
	hub := websocket.NewHub(logger)
	return NewHandler(svc, hub, cfg, logger), svc
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGetAchievements_MissingPlayer(t *testing.T) {
	h, _ := newTestHandler(t, &stubProvider{}, testConfig())

	rec := get(t, h.Router(), "/api/steam/achievements")

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"active":false,"message":"Error consultando Steam"}`, rec.Body.String())
}

func TestGetAchievements_Idle(t *testing.T) {
	h, _ := newTestHandler(t, &stubProvider{}, testConfig())

	rec := get(t, h.Router(), "/api/steam/achievements?steamid=765")

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"active":false,"message":"Listo para monitorear"}`, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestGetAchievements_Active(t *testing.T) {
	provider := &stubProvider{
		game: &domain.CurrentGame{AppID: "440", GameName: "TF2"},
		raw: []domain.RawUnlockRecord{
			{APIName: "A", Name: "Alpha", Achieved: 1, UnlockTime: 10},
			{APIName: "B", Name: "Bravo", Achieved: 1, UnlockTime: 20},
			{APIName: "C", Name: "Charlie", Achieved: 0},
		},
	}
	h, _ := newTestHandler(t, provider, testConfig())

	rec := get(t, h.Router(), "/api/steam/achievements?steamid=765&steamkey=mine&numeroLogros=1&lang=english")

	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["active"])
	assert.Equal(t, map[string]interface{}{
		"unlocked": float64(2), "total": float64(3), "percentage": float64(67),
	}, body["progress"])
	last := body["lastAchievements"].([]interface{})
	require.Len(t, last, 1)
	assert.Equal(t, "B", last[0].(map[string]interface{})["id"])
	assert.Equal(t, []interface{}{}, body["newAchievements"])
	assert.Equal(t, float64(1), body["blockedAchievementsCount"])
	assert.Equal(t, "TF2", body["game"].(map[string]interface{})["name"])
	assert.Equal(t, "mine", provider.lastKey)
	assert.Equal(t, "english", provider.lastLang)
}

func TestGetAchievements_Defaults(t *testing.T) {
	provider := &stubProvider{game: &domain.CurrentGame{AppID: "440"}}
	h, _ := newTestHandler(t, provider, testConfig())

	rec := get(t, h.Router(), "/api/steam/achievements?steamid=765&count=abc")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "configured-key", provider.lastKey)
	assert.Equal(t, "latam", provider.lastLang)
}

func TestGetAchievements_ErrorStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"unknown player", domain.ErrPlayerNotFound, http.StatusNotFound},
		{"upstream failure", &domain.UpstreamError{Op: "GetPlayerSummaries", StatusCode: 503, Err: errors.New("unavailable")}, http.StatusBadGateway},
		{"unexpected", errors.New("boom"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _ := newTestHandler(t, &stubProvider{gameErr: tt.err}, testConfig())

			rec := get(t, h.Router(), "/api/steam/achievements?steamid=765")

			assert.Equal(t, tt.want, rec.Code)
			assert.JSONEq(t, `{"active":false,"message":"Error consultando Steam"}`, rec.Body.String())
		})
	}
}

func TestGetAchievements_RateLimited(t *testing.T) {
	cfg := testConfig()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSecond = 0.001
	cfg.RateLimit.Burst = 1
	h, _ := newTestHandler(t, &stubProvider{}, cfg)
	router := h.Router()

	assert.Equal(t, http.StatusOK, get(t, router, "/api/steam/achievements?steamid=765").Code)

	rec := get(t, router, "/api/steam/achievements?steamid=765")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "1", rec.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"active":false,"message":"Error consultando Steam"}`, rec.Body.String())

	assert.Equal(t, http.StatusOK, get(t, router, "/api/steam/achievements?steamid=other").Code,
		"limits are per player")
}

func TestWidgetStatus(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, widgetStatus(domain.ErrInvalidRequest))
	assert.Equal(t, http.StatusTooManyRequests, widgetStatus(domain.ErrRateLimited))
	assert.Equal(t, http.StatusInternalServerError, widgetStatus(errors.New("boom")))
}

func TestCORSPreflight(t *testing.T) {
	h, _ := newTestHandler(t, &stubProvider{}, testConfig())
	rec := httptest.NewRecorder()

	h.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/api/steam/achievements", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestListUnlocks(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		h, _ := newTestHandler(t, &stubProvider{}, testConfig())

		rec := get(t, h.Router(), "/api/v1/players/765/unlocks")

		assert.Equal(t, http.StatusNotImplemented, rec.Code)
		assert.Equal(t, false, decode(t, rec)["success"])
	})

	t.Run("enabled", func(t *testing.T) {
		h, svc := newTestHandler(t, &stubProvider{}, testConfig())
		history := &stubHistory{entries: []domain.UnlockHistoryEntry{{PlayerID: "765", AchievementID: "A"}}}
		svc.SetHistory(history)

		rec := get(t, h.Router(), "/api/v1/players/765/unlocks?limit=500")

		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, true, body["success"])
		data := body["data"].(map[string]interface{})
		assert.Equal(t, "765", data["player_id"])
		assert.Equal(t, float64(42), data["count"])
		assert.Len(t, data["unlocks"], 1)
		assert.Equal(t, 50, history.limit, "limit is capped")
	})
}

func TestGetProgressBoard_Disabled(t *testing.T) {
	h, _ := newTestHandler(t, &stubProvider{}, testConfig())

	rec := get(t, h.Router(), "/api/v1/games/440/progress")

	assert.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestGetProgressBoard(t *testing.T) {
	h, svc := newTestHandler(t, &stubProvider{}, testConfig())
	svc.SetProgressBoard(&stubBoard{
		name: "Portal 2",
		entries: []domain.ProgressEntry{
			{Rank: 1, PlayerID: "p1", Percentage: 100},
			{Rank: 2, PlayerID: "p2", Percentage: 75},
		},
	})
	router := h.Router()

	rec := get(t, router, "/api/v1/games/620/progress?limit=1")
	require.Equal(t, http.StatusOK, rec.Code)
	data := decode(t, rec)["data"].(map[string]interface{})
	assert.Equal(t, "620", data["app_id"])
	assert.Equal(t, "Portal 2", data["game_name"])
	assert.Len(t, data["entries"], 1)

	rec = get(t, router, "/api/v1/games/620/progress/p2")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]interface{}{
		"rank": float64(2), "player_id": "p2", "percentage": float64(75),
	}, decode(t, rec)["data"])

	rec = get(t, router, "/api/v1/games/620/progress/nobody")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "player not found", decode(t, rec)["error"])
}

func TestReadyCheck(t *testing.T) {
	h, _ := newTestHandler(t, &stubProvider{}, testConfig())
	router := h.Router()

	assert.Equal(t, http.StatusOK, get(t, router, "/ready").Code)

	h.AddReadinessCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	rec := get(t, router, "/ready")

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, map[string]interface{}{"redis": "connection refused"}, decode(t, rec)["data"])
}

func TestHealthAndMetrics(t *testing.T) {
	h, _ := newTestHandler(t, &stubProvider{}, testConfig())
	router := h.Router()

	assert.Equal(t, http.StatusOK, get(t, router, "/health").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/metrics").Code)
	assert.Equal(t, http.StatusOK, get(t, router, "/api/v1/ws/stats").Code)
}

func TestRateLimiter_EvictsIdleClients(t *testing.T) {
	l := NewRateLimiter(1, 1)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	assert.True(t, l.Allow("a"))
	assert.False(t, l.Allow("a"))

	now = now.Add(2 * limiterIdleTTL)
	assert.True(t, l.Allow("b"))
	assert.Len(t, l.limiters, 1)
}
