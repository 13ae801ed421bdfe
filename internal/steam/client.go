// Package steam is a small client for the Steam Web API endpoints the widget
// needs: the player's current game, recent playtime, unlock state and the
// game's achievement schema.
package steam

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
	"github.com/steam-achievement-widget/internal/metrics"
)

// Endpoint names, used for errors and metrics
const (
	EndpointPlayerSummaries = "GetPlayerSummaries"
	EndpointRecentlyPlayed  = "GetRecentlyPlayedGames"
	EndpointAchievements    = "GetPlayerAchievements"
	EndpointSchema          = "GetSchemaForGame"
)

// ZeroPlaytime is reported when the game is not in the recent-play list
const ZeroPlaytime = "0 hrs"

// maxErrorBody bounds how much of a failed response is kept for the error
const maxErrorBody = 512

// HTTPClient allows injecting a custom HTTP client for testing
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client calls the Steam Web API
type Client struct {
	baseURL    string
	cdnBaseURL string
	timeout    time.Duration
	http       HTTPClient
	limiter    *rate.Limiter
	logger     *slog.Logger
}

// NewClient creates a new Steam client with its own pooled HTTP transport
func NewClient(cfg *config.SteamConfig, logger *slog.Logger) *Client {
	httpClient := &http.Client{
		Transport: &http.Transport{
			Proxy:               http.ProxyFromEnvironment,
			MaxIdleConns:        cfg.MaxIdleConns,
			MaxIdleConnsPerHost: cfg.MaxIdleConns,
			IdleConnTimeout:     cfg.IdleConnTimeout,
		},
	}
	return NewClientWithHTTP(cfg, httpClient, logger)
}

// NewClientWithHTTP creates a new Steam client using httpClient
func NewClientWithHTTP(cfg *config.SteamConfig, httpClient HTTPClient, logger *slog.Logger) *Client {
	limit := rate.Inf
	if cfg.RequestsPerSec > 0 {
		limit = rate.Limit(cfg.RequestsPerSec)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		cdnBaseURL: strings.TrimRight(cfg.CDNBaseURL, "/"),
		timeout:    cfg.RequestTimeout,
		http:       httpClient,
		limiter:    rate.NewLimiter(limit, burst),
		logger:     logger,
	}
}

// HeaderImage returns the store header image URL for a game
func (c *Client) HeaderImage(appID string) string {
	return fmt.Sprintf("%s/steam/apps/%s/header.jpg", c.cdnBaseURL, url.PathEscape(appID))
}

type playerSummariesResponse struct {
	Response struct {
		Players []struct {
			SteamID       string `json:"steamid"`
			GameID        string `json:"gameid"`
			GameExtraInfo string `json:"gameextrainfo"`
		} `json:"players"`
	} `json:"response"`
}

// CurrentGame returns the game the player is in, or nil when idle
func (c *Client) CurrentGame(ctx context.Context, playerKey, playerID string) (*domain.CurrentGame, error) {
	params := url.Values{}
	params.Set("key", playerKey)
	params.Set("steamids", playerID)

	var resp playerSummariesResponse
	if _, err := c.getJSON(ctx, EndpointPlayerSummaries, "/ISteamUser/GetPlayerSummaries/v2/", params, &resp, nil); err != nil {
		return nil, err
	}

	if len(resp.Response.Players) == 0 {
		return nil, fmt.Errorf("looking up player %s: %w", playerID, domain.ErrPlayerNotFound)
	}

	player := resp.Response.Players[0]
	if player.GameID == "" {
		return nil, nil
	}

	return &domain.CurrentGame{
		AppID:    player.GameID,
		GameName: player.GameExtraInfo,
	}, nil
}

type recentlyPlayedResponse struct {
	Response struct {
		Games []struct {
			AppID           int64 `json:"appid"`
			PlaytimeForever int64 `json:"playtime_forever"`
		} `json:"games"`
	} `json:"response"`
}

// Playtime returns total hours played for appID formatted as "12.5 hrs"
func (c *Client) Playtime(ctx context.Context, appID, playerKey, playerID string) (string, error) {
	params := url.Values{}
	params.Set("key", playerKey)
	params.Set("steamid", playerID)
	params.Set("format", "json")

	var resp recentlyPlayedResponse
	if _, err := c.getJSON(ctx, EndpointRecentlyPlayed, "/IPlayerService/GetRecentlyPlayedGames/v0001/", params, &resp, nil); err != nil {
		return "", err
	}

	for _, g := range resp.Response.Games {
		if strconv.FormatInt(g.AppID, 10) == appID {
			return FormatPlaytime(g.PlaytimeForever), nil
		}
	}
	return ZeroPlaytime, nil
}

// FormatPlaytime renders minutes as hours with one decimal
func FormatPlaytime(minutes int64) string {
	return fmt.Sprintf("%.1f hrs", float64(minutes)/60)
}

type playerAchievementsResponse struct {
	PlayerStats struct {
		Success      bool                     `json:"success"`
		Error        string                   `json:"error"`
		Achievements []domain.RawUnlockRecord `json:"achievements"`
	} `json:"playerstats"`
}

// UnlockRecords returns the player's unlock state for every achievement of appID.
// Games without stats yield an empty slice.
func (c *Client) UnlockRecords(ctx context.Context, appID, playerKey, playerID, language string) ([]domain.RawUnlockRecord, error) {
	params := url.Values{}
	params.Set("appid", appID)
	params.Set("key", playerKey)
	params.Set("steamid", playerID)
	if language != "" {
		params.Set("l", language)
	}

	var resp playerAchievementsResponse
	// Steam answers 400 with success=false for games that have no stats
	status, err := c.getJSON(ctx, EndpointAchievements, "/ISteamUserStats/GetPlayerAchievements/v0001/", params, &resp, []int{http.StatusBadRequest})
	if err != nil {
		return nil, err
	}
	if status == http.StatusBadRequest {
		if resp.PlayerStats.Error == "" {
			return nil, &domain.UpstreamError{Op: EndpointAchievements, StatusCode: status, Err: fmt.Errorf("bad request")}
		}
		c.logger.Debug("game has no achievement stats", "app_id", appID, "reason", resp.PlayerStats.Error)
		return []domain.RawUnlockRecord{}, nil
	}

	if resp.PlayerStats.Achievements == nil {
		return []domain.RawUnlockRecord{}, nil
	}
	return resp.PlayerStats.Achievements, nil
}

type schemaResponse struct {
	Game struct {
		GameName           string `json:"gameName"`
		AvailableGameStats struct {
			Achievements []domain.SchemaAchievement `json:"achievements"`
		} `json:"availableGameStats"`
	} `json:"game"`
}

// Schema returns the achievement schema of appID
func (c *Client) Schema(ctx context.Context, appID, playerKey, language string) ([]domain.SchemaAchievement, error) {
	params := url.Values{}
	params.Set("key", playerKey)
	params.Set("appid", appID)
	if language != "" {
		params.Set("l", language)
	}

	var resp schemaResponse
	if _, err := c.getJSON(ctx, EndpointSchema, "/ISteamUserStats/GetSchemaForGame/v2/", params, &resp, nil); err != nil {
		return nil, err
	}

	if resp.Game.AvailableGameStats.Achievements == nil {
		return []domain.SchemaAchievement{}, nil
	}
	return resp.Game.AvailableGameStats.Achievements, nil
}

// getJSON performs a GET and decodes the body into out. Any status other than
// 200 and those listed in accept is an UpstreamError. The response status is returned.
func (c *Client) getJSON(ctx context.Context, endpoint, path string, params url.Values, out interface{}, accept []int) (int, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return 0, &domain.UpstreamError{Op: endpoint, Err: fmt.Errorf("waiting for rate limiter: %w", err)}
	}

	reqURL := c.baseURL + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return 0, &domain.UpstreamError{Op: endpoint, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		metrics.Upstream(endpoint, "error", time.Since(start))
		return 0, &domain.UpstreamError{Op: endpoint, Err: err}
	}
	defer resp.Body.Close()
	metrics.Upstream(endpoint, strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode != http.StatusOK && !accepted(resp.StatusCode, accept) {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return resp.StatusCode, &domain.UpstreamError{
			Op:         endpoint,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", strings.TrimSpace(string(body))),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return resp.StatusCode, &domain.UpstreamError{Op: endpoint, StatusCode: resp.StatusCode, Err: fmt.Errorf("decoding response: %w", err)}
	}

	c.logger.Debug("steam request completed",
		"endpoint", endpoint,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return resp.StatusCode, nil
}

func accepted(status int, accept []int) bool {
	for _, s := range accept {
		if s == status {
			return true
		}
	}
	return false
}
