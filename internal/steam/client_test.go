package steam

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/steam-achievement-widget/internal/config"
	"github.com/steam-achievement-widget/internal/domain"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := &config.SteamConfig{
		BaseURL:        server.URL,
		CDNBaseURL:     "https://cdn.example.com/",
		RequestTimeout: time.Second,
	}
	return NewClientWithHTTP(cfg, server.Client(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestClient_CurrentGame(t *testing.T) {
	t.Run("in game", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ISteamUser/GetPlayerSummaries/v2/", r.URL.Path)
			assert.Equal(t, "secret", r.URL.Query().Get("key"))
			assert.Equal(t, "765", r.URL.Query().Get("steamids"))
			w.Write([]byte(`{"response":{"players":[{"steamid":"765","gameid":"2357570","gameextrainfo":"Overwatch 2"}]}}`))
		})

		game, err := client.CurrentGame(context.Background(), "secret", "765")

		require.NoError(t, err)
		assert.Equal(t, &domain.CurrentGame{AppID: "2357570", GameName: "Overwatch 2"}, game)
	})

	t.Run("idle", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response":{"players":[{"steamid":"765"}]}}`))
		})

		game, err := client.CurrentGame(context.Background(), "secret", "765")

		require.NoError(t, err)
		assert.Nil(t, game)
	})

	t.Run("unknown player", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"response":{"players":[]}}`))
		})

		_, err := client.CurrentGame(context.Background(), "secret", "765")

		assert.ErrorIs(t, err, domain.ErrPlayerNotFound)
	})

	t.Run("forbidden key is an upstream error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "Access is denied", http.StatusForbidden)
		})

		_, err := client.CurrentGame(context.Background(), "bad", "765")

		require.ErrorIs(t, err, domain.ErrUpstream)
		var upstreamErr *domain.UpstreamError
		require.True(t, errors.As(err, &upstreamErr))
		assert.Equal(t, http.StatusForbidden, upstreamErr.StatusCode)
		assert.Equal(t, EndpointPlayerSummaries, upstreamErr.Op)
	})

	t.Run("malformed body is an upstream error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>`))
		})

		_, err := client.CurrentGame(context.Background(), "secret", "765")

		assert.ErrorIs(t, err, domain.ErrUpstream)
	})

	t.Run("timeout is an upstream error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-r.Context().Done():
			case <-time.After(2 * time.Second):
			}
		})
		client.timeout = 50 * time.Millisecond

		_, err := client.CurrentGame(context.Background(), "secret", "765")

		assert.ErrorIs(t, err, domain.ErrUpstream)
	})
}

func TestClient_Playtime(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/IPlayerService/GetRecentlyPlayedGames/v0001/", r.URL.Path)
		w.Write([]byte(`{"response":{"total_count":2,"games":[{"appid":10,"playtime_forever":30},{"appid":2357570,"playtime_forever":754}]}}`))
	})

	got, err := client.Playtime(context.Background(), "2357570", "secret", "765")
	require.NoError(t, err)
	assert.Equal(t, "12.6 hrs", got)

	got, err = client.Playtime(context.Background(), "999", "secret", "765")
	require.NoError(t, err)
	assert.Equal(t, ZeroPlaytime, got)
}

func TestFormatPlaytime(t *testing.T) {
	assert.Equal(t, "0.0 hrs", FormatPlaytime(0))
	assert.Equal(t, "1.5 hrs", FormatPlaytime(90))
	assert.Equal(t, "100.0 hrs", FormatPlaytime(6000))
}

func TestClient_UnlockRecords(t *testing.T) {
	t.Run("decodes achievements", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ISteamUserStats/GetPlayerAchievements/v0001/", r.URL.Path)
			assert.Equal(t, "2357570", r.URL.Query().Get("appid"))
			assert.Equal(t, "latam", r.URL.Query().Get("l"))
			w.Write([]byte(`{"playerstats":{"steamID":"765","gameName":"G","success":true,"achievements":[
				{"apiname":"ACH_A","achieved":1,"unlocktime":1700000000,"name":"First","description":"Do it"},
				{"apiname":"ACH_B","achieved":0,"unlocktime":0,"name":"Second","description":""}
			]}}`))
		})

		got, err := client.UnlockRecords(context.Background(), "2357570", "secret", "765", "latam")

		require.NoError(t, err)
		assert.Equal(t, []domain.RawUnlockRecord{
			{APIName: "ACH_A", Name: "First", Achieved: 1, UnlockTime: 1700000000, Description: "Do it"},
			{APIName: "ACH_B", Name: "Second", Achieved: 0},
		}, got)
	})

	t.Run("game without stats is empty", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"playerstats":{"error":"Requested app has no stats","success":false}}`))
		})

		got, err := client.UnlockRecords(context.Background(), "1", "secret", "765", "")

		require.NoError(t, err)
		assert.NotNil(t, got)
		assert.Empty(t, got)
	})

	t.Run("private profile is an upstream error", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
			w.Write([]byte(`{"playerstats":{"error":"Profile is not public","success":false}}`))
		})

		_, err := client.UnlockRecords(context.Background(), "1", "secret", "765", "")

		assert.ErrorIs(t, err, domain.ErrUpstream)
	})
}

func TestClient_Schema(t *testing.T) {
	t.Run("decodes schema", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/ISteamUserStats/GetSchemaForGame/v2/", r.URL.Path)
			w.Write([]byte(`{"game":{"gameName":"G","availableGameStats":{"achievements":[
				{"name":"ACH_A","displayName":"First","icon":"https://cdn/a.jpg","icongray":"https://cdn/a_gray.jpg"}
			]}}}`))
		})

		got, err := client.Schema(context.Background(), "2357570", "secret", "latam")

		require.NoError(t, err)
		assert.Equal(t, []domain.SchemaAchievement{
			{Name: "ACH_A", DisplayName: "First", Icon: "https://cdn/a.jpg", IconGray: "https://cdn/a_gray.jpg"},
		}, got)
	})

	t.Run("game without schema is empty", func(t *testing.T) {
		client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"game":{}}`))
		})

		got, err := client.Schema(context.Background(), "1", "secret", "")

		require.NoError(t, err)
		assert.Empty(t, got)
	})
}

func TestClient_HeaderImage(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

	assert.Equal(t, "https://cdn.example.com/steam/apps/2357570/header.jpg", client.HeaderImage("2357570"))
}
