package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/steam-achievement-widget/internal/domain"
)

// Message types
const (
	MessageTypeAchievementUnlocked = "achievement_unlocked"
	MessageTypeProgressUpdate      = "progress_update"
	MessageTypeWidgetState         = "widget_state"
	MessageTypeSubscribe           = "subscribe"
	MessageTypeUnsubscribe         = "unsubscribe"
	MessageTypePing                = "ping"
	MessageTypePong                = "pong"
	MessageTypeError               = "error"
)

// Message represents a WebSocket message
type Message struct {
	Type      string      `json:"type"`
	PlayerID  string      `json:"player_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// ProgressUpdate is broadcast after every active refresh of a player
type ProgressUpdate struct {
	AppID    string          `json:"app_id"`
	GameName string          `json:"game_name"`
	Progress domain.Progress `json:"progress"`
}

// StateSource returns the last payload served for a player and when it was
// produced. ok is false when the player has never been refreshed.
type StateSource interface {
	LatestPayload(playerID string) (payload domain.Payload, at time.Time, ok bool)
}

// Hub maintains the set of active clients and fans out player updates
type Hub struct {
	// Subscribed clients by player ID
	clients map[string]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register    chan *Client
	unregister  chan *Client
	broadcast   chan *Message
	subscribe   chan *subscriptionRequest
	unsubscribe chan *subscriptionRequest

	upgrader websocket.Upgrader
	state    StateSource

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type subscriptionRequest struct {
	client   *Client
	playerID string
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:     make(map[string]map[*Client]bool),
		allClients:  make(map[*Client]bool),
		register:    make(chan *Client),
		unregister:  make(chan *Client),
		broadcast:   make(chan *Message, 256),
		subscribe:   make(chan *subscriptionRequest, 64),
		unsubscribe: make(chan *subscriptionRequest, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Overlays are served from streaming tools on arbitrary origins
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		logger: logger,
		ctx:    ctx,
		cancel: cancel,
	}
}

// SetStateSource lets new subscribers receive the player's current widget
// state immediately. Call before Run.
func (h *Hub) SetStateSource(src StateSource) {
	h.state = src
}

// latestState builds the widget_state message for playerID, if there is one
func (h *Hub) latestState(playerID string) (*Message, bool) {
	if h.state == nil {
		return nil, false
	}
	payload, at, ok := h.state.LatestPayload(playerID)
	if !ok {
		return nil, false
	}
	return &Message{
		Type:      MessageTypeWidgetState,
		PlayerID:  playerID,
		Data:      payload,
		Timestamp: at,
	}, true
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for playerID, clients := range h.clients {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.clients, playerID)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.subscribe:
			h.mu.Lock()
			if _, ok := h.clients[req.playerID]; !ok {
				h.clients[req.playerID] = make(map[*Client]bool)
			}
			h.clients[req.playerID][req.client] = true
			h.mu.Unlock()
			h.logger.Debug("client subscribed", "client_id", req.client.id, "player_id", req.playerID)

		case req := <-h.unsubscribe:
			h.mu.Lock()
			if clients, ok := h.clients[req.playerID]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.clients, req.playerID)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client unsubscribed", "client_id", req.client.id, "player_id", req.playerID)

		case message := <-h.broadcast:
			h.broadcastMessage(message)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// broadcastMessage sends a message to the clients subscribed to its player
func (h *Hub) broadcastMessage(message *Message) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.clients[message.PlayerID]
	if !ok {
		return
	}

	data, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("failed to marshal message", "error", err)
		return
	}

	for client := range clients {
		select {
		case client.send <- data:
		default:
			h.logger.Warn("client buffer full, skipping", "client_id", client.id)
		}
	}
}

func (h *Hub) enqueue(message *Message) {
	select {
	case h.broadcast <- message:
	default:
		h.logger.Warn("broadcast channel full, dropping message", "type", message.Type)
	}
}

// PublishUnlocks pushes one achievement_unlocked message per event to the
// player's subscribers. It never blocks on slow clients.
func (h *Hub) PublishUnlocks(ctx context.Context, events []domain.UnlockEvent) error {
	for _, event := range events {
		h.enqueue(&Message{
			Type:      MessageTypeAchievementUnlocked,
			PlayerID:  event.PlayerID,
			Data:      event,
			Timestamp: event.DetectedAt,
		})
	}
	return nil
}

// RecordProgress pushes a progress_update message to the player's subscribers
func (h *Hub) RecordProgress(ctx context.Context, playerID string, game domain.CurrentGame, progress domain.Progress) error {
	h.enqueue(&Message{
		Type:     MessageTypeProgressUpdate,
		PlayerID: playerID,
		Data: ProgressUpdate{
			AppID:    game.AppID,
			GameName: game.GameName,
			Progress: progress,
		},
		Timestamp: time.Now(),
	})
	return nil
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// Subscribe adds a client to a player's updates
func (h *Hub) Subscribe(client *Client, playerID string) {
	h.subscribe <- &subscriptionRequest{
		client:   client,
		playerID: playerID,
	}
}

// Unsubscribe removes a client from a player's updates
func (h *Hub) Unsubscribe(client *Client, playerID string) {
	h.unsubscribe <- &subscriptionRequest{
		client:   client,
		playerID: playerID,
	}
}

// GetSubscriberCount returns the number of subscribers for a player
func (h *Hub) GetSubscriberCount(playerID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if clients, ok := h.clients[playerID]; ok {
		return len(clients)
	}
	return 0
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// GetWatchedPlayers returns the number of players with at least one subscriber
func (h *Hub) GetWatchedPlayers() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
