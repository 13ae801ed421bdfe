package websocket

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// Overlays only ever send subscribe/unsubscribe/ping
	maxMessageSize = 1024
	sendBuffer     = 64
)

// ClientMessage is a control message sent by an overlay
type ClientMessage struct {
	Type     string `json:"type"`
	PlayerID string `json:"player_id,omitempty"`
}

// Client is one connected overlay
type Client struct {
	id     string
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *slog.Logger
}

// ServeHTTP upgrades the request to a websocket and attaches it to the hub.
// A steamid query parameter subscribes the connection to that player at once,
// so an overlay can connect with the same parameters it polls with.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "remote_addr", r.RemoteAddr, "error", err)
		return
	}

	id := uuid.NewString()
	c := &Client{
		id:     id,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		logger: h.logger.With("client_id", id),
	}
	h.Register(c)

	go c.writeLoop()
	if playerID := r.URL.Query().Get("steamid"); playerID != "" {
		c.subscribe(playerID)
	}
	go c.readLoop()

	c.logger.Debug("websocket connected", "remote_addr", r.RemoteAddr)
}

func (c *Client) readLoop() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Warn("websocket closed unexpectedly", "error", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.replyError("invalid message format")
			continue
		}
		c.handleMessage(&msg)
	}
}

// writeLoop writes one JSON message per frame and keeps the connection alive
func (c *Client) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.logger.Debug("websocket write failed", "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleMessage(msg *ClientMessage) {
	switch msg.Type {
	case MessageTypeSubscribe:
		if msg.PlayerID == "" {
			c.replyError("player_id required for subscribe")
			return
		}
		c.subscribe(msg.PlayerID)

	case MessageTypeUnsubscribe:
		if msg.PlayerID == "" {
			c.replyError("player_id required for unsubscribe")
			return
		}
		c.hub.Unsubscribe(c, msg.PlayerID)
		c.reply(&Message{Type: "unsubscribed", PlayerID: msg.PlayerID})

	case MessageTypePing:
		c.reply(&Message{Type: MessageTypePong})

	default:
		c.replyError("unknown message type: " + msg.Type)
	}
}

// subscribe acknowledges the subscription and replays the player's current
// widget state, so a new overlay has something to show before the next refresh
func (c *Client) subscribe(playerID string) {
	c.hub.Subscribe(c, playerID)
	c.reply(&Message{Type: "subscribed", PlayerID: playerID})

	if state, ok := c.hub.latestState(playerID); ok {
		c.reply(state)
	}
}

func (c *Client) replyError(reason string) {
	c.reply(&Message{Type: MessageTypeError, Data: map[string]string{"error": reason}})
}

// reply queues a message for this client only. It is dropped when the
// client's buffer is full.
func (c *Client) reply(msg *Message) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", "type", msg.Type, "error", err)
		return
	}
	select {
	case c.send <- data:
	default:
		c.logger.Warn("client buffer full, dropping reply", "type", msg.Type)
	}
}
