package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"github.com/esphive/esphive-core/internal/dispatch"
	"github.com/esphive/esphive-core/internal/infrastructure/logging"
)

// WebSocket message types and broadcast channels.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeError       = "error"

	ChannelValue  = "value"
	ChannelGroup  = "group"
	ChannelRaw    = "raw"
	ChannelStream = "stream_error"

	// wsSendBufferSize is the per-client outbound buffer. A client that
	// cannot drain it loses messages rather than stalling the hub.
	wsSendBufferSize = 256

	wsWriteTimeout = 10 * time.Second
)

// WSMessage is the envelope for all hub traffic.
type WSMessage struct {
	Type      string `json:"type"`
	Channel   string `json:"channel,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsSubscribePayload is the payload for subscribe/unsubscribe messages.
type wsSubscribePayload struct {
	Channels []string `json:"channels"`
}

// Hub manages WebSocket connections and broadcasts dispatcher traffic
// to subscribed clients.
type Hub struct {
	logger  *logging.Logger
	mu      sync.RWMutex
	clients map[*wsClient]struct{}
	sub     *dispatch.Subscription
}

// NewHub creates an empty hub.
func NewHub(logger *logging.Logger) *Hub {
	return &Hub{
		logger:  logger.With("component", "websocket"),
		clients: make(map[*wsClient]struct{}),
	}
}

// Attach subscribes the hub to the dispatcher's wildcard and raw slots.
func (h *Hub) Attach(disp *dispatch.Dispatcher) {
	sub := disp.Subscribe()
	sub.OnAnyValue(func(e dispatch.Entry) {
		h.Broadcast(ChannelValue, valueBody{
			Device:      e.Device,
			Status:      e.Status,
			Unit:        e.Unit,
			Value:       e.Value,
			UnixSeconds: e.UnixSeconds,
		})
	})
	sub.OnAnyGroup(func(groupID string, sum decimal.Decimal) {
		h.Broadcast(ChannelGroup, map[string]any{"group": groupID, "sum": sum})
	})
	sub.OnRawText(func(endpoint, line string) {
		h.Broadcast(ChannelRaw, map[string]string{"endpoint": endpoint, "line": line})
	})
	sub.OnError(func(endpoint string, err error) {
		h.Broadcast(ChannelStream, map[string]string{"endpoint": endpoint, "error": err.Error()})
	})
	h.sub = sub
	h.logger.Debug("attached to dispatcher", "subscription_id", sub.ID())
}

// Run blocks until the context is cancelled, then disconnects all
// clients.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()
	h.closeAll()
}

// Broadcast sends a payload to every client subscribed to the channel.
func (h *Hub) Broadcast(channel string, payload any) {
	msg := WSMessage{
		Type:      WSTypeEvent,
		Channel:   channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	}

	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("marshaling broadcast", "error", err)
		return
	}

	h.mu.RLock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if client.isSubscribed(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) register(client *wsClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", h.ClientCount())
}

// unregister removes a client. Only the goroutine that removes the
// client from the map closes its send channel, preventing double-close
// panics during shutdown.
func (h *Hub) unregister(client *wsClient) {
	h.mu.Lock()
	_, existed := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()

	if existed {
		close(client.send)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		client.conn.Close()
		delete(h.clients, client)
	}
}

// wsClient is one connected WebSocket client.
type wsClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu       sync.RWMutex
	channels map[string]struct{}
}

func (c *wsClient) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.channels[channel]
	return ok
}

// trySend queues a message, dropping it if the client's buffer is full.
func (c *wsClient) trySend(data []byte) {
	select {
	case c.send <- data:
	default:
	}
}

func (c *wsClient) setSubscribed(channels []string, on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ch := range channels {
		if on {
			c.channels[ch] = struct{}{}
		} else {
			delete(c.channels, ch)
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		// Read-only local service; no origin restrictions.
		return true
	},
}

// handleWebSocket upgrades the connection and starts the client pumps.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &wsClient{
		hub:      s.hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBufferSize),
		channels: make(map[string]struct{}),
	}
	s.hub.register(client)

	go client.writePump()
	go client.readPump()
}

// readPump handles inbound subscribe/unsubscribe/ping messages until
// the connection drops.
func (c *wsClient) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
	}()

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var msg WSMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		switch msg.Type {
		case WSTypeSubscribe, WSTypeUnsubscribe:
			var payload wsSubscribePayload
			raw, _ := json.Marshal(msg.Payload)
			if err := json.Unmarshal(raw, &payload); err != nil {
				continue
			}
			c.setSubscribed(payload.Channels, msg.Type == WSTypeSubscribe)
		case WSTypePing:
			pong, _ := json.Marshal(WSMessage{Type: WSTypePong})
			c.trySend(pong)
		}
	}
}

// writePump drains the send buffer onto the wire.
func (c *wsClient) writePump() {
	defer c.conn.Close()

	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}

	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
