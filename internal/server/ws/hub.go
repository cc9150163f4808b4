// Package ws streams live bus notifications, such as last-mid updates, to
// WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"path"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/predexchange/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// busPattern is the bus subscription feeding the hub.
var busPattern = domain.MidChannel("*")

// envelope wraps every frame sent to clients.
type envelope struct {
	Type    string          `json:"type"`
	Channel string          `json:"channel,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// subscribeMsg is the JSON message a client sends to pick channels, e.g.
// {"action":"subscribe","channels":["mid:123"]}. Patterns like "mid:*" work.
type subscribeMsg struct {
	Action   string   `json:"action"`
	Channels []string `json:"channels"`
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu   sync.RWMutex
	subs map[string]bool
}

type broadcastMsg struct {
	channel string
	data    []byte
}

// Hub fans bus messages out to connected WebSocket clients. Clients start
// with no subscriptions.
type Hub struct {
	bus      domain.SignalBus
	upgrader websocket.Upgrader
	logger   *slog.Logger
	mode     string

	register   chan *client
	unregister chan *client
	broadcast  chan broadcastMsg
	done       chan struct{}

	mu      sync.RWMutex
	clients map[*client]bool
}

// NewHub creates a hub reading from bus. allowedOrigins restricts the
// upgrade like the CORS middleware does; empty allows all.
func NewHub(bus domain.SignalBus, mode string, allowedOrigins []string, logger *slog.Logger) *Hub {
	h := &Hub{
		bus:        bus,
		logger:     logger.With(slog.String("component", "ws_hub")),
		mode:       mode,
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan broadcastMsg, 256),
		done:       make(chan struct{}),
		clients:    make(map[*client]bool),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" || len(allowedOrigins) == 0 {
				return true
			}
			for _, o := range allowedOrigins {
				if o == "*" || o == origin {
					return true
				}
			}
			return false
		},
	}
	return h
}

// Run subscribes to the bus and serves clients until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	msgs, err := h.bus.Subscribe(ctx, busPattern)
	if err != nil {
		return err
	}
	h.logger.Info("ws: subscribed to bus", slog.String("pattern", busPattern))
	go h.forward(ctx, msgs)

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			frame, err := json.Marshal(envelope{Type: "message", Channel: msg.channel, Payload: msg.data})
			if err != nil {
				continue
			}
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.channel) {
					continue
				}
				select {
				case c.send <- frame:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward moves bus payloads into the broadcast loop. The bus only yields
// payloads, so the channel is recovered from the LastMid asset id.
func (h *Hub) forward(ctx context.Context, msgs <-chan []byte) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				return
			}
			var m domain.LastMid
			if err := json.Unmarshal(data, &m); err != nil || m.AssetID == "" {
				continue
			}
			select {
			case h.broadcast <- broadcastMsg{channel: domain.MidChannel(m.AssetID), data: data}:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and registers the client.
// GET /api/ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	for _, ch := range r.URL.Query()["channel"] {
		c.subs[ch] = true
	}

	// The hello goes in before the hub can see the client, so Run never
	// closes send under it.
	c.sendHello()
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

// readPump handles subscription requests until the connection closes.
func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range msg.Channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range msg.Channels {
			delete(c.subs, ch)
		}
	}
}

// sendHello lets clients mark the connection healthy before any data flows.
func (c *client) sendHello() {
	payload, _ := json.Marshal(map[string]any{"mode": c.hub.mode})
	frame, err := json.Marshal(envelope{Type: "hello", Payload: payload})
	if err != nil {
		return
	}
	select {
	case c.send <- frame:
	default:
	}
}

// isSubscribed matches channel against the client's exact names and glob
// patterns.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[channel] {
		return true
	}
	for sub := range c.subs {
		if ok, _ := path.Match(sub, channel); ok {
			return true
		}
	}
	return false
}

// writePump sends queued frames and keep-alive pings.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
