package dashboard

import (
	"encoding/json"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradebridge/pkg/types"
)

// Hub manages connected dashboard clients and fans out Events to them,
// honoring each client's ticker subscription.
type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan Event
	mu         sync.RWMutex
	logger     *slog.Logger
}

// Client is one dashboard WebSocket connection. The activity feed for a
// venue running dozens of tickers is noisy; a client that only cares
// about a handful subscribes to them via the /ws?tickers= query param
// and the hub drops everything else before it hits the wire.
type Client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	tickers map[types.TickerId]bool // nil/empty means every ticker
}

// NewHub creates a new dashboard hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan Event, 256),
		logger:     logger.With("component", "dashboard-hub"),
	}
}

// Run starts the hub's main loop (should be called in a goroutine).
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("dashboard client connected", "count", len(h.clients), "tickers", len(client.tickers))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Info("dashboard client disconnected", "count", len(h.clients))

		case evt := <-h.broadcast:
			data, err := json.Marshal(evt)
			if err != nil {
				h.logger.Error("failed to marshal dashboard event", "error", err)
				continue
			}

			h.mu.RLock()
			for client := range h.clients {
				if !client.wants(evt) {
					continue
				}
				select {
				case client.send <- data:
				default:
					close(client.send)
					delete(h.clients, client)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// wants reports whether evt should reach this client: unfiltered clients
// take everything, filtered clients take only their subscribed tickers
// plus ticker-less events (snapshots, risk-wide rejects).
func (c *Client) wants(evt Event) bool {
	if len(c.tickers) == 0 || evt.TickerID == 0 {
		return true
	}
	return c.tickers[evt.TickerID]
}

// BroadcastEvent sends an event to every subscribed client.
func (h *Hub) BroadcastEvent(evt Event) {
	select {
	case h.broadcast <- evt:
	default:
		h.logger.Warn("dashboard broadcast channel full, dropping event", "type", evt.Type)
	}
}

// BroadcastSnapshot sends a full snapshot to every connected client,
// regardless of ticker subscription.
func (h *Hub) BroadcastSnapshot(snapshot Snapshot) {
	h.BroadcastEvent(Event{Type: "snapshot", Timestamp: time.Now(), Data: snapshot})
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512 * 1024
)

// writePump relays queued dashboard pushes to the socket and keeps the
// connection alive with periodic pings; exits (and closes the conn) the
// first time a write fails, which drives readPump's unregister.
func (c *Client) writePump() {
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

// readPump pumps messages from the websocket connection to the hub. The
// dashboard is read-only: any inbound client message (besides pongs) is
// discarded, since there's no control surface to route it to.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Error("dashboard websocket error", "error", err)
			}
			break
		}
	}
}

// NewClient registers conn with hub and starts its read/write pumps.
// tickers restricts the feed to those ticker IDs; an empty set gets
// every event.
func NewClient(hub *Hub, conn *websocket.Conn, tickers map[types.TickerId]bool) *Client {
	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), tickers: tickers}
	client.hub.register <- client

	go client.writePump()
	go client.readPump()

	return client
}

// parseTickerFilter reads the "tickers" query param (comma-separated
// ticker IDs, e.g. "?tickers=1,2,7") into a subscription set. A missing
// or unparseable param yields nil, which NewClient/wants treat as
// "subscribe to everything".
func parseTickerFilter(query url.Values) map[types.TickerId]bool {
	raw := strings.TrimSpace(query.Get("tickers"))
	if raw == "" {
		return nil
	}

	filter := make(map[types.TickerId]bool)
	for _, part := range strings.Split(raw, ",") {
		id, err := strconv.ParseInt(strings.TrimSpace(part), 10, 64)
		if err != nil {
			continue
		}
		filter[types.TickerId(id)] = true
	}
	if len(filter) == 0 {
		return nil
	}
	return filter
}
