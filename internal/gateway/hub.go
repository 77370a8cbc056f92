// Package gateway — WebSocket hub for real-time report streaming.
//
// Every finished verification report is fanned out to connected stream
// clients. Each client owns a buffered send queue drained by its own
// write pump; a subscriber that cannot keep up is disconnected instead
// of being allowed to stall the fan-out for everyone else.
package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/navproof/accounting-engine/internal/metrics"
	"github.com/navproof/accounting-engine/internal/store"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 54 * time.Second
	sendQueue  = 64
)

// StreamEvent is a JSON message sent to stream clients whenever a
// verification completes.
type StreamEvent struct {
	Type   string        `json:"type"`
	Report *store.Report `json:"report"`
}

// streamClient is one connected subscriber. The hub writes into send;
// the client's write pump drains it onto the wire.
type streamClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// Hub pushes every finished verification report to all connected
// stream clients. The Run loop is the sole owner of the client set, so
// no lock guards it.
type Hub struct {
	clients    map[*streamClient]bool
	broadcast  chan []byte
	register   chan *streamClient
	unregister chan *streamClient
}

// NewHub creates a new streaming hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*streamClient]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *streamClient),
		unregister: make(chan *streamClient),
	}
}

// Run starts the hub's event loop. Must be called in a goroutine
// before the first client connects.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = true
			metrics.StreamClients.Inc()
			slog.Info("stream client connected", "total", len(h.clients))

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- msg:
				default:
					// Full queue: the subscriber is too slow to keep.
					h.drop(c)
				}
			}
		}
	}
}

// drop removes a client and closes its queue, which ends its write
// pump. Safe to call twice; only the first call does anything.
func (h *Hub) drop(c *streamClient) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	metrics.StreamClients.Dec()
	slog.Info("stream client disconnected", "total", len(h.clients))
}

// Broadcast queues a report for delivery to all connected clients.
func (h *Hub) Broadcast(rep *store.Report) {
	data, err := json.Marshal(StreamEvent{Type: "report", Report: rep})
	if err != nil {
		slog.Error("stream event marshal failed", "err", err)
		return
	}
	select {
	case h.broadcast <- data:
	default:
		// Drop if the hub is saturated to avoid blocking verification.
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true // The edge proxy enforces origin policy.
	},
}

// HandleWS handles WebSocket upgrade requests at GET /v1/stream.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("ws upgrade failed", "err", err)
		return
	}

	c := &streamClient{hub: h, conn: conn, send: make(chan []byte, sendQueue)}
	h.register <- c
	go c.writePump()
	go c.readPump()
}

// readPump discards inbound frames; its job is answering pings and
// noticing when the peer goes away.
func (c *streamClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump drains the send queue and pings periodically so the
// connection survives idle-timeout proxies.
func (c *streamClient) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				// The hub dropped us.
				c.conn.SetWriteDeadline(time.Now().Add(writeWait))
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
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
