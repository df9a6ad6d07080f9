package serve

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Dicklesworthstone/council/internal/council"
)

const (
	// wsWriteWait bounds a single frame write.
	wsWriteWait = 10 * time.Second

	// wsSendBuffer is the per-client outbound queue. Clients that fall
	// this far behind are dropped rather than backpressuring the engine.
	wsSendBuffer = 64
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Local tool; same-origin policy does not apply.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub broadcasts audit events to websocket subscribers. It implements
// council.AuditSink, so it plugs straight into the engine; a broadcast
// never blocks the pipeline.
type Hub struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*wsClient]struct{})}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// RecordEvent broadcasts one audit event to all subscribers.
func (h *Hub) RecordEvent(event council.AuditEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	h.broadcast(data)
}

// RecordSession broadcasts the terminal session record.
func (h *Hub) RecordSession(record *council.SessionRecord) {
	if record == nil {
		return
	}
	line := struct {
		Type    string                 `json:"type"`
		Session *council.SessionRecord `json:"session"`
	}{Type: "session_record", Session: record}
	data, err := json.Marshal(line)
	if err != nil {
		return
	}
	h.broadcast(data)
}

func (h *Hub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
			// Slow client: drop it.
			delete(h.clients, c)
			close(c.send)
		}
	}
}

// ClientCount reports the current number of subscribers.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// handleWebSocket upgrades the connection and streams events until the
// client disconnects.
func (h *Hub) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("REST: websocket upgrade failed error=%v", err)
		return
	}

	client := &wsClient{conn: conn, send: make(chan []byte, wsSendBuffer)}
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()

	go h.writeLoop(client)
	h.readLoop(client)
}

// writeLoop drains the client's queue onto the wire.
func (h *Hub) writeLoop(c *wsClient) {
	defer c.conn.Close()
	for data := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
			return
		}
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// readLoop discards inbound frames and detects disconnect.
func (h *Hub) readLoop(c *wsClient) {
	defer func() {
		h.mu.Lock()
		if _, ok := h.clients[c]; ok {
			delete(h.clients, c)
			close(c.send)
		}
		h.mu.Unlock()
		c.conn.Close()
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
