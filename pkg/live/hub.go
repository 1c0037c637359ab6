// Package live pushes each stored reading to connected websocket viewers.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nicktill/espmon/pkg/config"
	"github.com/nicktill/espmon/pkg/instrument"
	"github.com/nicktill/espmon/pkg/reading"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// No Origin header = direct connection (non-browser clients like curl, testing tools)
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
	ReadBufferSize:  config.WSReadBufferSize,
	WriteBufferSize: config.WSWriteBufferSize,
}

// Message is the envelope sent to viewers.
type Message struct {
	Type string          `json:"type"`
	At   time.Time       `json:"at"`
	Data reading.Reading `json:"data"`
}

// client is one viewer. Only its writer goroutine writes to conn; the hub
// hands it messages through send and closes send to end it.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

// Hub manages websocket connections for live readings
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan []byte
	stopped    chan struct{}
	log        *slog.Logger

	pingInterval time.Duration

	mu sync.RWMutex
}

// NewHub creates a new websocket hub
func NewHub(log *slog.Logger) *Hub {
	if log == nil {
		log = slog.Default()
	}
	return &Hub{
		clients:      make(map[*client]struct{}),
		register:     make(chan *client),
		unregister:   make(chan *client, config.WSChannelBuffer),
		broadcast:    make(chan []byte, config.WSBroadcastBuffer),
		stopped:      make(chan struct{}),
		log:          log,
		pingInterval: config.WSPingInterval,
	}
}

// Run owns the client set until ctx is done, then disconnects everyone.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.stopped)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case c := <-h.register:
			h.add(c)
		case c := <-h.unregister:
			h.remove(c)
		case message := <-h.broadcast:
			h.fanOut(message)
		}
	}
}

func (h *Hub) add(c *client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()
	instrument.SetWSClients(count)
	h.log.Debug("websocket client connected", "total", count)
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
	}
	count := len(h.clients)
	h.mu.Unlock()
	instrument.SetWSClients(count)
	h.log.Debug("websocket client disconnected", "total", count)
}

// fanOut queues message for every client. A client whose queue is full is
// too slow to keep up and is dropped on the spot.
func (h *Hub) fanOut(message []byte) {
	h.mu.Lock()
	dropped := 0
	for c := range h.clients {
		select {
		case c.send <- message:
		default:
			delete(h.clients, c)
			close(c.send)
			dropped++
		}
	}
	count := len(h.clients)
	h.mu.Unlock()

	if dropped > 0 {
		instrument.SetWSClients(count)
		h.log.Warn("dropped slow websocket clients", "dropped", dropped, "total", count)
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for c := range h.clients {
		close(c.send)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()
	instrument.SetWSClients(0)
}

// Name identifies the hub among the poller's sinks.
func (h *Hub) Name() string { return "websocket" }

// Publish queues r for every connected client. When nobody is connected
// or the queue is full the reading is dropped.
func (h *Hub) Publish(ctx context.Context, r reading.Reading) error {
	if !h.HasClients() {
		return nil
	}
	message, err := json.Marshal(Message{Type: "reading", At: time.Now(), Data: r})
	if err != nil {
		return err
	}

	select {
	case h.broadcast <- message:
	default:
		h.log.Warn("broadcast channel full, dropping reading")
	}
	return nil
}

// HasClients returns true if there are any connected websocket clients
func (h *Hub) HasClients() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients) > 0
}

// HandleWebSocket handles GET /v1/ws upgrade requests
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, config.WSChannelBuffer)}
	select {
	case h.register <- c:
	case <-h.stopped:
		conn.Close()
		return
	}

	go h.writeLoop(c)

	defer func() {
		select {
		case h.unregister <- c:
		case <-h.stopped:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(config.WSReadDeadline))
		return nil
	})

	// Read loop only services control frames and detects close
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.log.Warn("websocket error", "error", err)
			}
			return
		}
	}
}

// writeLoop is the only writer of c.conn: queued readings and keepalive
// pings. It closes the connection when send is closed or a write fails,
// which also ends the read loop.
func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(h.pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				h.log.Warn("websocket write failed", "error", err)
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WSWriteDeadline))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
