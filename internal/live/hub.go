// Package live pushes workspace change notifications to browsers over websockets.
package live

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 8
)

// Message tells a browser that its workspace changed and should be re-read
type Message struct {
	Workspace string `json:"workspace"`
	Event     string `json:"event"`
}

type client struct {
	workspace string
	conn      *websocket.Conn
	send      chan []byte
}

// Hub tracks websocket clients per workspace and fans messages out to them
type Hub struct {
	mu         sync.Mutex
	clients    map[string]map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan Message
	done       chan struct{}
}

// NewHub creates a Hub. Run must be started before clients connect.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[string]map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Message, 64),
		done:       make(chan struct{}),
	}
}

// Run is the hub's event loop. It returns when ctx is cancelled, closing every connection.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for ws, set := range h.clients {
				for c := range set {
					close(c.send)
				}
				delete(h.clients, ws)
			}
			h.mu.Unlock()
			return
		case c := <-h.register:
			h.mu.Lock()
			set, ok := h.clients[c.workspace]
			if !ok {
				set = make(map[*client]struct{})
				h.clients[c.workspace] = set
			}
			set[c] = struct{}{}
			h.mu.Unlock()
		case c := <-h.unregister:
			h.remove(c)
		case msg := <-h.broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				slog.Error("Unable to encode live message", "err", err)
				continue
			}
			h.mu.Lock()
			for c := range h.clients[msg.Workspace] {
				select {
				case c.send <- payload:
				default:
					// slow client; it re-reads state on the next message anyway
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.workspace]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, c.workspace)
	}
}

// Notify queues a change event for every browser attached to workspace.
// It never blocks; events are dropped while the queue is full.
func (h *Hub) Notify(workspace, event string) {
	select {
	case h.broadcast <- Message{Workspace: workspace, Event: event}:
	default:
		slog.Warn("Live update queue full, dropping event", "workspace", workspace, "event", event)
	}
}

// Clients returns the number of connections attached to workspace
func (h *Hub) Clients(workspace string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[workspace])
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// ServeWs upgrades the request and attaches the connection to workspace
func (h *Hub) ServeWs(w http.ResponseWriter, r *http.Request, workspace string) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Unable to upgrade websocket", "err", err)
		return
	}
	c := &client{workspace: workspace, conn: conn, send: make(chan []byte, sendBuffer)}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	case <-r.Context().Done():
		conn.Close()
		return
	}

	go h.writePump(c)
	go h.readPump(c)
}

// readPump only watches for the browser going away
func (h *Hub) readPump(c *client) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case payload, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				slog.Warn("Unable to write websocket message", "workspace", c.workspace, "err", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
