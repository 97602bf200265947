package stream

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 30 * time.Second
	sendBuffer = 32
)

// Hub relays room events to WebSocket clients. Clients attach to one room
// with ?room=<id>. The hub holds one upstream subscription per room with
// at least one client.
type Hub struct {
	sub       Subscriber
	logger    *slog.Logger
	validRoom func(string) bool
	onCount   func(int)

	rooms      map[string]map[*wsClient]bool
	cancels    map[string]func()
	register   chan *wsClient
	unregister chan *wsClient
	broadcast  chan Event
	done       chan struct{}
	total      int
}

type wsClient struct {
	room string
	conn *websocket.Conn
	send chan []byte
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithRoomValidator rejects upgrade requests whose room fails valid.
func WithRoomValidator(valid func(string) bool) HubOption {
	return func(h *Hub) { h.validRoom = valid }
}

// WithClientGauge reports the connected client count after every change.
func WithClientGauge(f func(int)) HubOption {
	return func(h *Hub) { h.onCount = f }
}

// NewHub creates a hub fed by sub.
func NewHub(sub Subscriber, logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	h := &Hub{
		sub:        sub,
		logger:     logger,
		validRoom:  func(id string) bool { return id != "" },
		rooms:      make(map[string]map[*wsClient]bool),
		cancels:    make(map[string]func()),
		register:   make(chan *wsClient),
		unregister: make(chan *wsClient),
		broadcast:  make(chan Event, 256),
		done:       make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

// Run is the hub's event loop. It owns all client bookkeeping and returns
// when ctx is cancelled.
func (h *Hub) Run(ctx context.Context) {
	defer func() {
		close(h.done)
		for room, clients := range h.rooms {
			for c := range clients {
				close(c.send)
			}
			h.cancels[room]()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return

		case c := <-h.register:
			if h.rooms[c.room] == nil {
				h.rooms[c.room] = make(map[*wsClient]bool)
				events, cancel := h.sub.Subscribe(ctx, c.room)
				h.cancels[c.room] = cancel
				go h.forward(ctx, events)
			}
			h.rooms[c.room][c] = true
			h.total++
			h.count()
			h.logger.Info("ws client connected", "room", c.room, "total", h.total)

		case c := <-h.unregister:
			h.drop(c)

		case e := <-h.broadcast:
			data, err := json.Marshal(e)
			if err != nil {
				continue
			}
			for c := range h.rooms[e.RoomID] {
				select {
				case c.send <- data:
				default:
					h.drop(c)
				}
			}
			if e.Type == RoomClosed {
				for c := range h.rooms[e.RoomID] {
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) drop(c *wsClient) {
	clients, ok := h.rooms[c.room]
	if !ok || !clients[c] {
		return
	}
	delete(clients, c)
	close(c.send)
	h.total--
	if len(clients) == 0 {
		delete(h.rooms, c.room)
		h.cancels[c.room]()
		delete(h.cancels, c.room)
	}
	h.count()
}

func (h *Hub) count() {
	if h.onCount != nil {
		h.onCount(h.total)
	}
}

func (h *Hub) forward(ctx context.Context, events <-chan Event) {
	for e := range events {
		select {
		case h.broadcast <- e:
		case <-ctx.Done():
			return
		default:
			// Drop if buffer full rather than stall the upstream stream.
		}
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

// HandleWS handles WebSocket upgrade requests at GET /ws?room=<id>.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")
	if !h.validRoom(room) {
		http.Error(w, `{"error":"invalid room"}`, http.StatusBadRequest)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws upgrade failed", "err", err)
		return
	}

	c := &wsClient{room: room, conn: conn, send: make(chan []byte, sendBuffer)}
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

// readPump keeps the connection alive and detects disconnects. Clients
// never send anything the hub acts on.
func (h *Hub) readPump(c *wsClient) {
	defer func() {
		select {
		case h.unregister <- c:
		case <-h.done:
		}
	}()
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
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
