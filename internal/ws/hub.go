// Package ws provides the operator WebSocket hub. Components broadcast JSON
// events through the hub and every connected client receives them in real
// time. Text frames sent by a client are operator commands; each one is
// handed to the hub's Dispatcher and the answer is written back on the same
// connection. The hub also handles ping/pong keepalives so stale connections
// get cleaned up automatically.
package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/large-farva/flight-arbiter/internal/logging"
)

// Dispatcher answers one inbound command frame. The returned value is
// marshaled to JSON and sent to the client that sent the frame; a nil return
// sends nothing.
type Dispatcher func(ctx context.Context, msg []byte) any

// maxCommandBytes bounds an inbound frame. Command envelopes are small; a
// waypoint mission with a few hundred points fits comfortably.
const maxCommandBytes = 256 << 10

type direct struct {
	conn *websocket.Conn
	msg  []byte
}

// Hub manages WebSocket client connections and fans out broadcast messages
// to all of them. It is safe for concurrent use; register, unregister,
// broadcast and direct replies all go through channels so only Run writes
// to a connection.
type Hub struct {
	clients    map[*websocket.Conn]struct{}
	count      atomic.Int64
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	broadcast  chan []byte
	replies    chan direct
	upgrader   websocket.Upgrader

	dispatch Dispatcher
	log      *logging.Logger
}

// NewHub allocates a hub with buffered channels. dispatch may be nil, in
// which case inbound frames are read and discarded.
// Call Run in a goroutine to start the event loop.
func NewHub(dispatch Dispatcher, log *logging.Logger) *Hub {
	return &Hub{
		clients:    make(map[*websocket.Conn]struct{}),
		register:   make(chan *websocket.Conn, 16),
		unregister: make(chan *websocket.Conn, 16),
		broadcast:  make(chan []byte, 256),
		replies:    make(chan direct, 64),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		dispatch: dispatch,
		log:      log,
	}
}

// Clients returns the number of connected clients.
func (h *Hub) Clients() int { return int(h.count.Load()) }

// Run processes registrations, unregistrations, broadcasts, replies, and
// keepalive pings in a single select loop. It closes all clients when ctx
// is cancelled.
func (h *Hub) Run(ctx context.Context) {
	ping := time.NewTicker(20 * time.Second)
	defer ping.Stop()

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				_ = c.Close()
			}
			h.count.Store(0)
			return

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))

		case c := <-h.unregister:
			h.drop(c)

		case msg := <-h.broadcast:
			for c := range h.clients {
				h.write(c, msg)
			}

		case r := <-h.replies:
			if _, ok := h.clients[r.conn]; ok {
				h.write(r.conn, r.msg)
			}

		case <-ping.C:
			for c := range h.clients {
				_ = c.SetWriteDeadline(time.Now().Add(2 * time.Second))
				if err := c.WriteMessage(websocket.PingMessage, nil); err != nil {
					h.drop(c)
				}
			}
		}
	}
}

func (h *Hub) write(c *websocket.Conn, msg []byte) {
	_ = c.SetWriteDeadline(time.Now().Add(3 * time.Second))
	if err := c.WriteMessage(websocket.TextMessage, msg); err != nil {
		h.drop(c)
	}
}

func (h *Hub) drop(c *websocket.Conn) {
	delete(h.clients, c)
	h.count.Store(int64(len(h.clients)))
	_ = c.Close()
}

// Handler returns an http.Handler that upgrades incoming requests to
// WebSocket connections and registers them with the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, "websocket upgrade failed", http.StatusBadRequest)
			return
		}
		h.register <- conn

		go h.readLoop(conn)
	})
}

// readLoop consumes client frames until the connection fails. Commands run
// concurrently so a client can, for example, send land while its takeoff
// is still waiting on the vehicle.
func (h *Hub) readLoop(conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		h.unregister <- conn
	}()

	conn.SetReadLimit(maxCommandBytes)
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		if kind != websocket.TextMessage || h.dispatch == nil {
			continue
		}
		go h.answer(ctx, conn, msg)
	}
}

func (h *Hub) answer(ctx context.Context, conn *websocket.Conn, msg []byte) {
	reply := h.dispatch(ctx, msg)
	if reply == nil {
		return
	}
	b, err := json.Marshal(reply)
	if err != nil {
		h.log.Error("marshal command reply", "err", err)
		return
	}
	select {
	case h.replies <- direct{conn: conn, msg: b}:
	case <-ctx.Done():
	}
}

// BroadcastJSON marshals v to JSON and queues it for delivery to all
// connected clients. If the broadcast channel is full the message is
// silently dropped to avoid blocking the caller.
func (h *Hub) BroadcastJSON(v any) {
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	select {
	case h.broadcast <- b:
	default:
	}
}
