// Package hub fans daemon events out to connected UI surfaces (popup,
// recorder window, dashboard) over websockets and routes their commands
// back in.
//
// The wire protocol is JSON text frames. Server to client frames are
// Events, client to server frames are Commands. Delivery is best-effort:
// a client that stops reading is dropped and can reconnect, the daemon's
// state store remains the source of truth.
package hub

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

const (
	sendBuffer   = 32
	writeTimeout = 5 * time.Second
)

// Event is one server-to-client notification.
type Event struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Command is one client-to-server request.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// CommandHandler processes one command. reply sends events to the issuing
// client only; broadcasts go through Hub.Broadcast.
type CommandHandler func(ctx context.Context, cmd Command, reply func(Event))

// Hub accepts websocket clients and broadcasts events to them.
type Hub struct {
	logger  *slog.Logger
	handler CommandHandler

	mu      sync.Mutex
	clients map[*client]struct{}
	closed  bool
}

// client's send channel is never closed; drop signals done instead, so a
// broadcast racing a disconnect lands in the buffer or is discarded, never
// sent on a closed channel.
type client struct {
	conn *websocket.Conn
	send chan Event
	done chan struct{}
	once sync.Once
}

// New creates a Hub. handler may be nil, in which case commands are
// logged and discarded. A nil logger disables logging.
func New(handler CommandHandler, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Hub{
		logger:  logger,
		handler: handler,
		clients: make(map[*client]struct{}),
	}
}

// ServeHTTP implements http.Handler by upgrading the request to a
// websocket and serving it until the client disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err)
		return
	}

	c := &client{
		conn: conn,
		send: make(chan Event, sendBuffer),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close(websocket.StatusGoingAway, "shutting down")
		return
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("client connected", "clients", n)

	ctx := r.Context()
	go h.writeLoop(ctx, c)
	h.readLoop(ctx, c)

	h.drop(c, websocket.StatusNormalClosure, "")
}

// readLoop decodes commands and dispatches them to the handler.
func (h *Hub) readLoop(ctx context.Context, c *client) {
	for {
		var cmd Command
		if err := wsjson.Read(ctx, c.conn, &cmd); err != nil {
			return
		}
		if h.handler == nil {
			h.logger.Warn("command dropped, no handler", "type", cmd.Type)
			continue
		}
		h.handler(ctx, cmd, func(ev Event) { h.send(c, ev) })
	}
}

// writeLoop flushes the client's send queue until the client is dropped.
func (h *Hub) writeLoop(ctx context.Context, c *client) {
	for {
		select {
		case <-c.done:
			return
		case ev := <-c.send:
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := wsjson.Write(writeCtx, c.conn, ev)
			cancel()
			if err != nil {
				h.drop(c, websocket.StatusAbnormalClosure, "write failed")
				return
			}
		}
	}
}

// Broadcast queues ev for every connected client. Clients whose queue is
// full are dropped rather than blocking the caller.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.send(c, ev)
	}
}

// send enqueues ev for one client, dropping the client on backpressure.
// Events for an already-dropped client are discarded.
func (h *Hub) send(c *client, ev Event) {
	select {
	case <-c.done:
	case c.send <- ev:
	default:
		h.logger.Warn("dropping slow client", "event", ev.Type)
		h.drop(c, websocket.StatusPolicyViolation, "too slow")
	}
}

// drop removes the client, signals its writeLoop and closes the
// connection exactly once.
func (h *Hub) drop(c *client, code websocket.StatusCode, reason string) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()

	c.once.Do(func() {
		close(c.done)
		c.conn.Close(code, reason)
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients and refuses new ones.
func (h *Hub) Close() error {
	h.mu.Lock()
	h.closed = true
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.Unlock()

	for _, c := range targets {
		h.drop(c, websocket.StatusGoingAway, "shutting down")
	}
	return nil
}
