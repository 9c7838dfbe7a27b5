// Package live pushes task update events to open dashboards over websockets.
package live

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/gofixpoint/fixpoint/internal/model"
)

const (
	EventTaskUpdated = "task_updated"

	writeWait  = 2 * time.Second
	sendBuffer = 64
)

type Event struct {
	Type string      `json:"type"`
	Task *model.Task `json:"task,omitempty"`
}

type conn struct {
	ws   *websocket.Conn
	send chan []byte
}

// Hub fans task events out to websocket clients and in-process listeners.
// Run must be running for broadcasts to be delivered.
type Hub struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader

	register   chan *conn
	unregister chan *conn
	broadcast  chan Event
	done       chan struct{}

	mu        sync.RWMutex
	conns     map[*conn]struct{}
	listeners []func(Event)
}

func NewHub(logger *zap.Logger) *Hub {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:   1024,
			WriteBufferSize:  1024,
			HandshakeTimeout: 10 * time.Second,
		},
		register:   make(chan *conn),
		unregister: make(chan *conn),
		broadcast:  make(chan Event, sendBuffer),
		done:       make(chan struct{}),
		conns:      make(map[*conn]struct{}),
	}
}

// Subscribe registers fn to be called with every event. Listeners run on the
// hub goroutine and must not block.
func (h *Hub) Subscribe(fn func(Event)) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.listeners = append(h.listeners, fn)
}

// PublishTaskUpdated queues an update event. Events are dropped when the
// queue is full.
func (h *Hub) PublishTaskUpdated(t model.Task) {
	c := t.Clone()
	select {
	case h.broadcast <- Event{Type: EventTaskUpdated, Task: &c}:
	default:
		h.logger.Warn("live event dropped", zap.String("task_id", string(t.ID)))
	}
}

func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// Run delivers events until ctx is done, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.conns {
				delete(h.conns, c)
				close(c.send)
			}
			h.mu.Unlock()
			return

		case c := <-h.register:
			h.mu.Lock()
			h.conns[c] = struct{}{}
			h.mu.Unlock()

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.conns[c]; ok {
				delete(h.conns, c)
				close(c.send)
			}
			h.mu.Unlock()

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("encode live event", zap.Error(err))
		return
	}

	h.mu.RLock()
	listeners := append([]func(Event){}, h.listeners...)
	for c := range h.conns {
		select {
		case c.send <- data:
		default:
			// Slow client; it catches up on its next refetch.
		}
	}
	h.mu.RUnlock()

	for _, fn := range listeners {
		fn(ev)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes
// away.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := &conn{ws: ws, send: make(chan []byte, sendBuffer)}
	select {
	case h.register <- c:
	case <-h.done:
		_ = ws.Close()
		return
	}

	go h.writeLoop(c)

	// Clients never send anything meaningful; reading detects disconnects.
	for {
		if _, _, err := ws.ReadMessage(); err != nil {
			break
		}
	}
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) writeLoop(c *conn) {
	defer c.ws.Close()
	for msg := range c.send {
		_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
			h.logger.Debug("websocket write failed", zap.Error(err))
			return
		}
	}
	_ = c.ws.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}
