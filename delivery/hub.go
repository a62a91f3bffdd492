package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
)

// Options configures a Hub.
type Options struct {
	// Heartbeat is the idle keep-alive interval. Zero disables heartbeats.
	Heartbeat time.Duration
	// Buffer is the per-connection send queue depth.
	Buffer int
	Logger logging.Logger
}

// Hub tracks the canonical connection per user. Safe for concurrent use.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]*Conn // userID -> canonical connection

	heartbeat time.Duration
	buffer    int
	logger    logging.Logger
}

// NewHub constructs a Hub with optional overrides.
func NewHub(optFns ...func(o *Options)) *Hub {
	opts := Options{Heartbeat: 20 * time.Second, Buffer: 64, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Hub{
		conns:     make(map[string]*Conn),
		heartbeat: opts.Heartbeat,
		buffer:    opts.Buffer,
		logger:    opts.Logger,
	}
}

// Bind registers a transport as the user's canonical connection, supersedes
// and closes any previous one, starts the writer goroutine and sends the
// connection acknowledgement. The returned Conn is open until ctx is
// canceled, the transport fails, or a newer connection supersedes it.
func (h *Hub) Bind(ctx context.Context, userID string, t Transport) *Conn {
	conn := newConn(userID, t, h.buffer, h.logger, h.remove)

	h.mu.Lock()
	prev := h.conns[userID]
	h.conns[userID] = conn
	h.mu.Unlock()

	if prev != nil {
		h.logger.Debug("connection superseded", "user_id", userID, "old_conn_id", prev.ID, "new_conn_id", conn.ID)
		prev.Close()
	}

	conn.transition(StateOpen)
	go conn.serve(ctx, h.heartbeat)
	conn.enqueue(core.NewAckEvent("", ""))

	h.logger.Info("connection bound", "user_id", userID, "conn_id", conn.ID)
	return conn
}

// Deliver queues an event for the user's canonical connection. Returns false
// when the user has no open connection or the enqueue fails; the caller then
// completes the request synchronously instead.
func (h *Hub) Deliver(userID string, ev core.Event) bool {
	h.mu.RLock()
	conn := h.conns[userID]
	h.mu.RUnlock()

	if conn == nil {
		return false
	}
	return conn.enqueue(ev)
}

// Connected reports whether the user has an open connection.
func (h *Hub) Connected(userID string) bool {
	h.mu.RLock()
	conn := h.conns[userID]
	h.mu.RUnlock()
	return conn != nil && conn.State() == StateOpen
}

// Len returns the number of bound connections.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// CloseAll closes every bound connection. Used on shutdown.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	conns := make([]*Conn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		c.Close()
	}
}

// remove drops the connection from the table unless a newer one already
// superseded it.
func (h *Hub) remove(c *Conn) {
	h.mu.Lock()
	if cur, ok := h.conns[c.UserID]; ok && cur == c {
		delete(h.conns, c.UserID)
	}
	h.mu.Unlock()
}
