// Package delivery pushes engine events to connected clients. Each user has
// at most one canonical connection; binding a new one supersedes and closes
// the previous. Every connection gets a single writer goroutine draining a
// buffered queue, so events for one recipient are written in enqueue order.
// When no open connection exists, Deliver reports false and the caller falls
// back to a synchronous response.
package delivery

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
)

// State is a connection's lifecycle phase. Transitions only move forward:
// connecting, open, closing, closed.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateClosing
	StateClosed
)

// String implements fmt.Stringer.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "closed"
	}
}

// Transport writes events to one client. Implementations must be safe for a
// single writer; the Conn serializes all writes.
type Transport interface {
	Write(ctx context.Context, ev core.Event) error
	Close() error
}

// Conn is one client connection with its write queue and writer goroutine.
type Conn struct {
	ID     string
	UserID string

	transport Transport
	sendCh    chan core.Event
	done      chan struct{}
	closeOnce sync.Once
	logger    logging.Logger

	mu    sync.Mutex
	state State

	onClose func(*Conn)
}

func newConn(userID string, t Transport, buffer int, logger logging.Logger, onClose func(*Conn)) *Conn {
	return &Conn{
		ID:        core.NewID(),
		UserID:    userID,
		transport: t,
		sendCh:    make(chan core.Event, buffer),
		done:      make(chan struct{}),
		logger:    logger,
		state:     StateConnecting,
		onClose:   onClose,
	}
}

// State returns the current lifecycle phase.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// transition advances the state machine; backwards moves are ignored.
func (c *Conn) transition(to State) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if to <= c.state {
		return false
	}
	c.state = to
	return true
}

// enqueue queues an event for the writer. Returns false when the connection
// is not open or the queue is full; a full queue closes the connection so a
// stalled client cannot back-pressure the engine.
func (c *Conn) enqueue(ev core.Event) bool {
	if c.State() != StateOpen {
		return false
	}
	select {
	case c.sendCh <- ev:
		return true
	default:
		c.logger.Warn("send queue full, closing connection", "conn_id", c.ID, "user_id", c.UserID)
		c.Close()
		return false
	}
}

// Close moves the connection to closing, stops the writer and closes the
// transport. Idempotent.
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		c.transition(StateClosing)
		close(c.done)
	})
}

// serve is the single writer loop. Drains the queue in order, emits
// heartbeats while idle, and tears the connection down on any write error.
func (c *Conn) serve(ctx context.Context, heartbeat time.Duration) {
	defer func() {
		c.transition(StateClosed)
		if err := c.transport.Close(); err != nil {
			c.logger.Debug("transport close", "conn_id", c.ID, "error", err)
		}
		if c.onClose != nil {
			c.onClose(c)
		}
	}()

	var ticker *time.Ticker
	var tick <-chan time.Time
	if heartbeat > 0 {
		ticker = time.NewTicker(heartbeat)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			// Flush whatever is already queued before closing.
			for {
				select {
				case ev := <-c.sendCh:
					if err := c.transport.Write(ctx, ev); err != nil {
						return
					}
				default:
					return
				}
			}
		case ev := <-c.sendCh:
			if err := c.transport.Write(ctx, ev); err != nil {
				c.logger.Debug("write failed, closing connection", "conn_id", c.ID, "error", err)
				c.Close()
				return
			}
		case <-tick:
			if err := c.transport.Write(ctx, core.NewHeartbeatEvent()); err != nil {
				c.logger.Debug("heartbeat failed, closing connection", "conn_id", c.ID, "error", err)
				c.Close()
				return
			}
		}
	}
}
