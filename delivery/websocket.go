package delivery

import (
	"context"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/hupe1980/agentgrid/core"
)

// WebsocketTransport writes events as JSON frames over a websocket.
type WebsocketTransport struct {
	conn    *websocket.Conn
	readCtx context.Context
}

// NewWebsocketTransport wraps an accepted websocket connection. The server
// side only writes; inbound frames are drained and discarded via CloseRead.
func NewWebsocketTransport(ctx context.Context, conn *websocket.Conn) *WebsocketTransport {
	return &WebsocketTransport{conn: conn, readCtx: conn.CloseRead(ctx)}
}

// Done is closed once the peer closes the connection or the read loop fails.
func (t *WebsocketTransport) Done() <-chan struct{} {
	return t.readCtx.Done()
}

// Write sends one event frame.
func (t *WebsocketTransport) Write(ctx context.Context, ev core.Event) error {
	return wsjson.Write(ctx, t.conn, ev)
}

// Close performs the websocket close handshake.
func (t *WebsocketTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "")
}
