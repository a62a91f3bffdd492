package core

import "time"

// EventKind discriminates the outbound delivery event types.
type EventKind string

const (
	// EventAck acknowledges a connection or an accepted request.
	EventAck EventKind = "ack"
	// EventChunk carries incremental response content.
	EventChunk EventKind = "chunk"
	// EventFinal carries the terminal message for a request. It is always
	// the last non-heartbeat event for that request.
	EventFinal EventKind = "final"
	// EventStatus reports progress (agent selected, task started, ...).
	EventStatus EventKind = "status"
	// EventError reports a user-visible failure, paired with any partial
	// result produced before the failure.
	EventError EventKind = "error"
	// EventHeartbeat keeps the connection alive; heartbeats may interleave
	// with a request's chunk stream.
	EventHeartbeat EventKind = "heartbeat"
)

// Event is one outbound unit on the streamed response channel. For a single
// in-flight request, chunks and the final event are delivered strictly in
// generation order; heartbeats carry no request correlation and may
// interleave freely.
type Event struct {
	ID             string     `json:"id"`
	Kind           EventKind  `json:"kind"`
	RequestID      string     `json:"request_id,omitempty"`
	ConversationID string     `json:"conversation_id,omitempty"`
	Agent          AgentInfo  `json:"agent,omitempty"`
	Content        string     `json:"content,omitempty"`
	// Parts carries the composite breakdown on final events produced by a
	// decomposition.
	Parts []ResultPart `json:"parts,omitempty"`
	// Code and Content describe the failure on error events.
	Code      Code      `json:"code,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(kind EventKind, requestID, conversationID string) Event {
	return Event{
		ID:             NewID(),
		Kind:           kind,
		RequestID:      requestID,
		ConversationID: conversationID,
		Timestamp:      time.Now().UTC(),
	}
}

// NewAckEvent acknowledges acceptance of a request (or a fresh connection
// when requestID is empty).
func NewAckEvent(requestID, conversationID string) Event {
	return newEvent(EventAck, requestID, conversationID)
}

// NewChunkEvent carries one incremental content fragment.
func NewChunkEvent(requestID, conversationID string, agent AgentInfo, text string) Event {
	ev := newEvent(EventChunk, requestID, conversationID)
	ev.Agent = agent
	ev.Content = text
	return ev
}

// NewFinalEvent carries the terminal message for a request.
func NewFinalEvent(requestID, conversationID string, agent AgentInfo, content string, parts []ResultPart) Event {
	ev := newEvent(EventFinal, requestID, conversationID)
	ev.Agent = agent
	ev.Content = content
	ev.Parts = parts
	return ev
}

// NewStatusEvent reports a progress note for a request.
func NewStatusEvent(requestID, conversationID string, agent AgentInfo, note string) Event {
	ev := newEvent(EventStatus, requestID, conversationID)
	ev.Agent = agent
	ev.Content = note
	return ev
}

// NewErrorEvent reports a user-visible failure with its taxonomy code.
func NewErrorEvent(requestID, conversationID string, code Code, message string) Event {
	ev := newEvent(EventError, requestID, conversationID)
	ev.Code = code
	ev.Content = message
	return ev
}

// NewHeartbeatEvent constructs a keepalive event.
func NewHeartbeatEvent() Event { return newEvent(EventHeartbeat, "", "") }
