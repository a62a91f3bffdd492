package core

import "context"

// ConversationStore is the persistence collaborator for conversations. The
// engine treats storage as a dependency, not an owned subsystem: it only
// needs append-only message writes, read-by-id and per-user listing.
// Implementations must preserve message append order.
type ConversationStore interface {
	// Create allocates a conversation owned by userID. A non-empty id is
	// honored; an empty id is generated.
	Create(ctx context.Context, id, userID string) (*Conversation, error)
	// Get returns a snapshot of the conversation or a CodeNotFound error.
	Get(ctx context.Context, id string) (*Conversation, error)
	// AppendMessage appends one turn, or returns CodeNotFound for an unknown
	// conversation.
	AppendMessage(ctx context.Context, conversationID string, msg Message) error
	// ListByUser returns the user's conversations in reverse-chronological
	// order of last update, paginated by offset/limit.
	ListByUser(ctx context.Context, userID string, offset, limit int) ([]*Conversation, error)
}

// AgentStore persists agent definitions for the registry. In-memory and
// SQLite implementations live in the store package.
type AgentStore interface {
	// Put inserts or replaces a definition keyed by id.
	Put(ctx context.Context, def *AgentDefinition) error
	// Get returns the definition or a CodeNotFound error.
	Get(ctx context.Context, id string) (*AgentDefinition, error)
	// List returns all definitions ordered by registration time.
	List(ctx context.Context) ([]*AgentDefinition, error)
}
