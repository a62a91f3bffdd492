package core

import (
	"sync"
	"time"
)

// Message roles. The engine records exactly two conversational roles; agent
// attribution travels in AgentID rather than the role string.
const (
	RoleUser  = "user"
	RoleAgent = "agent"
)

// Message is one immutable conversation turn. Failed attempts are recorded
// too, with the Error annotation set, so conversation context stays
// consistent on the next turn.
type Message struct {
	ID             string            `json:"id"`
	ConversationID string            `json:"conversation_id"`
	Role           string            `json:"role"`
	Content        string            `json:"content"`
	AgentID        string            `json:"agent_id,omitempty"`
	AgentName      string            `json:"agent_name,omitempty"`
	Error          string            `json:"error,omitempty"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NewUserMessage constructs a user-authored turn bound to a conversation.
func NewUserMessage(conversationID, content string) Message {
	return Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Timestamp:      time.Now().UTC(),
	}
}

// NewAgentMessage constructs an agent-authored turn with attribution.
func NewAgentMessage(conversationID string, agent AgentInfo, content string) Message {
	return Message{
		ID:             NewID(),
		ConversationID: conversationID,
		Role:           RoleAgent,
		Content:        content,
		AgentID:        agent.ID,
		AgentName:      agent.Name,
		Timestamp:      time.Now().UTC(),
	}
}

// Conversation is an ordered exchange between one user and the system.
// Messages are append-only and strictly ordered by creation; history is
// never reordered or mutated retroactively. The embedded mutex makes the
// in-memory representation safe for concurrent access; stores returning
// snapshots should Clone first.
type Conversation struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	Messages []Message `json:"messages"`
	Created  time.Time `json:"created"`
	Updated  time.Time `json:"updated"`

	mu sync.RWMutex
}

// NewConversation creates an empty conversation owned by userID.
func NewConversation(id, userID string) *Conversation {
	now := time.Now().UTC()
	return &Conversation{ID: id, UserID: userID, Messages: []Message{}, Created: now, Updated: now}
}

// Append adds a message to the history, updating the Updated timestamp.
func (c *Conversation) Append(msg Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Messages = append(c.Messages, msg)
	c.Updated = time.Now().UTC()
}

// History returns a defensive copy of the full message slice in append order.
func (c *Conversation) History() []Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Message, len(c.Messages))
	copy(out, c.Messages)
	return out
}

// Len returns the current number of messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.Messages)
}

// Clone returns a deep copy safe for independent mutation.
func (c *Conversation) Clone() *Conversation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	clone := &Conversation{ID: c.ID, UserID: c.UserID, Messages: make([]Message, len(c.Messages)), Created: c.Created, Updated: c.Updated}
	copy(clone.Messages, c.Messages)
	return clone
}
