// Package store provides the persistence backends: in-memory stores for
// tests and single-process runs, and a SQLite-backed store for durable
// deployments. Backends implement core.ConversationStore and core.AgentStore.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/hupe1980/agentgrid/core"
)

// MemoryConversations is a process-local conversation store. Safe for
// concurrent use.
type MemoryConversations struct {
	mu            sync.RWMutex
	conversations map[string]*core.Conversation
}

var _ core.ConversationStore = (*MemoryConversations)(nil)

// NewMemoryConversations constructs an empty in-memory conversation store.
func NewMemoryConversations() *MemoryConversations {
	return &MemoryConversations{conversations: make(map[string]*core.Conversation)}
}

// Create implements core.ConversationStore. Creating an id that already
// exists returns the existing conversation.
func (s *MemoryConversations) Create(_ context.Context, id, userID string) (*core.Conversation, error) {
	if id == "" {
		id = core.NewID()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.conversations[id]; ok {
		return existing.Clone(), nil
	}
	conv := core.NewConversation(id, userID)
	s.conversations[id] = conv
	return conv.Clone(), nil
}

// Get implements core.ConversationStore.
func (s *MemoryConversations) Get(_ context.Context, id string) (*core.Conversation, error) {
	s.mu.RLock()
	conv, ok := s.conversations[id]
	s.mu.RUnlock()
	if !ok {
		return nil, core.NewError(core.CodeNotFound, "conversation %s not found", id)
	}
	return conv.Clone(), nil
}

// AppendMessage implements core.ConversationStore.
func (s *MemoryConversations) AppendMessage(_ context.Context, conversationID string, msg core.Message) error {
	s.mu.RLock()
	conv, ok := s.conversations[conversationID]
	s.mu.RUnlock()
	if !ok {
		return core.NewError(core.CodeNotFound, "conversation %s not found", conversationID)
	}
	conv.Append(msg)
	return nil
}

// ListByUser implements core.ConversationStore.
func (s *MemoryConversations) ListByUser(_ context.Context, userID string, offset, limit int) ([]*core.Conversation, error) {
	s.mu.RLock()
	var out []*core.Conversation
	for _, conv := range s.conversations {
		if conv.UserID == userID {
			out = append(out, conv.Clone())
		}
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Updated.After(out[j].Updated) })
	if offset >= len(out) {
		return nil, nil
	}
	out = out[offset:]
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out, nil
}

// MemoryAgents is a process-local agent definition store. Safe for
// concurrent use.
type MemoryAgents struct {
	mu     sync.RWMutex
	agents map[string]*core.AgentDefinition
	order  []string
}

var _ core.AgentStore = (*MemoryAgents)(nil)

// NewMemoryAgents constructs an empty in-memory agent store.
func NewMemoryAgents() *MemoryAgents {
	return &MemoryAgents{agents: make(map[string]*core.AgentDefinition)}
}

// Put implements core.AgentStore.
func (s *MemoryAgents) Put(_ context.Context, def *core.AgentDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.agents[def.ID]; !exists {
		s.order = append(s.order, def.ID)
	}
	s.agents[def.ID] = copyDefinition(def)
	return nil
}

// Get implements core.AgentStore.
func (s *MemoryAgents) Get(_ context.Context, id string) (*core.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.agents[id]
	if !ok {
		return nil, core.NewError(core.CodeNotFound, "agent %s not found", id)
	}
	return copyDefinition(def), nil
}

// List implements core.AgentStore.
func (s *MemoryAgents) List(_ context.Context) ([]*core.AgentDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*core.AgentDefinition, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, copyDefinition(s.agents[id]))
	}
	return out, nil
}

func copyDefinition(def *core.AgentDefinition) *core.AgentDefinition {
	cp := *def
	cp.Capabilities = append([]core.Capability(nil), def.Capabilities...)
	return &cp
}
