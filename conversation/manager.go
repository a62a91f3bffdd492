// Package conversation manages per-conversation message history on top of a
// ConversationStore collaborator: get-or-create, append-only writes and
// bounded context-window construction. Appends within one conversation are
// serialized through a per-conversation lock, so read-back order always
// equals append order. Independent conversations never block on each other.
package conversation

import (
	"context"
	"sync"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
)

// Options configures a Manager.
type Options struct {
	// Tokens estimates message cost for window building; defaults to the
	// heuristic counter.
	Tokens TokenCounter
	Logger logging.Logger
}

// Manager owns conversation lifecycle and context-window construction.
// Safe for concurrent use.
type Manager struct {
	store  core.ConversationStore
	tokens TokenCounter
	logger logging.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager constructs a Manager over the given store.
func NewManager(store core.ConversationStore, optFns ...func(o *Options)) *Manager {
	opts := Options{Tokens: HeuristicCounter{}, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Manager{
		store:  store,
		tokens: opts.Tokens,
		logger: opts.Logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lockFor returns the per-conversation mutex, creating it lazily.
func (m *Manager) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.locks[conversationID]
	if !ok {
		l = &sync.Mutex{}
		m.locks[conversationID] = l
	}
	return l
}

// GetOrCreate returns the existing conversation or creates a fresh one bound
// to userID. A non-empty unknown id is created rather than rejected so the
// first message of a conversation can carry a client-chosen id; CodeNotFound
// is reserved for explicit Get paths.
func (m *Manager) GetOrCreate(ctx context.Context, conversationID, userID string) (*core.Conversation, error) {
	if conversationID != "" {
		conv, err := m.store.Get(ctx, conversationID)
		if err == nil {
			return conv, nil
		}
		if core.CodeOf(err) != core.CodeNotFound {
			return nil, err
		}
	}
	conv, err := m.store.Create(ctx, conversationID, userID)
	if err != nil {
		return nil, err
	}
	m.logger.Debug("conversation created", "conversation_id", conv.ID, "user_id", userID)
	return conv, nil
}

// Get returns a snapshot of the conversation or CodeNotFound.
func (m *Manager) Get(ctx context.Context, conversationID string) (*core.Conversation, error) {
	return m.store.Get(ctx, conversationID)
}

// Append adds one turn under the conversation's writer lock, preserving the
// append-only ordering invariant. Returns CodeNotFound for an unknown
// conversation.
func (m *Manager) Append(ctx context.Context, conversationID string, msg core.Message) error {
	l := m.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()
	return m.store.AppendMessage(ctx, conversationID, msg)
}

// BuildContext returns a bounded slice of the conversation's history sized
// to the window policy. Selection walks from the newest turn backwards until
// a bound is hit, then returns the suffix in chronological order. Oldest
// turns are dropped first and the window is always contiguous.
func (m *Manager) BuildContext(ctx context.Context, conversationID string, policy WindowPolicy) ([]core.Message, error) {
	l := m.lockFor(conversationID)
	l.Lock()
	defer l.Unlock()

	conv, err := m.store.Get(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	history := conv.History()

	budget := policy.TokenBudget
	start := len(history)
	for start > 0 {
		next := history[start-1]
		if policy.MaxMessages > 0 && len(history)-start+1 > policy.MaxMessages {
			break
		}
		if budget > 0 {
			cost := m.tokens.Count(next.Content)
			if cost > budget && start != len(history) {
				break
			}
			budget -= cost
		}
		start--
	}
	window := make([]core.Message, len(history)-start)
	copy(window, history[start:])
	return window, nil
}

// List returns the user's conversations in reverse-chronological order.
func (m *Manager) List(ctx context.Context, userID string, offset, limit int) ([]*core.Conversation, error) {
	return m.store.ListByUser(ctx, userID, offset, limit)
}
