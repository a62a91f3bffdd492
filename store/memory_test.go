package store

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/core"
)

func TestMemoryCreateHonorsID(t *testing.T) {
	s := NewMemoryConversations()

	conv, err := s.Create(context.Background(), "conv-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, "conv-1", conv.ID)
	assert.Equal(t, "u1", conv.UserID)

	// Re-creating an existing id returns the same conversation.
	again, err := s.Create(context.Background(), "conv-1", "u1")
	require.NoError(t, err)
	assert.Equal(t, conv.ID, again.ID)
}

func TestMemoryCreateGeneratesID(t *testing.T) {
	s := NewMemoryConversations()
	conv, err := s.Create(context.Background(), "", "u1")
	require.NoError(t, err)
	assert.NotEmpty(t, conv.ID)
}

func TestMemoryGetUnknown(t *testing.T) {
	s := NewMemoryConversations()
	_, err := s.Get(context.Background(), "missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryAppendUnknown(t *testing.T) {
	s := NewMemoryConversations()
	err := s.AppendMessage(context.Background(), "missing", core.NewUserMessage("missing", "hi"))
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryAppendPreservesOrder(t *testing.T) {
	s := NewMemoryConversations()
	_, err := s.Create(context.Background(), "conv-1", "u1")
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		msg := core.NewUserMessage("conv-1", fmt.Sprintf("m%d", i))
		require.NoError(t, s.AppendMessage(context.Background(), "conv-1", msg))
	}

	conv, err := s.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	history := conv.History()
	require.Len(t, history, 5)
	for i, msg := range history {
		assert.Equal(t, fmt.Sprintf("m%d", i), msg.Content)
	}
}

func TestMemoryGetReturnsSnapshot(t *testing.T) {
	s := NewMemoryConversations()
	_, err := s.Create(context.Background(), "conv-1", "u1")
	require.NoError(t, err)
	require.NoError(t, s.AppendMessage(context.Background(), "conv-1", core.NewUserMessage("conv-1", "original")))

	conv, err := s.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	conv.Messages[0].Content = "mutated"

	fresh, err := s.Get(context.Background(), "conv-1")
	require.NoError(t, err)
	assert.Equal(t, "original", fresh.Messages[0].Content)
}

func TestMemoryListByUser(t *testing.T) {
	s := NewMemoryConversations()
	for i := 0; i < 3; i++ {
		_, err := s.Create(context.Background(), fmt.Sprintf("conv-%d", i), "u1")
		require.NoError(t, err)
	}
	_, err := s.Create(context.Background(), "other", "u2")
	require.NoError(t, err)

	// An append bumps conv-0 to the front of the recency order.
	require.NoError(t, s.AppendMessage(context.Background(), "conv-0", core.NewUserMessage("conv-0", "hi")))

	out, err := s.ListByUser(context.Background(), "u1", 0, 10)
	require.NoError(t, err)
	require.Len(t, out, 3)
	assert.Equal(t, "conv-0", out[0].ID)

	// Pagination.
	page, err := s.ListByUser(context.Background(), "u1", 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)

	empty, err := s.ListByUser(context.Background(), "u1", 10, 1)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestMemoryAgentsRoundTrip(t *testing.T) {
	s := NewMemoryAgents()

	def := &core.AgentDefinition{
		ID:           "a1",
		Name:         "sales-analyst",
		Capabilities: []core.Capability{core.CapabilitySalesAnalysis},
		Active:       true,
	}
	require.NoError(t, s.Put(context.Background(), def))

	got, err := s.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "sales-analyst", got.Name)

	// The stored copy is detached from the caller's definition.
	def.Name = "renamed"
	got, err = s.Get(context.Background(), "a1")
	require.NoError(t, err)
	assert.Equal(t, "sales-analyst", got.Name)

	_, err = s.Get(context.Background(), "ghost")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestMemoryAgentsListKeepsInsertionOrder(t *testing.T) {
	s := NewMemoryAgents()
	for _, id := range []string{"a1", "a2", "a3"} {
		require.NoError(t, s.Put(context.Background(), &core.AgentDefinition{ID: id, Name: id}))
	}
	// A replace does not reorder.
	require.NoError(t, s.Put(context.Background(), &core.AgentDefinition{ID: "a1", Name: "a1-v2"}))

	defs, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, defs, 3)
	assert.Equal(t, "a1-v2", defs[0].Name)
	assert.Equal(t, "a2", defs[1].Name)
	assert.Equal(t, "a3", defs[2].Name)
}
