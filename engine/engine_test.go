package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/agent"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/delivery"
	"github.com/hupe1980/agentgrid/internal/testutil"
)

func registerScripted(t *testing.T, e *Engine, name string, caps []core.Capability, keywords []string, response string) string {
	t.Helper()
	handler := agent.NewScriptedAgent(name, caps, response)
	id, err := e.RegisterAgent(context.Background(), core.AgentDefinition{
		Name:         name,
		Type:         "scripted",
		Capabilities: caps,
		Config:       core.AgentConfig{Keywords: keywords},
	}, handler)
	require.NoError(t, err)
	return id
}

func newChatEngine(t *testing.T, optFns ...func(o *Options)) *Engine {
	t.Helper()
	e := New(optFns...)
	registerScripted(t, e, "sales-analyst",
		[]core.Capability{core.CapabilitySalesAnalysis, core.CapabilityDataAnalysis},
		[]string{"sales", "销售"}, "sales answer")
	registerScripted(t, e, "inventory-analyst",
		[]core.Capability{core.CapabilityStockAnalysis},
		[]string{"inventory", "库存"}, "inventory answer")
	return e
}

func TestProcessRoutesByCapability(t *testing.T) {
	e := newChatEngine(t)

	resp, err := e.Process(context.Background(), core.Request{UserID: "u1", Message: "分析库存周转率"})
	require.NoError(t, err)
	assert.Equal(t, "inventory-analyst", resp.Agent.Name)
	assert.Equal(t, "inventory answer", resp.Content)
	assert.False(t, resp.Composite)
	assert.NotEmpty(t, resp.RequestID)
	assert.NotEmpty(t, resp.ConversationID)
}

func TestProcessPersistsBothTurns(t *testing.T) {
	e := newChatEngine(t)

	resp, err := e.Process(context.Background(), core.Request{UserID: "u1", Message: "show me the sales numbers"})
	require.NoError(t, err)

	conv, err := e.Conversations().Get(context.Background(), resp.ConversationID)
	require.NoError(t, err)
	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleUser, history[0].Role)
	assert.Equal(t, "show me the sales numbers", history[0].Content)
	assert.Equal(t, core.RoleAgent, history[1].Role)
	assert.Equal(t, "sales answer", history[1].Content)
	assert.Empty(t, history[1].Error)
}

func TestProcessContinuesConversation(t *testing.T) {
	e := newChatEngine(t)

	first, err := e.Process(context.Background(), core.Request{UserID: "u1", Message: "sales today"})
	require.NoError(t, err)

	second, err := e.Process(context.Background(), core.Request{
		UserID:         "u1",
		Message:        "sales yesterday",
		ConversationID: first.ConversationID,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ConversationID, second.ConversationID)

	conv, err := e.Conversations().Get(context.Background(), first.ConversationID)
	require.NoError(t, err)
	assert.Equal(t, 4, conv.Len())
}

func TestProcessNoEligibleAgent(t *testing.T) {
	e := New()

	_, err := e.Process(context.Background(), core.Request{UserID: "u1", Message: "anything"})
	assert.ErrorIs(t, err, core.ErrNoEligibleAgent)
}

func TestProcessCompoundRequest(t *testing.T) {
	e := newChatEngine(t)

	resp, err := e.Process(context.Background(), core.Request{UserID: "u1", Message: "对比上季度销售与库存"})
	require.NoError(t, err)
	assert.True(t, resp.Composite)
	require.Len(t, resp.Parts, 2)
	assert.Equal(t, "sales-analyst", resp.Parts[0].Agent.Name)
	assert.Equal(t, "inventory-analyst", resp.Parts[1].Agent.Name)
	assert.Equal(t, "sales answer\n\ninventory answer", resp.Content)
}

func TestPreferredAgentSkipsDecomposition(t *testing.T) {
	e := newChatEngine(t)
	entry, err := e.Registry().GetByName("sales-analyst")
	require.NoError(t, err)

	resp, err := e.Process(context.Background(), core.Request{
		UserID:           "u1",
		Message:          "对比上季度销售与库存",
		PreferredAgentID: entry.Def.ID,
	})
	require.NoError(t, err)
	assert.False(t, resp.Composite)
	assert.Equal(t, "sales-analyst", resp.Agent.Name)
}

func TestFallbackToNextAgent(t *testing.T) {
	e := New()
	flaky := &testutil.FailingAgent{
		AgentName: "flaky",
		Caps:      []core.Capability{core.CapabilitySalesAnalysis},
		Err:       errors.New("model unavailable"),
	}
	// The flaky agent carries the keyword so it scores highest and is tried
	// first; the backup wins the retry once the flaky agent is excluded.
	_, err := e.RegisterAgent(context.Background(), core.AgentDefinition{
		Name:         "flaky",
		Capabilities: flaky.Caps,
		Config:       core.AgentConfig{Keywords: []string{"sales"}},
	}, flaky)
	require.NoError(t, err)
	registerScripted(t, e, "backup", []core.Capability{core.CapabilitySalesAnalysis}, nil, "backup answer")

	resp, err := e.Process(context.Background(), core.Request{UserID: "u1", Message: "sales report"})
	require.NoError(t, err)
	assert.Equal(t, "backup", resp.Agent.Name)
	assert.Equal(t, "backup answer", resp.Content)
}

func TestAllAttemptsFailRecordsErrorTurn(t *testing.T) {
	e := New()
	for _, name := range []string{"broken-1", "broken-2"} {
		_, err := e.RegisterAgent(context.Background(), core.AgentDefinition{
			Name:         name,
			Capabilities: []core.Capability{core.CapabilitySalesAnalysis},
			Config:       core.AgentConfig{Keywords: []string{"sales"}},
		}, &testutil.FailingAgent{AgentName: name, Err: errors.New("boom")})
		require.NoError(t, err)
	}

	req := core.Request{UserID: "u1", Message: "sales report", ConversationID: "conv-1"}
	_, err := e.Process(context.Background(), req)
	require.ErrorIs(t, err, core.ErrAgentInvocationFailed)

	// The failed exchange still lands in the conversation, annotated.
	conv, convErr := e.Conversations().Get(context.Background(), "conv-1")
	require.NoError(t, convErr)
	history := conv.History()
	require.Len(t, history, 2)
	assert.Equal(t, core.RoleAgent, history[1].Role)
	assert.NotEmpty(t, history[1].Error)
}

func waitForKind(t *testing.T, tr *testutil.FakeTransport, kind core.EventKind) core.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		if events := tr.EventsOfKind(kind); len(events) > 0 {
			return events[0]
		}
		select {
		case <-deadline:
			t.Fatalf("no %s event arrived", kind)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStreamDeliversAckChunksThenFinal(t *testing.T) {
	hub := delivery.NewHub(func(o *delivery.Options) { o.Heartbeat = 0 })
	e := newChatEngine(t, func(o *Options) { o.Hub = hub })

	tr := &testutil.FakeTransport{}
	conn := hub.Bind(context.Background(), "u1", tr)
	defer conn.Close()

	requestID, err := e.Stream(context.Background(), core.Request{UserID: "u1", Message: "sales report"})
	require.NoError(t, err)
	require.NotEmpty(t, requestID)

	final := waitForKind(t, tr, core.EventFinal)
	assert.Equal(t, requestID, final.RequestID)
	assert.Equal(t, "sales answer", final.Content)

	events := tr.Events()
	// Connection ack first, then the request ack, chunks, and the final event
	// strictly last.
	require.GreaterOrEqual(t, len(events), 4)
	assert.Equal(t, core.EventAck, events[0].Kind)
	assert.Equal(t, core.EventAck, events[1].Kind)
	assert.Equal(t, requestID, events[1].RequestID)
	assert.Equal(t, core.EventChunk, events[2].Kind)
	assert.Equal(t, "sales answer", events[2].Content)
	assert.Equal(t, core.EventFinal, events[len(events)-1].Kind)
}

func TestStreamCompoundDeliversStatusAndParts(t *testing.T) {
	hub := delivery.NewHub(func(o *delivery.Options) { o.Heartbeat = 0 })
	e := newChatEngine(t, func(o *Options) { o.Hub = hub })

	tr := &testutil.FakeTransport{}
	conn := hub.Bind(context.Background(), "u1", tr)
	defer conn.Close()

	_, err := e.Stream(context.Background(), core.Request{UserID: "u1", Message: "对比上季度销售与库存"})
	require.NoError(t, err)

	final := waitForKind(t, tr, core.EventFinal)
	require.Len(t, final.Parts, 2)
	assert.Equal(t, "sales answer\n\ninventory answer", final.Content)
	assert.NotEmpty(t, tr.EventsOfKind(core.EventStatus))
}

func TestStreamWithoutConnectionFails(t *testing.T) {
	hub := delivery.NewHub()
	e := newChatEngine(t, func(o *Options) { o.Hub = hub })

	_, err := e.Stream(context.Background(), core.Request{UserID: "nobody", Message: "sales"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestStreamFailureEmitsErrorEvent(t *testing.T) {
	hub := delivery.NewHub(func(o *delivery.Options) { o.Heartbeat = 0 })
	e := New(func(o *Options) { o.Hub = hub })

	tr := &testutil.FakeTransport{}
	conn := hub.Bind(context.Background(), "u1", tr)
	defer conn.Close()

	requestID, err := e.Stream(context.Background(), core.Request{UserID: "u1", Message: "anything"})
	require.NoError(t, err)

	ev := waitForKind(t, tr, core.EventError)
	assert.Equal(t, requestID, ev.RequestID)
	assert.Equal(t, core.CodeNoEligibleAgent, ev.Code)
	assert.Empty(t, tr.EventsOfKind(core.EventFinal))
}

// blockingAgent holds an invocation until its context is canceled.
type blockingAgent struct {
	started chan struct{}
}

func (a *blockingAgent) Name() string                      { return "blocking" }
func (a *blockingAgent) Capabilities() []core.Capability   { return []core.Capability{core.CapabilitySalesAnalysis} }
func (a *blockingAgent) Invoke(ctx context.Context, _ *core.Invocation) (*core.AgentResult, error) {
	close(a.started)
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestCancelAbortsInFlightRequest(t *testing.T) {
	hub := delivery.NewHub(func(o *delivery.Options) { o.Heartbeat = 0 })
	e := New(func(o *Options) { o.Hub = hub })

	blocker := &blockingAgent{started: make(chan struct{})}
	_, err := e.RegisterAgent(context.Background(), core.AgentDefinition{
		Name:         "blocking",
		Capabilities: blocker.Capabilities(),
	}, blocker)
	require.NoError(t, err)

	tr := &testutil.FakeTransport{}
	conn := hub.Bind(context.Background(), "u1", tr)
	defer conn.Close()

	requestID, err := e.Stream(context.Background(), core.Request{UserID: "u1", Message: "sales"})
	require.NoError(t, err)

	select {
	case <-blocker.started:
	case <-time.After(2 * time.Second):
		t.Fatal("agent never started")
	}
	require.True(t, e.Cancel(requestID))

	ev := waitForKind(t, tr, core.EventError)
	assert.Equal(t, requestID, ev.RequestID)

	// A finished request is no longer cancelable.
	deadline := time.After(2 * time.Second)
	for e.Cancel(requestID) {
		select {
		case <-deadline:
			t.Fatal("request id never untracked")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCancelUnknownRequest(t *testing.T) {
	e := New()
	assert.False(t, e.Cancel("ghost"))
}
