package delivery

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/internal/testutil"
)

func waitForEvents(t *testing.T, tr *testutil.FakeTransport, n int) []core.Event {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		events := tr.Events()
		if len(events) >= n {
			return events
		}
		select {
		case <-deadline:
			t.Fatalf("timed out waiting for %d events, have %d", n, len(tr.Events()))
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestBindSendsConnectionAck(t *testing.T) {
	h := NewHub(func(o *Options) { o.Heartbeat = 0 })
	tr := &testutil.FakeTransport{}

	conn := h.Bind(context.Background(), "u1", tr)
	defer conn.Close()

	events := waitForEvents(t, tr, 1)
	assert.Equal(t, core.EventAck, events[0].Kind)
	assert.Equal(t, StateOpen, conn.State())
	assert.True(t, h.Connected("u1"))
}

func TestDeliverPreservesOrder(t *testing.T) {
	h := NewHub(func(o *Options) { o.Heartbeat = 0 })
	tr := &testutil.FakeTransport{}
	conn := h.Bind(context.Background(), "u1", tr)
	defer conn.Close()

	for i := 0; i < 10; i++ {
		require.True(t, h.Deliver("u1", core.NewChunkEvent("r1", "c1", core.AgentInfo{}, fmt.Sprintf("chunk-%d", i))))
	}

	events := waitForEvents(t, tr, 11) // ack + 10 chunks
	for i, ev := range events[1:] {
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), ev.Content)
	}
}

func TestDeliverWithoutConnectionReportsFalse(t *testing.T) {
	h := NewHub()
	assert.False(t, h.Deliver("nobody", core.NewHeartbeatEvent()))
}

func TestNewConnectionSupersedesOld(t *testing.T) {
	h := NewHub(func(o *Options) { o.Heartbeat = 0 })
	oldTr := &testutil.FakeTransport{}
	newTr := &testutil.FakeTransport{}

	oldConn := h.Bind(context.Background(), "u1", oldTr)
	newConn := h.Bind(context.Background(), "u1", newTr)
	defer newConn.Close()

	// The old connection is closed and events flow to the new one only.
	deadline := time.After(2 * time.Second)
	for oldConn.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatal("superseded connection never closed")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.True(t, oldTr.Closed())

	require.True(t, h.Deliver("u1", core.NewChunkEvent("r1", "c1", core.AgentInfo{}, "hello")))
	events := waitForEvents(t, newTr, 2)
	assert.Equal(t, "hello", events[1].Content)
	assert.Equal(t, 1, h.Len())
}

func TestWriteFailureClosesConnection(t *testing.T) {
	h := NewHub(func(o *Options) { o.Heartbeat = 0 })
	tr := &testutil.FakeTransport{WriteErr: fmt.Errorf("broken pipe")}

	conn := h.Bind(context.Background(), "u1", tr)

	deadline := time.After(2 * time.Second)
	for conn.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatal("connection did not close on write failure")
		case <-time.After(5 * time.Millisecond):
		}
	}
	assert.False(t, h.Connected("u1"))
}

func TestHeartbeatsFlowWhileIdle(t *testing.T) {
	h := NewHub(func(o *Options) { o.Heartbeat = 10 * time.Millisecond })
	tr := &testutil.FakeTransport{}
	conn := h.Bind(context.Background(), "u1", tr)
	defer conn.Close()

	deadline := time.After(2 * time.Second)
	for len(tr.EventsOfKind(core.EventHeartbeat)) < 2 {
		select {
		case <-deadline:
			t.Fatal("heartbeats did not arrive")
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestStateTransitionsAreForwardOnly(t *testing.T) {
	h := NewHub(func(o *Options) { o.Heartbeat = 0 })
	tr := &testutil.FakeTransport{}
	conn := h.Bind(context.Background(), "u1", tr)

	conn.Close()
	deadline := time.After(2 * time.Second)
	for conn.State() != StateClosed {
		select {
		case <-deadline:
			t.Fatal("connection never reached closed")
		case <-time.After(5 * time.Millisecond):
		}
	}

	// A closed connection stays closed and refuses new events.
	assert.False(t, conn.transition(StateOpen))
	assert.False(t, conn.enqueue(core.NewHeartbeatEvent()))
	assert.Equal(t, "closed", conn.State().String())
}
