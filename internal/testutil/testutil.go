// Package testutil provides in-memory fakes shared across package tests.
package testutil

import (
	"context"
	"sync"

	"github.com/hupe1980/agentgrid/core"
)

// FakeToolClient is a scriptable bridge client. Zero value is a healthy
// client with empty catalogs.
type FakeToolClient struct {
	mu sync.Mutex

	// PingErr is returned by Ping when set.
	PingErr error
	// CallFn handles CallTool when set; the default echoes the tool name.
	CallFn func(ctx context.Context, tool string, args map[string]any) (*core.ToolResult, error)
	// Tools and Resources are the served catalogs.
	Tools     []core.ToolInfo
	Resources []core.ResourceInfo

	InitializeCalls int
	PingCalls       int
	CallCalls       int
	Closed          bool
}

var _ interface {
	Initialize(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
} = (*FakeToolClient)(nil)

func (c *FakeToolClient) Initialize(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.InitializeCalls++
	return c.PingErr
}

func (c *FakeToolClient) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.PingCalls++
	return c.PingErr
}

// SetPingErr swaps the probe outcome at runtime.
func (c *FakeToolClient) SetPingErr(err error) {
	c.mu.Lock()
	c.PingErr = err
	c.mu.Unlock()
}

func (c *FakeToolClient) ListTools(context.Context) ([]core.ToolInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.ToolInfo(nil), c.Tools...), nil
}

func (c *FakeToolClient) ListResources(context.Context) ([]core.ResourceInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.ResourceInfo(nil), c.Resources...), nil
}

func (c *FakeToolClient) CallTool(ctx context.Context, tool string, args map[string]any) (*core.ToolResult, error) {
	c.mu.Lock()
	c.CallCalls++
	fn := c.CallFn
	c.mu.Unlock()

	if fn != nil {
		return fn(ctx, tool, args)
	}
	return &core.ToolResult{Content: "called " + tool}, nil
}

func (c *FakeToolClient) ReadResource(_ context.Context, uri string) (*core.ResourceContent, error) {
	return &core.ResourceContent{URI: uri, Text: "resource " + uri}, nil
}

func (c *FakeToolClient) Close() error {
	c.mu.Lock()
	c.Closed = true
	c.mu.Unlock()
	return nil
}

// Calls returns how many tool calls reached the client.
func (c *FakeToolClient) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.CallCalls
}

// FakeTransport records delivered events for assertions.
type FakeTransport struct {
	mu     sync.Mutex
	events []core.Event
	closed bool

	// WriteErr fails every write when set.
	WriteErr error
}

func (t *FakeTransport) Write(_ context.Context, ev core.Event) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.WriteErr != nil {
		return t.WriteErr
	}
	t.events = append(t.events, ev)
	return nil
}

func (t *FakeTransport) Close() error {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	return nil
}

// Events returns a snapshot of everything written so far.
func (t *FakeTransport) Events() []core.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]core.Event(nil), t.events...)
}

// EventsOfKind filters the written events by kind.
func (t *FakeTransport) EventsOfKind(kind core.EventKind) []core.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []core.Event
	for _, ev := range t.events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// Closed reports whether the transport was closed.
func (t *FakeTransport) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// FailingAgent always fails with the configured error.
type FailingAgent struct {
	AgentName string
	Caps      []core.Capability
	Err       error
}

func (a *FailingAgent) Name() string { return a.AgentName }

func (a *FailingAgent) Capabilities() []core.Capability { return a.Caps }

func (a *FailingAgent) Invoke(context.Context, *core.Invocation) (*core.AgentResult, error) {
	return nil, a.Err
}
