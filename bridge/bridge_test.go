package bridge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/internal/testutil"
)

func newTestBridge(t *testing.T, clients map[string]*testutil.FakeToolClient) *Bridge {
	t.Helper()
	b, err := New(func(o *Options) {
		o.Dialer = func(endpoint string) (Client, error) {
			c, ok := clients[endpoint]
			if !ok {
				return nil, errors.New("unknown endpoint")
			}
			return c, nil
		}
		o.ProbeTimeout = time.Second
	})
	require.NoError(t, err)
	return b
}

func TestRegisterInitializesAndFetchesCatalog(t *testing.T) {
	client := &testutil.FakeToolClient{
		Tools: []core.ToolInfo{{Name: "query_sales", Description: "sales lookup"}},
	}
	b := newTestBridge(t, map[string]*testutil.FakeToolClient{"fake://mcp": client})

	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))

	p, err := b.Get("mcp")
	require.NoError(t, err)
	assert.Equal(t, core.HealthHealthy, p.Health)

	tools, err := b.ListTools(context.Background(), "mcp")
	require.NoError(t, err)
	require.Len(t, tools, 1)
	assert.Equal(t, "query_sales", tools[0].Name)
	assert.Equal(t, 1, client.InitializeCalls)
}

func TestRegisterDuplicateProvider(t *testing.T) {
	client := &testutil.FakeToolClient{}
	b := newTestBridge(t, map[string]*testutil.FakeToolClient{"fake://mcp": client})

	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))
	err := b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"})
	assert.ErrorIs(t, err, core.ErrDuplicateProvider)
}

func TestUnknownProviderIsNotFound(t *testing.T) {
	b := newTestBridge(t, nil)
	_, err := b.CallTool(context.Background(), "ghost", "tool", nil, time.Second)
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCallToolSuccess(t *testing.T) {
	client := &testutil.FakeToolClient{}
	b := newTestBridge(t, map[string]*testutil.FakeToolClient{"fake://mcp": client})
	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))

	res, err := b.CallTool(context.Background(), "mcp", "query_sales", map[string]any{"q": "west"}, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "called query_sales", res.Content)
}

func TestCallToolTimeoutIsNotRetried(t *testing.T) {
	client := &testutil.FakeToolClient{
		CallFn: func(ctx context.Context, _ string, _ map[string]any) (*core.ToolResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}
	b := newTestBridge(t, map[string]*testutil.FakeToolClient{"fake://mcp": client})
	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))

	_, err := b.CallTool(context.Background(), "mcp", "slow", nil, 20*time.Millisecond)
	require.ErrorIs(t, err, core.ErrToolTimeout)
	// Exactly one dispatch: the bridge never retries on its own.
	assert.Equal(t, 1, client.Calls())
}

func TestCallToolProviderError(t *testing.T) {
	client := &testutil.FakeToolClient{
		CallFn: func(context.Context, string, map[string]any) (*core.ToolResult, error) {
			return &core.ToolResult{Content: "schema mismatch", IsError: true}, nil
		},
	}
	b := newTestBridge(t, map[string]*testutil.FakeToolClient{"fake://mcp": client})
	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))

	_, err := b.CallTool(context.Background(), "mcp", "broken", nil, time.Second)
	require.ErrorIs(t, err, core.ErrToolError)

	var taxErr *core.Error
	require.ErrorAs(t, err, &taxErr)
	assert.Equal(t, "schema mismatch", taxErr.Details)
}

func TestTwoFailedProbesRejectBeforeDispatch(t *testing.T) {
	client := &testutil.FakeToolClient{}
	b := newTestBridge(t, map[string]*testutil.FakeToolClient{"fake://mcp": client})
	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))

	client.SetPingErr(errors.New("connection refused"))
	assert.Equal(t, core.HealthUnhealthy, b.Probe(context.Background(), "mcp"))
	assert.Equal(t, core.HealthUnhealthy, b.Probe(context.Background(), "mcp"))

	callsBefore := client.Calls()
	_, err := b.CallTool(context.Background(), "mcp", "query_sales", nil, time.Second)
	require.ErrorIs(t, err, core.ErrToolError)
	// The breaker rejected the call before it reached the provider.
	assert.Equal(t, callsBefore, client.Calls())
}

func TestSuccessfulProbeRestoresHealth(t *testing.T) {
	client := &testutil.FakeToolClient{}
	b, err := New(func(o *Options) {
		o.Dialer = func(string) (Client, error) { return client, nil }
		o.ProbeTimeout = time.Second
		o.RecoveryTimeout = 10 * time.Millisecond
	})
	require.NoError(t, err)
	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))

	client.SetPingErr(errors.New("down"))
	b.Probe(context.Background(), "mcp")
	b.Probe(context.Background(), "mcp")

	client.SetPingErr(nil)
	time.Sleep(20 * time.Millisecond) // let the breaker move to half-open
	assert.Equal(t, core.HealthHealthy, b.Probe(context.Background(), "mcp"))

	res, err := b.CallTool(context.Background(), "mcp", "query_sales", nil, time.Second)
	require.NoError(t, err)
	assert.Equal(t, "called query_sales", res.Content)
}

func TestUnregisterClosesClient(t *testing.T) {
	client := &testutil.FakeToolClient{}
	b := newTestBridge(t, map[string]*testutil.FakeToolClient{"fake://mcp": client})
	require.NoError(t, b.Register(context.Background(), core.ToolProvider{Name: "mcp", Endpoint: "fake://mcp"}))

	require.NoError(t, b.Unregister("mcp"))
	assert.True(t, client.Closed)
	assert.Empty(t, b.List())
}
