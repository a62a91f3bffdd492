// Package bridge connects the engine to external tool/resource providers
// behind a uniform invocation protocol. Each provider gets its own client
// session and circuit breaker; catalogs are cached and refreshed on a
// schedule, and a periodic health probe flips providers between healthy and
// unhealthy. Two consecutive probe failures open the breaker, after which
// calls are rejected before dispatch until a later probe succeeds. The
// bridge itself never retries a call.
package bridge

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sony/gobreaker/v2"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
)

// Options configures a Bridge.
type Options struct {
	// Dialer opens provider clients; defaults to DialMCP.
	Dialer Dialer
	// ProbeSchedule is the cron spec for health probes.
	ProbeSchedule string
	// RefreshSchedule is the cron spec for catalog refreshes.
	RefreshSchedule string
	// ProbeTimeout bounds a single health probe.
	ProbeTimeout time.Duration
	// TripAfter is the consecutive-failure count that opens a provider's
	// breaker.
	TripAfter uint32
	// RecoveryTimeout is how long an open breaker waits before letting a
	// probe through again.
	RecoveryTimeout time.Duration
	Logger          logging.Logger
}

type providerState struct {
	def     core.ToolProvider
	client  Client
	breaker *gobreaker.CircuitBreaker[any]

	mu        sync.RWMutex
	tools     []core.ToolInfo
	resources []core.ResourceInfo
	catalogAt time.Time
}

// Bridge multiplexes tool calls across registered providers. Implements
// core.ToolCaller. Safe for concurrent use.
type Bridge struct {
	mu        sync.RWMutex
	providers map[string]*providerState
	order     []string

	dial            Dialer
	cron            *cron.Cron
	probeTimeout    time.Duration
	tripAfter       uint32
	recoveryTimeout time.Duration
	logger          logging.Logger
}

var _ core.ToolCaller = (*Bridge)(nil)

// New constructs a Bridge. Call Start to begin probing and catalog
// refreshes, and Stop on shutdown.
func New(optFns ...func(o *Options)) (*Bridge, error) {
	opts := Options{
		Dialer:          DialMCP,
		ProbeSchedule:   "@every 30s",
		RefreshSchedule: "@every 5m",
		ProbeTimeout:    5 * time.Second,
		TripAfter:       2,
		RecoveryTimeout: 30 * time.Second,
		Logger:          logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	b := &Bridge{
		providers:       make(map[string]*providerState),
		dial:            opts.Dialer,
		cron:            cron.New(),
		probeTimeout:    opts.ProbeTimeout,
		tripAfter:       opts.TripAfter,
		recoveryTimeout: opts.RecoveryTimeout,
		logger:          opts.Logger,
	}

	if _, err := b.cron.AddFunc(opts.ProbeSchedule, b.probeAll); err != nil {
		return nil, err
	}
	if _, err := b.cron.AddFunc(opts.RefreshSchedule, b.refreshAll); err != nil {
		return nil, err
	}
	return b, nil
}

// Start begins the probe and refresh schedules.
func (b *Bridge) Start() { b.cron.Start() }

// Stop halts the schedules and closes every provider session.
func (b *Bridge) Stop() {
	<-b.cron.Stop().Done()

	b.mu.Lock()
	defer b.mu.Unlock()
	for name, p := range b.providers {
		if err := p.client.Close(); err != nil {
			b.logger.Warn("provider close failed", "provider", name, "error", err)
		}
	}
	b.providers = make(map[string]*providerState)
	b.order = nil
}

// Register connects a provider, runs an initial probe and catalog fetch, and
// adds it to the bridge. Names are unique: a collision yields
// CodeDuplicateProvider. A provider that fails its initial probe is still
// registered, marked unhealthy, and picked up by later probes.
func (b *Bridge) Register(ctx context.Context, def core.ToolProvider) error {
	b.mu.Lock()
	if _, exists := b.providers[def.Name]; exists {
		b.mu.Unlock()
		return core.NewError(core.CodeDuplicateProvider, "provider %q already registered", def.Name)
	}
	b.mu.Unlock()

	client, err := b.dial(def.Endpoint)
	if err != nil {
		return core.WrapError(core.CodeToolError, err, "dial provider %q", def.Name)
	}

	p := &providerState{
		def:    def,
		client: client,
		breaker: gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        def.Name,
			MaxRequests: 1,
			Timeout:     b.recoveryTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= b.tripAfter
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				b.logger.Info("provider breaker state changed", "provider", name, "from", from.String(), "to", to.String())
			},
		}),
	}

	initCtx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()
	if err := client.Initialize(initCtx); err != nil {
		p.def.Health = core.HealthUnhealthy
		b.logger.Warn("provider initialization failed", "provider", def.Name, "error", err)
	} else {
		p.def.Health = core.HealthHealthy
		b.refresh(ctx, p)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.providers[def.Name]; exists {
		_ = client.Close()
		return core.NewError(core.CodeDuplicateProvider, "provider %q already registered", def.Name)
	}
	b.providers[def.Name] = p
	b.order = append(b.order, def.Name)
	b.logger.Info("provider registered", "provider", def.Name, "endpoint", def.Endpoint, "health", p.def.Health)
	return nil
}

// Unregister removes a provider and closes its session.
func (b *Bridge) Unregister(name string) error {
	b.mu.Lock()
	p, ok := b.providers[name]
	if !ok {
		b.mu.Unlock()
		return core.NewError(core.CodeNotFound, "provider %q not found", name)
	}
	delete(b.providers, name)
	for i, n := range b.order {
		if n == name {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	b.mu.Unlock()

	return p.client.Close()
}

// List returns registered providers in registration order with their current
// health.
func (b *Bridge) List() []core.ToolProvider {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.ToolProvider, 0, len(b.order))
	for _, name := range b.order {
		out = append(out, b.providers[name].def)
	}
	return out
}

// Get returns one provider's descriptor or CodeNotFound.
func (b *Bridge) Get(name string) (core.ToolProvider, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.providers[name]
	if !ok {
		return core.ToolProvider{}, core.NewError(core.CodeNotFound, "provider %q not found", name)
	}
	return p.def, nil
}

// ListTools returns the provider's cached tool catalog, fetching it on first
// use when the cache is empty.
func (b *Bridge) ListTools(ctx context.Context, provider string) ([]core.ToolInfo, error) {
	p, err := b.state(provider)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	if !p.catalogAt.IsZero() {
		tools := append([]core.ToolInfo(nil), p.tools...)
		p.mu.RUnlock()
		return tools, nil
	}
	p.mu.RUnlock()

	b.refresh(ctx, p)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]core.ToolInfo(nil), p.tools...), nil
}

// ListResources returns the provider's cached resource catalog.
func (b *Bridge) ListResources(ctx context.Context, provider string) ([]core.ResourceInfo, error) {
	p, err := b.state(provider)
	if err != nil {
		return nil, err
	}
	p.mu.RLock()
	if !p.catalogAt.IsZero() {
		resources := append([]core.ResourceInfo(nil), p.resources...)
		p.mu.RUnlock()
		return resources, nil
	}
	p.mu.RUnlock()

	b.refresh(ctx, p)
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]core.ResourceInfo(nil), p.resources...), nil
}

// CallTool invokes a tool on a provider with the caller-supplied timeout.
// An open breaker rejects the call before dispatch. Timeouts surface as
// CodeToolTimeout, provider failures as CodeToolError; neither is retried
// here.
func (b *Bridge) CallTool(ctx context.Context, provider, tool string, args map[string]any, timeout time.Duration) (*core.ToolResult, error) {
	p, err := b.state(provider)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := p.breaker.Execute(func() (any, error) {
		return p.client.CallTool(callCtx, tool, args)
	})
	if err != nil {
		return nil, b.callError(callCtx, provider, tool, err)
	}

	result := res.(*core.ToolResult)
	if result.IsError {
		e := core.NewError(core.CodeToolError, "tool %s/%s failed", provider, tool)
		e.Details = result.Content
		return nil, e
	}
	return result, nil
}

// GetResource reads a resource from a provider with the caller-supplied
// timeout. Same breaker and error semantics as CallTool.
func (b *Bridge) GetResource(ctx context.Context, provider, uri string, timeout time.Duration) (*core.ResourceContent, error) {
	p, err := b.state(provider)
	if err != nil {
		return nil, err
	}

	callCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	res, err := p.breaker.Execute(func() (any, error) {
		return p.client.ReadResource(callCtx, uri)
	})
	if err != nil {
		return nil, b.callError(callCtx, provider, uri, err)
	}
	return res.(*core.ResourceContent), nil
}

// callError maps transport and breaker failures onto the error taxonomy.
func (b *Bridge) callError(ctx context.Context, provider, target string, err error) error {
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return core.WrapError(core.CodeToolError, err, "provider %q unavailable", provider)
	case errors.Is(err, context.DeadlineExceeded), errors.Is(ctx.Err(), context.DeadlineExceeded):
		return core.WrapError(core.CodeToolTimeout, err, "call to %s/%s timed out", provider, target)
	default:
		return core.WrapError(core.CodeToolError, err, "call to %s/%s failed", provider, target)
	}
}

// Probe runs one health probe against a provider. Probes go through the
// breaker so consecutive failures trip it; a successful probe closes it
// again and flips health back to healthy.
func (b *Bridge) Probe(ctx context.Context, name string) core.HealthState {
	p, err := b.state(name)
	if err != nil {
		return core.HealthUnhealthy
	}

	probeCtx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	_, err = p.breaker.Execute(func() (any, error) {
		return nil, p.client.Ping(probeCtx)
	})

	health := core.HealthHealthy
	if err != nil {
		health = core.HealthUnhealthy
	}

	b.mu.Lock()
	if cur, ok := b.providers[name]; ok && cur == p {
		if cur.def.Health != health {
			b.logger.Info("provider health changed", "provider", name, "health", health)
		}
		cur.def.Health = health
	}
	b.mu.Unlock()
	return health
}

func (b *Bridge) probeAll() {
	for _, name := range b.names() {
		b.Probe(context.Background(), name)
	}
}

func (b *Bridge) refreshAll() {
	b.mu.RLock()
	states := make([]*providerState, 0, len(b.order))
	for _, name := range b.order {
		states = append(states, b.providers[name])
	}
	b.mu.RUnlock()

	for _, p := range states {
		b.refresh(context.Background(), p)
	}
}

// refresh re-fetches both catalogs. A failed fetch keeps the previous cache.
func (b *Bridge) refresh(ctx context.Context, p *providerState) {
	fetchCtx, cancel := context.WithTimeout(ctx, b.probeTimeout)
	defer cancel()

	tools, err := p.client.ListTools(fetchCtx)
	if err != nil {
		b.logger.Warn("tool catalog refresh failed", "provider", p.def.Name, "error", err)
		return
	}
	resources, err := p.client.ListResources(fetchCtx)
	if err != nil {
		b.logger.Warn("resource catalog refresh failed", "provider", p.def.Name, "error", err)
		return
	}

	p.mu.Lock()
	p.tools = tools
	p.resources = resources
	p.catalogAt = time.Now().UTC()
	p.mu.Unlock()
}

func (b *Bridge) state(name string) (*providerState, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	p, ok := b.providers[name]
	if !ok {
		return nil, core.NewError(core.CodeNotFound, "provider %q not found", name)
	}
	return p, nil
}

func (b *Bridge) names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.order...)
}
