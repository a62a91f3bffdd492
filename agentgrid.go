// Package agentgrid provides a high-level façade over the orchestration
// engine: capability-based routing, compound-request decomposition,
// conversation management and tool bridging. Most applications interact with
// this package by:
//  1. Creating an AgentGrid via New() (optionally overriding the in-memory defaults)
//  2. Registering one or more agents (model-backed, scripted, custom)
//  3. Submitting requests with Chat, or streaming over a delivery hub
//
// The façade delegates orchestration to engine.Engine while keeping setup
// concise. All defaults are safe for local development and testing;
// production deployments typically supply the SQLite store, a delivery hub
// and a structured logger.
package agentgrid

import (
	"context"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/delivery"
	"github.com/hupe1980/agentgrid/engine"
	"github.com/hupe1980/agentgrid/logging"
)

// Options configures the AgentGrid instance.
type Options struct {
	// Store persists conversations; defaults to the in-memory store.
	Store core.ConversationStore

	// AgentStore persists agent definitions; nil keeps them process-local.
	AgentStore core.AgentStore

	// Tools is the tool-bridge handle passed to agents; may be nil.
	Tools core.ToolCaller

	// Hub enables streamed delivery; nil restricts usage to Chat.
	Hub *delivery.Hub

	// MaxAttempts bounds routing fallback per request.
	MaxAttempts int

	// Logger defaults to the NoOp logger.
	Logger logging.Logger
}

// AgentGrid is the high-level façade aggregating the underlying engine.
type AgentGrid struct {
	engine *engine.Engine
}

// New creates a new AgentGrid instance with optional overrides. Any unset
// collaborator is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *AgentGrid {
	opts := Options{
		MaxAttempts: engine.DefaultMaxAttempts,
		Logger:      logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(func(o *engine.Options) {
		o.Store = opts.Store
		o.AgentStore = opts.AgentStore
		o.Tools = opts.Tools
		o.Hub = opts.Hub
		o.MaxAttempts = opts.MaxAttempts
		o.Logger = opts.Logger
	})
	return &AgentGrid{engine: eng}
}

// Engine exposes the underlying engine for advanced wiring.
func (g *AgentGrid) Engine() *engine.Engine { return g.engine }

// RegisterAgent adds an agent definition plus handler, returning the id.
func (g *AgentGrid) RegisterAgent(ctx context.Context, def core.AgentDefinition, handler core.Agent) (string, error) {
	return g.engine.RegisterAgent(ctx, def, handler)
}

// Chat processes one request synchronously and returns the full response.
func (g *AgentGrid) Chat(ctx context.Context, req core.Request) (*core.Response, error) {
	return g.engine.Process(ctx, req)
}

// Stream processes one request asynchronously over the delivery hub and
// returns the request id. Requires a hub and an open connection for the
// requesting user.
func (g *AgentGrid) Stream(ctx context.Context, req core.Request) (string, error) {
	return g.engine.Stream(ctx, req)
}

// Cancel aborts an in-flight streamed request by id.
func (g *AgentGrid) Cancel(requestID string) bool {
	return g.engine.Cancel(requestID)
}
