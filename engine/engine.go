// Package engine wires the routing, decomposition, conversation and delivery
// subsystems into the request lifecycle. Process handles one request
// synchronously; Stream runs the same lifecycle asynchronously and pushes
// acks, status notes, chunks and the final event through the delivery hub.
// Every in-flight request is cancelable by id.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hupe1980/agentgrid/conversation"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/decompose"
	"github.com/hupe1980/agentgrid/delivery"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/metrics"
	"github.com/hupe1980/agentgrid/registry"
	"github.com/hupe1980/agentgrid/router"
	"github.com/hupe1980/agentgrid/store"
)

// DefaultMaxAttempts bounds routing fallback: the initial attempt plus one
// retry against the next-best agent.
const DefaultMaxAttempts = 2

// Options configures an Engine.
type Options struct {
	// Store persists conversations; defaults to the in-memory store.
	Store core.ConversationStore
	// AgentStore persists agent definitions; nil keeps them process-local.
	AgentStore core.AgentStore
	// Tools is the tool-bridge handle passed to agents; may be nil.
	Tools core.ToolCaller
	// Hub enables streamed delivery; nil restricts the engine to Process.
	Hub *delivery.Hub
	// Metrics defaults to a fresh collector.
	Metrics *metrics.Collector
	// Window bounds the context built per invocation.
	Window conversation.WindowPolicy
	// TokenCounter estimates window cost; defaults to the heuristic counter.
	TokenCounter conversation.TokenCounter
	// RouterWeights overrides the routing score weights.
	RouterWeights router.Weights
	// MaxAttempts bounds routing fallback per request.
	MaxAttempts int
	// MaxConcurrentTasks bounds decomposed task parallelism.
	MaxConcurrentTasks int64
	Logger             logging.Logger
}

// Engine orchestrates request processing. Safe for concurrent use.
type Engine struct {
	registry      *registry.Registry
	router        *router.Router
	decomposer    *decompose.Decomposer
	executor      *decompose.Executor
	conversations *conversation.Manager
	tools         core.ToolCaller
	hub           *delivery.Hub
	metrics       *metrics.Collector
	window        conversation.WindowPolicy
	maxAttempts   int
	logger        logging.Logger

	mu     sync.Mutex
	active map[string]context.CancelFunc
}

// New constructs an Engine with optional overrides.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		RouterWeights:      router.DefaultWeights,
		Window:             conversation.DefaultWindowPolicy,
		TokenCounter:       conversation.HeuristicCounter{},
		MaxAttempts:        DefaultMaxAttempts,
		MaxConcurrentTasks: 4,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Store == nil {
		opts.Store = store.NewMemoryConversations()
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewCollector()
	}
	if opts.MaxAttempts < 1 {
		opts.MaxAttempts = 1
	}

	reg := registry.New(func(o *registry.Options) {
		o.Store = opts.AgentStore
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})
	rtr := router.New(reg, func(o *router.Options) {
		o.Weights = opts.RouterWeights
		o.Metrics = opts.Metrics
		o.Logger = opts.Logger
	})
	convs := conversation.NewManager(opts.Store, func(o *conversation.Options) {
		o.Tokens = opts.TokenCounter
		o.Logger = opts.Logger
	})

	return &Engine{
		registry:   reg,
		router:     rtr,
		decomposer: decompose.New(func(o *decompose.Options) { o.Logger = opts.Logger }),
		executor: decompose.NewExecutor(func(o *decompose.ExecutorOptions) {
			o.MaxConcurrent = opts.MaxConcurrentTasks
			o.Logger = opts.Logger
		}),
		conversations: convs,
		tools:         opts.Tools,
		hub:           opts.Hub,
		metrics:       opts.Metrics,
		window:        opts.Window,
		maxAttempts:   opts.MaxAttempts,
		logger:        opts.Logger,
		active:        make(map[string]context.CancelFunc),
	}
}

// Registry exposes the agent table for registration and management surfaces.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Conversations exposes the conversation manager.
func (e *Engine) Conversations() *conversation.Manager { return e.conversations }

// Metrics exposes the collector.
func (e *Engine) Metrics() *metrics.Collector { return e.metrics }

// RegisterAgent registers a definition plus handler and returns the id.
func (e *Engine) RegisterAgent(ctx context.Context, def core.AgentDefinition, handler core.Agent) (string, error) {
	return e.registry.Register(ctx, def, handler)
}

// Process handles one request synchronously and returns the complete
// response. The user turn is always persisted, and a failed request still
// records an error-annotated agent turn so the conversation stays coherent.
func (e *Engine) Process(ctx context.Context, req core.Request) (*core.Response, error) {
	requestID := core.NewID()
	return e.process(ctx, requestID, req, nil)
}

// Stream handles one request asynchronously, delivering events through the
// hub, and returns the request id immediately. Requires an open connection
// for the user; without one the caller should fall back to Process.
func (e *Engine) Stream(ctx context.Context, req core.Request) (string, error) {
	if e.hub == nil || !e.hub.Connected(req.UserID) {
		return "", core.NewError(core.CodeNotFound, "no open connection for user %s", req.UserID)
	}

	requestID := core.NewID()
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	e.track(requestID, cancel)

	emit := make(chan core.Event, 32)
	done := make(chan struct{})

	// Delivery goroutine: drains chunk/status events in order. Events for a
	// request that outlives its connection are dropped by the hub and the
	// request still completes against the store.
	go func() {
		defer close(done)
		for ev := range emit {
			e.hub.Deliver(req.UserID, ev)
		}
	}()

	// Processing goroutine: runs the request lifecycle and terminates the
	// stream with exactly one final or error event.
	go func() {
		defer func() {
			close(emit)
			<-done
			e.untrack(requestID)
			cancel()
		}()

		emit <- core.NewAckEvent(requestID, req.ConversationID)
		resp, err := e.process(runCtx, requestID, req, emit)
		if err != nil {
			code := core.CodeOf(err)
			if code == "" {
				code = core.CodeAgentInvocationFailed
			}
			ev := core.NewErrorEvent(requestID, req.ConversationID, code, err.Error())
			if resp != nil {
				ev.Parts = resp.Parts
			}
			emit <- ev
			return
		}
		emit <- core.NewFinalEvent(requestID, resp.ConversationID, resp.Agent, resp.Content, resp.Parts)
	}()

	return requestID, nil
}

// Cancel aborts an in-flight streamed request. Returns false for an unknown
// or already finished id.
func (e *Engine) Cancel(requestID string) bool {
	e.mu.Lock()
	cancel, ok := e.active[requestID]
	e.mu.Unlock()
	if !ok {
		return false
	}
	cancel()
	return true
}

func (e *Engine) track(requestID string, cancel context.CancelFunc) {
	e.mu.Lock()
	e.active[requestID] = cancel
	e.mu.Unlock()
}

func (e *Engine) untrack(requestID string) {
	e.mu.Lock()
	delete(e.active, requestID)
	e.mu.Unlock()
}

// process is the shared request lifecycle for both entry points. With a
// non-nil emit channel, incremental chunks and status notes are forwarded as
// they are produced.
func (e *Engine) process(ctx context.Context, requestID string, req core.Request, emit chan<- core.Event) (*core.Response, error) {
	e.metrics.IncRequests()

	conv, err := e.conversations.GetOrCreate(ctx, req.ConversationID, req.UserID)
	if err != nil {
		return nil, err
	}
	req.ConversationID = conv.ID

	userMsg := core.NewUserMessage(conv.ID, req.Message)
	if err := e.conversations.Append(ctx, conv.ID, userMsg); err != nil {
		return nil, err
	}

	var resp *core.Response
	if req.PreferredAgentID == "" && e.decomposer.IsCompound(req.Message) {
		resp, err = e.processCompound(ctx, requestID, req, emit)
	} else {
		resp, err = e.processSingle(ctx, requestID, req, userMsg.ID, emit)
	}

	// The conversation records every attempt: failed requests append an
	// error-annotated agent turn instead of dropping the exchange.
	agentMsg := core.NewAgentMessage(conv.ID, agentOf(resp), contentOf(resp))
	if err != nil {
		agentMsg.Error = err.Error()
	}
	if appendErr := e.conversations.Append(ctx, conv.ID, agentMsg); appendErr != nil {
		e.logger.Error("agent turn append failed", "conversation_id", conv.ID, "error", appendErr)
	}

	if err != nil {
		e.logger.Warn("request failed", "request_id", requestID, "error", err)
		return resp, err
	}
	return resp, nil
}

// processSingle routes the request to one agent with bounded fallback.
func (e *Engine) processSingle(ctx context.Context, requestID string, req core.Request, userMsgID string, emit chan<- core.Event) (*core.Response, error) {
	exclude := make(map[string]bool)
	var lastErr error

	for attempt := 0; attempt < e.maxAttempts; attempt++ {
		entry, err := e.router.Select(ctx, req, exclude)
		if err != nil {
			if attempt == 0 {
				// No agent at all is terminal, not retried.
				return nil, err
			}
			break
		}

		if emit != nil && attempt > 0 {
			emit <- core.NewStatusEvent(requestID, req.ConversationID, infoOf(entry), "retrying with fallback agent")
		}

		info := infoOf(entry)
		result, err := e.invoke(ctx, requestID, req, entry, userMsgID, emit)
		if err == nil {
			e.metrics.IncSuccessfulRoutes()
			return &core.Response{
				RequestID:      requestID,
				ConversationID: req.ConversationID,
				Agent:          info,
				Content:        result.Content,
			}, nil
		}
		if errors.Is(err, context.Canceled) {
			return nil, err
		}
		e.logger.Warn("agent invocation failed", "request_id", requestID, "agent", entry.Def.Name, "attempt", attempt+1, "error", err)
		exclude[entry.Def.ID] = true
		lastErr = err
	}

	return nil, core.WrapError(core.CodeAgentInvocationFailed, lastErr, "all %d attempts failed", e.maxAttempts)
}

// invoke runs one agent call with load accounting and metrics recording.
func (e *Engine) invoke(ctx context.Context, requestID string, req core.Request, entry *registry.Entry, userMsgID string, emit chan<- core.Event) (*core.AgentResult, error) {
	window, err := e.buildWindow(ctx, req.ConversationID, entry.Def.Config, userMsgID)
	if err != nil {
		return nil, err
	}

	inv := &core.Invocation{
		RequestID:      requestID,
		ConversationID: req.ConversationID,
		UserID:         req.UserID,
		Message:        req.Message,
		Window:         window,
		Config:         entry.Def.Config,
		Tools:          e.tools,
		Emit:           emit,
	}

	e.registry.IncInFlight(entry.Def.ID)
	start := time.Now()
	result, err := entry.Handler.Invoke(ctx, inv)
	latency := time.Since(start)
	e.registry.DecInFlight(entry.Def.ID)
	e.metrics.Record(entry.Def.ID, err == nil, latency)

	if err != nil {
		return nil, err
	}
	return result, nil
}

// buildWindow constructs the bounded context for an invocation, excluding
// the just-appended current message so agents see it only once.
func (e *Engine) buildWindow(ctx context.Context, conversationID string, cfg core.AgentConfig, userMsgID string) ([]core.Message, error) {
	policy := e.window
	if cfg.TokenBudget > 0 {
		policy.TokenBudget = cfg.TokenBudget
	}
	window, err := e.conversations.BuildContext(ctx, conversationID, policy)
	if err != nil {
		return nil, err
	}
	if n := len(window); n > 0 && window[n-1].ID == userMsgID {
		window = window[:n-1]
	}
	return window, nil
}

// processCompound decomposes the request, fans the tasks out and aggregates
// the parts into one composite response.
func (e *Engine) processCompound(ctx context.Context, requestID string, req core.Request, emit chan<- core.Event) (*core.Response, error) {
	plan, err := e.decomposer.Decompose(req)
	if err != nil {
		return nil, err
	}
	if plan == nil {
		return e.processSingle(ctx, requestID, req, "", emit)
	}

	if emit != nil {
		emit <- core.NewStatusEvent(requestID, req.ConversationID, core.AgentInfo{},
			fmt.Sprintf("decomposed into %d tasks", len(plan.Tasks)))
	}

	agg, execErr := e.executor.Execute(ctx, plan, func(taskCtx context.Context, task *core.Task) (*core.TaskResult, error) {
		return e.runTask(taskCtx, requestID, req, task, emit)
	})

	resp := &core.Response{
		RequestID:      requestID,
		ConversationID: req.ConversationID,
		Content:        agg.Content,
		Composite:      true,
		Parts:          agg.Parts,
	}
	if execErr != nil {
		return resp, execErr
	}
	e.metrics.IncSuccessfulRoutes()
	return resp, nil
}

// runTask routes one decomposed task by its capability and invokes the
// selected agent. Task failures are contained by the executor; routing
// misses fail just the task.
func (e *Engine) runTask(ctx context.Context, requestID string, req core.Request, task *core.Task, emit chan<- core.Event) (*core.TaskResult, error) {
	e.metrics.IncTasks()

	taskReq := core.Request{
		UserID:         req.UserID,
		Message:        task.Input,
		ConversationID: req.ConversationID,
		Capabilities:   []core.Capability{task.Capability},
	}
	entry, err := e.router.Select(ctx, taskReq, nil)
	if err != nil {
		return nil, err
	}
	info := infoOf(entry)

	if emit != nil {
		emit <- core.NewStatusEvent(requestID, req.ConversationID, info,
			fmt.Sprintf("task %s dispatched", task.Capability))
	}

	// Decomposed tasks do not stream chunks; the composite is delivered as
	// one final event with per-task parts.
	result, err := e.invoke(ctx, requestID, taskReq, entry, "", nil)
	if err != nil {
		return nil, err
	}
	return &core.TaskResult{Agent: info, Content: result.Content}, nil
}

// ExecutePlan runs an explicitly constructed plan, bypassing classification.
// The plan must come from decompose.NewPlan so the graph is validated.
func (e *Engine) ExecutePlan(ctx context.Context, req core.Request, plan *decompose.Plan) (*core.Response, error) {
	agg, err := e.executor.Execute(ctx, plan, func(taskCtx context.Context, task *core.Task) (*core.TaskResult, error) {
		return e.runTask(taskCtx, plan.RequestID, req, task, nil)
	})
	resp := &core.Response{
		RequestID:      plan.RequestID,
		ConversationID: req.ConversationID,
		Content:        agg.Content,
		Composite:      true,
		Parts:          agg.Parts,
	}
	if err != nil {
		return resp, err
	}
	return resp, nil
}

func infoOf(entry *registry.Entry) core.AgentInfo {
	return core.AgentInfo{ID: entry.Def.ID, Name: entry.Def.Name}
}

func agentOf(resp *core.Response) core.AgentInfo {
	if resp == nil {
		return core.AgentInfo{}
	}
	return resp.Agent
}

func contentOf(resp *core.Response) string {
	if resp == nil {
		return ""
	}
	return resp.Content
}
