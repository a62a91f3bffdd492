// Package registry owns the table of registered agents: their definitions,
// capability declarations, activity flags and live load/selection state.
// All access goes through Registry methods; nothing shares the underlying
// maps. Definitions are written through to an AgentStore collaborator so a
// persistent backend can survive restarts.
package registry

import (
	"context"
	"sync"
	"time"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/metrics"
)

// Filter selects which agents a List call returns.
type Filter int

const (
	// All returns every registered agent regardless of activity.
	All Filter = iota
	// ActiveOnly returns agents eligible for new routing decisions.
	ActiveOnly
)

// Entry is a snapshot of one registered agent: its definition plus live
// routing state. Handler is the shared handler instance, not a copy.
type Entry struct {
	Def          core.AgentDefinition
	Handler      core.Agent
	InFlight     int
	LastSelected time.Time
}

// Update carries the mutable fields of a partial definition update. Nil
// fields are left unchanged.
type Update struct {
	Description  *string
	Capabilities []core.Capability
	Config       *core.AgentConfig
	Active       *bool
}

type entry struct {
	def          core.AgentDefinition
	handler      core.Agent
	inFlight     int
	lastSelected time.Time
}

// Options configures a Registry.
type Options struct {
	// Store persists definitions; nil keeps them process-local only.
	Store core.AgentStore
	// Metrics feeds Stats; nil disables stats reads.
	Metrics *metrics.Collector
	// Logger defaults to NoOpLogger.
	Logger logging.Logger
}

// Registry is the lock-guarded agent table. Safe for concurrent use; reads
// return snapshots so routing can proceed against slightly stale load
// figures while writes stay serialized.
type Registry struct {
	mu     sync.RWMutex
	byID   map[string]*entry
	byName map[string]string // name -> id
	order  []string          // ids in registration order

	store   core.AgentStore
	metrics *metrics.Collector
	logger  logging.Logger
}

// New constructs an empty Registry with optional overrides.
func New(optFns ...func(o *Options)) *Registry {
	opts := Options{Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Registry{
		byID:    make(map[string]*entry),
		byName:  make(map[string]string),
		store:   opts.Store,
		metrics: opts.Metrics,
		logger:  opts.Logger,
	}
}

// Register adds an agent definition plus its handler, returning the assigned
// id. Names are unique: a collision yields CodeDuplicateAgent. A zero ID or
// RegisteredAt is filled in; Active defaults to true.
func (r *Registry) Register(ctx context.Context, def core.AgentDefinition, handler core.Agent) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byName[def.Name]; exists {
		return "", core.NewError(core.CodeDuplicateAgent, "agent %q already registered", def.Name)
	}
	if def.ID == "" {
		def.ID = core.NewID()
	}
	if def.RegisteredAt.IsZero() {
		def.RegisteredAt = time.Now().UTC()
	}
	def.Active = true

	e := &entry{def: def, handler: handler}
	r.byID[def.ID] = e
	r.byName[def.Name] = def.ID
	r.order = append(r.order, def.ID)

	if r.store != nil {
		if err := r.store.Put(ctx, &def); err != nil {
			r.logger.Warn("agent definition write-through failed", "agent", def.Name, "error", err)
		}
	}

	r.logger.Info("agent registered", "agent", def.Name, "id", def.ID, "capabilities", def.Capabilities)
	return def.ID, nil
}

// Update applies a partial definition update, or returns CodeNotFound.
func (r *Registry) Update(ctx context.Context, id string, upd Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return core.NewError(core.CodeNotFound, "agent %s not found", id)
	}
	if upd.Description != nil {
		e.def.Description = *upd.Description
	}
	if upd.Capabilities != nil {
		e.def.Capabilities = append([]core.Capability(nil), upd.Capabilities...)
	}
	if upd.Config != nil {
		e.def.Config = *upd.Config
	}
	if upd.Active != nil {
		e.def.Active = *upd.Active
	}

	if r.store != nil {
		def := e.def
		if err := r.store.Put(ctx, &def); err != nil {
			r.logger.Warn("agent definition write-through failed", "agent", e.def.Name, "error", err)
		}
	}
	return nil
}

// Deactivate flips the active flag off. In-flight tasks already dispatched
// to the agent still complete; only new routing decisions are gated.
func (r *Registry) Deactivate(ctx context.Context, id string) error {
	inactive := false
	return r.Update(ctx, id, Update{Active: &inactive})
}

// Get returns a snapshot of one entry or CodeNotFound.
func (r *Registry) Get(id string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, core.NewError(core.CodeNotFound, "agent %s not found", id)
	}
	return e.snapshot(), nil
}

// GetByName returns a snapshot of the entry registered under name.
func (r *Registry) GetByName(name string) (*Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byName[name]
	if !ok {
		return nil, core.NewError(core.CodeNotFound, "agent %q not found", name)
	}
	return r.byID[id].snapshot(), nil
}

// List returns entry snapshots in registration order, optionally filtered to
// active agents.
func (r *Registry) List(filter Filter) []*Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Entry, 0, len(r.order))
	for _, id := range r.order {
		e := r.byID[id]
		if filter == ActiveOnly && !e.def.Active {
			continue
		}
		out = append(out, e.snapshot())
	}
	return out
}

// Stats returns the agent's rolling metrics plus its current in-flight
// count, or CodeNotFound for an unknown id.
func (r *Registry) Stats(id string) (metrics.AgentStats, int, error) {
	r.mu.RLock()
	e, ok := r.byID[id]
	var inFlight int
	if ok {
		inFlight = e.inFlight
	}
	r.mu.RUnlock()

	if !ok {
		return metrics.AgentStats{}, 0, core.NewError(core.CodeNotFound, "agent %s not found", id)
	}
	if r.metrics == nil {
		return metrics.AgentStats{AgentID: id}, inFlight, nil
	}
	stats, err := r.metrics.Read(id)
	if err != nil {
		// No samples yet is not an error for stats purposes.
		return metrics.AgentStats{AgentID: id}, inFlight, nil
	}
	return stats, inFlight, nil
}

// MarkSelected records a routing decision for the recency bonus.
func (r *Registry) MarkSelected(id string) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		e.lastSelected = time.Now().UTC()
	}
	r.mu.Unlock()
}

// IncInFlight bumps the live load counter for a dispatched invocation.
func (r *Registry) IncInFlight(id string) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok {
		e.inFlight++
	}
	r.mu.Unlock()
}

// DecInFlight releases a completed invocation.
func (r *Registry) DecInFlight(id string) {
	r.mu.Lock()
	if e, ok := r.byID[id]; ok && e.inFlight > 0 {
		e.inFlight--
	}
	r.mu.Unlock()
}

func (e *entry) snapshot() *Entry {
	def := e.def
	def.Capabilities = append([]core.Capability(nil), e.def.Capabilities...)
	return &Entry{Def: def, Handler: e.handler, InFlight: e.inFlight, LastSelected: e.lastSelected}
}
