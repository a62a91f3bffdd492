package core

import (
	"context"
	"time"
)

// Capability names a category of work an agent or tool declares it can
// perform. Capabilities are open-ended strings; the constants below cover
// the built-in agent set and are used by the default routing keyword map.
type Capability string

const (
	CapabilitySalesAnalysis   Capability = "sales-analysis"
	CapabilityStockAnalysis   Capability = "stock-analysis"
	CapabilityDataAnalysis    Capability = "data-analysis"
	CapabilityDocumentSearch  Capability = "document-search"
	CapabilityNaturalLanguage Capability = "natural-language"
	CapabilityWorkflow        Capability = "workflow-execution"
	CapabilityReasoning       Capability = "reasoning"
	CapabilityPlanning        Capability = "planning"
)

// AgentConfig holds per-agent tuning knobs supplied at registration and
// mutable through registry updates.
type AgentConfig struct {
	// Temperature-like sampling knob forwarded to model-backed agents.
	Temperature float64 `json:"temperature" yaml:"temperature"`
	// TokenBudget bounds the context window built for each invocation.
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
	// Keywords are domain terms used by the router's lexical heuristic.
	Keywords []string `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	// Instructions is the system prompt for model-backed agents.
	Instructions string `json:"instructions,omitempty" yaml:"instructions,omitempty"`
}

// AgentDefinition is the registry's record of a registered handler: identity,
// declared capability set, configuration and the active flag that gates
// routing eligibility. Definitions are never hard-deleted while referenced by
// conversation history; deactivation flips Active instead.
type AgentDefinition struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Type         string       `json:"type"`
	Description  string       `json:"description,omitempty"`
	Capabilities []Capability `json:"capabilities"`
	Config       AgentConfig  `json:"config"`
	Active       bool         `json:"active"`
	RegisteredAt time.Time    `json:"registered_at"`
}

// HasCapability reports whether the definition declares cap.
func (d *AgentDefinition) HasCapability(cap Capability) bool {
	for _, c := range d.Capabilities {
		if c == cap {
			return true
		}
	}
	return false
}

// AgentResult is the successful outcome of one agent invocation.
type AgentResult struct {
	// Content is the complete response text. When the agent streamed chunks
	// through the invocation's emitter, Content is the concatenation.
	Content string `json:"content"`
	// Metadata carries attribution and provider-specific detail.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Invocation is the input handed to an agent for one call: the message, a
// bounded context window, the tool-bridge handle and an optional chunk
// emitter for incremental output. The engine owns construction; agents only
// read fields and call EmitChunk.
type Invocation struct {
	RequestID      string
	ConversationID string
	UserID         string
	Message        string
	// Window is the bounded, oldest-first slice of prior turns sized to the
	// agent's token budget.
	Window []Message
	// Config is the invoked agent's configuration snapshot.
	Config AgentConfig
	// Tools is the tool-bridge handle; nil when no bridge is configured.
	Tools ToolCaller
	// Emit receives incremental chunk events; nil when the caller wants a
	// single synchronous response. Agents must treat emission as optional.
	Emit chan<- Event
}

// EmitChunk sends an incremental content chunk if an emitter is attached,
// honoring context cancellation. It is a no-op without an emitter so agents
// can emit unconditionally.
func (inv *Invocation) EmitChunk(ctx context.Context, agent AgentInfo, text string) error {
	if inv.Emit == nil {
		return nil
	}
	ev := NewChunkEvent(inv.RequestID, inv.ConversationID, agent, text)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case inv.Emit <- ev:
		return nil
	}
}

// Agent is the capability-typed handler interface. Agents are opaque
// executors: they accept a message plus bounded context and return a
// response or fail. Adding an agent type means adding an implementation,
// never modifying dispatch logic.
//
// Implementations must respect context cancellation and be safe for
// concurrent invocations.
type Agent interface {
	// Name returns the handler's unique, human-readable name.
	Name() string
	// Capabilities returns the declared capability set.
	Capabilities() []Capability
	// Invoke processes one message and returns the result or an error.
	Invoke(ctx context.Context, inv *Invocation) (*AgentResult, error)
}

// AgentInfo carries identifying details about an agent attached to events
// and result attribution.
type AgentInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
