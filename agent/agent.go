// Package agent provides the built-in core.Agent implementations: ModelAgent
// delegates to a generation model, ScriptedAgent answers from keyword rules
// and serves tests and local runs.
package agent

import (
	"context"
	"strconv"
	"strings"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/model"
)

// ModelAgentOptions configures a ModelAgent.
type ModelAgentOptions struct {
	// Instructions is the default system prompt, overridden per invocation
	// by the registered agent config.
	Instructions string
}

// ModelAgent drives a generation model. When the invocation carries an
// emitter the model is run in streaming mode and every delta is forwarded as
// a chunk; the final result always carries the complete text.
type ModelAgent struct {
	name         string
	capabilities []core.Capability
	model        model.Model
	instructions string
}

var _ core.Agent = (*ModelAgent)(nil)

// NewModelAgent constructs a ModelAgent over the given model.
func NewModelAgent(name string, capabilities []core.Capability, m model.Model, optFns ...func(o *ModelAgentOptions)) *ModelAgent {
	opts := ModelAgentOptions{}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &ModelAgent{
		name:         name,
		capabilities: capabilities,
		model:        m,
		instructions: opts.Instructions,
	}
}

// Name implements core.Agent.
func (a *ModelAgent) Name() string { return a.name }

// Capabilities implements core.Agent.
func (a *ModelAgent) Capabilities() []core.Capability {
	return append([]core.Capability(nil), a.capabilities...)
}

// Invoke implements core.Agent.
func (a *ModelAgent) Invoke(ctx context.Context, inv *core.Invocation) (*core.AgentResult, error) {
	instructions := a.instructions
	if inv.Config.Instructions != "" {
		instructions = inv.Config.Instructions
	}
	req := model.Request{
		Instructions: instructions,
		Window:       inv.Window,
		Message:      inv.Message,
		Temperature:  inv.Config.Temperature,
		Stream:       inv.Emit != nil,
	}

	info := core.AgentInfo{Name: a.name}
	respCh, errCh := a.model.Generate(ctx, req)

	var final string
	var usage *model.TokenUsage
	for resp := range respCh {
		if resp.Partial {
			if err := inv.EmitChunk(ctx, info, resp.Text); err != nil {
				return nil, err
			}
			continue
		}
		final = resp.Text
		if resp.Usage != nil {
			usage = resp.Usage
		}
	}
	if err := <-errCh; err != nil {
		return nil, core.WrapError(core.CodeAgentInvocationFailed, err, "agent %s generation failed", a.name)
	}

	result := &core.AgentResult{
		Content:  final,
		Metadata: map[string]string{"model": a.model.Info().Name, "provider": a.model.Info().Provider},
	}
	if usage != nil {
		result.Metadata["total_tokens"] = strconv.Itoa(usage.TotalTokens)
	}
	return result, nil
}

// rule is one keyword-to-response mapping of a ScriptedAgent.
type rule struct {
	keyword  string
	response string
}

// ScriptedAgent answers from an ordered keyword rule table. First matching
// rule wins; without a match the fallback response is returned.
type ScriptedAgent struct {
	name         string
	capabilities []core.Capability
	rules        []rule
	fallback     string
}

var _ core.Agent = (*ScriptedAgent)(nil)

// NewScriptedAgent constructs a ScriptedAgent with the given fallback.
func NewScriptedAgent(name string, capabilities []core.Capability, fallback string) *ScriptedAgent {
	return &ScriptedAgent{
		name:         name,
		capabilities: capabilities,
		fallback:     fallback,
	}
}

// Respond adds a keyword rule. Matching is case-insensitive substring, so it
// works for languages without word boundaries.
func (a *ScriptedAgent) Respond(keyword, response string) *ScriptedAgent {
	a.rules = append(a.rules, rule{keyword: strings.ToLower(keyword), response: response})
	return a
}

// Name implements core.Agent.
func (a *ScriptedAgent) Name() string { return a.name }

// Capabilities implements core.Agent.
func (a *ScriptedAgent) Capabilities() []core.Capability {
	return append([]core.Capability(nil), a.capabilities...)
}

// Invoke implements core.Agent.
func (a *ScriptedAgent) Invoke(ctx context.Context, inv *core.Invocation) (*core.AgentResult, error) {
	response := a.fallback
	lower := strings.ToLower(inv.Message)
	for _, r := range a.rules {
		if strings.Contains(lower, r.keyword) {
			response = r.response
			break
		}
	}

	if err := inv.EmitChunk(ctx, core.AgentInfo{Name: a.name}, response); err != nil {
		return nil, err
	}
	return &core.AgentResult{Content: response}, nil
}
