// Package decompose splits compound requests into task graphs and runs them
// with bounded parallelism. The Decomposer classifies a request as atomic or
// compound with the same keyword heuristic the router uses for capability
// inference; compound requests become one task per inferred capability,
// independent by default so they can fan out. Explicit graphs with
// dependencies go through NewPlan directly. The Executor schedules ready
// tasks as dependencies complete and aggregates results deterministically.
package decompose

import (
	"strings"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
)

// conjunctions are connective markers that suggest a request bundles more
// than one intent even when capability inference alone is ambiguous.
var conjunctions = []string{" and ", "compare", "then", "对比", "比较", "并且", "以及", "然后", "同时"}

// Options configures a Decomposer.
type Options struct {
	// CapabilityKeywords overrides core.DefaultCapabilityKeywords for
	// compound classification.
	CapabilityKeywords map[core.Capability][]string
	// RequireAll marks every generated task as required, so one failure
	// fails the whole request instead of degrading to a partial response.
	RequireAll bool
	Logger     logging.Logger
}

// Decomposer turns compound requests into plans.
type Decomposer struct {
	capabilityKeywords map[core.Capability][]string
	requireAll         bool
	logger             logging.Logger
}

// New constructs a Decomposer with optional overrides.
func New(optFns ...func(o *Options)) *Decomposer {
	opts := Options{
		CapabilityKeywords: core.DefaultCapabilityKeywords,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Decomposer{
		capabilityKeywords: opts.CapabilityKeywords,
		requireAll:         opts.RequireAll,
		logger:             opts.Logger,
	}
}

// IsCompound reports whether the message spans multiple capability groups.
// A message is compound when it matches two or more capabilities and carries
// a connective marker; a lone capability match is always atomic.
func (d *Decomposer) IsCompound(message string) bool {
	caps := core.MatchCapabilities(d.capabilityKeywords, message)
	if len(caps) < 2 {
		return false
	}
	lower := strings.ToLower(message)
	for _, c := range conjunctions {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return false
}

// Decompose builds a plan for a compound request: one task per inferred
// capability, declared in sorted capability order and mutually independent
// so the executor can fan them out. Returns (nil, nil) for an atomic
// request, which the engine routes as a single invocation.
func (d *Decomposer) Decompose(req core.Request) (*Plan, error) {
	if !d.IsCompound(req.Message) {
		return nil, nil
	}
	caps := core.MatchCapabilities(d.capabilityKeywords, req.Message)

	requestID := core.NewID()
	tasks := make([]*core.Task, 0, len(caps))
	for _, cap := range caps {
		t := core.NewTask(requestID, cap, req.Message)
		t.Required = d.requireAll
		tasks = append(tasks, t)
	}

	plan, err := NewPlan(requestID, tasks)
	if err != nil {
		return nil, err
	}
	d.logger.Debug("request decomposed", "request_id", requestID, "tasks", len(tasks), "capabilities", caps)
	return plan, nil
}
