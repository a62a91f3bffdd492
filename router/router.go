// Package router scores registered agents against an incoming request and
// picks the best handler. An explicit preferred-agent id always wins when
// that agent is active; otherwise every active agent is scored by declared
// capability overlap, a lexical keyword heuristic, a load penalty and a
// recency bonus that keeps low-traffic agents from starving. Weights are
// configurable; the defaults are documented on DefaultWeights.
package router

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/metrics"
	"github.com/hupe1980/agentgrid/registry"
)

// Weights controls the relative influence of each scoring factor. All four
// factors produce values in [0,1]; the load factor is subtractive.
type Weights struct {
	Capability float64 `json:"capability" yaml:"capability"`
	Keyword    float64 `json:"keyword" yaml:"keyword"`
	Load       float64 `json:"load" yaml:"load"`
	Recency    float64 `json:"recency" yaml:"recency"`
}

// DefaultWeights favors declared capability over the lexical heuristic, with
// load and recency as secondary signals. Tune via Options.Weights.
var DefaultWeights = Weights{Capability: 0.40, Keyword: 0.25, Load: 0.20, Recency: 0.15}

// DefaultStarvationWindow is the interval after which an unselected agent
// earns the full recency bonus.
const DefaultStarvationWindow = 5 * time.Minute

// Options configures a Router.
type Options struct {
	Weights Weights
	// CapabilityKeywords overrides core.DefaultCapabilityKeywords for
	// capability inference.
	CapabilityKeywords map[core.Capability][]string
	StarvationWindow   time.Duration
	// Metrics scales scores by rolling success rate when present.
	Metrics *metrics.Collector
	Logger  logging.Logger
}

// Router selects agents for requests. Stateless apart from its collaborators;
// safe for concurrent use.
type Router struct {
	registry           *registry.Registry
	weights            Weights
	capabilityKeywords map[core.Capability][]string
	starvationWindow   time.Duration
	metrics            *metrics.Collector
	logger             logging.Logger
}

// New constructs a Router over the given registry with optional overrides.
func New(reg *registry.Registry, optFns ...func(o *Options)) *Router {
	opts := Options{
		Weights:            DefaultWeights,
		CapabilityKeywords: core.DefaultCapabilityKeywords,
		StarvationWindow:   DefaultStarvationWindow,
		Logger:             logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Router{
		registry:           reg,
		weights:            opts.Weights,
		capabilityKeywords: opts.CapabilityKeywords,
		starvationWindow:   opts.StarvationWindow,
		metrics:            opts.Metrics,
		logger:             opts.Logger,
	}
}

// InferCapabilities extracts required capabilities from message text using
// the configured keyword map.
func (r *Router) InferCapabilities(message string) []core.Capability {
	return core.MatchCapabilities(r.capabilityKeywords, message)
}

// Select picks the handler for a request. The preferred-agent override wins
// unconditionally when that agent is active. Without an eligible agent it
// returns CodeNoEligibleAgent, which is terminal: callers must not retry.
// Agents listed in exclude (by id) are skipped so a handler that just failed
// is not picked again.
func (r *Router) Select(ctx context.Context, req core.Request, exclude map[string]bool) (*registry.Entry, error) {
	if req.PreferredAgentID != "" && !exclude[req.PreferredAgentID] {
		if e, err := r.registry.Get(req.PreferredAgentID); err == nil && e.Def.Active {
			r.registry.MarkSelected(e.Def.ID)
			r.logger.Debug("preferred agent selected", "agent", e.Def.Name)
			return e, nil
		}
		// Unknown or inactive preference falls through to scoring.
	}

	candidates := r.registry.List(registry.ActiveOnly)
	required := req.Capabilities
	if len(required) == 0 {
		required = r.InferCapabilities(req.Message)
	}

	type scored struct {
		entry *registry.Entry
		score float64
	}
	var ranked []scored
	for _, e := range candidates {
		if exclude[e.Def.ID] {
			continue
		}
		ranked = append(ranked, scored{entry: e, score: r.score(e, req.Message, required)})
	}
	if len(ranked) == 0 {
		return nil, core.NewError(core.CodeNoEligibleAgent, "no active agent available for request")
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		// Ties break by lowest current load, then earliest registration.
		if ranked[i].entry.InFlight != ranked[j].entry.InFlight {
			return ranked[i].entry.InFlight < ranked[j].entry.InFlight
		}
		return ranked[i].entry.Def.RegisteredAt.Before(ranked[j].entry.Def.RegisteredAt)
	})

	best := ranked[0].entry
	r.registry.MarkSelected(best.Def.ID)
	r.logger.Debug("agent selected",
		"agent", best.Def.Name,
		"score", ranked[0].score,
		"required_capabilities", required,
	)
	return best, nil
}

func (r *Router) score(e *registry.Entry, message string, required []core.Capability) float64 {
	w := r.weights

	var capScore float64
	if len(required) > 0 {
		matched := 0
		for _, cap := range required {
			if e.Def.HasCapability(cap) {
				matched++
			}
		}
		capScore = float64(matched) / float64(len(required))
	}

	var kwScore float64
	if kws := e.Def.Config.Keywords; len(kws) > 0 {
		lower := strings.ToLower(message)
		matched := 0
		for _, kw := range kws {
			if strings.Contains(lower, strings.ToLower(kw)) {
				matched++
			}
		}
		kwScore = float64(matched) / float64(len(kws))
	}

	loadPenalty := float64(e.InFlight) / float64(e.InFlight+1)

	recency := 1.0
	if !e.LastSelected.IsZero() {
		since := time.Since(e.LastSelected)
		if since < r.starvationWindow {
			recency = float64(since) / float64(r.starvationWindow)
		}
	}

	score := w.Capability*capScore + w.Keyword*kwScore - w.Load*loadPenalty + w.Recency*recency

	if r.metrics != nil {
		// Rolling success rate scales the whole score; fresh agents report 1.0.
		score *= r.metrics.SuccessRate(e.Def.ID)
	}
	return score
}
