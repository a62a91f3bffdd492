// Package metrics records per-agent invocation outcomes in fixed-size ring
// windows and exposes rolling aggregates plus system-wide throughput
// counters. Recording is O(1) under a short critical section so it never
// blocks the response path that already produced its result.
package metrics

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hupe1980/agentgrid/core"
)

// DefaultWindowSize is the per-agent ring capacity when none is configured.
const DefaultWindowSize = 128

// AgentStats is a point-in-time aggregate over an agent's rolling window.
type AgentStats struct {
	AgentID     string        `json:"agent_id"`
	Window      int           `json:"window"`
	Successes   int           `json:"successes"`
	Failures    int           `json:"failures"`
	SuccessRate float64       `json:"success_rate"`
	MeanLatency time.Duration `json:"mean_latency"`
	P95Latency  time.Duration `json:"p95_latency"`
}

// SystemCounters are monotonically increasing process-lifetime totals.
type SystemCounters struct {
	TotalRequests    int64 `json:"total_requests"`
	TotalTasks       int64 `json:"total_tasks"`
	SuccessfulRoutes int64 `json:"successful_routes"`
}

type sample struct {
	ok      bool
	latency time.Duration
}

type ring struct {
	samples []sample
	next    int
	filled  bool
}

func (r *ring) push(s sample) {
	r.samples[r.next] = s
	r.next++
	if r.next == len(r.samples) {
		r.next = 0
		r.filled = true
	}
}

func (r *ring) snapshot() []sample {
	if r.filled {
		out := make([]sample, len(r.samples))
		copy(out, r.samples)
		return out
	}
	out := make([]sample, r.next)
	copy(out, r.samples[:r.next])
	return out
}

// Collector owns the per-agent windows. Safe for concurrent use.
type Collector struct {
	mu         sync.Mutex
	windows    map[string]*ring
	windowSize int

	totalRequests    atomic.Int64
	totalTasks       atomic.Int64
	successfulRoutes atomic.Int64
}

// Options configures a Collector.
type Options struct {
	// WindowSize is the per-agent ring capacity.
	WindowSize int
}

// NewCollector constructs a Collector with optional overrides.
func NewCollector(optFns ...func(o *Options)) *Collector {
	opts := Options{WindowSize: DefaultWindowSize}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Collector{windows: make(map[string]*ring), windowSize: opts.WindowSize}
}

// Record pushes one outcome into the agent's rolling window. Unknown agents
// get a window lazily; recording for a deactivated agent is still valid
// since in-flight work completes after deactivation.
func (c *Collector) Record(agentID string, success bool, latency time.Duration) {
	c.mu.Lock()
	r, ok := c.windows[agentID]
	if !ok {
		r = &ring{samples: make([]sample, c.windowSize)}
		c.windows[agentID] = r
	}
	r.push(sample{ok: success, latency: latency})
	c.mu.Unlock()
}

// Read returns the rolling aggregate for an agent, or CodeNotFound when
// nothing has been recorded for it yet.
func (c *Collector) Read(agentID string) (AgentStats, error) {
	c.mu.Lock()
	r, ok := c.windows[agentID]
	var samples []sample
	if ok {
		samples = r.snapshot()
	}
	c.mu.Unlock()

	if !ok {
		return AgentStats{}, core.NewError(core.CodeNotFound, "no metrics recorded for agent %s", agentID)
	}

	stats := AgentStats{AgentID: agentID, Window: len(samples)}
	if len(samples) == 0 {
		return stats, nil
	}

	var total time.Duration
	latencies := make([]time.Duration, 0, len(samples))
	for _, s := range samples {
		if s.ok {
			stats.Successes++
		} else {
			stats.Failures++
		}
		total += s.latency
		latencies = append(latencies, s.latency)
	}
	stats.SuccessRate = float64(stats.Successes) / float64(len(samples))
	stats.MeanLatency = total / time.Duration(len(samples))

	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })
	idx := (len(latencies)*95 + 99) / 100
	if idx > 0 {
		idx--
	}
	stats.P95Latency = latencies[idx]

	return stats, nil
}

// SuccessRate returns the agent's rolling success rate, defaulting to 1.0
// when no samples exist so fresh agents are not penalized by the router.
func (c *Collector) SuccessRate(agentID string) float64 {
	stats, err := c.Read(agentID)
	if err != nil || stats.Window == 0 {
		return 1.0
	}
	return stats.SuccessRate
}

// IncRequests bumps the request throughput counter.
func (c *Collector) IncRequests() { c.totalRequests.Add(1) }

// IncTasks bumps the executed-task counter.
func (c *Collector) IncTasks() { c.totalTasks.Add(1) }

// IncSuccessfulRoutes bumps the successful routing counter.
func (c *Collector) IncSuccessfulRoutes() { c.successfulRoutes.Add(1) }

// Counters returns a snapshot of the system-wide totals.
func (c *Collector) Counters() SystemCounters {
	return SystemCounters{
		TotalRequests:    c.totalRequests.Load(),
		TotalTasks:       c.totalTasks.Load(),
		SuccessfulRoutes: c.successfulRoutes.Load(),
	}
}
