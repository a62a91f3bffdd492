package decompose

import (
	"github.com/hupe1980/agentgrid/core"
)

// Plan is a validated task graph for one request. Tasks keep their
// declaration order; DependsOn edges reference earlier-or-later tasks by id.
// Construct plans through NewPlan so invalid graphs are rejected before any
// task is dispatched.
type Plan struct {
	RequestID string
	Tasks     []*core.Task
}

// NewPlan validates the task graph and returns the plan, or
// CodeInvalidDecomposition when the graph references unknown task ids,
// contains duplicates, or has a dependency cycle. Validation happens up
// front: a rejected plan executes nothing.
func NewPlan(requestID string, tasks []*core.Task) (*Plan, error) {
	if len(tasks) == 0 {
		return nil, core.NewError(core.CodeInvalidDecomposition, "plan has no tasks")
	}

	byID := make(map[string]*core.Task, len(tasks))
	for _, t := range tasks {
		if t.ID == "" {
			t.ID = core.NewID()
		}
		if _, dup := byID[t.ID]; dup {
			return nil, core.NewError(core.CodeInvalidDecomposition, "duplicate task id %s", t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.DependsOn {
			if dep == t.ID {
				return nil, core.NewError(core.CodeInvalidDecomposition, "task %s depends on itself", t.ID)
			}
			if _, ok := byID[dep]; !ok {
				return nil, core.NewError(core.CodeInvalidDecomposition, "task %s depends on unknown task %s", t.ID, dep)
			}
		}
	}
	if hasCycle(tasks) {
		return nil, core.NewError(core.CodeInvalidDecomposition, "task graph contains a dependency cycle")
	}

	for _, t := range tasks {
		t.RequestID = requestID
		t.Status = core.TaskPending
	}
	return &Plan{RequestID: requestID, Tasks: tasks}, nil
}

// hasCycle runs Kahn's algorithm over the dependency edges.
func hasCycle(tasks []*core.Task) bool {
	indegree := make(map[string]int, len(tasks))
	dependents := make(map[string][]string, len(tasks))
	for _, t := range tasks {
		indegree[t.ID] += 0
		for _, dep := range t.DependsOn {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	var queue []string
	for _, t := range tasks {
		if indegree[t.ID] == 0 {
			queue = append(queue, t.ID)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, next := range dependents[id] {
			indegree[next]--
			if indegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}
	return visited != len(tasks)
}

// topoOrder returns task ids in a stable topological order: ready tasks are
// emitted in declaration order, so independent siblings aggregate in the
// order they were declared. Only valid on a cycle-free plan.
func (p *Plan) topoOrder() []string {
	indegree := make(map[string]int, len(p.Tasks))
	dependents := make(map[string][]string, len(p.Tasks))
	for _, t := range p.Tasks {
		indegree[t.ID] += 0
		for _, dep := range t.DependsOn {
			indegree[t.ID]++
			dependents[dep] = append(dependents[dep], t.ID)
		}
	}

	order := make([]string, 0, len(p.Tasks))
	emitted := make(map[string]bool, len(p.Tasks))
	for len(order) < len(p.Tasks) {
		progressed := false
		for _, t := range p.Tasks {
			if emitted[t.ID] || indegree[t.ID] != 0 {
				continue
			}
			emitted[t.ID] = true
			order = append(order, t.ID)
			for _, next := range dependents[t.ID] {
				indegree[next]--
			}
			progressed = true
		}
		if !progressed {
			break
		}
	}
	return order
}

// task returns the plan task by id, or nil.
func (p *Plan) task(id string) *core.Task {
	for _, t := range p.Tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
