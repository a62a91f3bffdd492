package decompose

import (
	"context"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/logging"
)

// Runner executes one task and returns its result. The engine supplies a
// closure that routes the task's capability to an agent and invokes it.
type Runner func(ctx context.Context, task *core.Task) (*core.TaskResult, error)

// ExecutorOptions configures an Executor.
type ExecutorOptions struct {
	// MaxConcurrent bounds parallel task execution. Defaults to 4.
	MaxConcurrent int64
	Logger        logging.Logger
}

// Executor runs validated plans. Independent tasks run in parallel up to the
// concurrency bound; a task becomes runnable only once every dependency has
// succeeded. Safe for concurrent use across plans.
type Executor struct {
	maxConcurrent int64
	logger        logging.Logger
}

// NewExecutor constructs an Executor with optional overrides.
func NewExecutor(optFns ...func(o *ExecutorOptions)) *Executor {
	opts := ExecutorOptions{MaxConcurrent: 4, Logger: logging.NoOpLogger{}}
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.MaxConcurrent < 1 {
		opts.MaxConcurrent = 1
	}
	return &Executor{maxConcurrent: opts.MaxConcurrent, logger: opts.Logger}
}

// Aggregate is the composite outcome of a plan: per-task parts in stable
// topological order plus the merged content of the successful parts.
type Aggregate struct {
	Parts   []core.ResultPart
	Content string
}

type completion struct {
	task *core.Task
}

// Execute runs the plan to completion and aggregates the results. Optional
// task failures are flagged in their part and do not abort the plan; a
// required task failure still lets already-running siblings finish, then
// returns CodeTaskFailed alongside the partial aggregate. Tasks whose
// dependency failed are marked failed without executing.
func (e *Executor) Execute(ctx context.Context, plan *Plan, run Runner) (*Aggregate, error) {
	sem := semaphore.NewWeighted(e.maxConcurrent)
	done := make(chan completion, len(plan.Tasks))

	status := make(map[string]core.TaskStatus, len(plan.Tasks))
	for _, t := range plan.Tasks {
		status[t.ID] = core.TaskPending
	}

	running := 0
	remaining := len(plan.Tasks)
	for remaining > 0 {
		// Dispatch every task whose dependencies have settled.
		for _, t := range plan.Tasks {
			if status[t.ID] != core.TaskPending {
				continue
			}
			ready, blocked := depState(t, status)
			if blocked {
				// A dependency failed; fail without executing.
				status[t.ID] = core.TaskFailed
				t.Status = core.TaskFailed
				t.Result = &core.TaskResult{Err: "dependency failed"}
				remaining--
				continue
			}
			if !ready {
				continue
			}

			status[t.ID] = core.TaskRunning
			t.Status = core.TaskRunning
			running++
			go e.runTask(ctx, sem, t, run, done)
		}

		if remaining == 0 {
			break
		}
		if running == 0 {
			// Nothing runnable and nothing in flight; only possible if
			// the loop above settled the rest as dependency failures.
			continue
		}

		c := <-done
		running--
		remaining--
		status[c.task.ID] = c.task.Status
	}

	return e.aggregate(plan)
}

func (e *Executor) runTask(ctx context.Context, sem *semaphore.Weighted, t *core.Task, run Runner, done chan<- completion) {
	if err := sem.Acquire(ctx, 1); err != nil {
		t.Status = core.TaskFailed
		t.Result = &core.TaskResult{Err: err.Error()}
		done <- completion{task: t}
		return
	}
	defer sem.Release(1)

	start := time.Now()
	res, err := run(ctx, t)
	if err != nil {
		t.Status = core.TaskFailed
		t.Result = &core.TaskResult{Err: err.Error(), Latency: time.Since(start)}
		e.logger.Warn("task failed", "task_id", t.ID, "capability", t.Capability, "error", err)
	} else {
		res.Latency = time.Since(start)
		t.Status = core.TaskSucceeded
		t.Result = res
	}
	done <- completion{task: t}
}

// depState reports whether the task is ready to run (all deps succeeded) or
// blocked (some dep failed).
func depState(t *core.Task, status map[string]core.TaskStatus) (ready, blocked bool) {
	ready = true
	for _, dep := range t.DependsOn {
		switch status[dep] {
		case core.TaskFailed:
			return false, true
		case core.TaskSucceeded:
		default:
			ready = false
		}
	}
	return ready, false
}

// aggregate merges task results in stable topological order. A failed
// required task makes the whole plan fail with the partial parts attached to
// the error's details.
func (e *Executor) aggregate(plan *Plan) (*Aggregate, error) {
	order := plan.topoOrder()
	parts := make([]core.ResultPart, 0, len(order))
	var contents []string
	var requiredFailure *core.Task

	for _, id := range order {
		t := plan.task(id)
		part := core.ResultPart{TaskID: t.ID, Capability: t.Capability}
		if t.Result != nil {
			part.Agent = t.Result.Agent
			part.Content = t.Result.Content
			if t.Result.Err != "" {
				part.Failed = true
				part.Err = t.Result.Err
			}
		}
		if t.Status != core.TaskSucceeded {
			part.Failed = true
			if t.Required && requiredFailure == nil {
				requiredFailure = t
			}
		} else {
			contents = append(contents, part.Content)
		}
		parts = append(parts, part)
	}

	agg := &Aggregate{Parts: parts, Content: strings.Join(contents, "\n\n")}
	if requiredFailure != nil {
		err := core.NewError(core.CodeTaskFailed, "required task %s failed", requiredFailure.ID)
		err.Details = map[string]any{"parts": parts}
		return agg, err
	}
	return agg, nil
}
