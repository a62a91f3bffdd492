package decompose

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/core"
)

func succeedRunner(results map[string]string) Runner {
	return func(_ context.Context, task *core.Task) (*core.TaskResult, error) {
		content, ok := results[task.Input]
		if !ok {
			content = "done " + task.Input
		}
		return &core.TaskResult{Agent: core.AgentInfo{Name: "worker"}, Content: content}, nil
	}
}

func TestExecuteIndependentTasksInDeclarationOrder(t *testing.T) {
	sales := core.NewTask("r1", core.CapabilitySalesAnalysis, "sales")
	stock := core.NewTask("r1", core.CapabilityStockAnalysis, "stock")
	plan, err := NewPlan("r1", []*core.Task{sales, stock})
	require.NoError(t, err)

	e := NewExecutor()
	agg, err := e.Execute(context.Background(), plan, succeedRunner(map[string]string{
		"sales": "sales-result",
		"stock": "inventory-result",
	}))
	require.NoError(t, err)

	// Parts merge in declaration order regardless of completion order.
	require.Len(t, agg.Parts, 2)
	assert.Equal(t, "sales-result", agg.Parts[0].Content)
	assert.Equal(t, "inventory-result", agg.Parts[1].Content)
	assert.Equal(t, "sales-result\n\ninventory-result", agg.Content)
}

func TestExecuteRespectsDependencies(t *testing.T) {
	first := core.NewTask("r1", core.CapabilityDocumentSearch, "first")
	second := core.NewTask("r1", core.CapabilityDataAnalysis, "second", first.ID)
	plan, err := NewPlan("r1", []*core.Task{second, first})
	require.NoError(t, err)

	var mu sync.Mutex
	var order []string
	run := func(_ context.Context, task *core.Task) (*core.TaskResult, error) {
		mu.Lock()
		order = append(order, task.Input)
		mu.Unlock()
		return &core.TaskResult{Content: task.Input}, nil
	}

	e := NewExecutor()
	agg, err := e.Execute(context.Background(), plan, run)
	require.NoError(t, err)

	require.Equal(t, []string{"first", "second"}, order)
	// Aggregation follows dependency order even when declaration reversed it.
	assert.Equal(t, "first", agg.Parts[0].Content)
	assert.Equal(t, "second", agg.Parts[1].Content)
}

func TestExecuteRunsIndependentTasksConcurrently(t *testing.T) {
	a := core.NewTask("r1", core.CapabilitySalesAnalysis, "a")
	b := core.NewTask("r1", core.CapabilityStockAnalysis, "b")
	plan, err := NewPlan("r1", []*core.Task{a, b})
	require.NoError(t, err)

	release := make(chan struct{})
	started := make(chan string, 2)
	run := func(ctx context.Context, task *core.Task) (*core.TaskResult, error) {
		started <- task.Input
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		return &core.TaskResult{Content: task.Input}, nil
	}

	e := NewExecutor(func(o *ExecutorOptions) { o.MaxConcurrent = 2 })
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err := e.Execute(context.Background(), plan, run)
		assert.NoError(t, err)
	}()

	// Both tasks must be in flight before either completes.
	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks did not start concurrently")
		}
	}
	close(release)
	<-done
}

func TestOptionalFailureYieldsFlaggedPartial(t *testing.T) {
	sales := core.NewTask("r1", core.CapabilitySalesAnalysis, "sales")
	stock := core.NewTask("r1", core.CapabilityStockAnalysis, "stock")
	plan, err := NewPlan("r1", []*core.Task{sales, stock})
	require.NoError(t, err)

	boom := errors.New("backend down")
	run := func(_ context.Context, task *core.Task) (*core.TaskResult, error) {
		if task.Input == "stock" {
			return nil, boom
		}
		return &core.TaskResult{Content: "sales ok"}, nil
	}

	e := NewExecutor()
	agg, err := e.Execute(context.Background(), plan, run)
	require.NoError(t, err)

	require.Len(t, agg.Parts, 2)
	assert.False(t, agg.Parts[0].Failed)
	assert.True(t, agg.Parts[1].Failed)
	assert.Contains(t, agg.Parts[1].Err, "backend down")
	// The composite keeps the successful part.
	assert.Equal(t, "sales ok", agg.Content)
}

func TestRequiredFailureFailsThePlan(t *testing.T) {
	sales := core.NewTask("r1", core.CapabilitySalesAnalysis, "sales")
	stock := core.NewTask("r1", core.CapabilityStockAnalysis, "stock")
	stock.Required = true
	plan, err := NewPlan("r1", []*core.Task{sales, stock})
	require.NoError(t, err)

	run := func(_ context.Context, task *core.Task) (*core.TaskResult, error) {
		if task.Input == "stock" {
			return nil, errors.New("backend down")
		}
		return &core.TaskResult{Content: "sales ok"}, nil
	}

	e := NewExecutor()
	agg, err := e.Execute(context.Background(), plan, run)
	require.ErrorIs(t, err, core.ErrTaskFailed)

	// Partial results survive alongside the failure.
	require.Len(t, agg.Parts, 2)
	assert.Equal(t, "sales ok", agg.Parts[0].Content)
	assert.True(t, agg.Parts[1].Failed)
}

func TestDependentOfFailedTaskNeverExecutes(t *testing.T) {
	first := core.NewTask("r1", core.CapabilityDocumentSearch, "first")
	second := core.NewTask("r1", core.CapabilityDataAnalysis, "second", first.ID)
	plan, err := NewPlan("r1", []*core.Task{first, second})
	require.NoError(t, err)

	var mu sync.Mutex
	executed := map[string]bool{}
	run := func(_ context.Context, task *core.Task) (*core.TaskResult, error) {
		mu.Lock()
		executed[task.Input] = true
		mu.Unlock()
		return nil, errors.New("boom")
	}

	e := NewExecutor()
	agg, err := e.Execute(context.Background(), plan, run)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, executed["first"])
	assert.False(t, executed["second"], "dependent task must fail without executing")

	assert.Equal(t, core.TaskFailed, second.Status)
	require.Len(t, agg.Parts, 2)
	assert.True(t, agg.Parts[1].Failed)
	assert.Contains(t, agg.Parts[1].Err, "dependency failed")
}
