package decompose

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/core"
)

func TestAtomicRequestIsNotDecomposed(t *testing.T) {
	d := New()

	plan, err := d.Decompose(core.Request{UserID: "u1", Message: "分析库存周转率"})
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestCompoundNeedsConjunction(t *testing.T) {
	d := New()

	// Two capability groups but no connective marker stays atomic.
	assert.False(t, d.IsCompound("sales stock"))
	assert.True(t, d.IsCompound("compare sales and stock"))
	assert.True(t, d.IsCompound("对比上季度销售与库存"))
}

func TestDecomposeCompoundRequest(t *testing.T) {
	d := New()

	plan, err := d.Decompose(core.Request{UserID: "u1", Message: "对比上季度销售与库存"})
	require.NoError(t, err)
	require.NotNil(t, plan)
	require.Len(t, plan.Tasks, 2)

	// One independent task per capability, declared in sorted order.
	assert.Equal(t, core.CapabilitySalesAnalysis, plan.Tasks[0].Capability)
	assert.Equal(t, core.CapabilityStockAnalysis, plan.Tasks[1].Capability)
	for _, task := range plan.Tasks {
		assert.Empty(t, task.DependsOn)
		assert.Equal(t, core.TaskPending, task.Status)
		assert.Equal(t, plan.RequestID, task.RequestID)
		assert.False(t, task.Required)
	}
}

func TestDecomposeRequireAll(t *testing.T) {
	d := New(func(o *Options) { o.RequireAll = true })

	plan, err := d.Decompose(core.Request{UserID: "u1", Message: "compare sales and stock"})
	require.NoError(t, err)
	require.NotNil(t, plan)
	for _, task := range plan.Tasks {
		assert.True(t, task.Required)
	}
}

func TestNewPlanRejectsEmpty(t *testing.T) {
	_, err := NewPlan("r1", nil)
	assert.ErrorIs(t, err, core.ErrInvalidDecomposition)
}

func TestNewPlanRejectsUnknownDependency(t *testing.T) {
	tasks := []*core.Task{
		core.NewTask("r1", core.CapabilitySalesAnalysis, "a"),
		core.NewTask("r1", core.CapabilityStockAnalysis, "b", "ghost"),
	}
	_, err := NewPlan("r1", tasks)
	assert.ErrorIs(t, err, core.ErrInvalidDecomposition)
}

func TestNewPlanRejectsSelfDependency(t *testing.T) {
	task := core.NewTask("r1", core.CapabilitySalesAnalysis, "a")
	task.DependsOn = []string{task.ID}
	_, err := NewPlan("r1", []*core.Task{task})
	assert.ErrorIs(t, err, core.ErrInvalidDecomposition)
}

func TestNewPlanRejectsCycle(t *testing.T) {
	a := core.NewTask("r1", core.CapabilitySalesAnalysis, "a")
	b := core.NewTask("r1", core.CapabilityStockAnalysis, "b", a.ID)
	c := core.NewTask("r1", core.CapabilityDataAnalysis, "c", b.ID)
	a.DependsOn = []string{c.ID}

	_, err := NewPlan("r1", []*core.Task{a, b, c})
	require.ErrorIs(t, err, core.ErrInvalidDecomposition)

	// Rejection happens before any execution: no task ever left pending.
	for _, task := range []*core.Task{a, b, c} {
		assert.NotEqual(t, core.TaskRunning, task.Status)
		assert.NotEqual(t, core.TaskSucceeded, task.Status)
	}
}

func TestNewPlanAcceptsDiamond(t *testing.T) {
	root := core.NewTask("r1", core.CapabilityDocumentSearch, "gather")
	left := core.NewTask("r1", core.CapabilitySalesAnalysis, "sales", root.ID)
	right := core.NewTask("r1", core.CapabilityStockAnalysis, "stock", root.ID)
	merge := core.NewTask("r1", core.CapabilityDataAnalysis, "merge", left.ID, right.ID)

	plan, err := NewPlan("r1", []*core.Task{root, left, right, merge})
	require.NoError(t, err)
	assert.Len(t, plan.Tasks, 4)

	order := plan.topoOrder()
	require.Len(t, order, 4)
	assert.Equal(t, root.ID, order[0])
	assert.Equal(t, merge.ID, order[3])
}
