package metrics

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/agentgrid/core"
)

func TestRecordAndRead(t *testing.T) {
	c := NewCollector()
	c.Record("a1", true, 100*time.Millisecond)
	c.Record("a1", true, 200*time.Millisecond)
	c.Record("a1", false, 300*time.Millisecond)

	stats, err := c.Read("a1")
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Window)
	assert.Equal(t, 2, stats.Successes)
	assert.Equal(t, 1, stats.Failures)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)
	assert.Equal(t, 200*time.Millisecond, stats.MeanLatency)
	assert.Equal(t, 300*time.Millisecond, stats.P95Latency)
}

func TestReadUnknownAgent(t *testing.T) {
	c := NewCollector()
	_, err := c.Read("missing")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestWindowEviction(t *testing.T) {
	c := NewCollector(func(o *Options) { o.WindowSize = 4 })
	// Fill the window with failures, then push successes past capacity.
	for i := 0; i < 4; i++ {
		c.Record("a1", false, time.Millisecond)
	}
	for i := 0; i < 4; i++ {
		c.Record("a1", true, time.Millisecond)
	}

	stats, err := c.Read("a1")
	require.NoError(t, err)
	assert.Equal(t, 4, stats.Window)
	assert.Equal(t, 4, stats.Successes)
	assert.Equal(t, 0, stats.Failures)
	assert.Equal(t, 1.0, stats.SuccessRate)
}

func TestSuccessRateDefaultsToOne(t *testing.T) {
	c := NewCollector()
	assert.Equal(t, 1.0, c.SuccessRate("fresh"))

	c.Record("a1", false, time.Millisecond)
	assert.Equal(t, 0.0, c.SuccessRate("a1"))
}

func TestSystemCounters(t *testing.T) {
	c := NewCollector()
	c.IncRequests()
	c.IncRequests()
	c.IncTasks()
	c.IncSuccessfulRoutes()

	counters := c.Counters()
	assert.Equal(t, int64(2), counters.TotalRequests)
	assert.Equal(t, int64(1), counters.TotalTasks)
	assert.Equal(t, int64(1), counters.SuccessfulRoutes)
}
