package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agentgrid.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Equal(t, "memory", cfg.Store.Driver)
	assert.Equal(t, 2, cfg.Engine.MaxAttempts)
	assert.Equal(t, 0.40, cfg.Router.CapabilityWeight)
	assert.Equal(t, "@every 30s", cfg.Bridge.ProbeSchedule)
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  addr: ":9090"
  heartbeat: 5s
store:
  driver: sqlite
  path: /tmp/grid.db
window:
  token_budget: 8192
bridge:
  providers:
    - name: erp
      endpoint: http://localhost:9000/mcp
      capabilities: [sales-analysis]
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Addr)
	assert.Equal(t, 5*time.Second, cfg.Server.Heartbeat)
	assert.Equal(t, "sqlite", cfg.Store.Driver)
	assert.Equal(t, "/tmp/grid.db", cfg.Store.Path)
	assert.Equal(t, 8192, cfg.Window.TokenBudget)

	// Untouched sections keep their defaults.
	assert.Equal(t, 0.25, cfg.Router.KeywordWeight)
	assert.Equal(t, 2, cfg.Engine.MaxAttempts)

	require.Len(t, cfg.Bridge.Providers, 1)
	assert.Equal(t, "erp", cfg.Bridge.Providers[0].Name)
	assert.Equal(t, []string{"sales-analysis"}, cfg.Bridge.Providers[0].Capabilities)
}

func TestLoadRejectsUnknownDriver(t *testing.T) {
	path := writeConfig(t, "store:\n  driver: postgres\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "store driver")
}

func TestLoadRejectsInvalidEngineBounds(t *testing.T) {
	path := writeConfig(t, "engine:\n  max_attempts: 0\n")
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map\n")
	_, err := Load(path)
	assert.Error(t, err)
}
