// Package config loads the YAML configuration for the agentgrid server.
// Every field has a working default so an empty file (or no file at all)
// yields a runnable single-process setup.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Store   StoreConfig   `yaml:"store"`
	Router  RouterConfig  `yaml:"router"`
	Window  WindowConfig  `yaml:"window"`
	Engine  EngineConfig  `yaml:"engine"`
	Bridge  BridgeConfig  `yaml:"bridge"`
	Logging LoggingConfig `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Addr string `yaml:"addr"`
	// Heartbeat is the websocket keep-alive interval.
	Heartbeat time.Duration `yaml:"heartbeat"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"`
	// Path is the SQLite database file; ignored for the memory driver.
	Path string `yaml:"path"`
}

// RouterConfig tunes the routing score weights.
type RouterConfig struct {
	CapabilityWeight float64 `yaml:"capability_weight"`
	KeywordWeight    float64 `yaml:"keyword_weight"`
	LoadWeight       float64 `yaml:"load_weight"`
	RecencyWeight    float64 `yaml:"recency_weight"`
}

// WindowConfig bounds the per-invocation context window.
type WindowConfig struct {
	MaxMessages int `yaml:"max_messages"`
	TokenBudget int `yaml:"token_budget"`
	// TokenEncoding names the BPE encoding for token counting; empty uses
	// the rune heuristic.
	TokenEncoding string `yaml:"token_encoding"`
}

// EngineConfig tunes request processing.
type EngineConfig struct {
	MaxAttempts        int   `yaml:"max_attempts"`
	MaxConcurrentTasks int64 `yaml:"max_concurrent_tasks"`
}

// BridgeConfig configures the tool bridge and its providers.
type BridgeConfig struct {
	ProbeSchedule   string           `yaml:"probe_schedule"`
	RefreshSchedule string           `yaml:"refresh_schedule"`
	ProbeTimeout    time.Duration    `yaml:"probe_timeout"`
	Providers       []ProviderConfig `yaml:"providers"`
}

// ProviderConfig describes one tool provider to register at startup.
type ProviderConfig struct {
	Name         string   `yaml:"name"`
	Endpoint     string   `yaml:"endpoint"`
	Capabilities []string `yaml:"capabilities"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Pretty switches to human-readable console output.
	Pretty bool `yaml:"pretty"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:      ":8080",
			Heartbeat: 20 * time.Second,
		},
		Store: StoreConfig{
			Driver: "memory",
			Path:   "agentgrid.db",
		},
		Router: RouterConfig{
			CapabilityWeight: 0.40,
			KeywordWeight:    0.25,
			LoadWeight:       0.20,
			RecencyWeight:    0.15,
		},
		Window: WindowConfig{
			MaxMessages: 50,
			TokenBudget: 4096,
		},
		Engine: EngineConfig{
			MaxAttempts:        2,
			MaxConcurrentTasks: 4,
		},
		Bridge: BridgeConfig{
			ProbeSchedule:   "@every 30s",
			RefreshSchedule: "@every 5m",
			ProbeTimeout:    5 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path over the defaults. A missing file is not
// an error; the defaults are returned unchanged.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.Store.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("unknown store driver %q", c.Store.Driver)
	}
	if c.Engine.MaxAttempts < 1 {
		return fmt.Errorf("engine.max_attempts must be at least 1")
	}
	if c.Engine.MaxConcurrentTasks < 1 {
		return fmt.Errorf("engine.max_concurrent_tasks must be at least 1")
	}
	return nil
}
