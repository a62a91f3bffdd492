// Command agentgrid runs the orchestration server: HTTP intake, websocket
// delivery, the routing engine and the tool bridge, wired from a YAML config.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hupe1980/agentgrid/agent"
	"github.com/hupe1980/agentgrid/bridge"
	"github.com/hupe1980/agentgrid/config"
	"github.com/hupe1980/agentgrid/conversation"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/delivery"
	"github.com/hupe1980/agentgrid/engine"
	"github.com/hupe1980/agentgrid/logging"
	"github.com/hupe1980/agentgrid/model"
	"github.com/hupe1980/agentgrid/model/openai"
	"github.com/hupe1980/agentgrid/router"
	"github.com/hupe1980/agentgrid/server"
	"github.com/hupe1980/agentgrid/store"
)

func main() {
	configPath := flag.String("config", "agentgrid.yaml", "path to the configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		bootLogger := zerolog.New(os.Stderr)
		bootLogger.Fatal().Err(err).Msg("configuration load failed")
	}

	logger := newLogger(cfg.Logging)
	logAdapter := logging.NewZerologAdapter(logger)

	var conversations core.ConversationStore
	var agents core.AgentStore
	switch cfg.Store.Driver {
	case "sqlite":
		db, err := store.OpenSQLite(cfg.Store.Path)
		if err != nil {
			logger.Fatal().Err(err).Msg("sqlite open failed")
		}
		defer db.Close()
		conversations = db.Conversations()
		agents = db.Agents()
	default:
		conversations = store.NewMemoryConversations()
		agents = store.NewMemoryAgents()
	}

	hub := delivery.NewHub(func(o *delivery.Options) {
		o.Heartbeat = cfg.Server.Heartbeat
		o.Logger = logAdapter
	})

	toolBridge, err := bridge.New(func(o *bridge.Options) {
		o.ProbeSchedule = cfg.Bridge.ProbeSchedule
		o.RefreshSchedule = cfg.Bridge.RefreshSchedule
		o.ProbeTimeout = cfg.Bridge.ProbeTimeout
		o.Logger = logAdapter
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("bridge setup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	for _, p := range cfg.Bridge.Providers {
		def := core.ToolProvider{Name: p.Name, Endpoint: p.Endpoint, Capabilities: p.Capabilities}
		if err := toolBridge.Register(ctx, def); err != nil {
			logger.Warn().Err(err).Str("provider", p.Name).Msg("provider registration failed")
		}
	}
	toolBridge.Start()
	defer toolBridge.Stop()

	var counter conversation.TokenCounter = conversation.HeuristicCounter{}
	if cfg.Window.TokenEncoding != "" {
		counter = conversation.NewTiktokenCounter(cfg.Window.TokenEncoding)
	}

	eng := engine.New(func(o *engine.Options) {
		o.Store = conversations
		o.AgentStore = agents
		o.Tools = toolBridge
		o.Hub = hub
		o.Window = conversation.WindowPolicy{
			MaxMessages: cfg.Window.MaxMessages,
			TokenBudget: cfg.Window.TokenBudget,
		}
		o.TokenCounter = counter
		o.RouterWeights = router.Weights{
			Capability: cfg.Router.CapabilityWeight,
			Keyword:    cfg.Router.KeywordWeight,
			Load:       cfg.Router.LoadWeight,
			Recency:    cfg.Router.RecencyWeight,
		}
		o.MaxAttempts = cfg.Engine.MaxAttempts
		o.MaxConcurrentTasks = cfg.Engine.MaxConcurrentTasks
		o.Logger = logAdapter
	})

	if err := registerBuiltinAgents(ctx, eng); err != nil {
		logger.Fatal().Err(err).Msg("builtin agent registration failed")
	}

	srv := server.New(eng, func(o *server.Options) {
		o.Addr = cfg.Server.Addr
		o.Bridge = toolBridge
		o.Hub = hub
		o.AgentFactory = agentFactory()
		o.Logger = logger
	})

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			logger.Error().Err(err).Msg("server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	var out = os.Stderr
	logger := zerolog.New(out).Level(level).With().Timestamp().Logger()
	if cfg.Pretty {
		logger = logger.Output(zerolog.ConsoleWriter{Out: out})
	}
	return logger
}

// registerBuiltinAgents installs the default agent set. With an OpenAI key
// in the environment the agents are model-backed; otherwise scripted agents
// keep the server usable for local runs.
func registerBuiltinAgents(ctx context.Context, eng *engine.Engine) error {
	builtins := []struct {
		name         string
		capabilities []core.Capability
		keywords     []string
		instructions string
	}{
		{
			name:         "sales-analyst",
			capabilities: []core.Capability{core.CapabilitySalesAnalysis, core.CapabilityDataAnalysis},
			keywords:     []string{"sales", "revenue", "销售", "营收"},
			instructions: "You analyze sales and revenue data and answer concisely.",
		},
		{
			name:         "inventory-analyst",
			capabilities: []core.Capability{core.CapabilityStockAnalysis, core.CapabilityDataAnalysis},
			keywords:     []string{"inventory", "stock", "库存", "周转"},
			instructions: "You analyze inventory levels, turnover and replenishment.",
		},
		{
			name:         "assistant",
			capabilities: []core.Capability{core.CapabilityNaturalLanguage, core.CapabilityReasoning},
			keywords:     nil,
			instructions: "You are a helpful general-purpose assistant.",
		},
	}

	useModel := os.Getenv("OPENAI_API_KEY") != ""
	for _, b := range builtins {
		var handler core.Agent
		if useModel {
			handler = agent.NewModelAgent(b.name, b.capabilities, openai.NewModel(), func(o *agent.ModelAgentOptions) {
				o.Instructions = b.instructions
			})
		} else {
			handler = agent.NewModelAgent(b.name, b.capabilities, model.NewMockModel(b.name), func(o *agent.ModelAgentOptions) {
				o.Instructions = b.instructions
			})
		}
		def := core.AgentDefinition{
			Name:         b.name,
			Type:         "model",
			Capabilities: b.capabilities,
			Config: core.AgentConfig{
				Temperature:  0.7,
				Keywords:     b.keywords,
				Instructions: b.instructions,
			},
		}
		if _, err := eng.RegisterAgent(ctx, def, handler); err != nil {
			return err
		}
	}
	return nil
}

// agentFactory builds handlers for agents registered over the management
// API. API-registered agents are always model-backed.
func agentFactory() server.AgentFactory {
	return func(def core.AgentDefinition) (core.Agent, error) {
		var m model.Model
		if os.Getenv("OPENAI_API_KEY") != "" {
			m = openai.NewModel()
		} else {
			m = model.NewMockModel(def.Name)
		}
		return agent.NewModelAgent(def.Name, def.Capabilities, m, func(o *agent.ModelAgentOptions) {
			o.Instructions = def.Config.Instructions
		}), nil
	}
}
