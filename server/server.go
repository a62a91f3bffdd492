// Package server exposes the engine over HTTP: the chat intake, conversation
// and agent management, tool provider administration, metrics and the
// websocket delivery endpoint.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/justinas/alice"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"nhooyr.io/websocket"

	"github.com/hupe1980/agentgrid/bridge"
	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/delivery"
	"github.com/hupe1980/agentgrid/engine"
)

// AgentFactory builds the handler for an agent definition registered over
// the management API.
type AgentFactory func(def core.AgentDefinition) (core.Agent, error)

// Options configures a Server.
type Options struct {
	Addr string
	// Bridge enables the provider management routes; may be nil.
	Bridge *bridge.Bridge
	// Hub enables the websocket delivery endpoint; may be nil.
	Hub *delivery.Hub
	// AgentFactory builds handlers for API-registered agents. Without one,
	// agent registration over HTTP is rejected.
	AgentFactory AgentFactory
	Logger       zerolog.Logger
}

// Server is the HTTP front of the engine.
type Server struct {
	engine  *engine.Engine
	bridge  *bridge.Bridge
	hub     *delivery.Hub
	factory AgentFactory
	logger  zerolog.Logger
	server  *http.Server
}

// New constructs a Server around the engine.
func New(eng *engine.Engine, optFns ...func(o *Options)) *Server {
	opts := Options{
		Addr:   ":8080",
		Logger: zerolog.Nop(),
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	s := &Server{
		engine:  eng,
		bridge:  opts.Bridge,
		hub:     opts.Hub,
		factory: opts.AgentFactory,
		logger:  opts.Logger,
	}

	r := chi.NewRouter()
	r.Use(s.logMiddleware())

	r.Route("/api", func(r chi.Router) {
		r.Post("/chat", s.handleChat)
		r.Post("/chat/{request_id}/cancel", s.handleCancel)

		r.Get("/conversations", s.handleListConversations)
		r.Get("/conversations/{id}", s.handleGetConversation)

		r.Post("/agents", s.handleRegisterAgent)
		r.Get("/agents", s.handleListAgents)
		r.Get("/agents/{id}", s.handleGetAgent)
		r.Patch("/agents/{id}", s.handleUpdateAgent)
		r.Delete("/agents/{id}", s.handleDeactivateAgent)
		r.Get("/agents/{id}/stats", s.handleAgentStats)

		r.Get("/metrics", s.handleMetrics)

		if s.bridge != nil {
			r.Post("/providers", s.handleRegisterProvider)
			r.Get("/providers", s.handleListProviders)
			r.Delete("/providers/{name}", s.handleUnregisterProvider)
			r.Get("/providers/{name}/tools", s.handleProviderTools)
		}
	})

	if s.hub != nil {
		r.Get("/ws/chat/{user_id}", s.handleWebsocket)
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Start blocks serving HTTP until Stop is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http server starting")
	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// Stop shuts the listener down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.hub != nil {
		s.hub.CloseAll()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	return nil
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler { return s.server.Handler }

// handleWebsocket upgrades the connection and binds it as the user's
// canonical delivery channel. Blocks until the peer disconnects or a newer
// connection supersedes this one.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	wsConn, err := websocket.Accept(w, r, nil)
	if err != nil {
		hlog.FromRequest(r).Debug().Err(err).Msg("websocket accept failed")
		return
	}

	transport := delivery.NewWebsocketTransport(r.Context(), wsConn)
	conn := s.hub.Bind(r.Context(), userID, transport)
	<-transport.Done()
	conn.Close()
}

func (s *Server) logMiddleware() func(http.Handler) http.Handler {
	c := alice.New()
	c = c.Append(hlog.NewHandler(s.logger))
	c = c.Append(hlog.RemoteAddrHandler("ip"))
	c = c.Append(hlog.RequestIDHandler("req_id", "Request-Id"))
	c = c.Append(hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		hlog.FromRequest(r).Info().
			Str("verb", r.Method).
			Stringer("url", r.URL).
			Int("size", size).
			Int("status", status).
			Int64("duration", duration.Milliseconds()).
			Msg("REQ")
	}))
	return c.Then
}
