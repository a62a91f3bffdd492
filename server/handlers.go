package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/rs/zerolog/hlog"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/registry"
)

type errorResponse struct {
	Error string    `json:"error"`
	Code  core.Code `json:"code,omitempty"`
}

type chatAccepted struct {
	RequestID string `json:"request_id"`
	Streaming bool   `json:"streaming"`
}

// writeError maps taxonomy codes onto HTTP statuses.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch core.CodeOf(err) {
	case core.CodeNotFound:
		status = http.StatusNotFound
	case core.CodeDuplicateAgent, core.CodeDuplicateProvider:
		status = http.StatusConflict
	case core.CodeInvalidDecomposition:
		status = http.StatusUnprocessableEntity
	case core.CodeNoEligibleAgent:
		status = http.StatusServiceUnavailable
	case core.CodeToolTimeout:
		status = http.StatusGatewayTimeout
	}
	render.Status(r, status)
	render.JSON(w, r, errorResponse{Error: err.Error(), Code: core.CodeOf(err)})
}

func decodeBody(r *http.Request, out any) error {
	if r.Body == nil {
		return errors.New("request body required")
	}
	body, err := io.ReadAll(r.Body)
	if err != nil {
		return err
	}
	if err := r.Body.Close(); err != nil {
		return err
	}
	return json.Unmarshal(body, out)
}

// handleChat processes one chat request. When the user holds an open
// delivery connection the request streams over it and the response is an
// immediate 202 with the request id; otherwise the handler blocks and
// returns the full response.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req core.Request
	if err := decodeBody(r, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse body"})
		return
	}
	if req.UserID == "" || req.Message == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "user_id and message are required"})
		return
	}

	if s.hub != nil && s.hub.Connected(req.UserID) {
		requestID, err := s.engine.Stream(r.Context(), req)
		if err == nil {
			render.Status(r, http.StatusAccepted)
			render.JSON(w, r, chatAccepted{RequestID: requestID, Streaming: true})
			return
		}
		hlog.FromRequest(r).Debug().Err(err).Msg("streaming unavailable, falling back to sync")
	}

	resp, err := s.engine.Process(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, resp)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	requestID := chi.URLParam(r, "request_id")
	if !s.engine.Cancel(requestID) {
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, errorResponse{Error: "request not found or already finished"})
		return
	}
	render.JSON(w, r, map[string]string{"request_id": requestID, "status": "canceled"})
}

func (s *Server) handleListConversations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "user_id query parameter required"})
		return
	}
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	limit, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || limit <= 0 {
		limit = 20
	}

	convs, err := s.engine.Conversations().List(r.Context(), userID, offset, limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, convs)
}

func (s *Server) handleGetConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.engine.Conversations().Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, conv)
}

type registerAgentRequest struct {
	Name         string            `json:"name"`
	Type         string            `json:"type"`
	Description  string            `json:"description"`
	Capabilities []core.Capability `json:"capabilities"`
	Config       core.AgentConfig  `json:"config"`
}

func (s *Server) handleRegisterAgent(w http.ResponseWriter, r *http.Request) {
	if s.factory == nil {
		render.Status(r, http.StatusNotImplemented)
		render.JSON(w, r, errorResponse{Error: "agent registration over the API is not enabled"})
		return
	}

	var req registerAgentRequest
	if err := decodeBody(r, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse body"})
		return
	}
	if req.Name == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "name is required"})
		return
	}

	def := core.AgentDefinition{
		Name:         req.Name,
		Type:         req.Type,
		Description:  req.Description,
		Capabilities: req.Capabilities,
		Config:       req.Config,
	}
	handler, err := s.factory(def)
	if err != nil {
		writeError(w, r, err)
		return
	}
	id, err := s.engine.RegisterAgent(r.Context(), def, handler)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, map[string]string{"id": id})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := registry.All
	if r.URL.Query().Get("active") == "true" {
		filter = registry.ActiveOnly
	}
	entries := s.engine.Registry().List(filter)
	defs := make([]core.AgentDefinition, 0, len(entries))
	for _, e := range entries {
		defs = append(defs, e.Def)
	}
	render.JSON(w, r, defs)
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	entry, err := s.engine.Registry().Get(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, entry.Def)
}

type updateAgentRequest struct {
	Description  *string           `json:"description"`
	Capabilities []core.Capability `json:"capabilities"`
	Config       *core.AgentConfig `json:"config"`
	Active       *bool             `json:"active"`
}

func (s *Server) handleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req updateAgentRequest
	if err := decodeBody(r, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse body"})
		return
	}

	id := chi.URLParam(r, "id")
	upd := registry.Update{
		Description:  req.Description,
		Capabilities: req.Capabilities,
		Config:       req.Config,
		Active:       req.Active,
	}
	if err := s.engine.Registry().Update(r.Context(), id, upd); err != nil {
		writeError(w, r, err)
		return
	}
	entry, err := s.engine.Registry().Get(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, entry.Def)
}

func (s *Server) handleDeactivateAgent(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.Registry().Deactivate(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"id": id, "status": "deactivated"})
}

type agentStatsResponse struct {
	AgentID     string  `json:"agent_id"`
	InFlight    int     `json:"in_flight"`
	Window      int     `json:"window"`
	Successes   int     `json:"successes"`
	Failures    int     `json:"failures"`
	SuccessRate float64 `json:"success_rate"`
	MeanLatency string  `json:"mean_latency"`
	P95Latency  string  `json:"p95_latency"`
}

func (s *Server) handleAgentStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	stats, inFlight, err := s.engine.Registry().Stats(id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, agentStatsResponse{
		AgentID:     id,
		InFlight:    inFlight,
		Window:      stats.Window,
		Successes:   stats.Successes,
		Failures:    stats.Failures,
		SuccessRate: stats.SuccessRate,
		MeanLatency: stats.MeanLatency.String(),
		P95Latency:  stats.P95Latency.String(),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.engine.Metrics().Counters())
}

type registerProviderRequest struct {
	Name         string   `json:"name"`
	Endpoint     string   `json:"endpoint"`
	Capabilities []string `json:"capabilities"`
}

func (s *Server) handleRegisterProvider(w http.ResponseWriter, r *http.Request) {
	var req registerProviderRequest
	if err := decodeBody(r, &req); err != nil {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "unable to parse body"})
		return
	}
	if req.Name == "" || req.Endpoint == "" {
		render.Status(r, http.StatusBadRequest)
		render.JSON(w, r, errorResponse{Error: "name and endpoint are required"})
		return
	}

	def := core.ToolProvider{Name: req.Name, Endpoint: req.Endpoint, Capabilities: req.Capabilities}
	if err := s.bridge.Register(r.Context(), def); err != nil {
		writeError(w, r, err)
		return
	}
	registered, err := s.bridge.Get(req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, registered)
}

func (s *Server) handleListProviders(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.bridge.List())
}

func (s *Server) handleUnregisterProvider(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if err := s.bridge.Unregister(name); err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, map[string]string{"name": name, "status": "unregistered"})
}

func (s *Server) handleProviderTools(w http.ResponseWriter, r *http.Request) {
	tools, err := s.bridge.ListTools(r.Context(), chi.URLParam(r, "name"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	render.JSON(w, r, tools)
}
