package core

// Request is the structured intake envelope: message text, the originating
// user, an optional existing conversation and an optional explicit agent
// preference. Capability hints are attached by the decomposer when the
// request is a sub-task of a plan.
type Request struct {
	UserID           string       `json:"user_id"`
	Message          string       `json:"message"`
	ConversationID   string       `json:"conversation_id,omitempty"`
	PreferredAgentID string       `json:"preferred_agent_id,omitempty"`
	Capabilities     []Capability `json:"capabilities,omitempty"`
}

// Response is the complete answer to one request. Composite responses
// produced by a decomposition carry the per-task breakdown in Parts, merged
// in dependency order.
type Response struct {
	RequestID      string       `json:"request_id"`
	ConversationID string       `json:"conversation_id"`
	Agent          AgentInfo    `json:"agent,omitempty"`
	Content        string       `json:"content"`
	Composite      bool         `json:"composite,omitempty"`
	Parts          []ResultPart `json:"parts,omitempty"`
}
