package core

import (
	"context"
	"time"
)

// HealthState tracks a tool provider's probe-derived availability.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthUnhealthy HealthState = "unhealthy"
)

// ToolProvider describes a registered external tool/resource server.
type ToolProvider struct {
	Name         string      `json:"name"`
	Endpoint     string      `json:"endpoint"`
	Capabilities []string    `json:"capabilities,omitempty"`
	Health       HealthState `json:"health"`
}

// ToolInfo is one entry of a provider's tool catalog.
type ToolInfo struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema,omitempty"`
}

// ResourceInfo is one entry of a provider's resource catalog.
type ResourceInfo struct {
	URI         string `json:"uri"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MIMEType    string `json:"mime_type,omitempty"`
}

// ToolResult is the outcome of a tool call. IsError marks a provider-side
// failure whose payload is carried in Content; transport-level failures are
// returned as Go errors instead.
type ToolResult struct {
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

// ResourceContent is the payload of a resource read.
type ResourceContent struct {
	URI      string `json:"uri"`
	MIMEType string `json:"mime_type,omitempty"`
	Text     string `json:"text,omitempty"`
}

// ToolCaller is the uniform invocation protocol handed to agents. Every call
// carries a caller-supplied timeout; the bridge never retries on its own.
// The calling agent decides whether to retry, substitute or surface the
// failure.
type ToolCaller interface {
	// ListTools returns the provider's cached tool catalog.
	ListTools(ctx context.Context, provider string) ([]ToolInfo, error)
	// ListResources returns the provider's cached resource catalog.
	ListResources(ctx context.Context, provider string) ([]ResourceInfo, error)
	// CallTool invokes a named tool. Exceeding timeout yields a
	// CodeToolTimeout error; provider failures yield CodeToolError with the
	// provider payload attached.
	CallTool(ctx context.Context, provider, tool string, args map[string]any, timeout time.Duration) (*ToolResult, error)
	// GetResource reads a resource by URI.
	GetResource(ctx context.Context, provider, uri string, timeout time.Duration) (*ResourceContent, error)
}
