// Package model abstracts text generation providers behind a single
// streaming interface. Adapters for concrete vendors live in subpackages;
// MockModel serves tests and local runs.
package model

import (
	"context"
	"fmt"

	"github.com/hupe1980/agentgrid/core"
)

// Request is the normalized generation input an agent produces: the system
// instructions, the bounded conversation window and the current user message.
type Request struct {
	Instructions string         `json:"instructions,omitempty"`
	Window       []core.Message `json:"window,omitempty"`
	Message      string         `json:"message"`
	Temperature  float64        `json:"temperature,omitempty"`
	Stream       bool           `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model. Partial
// responses carry a delta; the final response carries the full text.
type Response struct {
	Partial      bool        `json:"partial"`
	Text         string      `json:"text"`
	FinishReason string      `json:"finish_reason,omitempty"`
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name     string `json:"name"`
	Provider string `json:"provider"` // "openai", "anthropic", "mock"
}

// Model is the minimal interface agents need to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// MockModel is a lightweight in-memory Model useful for tests and demos.
type MockModel struct {
	info      Info
	responses map[string]string
}

// NewMockModel constructs a MockModel.
func NewMockModel(name string) *MockModel {
	return &MockModel{
		info:      Info{Name: name, Provider: "mock"},
		responses: make(map[string]string),
	}
}

// AddResponse registers a deterministic canned completion for an input message.
func (m *MockModel) AddResponse(message, response string) { m.responses[message] = response }

// Generate implements Model; emits optional streaming rune chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	go func() {
		defer close(respCh)
		defer close(errCh)

		full := m.responses[req.Message]
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", req.Message)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		respCh <- Response{Text: full, FinishReason: "stop"}
	}()
	return respCh, errCh
}

// Info implements Model.
func (m *MockModel) Info() Info { return m.info }
