// Package anthropic implements model.Model on the Anthropic Messages API.
package anthropic

import (
	"context"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/hupe1980/agentgrid/core"
	"github.com/hupe1980/agentgrid/model"
)

// Options configures the Anthropic model adapter.
type Options struct {
	Model       anthropic.Model
	Temperature float64
	MaxTokens   int64
	APIKey      string
}

// Model wraps the Anthropic Messages API behind the generic model.Model interface.
type Model struct {
	client *anthropic.Client
	opts   Options
}

// NewModel creates a new Anthropic model using the official client
func NewModel(optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	var clientOpts []option.RequestOption
	if opts.APIKey != "" {
		clientOpts = append(clientOpts, option.WithAPIKey(opts.APIKey))
	}
	client := anthropic.NewClient(clientOpts...)

	return &Model{client: &client, opts: opts}
}

// NewModelFromClient creates a new Anthropic model from an existing client
func NewModelFromClient(client *anthropic.Client, optFns ...func(o *Options)) *Model {
	opts := Options{
		Model:       anthropic.ModelClaude3_5Sonnet20241022,
		Temperature: 0.7,
		MaxTokens:   4096,
	}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Model{client: client, opts: opts}
}

// Generate implements unified streaming / non-streaming generation.
func (m *Model) Generate(ctx context.Context, req model.Request) (<-chan model.Response, <-chan error) {
	out := make(chan model.Response, 32)
	errCh := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errCh)

		temperature := m.opts.Temperature
		if req.Temperature > 0 {
			temperature = req.Temperature
		}
		params := anthropic.MessageNewParams{
			Model:       m.opts.Model,
			Messages:    m.buildMessages(req),
			MaxTokens:   m.opts.MaxTokens,
			Temperature: anthropic.Float(temperature),
		}
		if req.Instructions != "" {
			params.System = []anthropic.TextBlockParam{{Text: req.Instructions}}
		}

		if req.Stream {
			m.handleStreaming(ctx, params, out, errCh)
			return
		}

		resp, err := m.client.Messages.New(ctx, params)
		if err != nil {
			errCh <- fmt.Errorf("anthropic api error: %w", err)
			return
		}

		var text string
		for _, block := range resp.Content {
			if block.Type == "text" {
				text += block.AsText().Text
			}
		}
		finishReason := "stop"
		if resp.StopReason != "" {
			finishReason = string(resp.StopReason)
		}
		out <- model.Response{
			Text:         text,
			FinishReason: finishReason,
			Usage: &model.TokenUsage{
				PromptTokens:     int(resp.Usage.InputTokens),
				CompletionTokens: int(resp.Usage.OutputTokens),
				TotalTokens:      int(resp.Usage.InputTokens + resp.Usage.OutputTokens),
			},
		}
	}()

	return out, errCh
}

// handleStreaming forwards text deltas and a final response with the
// accumulated message.
func (m *Model) handleStreaming(
	ctx context.Context,
	params anthropic.MessageNewParams,
	out chan<- model.Response,
	errCh chan<- error,
) {
	stream := m.client.Messages.NewStreaming(ctx, params)
	acc := anthropic.Message{}
	for stream.Next() {
		event := stream.Current()
		if err := acc.Accumulate(event); err != nil {
			errCh <- fmt.Errorf("anthropic stream accumulate: %w", err)
			return
		}
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockDeltaEvent:
			if delta := ev.Delta.AsAny(); delta != nil {
				if textDelta, ok := delta.(anthropic.TextDelta); ok && textDelta.Text != "" {
					out <- model.Response{Partial: true, Text: textDelta.Text}
				}
			}
		}
	}
	if err := stream.Err(); err != nil {
		errCh <- fmt.Errorf("anthropic streaming error: %w", err)
		return
	}

	var text string
	for _, block := range acc.Content {
		if block.Type == "text" {
			text += block.AsText().Text
		}
	}
	finishReason := "stop"
	if acc.StopReason != "" {
		finishReason = string(acc.StopReason)
	}
	out <- model.Response{Text: text, FinishReason: finishReason}
}

// buildMessages converts the conversation window plus current message into
// Anthropic message format.
func (m *Model) buildMessages(req model.Request) []anthropic.MessageParam {
	messages := make([]anthropic.MessageParam, 0, len(req.Window)+1)
	for _, msg := range req.Window {
		switch msg.Role {
		case core.RoleAgent:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(req.Message)))
	return messages
}

// Info returns metadata describing this Anthropic model implementation.
func (m *Model) Info() model.Info {
	return model.Info{Name: string(m.opts.Model), Provider: "anthropic"}
}
