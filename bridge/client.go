package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/hupe1980/agentgrid/core"
)

// Client is the provider-protocol surface the bridge depends on. The
// production implementation speaks MCP over streamable HTTP; tests swap in
// an in-memory fake.
type Client interface {
	Initialize(ctx context.Context) error
	Ping(ctx context.Context) error
	ListTools(ctx context.Context) ([]core.ToolInfo, error)
	ListResources(ctx context.Context) ([]core.ResourceInfo, error)
	CallTool(ctx context.Context, tool string, args map[string]any) (*core.ToolResult, error)
	ReadResource(ctx context.Context, uri string) (*core.ResourceContent, error)
	Close() error
}

// Dialer opens a Client for a provider endpoint.
type Dialer func(endpoint string) (Client, error)

// DialMCP is the default Dialer: MCP over streamable HTTP.
func DialMCP(endpoint string) (Client, error) {
	tr, err := transport.NewStreamableHTTP(endpoint)
	if err != nil {
		return nil, fmt.Errorf("create transport for %s: %w", endpoint, err)
	}
	return &mcpClient{client: client.NewClient(tr)}, nil
}

type mcpClient struct {
	client *client.Client
}

func (c *mcpClient) Initialize(ctx context.Context) error {
	if err := c.client.Start(ctx); err != nil {
		return fmt.Errorf("start client: %w", err)
	}
	initReq := mcp.InitializeRequest{}
	initReq.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	initReq.Params.ClientInfo = mcp.Implementation{Name: "agentgrid", Version: "1.0.0"}
	if _, err := c.client.Initialize(ctx, initReq); err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}
	return nil
}

func (c *mcpClient) Ping(ctx context.Context) error {
	return c.client.Ping(ctx)
}

func (c *mcpClient) ListTools(ctx context.Context) ([]core.ToolInfo, error) {
	res, err := c.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}
	tools := make([]core.ToolInfo, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, core.ToolInfo{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schemaToMap(t.InputSchema),
		})
	}
	return tools, nil
}

func (c *mcpClient) ListResources(ctx context.Context) ([]core.ResourceInfo, error) {
	res, err := c.client.ListResources(ctx, mcp.ListResourcesRequest{})
	if err != nil {
		return nil, err
	}
	resources := make([]core.ResourceInfo, 0, len(res.Resources))
	for _, r := range res.Resources {
		resources = append(resources, core.ResourceInfo{
			URI:         r.URI,
			Name:        r.Name,
			Description: r.Description,
			MIMEType:    r.MIMEType,
		})
	}
	return resources, nil
}

func (c *mcpClient) CallTool(ctx context.Context, tool string, args map[string]any) (*core.ToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = tool
	req.Params.Arguments = args
	res, err := c.client.CallTool(ctx, req)
	if err != nil {
		return nil, err
	}
	return &core.ToolResult{Content: extractContent(res.Content), IsError: res.IsError}, nil
}

func (c *mcpClient) ReadResource(ctx context.Context, uri string) (*core.ResourceContent, error) {
	req := mcp.ReadResourceRequest{}
	req.Params.URI = uri
	res, err := c.client.ReadResource(ctx, req)
	if err != nil {
		return nil, err
	}
	out := &core.ResourceContent{URI: uri}
	for _, content := range res.Contents {
		if text, ok := mcp.AsTextResourceContents(content); ok {
			out.MIMEType = text.MIMEType
			out.Text = text.Text
			break
		}
	}
	return out, nil
}

func (c *mcpClient) Close() error {
	return c.client.Close()
}

// schemaToMap flattens the protocol schema type into the neutral form the
// rest of the engine consumes.
func schemaToMap(s mcp.ToolInputSchema) map[string]any {
	m := map[string]any{"type": s.Type}
	if len(s.Properties) > 0 {
		m["properties"] = s.Properties
	}
	if len(s.Required) > 0 {
		m["required"] = s.Required
	}
	return m
}

// extractContent concatenates the text parts of a tool response.
func extractContent(contents []mcp.Content) string {
	var parts []string
	for _, c := range contents {
		if text, ok := mcp.AsTextContent(c); ok {
			parts = append(parts, text.Text)
		}
	}
	return strings.Join(parts, "\n")
}
