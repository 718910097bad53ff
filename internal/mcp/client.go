package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/parlane/seneschal/internal/buildinfo"
)

// protocolVersion is the MCP protocol version we advertise during the
// handshake.
const protocolVersion = "2024-11-05"

// ToolDefinition is a single tool as reported by a provider's tools/list.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ContentBlock is a single content item in a tools/call response.
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// callToolResult is the result payload of a tools/call response.
type callToolResult struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// toolsListResult is the result payload of a tools/list response.
type toolsListResult struct {
	Tools []ToolDefinition `json:"tools"`
}

// serverInfo is returned in the initialize response.
type serverInfo struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// initializeResult is the initialize response result.
type initializeResult struct {
	ProtocolVersion string     `json:"protocolVersion"`
	ServerInfo      serverInfo `json:"serverInfo"`
}

// Client is the typed connection to one provider. Connect performs the
// MCP handshake and fixes the tool catalog; after that the client only
// invokes tools and answers pings until Close.
//
// A Client is built once per bootstrap attempt and is not reconnectable:
// recovery goes through the owning bootstrap manager, which constructs a
// fresh transport and client.
type Client struct {
	name      string
	transport Transport
	logger    *slog.Logger
	nextID    atomic.Int64

	// Set once by Connect, immutable afterwards.
	tools      []ToolDefinition
	serverName string
	serverVer  string
}

// NewClient creates a client for the given provider. The transport
// determines how messages are delivered (stdio or HTTP).
func NewClient(name string, transport Transport, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		name:      name,
		transport: transport,
		logger:    logger.With("provider", name),
	}
}

// Name returns the provider name this client is connected to.
func (c *Client) Name() string {
	return c.name
}

// Connect performs the MCP handshake (initialize followed by the
// notifications/initialized notification) and fetches the tool catalog.
// For stdio transports the subprocess is spawned by the first message
// sent here, so a missing binary or a crashing provider surfaces as a
// Connect error.
//
// Connect must be called exactly once, before any CallTool or Ping.
func (c *Client) Connect(ctx context.Context) error {
	params := map[string]any{
		"protocolVersion": protocolVersion,
		"capabilities":    map[string]any{},
		"clientInfo": map[string]any{
			"name":    "seneschal",
			"version": buildinfo.Version,
		},
	}

	resp, err := c.send(ctx, "initialize", params)
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}

	var init initializeResult
	if err := json.Unmarshal(resp.Result, &init); err != nil {
		return fmt.Errorf("unmarshal initialize result: %w", err)
	}

	c.serverName = init.ServerInfo.Name
	c.serverVer = init.ServerInfo.Version

	// Complete the handshake before issuing any requests.
	if err := c.transport.Notify(ctx, NewNotification("notifications/initialized", nil)); err != nil {
		return fmt.Errorf("send initialized notification: %w", err)
	}

	listResp, err := c.send(ctx, "tools/list", nil)
	if err != nil {
		return fmt.Errorf("tools/list: %w", err)
	}

	var list toolsListResult
	if err := json.Unmarshal(listResp.Result, &list); err != nil {
		return fmt.Errorf("unmarshal tools/list result: %w", err)
	}
	c.tools = list.Tools

	c.logger.Info("provider connected",
		"server_name", init.ServerInfo.Name,
		"server_version", init.ServerInfo.Version,
		"protocol_version", init.ProtocolVersion,
		"tools", len(list.Tools),
	)

	return nil
}

// Tools returns the provider's tool catalog as fixed at Connect time.
// The returned slice is shared, not copied; callers must not mutate it.
func (c *Client) Tools() []ToolDefinition {
	return c.tools
}

// ServerInfo returns the provider's self-reported name and version.
func (c *Client) ServerInfo() (name, version string) {
	return c.serverName, c.serverVer
}

// CallTool invokes a tool by name with the given arguments. The result
// is extracted from the response content blocks as a single string;
// non-text content blocks are described inline (e.g., "[image]").
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	params := map[string]any{
		"name":      name,
		"arguments": args,
	}

	resp, err := c.send(ctx, "tools/call", params)
	if err != nil {
		return "", fmt.Errorf("tools/call %s: %w", name, err)
	}

	var result callToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		return "", fmt.Errorf("unmarshal tools/call result: %w", err)
	}

	text := extractText(result.Content)

	if result.IsError {
		return "", fmt.Errorf("tool %s returned error: %s", name, text)
	}

	return text, nil
}

// Ping checks whether the provider is responsive. Used by connwatch for
// health monitoring.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.send(ctx, "ping", nil)
	return err
}

// Close shuts down the client and its transport.
func (c *Client) Close() error {
	c.logger.Info("closing provider client")
	return c.transport.Close()
}

// send issues a JSON-RPC request and checks for protocol-level errors.
func (c *Client) send(ctx context.Context, method string, params any) (*Response, error) {
	id := c.nextID.Add(1)
	req := NewRequest(id, method, params)

	resp, err := c.transport.Send(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.Error != nil {
		return nil, resp.Error
	}

	return resp, nil
}

// extractText joins all text content blocks into a single string.
// Non-text blocks are represented as inline markers.
func extractText(blocks []ContentBlock) string {
	var parts []string
	for _, b := range blocks {
		switch b.Type {
		case "text":
			parts = append(parts, b.Text)
		case "image":
			parts = append(parts, "[image]")
		case "resource":
			parts = append(parts, "[resource]")
		default:
			parts = append(parts, fmt.Sprintf("[%s]", b.Type))
		}
	}
	return strings.Join(parts, "\n")
}
